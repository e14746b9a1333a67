/*
 * iptv-gateway is a project to aggregate IPTV sources and share upstream streams between clients.
 * Copyright (C) 2025  Lucas Duport
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/lucasduport/iptv-gateway/pkg/mpegts"
	"github.com/lucasduport/iptv-gateway/pkg/types"
)

func newCatalogStore(t *testing.T) *fakeStore {
	t.Helper()
	store := newFakeStore()
	store.addUser(t, "alice", "secret", func(u *types.User) {
		u.LivePlaylistID = 1
		u.VODPlaylistID = 2
	})
	store.add(types.PlaylistChannel{
		ID: 42, PlaylistID: 1, TvgName: "CNN International",
		TvgID: "cnn.us", TvgLogo: "http://logo.example/cnn.png", GroupTitle: "News",
		URL: "http://upstream.example/live/u/p/42.ts",
	})
	store.add(types.PlaylistChannel{
		ID: 43, PlaylistID: 1, TvgName: "ESPN", GroupTitle: "Sports",
		URL: "http://upstream.example/live/u/p/43.ts",
	})
	store.add(types.PlaylistChannel{
		ID: 44, PlaylistID: 1, TvgName: "BBC World", GroupTitle: "News",
		URL: "http://upstream.example/live/u/p/44.ts",
	})
	store.add(types.PlaylistChannel{
		ID: 55, PlaylistID: 2, TvgName: "Heat",
		URL: "http://upstream.example/movie/u/p/55.mp4",
	})
	return store
}

func TestPlaylistExport(t *testing.T) {
	_, ts := testServer(t, newCatalogStore(t))

	resp, err := http.Get(ts.URL + "/playlist/alice/wrong/playlist.m3u")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad creds status = %d, want 401", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/playlist/alice/secret/playlist.m3u")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "playlist.m3u") {
		t.Errorf("Content-Disposition = %q, want playlist.m3u attachment", cd)
	}

	raw, _ := io.ReadAll(resp.Body)
	body := string(raw)
	if !strings.HasPrefix(body, "#EXTM3U\n") {
		t.Fatalf("playlist does not start with #EXTM3U:\n%s", body)
	}
	for _, line := range []string{
		"http://gateway.local:8080/live/alice/secret/42.ts",
		"http://gateway.local:8080/movie/alice/secret/55.mp4",
		`tvg-id="cnn.us"`,
		`group-title="News"`,
		",CNN International\n",
	} {
		if !strings.Contains(body, line) {
			t.Errorf("playlist missing %q:\n%s", line, body)
		}
	}
}

func TestGetPHPQueryCredentials(t *testing.T) {
	_, ts := testServer(t, newCatalogStore(t))

	resp, err := http.Get(ts.URL + "/get.php?username=alice&password=nope")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad creds status = %d, want 401", resp.StatusCode)
	}

	for _, target := range []string{"/get.php", "/xtream/get.php"} {
		resp, err := http.Get(ts.URL + target + "?username=alice&password=secret")
		if err != nil {
			t.Fatalf("%s: %v", target, err)
		}
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d, want 200", target, resp.StatusCode)
		}
		if !strings.Contains(string(raw), "#EXTM3U") {
			t.Errorf("%s did not return an M3U document", target)
		}
	}
}

func TestPlayerAPILogin(t *testing.T) {
	_, ts := testServer(t, newCatalogStore(t))

	resp, err := http.Get(ts.URL + "/player_api.php?username=alice&password=nope")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad creds status = %d, want 401", resp.StatusCode)
	}

	var out struct {
		UserInfo struct {
			Username string `json:"username"`
			Auth     int    `json:"auth"`
			Status   string `json:"status"`
		} `json:"user_info"`
		ServerInfo struct {
			URL      string `json:"url"`
			Port     string `json:"port"`
			Protocol string `json:"server_protocol"`
		} `json:"server_info"`
	}

	resp, err = http.Get(ts.URL + "/player_api.php?username=alice&password=secret")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding login response: %v", err)
	}
	if out.UserInfo.Username != "alice" || out.UserInfo.Auth != 1 || out.UserInfo.Status != "Active" {
		t.Errorf("user_info = %+v, want authenticated alice", out.UserInfo)
	}
	if out.ServerInfo.URL != "gateway.local" || out.ServerInfo.Port != "8080" || out.ServerInfo.Protocol != "http" {
		t.Errorf("server_info = %+v, want advertised gateway address", out.ServerInfo)
	}

	// Some players POST the same form instead of using the query string.
	post, err := http.PostForm(ts.URL+"/player_api.php", url.Values{
		"username": {"alice"}, "password": {"secret"},
	})
	if err != nil {
		t.Fatalf("form post: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusOK {
		t.Errorf("form post status = %d, want 200", post.StatusCode)
	}
}

func TestPlayerAPILiveCatalog(t *testing.T) {
	_, ts := testServer(t, newCatalogStore(t))

	var cats []struct {
		CategoryID   string `json:"category_id"`
		CategoryName string `json:"category_name"`
	}
	resp, err := http.Get(ts.URL + "/player_api.php?username=alice&password=secret&action=get_live_categories")
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	if err := json.NewDecoder(resp.Body).Decode(&cats); err != nil {
		t.Fatalf("decoding categories: %v", err)
	}
	resp.Body.Close()
	if len(cats) != 2 || cats[0].CategoryName != "News" || cats[1].CategoryName != "Sports" {
		t.Fatalf("categories = %+v, want News then Sports", cats)
	}
	catByName := map[string]string{}
	for _, c := range cats {
		catByName[c.CategoryName] = c.CategoryID
	}

	var streams []struct {
		Name       string `json:"name"`
		StreamType string `json:"stream_type"`
		StreamID   int64  `json:"stream_id"`
		EPGChannel string `json:"epg_channel_id"`
		CategoryID string `json:"category_id"`
	}
	resp, err = http.Get(ts.URL + "/player_api.php?username=alice&password=secret&action=get_live_streams")
	if err != nil {
		t.Fatalf("streams: %v", err)
	}
	if err := json.NewDecoder(resp.Body).Decode(&streams); err != nil {
		t.Fatalf("decoding streams: %v", err)
	}
	resp.Body.Close()
	if len(streams) != 3 {
		t.Fatalf("got %d streams, want 3", len(streams))
	}
	for _, st := range streams {
		if st.StreamType != "live" {
			t.Errorf("stream %d type = %q, want live", st.StreamID, st.StreamType)
		}
		switch st.StreamID {
		case 42:
			if st.CategoryID != catByName["News"] || st.EPGChannel != "cnn.us" {
				t.Errorf("stream 42 = %+v, want News category and cnn.us epg id", st)
			}
		case 43:
			if st.CategoryID != catByName["Sports"] {
				t.Errorf("stream 43 category = %q, want the Sports id", st.CategoryID)
			}
		}
	}
}

func TestPlayerAPIUnknownAction(t *testing.T) {
	_, ts := testServer(t, newCatalogStore(t))

	resp, err := http.Get(ts.URL + "/player_api.php?username=alice&password=secret&action=get_series")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(raw)) != "[]" {
		t.Errorf("unknown action answered %d %q, want 200 []", resp.StatusCode, raw)
	}
}

func apiDo(t *testing.T, method, target, key string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, target, nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	return resp
}

func apiDoJSON(t *testing.T, method, target, key string, payload interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("encoding payload: %v", err)
	}
	req, err := http.NewRequest(method, target, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	return resp
}

func TestOpsAPIRequiresKey(t *testing.T) {
	_, ts := testServer(t, newFakeStore())

	for _, key := range []string{"", "not-the-key"} {
		resp := apiDo(t, http.MethodGet, ts.URL+"/api/ping", key)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("key %q: status = %d, want 401", key, resp.StatusCode)
		}
	}

	resp := apiDo(t, http.MethodGet, ts.URL+"/api/ping", GetAPIKey())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body := decodeAPIResponse(t, resp.Body); !body.Success {
		t.Error("ping response not successful")
	}
}

func TestOpsAPIStreamsAndKill(t *testing.T) {
	upstream, _ := fakeUpstream(t)
	store := newFakeStore()
	store.addChannel(42, "Test Channel", upstream.URL, 0)
	_, ts := testServer(t, store)

	viewer, err := http.Get(ts.URL + "/stream/42")
	if err != nil {
		t.Fatalf("viewer: %v", err)
	}
	defer viewer.Body.Close()
	readBytes(t, viewer.Body, mpegts.PacketSize)

	listStreams := func() []types.StreamInfo {
		resp := apiDo(t, http.MethodGet, ts.URL+"/api/streams", GetAPIKey())
		defer resp.Body.Close()
		var out struct {
			Success bool               `json:"success"`
			Data    []types.StreamInfo `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decoding streams: %v", err)
		}
		return out.Data
	}

	streams := listStreams()
	if len(streams) != 1 || streams[0].ChannelID != 42 || streams[0].Clients != 1 {
		t.Fatalf("active streams = %+v, want channel 42 with one client", streams)
	}

	resp := apiDo(t, http.MethodDelete, ts.URL+"/api/streams/999", GetAPIKey())
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("killing unknown session: status = %d, want 404", resp.StatusCode)
	}

	resp = apiDo(t, http.MethodDelete, ts.URL+"/api/streams/42", GetAPIKey())
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("kill status = %d, want 200", resp.StatusCode)
	}
	waitFor(t, 3*time.Second, "session to disappear", func() bool {
		return len(listStreams()) == 0
	})
}

func TestOpsAPIHistoryAndFailed(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	store.AddStreamHistory("alice", 42, now.Add(-time.Minute), now)
	store.RecordFailedStream(43, "http://upstream.example/dead", "connect refused", 0)
	_, ts := testServer(t, store)

	resp := apiDo(t, http.MethodGet, ts.URL+"/api/history", GetAPIKey())
	var history struct {
		Data struct {
			Entries []types.StreamHistoryEntry `json:"entries"`
			Stats   map[string]interface{}     `json:"stats"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		t.Fatalf("decoding history: %v", err)
	}
	resp.Body.Close()
	if len(history.Data.Entries) != 1 || history.Data.Entries[0].Username != "alice" {
		t.Errorf("history entries = %+v, want one for alice", history.Data.Entries)
	}
	if history.Data.Stats == nil {
		t.Error("history response carries no stats")
	}

	resp = apiDo(t, http.MethodGet, ts.URL+"/api/failed", GetAPIKey())
	var failed struct {
		Data []types.FailedStreamEntry `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&failed); err != nil {
		t.Fatalf("decoding failed list: %v", err)
	}
	resp.Body.Close()
	if len(failed.Data) != 1 || failed.Data[0].ChannelID != 43 {
		t.Errorf("failed streams = %+v, want channel 43", failed.Data)
	}

	resp = apiDo(t, http.MethodDelete, ts.URL+"/api/failed/43", GetAPIKey())
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear status = %d, want 200", resp.StatusCode)
	}
	if left := store.failedEntries(); len(left) != 0 {
		t.Errorf("failed entries after clear = %+v, want none", left)
	}
}

func TestOpsAPIUsersAndSettings(t *testing.T) {
	store := newFakeStore()
	store.playlists[1] = &types.Playlist{ID: 1, Name: "Default Live", Kind: "live"}
	store.playlists[2] = &types.Playlist{ID: 2, Name: "Movies", Kind: "vod"}
	store.addChannel(42, "Test Channel", "http://upstream.example/live/u/p/42.ts", 0)
	_, ts := testServer(t, store)

	for name, payload := range map[string]map[string]interface{}{
		"missing password":  {"username": "bob"},
		"unknown playlist":  {"username": "bob", "password": "hunter2", "live_playlist_id": 9},
		"wrong kind":        {"username": "bob", "password": "hunter2", "live_playlist_id": 2},
		"bad expiry format": {"username": "bob", "password": "hunter2", "expires_at": "tomorrow"},
	} {
		resp := apiDoJSON(t, http.MethodPost, ts.URL+"/api/users", GetAPIKey(), payload)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, resp.StatusCode)
		}
	}

	resp := apiDoJSON(t, http.MethodPost, ts.URL+"/api/users", GetAPIKey(), map[string]interface{}{
		"username":         "bob",
		"password":         "hunter2",
		"live_playlist_id": 1,
		"max_connections":  2,
		"expires_at":       "2030-01-01T00:00:00Z",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d, want 200", resp.StatusCode)
	}
	if body := decodeAPIResponse(t, resp.Body); !body.Success {
		t.Fatal("create response not successful")
	}
	resp.Body.Close()

	// The stored hash must verify: the new account can pull its playlist.
	m3u, err := http.Get(ts.URL + "/playlist/bob/hunter2/playlist.m3u")
	if err != nil {
		t.Fatalf("playlist as bob: %v", err)
	}
	raw, _ := io.ReadAll(m3u.Body)
	m3u.Body.Close()
	if m3u.StatusCode != http.StatusOK || !strings.Contains(string(raw), "/live/bob/hunter2/42.ts") {
		t.Fatalf("playlist as bob answered %d:\n%s", m3u.StatusCode, raw)
	}

	resp = apiDo(t, http.MethodGet, ts.URL+"/api/users", GetAPIKey())
	listing, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	var users struct {
		Data []struct {
			Username       string `json:"username"`
			LivePlaylistID int64  `json:"live_playlist_id"`
			MaxConnections int    `json:"max_connections"`
			ExpiresAt      string `json:"expires_at"`
			Active         bool   `json:"active"`
		} `json:"data"`
	}
	if err := json.Unmarshal(listing, &users); err != nil {
		t.Fatalf("decoding user list: %v", err)
	}
	if len(users.Data) != 1 || users.Data[0].Username != "bob" ||
		users.Data[0].LivePlaylistID != 1 || users.Data[0].MaxConnections != 2 ||
		!users.Data[0].Active || users.Data[0].ExpiresAt != "2030-01-01T00:00:00Z" {
		t.Errorf("user listing = %+v, want bob with playlist 1 and two connections", users.Data)
	}
	if strings.Contains(string(listing), "password") {
		t.Errorf("user listing leaks password material:\n%s", listing)
	}

	resp = apiDo(t, http.MethodGet, ts.URL+"/api/settings/proxy_buffer_seconds", GetAPIKey())
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unset setting status = %d, want 404", resp.StatusCode)
	}

	resp = apiDoJSON(t, http.MethodPut, ts.URL+"/api/settings/proxy_buffer_seconds", GetAPIKey(),
		map[string]string{"value": "5"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put setting status = %d, want 200", resp.StatusCode)
	}

	resp = apiDo(t, http.MethodGet, ts.URL+"/api/settings/proxy_buffer_seconds", GetAPIKey())
	var setting struct {
		Data map[string]string `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&setting); err != nil {
		t.Fatalf("decoding setting: %v", err)
	}
	resp.Body.Close()
	if setting.Data["value"] != "5" {
		t.Errorf("setting value = %q, want 5", setting.Data["value"])
	}
}

func TestChannelIDParam(t *testing.T) {
	cases := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{"42", 42, false},
		{"42.ts", 42, false},
		{"07.m3u8", 7, false},
		{"abc", 0, true},
		{"", 0, true},
		{".ts", 0, true},
	}
	for _, tc := range cases {
		got, err := channelIDParam(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Errorf("channelIDParam(%q) = %d, want error", tc.raw, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("channelIDParam(%q) = %d, %v, want %d", tc.raw, got, err, tc.want)
		}
	}
}
