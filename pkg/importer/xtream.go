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

package importer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/lucasduport/iptv-gateway/pkg/normalize"
	"github.com/lucasduport/iptv-gateway/pkg/types"
	"github.com/lucasduport/iptv-gateway/pkg/utils"
	xtreamcodes "github.com/tellytv/go.xtream-codes"
)

// importXtream imports the live channel list of an Xtream account. The
// typed client is tried first; when a provider's JSON is too broken for
// it, the raw player_api fallback takes over.
func importXtream(ctx context.Context, store Store, src *types.Source, rules []normalize.Rule) (int, error) {
	count, err := importXtreamClient(ctx, store, src, rules)
	if err == nil {
		return count, nil
	}
	utils.WarnLog("Xtream client import for source %s failed (%v), retrying with tolerant parser", src.Name, err)
	return importXtreamRaw(ctx, store, src, rules)
}

func importXtreamClient(ctx context.Context, store Store, src *types.Source, rules []normalize.Rule) (int, error) {
	client, err := xtreamcodes.NewClientWithUserAgent(ctx, src.Username, src.Password, src.URL, utils.GetIPTVUserAgent())
	if err != nil {
		return 0, err
	}

	categories, err := client.GetLiveCategories()
	if err != nil {
		return 0, err
	}
	if len(categories) == 0 {
		// Providers without categories still answer an unfiltered call.
		categories = []xtreamcodes.Category{{}}
	}

	count := 0
	for _, cat := range categories {
		if ctx.Err() != nil {
			return count, ctx.Err()
		}
		catID := ""
		if cat.ID != 0 {
			catID = strconv.Itoa(int(cat.ID))
		}
		streams, err := client.GetLiveStreams(catID)
		if err != nil {
			utils.WarnLog("Listing streams in category %q of source %s failed: %v", cat.Name, src.Name, err)
			continue
		}
		for i := range streams {
			st := &streams[i]
			if st.Name == "" || int64(st.ID) == 0 {
				continue
			}
			ch := buildChannel(src, st.Name, liveStreamURL(src, int64(st.ID)), st.Icon, cat.Name, rules)
			if err := store.UpsertSourceChannel(ch); err != nil {
				utils.WarnLog("Upsert failed for %q from source %s: %v", st.Name, src.Name, err)
				continue
			}
			count++
		}
	}
	return count, nil
}

// importXtreamRaw drives player_api.php directly and parses the answers
// with jsonparser, which copes with the malformed JSON some providers
// emit (stray control bytes, numbers quoted at random).
func importXtreamRaw(ctx context.Context, store Store, src *types.Source, rules []normalize.Rule) (int, error) {
	groups := map[int64]string{}
	if data, err := fetchPlayerAPI(ctx, src, "get_live_categories"); err == nil {
		_, _ = jsonparser.ArrayEach(data, func(value []byte, _ jsonparser.ValueType, _ int, _ error) {
			id, ok := flexInt(value, "category_id")
			if !ok {
				return
			}
			if name, err := jsonparser.GetString(value, "category_name"); err == nil {
				groups[id] = name
			}
		})
	}

	data, err := fetchPlayerAPI(ctx, src, "get_live_streams")
	if err != nil {
		return 0, err
	}

	count := 0
	_, err = jsonparser.ArrayEach(data, func(value []byte, _ jsonparser.ValueType, _ int, _ error) {
		id, ok := flexInt(value, "stream_id")
		if !ok {
			return
		}
		name, gerr := jsonparser.GetString(value, "name")
		if gerr != nil || name == "" {
			return
		}
		logo, _ := jsonparser.GetString(value, "stream_icon")
		group := ""
		if catID, ok := flexInt(value, "category_id"); ok {
			group = groups[catID]
		}
		ch := buildChannel(src, name, liveStreamURL(src, id), logo, group, rules)
		if uerr := store.UpsertSourceChannel(ch); uerr != nil {
			utils.WarnLog("Upsert failed for %q from source %s: %v", name, src.Name, uerr)
			return
		}
		count++
	})
	if err != nil {
		if count == 0 {
			return 0, fmt.Errorf("parse live streams: %w", err)
		}
		utils.WarnLog("Live stream list for source %s ended early after %d channels: %v", src.Name, count, err)
	}
	return count, nil
}

// apiClient is shared by raw player_api calls. Channel lists from large
// providers take a while to generate server-side.
var apiClient = &http.Client{Timeout: 60 * time.Second}

// maxAPIResponse caps how much player_api JSON is read; big providers
// return tens of megabytes.
const maxAPIResponse = 64 << 20

func fetchPlayerAPI(ctx context.Context, src *types.Source, action string) ([]byte, error) {
	u, err := url.Parse(strings.TrimRight(src.URL, "/") + "/player_api.php")
	if err != nil {
		return nil, fmt.Errorf("invalid source url: %w", err)
	}
	params := url.Values{}
	params.Set("username", src.Username)
	params.Set("password", src.Password)
	params.Set("action", action)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", utils.GetIPTVUserAgent())
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := apiClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("player_api %s returned status %d", action, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponse))
	if err != nil {
		return nil, err
	}
	return bytes.TrimSpace(body), nil
}

// liveStreamURL builds the provider's direct .ts URL for a live stream.
func liveStreamURL(src *types.Source, streamID int64) string {
	return fmt.Sprintf("%s/live/%s/%s/%d.ts", strings.TrimRight(src.URL, "/"), src.Username, src.Password, streamID)
}

// flexInt reads an integer field that providers send either bare or
// quoted.
func flexInt(value []byte, key string) (int64, bool) {
	if n, err := jsonparser.GetInt(value, key); err == nil {
		return n, true
	}
	if s, err := jsonparser.GetString(value, key); err == nil {
		if n, perr := strconv.ParseInt(strings.TrimSpace(s), 10, 64); perr == nil {
			return n, true
		}
	}
	return 0, false
}
