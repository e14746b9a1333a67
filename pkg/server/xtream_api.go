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
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lucasduport/iptv-gateway/pkg/types"
	"github.com/lucasduport/iptv-gateway/pkg/utils"
)

// playerAPI implements enough of the Xtream player_api.php protocol for
// players to log in and discover live channels. Responses are synthesized
// from the catalog; the stream URLs they point at resolve through the
// shared sessions like any other request.
func (s *Server) playerAPI(ctx *gin.Context, q url.Values) {
	username := q.Get("username")
	password := q.Get("password")
	user, err := s.lookupUser(username, password)
	if err != nil {
		s.abortAuth(ctx, err)
		return
	}

	action := strings.TrimSpace(q.Get("action"))
	utils.InfoLog("player_api action %q requested by %s (%s)", action, username, ctx.ClientIP())

	switch action {
	case "":
		ctx.JSON(http.StatusOK, s.loginResponse(user, username, password))
	case "get_live_categories":
		cats, _, err := s.liveCategories(user)
		if err != nil {
			ctx.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		ctx.JSON(http.StatusOK, cats)
	case "get_live_streams":
		streams, err := s.liveStreams(user)
		if err != nil {
			ctx.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		ctx.JSON(http.StatusOK, streams)
	default:
		// VOD and EPG metadata actions are not served; an empty list keeps
		// players from erroring out.
		utils.DebugLog("player_api action %q not supported, answering empty list", action)
		ctx.JSON(http.StatusOK, []interface{}{})
	}
}

func (s *Server) playerAPIGET(ctx *gin.Context) {
	s.playerAPI(ctx, ctx.Request.URL.Query())
}

func (s *Server) playerAPIPOST(ctx *gin.Context) {
	contents, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		ctx.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	q, err := url.ParseQuery(string(contents))
	if err != nil {
		ctx.AbortWithStatus(http.StatusBadRequest)
		return
	}
	s.playerAPI(ctx, q)
}

// loginResponse mimics the Xtream login handshake. Players echo these
// credentials back in stream paths, so the raw values from the request are
// returned as-is.
func (s *Server) loginResponse(user *types.User, username, password string) map[string]interface{} {
	protocol := "http"
	if s.HTTPS {
		protocol = "https"
	}
	now := time.Now()
	nowUnix := strconv.FormatInt(now.Unix(), 10)

	expDate := strconv.FormatInt(now.Add(365*24*time.Hour).Unix(), 10)
	if user.ExpiresAt != nil {
		expDate = strconv.FormatInt(user.ExpiresAt.Unix(), 10)
	}

	return map[string]interface{}{
		"user_info": map[string]interface{}{
			"username":               username,
			"password":               password,
			"message":                "",
			"auth":                   1,
			"status":                 "Active",
			"exp_date":               expDate,
			"is_trial":               "0",
			"active_cons":            "0",
			"created_at":             nowUnix,
			"max_connections":        strconv.Itoa(user.MaxConnections),
			"allowed_output_formats": []string{"ts"},
		},
		"server_info": map[string]interface{}{
			"url":             s.HostConfig.Hostname,
			"port":            strconv.Itoa(s.AdvertisedPort),
			"https_port":      strconv.Itoa(s.AdvertisedPort),
			"server_protocol": protocol,
			"rtmp_port":       strconv.Itoa(s.AdvertisedPort),
			"timezone":        "UTC",
			"timestamp_now":   nowUnix,
			"time_now":        now.UTC().Format("2006-01-02 15:04:05"),
		},
	}
}

type xtreamCategory struct {
	CategoryID   string `json:"category_id"`
	CategoryName string `json:"category_name"`
	ParentID     int    `json:"parent_id"`
}

type xtreamStream struct {
	Num          int    `json:"num"`
	Name         string `json:"name"`
	StreamType   string `json:"stream_type"`
	StreamID     int64  `json:"stream_id"`
	StreamIcon   string `json:"stream_icon"`
	EPGChannelID string `json:"epg_channel_id"`
	Added        string `json:"added"`
	CategoryID   string `json:"category_id"`
	TVArchive    int    `json:"tv_archive"`
	DirectSource string `json:"direct_source"`
}

// liveCategories maps the playlist's group titles onto Xtream categories.
// The returned index keeps category ids stable between the categories and
// streams calls of one client.
func (s *Server) liveCategories(user *types.User) ([]xtreamCategory, map[string]string, error) {
	if user.LivePlaylistID == 0 {
		return []xtreamCategory{}, map[string]string{}, nil
	}
	groups, err := s.store.ListPlaylistGroups(user.LivePlaylistID)
	if err != nil {
		return nil, nil, err
	}

	cats := make([]xtreamCategory, 0, len(groups))
	index := make(map[string]string, len(groups))
	for i, g := range groups {
		id := strconv.Itoa(i + 1)
		cats = append(cats, xtreamCategory{CategoryID: id, CategoryName: g})
		index[g] = id
	}
	return cats, index, nil
}

func (s *Server) liveStreams(user *types.User) ([]xtreamStream, error) {
	if user.LivePlaylistID == 0 {
		return []xtreamStream{}, nil
	}
	_, index, err := s.liveCategories(user)
	if err != nil {
		return nil, err
	}
	channels, err := s.store.ListPlaylistChannels(user.LivePlaylistID)
	if err != nil {
		return nil, err
	}

	streams := make([]xtreamStream, 0, len(channels))
	for i, ch := range channels {
		streams = append(streams, xtreamStream{
			Num:          i + 1,
			Name:         ch.TvgName,
			StreamType:   "live",
			StreamID:     ch.ID,
			StreamIcon:   ch.TvgLogo,
			EPGChannelID: ch.TvgID,
			CategoryID:   index[ch.GroupTitle],
		})
	}
	return streams, nil
}
