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
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/lucasduport/iptv-gateway/pkg/types"
	"github.com/lucasduport/iptv-gateway/pkg/utils"
	uuid "github.com/satori/go.uuid"
)

// getM3U serves the caller's playlist under /playlist/:username/:password.
// The :filename parameter exists because players insist on a file-looking
// URL; its value is ignored.
func (s *Server) getM3U(ctx *gin.Context) {
	s.serveM3U(ctx, currentUser(ctx), ctx.Param("username"), ctx.Param("password"))
}

// getPHP answers the classic Xtream get.php playlist download with
// credentials in the query string.
func (s *Server) getPHP(ctx *gin.Context) {
	var authReq authRequest
	if err := ctx.Bind(&authReq); err != nil {
		ctx.AbortWithStatus(http.StatusBadRequest)
		return
	}
	user, err := s.lookupUser(authReq.Username, authReq.Password)
	if err != nil {
		s.abortAuth(ctx, err)
		return
	}
	s.serveM3U(ctx, user, authReq.Username, authReq.Password)
}

// serveM3U renders the playlist to a throwaway temp file and hands it to
// the client as an attachment.
func (s *Server) serveM3U(ctx *gin.Context, user *types.User, username, password string) {
	data, err := s.renderM3U(user, username, password)
	if err != nil {
		utils.ErrorLog("Playlist render failed for user %s: %v", user.Username, err)
		ctx.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	tmpPath := filepath.Join(os.TempDir(), uuid.NewV4().String()+".iptv-gateway.m3u")
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		utils.ErrorLog("Playlist temp file write failed: %v", err)
		ctx.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	defer os.Remove(tmpPath)

	ctx.Header("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, s.PlaylistFileName))
	ctx.Header("Content-Type", "application/octet-stream")
	ctx.File(tmpPath)
}

// renderM3U builds the #EXTM3U document for a user: their live playlist
// first, then their VOD playlist. Proxy URLs embed the credentials the
// request itself arrived with, because the catalog only stores hashes.
func (s *Server) renderM3U(user *types.User, username, password string) ([]byte, error) {
	base := s.BaseURL()
	u := url.PathEscape(username)
	p := url.PathEscape(password)

	var buf bytes.Buffer
	buf.WriteString("#EXTM3U\n")

	if user.LivePlaylistID != 0 {
		channels, err := s.store.ListPlaylistChannels(user.LivePlaylistID)
		if err != nil {
			return nil, err
		}
		for _, ch := range channels {
			writeExtinf(&buf, &ch)
			fmt.Fprintf(&buf, "%s/live/%s/%s/%d.ts\n", base, u, p, ch.ID)
		}
	}

	if user.VODPlaylistID != 0 {
		channels, err := s.store.ListPlaylistChannels(user.VODPlaylistID)
		if err != nil {
			return nil, err
		}
		for _, ch := range channels {
			writeExtinf(&buf, &ch)
			fmt.Fprintf(&buf, "%s/movie/%s/%s/%d%s\n", base, u, p, ch.ID, containerExt(ch.URL))
		}
	}

	return buf.Bytes(), nil
}

func writeExtinf(buf *bytes.Buffer, ch *types.PlaylistChannel) {
	buf.WriteString("#EXTINF:-1")
	if ch.TvgID != "" {
		fmt.Fprintf(buf, " tvg-id=%q", ch.TvgID)
	}
	fmt.Fprintf(buf, " tvg-name=%q", ch.TvgName)
	if ch.TvgLogo != "" {
		fmt.Fprintf(buf, " tvg-logo=%q", ch.TvgLogo)
	}
	if ch.GroupTitle != "" {
		fmt.Fprintf(buf, " group-title=%q", ch.GroupTitle)
	}
	fmt.Fprintf(buf, ",%s\n", ch.TvgName)
}

// containerExt keeps the upstream file extension on exported VOD URLs so
// players pick the right demuxer.
func containerExt(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	switch ext := path.Ext(parsed.Path); ext {
	case ".mp4", ".mkv", ".avi", ".ts", ".m4v", ".mov":
		return ext
	default:
		return ""
	}
}
