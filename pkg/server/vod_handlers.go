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
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lucasduport/iptv-gateway/pkg/types"
	"github.com/lucasduport/iptv-gateway/pkg/utils"
)

// streamVOD serves movie and series content. Requests without a Range
// header share one upstream connection like live channels do; seeking
// players send Range and get a private passthrough connection instead,
// since byte ranges cannot be multiplexed.
func (s *Server) streamVOD(ctx *gin.Context) {
	channelID, err := channelIDParam(ctx.Param("id"))
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusNotFound, types.APIResponse{
			Success: false,
			Error:   "invalid stream id",
		})
		return
	}

	if ctx.GetHeader("Range") != "" {
		s.vodPassthrough(ctx, channelID)
		return
	}

	conn, err := s.manager.Acquire(ctx.Request.Context(), channelID, currentUser(ctx), true)
	if err != nil {
		s.abortStream(ctx, channelID, err)
		return
	}
	defer conn.Close()
	s.writeStream(ctx, conn)
}

// Response headers worth forwarding from a VOD upstream. Everything else,
// hop-by-hop headers in particular, is dropped.
var vodResponseHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Range",
	"Accept-Ranges",
	"Content-Disposition",
}

// vodPassthrough proxies one ranged VOD request on a fresh upstream
// connection, forwarding the byte range both ways.
func (s *Server) vodPassthrough(ctx *gin.Context, channelID int64) {
	pc, err := s.store.LookupPlaylistChannel(channelID)
	if errors.Is(err, types.ErrNotFound) {
		ctx.AbortWithStatusJSON(http.StatusNotFound, types.APIResponse{
			Success: false,
			Error:   "channel not found",
		})
		return
	}
	if err != nil {
		utils.ErrorLog("VOD lookup failed for channel %d: %v", channelID, err)
		ctx.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	utils.DebugLog("VOD passthrough: channel=%d range=%q upstream=%s",
		channelID, ctx.GetHeader("Range"), utils.MaskURL(pc.URL))

	req, err := http.NewRequestWithContext(ctx.Request.Context(), http.MethodGet, pc.URL, nil)
	if err != nil {
		ctx.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	// Strict providers reject anything beyond a minimal header set, so the
	// upstream request is built from a whitelist rather than copied.
	req.Header.Set("User-Agent", utils.GetIPTVUserAgent())
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Range", ctx.GetHeader("Range"))
	if v := ctx.GetHeader("Accept-Language"); v != "" {
		req.Header.Set("Accept-Language", v)
	}

	resp, err := s.vodClient.Do(req)
	if err != nil {
		utils.WarnLog("VOD upstream request failed for channel %d: %v", channelID, err)
		ctx.AbortWithStatusJSON(http.StatusBadGateway, types.APIResponse{
			Success: false,
			Error:   "upstream unreachable",
		})
		return
	}
	defer resp.Body.Close()

	for _, h := range vodResponseHeaders {
		if v := resp.Header.Get(h); v != "" {
			ctx.Header(h, v)
		}
	}
	ctx.Status(resp.StatusCode)

	w := ctx.Writer
	buf := make([]byte, 64*1024)
	done := ctx.Request.Context().Done()
	for {
		select {
		case <-done:
			return
		default:
		}

		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				utils.DebugLog("VOD client write error: %v", werr)
				return
			}
			w.Flush()
		}
		if rerr != nil {
			if rerr != io.EOF {
				utils.DebugLog("VOD upstream read error: %v", rerr)
			}
			return
		}
	}
}
