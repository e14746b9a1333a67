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
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lucasduport/iptv-gateway/pkg/session"
	"github.com/lucasduport/iptv-gateway/pkg/types"
	"github.com/lucasduport/iptv-gateway/pkg/utils"
	uuid "github.com/satori/go.uuid"
)

// channelIDParam parses a channel id route parameter. Players routinely
// append a container extension ("1042.ts"), which is accepted and ignored.
func channelIDParam(raw string) (int64, error) {
	if i := strings.IndexByte(raw, '.'); i >= 0 {
		raw = raw[:i]
	}
	return strconv.ParseInt(raw, 10, 64)
}

// clientTag labels a request in the logs: the username when known, a
// throwaway id otherwise.
func clientTag(ctx *gin.Context) string {
	if u := currentUser(ctx); u != nil {
		return u.Username
	}
	return "anon-" + strings.Split(uuid.NewV4().String(), "-")[0]
}

// streamChannel serves a live channel, joining the shared session for it.
func (s *Server) streamChannel(ctx *gin.Context) {
	channelID, err := channelIDParam(ctx.Param("channel_id"))
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusNotFound, types.APIResponse{
			Success: false,
			Error:   "invalid channel id",
		})
		return
	}

	tag := clientTag(ctx)
	utils.DebugLog("Stream request: channel=%d client=%s ip=%s", channelID, tag, ctx.ClientIP())

	conn, err := s.manager.Acquire(ctx.Request.Context(), channelID, currentUser(ctx), false)
	if err != nil {
		s.abortStream(ctx, channelID, err)
		return
	}
	defer conn.Close()

	s.writeStream(ctx, conn)
	utils.DebugLog("Stream ended: channel=%d client=%s", channelID, tag)
}

// writeStream sends the bridge snapshot and then relays chunks until the
// session dies or the client goes away.
func (s *Server) writeStream(ctx *gin.Context, conn *session.Conn) {
	ctx.Header("Content-Type", "video/mp2t")
	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("Connection", "keep-alive")
	ctx.Header("X-Accel-Buffering", "no")
	ctx.Status(http.StatusOK)

	w := ctx.Writer
	if len(conn.Initial) > 0 {
		if _, err := w.Write(conn.Initial); err != nil {
			return
		}
		w.Flush()
	}

	done := ctx.Request.Context().Done()
	for {
		select {
		case chunk, ok := <-conn.Chunks():
			if !ok {
				return
			}
			if _, err := w.Write(chunk); err != nil {
				return
			}
			w.Flush()
		case <-done:
			return
		}
	}
}

// abortStream maps session errors onto the HTTP surface.
func (s *Server) abortStream(ctx *gin.Context, channelID int64, err error) {
	switch {
	case errors.Is(err, session.ErrChannelNotFound):
		ctx.AbortWithStatusJSON(http.StatusNotFound, types.APIResponse{
			Success: false,
			Error:   "channel not found",
		})
	case errors.Is(err, session.ErrUserAtCapacity):
		ctx.AbortWithStatusJSON(http.StatusTooManyRequests, types.APIResponse{
			Success: false,
			Error:   "connection limit reached",
		})
	case errors.Is(err, session.ErrSourceAtCapacity):
		ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, types.APIResponse{
			Success: false,
			Error:   "source at capacity, try again later",
		})
	case errors.Is(err, session.ErrAllVariantsFailed):
		ctx.AbortWithStatusJSON(http.StatusBadGateway, types.APIResponse{
			Success: false,
			Error:   err.Error(),
		})
	default:
		utils.ErrorLog("Stream acquisition failed for channel %d: %v", channelID, err)
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, types.APIResponse{
			Success: false,
			Error:   "internal error",
		})
	}
}
