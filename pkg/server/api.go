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
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lucasduport/iptv-gateway/pkg/auth"
	"github.com/lucasduport/iptv-gateway/pkg/types"
	"github.com/lucasduport/iptv-gateway/pkg/utils"
)

// setupAPI configures the key-protected ops endpoints under /api.
func (s *Server) setupAPI(r *gin.Engine) {
	api := r.Group("/api")
	api.Use(s.apiKeyAuth())
	api.Use(func(ctx *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				utils.ErrorLog("API PANIC RECOVERED: %v\nStack trace: %s", err, debug.Stack())
				ctx.AbortWithStatusJSON(http.StatusInternalServerError, types.APIResponse{
					Success: false,
					Error:   fmt.Sprintf("Internal server error: %v", err),
				})
			}
		}()
		ctx.Next()
	})

	api.GET("/streams", s.getStreams)
	api.DELETE("/streams/:channel_id", s.killStream)
	api.GET("/history", s.getHistory)
	api.GET("/failed", s.getFailedStreams)
	api.DELETE("/failed/:channel_id", s.clearFailedStreams)
	api.GET("/users", s.getUsers)
	api.POST("/users", s.upsertUser)
	api.GET("/settings/:key", s.getSetting)
	api.PUT("/settings/:key", s.putSetting)
	api.GET("/ping", s.ping)
}

// getStreams returns every active shared session.
func (s *Server) getStreams(ctx *gin.Context) {
	streams := s.manager.ActiveStreams()
	utils.DebugLog("API: %d active stream(s)", len(streams))
	ctx.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Data:    streams,
	})
}

// killStream terminates the session for a channel, disconnecting all of
// its clients.
func (s *Server) killStream(ctx *gin.Context) {
	channelID, err := channelIDParam(ctx.Param("channel_id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, types.APIResponse{
			Success: false,
			Error:   "invalid channel id",
		})
		return
	}
	if !s.manager.Kill(channelID) {
		ctx.JSON(http.StatusNotFound, types.APIResponse{
			Success: false,
			Error:   "no active session for channel",
		})
		return
	}
	utils.InfoLog("API: session for channel %d killed", channelID)
	ctx.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Message: "session killed",
	})
}

func (s *Server) getHistory(ctx *gin.Context) {
	limit := intQuery(ctx, "limit", 100)
	entries, err := s.store.ListStreamHistory(limit)
	if err != nil {
		s.apiError(ctx, err)
		return
	}
	stats, err := s.store.GetStreamHistoryStats()
	if err != nil {
		s.apiError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"entries": entries,
			"stats":   stats,
		},
	})
}

func (s *Server) getFailedStreams(ctx *gin.Context) {
	entries, err := s.store.ListFailedStreams(intQuery(ctx, "limit", 100))
	if err != nil {
		s.apiError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Data:    entries,
	})
}

func (s *Server) clearFailedStreams(ctx *gin.Context) {
	channelID, err := channelIDParam(ctx.Param("channel_id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, types.APIResponse{
			Success: false,
			Error:   "invalid channel id",
		})
		return
	}
	if err := s.store.ClearFailedStreams(channelID); err != nil {
		s.apiError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Message: "failure records cleared",
	})
}

// userView is the account shape exposed by the API. Password hashes never
// leave the database layer.
type userView struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	LivePlaylistID int64  `json:"live_playlist_id,omitempty"`
	VODPlaylistID  int64  `json:"vod_playlist_id,omitempty"`
	MaxConnections int    `json:"max_connections"`
	ExpiresAt      string `json:"expires_at,omitempty"`
	Active         bool   `json:"active"`
}

// upsertUserRequest is the payload for creating or replacing an account.
// An empty expires_at means the account never expires.
type upsertUserRequest struct {
	Username       string `json:"username" binding:"required"`
	Password       string `json:"password" binding:"required"`
	LivePlaylistID int64  `json:"live_playlist_id"`
	VODPlaylistID  int64  `json:"vod_playlist_id"`
	MaxConnections int    `json:"max_connections"`
	ExpiresAt      string `json:"expires_at"`
	Active         *bool  `json:"active"`
}

func (s *Server) getUsers(ctx *gin.Context) {
	users, err := s.store.ListUsers()
	if err != nil {
		s.apiError(ctx, err)
		return
	}
	views := make([]userView, 0, len(users))
	for _, u := range users {
		v := userView{
			ID:             u.ID,
			Username:       u.Username,
			LivePlaylistID: u.LivePlaylistID,
			VODPlaylistID:  u.VODPlaylistID,
			MaxConnections: u.MaxConnections,
			Active:         u.Active,
		}
		if u.ExpiresAt != nil {
			v.ExpiresAt = u.ExpiresAt.Format(time.RFC3339)
		}
		views = append(views, v)
	}
	ctx.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Data:    views,
	})
}

// upsertUser creates an account or replaces an existing one by username.
func (s *Server) upsertUser(ctx *gin.Context) {
	var req upsertUserRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, types.APIResponse{
			Success: false,
			Error:   "username and password are required",
		})
		return
	}

	user := &types.User{
		Username:       req.Username,
		LivePlaylistID: req.LivePlaylistID,
		VODPlaylistID:  req.VODPlaylistID,
		MaxConnections: req.MaxConnections,
		Active:         true,
	}
	if req.Active != nil {
		user.Active = *req.Active
	}
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "expires_at must be an RFC 3339 timestamp",
			})
			return
		}
		user.ExpiresAt = &t
	}

	for _, ref := range []struct {
		id   int64
		kind string
	}{{req.LivePlaylistID, "live"}, {req.VODPlaylistID, "vod"}} {
		if ref.id == 0 {
			continue
		}
		p, err := s.store.GetPlaylist(ref.id)
		if errors.Is(err, types.ErrNotFound) {
			ctx.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   fmt.Sprintf("playlist %d does not exist", ref.id),
			})
			return
		}
		if err != nil {
			s.apiError(ctx, err)
			return
		}
		if p.Kind != ref.kind {
			ctx.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   fmt.Sprintf("playlist %d is a %s playlist, expected %s", ref.id, p.Kind, ref.kind),
			})
			return
		}
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.apiError(ctx, err)
		return
	}
	user.PasswordHash = hash

	id, err := s.store.UpsertUser(user)
	if err != nil {
		s.apiError(ctx, err)
		return
	}
	utils.InfoLog("API: upserted user %s (id=%d)", user.Username, id)
	ctx.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Message: "user saved",
		Data:    map[string]interface{}{"id": id},
	})
}

// getSetting returns one runtime override, e.g. proxy_buffer_seconds.
func (s *Server) getSetting(ctx *gin.Context) {
	key := ctx.Param("key")
	value, err := s.store.GetSetting(key)
	if err != nil {
		s.apiError(ctx, err)
		return
	}
	if value == "" {
		ctx.JSON(http.StatusNotFound, types.APIResponse{
			Success: false,
			Error:   "setting not set",
		})
		return
	}
	ctx.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Data:    map[string]string{"key": key, "value": value},
	})
}

// putSetting stores a runtime override. Settings take effect on the next
// read, without a restart.
func (s *Server) putSetting(ctx *gin.Context) {
	var req struct {
		Value string `json:"value" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, types.APIResponse{
			Success: false,
			Error:   "value is required",
		})
		return
	}
	key := ctx.Param("key")
	if err := s.store.SetSetting(key, req.Value); err != nil {
		s.apiError(ctx, err)
		return
	}
	utils.InfoLog("API: setting %s updated", key)
	ctx.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Message: "setting saved",
	})
}

func (s *Server) ping(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Message: "API is running",
		Data: map[string]interface{}{
			"time":            time.Now().String(),
			"active_sessions": s.manager.ActiveCount(),
			"database":        s.db.IsInitialized(),
		},
	})
}

func (s *Server) apiError(ctx *gin.Context, err error) {
	utils.ErrorLog("API request failed: %v", err)
	ctx.JSON(http.StatusInternalServerError, types.APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

func intQuery(ctx *gin.Context, name string, def int) int {
	if v := ctx.Query(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
