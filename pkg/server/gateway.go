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

// Package server is the HTTP surface of the gateway: stream endpoints,
// playlist export, the Xtream compatibility shim and the internal ops API.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lucasduport/iptv-gateway/pkg/config"
	"github.com/lucasduport/iptv-gateway/pkg/database"
	"github.com/lucasduport/iptv-gateway/pkg/importer"
	"github.com/lucasduport/iptv-gateway/pkg/notify"
	"github.com/lucasduport/iptv-gateway/pkg/session"
	"github.com/lucasduport/iptv-gateway/pkg/types"
	"github.com/lucasduport/iptv-gateway/pkg/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store is the persistence surface the HTTP layer reads and, for the ops
// API, writes. It is a superset of session.Store; *database.DBManager
// implements all of it.
type Store interface {
	session.Store
	GetUserByUsername(username string) (*types.User, error)
	ListPlaylistChannels(playlistID int64) ([]types.PlaylistChannel, error)
	ListPlaylistGroups(playlistID int64) ([]string, error)
	ListStreamHistory(limit int) ([]types.StreamHistoryEntry, error)
	GetStreamHistoryStats() (map[string]interface{}, error)
	ListFailedStreams(limit int) ([]types.FailedStreamEntry, error)
	ClearFailedStreams(channelID int64) error
	GetPlaylist(id int64) (*types.Playlist, error)
	ListUsers() ([]types.User, error)
	UpsertUser(u *types.User) (int64, error)
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
}

// Server wires the catalog, the session manager, the source refresher and
// the HTTP routes together.
type Server struct {
	*config.GatewayConfig

	store     Store
	db        *database.DBManager
	manager   *session.Manager
	refresher *importer.Refresher
	vodClient *http.Client

	failLimiter *authFailLimiter
}

// NewServer initializes the gateway: database, session manager, Discord
// notifier and the periodic source refresher.
func NewServer(cfg *config.GatewayConfig) (*Server, error) {
	db, err := database.NewDBManager()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	var notifier session.Notifier
	if n := notify.New(cfg.DiscordToken, cfg.DiscordStatusChannel); n != nil {
		notifier = n
	}

	s := &Server{
		GatewayConfig: cfg,
		store:         db,
		db:            db,
		manager:       session.NewManager(db, notifier),
		vodClient:     newVODClient(),
		failLimiter:   newAuthFailLimiter(),
	}

	if cfg.RefreshIntervalHours > 0 {
		s.refresher = importer.NewRefresher(db, time.Duration(cfg.RefreshIntervalHours)*time.Hour)
	} else {
		utils.WarnLog("Source refresh disabled, the catalog will only change through manual imports")
	}

	utils.InfoLog("Session manager initialized with database connection")
	return s, nil
}

// Serve runs the gateway until the listener fails.
func (s *Server) Serve() error {
	utils.InfoLog("[iptv-gateway] Server is starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if s.refresher != nil {
		go s.refresher.Run(ctx)
	}
	// LIFO: the manager tears down sessions (and records their history)
	// before the database handle goes away.
	defer s.db.Close()
	defer s.manager.Shutdown()

	router := s.router()
	utils.InfoLog("[iptv-gateway] Server is ready and listening on :%d", s.HostConfig.Port)
	return router.Run(fmt.Sprintf(":%d", s.HostConfig.Port))
}

// router builds the gin engine with every route of the gateway. Split from
// Serve so handler tests can drive the full middleware chain.
func (s *Server) router() *gin.Engine {
	router := gin.Default()
	router.Use(cors.Default())

	// Core streaming surface.
	router.GET("/stream/:channel_id", s.optionalQueryCredentials(), s.streamChannel)
	router.GET("/xtream/:username/:password/:channel_id", s.pathCredentials(), s.streamChannel)
	router.GET("/live/:username/:password/:channel_id", s.pathCredentials(), s.streamChannel)
	router.GET("/movie/:username/:password/:id", s.pathCredentials(), s.streamVOD)
	router.GET("/series/:username/:password/:id", s.pathCredentials(), s.streamVOD)

	// Playlist export, plus the classic Xtream entry points players expect
	// at the root of the base URL.
	router.GET("/playlist/:username/:password/:filename", s.pathCredentials(), s.getM3U)
	router.GET("/get.php", s.getPHP)
	router.POST("/get.php", s.getPHP)
	router.GET("/player_api.php", s.playerAPIGET)
	router.POST("/player_api.php", s.playerAPIPOST)
	router.GET("/xtream/get.php", s.getPHP)
	router.GET("/xtream/player_api.php", s.playerAPIGET)
	router.POST("/xtream/player_api.php", s.playerAPIPOST)

	s.setupAPI(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// newVODClient builds the HTTP client used for VOD range passthrough.
// No global timeout: downloads run as long as the client stays connected.
func newVODClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     false,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
