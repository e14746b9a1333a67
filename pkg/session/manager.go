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

package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/lucasduport/iptv-gateway/pkg/metrics"
	"github.com/lucasduport/iptv-gateway/pkg/types"
	"github.com/lucasduport/iptv-gateway/pkg/utils"
)

// Notifier receives stream-level failure events. Implementations must not
// block: calls happen on the attach and pump paths.
type Notifier interface {
	AllVariantsFailed(channelName string, channelID int64, lastError string)
	ReconnectsExhausted(channelName string, channelID int64, attempts int)
}

// Manager ties the registry, the catalog and the upstream HTTP client
// together and owns the attach policy: join the live session when one
// exists, otherwise admit, create and fail over across variants until one
// delivers.
type Manager struct {
	store    Store
	registry *Registry
	client   *http.Client
	notifier Notifier

	maxReconnects  int
	reconnectDelay time.Duration
	stallTimeout   time.Duration
	startTimeout   time.Duration
	vodGrace       time.Duration
}

// NewManager builds a streaming manager on top of the given catalog.
// notifier may be nil.
func NewManager(store Store, notifier Notifier) *Manager {
	return &Manager{
		store:    store,
		registry: NewRegistry(),
		notifier: notifier,
		client: &http.Client{
			// No global Timeout: long-running streams must not be cut off.
			// Dial and response headers are bounded so a wedged provider
			// cannot hang the pump between reconnects.
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ResponseHeaderTimeout: 15 * time.Second,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   20,
				IdleConnTimeout:       90 * time.Second,
				ForceAttemptHTTP2:     false, // avoid HTTP/2 flow control stalls with IPTV providers
				DisableCompression:    true,  // avoid gzip on video streams
			},
		},
		maxReconnects:  utils.GetEnvIntOrDefault("STREAM_MAX_RECONNECTS", 5),
		reconnectDelay: time.Duration(utils.GetEnvIntOrDefault("STREAM_RECONNECT_DELAY", 2000)) * time.Millisecond,
		stallTimeout:   time.Duration(utils.GetEnvIntOrDefault("STREAM_STALL_TIMEOUT", 30000)) * time.Millisecond,
		startTimeout:   10 * time.Second,
		vodGrace:       500 * time.Millisecond,
	}
}

// Acquire attaches a client to the shared stream for a channel, creating
// the session if needed. user is nil for anonymous internal callers; vod
// selects the idle grace policy. The returned Conn must be closed by the
// caller. ctx only guards session startup, not the stream itself.
func (m *Manager) Acquire(ctx context.Context, channelID int64, user *types.User, vod bool) (*Conn, error) {
	// Fast path: a live session means admission is implicit.
	if s := m.registry.Get(channelID); s != nil {
		if conn, err := s.Attach(); err == nil {
			utils.DebugLog("Client joined existing session for channel %d", channelID)
			return conn, nil
		}
	}

	var username string
	maxConn := 0
	if user != nil {
		username = user.Username
		maxConn = user.MaxConnections
		if maxConn > 0 && m.registry.CountByUser(username) >= maxConn {
			utils.WarnLog("User %s is at the connection limit (%d)", username, maxConn)
			return nil, ErrUserAtCapacity
		}
	}

	pc, variants, err := ResolveVariants(m.store, channelID, m.registry.CountBySource)
	if err != nil {
		return nil, err
	}
	utils.DebugLog("Resolved %d variant(s) for channel %d (%s)", len(variants), channelID, pc.TvgName)

	bufferSeconds := m.store.BufferSeconds()

	var lastErr error
	sawStreamFailure := false
	for _, v := range variants {
		variant := v
		s, created, admitErr := m.registry.CreateAdmitted(channelID, variant, username, maxConn, func() *Session {
			return newSession(m, pc, variant, username, vod, bufferSeconds)
		})
		if errors.Is(admitErr, ErrUserAtCapacity) {
			utils.WarnLog("User %s is at the connection limit (%d)", username, maxConn)
			return nil, ErrUserAtCapacity
		}
		if errors.Is(admitErr, ErrSourceAtCapacity) {
			utils.DebugLog("Source %d at capacity, skipping variant %s",
				variant.SourceID, utils.MaskURL(variant.URL))
			lastErr = admitErr
			continue
		}
		if !created {
			// Someone else created the session first; ride along.
			if conn, err := s.Attach(); err == nil {
				utils.DebugLog("Client joined existing session for channel %d", channelID)
				return conn, nil
			}
			sawStreamFailure = true
			lastErr = ErrSessionClosed
			continue
		}

		conn, err := s.Attach()
		if err != nil {
			sawStreamFailure = true
			lastErr = err
			continue
		}
		if err := s.start(ctx); err != nil {
			sawStreamFailure = true
			lastErr = err
			metrics.VariantFailovers.Inc()
			utils.WarnLog("Variant %s failed for channel %d: %v",
				utils.MaskURL(variant.URL), channelID, err)
			continue
		}
		return conn, nil
	}

	// A channel with a single upstream that is merely busy is reported as
	// at-capacity; anything else is an upstream failure.
	if len(variants) == 1 && !sawStreamFailure && errors.Is(lastErr, ErrSourceAtCapacity) {
		return nil, ErrSourceAtCapacity
	}

	if m.notifier != nil {
		m.notifier.AllVariantsFailed(pc.TvgName, channelID, errorText(lastErr))
	}
	utils.ErrorLog("All %d variant(s) failed for channel %d (%s): %v",
		len(variants), channelID, pc.TvgName, lastErr)
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllVariantsFailed, lastErr)
	}
	return nil, ErrAllVariantsFailed
}

// Kill terminates the live session for a channel, closing all of its
// clients. Returns false when no session exists.
func (m *Manager) Kill(channelID int64) bool {
	s := m.registry.Get(channelID)
	if s == nil {
		return false
	}
	s.destroy("killed by operator")
	return true
}

// ActiveStreams reports every live session, ordered by channel id.
func (m *Manager) ActiveStreams() []types.StreamInfo {
	sessions := m.registry.List()
	infos := make([]types.StreamInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ChannelID < infos[j].ChannelID })
	return infos
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	return m.registry.Len()
}

// Shutdown closes every live session. Used on server stop.
func (m *Manager) Shutdown() {
	for _, s := range m.registry.List() {
		s.destroy("server shutting down")
	}
}

func errorText(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}
