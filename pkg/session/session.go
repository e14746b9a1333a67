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
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lucasduport/iptv-gateway/pkg/metrics"
	"github.com/lucasduport/iptv-gateway/pkg/types"
	"github.com/lucasduport/iptv-gateway/pkg/utils"
)

// State tracks where a session is in its lifecycle.
type State int

const (
	StateStarting State = iota
	StateFillingPreBuffer
	StateLive
	StateReconnecting
	StateDead
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateFillingPreBuffer:
		return "filling-pre-buffer"
	case StateLive:
		return "live"
	case StateReconnecting:
		return "reconnecting"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// subscriberQueueLen bounds each client's pending chunk queue. A client
// that falls this far behind the live edge is evicted rather than allowed
// to hold back the pump.
const subscriberQueueLen = 256

// readChunkSize is the upstream read unit; larger chunks reduce per-write
// overhead on the fan-out path.
const readChunkSize = 128 * 1024

// Conn is one downstream client's attachment to a session. Initial holds
// the rolling-buffer bridge for clients joining a live session and is nil
// for everyone attached before the pre-buffer flush. Chunks delivers the
// live stream and is closed when the client is detached or the session
// dies.
type Conn struct {
	Initial []byte

	session *Session
	ch      chan []byte
}

func (c *Conn) Chunks() <-chan []byte { return c.ch }

// Close detaches the client from its session. Safe to call more than once
// and after the session has died.
func (c *Conn) Close() {
	c.session.detach(c)
}

// Session owns one upstream connection for one logical channel and fans
// the bytes out to every attached client. Mutable state is guarded by mu;
// the plain counters are atomics so the streams API can read them without
// contending with the pump.
type Session struct {
	ChannelID   int64
	ChannelName string
	Username    string // user that opened the session, "" when anonymous
	Variant     types.Variant
	VOD         bool
	StartedAt   time.Time

	manager       *Manager
	ctx           context.Context
	cancel        context.CancelFunc
	bufferSeconds int

	mu          sync.Mutex
	state       State
	subscribers map[*Conn]struct{}
	pre         *preBuffer
	rolling     *rollingBuffer
	flushed     bool
	liveAt      time.Time
	graceTimer  *time.Timer
	lastRateAt  time.Time
	lastBytesIn int64

	startOnce   sync.Once
	startCh     chan error
	destroyOnce sync.Once

	bytesIn    int64
	bytesOut   int64
	bitrate    int64
	reconnects int64
}

func newSession(m *Manager, pc *types.PlaylistChannel, v types.Variant, username string, vod bool, bufferSeconds int) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ChannelID:     pc.ID,
		ChannelName:   pc.TvgName,
		Username:      username,
		Variant:       v,
		VOD:           vod,
		StartedAt:     time.Now(),
		manager:       m,
		ctx:           ctx,
		cancel:        cancel,
		bufferSeconds: bufferSeconds,
		state:         StateStarting,
		subscribers:   make(map[*Conn]struct{}),
		rolling:       newRollingBuffer(bufferSeconds),
		startCh:       make(chan error, 1),
	}
	if bufferSeconds > 0 {
		s.pre = newPreBuffer()
	} else {
		// Buffering disabled: chunks go straight to clients.
		s.flushed = true
	}
	metrics.ActiveSessions.Inc()
	return s
}

// start launches the pump and blocks until the first client-visible
// payload is ready: the pre-buffer flush, or the first chunk when
// buffering is off. A failure before that point has left no trace on any
// client, so the caller is free to try another variant.
func (s *Session) start(ctx context.Context) error {
	metrics.SessionsStarted.Inc()
	s.lastRateAt = time.Now()
	go s.pump()

	timer := time.NewTimer(s.manager.startTimeout)
	defer timer.Stop()
	select {
	case err := <-s.startCh:
		return err
	case <-timer.C:
		s.destroy("start timeout")
		return fmt.Errorf("no data from upstream within %s", s.manager.startTimeout)
	case <-ctx.Done():
		s.destroy("client disconnected during start")
		return ctx.Err()
	}
}

// Attach subscribes a downstream client. Clients joining a live session
// get the rolling-buffer bridge in Conn.Initial; the creating client and
// pre-flush joiners receive everything through the chunk channel,
// starting with the flush burst.
func (s *Session) Attach() (*Conn, error) {
	s.mu.Lock()
	if s.state == StateDead {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	conn := &Conn{session: s, ch: make(chan []byte, subscriberQueueLen)}
	if s.flushed && s.rolling != nil {
		conn.Initial = s.rolling.snapshot()
	}
	s.subscribers[conn] = struct{}{}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	n := len(s.subscribers)
	s.mu.Unlock()

	metrics.AttachedClients.Inc()
	utils.DebugLog("Client attached to channel %d (%d now attached)", s.ChannelID, n)
	return conn, nil
}

func (s *Session) detach(conn *Conn) {
	s.mu.Lock()
	if _, ok := s.subscribers[conn]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.subscribers, conn)
	close(conn.ch)
	n := len(s.subscribers)
	empty := n == 0 && s.state != StateDead
	s.mu.Unlock()

	metrics.AttachedClients.Dec()
	utils.DebugLog("Client detached from channel %d (%d remain)", s.ChannelID, n)
	if empty {
		s.scheduleIdleStop()
	}
}

// scheduleIdleStop runs when the subscriber set empties. Live channels
// shut down at once; VOD sessions get a short grace window so a player
// re-issuing its request does not lose the upstream connection.
func (s *Session) scheduleIdleStop() {
	if !s.VOD {
		s.destroy("no clients")
		return
	}
	s.mu.Lock()
	if s.state != StateDead && s.graceTimer == nil {
		s.graceTimer = time.AfterFunc(s.manager.vodGrace, func() {
			s.mu.Lock()
			idle := len(s.subscribers) == 0 && s.state != StateDead
			s.mu.Unlock()
			if idle {
				s.destroy("no clients")
			}
		})
	}
	s.mu.Unlock()
}

// pump drives the upstream connection for the life of the session: fetch,
// buffer, broadcast, reconnect, tear down. Exactly one pump goroutine runs
// per session.
func (s *Session) pump() {
	utils.DebugLog("Pump starting for channel %d (%s) via %s",
		s.ChannelID, s.ChannelName, utils.MaskURL(s.Variant.URL))

	first := true
	for {
		err := s.fetchOnce(first)
		if s.ctx.Err() != nil {
			s.destroy("session aborted")
			return
		}

		if !s.delivered() {
			// Nothing reached a client yet: give the variant back to the
			// attach path instead of reconnecting.
			if err == nil {
				err = errors.New("upstream ended before any data")
			}
			s.recordFailure(err)
			s.failStart(err)
			return
		}

		if err != nil {
			s.recordFailure(err)
		} else {
			err = errors.New("upstream closed the stream")
		}

		if s.subscriberCount() == 0 {
			s.destroy("no clients")
			return
		}
		done := int(atomic.LoadInt64(&s.reconnects))
		if done >= s.manager.maxReconnects {
			utils.WarnLog("Channel %d (%s) exhausted %d reconnect attempts, closing",
				s.ChannelID, s.ChannelName, done)
			if s.manager.notifier != nil {
				s.manager.notifier.ReconnectsExhausted(s.ChannelName, s.ChannelID, done)
			}
			s.destroy("max reconnects exceeded")
			return
		}

		atomic.AddInt64(&s.reconnects, 1)
		metrics.Reconnects.Inc()
		s.setState(StateReconnecting)
		utils.InfoLog("Reconnecting channel %d in %s (attempt %d/%d): %v",
			s.ChannelID, s.manager.reconnectDelay, done+1, s.manager.maxReconnects, err)

		select {
		case <-time.After(s.manager.reconnectDelay):
		case <-s.ctx.Done():
			s.destroy("session aborted")
			return
		}
		first = false
	}
}

// fetchOnce runs one upstream request to completion: connect, then read
// until the body ends, an error occurs, the stall watchdog fires, or the
// session is cancelled. Returns nil on a clean upstream EOF.
func (s *Session) fetchOnce(first bool) error {
	fetchCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, s.Variant.URL, nil)
	if err != nil {
		return &upstreamError{err: fmt.Errorf("invalid upstream url: %w", err)}
	}
	req.Header.Set("User-Agent", utils.GetIPTVUserAgent())
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Connection", "keep-alive")

	resp, err := s.manager.client.Do(req)
	if err != nil {
		return &upstreamError{err: fmt.Errorf("upstream unreachable: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &upstreamError{
			err:    fmt.Errorf("upstream returned status %d", resp.StatusCode),
			status: resp.StatusCode,
		}
	}

	if first {
		s.setState(StateFillingPreBuffer)
	} else {
		// Reconnected: bytes flow straight to clients, the pre-buffer is
		// never refilled.
		s.setState(StateLive)
	}

	var stalled atomic.Bool
	watchdog := time.AfterFunc(s.manager.stallTimeout, func() {
		stalled.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	buf := make([]byte, readChunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			watchdog.Reset(s.manager.stallTimeout)
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.ingest(chunk)
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			if stalled.Load() {
				return ErrUpstreamStalled
			}
			if s.ctx.Err() != nil {
				return s.ctx.Err()
			}
			return &upstreamError{err: rerr}
		}
	}
}

// ingest meters one upstream chunk and routes it into the pre-buffer or
// straight to the attached clients.
func (s *Session) ingest(chunk []byte) {
	now := time.Now()
	in := atomic.AddInt64(&s.bytesIn, int64(len(chunk)))
	metrics.UpstreamBytes.Add(float64(len(chunk)))

	s.mu.Lock()
	// Once per second, refresh the rolling bitrate estimate.
	if elapsed := now.Sub(s.lastRateAt); elapsed >= time.Second {
		atomic.StoreInt64(&s.bitrate, int64(float64(in-s.lastBytesIn)/elapsed.Seconds()))
		s.lastBytesIn = in
		s.lastRateAt = now
	}

	emitted := false
	if !s.flushed {
		s.pre.push(chunk, now)
		if s.pre.ready(s.flushWindow(), now) {
			burst := s.pre.flush()
			s.flushed = true
			s.pre = nil
			utils.DebugLog("Pre-buffer flushed for channel %d: %d bytes to %d client(s)",
				s.ChannelID, len(burst), len(s.subscribers))
			s.deliverLocked(burst)
			emitted = true
		}
	} else {
		s.deliverLocked(chunk)
		emitted = true
	}
	empty := emitted && len(s.subscribers) == 0 && s.state != StateDead
	s.mu.Unlock()

	if empty {
		s.scheduleIdleStop()
	}
}

// deliverLocked broadcasts one chunk event to every subscriber and feeds
// the rolling buffer. Subscribers whose queue is full are evicted so a
// stuck client cannot hold back the rest. Caller holds mu.
func (s *Session) deliverLocked(chunk []byte) {
	if s.state != StateLive {
		s.state = StateLive
		if s.liveAt.IsZero() {
			s.liveAt = time.Now()
			utils.InfoLog("Channel %d (%s) is live", s.ChannelID, s.ChannelName)
		}
	}
	if s.rolling != nil {
		s.rolling.append(chunk)
	}

	var evicted []*Conn
	for conn := range s.subscribers {
		select {
		case conn.ch <- chunk:
			atomic.AddInt64(&s.bytesOut, int64(len(chunk)))
			metrics.DeliveredBytes.Add(float64(len(chunk)))
		default:
			evicted = append(evicted, conn)
		}
	}
	for _, conn := range evicted {
		delete(s.subscribers, conn)
		close(conn.ch)
		metrics.AttachedClients.Dec()
		metrics.ClientOverflows.Inc()
		utils.WarnLog("Evicted client too slow for channel %d", s.ChannelID)
	}

	s.signalStart(nil)
}

// failStart tears down a session that never delivered a byte. The start
// waiter receives the fetch error so the attach path can move on to the
// next variant.
func (s *Session) failStart(err error) {
	s.signalStart(err)
	s.destroy("no data from upstream")
}

func (s *Session) signalStart(err error) {
	s.startOnce.Do(func() { s.startCh <- err })
}

func (s *Session) recordFailure(err error) {
	status := 0
	var ue *upstreamError
	if errors.As(err, &ue) {
		status = ue.status
	}
	if dbErr := s.manager.store.RecordFailedStream(s.ChannelID, s.Variant.URL, err.Error(), status); dbErr != nil {
		utils.WarnLog("Could not record failed stream for channel %d: %v", s.ChannelID, dbErr)
	}
}

// destroy is the single teardown path and is idempotent: the first caller
// wins. It cancels the upstream fetch, closes every subscriber, removes
// the session from the registry and writes the stream history record.
func (s *Session) destroy(reason string) {
	s.destroyOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		s.state = StateDead
		if s.graceTimer != nil {
			s.graceTimer.Stop()
			s.graceTimer = nil
		}
		subs := s.subscribers
		s.subscribers = make(map[*Conn]struct{})
		wasLive := !s.liveAt.IsZero()
		s.mu.Unlock()

		for conn := range subs {
			close(conn.ch)
		}
		if len(subs) > 0 {
			metrics.AttachedClients.Sub(float64(len(subs)))
		}

		s.manager.registry.Remove(s.ChannelID, s)
		s.signalStart(ErrSessionClosed)

		metrics.ActiveSessions.Dec()
		metrics.SessionsEnded.WithLabelValues(reason).Inc()

		if s.Username != "" && wasLive {
			if _, err := s.manager.store.AddStreamHistory(s.Username, s.ChannelID, s.StartedAt, time.Now()); err != nil {
				utils.WarnLog("Could not write stream history for %s: %v", s.Username, err)
			}
		}

		utils.InfoLog("Session closed for channel %d (%s): %s, in=%d out=%d reconnects=%d",
			s.ChannelID, s.ChannelName, reason,
			atomic.LoadInt64(&s.bytesIn), atomic.LoadInt64(&s.bytesOut),
			atomic.LoadInt64(&s.reconnects))
	})
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info snapshots the session for the streams API.
func (s *Session) Info() types.StreamInfo {
	s.mu.Lock()
	clients := len(s.subscribers)
	s.mu.Unlock()

	return types.StreamInfo{
		ChannelID:   s.ChannelID,
		ChannelName: s.ChannelName,
		SourceID:    s.Variant.SourceID,
		Username:    s.Username,
		Clients:     clients,
		StartedAt:   s.StartedAt,
		BytesIn:     atomic.LoadInt64(&s.bytesIn),
		BytesOut:    atomic.LoadInt64(&s.bytesOut),
		Bitrate:     atomic.LoadInt64(&s.bitrate),
		Reconnects:  int(atomic.LoadInt64(&s.reconnects)),
		UpstreamURL: s.Variant.URL,
	}
}

func (s *Session) delivered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.liveAt.IsZero()
}

func (s *Session) subscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

func (s *Session) flushWindow() time.Duration {
	return time.Duration(s.bufferSeconds) * 500 * time.Millisecond
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state != StateDead {
		s.state = st
	}
	s.mu.Unlock()
}
