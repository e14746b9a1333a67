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
	"sync"

	"github.com/lucasduport/iptv-gateway/pkg/types"
)

// Registry is the process-wide channel id → session map. Sessions are
// installed through it when created and remove themselves on death;
// nothing else mutates it. Capacity admission runs under the same lock as
// insertion so two racing creations cannot oversubscribe a source or a
// user.
type Registry struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[int64]*Session)}
}

// Get returns the live session for a channel, or nil.
func (r *Registry) Get(channelID int64) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[channelID]
}

// GetOrCreate returns the existing session for a channel or installs a new
// one built by factory. factory runs at most once, under the registry
// lock, so concurrent callers either share one session or exactly one of
// them creates it.
func (r *Registry) GetOrCreate(channelID int64, factory func() *Session) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[channelID]; ok {
		return s, false
	}
	s := factory()
	r.sessions[channelID] = s
	return s, true
}

// CreateAdmitted is GetOrCreate with the capacity policy folded in. When
// no session exists for the channel, the variant's source quota and the
// requesting user's connection limit are checked against current registry
// membership before factory runs; a zero limit means unlimited. Joining an
// existing session bypasses both checks since the upstream connection is
// already paid for.
func (r *Registry) CreateAdmitted(channelID int64, v types.Variant, username string, maxConnections int, factory func() *Session) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[channelID]; ok {
		return s, false, nil
	}
	if v.SourceMaxStreams > 0 && r.countBySourceLocked(v.SourceID) >= v.SourceMaxStreams {
		return nil, false, ErrSourceAtCapacity
	}
	if username != "" && maxConnections > 0 && r.countByUserLocked(username) >= maxConnections {
		return nil, false, ErrUserAtCapacity
	}

	s := factory()
	r.sessions[channelID] = s
	return s, true, nil
}

// Remove deletes the entry for a channel only if it still maps to the
// given session, so a dying session cannot evict its replacement.
func (r *Registry) Remove(channelID int64, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[channelID]; ok && cur == s {
		delete(r.sessions, channelID)
	}
}

// List returns a snapshot of all live sessions.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// CountBySource returns how many live sessions draw from one source.
func (r *Registry) CountBySource(sourceID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countBySourceLocked(sourceID)
}

// CountByUser returns how many live sessions were opened by a user.
func (r *Registry) CountByUser(username string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countByUserLocked(username)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) countBySourceLocked(sourceID int64) int {
	n := 0
	for _, s := range r.sessions {
		if s.Variant.SourceID == sourceID {
			n++
		}
	}
	return n
}

func (r *Registry) countByUserLocked(username string) int {
	n := 0
	for _, s := range r.sessions {
		if s.Username == username {
			n++
		}
	}
	return n
}
