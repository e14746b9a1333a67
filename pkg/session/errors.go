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

import "errors"

var (
	// ErrChannelNotFound means the requested channel id is not in the catalog.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrUserAtCapacity means the user already holds max_connections sessions
	// and the request would have created a new one.
	ErrUserAtCapacity = errors.New("user connection limit reached")

	// ErrSourceAtCapacity means the variant's source has no free upstream slot.
	ErrSourceAtCapacity = errors.New("source at capacity")

	// ErrAllVariantsFailed means every candidate upstream was tried and none
	// produced a byte.
	ErrAllVariantsFailed = errors.New("all sources failed")

	// ErrSessionClosed means the session died between lookup and attach.
	ErrSessionClosed = errors.New("session closed")

	// ErrUpstreamStalled is the pump's reason when the watchdog fires.
	ErrUpstreamStalled = errors.New("upstream stalled")
)

// upstreamError records why one fetch attempt failed, keeping the HTTP
// status when there was one so failures can be persisted with it.
type upstreamError struct {
	err    error
	status int
}

func (e *upstreamError) Error() string { return e.err.Error() }
func (e *upstreamError) Unwrap() error { return e.err }
