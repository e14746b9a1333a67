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

package types

import (
	"errors"
	"time"
)

// ErrNotFound is returned by catalog lookups when no row matches.
var ErrNotFound = errors.New("not found")

// Source is an upstream IPTV provider account.
type Source struct {
	ID           int64
	Name         string
	Kind         string // "m3u" or "xtream"
	URL          string // M3U URL or Xtream base URL
	Username     string
	Password     string
	Priority     int    // lower is preferred
	MaxStreams   int    // 0 means unlimited
	CleanupRules string // JSON array of normalize.Rule
}

// SourceChannel is one channel as imported from a source.
type SourceChannel struct {
	ID             int64
	SourceID       int64
	URL            string
	TvgName        string
	TvgLogo        string
	GroupTitle     string
	Quality        string // "UHD", "FHD", "HD", "SD" or ""
	NormalizedName string // dedup key, empty disables dedup for this channel
}

// Playlist is a curated set of channels exposed to users.
type Playlist struct {
	ID   int64
	Name string
	Kind string // "live" or "vod"
}

// PlaylistChannel is a channel entry in a curated playlist. Its ID is the
// public channel identifier used in stream URLs.
type PlaylistChannel struct {
	ID         int64
	PlaylistID int64
	SourceID   int64
	URL        string
	TvgName    string
	TvgID      string
	TvgLogo    string
	GroupTitle string
	SortOrder  int
}

// User is an account allowed to play streams through the gateway.
type User struct {
	ID             int64
	Username       string
	PasswordHash   string
	LivePlaylistID int64
	VODPlaylistID  int64
	MaxConnections int // 0 means unlimited
	ExpiresAt      *time.Time
	Active         bool
}

// Expired reports whether the account is past its expiry date.
func (u *User) Expired(now time.Time) bool {
	return u.ExpiresAt != nil && now.After(*u.ExpiresAt)
}

// Variant is one playable upstream URL for a channel, annotated by the
// resolver with the owning source's policy fields.
type Variant struct {
	SourceChannelID  int64
	SourceID         int64
	URL              string
	TvgName          string
	Quality          string
	SourcePriority   int
	SourceMaxStreams int
}

// QualityRank orders quality labels best-first for variant sorting.
// Unknown labels sort last.
func QualityRank(quality string) int {
	switch quality {
	case "UHD":
		return 1
	case "FHD":
		return 2
	case "HD":
		return 3
	case "SD":
		return 4
	default:
		return 5
	}
}

// StreamInfo is the public view of one active session, as returned by the
// streams API.
type StreamInfo struct {
	ChannelID   int64     `json:"channelId"`
	ChannelName string    `json:"channelName"`
	SourceID    int64     `json:"sourceId"`
	Username    string    `json:"username,omitempty"`
	Clients     int       `json:"clients"`
	StartedAt   time.Time `json:"startedAt"`
	BytesIn     int64     `json:"bytesIn"`
	BytesOut    int64     `json:"bytesOut"`
	Bitrate     int64     `json:"bitrate"`
	Reconnects  int       `json:"reconnects"`
	UpstreamURL string    `json:"upstreamUrl"`
}

// StreamHistoryEntry is a finished viewing session.
type StreamHistoryEntry struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	ChannelID int64     `json:"channelId"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
	DurationS int64     `json:"durationS"`
}

// FailedStreamEntry records an upstream URL that failed to play.
type FailedStreamEntry struct {
	ID           int64     `json:"id"`
	ChannelID    int64     `json:"channelId"`
	URL          string    `json:"url"`
	FailCount    int       `json:"failCount"`
	LastError    string    `json:"lastError"`
	LastStatus   int       `json:"lastStatus"`
	LastFailedAt time.Time `json:"lastFailedAt"`
}

// APIResponse is a standardized API response structure
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}
