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

package database

import (
	"fmt"

	"github.com/lucasduport/iptv-gateway/pkg/utils"
)

// schemaStatements are applied in order on startup. Every statement is
// idempotent so existing deployments just pass through.
var schemaStatements = []struct {
	name string
	ddl  string
}{
	{"sources", `
		CREATE TABLE IF NOT EXISTS sources (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'm3u',
			url TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL DEFAULT '',
			password TEXT NOT NULL DEFAULT '',
			priority INTEGER NOT NULL DEFAULT 999,
			max_streams INTEGER NOT NULL DEFAULT 0,
			cleanup_rules TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`},
	{"source_channels", `
		CREATE TABLE IF NOT EXISTS source_channels (
			id SERIAL PRIMARY KEY,
			source_id INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
			url TEXT NOT NULL UNIQUE,
			tvg_name TEXT NOT NULL DEFAULT '',
			tvg_logo TEXT NOT NULL DEFAULT '',
			group_title TEXT NOT NULL DEFAULT '',
			quality TEXT NOT NULL DEFAULT '',
			normalized_name TEXT NOT NULL DEFAULT '',
			last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`},
	{"source_channels index", `
		CREATE INDEX IF NOT EXISTS idx_source_channels_normalized
			ON source_channels (normalized_name)
	`},
	{"playlists", `
		CREATE TABLE IF NOT EXISTS playlists (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'live'
		)
	`},
	{"playlist_channels", `
		CREATE TABLE IF NOT EXISTS playlist_channels (
			id SERIAL PRIMARY KEY,
			playlist_id INTEGER NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
			source_id INTEGER,
			url TEXT NOT NULL,
			tvg_name TEXT NOT NULL DEFAULT '',
			tvg_id TEXT NOT NULL DEFAULT '',
			tvg_logo TEXT NOT NULL DEFAULT '',
			group_title TEXT NOT NULL DEFAULT '',
			sort_order INTEGER NOT NULL DEFAULT 0
		)
	`},
	{"users", `
		CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			live_playlist_id INTEGER,
			vod_playlist_id INTEGER,
			max_connections INTEGER NOT NULL DEFAULT 0,
			expires_at TIMESTAMP,
			active BOOLEAN NOT NULL DEFAULT TRUE
		)
	`},
	{"stream_history", `
		CREATE TABLE IF NOT EXISTS stream_history (
			id SERIAL PRIMARY KEY,
			username TEXT NOT NULL,
			channel_id INTEGER NOT NULL,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP NOT NULL,
			duration_s INTEGER NOT NULL
		)
	`},
	{"failed_streams", `
		CREATE TABLE IF NOT EXISTS failed_streams (
			id SERIAL PRIMARY KEY,
			channel_id INTEGER NOT NULL,
			url TEXT NOT NULL,
			fail_count INTEGER NOT NULL DEFAULT 1,
			last_error TEXT NOT NULL DEFAULT '',
			last_status INTEGER NOT NULL DEFAULT 0,
			last_failed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (channel_id, url)
		)
	`},
	{"settings", `
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`},
}

// initSchema creates database tables if they don't exist
func (m *DBManager) initSchema() error {
	utils.InfoLog("Initializing database schema")

	if m == nil || m.db == nil {
		return fmt.Errorf("database not initialized")
	}

	for _, stmt := range schemaStatements {
		if _, err := m.db.Exec(stmt.ddl); err != nil {
			utils.ErrorLog("Failed to create %s: %v", stmt.name, err)
			return fmt.Errorf("failed to create %s: %w", stmt.name, err)
		}
	}

	var count int
	err := m.db.QueryRow(`SELECT count(*)
		FROM information_schema.tables
		WHERE table_name IN ('sources', 'source_channels', 'playlists',
			'playlist_channels', 'users', 'stream_history', 'failed_streams', 'settings')`).Scan(&count)
	if err != nil {
		utils.WarnLog("Failed to verify tables were created: %v", err)
	} else {
		utils.InfoLog("Database verification: %d of 8 required tables exist", count)
	}
	return nil
}
