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
	"database/sql"
	"fmt"

	"github.com/lucasduport/iptv-gateway/pkg/types"
	"github.com/lucasduport/iptv-gateway/pkg/utils"
)

// GetUserByUsername returns the user row for a username.
func (m *DBManager) GetUserByUsername(username string) (*types.User, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	u := &types.User{}
	var expires sql.NullTime
	err := m.db.QueryRow(`
		SELECT id, username, password_hash, COALESCE(live_playlist_id, 0), COALESCE(vod_playlist_id, 0),
			max_connections, expires_at, active
		FROM users
		WHERE username = $1
	`, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.LivePlaylistID, &u.VODPlaylistID,
		&u.MaxConnections, &expires, &u.Active)

	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		utils.ErrorLog("Database error looking up user %s: %v", username, err)
		return nil, err
	}
	if expires.Valid {
		t := expires.Time
		u.ExpiresAt = &t
	}
	return u, nil
}

// UpsertUser creates or updates a user account. The password hash must
// already be derived by the caller.
func (m *DBManager) UpsertUser(u *types.User) (int64, error) {
	if m == nil || m.db == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var livePlaylist, vodPlaylist interface{}
	if u.LivePlaylistID != 0 {
		livePlaylist = u.LivePlaylistID
	}
	if u.VODPlaylistID != 0 {
		vodPlaylist = u.VODPlaylistID
	}

	var id int64
	err := m.db.QueryRow(`
		INSERT INTO users (username, password_hash, live_playlist_id, vod_playlist_id, max_connections, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (username) DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			live_playlist_id = EXCLUDED.live_playlist_id,
			vod_playlist_id = EXCLUDED.vod_playlist_id,
			max_connections = EXCLUDED.max_connections,
			expires_at = EXCLUDED.expires_at,
			active = EXCLUDED.active
		RETURNING id
	`, u.Username, u.PasswordHash, livePlaylist, vodPlaylist, u.MaxConnections, u.ExpiresAt, u.Active).Scan(&id)
	if err != nil {
		utils.ErrorLog("Database error upserting user %s: %v", u.Username, err)
		return 0, err
	}
	utils.InfoLog("Upserted user %s (id=%d)", u.Username, id)
	return id, nil
}

// ListUsers returns all user accounts, without password hashes.
func (m *DBManager) ListUsers() ([]types.User, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := m.db.Query(`
		SELECT id, username, COALESCE(live_playlist_id, 0), COALESCE(vod_playlist_id, 0),
			max_connections, expires_at, active
		FROM users
		ORDER BY username ASC
	`)
	if err != nil {
		utils.ErrorLog("Database error listing users: %v", err)
		return nil, err
	}
	defer rows.Close()

	var users []types.User
	for rows.Next() {
		var u types.User
		var expires sql.NullTime
		if err := rows.Scan(&u.ID, &u.Username, &u.LivePlaylistID, &u.VODPlaylistID,
			&u.MaxConnections, &expires, &u.Active); err != nil {
			return nil, err
		}
		if expires.Valid {
			t := expires.Time
			u.ExpiresAt = &t
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
