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

// GetPlaylist returns a playlist by id.
func (m *DBManager) GetPlaylist(id int64) (*types.Playlist, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	p := &types.Playlist{}
	err := m.db.QueryRow(`SELECT id, name, kind FROM playlists WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Kind)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		utils.ErrorLog("Database error looking up playlist %d: %v", id, err)
		return nil, err
	}
	return p, nil
}

// ListPlaylistChannels returns the curated channels of a playlist in
// their configured order.
func (m *DBManager) ListPlaylistChannels(playlistID int64) ([]types.PlaylistChannel, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := m.db.Query(`
		SELECT id, playlist_id, COALESCE(source_id, 0), url, tvg_name, tvg_id, tvg_logo, group_title, sort_order
		FROM playlist_channels
		WHERE playlist_id = $1
		ORDER BY sort_order ASC, id ASC
	`, playlistID)
	if err != nil {
		utils.ErrorLog("Database error listing playlist channels: %v", err)
		return nil, err
	}
	defer rows.Close()

	var channels []types.PlaylistChannel
	for rows.Next() {
		var ch types.PlaylistChannel
		if err := rows.Scan(&ch.ID, &ch.PlaylistID, &ch.SourceID, &ch.URL,
			&ch.TvgName, &ch.TvgID, &ch.TvgLogo, &ch.GroupTitle, &ch.SortOrder); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// ListPlaylistGroups returns the distinct group titles of a playlist,
// ordered by first appearance.
func (m *DBManager) ListPlaylistGroups(playlistID int64) ([]string, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := m.db.Query(`
		SELECT group_title
		FROM playlist_channels
		WHERE playlist_id = $1 AND group_title <> ''
		GROUP BY group_title
		ORDER BY MIN(sort_order) ASC
	`, playlistID)
	if err != nil {
		utils.ErrorLog("Database error listing playlist groups: %v", err)
		return nil, err
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}
