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

// LookupPlaylistChannel returns the playlist channel with the given public id.
func (m *DBManager) LookupPlaylistChannel(id int64) (*types.PlaylistChannel, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	ch := &types.PlaylistChannel{}
	err := m.db.QueryRow(`
		SELECT id, playlist_id, COALESCE(source_id, 0), url, tvg_name, tvg_id, tvg_logo, group_title, sort_order
		FROM playlist_channels
		WHERE id = $1
	`, id).Scan(&ch.ID, &ch.PlaylistID, &ch.SourceID, &ch.URL, &ch.TvgName, &ch.TvgID, &ch.TvgLogo, &ch.GroupTitle, &ch.SortOrder)

	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		utils.ErrorLog("Database error looking up playlist channel %d: %v", id, err)
		return nil, err
	}
	return ch, nil
}

// LookupSourceChannelByURL returns the source channel whose upstream URL
// matches exactly.
func (m *DBManager) LookupSourceChannelByURL(url string) (*types.SourceChannel, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	ch := &types.SourceChannel{}
	err := m.db.QueryRow(`
		SELECT id, source_id, url, tvg_name, tvg_logo, group_title, quality, normalized_name
		FROM source_channels
		WHERE url = $1
	`, url).Scan(&ch.ID, &ch.SourceID, &ch.URL, &ch.TvgName, &ch.TvgLogo, &ch.GroupTitle, &ch.Quality, &ch.NormalizedName)

	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		utils.ErrorLog("Database error looking up source channel by URL: %v", err)
		return nil, err
	}
	return ch, nil
}

// ListVariants returns every source channel sharing a normalized name,
// annotated with its source's priority and capacity, ordered best-first:
// source priority ascending, then quality rank ascending.
func (m *DBManager) ListVariants(normalizedName string) ([]types.Variant, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := m.db.Query(`
		SELECT sc.id, sc.source_id, sc.url, sc.tvg_name, sc.quality, s.priority, s.max_streams
		FROM source_channels sc
		JOIN sources s ON s.id = sc.source_id
		WHERE sc.normalized_name = $1
		ORDER BY s.priority ASC,
			CASE sc.quality
				WHEN 'UHD' THEN 1
				WHEN 'FHD' THEN 2
				WHEN 'HD' THEN 3
				WHEN 'SD' THEN 4
				ELSE 5
			END ASC,
			sc.id ASC
	`, normalizedName)
	if err != nil {
		utils.ErrorLog("Database error listing variants for %q: %v", normalizedName, err)
		return nil, err
	}
	defer rows.Close()

	var variants []types.Variant
	for rows.Next() {
		var v types.Variant
		if err := rows.Scan(&v.SourceChannelID, &v.SourceID, &v.URL, &v.TvgName, &v.Quality,
			&v.SourcePriority, &v.SourceMaxStreams); err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}
