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
	"time"

	"github.com/lucasduport/iptv-gateway/pkg/types"
	"github.com/lucasduport/iptv-gateway/pkg/utils"
)

// ListSources returns all configured sources ordered by priority.
func (m *DBManager) ListSources() ([]types.Source, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := m.db.Query(`
		SELECT id, name, kind, url, username, password, priority, max_streams, cleanup_rules
		FROM sources
		ORDER BY priority ASC, id ASC
	`)
	if err != nil {
		utils.ErrorLog("Database error listing sources: %v", err)
		return nil, err
	}
	defer rows.Close()

	var sources []types.Source
	for rows.Next() {
		var s types.Source
		if err := rows.Scan(&s.ID, &s.Name, &s.Kind, &s.URL, &s.Username, &s.Password,
			&s.Priority, &s.MaxStreams, &s.CleanupRules); err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// GetSource returns a single source by id.
func (m *DBManager) GetSource(id int64) (*types.Source, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	s := &types.Source{}
	err := m.db.QueryRow(`
		SELECT id, name, kind, url, username, password, priority, max_streams, cleanup_rules
		FROM sources
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.Kind, &s.URL, &s.Username, &s.Password,
		&s.Priority, &s.MaxStreams, &s.CleanupRules)

	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		utils.ErrorLog("Database error looking up source %d: %v", id, err)
		return nil, err
	}
	return s, nil
}

// UpsertSourceChannel inserts or refreshes one imported channel, keyed by
// its upstream URL. last_seen is bumped so stale rows can be pruned after
// a full refresh.
func (m *DBManager) UpsertSourceChannel(ch *types.SourceChannel) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("database not initialized")
	}

	_, err := m.db.Exec(`
		INSERT INTO source_channels (source_id, url, tvg_name, tvg_logo, group_title, quality, normalized_name, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP)
		ON CONFLICT (url) DO UPDATE SET
			source_id = EXCLUDED.source_id,
			tvg_name = EXCLUDED.tvg_name,
			tvg_logo = EXCLUDED.tvg_logo,
			group_title = EXCLUDED.group_title,
			quality = EXCLUDED.quality,
			normalized_name = EXCLUDED.normalized_name,
			last_seen = CURRENT_TIMESTAMP
	`, ch.SourceID, ch.URL, ch.TvgName, ch.TvgLogo, ch.GroupTitle, ch.Quality, ch.NormalizedName)
	if err != nil {
		utils.ErrorLog("Database error upserting source channel %s: %v", ch.TvgName, err)
	}
	return err
}

// PruneSourceChannels removes channels of a source not seen since the
// given import start time and returns how many were dropped.
func (m *DBManager) PruneSourceChannels(sourceID int64, importStart time.Time) (int64, error) {
	if m == nil || m.db == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	result, err := m.db.Exec(`
		DELETE FROM source_channels
		WHERE source_id = $1 AND last_seen < $2
	`, sourceID, importStart)
	if err != nil {
		utils.ErrorLog("Database error pruning source channels: %v", err)
		return 0, err
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		utils.InfoLog("Pruned %d vanished channels from source %d", rows, sourceID)
	}
	return rows, nil
}

// CountSourceChannels returns the number of channels held for a source.
func (m *DBManager) CountSourceChannels(sourceID int64) (int, error) {
	if m == nil || m.db == nil {
		return 0, fmt.Errorf("database not initialized")
	}
	var count int
	err := m.db.QueryRow(`SELECT COUNT(*) FROM source_channels WHERE source_id = $1`, sourceID).Scan(&count)
	return count, err
}

// SyncPlaylistChannelURLs repoints playlist entries at the fresh upstream
// URLs after an import. Matching is by source and tvg name, so a provider
// rotating its stream tokens does not orphan curated channels.
func (m *DBManager) SyncPlaylistChannelURLs(sourceID int64) (int64, error) {
	if m == nil || m.db == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	result, err := m.db.Exec(`
		UPDATE playlist_channels pc
		SET url = sc.url
		FROM source_channels sc
		WHERE pc.source_id = $1
		  AND sc.source_id = pc.source_id
		  AND sc.tvg_name = pc.tvg_name
		  AND sc.url <> pc.url
	`, sourceID)
	if err != nil {
		utils.ErrorLog("Database error syncing playlist channel URLs: %v", err)
		return 0, err
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		utils.InfoLog("Updated %d playlist channel URLs for source %d", rows, sourceID)
	}
	return rows, nil
}
