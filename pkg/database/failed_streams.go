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

	"github.com/lucasduport/iptv-gateway/pkg/types"
	"github.com/lucasduport/iptv-gateway/pkg/utils"
)

// RecordFailedStream notes that an upstream URL failed to play for a
// channel. Repeated failures on the same URL bump the counter instead of
// piling up rows.
func (m *DBManager) RecordFailedStream(channelID int64, url, lastError string, lastStatus int) error {
	utils.DebugLog("Database: Recording failed stream - channel: %d, url: %s", channelID, utils.MaskURL(url))
	if m == nil || m.db == nil {
		return fmt.Errorf("database not initialized")
	}

	_, err := m.db.Exec(`
		INSERT INTO failed_streams (channel_id, url, fail_count, last_error, last_status)
		VALUES ($1, $2, 1, $3, $4)
		ON CONFLICT (channel_id, url) DO UPDATE SET
			fail_count = failed_streams.fail_count + 1,
			last_error = EXCLUDED.last_error,
			last_status = EXCLUDED.last_status,
			last_failed_at = CURRENT_TIMESTAMP
	`, channelID, url, lastError, lastStatus)
	if err != nil {
		utils.ErrorLog("Database error recording failed stream: %v", err)
		return err
	}
	return nil
}

// ListFailedStreams returns recent upstream failures, most recent first.
func (m *DBManager) ListFailedStreams(limit int) ([]types.FailedStreamEntry, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := m.db.Query(`
		SELECT id, channel_id, url, fail_count, last_error, last_status, last_failed_at
		FROM failed_streams
		ORDER BY last_failed_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		utils.ErrorLog("Database error listing failed streams: %v", err)
		return nil, err
	}
	defer rows.Close()

	var entries []types.FailedStreamEntry
	for rows.Next() {
		var e types.FailedStreamEntry
		if err := rows.Scan(&e.ID, &e.ChannelID, &e.URL, &e.FailCount, &e.LastError, &e.LastStatus, &e.LastFailedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClearFailedStreams drops failure records for a channel, typically after
// a source refresh replaced its URLs.
func (m *DBManager) ClearFailedStreams(channelID int64) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("database not initialized")
	}
	_, err := m.db.Exec(`DELETE FROM failed_streams WHERE channel_id = $1`, channelID)
	if err != nil {
		utils.ErrorLog("Database error clearing failed streams: %v", err)
	}
	return err
}
