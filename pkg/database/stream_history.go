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
	"time"

	"github.com/lucasduport/iptv-gateway/pkg/types"
	"github.com/lucasduport/iptv-gateway/pkg/utils"
)

// AddStreamHistory records a finished viewing session. Sessions are
// written in one shot at teardown, after the end time is known.
func (m *DBManager) AddStreamHistory(username string, channelID int64, startedAt, endedAt time.Time) (int64, error) {
	utils.DebugLog("Database: Recording stream history - user: %s, channel: %d", username, channelID)
	if m == nil || m.db == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	duration := int64(endedAt.Sub(startedAt).Seconds())
	if duration < 0 {
		duration = 0
	}

	var id int64
	err := m.db.QueryRow(`
		INSERT INTO stream_history (username, channel_id, started_at, ended_at, duration_s)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, username, channelID, startedAt, endedAt, duration).Scan(&id)
	if err != nil {
		utils.ErrorLog("Database error adding stream history: %v", err)
		return 0, err
	}
	return id, nil
}

// ListStreamHistory returns the most recent viewing sessions, newest first.
func (m *DBManager) ListStreamHistory(limit int) ([]types.StreamHistoryEntry, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := m.db.Query(`
		SELECT id, username, channel_id, started_at, ended_at, duration_s
		FROM stream_history
		ORDER BY ended_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		utils.ErrorLog("Database error listing stream history: %v", err)
		return nil, err
	}
	defer rows.Close()

	var entries []types.StreamHistoryEntry
	for rows.Next() {
		var e types.StreamHistoryEntry
		if err := rows.Scan(&e.ID, &e.Username, &e.ChannelID, &e.StartedAt, &e.EndedAt, &e.DurationS); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetStreamHistoryStats gets statistics about stream usage
func (m *DBManager) GetStreamHistoryStats() (map[string]interface{}, error) {
	utils.DebugLog("Database: Getting stream history statistics")
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	stats := make(map[string]interface{})
	var totalStreams int
	if err := m.db.QueryRow("SELECT COUNT(*) FROM stream_history").Scan(&totalStreams); err != nil {
		utils.ErrorLog("Database error counting streams: %v", err)
		return nil, err
	}
	stats["total_streams"] = totalStreams

	var activeUsers int
	if err := m.db.QueryRow(`
		SELECT COUNT(DISTINCT username) FROM stream_history WHERE started_at > $1
	`, time.Now().Add(-24*time.Hour)).Scan(&activeUsers); err != nil {
		utils.ErrorLog("Database error counting active users: %v", err)
		return nil, err
	}
	stats["active_users_24h"] = activeUsers

	return stats, nil
}
