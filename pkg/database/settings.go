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
	"strconv"

	"github.com/lucasduport/iptv-gateway/pkg/utils"
)

// GetSetting returns the value stored for a settings key, or "" when the
// key does not exist.
func (m *DBManager) GetSetting(key string) (string, error) {
	if m == nil || m.db == nil {
		return "", fmt.Errorf("database not initialized")
	}

	var value string
	err := m.db.QueryRow(`SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		utils.ErrorLog("Database error reading setting %s: %v", key, err)
		return "", err
	}
	return value, nil
}

// SetSetting stores a settings value.
func (m *DBManager) SetSetting(key, value string) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("database not initialized")
	}

	_, err := m.db.Exec(`
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	if err != nil {
		utils.ErrorLog("Database error writing setting %s: %v", key, err)
	}
	return err
}

// BufferSeconds returns the pre-buffer length to use for new sessions.
// A settings row wins over the PROXY_BUFFER_SECONDS environment knob,
// which wins over the built-in default of 3 seconds. Negative values are
// clamped to zero, which disables buffering entirely.
func (m *DBManager) BufferSeconds() int {
	seconds := utils.GetEnvIntOrDefault("PROXY_BUFFER_SECONDS", 3)
	if m != nil && m.db != nil {
		if v, err := m.GetSetting("proxy_buffer_seconds"); err == nil && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				seconds = n
			} else {
				utils.WarnLog("Ignoring proxy_buffer_seconds=%q: %v", v, err)
			}
		}
	}
	if seconds < 0 {
		seconds = 0
	}
	return seconds
}
