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

package utils

import "os"

// DefaultStreamUserAgent is presented to upstream providers on every
// stream fetch. Some providers reject unknown players, so the value is
// overridable through USER_AGENT.
const DefaultStreamUserAgent = "Mozilla/5.0 (compatible; M3UManager/1.0)"

// GetIPTVUserAgent returns the user agent to use for IPTV upstream requests.
func GetIPTVUserAgent() string {
	if ua := os.Getenv("USER_AGENT"); ua != "" {
		return ua
	}
	return DefaultStreamUserAgent
}
