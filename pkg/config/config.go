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

package config

import (
	"fmt"
	"net/url"
)

// CredentialString is a string carrying a secret. It never appears in
// logs unmasked.
type CredentialString string

// String returns the raw credential value.
func (s CredentialString) String() string {
	return string(s)
}

// PathEscape returns the credential escaped for use in a URL path segment.
func (s CredentialString) PathEscape() string {
	return url.PathEscape(string(s))
}

// HostConfiguration contains host infos
type HostConfiguration struct {
	Hostname string
	Port     int
}

// GatewayConfig holds the runtime configuration of the gateway.
type GatewayConfig struct {
	HostConfig     *HostConfiguration
	AdvertisedPort int
	HTTPS          bool

	// Fallback local account, used when the database has no users yet.
	User     CredentialString
	Password CredentialString

	// Name of the playlist file advertised to players.
	PlaylistFileName string

	// Interval between automatic source imports, in hours. Zero disables
	// the refresh loop.
	RefreshIntervalHours int

	// LDAP configuration
	LDAPEnabled        bool
	LDAPServer         string
	LDAPBaseDN         string
	LDAPBindDN         string
	LDAPBindPassword   string
	LDAPUserAttribute  string
	LDAPGroupAttribute string
	LDAPRequiredGroup  string

	// Discord notifications
	DiscordToken         string
	DiscordStatusChannel string
}

// BaseURL returns the externally reachable base URL of the gateway, as
// used in generated playlists and API answers.
func (c *GatewayConfig) BaseURL() string {
	scheme := "http"
	if c.HTTPS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.HostConfig.Hostname, c.AdvertisedPort)
}
