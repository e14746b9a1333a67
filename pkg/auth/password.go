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

// Package auth hashes and verifies user credentials. Hashes are stored
// as "scrypt$<salt>$<digest>" with hex encoded parts. Databases migrated
// from older deployments may still hold plaintext passwords, which are
// accepted until the row is rewritten.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"

	"github.com/lucasduport/iptv-gateway/pkg/utils"
)

const (
	scheme    = "scrypt"
	scryptN   = 16384
	scryptR   = 8
	scryptP   = 1
	saltLen   = 16
	digestLen = 32
)

// HashPassword derives a storable hash from a plaintext password.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", utils.PrintErrorAndReturn(err)
	}
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, digestLen)
	if err != nil {
		return "", utils.PrintErrorAndReturn(err)
	}
	return fmt.Sprintf("%s$%s$%s", scheme, hex.EncodeToString(salt), hex.EncodeToString(key)), nil
}

// VerifyPassword checks a candidate password against a stored hash. A
// stored value without the scrypt prefix is compared as legacy
// plaintext. Both paths use constant time comparison.
func VerifyPassword(stored, candidate string) bool {
	parts := strings.SplitN(stored, "$", 3)
	if len(parts) != 3 || parts[0] != scheme {
		return subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) == 1
	}

	salt, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(parts[2])
	if err != nil || len(want) == 0 {
		return false
	}
	got, err := scrypt.Key([]byte(candidate), salt, scryptN, scryptR, scryptP, len(want))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(got, want) == 1
}

// IsHashed reports whether a stored credential already carries the
// scrypt scheme prefix.
func IsHashed(stored string) bool {
	return strings.HasPrefix(stored, scheme+"$")
}
