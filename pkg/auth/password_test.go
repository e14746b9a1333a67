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

package auth

import (
	"strings"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if !strings.HasPrefix(hash, "scrypt$") {
		t.Fatalf("HashPassword() = %q, want scrypt$ prefix", hash)
	}
	if !VerifyPassword(hash, "s3cret") {
		t.Error("VerifyPassword() rejected the correct password")
	}
	if VerifyPassword(hash, "wrong") {
		t.Error("VerifyPassword() accepted a wrong password")
	}
	if VerifyPassword(hash, "") {
		t.Error("VerifyPassword() accepted an empty password")
	}
}

func TestHashIsSalted(t *testing.T) {
	h1, err := HashPassword("same")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	h2, err := HashPassword("same")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if h1 == h2 {
		t.Error("two hashes of the same password are identical, salt is not applied")
	}
}

func TestVerifyLegacyPlaintext(t *testing.T) {
	tests := []struct {
		name      string
		stored    string
		candidate string
		want      bool
	}{
		{"plaintext match", "oldpassword", "oldpassword", true},
		{"plaintext mismatch", "oldpassword", "other", false},
		{"plaintext with dollar signs", "pa$$word", "pa$$word", true},
		{"empty stored rejects non empty", "", "x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyPassword(tt.stored, tt.candidate); got != tt.want {
				t.Errorf("VerifyPassword(%q, %q) = %v, want %v", tt.stored, tt.candidate, got, tt.want)
			}
		})
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	tests := []struct {
		name   string
		stored string
	}{
		{"bad salt hex", "scrypt$zz$aabb"},
		{"bad digest hex", "scrypt$aabb$zz"},
		{"empty digest", "scrypt$aabb$"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if VerifyPassword(tt.stored, "anything") {
				t.Errorf("VerifyPassword(%q) accepted a malformed hash", tt.stored)
			}
		})
	}
}

func TestIsHashed(t *testing.T) {
	hash, err := HashPassword("x")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if !IsHashed(hash) {
		t.Error("IsHashed() = false for a fresh hash")
	}
	if IsHashed("plaintext") {
		t.Error("IsHashed() = true for plaintext")
	}
}
