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

package normalize

import "testing"

func TestKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain name", "BBC One", "bbcone"},
		{"hd suffix stripped", "ESPN HD", "espn"},
		{"fhd suffix stripped", "ESPN FHD", "espn"},
		{"uhd suffix stripped", "beIN Sports 1 UHD", "beinsports1"},
		{"4k suffix stripped", "beIN Sports 1 4K", "beinsports1"},
		{"codec tokens stripped", "H.265 Sports", "sports"},
		{"hevc stripped", "Cinema HEVC", "cinema"},
		{"punctuation dropped", "US| CNN (Backup)", "uscnnbackup"},
		{"digits kept", "24/7 Movies", "247movies"},
		{"empty name", "", ""},
		{"symbols only", "***", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key(tt.in); got != tt.want {
				t.Errorf("Key(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestKeyMergesQualityVariants(t *testing.T) {
	variants := []string{"ESPN", "ESPN HD", "ESPN FHD", "espn uhd", "ESPN 4K"}
	want := Key(variants[0])
	for _, v := range variants {
		if got := Key(v); got != want {
			t.Errorf("Key(%q) = %q, want %q", v, got, want)
		}
	}
}

func TestKeyIdempotent(t *testing.T) {
	for _, name := range []string{
		"BBC One", "ESPN HD", "US| CNN (Backup)", "24/7 Movies", "H.265 Sports",
	} {
		once := Key(name)
		if twice := Key(once); twice != once {
			t.Errorf("Key(Key(%q)) = %q, want %q", name, twice, once)
		}
	}
}

func TestExtractQuality(t *testing.T) {
	tests := []struct {
		name        string
		in          string
		wantLabel   string
		wantCleaned string
	}{
		{"no marker", "BBC One", "", "BBC One"},
		{"hd marker", "ESPN HD", "HD", "ESPN"},
		{"720p marker", "ESPN 720p", "HD", "ESPN"},
		{"1080p is fhd", "Discovery 1080p", "FHD", "Discovery"},
		{"fhd prefix", "FHD ESPN", "FHD", "ESPN"},
		{"4k is uhd", "Nat Geo 4K", "UHD", "Nat Geo"},
		{"2160p is uhd", "Nat Geo 2160p", "UHD", "Nat Geo"},
		{"sd marker", "TV5 SD", "SD", "TV5"},
		{"lowercase marker", "espn hd", "HD", "espn"},
		// Only the first matching token is removed from the name.
		{"double marker", "4K UHD Cinema", "UHD", "UHD Cinema"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, cleaned := ExtractQuality(tt.in)
			if label != tt.wantLabel || cleaned != tt.wantCleaned {
				t.Errorf("ExtractQuality(%q) = (%q, %q), want (%q, %q)",
					tt.in, label, cleaned, tt.wantLabel, tt.wantCleaned)
			}
		})
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		rules []Rule
		want  string
	}{
		{
			name:  "no rules",
			in:    "ESPN HD",
			rules: nil,
			want:  "ESPN HD",
		},
		{
			name:  "literal prefix strip",
			in:    "US| ESPN HD",
			rules: []Rule{{Find: "US| ", Replace: ""}},
			want:  "ESPN HD",
		},
		{
			name:  "regex bracket strip",
			in:    "[PPV] Boxing [Live]",
			rules: []Rule{{Find: `\[.*?\]`, Regex: true}},
			want:  "Boxing",
		},
		{
			name:  "case insensitive literal",
			in:    "VIP ESPN",
			rules: []Rule{{Find: "vip ", CaseInsensitive: true}},
			want:  "ESPN",
		},
		{
			name:  "disabled rule is skipped",
			in:    "US| ESPN",
			rules: []Rule{{Find: "US| ", Disabled: true}},
			want:  "US| ESPN",
		},
		{
			name:  "invalid regex is skipped",
			in:    "ESPN",
			rules: []Rule{{Find: "[", Regex: true}},
			want:  "ESPN",
		},
		{
			name: "rules apply in order",
			in:   "UK: BBC One UK",
			rules: []Rule{
				{Find: "UK: ", Replace: ""},
				{Find: " UK", Replace: ""},
			},
			want: "BBC One",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Apply(tt.in, tt.rules); got != tt.want {
				t.Errorf("Apply(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseRules(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		for _, raw := range []string{"", "  ", "[]"} {
			rules, err := ParseRules(raw)
			if err != nil || rules != nil {
				t.Errorf("ParseRules(%q) = (%v, %v), want (nil, nil)", raw, rules, err)
			}
		}
	})

	t.Run("valid rules", func(t *testing.T) {
		raw := `[{"find":"US| ","replace":""},{"find":"\\s+$","regex":true}]`
		rules, err := ParseRules(raw)
		if err != nil {
			t.Fatalf("ParseRules() error = %v", err)
		}
		if len(rules) != 2 {
			t.Fatalf("ParseRules() returned %d rules, want 2", len(rules))
		}
		if rules[0].Find != "US| " || rules[1].Regex != true {
			t.Errorf("ParseRules() decoded unexpected rules: %+v", rules)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		if _, err := ParseRules("{not json"); err == nil {
			t.Error("ParseRules() expected error for invalid JSON")
		}
	})
}
