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

// Package normalize derives stable channel identities from the messy
// display names found in provider playlists. Channels from different
// sources that normalize to the same key are treated as variants of one
// logical channel.
package normalize

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/lucasduport/iptv-gateway/pkg/utils"
)

// Rule is a per-source find/replace applied to raw channel names before
// quality extraction. Rules are stored as a JSON array on the source.
type Rule struct {
	Find            string `json:"find"`
	Replace         string `json:"replace"`
	Regex           bool   `json:"regex"`
	CaseInsensitive bool   `json:"case_insensitive"`
	Disabled        bool   `json:"disabled"`
}

// ParseRules decodes the JSON rule list stored on a source. An empty
// string yields no rules.
func ParseRules(raw string) ([]Rule, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var rules []Rule
	if err := json.Unmarshal([]byte(raw), &rules); err != nil {
		return nil, utils.ErrorWithLocation(err)
	}
	return rules, nil
}

// Apply runs the cleanup rules over a raw channel name, in order. An
// invalid rule is skipped with a warning rather than failing the whole
// import.
func Apply(name string, rules []Rule) string {
	for _, r := range rules {
		if r.Disabled || r.Find == "" {
			continue
		}
		pattern := r.Find
		if !r.Regex {
			pattern = regexp.QuoteMeta(pattern)
		}
		if r.CaseInsensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			utils.WarnLog("Skipping invalid cleanup rule %q: %v", r.Find, err)
			continue
		}
		name = re.ReplaceAllString(name, r.Replace)
	}
	return collapseSpaces(name)
}

// Quality labels ordered best-first. The scan order matters: UHD and FHD
// patterns must be tried before the bare HD pattern they contain.
var qualityPatterns = []struct {
	re    *regexp.Regexp
	label string
}{
	{regexp.MustCompile(`(?i)UHD|4K|2160p`), "UHD"},
	{regexp.MustCompile(`(?i)FHD|1080p`), "FHD"},
	{regexp.MustCompile(`(?i)HD|720p`), "HD"},
	{regexp.MustCompile(`(?i)SD`), "SD"},
}

// ExtractQuality detects a quality marker in a channel name. The first
// matching label wins and its token is stripped from the returned name.
func ExtractQuality(name string) (label, cleaned string) {
	for _, p := range qualityPatterns {
		if loc := p.re.FindStringIndex(name); loc != nil {
			cleaned = collapseSpaces(name[:loc[0]] + name[loc[1]:])
			return p.label, cleaned
		}
	}
	return "", collapseSpaces(name)
}

var (
	qualityTokens = regexp.MustCompile(`(?i)hd|fhd|uhd|4k|sd|hevc|h.?265`)
	nonAlnum      = regexp.MustCompile(`[^a-z0-9]+`)
)

// Key reduces a channel name to its dedup key: lowercase, quality and
// codec tokens removed, everything but [a-z0-9] dropped. An empty key
// means the channel takes part in no dedup at all.
func Key(name string) string {
	s := strings.ToLower(name)
	s = qualityTokens.ReplaceAllString(s, "")
	s = nonAlnum.ReplaceAllString(s, "")
	return s
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
