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

package importer

import (
	"context"
	"fmt"

	"github.com/jamesnetherton/m3u"
	"github.com/lucasduport/iptv-gateway/pkg/normalize"
	"github.com/lucasduport/iptv-gateway/pkg/types"
	"github.com/lucasduport/iptv-gateway/pkg/utils"
)

// importM3U fetches and walks an M3U playlist. m3u.Parse accepts either
// an http(s) URL or a local file path, so file:// style sources work by
// just configuring the path.
func importM3U(ctx context.Context, store Store, src *types.Source, rules []normalize.Rule) (int, error) {
	playlist, err := m3u.Parse(src.URL)
	if err != nil {
		return 0, fmt.Errorf("parse m3u: %w", err)
	}

	count := 0
	for i := range playlist.Tracks {
		if ctx.Err() != nil {
			return count, ctx.Err()
		}
		track := &playlist.Tracks[i]
		if track.URI == "" {
			continue
		}
		name, logo, group := trackMeta(track)
		if name == "" {
			name = track.Name
		}
		if name == "" {
			continue
		}
		ch := buildChannel(src, name, track.URI, logo, group, rules)
		if err := store.UpsertSourceChannel(ch); err != nil {
			utils.WarnLog("Upsert failed for %q from source %s: %v", name, src.Name, err)
			continue
		}
		count++
	}
	return count, nil
}

// trackMeta pulls the tvg attributes off an M3U track.
func trackMeta(track *m3u.Track) (name, logo, group string) {
	for _, tag := range track.Tags {
		switch tag.Name {
		case "tvg-name":
			name = tag.Value
		case "tvg-logo":
			logo = tag.Value
		case "group-title":
			group = tag.Value
		}
	}
	return name, logo, group
}
