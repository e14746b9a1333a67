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

package session

import (
	"errors"
	"time"

	"github.com/lucasduport/iptv-gateway/pkg/types"
	"github.com/lucasduport/iptv-gateway/pkg/utils"
)

// Store is the catalog surface the streaming layer reads, plus the two
// observability tables it writes. *database.DBManager implements it; tests
// supply in-memory fakes.
type Store interface {
	LookupPlaylistChannel(id int64) (*types.PlaylistChannel, error)
	LookupSourceChannelByURL(url string) (*types.SourceChannel, error)
	ListVariants(normalizedName string) ([]types.Variant, error)
	GetSource(id int64) (*types.Source, error)
	BufferSeconds() int
	AddStreamHistory(username string, channelID int64, startedAt, endedAt time.Time) (int64, error)
	RecordFailedStream(channelID int64, url, lastError string, lastStatus int) error
}

// ResolveVariants expands a playlist channel into its ordered list of
// upstream candidates. Channels whose source channel is unknown or carries
// no normalized name cannot be deduplicated and resolve to themselves.
// Variants whose source has free capacity come first, sources already at
// their quota are kept at the tail as last-resort fallbacks; within each
// group the catalog order (priority, then quality) is preserved.
func ResolveVariants(store Store, channelID int64, activeBySource func(int64) int) (*types.PlaylistChannel, []types.Variant, error) {
	pc, err := store.LookupPlaylistChannel(channelID)
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil, ErrChannelNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	sc, err := store.LookupSourceChannelByURL(pc.URL)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, nil, err
	}
	if sc == nil || sc.NormalizedName == "" {
		return pc, []types.Variant{directVariant(store, pc, sc)}, nil
	}

	variants, err := store.ListVariants(sc.NormalizedName)
	if err != nil {
		return nil, nil, err
	}
	if len(variants) == 0 {
		return pc, []types.Variant{directVariant(store, pc, sc)}, nil
	}

	var available, full []types.Variant
	for _, v := range variants {
		if v.SourceMaxStreams > 0 && activeBySource(v.SourceID) >= v.SourceMaxStreams {
			full = append(full, v)
		} else {
			available = append(available, v)
		}
	}
	if len(full) > 0 {
		utils.DebugLog("Channel %d: %d of %d variants at capacity", channelID, len(full), len(variants))
	}
	return pc, append(available, full...), nil
}

// directVariant wraps the playlist channel itself as the only candidate.
// Source capacity still applies when the owning source is known.
func directVariant(store Store, pc *types.PlaylistChannel, sc *types.SourceChannel) types.Variant {
	v := types.Variant{
		URL:            pc.URL,
		TvgName:        pc.TvgName,
		SourceID:       pc.SourceID,
		SourcePriority: 999,
	}
	if sc != nil {
		v.SourceChannelID = sc.ID
		v.SourceID = sc.SourceID
		v.Quality = sc.Quality
	}
	if v.SourceID != 0 {
		if src, err := store.GetSource(v.SourceID); err == nil {
			v.SourcePriority = src.Priority
			v.SourceMaxStreams = src.MaxStreams
		}
	}
	return v
}
