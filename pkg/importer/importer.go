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

// Package importer pulls channel lists from the configured sources (M3U
// playlists or Xtream accounts) and keeps the source_channels catalog in
// sync: cleanup rules, quality extraction and the dedup key are applied
// here, at import time, so lookups during playback stay cheap.
package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/lucasduport/iptv-gateway/pkg/metrics"
	"github.com/lucasduport/iptv-gateway/pkg/normalize"
	"github.com/lucasduport/iptv-gateway/pkg/types"
	"github.com/lucasduport/iptv-gateway/pkg/utils"
)

// Store is the slice of the database the importer needs.
type Store interface {
	ListSources() ([]types.Source, error)
	UpsertSourceChannel(ch *types.SourceChannel) error
	PruneSourceChannels(sourceID int64, importStart time.Time) (int64, error)
	CountSourceChannels(sourceID int64) (int, error)
	SyncPlaylistChannelURLs(sourceID int64) (int64, error)
}

// ImportSource runs one full import for a source: fetch, normalize,
// upsert, then prune channels the provider no longer lists and re-point
// playlist entries whose upstream URL moved.
func ImportSource(ctx context.Context, store Store, src *types.Source) error {
	start := time.Now()
	rules, err := normalize.ParseRules(src.CleanupRules)
	if err != nil {
		utils.WarnLog("Source %s has invalid cleanup rules, ignoring them: %v", src.Name, err)
	}

	var count int
	switch src.Kind {
	case "xtream":
		count, err = importXtream(ctx, store, src, rules)
	default:
		count, err = importM3U(ctx, store, src, rules)
	}
	if err != nil {
		return fmt.Errorf("import %s: %w", src.Name, err)
	}
	if count == 0 {
		// An empty answer is far more likely a broken fetch than a
		// provider that dropped every channel. Keep the old catalog.
		return fmt.Errorf("import %s: no channels returned, keeping previous catalog", src.Name)
	}

	if pruned, err := store.PruneSourceChannels(src.ID, start); err != nil {
		utils.WarnLog("Pruning stale channels for source %s failed: %v", src.Name, err)
	} else if pruned > 0 {
		utils.InfoLog("Pruned %d stale channels from source %s", pruned, src.Name)
	}
	if updated, err := store.SyncPlaylistChannelURLs(src.ID); err != nil {
		utils.WarnLog("Playlist URL sync for source %s failed: %v", src.Name, err)
	} else if updated > 0 {
		utils.InfoLog("Re-pointed %d playlist channels to fresh URLs from source %s", updated, src.Name)
	}

	if total, err := store.CountSourceChannels(src.ID); err == nil {
		metrics.SourceChannels.WithLabelValues(src.Name).Set(float64(total))
	}
	utils.InfoLog("Imported %d channels from source %s in %s",
		count, src.Name, time.Since(start).Round(time.Millisecond))
	return nil
}

// buildChannel applies the source's cleanup rules to a raw channel entry
// and derives its quality label and dedup key. The display name keeps its
// quality marker; only the key has it stripped.
func buildChannel(src *types.Source, rawName, streamURL, logo, group string, rules []normalize.Rule) *types.SourceChannel {
	cleaned := normalize.Apply(rawName, rules)
	quality, base := normalize.ExtractQuality(cleaned)
	return &types.SourceChannel{
		SourceID:       src.ID,
		URL:            streamURL,
		TvgName:        cleaned,
		TvgLogo:        logo,
		GroupTitle:     group,
		Quality:        quality,
		NormalizedName: normalize.Key(base),
	}
}
