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
	"time"

	"github.com/lucasduport/iptv-gateway/pkg/utils"
	"golang.org/x/sync/errgroup"
)

// Refresher re-imports every configured source on a fixed interval.
type Refresher struct {
	store    Store
	interval time.Duration
	parallel int
}

func NewRefresher(store Store, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = 12 * time.Hour
	}
	return &Refresher{
		store:    store,
		interval: interval,
		parallel: utils.GetEnvIntOrDefault("IMPORT_PARALLELISM", 2),
	}
}

// Run imports all sources once immediately, then again on every tick
// until the context is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	r.RefreshAll(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RefreshAll(ctx)
		}
	}
}

// RefreshAll imports every source, a few in parallel. A failing source is
// logged and skipped so the others still refresh.
func (r *Refresher) RefreshAll(ctx context.Context) {
	sources, err := r.store.ListSources()
	if err != nil {
		utils.ErrorLog("Could not list sources for refresh: %v", err)
		return
	}
	if len(sources) == 0 {
		utils.DebugLog("No sources configured, nothing to import")
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for i := range sources {
		src := sources[i]
		g.Go(func() error {
			if err := ImportSource(gctx, r.store, &src); err != nil {
				utils.ErrorLog("%v", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
