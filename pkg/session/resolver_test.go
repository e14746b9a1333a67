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
	"sync"
	"testing"
	"time"

	"github.com/lucasduport/iptv-gateway/pkg/types"
)

// fakeStore is an in-memory Store for the session tests.
type fakeStore struct {
	mu       sync.Mutex
	channels map[int64]*types.PlaylistChannel
	byURL    map[string]*types.SourceChannel
	variants map[string][]types.Variant
	sources  map[int64]*types.Source
	buffer   int

	resolves int
	history  []historyRec
	failed   []failedRec
}

type historyRec struct {
	username  string
	channelID int64
	startedAt time.Time
	endedAt   time.Time
}

type failedRec struct {
	channelID int64
	url       string
	message   string
	status    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		channels: make(map[int64]*types.PlaylistChannel),
		byURL:    make(map[string]*types.SourceChannel),
		variants: make(map[string][]types.Variant),
		sources:  make(map[int64]*types.Source),
		buffer:   1,
	}
}

func (f *fakeStore) LookupPlaylistChannel(id int64) (*types.PlaylistChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves++
	if pc, ok := f.channels[id]; ok {
		return pc, nil
	}
	return nil, types.ErrNotFound
}

func (f *fakeStore) LookupSourceChannelByURL(url string) (*types.SourceChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sc, ok := f.byURL[url]; ok {
		return sc, nil
	}
	return nil, types.ErrNotFound
}

func (f *fakeStore) ListVariants(normalizedName string) ([]types.Variant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.variants[normalizedName], nil
}

func (f *fakeStore) GetSource(id int64) (*types.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sources[id]; ok {
		return s, nil
	}
	return nil, types.ErrNotFound
}

func (f *fakeStore) BufferSeconds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buffer
}

func (f *fakeStore) AddStreamHistory(username string, channelID int64, startedAt, endedAt time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, historyRec{username, channelID, startedAt, endedAt})
	return int64(len(f.history)), nil
}

func (f *fakeStore) RecordFailedStream(channelID int64, url, lastError string, lastStatus int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, failedRec{channelID, url, lastError, lastStatus})
	return nil
}

func TestResolveVariantsOrdersAvailableFirst(t *testing.T) {
	f := newFakeStore()
	f.channels[10] = &types.PlaylistChannel{ID: 10, URL: "http://s1/ch", TvgName: "News", SourceID: 1}
	f.byURL["http://s1/ch"] = &types.SourceChannel{ID: 100, SourceID: 1, URL: "http://s1/ch", NormalizedName: "news"}
	f.variants["news"] = []types.Variant{
		{SourceChannelID: 100, SourceID: 1, URL: "http://s1/ch", SourcePriority: 1, SourceMaxStreams: 1},
		{SourceChannelID: 200, SourceID: 2, URL: "http://s2/ch", SourcePriority: 2},
	}

	active := map[int64]int{1: 1} // source 1 is full
	_, variants, err := ResolveVariants(f, 10, func(id int64) int { return active[id] })
	if err != nil {
		t.Fatal(err)
	}
	if len(variants) != 2 {
		t.Fatalf("got %d variants, want 2", len(variants))
	}
	if variants[0].SourceID != 2 || variants[1].SourceID != 1 {
		t.Fatalf("full variant not pushed to the tail: %+v", variants)
	}
}

func TestResolveVariantsDirectFallback(t *testing.T) {
	f := newFakeStore()
	f.channels[11] = &types.PlaylistChannel{ID: 11, URL: "http://raw/stream", TvgName: "Local", SourceID: 3}
	f.sources[3] = &types.Source{ID: 3, Name: "Local provider", Priority: 7, MaxStreams: 4}

	_, variants, err := ResolveVariants(f, 11, func(int64) int { return 0 })
	if err != nil {
		t.Fatal(err)
	}
	if len(variants) != 1 {
		t.Fatalf("got %d variants, want 1", len(variants))
	}
	v := variants[0]
	if v.URL != "http://raw/stream" || v.SourcePriority != 7 || v.SourceMaxStreams != 4 {
		t.Fatalf("direct variant = %+v", v)
	}
}

func TestResolveVariantsEmptyNormalizedName(t *testing.T) {
	f := newFakeStore()
	f.channels[12] = &types.PlaylistChannel{ID: 12, URL: "http://s1/odd", TvgName: "***", SourceID: 1}
	f.byURL["http://s1/odd"] = &types.SourceChannel{ID: 101, SourceID: 1, URL: "http://s1/odd", Quality: "HD"}
	f.variants[""] = []types.Variant{{URL: "http://must-not-be-used"}}

	_, variants, err := ResolveVariants(f, 12, func(int64) int { return 0 })
	if err != nil {
		t.Fatal(err)
	}
	if len(variants) != 1 || variants[0].URL != "http://s1/odd" {
		t.Fatalf("variants = %+v", variants)
	}
	if variants[0].Quality != "HD" {
		t.Errorf("quality = %q, want HD", variants[0].Quality)
	}
}

func TestResolveVariantsUnknownChannel(t *testing.T) {
	f := newFakeStore()
	_, _, err := ResolveVariants(f, 404, func(int64) int { return 0 })
	if !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("err = %v, want ErrChannelNotFound", err)
	}
}
