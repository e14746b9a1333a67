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
	"sync/atomic"
	"testing"

	"github.com/lucasduport/iptv-gateway/pkg/types"
)

func TestRegistryGetOrCreateSingleCreation(t *testing.T) {
	r := NewRegistry()
	var created int32

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.GetOrCreate(7, func() *Session {
				atomic.AddInt32(&created, 1)
				return &Session{ChannelID: 7}
			})
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("factory ran %d times, want 1", created)
	}
	if r.Len() != 1 {
		t.Fatalf("registry holds %d sessions, want 1", r.Len())
	}
}

func TestRegistryRemoveSameInstanceOnly(t *testing.T) {
	r := NewRegistry()
	old := &Session{ChannelID: 1}
	r.GetOrCreate(1, func() *Session { return old })
	r.Remove(1, old)
	if r.Get(1) != nil {
		t.Fatal("session not removed")
	}

	replacement := &Session{ChannelID: 1}
	r.GetOrCreate(1, func() *Session { return replacement })
	r.Remove(1, old) // stale remove must not evict the replacement
	if r.Get(1) != replacement {
		t.Fatal("stale remove evicted the replacement session")
	}
}

func TestRegistryCreateAdmitted(t *testing.T) {
	r := NewRegistry()
	v := types.Variant{SourceID: 5, SourceMaxStreams: 2}

	for id := int64(1); id <= 2; id++ {
		id := id
		_, created, err := r.CreateAdmitted(id, v, "alice", 0, func() *Session {
			return &Session{ChannelID: id, Variant: v, Username: "alice"}
		})
		if err != nil || !created {
			t.Fatalf("channel %d: created=%v err=%v", id, created, err)
		}
	}

	// A third distinct channel on the same source must be refused.
	if _, _, err := r.CreateAdmitted(3, v, "", 0, nil); !errors.Is(err, ErrSourceAtCapacity) {
		t.Fatalf("err = %v, want ErrSourceAtCapacity", err)
	}

	// Joining one of the live channels is exempt from the quota.
	s, created, err := r.CreateAdmitted(1, v, "", 0, nil)
	if err != nil || created || s == nil {
		t.Fatalf("join: s=%v created=%v err=%v", s, created, err)
	}

	// The user limit applies to new sessions only, per user.
	other := types.Variant{SourceID: 6}
	if _, _, err := r.CreateAdmitted(4, other, "alice", 2, nil); !errors.Is(err, ErrUserAtCapacity) {
		t.Fatalf("err = %v, want ErrUserAtCapacity", err)
	}
	_, created, err = r.CreateAdmitted(4, other, "bob", 2, func() *Session {
		return &Session{ChannelID: 4, Variant: other, Username: "bob"}
	})
	if err != nil || !created {
		t.Fatalf("bob: created=%v err=%v", created, err)
	}
}

func TestRegistryCounts(t *testing.T) {
	r := NewRegistry()
	r.GetOrCreate(1, func() *Session {
		return &Session{ChannelID: 1, Variant: types.Variant{SourceID: 5}, Username: "alice"}
	})
	r.GetOrCreate(2, func() *Session {
		return &Session{ChannelID: 2, Variant: types.Variant{SourceID: 5}, Username: "bob"}
	})
	r.GetOrCreate(3, func() *Session {
		return &Session{ChannelID: 3, Variant: types.Variant{SourceID: 6}, Username: "alice"}
	})

	if n := r.CountBySource(5); n != 2 {
		t.Errorf("CountBySource(5) = %d, want 2", n)
	}
	if n := r.CountBySource(9); n != 0 {
		t.Errorf("CountBySource(9) = %d, want 0", n)
	}
	if n := r.CountByUser("alice"); n != 2 {
		t.Errorf("CountByUser(alice) = %d, want 2", n)
	}
	if n := r.CountByUser("nobody"); n != 0 {
		t.Errorf("CountByUser(nobody) = %d, want 0", n)
	}
}
