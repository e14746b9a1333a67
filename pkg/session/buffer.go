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
	"time"

	"github.com/lucasduport/iptv-gateway/pkg/mpegts"
	"github.com/lucasduport/iptv-gateway/pkg/utils"
)

// Rolling buffer bounds: the target is bufferSeconds worth of data at a
// nominal 250 KB/s, clamped to [1 MiB, 10 MiB].
const (
	rollingBytesPerSecond = 250 * 1024
	rollingMinBytes       = 1 << 20
	rollingMaxBytes       = 10 << 20
)

// preChunk is one upstream read held back during session warm-up.
type preChunk struct {
	data []byte
	ts   time.Time
}

// preBuffer collects upstream chunks until enough material has arrived to
// absorb initial jitter. It is used exactly once per session: filled while
// warming up, flushed as a single burst, then discarded.
type preBuffer struct {
	chunks []preChunk
	size   int
}

func newPreBuffer() *preBuffer {
	return &preBuffer{}
}

func (b *preBuffer) push(data []byte, now time.Time) {
	b.chunks = append(b.chunks, preChunk{data: data, ts: now})
	b.size += len(data)
}

// ready reports whether the oldest held chunk is older than the flush
// window, meaning the burst can be emitted.
func (b *preBuffer) ready(window time.Duration, now time.Time) bool {
	if len(b.chunks) == 0 {
		return false
	}
	return now.Sub(b.chunks[0].ts) >= window
}

// flush concatenates everything held, aligned to the best MPEG-TS entry
// point, and resets the buffer.
func (b *preBuffer) flush() []byte {
	buf := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		buf = append(buf, c.data...)
	}
	b.chunks = nil
	b.size = 0
	off := mpegts.FlushOffset(buf)
	if off == 0 && len(buf) > 0 && buf[0] != mpegts.SyncByte {
		// No sync point anywhere: the provider likely answered 200 with an
		// error page instead of a transport stream.
		utils.DebugLog("Pre-buffer holds no TS sync point:\n%s", utils.HexDump(buf, 64))
	}
	return buf[off:]
}

// rollingBuffer keeps the most recent live chunks so a client joining
// mid-stream starts with playable data instead of waiting for the next
// keyframe. Collection begins at the first probable keyframe; the running
// size counter keeps eviction O(1) per append.
type rollingBuffer struct {
	limit      int
	size       int
	collecting bool
	chunks     [][]byte
}

// newRollingBuffer sizes the ring from the configured buffer window.
// A zero window disables late-join bridging entirely.
func newRollingBuffer(bufferSeconds int) *rollingBuffer {
	if bufferSeconds <= 0 {
		return nil
	}
	limit := bufferSeconds * rollingBytesPerSecond
	if limit < rollingMinBytes {
		limit = rollingMinBytes
	}
	if limit > rollingMaxBytes {
		limit = rollingMaxBytes
	}
	return &rollingBuffer{limit: limit}
}

func (b *rollingBuffer) append(chunk []byte) {
	if !b.collecting {
		if !mpegts.ContainsKeyframe(chunk) {
			return
		}
		b.collecting = true
	}
	b.chunks = append(b.chunks, chunk)
	b.size += len(chunk)
	for b.size > b.limit && len(b.chunks) > 0 {
		b.size -= len(b.chunks[0])
		b.chunks[0] = nil
		b.chunks = b.chunks[1:]
	}
}

// snapshot returns a contiguous copy of the buffered bytes, or nil when
// nothing has been collected yet.
func (b *rollingBuffer) snapshot() []byte {
	if b.size == 0 {
		return nil
	}
	buf := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		buf = append(buf, c...)
	}
	return buf
}
