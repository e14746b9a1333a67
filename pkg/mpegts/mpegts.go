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

// Package mpegts contains the small amount of MPEG-TS framing knowledge
// the gateway needs: locating packet boundaries in a byte stream and
// spotting packets that begin a video PES, so playback can start on a
// clean frame instead of mid-picture garbage.
package mpegts

// PacketSize is the fixed MPEG-TS packet length.
const PacketSize = 188

// SyncByte starts every MPEG-TS packet.
const SyncByte = 0x47

// SyncOffset returns the lowest offset where a sync byte is confirmed by
// a second sync byte one packet later, or -1 when the buffer holds no
// such pair. A lone 0x47 in the middle of payload data does not qualify.
func SyncOffset(buf []byte) int {
	for i := 0; i+PacketSize < len(buf); i++ {
		if buf[i] == SyncByte && buf[i+PacketSize] == SyncByte {
			return i
		}
	}
	return -1
}

// KeyframeSyncOffset returns the lowest confirmed sync offset whose
// packet carries the payload-unit-start flag and a video PES start code,
// or -1 when no such packet exists in the buffer.
func KeyframeSyncOffset(buf []byte) int {
	for i := 0; i+PacketSize < len(buf); i++ {
		if buf[i] != SyncByte || buf[i+PacketSize] != SyncByte {
			continue
		}
		pkt := buf[i : i+PacketSize]
		if hasPayloadUnitStart(pkt) && containsVideoPESStart(pkt) {
			return i
		}
	}
	return -1
}

// FlushOffset picks the byte offset a new viewer should start at: a
// keyframe-bearing sync point when one exists, any confirmed sync point
// otherwise, and offset zero as a last resort.
func FlushOffset(buf []byte) int {
	if i := KeyframeSyncOffset(buf); i >= 0 {
		return i
	}
	if i := SyncOffset(buf); i >= 0 {
		return i
	}
	return 0
}

// ContainsKeyframe reports whether any packet in the chunk starts a
// video PES. The final packet of a chunk cannot be confirmed by a
// trailing sync byte and is checked on its own.
func ContainsKeyframe(chunk []byte) bool {
	for i := 0; i+PacketSize <= len(chunk); i++ {
		if chunk[i] != SyncByte {
			continue
		}
		if i+PacketSize < len(chunk) && chunk[i+PacketSize] != SyncByte {
			continue
		}
		pkt := chunk[i : i+PacketSize]
		if hasPayloadUnitStart(pkt) && containsVideoPESStart(pkt) {
			return true
		}
	}
	return false
}

// hasPayloadUnitStart checks the PUSI bit in the packet header.
func hasPayloadUnitStart(pkt []byte) bool {
	return len(pkt) >= 2 && pkt[1]&0x40 != 0
}

// containsVideoPESStart scans a packet for the PES start code prefix
// 00 00 01 followed by a video stream id (0xE0-0xEF).
func containsVideoPESStart(pkt []byte) bool {
	for j := 0; j+3 < len(pkt); j++ {
		if pkt[j] == 0x00 && pkt[j+1] == 0x00 && pkt[j+2] == 0x01 &&
			pkt[j+3] >= 0xE0 && pkt[j+3] <= 0xEF {
			return true
		}
	}
	return false
}
