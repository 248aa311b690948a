// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "sort"

// reassembleChunk is one out-of-order fragment of stream (or CRYPTO)
// data awaiting delivery.
type reassembleChunk struct {
	off  uint64
	data []byte
}

// reassembler reorders STREAM/CRYPTO frame fragments into a contiguous
// byte stream, merging overlapping and duplicate ranges (§4.4).
//
// It supports both ordered consumption (read, once bytes are contiguous
// from the current read offset) and unordered consumption (readUnordered,
// any complete chunk at any offset).
type reassembler struct {
	readOffset uint64 // bytes already delivered via ordered reads
	chunks     []reassembleChunk // sorted by off, non-overlapping, off >= readOffset
	received   offsetSet         // byte ranges we've ever accepted, for duplicate detection
}

// write ingests data at the given stream offset. Bytes already delivered
// are silently dropped; overlapping bytes are merged.
func (r *reassembler) write(off uint64, data []byte) {
	if len(data) == 0 {
		return
	}
	end := off + uint64(len(data))
	if end <= r.readOffset {
		return
	}
	if off < r.readOffset {
		data = data[r.readOffset-off:]
		off = r.readOffset
	}
	r.received.add(off, off+uint64(len(data)))
	r.insert(reassembleChunk{off, data})
}

// insert merges a chunk into the sorted, non-overlapping chunk list.
func (r *reassembler) insert(c reassembleChunk) {
	cend := c.off + uint64(len(c.data))
	i := sort.Search(len(r.chunks), func(i int) bool {
		ci := r.chunks[i]
		return ci.off+uint64(len(ci.data)) >= c.off
	})
	j := sort.Search(len(r.chunks), func(j int) bool { return r.chunks[j].off > cend })
	if i >= j {
		r.chunks = append(r.chunks, reassembleChunk{})
		copy(r.chunks[i+1:], r.chunks[i:])
		r.chunks[i] = c
		return
	}
	// Merge [i, j) together with c into one contiguous buffer.
	start := c.off
	if r.chunks[i].off < start {
		start = r.chunks[i].off
	}
	lastEnd := r.chunks[j-1].off + uint64(len(r.chunks[j-1].data))
	if cend > lastEnd {
		lastEnd = cend
	}
	buf := make([]byte, lastEnd-start)
	for _, old := range r.chunks[i:j] {
		copy(buf[old.off-start:], old.data)
	}
	copy(buf[c.off-start:], c.data)
	merged := reassembleChunk{start, buf}
	r.chunks = append(r.chunks[:i], append([]reassembleChunk{merged}, r.chunks[j:]...)...)
}

// readable reports the number of contiguous bytes available for an
// ordered read starting at readOffset.
func (r *reassembler) readable() int {
	if len(r.chunks) == 0 || r.chunks[0].off != r.readOffset {
		return 0
	}
	return len(r.chunks[0].data)
}

// read copies contiguous bytes starting at readOffset into buf, advancing
// readOffset, and returns the number of bytes copied.
func (r *reassembler) read(buf []byte) int {
	if len(r.chunks) == 0 || r.chunks[0].off != r.readOffset {
		return 0
	}
	n := copy(buf, r.chunks[0].data)
	if n == len(r.chunks[0].data) {
		r.chunks = r.chunks[1:]
	} else {
		r.chunks[0].data = r.chunks[0].data[n:]
		r.chunks[0].off += uint64(n)
	}
	r.readOffset += uint64(n)
	return n
}

// readUnordered returns and removes an arbitrary available chunk, in
// offset order, without requiring contiguity with readOffset.
func (r *reassembler) readUnordered() (off uint64, data []byte, ok bool) {
	if len(r.chunks) == 0 {
		return 0, nil, false
	}
	c := r.chunks[0]
	r.chunks = r.chunks[1:]
	if c.off+uint64(len(c.data)) > r.readOffset {
		r.readOffset = c.off + uint64(len(c.data))
	}
	return c.off, c.data, true
}

// hasUnread reports whether any bytes remain buffered.
func (r *reassembler) hasUnread() bool { return len(r.chunks) > 0 }
