// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "sort"

// rangeOff is a half-open byte-offset range [start, end).
type rangeOff struct {
	start, end uint64
}

func (r rangeOff) size() uint64 { return r.end - r.start }

// offsetSet is the byte-offset analogue of rangeSet (§4.1), used to track
// acknowledged or received stream-data ranges, which are uint64 byte
// offsets rather than packet numbers.
type offsetSet []rangeOff

func (s offsetSet) isEmpty() bool { return len(s) == 0 }

func (s offsetSet) contains(n uint64) bool {
	i := sort.Search(len(s), func(i int) bool { return s[i].end > n })
	return i < len(s) && s[i].start <= n
}

// contiguousFrom returns the end of the range starting at or covering base,
// i.e. how far data is known contiguously from base. If base isn't covered,
// returns base unchanged.
func (s offsetSet) contiguousFrom(base uint64) uint64 {
	for _, r := range s {
		if r.start <= base && base < r.end {
			return r.end
		}
	}
	return base
}

func (s *offsetSet) add(start, end uint64) {
	if start >= end {
		return
	}
	cur := *s
	i := sort.Search(len(cur), func(i int) bool { return cur[i].end >= start })
	j := sort.Search(len(cur), func(j int) bool { return cur[j].start > end })
	if i >= j {
		cur = append(cur, rangeOff{})
		copy(cur[i+1:], cur[i:])
		cur[i] = rangeOff{start, end}
		*s = cur
		return
	}
	if cur[i].start < start {
		start = cur[i].start
	}
	if cur[j-1].end > end {
		end = cur[j-1].end
	}
	cur[i] = rangeOff{start, end}
	cur = append(cur[:i+1], cur[j:]...)
	*s = cur
}

func (s *offsetSet) sub(start, end uint64) {
	if start >= end {
		return
	}
	cur := *s
	var out offsetSet
	for _, r := range cur {
		if r.end <= start || r.start >= end {
			out = append(out, r)
			continue
		}
		if r.start < start {
			out = append(out, rangeOff{r.start, start})
		}
		if r.end > end {
			out = append(out, rangeOff{end, r.end})
		}
	}
	*s = out
}
