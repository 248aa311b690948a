// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "sort"

// rangePN is a half-open range [start, end) of packet numbers, or more
// generally of any ordered integer type that satisfies i < i+1 without
// overflow in practice.
type rangePN struct {
	start, end packetNumber
}

func (r rangePN) size() packetNumber { return r.end - r.start }

// rangeSet is a compact set of packet numbers, stored as disjoint,
// non-adjacent [start, end) ranges ordered by start (§4.1).
//
// The zero value is an empty set.
type rangeSet []rangePN

// isEmpty reports whether the set contains no values.
func (s rangeSet) isEmpty() bool { return len(s) == 0 }

// min returns the smallest value in the set.
// It panics if the set is empty.
func (s rangeSet) min() packetNumber { return s[0].start }

// max returns the largest value in the set (exclusive bound minus one).
// It panics if the set is empty.
func (s rangeSet) max() packetNumber { return s[len(s)-1].end - 1 }

// contains reports whether n is a member of the set.
func (s rangeSet) contains(n packetNumber) bool {
	i := sort.Search(len(s), func(i int) bool { return s[i].end > n })
	return i < len(s) && s[i].start <= n
}

// numRanges reports the number of disjoint ranges in the set.
func (s rangeSet) numRanges() int { return len(s) }

// add inserts [start, end) into the set, merging with any adjacent or
// overlapping ranges.
func (s *rangeSet) add(start, end packetNumber) {
	if start >= end {
		return
	}
	cur := *s
	// Find the first range whose end is >= start: everything before it
	// is strictly below and disjoint from the new range.
	i := sort.Search(len(cur), func(i int) bool { return cur[i].end >= start })
	// Find the first range whose start is > end: everything from i up to
	// (not including) that index might overlap or touch [start,end).
	j := sort.Search(len(cur), func(j int) bool { return cur[j].start > end })
	if i >= j {
		// No overlap; insert a new singleton range at i.
		cur = append(cur, rangePN{})
		copy(cur[i+1:], cur[i:])
		cur[i] = rangePN{start, end}
		*s = cur
		return
	}
	if cur[i].start < start {
		start = cur[i].start
	}
	if cur[j-1].end > end {
		end = cur[j-1].end
	}
	cur[i] = rangePN{start, end}
	cur = append(cur[:i+1], cur[j:]...)
	*s = cur
}

// sub removes [start, end) from the set, splitting any range that
// straddles a boundary.
func (s *rangeSet) sub(start, end packetNumber) {
	if start >= end {
		return
	}
	cur := *s
	var out rangeSet
	for _, r := range cur {
		if r.end <= start || r.start >= end {
			out = append(out, r)
			continue
		}
		if r.start < start {
			out = append(out, rangePN{r.start, start})
		}
		if r.end > end {
			out = append(out, rangePN{end, r.end})
		}
	}
	*s = out
}

// popMin removes and returns the smallest range in the set.
// It panics if the set is empty.
func (s *rangeSet) popMin() (start, end packetNumber) {
	r := (*s)[0]
	*s = (*s)[1:]
	return r.start, r.end
}

// ranges returns the set's ranges ordered ascending by start.
func (s rangeSet) ranges() []rangePN { return s }

// rangesDescending calls yield for each range in the set, largest first,
// as required when encoding an ACK frame (§4.1).
func (s rangeSet) rangesDescending(yield func(start, end packetNumber) bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if !yield(s[i].start, s[i].end) {
			return
		}
	}
}
