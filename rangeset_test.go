// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"reflect"
	"testing"
)

func TestRangeSetAddMerges(t *testing.T) {
	var s rangeSet
	s.add(0, 10)
	s.add(20, 30)
	s.add(10, 20)
	want := rangeSet{{0, 30}}
	if !reflect.DeepEqual(s, want) {
		t.Fatalf("got %v, want %v", s, want)
	}
}

func TestRangeSetAddDisjoint(t *testing.T) {
	var s rangeSet
	s.add(10, 20)
	s.add(30, 40)
	want := rangeSet{{10, 20}, {30, 40}}
	if !reflect.DeepEqual(s, want) {
		t.Fatalf("got %v, want %v", s, want)
	}
}

func TestRangeSetAddOverlap(t *testing.T) {
	var s rangeSet
	s.add(10, 20)
	s.add(15, 25)
	want := rangeSet{{10, 25}}
	if !reflect.DeepEqual(s, want) {
		t.Fatalf("got %v, want %v", s, want)
	}
}

func TestRangeSetSubSplits(t *testing.T) {
	var s rangeSet
	s.add(0, 100)
	s.sub(40, 60)
	want := rangeSet{{0, 40}, {60, 100}}
	if !reflect.DeepEqual(s, want) {
		t.Fatalf("got %v, want %v", s, want)
	}
}

func TestRangeSetSubWhole(t *testing.T) {
	var s rangeSet
	s.add(0, 10)
	s.sub(0, 10)
	if !s.isEmpty() {
		t.Fatalf("got %v, want empty", s)
	}
}

func TestRangeSetContains(t *testing.T) {
	var s rangeSet
	s.add(10, 20)
	s.add(30, 40)
	for _, n := range []packetNumber{10, 15, 19, 30, 39} {
		if !s.contains(n) {
			t.Errorf("contains(%v) = false, want true", n)
		}
	}
	for _, n := range []packetNumber{9, 20, 29, 40, 100} {
		if s.contains(n) {
			t.Errorf("contains(%v) = true, want false", n)
		}
	}
}

func TestRangeSetPopMin(t *testing.T) {
	var s rangeSet
	s.add(10, 20)
	s.add(30, 40)
	start, end := s.popMin()
	if start != 10 || end != 20 {
		t.Fatalf("popMin() = %v,%v, want 10,20", start, end)
	}
	if len(s) != 1 || s[0] != (rangePN{30, 40}) {
		t.Fatalf("after popMin, set = %v", s)
	}
}

func TestRangeSetDescending(t *testing.T) {
	var s rangeSet
	s.add(10, 20)
	s.add(30, 40)
	s.add(50, 60)
	var got []rangePN
	s.rangesDescending(func(start, end packetNumber) bool {
		got = append(got, rangePN{start, end})
		return true
	})
	want := []rangePN{{50, 60}, {30, 40}, {10, 20}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
