// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "testing"

func TestDedupWindowBasic(t *testing.T) {
	var w dedupWindow
	if !w.insert(0) {
		t.Fatal("insert(0) = false, want true")
	}
	if w.insert(0) {
		t.Fatal("insert(0) again = true, want false")
	}
	if !w.insert(5) {
		t.Fatal("insert(5) = false, want true")
	}
	if !w.insert(3) {
		t.Fatal("insert(3) = false, want true")
	}
	if w.insert(3) {
		t.Fatal("insert(3) again = true, want false")
	}
}

func TestDedupWindowSlides(t *testing.T) {
	var w dedupWindow
	w.insert(100)
	// 100-63 = 37 is the oldest number still inside the window; below that is stale.
	if w.insert(30) {
		t.Fatal("insert(30) after 100 = true, want false (outside window)")
	}
	if !w.insert(90) {
		t.Fatal("insert(90) after 100 = false, want true (inside window)")
	}
	if w.insert(90) {
		t.Fatal("insert(90) again = true, want false")
	}
}

func TestDedupWindowOutOfOrder(t *testing.T) {
	var w dedupWindow
	order := []packetNumber{5, 2, 8, 1, 0, 7, 3, 4, 6}
	for _, n := range order {
		if !w.insert(n) {
			t.Fatalf("insert(%v) = false, want true", n)
		}
	}
	for _, n := range order {
		if w.insert(n) {
			t.Fatalf("insert(%v) again = true, want false", n)
		}
	}
}
