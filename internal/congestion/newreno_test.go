// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package congestion

import (
	"testing"
	"time"
)

// TestNewRenoSlowStartAndCongestionEvent reproduces scenario 2 of the
// specification's end-to-end scenarios (§8): ten acked 1200-byte packets
// outside recovery double the window in slow start, and a subsequent loss
// halves it.
func TestNewRenoSlowStartAndCongestionEvent(t *testing.T) {
	c := New(12000, 0, 1200, 1<<15)
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		c.OnPacketSent(1200)
	}
	for i := 0; i < 10; i++ {
		c.OnPacketAcked(base, 1200)
	}
	if c.Window() != 24000 {
		t.Fatalf("cwnd = %v, want 24000", c.Window())
	}

	later := base.Add(time.Second)
	c.OnCongestionEvent(later, later)
	if c.Window() != 12000 {
		t.Fatalf("cwnd after congestion event = %v, want 12000", c.Window())
	}
	if c.Ssthresh() != 12000 {
		t.Fatalf("ssthresh after congestion event = %v, want 12000", c.Ssthresh())
	}
}

func TestNewRenoCongestionEventIdempotentWithinRecovery(t *testing.T) {
	c := New(24000, 0, 1200, 1<<15)
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	c.OnCongestionEvent(base, base)
	if got := c.Window(); got != 12000 {
		t.Fatalf("cwnd = %v, want 12000", got)
	}
	// A second loss for a packet sent before recoveryStartTime must not
	// cut the window again.
	c.OnCongestionEvent(base.Add(time.Millisecond), base.Add(-time.Millisecond))
	if got := c.Window(); got != 12000 {
		t.Fatalf("cwnd after second event = %v, want unchanged 12000", got)
	}
}

func TestNewRenoCongestionAvoidance(t *testing.T) {
	c := New(2400, 1200, 1200, 1<<15)
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	// Halve the window to 1200 so that cwnd == ssthresh, then ack a
	// packet sent after the recovery period began.
	c.OnCongestionEvent(base, base)
	c.OnPacketSent(1200)
	c.OnPacketAcked(base.Add(time.Millisecond), 1200)
	want := uint64(1200) + 1200*1200/1200
	if c.Window() != want {
		t.Fatalf("cwnd = %v, want %v", c.Window(), want)
	}
}

func TestNewRenoPersistentCongestion(t *testing.T) {
	c := New(24000, 0, 1200, 1<<15)
	c.OnPersistentCongestion()
	if c.Window() != 0 {
		t.Fatalf("cwnd = %v, want 0 (minimumWindow)", c.Window())
	}
}
