// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package congestion implements the NewReno-style congestion controller
// used by the QUIC transport core (§4.5), grounded on the congestion
// package shape of github.com/quic-go/quic-go (see cubic_sender.go),
// simplified to the NewReno-only algorithm the specification requires.
package congestion

import "time"

// Controller is a NewReno congestion controller with RFC-9002-style
// slow start, congestion avoidance, and persistent-congestion handling.
//
// Controller is not safe for concurrent use; the owning connection is
// expected to serialize all access (§5).
type Controller struct {
	maxDatagramSize uint64
	minimumWindow   uint64
	lossReductionQ16 uint64

	cwnd     uint64
	ssthresh uint64 // math.MaxUint64 means infinite

	bytesInFlight uint64

	recoveryStartTime time.Time

	underutilized bool
}

// Infinite is the sentinel ssthresh value meaning "no threshold yet".
const Infinite = ^uint64(0)

// New creates a Controller with the given initial window and parameters.
func New(initialWindow, minimumWindow, maxDatagramSize, lossReductionQ16 uint64) *Controller {
	return &Controller{
		maxDatagramSize:  maxDatagramSize,
		minimumWindow:    minimumWindow,
		lossReductionQ16: lossReductionQ16,
		cwnd:             initialWindow,
		ssthresh:         Infinite,
	}
}

// Window returns the current congestion window, in bytes.
func (c *Controller) Window() uint64 { return c.cwnd }

// Ssthresh returns the current slow-start threshold, in bytes, or Infinite.
func (c *Controller) Ssthresh() uint64 { return c.ssthresh }

// BytesInFlight returns the number of ack-eliciting bytes currently
// unacknowledged, across every number space.
func (c *Controller) BytesInFlight() uint64 { return c.bytesInFlight }

// InRecovery reports whether sentTime falls within the current recovery
// period (on or before recoveryStartTime).
func (c *Controller) InRecovery(sentTime time.Time) bool {
	return !c.recoveryStartTime.IsZero() && !sentTime.After(c.recoveryStartTime)
}

// SetUnderutilized records whether the window is not fully used; some
// implementations use this to suppress pacing-related sends, see the
// teacher's maybeSend.
func (c *Controller) SetUnderutilized(v bool) { c.underutilized = v }

// Underutilized reports the last value passed to SetUnderutilized.
func (c *Controller) Underutilized() bool { return c.underutilized }

// CanSend reports whether the congestion window permits sending size more
// ack-eliciting bytes right now.
func (c *Controller) CanSend(size uint64) bool {
	return c.bytesInFlight+size <= c.cwnd
}

// OnPacketSent records that an ack-eliciting packet of the given size was
// just transmitted.
func (c *Controller) OnPacketSent(size uint64) {
	c.bytesInFlight += size
}

// OnPacketAcked applies the slow-start or congestion-avoidance increase for
// one newly acknowledged ack-eliciting packet of the given size sent at
// sentTime, per §4.7: only when sentTime is after the current recovery
// start (not while still inside recovery).
func (c *Controller) OnPacketAcked(sentTime time.Time, size uint64) {
	if c.bytesInFlight < size {
		c.bytesInFlight = 0
	} else {
		c.bytesInFlight -= size
	}
	if c.InRecovery(sentTime) {
		return
	}
	if c.cwnd < c.ssthresh {
		// Slow start: one cwnd's worth of growth per RTT's worth of acks.
		c.cwnd += size
	} else {
		// Congestion avoidance.
		c.cwnd += c.maxDatagramSize * size / c.cwnd
	}
}

// OnPacketDiscarded removes size bytes from flight without affecting the
// window (e.g. a packet in a space being discarded without being acked or
// declared lost).
func (c *Controller) OnPacketDiscarded(size uint64) {
	if c.bytesInFlight < size {
		c.bytesInFlight = 0
	} else {
		c.bytesInFlight -= size
	}
}

// OnCongestionEvent applies the congestion-event reduction of §4.5 for a
// packet sent at sentTime, if it isn't already accounted for by the
// current recovery period.
func (c *Controller) OnCongestionEvent(now, sentTime time.Time) {
	if c.recoveryStartTime.IsZero() || sentTime.After(c.recoveryStartTime) {
		c.recoveryStartTime = now
	} else {
		return
	}
	c.cwnd = c.cwnd * c.lossReductionQ16 / (1 << 16)
	if c.cwnd < c.minimumWindow {
		c.cwnd = c.minimumWindow
	}
	c.ssthresh = c.cwnd
}

// OnPersistentCongestion collapses the window to the minimum, per §4.5.
func (c *Controller) OnPersistentCongestion() {
	c.cwnd = c.minimumWindow
}

// Reset reinitializes the window and slow-start threshold to their startup
// values and clears in-flight/recovery bookkeeping, for a connection
// migrating to a new network path whose capacity this controller has no
// basis for assuming (§4.9).
func (c *Controller) Reset(initialWindow uint64) {
	c.cwnd = initialWindow
	c.ssthresh = Infinite
	c.bytesInFlight = 0
	c.recoveryStartTime = time.Time{}
	c.underutilized = false
}
