// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "time"

// granularity is the assumed timer granularity (RFC 9002, Section 6.1.2).
const granularity = time.Millisecond

// rttEstimator implements the smoothed-RTT/variance estimator of §4.6
// (RFC 9002, Section 5).
type rttEstimator struct {
	firstSample bool
	latest      time.Duration
	smoothed    time.Duration
	variance    time.Duration
	min         time.Duration

	maxAckDelay time.Duration
}

// init seeds the estimator with the configured initial RTT, used before any
// real sample is available so that the PTO and loss-detection timers have a
// sane value from the first packet sent.
func (r *rttEstimator) init(initial time.Duration, maxAckDelay time.Duration) {
	r.smoothed = initial
	r.variance = initial / 2
	r.min = initial
	r.maxAckDelay = maxAckDelay
}

// update records a new RTT sample (§4.6). ackDelay is the peer-reported,
// already-capped ack delay (min(decoded_delay, max_ack_delay)).
func (r *rttEstimator) update(ackDelay, rtt time.Duration) {
	r.latest = rtt
	first := !r.firstSample
	if first {
		r.firstSample = true
		r.min = rtt
	} else if rtt < r.min {
		r.min = rtt
	}
	adjusted := r.latest
	if adjusted-r.min > ackDelay {
		adjusted -= ackDelay
	}
	if first {
		r.smoothed = adjusted
		r.variance = adjusted / 2
		return
	}
	diff := r.smoothed - adjusted
	if diff < 0 {
		diff = -diff
	}
	r.variance = (3*r.variance + diff) / 4
	r.smoothed = (7*r.smoothed + adjusted) / 8
}

// pto returns the base probe timeout: srtt + max(4*rttvar, granularity) + maxAckDelay (GLOSSARY).
func (r *rttEstimator) pto(includeMaxAckDelay bool) time.Duration {
	v := 4 * r.variance
	if v < granularity {
		v = granularity
	}
	pto := r.smoothed + v
	if includeMaxAckDelay {
		pto += r.maxAckDelay
	}
	return pto
}
