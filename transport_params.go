// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "time"

// TransportParameters is the set exchanged through the Session capability
// during the handshake (SPEC_FULL.md §4), covering every flow-control and
// CID limit the rest of this package applies.
type TransportParameters struct {
	InitialMaxData                 uint64
	InitialMaxStreamDataBidiLocal   uint64
	InitialMaxStreamDataBidiRemote  uint64
	InitialMaxStreamDataUni         uint64
	InitialMaxStreamsBidi           uint64
	InitialMaxStreamsUni            uint64
	MaxIdleTimeout                  time.Duration
	MaxUDPPayloadSize                uint64
	AckDelayExponent                uint8
	MaxAckDelay                     time.Duration
	ActiveConnectionIDLimit          uint64
	StatelessResetToken              []byte // 16 bytes, or nil
	OriginalDestinationConnectionID  []byte
	RetrySourceConnectionID          []byte
}

func defaultTransportParameters(cfg *Config) TransportParameters {
	return TransportParameters{
		InitialMaxData:                cfg.receiveWindow(),
		InitialMaxStreamDataBidiLocal: cfg.streamReceiveWindow(),
		InitialMaxStreamDataBidiRemote: cfg.streamReceiveWindow(),
		InitialMaxStreamDataUni:       cfg.streamReceiveWindow(),
		InitialMaxStreamsBidi:         cfg.streamWindowBidi(),
		InitialMaxStreamsUni:          cfg.streamWindowUni(),
		MaxIdleTimeout:                cfg.maxIdleTimeout(),
		MaxUDPPayloadSize:             cfg.maxDatagramSize(),
		AckDelayExponent:              ackDelayExponent,
		MaxAckDelay:                   25 * time.Millisecond,
		ActiveConnectionIDLimit:       4,
	}
}

// tightensFlowControl reports whether next tightens any flow-control
// limit below the values accepted for 0-RTT, per §4.11: accepted 0-RTT
// requires the server's final transport parameters never tighten a limit
// below what 0-RTT data already assumed.
func tightensFlowControl(zeroRTT, final TransportParameters) bool {
	return final.InitialMaxData < zeroRTT.InitialMaxData ||
		final.InitialMaxStreamDataBidiLocal < zeroRTT.InitialMaxStreamDataBidiLocal ||
		final.InitialMaxStreamDataBidiRemote < zeroRTT.InitialMaxStreamDataBidiRemote ||
		final.InitialMaxStreamDataUni < zeroRTT.InitialMaxStreamDataUni ||
		final.InitialMaxStreamsBidi < zeroRTT.InitialMaxStreamsBidi ||
		final.InitialMaxStreamsUni < zeroRTT.InitialMaxStreamsUni
}
