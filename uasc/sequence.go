// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"math"

	"github.com/systerel/S2OPC-sub041/ua"
)

// sequenceWrapWindow is the distance to MaxUint32 below which sequence
// numbers wrap around, and the bound of the first number after a wrap.
const sequenceWrapWindow = 1024

// ErrSequenceNumberInvalid is returned when a chunk does not carry the
// sequence number following the last one received.
var ErrSequenceNumberInvalid = ua.NewError(ua.BadSequenceNumberInvalid, "unexpected sequence number")

// nextSequenceNumber returns the sequence number following last.
func nextSequenceNumber(last uint32) uint32 {
	if last > math.MaxUint32-sequenceWrapWindow {
		return 1
	}
	return last + 1
}

// validSequenceNumber returns true if seq may follow last.
func validSequenceNumber(last, seq uint32) bool {
	if seq == last+1 {
		return true
	}
	return last > math.MaxUint32-sequenceWrapWindow && seq < sequenceWrapWindow
}
