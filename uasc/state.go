// Copyright 2021 Converter Systems LLC. All rights reserved.

// Package uasc implements the OPC UA Secure Conversation layer: the
// chunk codec, message reassembly and the security tokens of one
// secure channel. A Channel is not safe for concurrent use; it is owned
// by the goroutine driving the connection.
package uasc

import (
	"github.com/systerel/S2OPC-sub041/ua"
)

// State is the lifecycle state of a secure channel.
type State int

// States
const (
	StateTransportConnecting State = iota
	StateSecureOpening
	StateEstablished
	StateRenewing
	StateClosing
	StateClosed
	StateError
)

var stateNames = [...]string{
	StateTransportConnecting: "TransportConnecting",
	StateSecureOpening:       "SecureOpening",
	StateEstablished:         "Established",
	StateRenewing:            "Renewing",
	StateClosing:             "Closing",
	StateClosed:              "Closed",
	StateError:               "Error",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// Terminal returns true for Closed and Error.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateError
}

// ErrInvalidState is returned when an operation is not allowed in the
// current state.
var ErrInvalidState = ua.NewError(ua.BadInvalidState, "operation not allowed in channel state")

// transitions lists the states reachable from each state. Error is
// reachable from every non terminal state and is not listed.
var transitions = map[State][]State{
	StateTransportConnecting: {StateSecureOpening, StateClosing},
	StateSecureOpening:       {StateEstablished, StateClosing},
	StateEstablished:         {StateRenewing, StateClosing},
	StateRenewing:            {StateEstablished, StateClosing},
	StateClosing:             {StateClosed},
}

func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateError {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
