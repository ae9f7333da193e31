// Copyright 2021 Converter Systems LLC. All rights reserved.

package client

import (
	"github.com/systerel/S2OPC-sub041/ua"
)

// MaxPendingRequests is the number of request slots of a client. Slots
// are numbered 1 to MaxPendingRequests.
const MaxPendingRequests = 128

// ErrNoHandleAvailable is returned when every request slot is in use.
var ErrNoHandleAvailable = ua.NewError(ua.BadTooManyOperations, "no request handle available")

type requestSlot struct {
	occupied    bool
	channelID   uint32
	requestTag  uint32
	responseTag uint32
	context     any
}

// RequestSlotTable correlates responses with pending requests. A slot id
// is the request handle and request id of the message sent.
// It is owned by the secure channel goroutine and is not safe for
// concurrent use.
type RequestSlotTable struct {
	slots [MaxPendingRequests + 1]requestSlot
	last  uint32
	count int
}

// NewRequestSlotTable returns an empty table.
func NewRequestSlotTable() *RequestSlotTable {
	return &RequestSlotTable{}
}

// Allocate reserves a slot for a request of type requestTag sent on the
// channel, expecting a response of type responseTag. The scan starts
// after the last allocated slot.
func (t *RequestSlotTable) Allocate(channelID, requestTag, responseTag uint32, context any) (uint32, error) {
	n := uint32(len(t.slots))
	id := t.last
	for i := uint32(0); i < MaxPendingRequests; i++ {
		id++
		if id >= n {
			id = 1
		}
		s := &t.slots[id]
		if s.occupied {
			continue
		}
		*s = requestSlot{
			occupied:    true,
			channelID:   channelID,
			requestTag:  requestTag,
			responseTag: responseTag,
			context:     context,
		}
		t.last = id
		t.count++
		return id, nil
	}
	return 0, ErrNoHandleAvailable
}

// ValidateAndRelease checks a response against its slot and frees the
// slot on success, returning the context given to Allocate. The response
// must arrive on the same channel and be of the expected type or a
// ServiceFault.
func (t *RequestSlotTable) ValidateAndRelease(slotID, channelID, responseTag uint32) (any, bool) {
	if slotID == 0 || slotID >= uint32(len(t.slots)) {
		return nil, false
	}
	s := &t.slots[slotID]
	if !s.occupied || s.channelID != channelID {
		return nil, false
	}
	if responseTag != s.responseTag && responseTag != ua.ObjectIDServiceFaultEncodingDefaultBinary {
		return nil, false
	}
	return t.Release(slotID)
}

// Release frees a slot without validation, returning its context.
func (t *RequestSlotTable) Release(slotID uint32) (any, bool) {
	if slotID == 0 || slotID >= uint32(len(t.slots)) {
		return nil, false
	}
	s := &t.slots[slotID]
	if !s.occupied {
		return nil, false
	}
	context := s.context
	*s = requestSlot{}
	t.count--
	return context, true
}

// ReleaseAllForChannel frees every slot of the channel, returning their
// contexts in slot order.
func (t *RequestSlotTable) ReleaseAllForChannel(channelID uint32) []any {
	var contexts []any
	for id := 1; id < len(t.slots); id++ {
		s := &t.slots[id]
		if s.occupied && s.channelID == channelID {
			contexts = append(contexts, s.context)
			*s = requestSlot{}
			t.count--
		}
	}
	return contexts
}

// Len returns the number of occupied slots.
func (t *RequestSlotTable) Len() int { return t.count }
