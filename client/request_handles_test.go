// Copyright 2021 Converter Systems LLC. All rights reserved.

package client

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/systerel/S2OPC-sub041/ua"
	"gotest.tools/assert"
)

const (
	readRequestTag  uint32 = 631
	readResponseTag uint32 = 634
)

func TestRequestSlotAllocate(t *testing.T) {
	tbl := NewRequestSlotTable()
	for want := uint32(1); want <= MaxPendingRequests; want++ {
		id, err := tbl.Allocate(7, readRequestTag, readResponseTag, want)
		assert.NilError(t, err)
		assert.Equal(t, id, want)
	}
	assert.Equal(t, tbl.Len(), MaxPendingRequests)

	_, err := tbl.Allocate(7, readRequestTag, readResponseTag, nil)
	assert.Assert(t, errors.Is(err, ErrNoHandleAvailable))
	assert.Equal(t, ua.StatusCodeOf(err), ua.BadTooManyOperations)

	// a freed slot is found by the circular scan
	v, ok := tbl.Release(42)
	assert.Assert(t, ok)
	assert.Equal(t, v, uint32(42))
	id, err := tbl.Allocate(7, readRequestTag, readResponseTag, "again")
	assert.NilError(t, err)
	assert.Equal(t, id, uint32(42))
}

func TestRequestSlotScanStartsAfterLast(t *testing.T) {
	tbl := NewRequestSlotTable()
	a, _ := tbl.Allocate(1, readRequestTag, readResponseTag, nil)
	b, _ := tbl.Allocate(1, readRequestTag, readResponseTag, nil)
	tbl.Release(a)
	c, err := tbl.Allocate(1, readRequestTag, readResponseTag, nil)
	assert.NilError(t, err)
	assert.Equal(t, b, uint32(2))
	assert.Equal(t, c, uint32(3))
}

func TestRequestSlotValidateAndRelease(t *testing.T) {
	tbl := NewRequestSlotTable()
	id, err := tbl.Allocate(7, readRequestTag, readResponseTag, "ctx")
	assert.NilError(t, err)

	cases := []struct {
		name      string
		slot      uint32
		channelID uint32
		tag       uint32
	}{
		{"ReservedSlot", 0, 7, readResponseTag},
		{"OutOfRange", MaxPendingRequests + 1, 7, readResponseTag},
		{"FreeSlot", id + 1, 7, readResponseTag},
		{"OtherChannel", id, 8, readResponseTag},
		{"WrongType", id, 7, readRequestTag},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, ok := tbl.ValidateAndRelease(c.slot, c.channelID, c.tag)
			assert.Assert(t, !ok)
		})
	}
	assert.Equal(t, tbl.Len(), 1)

	v, ok := tbl.ValidateAndRelease(id, 7, readResponseTag)
	assert.Assert(t, ok)
	assert.Equal(t, v, "ctx")
	assert.Equal(t, tbl.Len(), 0)

	// released once only
	_, ok = tbl.ValidateAndRelease(id, 7, readResponseTag)
	assert.Assert(t, !ok)
}

func TestRequestSlotServiceFault(t *testing.T) {
	tbl := NewRequestSlotTable()
	id, err := tbl.Allocate(7, readRequestTag, readResponseTag, nil)
	assert.NilError(t, err)
	_, ok := tbl.ValidateAndRelease(id, 7, ua.ObjectIDServiceFaultEncodingDefaultBinary)
	assert.Assert(t, ok)
}

func TestRequestSlotReleaseAllForChannel(t *testing.T) {
	tbl := NewRequestSlotTable()
	for i := 0; i < 6; i++ {
		_, err := tbl.Allocate(uint32(i%2), readRequestTag, readResponseTag, i)
		assert.NilError(t, err)
	}
	got := tbl.ReleaseAllForChannel(1)
	assert.DeepEqual(t, got, []any{1, 3, 5})
	assert.Equal(t, tbl.Len(), 3)
	assert.Equal(t, len(tbl.ReleaseAllForChannel(1)), 0)

	_, ok := tbl.Release(0)
	assert.Assert(t, !ok)
}
