// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/systerel/S2OPC-sub041/ua"
	"gotest.tools/assert"
)

func TestUInt32(t *testing.T) {
	cases := []struct {
		in    uint32
		bytes []byte
	}{
		{
			1_000_000_000,
			[]byte{0x00, 0xCA, 0x9A, 0x3B},
		},
		{
			0xFFFFFFFF,
			[]byte{0xFF, 0xFF, 0xFF, 0xFF},
		},
	}
	for _, c := range cases {
		buf := &bytes.Buffer{}
		enc := ua.NewBinaryEncoder(buf)
		if err := enc.WriteUInt32(c.in); err != nil {
			t.Fatal(err)
		}
		assert.DeepEqual(t, buf.Bytes(), c.bytes)

		dec := ua.NewBinaryDecoder(buf)
		var out uint32
		if err := dec.ReadUInt32(&out); err != nil {
			t.Fatal(err)
		}
		assert.Equal(t, out, c.in)
	}
}

func TestString(t *testing.T) {
	cases := []struct {
		in    string
		bytes []byte
	}{
		{
			"水Boy",
			[]byte{0x06, 0x00, 0x00, 0x00, 0xE6, 0xB0, 0xB4, 0x42, 0x6F, 0x79},
		},
		{
			"",
			[]byte{0xFF, 0xFF, 0xFF, 0xFF},
		},
	}
	for _, c := range cases {
		buf := &bytes.Buffer{}
		enc := ua.NewBinaryEncoder(buf)
		if err := enc.WriteString(c.in); err != nil {
			t.Fatal(err)
		}
		assert.DeepEqual(t, buf.Bytes(), c.bytes)

		dec := ua.NewBinaryDecoder(buf)
		var out string
		if err := dec.ReadString(&out); err != nil {
			t.Fatal(err)
		}
		assert.Equal(t, out, c.in)
	}
}

func TestByteArrayLimit(t *testing.T) {
	buf := &bytes.Buffer{}
	enc := ua.NewBinaryEncoder(buf)
	if err := enc.WriteByteArray(make([]byte, 100)); err != nil {
		t.Fatal(err)
	}
	dec := ua.NewBinaryDecoder(buf)
	dec.SetMaxLength(64)
	var out []byte
	err := dec.ReadByteArray(&out)
	assert.Equal(t, err, ua.BadEncodingLimitsExceeded)
}

func TestByteArrayTruncated(t *testing.T) {
	dec := ua.NewBinaryDecoder(bytes.NewReader([]byte{0x10, 0x00, 0x00, 0x00, 0x01, 0x02}))
	var out []byte
	err := dec.ReadByteArray(&out)
	assert.Equal(t, err, ua.BadDecodingError)
}

func TestNodeID(t *testing.T) {
	cases := []struct {
		in    ua.NodeID
		bytes []byte
	}{
		{
			ua.NewNodeIDNumeric(0, 255),
			[]byte{0x00, 0xFF},
		},
		{
			ua.NewNodeIDNumeric(2, 65535),
			[]byte{0x01, 0x02, 0xFF, 0xFF},
		},
		{
			ua.NewNodeIDNumeric(10, 4294967295),
			[]byte{0x02, 0x0A, 0x00, 0xFF, 0xFF, 0xFF, 0xFF},
		},
		{
			ua.NewNodeIDString(2, "bar"),
			[]byte{0x03, 0x02, 0x00, 0x03, 0x00, 0x00, 0x00, 0x62, 0x61, 0x72},
		},
		{
			ua.NewNodeIDGUID(2, uuid.MustParse("72962B91-FA75-4AE6-8D28-B404DC7DAF63")),
			[]byte{
				0x04, 0x02, 0x00,
				0x91, 0x2b, 0x96, 0x72, 0x75, 0xfa, 0xe6, 0x4a,
				0x8d, 0x28, 0xb4, 0x04, 0xdc, 0x7d, 0xaf, 0x63,
			},
		},
		{
			ua.NewNodeIDOpaque(2, []byte{0x01, 0x02}),
			[]byte{0x05, 0x02, 0x00, 0x02, 0x00, 0x00, 0x00, 0x01, 0x02},
		},
	}
	for _, c := range cases {
		buf := &bytes.Buffer{}
		enc := ua.NewBinaryEncoder(buf)
		if err := enc.WriteNodeID(c.in); err != nil {
			t.Fatal(err)
		}
		assert.DeepEqual(t, buf.Bytes(), c.bytes)

		dec := ua.NewBinaryDecoder(buf)
		var out ua.NodeID
		if err := dec.ReadNodeID(&out); err != nil {
			t.Fatal(err)
		}
		assert.Equal(t, out, c.in)
	}
}

func TestDateTime(t *testing.T) {
	in := time.Date(2021, 6, 1, 12, 30, 15, 500_000_000, time.UTC)
	buf := &bytes.Buffer{}
	enc := ua.NewBinaryEncoder(buf)
	if err := enc.WriteDateTime(in); err != nil {
		t.Fatal(err)
	}
	dec := ua.NewBinaryDecoder(buf)
	var out time.Time
	if err := dec.ReadDateTime(&out); err != nil {
		t.Fatal(err)
	}
	assert.Assert(t, out.Equal(in))

	buf.Reset()
	if err := enc.WriteDateTime(time.Time{}); err != nil {
		t.Fatal(err)
	}
	assert.DeepEqual(t, buf.Bytes(), []byte{0, 0, 0, 0, 0, 0, 0, 0})
}
