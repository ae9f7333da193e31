// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua

import (
	"time"
)

// RequestHeader is the common header of every service request.
type RequestHeader struct {
	AuthenticationToken NodeID
	Timestamp           time.Time
	RequestHandle       uint32
	ReturnDiagnostics   uint32
	AuditEntryID        string
	TimeoutHint         uint32
}

// Encode writes the header. The additional header is always null.
func (h *RequestHeader) Encode(enc *BinaryEncoder) error {
	if err := enc.WriteNodeID(h.AuthenticationToken); err != nil {
		return err
	}
	if err := enc.WriteDateTime(h.Timestamp); err != nil {
		return err
	}
	if err := enc.WriteUInt32(h.RequestHandle); err != nil {
		return err
	}
	if err := enc.WriteUInt32(h.ReturnDiagnostics); err != nil {
		return err
	}
	if err := enc.WriteString(h.AuditEntryID); err != nil {
		return err
	}
	if err := enc.WriteUInt32(h.TimeoutHint); err != nil {
		return err
	}
	return writeNullExtensionObject(enc)
}

// Decode reads the header, discarding any additional header.
func (h *RequestHeader) Decode(dec *BinaryDecoder) error {
	if err := dec.ReadNodeID(&h.AuthenticationToken); err != nil {
		return err
	}
	if err := dec.ReadDateTime(&h.Timestamp); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&h.RequestHandle); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&h.ReturnDiagnostics); err != nil {
		return err
	}
	if err := dec.ReadString(&h.AuditEntryID); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&h.TimeoutHint); err != nil {
		return err
	}
	return skipExtensionObject(dec)
}

// ResponseHeader is the common header of every service response.
type ResponseHeader struct {
	Timestamp     time.Time
	RequestHandle uint32
	ServiceResult StatusCode
}

// Encode writes the header with empty diagnostics, string table and
// additional header.
func (h *ResponseHeader) Encode(enc *BinaryEncoder) error {
	if err := enc.WriteDateTime(h.Timestamp); err != nil {
		return err
	}
	if err := enc.WriteUInt32(h.RequestHandle); err != nil {
		return err
	}
	if err := enc.WriteStatusCode(h.ServiceResult); err != nil {
		return err
	}
	if err := enc.WriteByte(0); err != nil {
		return err
	}
	if err := enc.WriteInt32(-1); err != nil {
		return err
	}
	return writeNullExtensionObject(enc)
}

// Decode reads the header, discarding diagnostics, the string table and
// any additional header.
func (h *ResponseHeader) Decode(dec *BinaryDecoder) error {
	if err := dec.ReadDateTime(&h.Timestamp); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&h.RequestHandle); err != nil {
		return err
	}
	if err := dec.ReadStatusCode(&h.ServiceResult); err != nil {
		return err
	}
	if err := skipDiagnosticInfo(dec, 0); err != nil {
		return err
	}
	var n int32
	if err := dec.ReadInt32(&n); err != nil {
		return err
	}
	for i := int32(0); i < n; i++ {
		var s string
		if err := dec.ReadString(&s); err != nil {
			return err
		}
	}
	return skipExtensionObject(dec)
}

func writeNullExtensionObject(enc *BinaryEncoder) error {
	if err := enc.WriteNodeID(NilNodeID); err != nil {
		return err
	}
	return enc.WriteByte(0)
}

func skipExtensionObject(dec *BinaryDecoder) error {
	var typeID NodeID
	if err := dec.ReadNodeID(&typeID); err != nil {
		return err
	}
	var encoding byte
	if err := dec.ReadByte(&encoding); err != nil {
		return err
	}
	switch encoding {
	case 0:
		return nil
	case 1, 2:
		var body []byte
		return dec.ReadByteArray(&body)
	default:
		return BadDecodingError
	}
}

const maxDiagnosticInfoDepth = 8

func skipDiagnosticInfo(dec *BinaryDecoder, depth int) error {
	if depth > maxDiagnosticInfoDepth {
		return BadEncodingLimitsExceeded
	}
	var mask byte
	if err := dec.ReadByte(&mask); err != nil {
		return err
	}
	var i int32
	var s string
	for _, bit := range []byte{0x01, 0x02, 0x08, 0x04} {
		if mask&bit != 0 {
			if err := dec.ReadInt32(&i); err != nil {
				return err
			}
		}
	}
	if mask&0x10 != 0 {
		if err := dec.ReadString(&s); err != nil {
			return err
		}
	}
	if mask&0x20 != 0 {
		var code StatusCode
		if err := dec.ReadStatusCode(&code); err != nil {
			return err
		}
	}
	if mask&0x40 != 0 {
		return skipDiagnosticInfo(dec, depth+1)
	}
	return nil
}
