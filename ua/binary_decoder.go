// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxArrayLength bounds strings and byte strings read by a decoder.
const DefaultMaxArrayLength = 16 * 1024 * 1024

// BinaryDecoder decodes the UA binary protocol.
type BinaryDecoder struct {
	r         io.Reader
	maxLength int
	bs        [8]byte
}

// NewBinaryDecoder returns a new decoder that reads from an io.Reader.
func NewBinaryDecoder(r io.Reader) *BinaryDecoder {
	return &BinaryDecoder{r: r, maxLength: DefaultMaxArrayLength}
}

// SetMaxLength bounds the length of strings and byte strings. Longer
// values fail with BadEncodingLimitsExceeded.
func (dec *BinaryDecoder) SetMaxLength(n int) {
	dec.maxLength = n
}

// ReadByte reads a byte.
func (dec *BinaryDecoder) ReadByte(value *byte) error {
	if _, err := io.ReadFull(dec.r, dec.bs[:1]); err != nil {
		return BadDecodingError
	}
	*value = dec.bs[0]
	return nil
}

// ReadUInt16 reads an uint16.
func (dec *BinaryDecoder) ReadUInt16(value *uint16) error {
	if _, err := io.ReadFull(dec.r, dec.bs[:2]); err != nil {
		return BadDecodingError
	}
	*value = binary.LittleEndian.Uint16(dec.bs[:2])
	return nil
}

// ReadInt32 reads an int32.
func (dec *BinaryDecoder) ReadInt32(value *int32) error {
	var v uint32
	if err := dec.ReadUInt32(&v); err != nil {
		return err
	}
	*value = int32(v)
	return nil
}

// ReadUInt32 reads an uint32.
func (dec *BinaryDecoder) ReadUInt32(value *uint32) error {
	if _, err := io.ReadFull(dec.r, dec.bs[:4]); err != nil {
		return BadDecodingError
	}
	*value = binary.LittleEndian.Uint32(dec.bs[:4])
	return nil
}

// ReadInt64 reads an int64.
func (dec *BinaryDecoder) ReadInt64(value *int64) error {
	if _, err := io.ReadFull(dec.r, dec.bs[:8]); err != nil {
		return BadDecodingError
	}
	*value = int64(binary.LittleEndian.Uint64(dec.bs[:8]))
	return nil
}

// ReadStatusCode reads a StatusCode.
func (dec *BinaryDecoder) ReadStatusCode(value *StatusCode) error {
	var v uint32
	if err := dec.ReadUInt32(&v); err != nil {
		return err
	}
	*value = StatusCode(v)
	return nil
}

// ReadString reads a string. Null is read as the empty string.
func (dec *BinaryDecoder) ReadString(value *string) error {
	var bs []byte
	if err := dec.ReadByteArray(&bs); err != nil {
		return err
	}
	*value = string(bs)
	return nil
}

// ReadByteArray reads a ByteString. Null is read as nil.
func (dec *BinaryDecoder) ReadByteArray(value *[]byte) error {
	var n int32
	if err := dec.ReadInt32(&n); err != nil {
		return err
	}
	if n < 0 {
		*value = nil
		return nil
	}
	if dec.maxLength > 0 && int(n) > dec.maxLength {
		return BadEncodingLimitsExceeded
	}
	bs := make([]byte, n)
	if _, err := io.ReadFull(dec.r, bs); err != nil {
		return BadDecodingError
	}
	*value = bs
	return nil
}

// ReadDateTime reads a time.Time.
func (dec *BinaryDecoder) ReadDateTime(value *time.Time) error {
	// ticks are 100 nanosecond intervals since January 1, 1601
	var ticks int64
	if err := dec.ReadInt64(&ticks); err != nil {
		return err
	}
	if ticks <= 0 {
		*value = time.Time{}
		return nil
	}
	if ticks == 0x7FFFFFFFFFFFFFFF {
		ticks = 2650467743990000000
	}
	*value = time.Unix(ticks/10000000-11644473600, (ticks%10000000)*100).UTC()
	return nil
}

// ReadGUID reads a uuid.UUID.
func (dec *BinaryDecoder) ReadGUID(value *uuid.UUID) error {
	if _, err := io.ReadFull(dec.r, dec.bs[:8]); err != nil {
		return BadDecodingError
	}
	v := uuid.UUID{}
	v[0] = dec.bs[3]
	v[1] = dec.bs[2]
	v[2] = dec.bs[1]
	v[3] = dec.bs[0]
	v[4] = dec.bs[5]
	v[5] = dec.bs[4]
	v[6] = dec.bs[7]
	v[7] = dec.bs[6]
	if _, err := io.ReadFull(dec.r, v[8:]); err != nil {
		return BadDecodingError
	}
	*value = v
	return nil
}

// ReadNodeID reads a NodeID.
func (dec *BinaryDecoder) ReadNodeID(value *NodeID) error {
	var b byte
	if err := dec.ReadByte(&b); err != nil {
		return err
	}
	switch b {
	case 0x00:
		var id byte
		if err := dec.ReadByte(&id); err != nil {
			return err
		}
		*value = NewNodeIDNumeric(0, uint32(id))
	case 0x01:
		var ns byte
		var id uint16
		if err := dec.ReadByte(&ns); err != nil {
			return err
		}
		if err := dec.ReadUInt16(&id); err != nil {
			return err
		}
		*value = NewNodeIDNumeric(uint16(ns), uint32(id))
	case 0x02:
		var ns uint16
		var id uint32
		if err := dec.ReadUInt16(&ns); err != nil {
			return err
		}
		if err := dec.ReadUInt32(&id); err != nil {
			return err
		}
		*value = NewNodeIDNumeric(ns, id)
	case 0x03:
		var ns uint16
		var id string
		if err := dec.ReadUInt16(&ns); err != nil {
			return err
		}
		if err := dec.ReadString(&id); err != nil {
			return err
		}
		*value = NewNodeIDString(ns, id)
	case 0x04:
		var ns uint16
		var id uuid.UUID
		if err := dec.ReadUInt16(&ns); err != nil {
			return err
		}
		if err := dec.ReadGUID(&id); err != nil {
			return err
		}
		*value = NewNodeIDGUID(ns, id)
	case 0x05:
		var ns uint16
		var id []byte
		if err := dec.ReadUInt16(&ns); err != nil {
			return err
		}
		if err := dec.ReadByteArray(&id); err != nil {
			return err
		}
		*value = NewNodeIDOpaque(ns, id)
	default:
		return BadDecodingError
	}
	return nil
}
