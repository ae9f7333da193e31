// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua

import (
	"encoding/binary"
	"io"
)

// ByteBuffer errors.
var (
	ErrBufferFull      = NewError(BadEncodingLimitsExceeded, "write past buffer capacity")
	ErrBufferUnderflow = NewError(BadDecodingError, "read past buffer length")
	ErrBufferPosition  = NewError(BadInvalidArgument, "buffer position out of range")
)

// ByteBuffer is a bounded octet container with a single read/write cursor.
// Storage grows on demand up to capacity. The invariant
// position <= length <= capacity holds after every call.
//
// A ByteBuffer is owned by one goroutine at a time. It is handed from one
// stage to the next, never shared.
type ByteBuffer struct {
	data     []byte
	length   int
	position int
	capacity int
}

// NewByteBuffer returns an empty ByteBuffer that may hold up to capacity bytes.
func NewByteBuffer(capacity int) *ByteBuffer {
	initial := capacity
	if initial > 4096 {
		initial = 4096
	}
	return &ByteBuffer{data: make([]byte, initial), capacity: capacity}
}

// NewByteBufferFrom returns a ByteBuffer that takes ownership of p.
// Length and capacity are len(p), the position is 0.
func NewByteBufferFrom(p []byte) *ByteBuffer {
	return &ByteBuffer{data: p, length: len(p), capacity: len(p)}
}

// Cap returns the maximum number of bytes the buffer may hold.
func (b *ByteBuffer) Cap() int { return b.capacity }

// Len returns the number of bytes holding data.
func (b *ByteBuffer) Len() int { return b.length }

// Position returns the cursor.
func (b *ByteBuffer) Position() int { return b.position }

// Remaining returns the number of unread bytes after the cursor.
func (b *ByteBuffer) Remaining() int { return b.length - b.position }

// Bytes returns the data, valid until the next write.
func (b *ByteBuffer) Bytes() []byte { return b.data[:b.length] }

// SetPosition moves the cursor. pos must not exceed the length.
func (b *ByteBuffer) SetPosition(pos int) error {
	if pos < 0 || pos > b.length {
		return ErrBufferPosition
	}
	b.position = pos
	return nil
}

// SetLength truncates or extends the data. New bytes are zero.
func (b *ByteBuffer) SetLength(n int) error {
	if n < 0 || n > b.capacity {
		return ErrBufferPosition
	}
	if n > b.length {
		b.grow(n)
		clear(b.data[b.length:n])
	}
	b.length = n
	if b.position > n {
		b.position = n
	}
	return nil
}

// Reset empties the buffer, keeping its storage.
func (b *ByteBuffer) Reset() {
	b.length = 0
	b.position = 0
}

// Write copies p at the cursor, extending the length as needed.
// Nothing is written if p does not fit within the capacity.
func (b *ByteBuffer) Write(p []byte) (int, error) {
	end := b.position + len(p)
	if end > b.capacity {
		return 0, ErrBufferFull
	}
	b.grow(end)
	copy(b.data[b.position:end], p)
	b.position = end
	if end > b.length {
		b.length = end
	}
	return len(p), nil
}

// WriteByte writes a single byte at the cursor.
func (b *ByteBuffer) WriteByte(c byte) error {
	if b.position >= b.capacity {
		return ErrBufferFull
	}
	b.grow(b.position + 1)
	b.data[b.position] = c
	b.position++
	if b.position > b.length {
		b.length = b.position
	}
	return nil
}

// Read copies bytes from the cursor up to the length.
func (b *ByteBuffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if b.position >= b.length {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.position:b.length])
	b.position += n
	return n, nil
}

// ReadByte reads a single byte at the cursor.
func (b *ByteBuffer) ReadByte() (byte, error) {
	if b.position >= b.length {
		return 0, io.EOF
	}
	c := b.data[b.position]
	b.position++
	return c, nil
}

// Next returns the next n bytes and advances the cursor past them.
// The slice aliases the buffer storage.
func (b *ByteBuffer) Next(n int) ([]byte, error) {
	if n < 0 || b.position+n > b.length {
		return nil, ErrBufferUnderflow
	}
	p := b.data[b.position : b.position+n]
	b.position += n
	return p, nil
}

// PutUint32At overwrites four bytes at pos without moving the cursor.
func (b *ByteBuffer) PutUint32At(pos int, v uint32) error {
	if pos < 0 || pos+4 > b.length {
		return ErrBufferPosition
	}
	binary.LittleEndian.PutUint32(b.data[pos:pos+4], v)
	return nil
}

func (b *ByteBuffer) grow(n int) {
	if n <= len(b.data) {
		return
	}
	size := 2 * len(b.data)
	if size < n {
		size = n
	}
	if size > b.capacity {
		size = b.capacity
	}
	data := make([]byte, size)
	copy(data, b.data[:b.length])
	b.data = data
}
