// Copyright 2021 Converter Systems LLC. All rights reserved.

// Package uacp implements the OPC UA Connection Protocol: the transport
// header and the Hello/Acknowledge/Error messages exchanged before any
// secure conversation takes place.
package uacp

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/systerel/S2OPC-sub041/ua"
)

// HeaderSize is the size of the transport header.
const HeaderSize = 8

// MessageType is the three byte tag leading every message, little-endian.
type MessageType uint32

// MessageTypes
const (
	MessageTypeHello   MessageType = 'H' | 'E'<<8 | 'L'<<16
	MessageTypeAck     MessageType = 'A' | 'C'<<8 | 'K'<<16
	MessageTypeError   MessageType = 'E' | 'R'<<8 | 'R'<<16
	MessageTypeMessage MessageType = 'M' | 'S'<<8 | 'G'<<16
	MessageTypeOpen    MessageType = 'O' | 'P'<<8 | 'N'<<16
	MessageTypeClose   MessageType = 'C' | 'L'<<8 | 'O'<<16
)

// IsSecure returns true for the secure conversation types MSG, OPN and CLO.
func (t MessageType) IsSecure() bool {
	return t == MessageTypeMessage || t == MessageTypeOpen || t == MessageTypeClose
}

func (t MessageType) valid() bool {
	switch t {
	case MessageTypeHello, MessageTypeAck, MessageTypeError, MessageTypeMessage, MessageTypeOpen, MessageTypeClose:
		return true
	}
	return false
}

func (t MessageType) String() string {
	return string([]byte{byte(t), byte(t >> 8), byte(t >> 16)})
}

// ChunkType is the fourth header byte.
type ChunkType byte

// ChunkTypes
const (
	ChunkTypeIntermediate ChunkType = 'C'
	ChunkTypeFinal        ChunkType = 'F'
	ChunkTypeAbort        ChunkType = 'A'
)

// Header errors.
var (
	ErrMalformedHeader    = ua.NewError(ua.BadTCPMessageTypeInvalid, "malformed header")
	ErrInvalidFinalMarker = ua.NewError(ua.BadTCPMessageTypeInvalid, "invalid final marker")
	ErrChunkTooLarge      = ua.NewError(ua.BadTCPMessageTooLarge, "chunk exceeds receive buffer")
)

// Header is the transport header of a chunk.
type Header struct {
	MessageType MessageType
	ChunkType   ChunkType
	MessageSize uint32
}

func (h Header) check() error {
	if !h.MessageType.valid() {
		return ErrMalformedHeader
	}
	switch h.ChunkType {
	case ChunkTypeFinal:
	case ChunkTypeIntermediate, ChunkTypeAbort:
		if !h.MessageType.IsSecure() {
			return ErrInvalidFinalMarker
		}
	default:
		if !h.MessageType.IsSecure() {
			return ErrInvalidFinalMarker
		}
		return ErrMalformedHeader
	}
	return nil
}

// Encode writes the header at the buffer position.
func (h Header) Encode(b *ua.ByteBuffer) error {
	if err := h.check(); err != nil {
		return err
	}
	var bs [HeaderSize]byte
	binary.LittleEndian.PutUint32(bs[:4], uint32(h.MessageType))
	bs[3] = byte(h.ChunkType)
	binary.LittleEndian.PutUint32(bs[4:], h.MessageSize)
	_, err := b.Write(bs[:])
	return err
}

// EncodeHeader writes a header at the buffer position with a zero
// length placeholder, to be set by FinalizeHeader.
func EncodeHeader(b *ua.ByteBuffer, messageType MessageType, chunkType ChunkType) error {
	return Header{MessageType: messageType, ChunkType: chunkType}.Encode(b)
}

// FinalizeHeader sets the length of the header at the start of the
// buffer to the buffer length.
func FinalizeHeader(b *ua.ByteBuffer) error {
	return b.PutUint32At(4, uint32(b.Len()))
}

// DecodeHeader reads a header at the buffer position.
func DecodeHeader(b *ua.ByteBuffer) (Header, error) {
	bs, err := b.Next(HeaderSize)
	if err != nil {
		return Header{}, ErrMalformedHeader
	}
	return ParseHeader(bs)
}

// ParseHeader reads a header from the first HeaderSize bytes of p.
func ParseHeader(p []byte) (Header, error) {
	if len(p) < HeaderSize {
		return Header{}, ErrMalformedHeader
	}
	h := Header{
		MessageType: MessageType(uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16),
		ChunkType:   ChunkType(p[3]),
		MessageSize: binary.LittleEndian.Uint32(p[4:8]),
	}
	if err := h.check(); err != nil {
		return Header{}, err
	}
	if h.MessageSize < HeaderSize {
		return Header{}, ErrMalformedHeader
	}
	return h, nil
}

// ReadChunk reads one complete chunk from the transport.
// Chunks larger than maxSize fail with ErrChunkTooLarge.
func ReadChunk(r io.Reader, maxSize uint32) (*ua.ByteBuffer, Header, error) {
	var bs [HeaderSize]byte
	if _, err := io.ReadFull(r, bs[:]); err != nil {
		return nil, Header{}, errors.Wrap(err, "read header")
	}
	h, err := ParseHeader(bs[:])
	if err != nil {
		return nil, Header{}, err
	}
	if maxSize > 0 && h.MessageSize > maxSize {
		return nil, Header{}, ErrChunkTooLarge
	}
	p := make([]byte, h.MessageSize)
	copy(p, bs[:])
	if _, err := io.ReadFull(r, p[HeaderSize:]); err != nil {
		return nil, Header{}, errors.Wrap(err, "read body")
	}
	b := ua.NewByteBufferFrom(p)
	if err := b.SetPosition(HeaderSize); err != nil {
		return nil, Header{}, err
	}
	return b, h, nil
}
