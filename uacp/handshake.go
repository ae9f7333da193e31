// Copyright 2021 Converter Systems LLC. All rights reserved.

package uacp

import (
	"github.com/systerel/S2OPC-sub041/ua"
)

const (
	// ProtocolVersion is the version of the connection protocol.
	ProtocolVersion uint32 = 0
	// MinBufferSize is the smallest buffer size a peer may announce.
	MinBufferSize uint32 = 8192
	// MaxURLLength bounds the endpoint url of a Hello.
	MaxURLLength = 4096
	// MaxReasonLength bounds the reason of an Error.
	MaxReasonLength = 4096
	// AcknowledgeSize is the size of an Acknowledge, header included.
	AcknowledgeSize = 28
	// MinErrorSize is the size of an Error with an empty reason, header included.
	MinErrorSize = 16
)

// Handshake errors.
var (
	ErrEndpointURLTooLong      = ua.NewError(ua.BadTCPEndpointURLInvalid, "endpoint url too long")
	ErrReasonTooLong           = ua.NewError(ua.BadEncodingLimitsExceeded, "error reason too long")
	ErrBufferTooSmall          = ua.NewError(ua.BadTCPNotEnoughResources, "buffer size below minimum")
	ErrProtocolVersion         = ua.NewError(ua.BadProtocolVersionUnsupported, "protocol version unsupported")
	ErrMalformedAcknowledge    = ua.NewError(ua.BadDecodingError, "malformed acknowledge")
	ErrMalformedError          = ua.NewError(ua.BadDecodingError, "malformed error")
	ErrAcknowledgeLimitsExceed = ua.NewError(ua.BadTCPInternalError, "acknowledge exceeds hello limits")
)

// Hello opens a connection.
type Hello struct {
	ProtocolVersion   uint32
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
	EndpointURL       string
}

// Encode writes the complete message, header included.
func (m *Hello) Encode(b *ua.ByteBuffer) error {
	if len(m.EndpointURL) > MaxURLLength {
		return ErrEndpointURLTooLong
	}
	if err := EncodeHeader(b, MessageTypeHello, ChunkTypeFinal); err != nil {
		return err
	}
	enc := ua.NewBinaryEncoder(b)
	for _, v := range []uint32{m.ProtocolVersion, m.ReceiveBufferSize, m.SendBufferSize, m.MaxMessageSize, m.MaxChunkCount} {
		if err := enc.WriteUInt32(v); err != nil {
			return err
		}
	}
	if err := enc.WriteString(m.EndpointURL); err != nil {
		return err
	}
	return FinalizeHeader(b)
}

// DecodeHello reads a Hello body. The buffer position must follow the header.
func DecodeHello(b *ua.ByteBuffer) (*Hello, error) {
	m := new(Hello)
	dec := ua.NewBinaryDecoder(b)
	dec.SetMaxLength(MaxURLLength)
	for _, v := range []*uint32{&m.ProtocolVersion, &m.ReceiveBufferSize, &m.SendBufferSize, &m.MaxMessageSize, &m.MaxChunkCount} {
		if err := dec.ReadUInt32(v); err != nil {
			return nil, err
		}
	}
	if err := dec.ReadString(&m.EndpointURL); err != nil {
		if err == ua.BadEncodingLimitsExceeded {
			return nil, ErrEndpointURLTooLong
		}
		return nil, err
	}
	return m, nil
}

// Acknowledge accepts a Hello with the limits the server will use.
type Acknowledge struct {
	ProtocolVersion   uint32
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
}

// Encode writes the complete message, header included.
func (m *Acknowledge) Encode(b *ua.ByteBuffer) error {
	if err := EncodeHeader(b, MessageTypeAck, ChunkTypeFinal); err != nil {
		return err
	}
	enc := ua.NewBinaryEncoder(b)
	for _, v := range []uint32{m.ProtocolVersion, m.ReceiveBufferSize, m.SendBufferSize, m.MaxMessageSize, m.MaxChunkCount} {
		if err := enc.WriteUInt32(v); err != nil {
			return err
		}
	}
	return FinalizeHeader(b)
}

// DecodeAcknowledge reads an Acknowledge body. The buffer must hold exactly
// one Acknowledge with its position following the header.
func DecodeAcknowledge(b *ua.ByteBuffer) (*Acknowledge, error) {
	if b.Len() != AcknowledgeSize {
		return nil, ErrMalformedAcknowledge
	}
	m := new(Acknowledge)
	dec := ua.NewBinaryDecoder(b)
	for _, v := range []*uint32{&m.ProtocolVersion, &m.ReceiveBufferSize, &m.SendBufferSize, &m.MaxMessageSize, &m.MaxChunkCount} {
		if err := dec.ReadUInt32(v); err != nil {
			return nil, ErrMalformedAcknowledge
		}
	}
	return m, nil
}

// ErrorMessage reports a fatal error before the connection is closed.
type ErrorMessage struct {
	Code   ua.StatusCode
	Reason string
}

// Error implements the error interface.
func (m *ErrorMessage) Error() string {
	if m.Reason == "" {
		return "remote error: " + m.Code.Error()
	}
	return "remote error: " + m.Reason + ": " + m.Code.Error()
}

// Unwrap returns the status code.
func (m *ErrorMessage) Unwrap() error {
	return m.Code
}

// Encode writes the complete message, header included.
// Reasons longer than MaxReasonLength are truncated.
func (m *ErrorMessage) Encode(b *ua.ByteBuffer) error {
	reason := m.Reason
	if len(reason) > MaxReasonLength {
		reason = reason[:MaxReasonLength]
	}
	if err := EncodeHeader(b, MessageTypeError, ChunkTypeFinal); err != nil {
		return err
	}
	enc := ua.NewBinaryEncoder(b)
	if err := enc.WriteStatusCode(m.Code); err != nil {
		return err
	}
	if err := enc.WriteString(reason); err != nil {
		return err
	}
	return FinalizeHeader(b)
}

// DecodeErrorMessage reads the body of an Error, or of an Abort chunk.
func DecodeErrorMessage(b *ua.ByteBuffer) (*ErrorMessage, error) {
	m := new(ErrorMessage)
	dec := ua.NewBinaryDecoder(b)
	dec.SetMaxLength(MaxReasonLength)
	if err := dec.ReadStatusCode(&m.Code); err != nil {
		return nil, ErrMalformedError
	}
	if err := dec.ReadString(&m.Reason); err != nil {
		if err == ua.BadEncodingLimitsExceeded {
			return nil, ErrReasonTooLong
		}
		return nil, ErrMalformedError
	}
	return m, nil
}
