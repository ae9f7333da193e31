// Copyright 2021 Converter Systems LLC. All rights reserved.

package uacp

// Default limits.
const (
	DefaultBufferSize     uint32 = 64 * 1024
	DefaultMaxMessageSize uint32 = 16 * 1024 * 1024
	DefaultMaxChunkCount  uint32 = 4096
)

// Limits are the sizes one side announces in its Hello or Acknowledge.
// MaxMessageSize and MaxChunkCount bound what this side receives, zero
// means no limit.
type Limits struct {
	ProtocolVersion   uint32
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		ProtocolVersion:   ProtocolVersion,
		ReceiveBufferSize: DefaultBufferSize,
		SendBufferSize:    DefaultBufferSize,
		MaxMessageSize:    DefaultMaxMessageSize,
		MaxChunkCount:     DefaultMaxChunkCount,
	}
}

// Hello returns the Hello announcing these limits.
func (l Limits) Hello(endpointURL string) *Hello {
	return &Hello{
		ProtocolVersion:   l.ProtocolVersion,
		ReceiveBufferSize: l.ReceiveBufferSize,
		SendBufferSize:    l.SendBufferSize,
		MaxMessageSize:    l.MaxMessageSize,
		MaxChunkCount:     l.MaxChunkCount,
		EndpointURL:       endpointURL,
	}
}

// Negotiated are the limits in effect once the handshake completes,
// seen from one side of the connection.
type Negotiated struct {
	// ReceiveBufferSize bounds the chunks this side receives.
	ReceiveBufferSize uint32
	// SendBufferSize bounds the chunks this side sends.
	SendBufferSize uint32
	// MaxReceiveMessageSize and MaxReceiveChunkCount are this side's limits.
	MaxReceiveMessageSize uint32
	MaxReceiveChunkCount  uint32
	// MaxSendMessageSize and MaxSendChunkCount are the peer's limits.
	MaxSendMessageSize uint32
	MaxSendChunkCount  uint32
}

// Accept checks a Hello against the server's limits, returning the
// Acknowledge to send and the limits the server uses.
func (l Limits) Accept(hel *Hello) (*Acknowledge, Negotiated, error) {
	if hel.ProtocolVersion < l.ProtocolVersion {
		return nil, Negotiated{}, ErrProtocolVersion
	}
	if len(hel.EndpointURL) > MaxURLLength {
		return nil, Negotiated{}, ErrEndpointURLTooLong
	}
	if hel.ReceiveBufferSize < MinBufferSize || hel.SendBufferSize < MinBufferSize {
		return nil, Negotiated{}, ErrBufferTooSmall
	}
	ack := &Acknowledge{
		ProtocolVersion:   l.ProtocolVersion,
		ReceiveBufferSize: min(l.ReceiveBufferSize, hel.SendBufferSize),
		SendBufferSize:    min(l.SendBufferSize, hel.ReceiveBufferSize),
		MaxMessageSize:    l.MaxMessageSize,
		MaxChunkCount:     l.MaxChunkCount,
	}
	n := Negotiated{
		ReceiveBufferSize:     ack.ReceiveBufferSize,
		SendBufferSize:        ack.SendBufferSize,
		MaxReceiveMessageSize: l.MaxMessageSize,
		MaxReceiveChunkCount:  l.MaxChunkCount,
		MaxSendMessageSize:    hel.MaxMessageSize,
		MaxSendChunkCount:     hel.MaxChunkCount,
	}
	return ack, n, nil
}

// Acknowledged checks the server's Acknowledge of the client's Hello,
// returning the limits the client uses.
func (l Limits) Acknowledged(ack *Acknowledge) (Negotiated, error) {
	if ack.ReceiveBufferSize < MinBufferSize || ack.SendBufferSize < MinBufferSize {
		return Negotiated{}, ErrBufferTooSmall
	}
	if ack.ReceiveBufferSize > l.SendBufferSize || ack.SendBufferSize > l.ReceiveBufferSize {
		return Negotiated{}, ErrAcknowledgeLimitsExceed
	}
	return Negotiated{
		ReceiveBufferSize:     ack.SendBufferSize,
		SendBufferSize:        ack.ReceiveBufferSize,
		MaxReceiveMessageSize: l.MaxMessageSize,
		MaxReceiveChunkCount:  l.MaxChunkCount,
		MaxSendMessageSize:    ack.MaxMessageSize,
		MaxSendChunkCount:     ack.MaxChunkCount,
	}, nil
}
