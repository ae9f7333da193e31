// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"io"

	"github.com/djherbis/buffer"
	"github.com/systerel/S2OPC-sub041/ua"
	"github.com/systerel/S2OPC-sub041/uacp"
)

// Chunk errors.
var (
	ErrTooManyChunks          = ua.NewError(ua.BadTCPMessageTooLarge, "too many chunks")
	ErrMessageTooLarge        = ua.NewError(ua.BadTCPMessageTooLarge, "message too large")
	ErrChunkRequestIDMismatch = ua.NewError(ua.BadSecurityChecksFailed, "chunk request id mismatch")
)

// chunk is the decoded content of one secure chunk.
type chunk struct {
	tokenID        uint32
	sequenceNumber uint32
	requestID      uint32
	body           []byte
}

// chunkAssembly accumulates the chunks of one message.
type chunkAssembly struct {
	messageType uacp.MessageType
	requestID   uint32
	chunkCount  uint32
	body        buffer.BufferAt
}

// OnBytesReceived frames the bytes read from the transport into chunks,
// decodes them and returns every message completed by a Final chunk.
// An error is fatal, the channel is then in state Error. Messages
// completed before the failing chunk are still returned.
// Bytes received once the channel is terminal are discarded.
func (ch *Channel) OnBytesReceived(p []byte) ([]*Message, error) {
	if ch.state.Terminal() {
		return nil, nil
	}
	if ch.state == StateTransportConnecting {
		return nil, ch.Fail(ErrUnexpectedMessage)
	}
	ch.pending = append(ch.pending, p...)
	var msgs []*Message
	for len(ch.pending) >= uacp.HeaderSize {
		h, err := uacp.ParseHeader(ch.pending)
		if err != nil {
			return msgs, ch.Fail(err)
		}
		if h.MessageSize > ch.limits.ReceiveBufferSize {
			return msgs, ch.Fail(uacp.ErrChunkTooLarge)
		}
		n := int(h.MessageSize)
		if n > len(ch.pending) {
			break
		}
		data := make([]byte, n)
		copy(data, ch.pending)
		rest := copy(ch.pending, ch.pending[n:])
		ch.pending = ch.pending[:rest]

		msg, err := ch.receiveChunk(h, ua.NewByteBufferFrom(data))
		if err != nil {
			return msgs, ch.Fail(err)
		}
		if msg != nil {
			msgs = append(msgs, msg)
		}
	}
	if len(ch.pending) == 0 {
		ch.pending = nil
	}
	return msgs, nil
}

func (ch *Channel) receiveChunk(h uacp.Header, b *ua.ByteBuffer) (*Message, error) {
	switch h.MessageType {
	case uacp.MessageTypeError:
		if err := b.SetPosition(uacp.HeaderSize); err != nil {
			return nil, err
		}
		m, err := uacp.DecodeErrorMessage(b)
		if err != nil {
			return nil, err
		}
		return nil, m
	case uacp.MessageTypeMessage, uacp.MessageTypeClose:
		if ch.state != StateEstablished && ch.state != StateRenewing {
			return nil, ErrUnexpectedMessage
		}
		if h.MessageSize < symmetricHeaderSize+sequenceHeaderSize {
			return nil, ErrMalformedChunk
		}
	case uacp.MessageTypeOpen:
		if ch.state != StateSecureOpening && ch.state != StateEstablished && ch.state != StateRenewing {
			return nil, ErrUnexpectedMessage
		}
	default:
		return nil, ErrUnexpectedMessage
	}

	if err := b.SetPosition(uacp.HeaderSize); err != nil {
		return nil, err
	}
	var channelID uint32
	if err := ua.NewBinaryDecoder(b).ReadUInt32(&channelID); err != nil {
		return nil, ErrMalformedChunk
	}
	if err := ch.checkChannelID(h.MessageType, channelID); err != nil {
		return nil, err
	}

	var c *chunk
	var err error
	if h.MessageType == uacp.MessageTypeOpen {
		c, err = ch.decodeAsymmetricChunk(b)
	} else {
		c, err = ch.decodeSymmetricChunk(b)
	}
	if err != nil {
		return nil, err
	}

	if h.MessageType == uacp.MessageTypeOpen {
		ch.recvSequenceNumber = c.sequenceNumber
	} else {
		if !validSequenceNumber(ch.recvSequenceNumber, c.sequenceNumber) {
			return nil, ErrSequenceNumberInvalid
		}
		ch.recvSequenceNumber = c.sequenceNumber
	}

	if ch.trace {
		ch.log.Debug("chunk received", "channelID", ch.id, "type", h.MessageType.String(), "chunk", string(h.ChunkType),
			"size", h.MessageSize, "tokenID", c.tokenID, "sequenceNumber", c.sequenceNumber, "requestID", c.requestID)
	}
	return ch.assemble(h, c)
}

func (ch *Channel) checkChannelID(mt uacp.MessageType, id uint32) error {
	if mt == uacp.MessageTypeOpen && ch.state == StateSecureOpening {
		// the client does not know the id before the first response
		if ch.role == RoleClient || id == 0 || id == ch.id {
			return nil
		}
		return ErrChannelIDMismatch
	}
	if id != ch.id {
		return ErrChannelIDMismatch
	}
	return nil
}

func (ch *Channel) assemble(h uacp.Header, c *chunk) (*Message, error) {
	a := ch.assembly
	if a != nil && (a.requestID != c.requestID || a.messageType != h.MessageType) {
		return nil, ErrChunkRequestIDMismatch
	}
	if h.ChunkType == uacp.ChunkTypeAbort {
		ch.discardAssembly()
		ch.logAbort(c)
		return nil, nil
	}
	if a == nil {
		a = &chunkAssembly{
			messageType: h.MessageType,
			requestID:   c.requestID,
			body:        buffer.NewPartitionAt(bufferPool),
		}
		ch.assembly = a
	}
	a.chunkCount++
	if max := ch.limits.MaxReceiveChunkCount; max > 0 && a.chunkCount > max {
		return nil, ErrTooManyChunks
	}
	if max := ch.limits.MaxReceiveMessageSize; max > 0 && a.body.Len()+int64(len(c.body)) > int64(max) {
		return nil, ErrMessageTooLarge
	}
	if _, err := a.body.Write(c.body); err != nil {
		return nil, ua.BadOutOfMemory
	}
	if h.ChunkType != uacp.ChunkTypeFinal {
		return nil, nil
	}
	body := make([]byte, a.body.Len())
	if _, err := io.ReadFull(a.body, body); err != nil {
		return nil, ua.BadDecodingError
	}
	ch.discardAssembly()
	return &Message{Type: h.MessageType, RequestID: c.requestID, TokenID: c.tokenID, Body: body}, nil
}

func (ch *Channel) discardAssembly() {
	if ch.assembly != nil {
		ch.assembly.body.Reset()
		ch.assembly = nil
	}
}

func (ch *Channel) logAbort(c *chunk) {
	m, err := uacp.DecodeErrorMessage(ua.NewByteBufferFrom(c.body))
	if err != nil {
		ch.log.Debug("message aborted", "channelID", ch.id, "requestID", c.requestID)
		return
	}
	ch.log.Debug("message aborted", "channelID", ch.id, "requestID", c.requestID, "status", m.Code.Error(), "reason", m.Reason)
}

// WriteMessage splits a message into chunks protected for the peer.
// OPN chunks are secured asymmetrically, MSG and CLO chunks with the
// keys of the current token. A message exceeding the limits of the peer
// fails with ErrRequestTooLarge, or ErrResponseTooLarge on a server,
// leaving the channel usable.
func (ch *Channel) WriteMessage(mt uacp.MessageType, requestID uint32, payload []byte) ([]*ua.ByteBuffer, error) {
	var tokenID uint32
	var keys *ua.KeySet
	var maxBodySize int
	switch mt {
	case uacp.MessageTypeOpen:
		if ch.state != StateSecureOpening && ch.state != StateEstablished && ch.state != StateRenewing {
			return nil, ErrInvalidState
		}
		size, err := ch.asymmetricMaxBodySize()
		if err != nil {
			return nil, err
		}
		maxBodySize = size
	case uacp.MessageTypeMessage, uacp.MessageTypeClose:
		if ch.state != StateEstablished && ch.state != StateRenewing {
			return nil, ErrInvalidState
		}
		id, ks, err := ch.tokens.SelectForEncode()
		if err != nil {
			return nil, err
		}
		tokenID, keys = id, ks
		maxBodySize = ch.symmetricMaxBodySize()
	default:
		return nil, ErrUnexpectedMessage
	}
	if maxBodySize <= 0 {
		return nil, uacp.ErrBufferTooSmall
	}

	if max := ch.limits.MaxSendMessageSize; max > 0 && len(payload) > int(max) {
		return nil, ch.errTooLarge()
	}
	count := (len(payload) + maxBodySize - 1) / maxBodySize
	if count == 0 {
		count = 1
	}
	if max := ch.limits.MaxSendChunkCount; max > 0 && count > int(max) {
		return nil, ch.errTooLarge()
	}

	chunks := make([]*ua.ByteBuffer, 0, count)
	for i := 0; i < count; i++ {
		start := i * maxBodySize
		end := min(start+maxBodySize, len(payload))
		ct := uacp.ChunkTypeIntermediate
		if i == count-1 {
			ct = uacp.ChunkTypeFinal
		}
		b, err := ch.encodeChunk(mt, ct, requestID, payload[start:end], tokenID, keys)
		if err != nil {
			// sequence numbers were consumed
			return nil, ch.Fail(err)
		}
		chunks = append(chunks, b)
	}
	if ch.trace {
		ch.log.Debug("message written", "channelID", ch.id, "type", mt.String(), "requestID", requestID,
			"tokenID", tokenID, "size", len(payload), "chunks", count)
	}
	return chunks, nil
}

func (ch *Channel) encodeChunk(mt uacp.MessageType, ct uacp.ChunkType, requestID uint32, body []byte, tokenID uint32, keys *ua.KeySet) (*ua.ByteBuffer, error) {
	if mt == uacp.MessageTypeOpen {
		return ch.encodeAsymmetricChunk(mt, ct, requestID, body)
	}
	return ch.encodeSymmetricChunk(mt, ct, requestID, body, tokenID, keys)
}

func (ch *Channel) errTooLarge() error {
	if ch.role == RoleServer {
		return ErrResponseTooLarge
	}
	return ErrRequestTooLarge
}
