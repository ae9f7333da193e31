// Copyright 2021 Converter Systems LLC. All rights reserved.

package client

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/systerel/S2OPC-sub041/ua"
	"github.com/systerel/S2OPC-sub041/uacp"
	"github.com/systerel/S2OPC-sub041/uasc"
)

// responseEncodingOffset is the distance between the binary encoding ids
// of a request and of its response.
const responseEncodingOffset = 3

type eventKind int

const (
	eventBytes eventKind = iota
	eventSend
	eventCancel
	eventIssue
	eventRenew
	eventTick
	eventClose
	eventTransportClosed
)

// event is handed to the goroutine owning the channel.
type event struct {
	kind eventKind
	data []byte
	op   *operation
	err  error
}

type result struct {
	res ua.ServiceResponse
	err error
}

// operation is a request waiting for its response.
type operation struct {
	req   ua.ServiceRequest
	resCh chan result
	// slot and completed belong to the channel goroutine.
	slot      uint32
	completed bool
}

func newOperation(req ua.ServiceRequest) *operation {
	return &operation{req: req, resCh: make(chan result, 1)}
}

func (op *operation) complete(res ua.ServiceResponse, err error) {
	if op == nil || op.completed {
		return
	}
	op.completed = true
	op.resCh <- result{res, err}
}

// openState is the OpenSecureChannel request in flight.
type openState struct {
	requestType ua.SecurityTokenRequestType
	nonce       []byte
}

// readLoop hands every read from the connection to the channel goroutine.
func (c *Client) readLoop() {
	buf := make([]byte, c.channel.Limits().ReceiveBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			p := make([]byte, n)
			copy(p, buf[:n])
			if c.events.EnqueueBack(event{kind: eventBytes, data: p}) != nil {
				return
			}
		}
		if err != nil {
			c.events.EnqueueBack(event{kind: eventTransportClosed, err: errors.Wrapf(ua.BadCommunicationError, "read: %v", err)})
			return
		}
	}
}

// writeLoop writes the chunks in order. A nil chunk closes the connection.
func (c *Client) writeLoop() {
	for {
		b, err := c.writes.DequeueBlocking()
		if err != nil {
			return
		}
		if b == nil {
			c.conn.Close()
			return
		}
		if _, err := c.conn.Write(b.Bytes()); err != nil {
			c.events.EnqueueFront(event{kind: eventTransportClosed, err: errors.Wrapf(ua.BadCommunicationError, "write: %v", err)})
			return
		}
	}
}

func (c *Client) tickLoop() {
	t := time.NewTicker(c.renewalCheckInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if c.events.EnqueueBack(event{kind: eventTick}) != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// run owns the channel until the events queue is closed.
func (c *Client) run() {
	for {
		ev, err := c.events.DequeueBlocking()
		if err != nil {
			return
		}
		switch ev.kind {
		case eventBytes:
			c.onBytes(ev.data)
		case eventSend:
			c.send(ev.op)
		case eventCancel:
			c.cancel(ev.op)
		case eventIssue:
			c.sendOpen(ev.op, ua.SecurityTokenRequestTypeIssue)
		case eventRenew:
			c.renew(ev.op)
		case eventTick:
			if due := c.channel.Tick(); due != nil {
				c.log.Debug("security token due for renewal", "channelID", c.channel.ID(), "tokenID", due.TokenID, "elapsed", due.Elapsed)
				c.renew(nil)
			}
		case eventClose:
			c.close()
		case eventTransportClosed:
			c.shutdown(ev.err)
		}
	}
}

func (c *Client) onBytes(p []byte) {
	msgs, err := c.channel.OnBytesReceived(p)
	for _, m := range msgs {
		switch m.Type {
		case uacp.MessageTypeOpen:
			c.onOpenResponse(m)
		case uacp.MessageTypeMessage:
			c.onResponse(m)
		default:
			c.log.Warn("unexpected message", "type", m.Type.String(), "requestID", m.RequestID)
		}
	}
	if err != nil {
		c.shutdown(err)
	}
}

// write encodes the request and queues its chunks for the writer.
func (c *Client) write(mt uacp.MessageType, requestID uint32, req ua.ServiceRequest) error {
	// the channel checks the size against the limits of the server
	b := ua.NewByteBuffer(math.MaxInt32)
	if err := ua.EncodeRequest(b, req); err != nil {
		return err
	}
	chunks, err := c.channel.WriteMessage(mt, requestID, b.Bytes())
	if err != nil {
		if c.channel.State().Terminal() {
			c.shutdown(err)
		}
		return err
	}
	if c.trace {
		c.log.Debug("request sent", "type", mt.String(), "requestID", requestID, "typeID", req.EncodingID().String(), "chunks", len(chunks))
	}
	for _, chunk := range chunks {
		if err := c.writes.EnqueueBack(chunk); err != nil {
			return ua.BadSecureChannelClosed
		}
	}
	return nil
}

func (c *Client) send(op *operation) {
	switch c.channel.State() {
	case uasc.StateEstablished, uasc.StateRenewing:
	default:
		op.complete(nil, ua.BadSecureChannelClosed)
		return
	}
	requestTag, _ := op.req.EncodingID().Numeric()
	slot, err := c.slots.Allocate(c.channel.ID(), requestTag, requestTag+responseEncodingOffset, op)
	if err != nil {
		op.complete(nil, err)
		return
	}
	op.slot = slot
	h := op.req.Header()
	h.RequestHandle = slot
	if h.Timestamp.IsZero() {
		h.Timestamp = c.clock()
	}
	if h.TimeoutHint == 0 {
		h.TimeoutHint = c.timeoutHint
	}
	if err := c.write(uacp.MessageTypeMessage, slot, op.req); err != nil {
		c.slots.Release(slot)
		op.complete(nil, err)
	}
}

// cancel detaches a caller that stopped waiting. The slot stays reserved
// until the response arrives or the channel is released, so that a late
// response is never matched to a newer request, and an OpenSecureChannel
// response still installs its token.
func (c *Client) cancel(op *operation) {
	op.completed = true
}

func (c *Client) onResponse(m *uasc.Message) {
	res, err := ua.DecodeResponse(m.Body)
	if err != nil {
		c.log.Warn("response could not be decoded", "requestID", m.RequestID, "error", err)
		if v, ok := c.slots.Release(m.RequestID); ok {
			op, _ := v.(*operation)
			op.complete(nil, ua.BadDecodingError)
		}
		return
	}
	responseTag, _ := res.EncodingID().Numeric()
	v, ok := c.slots.ValidateAndRelease(m.RequestID, c.channel.ID(), responseTag)
	if !ok {
		c.log.Warn("unexpected response", "requestID", m.RequestID, "typeID", res.EncodingID().String())
		return
	}
	op, _ := v.(*operation)
	if op == nil || op.completed {
		c.log.Debug("response after caller stopped waiting", "requestID", m.RequestID, "typeID", res.EncodingID().String())
		return
	}
	if c.trace {
		c.log.Debug("response received", "requestID", m.RequestID, "typeID", res.EncodingID().String(), "result", res.Header().ServiceResult.Error())
	}
	op.complete(res, serviceResult(res))
}

func serviceResult(res ua.ServiceResponse) error {
	if sr := res.Header().ServiceResult; sr.IsBad() {
		return sr
	}
	return nil
}

func (c *Client) renew(op *operation) {
	if err := c.channel.BeginRenewal(); err != nil {
		if errors.Is(err, uasc.ErrRenewalAlreadyInProgress) {
			c.log.Debug("security token renewal already in progress", "channelID", c.channel.ID())
		}
		op.complete(nil, err)
		return
	}
	c.sendOpen(op, ua.SecurityTokenRequestTypeRenew)
}

func (c *Client) sendOpen(op *operation, requestType ua.SecurityTokenRequestType) {
	fail := func(err error) {
		op.complete(nil, err)
		c.shutdown(err)
	}
	nonce, err := c.channel.NewNonce()
	if err != nil {
		fail(err)
		return
	}
	slot, err := c.slots.Allocate(c.channel.ID(), ua.ObjectIDOpenSecureChannelRequestEncodingDefaultBinary, ua.ObjectIDOpenSecureChannelResponseEncodingDefaultBinary, op)
	if err != nil {
		fail(err)
		return
	}
	if op != nil {
		op.slot = slot
	}
	req := &ua.OpenSecureChannelRequest{
		RequestHeader: ua.RequestHeader{
			Timestamp:     c.clock(),
			RequestHandle: slot,
			TimeoutHint:   c.timeoutHint,
		},
		ClientProtocolVersion: c.limits.ProtocolVersion,
		RequestType:           requestType,
		SecurityMode:          c.securityMode,
		ClientNonce:           nonce,
		RequestedLifetime:     c.tokenLifetime,
	}
	c.open = openState{requestType: requestType, nonce: nonce}
	if err := c.write(uacp.MessageTypeOpen, slot, req); err != nil {
		c.slots.Release(slot)
		fail(err)
	}
}

func (c *Client) onOpenResponse(m *uasc.Message) {
	res, err := ua.DecodeResponse(m.Body)
	if err != nil {
		c.shutdown(err)
		return
	}
	responseTag, _ := res.EncodingID().Numeric()
	v, ok := c.slots.ValidateAndRelease(m.RequestID, c.channel.ID(), responseTag)
	if !ok {
		c.shutdown(ua.BadUnknownResponse)
		return
	}
	op, _ := v.(*operation)
	fail := func(err error) {
		op.complete(nil, err)
		c.shutdown(err)
	}
	osr, isOpen := res.(*ua.OpenSecureChannelResponse)
	if !isOpen {
		err := serviceResult(res)
		if err == nil {
			err = ua.BadUnknownResponse
		}
		fail(err)
		return
	}
	if err := serviceResult(osr); err != nil {
		fail(err)
		return
	}
	if err := c.channel.InstallToken(osr.SecurityToken, c.open.nonce, osr.ServerNonce); err != nil {
		fail(err)
		return
	}
	c.channelID.Store(c.channel.ID())
	if c.open.requestType == ua.SecurityTokenRequestTypeIssue {
		c.log.Info("secure channel opened", "channelID", c.channel.ID(), "policy", c.securityPolicyURI, "mode", c.securityMode.String())
	} else {
		c.log.Debug("security token renewed", "channelID", c.channel.ID(), "tokenID", osr.SecurityToken.TokenID)
	}
	c.open = openState{}
	op.complete(osr, nil)
}

// close sends a CloseSecureChannel request, then asks the writer to
// close the connection once the request is written.
func (c *Client) close() {
	switch c.channel.State() {
	case uasc.StateEstablished, uasc.StateRenewing:
		slot, err := c.slots.Allocate(c.channel.ID(), ua.ObjectIDCloseSecureChannelRequestEncodingDefaultBinary, ua.ObjectIDCloseSecureChannelResponseEncodingDefaultBinary, nil)
		if err != nil {
			c.log.Debug("close request not sent", "channelID", c.channel.ID(), "error", err)
			break
		}
		req := &ua.CloseSecureChannelRequest{
			RequestHeader: ua.RequestHeader{Timestamp: c.clock(), RequestHandle: slot},
		}
		if err := c.write(uacp.MessageTypeClose, slot, req); err != nil {
			c.log.Debug("close request not sent", "channelID", c.channel.ID(), "error", err)
		}
		// the server does not respond
		c.slots.Release(slot)
	}
	if c.channel.State().Terminal() {
		return
	}
	c.channel.Close()
	c.writes.EnqueueBack(nil)
}

// shutdown releases the channel, failing every pending request.
func (c *Client) shutdown(cause error) {
	select {
	case <-c.done:
		return
	default:
	}
	if c.channel.State() == uasc.StateClosing {
		c.channel.Released()
	} else {
		c.channel.Fail(cause)
	}
	err := c.channel.Err()
	if err == nil {
		err = ua.BadSecureChannelClosed
	}
	for _, v := range c.slots.ReleaseAllForChannel(c.channel.ID()) {
		op, _ := v.(*operation)
		op.complete(nil, err)
	}
	for _, ev := range c.events.Close() {
		ev.op.complete(nil, err)
	}
	c.writes.Close()
	c.conn.Close()
	c.err = err
	close(c.done)
	c.log.Info("secure channel closed", "channelID", c.channel.ID(), "state", c.channel.State().String())
}
