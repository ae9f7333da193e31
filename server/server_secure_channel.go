// Copyright 2021 Converter Systems LLC. All rights reserved.

package server

import (
	"context"
	"math"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/systerel/S2OPC-sub041/internal/queue"
	"github.com/systerel/S2OPC-sub041/logger"
	"github.com/systerel/S2OPC-sub041/ua"
	"github.com/systerel/S2OPC-sub041/uacp"
	"github.com/systerel/S2OPC-sub041/uasc"
)

// OpenSecureChannel errors.
var (
	ErrRequestTypeInvalid = ua.NewError(ua.BadSecurityChecksFailed, "unexpected security token request type")
	ErrNonceInvalid       = ua.NewError(ua.BadNonceInvalid, "client nonce has wrong length")
)

type channelEventKind int

const (
	eventBytes channelEventKind = iota
	eventResponse
	eventTick
	eventClose
	eventTransportClosed
)

// channelEvent is handed to the goroutine owning the channel.
type channelEvent struct {
	kind      channelEventKind
	data      []byte
	requestID uint32
	res       ua.ServiceResponse
	err       error
}

// serverSecureChannel is the pipeline of one accepted connection: a
// goroutine reading the connection, one owning the channel and one
// writing the chunks it produces.
type serverSecureChannel struct {
	srv       *Server
	conn      net.Conn
	channelID uint32
	events    *queue.Queue[channelEvent]
	writes    *queue.Queue[*ua.ByteBuffer]
	log       logger.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	done      chan struct{}

	// owned by the channel goroutine
	channel     *uasc.Channel
	info        ChannelInfo
	lastTokenID uint32
	aborted     bool
}

func newServerSecureChannel(srv *Server, conn net.Conn) *serverSecureChannel {
	ctx, cancel := context.WithCancel(context.Background())
	return &serverSecureChannel{
		srv:    srv,
		conn:   conn,
		events: queue.New[channelEvent](0),
		writes: queue.New[*ua.ByteBuffer](0),
		log:    srv.log.With("remote", conn.RemoteAddr().String()),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		info:   ChannelInfo{RemoteAddress: conn.RemoteAddr().String()},
	}
}

// ChannelID gets the channel id assigned by the server.
func (ch *serverSecureChannel) ChannelID() uint32 { return ch.channelID }

// Closed returns true once the connection is released.
func (ch *serverSecureChannel) Closed() bool { return ch.closed.Load() }

// Close asks the channel to send an Error and release the connection.
func (ch *serverSecureChannel) Close() error {
	if err := ch.events.EnqueueFront(channelEvent{kind: eventClose}); err != nil {
		return nil
	}
	<-ch.done
	return nil
}

func (ch *serverSecureChannel) tick() {
	ch.events.EnqueueBack(channelEvent{kind: eventTick})
}

// serve runs the handshake, then the channel until it is released.
func (ch *serverSecureChannel) serve() {
	if err := ch.srv.channelManager.Add(ch); err != nil {
		ch.log.Warn("connection refused", "error", err)
		ch.release(err)
		return
	}
	ch.info.ChannelID = ch.channelID
	ch.log = ch.log.With("channelID", ch.channelID)

	var err error
	ch.channel, err = uasc.NewChannel(uasc.Config{
		Role:             uasc.RoleServer,
		ChannelID:        ch.channelID,
		LocalCertificate: ch.srv.localCertificate,
		LocalPrivateKey:  ch.srv.localPrivateKey,
		Pki:              ch.srv.pki,
		AcceptPolicy:     ch.srv.acceptPolicy,
		Clock:            ch.srv.clock,
		Logger:           ch.log,
		Trace:            ch.srv.trace,
	})
	if err != nil {
		ch.release(err)
		return
	}
	if err := ch.handshake(); err != nil {
		ch.log.Debug("handshake failed", "error", err)
		ch.channel.Fail(err)
		ch.release(err)
		return
	}

	go ch.readLoop()
	go ch.writeLoop()
	ch.run()
}

// handshake waits for the Hello and answers with the Acknowledge.
func (ch *serverSecureChannel) handshake() error {
	ch.conn.SetDeadline(time.Now().Add(time.Duration(ch.srv.connectTimeout) * time.Millisecond))
	defer ch.conn.SetDeadline(time.Time{})
	chunk, h, err := uacp.ReadChunk(ch.conn, ch.srv.limits.ReceiveBufferSize)
	if err != nil {
		return err
	}
	if h.MessageType != uacp.MessageTypeHello {
		return uasc.ErrUnexpectedMessage
	}
	hel, err := uacp.DecodeHello(chunk)
	if err != nil {
		return err
	}
	ack, n, err := ch.srv.limits.Accept(hel)
	if err != nil {
		return err
	}
	b := ua.NewByteBuffer(uacp.AcknowledgeSize)
	if err := ack.Encode(b); err != nil {
		return err
	}
	if _, err := ch.conn.Write(b.Bytes()); err != nil {
		return errors.Wrapf(ua.BadCommunicationError, "write acknowledge: %v", err)
	}
	return ch.channel.OnTransportReady(n)
}

// release sends an Error on a connection not yet served and closes it.
func (ch *serverSecureChannel) release(cause error) {
	if b, err := errorMessage(cause); err == nil {
		ch.conn.SetWriteDeadline(time.Now().Add(time.Second))
		ch.conn.Write(b.Bytes())
	}
	ch.conn.Close()
	ch.cancel()
	ch.events.Close()
	ch.writes.Close()
	ch.closed.Store(true)
	if ch.channelID != 0 {
		ch.srv.channelManager.Delete(ch)
	}
	close(ch.done)
}

func errorMessage(cause error) (*ua.ByteBuffer, error) {
	m := &uacp.ErrorMessage{Code: ua.StatusCodeOf(cause), Reason: cause.Error()}
	b := ua.NewByteBuffer(uacp.MinErrorSize + uacp.MaxReasonLength)
	if err := m.Encode(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (ch *serverSecureChannel) readLoop() {
	buf := make([]byte, ch.channel.Limits().ReceiveBufferSize)
	for {
		n, err := ch.conn.Read(buf)
		if n > 0 {
			p := make([]byte, n)
			copy(p, buf[:n])
			if ch.events.EnqueueBack(channelEvent{kind: eventBytes, data: p}) != nil {
				return
			}
		}
		if err != nil {
			ch.events.EnqueueBack(channelEvent{kind: eventTransportClosed, err: errors.Wrapf(ua.BadCommunicationError, "read: %v", err)})
			return
		}
	}
}

// writeLoop writes the chunks in order. A nil chunk closes the connection.
func (ch *serverSecureChannel) writeLoop() {
	for {
		b, err := ch.writes.DequeueBlocking()
		if err != nil {
			return
		}
		if b == nil {
			ch.conn.Close()
			return
		}
		if _, err := ch.conn.Write(b.Bytes()); err != nil {
			ch.events.EnqueueFront(channelEvent{kind: eventTransportClosed, err: errors.Wrapf(ua.BadCommunicationError, "write: %v", err)})
			return
		}
	}
}

// run owns the channel until the events queue is closed.
func (ch *serverSecureChannel) run() {
	for {
		ev, err := ch.events.DequeueBlocking()
		if err != nil {
			return
		}
		switch ev.kind {
		case eventBytes:
			ch.onBytes(ev.data)
		case eventResponse:
			ch.sendResponse(ev.requestID, ev.res)
		case eventTick:
			ch.channel.Tick()
		case eventClose:
			ch.abort(ua.BadServerHalted)
		case eventTransportClosed:
			ch.shutdown(ev.err)
		}
	}
}

func (ch *serverSecureChannel) onBytes(p []byte) {
	msgs, err := ch.channel.OnBytesReceived(p)
	for _, m := range msgs {
		switch m.Type {
		case uacp.MessageTypeOpen:
			ch.onOpen(m)
		case uacp.MessageTypeMessage:
			ch.onRequest(m)
		case uacp.MessageTypeClose:
			ch.onClose(m)
		}
		if ch.aborted {
			return
		}
	}
	if err != nil {
		ch.abort(err)
	}
}

func (ch *serverSecureChannel) onOpen(m *uasc.Message) {
	req, err := ua.DecodeRequest(m.Body)
	if err != nil {
		ch.abort(err)
		return
	}
	osr, ok := req.(*ua.OpenSecureChannelRequest)
	if !ok {
		ch.abort(uasc.ErrUnexpectedMessage)
		return
	}
	renew := ch.channel.State() == uasc.StateEstablished
	switch {
	case !renew && osr.RequestType == ua.SecurityTokenRequestTypeIssue:
		if err := ch.channel.SetSecurityMode(osr.SecurityMode); err != nil {
			ch.abort(err)
			return
		}
		ch.info.SecurityPolicyURI = ch.channel.SecurityPolicyURI()
		ch.info.SecurityMode = ch.channel.SecurityMode()
		ch.info.RemoteCertificate = ch.channel.RemoteCertificate()
	case renew && osr.RequestType == ua.SecurityTokenRequestTypeRenew:
		if osr.SecurityMode != ch.channel.SecurityMode() {
			ch.abort(uasc.ErrSecurityModeRejected)
			return
		}
	default:
		ch.abort(ErrRequestTypeInvalid)
		return
	}
	if n := ch.channel.SecurityPolicy().NonceSize(); len(osr.ClientNonce) != n {
		ch.abort(ErrNonceInvalid)
		return
	}
	serverNonce, err := ch.channel.NewNonce()
	if err != nil {
		ch.abort(err)
		return
	}

	ch.lastTokenID++
	if ch.lastTokenID == 0 {
		ch.lastTokenID++
	}
	token := ua.ChannelSecurityToken{
		ChannelID:       ch.channelID,
		TokenID:         ch.lastTokenID,
		CreatedAt:       ch.srv.clock(),
		RevisedLifetime: ch.reviseLifetime(osr.RequestedLifetime),
	}
	if err := ch.channel.InstallToken(token, serverNonce, osr.ClientNonce); err != nil {
		ch.abort(err)
		return
	}
	res := &ua.OpenSecureChannelResponse{
		ResponseHeader: ua.ResponseHeader{
			Timestamp:     ch.srv.clock(),
			RequestHandle: osr.RequestHeader.RequestHandle,
		},
		ServerProtocolVersion: ch.srv.limits.ProtocolVersion,
		SecurityToken:         token,
		ServerNonce:           serverNonce,
	}
	if err := ch.write(uacp.MessageTypeOpen, m.RequestID, res); err != nil {
		ch.abort(err)
		return
	}
	if renew {
		ch.log.Debug("security token renewed", "tokenID", token.TokenID, "lifetime", token.RevisedLifetime)
		ch.srv.audit(AuditRenewSecureChannel, ch.info, ua.Good)
		return
	}
	ch.log.Info("secure channel opened", "policy", ch.info.SecurityPolicyURI, "mode", ch.info.SecurityMode.String(), "open", ch.srv.channelManager.Len())
	ch.srv.audit(AuditOpenSecureChannel, ch.info, ua.Good)
}

// reviseLifetime bounds the lifetime requested by the client.
func (ch *serverSecureChannel) reviseLifetime(requested uint32) uint32 {
	switch {
	case requested == 0 || requested > ch.srv.maxTokenLifetime:
		return ch.srv.maxTokenLifetime
	case requested < minTokenLifetime:
		return minTokenLifetime
	default:
		return requested
	}
}

func (ch *serverSecureChannel) onRequest(m *uasc.Message) {
	req, err := ua.DecodeRequest(m.Body)
	if err != nil {
		ch.log.Warn("request could not be decoded", "requestID", m.RequestID, "error", err)
		ch.sendResponse(m.RequestID, ua.NewServiceFault(0, ua.BadDecodingError))
		return
	}
	if _, ok := req.(*ua.Request); !ok {
		ch.abort(uasc.ErrUnexpectedMessage)
		return
	}
	if ch.srv.trace {
		ch.log.Debug("request received", "requestID", m.RequestID, "typeID", req.EncodingID().String(), "size", len(m.Body))
	}
	requestID := m.RequestID
	info := ch.info
	ok := ch.srv.submit(func() {
		ctx := context.WithValue(ch.ctx, ChannelKey, info)
		if hint := req.Header().TimeoutHint; hint > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(hint)*time.Millisecond)
			defer cancel()
		}
		res := ch.srv.handler.ServeUA(ctx, req)
		if res == nil {
			res = ua.NewServiceFault(req.Header().RequestHandle, ua.BadInternalError)
		}
		ch.events.EnqueueBack(channelEvent{kind: eventResponse, requestID: requestID, res: res})
	})
	if !ok {
		ch.sendResponse(requestID, ua.NewServiceFault(req.Header().RequestHandle, ua.BadServerHalted))
	}
}

// sendResponse writes a response. A response over the limits of the
// client is replaced by a ServiceFault.
func (ch *serverSecureChannel) sendResponse(requestID uint32, res ua.ServiceResponse) {
	err := ch.write(uacp.MessageTypeMessage, requestID, res)
	if errors.Is(err, uasc.ErrResponseTooLarge) {
		ch.log.Warn("response too large", "requestID", requestID, "typeID", res.EncodingID().String())
		err = ch.write(uacp.MessageTypeMessage, requestID, ua.NewServiceFault(res.Header().RequestHandle, ua.BadResponseTooLarge))
	}
	if err == nil {
		return
	}
	if ch.channel.State().Terminal() {
		ch.abort(err)
		return
	}
	ch.log.Debug("response not sent", "requestID", requestID, "state", ch.channel.State().String(), "error", err)
}

func (ch *serverSecureChannel) onClose(m *uasc.Message) {
	req, err := ua.DecodeRequest(m.Body)
	if err != nil {
		ch.abort(err)
		return
	}
	if _, ok := req.(*ua.CloseSecureChannelRequest); !ok {
		ch.abort(uasc.ErrUnexpectedMessage)
		return
	}
	if err := ch.channel.Close(); err != nil {
		ch.abort(err)
		return
	}
	ch.srv.audit(AuditCloseSecureChannel, ch.info, ua.Good)
	ch.writes.EnqueueBack(nil)
}

// write encodes the response and queues its chunks for the writer.
func (ch *serverSecureChannel) write(mt uacp.MessageType, requestID uint32, res ua.ServiceResponse) error {
	b := ua.NewByteBuffer(math.MaxInt32)
	if err := ua.EncodeResponse(b, res); err != nil {
		return err
	}
	chunks, err := ch.channel.WriteMessage(mt, requestID, b.Bytes())
	if err != nil {
		return err
	}
	if ch.srv.trace {
		ch.log.Debug("response sent", "type", mt.String(), "requestID", requestID, "typeID", res.EncodingID().String(), "chunks", len(chunks))
	}
	for _, c := range chunks {
		if err := ch.writes.EnqueueBack(c); err != nil {
			return ua.BadSecureChannelClosed
		}
	}
	return nil
}

// abort fails the channel, sends an Error unless the client sent one,
// then asks the writer to close the connection.
func (ch *serverSecureChannel) abort(cause error) {
	if ch.aborted {
		return
	}
	ch.aborted = true
	ch.channel.Fail(cause)
	var remote *uacp.ErrorMessage
	if !errors.As(cause, &remote) {
		if b, err := errorMessage(cause); err == nil {
			ch.writes.EnqueueBack(b)
		}
	}
	ch.srv.audit(AuditSecureChannelFailure, ch.info, ua.StatusCodeOf(cause))
	ch.writes.EnqueueBack(nil)
}

// shutdown releases the channel once the connection is closed.
func (ch *serverSecureChannel) shutdown(cause error) {
	if ch.closed.Load() {
		return
	}
	if ch.channel.State() == uasc.StateClosing {
		ch.channel.Released()
	} else if !ch.aborted {
		ch.channel.Fail(cause)
		ch.srv.audit(AuditSecureChannelFailure, ch.info, ua.StatusCodeOf(cause))
	}
	ch.cancel()
	ch.events.Close()
	ch.writes.Close()
	ch.conn.Close()
	ch.closed.Store(true)
	ch.srv.channelManager.Delete(ch)
	close(ch.done)
	ch.log.Debug("secure channel released", "state", ch.channel.State().String())
}
