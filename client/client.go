// Copyright 2021 Converter Systems LLC. All rights reserved.

package client

import (
	"context"
	"crypto/rsa"
	"net"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/systerel/S2OPC-sub041/internal/queue"
	"github.com/systerel/S2OPC-sub041/logger"
	"github.com/systerel/S2OPC-sub041/ua"
	"github.com/systerel/S2OPC-sub041/uacp"
	"github.com/systerel/S2OPC-sub041/uasc"
)

const (
	defaultTimeoutHint            uint32 = 15000
	defaultTokenRequestedLifetime uint32 = 3600000
	defaultConnectTimeout         int64  = 5000
	defaultRenewalCheckInterval          = time.Second
	defaultPort                          = "4840"
)

// Client is a client of the secure channel of an OPC UA server.
// Requests may be sent from many goroutines. The channel itself is owned
// by one goroutine, fed by the goroutine reading the connection, the
// renewal ticker and the callers of Request.
type Client struct {
	endpointURL                        string
	securityPolicyURI                  string
	securityMode                       ua.MessageSecurityMode
	localCertificate                   []byte
	localPrivateKey                    *rsa.PrivateKey
	remoteCertificate                  []byte
	trustedCertsFile                   string
	suppressHostNameInvalid            bool
	suppressCertificateExpired         bool
	suppressCertificateChainIncomplete bool
	limits                             uacp.Limits
	timeoutHint                        uint32
	tokenLifetime                      uint32
	connectTimeout                     int64
	renewalCheckInterval               time.Duration
	clock                              func() time.Time
	log                                logger.Logger
	trace                              bool

	conn      net.Conn
	channel   *uasc.Channel
	slots     *RequestSlotTable
	events    *queue.Queue[event]
	writes    *queue.Queue[*ua.ByteBuffer]
	open      openState
	channelID atomic.Uint32
	done      chan struct{}
	err       error
}

// Dial returns a secure channel to the OPC UA server with the given URL and options.
func Dial(ctx context.Context, endpointURL string, opts ...Option) (*Client, error) {
	c := &Client{
		endpointURL:          endpointURL,
		securityPolicyURI:    ua.SecurityPolicyURINone,
		limits:               uacp.DefaultLimits(),
		timeoutHint:          defaultTimeoutHint,
		tokenLifetime:        defaultTokenRequestedLifetime,
		connectTimeout:       defaultConnectTimeout,
		renewalCheckInterval: defaultRenewalCheckInterval,
		clock:                time.Now,
		log:                  logger.GetLogger(),
		slots:                NewRequestSlotTable(),
		events:               queue.New[event](0),
		writes:               queue.New[*ua.ByteBuffer](0),
		done:                 make(chan struct{}),
	}

	// apply each option to the default
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.securityMode == ua.MessageSecurityModeInvalid {
		c.securityMode = ua.MessageSecurityModeSignAndEncrypt
		if c.securityPolicyURI == ua.SecurityPolicyURINone {
			c.securityMode = ua.MessageSecurityModeNone
		}
	}

	u, err := url.Parse(endpointURL)
	if err != nil || u.Scheme != "opc.tcp" || u.Hostname() == "" {
		return nil, ua.BadTCPEndpointURLInvalid
	}
	c.log = c.log.With("endpoint", endpointURL)

	// check the server certificate before sending anything
	if c.securityPolicyURI != ua.SecurityPolicyURINone {
		if len(c.remoteCertificate) == 0 || c.localPrivateKey == nil {
			return nil, uasc.ErrCertificateRequired
		}
		cert, v, err := c.certificateValidator(u.Hostname())
		if err != nil {
			return nil, err
		}
		if err := v.ValidateCertificate(cert); err != nil {
			return nil, errors.Wrap(err, "server certificate")
		}
	}

	c.channel, err = uasc.NewChannel(uasc.Config{
		Role:              uasc.RoleClient,
		SecurityPolicyURI: c.securityPolicyURI,
		SecurityMode:      c.securityMode,
		LocalCertificate:  c.localCertificate,
		LocalPrivateKey:   c.localPrivateKey,
		RemoteCertificate: c.remoteCertificate,
		Clock:             c.clock,
		Logger:            c.log,
		Trace:             c.trace,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.connectTimeout)*time.Millisecond)
	defer cancel()

	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), defaultPort)
	}
	var d net.Dialer
	c.conn, err = d.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, errors.Wrap(err, "dial")
	}
	if err := c.handshake(ctx); err != nil {
		c.conn.Close()
		return nil, err
	}

	go c.readLoop()
	go c.writeLoop()
	go c.run()
	go c.tickLoop()

	// open the secure channel
	op := newOperation(nil)
	if _, err := c.do(ctx, event{kind: eventIssue, op: op}, op); err != nil {
		c.Abort()
		return nil, err
	}
	return c, nil
}

// handshake sends the Hello and waits for the Acknowledge.
func (c *Client) handshake(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}
	b := ua.NewByteBuffer(int(uacp.MinBufferSize))
	if err := c.limits.Hello(c.endpointURL).Encode(b); err != nil {
		return err
	}
	if _, err := c.conn.Write(b.Bytes()); err != nil {
		return errors.Wrap(err, "write hello")
	}
	chunk, h, err := uacp.ReadChunk(c.conn, c.limits.ReceiveBufferSize)
	if err != nil {
		return err
	}
	switch h.MessageType {
	case uacp.MessageTypeAck:
		ack, err := uacp.DecodeAcknowledge(chunk)
		if err != nil {
			return err
		}
		n, err := c.limits.Acknowledged(ack)
		if err != nil {
			return err
		}
		return c.channel.OnTransportReady(n)
	case uacp.MessageTypeError:
		m, err := uacp.DecodeErrorMessage(chunk)
		if err != nil {
			return err
		}
		return m
	default:
		return uasc.ErrUnexpectedMessage
	}
}

// Request sends the request and waits for its response. A ServiceFault,
// or a response with a bad service result, is returned as the error.
func (c *Client) Request(ctx context.Context, req ua.ServiceRequest) (ua.ServiceResponse, error) {
	op := newOperation(req)
	return c.do(ctx, event{kind: eventSend, op: op}, op)
}

// Renew requests a new security token and waits until it is installed.
func (c *Client) Renew(ctx context.Context) error {
	op := newOperation(nil)
	_, err := c.do(ctx, event{kind: eventRenew, op: op}, op)
	return err
}

func (c *Client) do(ctx context.Context, ev event, op *operation) (ua.ServiceResponse, error) {
	if err := c.events.EnqueueBack(ev); err != nil {
		return nil, c.closedErr()
	}
	select {
	case r := <-op.resCh:
		return r.res, r.err
	case <-ctx.Done():
		c.events.EnqueueBack(event{kind: eventCancel, op: op})
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ua.BadTimeout
		}
		return nil, ua.BadRequestInterrupted
	case <-c.done:
		select {
		case r := <-op.resCh:
			return r.res, r.err
		default:
			return nil, c.err
		}
	}
}

func (c *Client) closedErr() error {
	select {
	case <-c.done:
		return c.err
	default:
		return ua.BadSecureChannelClosed
	}
}

// Close sends a CloseSecureChannel request and releases the connection.
func (c *Client) Close(ctx context.Context) error {
	if err := c.events.EnqueueFront(event{kind: eventClose}); err != nil {
		return nil
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.Abort()
		return ctx.Err()
	}
}

// Abort releases the connection without closing the secure channel.
func (c *Client) Abort() error {
	c.conn.Close()
	<-c.done
	return nil
}

// Done is closed once the channel is released.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the error that released the channel, nil until Done is closed.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// ChannelID returns the secure channel id assigned by the server.
func (c *Client) ChannelID() uint32 { return c.channelID.Load() }

// EndpointURL returns the url of the server.
func (c *Client) EndpointURL() string { return c.endpointURL }

// SecurityPolicyURI returns the security policy of the channel.
func (c *Client) SecurityPolicyURI() string { return c.securityPolicyURI }

// SecurityMode returns the message security mode of the channel.
func (c *Client) SecurityMode() ua.MessageSecurityMode { return c.securityMode }
