// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"time"

	"github.com/systerel/S2OPC-sub041/logger"
	"github.com/systerel/S2OPC-sub041/ua"
	"github.com/systerel/S2OPC-sub041/uacp"
)

// Role is the side of a channel.
type Role int

// Roles
const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Channel errors.
var (
	ErrChannelIDMismatch      = ua.NewError(ua.BadTCPSecureChannelUnknown, "unexpected secure channel id")
	ErrUnexpectedMessage      = ua.NewError(ua.BadTCPMessageTypeInvalid, "unexpected message type")
	ErrSecurityPolicyRejected = ua.NewError(ua.BadSecurityPolicyRejected, "security policy rejected")
	ErrSecurityModeRejected   = ua.NewError(ua.BadSecurityModeRejected, "security mode rejected")
	ErrCertificateRequired    = ua.NewError(ua.BadCertificateInvalid, "certificate and private key required")
	ErrCertificateMismatch    = ua.NewError(ua.BadCertificateInvalid, "sender certificate changed")
	ErrThumbprintMismatch     = ua.NewError(ua.BadCertificateInvalid, "receiver thumbprint mismatch")
	ErrRequestTooLarge        = ua.NewError(ua.BadRequestTooLarge, "request exceeds peer limits")
	ErrResponseTooLarge       = ua.NewError(ua.BadResponseTooLarge, "response exceeds peer limits")
)

// Config configures a Channel.
type Config struct {
	Role Role
	// ChannelID is assigned by the server. Clients leave it zero.
	ChannelID uint32
	// SecurityPolicyURI is required for clients. A server learns it from
	// the first OpenSecureChannel request.
	SecurityPolicyURI string
	SecurityMode      ua.MessageSecurityMode
	LocalCertificate  []byte
	LocalPrivateKey   *rsa.PrivateKey
	// RemoteCertificate is the server certificate, for clients.
	RemoteCertificate []byte
	// Pki validates the certificate of a client, for servers.
	// Nil accepts every certificate.
	Pki ua.PkiProvider
	// AcceptPolicy filters the policies a server accepts. Nil accepts all.
	AcceptPolicy func(uri string) bool
	Clock        func() time.Time
	Logger       logger.Logger
	// Trace logs every chunk at debug level.
	Trace bool
}

// Message is a reassembled message.
type Message struct {
	Type      uacp.MessageType
	RequestID uint32
	// TokenID is the token protecting a MSG or CLO, zero for OPN.
	TokenID uint32
	Body    []byte
}

// Channel is one secure channel: its state machine, security tokens,
// sequence numbers and the reassembly of received chunks.
type Channel struct {
	role               Role
	id                 uint32
	state              State
	err                error
	policy             ua.SecurityPolicy
	mode               ua.MessageSecurityMode
	localCertificate   []byte
	localPrivateKey    *rsa.PrivateKey
	localThumbprint    []byte
	remoteCertificate  []byte
	remotePublicKey    *rsa.PublicKey
	pki                ua.PkiProvider
	acceptPolicy       func(uri string) bool
	limits             uacp.Negotiated
	tokens             *TokenManager
	sendSequenceNumber uint32
	recvSequenceNumber uint32
	pending            []byte
	assembly           *chunkAssembly
	clock              func() time.Time
	log                logger.Logger
	trace              bool
}

// NewChannel returns a channel in state TransportConnecting.
func NewChannel(cfg Config) (*Channel, error) {
	ch := &Channel{
		role:             cfg.Role,
		id:               cfg.ChannelID,
		state:            StateTransportConnecting,
		mode:             cfg.SecurityMode,
		localCertificate: cfg.LocalCertificate,
		localPrivateKey:  cfg.LocalPrivateKey,
		pki:              cfg.Pki,
		acceptPolicy:     cfg.AcceptPolicy,
		tokens:           NewTokenManager(cfg.Role),
		clock:            cfg.Clock,
		log:              cfg.Logger,
		trace:            cfg.Trace,
	}
	if ch.clock == nil {
		ch.clock = time.Now
	}
	if ch.log == nil {
		ch.log = logger.GetLogger()
	}
	ch.log = ch.log.With("role", cfg.Role.String())
	if ch.pki == nil {
		ch.pki = ua.AcceptAllCertificates{}
	}
	if len(cfg.LocalCertificate) > 0 {
		thumbprint := sha1.Sum(cfg.LocalCertificate)
		ch.localThumbprint = thumbprint[:]
	}
	if len(cfg.RemoteCertificate) > 0 {
		if err := ch.setRemoteCertificate(cfg.RemoteCertificate); err != nil {
			return nil, err
		}
	}
	if cfg.Role == RoleClient {
		if err := ch.setSecurityPolicy(cfg.SecurityPolicyURI); err != nil {
			return nil, err
		}
		if err := ch.checkSecurityMode(cfg.SecurityMode); err != nil {
			return nil, err
		}
		if ch.secured() && (ch.localPrivateKey == nil || ch.remotePublicKey == nil) {
			return nil, ErrCertificateRequired
		}
	}
	return ch, nil
}

// ID returns the channel id, zero until assigned by the server.
func (ch *Channel) ID() uint32 { return ch.id }

// Role returns the side of the channel.
func (ch *Channel) Role() Role { return ch.role }

// State returns the lifecycle state.
func (ch *Channel) State() State { return ch.state }

// Err returns the error that moved the channel to StateError.
func (ch *Channel) Err() error { return ch.err }

// SecurityPolicyURI returns the policy uri, empty until known.
func (ch *Channel) SecurityPolicyURI() string {
	if ch.policy == nil {
		return ""
	}
	return ch.policy.PolicyURI()
}

// SecurityPolicy returns the policy, nil until known.
func (ch *Channel) SecurityPolicy() ua.SecurityPolicy { return ch.policy }

// SecurityMode returns the message security mode.
func (ch *Channel) SecurityMode() ua.MessageSecurityMode { return ch.mode }

// RemoteCertificate returns the certificate of the peer, nil for policy None.
func (ch *Channel) RemoteCertificate() []byte { return ch.remoteCertificate }

// Limits returns the limits negotiated by the handshake.
func (ch *Channel) Limits() uacp.Negotiated { return ch.limits }

// Tokens returns the token manager.
func (ch *Channel) Tokens() *TokenManager { return ch.tokens }

func (ch *Channel) secured() bool {
	return ch.policy != nil && ch.policy.PolicyURI() != ua.SecurityPolicyURINone
}

func (ch *Channel) setSecurityPolicy(uri string) error {
	policy, err := ua.NewSecurityPolicy(uri)
	if err != nil {
		return ErrSecurityPolicyRejected
	}
	ch.policy = policy
	return nil
}

func (ch *Channel) checkSecurityMode(mode ua.MessageSecurityMode) error {
	switch mode {
	case ua.MessageSecurityModeNone, ua.MessageSecurityModeSign, ua.MessageSecurityModeSignAndEncrypt:
	default:
		return ErrSecurityModeRejected
	}
	if ch.secured() == (mode == ua.MessageSecurityModeNone) {
		return ErrSecurityModeRejected
	}
	return nil
}

// SetSecurityMode sets the mode requested by a client. Servers call it
// after decoding the first OpenSecureChannel request.
func (ch *Channel) SetSecurityMode(mode ua.MessageSecurityMode) error {
	if ch.role != RoleServer || ch.state != StateSecureOpening || ch.policy == nil {
		return ErrInvalidState
	}
	if err := ch.checkSecurityMode(mode); err != nil {
		return err
	}
	ch.mode = mode
	return nil
}

func (ch *Channel) setRemoteCertificate(der []byte) error {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return ua.BadCertificateInvalid
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return ua.BadCertificateInvalid
	}
	ch.remoteCertificate = der
	ch.remotePublicKey = pub
	return nil
}

func (ch *Channel) setState(to State) error {
	if !canTransition(ch.state, to) {
		return ErrInvalidState
	}
	if ch.trace {
		ch.log.Debug("channel state changed", "channelID", ch.id, "from", ch.state.String(), "to", to.String())
	}
	ch.state = to
	return nil
}

// OnTransportReady records the limits of a completed Hello/Acknowledge
// handshake and moves the channel to SecureOpening.
func (ch *Channel) OnTransportReady(limits uacp.Negotiated) error {
	if ch.state != StateTransportConnecting {
		return ErrInvalidState
	}
	ch.limits = limits
	return ch.setState(StateSecureOpening)
}

// NewNonce returns a nonce for an OpenSecureChannel exchange.
func (ch *Channel) NewNonce() ([]byte, error) {
	if ch.policy == nil {
		return nil, ErrInvalidState
	}
	return ua.NewNonce(ch.policy)
}

// InstallToken derives the keys of a token granted by the server and
// makes it current. The channel moves to Established.
func (ch *Channel) InstallToken(token ua.ChannelSecurityToken, localNonce, remoteNonce []byte) error {
	switch ch.state {
	case StateSecureOpening, StateEstablished, StateRenewing:
	default:
		return ErrInvalidState
	}
	if token.ChannelID == 0 || (ch.id != 0 && token.ChannelID != ch.id) {
		return ch.Fail(ErrChannelIDMismatch)
	}
	keys, err := ch.policy.DeriveKeys(localNonce, remoteNonce)
	if err != nil {
		return ch.Fail(err)
	}
	ch.id = token.ChannelID
	ch.tokens.Install(SecurityToken{
		ChannelID:       token.ChannelID,
		TokenID:         token.TokenID,
		CreatedAt:       ch.clock(),
		RevisedLifetime: token.RevisedLifetime,
	}, keys)
	ch.log.Debug("security token installed", "channelID", ch.id, "tokenID", token.TokenID, "lifetime", token.RevisedLifetime)
	if ch.state != StateEstablished {
		return ch.setState(StateEstablished)
	}
	return nil
}

// BeginRenewal moves an established channel to Renewing. Only one
// renewal may be in flight.
func (ch *Channel) BeginRenewal() error {
	if ch.state == StateRenewing {
		return ErrRenewalAlreadyInProgress
	}
	if ch.state != StateEstablished {
		return ErrInvalidState
	}
	if err := ch.tokens.BeginRenewal(); err != nil {
		return err
	}
	return ch.setState(StateRenewing)
}

// Tick drops expired tokens and reports when the current token is due
// for renewal.
func (ch *Channel) Tick() *RenewalDue {
	if ch.state != StateEstablished && ch.state != StateRenewing {
		return nil
	}
	return ch.tokens.Tick(ch.clock())
}

// Close moves the channel to Closing, once a CloseSecureChannel was
// sent or received.
func (ch *Channel) Close() error {
	if ch.state == StateClosing {
		return nil
	}
	return ch.setState(StateClosing)
}

// Released records that the transport was released. A closing channel
// moves to Closed, a failed channel stays in Error.
func (ch *Channel) Released() {
	if ch.state == StateClosing {
		ch.state = StateClosed
	}
	ch.release()
}

// Fail moves the channel to the terminal Error state and returns err.
// A channel already terminal is left unchanged.
func (ch *Channel) Fail(err error) error {
	if ch.state.Terminal() {
		return err
	}
	ch.log.Warn("secure channel failed", "channelID", ch.id, "state", ch.state.String(), "status", ua.StatusCodeOf(err).Error(), "error", err)
	ch.state = StateError
	ch.err = err
	ch.release()
	return err
}

func (ch *Channel) release() {
	ch.discardAssembly()
	ch.tokens.Clear()
	ch.pending = nil
}
