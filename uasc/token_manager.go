// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"time"

	"github.com/systerel/S2OPC-sub041/ua"
)

const (
	// renewalRatio is the share of a token lifetime after which a
	// client renews it.
	renewalRatio = 0.75
	// clientGraceRatio is the share of the lifetime a client keeps
	// accepting a token after it expired.
	clientGraceRatio = 0.25
)

// Token errors.
var (
	ErrUnknownToken             = ua.NewError(ua.BadSecureChannelTokenUnknown, "security token unknown or expired")
	ErrNoToken                  = ua.NewError(ua.BadSecureChannelClosed, "no security token installed")
	ErrRenewalAlreadyInProgress = ua.NewError(ua.BadInvalidState, "token renewal already in progress")
)

// SecurityToken identifies the keys protecting a channel for a period.
type SecurityToken struct {
	ChannelID uint32
	TokenID   uint32
	// CreatedAt is the local time the token was installed.
	CreatedAt time.Time
	// RevisedLifetime is the lifetime granted by the server, in milliseconds.
	RevisedLifetime uint32
}

// Lifetime returns the granted lifetime.
func (t SecurityToken) Lifetime() time.Duration {
	return time.Duration(t.RevisedLifetime) * time.Millisecond
}

// RenewalDue signals that the current token must be renewed.
type RenewalDue struct {
	TokenID uint32
	Elapsed time.Duration
}

type tokenEntry struct {
	token SecurityToken
	keys  *ua.KeySetPair
}

// TokenManager keeps the current and previous security tokens of a
// channel, selects the keys of each chunk and signals renewals.
type TokenManager struct {
	role           Role
	current        *tokenEntry
	previous       *tokenEntry
	renewalPending bool
	// activated is false on a server between a renewal and the first
	// chunk the client protects with the new token.
	activated bool
}

// NewTokenManager returns a token manager for one side of a channel.
func NewTokenManager(role Role) *TokenManager {
	return &TokenManager{role: role}
}

// Install makes the token current. The former current token is kept as
// previous, any older token is dropped.
func (m *TokenManager) Install(token SecurityToken, keys *ua.KeySetPair) {
	if m.current != nil {
		m.previous = m.current
	}
	m.current = &tokenEntry{token: token, keys: keys}
	m.renewalPending = false
	m.activated = m.role == RoleClient || m.previous == nil
}

// Current returns the current token.
func (m *TokenManager) Current() (SecurityToken, bool) {
	if m.current == nil {
		return SecurityToken{}, false
	}
	return m.current.token, true
}

// Previous returns the token superseded by the current one, while it
// is still retained.
func (m *TokenManager) Previous() (SecurityToken, bool) {
	if m.previous == nil {
		return SecurityToken{}, false
	}
	return m.previous.token, true
}

// RenewalPending returns true between BeginRenewal and the next Install.
func (m *TokenManager) RenewalPending() bool {
	return m.renewalPending
}

// expiry returns the time after which chunks protected by the token are
// rejected.
func (m *TokenManager) expiry(t SecurityToken) time.Time {
	lifetime := t.Lifetime()
	if m.role == RoleClient {
		lifetime += time.Duration(float64(lifetime) * clientGraceRatio)
	}
	return t.CreatedAt.Add(lifetime)
}

// SelectForDecode returns the keys verifying a chunk carrying tokenID.
func (m *TokenManager) SelectForDecode(tokenID uint32, now time.Time) (*ua.KeySet, error) {
	if e := m.current; e != nil && e.token.TokenID == tokenID {
		if now.After(m.expiry(e.token)) {
			return nil, ErrUnknownToken
		}
		// the client switched to the new token
		m.activated = true
		return e.keys.Remote, nil
	}
	if e := m.previous; e != nil && e.token.TokenID == tokenID {
		if now.After(m.expiry(e.token)) {
			return nil, ErrUnknownToken
		}
		return e.keys.Remote, nil
	}
	return nil, ErrUnknownToken
}

// SelectForEncode returns the token and keys protecting the next chunk
// sent. A server keeps the previous token until the client used the new one.
func (m *TokenManager) SelectForEncode() (uint32, *ua.KeySet, error) {
	if !m.activated && m.previous != nil {
		return m.previous.token.TokenID, m.previous.keys.Local, nil
	}
	if m.current == nil {
		return 0, nil, ErrNoToken
	}
	return m.current.token.TokenID, m.current.keys.Local, nil
}

// Tick drops the previous token once expired and returns a RenewalDue
// when the current token reached the renewal ratio of its lifetime.
// Only clients renew tokens.
func (m *TokenManager) Tick(now time.Time) *RenewalDue {
	if m.previous != nil && now.After(m.expiry(m.previous.token)) {
		m.previous = nil
		m.activated = true
	}
	if m.role != RoleClient || m.current == nil {
		return nil
	}
	t := m.current.token
	elapsed := now.Sub(t.CreatedAt)
	if float64(elapsed) >= float64(t.Lifetime())*renewalRatio {
		return &RenewalDue{TokenID: t.TokenID, Elapsed: elapsed}
	}
	return nil
}

// BeginRenewal marks a renewal as sent. A second renewal before the
// next Install fails with ErrRenewalAlreadyInProgress.
func (m *TokenManager) BeginRenewal() error {
	if m.renewalPending {
		return ErrRenewalAlreadyInProgress
	}
	m.renewalPending = true
	return nil
}

// Clear drops every token.
func (m *TokenManager) Clear() {
	m.current, m.previous = nil, nil
	m.renewalPending = false
	m.activated = false
}
