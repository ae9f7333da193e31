// Copyright 2021 Converter Systems LLC. All rights reserved.

package server

import (
	"time"

	"github.com/google/uuid"
	"github.com/systerel/S2OPC-sub041/logger"
	"github.com/systerel/S2OPC-sub041/ua"
)

// AuditEventType is the kind of an AuditEvent.
type AuditEventType int

// AuditEventTypes
const (
	AuditOpenSecureChannel AuditEventType = iota
	AuditRenewSecureChannel
	AuditCloseSecureChannel
	AuditSecureChannelFailure
)

func (t AuditEventType) String() string {
	switch t {
	case AuditOpenSecureChannel:
		return "OpenSecureChannel"
	case AuditRenewSecureChannel:
		return "RenewSecureChannel"
	case AuditCloseSecureChannel:
		return "CloseSecureChannel"
	case AuditSecureChannelFailure:
		return "SecureChannelFailure"
	default:
		return "Unknown"
	}
}

// AuditEvent records a change of a secure channel.
type AuditEvent struct {
	ID                uuid.UUID
	Type              AuditEventType
	Time              time.Time
	ChannelID         uint32
	RemoteAddress     string
	SecurityPolicyURI string
	SecurityMode      ua.MessageSecurityMode
	Status            ua.StatusCode
}

// AuditHandler receives audit events. It is called from the goroutine of
// the channel and must not block.
type AuditHandler func(e AuditEvent)

// LogAuditHandler returns an AuditHandler writing each event to l.
func LogAuditHandler(l logger.Logger) AuditHandler {
	return func(e AuditEvent) {
		kv := []any{
			"id", e.ID.String(),
			"channelID", e.ChannelID,
			"remote", e.RemoteAddress,
			"policy", e.SecurityPolicyURI,
			"mode", e.SecurityMode.String(),
			"status", e.Status.Error(),
		}
		if e.Status.IsBad() {
			l.Warn("audit "+e.Type.String(), kv...)
			return
		}
		l.Info("audit "+e.Type.String(), kv...)
	}
}

func newAuditEvent(t AuditEventType, now time.Time, info ChannelInfo, status ua.StatusCode) AuditEvent {
	return AuditEvent{
		ID:                uuid.New(),
		Type:              t,
		Time:              now,
		ChannelID:         info.ChannelID,
		RemoteAddress:     info.RemoteAddress,
		SecurityPolicyURI: info.SecurityPolicyURI,
		SecurityMode:      info.SecurityMode,
		Status:            status,
	}
}
