// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/systerel/S2OPC-sub041/ua"
	"gotest.tools/assert"
)

func TestOpenSecureChannelRequest(t *testing.T) {
	in := &ua.OpenSecureChannelRequest{
		RequestHeader: ua.RequestHeader{
			Timestamp:     time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
			RequestHandle: 7,
			TimeoutHint:   15000,
		},
		RequestType:       ua.SecurityTokenRequestTypeRenew,
		SecurityMode:      ua.MessageSecurityModeSignAndEncrypt,
		ClientNonce:       bytes.Repeat([]byte{0xAB}, 32),
		RequestedLifetime: 300000,
	}
	buf := &bytes.Buffer{}
	assert.NilError(t, ua.EncodeRequest(buf, in))

	msg, err := ua.DecodeRequest(buf.Bytes())
	assert.NilError(t, err)
	out, ok := msg.(*ua.OpenSecureChannelRequest)
	assert.Assert(t, ok)
	assert.Equal(t, out.RequestHeader.RequestHandle, uint32(7))
	assert.Equal(t, out.RequestHeader.TimeoutHint, uint32(15000))
	assert.Assert(t, out.RequestHeader.Timestamp.Equal(in.RequestHeader.Timestamp))
	assert.Equal(t, out.RequestType, ua.SecurityTokenRequestTypeRenew)
	assert.Equal(t, out.SecurityMode, ua.MessageSecurityModeSignAndEncrypt)
	assert.DeepEqual(t, out.ClientNonce, in.ClientNonce)
	assert.Equal(t, out.RequestedLifetime, uint32(300000))
}

func TestOpenSecureChannelResponse(t *testing.T) {
	in := &ua.OpenSecureChannelResponse{
		ResponseHeader: ua.ResponseHeader{RequestHandle: 3},
		SecurityToken: ua.ChannelSecurityToken{
			ChannelID:       11,
			TokenID:         2,
			CreatedAt:       time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
			RevisedLifetime: 300000,
		},
		ServerNonce: []byte{1, 2, 3},
	}
	buf := &bytes.Buffer{}
	assert.NilError(t, ua.EncodeResponse(buf, in))

	msg, err := ua.DecodeResponse(buf.Bytes())
	assert.NilError(t, err)
	out, ok := msg.(*ua.OpenSecureChannelResponse)
	assert.Assert(t, ok)
	assert.Equal(t, out.ResponseHeader.RequestHandle, uint32(3))
	assert.Equal(t, out.SecurityToken.ChannelID, uint32(11))
	assert.Equal(t, out.SecurityToken.TokenID, uint32(2))
	assert.Equal(t, out.SecurityToken.RevisedLifetime, uint32(300000))
	assert.DeepEqual(t, out.ServerNonce, []byte{1, 2, 3})
}

func TestOpaqueRequestBody(t *testing.T) {
	token := ua.NewNodeIDGUID(1, uuid.New())
	in := &ua.Request{
		TypeID:        ua.NewNodeIDNumeric(0, 631),
		RequestHeader: ua.RequestHeader{AuthenticationToken: token, RequestHandle: 42},
		Body:          []byte("read these nodes"),
	}
	buf := &bytes.Buffer{}
	assert.NilError(t, ua.EncodeRequest(buf, in))

	msg, err := ua.DecodeRequest(buf.Bytes())
	assert.NilError(t, err)
	out, ok := msg.(*ua.Request)
	assert.Assert(t, ok)
	assert.Equal(t, out.TypeID, in.TypeID)
	assert.Equal(t, out.RequestHeader.AuthenticationToken, token)
	assert.Equal(t, out.RequestHeader.RequestHandle, uint32(42))
	assert.DeepEqual(t, out.Body, in.Body)
}

func TestServiceFault(t *testing.T) {
	buf := &bytes.Buffer{}
	assert.NilError(t, ua.EncodeResponse(buf, ua.NewServiceFault(9, ua.BadServiceUnsupported)))

	msg, err := ua.DecodeResponse(buf.Bytes())
	assert.NilError(t, err)
	out, ok := msg.(*ua.Response)
	assert.Assert(t, ok)
	assert.Assert(t, out.IsServiceFault())
	assert.Equal(t, out.ResponseHeader.RequestHandle, uint32(9))
	assert.Equal(t, out.ResponseHeader.ServiceResult, ua.BadServiceUnsupported)
	assert.Equal(t, len(out.Body), 0)
}
