// Copyright 2021 Converter Systems LLC. All rights reserved.

package server

import (
	"context"
	"time"

	"github.com/systerel/S2OPC-sub041/ua"
)

type key string

// ChannelKey stores the ChannelInfo of the current request in context.
const ChannelKey key = "opcua-channel"

// ChannelInfo describes the secure channel a request was received on.
type ChannelInfo struct {
	ChannelID         uint32
	SecurityPolicyURI string
	SecurityMode      ua.MessageSecurityMode
	RemoteAddress     string
	RemoteCertificate []byte
}

// ChannelInfoFromContext returns the ChannelInfo stored in ctx.
func ChannelInfoFromContext(ctx context.Context) (ChannelInfo, bool) {
	info, ok := ctx.Value(ChannelKey).(ChannelInfo)
	return info, ok
}

// Handler responds to a service request. Handlers run on the worker
// pool of the server. A nil response is answered with a ServiceFault.
type Handler interface {
	ServeUA(ctx context.Context, req ua.ServiceRequest) ua.ServiceResponse
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, req ua.ServiceRequest) ua.ServiceResponse

// ServeUA calls f(ctx, req).
func (f HandlerFunc) ServeUA(ctx context.Context, req ua.ServiceRequest) ua.ServiceResponse {
	return f(ctx, req)
}

// UnsupportedHandler answers every request with BadServiceUnsupported.
var UnsupportedHandler = HandlerFunc(func(ctx context.Context, req ua.ServiceRequest) ua.ServiceResponse {
	return ua.NewServiceFault(req.Header().RequestHandle, ua.BadServiceUnsupported)
})

// EchoHandler answers a request with a response of the matching type
// carrying the body of the request.
var EchoHandler = HandlerFunc(func(ctx context.Context, req ua.ServiceRequest) ua.ServiceResponse {
	r, ok := req.(*ua.Request)
	if !ok {
		return ua.NewServiceFault(req.Header().RequestHandle, ua.BadServiceUnsupported)
	}
	id, ok := r.TypeID.Numeric()
	if !ok {
		return ua.NewServiceFault(req.Header().RequestHandle, ua.BadServiceUnsupported)
	}
	return &ua.Response{
		TypeID: ua.NewNodeIDNumeric(r.TypeID.NamespaceIndex(), id+responseEncodingOffset),
		ResponseHeader: ua.ResponseHeader{
			Timestamp:     time.Now(),
			RequestHandle: r.RequestHeader.RequestHandle,
		},
		Body: r.Body,
	}
})
