// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua

import (
	"bytes"
	"io"
	"time"
)

// Binary encoding ids of the messages understood by the secure channel.
const (
	ObjectIDServiceFaultEncodingDefaultBinary               uint32 = 397
	ObjectIDOpenSecureChannelRequestEncodingDefaultBinary   uint32 = 446
	ObjectIDOpenSecureChannelResponseEncodingDefaultBinary  uint32 = 449
	ObjectIDCloseSecureChannelRequestEncodingDefaultBinary  uint32 = 452
	ObjectIDCloseSecureChannelResponseEncodingDefaultBinary uint32 = 455
)

// MessageSecurityMode selects signing and encryption of symmetric chunks.
type MessageSecurityMode uint32

// MessageSecurityModes
const (
	MessageSecurityModeInvalid        MessageSecurityMode = 0
	MessageSecurityModeNone           MessageSecurityMode = 1
	MessageSecurityModeSign           MessageSecurityMode = 2
	MessageSecurityModeSignAndEncrypt MessageSecurityMode = 3
)

func (m MessageSecurityMode) String() string {
	switch m {
	case MessageSecurityModeNone:
		return "None"
	case MessageSecurityModeSign:
		return "Sign"
	case MessageSecurityModeSignAndEncrypt:
		return "SignAndEncrypt"
	default:
		return "Invalid"
	}
}

// SecurityTokenRequestType is the kind of OpenSecureChannel request.
type SecurityTokenRequestType uint32

// SecurityTokenRequestTypes
const (
	SecurityTokenRequestTypeIssue SecurityTokenRequestType = 0
	SecurityTokenRequestTypeRenew SecurityTokenRequestType = 1
)

// ServiceRequest is a request that can be sent over a secure channel.
type ServiceRequest interface {
	Header() *RequestHeader
	EncodingID() NodeID
	Encode(enc *BinaryEncoder) error
}

// ServiceResponse is a response that can be sent over a secure channel.
type ServiceResponse interface {
	Header() *ResponseHeader
	EncodingID() NodeID
	Encode(enc *BinaryEncoder) error
}

// OpenSecureChannelRequest asks the server to issue or renew a security token.
type OpenSecureChannelRequest struct {
	RequestHeader         RequestHeader
	ClientProtocolVersion uint32
	RequestType           SecurityTokenRequestType
	SecurityMode          MessageSecurityMode
	ClientNonce           []byte
	RequestedLifetime     uint32
}

// Header returns the request header.
func (r *OpenSecureChannelRequest) Header() *RequestHeader { return &r.RequestHeader }

// EncodingID returns the binary encoding id.
func (r *OpenSecureChannelRequest) EncodingID() NodeID {
	return NewNodeIDNumeric(0, ObjectIDOpenSecureChannelRequestEncodingDefaultBinary)
}

// Encode writes the request fields.
func (r *OpenSecureChannelRequest) Encode(enc *BinaryEncoder) error {
	if err := r.RequestHeader.Encode(enc); err != nil {
		return err
	}
	if err := enc.WriteUInt32(r.ClientProtocolVersion); err != nil {
		return err
	}
	if err := enc.WriteUInt32(uint32(r.RequestType)); err != nil {
		return err
	}
	if err := enc.WriteUInt32(uint32(r.SecurityMode)); err != nil {
		return err
	}
	if err := enc.WriteByteArray(r.ClientNonce); err != nil {
		return err
	}
	return enc.WriteUInt32(r.RequestedLifetime)
}

// Decode reads the request fields.
func (r *OpenSecureChannelRequest) Decode(dec *BinaryDecoder) error {
	if err := r.RequestHeader.Decode(dec); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&r.ClientProtocolVersion); err != nil {
		return err
	}
	var v uint32
	if err := dec.ReadUInt32(&v); err != nil {
		return err
	}
	r.RequestType = SecurityTokenRequestType(v)
	if err := dec.ReadUInt32(&v); err != nil {
		return err
	}
	r.SecurityMode = MessageSecurityMode(v)
	if err := dec.ReadByteArray(&r.ClientNonce); err != nil {
		return err
	}
	return dec.ReadUInt32(&r.RequestedLifetime)
}

// ChannelSecurityToken describes a token granted by the server.
type ChannelSecurityToken struct {
	ChannelID       uint32
	TokenID         uint32
	CreatedAt       time.Time
	RevisedLifetime uint32
}

// OpenSecureChannelResponse carries the granted token and the server nonce.
type OpenSecureChannelResponse struct {
	ResponseHeader        ResponseHeader
	ServerProtocolVersion uint32
	SecurityToken         ChannelSecurityToken
	ServerNonce           []byte
}

// Header returns the response header.
func (r *OpenSecureChannelResponse) Header() *ResponseHeader { return &r.ResponseHeader }

// EncodingID returns the binary encoding id.
func (r *OpenSecureChannelResponse) EncodingID() NodeID {
	return NewNodeIDNumeric(0, ObjectIDOpenSecureChannelResponseEncodingDefaultBinary)
}

// Encode writes the response fields.
func (r *OpenSecureChannelResponse) Encode(enc *BinaryEncoder) error {
	if err := r.ResponseHeader.Encode(enc); err != nil {
		return err
	}
	if err := enc.WriteUInt32(r.ServerProtocolVersion); err != nil {
		return err
	}
	if err := enc.WriteUInt32(r.SecurityToken.ChannelID); err != nil {
		return err
	}
	if err := enc.WriteUInt32(r.SecurityToken.TokenID); err != nil {
		return err
	}
	if err := enc.WriteDateTime(r.SecurityToken.CreatedAt); err != nil {
		return err
	}
	if err := enc.WriteUInt32(r.SecurityToken.RevisedLifetime); err != nil {
		return err
	}
	return enc.WriteByteArray(r.ServerNonce)
}

// Decode reads the response fields.
func (r *OpenSecureChannelResponse) Decode(dec *BinaryDecoder) error {
	if err := r.ResponseHeader.Decode(dec); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&r.ServerProtocolVersion); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&r.SecurityToken.ChannelID); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&r.SecurityToken.TokenID); err != nil {
		return err
	}
	if err := dec.ReadDateTime(&r.SecurityToken.CreatedAt); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&r.SecurityToken.RevisedLifetime); err != nil {
		return err
	}
	return dec.ReadByteArray(&r.ServerNonce)
}

// CloseSecureChannelRequest asks the server to close the channel.
type CloseSecureChannelRequest struct {
	RequestHeader RequestHeader
}

// Header returns the request header.
func (r *CloseSecureChannelRequest) Header() *RequestHeader { return &r.RequestHeader }

// EncodingID returns the binary encoding id.
func (r *CloseSecureChannelRequest) EncodingID() NodeID {
	return NewNodeIDNumeric(0, ObjectIDCloseSecureChannelRequestEncodingDefaultBinary)
}

// Encode writes the request fields.
func (r *CloseSecureChannelRequest) Encode(enc *BinaryEncoder) error {
	return r.RequestHeader.Encode(enc)
}

// Request is a service request whose body is opaque to the secure channel.
type Request struct {
	TypeID        NodeID
	RequestHeader RequestHeader
	Body          []byte
}

// Header returns the request header.
func (r *Request) Header() *RequestHeader { return &r.RequestHeader }

// EncodingID returns the binary encoding id.
func (r *Request) EncodingID() NodeID { return r.TypeID }

// Encode writes the header followed by the body.
func (r *Request) Encode(enc *BinaryEncoder) error {
	if err := r.RequestHeader.Encode(enc); err != nil {
		return err
	}
	return enc.WriteRaw(r.Body)
}

// Response is a service response whose body is opaque to the secure channel.
// A ServiceFault is a Response with an empty body.
type Response struct {
	TypeID         NodeID
	ResponseHeader ResponseHeader
	Body           []byte
}

// Header returns the response header.
func (r *Response) Header() *ResponseHeader { return &r.ResponseHeader }

// EncodingID returns the binary encoding id.
func (r *Response) EncodingID() NodeID { return r.TypeID }

// Encode writes the header followed by the body.
func (r *Response) Encode(enc *BinaryEncoder) error {
	if err := r.ResponseHeader.Encode(enc); err != nil {
		return err
	}
	return enc.WriteRaw(r.Body)
}

// IsServiceFault returns true if the response is a ServiceFault.
func (r *Response) IsServiceFault() bool {
	id, ok := r.TypeID.Numeric()
	return ok && id == ObjectIDServiceFaultEncodingDefaultBinary
}

// NewServiceFault returns a ServiceFault for the request handle.
func NewServiceFault(requestHandle uint32, result StatusCode) *Response {
	return &Response{
		TypeID: NewNodeIDNumeric(0, ObjectIDServiceFaultEncodingDefaultBinary),
		ResponseHeader: ResponseHeader{
			Timestamp:     time.Now(),
			RequestHandle: requestHandle,
			ServiceResult: result,
		},
	}
}

// EncodeRequest writes the encoding id and the request.
func EncodeRequest(w io.Writer, req ServiceRequest) error {
	enc := NewBinaryEncoder(w)
	if err := enc.WriteNodeID(req.EncodingID()); err != nil {
		return err
	}
	return req.Encode(enc)
}

// EncodeResponse writes the encoding id and the response.
func EncodeResponse(w io.Writer, res ServiceResponse) error {
	enc := NewBinaryEncoder(w)
	if err := enc.WriteNodeID(res.EncodingID()); err != nil {
		return err
	}
	return res.Encode(enc)
}

// DecodeRequest reads a request. OpenSecureChannel and CloseSecureChannel
// requests are decoded in full, other requests keep their body opaque.
func DecodeRequest(p []byte) (ServiceRequest, error) {
	r := bytes.NewReader(p)
	dec := NewBinaryDecoder(r)
	var typeID NodeID
	if err := dec.ReadNodeID(&typeID); err != nil {
		return nil, err
	}
	id, _ := typeID.Numeric()
	switch id {
	case ObjectIDOpenSecureChannelRequestEncodingDefaultBinary:
		req := new(OpenSecureChannelRequest)
		if err := req.Decode(dec); err != nil {
			return nil, err
		}
		return req, nil
	case ObjectIDCloseSecureChannelRequestEncodingDefaultBinary:
		req := new(CloseSecureChannelRequest)
		if err := req.RequestHeader.Decode(dec); err != nil {
			return nil, err
		}
		return req, nil
	default:
		req := &Request{TypeID: typeID}
		if err := req.RequestHeader.Decode(dec); err != nil {
			return nil, err
		}
		req.Body = p[len(p)-r.Len():]
		return req, nil
	}
}

// DecodeResponse reads a response. OpenSecureChannel responses are decoded
// in full, other responses keep their body opaque.
func DecodeResponse(p []byte) (ServiceResponse, error) {
	r := bytes.NewReader(p)
	dec := NewBinaryDecoder(r)
	var typeID NodeID
	if err := dec.ReadNodeID(&typeID); err != nil {
		return nil, err
	}
	if id, _ := typeID.Numeric(); id == ObjectIDOpenSecureChannelResponseEncodingDefaultBinary {
		res := new(OpenSecureChannelResponse)
		if err := res.Decode(dec); err != nil {
			return nil, err
		}
		return res, nil
	}
	res := &Response{TypeID: typeID}
	if err := res.ResponseHeader.Decode(dec); err != nil {
		return nil, err
	}
	res.Body = p[len(p)-r.Len():]
	return res, nil
}
