// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"bytes"
	"crypto/sha1"
	"crypto/x509"
	"encoding/binary"

	"github.com/systerel/S2OPC-sub041/ua"
	"github.com/systerel/S2OPC-sub041/uacp"
)

const (
	// sequenceHeaderSize is the size of the sequence number and request id.
	sequenceHeaderSize = 8
	// symmetricHeaderSize is the size of the transport header, channel id
	// and token id of MSG and CLO chunks.
	symmetricHeaderSize = uacp.HeaderSize + 8
)

// Codec errors.
var (
	ErrMalformedChunk = ua.NewError(ua.BadDecodingError, "malformed chunk")
	ErrInvalidPadding = ua.NewError(ua.BadSecurityChecksFailed, "invalid padding")
)

// paddingHeaderSize returns 2 when the block size requires the extra
// padding size byte.
func paddingHeaderSize(blockSize int) int {
	if blockSize > 256 {
		return 2
	}
	return 1
}

func writePadding(enc *ua.BinaryEncoder, paddingSize, headerSize int) {
	paddingByte := byte(paddingSize & 0xFF)
	enc.WriteByte(paddingByte)
	for i := 0; i < paddingSize; i++ {
		enc.WriteByte(paddingByte)
	}
	if headerSize == 2 {
		enc.WriteByte(byte((paddingSize >> 8) & 0xFF))
	}
}

// stripPadding checks the padding ending at end and returns the end of
// the body. The body starts at start.
func stripPadding(p []byte, start, end, headerSize int) (int, error) {
	if end-headerSize < start {
		return 0, ErrInvalidPadding
	}
	var paddingSize int
	if headerSize == 2 {
		paddingSize = int(binary.LittleEndian.Uint16(p[end-2 : end]))
	} else {
		paddingSize = int(p[end-1])
	}
	bodyEnd := end - headerSize - paddingSize
	if bodyEnd < start {
		return 0, ErrInvalidPadding
	}
	for _, v := range p[bodyEnd : end-headerSize+1] {
		if v != byte(paddingSize&0xFF) {
			return 0, ErrInvalidPadding
		}
	}
	return bodyEnd, nil
}

func (ch *Channel) symmetricMaxBodySize() int {
	size := int(ch.limits.SendBufferSize) - symmetricHeaderSize
	switch ch.mode {
	case ua.MessageSecurityModeSignAndEncrypt:
		blockSize := ch.policy.SymEncryptionBlockSize()
		return (size/blockSize)*blockSize - sequenceHeaderSize - paddingHeaderSize(blockSize) - ch.policy.SymSignatureSize()
	case ua.MessageSecurityModeSign:
		return size - sequenceHeaderSize - ch.policy.SymSignatureSize()
	default:
		return size - sequenceHeaderSize
	}
}

func (ch *Channel) encodeSymmetricChunk(mt uacp.MessageType, ct uacp.ChunkType, requestID uint32, body []byte, tokenID uint32, keys *ua.KeySet) (*ua.ByteBuffer, error) {
	// plan
	var signatureSize, paddingHeader, paddingSize int
	switch ch.mode {
	case ua.MessageSecurityModeSignAndEncrypt:
		blockSize := ch.policy.SymEncryptionBlockSize()
		signatureSize = ch.policy.SymSignatureSize()
		paddingHeader = paddingHeaderSize(blockSize)
		paddingSize = (blockSize - ((sequenceHeaderSize + len(body) + paddingHeader + signatureSize) % blockSize)) % blockSize
	case ua.MessageSecurityModeSign:
		signatureSize = ch.policy.SymSignatureSize()
	}
	chunkSize := symmetricHeaderSize + sequenceHeaderSize + len(body) + paddingSize + paddingHeader + signatureSize

	b := ua.NewByteBuffer(chunkSize)
	if err := (uacp.Header{MessageType: mt, ChunkType: ct, MessageSize: uint32(chunkSize)}).Encode(b); err != nil {
		return nil, err
	}
	enc := ua.NewBinaryEncoder(b)

	// symmetric security header
	enc.WriteUInt32(ch.id)
	enc.WriteUInt32(tokenID)

	// sequence header
	ch.sendSequenceNumber = nextSequenceNumber(ch.sendSequenceNumber)
	enc.WriteUInt32(ch.sendSequenceNumber)
	enc.WriteUInt32(requestID)

	// body
	enc.WriteRaw(body)

	// padding
	if paddingHeader > 0 {
		writePadding(enc, paddingSize, paddingHeader)
	}

	// sign
	if signatureSize > 0 {
		signature, err := keys.Sign(b.Bytes())
		if err != nil {
			return nil, err
		}
		enc.WriteRaw(signature)
	}

	if b.Len() != chunkSize {
		return nil, ua.BadEncodingError
	}

	// encrypt
	if ch.mode == ua.MessageSecurityModeSignAndEncrypt {
		if err := keys.Encrypt(b.Bytes()[symmetricHeaderSize:]); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// decodeSymmetricChunk decodes a MSG or CLO chunk. The buffer position
// follows the channel id.
func (ch *Channel) decodeSymmetricChunk(b *ua.ByteBuffer) (*chunk, error) {
	var tokenID uint32
	if err := ua.NewBinaryDecoder(b).ReadUInt32(&tokenID); err != nil {
		return nil, ErrMalformedChunk
	}
	keys, err := ch.tokens.SelectForDecode(tokenID, ch.clock())
	if err != nil {
		return nil, err
	}
	p := b.Bytes()
	end := len(p)

	// decrypt
	if ch.mode == ua.MessageSecurityModeSignAndEncrypt {
		if err := keys.Decrypt(p[symmetricHeaderSize:]); err != nil {
			return nil, err
		}
	}

	// verify
	if ch.mode != ua.MessageSecurityModeNone {
		sigStart := end - ch.policy.SymSignatureSize()
		if sigStart < symmetricHeaderSize+sequenceHeaderSize {
			return nil, ErrMalformedChunk
		}
		if err := keys.Verify(p[:sigStart], p[sigStart:end]); err != nil {
			return nil, err
		}
		end = sigStart
	}

	// padding
	if ch.mode == ua.MessageSecurityModeSignAndEncrypt {
		end, err = stripPadding(p, symmetricHeaderSize+sequenceHeaderSize, end, paddingHeaderSize(ch.policy.SymEncryptionBlockSize()))
		if err != nil {
			return nil, err
		}
	}

	return &chunk{
		tokenID:        tokenID,
		sequenceNumber: binary.LittleEndian.Uint32(p[symmetricHeaderSize:]),
		requestID:      binary.LittleEndian.Uint32(p[symmetricHeaderSize+4:]),
		body:           p[symmetricHeaderSize+sequenceHeaderSize : end],
	}, nil
}

// asymmetricHeaderSize returns the size of the transport header, channel
// id and asymmetric security header of OPN chunks sent.
func (ch *Channel) asymmetricHeaderSize() int {
	n := uacp.HeaderSize + 4 + 4 + len(ch.policy.PolicyURI()) + 4 + 4
	if ch.secured() {
		n += len(ch.localCertificate) + sha1.Size
	}
	return n
}

func (ch *Channel) asymmetricMaxBodySize() (int, error) {
	if ch.policy == nil {
		return 0, ErrInvalidState
	}
	size := int(ch.limits.SendBufferSize) - ch.asymmetricHeaderSize()
	if !ch.secured() {
		return size - sequenceHeaderSize, nil
	}
	if ch.localPrivateKey == nil || ch.remotePublicKey == nil {
		return 0, ErrCertificateRequired
	}
	cipherTextBlockSize := ch.remotePublicKey.Size()
	plainTextBlockSize := cipherTextBlockSize - ch.policy.RSAPaddingSize()
	return (size/cipherTextBlockSize)*plainTextBlockSize - sequenceHeaderSize - paddingHeaderSize(cipherTextBlockSize) - ch.localPrivateKey.Size(), nil
}

func (ch *Channel) encodeAsymmetricChunk(mt uacp.MessageType, ct uacp.ChunkType, requestID uint32, body []byte) (*ua.ByteBuffer, error) {
	secured := ch.secured()

	// plan
	plainHeaderSize := ch.asymmetricHeaderSize()
	var signatureSize, paddingHeader, paddingSize, cipherTextBlockSize, plainTextBlockSize int
	plainSize := plainHeaderSize + sequenceHeaderSize + len(body)
	chunkSize := plainSize
	if secured {
		signatureSize = ch.localPrivateKey.Size()
		cipherTextBlockSize = ch.remotePublicKey.Size()
		plainTextBlockSize = cipherTextBlockSize - ch.policy.RSAPaddingSize()
		paddingHeader = paddingHeaderSize(cipherTextBlockSize)
		paddingSize = (plainTextBlockSize - ((sequenceHeaderSize + len(body) + paddingHeader + signatureSize) % plainTextBlockSize)) % plainTextBlockSize
		plainTextSize := sequenceHeaderSize + len(body) + paddingSize + paddingHeader + signatureSize
		plainSize = plainHeaderSize + plainTextSize
		chunkSize = plainHeaderSize + (plainTextSize/plainTextBlockSize)*cipherTextBlockSize
	}

	b := ua.NewByteBuffer(plainSize)
	if err := (uacp.Header{MessageType: mt, ChunkType: ct, MessageSize: uint32(chunkSize)}).Encode(b); err != nil {
		return nil, err
	}
	enc := ua.NewBinaryEncoder(b)
	enc.WriteUInt32(ch.id)

	// asymmetric security header
	enc.WriteString(ch.policy.PolicyURI())
	if secured {
		enc.WriteByteArray(ch.localCertificate)
		thumbprint := sha1.Sum(ch.remoteCertificate)
		enc.WriteByteArray(thumbprint[:])
	} else {
		enc.WriteByteArray(nil)
		enc.WriteByteArray(nil)
	}
	if b.Len() != plainHeaderSize {
		return nil, ua.BadEncodingError
	}

	// sequence header
	ch.sendSequenceNumber = nextSequenceNumber(ch.sendSequenceNumber)
	enc.WriteUInt32(ch.sendSequenceNumber)
	enc.WriteUInt32(requestID)

	// body
	enc.WriteRaw(body)
	if !secured {
		if b.Len() != chunkSize {
			return nil, ua.BadEncodingError
		}
		return b, nil
	}

	// padding
	writePadding(enc, paddingSize, paddingHeader)

	// sign with local private key
	signature, err := ch.policy.RSASign(ch.localPrivateKey, b.Bytes())
	if err != nil {
		return nil, ua.BadSecurityChecksFailed
	}
	enc.WriteRaw(signature)
	if b.Len() != plainSize {
		return nil, ua.BadEncodingError
	}

	// encrypt with remote public key
	out := ua.NewByteBuffer(chunkSize)
	if _, err := out.Write(b.Bytes()[:plainHeaderSize]); err != nil {
		return nil, err
	}
	plainText := b.Bytes()[plainHeaderSize:]
	for i := 0; i < len(plainText); i += plainTextBlockSize {
		cipherText, err := ch.policy.RSAEncrypt(ch.remotePublicKey, plainText[i:i+plainTextBlockSize])
		if err != nil {
			return nil, ua.BadSecurityChecksFailed
		}
		if _, err := out.Write(cipherText); err != nil {
			return nil, err
		}
	}
	if out.Len() != chunkSize {
		return nil, ua.BadEncodingError
	}
	return out, nil
}

// decodeAsymmetricChunk decodes an OPN chunk. The buffer position
// follows the channel id.
func (ch *Channel) decodeAsymmetricChunk(b *ua.ByteBuffer) (*chunk, error) {
	dec := ua.NewBinaryDecoder(b)
	dec.SetMaxLength(int(ch.limits.ReceiveBufferSize))
	var securityPolicyURI string
	if err := dec.ReadString(&securityPolicyURI); err != nil {
		return nil, ErrMalformedChunk
	}
	var senderCertificate []byte
	if err := dec.ReadByteArray(&senderCertificate); err != nil {
		return nil, ErrMalformedChunk
	}
	var receiverThumbprint []byte
	if err := dec.ReadByteArray(&receiverThumbprint); err != nil {
		return nil, ErrMalformedChunk
	}
	if err := ch.acceptSecurityPolicy(securityPolicyURI); err != nil {
		return nil, err
	}
	plainHeaderSize := b.Position()
	p := b.Bytes()

	if !ch.secured() {
		if len(p) < plainHeaderSize+sequenceHeaderSize {
			return nil, ErrMalformedChunk
		}
		return &chunk{
			sequenceNumber: binary.LittleEndian.Uint32(p[plainHeaderSize:]),
			requestID:      binary.LittleEndian.Uint32(p[plainHeaderSize+4:]),
			body:           p[plainHeaderSize+sequenceHeaderSize:],
		}, nil
	}

	if ch.localPrivateKey == nil {
		return nil, ErrCertificateRequired
	}
	if !bytes.Equal(receiverThumbprint, ch.localThumbprint) {
		return nil, ErrThumbprintMismatch
	}
	if err := ch.acceptSenderCertificate(senderCertificate); err != nil {
		return nil, err
	}

	// decrypt with local private key
	cipherTextBlockSize := ch.localPrivateKey.Size()
	cipherText := p[plainHeaderSize:]
	if len(cipherText) == 0 || len(cipherText)%cipherTextBlockSize != 0 {
		return nil, ErrMalformedChunk
	}
	plain := make([]byte, plainHeaderSize, len(p))
	copy(plain, p[:plainHeaderSize])
	for i := 0; i < len(cipherText); i += cipherTextBlockSize {
		plainText, err := ch.policy.RSADecrypt(ch.localPrivateKey, cipherText[i:i+cipherTextBlockSize])
		if err != nil {
			return nil, ua.BadSecurityChecksFailed
		}
		plain = append(plain, plainText...)
	}

	// verify with remote public key
	sigStart := len(plain) - ch.remotePublicKey.Size()
	if sigStart < plainHeaderSize+sequenceHeaderSize {
		return nil, ErrMalformedChunk
	}
	if err := ch.policy.RSAVerify(ch.remotePublicKey, plain[:sigStart], plain[sigStart:]); err != nil {
		return nil, ua.BadSecurityChecksFailed
	}

	end, err := stripPadding(plain, plainHeaderSize+sequenceHeaderSize, sigStart, paddingHeaderSize(cipherTextBlockSize))
	if err != nil {
		return nil, err
	}
	return &chunk{
		sequenceNumber: binary.LittleEndian.Uint32(plain[plainHeaderSize:]),
		requestID:      binary.LittleEndian.Uint32(plain[plainHeaderSize+4:]),
		body:           plain[plainHeaderSize+sequenceHeaderSize : end],
	}, nil
}

// acceptSecurityPolicy checks the policy of an OPN chunk. A server
// learns it from the first one.
func (ch *Channel) acceptSecurityPolicy(uri string) error {
	if ch.policy != nil {
		if uri != ch.policy.PolicyURI() {
			return ErrSecurityPolicyRejected
		}
		return nil
	}
	if ch.acceptPolicy != nil && !ch.acceptPolicy(uri) {
		return ErrSecurityPolicyRejected
	}
	return ch.setSecurityPolicy(uri)
}

// acceptSenderCertificate checks the certificate of an OPN chunk. The
// first certificate of a client is validated, later ones must not change.
func (ch *Channel) acceptSenderCertificate(der []byte) error {
	if len(ch.remoteCertificate) > 0 {
		if !bytes.Equal(der, ch.remoteCertificate) {
			return ErrCertificateMismatch
		}
		return nil
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return ua.BadCertificateInvalid
	}
	if err := ch.pki.ValidateCertificate(cert); err != nil {
		return err
	}
	return ch.setRemoteCertificate(der)
}
