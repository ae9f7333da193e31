// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"hash"
)

// SecurityPolicyURIs
const (
	SecurityPolicyURINone                = "http://opcfoundation.org/UA/SecurityPolicy#None"
	SecurityPolicyURIBasic128Rsa15       = "http://opcfoundation.org/UA/SecurityPolicy#Basic128Rsa15"
	SecurityPolicyURIBasic256            = "http://opcfoundation.org/UA/SecurityPolicy#Basic256"
	SecurityPolicyURIBasic256Sha256      = "http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256"
	SecurityPolicyURIAes128Sha256RsaOaep = "http://opcfoundation.org/UA/SecurityPolicy#Aes128_Sha256_RsaOaep"
	SecurityPolicyURIAes256Sha256RsaPss  = "http://opcfoundation.org/UA/SecurityPolicy#Aes256_Sha256_RsaPss"
)

// SecurityPolicy is the cryptographic capability of one policy URI:
// asymmetric sign/verify/encrypt/decrypt, the symmetric algorithm sizes
// and the derivation of symmetric key sets from the exchanged nonces.
type SecurityPolicy interface {
	PolicyURI() string
	RSASign(priv *rsa.PrivateKey, plainText []byte) ([]byte, error)
	RSAVerify(pub *rsa.PublicKey, plainText, signature []byte) error
	RSAEncrypt(pub *rsa.PublicKey, plainText []byte) ([]byte, error)
	RSADecrypt(priv *rsa.PrivateKey, cipherText []byte) ([]byte, error)
	SymHMACFactory(key []byte) hash.Hash
	RSAPaddingSize() int
	SymSignatureSize() int
	SymSignatureKeySize() int
	SymEncryptionBlockSize() int
	SymEncryptionKeySize() int
	NonceSize() int
	DeriveKeys(localNonce, remoteNonce []byte) (*KeySetPair, error)
}

// securityPolicy is a table entry describing one policy.
type securityPolicy struct {
	uri         string
	signHash    crypto.Hash
	pss         bool
	oaepHash    func() hash.Hash // nil selects PKCS#1 v1.5 encryption
	symHash     func() hash.Hash
	paddingSize int
	sigSize     int
	sigKeySize  int
	blockSize   int
	encKeySize  int
	nonceSize   int
}

var securityPolicies = map[string]*securityPolicy{
	SecurityPolicyURINone: {
		uri:       SecurityPolicyURINone,
		blockSize: 1,
	},
	SecurityPolicyURIBasic128Rsa15: {
		uri:         SecurityPolicyURIBasic128Rsa15,
		signHash:    crypto.SHA1,
		symHash:     sha1.New,
		paddingSize: 11,
		sigSize:     20,
		sigKeySize:  16,
		blockSize:   16,
		encKeySize:  16,
		nonceSize:   16,
	},
	SecurityPolicyURIBasic256: {
		uri:         SecurityPolicyURIBasic256,
		signHash:    crypto.SHA1,
		oaepHash:    sha1.New,
		symHash:     sha1.New,
		paddingSize: 42,
		sigSize:     20,
		sigKeySize:  24,
		blockSize:   16,
		encKeySize:  32,
		nonceSize:   32,
	},
	SecurityPolicyURIBasic256Sha256: {
		uri:         SecurityPolicyURIBasic256Sha256,
		signHash:    crypto.SHA256,
		oaepHash:    sha1.New,
		symHash:     sha256.New,
		paddingSize: 42,
		sigSize:     32,
		sigKeySize:  32,
		blockSize:   16,
		encKeySize:  32,
		nonceSize:   32,
	},
	SecurityPolicyURIAes128Sha256RsaOaep: {
		uri:         SecurityPolicyURIAes128Sha256RsaOaep,
		signHash:    crypto.SHA256,
		oaepHash:    sha1.New,
		symHash:     sha256.New,
		paddingSize: 42,
		sigSize:     32,
		sigKeySize:  32,
		blockSize:   16,
		encKeySize:  16,
		nonceSize:   32,
	},
	SecurityPolicyURIAes256Sha256RsaPss: {
		uri:         SecurityPolicyURIAes256Sha256RsaPss,
		signHash:    crypto.SHA256,
		pss:         true,
		oaepHash:    sha256.New,
		symHash:     sha256.New,
		paddingSize: 66,
		sigSize:     32,
		sigKeySize:  32,
		blockSize:   16,
		encKeySize:  32,
		nonceSize:   32,
	},
}

// NewSecurityPolicy returns the SecurityPolicy for the uri.
func NewSecurityPolicy(uri string) (SecurityPolicy, error) {
	if p, ok := securityPolicies[uri]; ok {
		return p, nil
	}
	return nil, BadSecurityPolicyRejected
}

func (p *securityPolicy) PolicyURI() string { return p.uri }

func (p *securityPolicy) RSASign(priv *rsa.PrivateKey, plainText []byte) ([]byte, error) {
	if p.symHash == nil || priv == nil {
		return nil, BadSecurityPolicyRejected
	}
	h := p.signHash.New()
	h.Write(plainText)
	hashed := h.Sum(nil)
	if p.pss {
		return rsa.SignPSS(rand.Reader, priv, p.signHash, hashed, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	}
	return rsa.SignPKCS1v15(rand.Reader, priv, p.signHash, hashed)
}

func (p *securityPolicy) RSAVerify(pub *rsa.PublicKey, plainText, signature []byte) error {
	if p.symHash == nil || pub == nil {
		return BadSecurityPolicyRejected
	}
	h := p.signHash.New()
	h.Write(plainText)
	hashed := h.Sum(nil)
	if p.pss {
		return rsa.VerifyPSS(pub, p.signHash, hashed, signature, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	}
	return rsa.VerifyPKCS1v15(pub, p.signHash, hashed, signature)
}

func (p *securityPolicy) RSAEncrypt(pub *rsa.PublicKey, plainText []byte) ([]byte, error) {
	if p.symHash == nil || pub == nil {
		return nil, BadSecurityPolicyRejected
	}
	if p.oaepHash == nil {
		return rsa.EncryptPKCS1v15(rand.Reader, pub, plainText)
	}
	return rsa.EncryptOAEP(p.oaepHash(), rand.Reader, pub, plainText, []byte{})
}

func (p *securityPolicy) RSADecrypt(priv *rsa.PrivateKey, cipherText []byte) ([]byte, error) {
	if p.symHash == nil || priv == nil {
		return nil, BadSecurityPolicyRejected
	}
	if p.oaepHash == nil {
		return rsa.DecryptPKCS1v15(rand.Reader, priv, cipherText)
	}
	return rsa.DecryptOAEP(p.oaepHash(), rand.Reader, priv, cipherText, []byte{})
}

func (p *securityPolicy) SymHMACFactory(key []byte) hash.Hash {
	if p.symHash == nil {
		return nil
	}
	return hmac.New(p.symHash, key)
}

func (p *securityPolicy) RSAPaddingSize() int { return p.paddingSize }

func (p *securityPolicy) SymSignatureSize() int { return p.sigSize }

func (p *securityPolicy) SymSignatureKeySize() int { return p.sigKeySize }

func (p *securityPolicy) SymEncryptionBlockSize() int { return p.blockSize }

func (p *securityPolicy) SymEncryptionKeySize() int { return p.encKeySize }

func (p *securityPolicy) NonceSize() int { return p.nonceSize }

// DeriveKeys derives the local (sending) and remote (receiving) key sets.
// The local keys are P_SHA(remoteNonce, localNonce), the remote keys are
// P_SHA(localNonce, remoteNonce).
func (p *securityPolicy) DeriveKeys(localNonce, remoteNonce []byte) (*KeySetPair, error) {
	if p.symHash == nil {
		return &KeySetPair{Local: &KeySet{}, Remote: &KeySet{}}, nil
	}
	if len(localNonce) != p.nonceSize || len(remoteNonce) != p.nonceSize {
		return nil, BadNonceInvalid
	}
	size := p.sigKeySize + p.encKeySize + p.blockSize
	local, err := p.newKeySet(calculatePSHA(p.symHash, remoteNonce, localNonce, size))
	if err != nil {
		return nil, err
	}
	remote, err := p.newKeySet(calculatePSHA(p.symHash, localNonce, remoteNonce, size))
	if err != nil {
		return nil, err
	}
	return &KeySetPair{Local: local, Remote: remote}, nil
}

// NewNonce returns a random nonce of the policy's size.
func NewNonce(policy SecurityPolicy) ([]byte, error) {
	n := policy.NonceSize()
	if n == 0 {
		return nil, nil
	}
	nonce := make([]byte, n)
	if _, err := rand.Read(nonce); err != nil {
		return nil, BadInternalError
	}
	return nonce, nil
}
