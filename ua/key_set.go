// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"hash"
)

// KeySet holds the symmetric keys protecting one direction of a channel.
type KeySet struct {
	SigningKey           []byte
	EncryptingKey        []byte
	InitializationVector []byte
	mac                  hash.Hash
	block                cipher.Block
}

// KeySetPair holds the key sets derived for one security token.
// Local protects chunks this side sends, Remote the chunks it receives.
type KeySetPair struct {
	Local  *KeySet
	Remote *KeySet
}

func (p *securityPolicy) newKeySet(material []byte) (*KeySet, error) {
	ks := &KeySet{
		SigningKey:           material[:p.sigKeySize],
		EncryptingKey:        material[p.sigKeySize : p.sigKeySize+p.encKeySize],
		InitializationVector: material[p.sigKeySize+p.encKeySize:],
	}
	ks.mac = hmac.New(p.symHash, ks.SigningKey)
	block, err := aes.NewCipher(ks.EncryptingKey)
	if err != nil {
		return nil, BadSecurityChecksFailed
	}
	ks.block = block
	return ks, nil
}

// SignatureSize returns the size of a signature, zero for an empty key set.
func (ks *KeySet) SignatureSize() int {
	if ks.mac == nil {
		return 0
	}
	return ks.mac.Size()
}

// Sign returns the HMAC of p.
func (ks *KeySet) Sign(p []byte) ([]byte, error) {
	if ks.mac == nil {
		return nil, BadSecurityChecksFailed
	}
	ks.mac.Reset()
	ks.mac.Write(p)
	return ks.mac.Sum(nil), nil
}

// Verify checks the HMAC of p.
func (ks *KeySet) Verify(p, signature []byte) error {
	expected, err := ks.Sign(p)
	if err != nil {
		return err
	}
	if !hmac.Equal(expected, signature) {
		return BadSecurityChecksFailed
	}
	return nil
}

// Encrypt encrypts p in place with AES-CBC. len(p) must be a multiple of the block size.
func (ks *KeySet) Encrypt(p []byte) error {
	if ks.block == nil || len(p)%ks.block.BlockSize() != 0 {
		return BadSecurityChecksFailed
	}
	cipher.NewCBCEncrypter(ks.block, ks.InitializationVector).CryptBlocks(p, p)
	return nil
}

// Decrypt decrypts p in place with AES-CBC. len(p) must be a multiple of the block size.
func (ks *KeySet) Decrypt(p []byte) error {
	if ks.block == nil || len(p)%ks.block.BlockSize() != 0 {
		return BadSecurityChecksFailed
	}
	cipher.NewCBCDecrypter(ks.block, ks.InitializationVector).CryptBlocks(p, p)
	return nil
}

// calculatePSHA implements the P_SHA pseudo-random function of TLS 1.0,
// using the policy's HMAC hash.
func calculatePSHA(h func() hash.Hash, secret, seed []byte, sizeBytes int) []byte {
	mac := hmac.New(h, secret)
	size := mac.Size()
	output := make([]byte, sizeBytes)
	a := seed
	for m := 0; m < sizeBytes; m += size {
		mac.Reset()
		mac.Write(a)
		a = mac.Sum(nil)
		mac.Reset()
		mac.Write(a)
		mac.Write(seed)
		copy(output[m:], mac.Sum(nil))
	}
	return output
}
