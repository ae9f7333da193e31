// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua_test

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/systerel/S2OPC-sub041/ua"
	"gotest.tools/assert"
)

func TestDeriveKeysAreMirrored(t *testing.T) {
	for _, uri := range []string{
		ua.SecurityPolicyURIBasic128Rsa15,
		ua.SecurityPolicyURIBasic256,
		ua.SecurityPolicyURIBasic256Sha256,
		ua.SecurityPolicyURIAes128Sha256RsaOaep,
		ua.SecurityPolicyURIAes256Sha256RsaPss,
	} {
		policy, err := ua.NewSecurityPolicy(uri)
		assert.NilError(t, err)
		clientNonce, err := ua.NewNonce(policy)
		assert.NilError(t, err)
		serverNonce, err := ua.NewNonce(policy)
		assert.NilError(t, err)

		client, err := policy.DeriveKeys(clientNonce, serverNonce)
		assert.NilError(t, err)
		server, err := policy.DeriveKeys(serverNonce, clientNonce)
		assert.NilError(t, err)

		assert.DeepEqual(t, client.Local.SigningKey, server.Remote.SigningKey)
		assert.DeepEqual(t, client.Local.EncryptingKey, server.Remote.EncryptingKey)
		assert.DeepEqual(t, client.Remote.InitializationVector, server.Local.InitializationVector)
		assert.Equal(t, len(client.Local.SigningKey), policy.SymSignatureKeySize())
		assert.Equal(t, len(client.Local.EncryptingKey), policy.SymEncryptionKeySize())
		assert.Equal(t, len(client.Local.InitializationVector), policy.SymEncryptionBlockSize())

		plain := bytes.Repeat([]byte("0123456789abcdef"), 4)
		data := append([]byte(nil), plain...)
		assert.NilError(t, client.Local.Encrypt(data))
		assert.Assert(t, !bytes.Equal(data, plain))
		assert.NilError(t, server.Remote.Decrypt(data))
		assert.DeepEqual(t, data, plain)

		sig, err := client.Local.Sign(plain)
		assert.NilError(t, err)
		assert.Equal(t, len(sig), policy.SymSignatureSize())
		assert.NilError(t, server.Remote.Verify(plain, sig))
		sig[0] ^= 0xFF
		assert.Equal(t, server.Remote.Verify(plain, sig), ua.BadSecurityChecksFailed)
	}
}

func TestDeriveKeysRejectsShortNonce(t *testing.T) {
	policy, err := ua.NewSecurityPolicy(ua.SecurityPolicyURIBasic256Sha256)
	assert.NilError(t, err)
	_, err = policy.DeriveKeys(make([]byte, 8), make([]byte, 32))
	assert.Equal(t, err, ua.BadNonceInvalid)
}

func TestUnknownSecurityPolicy(t *testing.T) {
	_, err := ua.NewSecurityPolicy("http://opcfoundation.org/UA/SecurityPolicy#Unknown")
	assert.Equal(t, err, ua.BadSecurityPolicyRejected)
}

func TestRSARoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	assert.NilError(t, err)
	for _, uri := range []string{
		ua.SecurityPolicyURIBasic128Rsa15,
		ua.SecurityPolicyURIBasic256Sha256,
		ua.SecurityPolicyURIAes256Sha256RsaPss,
	} {
		policy, err := ua.NewSecurityPolicy(uri)
		assert.NilError(t, err)
		plain := make([]byte, 256-policy.RSAPaddingSize())
		cipherText, err := policy.RSAEncrypt(&key.PublicKey, plain)
		assert.NilError(t, err)
		assert.Equal(t, len(cipherText), 256)
		out, err := policy.RSADecrypt(key, cipherText)
		assert.NilError(t, err)
		assert.DeepEqual(t, out, plain)

		sig, err := policy.RSASign(key, plain)
		assert.NilError(t, err)
		assert.NilError(t, policy.RSAVerify(&key.PublicKey, plain, sig))
	}
}
