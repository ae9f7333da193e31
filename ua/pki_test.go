// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua_test

import (
	"crypto/x509"
	"testing"
	"time"

	"github.com/systerel/S2OPC-sub041/ua"
	"golang.org/x/crypto/ocsp"
	"gotest.tools/assert"
)

func TestCertificateValidator(t *testing.T) {
	crt, key, err := ua.CreateSelfSignedCertificate("test-client", "localhost")
	assert.NilError(t, err)
	other, _, err := ua.CreateSelfSignedCertificate("test-other", "localhost")
	assert.NilError(t, err)

	v, err := ua.NewCertificateValidator(x509.ExtKeyUsageClientAuth, ua.WithTrustedCertificates(crt))
	assert.NilError(t, err)
	assert.NilError(t, v.ValidateCertificate(crt))
	assert.Equal(t, v.ValidateCertificate(other), ua.BadCertificateUntrusted)
	assert.Equal(t, v.ValidateCertificate(nil), ua.BadCertificateInvalid)

	v, err = ua.NewCertificateValidator(x509.ExtKeyUsageClientAuth, ua.WithSuppressCertificateChainIncomplete())
	assert.NilError(t, err)
	assert.NilError(t, v.ValidateCertificate(other))

	v, err = ua.NewCertificateValidator(x509.ExtKeyUsageServerAuth, ua.WithTrustedCertificates(crt), ua.WithHostname("example.com"))
	assert.NilError(t, err)
	assert.Equal(t, v.ValidateCertificate(crt), ua.BadCertificateHostNameInvalid)

	v, err = ua.NewCertificateValidator(x509.ExtKeyUsageClientAuth, ua.WithTrustedCertificates(crt), ua.WithRevocationRequired())
	assert.NilError(t, err)
	assert.Equal(t, v.ValidateCertificate(crt), ua.BadCertificateRevocationUnknown)

	now := time.Now()
	for _, c := range []struct {
		status int
		want   error
	}{
		{ocsp.Good, nil},
		{ocsp.Revoked, ua.BadCertificateRevoked},
		{ocsp.Unknown, ua.BadCertificateRevocationUnknown},
	} {
		resp, err := ocsp.CreateResponse(crt, crt, ocsp.Response{
			Status:       c.status,
			SerialNumber: crt.SerialNumber,
			ThisUpdate:   now.Add(-time.Minute),
			NextUpdate:   now.Add(time.Hour),
			RevokedAt:    now.Add(-time.Minute),
		}, key)
		assert.NilError(t, err)
		v, err = ua.NewCertificateValidator(x509.ExtKeyUsageClientAuth, ua.WithTrustedCertificates(crt), ua.WithOCSPResponse(resp))
		assert.NilError(t, err)
		err = v.ValidateCertificate(crt)
		if c.want == nil {
			assert.NilError(t, err)
		} else {
			assert.Equal(t, err, c.want)
		}
	}
}
