// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua

import (
	"bytes"
	"crypto/x509"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ocsp"
)

// PkiProvider validates the certificates presented by peers.
type PkiProvider interface {
	ValidateCertificate(cert *x509.Certificate) error
}

// AcceptAllCertificates is a PkiProvider that trusts every certificate.
type AcceptAllCertificates struct{}

// ValidateCertificate returns nil.
func (AcceptAllCertificates) ValidateCertificate(*x509.Certificate) error { return nil }

// CertificateValidator is a PkiProvider that builds the chain of a
// certificate to a trusted root, then checks any OCSP responses it holds
// for the certificate.
type CertificateValidator struct {
	roots                              *x509.CertPool
	intermediates                      *x509.CertPool
	keyUsage                           x509.ExtKeyUsage
	hostname                           string
	suppressCertificateHostNameInvalid bool
	suppressCertificateTimeInvalid     bool
	suppressCertificateChainIncomplete bool
	ocspResponses                      [][]byte
	revocationRequired                 bool
	now                                func() time.Time
}

// ValidatorOption is a functional option of a CertificateValidator.
type ValidatorOption func(*CertificateValidator) error

// NewCertificateValidator returns a validator checking certificates for the key usage.
func NewCertificateValidator(keyUsage x509.ExtKeyUsage, opts ...ValidatorOption) (*CertificateValidator, error) {
	v := &CertificateValidator{
		roots:         x509.NewCertPool(),
		intermediates: x509.NewCertPool(),
		keyUsage:      keyUsage,
		now:           time.Now,
	}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// WithTrustedCertificates trusts the certificates. Self-signed ones become roots.
func WithTrustedCertificates(certs ...*x509.Certificate) ValidatorOption {
	return func(v *CertificateValidator) error {
		for _, cert := range certs {
			if bytes.Equal(cert.RawIssuer, cert.RawSubject) {
				v.roots.AddCert(cert)
			} else {
				v.intermediates.AddCert(cert)
			}
		}
		return nil
	}
}

// WithTrustedCertificatesFile trusts the certificates of a PEM or DER file.
func WithTrustedCertificatesFile(path string) ValidatorOption {
	return func(v *CertificateValidator) error {
		certs, err := LoadCertificates(path)
		if err != nil {
			return errors.Wrap(err, "load trusted certificates")
		}
		return WithTrustedCertificates(certs...)(v)
	}
}

// WithHostname checks that the certificate is valid for the host.
func WithHostname(host string) ValidatorOption {
	return func(v *CertificateValidator) error {
		v.hostname = host
		return nil
	}
}

// WithSuppressCertificateHostNameInvalid ignores a host name mismatch.
func WithSuppressCertificateHostNameInvalid() ValidatorOption {
	return func(v *CertificateValidator) error {
		v.suppressCertificateHostNameInvalid = true
		return nil
	}
}

// WithSuppressCertificateTimeInvalid ignores an expired or not yet valid certificate.
func WithSuppressCertificateTimeInvalid() ValidatorOption {
	return func(v *CertificateValidator) error {
		v.suppressCertificateTimeInvalid = true
		return nil
	}
}

// WithSuppressCertificateChainIncomplete trusts the certificate being validated.
func WithSuppressCertificateChainIncomplete() ValidatorOption {
	return func(v *CertificateValidator) error {
		v.suppressCertificateChainIncomplete = true
		return nil
	}
}

// WithOCSPResponse adds a DER encoded OCSP response.
func WithOCSPResponse(der []byte) ValidatorOption {
	return func(v *CertificateValidator) error {
		v.ocspResponses = append(v.ocspResponses, der)
		return nil
	}
}

// WithRevocationRequired fails validation when no OCSP response covers the certificate.
func WithRevocationRequired() ValidatorOption {
	return func(v *CertificateValidator) error {
		v.revocationRequired = true
		return nil
	}
}

// ValidateCertificate implements PkiProvider.
func (v *CertificateValidator) ValidateCertificate(cert *x509.Certificate) error {
	if cert == nil {
		return BadCertificateInvalid
	}
	opts := x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: v.intermediates,
		KeyUsages:     []x509.ExtKeyUsage{v.keyUsage},
		CurrentTime:   v.now(),
	}
	if v.suppressCertificateTimeInvalid {
		opts.CurrentTime = cert.NotBefore
	}
	if v.suppressCertificateChainIncomplete {
		opts.Roots = v.roots.Clone()
		opts.Roots.AddCert(cert)
	}

	chains, err := cert.Verify(opts)
	if err != nil {
		switch se := err.(type) {
		case x509.CertificateInvalidError:
			switch se.Reason {
			case x509.Expired:
				return BadCertificateTimeInvalid
			case x509.IncompatibleUsage:
				return BadCertificateUseNotAllowed
			default:
				return BadSecurityChecksFailed
			}
		case x509.UnknownAuthorityError:
			return BadCertificateUntrusted
		default:
			return BadSecurityChecksFailed
		}
	}
	if v.hostname != "" && !v.suppressCertificateHostNameInvalid {
		if err := cert.VerifyHostname(v.hostname); err != nil {
			return BadCertificateHostNameInvalid
		}
	}
	return v.checkRevocation(cert, chains[0])
}

func (v *CertificateValidator) checkRevocation(cert *x509.Certificate, chain []*x509.Certificate) error {
	issuer := cert
	if len(chain) > 1 {
		issuer = chain[1]
	}
	for _, raw := range v.ocspResponses {
		resp, err := ocsp.ParseResponseForCert(raw, cert, issuer)
		if err != nil {
			continue
		}
		if !resp.NextUpdate.IsZero() && v.now().After(resp.NextUpdate) {
			return BadCertificateRevocationUnknown
		}
		switch resp.Status {
		case ocsp.Good:
			return nil
		case ocsp.Revoked:
			return BadCertificateRevoked
		default:
			return BadCertificateRevocationUnknown
		}
	}
	if v.revocationRequired {
		return BadCertificateRevocationUnknown
	}
	return nil
}
