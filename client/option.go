// Copyright 2021 Converter Systems LLC. All rights reserved.

package client

import (
	"crypto/rsa"
	"crypto/x509"
	"time"

	"github.com/systerel/S2OPC-sub041/logger"
	"github.com/systerel/S2OPC-sub041/ua"
	"github.com/systerel/S2OPC-sub041/uacp"
)

// Option is a functional option to be applied to a client during initialization.
type Option func(*Client) error

// WithSecurityPolicyNone selects security policy of None. (default)
func WithSecurityPolicyNone() Option {
	return WithSecurityPolicyURI(ua.SecurityPolicyURINone)
}

// WithSecurityPolicyBasic128Rsa15 selects security policy of Basic128Rsa15. (default: None)
func WithSecurityPolicyBasic128Rsa15() Option {
	return WithSecurityPolicyURI(ua.SecurityPolicyURIBasic128Rsa15)
}

// WithSecurityPolicyBasic256 selects security policy of Basic256. (default: None)
func WithSecurityPolicyBasic256() Option {
	return WithSecurityPolicyURI(ua.SecurityPolicyURIBasic256)
}

// WithSecurityPolicyBasic256Sha256 selects security policy of Basic256Sha256. (default: None)
func WithSecurityPolicyBasic256Sha256() Option {
	return WithSecurityPolicyURI(ua.SecurityPolicyURIBasic256Sha256)
}

// WithSecurityPolicyAes128Sha256RsaOaep selects security policy of Aes128Sha256RsaOaep. (default: None)
func WithSecurityPolicyAes128Sha256RsaOaep() Option {
	return WithSecurityPolicyURI(ua.SecurityPolicyURIAes128Sha256RsaOaep)
}

// WithSecurityPolicyAes256Sha256RsaPss selects security policy of Aes256Sha256RsaPss. (default: None)
func WithSecurityPolicyAes256Sha256RsaPss() Option {
	return WithSecurityPolicyURI(ua.SecurityPolicyURIAes256Sha256RsaPss)
}

// WithSecurityPolicyURI selects the security policy by uri. (default: None)
func WithSecurityPolicyURI(uri string) Option {
	return func(c *Client) error {
		if _, err := ua.NewSecurityPolicy(uri); err != nil {
			return err
		}
		c.securityPolicyURI = uri
		return nil
	}
}

// WithSecurityMode sets the message security mode. (default: SignAndEncrypt, or None for policy None)
func WithSecurityMode(mode ua.MessageSecurityMode) Option {
	return func(c *Client) error {
		c.securityMode = mode
		return nil
	}
}

// WithClientCertificate sets the client certificate and private key.
func WithClientCertificate(cert []byte, privateKey *rsa.PrivateKey) Option {
	return func(c *Client) error {
		c.localCertificate = cert
		c.localPrivateKey = privateKey
		return nil
	}
}

// WithClientCertificateFile sets the file paths of the client certificate and private key.
func WithClientCertificateFile(certPath, keyPath string) Option {
	return func(c *Client) error {
		crt, key, err := ua.GetCertificateFromFile(certPath, keyPath)
		if err != nil {
			return err
		}
		c.localCertificate = crt.Raw
		c.localPrivateKey = key
		return nil
	}
}

// WithServerCertificate sets the certificate of the server, required for a secured channel.
func WithServerCertificate(cert []byte) Option {
	return func(c *Client) error {
		c.remoteCertificate = cert
		return nil
	}
}

// WithServerCertificateFile sets the file path of the certificate of the server.
func WithServerCertificateFile(path string) Option {
	return func(c *Client) error {
		certs, err := ua.LoadCertificates(path)
		if err != nil {
			return err
		}
		if len(certs) == 0 {
			return ua.BadCertificateInvalid
		}
		c.remoteCertificate = certs[0].Raw
		return nil
	}
}

// WithTrustedCertificatesFile sets the file path of the trusted server certificates or certificate authorities.
func WithTrustedCertificatesFile(path string) Option {
	return func(c *Client) error {
		c.trustedCertsFile = path
		return nil
	}
}

// WithInsecureSkipVerify skips verification of server certificate. Skips checking HostName, Expiration, and Authority.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.suppressHostNameInvalid = true
		c.suppressCertificateExpired = true
		c.suppressCertificateChainIncomplete = true
		return nil
	}
}

// WithLimits sets the buffer sizes and message limits announced in the Hello. (default: uacp.DefaultLimits)
func WithLimits(limits uacp.Limits) Option {
	return func(c *Client) error {
		if limits.ReceiveBufferSize < uacp.MinBufferSize || limits.SendBufferSize < uacp.MinBufferSize {
			return uacp.ErrBufferTooSmall
		}
		c.limits = limits
		return nil
	}
}

// WithTimeoutHint sets the default number of milliseconds to wait before the ServiceRequest is cancelled. (default: 15000)
func WithTimeoutHint(value uint32) Option {
	return func(c *Client) error {
		c.timeoutHint = value
		return nil
	}
}

// WithTokenLifetime sets the requested number of milliseconds before a security token is renewed. (default: 60 min)
func WithTokenLifetime(value uint32) Option {
	return func(c *Client) error {
		c.tokenLifetime = value
		return nil
	}
}

// WithConnectTimeout sets the number of milliseconds to wait for a connection response. (default:5000)
func WithConnectTimeout(value int64) Option {
	return func(c *Client) error {
		c.connectTimeout = value
		return nil
	}
}

// WithRenewalCheckInterval sets how often the security token is checked for renewal. (default: 1s)
func WithRenewalCheckInterval(value time.Duration) Option {
	return func(c *Client) error {
		if value <= 0 {
			return ua.BadInvalidArgument
		}
		c.renewalCheckInterval = value
		return nil
	}
}

// WithClock sets the time source of the security token lifetimes. (default: time.Now)
func WithClock(now func() time.Time) Option {
	return func(c *Client) error {
		c.clock = now
		return nil
	}
}

// WithLogger sets the logger. (default: logger.GetLogger())
func WithLogger(l logger.Logger) Option {
	return func(c *Client) error {
		c.log = l
		return nil
	}
}

// WithTrace logs all chunks, ServiceRequests and ServiceResponses at debug level.
func WithTrace() Option {
	return func(c *Client) error {
		c.trace = true
		return nil
	}
}

func (c *Client) certificateValidator(host string) (*x509.Certificate, *ua.CertificateValidator, error) {
	cert, err := x509.ParseCertificate(c.remoteCertificate)
	if err != nil {
		return nil, nil, ua.BadCertificateInvalid
	}
	opts := []ua.ValidatorOption{ua.WithHostname(host)}
	if c.trustedCertsFile != "" {
		opts = append(opts, ua.WithTrustedCertificatesFile(c.trustedCertsFile))
	}
	if c.suppressHostNameInvalid {
		opts = append(opts, ua.WithSuppressCertificateHostNameInvalid())
	}
	if c.suppressCertificateExpired {
		opts = append(opts, ua.WithSuppressCertificateTimeInvalid())
	}
	if c.suppressCertificateChainIncomplete {
		opts = append(opts, ua.WithSuppressCertificateChainIncomplete())
	}
	v, err := ua.NewCertificateValidator(x509.ExtKeyUsageServerAuth, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cert, v, nil
}
