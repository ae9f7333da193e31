// Copyright 2021 Converter Systems LLC. All rights reserved.

package server

import (
	"crypto/rsa"
	"time"

	"github.com/systerel/S2OPC-sub041/logger"
	"github.com/systerel/S2OPC-sub041/ua"
	"github.com/systerel/S2OPC-sub041/uacp"
)

// Option is a functional option to be applied to a server during initialization.
type Option func(*Server) error

// WithServerCertificate sets the server certificate and private key.
func WithServerCertificate(cert []byte, privateKey *rsa.PrivateKey) Option {
	return func(srv *Server) error {
		srv.localCertificate = cert
		srv.localPrivateKey = privateKey
		return nil
	}
}

// WithServerCertificateFile sets the file paths of the server certificate and private key.
func WithServerCertificateFile(certPath, keyPath string) Option {
	return func(srv *Server) error {
		crt, key, err := ua.GetCertificateFromFile(certPath, keyPath)
		if err != nil {
			return err
		}
		srv.localCertificate = crt.Raw
		srv.localPrivateKey = key
		return nil
	}
}

// WithSecurityPolicies sets the security policies accepted from clients. (default: all)
func WithSecurityPolicies(uris ...string) Option {
	return func(srv *Server) error {
		for _, uri := range uris {
			if _, err := ua.NewSecurityPolicy(uri); err != nil {
				return err
			}
		}
		srv.securityPolicyURIs = uris
		return nil
	}
}

// WithTrustedCertificatesFile sets the file path of the trusted client certificates or certificate authorities.
func WithTrustedCertificatesFile(path string) Option {
	return func(srv *Server) error {
		srv.trustedCertsFile = path
		return nil
	}
}

// WithInsecureSkipVerify skips verification of client certificates. Skips checking Expiration and Authority.
func WithInsecureSkipVerify() Option {
	return func(srv *Server) error {
		srv.suppressCertificateExpired = true
		srv.suppressCertificateChainIncomplete = true
		return nil
	}
}

// WithPki sets the validator of client certificates, replacing the trusted certificates file.
func WithPki(pki ua.PkiProvider) Option {
	return func(srv *Server) error {
		srv.pki = pki
		return nil
	}
}

// WithLimits sets the buffer sizes and message limits of the server. (default: uacp.DefaultLimits)
func WithLimits(limits uacp.Limits) Option {
	return func(srv *Server) error {
		if limits.ReceiveBufferSize < uacp.MinBufferSize || limits.SendBufferSize < uacp.MinBufferSize {
			return uacp.ErrBufferTooSmall
		}
		srv.limits = limits
		return nil
	}
}

// WithMaxChannelCount sets the number of secure channels that may be open. (default: 0, no limit)
func WithMaxChannelCount(value int) Option {
	return func(srv *Server) error {
		srv.maxChannelCount = value
		return nil
	}
}

// WithMaxWorkerThreads sets the number of worker threads that may be created. (default: 4)
func WithMaxWorkerThreads(value int) Option {
	return func(srv *Server) error {
		srv.maxWorkerThreads = value
		return nil
	}
}

// WithMaxTokenLifetime sets the maximum number of milliseconds a security token is granted for. (default: 60 min)
func WithMaxTokenLifetime(value uint32) Option {
	return func(srv *Server) error {
		srv.maxTokenLifetime = value
		return nil
	}
}

// WithConnectTimeout sets the number of milliseconds to wait for the Hello of a new connection. (default: 5000)
func WithConnectTimeout(value int64) Option {
	return func(srv *Server) error {
		srv.connectTimeout = value
		return nil
	}
}

// WithSweepInterval sets how often tokens are checked and closed channels are removed. (default: 5s)
func WithSweepInterval(value time.Duration) Option {
	return func(srv *Server) error {
		if value <= 0 {
			return ua.BadInvalidArgument
		}
		srv.sweepInterval = value
		return nil
	}
}

// WithHandler sets the handler of service requests. (default: every service is unsupported)
func WithHandler(h Handler) Option {
	return func(srv *Server) error {
		srv.handler = h
		return nil
	}
}

// WithAuditHandler sets the receiver of audit events. (default: events are logged)
func WithAuditHandler(h AuditHandler) Option {
	return func(srv *Server) error {
		srv.auditHandler = h
		return nil
	}
}

// WithClock sets the time source of the security token lifetimes. (default: time.Now)
func WithClock(now func() time.Time) Option {
	return func(srv *Server) error {
		srv.clock = now
		return nil
	}
}

// WithLogger sets the logger. (default: logger.GetLogger())
func WithLogger(l logger.Logger) Option {
	return func(srv *Server) error {
		srv.log = l
		return nil
	}
}

// WithTrace logs all chunks, ServiceRequests and ServiceResponses at debug level.
func WithTrace() Option {
	return func(srv *Server) error {
		srv.trace = true
		return nil
	}
}
