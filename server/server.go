// Copyright 2021 Converter Systems LLC. All rights reserved.

package server

import (
	"crypto/rsa"
	"crypto/x509"
	"net"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/systerel/S2OPC-sub041/logger"
	"github.com/systerel/S2OPC-sub041/ua"
	"github.com/systerel/S2OPC-sub041/uacp"
)

const (
	// the distance between the binary encoding ids of a request and of its response.
	responseEncodingOffset = 3
	// the default number of worker threads that may be created.
	defaultMaxWorkerThreads int = 4
	// the default maximum number of milliseconds a security token is granted for. (60 min)
	defaultMaxTokenLifetime uint32 = 60 * 60 * 1000
	// the shortest lifetime granted, in milliseconds.
	minTokenLifetime uint32 = 10 * 1000
	// the default number of milliseconds to wait for the Hello of a new connection.
	defaultConnectTimeout int64 = 5000
	// the default interval between sweeps of the channels.
	defaultSweepInterval = 5 * time.Second
)

// ServerState is the lifecycle state of a Server.
type ServerState int

// ServerStates
const (
	ServerStateUnknown ServerState = iota
	ServerStateRunning
	ServerStateShutdown
	ServerStateFailed
)

// Server accepts secure channels from OPC UA clients and dispatches their
// requests to a Handler.
type Server struct {
	sync.RWMutex
	endpointURL                        string
	localCertificate                   []byte
	localPrivateKey                    *rsa.PrivateKey
	securityPolicyURIs                 []string
	trustedCertsFile                   string
	suppressCertificateExpired         bool
	suppressCertificateChainIncomplete bool
	pki                                ua.PkiProvider
	limits                             uacp.Limits
	maxChannelCount                    int
	maxWorkerThreads                   int
	maxTokenLifetime                   uint32
	connectTimeout                     int64
	sweepInterval                      time.Duration
	handler                            Handler
	auditHandler                       AuditHandler
	clock                              func() time.Time
	log                                logger.Logger
	trace                              bool
	listeners                          []net.Listener
	closed                             chan struct{}
	closing                            chan struct{}
	stateSemaphore                     chan struct{}
	state                              ServerState
	workerpool                         *workerpool.WorkerPool
	channelManager                     *ChannelManager
}

// New initializes a new instance of the Server.
func New(endpointURL string, options ...Option) (*Server, error) {
	srv := &Server{
		endpointURL:      endpointURL,
		limits:           uacp.DefaultLimits(),
		maxWorkerThreads: defaultMaxWorkerThreads,
		maxTokenLifetime: defaultMaxTokenLifetime,
		connectTimeout:   defaultConnectTimeout,
		sweepInterval:    defaultSweepInterval,
		handler:          UnsupportedHandler,
		clock:            time.Now,
		log:              logger.GetLogger(),
		closed:           make(chan struct{}),
		closing:          make(chan struct{}),
		stateSemaphore:   make(chan struct{}, 1),
		listeners:        make([]net.Listener, 0, 3),
		state:            ServerStateUnknown,
	}

	for _, opt := range options {
		if err := opt(srv); err != nil {
			return nil, err
		}
	}
	srv.log = srv.log.With("endpoint", endpointURL)
	if srv.auditHandler == nil {
		srv.auditHandler = LogAuditHandler(srv.log)
	}

	if srv.pki == nil {
		var err error
		if srv.pki, err = srv.certificateValidator(); err != nil {
			srv.log.Error("error creating certificate validator", "error", err)
			return nil, err
		}
	}
	if len(srv.localCertificate) > 0 {
		if _, err := x509.ParseCertificate(srv.localCertificate); err != nil {
			return nil, ua.BadCertificateInvalid
		}
	}

	srv.workerpool = workerpool.New(srv.maxWorkerThreads)
	srv.channelManager = NewChannelManager(srv)
	return srv, nil
}

func (srv *Server) certificateValidator() (ua.PkiProvider, error) {
	var opts []ua.ValidatorOption
	if srv.trustedCertsFile != "" {
		opts = append(opts, ua.WithTrustedCertificatesFile(srv.trustedCertsFile))
	}
	if srv.suppressCertificateExpired {
		opts = append(opts, ua.WithSuppressCertificateTimeInvalid())
	}
	if srv.suppressCertificateChainIncomplete {
		opts = append(opts, ua.WithSuppressCertificateChainIncomplete())
	}
	return ua.NewCertificateValidator(x509.ExtKeyUsageClientAuth, opts...)
}

// acceptPolicy reports whether clients may open a channel with the policy.
// Secured policies require a server certificate.
func (srv *Server) acceptPolicy(uri string) bool {
	if uri != ua.SecurityPolicyURINone && len(srv.localCertificate) == 0 {
		return false
	}
	return len(srv.securityPolicyURIs) == 0 || slices.Contains(srv.securityPolicyURIs, uri)
}

// EndpointURL gets the endpoint url.
func (srv *Server) EndpointURL() string {
	srv.RLock()
	defer srv.RUnlock()
	return srv.endpointURL
}

// LocalCertificate gets the certificate for the local application.
func (srv *Server) LocalCertificate() []byte {
	srv.RLock()
	defer srv.RUnlock()
	return srv.localCertificate
}

// Closing gets a channel that broadcasts the closing of the server.
func (srv *Server) Closing() <-chan struct{} {
	return srv.closing
}

// State gets the ServerState.
func (srv *Server) State() ServerState {
	srv.RLock()
	defer srv.RUnlock()
	return srv.state
}

func (srv *Server) setState(value ServerState) {
	srv.Lock()
	srv.state = value
	srv.Unlock()
}

// WorkerPool gets a pool of workers.
func (srv *Server) WorkerPool() *workerpool.WorkerPool {
	return srv.workerpool
}

// ChannelManager gets the secure channel manager.
func (srv *Server) ChannelManager() *ChannelManager {
	return srv.channelManager
}

// ListenAndServe listens on the port of the endpoint url and then calls
// Serve to handle the connections.
func (srv *Server) ListenAndServe() error {
	baseURL, err := url.Parse(srv.endpointURL)
	if err != nil {
		return ua.BadTCPEndpointURLInvalid
	}
	l, err := net.Listen("tcp", ":"+baseURL.Port())
	if err != nil {
		return ua.BadResourceUnavailable
	}
	return srv.Serve(l)
}

// Serve accepts connections on the listener, opening a secure channel for each.
func (srv *Server) Serve(l net.Listener) error {
	srv.stateSemaphore <- struct{}{}
	if srv.state != ServerStateUnknown {
		<-srv.stateSemaphore
		l.Close()
		return ua.BadInternalError
	}
	srv.listeners = append(srv.listeners, l)
	srv.setState(ServerStateRunning)
	<-srv.stateSemaphore
	srv.log.Info("server listening", "address", l.Addr().String())
	return srv.serve(l)
}

// Close server.
func (srv *Server) Close() error {
	srv.stateSemaphore <- struct{}{}
	if srv.state != ServerStateRunning {
		<-srv.stateSemaphore
		return ua.BadInternalError
	}
	srv.setState(ServerStateShutdown)

	close(srv.closing)

	// close listeners
	for _, l := range srv.listeners {
		if err := l.Close(); err != nil {
			srv.log.Warn("error closing secure channel listener", "error", err)
		}
	}

	// stop workers.
	srv.workerpool.StopWait()

	// close channels
	close(srv.closed)

	<-srv.stateSemaphore
	return nil
}

// Abort the server.
func (srv *Server) Abort() error {
	srv.stateSemaphore <- struct{}{}
	if srv.state != ServerStateRunning {
		<-srv.stateSemaphore
		return ua.BadInternalError
	}
	srv.setState(ServerStateFailed)

	close(srv.closing)

	// close listeners
	for _, l := range srv.listeners {
		if err := l.Close(); err != nil {
			srv.log.Warn("error closing secure channel listener", "error", err)
		}
	}

	// stop workers but don't wait.
	srv.workerpool.Stop()

	// close channels
	close(srv.closed)

	<-srv.stateSemaphore
	return nil
}

func (srv *Server) serve(l net.Listener) error {
	var delay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else {
					delay *= 2
				}
				if max := 1 * time.Second; delay > max {
					delay = max
				}
				time.Sleep(delay)
				continue
			}
			select {
			case <-srv.closing:
				return ua.BadServerHalted
			default:
				return ua.BadTCPInternalError
			}
		}
		delay = 0
		ch := newServerSecureChannel(srv, conn)
		go ch.serve()
	}
}

func (srv *Server) audit(t AuditEventType, info ChannelInfo, status ua.StatusCode) {
	srv.auditHandler(newAuditEvent(t, srv.clock(), info, status))
}

// submit runs the task on the worker pool, unless the server is stopping.
func (srv *Server) submit(task func()) bool {
	srv.RLock()
	defer srv.RUnlock()
	if srv.state != ServerStateRunning {
		return false
	}
	srv.workerpool.Submit(task)
	return true
}
