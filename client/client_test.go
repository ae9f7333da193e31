// Copyright 2021 Converter Systems LLC. All rights reserved.

package client_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/systerel/S2OPC-sub041/client"
	"github.com/systerel/S2OPC-sub041/server"
	"github.com/systerel/S2OPC-sub041/ua"
	"github.com/systerel/S2OPC-sub041/uacp"
	"gotest.tools/assert"
	"gotest.tools/poll"
)

// readRequestTypeID is the binary encoding id of a ReadRequest.
const readRequestTypeID uint32 = 631

var (
	pkiDir     string
	serverCert *x509.Certificate
	serverKey  *rsa.PrivateKey
	clientCert *x509.Certificate
	clientKey  *rsa.PrivateKey
)

// TestMain creates the certificates of the test server and client.
func TestMain(m *testing.M) {
	if err := ensurePKI(); err != nil {
		fmt.Println(errors.Wrap(err, "Error creating pki"))
		os.Exit(1)
	}
	res := m.Run()
	os.RemoveAll(pkiDir)
	os.Exit(res)
}

func ensurePKI() error {
	var err error
	if pkiDir, err = os.MkdirTemp("", "uatcp-pki"); err != nil {
		return err
	}
	if serverCert, serverKey, err = ua.CreateSelfSignedCertificate("testserver", "localhost"); err != nil {
		return err
	}
	if err := ua.WriteCertificateFiles(serverCert, serverKey, filepath.Join(pkiDir, "server.crt"), filepath.Join(pkiDir, "server.key")); err != nil {
		return err
	}
	if clientCert, clientKey, err = ua.CreateSelfSignedCertificate("testclient", "localhost"); err != nil {
		return err
	}
	return ua.WriteCertificateFiles(clientCert, clientKey, filepath.Join(pkiDir, "client.crt"), filepath.Join(pkiDir, "client.key"))
}

// startServer serves on a free port of the loopback interface and
// returns its endpoint url.
func startServer(t *testing.T, opts ...server.Option) (*server.Server, string) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	endpointURL := "opc.tcp://" + l.Addr().String()
	opts = append([]server.Option{
		server.WithServerCertificate(serverCert.Raw, serverKey),
		server.WithPki(ua.AcceptAllCertificates{}),
		server.WithHandler(server.EchoHandler),
	}, opts...)
	srv, err := server.New(endpointURL, opts...)
	assert.NilError(t, err)
	go srv.Serve(l)
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if srv.State() == server.ServerStateRunning {
			return poll.Success()
		}
		return poll.Continue("server not running")
	})
	t.Cleanup(func() { srv.Close() })
	return srv, endpointURL
}

func securedOptions(policyURI string, mode ua.MessageSecurityMode) []client.Option {
	return []client.Option{
		client.WithSecurityPolicyURI(policyURI),
		client.WithSecurityMode(mode),
		client.WithClientCertificate(clientCert.Raw, clientKey),
		client.WithServerCertificate(serverCert.Raw),
		client.WithInsecureSkipVerify(),
	}
}

func newReadRequest(body []byte) *ua.Request {
	return &ua.Request{TypeID: ua.NewNodeIDNumeric(0, readRequestTypeID), Body: body}
}

func randomBytes(t *testing.T, n int) []byte {
	p := make([]byte, n)
	_, err := rand.Read(p)
	assert.NilError(t, err)
	return p
}

// TestEcho sends a request split into several chunks over each security
// policy and checks the echoed body.
func TestEcho(t *testing.T) {
	_, endpointURL := startServer(t)
	cases := []struct {
		name   string
		policy string
		mode   ua.MessageSecurityMode
	}{
		{"None", ua.SecurityPolicyURINone, ua.MessageSecurityModeNone},
		{"Basic128Rsa15Sign", ua.SecurityPolicyURIBasic128Rsa15, ua.MessageSecurityModeSign},
		{"Basic256SignAndEncrypt", ua.SecurityPolicyURIBasic256, ua.MessageSecurityModeSignAndEncrypt},
		{"Basic256Sha256SignAndEncrypt", ua.SecurityPolicyURIBasic256Sha256, ua.MessageSecurityModeSignAndEncrypt},
		{"Aes128Sha256RsaOaepSign", ua.SecurityPolicyURIAes128Sha256RsaOaep, ua.MessageSecurityModeSign},
		{"Aes256Sha256RsaPssSignAndEncrypt", ua.SecurityPolicyURIAes256Sha256RsaPss, ua.MessageSecurityModeSignAndEncrypt},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ctx := context.Background()
			opts := []client.Option{client.WithSecurityPolicyNone()}
			if c.policy != ua.SecurityPolicyURINone {
				opts = securedOptions(c.policy, c.mode)
			}
			opts = append(opts, client.WithLimits(uacp.Limits{
				ReceiveBufferSize: 8192,
				SendBufferSize:    8192,
				MaxMessageSize:    1 << 20,
				MaxChunkCount:     5,
			}))
			ch, err := client.Dial(ctx, endpointURL, opts...)
			assert.NilError(t, err)
			defer ch.Close(ctx)
			assert.Assert(t, ch.ChannelID() != 0)
			assert.Equal(t, ch.SecurityMode(), c.mode)

			body := randomBytes(t, 20000)
			res, err := ch.Request(ctx, newReadRequest(body))
			assert.NilError(t, err)
			r, ok := res.(*ua.Response)
			assert.Assert(t, ok)
			id, _ := r.TypeID.Numeric()
			assert.Equal(t, id, readRequestTypeID+3)
			assert.Assert(t, bytes.Equal(r.Body, body))
		})
	}
}

func TestConcurrentRequests(t *testing.T) {
	_, endpointURL := startServer(t)
	ctx := context.Background()
	ch, err := client.Dial(ctx, endpointURL, securedOptions(ua.SecurityPolicyURIBasic256Sha256, ua.MessageSecurityModeSign)...)
	assert.NilError(t, err)
	defer ch.Close(ctx)

	const n = 32
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			body := []byte(fmt.Sprintf("request %d", i))
			res, err := ch.Request(ctx, newReadRequest(body))
			if err != nil {
				errs <- err
				return
			}
			if got := res.(*ua.Response).Body; !bytes.Equal(got, body) {
				errs <- errors.Errorf("request %d answered with %q", i, got)
				return
			}
			errs <- nil
		}(i)
	}
	for i := 0; i < n; i++ {
		assert.NilError(t, <-errs)
	}
}

func TestServiceUnsupported(t *testing.T) {
	_, endpointURL := startServer(t, server.WithHandler(server.UnsupportedHandler))
	ctx := context.Background()
	ch, err := client.Dial(ctx, endpointURL)
	assert.NilError(t, err)
	defer ch.Close(ctx)

	res, err := ch.Request(ctx, newReadRequest(nil))
	assert.Assert(t, errors.Is(err, ua.BadServiceUnsupported))
	fault, ok := res.(*ua.Response)
	assert.Assert(t, ok)
	assert.Assert(t, fault.IsServiceFault())
}

func TestRequestTimeout(t *testing.T) {
	slow := server.HandlerFunc(func(ctx context.Context, req ua.ServiceRequest) ua.ServiceResponse {
		if bytes.Equal(req.(*ua.Request).Body, []byte("slow")) {
			time.Sleep(300 * time.Millisecond)
		}
		return server.EchoHandler(ctx, req)
	})
	_, endpointURL := startServer(t, server.WithHandler(slow))
	ctx := context.Background()
	ch, err := client.Dial(ctx, endpointURL)
	assert.NilError(t, err)
	defer ch.Close(ctx)

	tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = ch.Request(tctx, newReadRequest([]byte("slow")))
	assert.Assert(t, errors.Is(err, ua.BadTimeout))

	// the late response is dropped, the channel stays usable
	res, err := ch.Request(ctx, newReadRequest([]byte("fast")))
	assert.NilError(t, err)
	assert.DeepEqual(t, res.(*ua.Response).Body, []byte("fast"))
	time.Sleep(400 * time.Millisecond)
	_, err = ch.Request(ctx, newReadRequest([]byte("fast")))
	assert.NilError(t, err)
}

// TestLateResponse keeps the request handle of a timed out request
// reserved, so that its late response is not delivered to a request
// sent after the handles wrapped around.
func TestLateResponse(t *testing.T) {
	delayed := server.HandlerFunc(func(ctx context.Context, req ua.ServiceRequest) ua.ServiceResponse {
		switch string(req.(*ua.Request).Body) {
		case "slow":
			time.Sleep(500 * time.Millisecond)
		case "later":
			time.Sleep(time.Second)
		}
		return server.EchoHandler(ctx, req)
	})
	_, endpointURL := startServer(t, server.WithHandler(delayed))
	ctx := context.Background()
	ch, err := client.Dial(ctx, endpointURL)
	assert.NilError(t, err)
	defer ch.Close(ctx)

	tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = ch.Request(tctx, newReadRequest([]byte("slow")))
	assert.Assert(t, errors.Is(err, ua.BadTimeout))

	// walk every other handle once
	for i := 1; i < client.MaxPendingRequests; i++ {
		_, err := ch.Request(ctx, newReadRequest([]byte("fast")))
		assert.NilError(t, err)
	}
	res, err := ch.Request(ctx, newReadRequest([]byte("later")))
	assert.NilError(t, err)
	assert.DeepEqual(t, res.(*ua.Response).Body, []byte("later"))
}

func TestResponseTooLarge(t *testing.T) {
	_, endpointURL := startServer(t)
	ctx := context.Background()
	ch, err := client.Dial(ctx, endpointURL, client.WithLimits(uacp.Limits{
		ReceiveBufferSize: 8192,
		SendBufferSize:    8192,
		MaxMessageSize:    16384,
	}))
	assert.NilError(t, err)
	defer ch.Close(ctx)

	_, err = ch.Request(ctx, newReadRequest(randomBytes(t, 20000)))
	assert.Assert(t, errors.Is(err, ua.BadResponseTooLarge))

	_, err = ch.Request(ctx, newReadRequest([]byte("small")))
	assert.NilError(t, err)
}

func TestRenew(t *testing.T) {
	var renewed atomic.Int32
	audit := func(e server.AuditEvent) {
		if e.Type == server.AuditRenewSecureChannel {
			renewed.Add(1)
		}
	}
	_, endpointURL := startServer(t, server.WithAuditHandler(audit))
	ctx := context.Background()
	ch, err := client.Dial(ctx, endpointURL, securedOptions(ua.SecurityPolicyURIBasic256Sha256, ua.MessageSecurityModeSignAndEncrypt)...)
	assert.NilError(t, err)
	defer ch.Close(ctx)

	for i := 0; i < 3; i++ {
		assert.NilError(t, ch.Renew(ctx))
		_, err := ch.Request(ctx, newReadRequest([]byte("after renew")))
		assert.NilError(t, err)
	}
	assert.Equal(t, renewed.Load(), int32(3))
}

// TestRenewCancelled stops waiting for a renewal before the server
// responds. The token is still installed and the channel stays open.
func TestRenewCancelled(t *testing.T) {
	var renewed atomic.Int32
	audit := func(e server.AuditEvent) {
		if e.Type == server.AuditRenewSecureChannel {
			renewed.Add(1)
		}
	}
	_, endpointURL := startServer(t, server.WithAuditHandler(audit))
	ctx := context.Background()
	ch, err := client.Dial(ctx, endpointURL, securedOptions(ua.SecurityPolicyURIBasic256Sha256, ua.MessageSecurityModeSign)...)
	assert.NilError(t, err)
	defer ch.Close(ctx)

	expired, cancel := context.WithDeadline(ctx, time.Now().Add(-time.Second))
	defer cancel()
	err = ch.Renew(expired)
	assert.Assert(t, errors.Is(err, ua.BadTimeout), "got %v", err)
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if renewed.Load() > 0 {
			return poll.Success()
		}
		return poll.Continue("token not renewed")
	})

	_, err = ch.Request(ctx, newReadRequest([]byte("after cancelled renew")))
	assert.NilError(t, err)

	// the next renewal is accepted once the first response is installed
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if err := ch.Err(); err != nil {
			return poll.Error(err)
		}
		if err := ch.Renew(ctx); err != nil {
			return poll.Continue("renew: %v", err)
		}
		return poll.Success()
	})
	_, err = ch.Request(ctx, newReadRequest([]byte("after renew")))
	assert.NilError(t, err)
	assert.NilError(t, ch.Err())
}

// TestAutomaticRenewal advances the clock of the client past 75% of the
// token lifetime and waits for the server to see the renewal.
func TestAutomaticRenewal(t *testing.T) {
	var renewed atomic.Int32
	audit := func(e server.AuditEvent) {
		if e.Type == server.AuditRenewSecureChannel {
			renewed.Add(1)
		}
	}
	_, endpointURL := startServer(t, server.WithAuditHandler(audit))

	var offset atomic.Int64
	clock := func() time.Time { return time.Now().Add(time.Duration(offset.Load())) }
	ctx := context.Background()
	ch, err := client.Dial(ctx, endpointURL,
		client.WithTokenLifetime(60000),
		client.WithRenewalCheckInterval(10*time.Millisecond),
		client.WithClock(clock),
	)
	assert.NilError(t, err)
	defer ch.Close(ctx)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, renewed.Load(), int32(0))

	offset.Store(int64(50 * time.Second))
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if renewed.Load() > 0 {
			return poll.Success()
		}
		return poll.Continue("token not renewed")
	}, poll.WithTimeout(5*time.Second))

	_, err = ch.Request(ctx, newReadRequest([]byte("after renew")))
	assert.NilError(t, err)
}

func TestClose(t *testing.T) {
	closed := make(chan server.AuditEvent, 1)
	audit := func(e server.AuditEvent) {
		if e.Type == server.AuditCloseSecureChannel {
			closed <- e
		}
	}
	_, endpointURL := startServer(t, server.WithAuditHandler(audit))
	ctx := context.Background()
	ch, err := client.Dial(ctx, endpointURL)
	assert.NilError(t, err)
	id := ch.ChannelID()

	assert.NilError(t, ch.Close(ctx))
	select {
	case e := <-closed:
		assert.Equal(t, e.ChannelID, id)
	case <-time.After(5 * time.Second):
		t.Fatal("close not audited")
	}
	<-ch.Done()
	_, err = ch.Request(ctx, newReadRequest(nil))
	assert.Assert(t, errors.Is(err, ua.BadSecureChannelClosed))
}

func TestServerTooBusy(t *testing.T) {
	_, endpointURL := startServer(t, server.WithMaxChannelCount(1))
	ctx := context.Background()
	ch, err := client.Dial(ctx, endpointURL)
	assert.NilError(t, err)
	defer ch.Close(ctx)

	_, err = client.Dial(ctx, endpointURL)
	assert.Assert(t, errors.Is(err, ua.BadTCPServerTooBusy), "got %v", err)
}

func TestSecurityPolicyRejected(t *testing.T) {
	_, endpointURL := startServer(t, server.WithSecurityPolicies(ua.SecurityPolicyURINone))
	_, err := client.Dial(context.Background(), endpointURL, securedOptions(ua.SecurityPolicyURIBasic256Sha256, ua.MessageSecurityModeSign)...)
	assert.Assert(t, errors.Is(err, ua.BadSecurityPolicyRejected), "got %v", err)
}

func TestClientCertificateUntrusted(t *testing.T) {
	// no trusted certificates
	_, endpointURL := startServer(t, server.WithPki(nil))
	_, err := client.Dial(context.Background(), endpointURL, securedOptions(ua.SecurityPolicyURIBasic256Sha256, ua.MessageSecurityModeSign)...)
	assert.Assert(t, errors.Is(err, ua.BadCertificateUntrusted), "got %v", err)
}

func TestServerCertificateValidation(t *testing.T) {
	_, endpointURL := startServer(t)
	ctx := context.Background()
	opts := []client.Option{
		client.WithSecurityPolicyBasic256Sha256(),
		client.WithClientCertificateFile(filepath.Join(pkiDir, "client.crt"), filepath.Join(pkiDir, "client.key")),
		client.WithServerCertificateFile(filepath.Join(pkiDir, "server.crt")),
	}

	// self-signed and not trusted
	_, err := client.Dial(ctx, endpointURL, opts...)
	assert.Assert(t, errors.Is(err, ua.BadCertificateUntrusted), "got %v", err)

	// trusted, but issued for localhost
	trusted := append(opts, client.WithTrustedCertificatesFile(filepath.Join(pkiDir, "server.crt")))
	_, err = client.Dial(ctx, endpointURL, trusted...)
	assert.Assert(t, errors.Is(err, ua.BadCertificateHostNameInvalid), "got %v", err)

	_, port, err := net.SplitHostPort(endpointURL[len("opc.tcp://"):])
	assert.NilError(t, err)
	ch, err := client.Dial(ctx, "opc.tcp://localhost:"+port, trusted...)
	assert.NilError(t, err)
	assert.Equal(t, ch.SecurityMode(), ua.MessageSecurityModeSignAndEncrypt)
	assert.NilError(t, ch.Close(ctx))
}

func TestDialErrors(t *testing.T) {
	ctx := context.Background()
	_, err := client.Dial(ctx, "http://localhost:4840")
	assert.Assert(t, errors.Is(err, ua.BadTCPEndpointURLInvalid))

	_, err = client.Dial(ctx, "opc.tcp://localhost:4840", client.WithSecurityPolicyBasic256Sha256())
	assert.Assert(t, errors.Is(err, ua.BadCertificateInvalid))

	_, err = client.Dial(ctx, "opc.tcp://localhost:4840", client.WithSecurityPolicyURI("http://example.com/unknown"))
	assert.Assert(t, err != nil)

	_, err = client.Dial(ctx, "opc.tcp://localhost:4840", client.WithLimits(uacp.Limits{ReceiveBufferSize: 1024, SendBufferSize: 1024}))
	assert.Assert(t, errors.Is(err, ua.BadTCPNotEnoughResources))
}
