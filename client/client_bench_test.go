// Copyright 2021 Converter Systems LLC. All rights reserved.

package client_test

import (
	"context"
	"net"
	"testing"

	"github.com/systerel/S2OPC-sub041/client"
	"github.com/systerel/S2OPC-sub041/server"
	"github.com/systerel/S2OPC-sub041/ua"
)

func BenchmarkEcho(b *testing.B) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		b.Fatal(err)
	}
	endpointURL := "opc.tcp://" + l.Addr().String()
	srv, err := server.New(endpointURL,
		server.WithServerCertificate(serverCert.Raw, serverKey),
		server.WithPki(ua.AcceptAllCertificates{}),
		server.WithHandler(server.EchoHandler),
	)
	if err != nil {
		b.Fatal(err)
	}
	go srv.Serve(l)
	defer srv.Close()

	benchmarks := []struct {
		name   string
		policy string
		mode   ua.MessageSecurityMode
		size   int
	}{
		{"None 1KiB", ua.SecurityPolicyURINone, ua.MessageSecurityModeNone, 1024},
		{"None 256KiB", ua.SecurityPolicyURINone, ua.MessageSecurityModeNone, 256 * 1024},
		{"Basic256Sha256 Sign 1KiB", ua.SecurityPolicyURIBasic256Sha256, ua.MessageSecurityModeSign, 1024},
		{"Basic256Sha256 SignAndEncrypt 1KiB", ua.SecurityPolicyURIBasic256Sha256, ua.MessageSecurityModeSignAndEncrypt, 1024},
		{"Basic256Sha256 SignAndEncrypt 256KiB", ua.SecurityPolicyURIBasic256Sha256, ua.MessageSecurityModeSignAndEncrypt, 256 * 1024},
		{"Aes256Sha256RsaPss SignAndEncrypt 256KiB", ua.SecurityPolicyURIAes256Sha256RsaPss, ua.MessageSecurityModeSignAndEncrypt, 256 * 1024},
	}
	for _, bm := range benchmarks {
		b.Run(bm.name, func(b *testing.B) {
			ctx := context.Background()
			opts := []client.Option{client.WithSecurityPolicyNone()}
			if bm.policy != ua.SecurityPolicyURINone {
				opts = securedOptions(bm.policy, bm.mode)
			}
			ch, err := client.Dial(ctx, endpointURL, opts...)
			if err != nil {
				b.Error("Error opening client. " + err.Error())
				return
			}
			defer ch.Close(ctx)
			req := newReadRequest(make([]byte, bm.size))
			b.SetBytes(int64(bm.size))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := ch.Request(ctx, req); err != nil {
					b.Error("Error sending request. " + err.Error())
					ch.Abort()
					return
				}
			}
		})
	}
}
