// Copyright 2021 Converter Systems LLC. All rights reserved.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/systerel/S2OPC-sub041/logger"
	"github.com/systerel/S2OPC-sub041/server"
	"github.com/systerel/S2OPC-sub041/ua"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a server answering every request with its own body",
	Long: `Run a server accepting secure channels on the endpoint port. Each request
is answered with a response of the matching type carrying the request body.

Examples:
  uatcp serve -e opc.tcp://localhost:4840
  uatcp serve --cert server.crt --key server.key --trusted clients.pem --policies Basic256Sha256`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringSlice("policies", nil, "accepted security policies (default: all)")
	f.Int("max-channels", 0, "maximum number of secure channels, 0 for no limit")
	f.Int("workers", 4, "maximum number of request workers")
	f.Uint32("max-token-lifetime", 3600000, "maximum security token lifetime in milliseconds")
	for _, name := range []string{"policies", "max-channels", "workers", "max-token-lifetime"} {
		viper.BindPFlag(name, f.Lookup(name))
	}
}

func serverOptions() ([]server.Option, error) {
	opts := []server.Option{
		server.WithHandler(server.EchoHandler),
		server.WithLimits(limitsFromConfig()),
		server.WithMaxChannelCount(viper.GetInt("max-channels")),
		server.WithMaxWorkerThreads(viper.GetInt("workers")),
		server.WithMaxTokenLifetime(viper.GetUint32("max-token-lifetime")),
		server.WithLogger(logger.GetLogger()),
	}
	if cert, key := viper.GetString("cert"), viper.GetString("key"); cert != "" {
		opts = append(opts, server.WithServerCertificateFile(cert, key))
	}
	if names := viper.GetStringSlice("policies"); len(names) > 0 {
		uris := make([]string, 0, len(names))
		for _, name := range names {
			uri, err := parsePolicy(name)
			if err != nil {
				return nil, err
			}
			uris = append(uris, uri)
		}
		opts = append(opts, server.WithSecurityPolicies(uris...))
	}
	if path := viper.GetString("trusted"); path != "" {
		opts = append(opts, server.WithTrustedCertificatesFile(path))
	}
	if viper.GetBool("insecure") {
		opts = append(opts, server.WithInsecureSkipVerify())
	}
	if viper.GetBool("trace") {
		opts = append(opts, server.WithTrace())
	}
	return opts, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	opts, err := serverOptions()
	if err != nil {
		return err
	}
	srv, err := server.New(viper.GetString("endpoint"), opts...)
	if err != nil {
		return errors.Wrap(err, "create server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.GetLogger().Info("stopping server")
		srv.Close()
	}()

	if err := srv.ListenAndServe(); err != ua.BadServerHalted {
		return errors.Wrap(err, "serve")
	}
	return nil
}
