// Copyright 2021 Converter Systems LLC. All rights reserved.

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/systerel/S2OPC-sub041/client"
	"github.com/systerel/S2OPC-sub041/logger"
	"github.com/systerel/S2OPC-sub041/ua"
)

var (
	sendTypeID uint32
	sendData   string
	sendHex    bool
	sendCount  int
	sendRenew  bool
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Open a secure channel and send requests",
	Long: `Open a secure channel, send a request carrying the given body and print
each response.

Examples:
  uatcp send -e opc.tcp://localhost:4840 --data hello
  uatcp send -s Basic256Sha256 -m Sign --cert client.crt --key client.key --server-cert server.crt --count 10 --renew`,
	RunE: runSend,
}

func init() {
	f := sendCmd.Flags()
	f.String("server-cert", "", "server certificate file, required by secured policies")
	f.Uint32("token-lifetime", 3600000, "requested security token lifetime in milliseconds")
	f.Uint32("timeout-hint", 15000, "request timeout in milliseconds")
	f.Uint32Var(&sendTypeID, "type-id", 631, "numeric binary encoding id of the request")
	f.StringVar(&sendData, "data", "", "request body")
	f.BoolVar(&sendHex, "hex", false, "the request body is hex encoded")
	f.IntVarP(&sendCount, "count", "n", 1, "number of requests")
	f.BoolVar(&sendRenew, "renew", false, "renew the security token before each request")
	for _, name := range []string{"server-cert", "token-lifetime", "timeout-hint"} {
		viper.BindPFlag(name, f.Lookup(name))
	}
}

func clientOptions() ([]client.Option, error) {
	policy, err := parsePolicy(viper.GetString("security-policy"))
	if err != nil {
		return nil, err
	}
	mode, err := parseMode(viper.GetString("security-mode"))
	if err != nil {
		return nil, err
	}
	opts := []client.Option{
		client.WithSecurityPolicyURI(policy),
		client.WithSecurityMode(mode),
		client.WithLimits(limitsFromConfig()),
		client.WithTokenLifetime(viper.GetUint32("token-lifetime")),
		client.WithTimeoutHint(viper.GetUint32("timeout-hint")),
		client.WithLogger(logger.GetLogger()),
	}
	if cert, key := viper.GetString("cert"), viper.GetString("key"); cert != "" {
		opts = append(opts, client.WithClientCertificateFile(cert, key))
	}
	if path := viper.GetString("server-cert"); path != "" {
		opts = append(opts, client.WithServerCertificateFile(path))
	}
	if path := viper.GetString("trusted"); path != "" {
		opts = append(opts, client.WithTrustedCertificatesFile(path))
	}
	if viper.GetBool("insecure") {
		opts = append(opts, client.WithInsecureSkipVerify())
	}
	if viper.GetBool("trace") {
		opts = append(opts, client.WithTrace())
	}
	return opts, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	body := []byte(sendData)
	if sendHex {
		var err error
		if body, err = hex.DecodeString(sendData); err != nil {
			return errors.Wrap(err, "decode data")
		}
	}
	opts, err := clientOptions()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ch, err := client.Dial(ctx, viper.GetString("endpoint"), opts...)
	if err != nil {
		return errors.Wrap(err, "open secure channel")
	}
	defer ch.Close(ctx)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "channel %d opened (%s, %s)\n", ch.ChannelID(), ch.SecurityPolicyURI(), ch.SecurityMode())

	for i := 0; i < sendCount; i++ {
		if sendRenew {
			if err := ch.Renew(ctx); err != nil {
				return errors.Wrap(err, "renew")
			}
		}
		start := time.Now()
		res, err := ch.Request(ctx, &ua.Request{TypeID: ua.NewNodeIDNumeric(0, sendTypeID), Body: body})
		if err != nil {
			return errors.Wrapf(err, "request %d", i+1)
		}
		r, ok := res.(*ua.Response)
		if !ok {
			return errors.Errorf("request %d: unexpected response %s", i+1, res.EncodingID())
		}
		fmt.Fprintf(out, "response %d: type %s, %d bytes in %s\n", i+1, r.TypeID, len(r.Body), time.Since(start).Round(time.Microsecond))
		if len(r.Body) > 0 {
			fmt.Fprintln(out, hex.Dump(r.Body))
		}
	}
	return nil
}
