// Copyright 2021 Converter Systems LLC. All rights reserved.

package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/systerel/S2OPC-sub041/ua"
)

var (
	gencertCert string
	gencertKey  string
	gencertApp  string
	gencertHost string
)

var gencertCmd = &cobra.Command{
	Use:   "gencert",
	Short: "Generate a self-signed application certificate",
	Long: `Generate a self-signed certificate and RSA private key usable by both
the server and the client.

Examples:
  uatcp gencert --out-cert server.crt --out-key server.key --app uatcp-server --host localhost`,
	RunE: func(cmd *cobra.Command, args []string) error {
		crt, key, err := ua.CreateSelfSignedCertificate(gencertApp, gencertHost)
		if err != nil {
			return errors.Wrap(err, "create certificate")
		}
		if err := ua.WriteCertificateFiles(crt, key, gencertCert, gencertKey); err != nil {
			return errors.Wrap(err, "write certificate")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s for %s\n", gencertCert, gencertKey, gencertHost)
		return nil
	},
}

func init() {
	f := gencertCmd.Flags()
	// --cert and --key are persistent flags of the root, bound to viper
	f.StringVar(&gencertCert, "out-cert", "uatcp.crt", "output path of the certificate")
	f.StringVar(&gencertKey, "out-key", "uatcp.key", "output path of the private key")
	f.StringVar(&gencertApp, "app", "uatcp", "application name")
	f.StringVar(&gencertHost, "host", "localhost", "host name of the application")
}
