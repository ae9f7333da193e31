// Copyright 2021 Converter Systems LLC. All rights reserved.

package main

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/systerel/S2OPC-sub041/logger"
	"github.com/systerel/S2OPC-sub041/ua"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "uatcp",
	Short: "OPC UA TCP secure channel tool",
	Long: `Open OPC UA secure channels over TCP.

Examples:
  uatcp gencert --out-cert server.crt --out-key server.key --host localhost
  uatcp serve -e opc.tcp://localhost:4840 --cert server.crt --key server.key
  uatcp send -e opc.tcp://localhost:4840 -s Basic256Sha256 --server-cert server.crt --data hello

Settings are read from flags, then UATCP_* environment variables, then the
TOML file given with --config.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			if err := loadConfig(cfgFile); err != nil {
				return err
			}
		}
		l, err := newLogger()
		if err != nil {
			return err
		}
		logger.SetLogger(l)
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "TOML configuration file")
	f.StringP("endpoint", "e", "opc.tcp://localhost:4840", "endpoint url")
	f.StringP("security-policy", "s", "None", "security policy (None, Basic128Rsa15, Basic256, Basic256Sha256, Aes128Sha256RsaOaep, Aes256Sha256RsaPss)")
	f.StringP("security-mode", "m", "", "security mode (None, Sign, SignAndEncrypt)")
	f.String("cert", "", "local certificate file (PEM or DER)")
	f.String("key", "", "local private key file (PEM)")
	f.String("trusted", "", "trusted certificates file")
	f.Bool("insecure", false, "skip verification of the remote certificate")
	f.Uint32("receive-buffer", 65535, "receive buffer size")
	f.Uint32("send-buffer", 65535, "send buffer size")
	f.Uint32("max-message-size", 16*1024*1024, "maximum message size, 0 for no limit")
	f.Uint32("max-chunk-count", 4096, "maximum chunk count, 0 for no limit")
	f.String("log-level", "info", "log level (debug, info, warn, error)")
	f.Bool("console", false, "render logs for the console instead of JSON")
	f.Bool("trace", false, "log every chunk and message")

	for _, name := range []string{
		"endpoint", "security-policy", "security-mode", "cert", "key", "trusted", "insecure",
		"receive-buffer", "send-buffer", "max-message-size", "max-chunk-count",
		"log-level", "console", "trace",
	} {
		viper.BindPFlag(name, f.Lookup(name))
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(gencertCmd)
}

func initConfig() {
	viper.SetEnvPrefix("UATCP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func newLogger() (logger.Logger, error) {
	var level logger.Level
	switch strings.ToLower(viper.GetString("log-level")) {
	case "debug":
		level = logger.DebugLevel
	case "info", "":
		level = logger.InfoLevel
	case "warn":
		level = logger.WarnLevel
	case "error":
		level = logger.ErrorLevel
	default:
		return nil, errors.Errorf("unknown log level %q", viper.GetString("log-level"))
	}
	return logger.NewSlogWriter(os.Stderr, level, false, viper.GetBool("console")), nil
}

var policyURIs = map[string]string{
	"none":                ua.SecurityPolicyURINone,
	"basic128rsa15":       ua.SecurityPolicyURIBasic128Rsa15,
	"basic256":            ua.SecurityPolicyURIBasic256,
	"basic256sha256":      ua.SecurityPolicyURIBasic256Sha256,
	"aes128sha256rsaoaep": ua.SecurityPolicyURIAes128Sha256RsaOaep,
	"aes256sha256rsapss":  ua.SecurityPolicyURIAes256Sha256RsaPss,
}

// parsePolicy accepts a short policy name or a full policy uri.
func parsePolicy(s string) (string, error) {
	if strings.Contains(s, "#") {
		return s, nil
	}
	key := strings.ToLower(strings.ReplaceAll(s, "_", ""))
	if uri, ok := policyURIs[key]; ok {
		return uri, nil
	}
	return "", errors.Errorf("unknown security policy %q", s)
}

// parseMode returns MessageSecurityModeInvalid for an empty string.
func parseMode(s string) (ua.MessageSecurityMode, error) {
	switch strings.ToLower(s) {
	case "":
		return ua.MessageSecurityModeInvalid, nil
	case "none":
		return ua.MessageSecurityModeNone, nil
	case "sign":
		return ua.MessageSecurityModeSign, nil
	case "signandencrypt":
		return ua.MessageSecurityModeSignAndEncrypt, nil
	}
	return ua.MessageSecurityModeInvalid, errors.Errorf("unknown security mode %q", s)
}
