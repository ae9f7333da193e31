// Copyright 2021 Converter Systems LLC. All rights reserved.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/systerel/S2OPC-sub041/ua"
	"github.com/systerel/S2OPC-sub041/uacp"
	"gotest.tools/assert"
)

const testConfig = `
endpoint = "opc.tcp://example.com:4841"
security_policy = "Basic256Sha256"
security_mode = "Sign"

[limits]
receive_buffer = 8192
send_buffer = 16384
max_message_size = 1048576
max_chunk_count = 64

[server]
policies = ["None", "Aes256_Sha256_RsaPss"]
max_channels = 10
`

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "uatcp.toml")
	assert.NilError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	assert.NilError(t, loadConfig(writeConfig(t, testConfig)))
	assert.Equal(t, viper.GetString("endpoint"), "opc.tcp://example.com:4841")
	assert.Equal(t, viper.GetInt("max-channels"), 10)
	assert.DeepEqual(t, viper.GetStringSlice("policies"), []string{"None", "Aes256_Sha256_RsaPss"})
	assert.Equal(t, limitsFromConfig(), uacp.Limits{
		ReceiveBufferSize: 8192,
		SendBufferSize:    16384,
		MaxMessageSize:    1048576,
		MaxChunkCount:     64,
	})

	// keys missing from the file keep the flag defaults
	assert.Equal(t, viper.GetString("log-level"), "info")
	assert.Equal(t, viper.GetInt("workers"), 4)

	// flags take precedence
	assert.NilError(t, rootCmd.PersistentFlags().Set("endpoint", "opc.tcp://localhost:4842"))
	assert.Equal(t, viper.GetString("endpoint"), "opc.tcp://localhost:4842")

	opts, err := serverOptions()
	assert.NilError(t, err)
	assert.Assert(t, len(opts) > 0)
	copts, err := clientOptions()
	assert.NilError(t, err)
	assert.Assert(t, len(copts) > 0)
}

func TestLoadConfigErrors(t *testing.T) {
	assert.ErrorContains(t, loadConfig(writeConfig(t, `endpoint = `)), "load config")
	assert.ErrorContains(t, loadConfig(writeConfig(t, `unknown = 1`)), "unknown key")
	assert.ErrorContains(t, loadConfig(filepath.Join(t.TempDir(), "missing.toml")), "load config")
}

func TestParsePolicy(t *testing.T) {
	cases := map[string]string{
		"None":                  ua.SecurityPolicyURINone,
		"basic128rsa15":         ua.SecurityPolicyURIBasic128Rsa15,
		"Basic256":              ua.SecurityPolicyURIBasic256,
		"Basic256Sha256":        ua.SecurityPolicyURIBasic256Sha256,
		"Aes128_Sha256_RsaOaep": ua.SecurityPolicyURIAes128Sha256RsaOaep,
		"Aes256Sha256RsaPss":    ua.SecurityPolicyURIAes256Sha256RsaPss,
	}
	for in, want := range cases {
		got, err := parsePolicy(in)
		assert.NilError(t, err)
		assert.Equal(t, got, want)
	}
	got, err := parsePolicy(ua.SecurityPolicyURIBasic256Sha256)
	assert.NilError(t, err)
	assert.Equal(t, got, ua.SecurityPolicyURIBasic256Sha256)
	_, err = parsePolicy("Basic512")
	assert.ErrorContains(t, err, "unknown security policy")
}

func TestParseMode(t *testing.T) {
	cases := map[string]ua.MessageSecurityMode{
		"":               ua.MessageSecurityModeInvalid,
		"None":           ua.MessageSecurityModeNone,
		"sign":           ua.MessageSecurityModeSign,
		"SignAndEncrypt": ua.MessageSecurityModeSignAndEncrypt,
	}
	for in, want := range cases {
		got, err := parseMode(in)
		assert.NilError(t, err)
		assert.Equal(t, got, want)
	}
	_, err := parseMode("Encrypt")
	assert.ErrorContains(t, err, "unknown security mode")
}
