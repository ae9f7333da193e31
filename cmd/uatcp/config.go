// Copyright 2021 Converter Systems LLC. All rights reserved.

package main

import (
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/systerel/S2OPC-sub041/uacp"
)

// fileConfig is the layout of the TOML configuration file.
//
//	endpoint = "opc.tcp://localhost:4840"
//	security_policy = "Basic256Sha256"
//
//	[limits]
//	receive_buffer = 65535
//
//	[server]
//	max_channels = 100
type fileConfig struct {
	Endpoint       string `toml:"endpoint"`
	SecurityPolicy string `toml:"security_policy"`
	SecurityMode   string `toml:"security_mode"`
	Cert           string `toml:"cert"`
	Key            string `toml:"key"`
	Trusted        string `toml:"trusted"`
	Insecure       bool   `toml:"insecure"`
	LogLevel       string `toml:"log_level"`
	Console        bool   `toml:"console"`
	Trace          bool   `toml:"trace"`
	Limits         struct {
		ReceiveBuffer  uint32 `toml:"receive_buffer"`
		SendBuffer     uint32 `toml:"send_buffer"`
		MaxMessageSize uint32 `toml:"max_message_size"`
		MaxChunkCount  uint32 `toml:"max_chunk_count"`
	} `toml:"limits"`
	Server struct {
		Policies         []string `toml:"policies"`
		MaxChannels      int      `toml:"max_channels"`
		Workers          int      `toml:"workers"`
		MaxTokenLifetime uint32   `toml:"max_token_lifetime"`
	} `toml:"server"`
	Client struct {
		TokenLifetime uint32 `toml:"token_lifetime"`
		TimeoutHint   uint32 `toml:"timeout_hint"`
	} `toml:"client"`
}

// loadConfig reads the file and installs its values as viper defaults,
// so flags and environment variables take precedence.
func loadConfig(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	if keys := meta.Undecoded(); len(keys) > 0 {
		return errors.Errorf("load config: unknown key %q", keys[0].String())
	}

	set := func(tomlKey, viperKey string, value any) {
		if meta.IsDefined(strings.Split(tomlKey, ".")...) {
			viper.SetDefault(viperKey, value)
		}
	}
	set("endpoint", "endpoint", strings.TrimSpace(raw.Endpoint))
	set("security_policy", "security-policy", strings.TrimSpace(raw.SecurityPolicy))
	set("security_mode", "security-mode", strings.TrimSpace(raw.SecurityMode))
	set("cert", "cert", raw.Cert)
	set("key", "key", raw.Key)
	set("trusted", "trusted", raw.Trusted)
	set("insecure", "insecure", raw.Insecure)
	set("log_level", "log-level", raw.LogLevel)
	set("console", "console", raw.Console)
	set("trace", "trace", raw.Trace)
	set("limits.receive_buffer", "receive-buffer", raw.Limits.ReceiveBuffer)
	set("limits.send_buffer", "send-buffer", raw.Limits.SendBuffer)
	set("limits.max_message_size", "max-message-size", raw.Limits.MaxMessageSize)
	set("limits.max_chunk_count", "max-chunk-count", raw.Limits.MaxChunkCount)
	set("server.policies", "policies", raw.Server.Policies)
	set("server.max_channels", "max-channels", raw.Server.MaxChannels)
	set("server.workers", "workers", raw.Server.Workers)
	set("server.max_token_lifetime", "max-token-lifetime", raw.Server.MaxTokenLifetime)
	set("client.token_lifetime", "token-lifetime", raw.Client.TokenLifetime)
	set("client.timeout_hint", "timeout-hint", raw.Client.TimeoutHint)
	return nil
}

func limitsFromConfig() uacp.Limits {
	return uacp.Limits{
		ProtocolVersion:   uacp.ProtocolVersion,
		ReceiveBufferSize: viper.GetUint32("receive-buffer"),
		SendBufferSize:    viper.GetUint32("send-buffer"),
		MaxMessageSize:    viper.GetUint32("max-message-size"),
		MaxChunkCount:     viper.GetUint32("max-chunk-count"),
	}
}
