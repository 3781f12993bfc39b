// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipbot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	conf := DefaultConfig()
	require.NoError(t, conf.Validate())
	assert.Equal(t, "127.0.0.1", conf.LocalAddress)
	assert.Equal(t, 5060, conf.Port)
	assert.Equal(t, "udp", conf.Transport)
	assert.Equal(t, 4000, conf.RTPPort)
	assert.Equal(t, 3600, conf.RegisterTTLSeconds)
	assert.Equal(t, "audio/hello.wav", conf.AudioFile)
	assert.True(t, conf.HangupAfterPlayback)
	assert.Equal(t, time.Hour, conf.registerTTL())
	assert.Equal(t, "127.0.0.1", conf.bindHost())
}

func TestConfigEnvNames(t *testing.T) {
	names := map[string]bool{}
	conf := DefaultConfig()
	for _, o := range conf.options() {
		names[o.envName()] = true
	}
	for _, n := range []string{"SIPBOT_LOCAL_ADDRESS", "SIPBOT_RTP_PORT", "SIPBOT_REGISTER_TTL_SECONDS", "SIPBOT_HANGUP_AFTER_PLAYBACK", "SIPBOT_RTCP"} {
		assert.True(t, names[n], n)
	}
}

func TestConfigApplyEnv(t *testing.T) {
	env := map[string]string{
		"SIPBOT_RTP_PORT":              "5004",
		"SIPBOT_HANGUP_AFTER_PLAYBACK": "false",
		"SIPBOT_USERNAME":              "bot",
	}
	conf := DefaultConfig()
	err := conf.ApplyEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	require.NoError(t, err)
	assert.Equal(t, 5004, conf.RTPPort)
	assert.False(t, conf.HangupAfterPlayback)
	assert.Equal(t, "bot", conf.Username)

	env["SIPBOT_PORT"] = "abc"
	require.Error(t, conf.ApplyEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}))
}

func TestLoadConfigPrecedence(t *testing.T) {
	dotenv := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(dotenv, []byte("SIPBOT_DOMAIN=dotenv.example\nSIPBOT_USERNAME=fromfile\nSIPBOT_PORT=5070\n"), 0644))
	t.Setenv("SIPBOT_USERNAME", "fromenv")
	t.Setenv("SIPBOT_PORT", "5080")

	conf, err := LoadConfig([]string{"-port", "5090", "-rtcp"}, dotenv)
	require.NoError(t, err)
	assert.Equal(t, "dotenv.example", conf.Domain)
	assert.Equal(t, "fromenv", conf.Username)
	assert.Equal(t, 5090, conf.Port)
	assert.True(t, conf.RTCP)
}

func TestLoadConfigMissingDotenv(t *testing.T) {
	_, err := LoadConfig(nil, filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"transport", func(c *Config) { c.Transport = "tls" }},
		{"port", func(c *Config) { c.Port = 70000 }},
		{"rtpPort", func(c *Config) { c.RTPPort = 0 }},
		{"username", func(c *Config) { c.Username = "" }},
		{"domain", func(c *Config) { c.Domain = "" }},
		{"ttl", func(c *Config) { c.RegisterTTLSeconds = 0 }},
		{"retry", func(c *Config) { c.RegisterRetrySeconds = -1 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			conf := DefaultConfig()
			tc.modify(&conf)
			require.Error(t, conf.Validate())
		})
	}
}
