// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipbot

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "SIPBOT_"

type Config struct {
	// LocalAddress is announced in Contact, Via and SDP
	LocalAddress string
	// BindAddress is listening address. Empty means LocalAddress
	BindAddress string
	Port        int
	Transport   string
	RTPPort     int

	Domain    string
	Username  string
	Password  string
	Registrar string
	// RegisterTTLSeconds is requested binding expiry
	RegisterTTLSeconds   int
	RegisterRetrySeconds int

	AudioFile           string
	TTSText             string
	HangupAfterPlayback bool

	UserAgent   string
	RTCP        bool
	MetricsAddr string
}

func DefaultConfig() Config {
	return Config{
		LocalAddress:        "127.0.0.1",
		Port:                5060,
		Transport:           "udp",
		RTPPort:             4000,
		Domain:              "127.0.0.1",
		Username:            "1000",
		Password:            "super-secret",
		RegisterTTLSeconds:  3600,
		AudioFile:           "audio/hello.wav",
		TTSText:             "Welcome to the SIP bot",
		HangupAfterPlayback: true,
		UserAgent:           "sipbot",
	}
}

type configOption struct {
	name  string
	usage string

	str     *string
	num     *int
	boolean *bool
}

func (o configOption) envName() string {
	var b strings.Builder
	b.WriteString(envPrefix)
	for i, r := range o.name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			continue
		}
		b.WriteRune(r - 'a' + 'A')
	}
	return b.String()
}

func (o configOption) set(v string) error {
	switch {
	case o.str != nil:
		*o.str = v
	case o.num != nil:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("option %s: %w", o.name, err)
		}
		*o.num = n
	case o.boolean != nil:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("option %s: %w", o.name, err)
		}
		*o.boolean = b
	}
	return nil
}

func (c *Config) options() []configOption {
	return []configOption{
		{name: "localAddress", usage: "address announced in Contact and SDP", str: &c.LocalAddress},
		{name: "bindAddress", usage: "SIP listen address, defaults to localAddress", str: &c.BindAddress},
		{name: "port", usage: "SIP port", num: &c.Port},
		{name: "transport", usage: "udp or tcp", str: &c.Transport},
		{name: "rtpPort", usage: "local RTP port", num: &c.RTPPort},
		{name: "domain", usage: "registrar domain", str: &c.Domain},
		{name: "username", usage: "registration username", str: &c.Username},
		{name: "password", usage: "registration password", str: &c.Password},
		{name: "registrar", usage: "registrar host:port, defaults to domain", str: &c.Registrar},
		{name: "registerTtlSeconds", usage: "registration expiry", num: &c.RegisterTTLSeconds},
		{name: "registerRetrySeconds", usage: "retry after failed registration, 0 disables", num: &c.RegisterRetrySeconds},
		{name: "audioFile", usage: "announcement WAV file", str: &c.AudioFile},
		{name: "ttsText", usage: "text rendered as tones when audio file is unavailable", str: &c.TTSText},
		{name: "hangupAfterPlayback", usage: "send BYE when announcement ends", boolean: &c.HangupAfterPlayback},
		{name: "userAgent", usage: "User-Agent header", str: &c.UserAgent},
		{name: "rtcp", usage: "send RTCP sender reports", boolean: &c.RTCP},
		{name: "metricsAddr", usage: "prometheus listen address, empty disables", str: &c.MetricsAddr},
	}
}

// ApplyEnv overrides options from SIPBOT_* variables, ex. SIPBOT_RTP_PORT
func (c *Config) ApplyEnv(lookup func(key string) (string, bool)) error {
	for _, o := range c.options() {
		v, ok := lookup(o.envName())
		if !ok {
			continue
		}
		if err := o.set(v); err != nil {
			return err
		}
	}
	return nil
}

// FlagSet binds options as command line flags with current values as defaults
func (c *Config) FlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	for _, o := range c.options() {
		switch {
		case o.str != nil:
			fs.StringVar(o.str, o.name, *o.str, o.usage)
		case o.num != nil:
			fs.IntVar(o.num, o.name, *o.num, o.usage)
		case o.boolean != nil:
			fs.BoolVar(o.boolean, o.name, *o.boolean, o.usage)
		}
	}
	return fs
}

// LoadConfig builds config from defaults, dotenv files, environment and args in that order.
// Without envFiles .env in working directory is used if present.
func LoadConfig(args []string, envFiles ...string) (Config, error) {
	conf := DefaultConfig()

	dotenv, err := readDotenv(envFiles)
	if err != nil {
		return conf, err
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := conf.ApplyEnv(lookup); err != nil {
		return conf, err
	}

	if err := conf.FlagSet("sipbot").Parse(args); err != nil {
		return conf, err
	}

	return conf, conf.Validate()
}

func readDotenv(files []string) (map[string]string, error) {
	if len(files) > 0 {
		return godotenv.Read(files...)
	}

	env, err := godotenv.Read()
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	return env, err
}

func (c Config) Validate() error {
	var errs []error
	switch c.Transport {
	case "udp", "tcp":
	default:
		errs = append(errs, fmt.Errorf("transport must be udp or tcp, got %q", c.Transport))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.Port))
	}
	if c.RTPPort < 1 || c.RTPPort > 65535 {
		errs = append(errs, fmt.Errorf("rtpPort out of range: %d", c.RTPPort))
	}
	if c.LocalAddress == "" {
		errs = append(errs, errors.New("localAddress is required"))
	}
	if c.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if c.Domain == "" {
		errs = append(errs, errors.New("domain is required"))
	}
	if c.RegisterTTLSeconds < 1 {
		errs = append(errs, fmt.Errorf("registerTtlSeconds must be positive: %d", c.RegisterTTLSeconds))
	}
	if c.RegisterRetrySeconds < 0 {
		errs = append(errs, fmt.Errorf("registerRetrySeconds must not be negative: %d", c.RegisterRetrySeconds))
	}
	return errors.Join(errs...)
}

func (c Config) bindHost() string {
	if c.BindAddress != "" {
		return c.BindAddress
	}
	return c.LocalAddress
}

func (c Config) registerTTL() time.Duration {
	return time.Duration(c.RegisterTTLSeconds) * time.Second
}
