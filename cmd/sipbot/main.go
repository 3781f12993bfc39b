// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emiago/sipbot"
	"github.com/emiago/sipbot/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lev, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || lev == zerolog.NoLevel {
		lev = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.StampMicro,
	}).With().Timestamp().Logger().Level(lev)

	conf, err := sipbot.LoadConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	if conf.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, conf.MetricsAddr); err != nil {
				log.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	agent, err := sipbot.NewAgent(conf, sipbot.WithLogger(log.Logger))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create agent")
	}

	log.Info().
		Str("user", conf.Username).
		Str("domain", conf.Domain).
		Str("transport", conf.Transport).
		Int("port", conf.Port).
		Int("rtp_port", conf.RTPPort).
		Msg("Starting SIP bot")

	if err := agent.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("SIP bot finished with error")
	}
	log.Info().Msg("SIP bot stopped")
}
