// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bindothorpe/b-anime/internal/config"
	"github.com/bindothorpe/b-anime/internal/daemon"
	xglog "github.com/bindothorpe/b-anime/internal/log"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg := config.FromEnv()

	xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: "b-anime",
		Version: version,
		Pretty:  cfg.LogPretty,
	})
	logger := xglog.WithComponent("main")

	if err := config.Validate(cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.invalid").
			Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(cfg, version)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.init_failed").
			Msg("failed to initialize daemon")
	}

	if err := d.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.run_failed").
			Msg("daemon exited with error")
	}
}
