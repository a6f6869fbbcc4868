package main

import (
	"log/slog"
	"os"

	"github.com/polarbio/occurharvest/cmd"
	"github.com/polarbio/occurharvest/internal/conf"
	"github.com/polarbio/occurharvest/internal/logging"
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		logging.Init(slog.LevelInfo)
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if settings.Debug {
		level = slog.LevelDebug
	}
	logging.Init(level)

	if err := conf.ValidateSettings(settings); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := cmd.RootCommand(settings).Execute(); err != nil {
		os.Exit(1)
	}
}
