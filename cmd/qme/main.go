package main

import (
	"context"
	"os/signal"
	"syscall"

	"qme/internal/config"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	config.SetupLogging(cfg)

	root := &cobra.Command{Use: "qme", Short: "Q-Me virtual queue server", Version: version}
	root.AddCommand(
		ServeCommand{}.Command(ctx, cfg),
		MigrateCommand{}.Command(ctx, cfg),
	)

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute command")
	}
}
