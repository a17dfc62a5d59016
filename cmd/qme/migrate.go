package main

import (
	"context"
	"strings"

	"qme/internal/config"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type MigrateCommand struct{}

func (cmd MigrateCommand) Command(ctx context.Context, cfg config.Config) *cobra.Command {
	var source string
	command := &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "apply or roll back the postgres schema",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down"},
		RunE: func(_ *cobra.Command, args []string) error {
			return cmd.run(cfg, source, args[0])
		},
	}
	command.Flags().StringVar(&source, "source", "file://migrations", "migration source URL")
	return command
}

func (cmd MigrateCommand) run(cfg config.Config, source, direction string) error {
	if cfg.DatabaseURL == "" {
		return errors.New("migrate: DB_DSN is required")
	}
	m, err := migrate.New(source, migrationURL(cfg.DatabaseURL))
	if err != nil {
		return errors.Wrap(err, "migrate: open")
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.Warn().AnErr("source", srcErr).AnErr("database", dbErr).Msg("migrate: close")
		}
	}()

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	default:
		return errors.Errorf("migrate: command %q is not supported", direction)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrapf(err, "migrate %s", direction)
	}

	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return errors.Wrap(verr, "migrate: version")
	}
	log.Info().Str("direction", direction).Uint("version", version).Bool("dirty", dirty).Msg("migrations applied")
	return nil
}

// migrationURL rewrites a postgres DSN to the scheme of the pgx/v5 migrate driver.
func migrationURL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(dsn, prefix); ok {
			return "pgx5://" + rest
		}
	}
	return dsn
}
