// Command migrate applies or rolls back the schema migrations under
// cmd/migrate/migrations against DATABASE_URL.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/R3E-Network/service_layer/infrastructure/config"
	"github.com/R3E-Network/service_layer/infrastructure/logging"
)

const serviceName = "migrate"

func main() {
	var (
		direction = flag.String("direction", "up", "up or down")
		steps     = flag.Int("steps", 0, "number of steps to apply (0 means all)")
	)
	flag.Parse()

	logger := logging.NewFromEnv(serviceName)
	ctx := context.Background()

	dsn := config.RequireEnvOrSecretFile("DATABASE_URL")
	m, err := migrate.New("file://cmd/migrate/migrations", dsn)
	if err != nil {
		logger.WithError(err).Fatal("open migrator")
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.WithFields(map[string]interface{}{"source_error": srcErr, "db_error": dbErr}).Warn("close migrator")
		}
	}()

	if err := run(m, *direction, *steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.WithContext(ctx).Info("no pending migrations")
			return
		}
		logger.WithError(err).Fatal("run migration")
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.WithError(err).Fatal("read schema version")
	}
	logger.WithFields(map[string]interface{}{
		"version": version,
		"dirty":   dirty,
	}).Info("migration complete")
}

func run(m *migrate.Migrate, direction string, steps int) error {
	switch direction {
	case "up":
		if steps > 0 {
			return m.Steps(steps)
		}
		return m.Up()
	case "down":
		if steps > 0 {
			return m.Steps(-steps)
		}
		return m.Down()
	default:
		return fmt.Errorf("unsupported direction %q, want up or down", direction)
	}
}

