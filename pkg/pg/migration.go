package pg

import (
	"context"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/nimasrn/transaction-guard/pkg/logger"
	"github.com/pressly/goose/v3"
)

// Migrate runs a goose command (up, down, status, ...) against the database
// using the SQL migrations found in dir.
func Migrate(ctx context.Context, cfg Config, dir string, command string, args ...string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	db, err := newSqlConnection(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("running migrations", "command", command, "dir", dir)
	if err = goose.RunContext(ctx, command, db, dir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}

	return nil
}
