package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"wahagate/internal/migrations"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

func main() {
	driver := flag.String("driver", migrations.DriverSQLite, "Database driver: sqlite3 or postgres")
	dsn := flag.String("dsn", "./wahagate.db", "Data source name (file path for sqlite3)")
	status := flag.Bool("status", false, "Print migration status without applying anything")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := run(ctx, *driver, *dsn, *status, os.Stdout, logger); err != nil {
		logger.Fatalf("Migration failed: %v", err)
	}
}

func run(ctx context.Context, driver, dsn string, statusOnly bool, out io.Writer, logger *logrus.Logger) error {
	if dsn == "" {
		return fmt.Errorf("a data source name is required")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if statusOnly {
		return printStatus(ctx, db, driver, out)
	}

	applied, err := migrations.Apply(ctx, db, driver, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		logger.Info("Schema is up to date")
		return nil
	}
	logger.WithField("versions", applied).Info("Migrations applied")
	return nil
}

func printStatus(ctx context.Context, db *sql.DB, driver string, out io.Writer) error {
	list, err := migrations.List(driver)
	if err != nil {
		return err
	}
	applied, err := migrations.Applied(ctx, db)
	if err != nil {
		return err
	}
	for _, m := range list {
		state := "pending"
		if applied[m.Version] {
			state = "applied"
		}
		fmt.Fprintf(out, "%04d %-32s %s\n", m.Version, m.Name, state)
	}
	return nil
}
