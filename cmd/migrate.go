package cmd

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded schema migrations",
	Long:  "Apply pending schema migrations for the configured ORDERS_DB_DRIVER using the elevated connection.",
	Run:   runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(_ *cobra.Command, _ []string) {
	cfg := mustLoadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := openStore(ctx, cfg.Store, cfg.Store.ElevatedDSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to order store")
	}
	defer db.close()

	start := time.Now()
	if err := db.migrate(ctx); err != nil {
		logrus.WithError(err).WithField("driver", cfg.Store.Driver).Fatal("Migration failed")
	}
	logrus.WithField("driver", cfg.Store.Driver).WithField("latency", time.Since(start).String()).Info("migrations_applied")
}
