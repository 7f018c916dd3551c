package main

import (
	"os"

	"github.com/spf13/cobra"

	appconfig "github.com/maitre-labs/raison/config"
	srv "github.com/maitre-labs/raison/internal/server"
)

func main() {
	var root = &cobra.Command{Use: "raison"}

	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server (includes the escalation watchdog)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serveAddr == "" {
				serveAddr = os.Getenv("RAISON_HTTP_ADDR")
			}
			return srv.Run(serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")

	var migDir string
	var direction string
	var steps int
	var migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appconfig.LoadConfig("", true); err != nil {
				return err
			}
			dsn, err := appconfig.AppConfig.Databases.Postgres.DSN()
			if err != nil {
				dsn = os.Getenv("DATABASE_URL")
			}
			return srv.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrateCmd.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source (file://migrations)")
	migrateCmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrateCmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	var watchdogCmd = &cobra.Command{
		Use:   "watchdog",
		Short: "Run the escalation watchdog as a standalone process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return srv.RunWatchdog()
		},
	}

	root.AddCommand(serve, migrateCmd, watchdogCmd)
	_ = root.Execute()
}
