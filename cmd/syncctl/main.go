// Command syncctl is the operator CLI for the sync subsystem. It builds the
// same components as syncd from the environment and runs one operation.
//
// Usage:
//
//	syncctl resolve
//	syncctl sync field-12 --geometry-file field-12.geojson
//	syncctl sync-all
//	syncctl latest field-12 satellite
//	syncctl history field-12 soil --since 2024-05-01
//	syncctl verify
package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/field-env-sync/internal/app"
	"github.com/couchcryptid/field-env-sync/internal/config"
	"github.com/couchcryptid/field-env-sync/internal/observability"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// cli carries the state shared by subcommands.
type cli struct {
	out    io.Writer
	logger *slog.Logger
	app    *app.App
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:           "syncctl",
		Short:         "Operate the environmental-data sync subsystem",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load(".env.local")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			c.logger = observability.NewLogger(cfg)
			c.app, err = app.Build(cmd.Context(), cfg, c.logger, observability.NewMetrics())
			return err
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.Close()
		},
	}

	root.AddCommand(
		c.newResolveCmd(),
		c.newSyncCmd(),
		c.newSyncAllCmd(),
		c.newLatestCmd(),
		c.newHistoryCmd(),
		c.newVerifyCmd(),
	)
	return root
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
