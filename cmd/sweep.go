package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teemow/receptionist/internal/config"
	"github.com/teemow/receptionist/internal/holds"
	"github.com/teemow/receptionist/internal/logging"
)

var sweepFlags = map[string]string{
	"holds-backend":    "holds.backend",
	"calendar-backend": "calendar.backend",
	"log-level":        "logging.level",
}

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire lapsed holds and release their calendar events",
		Long: `Run a single expiry sweep against the shared hold store and release the
tentative calendar events of every hold that expired.

The server sweeps on its own; this command is meant for cron jobs when the
server runs with the sweeper disabled or is down. It requires a shared
backend (postgres or redis).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, sweepFlags)
			if err != nil {
				return err
			}
			if cfg.Holds.Backend == config.BackendMemory {
				return fmt.Errorf("sweep needs a shared holds backend, got %q", cfg.Holds.Backend)
			}

			logger, closer := logging.NewWithWriter(cfg.LoggingConfig(), cmd.ErrOrStderr())
			defer func() { _ = closer.Close() }()

			a, err := buildApp(cmd.Context(), cfg, nil, nil, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			sweeper := holds.NewSweeper(a.store, cfg.Holds.SweepInterval, a.orchestrator.ReleaseExpired, logger)
			n := sweeper.SweepOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d holds\n", n)
			return nil
		},
	}

	cmd.Flags().String("holds-backend", "", "Hold storage: postgres or redis")
	cmd.Flags().String("calendar-backend", config.BackendGoogle, "Calendar backend: google or memory")
	cmd.Flags().String("log-level", "info", "Log level: debug, info, warn or error")

	return cmd
}
