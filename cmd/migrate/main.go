// migrate runs DB migrations from embedded SQL: go run ./cmd/migrate up|down|version.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"helpdesk-auth/backend/internal/config"
	"helpdesk-auth/backend/internal/db/migrate"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply or roll back the embedded schema migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		directionCmd("up", "Apply all pending migrations"),
		directionCmd("down", "Roll back all migrations"),
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				dsn, err := databaseURL()
				if err != nil {
					return err
				}
				v, dirty, err := migrate.Version(dsn)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", v, dirty)
				return nil
			},
		},
	)
	return root
}

func directionCmd(direction, short string) *cobra.Command {
	return &cobra.Command{
		Use:   direction,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn, err := databaseURL()
			if err != nil {
				return err
			}
			if err := migrate.Run(dsn, direction); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: ok\n", direction)
			return nil
		},
	}
}

func databaseURL() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	if cfg.DatabaseURL == "" {
		return "", migrate.ErrNoDSN
	}
	return cfg.DatabaseURL, nil
}
