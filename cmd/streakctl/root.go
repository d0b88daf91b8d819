package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"example.com/streaks/internal/app"
	"example.com/streaks/internal/config"
	"example.com/streaks/internal/domain"
	"example.com/streaks/internal/logger"
)

// cli holds the state shared by every subcommand for one invocation.
type cli struct {
	cfg     config.Config
	asJSON  bool
	verbose bool

	backend *app.Backend
	service *domain.Service
}

func newRootCmd(cfg config.Config) *cobra.Command {
	c := &cli{cfg: cfg}

	root := &cobra.Command{
		Use:           "streakctl",
		Short:         "Log activities and inspect streaks against a local store",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfg.StoreDriver, "driver", cfg.StoreDriver, "Store driver (sqlite, postgres)")
	flags.StringVar(&c.cfg.SQLitePath, "db", cfg.SQLitePath, "SQLite database path")
	flags.StringVar(&c.cfg.PostgresURL, "postgres-url", cfg.PostgresURL, "Postgres connection URL")
	flags.StringVar(&c.cfg.Timezone, "tz", cfg.Timezone, "IANA zone that defines calendar days")
	flags.BoolVarP(&c.asJSON, "json", "j", false, "Output as JSON")
	flags.BoolVar(&c.verbose, "verbose", false, "Log store activity to stderr")

	root.AddCommand(
		c.logCmd(),
		c.currentCmd(),
		c.historyCmd(),
		c.activitiesCmd(),
		c.todayCmd(),
		c.statsCmd(),
		c.tokenCmd(),
	)
	return root
}

// open connects to the store. Subcommands that need the engine call it first.
func (c *cli) open(cmd *cobra.Command) error {
	log := logger.NewNop()
	if c.verbose {
		var err error
		if log, err = logger.New("dev"); err != nil {
			return err
		}
	}

	backend, err := app.OpenBackend(cmd.Context(), c.cfg, log)
	if err != nil {
		return err
	}
	service, err := app.NewService(c.cfg, backend.Store, log)
	if err != nil {
		backend.Close()
		return err
	}
	c.backend = backend
	c.service = service
	return nil
}

func (c *cli) close() {
	if c.backend != nil {
		c.backend.Close()
		c.backend = nil
	}
}

// withService wraps a RunE that needs the engine.
func (c *cli) withService(fn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := c.open(cmd); err != nil {
			return err
		}
		defer c.close()
		return fn(cmd, args)
	}
}

// emit writes v as JSON when --json is set, and otherwise calls text.
func (c *cli) emit(w io.Writer, v interface{}, text func(w io.Writer)) error {
	if c.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
