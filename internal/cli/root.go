// Package cli implements the retailsaga command line.
package cli

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/cloudretail/saga/internal/config"
	"github.com/cloudretail/saga/internal/logging"
)

// app carries what PersistentPreRunE prepares for every subcommand.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
}

func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "retailsaga",
		Short: "Order placement with saga compensation",
		Long: `retailsaga - places retail orders through a saga that reserves stock, records the
order, authorizes payment, commits stock and confirms the order, undoing completed
steps when a later one fails.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML config file")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (json, console)")
	flags.String("driver", "", "Database driver (sqlite, postgres)")
	flags.String("dsn", "", "Database DSN")
	flags.String("db-path", "", "SQLite database file")
	flags.String("host", "", "Postgres host")
	flags.String("port", "", "Postgres port")
	flags.String("user", "", "Postgres user")
	flags.String("database", "", "Postgres database name")
	flags.BoolP("password", "W", false, "Prompt for the Postgres password")

	rootCmd.AddCommand(
		newServeCommand(a),
		newMigrateCommand(a),
		newSeedCommand(a),
		newOrderCommand(a),
		newSagaCommand(a),
		newUserCommand(a),
	)

	return rootCmd
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	overrides := []struct {
		flag string
		dst  *string
	}{
		{"log-level", &cfg.Logging.Level},
		{"log-format", &cfg.Logging.Format},
		{"driver", &cfg.Database.Driver},
		{"dsn", &cfg.Database.DSN},
		{"db-path", &cfg.Database.Path},
		{"host", &cfg.Database.Host},
		{"port", &cfg.Database.Port},
		{"user", &cfg.Database.User},
		{"database", &cfg.Database.Name},
	}
	for _, o := range overrides {
		if flags.Changed(o.flag) {
			if *o.dst, err = flags.GetString(o.flag); err != nil {
				return fmt.Errorf("failed to get %s flag: %w", o.flag, err)
			}
		}
	}

	if prompt, _ := flags.GetBool("password"); prompt {
		if cfg.Database.Password, err = readPassword(); err != nil {
			return err
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, _, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

func readPassword() (string, error) {
	_, _ = fmt.Fprint(os.Stderr, "Password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	_, _ = fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	return string(password), nil
}
