// Package commands defines all Cobra CLI commands for the zudu binary.
package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/zudu-go/internal/audit"
	"github.com/54b3r/zudu-go/internal/config"
	"github.com/54b3r/zudu-go/internal/logging"
)

var (
	// configPath holds the --config flag value for YAML config file override.
	configPath string
	// envFile holds the --env-file flag value.
	envFile string
)

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "zudu",
		Short: "Zudu: a retrieval-augmented voice agent that captures leads",
		Long: `Zudu answers questions about Zudu from an ingested knowledge base while
collecting each caller's name, company, email and use case.

Settings come from the environment, a .env file and a YAML config file
(~/.zudu/config.yaml or ./zudu.yaml), in that order of precedence.
See 'zudu --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loadedEnv, err := config.LoadDotEnv(envFile)
			if err != nil {
				return err
			}

			// The YAML file may set LOG_LEVEL, so the logger is rebuilt after it.
			path, err := config.Load(configPath, logging.New())
			if err != nil {
				return err
			}
			log := logging.New()
			if loadedEnv {
				log.Debug("loaded environment file", slog.String("path", envFile))
			}

			ctx := logging.WithLogger(cmd.Context(), log)
			cmd.SetContext(ctx)
			audit.LogCommandStart(ctx, log, cmd.Name(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.zudu/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file; missing files are ignored")

	root.AddCommand(
		NewServeCmd(),
		NewChatCmd(),
		NewQueryCmd(),
		NewIngestCmd(),
		NewVersionCmd(),
	)
	return root
}

// runtimeFromEnv resolves and validates the runtime settings for cmdName.
func runtimeFromEnv(cmdName string) (*config.Runtime, error) {
	rt, err := config.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmdName, err)
	}
	return rt, nil
}
