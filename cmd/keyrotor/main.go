// Command keyrotor inspects a Gemini key pool, routes prompts through the
// provider chain and serves pool status over HTTP.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ineyio/keyrotor"
)

type rootFlags struct {
	configPath string
	envFile    string
	logLevel   string
	logJSON    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "keyrotor",
		Short:         "Rotate Gemini API keys under a per-key daily limit",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(f.envFile); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("load %s: %w", f.envFile, err)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&f.configPath, "config", "c", "keyrotor.yaml", "path to the YAML config")
	cmd.PersistentFlags().StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before the config")
	cmd.PersistentFlags().StringVar(&f.logLevel, "log-level", "info", "debug, info, warn or error")
	cmd.PersistentFlags().BoolVar(&f.logJSON, "log-json", false, "log as JSON")

	cmd.AddCommand(newKeysCmd(f), newGenerateCmd(f), newServeCmd(f))
	return cmd
}

func (f *rootFlags) logger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(f.logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if f.logJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func (f *rootFlags) config() (keyrotor.Config, error) {
	return keyrotor.LoadConfig(f.configPath)
}
