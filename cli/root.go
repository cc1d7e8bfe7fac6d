// Package cli wires the pipeline's components into the operator-facing
// commands named in spec §6: observe, consume, analyze, and the
// peripheral operational tasks. Adapted from the teacher's cli/root.go
// (cobra root command, persistent flags, .env loading) but the command
// tree and the services it wires are entirely this pipeline's own —
// the teacher's HTTP API server and JWT auth have no place here.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pkgsignal.dev/analyzer/common"
)

var (
	logLevelFlag string
	envFileFlag  string
	cfgFileFlag  string
)

// RootCmd is the pipeline's entry point, named for the binary rather
// than the teacher's "eve".
var RootCmd = &cobra.Command{
	Use:           "analyzer",
	Short:         "Continuously analyzes registry packages and scores them for search",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFileFlag != "" {
			if err := godotenv.Load(envFileFlag); err != nil {
				return fmt.Errorf("cli: loading env file %s: %w", envFileFlag, err)
			}
		} else {
			_ = godotenv.Load() // .env in cwd, if present; silent when absent
		}
		loadConfigFile()
		common.Logger.SetLevel(logLevelToLogrus(logLevelFlag))
		return nil
	},
}

// loadConfigFile mirrors the teacher's flags-over-viper-over-defaults
// precedence, adapted to this pipeline's env-var-keyed PipelineConfig:
// an optional YAML config file is read through viper, then every key it
// sets is pushed into the process environment under the ANALYZER_
// prefix (upper-cased, dots to underscores) so config.LoadPipelineConfig
// picks it up exactly like a real environment variable would, without
// needing its own viper-aware code path. Real env vars and --env-file
// values already in the environment are never overwritten, preserving
// flags/env > config file > built-in defaults.
func loadConfigFile() {
	if cfgFileFlag != "" {
		viper.SetConfigFile(cfgFileFlag)
	} else {
		home, err := homedir.Dir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".analyzer")
	}
	if err := viper.ReadInConfig(); err != nil {
		return // no config file present; env vars and defaults still apply
	}
	for _, key := range viper.AllKeys() {
		envKey := "ANALYZER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if os.Getenv(envKey) != "" {
			continue
		}
		if v := viper.GetString(key); v != "" {
			os.Setenv(envKey, v)
		}
	}
}

func init() {
	RootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info",
		"log level: error|warn|info|verbose|debug")
	RootCmd.PersistentFlags().StringVar(&envFileFlag, "env-file", "",
		"path to a .env file to load before reading configuration")
	RootCmd.PersistentFlags().StringVar(&cfgFileFlag, "config", "",
		"path to a YAML config file (default: .analyzer.yaml in $HOME or cwd)")

	RootCmd.AddCommand(observeCmd)
	RootCmd.AddCommand(consumeCmd)
	RootCmd.AddCommand(analyzeCmd)
	RootCmd.AddCommand(cleanExtraneousCmd)
	RootCmd.AddCommand(enqueueOutdatedCmd)
	RootCmd.AddCommand(enqueueViewCmd)
	RootCmd.AddCommand(checkCredentialsCmd)
}

// Execute runs the root command, the single call main.go makes.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// logLevelToLogrus maps spec §6's five-level enum onto logrus's levels.
// "verbose" sits between info and debug in the spec's own ordering, a
// rung logrus doesn't name, so it is mapped to logrus's Debug level and
// "debug" itself drops one further to Trace, preserving the spec's
// relative ordering end to end.
func logLevelToLogrus(level string) logrus.Level {
	switch level {
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "verbose":
		return logrus.DebugLevel
	case "debug":
		return logrus.TraceLevel
	case "info":
		return logrus.InfoLevel
	default:
		return logrus.InfoLevel
	}
}
