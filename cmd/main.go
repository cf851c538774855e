// Command callrisk runs pre-call risk checks for LLM API calls.
//
// Subcommands:
//
//	check    assess a request file and print the snapshot
//	record   record the outcome of an executed call
//	history  list outcomes still inside the monitoring window
//	serve    expose a monitoring session over HTTP
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/compresr/callrisk/internal/config"
	"github.com/compresr/callrisk/internal/monitoring"
)

var (
	flagConfig  string
	flagDebug   bool
	flagEnvFile []string
)

// Loaded once in PersistentPreRunE.
var (
	cfg       *config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "callrisk",
	Short:         "Predictive risk checks for LLM API calls",
	Long:          "Assess cost, rate-limit, performance and security risk before an LLM call is issued.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loadEnvFiles(flagEnvFile)

		var err error
		cfg, err = loadConfig(flagConfig)
		if err != nil {
			return err
		}

		logCloser, err = setupLogging(cfg.Logging, flagDebug)
		return err
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Path to YAML config (defaults apply when empty)")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringSliceVar(&flagEnvFile, "env-file", []string{".env"}, "Env files loaded before config expansion")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads path, or returns defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// openSession creates a session for one command. Callers must Close it.
func openSession(opts ...monitoring.Option) (*monitoring.Session, error) {
	sess, err := monitoring.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("session_id", sess.ID()).Msg("callrisk: session started")
	return sess, nil
}

func closeSession(sess *monitoring.Session) {
	if err := sess.Close(); err != nil {
		log.Warn().Err(err).Msg("callrisk: session close failed")
	}
}
