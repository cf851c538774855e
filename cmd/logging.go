package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/compresr/callrisk/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// setupLogging configures the global zerolog logger.
// The returned closer releases a log file when output is a path.
func setupLogging(lc config.LoggingConfig, debug bool) (io.Closer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(lc.Level))
	if err != nil || lc.Level == "" {
		level = zerolog.InfoLevel
	}
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var (
		out    io.Writer
		closer io.Closer = nopCloser{}
		isFile bool
	)
	switch strings.ToLower(lc.Output) {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		// #nosec G304 -- path is supplied by the operator
		f, err := os.OpenFile(lc.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log output %s: %w", lc.Output, err)
		}
		out, closer, isFile = f, f, true
	}

	if strings.ToLower(lc.Format) != "json" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: isFile}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return closer, nil
}

// loadEnvFiles loads each env file that exists. Existing variables win.
func loadEnvFiles(paths []string) {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				log.Warn().Err(err).Str("path", p).Msg("callrisk: failed to load env file")
			}
			continue
		}
		log.Debug().Str("path", p).Msg("callrisk: env file loaded")
	}
}
