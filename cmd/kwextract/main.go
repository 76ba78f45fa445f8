package main

import (
	"os"

	"github.com/rs/zerolog"

	"kwextract/internal/launcher"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	root := buildRootCmd(&log)
	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		// The child's exit status passes through unchanged; local failures
		// map to 1 and a missing program to 127.
		os.Exit(launcher.ExitCode(err))
	}
}
