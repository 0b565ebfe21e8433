// Package log builds the process logger from command flags and the
// logging section of the configuration file.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Log format constants
const (
	FormatFlagName = "log-format"

	FormatJSON = "json" // JSON format for structured logging, suitable for machine processing
	FormatText = "text" // Human-readable text format, suitable for console output
)

// Log level constants
const (
	LevelFlagName = "log-level"

	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Log output constants
const (
	OutputFlagName = "log-output"

	OutputStdout = "stdout"
	OutputStderr = "stderr"
)

// Settings are the logging defaults from the configuration file. Flags
// given on the command line win over them.
type Settings struct {
	Level  string
	Format string
}

// RegisterLoggingFlags registers the logging flags on flagset. Register
// them as persistent flags to make them available to every subcommand.
//
//	--log-format json     # Output logs in JSON format for machine processing
//	--log-level debug     # Show all logs including debug information
//	--log-output stdout   # Write logs to standard output
func RegisterLoggingFlags(flagset *pflag.FlagSet) {
	flagset.String(FormatFlagName, FormatText, "log format: text or json")
	flagset.String(LevelFlagName, LevelInfo, "log level: debug, info, warn or error")
	flagset.String(OutputFlagName, OutputStderr, "log destination: stdout or stderr")
}

// GetBaseLogger creates a logger from the command's flags. Level and format
// fall back to defaults when the flag was not given explicitly.
func GetBaseLogger(cmd *cobra.Command, defaults Settings) (*slog.Logger, error) {
	levelName, err := flagOrDefault(cmd.Flags(), LevelFlagName, defaults.Level)
	if err != nil {
		return nil, err
	}
	level, err := ParseLevel(levelName)
	if err != nil {
		return nil, err
	}

	format, err := flagOrDefault(cmd.Flags(), FormatFlagName, defaults.Format)
	if err != nil {
		return nil, err
	}

	output, err := cmd.Flags().GetString(OutputFlagName)
	if err != nil {
		return nil, fmt.Errorf("failed to get the log output from the command flag: %w", err)
	}

	var w io.Writer
	switch output {
	case OutputStdout:
		w = cmd.OutOrStdout()
	case OutputStderr:
		w = cmd.ErrOrStderr()
	default:
		return nil, fmt.Errorf("invalid log output: %s", output)
	}

	return NewLogger(w, format, level)
}

// NewLogger returns a logger writing format records at level or above to w.
func NewLogger(w io.Writer, format string, level slog.Level) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	case FormatText:
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return slog.New(handler), nil
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case LevelDebug:
		return slog.LevelDebug, nil
	case LevelInfo:
		return slog.LevelInfo, nil
	case LevelWarn, "warning":
		return slog.LevelWarn, nil
	case LevelError:
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level: %s", name)
}

func flagOrDefault(flags *pflag.FlagSet, name, fallback string) (string, error) {
	v, err := flags.GetString(name)
	if err != nil {
		return "", fmt.Errorf("failed to get %s from the command flag: %w", name, err)
	}
	if !flags.Changed(name) && fallback != "" {
		return fallback, nil
	}
	return v, nil
}

