package log

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCommand(out *bytes.Buffer) *cobra.Command {
	cmd := &cobra.Command{}
	RegisterLoggingFlags(cmd.Flags())
	cmd.SetOut(out)
	cmd.SetErr(out)
	return cmd
}

func TestRegisterLoggingFlags(t *testing.T) {
	cmd := &cobra.Command{}
	RegisterLoggingFlags(cmd.PersistentFlags())

	assert.NotNil(t, cmd.PersistentFlags().Lookup(FormatFlagName))
	assert.NotNil(t, cmd.PersistentFlags().Lookup(LevelFlagName))
	assert.NotNil(t, cmd.PersistentFlags().Lookup(OutputFlagName))
}

func TestGetBaseLogger(t *testing.T) {
	tests := []struct {
		name   string
		format string
		level  string
		output string
	}{
		{"json debug stdout", FormatJSON, LevelDebug, OutputStdout},
		{"text info stderr", FormatText, LevelInfo, OutputStderr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newCommand(&bytes.Buffer{})
			require.NoError(t, cmd.Flags().Set(FormatFlagName, tt.format))
			require.NoError(t, cmd.Flags().Set(LevelFlagName, tt.level))
			require.NoError(t, cmd.Flags().Set(OutputFlagName, tt.output))

			logger, err := GetBaseLogger(cmd, Settings{})
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestGetBaseLoggerDefaults(t *testing.T) {
	var buf bytes.Buffer
	cmd := newCommand(&buf)

	logger, err := GetBaseLogger(cmd, Settings{Level: LevelWarn, Format: FormatJSON})
	require.NoError(t, err)

	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	logger.Warn("plugin skipped", "plugin", "go")
	assert.Contains(t, buf.String(), `"plugin":"go"`)
}

func TestGetBaseLoggerFlagWins(t *testing.T) {
	var buf bytes.Buffer
	cmd := newCommand(&buf)
	require.NoError(t, cmd.Flags().Set(LevelFlagName, LevelDebug))

	logger, err := GetBaseLogger(cmd, Settings{Level: LevelError})
	require.NoError(t, err)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestGetBaseLoggerInvalid(t *testing.T) {
	cmd := newCommand(&bytes.Buffer{})
	require.NoError(t, cmd.Flags().Set(OutputFlagName, "syslog"))
	_, err := GetBaseLogger(cmd, Settings{})
	assert.Error(t, err)

	cmd = newCommand(&bytes.Buffer{})
	_, err = GetBaseLogger(cmd, Settings{Format: "xml"})
	assert.Error(t, err)

	cmd = newCommand(&bytes.Buffer{})
	_, err = GetBaseLogger(cmd, Settings{Level: "loud"})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{"WARNING", slog.LevelWarn},
		{LevelError, slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
