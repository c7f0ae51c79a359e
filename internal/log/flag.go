package log

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
)

var levels = []string{"warn", "debug", "info", "error"}

func RegisterLoggingFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("loglevel", levels[0], "set the log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringP("logformat", "f", "text", "set the log format (text, json)")
}

// GetBaseLogger builds the logger configured by the logging flags. Logs go to
// the command's error stream so command output stays machine readable.
func GetBaseLogger(cmd *cobra.Command) (*slog.Logger, error) {
	logLevel, err := GetLoggerLevel(cmd)
	if err != nil {
		return nil, err
	}
	return New(cmd.ErrOrStderr(), cmd.Flag("logformat").Value.String(), logLevel)
}

// New creates a logger writing format ("text" or "json") to w.
func New(w io.Writer, format string, level slog.Level) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return slog.New(handler), nil
}

func GetLoggerLevel(cmd *cobra.Command) (slog.Level, error) {
	logLevel := cmd.Flag("loglevel").Value.String()
	if !slices.Contains(levels, logLevel) {
		return slog.LevelWarn, fmt.Errorf("invalid log level: %s", logLevel)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return slog.LevelWarn, fmt.Errorf("invalid log level: %s", logLevel)
	}
	return level, nil
}
