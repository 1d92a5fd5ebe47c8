// Package config reads the environment variables that set data model
// defaults.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const (
	EnvPassInvalidValues    = "PASS_INVALID_VALUES"
	EnvStrictValidation     = "STRICT_VALIDATION"
	EnvValidateOnAssignment = "VALIDATE_ON_ASSIGNMENT"
	EnvSkipFITSUpdate       = "SKIP_FITS_UPDATE"
	EnvLogLevel             = "STDATAMODELS_LOG_LEVEL"
)

// Config holds model defaults loaded from environment variables.
type Config struct {
	PassInvalidValues    bool
	StrictValidation     bool
	ValidateOnAssignment bool
	// SkipFITSUpdate is nil when the variable is unset.
	SkipFITSUpdate *bool
	LogLevel       slog.Level
}

// Load reads configuration from environment variables with defaults. It
// fails when a boolean variable cannot be parsed.
func Load() (Config, error) {
	cfg := Config{
		ValidateOnAssignment: true,
		LogLevel:             slog.LevelInfo,
	}
	var err error
	if cfg.PassInvalidValues, err = envBool(EnvPassInvalidValues, false); err != nil {
		return Config{}, err
	}
	if cfg.StrictValidation, err = envBool(EnvStrictValidation, false); err != nil {
		return Config{}, err
	}
	if cfg.ValidateOnAssignment, err = envBool(EnvValidateOnAssignment, true); err != nil {
		return Config{}, err
	}
	if v, ok := os.LookupEnv(EnvSkipFITSUpdate); ok && v != "" {
		b, err := ParseBool(EnvSkipFITSUpdate, v)
		if err != nil {
			return Config{}, err
		}
		cfg.SkipFITSUpdate = &b
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	return cfg, nil
}

func envBool(name string, def bool) (bool, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def, nil
	}
	return ParseBool(name, v)
}

// ParseBool interprets an environment value: integers are true when
// non-zero, and true/t/yes/y or false/f/no/n are accepted in any case.
func ParseBool(name, value string) (bool, error) {
	v := strings.TrimSpace(value)
	if n, err := strconv.Atoi(v); err == nil {
		return n != 0, nil
	}
	switch strings.ToLower(v) {
	case "true", "t", "yes", "y":
		return true, nil
	case "false", "f", "no", "n":
		return false, nil
	}
	return false, fmt.Errorf("cannot convert value %q of environment variable %s to a boolean", value, name)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
