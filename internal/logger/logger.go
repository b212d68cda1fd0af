package logger

import (
	"fmt"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FileConfig enables a rotating JSON file sink next to the console output.
type FileConfig struct {
	Dir          string `yaml:"dir" toml:"dir"`
	Pattern      string `yaml:"pattern" toml:"pattern"`             // strftime pattern, default docarray-%Y-%m-%d.log
	RotationTime string `yaml:"rotation_time" toml:"rotation_time"` // default 24h
	MaxAge       string `yaml:"max_age" toml:"max_age"`             // default 168h
}

// NewLogger creates a zap logger for the given environment.
// prod uses JSON output, local/dev use colored console output.
// level (if non-empty) overrides the log level: debug, info, warn, error.
// A non-empty file.Dir tees every entry into rotating files.
func NewLogger(env, level string, file FileConfig) (*zap.Logger, error) {
	var cfg zap.Config
	switch env {
	case "prod":
		cfg = zap.NewProductionConfig()
	case "local", "dev", "docker", "test":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown environment %q for logger", env)
	}

	if level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if file.Dir != "" {
		w, err := rotatingWriter(file)
		if err != nil {
			return nil, err
		}
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(w),
			cfg.Level,
		)
		opts = append(opts, zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, fileCore)
		}))
	}

	l, err := cfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l, nil
}

func rotatingWriter(file FileConfig) (*rotatelogs.RotateLogs, error) {
	rotation, err := parseDuration(file.RotationTime, 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("rotation_time: %w", err)
	}
	maxAge, err := parseDuration(file.MaxAge, 7*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("max_age: %w", err)
	}
	pattern := file.Pattern
	if pattern == "" {
		pattern = "docarray-%Y-%m-%d.log"
	}

	w, err := rotatelogs.New(
		filepath.Join(file.Dir, pattern),
		rotatelogs.WithRotationTime(rotation),
		rotatelogs.WithMaxAge(maxAge),
	)
	if err != nil {
		return nil, fmt.Errorf("rotating log file: %w", err)
	}
	return w, nil
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return d, nil
}
