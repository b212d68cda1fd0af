package storage

import (
	"strings"

	"go.uber.org/zap"
)

// SanitizeName strips every character outside [A-Za-z0-9_] and logs a warning
// when that changed the name. It never fails; the result may be empty.
func SanitizeName(name string, logger *zap.Logger) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return -1
	}, name)

	if clean != name && logger != nil {
		logger.Warn("Collection name sanitized",
			zap.String("name", name),
			zap.String("sanitized", clean),
		)
	}
	return clean
}

// OffsetTableName is the name of the companion collection holding offset meta.
func OffsetTableName(name string) string {
	return name + "_offset2id"
}

// Prepare applies defaults for kind to cfg, nil meaning all defaults, and
// sanitizes the collection name. A name that sanitizes to nothing falls back
// to DefaultName.
func Prepare(cfg *Config, kind string, logger *zap.Logger) Config {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	c = c.WithDefaults(kind)
	c.Name = SanitizeName(c.Name, logger)
	if c.Name == "" {
		c.Name = DefaultName
	}
	return c
}
