// Package log holds the process-wide zap logger.
package log

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"moul.io/zapfilter"
)

// Logger is a no-op until Init is called.
var Logger = zap.NewNop()

// Init replaces Logger. level is the lowest level written at all; filter is
// an optional zapfilter rule set such as "debug:pipeline* info:*" applied on
// top of it, matched against logger names.
func Init(level, filter string, development bool) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	var opts []zap.Option
	if filter != "" {
		rules, err := zapfilter.ParseRules(filter)
		if err != nil {
			return fmt.Errorf("invalid log filter %q: %w", filter, err)
		}
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapfilter.NewFilteringCore(core, rules)
		}))
	}

	logger, err := cfg.Build(opts...)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	Logger = logger
	return nil
}

// Sync flushes buffered entries. Errors from syncing a terminal are ignored.
func Sync() {
	_ = Logger.Sync()
}
