// Package logging builds the process-wide zap logger. The logger is an
// injected collaborator with an explicit lifecycle: constructed once at
// startup, passed to every component, and flushed at shutdown via Sync.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New constructs the root logger for the given environment. Local
// environments get a human-readable development config; everything else
// logs structured JSON at info level.
func New(env string) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	switch env {
	case "local", "dev", "development":
		logger, err = zap.NewDevelopment()
	default:
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
