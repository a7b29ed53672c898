package cmd

import (
	"fmt"

	"github.com/Hi-dle-hancom/frontend-sub003/pkg/app"
	"github.com/Hi-dle-hancom/frontend-sub003/pkg/config"
	"github.com/Hi-dle-hancom/frontend-sub003/pkg/logger"
)

// bootApp loads configuration, initializes logging and starts a wired
// application. out receives outbound messages.
func bootApp(out app.EmitFunc) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level := logger.ParseLevel(cfg.Logging.Level)
	if err := logger.Init(level, cfg.Logging.LogFile, cfg.Logging.Preserve); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	a := app.New(cfg, out)
	if err := a.Start(); err != nil {
		return nil, err
	}
	return a, nil
}
