//go:build !no_automation

package main

import (
	"log/slog"

	"domator-go/internal/automation"
	"domator-go/internal/mesh"
	"domator-go/internal/web"
)

type autoStopper struct {
	engine *automation.Engine
}

func (a *autoStopper) Stop() {
	if a.engine != nil {
		a.engine.Stop()
	}
}

func initAutomation(router *mesh.Router, cfg *Config, logger *slog.Logger) (*autoStopper, []web.ServerOption) {
	scriptMgr, err := automation.NewManager(cfg.Automation.ScriptsDir, logger)
	if err != nil {
		logger.Error("create script manager", "err", err)
		return &autoStopper{}, nil
	}

	engine := automation.NewEngine(router, scriptMgr, logger, automation.SystemConfig{
		ExecAllowlist: cfg.Automation.ExecAllowlist,
		ExecTimeout:   duration(cfg.Automation.ExecTimeout),
	})
	engine.Start()

	return &autoStopper{engine: engine}, []web.ServerOption{web.WithAutomation(engine, scriptMgr)}
}
