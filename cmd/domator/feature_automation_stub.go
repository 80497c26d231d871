//go:build no_automation

package main

import (
	"log/slog"

	"domator-go/internal/mesh"
	"domator-go/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *mesh.Router, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}
