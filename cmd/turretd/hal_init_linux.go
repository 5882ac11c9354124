//go:build linux
// +build linux

package main

import (
	"go.uber.org/zap"

	"github.com/edgeturret/turretcore/internal/config"
	"github.com/edgeturret/turretcore/internal/hal"
)

// initHAL installs the real GPIO backend on boards that expose one, and
// falls back to the mock everywhere else (development machines, CI).
func initHAL(log *zap.Logger) {
	board := config.DetectBoard()
	if !config.IsRealGPIOCapable(board) {
		log.Info("non-GPIO-capable board detected, using mock GPIO backend", zap.String("board", board))
		hal.SetGlobal(hal.NewMockGPIO())
		return
	}

	real, err := hal.NewRealGPIO()
	if err != nil {
		log.Warn("failed to initialize real GPIO backend, falling back to mock", zap.Error(err))
		hal.SetGlobal(hal.NewMockGPIO())
		return
	}
	log.Info("real GPIO backend initialized", zap.String("board", board))
	hal.SetGlobal(real)
}
