//go:build !linux
// +build !linux

package main

import (
	"go.uber.org/zap"

	"github.com/edgeturret/turretcore/internal/hal"
)

// initHAL installs the mock GPIO backend; the real backend is Linux-only.
func initHAL(log *zap.Logger) {
	log.Info("non-Linux platform detected, using mock GPIO backend")
	hal.SetGlobal(hal.NewMockGPIO())
}
