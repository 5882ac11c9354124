package config

import (
	"os"
	"runtime"
	"strings"
)

// DetectBoard identifies the running board so turretd can decide whether
// the real GPIO backend is usable or the process should fall back to
// the mock for development off-hardware.
func DetectBoard() string {
	if data, err := os.ReadFile("/proc/device-tree/model"); err == nil {
		model := string(data)
		switch {
		case strings.Contains(model, "Raspberry Pi Zero"):
			return "Pi Zero"
		case strings.Contains(model, "Raspberry Pi 3"):
			return "Pi 3"
		case strings.Contains(model, "Raspberry Pi 4"):
			return "Pi 4"
		case strings.Contains(model, "Raspberry Pi 5"):
			return "Pi 5"
		case strings.Contains(model, "Raspberry Pi"):
			return "Raspberry Pi"
		}
	}

	if runtime.GOOS == "linux" {
		switch runtime.GOARCH {
		case "arm64":
			return "ARM64 Linux"
		case "arm":
			return "ARM Linux"
		}
		return "Linux"
	}
	return "Unknown"
}

// IsRealGPIOCapable reports whether board looks like it exposes a GPIO
// chip turretd can drive directly, as opposed to a development machine.
func IsRealGPIOCapable(board string) bool {
	switch board {
	case "Pi Zero", "Pi 3", "Pi 4", "Pi 5", "Raspberry Pi", "ARM Linux", "ARM64 Linux":
		return true
	default:
		return false
	}
}
