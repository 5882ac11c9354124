// Package calibstore persists the tracking calibration blob as YAML,
// mirroring the mutex-guarded single-file read/write shape of this
// repo's teacher (internal/storage/file.go), with an atomic write-rename
// added on top since the teacher's own os.WriteFile is not crash-safe.
package calibstore

import (
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/edgeturret/turretcore/internal/tracking"
	"github.com/edgeturret/turretcore/internal/turreterr"
)

// Store reads and writes the calibration blob at a fixed path.
type Store struct {
	path string
	mu   sync.Mutex
}

// New constructs a Store rooted at path, creating its parent directory.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, turreterr.Wrap(turreterr.HardwareError, err, "creating calibration directory")
	}
	return &Store{path: path}, nil
}

// Load reads the calibration blob. If the file does not exist, it returns
// fallback unchanged and no error (spec.md §6: "Absent file -> defaults
// from config.").
func (s *Store) Load(fallback tracking.Calibration) (tracking.Calibration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return fallback, nil
		}
		return fallback, turreterr.Wrap(turreterr.HardwareError, err, "reading calibration file")
	}

	var calib tracking.Calibration
	if err := yaml.Unmarshal(data, &calib); err != nil {
		return fallback, turreterr.Wrap(turreterr.Malformed, err, "parsing calibration file")
	}
	return calib, nil
}

// Save writes calib atomically: marshal to a temp file in the same
// directory, fsync, then rename over the target path.
func (s *Store) Save(calib tracking.Calibration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(calib)
	if err != nil {
		return turreterr.Wrap(turreterr.InvalidArgument, err, "marshaling calibration")
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".calibration-*.tmp")
	if err != nil {
		return turreterr.Wrap(turreterr.HardwareError, err, "creating temp calibration file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return turreterr.Wrap(turreterr.HardwareError, err, "writing temp calibration file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return turreterr.Wrap(turreterr.HardwareError, err, "syncing temp calibration file")
	}
	if err := tmp.Close(); err != nil {
		return turreterr.Wrap(turreterr.HardwareError, err, "closing temp calibration file")
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return turreterr.Wrap(turreterr.HardwareError, err, "renaming calibration file into place")
	}
	return nil
}
