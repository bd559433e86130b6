// Package volume manages named, host-directory-backed volumes attachable
// to at most one machine at a time.
package volume

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/minifly/minifly/pkg/types"
)

// DefaultVolumesPath is used when the manager is built without an explicit
// data directory (mainly in tests).
const DefaultVolumesPath = "./data"

// Manager creates and removes the host directories backing volumes. A
// volume has no fixed location of its own: its data lives under whichever
// machine currently has it mounted, at
// <basePath>/<app>/<machine-id>/volumes/<volume-name>/, so a data
// directory inspected by hand lines up with a specific running machine.
type Manager struct {
	basePath string
}

// NewManager ensures basePath exists and returns a Manager rooted there.
func NewManager(basePath string) (*Manager, error) {
	if basePath == "" {
		basePath = DefaultVolumesPath
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create volumes directory: %w", err)
	}
	return &Manager{basePath: basePath}, nil
}

// Path returns the host directory a volume occupies while mounted on
// machineID, whether or not it exists yet.
func (m *Manager) Path(appName, machineID, volumeName string) string {
	return filepath.Join(m.basePath, appName, machineID, "volumes", volumeName)
}

// Create makes vol's host directory under its currently attached machine
// and records it on vol.HostPath. vol.MachineID must already be set: a
// volume's on-disk location is only known once it is mounted onto one.
func (m *Manager) Create(vol *types.Volume) error {
	if vol.MachineID == "" {
		return fmt.Errorf("volume %q has no attached machine to root its host directory under", vol.Name)
	}
	path := m.Path(vol.AppName, vol.MachineID, vol.Name)
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("create volume directory: %w", err)
	}
	vol.HostPath = path
	return nil
}

// Delete removes a volume's host directory and everything under it. It is
// a no-op for a volume that was never mounted, since it never got one.
func (m *Manager) Delete(vol *types.Volume) error {
	if vol.HostPath == "" {
		return nil
	}
	if _, err := os.Stat(vol.HostPath); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(vol.HostPath); err != nil {
		return fmt.Errorf("delete volume directory: %w", err)
	}
	return nil
}

// Mount verifies a previously materialized volume directory still exists
// and returns its host path for a bind mount.
func (m *Manager) Mount(vol *types.Volume) (string, error) {
	if vol.HostPath == "" {
		return "", fmt.Errorf("volume %q has not been mounted onto a machine yet", vol.Name)
	}
	if _, err := os.Stat(vol.HostPath); os.IsNotExist(err) {
		return "", fmt.Errorf("volume directory does not exist: %s", vol.HostPath)
	}
	return vol.HostPath, nil
}
