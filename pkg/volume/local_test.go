package volume

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/minifly/minifly/pkg/types"
)

func TestNewManager(t *testing.T) {
	tmpDir := t.TempDir()

	m, err := NewManager(tmpDir)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if m == nil {
		t.Fatal("NewManager() returned nil manager")
	}
	if m.basePath != tmpDir {
		t.Errorf("basePath = %v, want %v", m.basePath, tmpDir)
	}
	if _, err := os.Stat(tmpDir); os.IsNotExist(err) {
		t.Error("base directory was not created")
	}
}

func TestNewManager_DefaultsWhenEmpty(t *testing.T) {
	m, err := NewManager("")
	if err != nil {
		t.Fatalf("NewManager(\"\") error = %v", err)
	}
	if m.basePath != DefaultVolumesPath {
		t.Errorf("basePath = %v, want %v", m.basePath, DefaultVolumesPath)
	}
	os.RemoveAll(DefaultVolumesPath)
}

func TestManager_Create(t *testing.T) {
	tmpDir := t.TempDir()
	m, _ := NewManager(tmpDir)

	vol := &types.Volume{AppName: "myapp", Name: "data", MachineID: "m1"}
	if err := m.Create(vol); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	expected := filepath.Join(tmpDir, "myapp", "m1", "volumes", "data")
	if vol.HostPath != expected {
		t.Errorf("HostPath = %v, want %v", vol.HostPath, expected)
	}
	if _, err := os.Stat(expected); os.IsNotExist(err) {
		t.Errorf("volume directory was not created at %s", expected)
	}
}

func TestManager_Delete(t *testing.T) {
	tmpDir := t.TempDir()
	m, _ := NewManager(tmpDir)

	vol := &types.Volume{AppName: "myapp", Name: "data", MachineID: "m1"}
	if err := m.Create(vol); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	testFile := filepath.Join(vol.HostPath, "test.txt")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if err := m.Delete(vol); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(vol.HostPath); !os.IsNotExist(err) {
		t.Error("volume directory still exists after delete")
	}
}

func TestManager_Delete_NonExistent(t *testing.T) {
	tmpDir := t.TempDir()
	m, _ := NewManager(tmpDir)

	vol := &types.Volume{AppName: "myapp", Name: "nonexistent"}
	if err := m.Delete(vol); err != nil {
		t.Errorf("Delete() on non-existent volume error = %v, want nil", err)
	}
}

func TestManager_Mount(t *testing.T) {
	tmpDir := t.TempDir()
	m, _ := NewManager(tmpDir)

	vol := &types.Volume{AppName: "myapp", Name: "data", MachineID: "m1"}
	if err := m.Create(vol); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	mountPath, err := m.Mount(vol)
	if err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	if mountPath != vol.HostPath {
		t.Errorf("Mount() path = %v, want %v", mountPath, vol.HostPath)
	}
}

func TestManager_Mount_NonExistent(t *testing.T) {
	tmpDir := t.TempDir()
	m, _ := NewManager(tmpDir)

	vol := &types.Volume{AppName: "myapp", Name: "nonexistent"}
	if _, err := m.Mount(vol); err == nil {
		t.Error("Mount() on non-existent volume should return error")
	}
}
