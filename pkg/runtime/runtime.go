// Package runtime adapts the machine lifecycle manager to a real container
// runtime. The containerd-backed implementation is grounded on the
// teacher's client wrapper; a mock implementation lets the rest of the
// tree be exercised in tests without a container daemon.
package runtime

import (
	"context"
	"io"
	"time"
)

// Status is the runtime-observed state of a container, independent of the
// machine state machine layered on top of it.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusExited  Status = "exited"
	StatusFailed  Status = "failed"
)

// Mount is a host-directory bind mount into the container filesystem.
type Mount struct {
	Source      string
	Destination string
	ReadOnly    bool
}

// ContainerSpec is everything the runtime adapter needs to create a
// container for one machine. The container ID is always the machine ID.
type ContainerSpec struct {
	ID         string
	Image      string
	Entrypoint []string
	Cmd        []string
	Env        map[string]string
	Mounts     []Mount
	// LogPath, if set, is where combined stdout/stderr are persisted so
	// Logs can tail them after the fact.
	LogPath string
}

// ExecResult is the outcome of a one-shot exec into a running container.
type ExecResult struct {
	ExitCode int
	Output   string
}

// Runtime is the container lifecycle surface the machine manager and the
// exec health checker depend on.
type Runtime interface {
	PullImage(ctx context.Context, imageRef string) error
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	PauseContainer(ctx context.Context, containerID string) error
	UnpauseContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout time.Duration) error
	DeleteContainer(ctx context.Context, containerID string) error
	Status(ctx context.Context, containerID string) (Status, error)
	Logs(ctx context.Context, containerID string, tailLines int) (io.ReadCloser, error)
	Exec(ctx context.Context, containerID string, cmd []string, timeout time.Duration) (ExecResult, error)
	IsRunning(ctx context.Context, containerID string) bool
	ListContainers(ctx context.Context) ([]string, error)
	Close() error
}
