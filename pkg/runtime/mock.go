package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// MockRuntime is an in-memory Runtime used by tests that exercise the
// machine lifecycle manager without a real container daemon.
type MockRuntime struct {
	mu         sync.Mutex
	containers map[string]*mockContainer
	// FailPull, when set, makes PullImage fail for image refs it matches.
	FailPull func(imageRef string) bool
}

type mockContainer struct {
	spec   ContainerSpec
	status Status
	logs   bytes.Buffer
}

// NewMockRuntime returns an empty MockRuntime.
func NewMockRuntime() *MockRuntime {
	return &MockRuntime{containers: make(map[string]*mockContainer)}
}

func (m *MockRuntime) PullImage(ctx context.Context, imageRef string) error {
	if m.FailPull != nil && m.FailPull(imageRef) {
		return fmt.Errorf("pull image %s: not found", imageRef)
	}
	return nil
}

func (m *MockRuntime) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.containers[spec.ID]; exists {
		return "", fmt.Errorf("container %s already exists", spec.ID)
	}
	m.containers[spec.ID] = &mockContainer{spec: spec, status: StatusPending}
	return spec.ID, nil
}

func (m *MockRuntime) StartContainer(ctx context.Context, containerID string) error {
	c, err := m.get(containerID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	c.status = StatusRunning
	fmt.Fprintf(&c.logs, "starting %s\n", c.spec.Image)
	m.mu.Unlock()
	return nil
}

func (m *MockRuntime) PauseContainer(ctx context.Context, containerID string) error {
	c, err := m.get(containerID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	c.status = StatusPaused
	m.mu.Unlock()
	return nil
}

func (m *MockRuntime) UnpauseContainer(ctx context.Context, containerID string) error {
	c, err := m.get(containerID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	c.status = StatusRunning
	m.mu.Unlock()
	return nil
}

func (m *MockRuntime) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	c, err := m.get(containerID)
	if err != nil {
		return nil
	}
	m.mu.Lock()
	c.status = StatusExited
	m.mu.Unlock()
	return nil
}

func (m *MockRuntime) DeleteContainer(ctx context.Context, containerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.containers, containerID)
	return nil
}

func (m *MockRuntime) Status(ctx context.Context, containerID string) (Status, error) {
	c, err := m.get(containerID)
	if err != nil {
		return StatusFailed, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return c.status, nil
}

func (m *MockRuntime) Logs(ctx context.Context, containerID string, tailLines int) (io.ReadCloser, error) {
	c, err := m.get(containerID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return io.NopCloser(bytes.NewReader(c.logs.Bytes())), nil
}

func (m *MockRuntime) Exec(ctx context.Context, containerID string, cmd []string, timeout time.Duration) (ExecResult, error) {
	if _, err := m.get(containerID); err != nil {
		return ExecResult{}, err
	}
	return ExecResult{ExitCode: 0, Output: ""}, nil
}

func (m *MockRuntime) IsRunning(ctx context.Context, containerID string) bool {
	status, err := m.Status(ctx, containerID)
	return err == nil && status == StatusRunning
}

func (m *MockRuntime) ListContainers(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.containers))
	for id := range m.containers {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *MockRuntime) Close() error { return nil }

func (m *MockRuntime) get(containerID string) (*mockContainer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[containerID]
	if !ok {
		return nil, fmt.Errorf("container %s not found", containerID)
	}
	return c, nil
}
