package runtime

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (
	// Namespace isolates Minifly's containers from anything else running
	// against the same containerd daemon.
	Namespace = "minifly"

	// DefaultSocketPath is where containerd listens by default.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// ContainerdRuntime implements Runtime against a real containerd daemon.
type ContainerdRuntime struct {
	client    *containerd.Client
	namespace string
}

// NewContainerdRuntime dials the containerd socket at socketPath, falling
// back to DefaultSocketPath when empty.
func NewContainerdRuntime(socketPath string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd: %w", err)
	}

	return &ContainerdRuntime{client: client, namespace: Namespace}, nil
}

func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *ContainerdRuntime) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, r.namespace)
}

func (r *ContainerdRuntime) PullImage(ctx context.Context, imageRef string) error {
	ctx = r.ctx(ctx)
	if _, err := r.client.Pull(ctx, imageRef, containerd.WithPullUnpack); err != nil {
		return fmt.Errorf("pull image %s: %w", imageRef, err)
	}
	return nil
}

func (r *ContainerdRuntime) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	ctx = r.ctx(ctx)

	image, err := r.client.GetImage(ctx, spec.Image)
	if err != nil {
		return "", fmt.Errorf("get image %s: %w", spec.Image, err)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(envSlice(spec.Env)),
		oci.WithHostNamespace(specs.NetworkNamespace),
	}
	if len(spec.Entrypoint) > 0 || len(spec.Cmd) > 0 {
		args := append(append([]string{}, spec.Entrypoint...), spec.Cmd...)
		if len(args) > 0 {
			opts = append(opts, oci.WithProcessArgs(args...))
		}
	}
	if len(spec.Mounts) > 0 {
		mounts := make([]specs.Mount, 0, len(spec.Mounts))
		for _, m := range spec.Mounts {
			mountOpts := []string{"rbind"}
			if m.ReadOnly {
				mountOpts = append(mountOpts, "ro")
			} else {
				mountOpts = append(mountOpts, "rw")
			}
			mounts = append(mounts, specs.Mount{
				Source:      m.Source,
				Destination: m.Destination,
				Type:        "bind",
				Options:     mountOpts,
			})
		}
		opts = append(opts, oci.WithMounts(mounts))
	}

	newContainerOpts := []containerd.NewContainerOpts{
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.ID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	}
	if spec.LogPath != "" {
		newContainerOpts = append(newContainerOpts, containerd.WithContainerLabels(map[string]string{
			logPathLabel: spec.LogPath,
		}))
	}

	container, err := r.client.NewContainer(ctx, spec.ID, newContainerOpts...)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	return container.ID(), nil
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func (r *ContainerdRuntime) StartContainer(ctx context.Context, containerID string) error {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("load container %s: %w", containerID, err)
	}

	creator := cio.NullIO
	if logPath, err := r.logPath(ctx, container); err == nil && logPath != "" {
		creator = cio.LogFile(logPath)
	}

	task, err := container.NewTask(ctx, creator)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("start task: %w", err)
	}

	return nil
}

// logPath is stashed as a container label at creation time so Logs can find
// it later without the caller having to track it separately.
const logPathLabel = "io.minifly.log-path"

func (r *ContainerdRuntime) logPath(ctx context.Context, container containerd.Container) (string, error) {
	labels, err := container.Labels(ctx)
	if err != nil {
		return "", err
	}
	return labels[logPathLabel], nil
}

func (r *ContainerdRuntime) PauseContainer(ctx context.Context, containerID string) error {
	ctx = r.ctx(ctx)
	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("load container %s: %w", containerID, err)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	if err := task.Pause(ctx); err != nil {
		return fmt.Errorf("pause task: %w", err)
	}
	return nil
}

func (r *ContainerdRuntime) UnpauseContainer(ctx context.Context, containerID string) error {
	ctx = r.ctx(ctx)
	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("load container %s: %w", containerID, err)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	if err := task.Resume(ctx); err != nil {
		return fmt.Errorf("resume task: %w", err)
	}
	return nil
}

func (r *ContainerdRuntime) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("load container %s: %w", containerID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		// No task means the container isn't running.
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("kill task: %w", err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("wait for task: %w", err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("force kill task: %w", err)
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}

	return nil
}

func (r *ContainerdRuntime) DeleteContainer(ctx context.Context, containerID string) error {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return nil
	}

	if err := r.StopContainer(ctx, containerID, 10*time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "warning: stop before delete failed for %s: %v\n", containerID, err)
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("delete container: %w", err)
	}

	return nil
}

func (r *ContainerdRuntime) Status(ctx context.Context, containerID string) (Status, error) {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return StatusFailed, fmt.Errorf("load container %s: %w", containerID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return StatusPending, nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return StatusFailed, fmt.Errorf("get task status: %w", err)
	}

	switch status.Status {
	case containerd.Running:
		return StatusRunning, nil
	case containerd.Paused:
		return StatusPaused, nil
	case containerd.Stopped:
		if status.ExitStatus == 0 {
			return StatusExited, nil
		}
		return StatusFailed, nil
	default:
		return StatusPending, nil
	}
}

// Logs tails the log file backing containerID's stdio, set up via LogPath
// on ContainerSpec at creation time and attached with cio.LogFile.
func (r *ContainerdRuntime) Logs(ctx context.Context, containerID string, tailLines int) (io.ReadCloser, error) {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("load container %s: %w", containerID, err)
	}

	logPath, err := r.logPath(ctx, container)
	if err != nil || logPath == "" {
		return nil, fmt.Errorf("no log file recorded for container %s", containerID)
	}

	f, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	if tailLines <= 0 {
		return f, nil
	}
	return tail(f, tailLines)
}

// tail reads f fully and returns a ReadCloser over just its last n lines,
// closing the original file. It scans the whole file; nothing caps or
// rotates the log file it reads.
func tail(f *os.File, n int) (io.ReadCloser, error) {
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return io.NopCloser(&buf), nil
}

func (r *ContainerdRuntime) Exec(ctx context.Context, containerID string, cmd []string, timeout time.Duration) (ExecResult, error) {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("load container %s: %w", containerID, err)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return ExecResult{}, fmt.Errorf("get task: %w", err)
	}
	spec, err := container.Spec(ctx)
	if err != nil {
		return ExecResult{}, fmt.Errorf("get spec: %w", err)
	}

	procSpec := spec.Process
	procSpec.Args = cmd
	procSpec.Terminal = false

	var out bytes.Buffer
	execID := "exec-" + uuid.NewString()
	process, err := task.Exec(ctx, execID, procSpec, cio.NewCreator(cio.WithStreams(nil, &out, &out)))
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec: %w", err)
	}
	defer process.Delete(ctx)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	statusC, err := process.Wait(execCtx)
	if err != nil {
		return ExecResult{}, fmt.Errorf("wait for exec: %w", err)
	}
	if err := process.Start(ctx); err != nil {
		return ExecResult{}, fmt.Errorf("start exec: %w", err)
	}

	select {
	case status := <-statusC:
		return ExecResult{ExitCode: int(status.ExitCode()), Output: out.String()}, nil
	case <-execCtx.Done():
		process.Kill(ctx, syscall.SIGKILL)
		return ExecResult{ExitCode: -1, Output: out.String()}, fmt.Errorf("exec timed out")
	}
}

func (r *ContainerdRuntime) IsRunning(ctx context.Context, containerID string) bool {
	status, err := r.Status(ctx, containerID)
	if err != nil {
		return false
	}
	return status == StatusRunning
}

func (r *ContainerdRuntime) ListContainers(ctx context.Context) ([]string, error) {
	ctx = r.ctx(ctx)

	containers, err := r.client.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID())
	}
	return ids, nil
}
