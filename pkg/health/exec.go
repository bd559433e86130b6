package health

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/minifly/minifly/pkg/runtime"
)

// ExecChecker performs exec-based health checks by running a command either
// on the host (ContainerID empty, used in tests) or inside a running
// container via the runtime adapter.
type ExecChecker struct {
	Command     []string
	Timeout     time.Duration
	ContainerID string
	Runtime     runtime.Runtime
}

// NewExecChecker creates a new host-mode exec health checker.
func NewExecChecker(command []string) *ExecChecker {
	return &ExecChecker{
		Command: command,
		Timeout: DefaultTimeout,
	}
}

// Check performs the exec health check.
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if len(e.Command) == 0 {
		return Result{Healthy: false, Message: "no command specified", CheckedAt: start, Duration: time.Since(start)}
	}

	if e.ContainerID != "" {
		return e.checkInContainer(ctx, start)
	}
	return e.checkOnHost(ctx, start)
}

func (e *ExecChecker) checkInContainer(ctx context.Context, start time.Time) Result {
	if e.Runtime == nil {
		return Result{Healthy: false, Message: "exec checker has no runtime configured", CheckedAt: start, Duration: time.Since(start)}
	}

	result, err := e.Runtime.Exec(ctx, e.ContainerID, e.Command, e.Timeout)
	message := fmt.Sprintf("command: %v", e.Command)
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("%s, error: %v", message, err), CheckedAt: start, Duration: time.Since(start)}
	}
	if result.ExitCode != 0 {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("%s, exit code: %d, output: %s", message, result.ExitCode, truncate(result.Output)),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("%s, output: %s", message, truncate(result.Output)),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func (e *ExecChecker) checkOnHost(ctx context.Context, start time.Time) Result {
	execCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, e.Command[0], e.Command[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	message := fmt.Sprintf("command: %v", e.Command)
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			message = fmt.Sprintf("%s, error: %v, stderr: %s", message, err, truncate(stderr.String()))
		} else {
			message = fmt.Sprintf("%s, error: %v", message, err)
		}
		return Result{Healthy: false, Message: message, CheckedAt: start, Duration: time.Since(start)}
	}

	if stdout.Len() > 0 {
		message = fmt.Sprintf("%s, output: %s", message, truncate(stdout.String()))
	}
	return Result{Healthy: true, Message: message, CheckedAt: start, Duration: time.Since(start)}
}

func truncate(s string) string {
	if len(s) > 100 {
		return s[:100] + "..."
	}
	return s
}

// Type returns the health check type.
func (e *ExecChecker) Type() CheckType {
	return CheckTypeExec
}

// WithTimeout sets the execution timeout.
func (e *ExecChecker) WithTimeout(timeout time.Duration) *ExecChecker {
	e.Timeout = timeout
	return e
}

// WithContainer targets a running container for exec via the given runtime.
func (e *ExecChecker) WithContainer(containerID string, rt runtime.Runtime) *ExecChecker {
	e.ContainerID = containerID
	e.Runtime = rt
	return e
}
