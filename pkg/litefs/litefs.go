package litefs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/minifly/minifly/pkg/events"
	"github.com/minifly/minifly/pkg/log"
	"github.com/minifly/minifly/pkg/manifest"
	"github.com/minifly/minifly/pkg/metrics"
	"github.com/minifly/minifly/pkg/storage"
	"github.com/minifly/minifly/pkg/types"
)

// maxRestarts and restartWindow bound the supervisor's restart budget: a
// machine whose replicated-SQLite process crash-loops more than this within
// the window is marked failed rather than retried forever.
const (
	maxRestarts   = 5
	restartWindow = 60 * time.Second

	stopGrace = 10 * time.Second
)

// FailureNotifier is told when a supervised process exhausts its restart
// budget, so the machine it backs can be transitioned out of the running
// states it can no longer honor. pkg/machine.Manager implements this; it
// is not imported directly here to avoid a cycle (pkg/machine already
// imports pkg/litefs).
type FailureNotifier interface {
	MarkFailed(machineID, reason string) error
}

// Supervisor owns the replicated-SQLite subprocess for a single machine. Its
// lifetime is bound to the machine's: Start launches the child, Stop tears
// it down, and a background goroutine restarts a crashed child within the
// retry budget or marks the machine failed once it's exhausted.
type Supervisor struct {
	machineID  string
	appName    string
	binaryPath string
	configPath string
	logDir     string

	store    storage.Store
	broker   *events.Broker
	notifier FailureNotifier

	mu       sync.Mutex
	cmd      *exec.Cmd
	stopped  bool
	restarts []time.Time
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New prepares a supervisor for machineID. It does not launch anything;
// call Start once the config has been rendered to disk. notifier may be
// nil, in which case restart-budget exhaustion is only recorded as an
// event, never driven into a machine state transition.
func New(store storage.Store, broker *events.Broker, notifier FailureNotifier, appName, machineID, binaryPath, configPath, dataRoot string) *Supervisor {
	return &Supervisor{
		machineID:  machineID,
		appName:    appName,
		binaryPath: binaryPath,
		configPath: configPath,
		logDir:     filepath.Join(dataRoot, appName, machineID, "litefs"),
		store:      store,
		broker:     broker,
		notifier:   notifier,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// RenderConfig adapts a production litefs.yml (or a from-scratch default,
// when content is empty) and writes it to the machine's config path,
// returning any adaptation warnings.
func RenderConfig(content []byte, appName, machineID, dataRoot string, isPrimary bool) (manifest.AdaptLiteFSResult, string, error) {
	result := manifest.AdaptLiteFSConfig(content, appName, machineID, dataRoot, isPrimary)

	configPath := filepath.Join(dataRoot, appName, machineID, "litefs", "config.yml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return result, "", fmt.Errorf("create litefs config dir: %w", err)
	}
	out, err := result.Config.ToYAML()
	if err != nil {
		return result, "", fmt.Errorf("render litefs config: %w", err)
	}
	if err := os.WriteFile(configPath, out, 0o644); err != nil {
		return result, "", fmt.Errorf("write litefs config: %w", err)
	}
	return result, configPath, nil
}

// Start launches the replicated-SQLite child process and begins supervising
// it. A missing or non-executable binary is not fatal: it is recorded as a
// warning event and Start returns nil so the machine's container still
// starts, per §4.7.
func (s *Supervisor) Start(ctx context.Context) error {
	if _, err := exec.LookPath(s.binaryPath); err != nil {
		s.recordEvent(types.EventSourceSystem, "warning",
			fmt.Sprintf("replicated-SQLite binary %q not found, running without replication: %v", s.binaryPath, err))
		close(s.doneCh)
		return nil
	}

	if err := s.launch(ctx); err != nil {
		s.recordEvent(types.EventSourceSystem, "warning",
			fmt.Sprintf("replicated-SQLite failed to start, running without replication: %v", err))
		close(s.doneCh)
		return nil
	}

	go s.supervise(ctx)
	return nil
}

func (s *Supervisor) launch(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, s.binaryPath, "mount", "-config", s.configPath)
	cmd.Stdout = &logWriter{sink: s, level: "info"}
	cmd.Stderr = &logWriter{sink: s, level: "error"}

	if err := cmd.Start(); err != nil {
		return err
	}

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()

	log.Logger.Info().Str("component", "litefs").Str("machine_id", s.machineID).Str("app", s.appName).
		Msg("replicated-sqlite process started")
	return nil
}

// supervise waits for the child to exit and restarts it within budget,
// mirroring the SIGTERM-then-timeout-then-SIGKILL shutdown discipline used
// elsewhere in the runtime layer, generalized here to a plain child process.
func (s *Supervisor) supervise(ctx context.Context) {
	defer close(s.doneCh)

	for {
		s.mu.Lock()
		cmd := s.cmd
		s.mu.Unlock()
		if cmd == nil {
			return
		}

		err := cmd.Wait()

		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}

		log.Logger.Warn().Str("component", "litefs").Str("machine_id", s.machineID).Err(err).
			Msg("replicated-sqlite process exited unexpectedly")

		if !s.withinRestartBudget() {
			reason := fmt.Sprintf("replicated-sqlite exceeded %d restarts in %s, giving up", maxRestarts, restartWindow)
			s.recordEvent(types.EventSourceSystem, "failed", reason)
			if s.notifier != nil {
				if err := s.notifier.MarkFailed(s.machineID, reason); err != nil {
					log.Logger.Error().Err(err).Str("component", "litefs").Str("machine_id", s.machineID).
						Msg("failed to mark machine failed after exhausting restart budget")
				}
			}
			return
		}

		metrics.LiteFSRestartsTotal.WithLabelValues(s.machineID).Inc()
		if err := s.launch(ctx); err != nil {
			s.recordEvent(types.EventSourceSystem, "warning",
				fmt.Sprintf("replicated-sqlite restart failed: %v", err))
			return
		}
	}
}

// withinRestartBudget records this restart attempt and reports whether the
// supervisor is still inside its rolling window budget.
func (s *Supervisor) withinRestartBudget() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-restartWindow)
	kept := s.restarts[:0]
	for _, t := range s.restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.restarts = append(kept, now)
	return len(s.restarts) <= maxRestarts
}

// Stop terminates the child with SIGTERM, waits up to stopGrace, then
// SIGKILLs. It is a no-op if the process was never started.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	cmd := s.cmd
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-s.doneCh:
	case <-time.After(stopGrace):
		log.Logger.Warn().Str("component", "litefs").Str("machine_id", s.machineID).
			Msg("replicated-sqlite did not exit gracefully, killing")
		_ = cmd.Process.Kill()
		<-s.doneCh
	}
}

func (s *Supervisor) recordEvent(source types.EventSource, status, message string) {
	log.Logger.Warn().Str("component", "litefs").Str("machine_id", s.machineID).Msg(message)

	if s.store != nil {
		_ = s.store.AppendEvent(&types.Event{
			MachineID: s.machineID,
			AppName:   s.appName,
			Type:      "litefs",
			Status:    status,
			Source:    source,
			Message:   message,
		})
	}
	if s.broker != nil {
		s.broker.Publish(&events.Event{
			Type:      events.EventType("machine.updated"),
			MachineID: s.machineID,
			AppName:   s.appName,
			Message:   message,
		})
	}
}

// logWriter tags supervised subprocess output with source=litefs before it
// reaches the machine's log stream.
type logWriter struct {
	sink  *Supervisor
	level string
}

func (w *logWriter) Write(p []byte) (int, error) {
	evt := log.Logger.Info()
	if w.level == "error" {
		evt = log.Logger.Error()
	}
	evt.Str("component", "litefs").Str("machine_id", w.sink.machineID).Str("source", "litefs").
		Msg(string(p))
	return len(p), nil
}
