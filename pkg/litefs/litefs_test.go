package litefs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/minifly/minifly/pkg/events"
	"github.com/minifly/minifly/pkg/storage"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// writeScript writes an executable shell script whose body is the given
// text and returns its path. Args passed by the supervisor (mount -config
// ...) are ignored by the script, matching how a real litefs binary would
// just take them as flags.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-litefs")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

// fakeNotifier records MarkFailed calls in place of a real
// machine.Manager, keyed by machine id, without pulling pkg/machine (which
// imports this package) into this test binary.
type fakeNotifier struct {
	mu     sync.Mutex
	failed map[string]string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{failed: map[string]string{}}
}

func (f *fakeNotifier) MarkFailed(machineID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[machineID] = reason
	return nil
}

func (f *fakeNotifier) reasonFor(machineID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reason, ok := f.failed[machineID]
	return reason, ok
}

func TestSupervisorMissingBinaryRecordsWarningAndReturnsNil(t *testing.T) {
	store := newTestStore(t)
	s := New(store, events.NewBroker(), nil, "app1", "m1", "/nonexistent/litefs-binary", "/tmp/config.yml", t.TempDir())

	err := s.Start(context.Background())
	require.NoError(t, err)

	evts, err := store.ListEvents("m1", 0, 100)
	require.NoError(t, err)
	require.NotEmpty(t, evts)
	require.Equal(t, "litefs", evts[0].Type)
}

func TestSupervisorStopTerminatesRunningProcess(t *testing.T) {
	store := newTestStore(t)
	bin := writeScript(t, "sleep 30")
	s := New(store, events.NewBroker(), nil, "app1", "m2", bin, "/tmp/config.yml", t.TempDir())

	require.NoError(t, s.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return within grace period")
	}
}

func TestSupervisorExhaustsRestartBudget(t *testing.T) {
	store := newTestStore(t)
	bin := writeScript(t, "exit 1")
	notifier := newFakeNotifier()
	s := New(store, events.NewBroker(), notifier, "app1", "m3", bin, "/tmp/config.yml", t.TempDir())

	require.NoError(t, s.Start(context.Background()))

	select {
	case <-s.doneCh:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor never gave up after exhausting restart budget")
	}

	evts, err := store.ListEvents("m3", 0, 100)
	require.NoError(t, err)
	require.NotEmpty(t, evts)

	found := false
	for _, e := range evts {
		if e.Status == "failed" {
			found = true
		}
	}
	require.True(t, found, "expected a failed event once the restart budget was exhausted")

	reason, ok := notifier.reasonFor("m3")
	require.True(t, ok, "expected the supervisor to notify its owning machine of the restart-budget exhaustion")
	require.Contains(t, reason, "exceeded")
}

// TestSupervisorRestartBudgetExhaustionWithoutNotifierStillRecordsEvent
// confirms a nil notifier (the case when litefs is supervised outside a
// Manager, e.g. from a bare RenderConfig/New in a script) degrades to the
// old event-only behavior instead of panicking.
func TestSupervisorRestartBudgetExhaustionWithoutNotifierStillRecordsEvent(t *testing.T) {
	store := newTestStore(t)
	bin := writeScript(t, "exit 1")
	s := New(store, events.NewBroker(), nil, "app1", "m4", bin, "/tmp/config.yml", t.TempDir())

	require.NoError(t, s.Start(context.Background()))

	select {
	case <-s.doneCh:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor never gave up after exhausting restart budget")
	}
}

func TestRenderConfigWritesFile(t *testing.T) {
	dataRoot := t.TempDir()
	_, path, err := RenderConfig(nil, "myapp", "m1", dataRoot, true)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(content), "static")
}
