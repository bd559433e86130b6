package machine

import (
	"context"
	"testing"
	"time"

	"github.com/minifly/minifly/pkg/dns"
	"github.com/minifly/minifly/pkg/events"
	"github.com/minifly/minifly/pkg/runtime"
	"github.com/minifly/minifly/pkg/secrets"
	"github.com/minifly/minifly/pkg/storage"
	"github.com/minifly/minifly/pkg/types"
	"github.com/minifly/minifly/pkg/volume"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, storage.Store, *runtime.MockRuntime) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rt := runtime.NewMockRuntime()
	registry := dns.NewRegistry("fdaa:0:")
	broker := events.NewBroker()
	secretsStore := secrets.NewStore(t.TempDir())
	volumes, err := volume.NewManager(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.CreateApp(&types.App{Name: "app1", Status: types.AppStatusCreated}))

	mgr := New(store, rt, registry, broker, secretsStore, volumes, t.TempDir(), "", "")
	return mgr, store, rt
}

func TestCreateMachine(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	mach, err := mgr.CreateMachine("app1", "web", types.MachineConfig{Image: "alpine"})
	require.NoError(t, err)
	require.Equal(t, types.MachineStateCreated, mach.State)
	require.Equal(t, 1, mach.Generation)
	require.Equal(t, "web", mach.Name)
}

func TestCreateMachine_UnknownApp(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	_, err := mgr.CreateMachine("no-such-app", "web", types.MachineConfig{Image: "alpine"})
	require.Error(t, err)
}

func TestStartRequiresLease(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	mach, err := mgr.CreateMachine("app1", "web", types.MachineConfig{Image: "alpine"})
	require.NoError(t, err)

	err = mgr.Start(context.Background(), mach.ID, "")
	require.Error(t, err)
}

func TestStartStopLifecycle(t *testing.T) {
	mgr, store, rt := newTestManager(t)

	mach, err := mgr.CreateMachine("app1", "web", types.MachineConfig{Image: "alpine"})
	require.NoError(t, err)

	lease, err := mgr.Acquire(mach.ID, "tester", "start", 0, "")
	require.NoError(t, err)

	require.NoError(t, mgr.Start(context.Background(), mach.ID, lease.Nonce))

	got, err := store.GetMachine(mach.ID)
	require.NoError(t, err)
	require.Equal(t, types.MachineStateStarted, got.State)
	require.NotEmpty(t, got.ContainerID)
	require.NotEmpty(t, got.PrivateIP)

	require.NoError(t, mgr.Stop(context.Background(), mach.ID, lease.Nonce, time.Second))

	got, err = store.GetMachine(mach.ID)
	require.NoError(t, err)
	require.Equal(t, types.MachineStateStopped, got.State)

	status, err := rt.Status(context.Background(), got.ContainerID)
	require.NoError(t, err)
	require.Equal(t, runtime.StatusExited, status)
}

func TestPauseUnpause(t *testing.T) {
	mgr, store, _ := newTestManager(t)

	mach, err := mgr.CreateMachine("app1", "web", types.MachineConfig{Image: "alpine"})
	require.NoError(t, err)
	lease, err := mgr.Acquire(mach.ID, "tester", "start", 0, "")
	require.NoError(t, err)
	require.NoError(t, mgr.Start(context.Background(), mach.ID, lease.Nonce))

	require.NoError(t, mgr.Pause(context.Background(), mach.ID, lease.Nonce))
	got, err := store.GetMachine(mach.ID)
	require.NoError(t, err)
	require.Equal(t, types.MachineStatePaused, got.State)

	require.NoError(t, mgr.Unpause(context.Background(), mach.ID, lease.Nonce))
	got, err = store.GetMachine(mach.ID)
	require.NoError(t, err)
	require.Equal(t, types.MachineStateStarted, got.State)
}

func TestRestart(t *testing.T) {
	mgr, store, _ := newTestManager(t)

	mach, err := mgr.CreateMachine("app1", "web", types.MachineConfig{Image: "alpine"})
	require.NoError(t, err)
	lease, err := mgr.Acquire(mach.ID, "tester", "start", 0, "")
	require.NoError(t, err)
	require.NoError(t, mgr.Start(context.Background(), mach.ID, lease.Nonce))

	require.NoError(t, mgr.Restart(context.Background(), mach.ID, lease.Nonce, time.Second))

	got, err := store.GetMachine(mach.ID)
	require.NoError(t, err)
	require.Equal(t, types.MachineStateStarted, got.State)
}

func TestDestroyMachineRequiresStopped(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	mach, err := mgr.CreateMachine("app1", "web", types.MachineConfig{Image: "alpine"})
	require.NoError(t, err)
	lease, err := mgr.Acquire(mach.ID, "tester", "start", 0, "")
	require.NoError(t, err)
	require.NoError(t, mgr.Start(context.Background(), mach.ID, lease.Nonce))

	err = mgr.DestroyMachine(mach.ID, lease.Nonce, false)
	require.Error(t, err)

	require.NoError(t, mgr.DestroyMachine(mach.ID, lease.Nonce, true))

	got, err := mgr.GetMachine(mach.ID)
	require.NoError(t, err)
	require.Equal(t, types.MachineStateDestroyed, got.State)
	require.Empty(t, got.ContainerID)
}

func TestUpdateMachineRunning(t *testing.T) {
	mgr, store, _ := newTestManager(t)

	mach, err := mgr.CreateMachine("app1", "web", types.MachineConfig{Image: "alpine"})
	require.NoError(t, err)
	lease, err := mgr.Acquire(mach.ID, "tester", "start", 0, "")
	require.NoError(t, err)
	require.NoError(t, mgr.Start(context.Background(), mach.ID, lease.Nonce))

	updated, err := mgr.UpdateMachine(context.Background(), mach.ID, lease.Nonce, types.MachineConfig{Image: "alpine:edge"})
	require.NoError(t, err)
	require.Equal(t, 2, updated.Generation)
	require.Equal(t, "alpine:edge", updated.ImageRef)

	got, err := store.GetMachine(mach.ID)
	require.NoError(t, err)
	require.Equal(t, types.MachineStateStarted, got.State)
}

func TestUpdateAppRolling(t *testing.T) {
	mgr, store, _ := newTestManager(t)

	for _, name := range []string{"a", "b", "c"} {
		mach, err := mgr.CreateMachine("app1", name, types.MachineConfig{Image: "alpine"})
		require.NoError(t, err)
		lease, err := mgr.Acquire(mach.ID, "tester", "start", 0, "")
		require.NoError(t, err)
		require.NoError(t, mgr.Start(context.Background(), mach.ID, lease.Nonce))
		require.NoError(t, mgr.Release(mach.ID, lease.Nonce))
	}

	err := mgr.UpdateApp(context.Background(), "app1", types.MachineConfig{Image: "alpine:edge"}, "rolling", 0.5)
	require.NoError(t, err)

	machines, err := store.ListMachinesByApp("app1")
	require.NoError(t, err)
	for _, mach := range machines {
		require.Equal(t, "alpine:edge", mach.ImageRef)
		require.Equal(t, 2, mach.Generation)
	}
}

func TestMarkFailed(t *testing.T) {
	mgr, store, _ := newTestManager(t)

	mach, err := mgr.CreateMachine("app1", "web", types.MachineConfig{Image: "alpine"})
	require.NoError(t, err)
	lease, err := mgr.Acquire(mach.ID, "tester", "start", 0, "")
	require.NoError(t, err)
	require.NoError(t, mgr.Start(context.Background(), mach.ID, lease.Nonce))

	require.NoError(t, mgr.MarkFailed(mach.ID, "replicated-sqlite exhausted its restart budget"))

	got, err := store.GetMachine(mach.ID)
	require.NoError(t, err)
	require.Equal(t, types.MachineStateFailed, got.State)

	events, err := store.ListEvents(mach.ID, 0, 100)
	require.NoError(t, err)
	require.Equal(t, "replicated-sqlite exhausted its restart budget", events[len(events)-1].Message)

	// Idempotent: already-failed machines are left alone rather than
	// erroring or emitting a duplicate transition event.
	require.NoError(t, mgr.MarkFailed(mach.ID, "second call"))
	after, err := store.ListEvents(mach.ID, 0, 100)
	require.NoError(t, err)
	require.Len(t, after, len(events))
}

func TestLeaseAcquireConflict(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	mach, err := mgr.CreateMachine("app1", "web", types.MachineConfig{Image: "alpine"})
	require.NoError(t, err)

	_, err = mgr.Acquire(mach.ID, "tester", "first", 0, "")
	require.NoError(t, err)

	_, err = mgr.Acquire(mach.ID, "other", "second", 0, "")
	require.Error(t, err)
}
