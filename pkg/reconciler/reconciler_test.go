package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/minifly/minifly/pkg/dns"
	"github.com/minifly/minifly/pkg/events"
	"github.com/minifly/minifly/pkg/runtime"
	"github.com/minifly/minifly/pkg/storage"
	"github.com/minifly/minifly/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestReconciler(t *testing.T) (*Reconciler, storage.Store, *runtime.MockRuntime) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rt := runtime.NewMockRuntime()
	registry := dns.NewRegistry("fdaa:0:")
	broker := events.NewBroker()

	return NewReconciler(store, rt, registry, broker), store, rt
}

func TestReconcilePromotesStartingToStarted(t *testing.T) {
	r, store, rt := newTestReconciler(t)

	m := &types.Machine{ID: "m1", AppName: "app1", State: types.MachineStateStarting, ContainerID: "m1"}
	require.NoError(t, store.CreateMachine(m))
	_, err := rt.CreateContainer(context.Background(), runtime.ContainerSpec{ID: "m1", Image: "alpine"})
	require.NoError(t, err)
	require.NoError(t, rt.StartContainer(context.Background(), "m1"))

	r.reconcile()

	got, err := store.GetMachine("m1")
	require.NoError(t, err)
	require.Equal(t, types.MachineStateStarted, got.State)
}

func TestReconcileMarksExitedAsStopped(t *testing.T) {
	r, store, rt := newTestReconciler(t)

	m := &types.Machine{ID: "m2", AppName: "app1", State: types.MachineStateStarted, ContainerID: "m2"}
	require.NoError(t, store.CreateMachine(m))
	_, err := rt.CreateContainer(context.Background(), runtime.ContainerSpec{ID: "m2", Image: "alpine"})
	require.NoError(t, err)
	require.NoError(t, rt.StartContainer(context.Background(), "m2"))
	require.NoError(t, rt.StopContainer(context.Background(), "m2", time.Second))

	r.reconcile()

	got, err := store.GetMachine("m2")
	require.NoError(t, err)
	require.Equal(t, types.MachineStateStopped, got.State)
}

func TestReconcileMarksMissingContainerAsFailed(t *testing.T) {
	r, store, _ := newTestReconciler(t)

	m := &types.Machine{ID: "m3", AppName: "app1", State: types.MachineStateStarted, ContainerID: "missing"}
	require.NoError(t, store.CreateMachine(m))

	r.reconcile()

	got, err := store.GetMachine("m3")
	require.NoError(t, err)
	require.Equal(t, types.MachineStateFailed, got.State)
}

func TestReconcileDrainsOutbox(t *testing.T) {
	r, store, rt := newTestReconciler(t)

	m := &types.Machine{ID: "m5", AppName: "app1", State: types.MachineStateStarting, ContainerID: "m5"}
	require.NoError(t, store.CreateMachine(m))
	_, err := rt.CreateContainer(context.Background(), runtime.ContainerSpec{ID: "m5", Image: "alpine"})
	require.NoError(t, err)
	require.NoError(t, rt.StartContainer(context.Background(), "m5"))
	require.NoError(t, store.EnqueueOutbox(storage.OutboxEntry{MachineID: "m5", Kind: "reconcile"}))

	r.reconcile()

	got, err := store.GetMachine("m5")
	require.NoError(t, err)
	require.Equal(t, types.MachineStateStarted, got.State)

	remaining, err := store.ListOutbox()
	require.NoError(t, err)
	require.Empty(t, remaining)
}

// TestReconcileDrainsOutboxForMissingMachine confirms an entry left behind
// by a since-destroyed machine is still consumed rather than retried
// forever, since GetMachine failing just means there is nothing left to
// reconcile.
func TestReconcileDrainsOutboxForMissingMachine(t *testing.T) {
	r, store, _ := newTestReconciler(t)

	require.NoError(t, store.EnqueueOutbox(storage.OutboxEntry{MachineID: "no-such-machine", Kind: "reconcile"}))

	r.reconcile()

	remaining, err := store.ListOutbox()
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestReconcileStopsStrayRunningContainer(t *testing.T) {
	r, store, rt := newTestReconciler(t)

	m := &types.Machine{ID: "m4", AppName: "app1", State: types.MachineStateStopped, ContainerID: "m4"}
	require.NoError(t, store.CreateMachine(m))
	_, err := rt.CreateContainer(context.Background(), runtime.ContainerSpec{ID: "m4", Image: "alpine"})
	require.NoError(t, err)
	require.NoError(t, rt.StartContainer(context.Background(), "m4"))

	r.reconcile()

	status, err := rt.Status(context.Background(), "m4")
	require.NoError(t, err)
	require.Equal(t, runtime.StatusExited, status)
}
