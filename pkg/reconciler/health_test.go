package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/minifly/minifly/pkg/dns"
	"github.com/minifly/minifly/pkg/events"
	"github.com/minifly/minifly/pkg/machine"
	"github.com/minifly/minifly/pkg/runtime"
	"github.com/minifly/minifly/pkg/secrets"
	"github.com/minifly/minifly/pkg/storage"
	"github.com/minifly/minifly/pkg/types"
	"github.com/minifly/minifly/pkg/volume"
	"github.com/stretchr/testify/require"
)

func newTestReconcilerWithManager(t *testing.T) (*Reconciler, *machine.Manager, storage.Store) {
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

	mgr := machine.New(store, rt, registry, broker, secretsStore, volumes, t.TempDir(), "", "")
	r := NewReconciler(store, rt, registry, broker).SetManager(mgr)
	return r, mgr, store
}

// TestHealthCheckFailureRestartsMachine drives a started machine through a
// tcp check against a port nothing listens on. With restart_limit 1 the
// very first failed check should bounce it: stop then start again, landing
// back in `started` on the same generation.
func TestHealthCheckFailureRestartsMachine(t *testing.T) {
	r, mgr, store := newTestReconcilerWithManager(t)
	ctx := context.Background()

	mach, err := mgr.CreateMachine("app1", "web", types.MachineConfig{
		Image: "alpine",
		Checks: map[string]types.Check{
			"web": {Type: "tcp", Port: 1, RestartLimit: 1},
		},
	})
	require.NoError(t, err)

	lease, err := mgr.Acquire(mach.ID, "test", "", time.Minute, "")
	require.NoError(t, err)
	require.NoError(t, mgr.Start(ctx, mach.ID, lease.Nonce))
	require.NoError(t, mgr.Release(mach.ID, lease.Nonce))

	mach, err = store.GetMachine(mach.ID)
	require.NoError(t, err)
	require.Equal(t, types.MachineStateStarted, mach.State)
	generationBefore := mach.Generation

	r.reconcile()

	got, err := store.GetMachine(mach.ID)
	require.NoError(t, err)
	require.Equal(t, types.MachineStateStarted, got.State)
	require.Equal(t, generationBefore, got.Generation)
}

// TestHealthCheckSkippedDuringGracePeriod confirms a check isn't evaluated
// (and can't trigger a restart) before its grace period elapses.
func TestHealthCheckSkippedDuringGracePeriod(t *testing.T) {
	r, mgr, store := newTestReconcilerWithManager(t)
	ctx := context.Background()

	mach, err := mgr.CreateMachine("app1", "web", types.MachineConfig{
		Image: "alpine",
		Checks: map[string]types.Check{
			"web": {Type: "tcp", Port: 1, RestartLimit: 1, GracePeriod: time.Hour},
		},
	})
	require.NoError(t, err)

	lease, err := mgr.Acquire(mach.ID, "test", "", time.Minute, "")
	require.NoError(t, err)
	require.NoError(t, mgr.Start(ctx, mach.ID, lease.Nonce))
	require.NoError(t, mgr.Release(mach.ID, lease.Nonce))

	r.reconcile()

	got, err := store.GetMachine(mach.ID)
	require.NoError(t, err)
	require.Empty(t, r.healthStatus)
	require.Equal(t, types.MachineStateStarted, got.State)
}

// TestHealthCheckNoopWithoutManager confirms attaching no manager leaves
// health checks entirely unevaluated rather than tracked-but-unactionable.
func TestHealthCheckNoopWithoutManager(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	rt := runtime.NewMockRuntime()
	registry := dns.NewRegistry("fdaa:0:")
	broker := events.NewBroker()
	r := NewReconciler(store, rt, registry, broker)

	m := &types.Machine{
		ID: "m1", AppName: "app1", State: types.MachineStateStarted, ContainerID: "m1",
		Config: types.MachineConfig{Checks: map[string]types.Check{"web": {Type: "tcp", Port: 1, RestartLimit: 1}}},
	}
	require.NoError(t, store.CreateMachine(m))
	_, err = rt.CreateContainer(context.Background(), runtime.ContainerSpec{ID: "m1", Image: "alpine"})
	require.NoError(t, err)
	require.NoError(t, rt.StartContainer(context.Background(), "m1"))

	r.reconcile()

	require.Empty(t, r.healthStatus)
}
