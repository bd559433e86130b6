package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/minifly/minifly/pkg/dns"
	"github.com/minifly/minifly/pkg/events"
	"github.com/minifly/minifly/pkg/health"
	"github.com/minifly/minifly/pkg/log"
	"github.com/minifly/minifly/pkg/machine"
	"github.com/minifly/minifly/pkg/metrics"
	"github.com/minifly/minifly/pkg/runtime"
	"github.com/minifly/minifly/pkg/storage"
	"github.com/minifly/minifly/pkg/types"
)

// Reconciler drives machine store-state toward agreement with the
// container runtime, on a fixed interval and independently of the
// synchronous lifecycle operations in pkg/machine.
type Reconciler struct {
	store    storage.Store
	runtime  runtime.Runtime
	registry *dns.Registry
	broker   *events.Broker
	manager  *machine.Manager
	stopCh   chan struct{}

	healthMu     sync.Mutex
	healthStatus map[string]*health.Status
}

// NewReconciler creates a new reconciler.
func NewReconciler(store storage.Store, rt runtime.Runtime, registry *dns.Registry, broker *events.Broker) *Reconciler {
	return &Reconciler{
		store:        store,
		runtime:      rt,
		registry:     registry,
		broker:       broker,
		stopCh:       make(chan struct{}),
		healthStatus: map[string]*health.Status{},
	}
}

// SetManager attaches the machine manager used to restart machines whose
// health checks fail. Health-check monitoring is a no-op until this is
// called, since restarting in place needs Start/Stop's lease and
// supervisor bookkeeping, not just the bare runtime.Runtime.
func (r *Reconciler) SetManager(mgr *machine.Manager) *Reconciler {
	r.manager = mgr
	return r
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stopCh:
			return
		}
	}
}

// reconcile performs one reconciliation cycle over every machine in the
// store. It never returns an error: individual machine failures are logged
// and recorded as events, and the cycle continues.
func (r *Reconciler) reconcile() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	machines, err := r.store.ListMachines()
	if err != nil {
		log.Logger.Error().Err(err).Str("component", "reconciler").Msg("failed to list machines")
		return
	}

	ctx := context.Background()
	r.drainOutbox(ctx)
	for _, m := range machines {
		r.reconcileMachine(ctx, m)
	}
}

// drainOutbox retries the side effects of transitions committed since the
// last cycle: pkg/machine enqueues an entry alongside every state commit.
// For each entry it re-runs reconcileMachine on the entry's machine (which
// stops a stray container of a stopped machine and removes the container of
// a destroyed one) and then re-applies the machine's DNS registration for
// its committed state, so a crash between a commit and those side effects
// is repaired on the next pass. A container left created but never started
// is not started here. reconcileMachine and the registry calls are
// idempotent, so replaying them against a machine that already converged is
// harmless.
func (r *Reconciler) drainOutbox(ctx context.Context) {
	entries, err := r.store.ListOutbox()
	if err != nil {
		log.Logger.Error().Err(err).Str("component", "reconciler").Msg("failed to list outbox")
		return
	}

	for _, entry := range entries {
		m, err := r.store.GetMachine(entry.MachineID)
		if err == nil {
			r.reconcileMachine(ctx, m)
			if r.registry != nil {
				if m.State.Alive() && !m.Config.DNS.SkipRegistration {
					r.registry.Register(m.AppName, m.ID)
				} else {
					r.registry.Deregister(m.AppName, m.ID)
				}
			}
		}
		if err := r.store.DeleteOutbox(entry.Seq); err != nil {
			log.Logger.Error().Err(err).Str("component", "reconciler").Uint64("seq", entry.Seq).Msg("failed to delete drained outbox entry")
		}
	}
}

func (r *Reconciler) reconcileMachine(ctx context.Context, m *types.Machine) {
	switch m.State {
	case types.MachineStateDestroyed:
		r.reconcileDestroyed(ctx, m)
	case types.MachineStateStopped:
		r.reconcileStopped(ctx, m)
	case types.MachineStateStarting, types.MachineStateStarted:
		r.reconcileRunning(ctx, m)
	default:
		// created, stopping, paused, failed: driven synchronously by
		// pkg/machine or awaiting the next user action, no periodic action.
	}
}

// reconcileRunning handles `starting` and `started` machines: it compares
// store state against the runtime's view and commits the transition the
// runtime has already made.
func (r *Reconciler) reconcileRunning(ctx context.Context, m *types.Machine) {
	if m.ContainerID == "" {
		r.markFailed(m, "no container recorded for a non-stopped machine")
		return
	}

	status, err := r.runtime.Status(ctx, m.ContainerID)
	if err != nil {
		r.markFailed(m, "container missing: "+err.Error())
		return
	}

	switch {
	case m.State == types.MachineStateStarting && status == runtime.StatusRunning:
		r.transition(m, types.MachineStateStarted, "runtime reports running")
	case status == runtime.StatusExited:
		r.transition(m, types.MachineStateStopped, "runtime reports exited")
	case status == runtime.StatusFailed:
		r.markFailed(m, "runtime reports failed exit")
	}

	if m.State == types.MachineStateStarted {
		r.runHealthChecks(ctx, m)
	}
}

// reconcileStopped handles the stray-container case: the store believes the
// machine is stopped but the runtime still has it running.
func (r *Reconciler) reconcileStopped(ctx context.Context, m *types.Machine) {
	if m.ContainerID == "" {
		return
	}

	status, err := r.runtime.Status(ctx, m.ContainerID)
	if err != nil {
		return
	}

	if status == runtime.StatusRunning || status == runtime.StatusPaused {
		log.Logger.Warn().Str("component", "reconciler").Str("machine_id", m.ID).Msg("stray running container for stopped machine, forcing stop")
		if err := r.runtime.StopContainer(ctx, m.ContainerID, 5*time.Second); err != nil {
			log.Logger.Error().Err(err).Str("machine_id", m.ID).Msg("failed to force-stop stray container")
			return
		}
		metrics.ReconciliationActionsTotal.WithLabelValues("stop_stray_container").Inc()
	}
}

// reconcileDestroyed cleans up a container the runtime still has for a
// machine already marked destroyed in the store.
func (r *Reconciler) reconcileDestroyed(ctx context.Context, m *types.Machine) {
	if m.ContainerID == "" {
		return
	}

	if _, err := r.runtime.Status(ctx, m.ContainerID); err != nil {
		// Already gone from the runtime's perspective.
		return
	}

	log.Logger.Info().Str("component", "reconciler").Str("machine_id", m.ID).Msg("removing runtime container for destroyed machine")
	_ = r.runtime.StopContainer(ctx, m.ContainerID, 0)
	if err := r.runtime.DeleteContainer(ctx, m.ContainerID); err != nil {
		log.Logger.Error().Err(err).Str("machine_id", m.ID).Msg("failed to remove destroyed machine's container")
		return
	}

	m.ContainerID = ""
	if err := r.updateMachine(m); err != nil {
		log.Logger.Error().Err(err).Str("machine_id", m.ID).Msg("failed to persist container cleanup")
	}
	if r.registry != nil {
		r.registry.Deregister(m.AppName, m.ID)
	}
	metrics.ReconciliationActionsTotal.WithLabelValues("cleanup_destroyed").Inc()
}

// updateMachine persists m under the same per-machine lock pkg/machine's
// Manager uses for its own commits, when a manager is attached, so a
// reconciled transition and a concurrent API-driven one on the same machine
// can never interleave into a lost update. Without a manager (tests that
// build a bare Reconciler) it falls back to an unlocked write, matching the
// synchronous single-goroutine reconcile() call pattern those exercise.
func (r *Reconciler) updateMachine(m *types.Machine) error {
	if r.manager != nil {
		unlock := r.manager.LockMachine(m.ID)
		defer unlock()
	}
	return r.store.UpdateMachine(m)
}

func (r *Reconciler) markFailed(m *types.Machine, reason string) {
	if m.State == types.MachineStateFailed {
		return
	}
	r.transition(m, types.MachineStateFailed, reason)
}

// transition commits a state change discovered during reconciliation,
// records the metric and event, and keeps DNS registration in sync with
// liveness.
func (r *Reconciler) transition(m *types.Machine, to types.MachineState, reason string) {
	from := m.State
	m.State = to
	m.UpdatedAt = time.Now()

	if err := r.updateMachine(m); err != nil {
		log.Logger.Error().Err(err).Str("machine_id", m.ID).Msg("failed to persist reconciled transition")
		return
	}

	metrics.MachineTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	metrics.ReconciliationActionsTotal.WithLabelValues("transition_" + string(to)).Inc()

	if r.registry != nil {
		if m.State.Alive() {
			r.registry.Register(m.AppName, m.ID)
		} else {
			r.registry.Deregister(m.AppName, m.ID)
		}
	}

	event := &types.Event{
		MachineID: m.ID,
		AppName:   m.AppName,
		Type:      "state_change",
		Status:    string(to),
		Source:    types.EventSourceSystem,
		Message:   reason,
	}
	if err := r.store.AppendEvent(event); err != nil {
		log.Logger.Error().Err(err).Str("machine_id", m.ID).Msg("failed to append reconciliation event")
	}
	if r.broker != nil {
		r.broker.Publish(&events.Event{
			Type:      events.EventType("machine." + string(to)),
			MachineID: m.ID,
			AppName:   m.AppName,
			Message:   reason,
		})
	}

	log.Logger.Info().Str("component", "reconciler").Str("machine_id", m.ID).
		Str("from", string(from)).Str("to", string(to)).Msg("reconciled machine transition")
}
