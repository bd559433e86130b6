package machine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/minifly/minifly/pkg/apierr"
	"github.com/minifly/minifly/pkg/dns"
	"github.com/minifly/minifly/pkg/events"
	"github.com/minifly/minifly/pkg/litefs"
	"github.com/minifly/minifly/pkg/log"
	"github.com/minifly/minifly/pkg/metrics"
	"github.com/minifly/minifly/pkg/runtime"
	"github.com/minifly/minifly/pkg/secrets"
	"github.com/minifly/minifly/pkg/storage"
	"github.com/minifly/minifly/pkg/types"
	"github.com/minifly/minifly/pkg/volume"
)

// DefaultLeaseTTL is used when a caller does not specify one.
const DefaultLeaseTTL = 60 * time.Second

// Manager owns every state-mutating operation on machines: create, start,
// stop, pause, restart, update and destroy. Outside of pkg/reconciler it is
// the only component that drives container lifecycle through
// runtime.Runtime. Stop and Start commit their transition to the store
// before the runtime call it implies; the package doc lists the steps that
// run before their commit.
type Manager struct {
	Store    storage.Store
	Runtime  runtime.Runtime
	Registry *dns.Registry
	Broker   *events.Broker
	Secrets  *secrets.Store
	Volumes  *volume.Manager

	DataDir       string
	LiteFSBinary  string
	NetworkPrefix string

	supervisorsMu sync.Mutex
	supervisors   map[string]*litefs.Supervisor

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds a Manager over the given collaborators. All fields are
// required except LiteFSBinary, which defaults to "litefs", and
// NetworkPrefix, which defaults to "fdaa:0:".
func New(store storage.Store, rt runtime.Runtime, registry *dns.Registry, broker *events.Broker, secretsStore *secrets.Store, volumes *volume.Manager, dataDir, litefsBinary, networkPrefix string) *Manager {
	if litefsBinary == "" {
		litefsBinary = "litefs"
	}
	if networkPrefix == "" {
		networkPrefix = "fdaa:0:"
	}
	return &Manager{
		Store:         store,
		Runtime:       rt,
		Registry:      registry,
		Broker:        broker,
		Secrets:       secretsStore,
		Volumes:       volumes,
		DataDir:       dataDir,
		NetworkPrefix: networkPrefix,
		LiteFSBinary:  litefsBinary,
		supervisors:   map[string]*litefs.Supervisor{},
		locks:         map[string]*sync.Mutex{},
	}
}

// LockMachine acquires the single-writer lock for machineID and returns a
// func to release it, so any two state transitions on the same machine —
// whether driven by an API call through this Manager or by the periodic
// reconciler — observe a total order instead of racing on the store's
// read-modify-write UpdateMachine calls. Distinct machines never contend:
// this is one mutex per key, not one lock for the whole store.
func (m *Manager) LockMachine(machineID string) func() {
	m.locksMu.Lock()
	lock, ok := m.locks[machineID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[machineID] = lock
	}
	m.locksMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// newMachineID returns an opaque hex-encoded 8-byte machine id (§3).
func newMachineID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate machine id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// CreateMachine registers a new machine in the created state. It does not
// start it: a caller invokes Start separately, matching the Machines-API
// contract where create and start are independent operations.
func (m *Manager) CreateMachine(appName, name string, cfg types.MachineConfig) (*types.Machine, error) {
	if _, err := m.Store.GetApp(appName); err != nil {
		return nil, err
	}

	id, err := newMachineID()
	if err != nil {
		return nil, apierr.Internalf(err, "failed to allocate machine id")
	}
	if name == "" {
		name = id
	}

	now := time.Now()
	mach := &types.Machine{
		ID:         id,
		AppName:    appName,
		Name:       name,
		State:      types.MachineStateCreated,
		Region:     "local",
		ImageRef:   cfg.Image,
		Config:     cfg,
		Generation: 1,
		Metadata:   map[string]string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := m.Store.CreateMachine(mach); err != nil {
		return nil, err
	}
	if err := m.Store.PutMachineConfig(id, mach.Generation, &cfg); err != nil {
		return nil, err
	}
	if err := m.appendEvent(mach, "created", string(types.MachineStateCreated), types.EventSourceUser, "machine created"); err != nil {
		log.Logger.Error().Err(err).Str("machine_id", id).Msg("failed to append create event")
	}
	if m.Broker != nil {
		m.Broker.Publish(&events.Event{Type: events.EventMachineCreated, MachineID: id, AppName: appName})
	}
	return mach, nil
}

// GetMachine is a read-only passthrough; reads never require a lease.
func (m *Manager) GetMachine(id string) (*types.Machine, error) {
	return m.Store.GetMachine(id)
}

// ListMachinesByApp is a read-only passthrough.
func (m *Manager) ListMachinesByApp(appName string) ([]*types.Machine, error) {
	return m.Store.ListMachinesByApp(appName)
}

// DestroyMachine removes a stopped/failed/created machine, or any machine
// when force is set. It removes its container, detaches volumes attached
// to it and deregisters DNS, then marks the store row destroyed (the row is
// kept) and deletes the lease.
func (m *Manager) DestroyMachine(id, nonce string, force bool) error {
	mach, err := m.Store.GetMachine(id)
	if err != nil {
		return err
	}

	if !force {
		switch mach.State {
		case types.MachineStateStopped, types.MachineStateFailed, types.MachineStateCreated:
		default:
			return apierr.Conflictf("machine %q must be stopped before it can be destroyed (use force)", id)
		}
		if err := m.requireLease(mach, nonce); err != nil {
			return err
		}
	}

	m.stopSupervisor(mach.ID)

	if mach.ContainerID != "" {
		_ = m.Runtime.StopContainer(context.Background(), mach.ContainerID, 0)
		if err := m.Runtime.DeleteContainer(context.Background(), mach.ContainerID); err != nil {
			log.Logger.Warn().Err(err).Str("machine_id", id).Msg("failed to delete container on destroy")
		}
		mach.ContainerID = ""
	}

	vols, err := m.Store.ListVolumesByApp(mach.AppName)
	if err == nil {
		for _, v := range vols {
			if v.MachineID == mach.ID {
				v.MachineID = ""
				_ = m.Store.UpdateVolume(v)
			}
		}
	}

	if m.Registry != nil {
		m.Registry.Deregister(mach.AppName, mach.ID)
	}

	from := mach.State
	mach.State = types.MachineStateDestroyed
	mach.UpdatedAt = time.Now()
	unlock := m.LockMachine(mach.ID)
	err = m.Store.UpdateMachine(mach)
	unlock()
	if err != nil {
		return err
	}
	_ = m.Store.DeleteLease(id)
	m.enqueueOutbox(mach.ID, "reconcile")
	metrics.MachineTransitionsTotal.WithLabelValues(string(from), string(types.MachineStateDestroyed)).Inc()

	if err := m.appendEvent(mach, "destroyed", string(types.MachineStateDestroyed), types.EventSourceUser, "machine destroyed"); err != nil {
		log.Logger.Error().Err(err).Str("machine_id", id).Msg("failed to append destroy event")
	}
	if m.Broker != nil {
		m.Broker.Publish(&events.Event{Type: events.EventMachineDestroyed, MachineID: id, AppName: mach.AppName})
	}
	return nil
}

// trackSupervisor registers a running replicated-SQLite supervisor for
// machineID so Stop/Destroy can find and terminate it later. A live
// Manager is the only place these run; there is no cross-process handoff.
func (m *Manager) trackSupervisor(machineID string, sup *litefs.Supervisor) {
	m.supervisorsMu.Lock()
	defer m.supervisorsMu.Unlock()
	m.supervisors[machineID] = sup
}

// stopSupervisor terminates and forgets machineID's supervisor, if any.
func (m *Manager) stopSupervisor(machineID string) {
	m.supervisorsMu.Lock()
	sup := m.supervisors[machineID]
	delete(m.supervisors, machineID)
	m.supervisorsMu.Unlock()
	if sup != nil {
		sup.Stop()
	}
}

// MarkFailed transitions machineID to failed from outside the normal
// lease-guarded call chain: litefs.Supervisor calls this (via the
// litefs.FailureNotifier interface) once a replicated-SQLite subprocess
// exhausts its restart budget, since that detection happens on a
// background goroutine with no request context or lease of its own.
func (m *Manager) MarkFailed(machineID, reason string) error {
	mach, err := m.Store.GetMachine(machineID)
	if err != nil {
		return err
	}
	if mach.State == types.MachineStateFailed || mach.State == types.MachineStateDestroyed {
		return nil
	}
	if err := m.commitState(mach, types.MachineStateFailed, types.EventSourceSystem, reason); err != nil {
		return err
	}
	if m.Registry != nil {
		m.Registry.Deregister(mach.AppName, mach.ID)
	}
	return nil
}

// enqueueOutbox records that mach needs a reconciliation pass to finish
// driving a transition's side effects (DNS registration, container
// cleanup) to completion, surviving a crash between the store commit above
// and those side effects running. Failure to enqueue is logged and
// swallowed: it only costs a delayed retry, not correctness, since the
// periodic reconciler visits every machine anyway.
func (m *Manager) enqueueOutbox(machineID, kind string) {
	if err := m.Store.EnqueueOutbox(storage.OutboxEntry{MachineID: machineID, Kind: kind, CreatedAt: time.Now().Unix()}); err != nil {
		log.Logger.Error().Err(err).Str("machine_id", machineID).Msg("failed to enqueue outbox entry")
	}
}

func (m *Manager) appendEvent(mach *types.Machine, typ, status string, source types.EventSource, message string) error {
	return m.Store.AppendEvent(&types.Event{
		MachineID: mach.ID,
		AppName:   mach.AppName,
		Type:      typ,
		Status:    status,
		Source:    source,
		Message:   message,
	})
}

// commitState updates mach.State, persists it, records the transition
// metric and appends an event, all in that order. Callers still need to
// run whatever side effect the transition implies (starting a runtime
// call, registering DNS, ...) themselves, since those happen post-commit.
func (m *Manager) commitState(mach *types.Machine, to types.MachineState, source types.EventSource, message string) error {
	unlock := m.LockMachine(mach.ID)
	defer unlock()

	from := mach.State
	mach.State = to
	mach.UpdatedAt = time.Now()
	if err := m.Store.UpdateMachine(mach); err != nil {
		return err
	}
	m.enqueueOutbox(mach.ID, "reconcile")
	metrics.MachineTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	if err := m.appendEvent(mach, "state_change", string(to), source, message); err != nil {
		log.Logger.Error().Err(err).Str("machine_id", mach.ID).Msg("failed to append transition event")
	}
	evtType := events.EventType("machine." + string(to))
	if m.Broker != nil {
		m.Broker.Publish(&events.Event{Type: evtType, MachineID: mach.ID, AppName: mach.AppName, Message: message})
	}
	return nil
}
