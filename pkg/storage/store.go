package storage

import "github.com/minifly/minifly/pkg/types"

// OutboxEntry is a durable record of a side effect that must be driven to
// completion after a state transition commits (§5: commit-then-act).
type OutboxEntry struct {
	Seq       uint64
	MachineID string
	Kind      string
	CreatedAt int64
}

// Store defines the interface for all persisted state: apps, machines and
// their per-generation config, volumes, leases, the per-machine event log,
// and the outbox used to drive post-commit side effects.
type Store interface {
	// Apps
	CreateApp(app *types.App) error
	GetApp(name string) (*types.App, error)
	ListApps() ([]*types.App, error)
	UpdateApp(app *types.App) error
	DeleteApp(name string) error

	// Machines
	CreateMachine(machine *types.Machine) error
	GetMachine(id string) (*types.Machine, error)
	ListMachines() ([]*types.Machine, error)
	ListMachinesByApp(appName string) ([]*types.Machine, error)
	UpdateMachine(machine *types.Machine) error
	DeleteMachine(id string) error

	// Machine config generations, kept for rollback and audit even after a
	// machine moves on to a newer generation.
	PutMachineConfig(machineID string, generation int, cfg *types.MachineConfig) error
	GetMachineConfig(machineID string, generation int) (*types.MachineConfig, error)

	// Volumes
	CreateVolume(volume *types.Volume) error
	GetVolume(id string) (*types.Volume, error)
	GetVolumeByName(appName, name string) (*types.Volume, error)
	ListVolumesByApp(appName string) ([]*types.Volume, error)
	UpdateVolume(volume *types.Volume) error
	DeleteVolume(id string) error

	// Leases
	GetLease(machineID string) (*types.Lease, error)
	PutLease(lease *types.Lease) error
	DeleteLease(machineID string) error

	// Machine events, append-only and totally ordered per machine.
	AppendEvent(event *types.Event) error
	ListEvents(machineID string, since uint64, limit int) ([]*types.Event, error)

	// Outbox: durable queue of post-commit side effects, drained by the
	// reconciler and safe to replay (handlers must be idempotent).
	EnqueueOutbox(entry OutboxEntry) error
	ListOutbox() ([]OutboxEntry, error)
	DeleteOutbox(seq uint64) error

	Close() error
}
