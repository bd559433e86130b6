// Package types holds the plain data model shared by every component: apps,
// machines, their configuration, volumes, leases and the event log.
package types

import "time"

// App is a named, organization-scoped collection of machines, secrets and
// volumes.
type App struct {
	Name         string
	Organization string
	Status       AppStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AppStatus is the lifecycle status of an App.
type AppStatus string

const (
	AppStatusCreated   AppStatus = "created"
	AppStatusDeployed  AppStatus = "deployed"
	AppStatusSuspended AppStatus = "suspended"
)

// Machine is a managed container with identity, generation and lifecycle
// state.
type Machine struct {
	ID          string
	AppName     string
	Name        string
	State       MachineState
	Region      string
	ImageRef    string
	ContainerID string
	PrivateIP   string
	Config      MachineConfig
	Generation  int
	Metadata    map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MachineState is one of the states in the machine lifecycle state machine.
type MachineState string

const (
	MachineStateCreated   MachineState = "created"
	MachineStateStarting  MachineState = "starting"
	MachineStateStarted   MachineState = "started"
	MachineStateStopping  MachineState = "stopping"
	MachineStateStopped   MachineState = "stopped"
	MachineStatePaused    MachineState = "paused"
	MachineStateFailed    MachineState = "failed"
	MachineStateDestroyed MachineState = "destroyed"
)

// NonTerminal reports whether reconciliation should still consider m.
func (s MachineState) NonTerminal() bool {
	return s != MachineStateDestroyed
}

// Alive reports whether a machine in state s should have a live DNS
// registration (§4.3: starting, started, paused).
func (s MachineState) Alive() bool {
	switch s {
	case MachineStateStarting, MachineStateStarted, MachineStatePaused:
		return true
	default:
		return false
	}
}

// MachineConfig is the immutable snapshot bound to a machine's current
// generation. Field names and shape follow the production Machines-API
// config recovered from original_source/minifly-core/src/models/machine.rs.
type MachineConfig struct {
	Image      string            `json:"image" yaml:"image"`
	Entrypoint []string          `json:"entrypoint,omitempty" yaml:"entrypoint,omitempty"`
	Cmd        []string          `json:"cmd,omitempty" yaml:"cmd,omitempty"`
	Env        map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Guest      GuestConfig       `json:"guest" yaml:"guest"`
	Services   []ServiceConfig   `json:"services,omitempty" yaml:"services,omitempty"`
	Checks     map[string]Check  `json:"checks,omitempty" yaml:"checks,omitempty"`
	Restart    RestartConfig     `json:"restart,omitempty" yaml:"restart,omitempty"`
	Mounts     []MountConfig     `json:"mounts,omitempty" yaml:"mounts,omitempty"`
	DNS        DNSConfig         `json:"dns,omitempty" yaml:"dns,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	// ProcessGroup names which entry of a manifest's `processes` map this
	// machine materializes, when the app was created from a manifest with
	// more than one process group (§4.6 EXPANSION). Empty for machines
	// created directly through the API.
	ProcessGroup string `json:"process_group,omitempty" yaml:"process_group,omitempty"`
}

// GuestConfig is the requested guest resource shape. Sizes are advisory:
// Minifly runs everything on the host container runtime and does not
// enforce cgroup limits beyond what the runtime adapter passes through.
type GuestConfig struct {
	CPUKind  string `json:"cpu_kind,omitempty" yaml:"cpu_kind,omitempty"`
	CPUs     int    `json:"cpus,omitempty" yaml:"cpus,omitempty"`
	MemoryMB int    `json:"memory_mb,omitempty" yaml:"memory_mb,omitempty"`
}

// ServiceConfig is a public service definition: how a container's internal
// port is exposed.
type ServiceConfig struct {
	InternalPort int    `json:"internal_port" yaml:"internal_port"`
	Protocol     string `json:"protocol" yaml:"protocol"`
	Ports        []Port `json:"ports,omitempty" yaml:"ports,omitempty"`
	// Autostop/Autostart record whether the manifest requested pause/unpause
	// simulation of scale-to-zero (§4.5); the lifecycle manager consults
	// these but the adapter has already collapsed anything more elaborate
	// (concurrency, min_machines_running) into a warning.
	Autostop  bool `json:"autostop,omitempty" yaml:"autostop,omitempty"`
	Autostart bool `json:"autostart,omitempty" yaml:"autostart,omitempty"`
}

// Port is one published port with its handler chain (e.g. "http", "tls").
type Port struct {
	Port     int      `json:"port" yaml:"port"`
	Handlers []string `json:"handlers,omitempty" yaml:"handlers,omitempty"`
}

// Check is a health check declaration bound to a machine's config.
type Check struct {
	Type        string        `json:"type" yaml:"type"`
	Port        int           `json:"port,omitempty" yaml:"port,omitempty"`
	Interval    time.Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	GracePeriod time.Duration `json:"grace_period,omitempty" yaml:"grace_period,omitempty"`
	Method      string        `json:"method,omitempty" yaml:"method,omitempty"`
	Path        string        `json:"path,omitempty" yaml:"path,omitempty"`
	Command     []string      `json:"command,omitempty" yaml:"command,omitempty"`
	RestartLimit int          `json:"restart_limit,omitempty" yaml:"restart_limit,omitempty"`
}

// RestartConfig controls how a stopped/failed machine is treated on `start`.
type RestartConfig struct {
	Policy     string `json:"policy,omitempty" yaml:"policy,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
}

// MountConfig binds a named volume into the container filesystem.
type MountConfig struct {
	Volume string `json:"volume" yaml:"volume"`
	Path   string `json:"path" yaml:"path"`
}

// DNSConfig lets a machine opt out of internal DNS registration.
type DNSConfig struct {
	SkipRegistration bool `json:"skip_registration,omitempty" yaml:"skip_registration,omitempty"`
}

// Volume is a named, host-backed directory attachable to at most one
// machine at a time.
type Volume struct {
	ID         string
	AppName    string
	Name       string
	SizeGB     int
	MachineID  string // empty when detached
	HostPath   string
	CreatedAt  time.Time
}

// Lease is an at-most-one-per-machine mutation token.
type Lease struct {
	MachineID   string
	Nonce       string
	Owner       string
	Description string
	Version     string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Expired reports whether the lease is no longer valid as of now.
func (l Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// EventSource identifies who caused a machine event.
type EventSource string

const (
	EventSourceUser    EventSource = "user"
	EventSourceSystem  EventSource = "system"
	EventSourceRuntime EventSource = "runtime"
)

// Event is one append-only, totally-ordered-per-machine record.
type Event struct {
	ID        uint64
	MachineID string
	AppName   string
	Type      string
	Status    string
	Source    EventSource
	Message   string
	Timestamp time.Time
}
