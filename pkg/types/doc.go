/*
Package types defines the core data structures shared across every other
package: apps, machines, their configuration, volumes, leases and the
durable event log. Nothing in this package talks to storage or the
container runtime directly; it exists so pkg/storage, pkg/machine,
pkg/api and pkg/reconciler all agree on the same shapes.

# Core Types

App topology:
  - App: a named tenant boundary (organization, status, timestamps)
  - AppStatus: created, deployed, suspended

Machine lifecycle:
  - Machine: one instance of a workload — id, app, state, region, the
    container backing it, its current config generation
  - MachineState: created, starting, started, stopping, stopped,
    paused, failed, destroyed, with NonTerminal()/Alive() helpers used
    throughout pkg/reconciler and pkg/machine to branch on liveness
  - MachineConfig: the immutable snapshot bound to a generation — image,
    entrypoint/cmd, env, guest resources, services, checks, restart
    policy, mounts, DNS options; updating it produces a new generation

Health checks:
  - Check: a tcp/http/exec probe declaration bound to a machine config,
    consumed by pkg/health's checkers and pkg/reconciler's monitoring
    loop, not executed by this package itself

Storage:
  - Volume: a named, app-scoped persistent volume with its host path

Concurrency control:
  - Lease: an exclusive, expiring mutation grant on one machine id,
    used by every state-mutating pkg/machine operation

Events:
  - Event: one entry in a machine's durable, monotonically ordered
    event log (state changes, runtime-observed transitions, user
    actions), the source of truth backing the streaming events API
  - EventSource: user, system, or runtime, distinguishing who caused it

# Design Patterns

Enums are typed string constants:

	type MachineState string
	const (
		MachineStateCreated MachineState = "created"
		MachineStateStarted MachineState = "started"
	)

All types are plain structs. MachineConfig and the types nested in it
carry JSON and YAML tags, since a MachineConfig may arrive either off the
wire (API) or off disk (an app manifest via pkg/manifest); App, Machine,
Volume, Lease and Event carry no tags and marshal under their Go field
names. None of them carry behavior beyond small
predicates like Lease.Expired and MachineState.Alive: everything else
lives in the packages that act on them.

# Thread Safety

Types in this package carry no synchronization of their own; pkg/storage
serializes access to persisted state; a *Machine or *App handed out by a
Store call should be treated as owned by its caller until written back.
*/
package types
