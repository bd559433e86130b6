/*
Package storage provides BoltDB-backed persistence for Minifly's local
state: apps, machines and their per-generation config, volumes, leases, the
per-machine event log, and the outbox used to drive post-commit side
effects.

Every entity type gets its own bucket, keyed by id and JSON-marshaled.
Reads use db.View, writes use db.Update; BoltStore relies entirely on
BoltDB's own transaction isolation rather than an additional lock.

Bucket layout:

	apps             app name -> App
	machines         machine id -> Machine
	machine_configs  "<machineID>:<generation>" -> MachineConfig
	volumes          volume id -> Volume
	leases           machine id -> Lease (absent means unleased)
	machine_events   "<machineID>:<zero-padded id>" -> Event
	outbox           big-endian uint64 seq -> OutboxEntry
*/
package storage
