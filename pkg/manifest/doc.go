/*
Package manifest adapts two production configuration documents into forms
Minifly can run locally without any of the infrastructure they assume:

  - App manifests (production `fly.toml`, accepted here as YAML — see
    DESIGN.md for why): Adapt() turns declared services, mounts and process
    groups into one types.MachineConfig per process group.
  - Replicated-SQLite configs (`litefs.yml`): AdaptLiteFSConfig() rewrites
    Consul-based leader election to a static local lease, roots paths under
    the machine's data directory, and enables FUSE debug logging.

Both adapters are pure functions of their input plus a small set of
identifiers (app name, machine id, data root): the same input always
produces the same output. Manifest fields the adapter recognizes but does
not support become warnings rather than errors; keys that match no field
of AppManifest are dropped by Load without a warning.
*/
package manifest
