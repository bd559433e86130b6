/*
Package runtime defines the Runtime interface pkg/machine drives every
container through, and provides two implementations: ContainerdRuntime,
backed by a real containerd daemon, and MockRuntime, an in-memory
stand-in used by every package's tests and by `minifly serve
--mock-runtime` for exercising the API without a container daemon.

# Interface

Runtime covers exactly the operations a machine's lifecycle needs:
PullImage, CreateContainer, StartContainer, PauseContainer/
UnpauseContainer, StopContainer, DeleteContainer, Status, Logs, Exec,
IsRunning, ListContainers, Close. Nothing above pkg/machine calls
containerd or the mock directly; both satisfy the same interface so
pkg/reconciler and pkg/health's ExecChecker work unmodified against
either.

# ContainerdRuntime

Talks to containerd over its Unix socket (NewContainerdRuntime(socket))
in the "minifly" namespace, so its containers never collide with ones
managed by other tooling on the same host. Containers run with host
networking: there is no CNI wired in, so a container's declared internal
port is directly reachable on 127.0.0.1, which is also what lets
pkg/reconciler's health checks and pkg/api's log streaming work without
per-container IP discovery. Logs are captured to a per-machine file via
cio.LogFile rather than discarded, so Logs can tail it after the fact;
Exec runs a one-shot command via a task exec attached to a buffer,
returning its exit code and combined output.

# MockRuntime

Keeps an in-memory map of containers with a Status transitioned
explicitly by test code (Create -> pending, Start -> running, Stop ->
exited) rather than by any real process. It exists purely for tests and
for a container-daemon-free demo mode; it never actually runs anything.

# Container identity

A container's ContainerSpec.ID is always set to the owning machine's id
(see pkg/machine/start.go), so a machine id and its container id are
interchangeable — reconciliation, log streaming and exec checks all key
off the machine id without a separate lookup table.
*/
package runtime
