/*
Package dns implements the embedded resolver behind the internal DNS
contract every machine starts with: `<app>.internal` resolves to every
live machine in that app, and `<machine-id>.vm.<app>.internal` resolves
to one specific machine, mirroring the resolution names production
tooling and app code expect to already work inside a machine's network
namespace.

# Registry

Registry is the in-memory source of truth: Register(appName, machineID)
derives and stores a deterministic IPv6 address from DeriveVIP(prefix,
id) — the first 12 bytes of a SHA-256 of the id written as six hextets
after the configured two-hextet network prefix, so the same machine id always maps to the same
address across restarts of the same data directory. Deregister removes
it. ResolveApp returns every currently-registered address for an app;
ResolveMachine looks up exactly one. pkg/machine calls Register on
Start and Deregister on Stop/Destroy; pkg/reconciler keeps the registry
in sync with runtime-observed liveness independently of those calls.

# Resolver and Server

Resolver wraps a Registry and answers github.com/miekg/dns queries:
InternalDomain queries are split into the machine-vs-app forms and
served as AAAA records (resolveMachine/resolveApp); anything else is
forwarded upstream. Server owns the actual UDP listener (NewServer,
Start, Stop, IsRunning) and delegates every query it receives to a
Resolver, falling back to Config.Upstream (default 8.8.8.8:53) for
non-internal names so a machine's container can resolve both internal
peers and the public internet through the same resolver.

# Why not a full split-horizon proxy

A production DNS layer forwards to whatever the platform's actual
upstream is and applies network-level access controls per app; this
package's Server does a plain forward-and-relay of the upstream
response, which is enough to make an emulated machine's network
namespace behave like the one it's modeling without standing up a real
proxy chain.
*/
package dns
