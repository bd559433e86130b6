// Package api serves the HTTP surface that mirrors the production
// Machines API: apps, machines and their lifecycle, volumes, log and
// event streaming, plus /health and /metrics.
//
// Every handler is a thin adapter over pkg/machine.Manager and
// pkg/storage.Store; the package owns request parsing, auth, correlation
// ids, structured request logging and response encoding, nothing more.
// Errors returned by the lower layers are always an *apierr.Error and get
// mapped to a status code and a {"error": "...", "status": <code>} body
// by writeError.
package api
