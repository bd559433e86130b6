/*
Package litefs supervises the replicated-SQLite child process bound to a
single machine's lifetime.

RenderConfig adapts a production litefs.yml (or synthesizes a default one)
and writes it under the machine's data directory. Supervisor then launches
the litefs binary it was constructed with against that config, forwards its stdout/stderr into the
machine's log stream tagged source=litefs, and restarts it up to five times
within a rolling sixty-second window before giving up and recording the
machine as failed. Stop sends SIGTERM and escalates to SIGKILL if the
process hasn't exited within its grace period.

A missing or non-executable binary is never fatal: the supervisor logs a
warning event and lets the machine's container start anyway, so apps that
don't need replicated storage are unaffected.
*/
package litefs
