// Package machine implements the machine lifecycle manager: the single
// component allowed to mutate a machine's state outside of the periodic
// reconciler in pkg/reconciler.
//
// Stop commits stopping before it stops the replicated-SQLite supervisor
// and the runtime container, and Start commits starting before the runtime
// start call and the DNS registration, so a crash between that commit and
// its side effect leaves the reconciler enough information to converge the
// runtime state back to what was committed. The other steps run before
// their commit: Start pulls the image, creates the container and launches
// any replicated-SQLite supervisor before committing starting; Pause and
// Unpause call the runtime first and commit only once it succeeds; and
// DestroyMachine removes the container, detaches volumes and deregisters
// DNS before committing destroyed. Restart and UpdateMachine are built on
// Stop and Start. Every mutating call except CreateMachine
// and a forced DestroyMachine requires the caller to present the current
// lease nonce (see lease.go); Acquire and Release manage that lease.
package machine
