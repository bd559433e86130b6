/*
Package reconciler continuously drives machine store-state toward agreement
with the container runtime.

It runs on a fixed 10-second interval, independently of the synchronous
lifecycle operations in pkg/machine, and applies a small set of
level-triggered rules:

  - starting + runtime running -> commit started
  - started + runtime exited (0) -> commit stopped
  - started + runtime exited (nonzero) -> commit failed
  - stopped + runtime running (stray container) -> force stop
  - destroyed + runtime container present -> force remove
  - missing container for a non-stopped machine -> commit failed

Every committed transition updates the DNS registry, appends a durable
event, and records Prometheus metrics. Most of the loop maintains no state
between cycles: all decisions are based on the current store and runtime
state, so a missed or repeated cycle converges to the same result.

The exception is health-check monitoring (health.go): a started machine's
declared checks are dialed every cycle their own interval allows, and their
consecutive-failure streaks live in the reconciler for as long as the
process runs. A streak reaching a check's restart_limit bounces the machine
in place through Stop then Start on its current generation, via a manager
attached with SetManager. Without a manager attached, checks are still
skipped entirely rather than evaluated and discarded, since there would be
nothing that could act on a failure.
*/
package reconciler
