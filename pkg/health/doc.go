/*
Package health implements the three check types a machine config can
declare: tcp, http and exec. Each is a Checker producing a Result, and a
Status accumulates consecutive results into a hysteresis-smoothed healthy/
unhealthy verdict so a single flaky check doesn't flap a machine.

	checker := health.NewHTTPChecker("http://127.0.0.1:8080/health")
	result := checker.Check(ctx)
	status.Update(result, health.DefaultConfig())
	if !status.Healthy {
		// consecutive failures reached config.Retries
	}

This package only runs a single check and tracks its streak; it has no
opinion on scheduling or on what to do once a machine is unhealthy. The
caller is pkg/reconciler's periodic loop, which owns one Status per
(machine, check) pair for as long as the process runs, and restarts a
machine in place once a check's streak reaches its declared restart_limit.
*/
package health
