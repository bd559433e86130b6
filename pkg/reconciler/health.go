package reconciler

import (
	"context"
	"time"

	"github.com/minifly/minifly/pkg/health"
	"github.com/minifly/minifly/pkg/log"
	"github.com/minifly/minifly/pkg/metrics"
	"github.com/minifly/minifly/pkg/types"
)

const healthCheckOwner = "reconciler-health"

// runHealthChecks evaluates every check declared on a started machine's
// config, dispatching each through health.FromCheck. Once a check's
// failure streak reaches its restart_limit, m is bounced in place on its
// current generation (§4.6). It is a no-op until a manager has been
// attached via SetManager, since a health-triggered restart needs
// Start/Stop, not just the bare runtime.
func (r *Reconciler) runHealthChecks(ctx context.Context, m *types.Machine) {
	if r.manager == nil || len(m.Config.Checks) == 0 {
		return
	}

	for name, check := range m.Config.Checks {
		key := m.ID + "/" + name
		cfg := health.ConfigFromCheck(check)

		if cfg.StartPeriod > 0 && time.Since(m.UpdatedAt) < cfg.StartPeriod {
			continue
		}
		status := r.healthStatusFor(key)
		if !status.LastCheck.IsZero() && cfg.Interval > 0 && time.Since(status.LastCheck) < cfg.Interval {
			continue
		}

		checker, err := health.FromCheck(check, m.ContainerID, r.runtime)
		if err != nil {
			log.Logger.Warn().Err(err).Str("machine_id", m.ID).Str("check", name).Msg("skipping unrecognized health check")
			continue
		}

		checkCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		result := checker.Check(checkCtx)
		cancel()

		status.Update(result, cfg)
		metrics.ReconciliationActionsTotal.WithLabelValues("health_check_" + string(checker.Type())).Inc()

		if !status.Healthy {
			log.Logger.Warn().Str("machine_id", m.ID).Str("check", name).
				Int("consecutive_failures", status.ConsecutiveFailures).
				Str("message", result.Message).Msg("health check failed past restart_limit, restarting machine")
			r.restartUnhealthy(ctx, m, name)
			r.healthMu.Lock()
			delete(r.healthStatus, key)
			r.healthMu.Unlock()
			return
		}
	}
}

func (r *Reconciler) healthStatusFor(key string) *health.Status {
	r.healthMu.Lock()
	defer r.healthMu.Unlock()
	status, ok := r.healthStatus[key]
	if !ok {
		status = health.NewStatus()
		r.healthStatus[key] = status
	}
	return status
}

// restartUnhealthy bounces m in place: acquire a system lease, restart on
// the same generation, release. Reconciliation resumes normal monitoring
// next cycle regardless of the outcome, so an error here is logged and
// swallowed rather than retried immediately.
func (r *Reconciler) restartUnhealthy(ctx context.Context, m *types.Machine, checkName string) {
	lease, err := r.manager.Acquire(m.ID, healthCheckOwner, "health check restart: "+checkName, 30*time.Second, "")
	if err != nil {
		log.Logger.Error().Err(err).Str("machine_id", m.ID).Msg("failed to acquire lease for health-triggered restart")
		return
	}
	defer r.manager.Release(m.ID, lease.Nonce)

	if err := r.manager.Restart(ctx, m.ID, lease.Nonce, 0); err != nil {
		log.Logger.Error().Err(err).Str("machine_id", m.ID).Msg("health-triggered restart failed")
	}
}
