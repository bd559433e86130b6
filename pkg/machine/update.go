package machine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/minifly/minifly/pkg/apierr"
	"github.com/minifly/minifly/pkg/health"
	"github.com/minifly/minifly/pkg/log"
	"github.com/minifly/minifly/pkg/types"
)

// canaryDeadline bounds how long canaryUpdate waits, combined, for the
// canary machine to reach started and then pass its declared health
// checks before it gives up and aborts the rollout untouched.
const canaryDeadline = 60 * time.Second

// canaryCheckTimeout bounds a single canary health check attempt.
const canaryCheckTimeout = 5 * time.Second

// updateLeaseOwner identifies leases the rollout orchestrator takes out on
// machines it did not receive a caller-supplied nonce for.
const updateLeaseOwner = "system:rollout"

// UpdateMachine replaces machineID's configuration, bumping its generation.
// A machine that was running is stopped and restarted on the new
// generation; a failed restart rolls the generation back and restarts on
// the previous config, matching the "immediate" per-machine semantics
// backing the single-machine Machines-API update route.
func (m *Manager) UpdateMachine(ctx context.Context, machineID, nonce string, cfg types.MachineConfig) (*types.Machine, error) {
	mach, err := m.Store.GetMachine(machineID)
	if err != nil {
		return nil, err
	}
	if mach.State == types.MachineStateDestroyed {
		return nil, apierr.Conflictf("machine %q is destroyed", machineID)
	}
	if err := m.requireLease(mach, nonce); err != nil {
		return nil, err
	}

	wasRunning := mach.State == types.MachineStateStarted || mach.State == types.MachineStateStarting || mach.State == types.MachineStatePaused
	if wasRunning {
		if err := m.Stop(ctx, machineID, nonce, DefaultStopTimeout); err != nil {
			return nil, apierr.Internalf(err, "failed to stop machine %q before update", machineID)
		}
		if mach, err = m.Store.GetMachine(machineID); err != nil {
			return nil, err
		}
		if mach.ContainerID != "" {
			if err := m.Runtime.DeleteContainer(ctx, mach.ContainerID); err != nil {
				return nil, apierr.Internalf(err, "failed to remove container of machine %q before update", machineID)
			}
			mach.ContainerID = ""
		}
	}

	prevGeneration, prevConfig := mach.Generation, mach.Config
	if err := m.applyGeneration(mach, cfg); err != nil {
		return nil, err
	}
	if err := m.appendEvent(mach, "updated", "config_updated", types.EventSourceUser, fmt.Sprintf("generation %d", mach.Generation)); err != nil {
		log.Logger.Error().Err(err).Str("machine_id", machineID).Msg("failed to append update event")
	}

	if !wasRunning {
		return mach, nil
	}

	if err := m.Start(ctx, machineID, nonce); err != nil {
		log.Logger.Warn().Err(err).Str("machine_id", machineID).Msg("update failed to start on new generation, rolling back")
		if rollbackErr := m.applyGeneration(mach, prevConfig); rollbackErr != nil {
			return nil, apierr.Internalf(rollbackErr, "failed to roll back machine %q after failed update", machineID)
		}
		mach.Generation = prevGeneration
		if rollbackErr := m.Store.UpdateMachine(mach); rollbackErr != nil {
			return nil, apierr.Internalf(rollbackErr, "failed to persist rollback for machine %q", machineID)
		}
		_ = m.appendEvent(mach, "updated", "rolled_back", types.EventSourceSystem, fmt.Sprintf("reverted to generation %d: %v", prevGeneration, err))
		if startErr := m.Start(ctx, machineID, nonce); startErr != nil {
			return nil, apierr.Internalf(startErr, "failed to restart machine %q on rolled-back generation", machineID)
		}
		return nil, apierr.Internalf(err, "update failed for machine %q, rolled back to generation %d", machineID, prevGeneration)
	}

	return mach, nil
}

// applyGeneration bumps mach's generation, stores the new config as its
// current snapshot and appends it to the per-generation history.
func (m *Manager) applyGeneration(mach *types.Machine, cfg types.MachineConfig) error {
	mach.Generation++
	mach.Config = cfg
	mach.ImageRef = cfg.Image
	mach.UpdatedAt = time.Now()
	if err := m.Store.PutMachineConfig(mach.ID, mach.Generation, &cfg); err != nil {
		return err
	}
	return m.Store.UpdateMachine(mach)
}

// UpdateApp rolls cfg out to every machine in appName per strategy
// ("immediate", "rolling", or "canary" — anything else falls back to
// immediate), acquiring and releasing its own leases along the way
// (§4.6's Update strategies).
func (m *Manager) UpdateApp(ctx context.Context, appName string, cfg types.MachineConfig, strategy string, maxUnavailable float64) error {
	machines, err := m.Store.ListMachinesByApp(appName)
	if err != nil {
		return err
	}
	var affected []*types.Machine
	for _, mach := range machines {
		if mach.State.NonTerminal() {
			affected = append(affected, mach)
		}
	}
	if len(affected) == 0 {
		return nil
	}

	switch strategy {
	case "rolling":
		return m.rollingUpdate(ctx, affected, cfg, maxUnavailable)
	case "canary":
		return m.canaryUpdate(ctx, affected, cfg)
	default:
		return m.immediateUpdate(ctx, affected, cfg)
	}
}

// immediateUpdate updates every affected machine in parallel: each one is
// stopped and restarted on the new generation by its own UpdateMachine call.
func (m *Manager) immediateUpdate(ctx context.Context, machines []*types.Machine, cfg types.MachineConfig) error {
	var wg sync.WaitGroup
	errs := make([]error, len(machines))
	for i, mach := range machines {
		wg.Add(1)
		go func(i int, mach *types.Machine) {
			defer wg.Done()
			errs[i] = m.updateOne(ctx, mach.ID, cfg)
		}(i, mach)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// rollingUpdate iterates machines in batches sized so at most
// maxUnavailable (a fraction of the total, minimum 1) are down at once.
func (m *Manager) rollingUpdate(ctx context.Context, machines []*types.Machine, cfg types.MachineConfig, maxUnavailable float64) error {
	batchSize := int(maxUnavailable * float64(len(machines)))
	if batchSize < 1 {
		batchSize = 1
	}

	for start := 0; start < len(machines); start += batchSize {
		end := start + batchSize
		if end > len(machines) {
			end = len(machines)
		}
		batch := machines[start:end]

		var wg sync.WaitGroup
		errs := make([]error, len(batch))
		for i, mach := range batch {
			wg.Add(1)
			go func(i int, mach *types.Machine) {
				defer wg.Done()
				errs[i] = m.updateOne(ctx, mach.ID, cfg)
			}(i, mach)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return fmt.Errorf("rolling update batch [%d:%d] failed: %w", start, end, err)
			}
		}
	}
	return nil
}

// canaryUpdate updates a single machine first and waits for it to reach
// started and pass every check its config declares before rolling the
// rest out immediately; a canary that never comes up healthy aborts the
// whole rollout without touching the remaining machines.
func (m *Manager) canaryUpdate(ctx context.Context, machines []*types.Machine, cfg types.MachineConfig) error {
	canary := machines[0]
	if err := m.updateOne(ctx, canary.ID, cfg); err != nil {
		return fmt.Errorf("canary machine %q failed: %w", canary.ID, err)
	}

	deadline := time.Now().Add(canaryDeadline)
	var fresh *types.Machine
	for {
		var err error
		fresh, err = m.Store.GetMachine(canary.ID)
		if err != nil {
			return err
		}
		if fresh.State == types.MachineStateStarted {
			break
		}
		if fresh.State == types.MachineStateFailed || time.Now().After(deadline) {
			return apierr.Internalf(nil, "canary machine %q did not reach started before rolling out the remainder", canary.ID)
		}
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for !m.canaryHealthy(ctx, fresh) {
		if time.Now().After(deadline) {
			return apierr.Internalf(nil, "canary machine %q did not pass its health checks before rolling out the remainder", canary.ID)
		}
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
		var err error
		fresh, err = m.Store.GetMachine(canary.ID)
		if err != nil {
			return err
		}
		if fresh.State == types.MachineStateFailed {
			return apierr.Internalf(nil, "canary machine %q failed while awaiting its health checks", canary.ID)
		}
	}

	if len(machines) == 1 {
		return nil
	}
	return m.immediateUpdate(ctx, machines[1:], cfg)
}

// canaryHealthy runs every check mach's config declares once and reports
// whether all of them passed. A machine with no declared checks counts as
// healthy the moment it starts, matching the "started" bar the reconciler
// itself applies when a machine has nothing else to wait on.
func (m *Manager) canaryHealthy(ctx context.Context, mach *types.Machine) bool {
	for name, check := range mach.Config.Checks {
		checker, err := health.FromCheck(check, mach.ContainerID, m.Runtime)
		if err != nil {
			log.Logger.Warn().Err(err).Str("machine_id", mach.ID).Str("check", name).Msg("skipping unrecognized canary health check")
			continue
		}
		checkCtx, cancel := context.WithTimeout(ctx, canaryCheckTimeout)
		result := checker.Check(checkCtx)
		cancel()
		if !result.Healthy {
			return false
		}
	}
	return true
}

// updateOne acquires a rollout-owned lease on machineID, applies cfg
// through UpdateMachine, and releases the lease before returning.
func (m *Manager) updateOne(ctx context.Context, machineID string, cfg types.MachineConfig) error {
	lease, err := m.Acquire(machineID, updateLeaseOwner, "rollout", DefaultLeaseTTL, "")
	if err != nil {
		return err
	}
	defer func() { _ = m.Release(machineID, lease.Nonce) }()

	_, err = m.UpdateMachine(ctx, machineID, lease.Nonce, cfg)
	return err
}
