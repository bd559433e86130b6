package machine

import (
	"context"
	"fmt"
	"time"

	"github.com/minifly/minifly/pkg/apierr"
	"github.com/minifly/minifly/pkg/types"
)

// DefaultStopTimeout is used when a caller does not specify a grace period.
const DefaultStopTimeout = 30 * time.Second

// Stop runs a machine through stopping -> stopped: it commits stopping,
// asks the runtime to stop the container within grace, then commits
// stopped and deregisters DNS regardless of whether the runtime exited
// cleanly or had to be killed (§4.6's Stop sequence).
func (m *Manager) Stop(ctx context.Context, machineID, nonce string, grace time.Duration) error {
	mach, err := m.Store.GetMachine(machineID)
	if err != nil {
		return err
	}
	switch mach.State {
	case types.MachineStateStarted, types.MachineStateStarting, types.MachineStatePaused:
	default:
		return apierr.Conflictf("machine %q cannot be stopped from state %q", machineID, mach.State)
	}
	if err := m.requireLease(mach, nonce); err != nil {
		return err
	}
	if grace <= 0 {
		grace = DefaultStopTimeout
	}

	if err := m.commitState(mach, types.MachineStateStopping, types.EventSourceUser, "stopping"); err != nil {
		return err
	}

	m.stopSupervisor(mach.ID)

	forced := false
	if mach.ContainerID != "" {
		if err := m.Runtime.StopContainer(ctx, mach.ContainerID, grace); err != nil {
			forced = true
		}
	}

	if m.Registry != nil {
		m.Registry.Deregister(mach.AppName, mach.ID)
	}

	message := "stopped"
	if forced {
		message = fmt.Sprintf("did not exit within %s, forced termination", grace)
	}
	return m.commitState(mach, types.MachineStateStopped, types.EventSourceRuntime, message)
}

// Pause suspends a running machine's container in place without tearing it
// down, so Unpause can resume it with its filesystem and memory intact.
func (m *Manager) Pause(ctx context.Context, machineID, nonce string) error {
	mach, err := m.Store.GetMachine(machineID)
	if err != nil {
		return err
	}
	if mach.State != types.MachineStateStarted {
		return apierr.Conflictf("machine %q cannot be paused from state %q", machineID, mach.State)
	}
	if err := m.requireLease(mach, nonce); err != nil {
		return err
	}
	if mach.ContainerID == "" {
		return apierr.Internalf(nil, "machine %q has no container to pause", machineID)
	}
	if err := m.Runtime.PauseContainer(ctx, mach.ContainerID); err != nil {
		return apierr.Internalf(err, "failed to pause machine %q", machineID)
	}
	return m.commitState(mach, types.MachineStatePaused, types.EventSourceUser, "paused")
}

// Unpause resumes a paused machine's container.
func (m *Manager) Unpause(ctx context.Context, machineID, nonce string) error {
	mach, err := m.Store.GetMachine(machineID)
	if err != nil {
		return err
	}
	if mach.State != types.MachineStatePaused {
		return apierr.Conflictf("machine %q cannot be unpaused from state %q", machineID, mach.State)
	}
	if err := m.requireLease(mach, nonce); err != nil {
		return err
	}
	if err := m.Runtime.UnpauseContainer(ctx, mach.ContainerID); err != nil {
		return apierr.Internalf(err, "failed to unpause machine %q", machineID)
	}
	return m.commitState(mach, types.MachineStateStarted, types.EventSourceUser, "unpaused")
}

// Restart drives a machine through stop then start again, tolerating a
// paused or failed starting point in addition to started (§4.6's
// transitions table lists all three as valid restart origins).
func (m *Manager) Restart(ctx context.Context, machineID, nonce string, grace time.Duration) error {
	mach, err := m.Store.GetMachine(machineID)
	if err != nil {
		return err
	}

	switch mach.State {
	case types.MachineStateStarted, types.MachineStatePaused:
		if err := m.Stop(ctx, machineID, nonce, grace); err != nil {
			return err
		}
	case types.MachineStateFailed, types.MachineStateStopped:
		// already stopped; nothing to wind down first.
	default:
		return apierr.Conflictf("machine %q cannot be restarted from state %q", machineID, mach.State)
	}

	return m.Start(ctx, machineID, nonce)
}
