package machine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/minifly/minifly/pkg/apierr"
	"github.com/minifly/minifly/pkg/litefs"
	"github.com/minifly/minifly/pkg/log"
	"github.com/minifly/minifly/pkg/runtime"
	"github.com/minifly/minifly/pkg/types"
)

// LitefsConfigKey is the machine config metadata key an app manifest's
// litefs.yml is stashed under when `apply` is given one with --litefs
// (§4.5/§4.7): its presence is how Start decides whether a
// machine "declares use of" replicated SQLite, since MachineConfig itself
// carries no first-class field for it.
const LitefsConfigKey = "litefs_config"

// hostPortsKey is where Start records the service ports (see
// servicePortsSummary) once the container is running, for presentation to
// the user (§4.6 step 7).
const hostPortsKey = "published_ports"

// Start runs a machine through starting -> started, following the
// detailed contract in §4.6: resolve env, materialize mounts, render and
// supervise a replicated-SQLite config if declared, create or reuse the
// container, commit starting, call the runtime, register DNS, and commit
// started on the first observed running status.
func (m *Manager) Start(ctx context.Context, machineID, nonce string) error {
	mach, err := m.Store.GetMachine(machineID)
	if err != nil {
		return err
	}
	switch mach.State {
	case types.MachineStateCreated, types.MachineStateStopped, types.MachineStateFailed:
	default:
		return apierr.Conflictf("machine %q cannot be started from state %q", machineID, mach.State)
	}
	if err := m.requireLease(mach, nonce); err != nil {
		return err
	}

	env, err := m.resolveEnv(mach)
	if err != nil {
		return apierr.Internalf(err, "failed to resolve environment for machine %q", machineID)
	}

	mounts, err := m.materializeMounts(mach)
	if err != nil {
		return apierr.Internalf(err, "failed to materialize mounts for machine %q", machineID)
	}

	var sup *litefs.Supervisor
	if raw, ok := mach.Config.Metadata[LitefsConfigKey]; ok {
		sup, err = m.startLiteFS(ctx, mach, raw)
		if err != nil {
			log.Logger.Warn().Err(err).Str("machine_id", machineID).Msg("replicated-sqlite supervisor failed to start, continuing without it")
		}
	}

	containerID, err := m.reuseOrCreateContainer(ctx, mach, env, mounts)
	if err != nil {
		if sup != nil {
			sup.Stop()
		}
		return apierr.Internalf(err, "failed to create container for machine %q", machineID)
	}
	mach.ContainerID = containerID

	if err := m.commitState(mach, types.MachineStateStarting, types.EventSourceUser, "starting"); err != nil {
		return err
	}

	if err := m.Runtime.StartContainer(ctx, containerID); err != nil {
		if sup != nil {
			sup.Stop()
		}
		_ = m.commitState(mach, types.MachineStateFailed, types.EventSourceSystem, fmt.Sprintf("runtime start failed: %v", err))
		return apierr.Internalf(err, "runtime failed to start machine %q", machineID)
	}

	if sup != nil {
		m.trackSupervisor(mach.ID, sup)
	}

	if m.Registry != nil && !mach.Config.DNS.SkipRegistration {
		m.Registry.Register(mach.AppName, mach.ID)
	}

	return m.awaitRunning(ctx, mach)
}

// awaitRunning polls the runtime for a bounded period and commits started
// on the first observed running status, recording host ports observed at
// that point. A caller that gives up waiting still leaves the machine in
// starting for the periodic reconciler to pick up later.
func (m *Manager) awaitRunning(ctx context.Context, mach *types.Machine) error {
	deadline := time.Now().Add(30 * time.Second)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		status, err := m.Runtime.Status(ctx, mach.ContainerID)
		if err == nil && status == runtime.StatusRunning {
			if mach.Metadata == nil {
				mach.Metadata = map[string]string{}
			}
			mach.Metadata[hostPortsKey] = servicePortsSummary(mach.Config.Services)
			return m.commitState(mach, types.MachineStateStarted, types.EventSourceRuntime, "runtime reports running")
		}
		if time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// servicePortsSummary records the internal ports a machine's config
// declares as its observed published ports. Containers run with host
// networking (no CNI is wired for the embedded runtime), so a container's
// internal port is also its host-reachable port; this is the pragmatic
// stand-in for the containerd inspect-based port capture a networked
// runtime would use.
func servicePortsSummary(services []types.ServiceConfig) string {
	summary := ""
	for i, svc := range services {
		if i > 0 {
			summary += ","
		}
		summary += fmt.Sprintf("%d/%s", svc.InternalPort, svc.Protocol)
	}
	return summary
}

// materializeMounts creates the host directory for every volume mount
// declared on mach's config and attaches each volume to mach. It creates no
// files inside those directories, including for mounts that back
// replicated SQLite.
func (m *Manager) materializeMounts(mach *types.Machine) ([]runtime.Mount, error) {
	var mounts []runtime.Mount
	for _, mc := range mach.Config.Mounts {
		vol, err := m.Store.GetVolumeByName(mach.AppName, mc.Volume)
		if err != nil {
			return nil, fmt.Errorf("mount references unknown volume %q: %w", mc.Volume, err)
		}
		vol.MachineID = mach.ID
		if err := m.Volumes.Create(vol); err != nil {
			return nil, err
		}
		if err := m.Store.UpdateVolume(vol); err != nil {
			return nil, err
		}
		mounts = append(mounts, runtime.Mount{Source: vol.HostPath, Destination: mc.Path})
	}
	return mounts, nil
}

// startLiteFS renders the adapted replicated-SQLite config for mach and
// launches its supervisor. rawConfig is the production litefs.yml content
// stashed on the machine's config metadata by `apply`, or empty to use a
// from-scratch default.
func (m *Manager) startLiteFS(ctx context.Context, mach *types.Machine, rawConfig string) (*litefs.Supervisor, error) {
	_, configPath, err := litefs.RenderConfig([]byte(rawConfig), mach.AppName, mach.ID, m.DataDir, true)
	if err != nil {
		return nil, err
	}

	sup := litefs.New(m.Store, m.Broker, m, mach.AppName, mach.ID, m.LiteFSBinary, configPath, m.DataDir)
	if err := sup.Start(ctx); err != nil {
		return nil, err
	}
	return sup, nil
}

// reuseOrCreateContainer looks for an existing container labeled for this
// machine (by using the machine id as the container id directly, since
// runtime.ContainerSpec.ID is always the machine id) before creating a new
// one, per §4.6 step 4.
func (m *Manager) reuseOrCreateContainer(ctx context.Context, mach *types.Machine, env map[string]string, mounts []runtime.Mount) (string, error) {
	if mach.ContainerID != "" {
		if _, err := m.Runtime.Status(ctx, mach.ContainerID); err == nil {
			return mach.ContainerID, nil
		}
	}

	if err := m.Runtime.PullImage(ctx, mach.Config.Image); err != nil {
		return "", err
	}

	logDir := filepath.Join(m.DataDir, mach.AppName, mach.ID)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return "", fmt.Errorf("create log directory: %w", err)
	}

	return m.Runtime.CreateContainer(ctx, runtime.ContainerSpec{
		ID:         mach.ID,
		Image:      mach.Config.Image,
		Entrypoint: mach.Config.Entrypoint,
		Cmd:        mach.Config.Cmd,
		Env:        env,
		Mounts:     mounts,
		LogPath:    filepath.Join(logDir, "container.log"),
	})
}
