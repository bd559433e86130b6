package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/minifly/minifly/pkg/config"
	"github.com/minifly/minifly/pkg/dns"
	"github.com/minifly/minifly/pkg/events"
	"github.com/minifly/minifly/pkg/machine"
	"github.com/minifly/minifly/pkg/manifest"
	"github.com/minifly/minifly/pkg/runtime"
	"github.com/minifly/minifly/pkg/secrets"
	"github.com/minifly/minifly/pkg/storage"
	"github.com/minifly/minifly/pkg/types"
	"github.com/minifly/minifly/pkg/volume"
	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply an app manifest",
	Long: `Reads a Minifly app manifest (YAML) and reconciles it against the
local data directory in-process: ensure the app exists, adapt the
manifest into one machine config per process group, and create or update
each process group's machine, starting it if it isn't already running.

Does not require "minifly serve" to be running: it operates directly on
the same on-disk store a running server would use, so it must not be run
concurrently with one against the same data directory.`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "app manifest file to apply (required)")
	applyCmd.Flags().String("litefs", "", "path to a litefs.yml to attach to every process group")
	_ = applyCmd.MarkFlagRequired("file")
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	litefsPath, _ := cmd.Flags().GetString("litefs")

	m, err := manifest.Load(filename)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	result, err := manifest.Adapt(m)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	var litefsConfig string
	if litefsPath != "" {
		content, err := os.ReadFile(litefsPath)
		if err != nil {
			return &exitError{code: 2, err: fmt.Errorf("read litefs config: %w", err)}
		}
		litefsConfig = string(content)
	}

	cfg := config.FromEnv()
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return &exitError{code: 4, err: fmt.Errorf("open store: %w", err)}
	}
	defer store.Close()

	rt, err := runtime.NewContainerdRuntime(cfg.DockerHost)
	if err != nil {
		return &exitError{code: 4, err: fmt.Errorf("connect to containerd: %w", err)}
	}
	defer rt.Close()

	registry := dns.NewRegistry(cfg.NetworkPrefix)
	broker := events.NewBroker()
	secretsStore := secrets.NewStore(".")
	volumes, err := volume.NewManager(cfg.DataDir)
	if err != nil {
		return &exitError{code: 4, err: err}
	}

	mgr := machine.New(store, rt, registry, broker, secretsStore, volumes, cfg.DataDir, cfg.LiteFSBinary, cfg.NetworkPrefix)

	if err := ensureApp(store, result.AppName); err != nil {
		return &exitError{code: 3, err: err}
	}

	ctx := context.Background()
	for _, pg := range result.Configs {
		if litefsConfig != "" {
			if pg.Config.Metadata == nil {
				pg.Config.Metadata = map[string]string{}
			}
			pg.Config.Metadata[machine.LitefsConfigKey] = litefsConfig
		}
		if err := applyProcessGroup(ctx, mgr, result.AppName, pg); err != nil {
			return &exitError{code: 3, err: err}
		}
	}

	fmt.Printf("applied %d process group(s) for app %q\n", len(result.Configs), result.AppName)
	return nil
}

func ensureApp(store storage.Store, name string) error {
	if _, err := store.GetApp(name); err == nil {
		return nil
	}
	now := time.Now()
	return store.CreateApp(&types.App{Name: name, Status: types.AppStatusCreated, CreatedAt: now, UpdatedAt: now})
}

// applyProcessGroup creates a fresh machine for pg's process group, or
// updates and (re)starts the existing one, mirroring the production
// deploy sequence: ensure app, resolve config, create or update machine,
// start it.
func applyProcessGroup(ctx context.Context, mgr *machine.Manager, appName string, pg manifest.ProcessGroupConfig) error {
	name := pg.ProcessGroup
	if name == "" {
		name = appName
	}

	existing, err := findMachineByName(mgr, appName, name)
	if err != nil {
		return err
	}

	if existing == nil {
		fmt.Printf("creating machine %q (process group %q)\n", name, pg.ProcessGroup)
		mach, err := mgr.CreateMachine(appName, name, pg.Config)
		if err != nil {
			return err
		}
		lease, err := mgr.Acquire(mach.ID, "apply", "initial start", machine.DefaultLeaseTTL, "")
		if err != nil {
			return err
		}
		defer mgr.Release(mach.ID, lease.Nonce)
		return mgr.Start(ctx, mach.ID, lease.Nonce)
	}

	fmt.Printf("updating machine %q (process group %q)\n", name, pg.ProcessGroup)
	lease, err := mgr.Acquire(existing.ID, "apply", "update", machine.DefaultLeaseTTL, "")
	if err != nil {
		return err
	}
	defer mgr.Release(existing.ID, lease.Nonce)

	if _, err := mgr.UpdateMachine(ctx, existing.ID, lease.Nonce, pg.Config); err != nil {
		return err
	}
	// UpdateMachine already restarts a machine that was starting, started
	// or paused; only one that was not running is started here.
	switch existing.State {
	case types.MachineStateCreated, types.MachineStateStopped, types.MachineStateFailed:
		return mgr.Start(ctx, existing.ID, lease.Nonce)
	}
	return nil
}

func findMachineByName(mgr *machine.Manager, appName, name string) (*types.Machine, error) {
	machines, err := mgr.ListMachinesByApp(appName)
	if err != nil {
		return nil, err
	}
	for _, m := range machines {
		if m.Name == name && m.State != types.MachineStateDestroyed {
			return m, nil
		}
	}
	return nil, nil
}
