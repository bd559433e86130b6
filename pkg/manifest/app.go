// Package manifest adapts production Fly-style app manifests and LiteFS
// configs into the local Minifly domain model, documenting every field it
// drops or reinterprets as a warning rather than a hard error.
package manifest

import (
	"fmt"
	"os"
	"sort"

	"github.com/minifly/minifly/pkg/types"
	"gopkg.in/yaml.v3"
)

// AppManifest is the recognized subset of a production app manifest
// (originally TOML as `fly.toml`; accepted here as YAML, see DESIGN.md).
type AppManifest struct {
	App           string            `yaml:"app"`
	PrimaryRegion string            `yaml:"primary_region"`
	Image         string            `yaml:"image"`
	Entrypoint    []string          `yaml:"entrypoint"`
	Cmd           []string          `yaml:"cmd"`
	Build         *BuildManifest    `yaml:"build"`
	Env           map[string]string `yaml:"env"`
	Services      []ServiceManifest `yaml:"services"`
	Mounts        []MountManifest   `yaml:"mounts"`
	Processes     map[string]string `yaml:"processes"`
	Deploy        *DeployManifest   `yaml:"deploy"`
	Metrics       map[string]any    `yaml:"metrics"`
	Statics       []any             `yaml:"statics"`
	Experimental  map[string]any    `yaml:"experimental"`
}

// BuildManifest describes how the app's image was produced upstream.
// Minifly does not build images; it only threads build args into the
// running machine's environment.
type BuildManifest struct {
	Dockerfile string            `yaml:"dockerfile"`
	Args       map[string]string `yaml:"args"`
}

// ServiceManifest is one public service declaration.
type ServiceManifest struct {
	InternalPort       int                 `yaml:"internal_port"`
	Protocol           string              `yaml:"protocol"`
	Ports              []PortManifest      `yaml:"ports"`
	Concurrency        map[string]any      `yaml:"concurrency"`
	AutoStopMachines   bool                `yaml:"auto_stop_machines"`
	AutoStartMachines  bool                `yaml:"auto_start_machines"`
	MinMachinesRunning int                 `yaml:"min_machines_running"`
	TCPChecks          []TCPCheckManifest  `yaml:"tcp_checks"`
	HTTPChecks         []HTTPCheckManifest `yaml:"http_checks"`
}

// PortManifest is one published port and its handler chain.
type PortManifest struct {
	Port     int      `yaml:"port"`
	Handlers []string `yaml:"handlers"`
}

// TCPCheckManifest is a manifest-level TCP health check.
type TCPCheckManifest struct {
	Interval    string `yaml:"interval"`
	Timeout     string `yaml:"timeout"`
	GracePeriod string `yaml:"grace_period"`
}

// HTTPCheckManifest is a manifest-level HTTP health check.
type HTTPCheckManifest struct {
	Interval    string `yaml:"interval"`
	Timeout     string `yaml:"timeout"`
	GracePeriod string `yaml:"grace_period"`
	Method      string `yaml:"method"`
	Path        string `yaml:"path"`
}

// MountManifest binds a named volume into the container filesystem.
type MountManifest struct {
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
}

// DeployManifest controls the rollout strategy an update uses (§4.6).
type DeployManifest struct {
	Strategy       string  `yaml:"strategy"`
	MaxUnavailable float64 `yaml:"max_unavailable"`
}

// Load reads and parses an app manifest file.
func Load(path string) (*AppManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m AppManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.App == "" {
		return nil, fmt.Errorf("manifest missing required 'app' field")
	}
	return &m, nil
}

// ProcessGroupConfig pairs a materialized machine config with the process
// group name it was generated from (empty for a manifest with no
// `processes` map).
type ProcessGroupConfig struct {
	ProcessGroup string
	Config       types.MachineConfig
}

// AdaptResult is everything the lifecycle manager needs after adapting an
// app manifest: one machine config per process group, the resolved deploy
// strategy, and warnings about manifest fields that were reinterpreted or
// dropped.
type AdaptResult struct {
	AppName        string
	Configs        []ProcessGroupConfig
	DeployStrategy string
	MaxUnavailable float64
	Warnings       []string
}

// Adapt converts an app manifest into machine configs, one per process
// group (or a single unnamed one if the manifest declares no `processes`).
// It is a pure function: it makes no filesystem or network calls and
// returns the same result for the same input (§8 determinism).
func Adapt(m *AppManifest) (*AdaptResult, error) {
	if m.Image == "" && m.Build == nil {
		return nil, fmt.Errorf("manifest must set 'image' or 'build': Minifly does not build images locally")
	}

	result := &AdaptResult{AppName: m.App}

	if m.PrimaryRegion != "" {
		result.Warnings = append(result.Warnings, fmt.Sprintf("primary_region %q collapsed to local region", m.PrimaryRegion))
	}

	env := map[string]string{}
	for k, v := range m.Env {
		env[k] = v
	}
	if m.Build != nil {
		if m.Image == "" {
			result.Warnings = append(result.Warnings, "build.dockerfile present with no 'image': local build is not supported, the referenced image must already exist")
		}
		for k, v := range m.Build.Args {
			env[k] = v
		}
	}

	services, checks, warnings := adaptServices(m.Services)
	result.Warnings = append(result.Warnings, warnings...)

	mounts := make([]types.MountConfig, 0, len(m.Mounts))
	for _, mnt := range m.Mounts {
		mounts = append(mounts, types.MountConfig{Volume: mnt.Source, Path: mnt.Destination})
	}

	if m.Deploy != nil {
		result.DeployStrategy = m.Deploy.Strategy
		result.MaxUnavailable = m.Deploy.MaxUnavailable
	} else {
		result.DeployStrategy = "immediate"
	}

	if len(m.Metrics) > 0 || len(m.Statics) > 0 || len(m.Experimental) > 0 {
		result.Warnings = append(result.Warnings, "metrics/statics/experimental sections are accepted but not enforced")
	}

	base := types.MachineConfig{
		Image:      m.Image,
		Entrypoint: m.Entrypoint,
		Cmd:        m.Cmd,
		Env:        env,
		Services:   services,
		Checks:     checks,
		Mounts:     mounts,
	}

	if len(m.Processes) == 0 {
		result.Configs = []ProcessGroupConfig{{Config: base}}
		return result, nil
	}

	names := make([]string, 0, len(m.Processes))
	for name := range m.Processes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd := m.Processes[name]
		cfg := base
		cfg.ProcessGroup = name
		cfg.Cmd = []string{"/bin/sh", "-c", cmd}
		result.Configs = append(result.Configs, ProcessGroupConfig{ProcessGroup: name, Config: cfg})
	}
	return result, nil
}

func adaptServices(services []ServiceManifest) ([]types.ServiceConfig, map[string]types.Check, []string) {
	var warnings []string
	out := make([]types.ServiceConfig, 0, len(services))
	checks := map[string]types.Check{}

	for i, svc := range services {
		ports := make([]types.Port, 0, len(svc.Ports))
		for _, p := range svc.Ports {
			ports = append(ports, types.Port{Port: p.Port, Handlers: p.Handlers})
		}

		out = append(out, types.ServiceConfig{
			InternalPort: svc.InternalPort,
			Protocol:     svc.Protocol,
			Ports:        ports,
			Autostop:     svc.AutoStopMachines,
			Autostart:    svc.AutoStartMachines,
		})

		if svc.Concurrency != nil || svc.MinMachinesRunning > 0 {
			warnings = append(warnings, fmt.Sprintf("services[%d]: concurrency/min_machines_running are not enforced (no admission control)", i))
		}

		for j, tc := range svc.TCPChecks {
			checks[fmt.Sprintf("tcp-%d-%d", i, j)] = types.Check{
				Type:        "tcp",
				Port:        svc.InternalPort,
				Interval:    parseDurationOr(tc.Interval, 0),
				Timeout:     parseDurationOr(tc.Timeout, 0),
				GracePeriod: parseDurationOr(tc.GracePeriod, 0),
			}
		}
		for j, hc := range svc.HTTPChecks {
			checks[fmt.Sprintf("http-%d-%d", i, j)] = types.Check{
				Type:        "http",
				Port:        svc.InternalPort,
				Interval:    parseDurationOr(hc.Interval, 0),
				Timeout:     parseDurationOr(hc.Timeout, 0),
				GracePeriod: parseDurationOr(hc.GracePeriod, 0),
				Method:      hc.Method,
				Path:        hc.Path,
			}
		}
	}

	return out, checks, warnings
}
