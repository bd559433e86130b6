package manifest

import (
	"bytes"
	"fmt"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LiteFSConfig mirrors the subset of a production replicated-SQLite config
// this adapter understands, field-for-field with the original litefs.yml
// shape (fuse mount, data dir, HTTP proxy, lease election, logging).
type LiteFSConfig struct {
	FUSE   FUSEConfig    `yaml:"fuse"`
	Data   DataConfig    `yaml:"data"`
	Proxy  *ProxyConfig  `yaml:"proxy,omitempty"`
	Lease  LeaseConfig   `yaml:"lease"`
	Log    *LogConfig    `yaml:"log,omitempty"`
	Consul *ConsulConfig `yaml:"consul,omitempty"`
}

type FUSEConfig struct {
	Dir         string `yaml:"dir"`
	Debug       bool   `yaml:"debug"`
	AllowOther  bool   `yaml:"allow_other"`
}

type DataConfig struct {
	Dir      string `yaml:"dir"`
	Compress bool   `yaml:"compress"`
	Retention string `yaml:"retention,omitempty"`
}

type ProxyConfig struct {
	Addr   string `yaml:"addr"`
	Target string `yaml:"target"`
	DB     string `yaml:"db"`
}

type LeaseConfig struct {
	Type          string `yaml:"type"`
	AdvertiseURL  string `yaml:"advertise-url,omitempty"`
	Candidate     bool   `yaml:"candidate,omitempty"`
	Promote       bool   `yaml:"promote,omitempty"`
}

type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// ConsulConfig is production-only; the adapter always strips it.
type ConsulConfig struct {
	URL          string `yaml:"url"`
	AdvertiseURL string `yaml:"advertise-url"`
}

// AdaptLiteFSResult carries the adapted config plus any warnings raised
// while adapting it.
type AdaptLiteFSResult struct {
	Config   LiteFSConfig
	Warnings []string
}

// AdaptLiteFSConfig adapts a production litefs.yml for local execution
// under dataRoot/<app>/<machineID>/litefs. On parse failure it falls back
// to a minimal valid config and reports the failure as a warning rather
// than erroring, per §4.5. Empty content yields that same default config.
func AdaptLiteFSConfig(content []byte, appName, machineID, dataRoot string, isPrimary bool) AdaptLiteFSResult {
	if len(bytes.TrimSpace(content)) == 0 {
		return AdaptLiteFSResult{Config: defaultLiteFSConfig(appName, machineID, dataRoot, isPrimary)}
	}

	var cfg LiteFSConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return AdaptLiteFSResult{
			Config:   defaultLiteFSConfig(appName, machineID, dataRoot, isPrimary),
			Warnings: []string{fmt.Sprintf("failed to parse litefs config, using default: %v", err)},
		}
	}

	var warnings []string

	base := filepath.Join(dataRoot, appName, machineID, "litefs")
	cfg.FUSE.Dir = filepath.Join(base, "mount")
	cfg.FUSE.Debug = true
	cfg.FUSE.AllowOther = true
	cfg.Data.Dir = filepath.Join(base, "data")

	if cfg.Lease.Type == "consul" {
		cfg.Lease.Type = "static"
		cfg.Lease.Candidate = true
		cfg.Lease.Promote = true
		cfg.Lease.AdvertiseURL = fmt.Sprintf("http://%s:20202", machineID)
		warnings = append(warnings, "lease.type: consul rewritten to static for local execution")
	}
	if cfg.Consul != nil {
		cfg.Consul = nil
		warnings = append(warnings, "consul block stripped, not used locally")
	}

	if cfg.Proxy != nil && cfg.Proxy.Target == "" {
		warnings = append(warnings, "proxy.target empty, defaulting to localhost:8080")
		cfg.Proxy.Target = "localhost:8080"
	}

	if cfg.Log == nil {
		cfg.Log = &LogConfig{Format: "text", Level: "debug"}
	}

	return AdaptLiteFSResult{Config: cfg, Warnings: warnings}
}

// defaultLiteFSConfig returns a minimal, always-valid local config, used
// when no litefs.yml is present or the one supplied fails to parse.
func defaultLiteFSConfig(appName, machineID, dataRoot string, isPrimary bool) LiteFSConfig {
	base := filepath.Join(dataRoot, appName, machineID, "litefs")
	return LiteFSConfig{
		FUSE: FUSEConfig{Dir: filepath.Join(base, "mount"), Debug: true, AllowOther: true},
		Data: DataConfig{Dir: filepath.Join(base, "data"), Compress: true, Retention: "24h"},
		Proxy: &ProxyConfig{
			Addr:   ":20202",
			Target: "localhost:8080",
			DB:     "db",
		},
		Lease: LeaseConfig{
			Type:         "static",
			AdvertiseURL: fmt.Sprintf("http://%s:20202", machineID),
			Candidate:    isPrimary,
			Promote:      isPrimary,
		},
		Log: &LogConfig{Format: "text", Level: "debug"},
	}
}

// ToYAML renders a LiteFSConfig back into its on-disk YAML form.
func (c LiteFSConfig) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}
