package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "minifly.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRequiresAppName(t *testing.T) {
	path := writeManifest(t, "image: alpine:latest\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestAdaptSingleProcess(t *testing.T) {
	m := &AppManifest{
		App:   "myapp",
		Image: "alpine:latest",
		Env:   map[string]string{"FOO": "bar"},
		Services: []ServiceManifest{
			{InternalPort: 8080, Protocol: "tcp", Ports: []PortManifest{{Port: 443, Handlers: []string{"tls", "http"}}}},
		},
		Mounts: []MountManifest{{Source: "data", Destination: "/var/lib/data"}},
	}

	result, err := Adapt(m)
	require.NoError(t, err)
	require.Len(t, result.Configs, 1)

	cfg := result.Configs[0].Config
	require.Equal(t, "alpine:latest", cfg.Image)
	require.Equal(t, "bar", cfg.Env["FOO"])
	require.Len(t, cfg.Services, 1)
	require.Equal(t, 8080, cfg.Services[0].InternalPort)
	require.Len(t, cfg.Mounts, 1)
	require.Equal(t, "data", cfg.Mounts[0].Volume)
	require.Equal(t, "immediate", result.DeployStrategy)
}

func TestAdaptProcessGroupsMaterializeAsSeparateConfigs(t *testing.T) {
	m := &AppManifest{
		App:   "myapp",
		Image: "alpine:latest",
		Processes: map[string]string{
			"web":    "serve --port 8080",
			"worker": "worker --queue default",
		},
	}

	result, err := Adapt(m)
	require.NoError(t, err)
	require.Len(t, result.Configs, 2)

	groups := map[string]bool{}
	for _, c := range result.Configs {
		groups[c.ProcessGroup] = true
		require.NotEmpty(t, c.Config.Cmd)
	}
	require.True(t, groups["web"])
	require.True(t, groups["worker"])
}

func TestAdaptRequiresImageOrBuild(t *testing.T) {
	m := &AppManifest{App: "myapp"}
	_, err := Adapt(m)
	require.Error(t, err)
}

func TestAdaptWarnsOnPrimaryRegion(t *testing.T) {
	m := &AppManifest{App: "myapp", Image: "alpine:latest", PrimaryRegion: "iad"}
	result, err := Adapt(m)
	require.NoError(t, err)
	require.NotEmpty(t, result.Warnings)
}

func TestAdaptDeployStrategy(t *testing.T) {
	m := &AppManifest{
		App:   "myapp",
		Image: "alpine:latest",
		Deploy: &DeployManifest{
			Strategy:       "rolling",
			MaxUnavailable: 0.25,
		},
	}
	result, err := Adapt(m)
	require.NoError(t, err)
	require.Equal(t, "rolling", result.DeployStrategy)
	require.Equal(t, 0.25, result.MaxUnavailable)
}
