package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdaptLiteFSConfigRewritesConsulLease(t *testing.T) {
	prod := []byte(`
fuse:
  dir: /litefs
data:
  dir: /var/lib/litefs
lease:
  type: consul
consul:
  url: https://consul.internal:8500
  advertise-url: http://10.0.0.1:20202
`)

	result := AdaptLiteFSConfig(prod, "myapp", "machine-123", "./minifly-data", true)

	require.Nil(t, result.Config.Consul)
	require.Equal(t, "static", result.Config.Lease.Type)
	require.True(t, result.Config.Lease.Candidate)
	require.Contains(t, result.Config.Lease.AdvertiseURL, "machine-123")
	require.Contains(t, result.Config.FUSE.Dir, "machine-123")
	require.Contains(t, result.Config.Data.Dir, "myapp")
	require.NotEmpty(t, result.Warnings)
}

func TestAdaptLiteFSConfigFallsBackOnParseError(t *testing.T) {
	result := AdaptLiteFSConfig([]byte("not: valid: yaml: [["), "myapp", "machine-1", "./data", true)

	require.NotEmpty(t, result.Warnings)
	require.Equal(t, "static", result.Config.Lease.Type)
}

func TestAdaptLiteFSConfigDeterministic(t *testing.T) {
	prod := []byte("lease:\n  type: static\n")
	a := AdaptLiteFSConfig(prod, "myapp", "m1", "./data", true)
	b := AdaptLiteFSConfig(prod, "myapp", "m1", "./data", true)

	require.Equal(t, a.Config, b.Config)
}
