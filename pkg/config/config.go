// Package config centralizes the environment-variable driven configuration
// shared by the serve and apply commands.
package config

import (
	"os"
	"strconv"
)

// Config holds every tunable read from the environment at startup.
type Config struct {
	// APIPort is the HTTP API listen port.
	APIPort int
	// DataDir is the root directory for the Bolt database and the
	// per-machine volume and litefs directories.
	DataDir string
	// DNSPort is the UDP port the internal resolver listens on.
	DNSPort int
	// NetworkPrefix is the IPv6 prefix used to derive machine virtual IPs.
	NetworkPrefix string
	// LiteFSPort is the port the replicated-SQLite proxy listens on when a
	// machine's config enables it.
	LiteFSPort int
	// DockerHost is the containerd/docker socket address used by the
	// runtime adapter.
	DockerHost string
	// AuthToken, if non-empty, is required as a bearer token on every API
	// request.
	AuthToken string
	// LiteFSBinary is the path to (or bare name of, resolved via PATH) the
	// replicated-SQLite binary the supervisor launches per machine.
	LiteFSBinary string
}

const (
	envAPIPort       = "MINIFLY_API_PORT"
	envDataDir       = "MINIFLY_DATA_DIR"
	envDNSPort       = "MINIFLY_DNS_PORT"
	envNetworkPrefix = "MINIFLY_NETWORK_PREFIX"
	envLiteFSPort    = "MINIFLY_LITEFS_PORT"
	envDockerHost    = "DOCKER_HOST"
	envAuthToken     = "MINIFLY_AUTH_TOKEN"
	envLiteFSBinary  = "MINIFLY_LITEFS_BINARY"
)

// Defaults recovered from the production config module.
const (
	DefaultAPIPort       = 4280
	DefaultDataDir       = "./data"
	DefaultDNSPort       = 5353
	DefaultNetworkPrefix = "fdaa:0:"
	DefaultLiteFSPort    = 20202
	DefaultDockerHost    = "/run/containerd/containerd.sock"
	DefaultLiteFSBinary  = "litefs"
)

// FromEnv builds a Config from the process environment, falling back to the
// production defaults for anything unset.
func FromEnv() Config {
	return Config{
		APIPort:       intEnv(envAPIPort, DefaultAPIPort),
		DataDir:       strEnv(envDataDir, DefaultDataDir),
		DNSPort:       intEnv(envDNSPort, DefaultDNSPort),
		NetworkPrefix: strEnv(envNetworkPrefix, DefaultNetworkPrefix),
		LiteFSPort:    intEnv(envLiteFSPort, DefaultLiteFSPort),
		DockerHost:    strEnv(envDockerHost, DefaultDockerHost),
		AuthToken:     strEnv(envAuthToken, ""),
		LiteFSBinary:  strEnv(envLiteFSBinary, DefaultLiteFSBinary),
	}
}

func strEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
