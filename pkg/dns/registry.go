package dns

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"sync"
)

// Registry is the in-memory table of live machine virtual IPs, populated by
// the lifecycle manager whenever a machine becomes reachable (started,
// starting, paused) and cleared when it stops being so. The resolver reads
// only from this table rather than scanning the store on every query.
type Registry struct {
	mu     sync.RWMutex
	prefix string
	byApp  map[string]map[string]net.IP // appName -> machineID -> vip
}

// NewRegistry builds an empty Registry deriving addresses under prefix
// (e.g. "fdaa:0:").
func NewRegistry(prefix string) *Registry {
	return &Registry{prefix: prefix, byApp: make(map[string]map[string]net.IP)}
}

// Register assigns (deterministically, idempotently) a virtual IP to a
// machine and returns it.
func (r *Registry) Register(appName, machineID string) net.IP {
	ip := DeriveVIP(r.prefix, machineID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byApp[appName] == nil {
		r.byApp[appName] = make(map[string]net.IP)
	}
	r.byApp[appName][machineID] = ip
	return ip
}

// Deregister removes a machine's virtual IP, e.g. once it is destroyed.
func (r *Registry) Deregister(appName, machineID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if machines, ok := r.byApp[appName]; ok {
		delete(machines, machineID)
	}
}

// ResolveApp returns the virtual IPs of every registered machine for an app.
func (r *Registry) ResolveApp(appName string) []net.IP {
	r.mu.RLock()
	defer r.mu.RUnlock()
	machines := r.byApp[appName]
	ips := make([]net.IP, 0, len(machines))
	for _, ip := range machines {
		ips = append(ips, ip)
	}
	return ips
}

// ResolveMachine returns a single machine's registered virtual IP.
func (r *Registry) ResolveMachine(appName, machineID string) (net.IP, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	machines := r.byApp[appName]
	if machines == nil {
		return nil, false
	}
	ip, ok := machines[machineID]
	return ip, ok
}

// DeriveVIP computes a deterministic IPv6 address under prefix (which must
// hold the top two hextets, e.g. "fdaa:0:") by hashing id into the
// remaining six.
func DeriveVIP(prefix, id string) net.IP {
	sum := sha256.Sum256([]byte(id))
	groups := make([]string, 6)
	for i := 0; i < 6; i++ {
		groups[i] = fmt.Sprintf("%x", binary.BigEndian.Uint16(sum[i*2:i*2+2]))
	}
	return net.ParseIP(prefix + strings.Join(groups, ":"))
}
