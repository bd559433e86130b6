package dns

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/minifly/minifly/pkg/log"
	"github.com/miekg/dns"
)

// InternalDomain is the fixed top-level suffix for every internal name,
// mirroring the production `.internal` zone.
const InternalDomain = "internal"

// Resolver answers queries against a live Registry of machine virtual IPs.
// Two forms are supported:
//
//	<app>.internal                 -> AAAA for every registered machine
//	<machine-id>.vm.<app>.internal  -> AAAA for one machine
type Resolver struct {
	registry *Registry
	rnd      *rand.Rand
}

// NewResolver builds a Resolver reading from registry.
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Resolve resolves a DNS query name to AAAA resource records.
func (r *Resolver) Resolve(queryName string) ([]dns.RR, error) {
	name := strings.TrimSuffix(queryName, ".")

	log.Logger.Debug().Str("component", "dns.resolver").Str("query", name).Msg("resolving DNS query")

	suffix := "." + InternalDomain
	if !strings.HasSuffix(name, suffix) {
		return nil, fmt.Errorf("query not resolvable: %s", name)
	}
	rest := strings.TrimSuffix(name, suffix)

	if machineID, appName, ok := splitMachineName(rest); ok {
		return r.resolveMachine(name, appName, machineID)
	}
	return r.resolveApp(name, rest)
}

// splitMachineName splits "<machine-id>.vm.<app>" into its parts.
func splitMachineName(rest string) (machineID, appName string, ok bool) {
	const marker = ".vm."
	idx := strings.Index(rest, marker)
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+len(marker):], true
}

func (r *Resolver) resolveApp(fqdn, appName string) ([]dns.RR, error) {
	ips := r.registry.ResolveApp(appName)
	if len(ips) == 0 {
		return nil, fmt.Errorf("no registered machines for app: %s", appName)
	}

	r.rnd.Shuffle(len(ips), func(i, j int) { ips[i], ips[j] = ips[j], ips[i] })

	records := make([]dns.RR, 0, len(ips))
	for _, ip := range ips {
		records = append(records, &dns.AAAA{
			Hdr:  dns.RR_Header{Name: dns.Fqdn(fqdn), Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: 10},
			AAAA: ip,
		})
	}
	return records, nil
}

func (r *Resolver) resolveMachine(fqdn, appName, machineID string) ([]dns.RR, error) {
	ip, ok := r.registry.ResolveMachine(appName, machineID)
	if !ok {
		return nil, fmt.Errorf("no registered machine %s in app %s", machineID, appName)
	}
	return []dns.RR{&dns.AAAA{
		Hdr:  dns.RR_Header{Name: dns.Fqdn(fqdn), Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: 10},
		AAAA: ip,
	}}, nil
}
