package machine

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/minifly/minifly/pkg/apierr"
	"github.com/minifly/minifly/pkg/types"
)

func newNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate lease nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Acquire grants exclusive mutation rights over machineID. If refreshNonce
// matches an existing, unexpired lease, that lease's expiry is extended.
// Otherwise a lease may only be acquired when none exists or the existing
// one has expired; anything else is a conflict.
func (m *Manager) Acquire(machineID, owner, description string, ttl time.Duration, refreshNonce string) (*types.Lease, error) {
	mach, err := m.Store.GetMachine(machineID)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}

	now := time.Now()
	existing, err := m.Store.GetLease(machineID)
	hasExisting := err == nil

	if hasExisting && !existing.Expired(now) {
		if refreshNonce == "" || refreshNonce != existing.Nonce {
			return nil, apierr.LeaseHeldf("machine %q already has an active lease", machineID)
		}
		existing.ExpiresAt = now.Add(ttl)
		existing.Owner = owner
		existing.Description = description
		if err := m.Store.PutLease(existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	nonce, err := newNonce()
	if err != nil {
		return nil, apierr.Internalf(err, "failed to allocate lease nonce")
	}

	lease := &types.Lease{
		MachineID:   machineID,
		Nonce:       nonce,
		Owner:       owner,
		Description: description,
		Version:     strconv.Itoa(mach.Generation),
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
	if err := m.Store.PutLease(lease); err != nil {
		return nil, err
	}
	return lease, nil
}

// Release drops a lease this nonce holds. Releasing a lease you don't hold
// is a no-op rather than an error, matching a client that retries a
// best-effort cleanup.
func (m *Manager) Release(machineID, nonce string) error {
	lease, err := m.Store.GetLease(machineID)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return nil
		}
		return err
	}
	if lease.Nonce != nonce {
		return nil
	}
	return m.Store.DeleteLease(machineID)
}

// requireLease validates that nonce is the current, unexpired lease on
// mach. Every state-mutating operation except create and forced delete
// must pass this check before committing anything (§4.6).
func (m *Manager) requireLease(mach *types.Machine, nonce string) error {
	if nonce == "" {
		return apierr.LeaseHeldf("a lease is required to mutate machine %q", mach.ID)
	}
	lease, err := m.Store.GetLease(mach.ID)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return apierr.LeaseHeldf("no lease held on machine %q", mach.ID)
		}
		return err
	}
	if lease.Expired(time.Now()) {
		return apierr.LeaseHeldf("lease on machine %q has expired", mach.ID)
	}
	if lease.Nonce != nonce {
		return apierr.LeaseHeldf("lease nonce mismatch on machine %q", mach.ID)
	}
	return nil
}
