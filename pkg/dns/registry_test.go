package dns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterDeterministic(t *testing.T) {
	r := NewRegistry("fdaa:0:")

	ip1 := r.Register("myapp", "machine-1")
	ip2 := r.Register("myapp", "machine-1")
	require.NotNil(t, ip1)
	assert.Equal(t, ip1.String(), ip2.String(), "registering the same machine twice must yield the same VIP")

	other := DeriveVIP("fdaa:0:", "machine-2")
	assert.NotEqual(t, ip1.String(), other.String())
}

func TestRegistryResolveAndDeregister(t *testing.T) {
	r := NewRegistry("fdaa:0:")
	r.Register("myapp", "machine-1")
	r.Register("myapp", "machine-2")

	ips := r.ResolveApp("myapp")
	assert.Len(t, ips, 2)

	ip, ok := r.ResolveMachine("myapp", "machine-1")
	assert.True(t, ok)
	assert.NotNil(t, ip)

	r.Deregister("myapp", "machine-1")
	_, ok = r.ResolveMachine("myapp", "machine-1")
	assert.False(t, ok)
	assert.Len(t, r.ResolveApp("myapp"), 1)
}

func TestResolverAppAndMachineNames(t *testing.T) {
	reg := NewRegistry("fdaa:0:")
	reg.Register("myapp", "machine-1")
	resolver := NewResolver(reg)

	records, err := resolver.Resolve("myapp.internal.")
	require.NoError(t, err)
	assert.Len(t, records, 1)

	records, err = resolver.Resolve("machine-1.vm.myapp.internal.")
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, err = resolver.Resolve("unknown.internal.")
	assert.Error(t, err)

	_, err = resolver.Resolve("example.com.")
	assert.Error(t, err)
}
