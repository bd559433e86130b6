package dns

import (
	"context"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestServerStartStopIsRunning(t *testing.T) {
	registry := NewRegistry("fdaa:0:")
	registry.Register("myapp", "machine-1")

	srv := NewServer(registry, &Config{ListenAddr: "127.0.0.1:0"})
	require.False(t, srv.IsRunning())

	// Start binds asynchronously; a fixed port avoids "already running" on a
	// pinned address but a :0 ephemeral one can't be queried back, so this
	// test only exercises the running-flag lifecycle, not a live query.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := srv.Start(ctx)
	require.NoError(t, err)
	require.True(t, srv.IsRunning())

	require.NoError(t, srv.Stop())
	require.False(t, srv.IsRunning())
}

func TestServerDoubleStartFails(t *testing.T) {
	registry := NewRegistry("fdaa:0:")
	srv := NewServer(registry, &Config{ListenAddr: "127.0.0.1:15353"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, srv.Start(ctx))
	defer srv.Stop()

	err := srv.Start(ctx)
	require.Error(t, err)
}

func TestServerHandlesQueryEndToEnd(t *testing.T) {
	registry := NewRegistry("fdaa:0:")
	registry.Register("myapp", "machine-1")
	srv := NewServer(registry, &Config{ListenAddr: "127.0.0.1:15354"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, srv.Start(ctx))
	defer srv.Stop()

	time.Sleep(50 * time.Millisecond)

	msg := new(dns.Msg)
	msg.SetQuestion("myapp.internal.", dns.TypeAAAA)

	client := &dns.Client{Net: "udp", Timeout: 2 * time.Second}
	resp, _, err := client.Exchange(msg, "127.0.0.1:15354")
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)
}
