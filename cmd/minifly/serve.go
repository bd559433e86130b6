package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minifly/minifly/pkg/api"
	"github.com/minifly/minifly/pkg/config"
	"github.com/minifly/minifly/pkg/dns"
	"github.com/minifly/minifly/pkg/events"
	"github.com/minifly/minifly/pkg/log"
	"github.com/minifly/minifly/pkg/machine"
	"github.com/minifly/minifly/pkg/metrics"
	"github.com/minifly/minifly/pkg/reconciler"
	"github.com/minifly/minifly/pkg/runtime"
	"github.com/minifly/minifly/pkg/secrets"
	"github.com/minifly/minifly/pkg/storage"
	"github.com/minifly/minifly/pkg/volume"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Minifly control plane",
	Long: `Runs the HTTP Machines-API, the internal DNS resolver and the
background reconciler against a local containerd daemon, all as one
process, until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Bool("mock-runtime", false, "use an in-memory container runtime instead of containerd (for local testing without a container daemon)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.FromEnv()

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: false, Output: os.Stderr})
	logger := log.WithComponent("serve")

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return &exitError{code: 4, err: fmt.Errorf("open store: %w", err)}
	}
	defer store.Close()

	useMock, _ := cmd.Flags().GetBool("mock-runtime")
	var rt runtime.Runtime
	if useMock {
		rt = runtime.NewMockRuntime()
		logger.Warn().Msg("using in-memory mock runtime, no containers will actually run")
	} else {
		rt, err = runtime.NewContainerdRuntime(cfg.DockerHost)
		if err != nil {
			return &exitError{code: 4, err: fmt.Errorf("connect to containerd at %s: %w", cfg.DockerHost, err)}
		}
	}
	defer rt.Close()

	registry := dns.NewRegistry(cfg.NetworkPrefix)
	dnsServer := dns.NewServer(registry, &dns.Config{ListenAddr: fmt.Sprintf("127.0.0.1:%d", cfg.DNSPort)})

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	secretsStore := secrets.NewStore(".")
	volumes, err := volume.NewManager(cfg.DataDir)
	if err != nil {
		return &exitError{code: 4, err: fmt.Errorf("create volume manager: %w", err)}
	}

	mgr := machine.New(store, rt, registry, broker, secretsStore, volumes, cfg.DataDir, cfg.LiteFSBinary, cfg.NetworkPrefix)

	recon := reconciler.NewReconciler(store, rt, registry, broker).SetManager(mgr)
	recon.Start()
	defer recon.Stop()

	collector := metrics.NewCollector(store)
	collector.Start()
	defer collector.Stop()

	apiServer := api.NewServer(store, mgr, rt, registry, broker, volumes, api.Config{
		Addr:      fmt.Sprintf(":%d", cfg.APIPort),
		AuthToken: cfg.AuthToken,
	})

	dnsCtx, cancelDNS := context.WithCancel(context.Background())
	defer cancelDNS()
	if err := dnsServer.Start(dnsCtx); err != nil {
		return &exitError{code: 4, err: fmt.Errorf("start dns server: %w", err)}
	}
	defer dnsServer.Stop()

	metrics.RegisterComponent("containerd", true, "")
	metrics.RegisterComponent("dns", true, "")
	metrics.RegisterComponent("api", true, "")

	apiErrCh := apiServer.Start()

	logger.Info().
		Int("api_port", cfg.APIPort).
		Int("dns_port", cfg.DNSPort).
		Str("data_dir", cfg.DataDir).
		Msg("minifly is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-apiErrCh:
		if err != nil {
			logger.Error().Err(err).Msg("api server exited unexpectedly")
			return &exitError{code: 4, err: err}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api server shutdown error")
	}

	return nil
}
