package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/minifly/minifly/pkg/dns"
	"github.com/minifly/minifly/pkg/events"
	"github.com/minifly/minifly/pkg/log"
	"github.com/minifly/minifly/pkg/machine"
	"github.com/minifly/minifly/pkg/runtime"
	"github.com/minifly/minifly/pkg/storage"
	"github.com/minifly/minifly/pkg/volume"
)

// Server is the HTTP front door: an httprouter mux over pkg/machine and
// pkg/storage, wrapped in an http.Server with the same timeout profile
// the rest of this tree uses for its listeners.
type Server struct {
	store     storage.Store
	manager   *machine.Manager
	runtime   runtime.Runtime
	dnsReg    *dns.Registry
	broker    *events.Broker
	volumes   *volume.Manager
	authToken string

	httpSrv *http.Server
}

// Config is everything NewServer needs beyond the collaborators
// themselves.
type Config struct {
	Addr      string
	AuthToken string
}

// NewServer wires a Server over its collaborators and builds the route
// table. It does not start listening; call Start for that.
func NewServer(store storage.Store, mgr *machine.Manager, rt runtime.Runtime, dnsReg *dns.Registry, broker *events.Broker, volumes *volume.Manager, cfg Config) *Server {
	s := &Server{
		store:     store,
		manager:   mgr,
		runtime:   rt,
		dnsReg:    dnsReg,
		broker:    broker,
		volumes:   volumes,
		authToken: cfg.AuthToken,
	}

	router := httprouter.New()
	s.registerRoutes(router)

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // SSE endpoints stream indefinitely
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(r *httprouter.Router) {
	r.GET("/health", s.withMiddleware("health", s.handleHealth))
	r.GET("/ready", s.withMiddleware("ready", s.handleReady))
	r.GET("/live", s.withMiddleware("live", s.handleLive))
	r.GET("/metrics", s.withMiddleware("metrics", s.handleMetrics))

	r.GET("/v1/apps", s.withMiddleware("apps.list", s.handleListApps))
	r.POST("/v1/apps", s.withMiddleware("apps.create", s.handleCreateApp))
	r.GET("/v1/apps/:app", s.withMiddleware("apps.get", s.handleGetApp))
	r.DELETE("/v1/apps/:app", s.withMiddleware("apps.delete", s.handleDeleteApp))

	r.GET("/v1/apps/:app/machines", s.withMiddleware("machines.list", s.handleListMachines))
	r.POST("/v1/apps/:app/machines", s.withMiddleware("machines.create", s.handleCreateMachine))
	r.GET("/v1/apps/:app/machines/:id", s.withMiddleware("machines.get", s.handleGetMachine))
	r.POST("/v1/apps/:app/machines/:id", s.withMiddleware("machines.update", s.handleUpdateMachine))
	r.DELETE("/v1/apps/:app/machines/:id", s.withMiddleware("machines.destroy", s.handleDestroyMachine))

	r.POST("/v1/apps/:app/machines/:id/start", s.withMiddleware("machines.start", s.handleStartMachine))
	r.POST("/v1/apps/:app/machines/:id/stop", s.withMiddleware("machines.stop", s.handleStopMachine))
	r.POST("/v1/apps/:app/machines/:id/restart", s.withMiddleware("machines.restart", s.handleRestartMachine))
	r.POST("/v1/apps/:app/machines/:id/lease", s.withMiddleware("machines.lease", s.handleLeaseMachine))

	r.GET("/v1/apps/:app/machines/:id/logs", s.withMiddleware("machines.logs", s.handleMachineLogs))
	r.GET("/v1/apps/:app/machines/:id/events", s.withMiddleware("machines.events", s.handleMachineEvents))

	r.GET("/v1/apps/:app/volumes", s.withMiddleware("volumes.list", s.handleListVolumes))
	r.POST("/v1/apps/:app/volumes", s.withMiddleware("volumes.create", s.handleCreateVolume))
	r.GET("/v1/apps/:app/volumes/:name", s.withMiddleware("volumes.get", s.handleGetVolume))
	r.DELETE("/v1/apps/:app/volumes/:name", s.withMiddleware("volumes.delete", s.handleDeleteVolume))
}

// Handler returns the underlying http.Handler, mainly so tests can drive
// the router without binding a real listener.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start begins serving in the background and returns immediately. Bind
// failures surface on the returned error channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		logger := log.WithComponent("api")
		logger.Info().Str("addr", s.httpSrv.Addr).Msg("api server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
			return
		}
		errCh <- nil
	}()
	return errCh
}

// Stop gracefully shuts the server down, giving in-flight requests
// (including open SSE streams) up to the context's deadline to finish.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
