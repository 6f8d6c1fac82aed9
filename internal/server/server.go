// Package server provides the ops HTTP server of the placement daemon and
// wires the placement core to the configured backends.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/affinity"
	"github.com/limiquantix/placement/internal/config"
	"github.com/limiquantix/placement/internal/ha"
	"github.com/limiquantix/placement/internal/lifecycle"
	"github.com/limiquantix/placement/internal/repository/etcd"
	"github.com/limiquantix/placement/internal/repository/redis"
	"github.com/limiquantix/placement/internal/reservation"
	"github.com/limiquantix/placement/internal/scheduler"
)

// Server represents the ops HTTP server and owns the placement stack.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	mux        *http.ServeMux
	registry   *prometheus.Registry

	// Infrastructure
	backend *Backend
	cache   *redis.Cache
	etcd    *etcd.Client

	// Placement core
	machine     *lifecycle.Machine
	chain       scheduler.Chain
	coordinator *reservation.Coordinator
	monitor     reservation.Monitor

	// Leader election (for the sweeper)
	leader *etcd.Leader
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithRedis enables event publication and the lifecycle state cache.
func WithRedis(cache *redis.Cache) ServerOption {
	return func(s *Server) {
		s.cache = cache
	}
}

// WithEtcd enables etcd group locks and leader election.
func WithEtcd(client *etcd.Client) ServerOption {
	return func(s *Server) {
		s.etcd = client
	}
}

// WithBackend sets the storage backend. Without it an in-memory backend is used.
func WithBackend(b *Backend) ServerOption {
	return func(s *Server) {
		s.backend = b
	}
}

// New creates a new server instance and wires the placement core.
func New(cfg *config.Config, logger *zap.Logger, opts ...ServerOption) (*Server, error) {
	mux := http.NewServeMux()

	s := &Server{
		config:   cfg,
		logger:   logger,
		mux:      mux,
		registry: prometheus.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.backend == nil {
		s.backend, _ = NewMemoryBackend(cfg)
	}

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := s.initPlacement(); err != nil {
		return nil, err
	}

	s.registerRoutes()

	handler := s.setupMiddleware(mux)
	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

// initPlacement builds the lifecycle machine, the strategy chain and the
// reservation coordinator on top of the backend.
func (s *Server) initPlacement() error {
	s.logger.Info("Initializing placement core", zap.String("backend", s.backend.name))

	var store lifecycle.Store = s.backend.lifecycle
	machineOpts := []lifecycle.Option{lifecycle.WithRegisterer(s.registry)}
	if s.cache != nil {
		store = redis.NewCachedLifecycleStore(store, s.cache, s.config.Redis.StateTTL, s.logger)
		machineOpts = append(machineOpts, lifecycle.WithNotifier(s.cache))
	}

	machine, err := lifecycle.NewMachine(lifecycle.DefaultTables(), store, s.logger, machineOpts...)
	if err != nil {
		return fmt.Errorf("failed to build lifecycle machine: %w", err)
	}
	s.machine = machine

	chain, err := scheduler.BuildChain(s.config.Scheduler, scheduler.Dependencies{
		Hosts:       s.backend.hosts,
		Pools:       s.backend.pools,
		Ledger:      s.backend.reservations,
		Workloads:   s.backend.workloads,
		Eligibility: machine,
	}, s.logger)
	if err != nil {
		return err
	}
	s.chain = chain

	s.monitor = reservation.NewMonitor(s.registry)

	coordOpts := []reservation.Option{
		reservation.WithAffinity(s.backend.snapshots, affinity.DefaultProcessors(s.config.Affinity, s.logger)...),
		reservation.WithLocker(s.groupLocker()),
		reservation.WithEligibility(machine),
		reservation.WithVolumeLocator(s.backend.volumes),
		reservation.WithMonitor(s.monitor),
	}
	if s.cache != nil {
		coordOpts = append(coordOpts, reservation.WithPublisher(s.cache))
	}

	coordinator, err := reservation.NewCoordinator(chain, s.backend.reservations, s.config.Reservation, s.logger, coordOpts...)
	if err != nil {
		return err
	}
	s.coordinator = coordinator

	s.logger.Info("Placement core initialized",
		zap.Strings("strategies", chain.Names()),
		zap.String("lock_backend", s.config.Affinity.LockBackend),
		zap.Bool("redis", s.cache != nil),
		zap.Bool("etcd", s.etcd != nil),
	)
	return nil
}

func (s *Server) groupLocker() affinity.Locker {
	if s.config.Affinity.LockBackend == config.LockBackendEtcd && s.etcd != nil {
		return s.etcd
	}
	return affinity.NewLocalLocker()
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes() {
	// Health endpoints
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/healthz", s.healthHandler) // Kubernetes-style endpoint
	s.mux.HandleFunc("/ready", s.readyHandler)
	s.mux.HandleFunc("/live", s.liveHandler)

	s.mux.HandleFunc("/api/v1/info", s.infoHandler)
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
}

// setupMiddleware configures middleware chain.
func (s *Server) setupMiddleware(handler http.Handler) http.Handler {
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.config.CORS.AllowedOrigins,
		AllowedMethods:   s.config.CORS.AllowedMethods,
		AllowedHeaders:   s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           86400, // 24 hours
	})

	handler = corsHandler.Handler(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)

	return handler
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		// Skip logging for health checks and scrapes
		switch r.URL.Path {
		case "/health", "/healthz", "/ready", "/live", "/metrics":
			return
		}

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("path", r.URL.Path),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// healthHandler returns health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "placementd"})
}

// readyHandler returns readiness status.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ready := true
	details := map[string]string{}

	check := func(name string, health func(context.Context) error) {
		if err := health(ctx); err != nil {
			ready = false
			details[name] = "unhealthy"
			return
		}
		details[name] = "healthy"
	}

	if s.backend.health != nil {
		check(s.backend.name, s.backend.health)
	}
	if s.cache != nil {
		check("redis", s.cache.Health)
	}
	if s.etcd != nil {
		check("etcd", s.etcd.Health)
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{"ready": ready, "components": details})
}

// liveHandler returns liveness status.
func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"alive": true})
}

// infoHandler returns daemon information.
func (s *Server) infoHandler(w http.ResponseWriter, r *http.Request) {
	leader := false
	if s.leader != nil {
		leader = s.leader.IsLeader()
	}

	info := map[string]interface{}{
		"name":         "placementd",
		"version":      "0.1.0",
		"backend":      s.backend.name,
		"strategies":   s.chain.Names(),
		"lock_backend": s.config.Affinity.LockBackend,
		"leader":       leader,
		"infrastructure": map[string]bool{
			"redis": s.cache != nil,
			"etcd":  s.etcd != nil,
		},
	}

	// Campaign values are instance addresses
	if s.etcd != nil {
		addr, err := s.etcd.GetLeader(r.Context(), s.config.Etcd.ElectionPrefix)
		switch {
		case err == nil:
			info["leader_address"] = addr
		case !errors.Is(err, etcd.ErrKeyNotFound):
			s.logger.Warn("Failed to look up leader", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, info)
}

// Coordinator returns the reservation coordinator for in-process callers.
func (s *Server) Coordinator() *reservation.Coordinator {
	return s.coordinator
}

// Lifecycle returns the lifecycle state machine.
func (s *Server) Lifecycle() *lifecycle.Machine {
	return s.machine
}

// Run starts the background loops and the HTTP server and blocks until
// shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting server",
		zap.String("address", s.config.Server.Address()),
	)

	// A nil *etcd.Leader must not end up inside these interfaces
	var leaderChecker reservation.LeaderChecker
	var haLeader ha.LeaderChecker
	if s.etcd != nil {
		s.leader = s.etcd.CampaignForLeader(ctx, s.config.Etcd.ElectionPrefix, s.config.Server.Address(), func(isLeader bool) {
			if isLeader {
				s.logger.Info("This instance is now the leader")
			} else {
				s.logger.Info("This instance is now a follower")
			}
		})
		leaderChecker = s.leader
		haLeader = s.leader
	}

	var publisher reservation.Publisher
	if s.cache != nil {
		publisher = s.cache
	}
	sweeper := reservation.NewSweeper(s.config.Reservation, s.backend.reservations, publisher, leaderChecker, s.monitor, s.logger)
	go sweeper.Start(ctx)

	heartbeats := ha.NewManager(s.config.HA, s.backend.heartbeats, haLeader, s.logger)
	go heartbeats.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	return s.Shutdown()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down server...")

	if s.leader != nil {
		if err := s.leader.Resign(shutdownCtx); err != nil {
			s.logger.Warn("Failed to resign leadership", zap.Error(err))
		}
	}

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}

	if s.etcd != nil {
		if err := s.etcd.Close(); err != nil {
			s.logger.Warn("Failed to close etcd", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("Failed to close Redis", zap.Error(err))
		}
	}
	if s.backend.close != nil {
		s.backend.close()
	}

	s.logger.Info("Server stopped gracefully")
	return nil
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Server.Address()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
