// ABOUTME: Control-plane server wiring the registry, fleet store, admission
// ABOUTME: controller, router, and decision ledger behind one HTTP surface.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gladehq/fleetd/internal/admission"
	"github.com/gladehq/fleetd/internal/auth"
	"github.com/gladehq/fleetd/internal/config"
	"github.com/gladehq/fleetd/internal/dedupe"
	"github.com/gladehq/fleetd/internal/fleet"
	"github.com/gladehq/fleetd/internal/registry"
	"github.com/gladehq/fleetd/internal/router"
	"github.com/gladehq/fleetd/internal/store"
)

// Spawner launches a runtime worker for an agent type and returns its
// runtime identifier. The default spawner mints a local placeholder ID;
// deployments plug in a real process or container launcher.
type Spawner interface {
	Spawn(ctx context.Context, agentTypeID string) (runtimeAgentID string, err error)
}

// localSpawner is the default Spawner. It performs no process management;
// the instance exists only as fleet state.
type localSpawner struct{}

func (localSpawner) Spawn(_ context.Context, agentTypeID string) (string, error) {
	return "local-" + agentTypeID + "-" + uuid.New().String()[:8], nil
}

// submitDedupeWindow is how long an identical task submission is rejected
// as a duplicate. Long enough to absorb client retries and double-clicks,
// short enough that a deliberate re-run goes through.
const submitDedupeWindow = 10 * time.Second

// Gateway is the assembled control plane.
type Gateway struct {
	config      *config.Config
	registry    *registry.Registry
	fleet       *fleet.Store
	admission   *admission.Controller
	router      *router.Router
	ledger      *store.Ledger
	verifier    *auth.JWTVerifier
	spawner     Spawner
	submissions *dedupe.Cache
	httpServer  *http.Server
	logger      *slog.Logger
}

// New assembles a Gateway from configuration. The SQLite ledger is opened
// at cfg.Database.Path and wired into the fleet store as its event
// recorder; the catalog file, when configured, is loaded on top of the
// built-in defaults.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	reg := registry.New(logger.With("component", "registry"))
	if !cfg.Catalog.SkipDefaults {
		registry.RegisterDefaults(reg)
	}
	if cfg.Catalog.Path != "" {
		if err := registry.LoadCatalog(reg, cfg.Catalog.Path); err != nil {
			return nil, fmt.Errorf("loading catalog: %w", err)
		}
	}
	if reg.Len() == 0 {
		return nil, errors.New("no agent types registered: catalog is empty and defaults are skipped")
	}

	ledger, err := store.Open(cfg.Database.Path, logger.With("component", "ledger"))
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	fs := fleet.NewStore(logger.With("component", "fleet"))
	fs.SetRecorder(ledger)
	fs.SetRegisteredTypes(reg.Len())

	ctrl := admission.NewController(admission.Config{
		Registry:   reg,
		Instances:  fs,
		Alerts:     fs,
		FailClosed: cfg.Admission.FailClosed,
		Logger:     logger.With("component", "admission"),
	})

	rt := router.New(reg, fs, logger.With("component", "router"))

	gw := &Gateway{
		config:      cfg,
		registry:    reg,
		fleet:       fs,
		admission:   ctrl,
		router:      rt,
		ledger:      ledger,
		spawner:     localSpawner{},
		submissions: dedupe.New(submitDedupeWindow, 4096),
		logger:      logger.With("component", "gateway"),
	}

	if cfg.Auth.JWTSecret != "" {
		gw.verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	}

	mux := http.NewServeMux()
	gw.registerRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// SetSpawner replaces the default local spawner. Must be called before Run.
func (g *Gateway) SetSpawner(s Spawner) {
	g.spawner = s
}

// Fleet exposes the fleet store for CLI subcommands that inspect state
// in-process.
func (g *Gateway) Fleet() *fleet.Store {
	return g.fleet
}

// registerRoutes installs the API routes. Mutating endpoints go through
// the auth middleware when a JWT secret is configured; health endpoints
// never require auth.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	routes := map[string]http.HandlerFunc{
		"/api/instances":          g.handleInstances,
		"/api/instances/":         g.handleInstanceRoutes,
		"/api/tasks":              g.handleTasks,
		"/api/tasks/":             g.handleTaskRoutes,
		"/api/alerts":             g.handleAlerts,
		"/api/alerts/":            g.handleAlertRoutes,
		"/api/metrics":            g.handleMetrics,
		"/api/catalog":            g.handleCatalog,
		"/api/admission/evaluate": g.handleEvaluate,
		"/api/decisions":          g.handleDecisions,
	}

	if g.verifier != nil {
		mw := auth.Middleware(g.verifier)
		for path, handler := range routes {
			mux.Handle(path, mw(handler))
		}
		g.logger.Info("HTTP auth middleware enabled")
		return
	}
	for path, handler := range routes {
		mux.HandleFunc(path, handler)
	}
	g.logger.Warn("HTTP auth disabled - no jwt_secret configured")
}

// EvaluateAction resolves the instance's agent type, runs the admission
// gates, and records the verdict in the decision ledger. An unknown
// instance evaluates against an empty registry ID, which the capability
// gate treats as an unregistered type.
func (g *Gateway) EvaluateAction(ctx context.Context, instanceID string, action admission.Action) admission.Verdict {
	registryID := ""
	if inst, err := g.fleet.GetInstance(instanceID); err == nil {
		registryID = inst.RegistryID
	}

	verdict := g.admission.Evaluate(ctx, instanceID, registryID, action)

	if err := g.ledger.RecordDecision(ctx, &store.Decision{
		InstanceID:  instanceID,
		RegistryID:  registryID,
		ActionType:  string(action.Type),
		ToolName:    action.ToolName,
		ConnectorID: action.ConnectorID,
		Allowed:     verdict.Allowed,
		Gate:        string(verdict.Gate),
		Reason:      verdict.Reason,
		EscalateTo:  string(verdict.EscalateTo),
	}); err != nil {
		g.logger.Error("recording admission decision", "error", err)
	}

	return verdict
}

// Run starts the HTTP server, dispatch loop, and heartbeat sweeper, and
// blocks until the context is canceled or the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	loopCtx, cancelLoops := context.WithCancel(ctx)
	defer cancelLoops()
	go g.dispatchLoop(loopCtx)
	go g.heartbeatLoop(loopCtx)

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown stops the HTTP server and closes the ledger. Uses a
// fresh context since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	g.submissions.Close()
	if err := g.ledger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing ledger: %w", err))
	}
	return errors.Join(errs...)
}

// dispatchLoop drains the task queue on a fixed interval.
func (g *Gateway) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(g.config.Fleet.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.dispatchPending(ctx)
		}
	}
}

// dispatchPending dequeues and routes tasks until the queue is empty,
// returning how many were placed. An unroutable task fails immediately
// rather than re-queueing, so a bad task cannot wedge the queue.
func (g *Gateway) dispatchPending(ctx context.Context) int {
	dispatched := 0
	for {
		task := g.fleet.DequeueTask()
		if task == nil {
			return dispatched
		}
		if err := g.dispatchTask(ctx, task); err != nil {
			g.logger.Warn("dispatch failed", "task_id", task.ID, "error", err)
			if err := g.fleet.FailTask(task.ID, err.Error()); err != nil {
				g.logger.Error("marking task failed", "task_id", task.ID, "error", err)
			}
			continue
		}
		dispatched++
	}
}

// dispatchTask routes one task to an idle instance, spawning a fresh one
// when no idle instance of the chosen type exists.
func (g *Gateway) dispatchTask(ctx context.Context, task *fleet.Task) error {
	decision := g.router.RouteTask(task)
	if !decision.Matched {
		return fmt.Errorf("no agent type matched: %s", decision.Reason)
	}

	instanceID := decision.InstanceID
	if instanceID == "" {
		runtimeID, err := g.spawner.Spawn(ctx, decision.AgentTypeID)
		if err != nil {
			return fmt.Errorf("spawning %s: %w", decision.AgentTypeID, err)
		}
		inst := g.fleet.AddInstance(decision.AgentTypeID, runtimeID)
		if err := g.fleet.UpdateInstanceStatus(inst.InstanceID, fleet.StatusIdle); err != nil {
			return fmt.Errorf("readying spawned instance: %w", err)
		}
		instanceID = inst.InstanceID
	}

	if err := g.fleet.AssignTask(task.ID, instanceID); err != nil {
		return fmt.Errorf("assigning task: %w", err)
	}
	if err := g.fleet.UpdateInstanceTask(instanceID, task.Description); err != nil {
		return fmt.Errorf("marking instance working: %w", err)
	}

	g.logger.Info("task dispatched",
		"task_id", task.ID,
		"agent_type", decision.AgentTypeID,
		"instance_id", instanceID,
		"reason", decision.Reason,
	)
	return nil
}

// heartbeatLoop watches for instances whose heartbeat has gone stale and
// raises a warning alert once per silence. The alert repeats only after
// the instance recovers and goes stale again.
func (g *Gateway) heartbeatLoop(ctx context.Context) {
	interval := g.config.Fleet.HeartbeatTimeout / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	alerted := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweepHeartbeats(alerted)
		}
	}
}

func (g *Gateway) sweepHeartbeats(alerted map[string]bool) {
	cutoff := time.Now().Add(-g.config.Fleet.HeartbeatTimeout)
	live := make(map[string]bool)

	for _, inst := range g.fleet.ListInstances("", "") {
		live[inst.InstanceID] = true
		if inst.Status != fleet.StatusIdle && inst.Status != fleet.StatusWorking {
			continue
		}
		if inst.LastHeartbeat.After(cutoff) {
			delete(alerted, inst.InstanceID)
			continue
		}
		if alerted[inst.InstanceID] {
			continue
		}
		alerted[inst.InstanceID] = true
		g.fleet.AddAlert(fleet.SeverityWarning,
			fmt.Sprintf("instance %s heartbeat stale since %s",
				inst.InstanceID, inst.LastHeartbeat.UTC().Format(time.RFC3339)),
			inst.InstanceID)
	}

	// Forget instances that were removed from the fleet.
	for id := range alerted {
		if !live[id] {
			delete(alerted, id)
		}
	}
}
