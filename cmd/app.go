package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/pescn/psy-data-gen/commbus"
	"github.com/pescn/psy-data-gen/coreengine/agents"
	"github.com/pescn/psy-data-gen/coreengine/bootstrap"
	"github.com/pescn/psy-data-gen/coreengine/llm"
	"github.com/pescn/psy-data-gen/coreengine/observability"
	"github.com/pescn/psy-data-gen/coreengine/runtime"
	"github.com/pescn/psy-data-gen/coreengine/store"
)

const (
	busQueryTimeout        = 30 * time.Second
	persistFailureLimit    = 5
	persistCircuitCooldown = time.Minute
)

// unguardedTypes bypass the circuit breaker. Only PersistSnapshot is
// guarded: dropping events or queries would lose exports.
var unguardedTypes = []string{
	"SessionStarted",
	"TurnAppended",
	"RoundEvaluated",
	"PhaseTransitionApplied",
	"PhaseTransitionRejected",
	"RiskEmergencyRaised",
	"SessionEnded",
	"GetSessionSnapshot",
	"ListSessions",
}

// app holds everything run wires together.
type app struct {
	settings     *bootstrap.Settings
	logger       agents.Logger
	bus          *commbus.InMemoryCommBus
	registry     *runtime.Registry
	store        *store.GormStore
	exporter     *exporter
	orchestrator *runtime.Orchestrator

	metrics         *http.Server
	shutdownTracing func(context.Context) error
	unsubscribe     []func()
}

// newApp wires everything from settings. port overrides the LLM-backed agent
// when non-nil.
func newApp(ctx context.Context, s *bootstrap.Settings, logger agents.Logger, port agents.AgentPort) (*app, error) {
	a := &app{settings: s, logger: logger}
	if err := a.wire(ctx, port); err != nil {
		a.close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, port agents.AgentPort) (err error) {
	s, logger := a.settings, a.logger

	if s.Tracing.Endpoint != "" {
		a.shutdownTracing, err = observability.InitTracer(ctx, s.TracingOptions(version))
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
	}

	a.bus = commbus.NewInMemoryCommBus(busQueryTimeout, logger)
	a.bus.AddMiddleware(commbus.NewLoggingMiddleware(logger))
	a.bus.AddMiddleware(commbus.NewCircuitBreakerMiddleware(
		persistFailureLimit,
		persistCircuitCooldown,
		unguardedTypes,
		logger,
	))

	if s.Store.Enabled() {
		a.store, err = store.NewGormStore(s.Store.Driver, s.Store.DSN)
		if err != nil {
			return err
		}
		if err = a.store.Register(a.bus); err != nil {
			return err
		}
	}

	a.registry = runtime.NewRegistry(a.snapshotStore())
	if err = a.registry.Register(a.bus); err != nil {
		return err
	}

	a.exporter, err = newExporter(s.Batch.OutputDir, a.bus, logger)
	if err != nil {
		return err
	}
	a.unsubscribe = append(a.unsubscribe, a.bus.Subscribe("SessionEnded", a.exporter.onSessionEnded))

	var (
		provider agents.LLMProvider
		limiter  *rate.Limiter
	)
	if port == nil || s.Background.Source == bootstrap.PersonaSourceGenerate {
		if provider, err = llm.NewOpenAIProvider(s.LLMConfig(), logger); err != nil {
			return err
		}
	}
	if port == nil {
		agent, aerr := agents.NewDialogueAgent(provider, logger, s.AgentOptions())
		if aerr != nil {
			return aerr
		}
		limited := agents.NewRateLimitedPort(agent, s.LLM.RateLimit, s.LLM.Burst)
		limiter = limited.Limiter()
		port = limited
	}

	opts := []runtime.Option{
		runtime.WithBus(a.bus),
		runtime.WithRegistry(a.registry),
	}
	if s.Background.Source != bootstrap.PersonaSourceFixed {
		source := &personaSource{settings: s.Background, logger: logger}
		if s.Background.Source == bootstrap.PersonaSourceGenerate {
			gen, gerr := agents.NewBackgroundGenerator(agents.NewRateLimitedLLM(provider, limiter), logger, s.AgentOptions())
			if gerr != nil {
				return gerr
			}
			source.generator = gen
		}
		opts = append(opts, runtime.WithPrepare(source.prepare))
	}

	a.orchestrator, err = runtime.New(s.Core, port, logger, opts...)
	return err
}

// snapshotStore returns the store as an interface, nil when persistence is off.
func (a *app) snapshotStore() commbus.SnapshotStore {
	if a.store == nil {
		return nil
	}
	return a.store
}

// serveMetrics exposes Prometheus metrics on addr in the background.
func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	runtime.SafeGo(a.logger, "metrics_server", func() {
		a.logger.Info("metrics_server_listening", "addr", addr)
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics_server_failed", "error", err.Error())
		}
	}, nil)
}

// run executes the configured batch.
func (a *app) run(ctx context.Context) ([]runtime.BatchResult, runtime.BatchSummary, error) {
	s := a.settings
	inputs := make([]runtime.SessionInput, s.Batch.Sessions)
	for i := range inputs {
		inputs[i] = runtime.SessionInput{
			Student:   s.Student,
			Counselor: s.Counselor,
			Metadata:  s.SessionMetadata(i),
		}
	}
	return a.orchestrator.RunBatch(ctx, inputs, s.Batch.Concurrency)
}

func (a *app) close(ctx context.Context) {
	for _, unsubscribe := range a.unsubscribe {
		unsubscribe()
	}
	if a.metrics != nil {
		_ = a.metrics.Shutdown(ctx)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("store_close_failed", "error", err.Error())
		}
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			a.logger.Warn("tracing_shutdown_failed", "error", err.Error())
		}
	}
}
