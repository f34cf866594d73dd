// File: cmd/app.go
// Description: Component assembly shared by the serve and run commands.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cicerone-dev/cicerone/api/schemas"
	"github.com/cicerone-dev/cicerone/internal/browser"
	"github.com/cicerone-dev/cicerone/internal/config"
	"github.com/cicerone-dev/cicerone/internal/degradation"
	"github.com/cicerone-dev/cicerone/internal/engine"
	"github.com/cicerone-dev/cicerone/internal/events"
	"github.com/cicerone-dev/cicerone/internal/orchestrator"
	"github.com/cicerone-dev/cicerone/internal/planner"
	"github.com/cicerone-dev/cicerone/internal/session"
	"github.com/cicerone-dev/cicerone/internal/store"
)

// app is the fully wired component graph.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	bus      *events.Bus
	sessions *session.Manager
	orch     *orchestrator.Orchestrator
	health   *degradation.Manager
	toggles  *degradation.Toggles

	driver *browser.Driver
	pool   *pgxpool.Pool
}

// buildApp constructs every component from configuration. Nothing is started
// here; callers own the lifecycles of the bus, health loop and HTTP server.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	a.bus = events.NewBus(logger, 64)

	sessionStore := store.NewMemorySessionStore()
	historyStore := store.NewMemoryHistoryStore()

	// The toggle block is shared between the degradation strategies that
	// flip the switches and the components that read them.
	a.toggles = &degradation.Toggles{}

	var recovery store.RecoveryStore = store.NopRecoveryStore{}
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.pool = pool
		recovery = store.GatedRecoveryStore{
			Inner:    store.NewPostgresRecoveryStore(pool, logger),
			Disabled: a.toggles.MemoryStoreOnly.Load,
		}
	}

	// The live browser is optional; without it the pipeline runs against the
	// simulated executor. With it, the fallback wrapper hands actions to the
	// simulated path whenever the manual_instructions switch is set.
	var (
		executor  schemas.ActionExecutor
		navigator schemas.Navigator
		checker   schemas.RuleChecker
	)
	if cfg.Browser.Enabled {
		driver, err := browser.NewDriver(cfg.Browser, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.driver = driver
		live := engine.FallbackExecutor{
			Live:     driver,
			Standby:  engine.DryRunExecutor{Delay: 50 * time.Millisecond},
			Degraded: a.toggles.ManualInstructions.Load,
		}
		executor, navigator, checker = live, live, live
	} else {
		sim := engine.DryRunExecutor{Delay: 50 * time.Millisecond}
		executor, navigator, checker = sim, sim, sim
	}

	intentExtractor, err := planner.NewKeywordExtractor(logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	template, err := planner.NewTemplatePlanner(logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	var planGen schemas.PlanGenerator = template
	if cfg.Planner.APIKey != "" {
		gemini, err := planner.NewGeminiPlanner(cfg.Planner, template, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		// The gate bypasses the LLM entirely while the ai_processing
		// strategy holds the template_planner_only switch.
		planGen, err = planner.NewGatedPlanner(gemini, template, a.toggles.TemplatePlannerOnly.Load, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	eng, err := engine.New(executor, navigator, historyStore, a.bus, logger, engine.Options{
		RuleChecker:   checker,
		StepAdapter:   template,
		PlanGenerator: planGen,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.sessions, err = session.NewManager(sessionStore, historyStore, recovery,
		eng, planGen, template, a.bus, logger, cfg.Engine.MaxRetries)
	if err != nil {
		a.Close()
		return nil, err
	}

	probes := degradation.Probes{
		Network: degradation.TCPProbe("1.1.1.1:443"),
		Storage: degradation.StoreProbe(sessionStore),
	}
	if a.driver != nil {
		// Probe the live driver, not the fallback wrapper, so recovery stays
		// observable while the fallback path is active.
		probes.Browser = degradation.NavigatorProbe(a.driver, "web")
	}
	if cfg.Planner.APIKey != "" && cfg.Planner.Endpoint != "" {
		probes.AI = degradation.HTTPProbe(nil, cfg.Planner.Endpoint)
	}

	a.health, err = degradation.NewManager(cfg.Degradation,
		degradation.DefaultComponents(probes),
		degradation.DefaultStrategies(a.toggles),
		a.bus, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.orch, err = orchestrator.New(cfg.Orchestrator, a.sessions,
		intentExtractor, planGen, template, navigator, a.health, a.bus, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// Close tears down owned resources in reverse dependency order.
func (a *app) Close() {
	if a.driver != nil {
		a.driver.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.bus != nil {
		a.bus.Shutdown()
	}
}
