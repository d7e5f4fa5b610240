// Command worker is the long-running process that drives runs: it pulls
// ready run IDs off the broker and feeds each one through
// orchestrator.ExecuteRun, with a background sweep that expires stale
// interventions and an HTTP surface (Prometheus /metrics and the /ws event
// stream) for operators.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/linkpellow/scrapegoat/internal/broker"
	"github.com/linkpellow/scrapegoat/internal/config"
	"github.com/linkpellow/scrapegoat/internal/engineadapter"
	"github.com/linkpellow/scrapegoat/internal/eventbus"
	"github.com/linkpellow/scrapegoat/internal/models"
	"github.com/linkpellow/scrapegoat/internal/observability"
	"github.com/linkpellow/scrapegoat/internal/orchestrator"
	"github.com/linkpellow/scrapegoat/internal/sessionpool"
	"github.com/linkpellow/scrapegoat/internal/store"
	"github.com/linkpellow/scrapegoat/internal/store/memory"
	"github.com/linkpellow/scrapegoat/internal/store/postgres"
)

func main() {
	var (
		configPath  string
		metricsAddr string
		concurrency int
		expireEvery time.Duration
	)
	flag.StringVar(&configPath, "config", "", "path to a JSON config file (overridden by SCRAPEGOAT_* env vars)")
	flag.StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics and /ws on")
	flag.IntVar(&concurrency, "concurrency", 4, "number of runs executed concurrently")
	flag.DurationVar(&expireEvery, "expire-interval", 5*time.Minute, "how often to sweep stale interventions")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("worker: load config: %v", err)
	}

	dsn := cfg.Database.DSN
	sessionDir := ""
	if cfg.SessionPool.PersistenceEnabled {
		sessionDir = cfg.SessionPool.PersistenceDir
	}
	providerURL, providerKey := cfg.Engine.ProviderEndpoint, cfg.Engine.ProviderAPIKey
	maxEscalations := cfg.Orchestrator.DefaultMaxAttempts

	tp := observability.InitTracer("scrapegoat-worker")
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Printf("[WARN] worker: shutdown tracer provider: %v", err)
		}
	}()
	metrics := observability.NewMetricsCollector(nil)

	st, brk, closeFn := mustOpenBackends(dsn)
	defer closeFn()

	sessions := sessionpool.New(sessionDir)
	bus := eventbus.New()
	sessions.SetCircuitObserver(func(domain string, open bool) {
		topic := eventbus.TopicSessionCircuitClosed
		if open {
			topic = eventbus.TopicSessionCircuitOpened
			metrics.CircuitOpenTotal.WithLabelValues(domain).Inc()
		}
		bus.Publish(eventbus.Event{Type: topic, Data: map[string]any{"domain": domain}})
	})

	adapters := map[models.Engine]engineadapter.Adapter{
		models.EngineHTTP: engineadapter.NewHTTPAdapter(),
	}
	if browserAdapter, err := engineadapter.NewBrowserAdapter(); err != nil {
		log.Printf("[WARN] worker: browser engine unavailable, running http/provider only: %v", err)
	} else {
		defer browserAdapter.Close()
		adapters[models.EngineBrowser] = browserAdapter
	}
	if providerURL != "" {
		adapters[models.EngineProvider] = engineadapter.NewProviderAdapter(providerURL, providerKey)
	}

	orch := orchestrator.New(st, sessions, bus, adapters, maxEscalations)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/ws", bus.ServeWS)
	go func() {
		log.Printf("[INFO] worker: serving metrics and websocket fan-out on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			log.Printf("[ERROR] worker: metrics server: %v", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runIDs, err := brk.Subscribe(ctx)
	if err != nil {
		log.Fatalf("worker: subscribe to broker: %v", err)
	}

	go runExpirySweep(ctx, orch, expireEvery)

	log.Printf("[INFO] worker: ready, concurrency=%d engines=%v", concurrency, engineNames(adapters))
	runLoop(ctx, orch, metrics, runIDs, concurrency)
	log.Println("worker: shutting down")
}

// mustOpenBackends wires the store and broker pair: Postgres when a dsn is
// given, otherwise an in-memory store with an in-process broker so the
// worker can run standalone for local development (cmd/submitjob falls
// back to the same kind of in-memory pair, in its own process, when it
// has no dsn).
func mustOpenBackends(dsn string) (store.Store, broker.Broker, func()) {
	if dsn == "" {
		log.Println("[INFO] worker: no database DSN configured, using in-memory store and broker")
		return memory.New(), broker.NewMemoryBroker(64), func() {}
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		log.Fatalf("worker: connect to postgres: %v", err)
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		log.Fatalf("worker: open pgx pool: %v", err)
	}

	st := postgres.New(db)
	brk := broker.NewPostgresBroker(pool, dsn)
	return st, brk, func() {
		brk.Close()
		db.Close()
	}
}

// runLoop fans incoming run IDs out across a bounded pool of goroutines so
// one slow run (a blocked browser navigation, say) does not stall every
// other ready run behind it.
func runLoop(ctx context.Context, orch *orchestrator.Orchestrator, metrics *observability.MetricsCollector, runIDs <-chan uuid.UUID, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var pending sync.WaitGroup

	for {
		select {
		case runID, ok := <-runIDs:
			if !ok {
				pending.Wait()
				return
			}
			sem <- struct{}{}
			pending.Add(1)
			go func(id uuid.UUID) {
				defer pending.Done()
				defer func() { <-sem }()
				executeOne(ctx, orch, metrics, id)
			}(runID)
		case <-ctx.Done():
			pending.Wait()
			return
		}
	}
}

func executeOne(ctx context.Context, orch *orchestrator.Orchestrator, metrics *observability.MetricsCollector, runID uuid.UUID) {
	started := time.Now()
	status := "completed"
	if err := orch.ExecuteRun(ctx, runID); err != nil {
		status = "error"
		log.Printf("[ERROR] worker: execute run %s: %v", runID, err)
	}
	metrics.RunsTotal.WithLabelValues(status).Inc()
	metrics.RunDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
}

func runExpirySweep(ctx context.Context, orch *orchestrator.Orchestrator, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := orch.ExpireStaleInterventions(ctx)
			if err != nil {
				log.Printf("[WARN] worker: expire stale interventions: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[INFO] worker: expired %d stale interventions", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

func engineNames(adapters map[models.Engine]engineadapter.Adapter) []models.Engine {
	names := make([]models.Engine, 0, len(adapters))
	for e := range adapters {
		names = append(names, e)
	}
	return names
}
