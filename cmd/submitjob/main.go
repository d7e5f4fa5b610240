// Command submitjob stands in for the out-of-scope HTTP API surface: it
// reads a YAML or JSON job fixture, writes the Job/FieldMap rows and a
// fresh Run via the store, and enqueues the run on the broker, so the
// orchestration core is exercisable end-to-end without that layer.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"gopkg.in/yaml.v3"

	"github.com/linkpellow/scrapegoat/internal/broker"
	"github.com/linkpellow/scrapegoat/internal/config"
	"github.com/linkpellow/scrapegoat/internal/models"
	"github.com/linkpellow/scrapegoat/internal/store"
	"github.com/linkpellow/scrapegoat/internal/store/memory"
	"github.com/linkpellow/scrapegoat/internal/store/postgres"
)

// jobFixture is the on-disk shape an operator hand-writes; it mirrors
// models.Job/models.FieldMap but keeps field maps as a flat list of field
// specs instead of the store's one-row-per-version representation.
type jobFixture struct {
	TargetURL    string                 `yaml:"target_url" json:"target_url"`
	RequiresAuth bool                   `yaml:"requires_auth" json:"requires_auth"`
	CrawlMode    models.CrawlModeEnum   `yaml:"crawl_mode" json:"crawl_mode"`
	ListConfig   *models.ListConfig     `yaml:"list_config,omitempty" json:"list_config,omitempty"`
	EngineMode   models.EngineModeEnum  `yaml:"engine_mode" json:"engine_mode"`
	Profile      *models.BrowserProfile `yaml:"browser_profile,omitempty" json:"browser_profile,omitempty"`
	Fields       []fieldFixture         `yaml:"fields" json:"fields"`
}

type fieldFixture struct {
	Name            string                 `yaml:"name" json:"name"`
	Selector        string                 `yaml:"selector" json:"selector"`
	Type            string                 `yaml:"type" json:"type"`
	SmartConfig     models.SmartConfig     `yaml:"smart_config,omitempty" json:"smart_config,omitempty"`
	ValidationRules models.ValidationRules `yaml:"validation_rules,omitempty" json:"validation_rules,omitempty"`
}

func main() {
	var (
		dsn         string
		fixturePath string
		dryRun      bool
	)
	flag.StringVar(&dsn, "dsn", "", "PostgreSQL connection string (empty falls back to the configured database DSN, then to an in-memory store)")
	flag.StringVar(&fixturePath, "fixture", "", "path to a YAML or JSON job fixture (required)")
	flag.BoolVar(&dryRun, "dry-run", false, "load and validate the fixture without writing anything")
	flag.Parse()

	if fixturePath == "" {
		log.Fatal("submitjob: -fixture is required")
	}
	if dsn == "" {
		cfg, err := config.Load("")
		if err != nil {
			log.Fatalf("submitjob: load config: %v", err)
		}
		dsn = cfg.Database.DSN
	}

	fixture, err := loadFixture(fixturePath)
	if err != nil {
		log.Fatalf("submitjob: load fixture %s: %v", fixturePath, err)
	}
	if len(fixture.Fields) == 0 {
		log.Fatal("submitjob: fixture declares no fields")
	}

	job, fieldMaps := fixture.toModels()
	if dryRun {
		log.Printf("submitjob: dry run ok, job_id=%s target=%s fields=%d", job.ID, job.TargetURL, len(fieldMaps))
		return
	}

	st, brk, closeFn := openBackends(dsn)
	defer closeFn()

	ctx := context.Background()
	exec := st.DefaultExec()

	if err := st.CreateJob(ctx, exec, job); err != nil {
		log.Fatalf("submitjob: create job: %v", err)
	}
	for _, fm := range fieldMaps {
		if err := st.CreateFieldMapVersion(ctx, exec, fm); err != nil {
			log.Fatalf("submitjob: create field map %s: %v", fm.FieldName, err)
		}
	}

	run := &models.Run{
		ID:                uuid.New(),
		JobID:             job.ID,
		RequestedStrategy: job.EngineMode,
		Status:            models.RunStatusQueued,
		Attempt:           1,
		MaxAttempts:       1,
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
	if err := st.CreateRun(ctx, exec, run); err != nil {
		log.Fatalf("submitjob: create run: %v", err)
	}
	if err := brk.Enqueue(ctx, run.ID); err != nil {
		log.Fatalf("submitjob: enqueue run: %v", err)
	}

	log.Printf("submitjob: job %s submitted, run %s enqueued", job.ID, run.ID)
}

func loadFixture(path string) (*jobFixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var fixture jobFixture
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &fixture)
	default:
		err = yaml.Unmarshal(data, &fixture)
	}
	if err != nil {
		return nil, err
	}
	if fixture.CrawlMode == "" {
		fixture.CrawlMode = models.CrawlModeSingle
	}
	if fixture.EngineMode == "" {
		fixture.EngineMode = models.EngineModeAuto
	}
	return &fixture, nil
}

func (f *jobFixture) toModels() (*models.Job, []*models.FieldMap) {
	jobID := uuid.New()
	now := time.Now().UTC()

	fieldNames := make([]string, 0, len(f.Fields))
	fieldMaps := make([]*models.FieldMap, 0, len(f.Fields))
	for _, spec := range f.Fields {
		fieldNames = append(fieldNames, spec.Name)
		selector := spec.Selector
		if selector == "" {
			selector = models.DefaultSelector(spec.Name)
		}
		fieldMaps = append(fieldMaps, &models.FieldMap{
			ID:              uuid.New(),
			JobID:           jobID,
			FieldName:       spec.Name,
			Selector:        selector,
			FieldType:       spec.Type,
			SmartConfig:     spec.SmartConfig,
			ValidationRules: spec.ValidationRules,
			SelectorVersion: 1,
			SelectorHistory: []models.SelectorHistoryEntry{{
				Selector: selector, Version: 1, ChangedAt: now, ChangedBy: "system",
			}},
		})
	}

	job := &models.Job{
		ID:           jobID,
		TargetURL:    f.TargetURL,
		Fields:       fieldNames,
		RequiresAuth: f.RequiresAuth,
		CrawlMode:    f.CrawlMode,
		ListConfig:   f.ListConfig,
		EngineMode:   f.EngineMode,
		Profile:      f.Profile,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return job, fieldMaps
}

func openBackends(dsn string) (store.Store, broker.Broker, func()) {
	if dsn == "" {
		log.Println("[INFO] submitjob: no -dsn given, writing to a throwaway in-memory store")
		return memory.New(), broker.NewMemoryBroker(8), func() {}
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		log.Fatalf("submitjob: connect to postgres: %v", err)
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		log.Fatalf("submitjob: open pgx pool: %v", err)
	}

	st := postgres.New(db)
	brk := broker.NewPostgresBroker(pool, dsn)
	return st, brk, func() {
		brk.Close()
		db.Close()
	}
}
