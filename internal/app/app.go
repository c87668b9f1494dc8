// Package app builds the verifier's components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dvloznov/invoice-verifier/internal/audit"
	"github.com/dvloznov/invoice-verifier/internal/config"
	"github.com/dvloznov/invoice-verifier/internal/extract"
	"github.com/dvloznov/invoice-verifier/internal/gcsuploader"
	infraBQ "github.com/dvloznov/invoice-verifier/internal/infra/bigquery"
	"github.com/dvloznov/invoice-verifier/internal/jobs"
	"github.com/dvloznov/invoice-verifier/internal/ledger"
	"github.com/dvloznov/invoice-verifier/internal/pipeline"
	"github.com/dvloznov/invoice-verifier/internal/rules"
	"github.com/dvloznov/invoice-verifier/internal/stream"
)

// App holds the wired components. Optional ones are nil when the
// configuration does not enable them.
type App struct {
	Config      *config.Config
	Log         zerolog.Logger
	Departments *pipeline.DepartmentDirectory
	Ledger      *ledger.Ledger
	Engine      *rules.Engine
	Audit       *audit.Log
	Hub         *stream.Hub
	Pipeline    *pipeline.Pipeline

	BigQuery *infraBQ.Client
	Storage  *gcsuploader.Storage
	Source   *extract.Source
	Redis    *redis.Client

	closers []func() error
}

// New wires every component described by cfg. On error, whatever was
// already opened is closed.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, log := a.Config, a.Log

	granularity, err := cfg.Granularity()
	if err != nil {
		return err
	}
	retry, err := cfg.RetryPolicy()
	if err != nil {
		return err
	}

	a.Departments = pipeline.NewDepartmentDirectory(cfg.Departments.Names, cfg.Departments.Aliases)

	if cfg.Audit.Backend == config.BackendBigQuery || cfg.Ledger.Journal == config.BackendBigQuery {
		a.BigQuery, err = infraBQ.NewClient(ctx, cfg.GCP.ProjectID, cfg.GCP.Dataset)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, a.BigQuery.Close)
	}

	if err := a.buildLedger(ctx); err != nil {
		return err
	}

	compiled, err := a.LoadRules()
	if err != nil {
		return err
	}
	a.Engine = rules.NewEngine(a.Ledger, compiled, log.With().Str("component", "rules").Logger())

	if err := a.buildAudit(ctx); err != nil {
		return err
	}

	a.Hub = stream.NewHub(log.With().Str("component", "stream").Logger())
	a.closers = append(a.closers, func() error { a.Hub.Close(); return nil })
	if cfg.Redis.Addr != "" {
		if err := a.startRelay(); err != nil {
			return err
		}
	}

	normOpts := []pipeline.NormalizerOption{pipeline.WithGranularity(granularity)}
	if cfg.Normalizer.Tolerance != nil {
		normOpts = append(normOpts, pipeline.WithTolerance(cfg.Normalizer.Tolerance.Decimal))
	}
	a.Pipeline = pipeline.NewVerificationPipeline(pipeline.Deps{
		Normalizer: pipeline.NewNormalizer(a.Departments, normOpts...),
		Engine:     a.Engine,
		Ledger:     a.Ledger,
		Audit:      a.Audit,
		Publisher:  a.Hub,
		Retry:      retry,
	}, log.With().Str("component", "pipeline").Logger())

	if cfg.GCP.Bucket != "" || cfg.GCP.ProjectID != "" {
		if err := a.buildSource(ctx); err != nil {
			return err
		}
	}

	return nil
}

func (a *App) buildLedger(ctx context.Context) error {
	opts := []ledger.Option{ledger.WithLogger(a.Log.With().Str("component", "ledger").Logger())}
	if a.Config.Ledger.Journal == config.BackendBigQuery {
		opts = append(opts, ledger.WithJournal(infraBQ.NewLedgerJournal(a.BigQuery)))
	}
	a.Ledger = ledger.New(opts...)

	for _, b := range a.Config.Budgets {
		department := b.Department
		if canonical, ok := a.Departments.Resolve(department); ok {
			department = canonical
		}
		if err := a.Ledger.Allocate(department, b.Period, b.Ceiling.Decimal); err != nil {
			return fmt.Errorf("allocate %s/%s: %w", department, b.Period, err)
		}
	}

	if a.Config.Ledger.Journal == config.BackendBigQuery {
		n, err := a.Ledger.Restore(ctx)
		if err != nil {
			return fmt.Errorf("restore ledger: %w", err)
		}
		a.Log.Info().Int("commits", n).Msg("Ledger restored from journal")
	}
	return nil
}

func (a *App) buildAudit(ctx context.Context) error {
	var store audit.Store
	switch a.Config.Audit.Backend {
	case config.BackendFile:
		fs, err := audit.NewFileStore(a.Config.Audit.Path)
		if err != nil {
			return err
		}
		store = fs
	case config.BackendBigQuery:
		store = infraBQ.NewAuditStore(a.BigQuery)
	default:
		store = audit.NewMemoryStore()
	}

	log, err := audit.New(ctx, store, audit.WithLogger(a.Log.With().Str("component", "audit").Logger()))
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	a.Audit = log
	return nil
}

func (a *App) startRelay() error {
	client, err := stream.NewRedisClient(a.Config.Redis.Addr, a.Config.Redis.Password, a.Config.Redis.DB)
	if err != nil {
		return err
	}
	a.Redis = client
	a.closers = append(a.closers, client.Close)

	relay := stream.NewRedisRelay(client, a.Config.Redis.Channel, a.Log.With().Str("component", "relay").Logger())
	sub := a.Hub.Subscribe(0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		relay.Run(ctx, sub)
	}()
	a.closers = append(a.closers, func() error {
		cancel()
		sub.Close()
		<-done
		return nil
	})
	a.Log.Info().Str("addr", a.Config.Redis.Addr).Str("channel", a.Config.Redis.Channel).Msg("Relaying activity to Redis")
	return nil
}

func (a *App) buildSource(ctx context.Context) error {
	st, err := gcsuploader.NewStorage(ctx)
	if err != nil {
		return err
	}
	a.Storage = st
	a.closers = append(a.closers, st.Close)

	var extractor extract.PDFExtractor
	if a.Config.GCP.ProjectID != "" {
		g, err := extract.NewGeminiExtractor(ctx, extract.Options{
			Project:     a.Config.GCP.ProjectID,
			Location:    a.Config.GCP.Location,
			Model:       a.Config.GCP.GeminiModel,
			Departments: a.Departments.Names(),
		}, a.Log.With().Str("component", "extract").Logger())
		if err != nil {
			return err
		}
		extractor = g
	}
	a.Source = extract.NewSource(st, extractor)
	return nil
}

// LoadRules compiles the configured rules, re-reading the rules file when
// one is configured.
func (a *App) LoadRules() ([]rules.Rule, error) {
	if a.Config.RulesFile != "" {
		return rules.LoadFile(a.Config.RulesFile)
	}
	return rules.Compile(a.Config.Rules)
}

// Fetcher returns the raw-field source for queued jobs, or nil when GCS is
// not configured.
func (a *App) Fetcher() jobs.RawFetcher {
	if a.Source == nil {
		return nil
	}
	return a.Source
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
