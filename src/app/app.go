package app

import (
	"errors"
	"fmt"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"tradejournal/src/connectors"
	"tradejournal/src/events"
	"tradejournal/src/executors"
	"tradejournal/src/jobs"
	"tradejournal/src/reconcile"
	"tradejournal/src/repository"
	"tradejournal/src/retention"
	"tradejournal/src/security"
	"tradejournal/src/stream"
	"tradejournal/src/structure"
)

// Options carries every package configuration the process needs.
type Options struct {
	Connectors connectors.Config
	Reconcile  reconcile.Config
	Stream     stream.Config
	Structure  structure.Config
	Retention  retention.Config
	Executors  executors.Config

	Cipher *security.Cipher
	Guard  jobs.Guard
	Events events.Publisher
}

// OptionsFromEnv reads every package config from the environment.
func OptionsFromEnv() (Options, error) {
	cipher, err := security.NewCipherFromConfig()
	if err != nil {
		return Options{}, fmt.Errorf("credentials cipher: %w", err)
	}
	guard, err := jobs.NewGuard(jobs.GetConfig())
	if err != nil {
		return Options{}, fmt.Errorf("job guard: %w", err)
	}
	return Options{
		Connectors: connectors.GetConfig(),
		Reconcile:  reconcile.GetConfig(),
		Stream:     stream.GetConfig(),
		Structure:  structure.GetConfig(),
		Retention:  retention.GetConfig(),
		Executors:  executors.GetConfig(),
		Cipher:     cipher,
		Guard:      guard,
		Events:     events.NewFromConfig(events.GetConfig()),
	}, nil
}

// App is the wired process: repositories, services and the job runner over
// one database.
type App struct {
	DB          *gorm.DB
	Connections *repository.GormConnectionRepository
	Trades      *repository.GormTradeRepository
	Executions  *repository.GormExecutionRepository
	Structures  *repository.GormMarketStructureRepository
	Candles     *repository.GormCandleRepository
	Exceptions  *repository.ExceptionRepository

	Events    events.Publisher
	Sync      *reconcile.Service
	Structure *structure.Service
	Cleaner   *retention.Cleaner
	Registry  *stream.Registry
	Streams   *stream.Manager
	Runner    *jobs.Runner
	Options   Options
}

func New(db *gorm.DB, opts Options) (*App, error) {
	if db == nil {
		return nil, errors.New("app: nil database")
	}
	if opts.Cipher == nil {
		return nil, errors.New("app: credentials cipher is required")
	}
	if opts.Guard == nil {
		opts.Guard = jobs.NewMemoryGuard()
	}
	if opts.Events == nil {
		opts.Events = events.NewLogPublisher()
	}

	a := &App{
		DB:          db,
		Connections: repository.NewConnectionRepositoryWithDB(db),
		Trades:      repository.NewTradeRepositoryWithDB(db),
		Executions:  repository.NewExecutionRepositoryWithDB(db),
		Structures:  repository.NewMarketStructureRepositoryWithDB(db),
		Candles:     repository.NewCandleRepositoryWithDB(db),
		Exceptions:  repository.NewExceptionRepositoryWithDB(db),
		Events:      opts.Events,
		Registry:    stream.NewRegistry(),
		Options:     opts,
	}

	a.Sync = reconcile.NewService(
		a.Connections,
		a.Trades,
		a.Executions,
		opts.Cipher,
		reconcile.NewBybitAdapterFactory(opts.Connectors),
		opts.Events,
		opts.Reconcile,
	)
	a.Sync.Ledger = repository.NewFillLedgerWithDB(db)

	// klines are public, the candle client carries no credentials
	candles := connectors.NewCandleSource(opts.Connectors, connectors.NewBybitClient("", "", opts.Connectors))
	if bybit, ok := candles.(*connectors.BybitCandleSource); ok && opts.Structure.Category != "" {
		bybit.Category = opts.Structure.Category
	}
	a.Structure = structure.NewService(candles, a.Structures, a.Executions, a.Trades, opts.Structure)
	a.Structure.Cache = a.Candles

	a.Cleaner = retention.NewCleaner(db, opts.Retention)
	a.Streams = stream.NewManager(a.Trades, a.Connections, opts.Cipher, a.Registry, opts.Events, opts.Stream)
	a.Runner = jobs.NewRunner(opts.Guard, a.Exceptions, opts.Events)

	logger.WithFields(logger.Fields{
		"candles": fmt.Sprintf("%T", candles),
		"guard":   fmt.Sprintf("%T", opts.Guard),
	}).Debug("Application wired")
	return a, nil
}

// NewScheduler builds the worker loop on an ants pool of the configured
// size. The caller releases the pool.
func (a *App) NewScheduler() (*executors.Scheduler, *jobs.Pool, error) {
	size := a.Options.Executors.PoolSize
	if size <= 0 {
		size = 1
	}
	pool, err := jobs.NewPool(size, a.Runner)
	if err != nil {
		return nil, nil, fmt.Errorf("worker pool: %w", err)
	}
	s := executors.NewScheduler(a.Connections, a.Sync, pool, a.Options.Executors)
	s.Structures = a.Structure
	s.Cleaner = a.Cleaner
	s.Streams = a.Streams
	if a.Options.Structure.RefreshInterval > 0 {
		s.StructureInterval = a.Options.Structure.RefreshInterval
	}
	if a.Options.Retention.Interval > 0 {
		s.CleanupInterval = a.Options.Retention.Interval
	}
	return s, pool, nil
}
