package executors

import (
	"context"
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
	"tradejournal/src/jobs"
	"tradejournal/src/model"
	"tradejournal/src/reconcile"
	"tradejournal/src/retention"
	"tradejournal/src/structure"
)

const (
	KindStructure = "structure"
	KindCleanup   = "cleanup"
)

type connectionLister interface {
	ListActive(ctx context.Context) ([]model.ExchangeConnection, error)
}

type syncJobs interface {
	Job(conn model.ExchangeConnection, kind string) jobs.Job
}

type submitter interface {
	Submit(ctx context.Context, job jobs.Job) error
}

type structureRefresher interface {
	RefreshAll(ctx context.Context) (*structure.RefreshReport, error)
}

type cleaner interface {
	Run(ctx context.Context) (*retention.Report, error)
}

type streamStarter interface {
	Ensure(ctx context.Context, conn model.ExchangeConnection) (bool, error)
}

// Scheduler is the worker loop. Every tick it queues the due full syncs,
// keeps one stream per stream-enabled connection, and queues the structure
// refresh and retention cleanup when their intervals have passed.
type Scheduler struct {
	Connections connectionLister
	Syncs       syncJobs
	Pool        submitter
	Structures  structureRefresher // optional
	Cleaner     cleaner            // optional
	Streams     streamStarter      // optional
	Config      Config

	StructureInterval time.Duration
	CleanupInterval   time.Duration

	now           func() time.Time
	lastStructure time.Time
	lastCleanup   time.Time
	log           *logger.Entry
}

func NewScheduler(connections connectionLister, syncs syncJobs, pool submitter, config Config) *Scheduler {
	return &Scheduler{
		Connections:       connections,
		Syncs:             syncs,
		Pool:              pool,
		Config:            config,
		StructureInterval: 5 * time.Minute,
		CleanupInterval:   24 * time.Hour,
		now:               func() time.Time { return time.Now().UTC() },
		log:               logger.WithField("component", "scheduler"),
	}
}

// TickReport summarises what one tick queued.
type TickReport struct {
	Connections    int
	SyncsQueued    int
	StreamsStarted int
	Structure      bool
	Cleanup        bool
}

func (s *Scheduler) StartLoop(ctx context.Context) error {
	if s.Config.LoopPeriod <= 0 {
		return errors.New("loop period must be positive")
	}
	ticker := time.NewTicker(s.Config.LoopPeriod)
	defer ticker.Stop()

	s.log.WithField("period", s.Config.LoopPeriod.String()).Info("Scheduler started")
	for {
		if _, err := s.Tick(ctx); err != nil {
			s.log.WithError(err).Error("Scheduler tick failed")
		}
		select {
		case <-ctx.Done():
			s.log.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one scheduling pass. Listing failures abort the pass; a single
// connection failing to queue or stream is logged and skipped.
func (s *Scheduler) Tick(ctx context.Context) (*TickReport, error) {
	now := s.now()
	report := &TickReport{}

	conns, err := s.Connections.ListActive(ctx)
	if err != nil {
		return report, fmt.Errorf("list active connections: %w", err)
	}
	report.Connections = len(conns)

	for _, conn := range conns {
		log := s.log.WithFields(logger.Fields{"connection_id": conn.ID, "user_id": conn.UserID})
		if conn.SyncDue(now) {
			if err := s.Pool.Submit(ctx, s.Syncs.Job(conn, reconcile.KindFull)); err != nil {
				log.WithError(err).Error("Failed to queue full sync")
			} else {
				report.SyncsQueued++
			}
		}
		if s.Streams != nil && s.Config.EnableStreams && conn.StreamEnabled {
			started, err := s.Streams.Ensure(ctx, conn)
			if err != nil {
				log.WithError(err).Warn("Failed to start stream")
			} else if started {
				report.StreamsStarted++
			}
		}
	}

	if s.Structures != nil && s.Config.EnableStructure && due(s.lastStructure, s.StructureInterval, now) {
		if err := s.Pool.Submit(ctx, s.structureJob()); err != nil {
			s.log.WithError(err).Error("Failed to queue structure refresh")
		} else {
			s.lastStructure = now
			report.Structure = true
		}
	}
	if s.Cleaner != nil && s.Config.EnableCleanup && due(s.lastCleanup, s.CleanupInterval, now) {
		if err := s.Pool.Submit(ctx, s.cleanupJob()); err != nil {
			s.log.WithError(err).Error("Failed to queue cleanup")
		} else {
			s.lastCleanup = now
			report.Cleanup = true
		}
	}

	s.log.WithFields(logger.Fields{
		"connections": report.Connections,
		"syncs":       report.SyncsQueued,
		"streams":     report.StreamsStarted,
	}).Debug("Scheduler tick")
	return report, nil
}

func due(last time.Time, every time.Duration, now time.Time) bool {
	return last.IsZero() || !now.Before(last.Add(every))
}

func (s *Scheduler) structureJob() jobs.Job {
	return jobs.Job{
		Name:    "structure-refresh",
		Kind:    KindStructure,
		Timeout: s.Config.StructureTimeout,
		Run: func(ctx context.Context) error {
			_, err := s.Structures.RefreshAll(ctx)
			return err
		},
	}
}

func (s *Scheduler) cleanupJob() jobs.Job {
	return jobs.Job{
		Name:    "retention-cleanup",
		Kind:    KindCleanup,
		Timeout: s.Config.CleanupTimeout,
		Run: func(ctx context.Context) error {
			_, err := s.Cleaner.Run(ctx)
			return err
		},
	}
}
