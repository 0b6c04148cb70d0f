package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"tradejournal/src/connectors"
	"tradejournal/src/events"
	"tradejournal/src/jobs"
	"tradejournal/src/model"
	"tradejournal/src/repository"
)

const TypeSyncReport = "sync.report"

var (
	ErrConnectionInactive = errors.New("reconcile: connection is inactive")
	ErrAllUnitsFailed     = errors.New("reconcile: every sync unit failed")
)

// CredentialOpener decrypts a stored api key and secret pair.
type CredentialOpener interface {
	DecryptPair(encKey, encSecret string) (string, string, error)
}

// AdapterFactory builds an exchange adapter for one set of credentials.
type AdapterFactory func(apiKey, apiSecret string) connectors.Adapter

// NewBybitAdapterFactory returns a factory of Bybit REST clients.
func NewBybitAdapterFactory(config connectors.Config) AdapterFactory {
	return func(apiKey, apiSecret string) connectors.Adapter {
		return connectors.NewBybitClient(apiKey, apiSecret, config)
	}
}

// Service loads a connection, runs the engine on it and records the outcome
// on the connection row.
type Service struct {
	Connections repository.ConnectionRepository
	Trades      repository.TradeRepository
	Executions  repository.ExecutionRepository
	Ledger      repository.FillLedger
	Credentials CredentialOpener
	NewAdapter  AdapterFactory
	Events      events.Publisher
	Config      Config

	now func() time.Time
}

func NewService(
	connections repository.ConnectionRepository,
	trades repository.TradeRepository,
	executions repository.ExecutionRepository,
	credentials CredentialOpener,
	newAdapter AdapterFactory,
	publisher events.Publisher,
	config Config,
) *Service {
	return &Service{
		Connections: connections,
		Trades:      trades,
		Executions:  executions,
		Credentials: credentials,
		NewAdapter:  newAdapter,
		Events:      publisher,
		Config:      config,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) FullSync(ctx context.Context, connectionID uint) (*Report, error) {
	return s.run(ctx, connectionID, KindFull)
}

func (s *Service) QuickSync(ctx context.Context, connectionID uint) (*Report, error) {
	return s.run(ctx, connectionID, KindQuick)
}

func (s *Service) run(ctx context.Context, connectionID uint, kind string) (*Report, error) {
	log := logger.WithFields(logger.Fields{
		"connection_id": connectionID,
		"kind":          kind,
	})

	conn, err := s.Connections.GetByID(ctx, connectionID)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && conn == nil) {
		return nil, jobs.Permanent(fmt.Errorf("connection %d not found", connectionID))
	}
	if err != nil {
		return nil, fmt.Errorf("load connection %d: %w", connectionID, err)
	}
	if !conn.IsActive {
		return nil, jobs.Permanent(ErrConnectionInactive)
	}

	apiKey, apiSecret, err := s.Credentials.DecryptPair(conn.APIKeyHash, conn.APISecretHash)
	if err != nil {
		s.recordError(ctx, conn, err)
		return nil, jobs.Permanent(fmt.Errorf("decrypt credentials: %w", err))
	}

	engine := NewEngine(s.NewAdapter(apiKey, apiSecret), s.Trades, s.Executions, s.Config).WithLedger(s.Ledger)
	engine.now = s.now

	var report *Report
	if kind == KindQuick {
		report, err = engine.QuickSync(ctx, conn)
	} else {
		report, err = engine.FullSync(ctx, conn)
	}

	if err != nil {
		if connectors.IsAuthError(err) {
			reason := "exchange rejected credentials: " + err.Error()
			if derr := s.Connections.Deactivate(ctx, conn.ID, reason); derr != nil {
				log.WithError(derr).Error("Failed to deactivate connection")
			}
			log.WithError(err).Warn("Connection deactivated after auth failure")
			s.emitReport(ctx, conn, report)
			return report, jobs.Permanent(err)
		}
		s.recordError(ctx, conn, err)
		return report, err
	}

	s.emitReport(ctx, conn, report)
	log.WithFields(report.Fields()).Info("Sync finished")

	if report.Complete() {
		if err := s.Connections.MarkSynced(ctx, conn.ID, syncKind(kind), report.FinishedAt); err != nil {
			return report, fmt.Errorf("mark synced: %w", err)
		}
		return report, nil
	}

	s.recordError(ctx, conn, fmt.Errorf("%d of %d units failed: %v", report.UnitErrors, report.Units, report.Errors))
	if report.UnitErrors == report.Units {
		return report, ErrAllUnitsFailed
	}
	return report, nil
}

func syncKind(kind string) string {
	if kind == KindQuick {
		return repository.SyncKindQuick
	}
	return repository.SyncKindFull
}

func (s *Service) recordError(ctx context.Context, conn *model.ExchangeConnection, err error) {
	if rerr := s.Connections.RecordError(ctx, conn.ID, err.Error()); rerr != nil {
		logger.WithError(rerr).WithField("connection_id", conn.ID).Error("Failed to record sync error")
	}
}

func (s *Service) emitReport(ctx context.Context, conn *model.ExchangeConnection, report *Report) {
	if report == nil {
		return
	}
	events.Emit(ctx, s.Events, events.Event{
		Type:         TypeSyncReport,
		Kind:         report.Kind,
		UserID:       conn.UserID,
		ConnectionID: conn.ID,
		Exchange:     conn.Exchange,
		Detail:       report,
	})
}

// Job wraps a sync of one connection with the retry policy of its kind.
func (s *Service) Job(conn model.ExchangeConnection, kind string) jobs.Job {
	job := jobs.Job{
		Name:         kind + "-sync-" + strconv.FormatUint(uint64(conn.ID), 10),
		Kind:         kind,
		UserID:       conn.UserID,
		ConnectionID: conn.ID,
		Exchange:     conn.Exchange,
	}
	id := conn.ID
	if kind == KindQuick {
		job.Backoff = jobs.QuickSyncBackoff
		job.Timeout = s.Config.QuickSyncTimeout
		job.Run = func(ctx context.Context) error {
			_, err := s.QuickSync(ctx, id)
			return err
		}
		return job
	}
	job.Backoff = jobs.FullSyncBackoff
	job.Timeout = s.Config.FullSyncTimeout
	job.Run = func(ctx context.Context) error {
		_, err := s.FullSync(ctx, id)
		return err
	}
	return job
}
