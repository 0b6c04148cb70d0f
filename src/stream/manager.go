package stream

import (
	"context"
	"fmt"
	"sync"

	logger "github.com/sirupsen/logrus"
	"tradejournal/src/connectors"
	"tradejournal/src/events"
	"tradejournal/src/model"
	"tradejournal/src/repository"
)

type CredentialOpener interface {
	DecryptPair(encKey, encSecret string) (string, string, error)
}

// Manager runs at most one Correlator per connection.
type Manager struct {
	Trades      repository.TradeRepository
	Connections repository.ConnectionRepository
	Credentials CredentialOpener
	Registry    *Registry
	Events      events.Publisher
	Config      Config

	mu      sync.Mutex
	running map[uint]context.CancelFunc
	wg      sync.WaitGroup
}

func NewManager(
	trades repository.TradeRepository,
	connections repository.ConnectionRepository,
	credentials CredentialOpener,
	registry *Registry,
	publisher events.Publisher,
	config Config,
) *Manager {
	return &Manager{
		Trades:      trades,
		Connections: connections,
		Credentials: credentials,
		Registry:    registry,
		Events:      publisher,
		Config:      config,
		running:     make(map[uint]context.CancelFunc),
	}
}

// Ensure starts a stream for conn unless one is already running. It reports
// whether a new stream was started.
func (m *Manager) Ensure(ctx context.Context, conn model.ExchangeConnection) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.running[conn.ID]; ok {
		return false, nil
	}

	key, secret, err := m.Credentials.DecryptPair(conn.APIKeyHash, conn.APISecretHash)
	if err != nil {
		return false, fmt.Errorf("stream %d: decrypt credentials: %w", conn.ID, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.running[conn.ID] = cancel
	c := NewCorrelator(conn, key, secret, m.Trades, m.Registry, m.Events, m.Config)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := c.Run(runCtx)
		if connectors.IsAuthError(err) && m.Connections != nil {
			if derr := m.Connections.Deactivate(context.WithoutCancel(runCtx), conn.ID, "stream auth rejected: "+err.Error()); derr != nil {
				logger.WithError(derr).WithField("connection_id", conn.ID).Error("Failed to deactivate connection")
			}
		}
		m.mu.Lock()
		delete(m.running, conn.ID)
		m.mu.Unlock()
		cancel()
	}()
	return true, nil
}

// Stop cancels the stream of one connection.
func (m *Manager) Stop(connectionID uint) {
	m.mu.Lock()
	cancel, ok := m.running[connectionID]
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

// Running lists connection ids with a live stream goroutine.
func (m *Manager) Running() []uint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint, 0, len(m.running))
	for id := range m.running {
		out = append(out, id)
	}
	return out
}

// Shutdown cancels every stream and waits for them to exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
