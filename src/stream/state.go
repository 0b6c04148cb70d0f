package stream

import (
	"sort"
	"sync"
	"time"
)

type State string

const (
	StateDisconnected   State = "DISCONNECTED"
	StateConnecting     State = "CONNECTING"
	StateAuthenticating State = "AUTHENTICATING"
	StateSubscribed     State = "SUBSCRIBED"
	StateFailed         State = "FAILED"
)

// Status is the externally visible view of one stream connection.
type Status struct {
	ConnectionID uint      `json:"connection_id"`
	UserID       uint      `json:"user_id"`
	State        State     `json:"state"`
	Failures     int       `json:"failures"`
	LastError    string    `json:"last_error,omitempty"`
	Since        time.Time `json:"since"`
	TradesSaved  int       `json:"trades_saved"`
}

// Registry holds the latest status of every stream in the process.
type Registry struct {
	mu       sync.RWMutex
	statuses map[uint]Status
}

func NewRegistry() *Registry {
	return &Registry{statuses: make(map[uint]Status)}
}

func (r *Registry) set(s Status) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.statuses[s.ConnectionID] = s
	r.mu.Unlock()
}

func (r *Registry) Get(connectionID uint) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.statuses[connectionID]
	return s, ok
}

// List returns all statuses ordered by connection id.
func (r *Registry) List() []Status {
	r.mu.RLock()
	out := make([]Status, 0, len(r.statuses))
	for _, s := range r.statuses {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}
