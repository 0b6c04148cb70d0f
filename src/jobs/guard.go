package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	logger "github.com/sirupsen/logrus"
)

// Guard grants at most one holder per job name. hold is the longest the
// caller can keep the name; zero means unknown.
type Guard interface {
	TryAcquire(ctx context.Context, name string, hold time.Duration) (release func(), ok bool, err error)
}

// MemoryGuard is the in-process guard used by a single worker.
type MemoryGuard struct {
	mu      sync.Mutex
	running map[string]bool
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{running: make(map[string]bool)}
}

func (g *MemoryGuard) TryAcquire(_ context.Context, name string, _ time.Duration) (func(), bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running[name] {
		return nil, false, nil
	}
	g.running[name] = true
	return func() {
		g.mu.Lock()
		delete(g.running, name)
		g.mu.Unlock()
	}, true, nil
}

// Running reports whether name is currently held.
func (g *MemoryGuard) Running(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running[name]
}

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard shares the lock between worker processes. The TTL bounds how
// long a crashed holder can block a job name; it never ends before the
// holder's own budget runs out.
type RedisGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, prefix: "tradejournal:job:", ttl: ttl}
}

func NewRedisClient(config Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Username: config.RedisUser,
		Password: config.RedisPass,
		DB:       config.RedisDB,
	})
}

// holdSlack covers the gap between acquiring the lock and the first attempt.
const holdSlack = time.Minute

func (g *RedisGuard) lockTTL(hold time.Duration) time.Duration {
	if hold > 0 && hold+holdSlack > g.ttl {
		return hold + holdSlack
	}
	return g.ttl
}

func (g *RedisGuard) TryAcquire(ctx context.Context, name string, hold time.Duration) (func(), bool, error) {
	key := g.prefix + name
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, key, token, g.lockTTL(hold)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis guard %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		// the job context may already be gone
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, g.client, []string{key}, token).Err(); err != nil {
			logger.WithError(err).WithField("job", name).Warn("Failed to release redis job guard")
		}
	}, true, nil
}

// NewGuard picks the guard backend from config.
func NewGuard(config Config) (Guard, error) {
	switch config.GuardBackend {
	case "", "memory":
		return NewMemoryGuard(), nil
	case "redis":
		client := NewRedisClient(config)
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return NewRedisGuard(client, config.GuardTTL), nil
	default:
		return nil, fmt.Errorf("unknown JOB_GUARD %q", config.GuardBackend)
	}
}
