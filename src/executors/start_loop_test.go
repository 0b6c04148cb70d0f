package executors

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tradejournal/src/jobs"
	"tradejournal/src/model"
	"tradejournal/src/retention"
	"tradejournal/src/structure"
)

type fakeConnections struct {
	conns []model.ExchangeConnection
	err   error
}

func (f *fakeConnections) ListActive(context.Context) ([]model.ExchangeConnection, error) {
	return f.conns, f.err
}

type fakeSyncs struct{ runs int32 }

func (f *fakeSyncs) Job(conn model.ExchangeConnection, kind string) jobs.Job {
	return jobs.Job{
		Name:         kind + "-sync",
		Kind:         kind,
		ConnectionID: conn.ID,
		Run: func(context.Context) error {
			atomic.AddInt32(&f.runs, 1)
			return nil
		},
	}
}

type recordingPool struct {
	mu   sync.Mutex
	jobs []jobs.Job
	err  error
}

func (p *recordingPool) Submit(_ context.Context, job jobs.Job) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *recordingPool) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, j := range p.jobs {
		out = append(out, j.Name)
	}
	return out
}

type fakeStreams struct {
	ensured map[uint]bool
}

func (f *fakeStreams) Ensure(_ context.Context, conn model.ExchangeConnection) (bool, error) {
	if f.ensured[conn.ID] {
		return false, nil
	}
	f.ensured[conn.ID] = true
	return true, nil
}

type fakeRefresher struct{ calls int }

func (f *fakeRefresher) RefreshAll(context.Context) (*structure.RefreshReport, error) {
	f.calls++
	return &structure.RefreshReport{}, nil
}

type fakeCleaner struct{ calls int }

func (f *fakeCleaner) Run(context.Context) (*retention.Report, error) {
	f.calls++
	return &retention.Report{}, nil
}

var base = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func testConnections() *fakeConnections {
	recent := base.Add(-time.Hour)
	return &fakeConnections{conns: []model.ExchangeConnection{
		{ID: 1, UserID: 1, IsActive: true, AutoSync: true},
		{ID: 2, UserID: 2, IsActive: true, AutoSync: true, SyncIntervalHours: 4, LastSyncAt: &recent},
		{ID: 3, UserID: 3, IsActive: true, AutoSync: false, StreamEnabled: true},
	}}
}

func newTestScheduler(conns *fakeConnections, pool submitter) (*Scheduler, *fakeStreams, *fakeRefresher, *fakeCleaner) {
	config := Config{LoopPeriod: time.Minute, EnableStreams: true, EnableStructure: true, EnableCleanup: true}
	s := NewScheduler(conns, &fakeSyncs{}, pool, config)
	streams := &fakeStreams{ensured: map[uint]bool{}}
	refresher := &fakeRefresher{}
	cl := &fakeCleaner{}
	s.Streams = streams
	s.Structures = refresher
	s.Cleaner = cl
	s.now = func() time.Time { return base }
	return s, streams, refresher, cl
}

// Only due connections get a full sync; streams follow the per-connection flag.
func TestTickQueuesDueSyncsAndStreams(t *testing.T) {
	pool := &recordingPool{}
	s, streams, _, _ := newTestScheduler(testConnections(), pool)

	report, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Connections != 3 || report.SyncsQueued != 1 || report.StreamsStarted != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if !streams.ensured[3] || streams.ensured[1] {
		t.Fatalf("unexpected streams: %v", streams.ensured)
	}

	var syncs []jobs.Job
	for _, j := range pool.jobs {
		if j.Kind == "full" {
			syncs = append(syncs, j)
		}
	}
	if len(syncs) != 1 || syncs[0].ConnectionID != 1 {
		t.Fatalf("expected one full sync for connection 1, got %+v", syncs)
	}

	// a running stream is not started twice
	report, _ = s.Tick(context.Background())
	if report.StreamsStarted != 0 {
		t.Fatalf("stream started again: %+v", report)
	}
}

// Structure refresh and cleanup follow their own intervals.
func TestTickIntervals(t *testing.T) {
	pool := &recordingPool{}
	s, _, _, _ := newTestScheduler(&fakeConnections{}, pool)
	ctx := context.Background()

	report, _ := s.Tick(ctx)
	if !report.Structure || !report.Cleanup {
		t.Fatalf("first tick should queue both: %+v", report)
	}

	s.now = func() time.Time { return base.Add(time.Minute) }
	report, _ = s.Tick(ctx)
	if report.Structure || report.Cleanup {
		t.Fatalf("nothing is due after a minute: %+v", report)
	}

	s.now = func() time.Time { return base.Add(6 * time.Minute) }
	report, _ = s.Tick(ctx)
	if !report.Structure || report.Cleanup {
		t.Fatalf("only structure is due: %+v", report)
	}

	want := []string{"structure-refresh", "retention-cleanup", "structure-refresh"}
	got := pool.names()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestTickDisabledFeatures(t *testing.T) {
	pool := &recordingPool{}
	s, streams, _, _ := newTestScheduler(testConnections(), pool)
	s.Config.EnableStreams = false
	s.Config.EnableStructure = false
	s.Config.EnableCleanup = false

	report, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.StreamsStarted != 0 || report.Structure || report.Cleanup || len(streams.ensured) != 0 {
		t.Fatalf("disabled features ran: %+v", report)
	}
}

func TestTickListError(t *testing.T) {
	s, _, _, _ := newTestScheduler(&fakeConnections{err: errors.New("db down")}, &recordingPool{})
	if _, err := s.Tick(context.Background()); err == nil {
		t.Fatalf("expected error, got nil")
	}
}

// A full queue is logged and the tick carries on.
func TestTickSubmitError(t *testing.T) {
	s, _, _, _ := newTestScheduler(testConnections(), &recordingPool{err: errors.New("pool closed")})
	report, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.SyncsQueued != 0 || report.Structure || report.Cleanup {
		t.Fatalf("nothing should be queued: %+v", report)
	}
	if report.StreamsStarted != 1 {
		t.Fatalf("streams do not depend on the pool: %+v", report)
	}
}

// Jobs queued by the scheduler run on the ants backed pool.
func TestTickRunsOnPool(t *testing.T) {
	pool, err := jobs.NewPool(2, jobs.NewRunner(jobs.NewMemoryGuard(), nil, nil))
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Release()

	conns := testConnections()
	syncs := &fakeSyncs{}
	s, _, refresher, cl := newTestScheduler(conns, pool)
	s.Syncs = syncs

	if _, err := s.Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pool.Wait()

	if atomic.LoadInt32(&syncs.runs) != 1 {
		t.Fatalf("expected one sync run, got %d", syncs.runs)
	}
	if refresher.calls != 1 || cl.calls != 1 {
		t.Fatalf("expected structure and cleanup to run once, got %d %d", refresher.calls, cl.calls)
	}
}

func TestStartLoopStopsOnCancel(t *testing.T) {
	s, _, _, _ := newTestScheduler(&fakeConnections{}, &recordingPool{})
	s.Config.LoopPeriod = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.StartLoop(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("loop did not stop")
	}

	s.Config.LoopPeriod = 0
	if err := s.StartLoop(context.Background()); err == nil {
		t.Fatalf("expected error for zero period")
	}
}
