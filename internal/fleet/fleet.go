package fleet

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Fleet owns the worker registry and the dispatch queue. It is the single
// source of truth: every state transition happens under mu inside this
// package, so concurrent dispatch, probing, and lifecycle changes cannot
// race each other.
type Fleet struct {
	cfg Config
	rt  WorkerRuntime
	pub EventPublisher

	mu      sync.Mutex
	workers map[string]*Worker
	waiters []*waiter
	desired int // admin-intended fleet size, tracked for auto-replace

	retries uint64
	spawns  uint64
	prunes  uint64

	startTime time.Time
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New constructs a Fleet over the given runtime. Call Start to adopt
// pre-existing workers and begin health monitoring.
func New(rt WorkerRuntime, cfg Config) *Fleet {
	cfg = cfg.withDefaults()
	return &Fleet{
		cfg:       cfg,
		rt:        rt,
		pub:       cfg.Publisher,
		workers:   make(map[string]*Worker),
		startTime: time.Now(),
		stopCh:    make(chan struct{}),
	}
}

// Start discovers worker containers left over from a previous run and adopts
// them, then launches the health monitor. Safe to call once.
func (f *Fleet) Start(ctx context.Context) {
	f.adopt(ctx)
	f.wg.Add(1)
	go f.monitor()
}

// adopt registers already-running label-matched containers as provisioning;
// the normal readiness watch decides whether they become idle.
func (f *Fleet) adopt(ctx context.Context) {
	containers, err := f.rt.List(ctx)
	if err != nil {
		f.cfg.Logger.Warn().Err(err).Msg("discover existing workers")
		return
	}
	for _, c := range containers {
		w := &Worker{
			ID:       newWorkerID(),
			Name:     c.Name,
			Handle:   c.Handle,
			Endpoint: c.BaseURL,
			Model:    f.cfg.DefaultModel,
			State:    StateProvisioning,
			Created:  time.Now(),
		}
		f.mu.Lock()
		f.workers[w.ID] = w
		f.desired++
		f.mu.Unlock()
		workersByState.WithLabelValues(string(StateProvisioning)).Inc()
		f.cfg.Logger.Info().Str("worker", w.ID).Str("name", c.Name).Msg("adopted existing worker")
		f.pub.Publish(Event{Name: "worker_adopted", WorkerID: w.ID, Fields: map[string]any{"name": c.Name}})
		f.wg.Add(1)
		go func(w *Worker) {
			defer f.wg.Done()
			pctx, cancel := context.WithTimeout(context.Background(), f.cfg.ProvisionTimeout)
			defer cancel()
			f.watchReadiness(pctx, w)
		}(w)
	}
}

// Close stops background loops and cancels in-flight upstream calls. Worker
// containers are left running so a restarted gateway can adopt them.
func (f *Fleet) Close() {
	f.stopOnce.Do(func() { close(f.stopCh) })
	f.mu.Lock()
	for _, w := range f.workers {
		if w.inflight != nil {
			w.inflight.cancel()
		}
	}
	f.mu.Unlock()
	f.wg.Wait()
}

// setStateLocked is the only place a worker's state changes. Keeps the
// per-state gauge consistent. Caller holds f.mu.
func (f *Fleet) setStateLocked(w *Worker, s State) {
	if w.State == s {
		return
	}
	workersByState.WithLabelValues(string(w.State)).Dec()
	workersByState.WithLabelValues(string(s)).Inc()
	w.State = s
}

// liveCountLocked counts workers that are serving or will serve.
func (f *Fleet) liveCountLocked() int {
	n := 0
	for _, w := range f.workers {
		if !w.State.terminal() {
			n++
		}
	}
	return n
}

func newWorkerID() string { return "w-" + uuid.NewString()[:8] }
