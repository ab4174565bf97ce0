package fleet

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// acquire returns an IDLE worker transitioned to BUSY, or queues the caller
// FIFO until one frees up. The wait is bounded by QueueMaxWait; exceeding it
// yields a queue timeout, never an unbounded block.
func (f *Fleet) acquire(ctx context.Context) (*Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	if w := f.pickIdleLocked(); w != nil {
		f.bindLocked(w)
		f.mu.Unlock()
		return w, nil
	}
	// Queueing on an empty fleet only makes sense when the operator has
	// opted into elasticity; otherwise fail fast instead of hanging.
	if f.liveCountLocked() == 0 && !f.cfg.AutoReplace {
		f.mu.Unlock()
		return nil, noWorkersError{}
	}
	if len(f.waiters) >= f.cfg.MaxQueueDepth {
		f.mu.Unlock()
		return nil, queueFullError{depth: f.cfg.MaxQueueDepth}
	}
	wt := &waiter{id: uuid.NewString()[:8], enqueued: time.Now(), ch: make(chan *Worker, 1)}
	f.waiters = append(f.waiters, wt)
	queueDepthGauge.Set(float64(len(f.waiters)))
	f.mu.Unlock()

	timer := time.NewTimer(f.cfg.QueueMaxWait)
	defer timer.Stop()
	select {
	case w := <-wt.ch:
		queueWaitSeconds.Observe(time.Since(wt.enqueued).Seconds())
		return w, nil
	case <-ctx.Done():
		f.abandon(wt)
		return nil, ctx.Err()
	case <-timer.C:
		f.abandon(wt)
		queueTimeoutsTotal.Inc()
		queueWaitSeconds.Observe(time.Since(wt.enqueued).Seconds())
		f.pub.Publish(Event{Name: "queue_timeout", Fields: map[string]any{"waited": time.Since(wt.enqueued).String()}})
		return nil, queueTimeoutError{wait: f.cfg.QueueMaxWait}
	}
}

// abandon removes a waiter after timeout or caller cancellation. If an
// assignment raced the timeout, the already-bound worker is handed back.
func (f *Fleet) abandon(wt *waiter) {
	f.mu.Lock()
	wt.done = true
	for i, q := range f.waiters {
		if q == wt {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			break
		}
	}
	queueDepthGauge.Set(float64(len(f.waiters)))
	f.mu.Unlock()
	select {
	case w := <-wt.ch:
		f.release(w, true)
	default:
	}
}

// release returns a BUSY worker to the pool. healthy=false demotes it
// instead; either way any waiter that can now be served is served.
func (f *Fleet) release(w *Worker, healthy bool) {
	f.mu.Lock()
	w.inflight = nil
	if w.State != StateBusy {
		// already demoted or pruned while serving
		f.mu.Unlock()
		return
	}
	if !healthy {
		f.markUnhealthyLocked(w, "upstream failure")
		f.mu.Unlock()
		f.maybeReplace()
		return
	}
	w.LastUsed = time.Now()
	f.setStateLocked(w, StateIdle)
	f.drainLocked()
	f.mu.Unlock()
}

// drainLocked pairs queued waiters with IDLE workers, oldest waiter first.
// Invariant: after any transition into IDLE this runs, so no worker stays
// idle while the queue is non-empty. Caller holds f.mu.
func (f *Fleet) drainLocked() {
	for len(f.waiters) > 0 {
		if f.waiters[0].done {
			f.waiters = f.waiters[1:]
			continue
		}
		w := f.pickIdleLocked()
		if w == nil {
			break
		}
		wt := f.waiters[0]
		f.waiters = f.waiters[1:]
		f.bindLocked(w)
		wt.ch <- w
	}
	queueDepthGauge.Set(float64(len(f.waiters)))
}

// pickIdleLocked selects the least-recently-used IDLE worker to spread load
// evenly across the fleet. Caller holds f.mu.
func (f *Fleet) pickIdleLocked() *Worker {
	var best *Worker
	for _, w := range f.workers {
		if w.State != StateIdle {
			continue
		}
		if best == nil || w.LastUsed.Before(best.LastUsed) {
			best = w
		}
	}
	return best
}

// bindLocked transitions an IDLE worker to BUSY. The request binding proper
// is attached by setInflight once the proxy has a cancelable context.
func (f *Fleet) bindLocked(w *Worker) {
	f.setStateLocked(w, StateBusy)
	w.LastUsed = time.Now()
}

// setInflight records the request bound to a busy worker so health demotion
// and prune can hard-cancel it.
func (f *Fleet) setInflight(w *Worker, requestID string, cancel context.CancelFunc) {
	f.mu.Lock()
	if w.State == StateBusy {
		w.inflight = &binding{requestID: requestID, cancel: cancel}
	}
	f.mu.Unlock()
}

// markUnhealthyLocked demotes a worker, cancels any bound request, and
// schedules container teardown. Terminal workers stay visible in snapshots
// (with their reason) until pruned. Caller holds f.mu.
func (f *Fleet) markUnhealthyLocked(w *Worker, reason string) {
	if w.State.terminal() {
		return
	}
	if w.inflight != nil {
		w.inflight.cancel()
		w.inflight = nil
	}
	w.Reason = reason
	f.setStateLocked(w, StateUnhealthy)
	f.cfg.Logger.Warn().Str("worker", w.ID).Str("reason", reason).Msg("worker demoted")
	f.pub.Publish(Event{Name: "worker_unhealthy", WorkerID: w.ID, Fields: map[string]any{"reason": reason}})
	if w.Handle != "" {
		f.wg.Add(1)
		go f.teardown(w)
	}
}

// demote is the unlocked form of markUnhealthyLocked.
func (f *Fleet) demote(w *Worker, reason string) {
	f.mu.Lock()
	f.markUnhealthyLocked(w, reason)
	f.mu.Unlock()
}

// teardown stops the container of a demoted worker. Best effort.
func (f *Fleet) teardown(w *Worker) {
	defer f.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := f.rt.Stop(ctx, w.Handle); err != nil {
		f.cfg.Logger.Warn().Str("worker", w.ID).Err(err).Msg("teardown failed")
	}
}

// maybeReplace spawns fresh workers up to the tracked desired size when
// auto-replace is configured.
func (f *Fleet) maybeReplace() {
	if !f.cfg.AutoReplace {
		return
	}
	f.mu.Lock()
	need := f.desired - f.liveCountLocked()
	f.mu.Unlock()
	for i := 0; i < need; i++ {
		f.spawnOne(true)
	}
}
