package fleet

import (
	"context"
	"sort"
	"time"
)

// Prune removes the matching worker, or the whole fleet when id is empty.
// BUSY workers have their in-flight request hard-cancelled; container removal
// completes before the call returns. Idempotent: pruning nothing returns an
// empty list, and terminal workers are swept along with live ones.
func (f *Fleet) Prune(ctx context.Context, id string) []string {
	f.mu.Lock()
	victims := make([]*Worker, 0, len(f.workers))
	for _, w := range f.workers {
		if id != "" && w.ID != id {
			continue
		}
		victims = append(victims, w)
	}
	sort.Slice(victims, func(i, j int) bool { return victims[i].Created.Before(victims[j].Created) })
	for _, w := range victims {
		if w.inflight != nil {
			w.inflight.cancel()
			w.inflight = nil
		}
		f.setStateLocked(w, StateRemoved)
		workersByState.WithLabelValues(string(StateRemoved)).Dec()
		delete(f.workers, w.ID)
		if f.desired > 0 {
			f.desired--
		}
		f.prunes++
	}
	f.mu.Unlock()

	removed := make([]string, 0, len(victims))
	for _, w := range victims {
		if w.Handle != "" {
			if err := f.rt.Stop(ctx, w.Handle); err != nil {
				f.cfg.Logger.Warn().Str("worker", w.ID).Err(err).Msg("prune stop failed")
			}
		}
		removed = append(removed, w.ID)
		prunesTotal.Inc()
		f.cfg.Logger.Info().Str("worker", w.ID).Msg("worker pruned")
		f.pub.Publish(Event{Name: "worker_removed", WorkerID: w.ID})
	}

	if id == "" {
		f.sweepUntracked(ctx)
	}
	return removed
}

// sweepUntracked removes label-matched containers the registry no longer
// tracks, including stopped ones left behind by earlier runs.
func (f *Fleet) sweepUntracked(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	containers, err := f.rt.List(sctx)
	if err != nil {
		f.cfg.Logger.Warn().Err(err).Msg("prune sweep list failed")
		return
	}
	for _, c := range containers {
		if err := f.rt.Stop(sctx, c.Handle); err != nil {
			f.cfg.Logger.Warn().Str("name", c.Name).Err(err).Msg("prune sweep stop failed")
		}
	}
}
