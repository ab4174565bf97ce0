package fleet

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// monitor runs the periodic probe cycle until Close.
func (f *Fleet) monitor() {
	defer f.wg.Done()
	t := time.NewTicker(f.cfg.ProbeInterval)
	defer t.Stop()
	for {
		select {
		case <-f.stopCh:
			return
		case <-t.C:
			f.probeAll()
		}
	}
}

// probeAll probes every serving worker concurrently. Provisioning workers
// are covered by their own readiness watch and skipped here.
func (f *Fleet) probeAll() {
	f.mu.Lock()
	targets := make([]*Worker, 0, len(f.workers))
	for _, w := range f.workers {
		if w.State == StateIdle || w.State == StateBusy {
			targets = append(targets, w)
		}
	}
	f.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range targets {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			f.probeOne(w)
		}(w)
	}
	wg.Wait()
}

// probeOne probes a single worker and applies the consecutive-failure
// threshold. A demoted BUSY worker has its bound request hard-cancelled;
// the proxy layer decides between re-dispatch and surfacing the loss based
// on whether response bytes already reached the caller.
func (f *Fleet) probeOne(w *Worker) {
	ok := f.probe(w.Endpoint)
	f.mu.Lock()
	if w.State != StateIdle && w.State != StateBusy {
		f.mu.Unlock()
		return
	}
	if ok {
		w.Fails = 0
		w.LastProbe = time.Now()
		f.mu.Unlock()
		return
	}
	w.Fails++
	probeFailuresTotal.Inc()
	f.pub.Publish(Event{Name: "probe_fail", WorkerID: w.ID, Fields: map[string]any{"consecutive": w.Fails}})
	if w.Fails < f.cfg.ProbeFailureThreshold {
		f.mu.Unlock()
		return
	}
	f.markUnhealthyLocked(w, "missed health probes")
	f.mu.Unlock()
	f.maybeReplace()
}

// probe checks reachability of a worker's list endpoint.
func (f *Fleet) probe(endpoint string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.ProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := f.cfg.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
