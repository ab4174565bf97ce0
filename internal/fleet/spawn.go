package fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"fleetd/pkg/types"
)

// Spawn creates count new workers and returns their ids and initial states
// immediately; launch, model pull, and readiness run in the background.
// Spawning zero workers is a no-op, never an error.
func (f *Fleet) Spawn(ctx context.Context, count int) []types.WorkerStatus {
	out := make([]types.WorkerStatus, 0, count)
	for i := 0; i < count; i++ {
		w := f.spawnOne(false)
		f.mu.Lock()
		out = append(out, f.workerStatusLocked(w))
		f.mu.Unlock()
	}
	return out
}

// spawnOne registers a SPAWNING worker and starts its provisioning watcher.
// replacement spawns keep the tracked desired size unchanged.
func (f *Fleet) spawnOne(replacement bool) *Worker {
	id := newWorkerID()
	w := &Worker{
		ID:      id,
		Name:    f.cfg.WorkerLabel + "-" + strings.TrimPrefix(id, "w-"),
		Model:   f.cfg.DefaultModel,
		State:   StateSpawning,
		Created: time.Now(),
	}
	f.mu.Lock()
	f.workers[w.ID] = w
	if !replacement {
		f.desired++
	}
	f.spawns++
	f.mu.Unlock()
	workersByState.WithLabelValues(string(StateSpawning)).Inc()
	spawnsTotal.Inc()
	f.cfg.Logger.Info().Str("worker", w.ID).Str("name", w.Name).Bool("replacement", replacement).Msg("spawning worker")
	f.pub.Publish(Event{Name: "spawn_start", WorkerID: w.ID, Fields: map[string]any{"name": w.Name, "replacement": replacement}})

	f.wg.Add(1)
	go f.provision(w)
	return w
}

// provision launches the container and runs the readiness watch. The whole
// phase shares one deadline: exceeding it demotes the worker with reason
// "provision timeout" rather than retrying forever.
func (f *Fleet) provision(w *Worker) {
	defer f.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.ProvisionTimeout)
	defer cancel()

	c, err := f.rt.Start(ctx, StartSpec{Name: w.Name, Model: w.Model})
	if err != nil {
		f.cfg.Logger.Error().Str("worker", w.ID).Err(err).Msg("worker launch failed")
		f.pub.Publish(Event{Name: "spawn_error", WorkerID: w.ID, Fields: map[string]any{"error": err.Error()}})
		f.demote(w, "spawn failure: "+err.Error())
		return
	}

	f.mu.Lock()
	if w.State != StateSpawning {
		// pruned while the runtime was starting; undo the launch
		f.mu.Unlock()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		_ = f.rt.Stop(stopCtx, c.Handle)
		return
	}
	w.Handle = c.Handle
	w.Endpoint = c.BaseURL
	f.setStateLocked(w, StateProvisioning)
	f.mu.Unlock()
	f.pub.Publish(Event{Name: "provision_start", WorkerID: w.ID, Fields: map[string]any{"endpoint": c.BaseURL}})

	f.watchReadiness(ctx, w)
}

// watchReadiness triggers a blocking model pull on the worker, then polls its
// list endpoint until the model is reported present. Success transitions the
// worker to IDLE and drains the queue.
func (f *Fleet) watchReadiness(ctx context.Context, w *Worker) {
	if err := f.pullModel(ctx, w); err != nil {
		// Not fatal: the model may already be in the shared volume, or the
		// pull may have raced another worker's. Readiness polling decides.
		f.cfg.Logger.Warn().Str("worker", w.ID).Err(err).Msg("model pull failed, polling readiness anyway")
	}
	for {
		if ctx.Err() != nil {
			f.pub.Publish(Event{Name: "provision_timeout", WorkerID: w.ID})
			f.demote(w, "provision timeout")
			return
		}
		if f.modelReady(ctx, w) {
			f.mu.Lock()
			if w.State == StateProvisioning {
				w.Fails = 0
				w.LastProbe = time.Now()
				f.setStateLocked(w, StateIdle)
				f.drainLocked()
			}
			f.mu.Unlock()
			f.cfg.Logger.Info().Str("worker", w.ID).Str("endpoint", w.Endpoint).Msg("worker ready")
			f.pub.Publish(Event{Name: "provision_ready", WorkerID: w.ID})
			return
		}
		select {
		case <-ctx.Done():
		case <-f.stopCh:
			return
		case <-time.After(f.cfg.ReadyPoll):
		}
	}
}

// pullModel asks the worker to fetch its model, blocking until the pull
// completes (stream=false). No-op when no default model is configured.
func (f *Fleet) pullModel(ctx context.Context, w *Worker) error {
	if w.Model == "" {
		return nil
	}
	body, _ := json.Marshal(map[string]any{"name": w.Model, "stream": false})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Endpoint+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpStatusError{status: resp.Status}
	}
	return nil
}

// modelReady checks the readiness contract: the worker answers its list
// endpoint and reports the required model as locally available.
func (f *Fleet) modelReady(ctx context.Context, w *Worker) bool {
	pctx, cancel := context.WithTimeout(ctx, f.cfg.ProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(pctx, http.MethodGet, w.Endpoint+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := f.cfg.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	if w.Model == "" {
		return true
	}
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}
	for _, m := range tags.Models {
		if strings.HasPrefix(m.Name, w.Model) {
			return true
		}
	}
	return false
}

// httpStatusError carries a non-2xx upstream status.
type httpStatusError struct{ status string }

func (e *httpStatusError) Error() string { return "unexpected status: " + e.status }
