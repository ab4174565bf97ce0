package fleet

import (
	"time"

	"fleetd/pkg/types"
)

// Instances returns an {id: state} snapshot. Never blocks on in-flight
// transitions beyond the registry lock itself.
func (f *Fleet) Instances() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.workers))
	for id, w := range f.workers {
		out[id] = string(w.State)
	}
	return out
}

// Ready reports whether at least one worker can serve (or is serving).
func (f *Fleet) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.workers {
		if w.State == StateIdle || w.State == StateBusy {
			return true
		}
	}
	return false
}

// Status builds a detailed status response for /status.
func (f *Fleet) Status() types.StatusResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := types.StatusResponse{
		Workers:        make([]types.WorkerStatus, 0, len(f.workers)),
		QueueDepth:     len(f.waiters),
		Desired:        f.desired,
		UptimeSeconds:  int64(time.Since(f.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
		SpawnsTotal:    f.spawns,
		PrunesTotal:    f.prunes,
		RetriesTotal:   f.retries,
	}
	for _, w := range f.workers {
		resp.Workers = append(resp.Workers, f.workerStatusLocked(w))
	}
	if len(f.waiters) > 0 {
		resp.QueueOldestMs = time.Since(f.waiters[0].enqueued).Milliseconds()
	}
	resp.State = f.overallStateLocked()
	return resp
}

func (f *Fleet) overallStateLocked() string {
	provisioning := false
	for _, w := range f.workers {
		switch w.State {
		case StateIdle, StateBusy:
			return "ready"
		case StateSpawning, StateProvisioning:
			provisioning = true
		}
	}
	if provisioning {
		return "provisioning"
	}
	return "empty"
}

// workerStatusLocked projects one worker into its API shape. Caller holds f.mu.
func (f *Fleet) workerStatusLocked(w *Worker) types.WorkerStatus {
	s := types.WorkerStatus{
		ID:            w.ID,
		Name:          w.Name,
		Model:         w.Model,
		State:         string(w.State),
		Endpoint:      w.Endpoint,
		ProbeFailures: w.Fails,
		Reason:        w.Reason,
	}
	if !w.LastUsed.IsZero() {
		s.LastUsed = w.LastUsed.Unix()
	}
	if !w.LastProbe.IsZero() {
		s.LastProbe = w.LastProbe.Unix()
	}
	if w.inflight != nil {
		s.RequestID = w.inflight.requestID
	}
	return s
}
