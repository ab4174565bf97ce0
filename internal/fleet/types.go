package fleet

import (
	"context"
	"time"
)

// State represents the lifecycle state of a worker.
type State string

const (
	StateSpawning     State = "spawning"
	StateProvisioning State = "provisioning"
	StateIdle         State = "idle"
	StateBusy         State = "busy"
	StateUnhealthy    State = "unhealthy"
	StateRemoved      State = "removed"
)

// terminal reports whether a state accepts no further work.
func (s State) terminal() bool { return s == StateUnhealthy || s == StateRemoved }

// Worker is one tracked model-serving container. All fields are guarded by
// the fleet mutex; transitions go through setStateLocked only.
type Worker struct {
	ID       string
	Name     string // container name in the runtime
	Handle   string // runtime handle used for Stop
	Endpoint string // base URL, set once the runtime has started it
	Model    string
	State    State
	Reason   string // set when demoted to unhealthy

	Created   time.Time
	LastUsed  time.Time
	LastProbe time.Time
	Fails     int // consecutive failed probes

	inflight *binding // non-nil iff State == StateBusy and a request is bound
}

// binding ties a busy worker to the single request it is serving.
type binding struct {
	requestID string
	cancel    context.CancelFunc
}

// waiter is one queued dispatch request. The channel is buffered so the
// drain step never blocks while holding the fleet mutex.
type waiter struct {
	id       string
	enqueued time.Time
	ch       chan *Worker
	done     bool // abandoned (timeout/cancel); guarded by the fleet mutex
}
