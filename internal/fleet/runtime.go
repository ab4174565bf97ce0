package fleet

import "context"

// StartSpec describes the worker a runtime should launch.
type StartSpec struct {
	Name  string // container name
	Model string // model the worker will serve
}

// Container identifies a launched (or discovered) worker container.
type Container struct {
	Handle  string // runtime identifier accepted by Stop
	Name    string
	BaseURL string // e.g. http://ollama-worker-3f2a9c1d:11434
}

// WorkerRuntime abstracts the container substrate so the scheduling core is
// testable with an in-memory fake. Start blocks until the container is
// launched (not until it is ready); readiness is probed over HTTP by the
// fleet. Stop must be idempotent. List returns every container carrying the
// worker label, running or not, for startup adoption and label-wide prune.
type WorkerRuntime interface {
	Start(ctx context.Context, spec StartSpec) (Container, error)
	Stop(ctx context.Context, handle string) error
	List(ctx context.Context) ([]Container, error)
}
