// Package fleet provides lifecycle, dispatch, and proxying for a pool of
// model-serving worker containers. It is structured into small files by
// concern:
//
//   - fleet.go: core Fleet type, constructor, startup adoption, shutdown.
//   - config.go: Config and package defaults; New applies defaults.
//   - types.go: worker state machine types (State, Worker, binding).
//   - runtime.go: WorkerRuntime interface the container substrate implements.
//   - errors.go: error types and helpers (IsQueueTimeout, IsUpstreamLost, ...).
//   - spawn.go: Spawn and the per-worker provisioning watcher.
//   - prune.go: Prune (hard-cancel of in-flight work, container removal).
//   - dispatch.go: worker acquisition, FIFO wait queue, release and drain.
//   - health.go: periodic probe cycle and unhealthy-worker demotion.
//   - proxy.go: transparent streaming forwarder with single-retry semantics.
//   - status.go: Instances/Status/Ready snapshot reads.
//   - events.go: lifecycle event publishing.
//   - metrics.go: Prometheus collectors for fleet state.
//
// The registry (worker map plus wait queue) is the single mutable shared
// resource. Every transition happens inside this package under one mutex;
// the map is never handed out. Probing, provisioning, and proxying run as
// independent goroutines that touch state only through those transitions.
//
// External packages should treat this package as the orchestration layer and
// use public methods only (New, Start, Spawn, Prune, Instances, Status,
// Proxy, Ready, Close). Internal types are subject to change.
package fleet
