package types

// WorkerStatus summarizes one tracked worker for admin and status responses.
type WorkerStatus struct {
	// Stable worker identifier.
	// example: w-3f2a9c1d
	ID string `json:"id" example:"w-3f2a9c1d"`
	// Container name in the underlying runtime.
	// example: ollama-worker-3f2a9c1d
	Name string `json:"name" example:"ollama-worker-3f2a9c1d"`
	// Model the worker was provisioned with.
	// example: gemma:2b
	Model string `json:"model" example:"gemma:2b"`
	// Current lifecycle state (spawning, provisioning, idle, busy, unhealthy, removed).
	// example: idle
	State string `json:"state" example:"idle"`
	// Worker base URL, empty until the runtime has started it.
	// example: http://ollama-worker-3f2a9c1d:11434
	Endpoint string `json:"endpoint,omitempty" example:"http://ollama-worker-3f2a9c1d:11434"`
	// Last time this worker served a request (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix,omitempty" example:"1700000000"`
	// Last successful health probe (unix seconds).
	// example: 1700000000
	LastProbe int64 `json:"last_probe_unix,omitempty" example:"1700000000"`
	// Consecutive failed health probes.
	// example: 0
	ProbeFailures int `json:"probe_failures" example:"0"`
	// Why the worker was demoted, set only for unhealthy workers.
	// example: provision timeout
	Reason string `json:"reason,omitempty" example:"provision timeout"`
	// Request currently bound to the worker, set only while busy.
	// example: 9d1c4b7e
	RequestID string `json:"request_id,omitempty" example:"9d1c4b7e"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// All tracked workers.
	Workers []WorkerStatus `json:"workers"`
	// Overall gateway state (ready when at least one worker can serve).
	// example: ready
	State string `json:"state" example:"ready"`
	// Number of requests waiting for a worker.
	// example: 0
	QueueDepth int `json:"queue_depth" example:"0"`
	// Age of the oldest queued request in milliseconds.
	// example: 120
	QueueOldestMs int64 `json:"queue_oldest_ms,omitempty" example:"120"`
	// Desired fleet size tracked for auto-replacement.
	// example: 2
	Desired int `json:"desired" example:"2"`
	// Uptime of the gateway in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Total workers spawned since start.
	// example: 5
	SpawnsTotal uint64 `json:"spawns_total" example:"5"`
	// Total workers pruned since start.
	// example: 2
	PrunesTotal uint64 `json:"prunes_total" example:"2"`
	// Total proxied requests retried on a fresh worker.
	// example: 1
	RetriesTotal uint64 `json:"retries_total" example:"1"`
}
