package types

// SpawnRequest is the payload for POST /admin/instances/spawn.
type SpawnRequest struct {
	// Number of workers to create. Omitted means one; an explicit zero is a
	// no-op that succeeds with an empty worker list.
	// example: 2
	Count *int `json:"count,omitempty" example:"2"`
}

// SpawnResponse lists the workers created by a spawn call.
type SpawnResponse struct {
	// Newly created workers with their initial states.
	Workers []WorkerStatus `json:"workers"`
}

// PruneRequest is the payload for POST /admin/instances/prune.
type PruneRequest struct {
	// Optional worker id. Empty prunes the whole fleet.
	// example: w-3f2a9c1d
	ID string `json:"id,omitempty" example:"w-3f2a9c1d"`
}

// PruneResponse lists the ids removed by a prune call.
// Pruning an empty fleet yields an empty list, never an error.
type PruneResponse struct {
	Pruned []string `json:"pruned"`
}

// InstancesResponse maps worker id to lifecycle state for GET /admin/instances.
type InstancesResponse struct {
	Workers map[string]string `json:"workers"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: queue wait exceeded
	Error string `json:"error" example:"queue wait exceeded"`
	// HTTP status code.
	// example: 503
	Code int `json:"code" example:"503"`
}
