package fleet

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultWorkerLabel      = "ollama-worker"
	defaultProvisionTimeout = 5 * time.Minute
	defaultReadyPoll        = 2 * time.Second
	defaultProbeInterval    = 10 * time.Second
	defaultProbeTimeout     = 2 * time.Second
	defaultProbeFailures    = 3
	defaultQueueMaxWait     = 30 * time.Second
	defaultMaxQueueDepth    = 64
)

// Config encapsulates all tunables for Fleet construction.
type Config struct {
	// DefaultModel is provisioned onto every spawned worker and required for
	// readiness. Empty means reachability alone marks a worker idle.
	DefaultModel string
	// WorkerLabel prefixes container names and tags them for discovery.
	WorkerLabel string

	ProvisionTimeout time.Duration
	ReadyPoll        time.Duration

	ProbeInterval         time.Duration
	ProbeTimeout          time.Duration
	ProbeFailureThreshold int

	QueueMaxWait  time.Duration
	MaxQueueDepth int

	// AutoReplace respawns demoted workers up to the tracked desired size.
	AutoReplace bool

	// Logger defaults to a disabled logger.
	Logger zerolog.Logger
	// Publisher receives lifecycle events; defaults to a no-op.
	Publisher EventPublisher
	// HTTPClient is used for probes, provisioning, and proxying. Timeout must
	// stay zero: every call carries a context deadline of its own.
	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	if c.WorkerLabel == "" {
		c.WorkerLabel = defaultWorkerLabel
	}
	if c.ProvisionTimeout <= 0 {
		c.ProvisionTimeout = defaultProvisionTimeout
	}
	if c.ReadyPoll <= 0 {
		c.ReadyPoll = defaultReadyPoll
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = defaultProbeInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
	if c.ProbeFailureThreshold <= 0 {
		c.ProbeFailureThreshold = defaultProbeFailures
	}
	if c.QueueMaxWait <= 0 {
		c.QueueMaxWait = defaultQueueMaxWait
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = defaultMaxQueueDepth
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 0}
	}
	return c
}
