package fleet

import (
	"fmt"
	"net/http"
	"time"
)

// queueTimeoutError signals a request that waited past the configured bound
// with no worker becoming available.
type queueTimeoutError struct{ wait time.Duration }

func (e queueTimeoutError) Error() string {
	return fmt.Sprintf("queue wait exceeded: no worker became available within %s", e.wait)
}
func (queueTimeoutError) StatusCode() int { return http.StatusServiceUnavailable }

// IsQueueTimeout reports whether err indicates a dispatch queue timeout.
func IsQueueTimeout(err error) bool {
	_, ok := err.(queueTimeoutError)
	return ok
}

// queueFullError signals queue overflow for 429 mapping.
type queueFullError struct{ depth int }

func (e queueFullError) Error() string { return fmt.Sprintf("queue full: %d waiting", e.depth) }
func (queueFullError) StatusCode() int { return http.StatusTooManyRequests }

// IsQueueFull reports whether err indicates backpressure (return 429).
func IsQueueFull(err error) bool {
	_, ok := err.(queueFullError)
	return ok
}

// noWorkersError is returned when the fleet is empty and not configured to
// replace workers, so queueing would block forever.
type noWorkersError struct{}

func (noWorkersError) Error() string   { return "no workers in fleet" }
func (noWorkersError) StatusCode() int { return http.StatusServiceUnavailable }

// IsNoWorkers reports whether err indicates an empty fleet.
func IsNoWorkers(err error) bool {
	_, ok := err.(noWorkersError)
	return ok
}

// upstreamLostError signals that the bound worker died or dropped the
// connection. delivered counts response bytes already relayed to the caller;
// once non-zero the request is never retried.
type upstreamLostError struct {
	delivered int64
	cause     error
}

func (e upstreamLostError) Error() string {
	if e.cause != nil {
		return "upstream lost: " + e.cause.Error()
	}
	return "upstream lost"
}
func (e upstreamLostError) Unwrap() error { return e.cause }
func (upstreamLostError) StatusCode() int { return http.StatusBadGateway }

// IsUpstreamLost reports whether err indicates a mid-request worker loss.
func IsUpstreamLost(err error) bool {
	_, ok := err.(upstreamLostError)
	return ok
}

// DeliveredBytes returns how many response bytes reached the caller before an
// upstream loss, and whether err carries that information. The HTTP layer
// must not attempt to write an error status once this is non-zero.
func DeliveredBytes(err error) (int64, bool) {
	e, ok := err.(upstreamLostError)
	if !ok {
		return 0, false
	}
	return e.delivered, true
}

// Constructors for the dispatch error taxonomy, for embedders that stub the
// dispatcher but still need errors the predicates above recognize.

func NewQueueTimeoutError(wait time.Duration) error { return queueTimeoutError{wait: wait} }

func NewQueueFullError(depth int) error { return queueFullError{depth: depth} }

func NewNoWorkersError() error { return noWorkersError{} }

func NewUpstreamLostError(delivered int64, cause error) error {
	return upstreamLostError{delivered: delivered, cause: cause}
}
