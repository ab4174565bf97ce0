package fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// envelope is the parsed routing portion of a proxied payload. Everything
// else passes through as opaque bytes so provider-specific fields survive
// unmodified.
type envelope struct {
	Model  string `json:"model"`
	Name   string `json:"name"`
	Stream *bool  `json:"stream"`
}

func parseEnvelope(body []byte) envelope {
	var env envelope
	if len(body) > 0 {
		_ = json.Unmarshal(body, &env)
	}
	return env
}

func (e envelope) model() string {
	if e.Model != "" {
		return e.Model
	}
	return e.Name
}

// forwardResult reports what a single forward attempt managed to do.
type forwardResult struct {
	wroteHeader bool
	bytes       int64
	err         error
}

// Proxy relays one inference API request to a worker, streaming the response
// back chunk by chunk. A request whose worker dies before any response byte
// reached the caller is re-dispatched exactly once; after bytes have been
// delivered, failures surface as upstream-lost and are never retried.
func (f *Fleet) Proxy(ctx context.Context, rw http.ResponseWriter, r *http.Request) error {
	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		body = b
	}
	env := parseEnvelope(body)
	requestID := uuid.NewString()[:8]
	f.cfg.Logger.Debug().Str("request", requestID).Str("path", r.URL.Path).Str("model", env.model()).Msg("proxy dispatch")

	var lastErr error
	for attempt := 0; ; attempt++ {
		w, err := f.acquire(ctx)
		if err != nil {
			if attempt > 0 {
				// the first worker was lost and no replacement arrived
				return upstreamLostError{cause: lastErr}
			}
			return err
		}
		upstreamCtx, cancel := context.WithCancel(ctx)
		f.setInflight(w, requestID, cancel)
		res := f.forward(upstreamCtx, rw, r, body, w)
		cancel()

		if res.err == nil {
			f.release(w, true)
			return nil
		}
		if ctx.Err() != nil {
			// Caller disconnected (or shutdown): the upstream call died with
			// the joined context, the worker itself is fine.
			f.release(w, true)
			return nil
		}
		f.release(w, false)
		lastErr = res.err
		if !res.wroteHeader && attempt == 0 {
			f.mu.Lock()
			f.retries++
			f.mu.Unlock()
			proxyRetriesTotal.Inc()
			f.cfg.Logger.Warn().Str("request", requestID).Str("worker", w.ID).Err(res.err).Msg("worker lost before response, re-dispatching")
			f.pub.Publish(Event{Name: "dispatch_retry", WorkerID: w.ID, Fields: map[string]any{"request": requestID}})
			continue
		}
		return upstreamLostError{delivered: res.bytes, cause: res.err}
	}
}

// forward performs one attempt against one worker. Headers and body pass
// through unmodified except for routing; response chunks are flushed as they
// arrive so line-delimited streams reach the caller without buffering.
func (f *Fleet) forward(ctx context.Context, rw http.ResponseWriter, r *http.Request, body []byte, w *Worker) forwardResult {
	url := strings.TrimRight(w.Endpoint, "/") + r.URL.Path
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, url, bytes.NewReader(body))
	if err != nil {
		return forwardResult{err: err}
	}
	copyHeaders(req.Header, r.Header)

	resp, err := f.cfg.HTTPClient.Do(req)
	if err != nil {
		return forwardResult{err: err}
	}
	defer resp.Body.Close()

	copyHeaders(rw.Header(), resp.Header)
	rw.WriteHeader(resp.StatusCode)
	flusher, _ := rw.(http.Flusher)

	var n int64
	buf := make([]byte, 32*1024)
	for {
		k, rerr := resp.Body.Read(buf)
		if k > 0 {
			if _, werr := rw.Write(buf[:k]); werr != nil {
				return forwardResult{wroteHeader: true, bytes: n, err: werr}
			}
			n += int64(k)
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return forwardResult{wroteHeader: true, bytes: n}
			}
			return forwardResult{wroteHeader: true, bytes: n, err: rerr}
		}
	}
}

// hop-by-hop headers are connection-scoped and must not be relayed.
var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if _, hop := hopHeaders[http.CanonicalHeaderKey(k)]; hop {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
