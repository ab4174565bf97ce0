package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeWorker simulates one model-serving worker over httptest.
type fakeWorker struct {
	srv *httptest.Server

	mu       sync.Mutex
	model    string
	hasModel bool
	pulls    int
	broken   bool // pull fails and tags never lists the model

	generateFn func(w http.ResponseWriter, r *http.Request)

	inflight    int32
	maxInflight int32
	generations int32
}

func newFakeWorker(model string, preloaded bool) *fakeWorker {
	fw := &fakeWorker{model: model, hasModel: preloaded}
	fw.srv = httptest.NewServer(http.HandlerFunc(fw.handler))
	return fw
}

func (fw *fakeWorker) handler(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/pull":
		fw.mu.Lock()
		fw.pulls++
		broken := fw.broken
		if !broken {
			fw.hasModel = true
		}
		fw.mu.Unlock()
		if broken {
			http.Error(w, "pull failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"status":"success"}`)
	case "/api/tags":
		fw.mu.Lock()
		has := fw.hasModel && !fw.broken
		model := fw.model
		fw.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if has {
			_ = json.NewEncoder(w).Encode(map[string]any{"models": []map[string]string{{"name": model}}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"models": []map[string]string{}})
	case "/api/generate":
		cur := atomic.AddInt32(&fw.inflight, 1)
		for {
			max := atomic.LoadInt32(&fw.maxInflight)
			if cur <= max || atomic.CompareAndSwapInt32(&fw.maxInflight, max, cur) {
				break
			}
		}
		defer atomic.AddInt32(&fw.inflight, -1)
		atomic.AddInt32(&fw.generations, 1)
		fw.mu.Lock()
		fn := fw.generateFn
		fw.mu.Unlock()
		if fn != nil {
			fn(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher := w.(http.Flusher)
		fmt.Fprintln(w, `{"response":"hello"}`)
		flusher.Flush()
		fmt.Fprintln(w, `{"response":" world"}`)
		flusher.Flush()
		fmt.Fprintln(w, `{"done":true}`)
		flusher.Flush()
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (fw *fakeWorker) setGenerate(fn func(http.ResponseWriter, *http.Request)) {
	fw.mu.Lock()
	fw.generateFn = fn
	fw.mu.Unlock()
}

// fakeRuntime is an in-memory WorkerRuntime backed by fakeWorker servers.
type fakeRuntime struct {
	mu        sync.Mutex
	model     string
	preloaded bool
	startErr  error
	startGate chan struct{} // when set, Start blocks until closed
	onStart   func(*fakeWorker)
	started   map[string]*fakeWorker
	existing  []Container
	stopped   []string
}

func newFakeRuntime(t *testing.T, model string, preloaded bool) *fakeRuntime {
	rt := &fakeRuntime{model: model, preloaded: preloaded, started: make(map[string]*fakeWorker)}
	t.Cleanup(rt.closeAll)
	return rt
}

func (rt *fakeRuntime) Start(ctx context.Context, spec StartSpec) (Container, error) {
	if rt.startGate != nil {
		select {
		case <-rt.startGate:
		case <-ctx.Done():
			return Container{}, ctx.Err()
		}
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.startErr != nil {
		return Container{}, rt.startErr
	}
	fw := newFakeWorker(rt.model, rt.preloaded)
	if rt.onStart != nil {
		rt.onStart(fw)
	}
	rt.started[spec.Name] = fw
	return Container{Handle: spec.Name, Name: spec.Name, BaseURL: fw.srv.URL}, nil
}

func (rt *fakeRuntime) Stop(ctx context.Context, handle string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if fw, ok := rt.started[handle]; ok {
		fw.srv.Close()
		delete(rt.started, handle)
	}
	rt.stopped = append(rt.stopped, handle)
	return nil
}

func (rt *fakeRuntime) List(ctx context.Context) ([]Container, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]Container(nil), rt.existing...), nil
}

func (rt *fakeRuntime) stoppedHandles() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]string(nil), rt.stopped...)
}

func (rt *fakeRuntime) worker(handle string) *fakeWorker {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.started[handle]
}

func (rt *fakeRuntime) anyWorker() *fakeWorker {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, fw := range rt.started {
		return fw
	}
	return nil
}

func (rt *fakeRuntime) closeAll() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, fw := range rt.started {
		fw.srv.Close()
	}
}

// newTestFleet builds a fleet with fast timings; individual tests override
// fields before use via the cfg argument.
func newTestFleet(t *testing.T, rt WorkerRuntime, cfg Config) *Fleet {
	t.Helper()
	if cfg.ReadyPoll == 0 {
		cfg.ReadyPoll = 10 * time.Millisecond
	}
	if cfg.ProvisionTimeout == 0 {
		cfg.ProvisionTimeout = 3 * time.Second
	}
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = time.Hour // keep the monitor quiet unless a test wants it
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 250 * time.Millisecond
	}
	if cfg.QueueMaxWait == 0 {
		cfg.QueueMaxWait = 2 * time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemma:2b"
	}
	f := New(rt, cfg)
	t.Cleanup(f.Close)
	return f
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func countState(f *Fleet, s State) int {
	n := 0
	for _, st := range f.Instances() {
		if st == string(s) {
			n++
		}
	}
	return n
}

func soleWorkerID(t *testing.T, f *Fleet) string {
	t.Helper()
	inst := f.Instances()
	if len(inst) != 1 {
		t.Fatalf("expected one worker, got %v", inst)
	}
	for id := range inst {
		return id
	}
	return ""
}

// generateRequest builds a proxied generate call and a recorder for it.
func generateRequest(model string) (*httptest.ResponseRecorder, *http.Request) {
	body := fmt.Sprintf(`{"model":%q,"prompt":"hi","stream":true}`, model)
	return httptest.NewRecorder(), newRequest(http.MethodPost, "/api/generate", body)
}

func newRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}
