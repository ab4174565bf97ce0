package fleet

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestProxyStreamsResponse(t *testing.T) {
	rt := newFakeRuntime(t, "gemma:2b", true)
	f := newTestFleet(t, rt, Config{})
	spawnIdle(t, f, 1)

	rec, req := generateRequest("gemma:2b")
	if err := f.Proxy(context.Background(), rec, req); err != nil {
		t.Fatalf("proxy: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "hello") || !strings.Contains(body, `"done":true`) {
		t.Fatalf("stream did not pass through: %q", body)
	}
	if got := f.Instances()[soleWorkerID(t, f)]; got != string(StateIdle) {
		t.Fatalf("worker must return to idle after proxying, got %q", got)
	}
}

func TestProxySingleRequestPerWorker(t *testing.T) {
	rt := newFakeRuntime(t, "gemma:2b", true)
	f := newTestFleet(t, rt, Config{QueueMaxWait: 5 * time.Second})
	spawnIdle(t, f, 1)

	fw := rt.anyWorker()
	fw.setGenerate(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
		w.Write([]byte(`{"done":true}`))
	})

	const n = 4
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, req := generateRequest("gemma:2b")
			if err := f.Proxy(context.Background(), rec, req); err != nil {
				t.Errorf("proxy: %v", err)
			}
		}()
	}
	wg.Wait()

	if max := atomic.LoadInt32(&fw.maxInflight); max != 1 {
		t.Fatalf("a worker must serve one request at a time, saw %d concurrent", max)
	}
	if got := atomic.LoadInt32(&fw.generations); got != n {
		t.Fatalf("expected %d serialized requests, got %d", n, got)
	}
}

func TestProxyQueuesWhileWorkerProvisions(t *testing.T) {
	rt := newFakeRuntime(t, "gemma:2b", true)
	gate := make(chan struct{})
	rt.startGate = gate
	f := newTestFleet(t, rt, Config{QueueMaxWait: 5 * time.Second})

	f.Spawn(context.Background(), 1)

	errCh := make(chan error, 1)
	rec, req := generateRequest("gemma:2b")
	go func() { errCh <- f.Proxy(context.Background(), rec, req) }()

	waitFor(t, time.Second, "request queued", func() bool { return f.Status().QueueDepth == 1 })
	close(gate)

	if err := <-errCh; err != nil {
		t.Fatalf("queued request must be served once the worker is ready: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "hello") {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestProxyRetriesOnceOnWorkerLoss(t *testing.T) {
	rt := newFakeRuntime(t, "gemma:2b", true)
	var broke int32
	rt.onStart = func(fw *fakeWorker) {
		// Only the first worker drops connections; its replacement is healthy.
		if atomic.CompareAndSwapInt32(&broke, 0, 1) {
			fw.setGenerate(func(w http.ResponseWriter, r *http.Request) {
				conn, _, err := w.(http.Hijacker).Hijack()
				if err != nil {
					return
				}
				conn.Close()
			})
		}
	}
	pub := NewMemoryPublisher()
	f := newTestFleet(t, rt, Config{AutoReplace: true, QueueMaxWait: 5 * time.Second, Publisher: pub})
	spawnIdle(t, f, 1)

	rec, req := generateRequest("gemma:2b")
	if err := f.Proxy(context.Background(), rec, req); err != nil {
		t.Fatalf("proxy must succeed on the replacement worker: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "hello") {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if got := f.Status().RetriesTotal; got != 1 {
		t.Fatalf("expected exactly one retry, got %d", got)
	}
	var retried bool
	for _, e := range pub.Events() {
		if e.Name == "dispatch_retry" {
			retried = true
		}
	}
	if !retried {
		t.Fatal("expected a dispatch_retry event")
	}
}

func TestProxyMidStreamFailureNotRetried(t *testing.T) {
	rt := newFakeRuntime(t, "gemma:2b", true)
	f := newTestFleet(t, rt, Config{})
	spawnIdle(t, f, 1)

	fw := rt.anyWorker()
	fw.setGenerate(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"partial"}` + "\n"))
		w.(http.Flusher).Flush()
		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		conn.Close()
	})

	rec, req := generateRequest("gemma:2b")
	err := f.Proxy(context.Background(), rec, req)
	if !IsUpstreamLost(err) {
		t.Fatalf("expected upstream-lost, got %v", err)
	}
	delivered, ok := DeliveredBytes(err)
	if !ok || delivered == 0 {
		t.Fatalf("expected delivered byte count, got %d %v", delivered, ok)
	}
	if got := atomic.LoadInt32(&fw.generations); got != 1 {
		t.Fatalf("a request with delivered bytes must never be retried, got %d attempts", got)
	}
	if countState(f, StateUnhealthy) != 1 {
		t.Fatal("the failing worker must be demoted")
	}
}

func TestProxyFailureWithoutReplacementSurfacesLoss(t *testing.T) {
	rt := newFakeRuntime(t, "gemma:2b", true)
	rt.onStart = func(fw *fakeWorker) {
		fw.setGenerate(func(w http.ResponseWriter, r *http.Request) {
			conn, _, err := w.(http.Hijacker).Hijack()
			if err != nil {
				return
			}
			conn.Close()
		})
	}
	f := newTestFleet(t, rt, Config{QueueMaxWait: 200 * time.Millisecond})
	spawnIdle(t, f, 1)

	rec, req := generateRequest("gemma:2b")
	err := f.Proxy(context.Background(), rec, req)
	if !IsUpstreamLost(err) {
		t.Fatalf("expected upstream-lost, got %v", err)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("no response bytes should have reached the caller, got %q", rec.Body.String())
	}
}

func TestProxyCallerDisconnect(t *testing.T) {
	rt := newFakeRuntime(t, "gemma:2b", true)
	f := newTestFleet(t, rt, Config{})
	spawnIdle(t, f, 1)

	entered := make(chan struct{})
	fw := rt.anyWorker()
	fw.setGenerate(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	rec, req := generateRequest("gemma:2b")
	go func() { errCh <- f.Proxy(ctx, rec, req) }()

	<-entered
	cancel()

	if err := <-errCh; err != nil {
		t.Fatalf("caller disconnect is not an upstream failure: %v", err)
	}
	waitFor(t, time.Second, "worker back to idle", func() bool {
		return f.Instances()[soleWorkerID(t, f)] == string(StateIdle)
	})
}

func TestProxyForwardsPathAndQuery(t *testing.T) {
	rt := newFakeRuntime(t, "gemma:2b", true)
	f := newTestFleet(t, rt, Config{})
	spawnIdle(t, f, 1)

	var gotPath, gotQuery string
	fw := rt.anyWorker()
	fw.setGenerate(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"done":true}`))
	})

	rec, _ := generateRequest("gemma:2b")
	req := newRequest(http.MethodPost, "/api/generate?verbose=1", `{"model":"gemma:2b"}`)
	if err := f.Proxy(context.Background(), rec, req); err != nil {
		t.Fatalf("proxy: %v", err)
	}
	if gotPath != "/api/generate" || gotQuery != "verbose=1" {
		t.Fatalf("path/query not forwarded: %q %q", gotPath, gotQuery)
	}
}
