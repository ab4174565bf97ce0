package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleetd/internal/fleet"
	"fleetd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Spawn(ctx context.Context, count int) []types.WorkerStatus
	Prune(ctx context.Context, id string) []string
	Instances() map[string]string
	Status() types.StatusResponse
	Proxy(ctx context.Context, w http.ResponseWriter, r *http.Request) error
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/admin/instances/spawn", func(w http.ResponseWriter, r *http.Request) { handleSpawn(svc, w, r) })
	r.Post("/admin/instances/prune", func(w http.ResponseWriter, r *http.Request) { handlePrune(svc, w, r) })
	r.Get("/admin/instances", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(types.InstancesResponse{Workers: svc.Instances()}); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Status()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	})

	// The worker's native inference surface (generate, chat, tags, show,
	// copy, delete, pull, push, create, embeddings) proxied 1:1.
	r.HandleFunc("/api/*", func(w http.ResponseWriter, r *http.Request) { handleProxy(svc, w, r) })

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("no workers ready"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// handleSpawn creates workers.
//
// @Summary  Spawn workers
// @Accept   json
// @Produce  json
// @Param    request body types.SpawnRequest false "spawn options"
// @Success  202 {object} types.SpawnResponse
// @Router   /admin/instances/spawn [post]
func handleSpawn(svc Service, w http.ResponseWriter, r *http.Request) {
	count := 1
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req types.SpawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !isEOF(err) {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Count != nil {
		if *req.Count < 0 {
			writeJSONError(w, http.StatusBadRequest, "count must be non-negative")
			return
		}
		count = *req.Count
	}
	workers := svc.Spawn(r.Context(), count)
	if zlog != nil {
		zlog.Info().Int("count", count).Str("request_id", middleware.GetReqID(r.Context())).Msg("spawn requested")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(types.SpawnResponse{Workers: workers})
}

// handlePrune removes workers.
//
// @Summary  Prune workers
// @Accept   json
// @Produce  json
// @Param    request body types.PruneRequest false "prune options"
// @Success  200 {object} types.PruneResponse
// @Router   /admin/instances/prune [post]
func handlePrune(svc Service, w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req types.PruneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !isEOF(err) {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	pruned := svc.Prune(r.Context(), req.ID)
	if zlog != nil {
		zlog.Info().Int("pruned", len(pruned)).Str("request_id", middleware.GetReqID(r.Context())).Msg("prune requested")
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(types.PruneResponse{Pruned: pruned})
}

// handleProxy relays one inference API call through the dispatcher.
//
// @Summary  Proxy to a worker
// @Router   /api/{path} [post]
func handleProxy(svc Service, w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	lvl := requestLogLevel(r)
	start := time.Now()
	// Join server base context with request context so shutdown cancels work too.
	joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	err := svc.Proxy(joinedCtx, w, r)
	if err == nil {
		if lvl >= LevelInfo && zlog != nil {
			zlog.Info().Str("path", r.URL.Path).Dur("dur", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).Msg("proxy end")
		}
		return
	}
	// If context was canceled (client disconnect or shutdown), just return.
	if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
		return
	}
	// Bytes already streamed: the status line is gone, only log.
	if delivered, ok := fleet.DeliveredBytes(err); ok && delivered > 0 {
		if zlog != nil {
			zlog.Error().Str("path", r.URL.Path).Int64("delivered", delivered).Err(err).
				Str("request_id", middleware.GetReqID(r.Context())).Msg("upstream lost mid-stream")
		}
		return
	}
	switch {
	case fleet.IsQueueFull(err):
		IncrementBackpressure("queue_full")
		writeJSONError(w, http.StatusTooManyRequests, err.Error())
	case fleet.IsQueueTimeout(err):
		IncrementBackpressure("queue_timeout")
		w.Header().Set("Retry-After", "1")
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	case fleet.IsNoWorkers(err):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	default:
		if he, ok := err.(HTTPError); ok {
			writeJSONError(w, he.StatusCode(), he.Error())
		} else {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
		}
	}
	if lvl >= LevelInfo && zlog != nil {
		zlog.Info().Str("path", r.URL.Path).Dur("dur", time.Since(start)).Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).Msg("proxy end")
	}
}

// isEOF reports whether a decode error came from an empty request body.
func isEOF(err error) bool {
	return err != nil && (err.Error() == "EOF" || strings.Contains(err.Error(), "unexpected end of JSON input"))
}
