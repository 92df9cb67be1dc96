// Package httpapi is the protocol adapter: it translates the OpenAI- and
// Ollama-compatible wire formats into scheduler jobs and renders the results
// back in each API's native framing. Every inference request funnels through
// the same Service; there are no per-format scheduling shortcuts.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mlxd/internal/registry"
	"mlxd/internal/scheduler"
	"mlxd/internal/worker"
	"mlxd/pkg/types"
)

// Service defines the methods the HTTP layer requires; the scheduler
// implements it.
type Service interface {
	Generate(ctx context.Context, job scheduler.Job) (scheduler.Result, error)
	Embed(ctx context.Context, model, input string) ([]float32, registry.ModelInfo, error)

	ListModels(opts registry.QueryOptions) ([]registry.ModelInfo, error)
	GetModelByIdentifier(identifier string) (registry.ModelInfo, bool)
	GetTags(modelID int64) (map[string]string, error)
	GetAdapters(modelID int64) ([]registry.AdapterInfo, error)
	RemoveModel(identifier string, deleteFile bool) error
	ReloadModel(identifier string) error

	Workers() []worker.Status
	Status() types.SchedulerStatus
	Metrics() types.MetricsSnapshot
	RegistryHealthy() bool
	EngineName() string
}

// NewMux assembles the full route table.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	r.Use(RequestLogger)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	s := &server{svc: svc}

	// OpenAI-compatible surface.
	r.Get("/v1/models", s.handleListModels)
	r.Get("/v1/models/{id}", s.handleGetModel)
	r.Post("/v1/chat/completions", s.handleChatCompletions)
	r.Post("/v1/completions", s.handleCompletions)
	r.Post("/v1/embeddings", s.handleEmbeddings)

	// Ollama-compatible surface.
	r.Get("/api/tags", s.handleTags)
	r.Get("/api/ps", s.handlePs)
	r.Post("/api/generate", s.handleGenerate)
	r.Post("/api/chat", s.handleChat)
	r.Post("/api/show", s.handleShow)
	r.Post("/api/embeddings", s.handleOllamaEmbeddings)
	r.Delete("/api/delete", s.handleDelete)

	// Operational surface.
	r.Get("/health", s.handleHealth)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/admin/models/{id}/reload", s.handleReload)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

type server struct {
	svc Service
}

// decodeJSON enforces the JSON content type and body size limit, then decodes
// into v. Returns false after writing the error response.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, openai bool) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", openai)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", openai)
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string, openai bool) {
	if openai {
		writeOpenAIError(w, status, msg)
		return
	}
	writeJSONError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}

// writeJSONBody encodes v after the caller has already written headers.
func writeJSONBody(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}

// normalizeModelName strips the Ollama ":latest" tag suffix; registry
// identifiers carry no tag.
func normalizeModelName(name string) string {
	return strings.TrimSuffix(strings.TrimSpace(name), ":latest")
}

// requestModel resolves the model for an inference request, falling back to
// the configured default when the request omits one.
func requestModel(name string) string {
	if n := normalizeModelName(name); n != "" {
		return n
	}
	return defaultModel
}

func middlewareRequestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
