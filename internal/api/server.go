// Package api serves the citeai HTTP API and MCP tools over the paper
// generator, history, preferences and the development proxy.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/citeai/citeai/internal/devproxy"
	"github.com/citeai/citeai/internal/paper"
	"github.com/citeai/citeai/internal/prefs"
	"github.com/citeai/citeai/internal/storage"
	"github.com/citeai/citeai/internal/telemetry"
)

const maxRequestBodySize = 1 << 20 // 1MB

// SessionHeader names the client session whose latest request wins.
const SessionHeader = "X-Session-ID"

// PaperStore is the history storage the API needs. Implemented by storage.Store.
type PaperStore interface {
	SavePaper(p storage.Paper) error
	GetPaper(id string) (storage.Paper, error)
	RecentPapers(limit int) ([]storage.Paper, error)
	DeletePaper(id string) error
}

// Deps holds the dependencies of the HTTP handler.
type Deps struct {
	Generator *paper.Generator
	Papers    PaperStore
	Prefs     *prefs.Manager
	Sessions  *paper.Sessions

	Registry  *devproxy.Registry
	Prober    *devproxy.Prober
	Forwarder *devproxy.Forwarder

	Metrics *telemetry.Metrics // optional; nil disables /metrics

	AdminToken       string
	RateLimit        float64 // requests per second per client IP
	Burst            int
	Version          string
	APIKeyConfigured bool
	Logger           *slog.Logger
}

// NewHandler returns the citeai HTTP API.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	limit := newIPLimiter(deps.RateLimit, deps.Burst)

	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))
	r.Get("/api/status", handleStatus)

	r.With(limit.Middleware).Post("/api/papers", handleCreatePaper(deps))
	r.Get("/api/papers", handleListPapers(deps))
	r.Get("/api/papers/{id}", handleGetPaper(deps))
	r.Get("/api/papers/{id}/export", handleExportPaper(deps))
	r.Delete("/api/papers/{id}", handleDeletePaper(deps))

	r.Get("/api/prefs", handleGetPrefs(deps))
	r.Patch("/api/prefs", handlePatchPrefs(deps))
	r.Get("/api/models", handleModels(deps))

	r.Get("/api/providers", handleListProviders(deps))
	r.With(AdminAuth(deps.AdminToken)).Post("/api/providers", handleAddProvider(deps))
	r.Get("/api/models/status", handleModelStatus(deps))
	r.With(limit.Middleware).Post("/api/proxy/generate", handleProxyGenerate(deps))

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":             "ok",
			"version":            deps.Version,
			"api_key_configured": deps.APIKeyConfigured,
		})
	}
}

func handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "online"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// decodeBody reads a size-limited JSON body into v and writes a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func bodyValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// validationMessage renders validator errors as "field: rule" pairs.
func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
