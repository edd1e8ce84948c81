package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/citeai/citeai/internal/export"
	"github.com/citeai/citeai/internal/paper"
	"github.com/citeai/citeai/internal/storage"
)

// PaperIDHeader carries the history id of a stored paper.
const PaperIDHeader = "X-Paper-ID"

// PaperSummary is a history entry without its result body.
type PaperSummary struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"created_at"`
	Topic            string    `json:"topic"`
	WordLimit        int       `json:"word_limit"`
	Sections         []string  `json:"sections"`
	Model            string    `json:"model"`
	WordCount        int       `json:"word_count"`
	ReadabilityScore int       `json:"readability_score"`
}

// PaperRecord is a full history entry.
type PaperRecord struct {
	PaperSummary
	Result json.RawMessage `json:"result"`
}

func summarize(p storage.Paper) PaperSummary {
	return PaperSummary{
		ID:               p.ID,
		CreatedAt:        p.CreatedAt,
		Topic:            p.Topic,
		WordLimit:        p.WordLimit,
		Sections:         p.Sections,
		Model:            p.Model,
		WordCount:        p.WordCount,
		ReadabilityScore: p.ReadabilityScore,
	}
}

// failureStatus maps a failure kind to an HTTP status. The body is the
// result itself either way.
func failureStatus(k paper.Kind) int {
	switch k {
	case paper.KindInvalidRequest:
		return http.StatusBadRequest
	case paper.KindCredential:
		return http.StatusServiceUnavailable
	case paper.KindRateLimited:
		return http.StatusTooManyRequests
	case paper.KindTimeout:
		return http.StatusGatewayTimeout
	case paper.KindCancelled:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func handleCreatePaper(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req paper.Request
		if !decodeBody(w, r, &req) {
			return
		}

		if strings.TrimSpace(req.Model) == "" && deps.Prefs != nil {
			req.Model = deps.Prefs.StoredModel()
		}

		ctx := r.Context()
		var slot *paper.Slot
		var token uint64
		if id := r.Header.Get(SessionHeader); id != "" && deps.Sessions != nil {
			var done func()
			slot = deps.Sessions.Slot(id)
			ctx, token, done = slot.Begin(ctx)
			defer done()
		}

		res := deps.Generator.Generate(ctx, req)

		switch v := res.(type) {
		case *paper.Success:
			if slot != nil && !slot.Current(token) {
				writeJSON(w, failureStatus(paper.KindCancelled), &paper.Failure{
					Kind:     paper.KindCancelled,
					Message:  "The request was superseded by a newer one.",
					Attempts: v.Attempts,
				})
				return
			}
			id, err := savePaper(deps.Papers, req, v)
			if err != nil {
				deps.Logger.Warn("paper generated but not saved to history", "error", err)
			} else {
				w.Header().Set(PaperIDHeader, id)
				w.Header().Set("Location", "/api/papers/"+id)
			}
			writeJSON(w, http.StatusOK, v)
		case *paper.Failure:
			writeJSON(w, failureStatus(v.Kind), v)
		}
	}
}

func savePaper(store PaperStore, req paper.Request, s *paper.Success) (string, error) {
	if store == nil {
		return "", errors.New("no history store")
	}
	body, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	req.Normalize()
	p := storage.Paper{
		ID:               uuid.New().String(),
		CreatedAt:        time.Now().UTC(),
		Topic:            req.Topic,
		WordLimit:        req.WordLimit,
		Sections:         req.Sections,
		Model:            s.Model,
		WordCount:        s.WordCount,
		ReadabilityScore: s.ReadabilityScore,
		Result:           string(body),
	}
	if err := store.SavePaper(p); err != nil {
		return "", err
	}
	return p.ID, nil
}

func handleListPapers(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		papers, err := deps.Papers.RecentPapers(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list papers: %v", err)
			return
		}

		out := make([]PaperSummary, len(papers))
		for i, p := range papers {
			out[i] = summarize(p)
		}
		writeJSON(w, http.StatusOK, map[string]any{"papers": out})
	}
}

// loadPaper fetches the paper named in the URL, writing 404/500 on failure.
func loadPaper(deps Deps, w http.ResponseWriter, r *http.Request) (storage.Paper, bool) {
	p, err := deps.Papers.GetPaper(chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "paper not found")
		return storage.Paper{}, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get paper: %v", err)
		return storage.Paper{}, false
	}
	return p, true
}

func handleGetPaper(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := loadPaper(deps, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, PaperRecord{
			PaperSummary: summarize(p),
			Result:       json.RawMessage(p.Result),
		})
	}
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9]+`)

// exportFilename derives a download name from the topic.
func exportFilename(topic string, f export.Format) string {
	name := strings.Trim(unsafeFileChars.ReplaceAllString(strings.ToLower(topic), "-"), "-")
	if name == "" {
		name = "paper"
	}
	if len(name) > 80 {
		name = strings.TrimRight(name[:80], "-")
	}
	return name + "." + string(f)
}

func handleExportPaper(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format, err := export.ParseFormat(r.URL.Query().Get("format"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		p, ok := loadPaper(deps, w, r)
		if !ok {
			return
		}

		res, err := paper.DecodeResult([]byte(p.Result))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "stored result is unreadable: %v", err)
			return
		}
		s, ok := res.(*paper.Success)
		if !ok {
			httpError(w, http.StatusConflict, "invalid_request_error", "paper has no generated content")
			return
		}

		doc, err := export.Render(format, p.Topic, s.Sections.WithLabels(p.Sections))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to render paper: %v", err)
			return
		}
		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename(p.Topic, format)))
		w.Write([]byte(doc))
	}
}

func handleDeletePaper(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Papers.DeletePaper(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "paper not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete paper: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
