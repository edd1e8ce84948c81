package api

import (
	"errors"
	"net/http"

	"github.com/citeai/citeai/internal/devproxy"
	"github.com/citeai/citeai/internal/storage"
)

func handleListProviders(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Registry.List()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list providers: %v", err)
			return
		}
		if list == nil {
			list = []devproxy.Provider{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"providers": list})
	}
}

func handleAddProvider(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p devproxy.NewProvider
		if !decodeBody(w, r, &p) {
			return
		}
		if err := bodyValidator().Struct(p); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid provider: %s", validationMessage(err))
			return
		}

		err := deps.Registry.Add(p)
		switch {
		case errors.Is(err, storage.ErrExists):
			httpError(w, http.StatusConflict, "invalid_request_error", "provider %q already exists", p.ID)
			return
		case err != nil:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		deps.Logger.Info("provider added", "id", p.ID, "has_key", p.APIKey != "")
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func handleModelStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses, err := deps.Prober.Status(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to probe providers: %v", err)
			return
		}
		if statuses == nil {
			statuses = []devproxy.Status{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"models": statuses})
	}
}

// handleProxyGenerate relays {model, input} to the selected provider and
// answers with the upstream status and JSON body.
func handleProxyGenerate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req devproxy.ForwardRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := bodyValidator().Struct(req); err != nil || len(req.Input) == 0 || string(req.Input) == "null" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "missing model or input")
			return
		}

		resp, err := deps.Forwarder.Forward(r.Context(), req)
		var fe *devproxy.ForwardError
		switch {
		case errors.Is(err, devproxy.ErrNoProvider):
			httpError(w, http.StatusInternalServerError, "api_error", "no provider configured")
			return
		case errors.As(err, &fe):
			deps.observeForward(fe.ProviderID, 0)
			httpError(w, http.StatusBadGateway, "proxy_error", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusBadGateway, "proxy_error", "%v", err)
			return
		}

		deps.observeForward(resp.ProviderID, resp.Status)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.Status)
		w.Write(resp.Body)
	}
}

func (d Deps) observeForward(providerID string, status int) {
	if d.Metrics != nil {
		d.Metrics.ObserveForward(providerID, status)
	}
}
