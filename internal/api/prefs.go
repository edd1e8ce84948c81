package api

import (
	"net/http"
	"strings"

	"github.com/citeai/citeai/internal/prefs"
)

// PrefsPatch updates any subset of the preferences.
type PrefsPatch struct {
	Theme *string `json:"theme,omitempty" validate:"omitnil,oneof=light dark system"`
	Model *string `json:"model,omitempty" validate:"omitnil,min=1,max=200"`
}

func handleGetPrefs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Prefs.Get())
	}
}

// handlePatchPrefs validates the patch up front. Storage failures are
// logged and reported as ok:false with the preferences still in effect.
func handlePatchPrefs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch PrefsPatch
		if !decodeBody(w, r, &patch) {
			return
		}
		if patch.Theme != nil {
			lower := strings.ToLower(strings.TrimSpace(*patch.Theme))
			patch.Theme = &lower
		}
		if patch.Model != nil {
			trimmed := strings.TrimSpace(*patch.Model)
			patch.Model = &trimmed
		}
		if err := bodyValidator().Struct(patch); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid preferences: %s", validationMessage(err))
			return
		}

		ok := true
		if patch.Theme != nil {
			if _, err := deps.Prefs.SetTheme(*patch.Theme); err != nil {
				deps.Logger.Warn("saving theme preference failed", "error", err)
				ok = false
			}
		}
		if patch.Model != nil {
			if err := deps.Prefs.SetModel(*patch.Model); err != nil {
				deps.Logger.Warn("saving model preference failed", "error", err)
				ok = false
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"ok":          ok,
			"preferences": deps.Prefs.Get(),
		})
	}
}

func handleModels(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def := deps.Prefs.StoredModel()
		if def == "" {
			def = deps.Generator.Model()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"default": def,
			"models":  prefs.Catalog,
		})
	}
}
