package channel

import (
	"encoding/json"
	"io"
	"net/http"

	"docbot/internal/config"
)

// handleGetConfig returns the current config with secrets masked.
func (w *Web) handleGetConfig(rw http.ResponseWriter, r *http.Request) {
	w.cfgMu.RLock()
	cfg := w.cfg
	var sanitized *config.Config
	if cfg != nil {
		sanitized = config.Sanitize(cfg)
	}
	w.cfgMu.RUnlock()

	if cfg == nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"error": "config not loaded"})
		return
	}
	writeJSON(rw, http.StatusOK, sanitized)
}

// handleUpdateConfig applies a dotted-path update in memory. Settings read at
// startup (chunking, providers) take effect on the next start; use
// /api/config/save to persist.
func (w *Web) handleUpdateConfig(rw http.ResponseWriter, r *http.Request) {
	w.cfgMu.Lock()
	defer w.cfgMu.Unlock()

	if w.cfg == nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"error": "config not loaded"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "read body: " + err.Error()})
		return
	}
	defer r.Body.Close()

	// { "path": "knowledge.searchTopK", "value": 5 }
	var partial struct {
		Path  string `json:"path"`
		Value any    `json:"value"`
	}
	if err := json.Unmarshal(body, &partial); err != nil || partial.Path == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": `body must be {"path": ..., "value": ...}`})
		return
	}

	// Apply to a copy so a failed validation leaves the live config untouched.
	candidate, err := cloneConfig(w.cfg)
	if err != nil {
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := config.SetByPath(candidate, partial.Path, partial.Value); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := config.Validate(candidate); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "validation: " + err.Error()})
		return
	}
	*w.cfg = *candidate

	w.logger.Info("config updated via path", "path", partial.Path)
	writeJSON(rw, http.StatusOK, map[string]string{"status": "updated", "path": partial.Path})
}

// handleSaveConfig persists the current in-memory config to disk.
func (w *Web) handleSaveConfig(rw http.ResponseWriter, r *http.Request) {
	w.cfgMu.RLock()
	defer w.cfgMu.RUnlock()

	if w.cfg == nil || w.cfgPath == "" {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"error": "config not available"})
		return
	}
	if err := config.Save(w.cfgPath, w.cfg); err != nil {
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": "save failed: " + err.Error()})
		return
	}

	w.logger.Info("config saved to disk", "path", w.cfgPath)
	writeJSON(rw, http.StatusOK, map[string]string{"status": "saved", "path": w.cfgPath})
}

func cloneConfig(cfg *config.Config) (*config.Config, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var out config.Config
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
