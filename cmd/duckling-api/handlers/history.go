package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ducklinghq/duckling/internal/files"
	"github.com/ducklinghq/duckling/internal/history"
	"github.com/ducklinghq/duckling/internal/observability"
)

// HistoryHandler handles conversion history requests.
type HistoryHandler struct {
	logger *observability.Logger
	store  *history.Store
	files  *files.Manager
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(logger *observability.Logger, store *history.Store, fm *files.Manager) *HistoryHandler {
	return &HistoryHandler{logger: logger, store: store, files: fm}
}

// List handles GET /api/history.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := clamp(queryInt(r, "limit", 50), 1, 100)
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	status := r.URL.Query().Get("status")

	entries, err := h.store.GetAll(r.Context(), limit, offset, status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load history", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
		"limit":   limit,
		"offset":  offset,
	})
}

// Recent handles GET /api/history/recent.
func (h *HistoryHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := clamp(queryInt(r, "limit", 10), 1, 50)

	entries, err := h.store.GetRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load history", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// Get handles GET /api/history/{jobID}.
func (h *HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	entry, err := h.store.GetEntry(r.Context(), jobID)
	if err == history.ErrNotFound {
		writeError(w, http.StatusNotFound, fmt.Sprintf("History entry %s not found", jobID), "")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load history", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// Delete handles DELETE /api/history/{jobID}. Output files go with the entry.
func (h *HistoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	_, err := h.store.GetEntry(r.Context(), jobID)
	if err == history.ErrNotFound {
		writeError(w, http.StatusNotFound, fmt.Sprintf("History entry %s not found", jobID), "")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load history", err.Error())
		return
	}

	h.files.DeleteOutputDir(jobID)
	if err := h.store.DeleteEntry(r.Context(), jobID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete history entry", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": fmt.Sprintf("History entry %s deleted", jobID),
		"job_id":  jobID,
	})
}

// Clear handles DELETE /api/history.
func (h *HistoryHandler) Clear(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.GetAll(r.Context(), 1000, 0, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load history", err.Error())
		return
	}
	for _, entry := range entries {
		h.files.DeleteOutputDir(entry.ID)
	}

	count, err := h.store.DeleteAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to clear history", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":       fmt.Sprintf("Cleared %d history entries", count),
		"deleted_count": count,
	})
}

// Stats handles GET /api/history/stats.
func (h *HistoryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load stats", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversions": stats,
		"storage":     h.files.GetStorageStats(),
	})
}

// Search handles GET /api/history/search.
func (h *HistoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"entries": []*history.Entry{},
			"count":   0,
			"query":   "",
		})
		return
	}

	limit := clamp(queryInt(r, "limit", 20), 1, 50)

	entries, err := h.store.Search(r.Context(), query, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Search failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
		"query":   query,
	})
}

type cleanupRequestDTO struct {
	Days        int `json:"days"`
	MaxAgeHours int `json:"max_age_hours"`
}

// Cleanup handles POST /api/history/cleanup.
func (h *HistoryHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	req := cleanupRequestDTO{Days: 30, MaxAgeHours: 24}
	if r.Body != nil {
		// Missing or empty body keeps the defaults.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Days < 1 {
		req.Days = 30
	}
	if req.MaxAgeHours < 1 {
		req.MaxAgeHours = 24
	}

	uploadsDeleted, outputsDeleted := h.files.CleanupOldFiles(time.Duration(req.MaxAgeHours) * time.Hour)

	entriesDeleted, err := h.store.CleanupOldEntries(r.Context(), req.Days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Cleanup failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Cleanup completed",
		"results": map[string]interface{}{
			"history_entries_deleted": entriesDeleted,
			"upload_files_deleted":    uploadsDeleted,
			"output_folders_deleted":  outputsDeleted,
		},
	})
}

// Export handles GET /api/history/export.
func (h *HistoryHandler) Export(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.GetAll(r.Context(), 10000, 0, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load history", err.Error())
		return
	}
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load stats", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"exported_at":   time.Now().UTC().Format(time.RFC3339),
		"total_entries": len(entries),
		"statistics":    stats,
		"entries":       entries,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
