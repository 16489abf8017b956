package handlers

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/endodetect/endodetect/internal/models"
)

type bulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

type deleteResponse struct {
	DeletedCount int `json:"deleted_count"`
}

func ownedBy(userID string) func(*record) bool {
	return func(rec *record) bool {
		return rec.UserID == userID
	}
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	recs := h.sortedRecords(ownedBy(currentUserID(r)))
	h.mu.RUnlock()
	writeJSON(w, http.StatusOK, toHistory(recs))
}

func (h *Handler) HandleHistoryPaged(w http.ResponseWriter, r *http.Request) {
	h.writePage(w, r, ownedBy(currentUserID(r)))
}

func (h *Handler) HandleHistoryBulkDelete(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	n := h.deleteRecords(req.IDs, ownedBy(currentUserID(r)))
	writeJSON(w, http.StatusOK, deleteResponse{DeletedCount: n})
}

func toHistory(recs []*record) []models.HistoryRecord {
	out := make([]models.HistoryRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.HistoryRecord)
	}
	return out
}

// writePage serves one newest-first page. The cursor is the sequence number
// of the last record returned, so deletions between pages never shift it.
func (h *Handler) writePage(w http.ResponseWriter, r *http.Request, keep func(*record) bool) {
	limit := defaultPageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, "limit must be a positive integer", http.StatusUnprocessableEntity)
			return
		}
		limit = min(n, maxPageLimit)
	}

	after := 0
	if v := r.URL.Query().Get("cursor"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, "Invalid cursor", http.StatusBadRequest)
			return
		}
		after = n
	}

	h.mu.RLock()
	recs := h.sortedRecords(func(rec *record) bool {
		return (keep == nil || keep(rec)) && (after == 0 || rec.seq < after)
	})
	h.mu.RUnlock()

	page := models.Page[models.HistoryRecord]{}
	if len(recs) > limit {
		page.NextCursor = strconv.Itoa(recs[limit-1].seq)
		recs = recs[:limit]
	}
	page.Items = toHistory(recs)
	writeJSON(w, http.StatusOK, page)
}

// deleteRecords removes the records matching ids and keep, along with their
// stored images, and returns how many were removed.
func (h *Handler) deleteRecords(ids []string, keep func(*record) bool) int {
	var files []string
	n := 0

	h.mu.Lock()
	for _, id := range ids {
		rec, ok := h.records[id]
		if !ok || (keep != nil && !keep(rec)) {
			continue
		}
		delete(h.records, id)
		files = append(files, rec.files...)
		n++
	}
	h.mu.Unlock()

	for _, name := range files {
		if err := os.Remove(filepath.Join(h.filesDir, name)); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove stored image", "file", name, "err", err)
		}
	}
	if n > 0 {
		slog.Info("Deleted records", "count", n)
	}
	return n
}
