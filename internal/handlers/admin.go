package handlers

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/endodetect/endodetect/internal/models"
	"github.com/gorilla/mux"
)

func (h *Handler) HandleAdminStats(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	stats := models.Stats{TotalUsers: len(h.users), TotalUploads: len(h.records)}
	h.mu.RUnlock()
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) HandleAdminUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req models.NewUser
		if !decodeJSON(w, r, &req) {
			return
		}
		u, code, detail := h.createUser(req.Email, req.Password, req.Name, req.IsAdmin)
		if detail != "" {
			writeError(w, detail, code)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "User created.", "_id": u.UserID})
		return
	}

	h.mu.RLock()
	accounts := make([]*user, 0, len(h.users))
	for _, u := range h.users {
		accounts = append(accounts, u)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].createdAt.Before(accounts[j].createdAt)
	})
	users := make([]models.User, 0, len(accounts))
	for _, u := range accounts {
		users = append(users, models.User{
			ID:        u.UserID,
			Email:     u.Email,
			Name:      u.Name,
			IsAdmin:   u.IsAdmin,
			CreatedAt: u.CreatedAt,
		})
	}
	h.mu.RUnlock()
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) HandleAdminPromote(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	modified := 0
	h.mu.Lock()
	if u, ok := h.users[id]; ok && !u.IsAdmin {
		u.IsAdmin = true
		modified = 1
	}
	h.mu.Unlock()
	if modified > 0 {
		slog.Info("User promoted", "user_id", id)
	}
	writeJSON(w, http.StatusOK, map[string]int{"modified_count": modified})
}

func (h *Handler) HandleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	deleted := 0
	h.mu.Lock()
	if _, ok := h.users[id]; ok {
		delete(h.users, id)
		deleted = 1
	}
	h.mu.Unlock()
	if deleted > 0 {
		slog.Info("User deleted", "user_id", id)
	}
	writeJSON(w, http.StatusOK, deleteResponse{DeletedCount: deleted})
}

func (h *Handler) HandleAdminUploads(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	recs := h.sortedRecords(nil)
	h.mu.RUnlock()
	writeJSON(w, http.StatusOK, toHistory(recs))
}

func (h *Handler) HandleAdminUploadsPaged(w http.ResponseWriter, r *http.Request) {
	h.writePage(w, r, nil)
}

func (h *Handler) HandleAdminDeleteUpload(w http.ResponseWriter, r *http.Request) {
	n := h.deleteRecords([]string{mux.Vars(r)["id"]}, nil)
	writeJSON(w, http.StatusOK, deleteResponse{DeletedCount: n})
}

func (h *Handler) HandleAdminBulkDelete(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	n := h.deleteRecords(req.IDs, nil)
	writeJSON(w, http.StatusOK, deleteResponse{DeletedCount: n})
}
