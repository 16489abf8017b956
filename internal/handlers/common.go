// Package handlers is an in-memory implementation of the EndoDetect HTTP API.
// It backs `endodetect serve` for offline use and the integration tests.
package handlers

import (
	"crypto/rand"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/endodetect/endodetect/internal/models"
	"github.com/gorilla/mux"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	maxUploadSize    = 10 * 1024 * 1024
	tokenTTL         = 60 * time.Minute
)

type user struct {
	models.Profile
	passwordHash []byte
	createdAt    time.Time
}

type record struct {
	models.HistoryRecord
	seq   int
	files []string
}

// Handler holds every account, upload and stored image in memory.
type Handler struct {
	secret   []byte
	filesDir string
	baseURL  string
	now      func() time.Time

	mu      sync.RWMutex
	users   map[string]*user
	records map[string]*record
	seq     int
}

// Option configures a Handler
type Option func(*Handler)

// WithSecret sets the token signing key. A random key is used otherwise.
func WithSecret(secret []byte) Option {
	return func(h *Handler) {
		h.secret = secret
	}
}

// WithFilesDir sets where uploaded and processed images are written.
func WithFilesDir(dir string) Option {
	return func(h *Handler) {
		h.filesDir = dir
	}
}

// WithBaseURL sets the public prefix of image URLs returned to clients.
// When empty, URLs are built from the request Host.
func WithBaseURL(u string) Option {
	return func(h *Handler) {
		h.baseURL = u
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

func New(opts ...Option) *Handler {
	h := &Handler{
		filesDir: filepath.Join(os.TempDir(), "endodetect-files"),
		now:      time.Now,
		users:    make(map[string]*user),
		records:  make(map[string]*record),
	}
	for _, opt := range opts {
		opt(h)
	}
	if len(h.secret) == 0 {
		h.secret = make([]byte, 32)
		if _, err := rand.Read(h.secret); err != nil {
			panic(err)
		}
	}
	return h
}

// Router returns the full route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("Unable to write healthcheck", "err", err)
		}
	}).Methods(http.MethodGet)

	r.HandleFunc("/register", h.HandleRegister).Methods(http.MethodPost)
	r.HandleFunc("/login", h.HandleLogin).Methods(http.MethodPost)
	r.HandleFunc("/models", h.HandleModels).Methods(http.MethodGet)
	r.HandleFunc("/files/{name}", h.HandleFile).Methods(http.MethodGet)

	authed := r.NewRoute().Subrouter()
	authed.Use(h.requireUser)
	authed.HandleFunc("/profile", h.HandleProfile).Methods(http.MethodGet, http.MethodPut)
	authed.HandleFunc("/upload", h.HandleUpload).Methods(http.MethodPost)
	authed.HandleFunc("/history", h.HandleHistory).Methods(http.MethodGet)
	authed.HandleFunc("/history_paged", h.HandleHistoryPaged).Methods(http.MethodGet)
	authed.HandleFunc("/history/bulk_delete", h.HandleHistoryBulkDelete).Methods(http.MethodPost)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(h.requireUser, h.requireAdmin)
	admin.HandleFunc("/stats", h.HandleAdminStats).Methods(http.MethodGet)
	admin.HandleFunc("/users", h.HandleAdminUsers).Methods(http.MethodGet, http.MethodPost)
	admin.HandleFunc("/users/{id}", h.HandleAdminDeleteUser).Methods(http.MethodDelete)
	admin.HandleFunc("/users/{id}/promote", h.HandleAdminPromote).Methods(http.MethodPut)
	admin.HandleFunc("/uploads", h.HandleAdminUploads).Methods(http.MethodGet)
	admin.HandleFunc("/uploads_paged", h.HandleAdminUploadsPaged).Methods(http.MethodGet)
	admin.HandleFunc("/uploads/bulk_delete", h.HandleAdminBulkDelete).Methods(http.MethodPost)
	admin.HandleFunc("/uploads/{id}", h.HandleAdminDeleteUpload).Methods(http.MethodDelete)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, "Not Found", http.StatusNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	})
	return r
}

// Response helpers
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
	}
}

func writeError(w http.ResponseWriter, detail string, code int) {
	if code >= http.StatusInternalServerError {
		slog.Error(detail)
	} else {
		slog.Debug("Request rejected", "status", code, "detail", detail)
	}
	writeJSON(w, code, map[string]string{"detail": detail})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "Invalid JSON: "+err.Error(), http.StatusUnprocessableEntity)
		return false
	}
	return true
}

func (h *Handler) timestamp() string {
	return h.now().UTC().Format("2006-01-02T15:04:05.000000")
}

// sortedRecords returns records matching keep, newest first. Callers hold h.mu.
func (h *Handler) sortedRecords(keep func(*record) bool) []*record {
	out := make([]*record, 0, len(h.records))
	for _, rec := range h.records {
		if keep == nil || keep(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq > out[j].seq })
	return out
}
