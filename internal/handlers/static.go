package handlers

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"
)

// HandleFile serves a stored original or processed image.
func (h *Handler) HandleFile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	// Prevent directory traversal attacks
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		writeError(w, "Invalid file path", http.StatusBadRequest)
		return
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		w.Header().Set("Content-Type", "image/png")
	case ".jpg", ".jpeg":
		w.Header().Set("Content-Type", "image/jpeg")
	case ".gif":
		w.Header().Set("Content-Type", "image/gif")
	}
	http.ServeFile(w, r, filepath.Join(h.filesDir, name))
}
