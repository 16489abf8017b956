package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/endodetect/endodetect/internal/models"
	"github.com/google/uuid"
)

func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, "Failed to read form: "+err.Error(), http.StatusBadRequest)
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, "No files uploaded.", http.StatusUnprocessableEntity)
		return
	}

	modelName := r.FormValue("model_name")
	if modelName == "" {
		modelName = models.DefaultModel
	}
	model, ok := models.LookupModel(modelName)
	if !ok {
		writeError(w, "Unknown model selected", http.StatusBadRequest)
		return
	}

	if err := h.ensureFilesDir(); err != nil {
		writeError(w, "Failed to create files directory: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.mu.RLock()
	u, exists := h.users[currentUserID(r)]
	var email, userID string
	if exists {
		email, userID = u.Email, u.UserID
	}
	h.mu.RUnlock()
	if !exists {
		writeError(w, "Could not validate credentials.", http.StatusUnauthorized)
		return
	}

	base := h.publicBase(r)
	resp := models.UploadResponse{}
	var created []*record
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			writeError(w, "Failed to read file: "+err.Error(), http.StatusBadRequest)
			return
		}
		fileData, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
		file.Close()
		if err != nil {
			writeError(w, "Failed to read file contents: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if len(fileData) >= maxUploadSize {
			writeError(w, fmt.Sprintf("File %s too large (max 10MB)", header.Filename), http.StatusBadRequest)
			return
		}

		processed, err := h.processImageFile(fileData, header.Filename, model)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		result := models.UploadResult{
			OriginalURL:       base + "/files/" + processed.OriginalName,
			ProcessedImageURL: base + "/files/" + processed.ProcessedName,
			Result:            processed.Result,
			Model:             model.ID,
		}
		resp.Results = append(resp.Results, result)
		created = append(created, &record{
			HistoryRecord: models.HistoryRecord{
				ID:           uuid.NewString(),
				Datetime:     h.timestamp(),
				PatientName:  r.FormValue("patient_name"),
				PatientID:    r.FormValue("patient_id"),
				Notes:        r.FormValue("notes"),
				ModelUsed:    model.ID,
				OriginalURL:  result.OriginalURL,
				ProcessedURL: result.ProcessedImageURL,
				UserID:       userID,
				UserEmail:    email,
				Result:       processed.Result,
			},
			files: []string{processed.OriginalName, processed.ProcessedName},
		})
	}

	h.mu.Lock()
	for _, rec := range created {
		h.seq++
		rec.seq = h.seq
		h.records[rec.ID] = rec
	}
	h.mu.Unlock()

	resp.Message = fmt.Sprintf("%d files uploaded and scanned successfully with %s model.", len(resp.Results), model.ID)
	slog.Info("Upload processed", "user", email, "files", len(resp.Results), "model", model.ID)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) publicBase(r *http.Request) string {
	if h.baseURL != "" {
		return strings.TrimRight(h.baseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
