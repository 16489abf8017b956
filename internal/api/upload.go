package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"path/filepath"

	"github.com/endodetect/endodetect/internal/models"
)

// Multipart is a fully buffered multipart/form-data request body.
type Multipart struct {
	body        *bytes.Buffer
	contentType string
}

// UploadFile is one file part of an upload batch.
type UploadFile struct {
	Name    string
	Content io.Reader
}

// UploadRequest is a batch of files plus the patient metadata sent with them.
type UploadRequest struct {
	Files       []UploadFile
	PatientName string
	PatientID   string
	Notes       string
	ModelName   string
}

// Encode builds the multipart body the /upload endpoint expects:
// repeated "files" parts followed by the metadata fields.
func (r UploadRequest) Encode() (*Multipart, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	for _, f := range r.Files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, filepath.Base(f.Name)))
		ct := mime.TypeByExtension(filepath.Ext(f.Name))
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)

		part, err := w.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("failed to create part for %s: %w", f.Name, err)
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
		}
	}

	fields := []struct{ key, value string }{
		{"patient_name", r.PatientName},
		{"patient_id", r.PatientID},
		{"notes", r.Notes},
		{"model_name", r.ModelName},
	}
	for _, field := range fields {
		if err := w.WriteField(field.key, field.value); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", field.key, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	return &Multipart{body: buf, contentType: w.FormDataContentType()}, nil
}

// Upload submits a batch in a single request and returns the per-file results.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (*models.UploadResponse, error) {
	body, err := req.Encode()
	if err != nil {
		return nil, err
	}
	var resp models.UploadResponse
	if err := c.post(ctx, "/upload", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
