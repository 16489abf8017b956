package upload

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/endodetect/endodetect/internal/api"
	"github.com/endodetect/endodetect/internal/models"
)

// MaxFiles caps the number of files in one batch. Extra files are dropped
// silently.
const MaxFiles = 10

const thumbnailSize = 160

var (
	// ErrNoFileSelected is returned by Submit when the batch is empty. No
	// request is made.
	ErrNoFileSelected = &api.ValidationError{Field: "files", Detail: "Please select at least one file."}
	// ErrSubmitInProgress is returned while a previous submit is running.
	ErrSubmitInProgress = errors.New("an upload is already in progress")
)

// State is the position of a Flow in its lifecycle.
type State int

const (
	Idle State = iota
	FilesSelected
	Submitting
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FilesSelected:
		return "files_selected"
	case Submitting:
		return "submitting"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Preview is the local, displayable handle derived for a selected file.
type Preview struct {
	Path      string `json:"path" yaml:"path"`
	Name      string `json:"name" yaml:"name"`
	Size      int64  `json:"size" yaml:"size"`
	Width     int    `json:"width,omitempty" yaml:"width,omitempty"`
	Height    int    `json:"height,omitempty" yaml:"height,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty" yaml:"thumbnail,omitempty"`
}

// Metadata accompanies every batch.
type Metadata struct {
	PatientName string
	PatientID   string
	Notes       string
	Model       string
}

// Panel pairs a selected file with the result returned at the same index.
type Panel struct {
	Preview Preview             `json:"preview" yaml:"preview"`
	Result  models.UploadResult `json:"result" yaml:"result"`
}

// Flow drives one upload form from file selection to results.
// It is safe for concurrent use; a second Submit while one is running is
// rejected.
type Flow struct {
	client       *api.Client
	thumbnailDir string

	mu      sync.Mutex
	state   State
	files   []Preview
	results []models.UploadResult
	message string
	err     error
}

// Option configures a Flow
type Option func(*Flow)

// WithThumbnailDir makes SelectFiles write a small preview image per file into dir.
func WithThumbnailDir(dir string) Option {
	return func(f *Flow) {
		f.thumbnailDir = dir
	}
}

func New(client *api.Client, opts ...Option) *Flow {
	f := &Flow{client: client}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SelectFiles replaces the current selection with the first MaxFiles paths,
// in order, and clears any previous result or message.
func (f *Flow) SelectFiles(paths []string) ([]Preview, error) {
	f.mu.Lock()
	if f.state == Submitting {
		f.mu.Unlock()
		return nil, ErrSubmitInProgress
	}
	f.mu.Unlock()

	if len(paths) > MaxFiles {
		slog.Debug("Dropping files beyond batch limit", "selected", len(paths), "kept", MaxFiles)
		paths = paths[:MaxFiles]
	}

	previews := make([]Preview, 0, len(paths))
	for i, p := range paths {
		preview, err := f.preview(i, p)
		if err != nil {
			return nil, err
		}
		previews = append(previews, preview)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Submitting {
		return nil, ErrSubmitInProgress
	}
	f.files = previews
	f.results = nil
	f.message = ""
	f.err = nil
	if len(previews) == 0 {
		f.state = Idle
	} else {
		f.state = FilesSelected
	}
	return append([]Preview(nil), previews...), nil
}

func (f *Flow) preview(index int, path string) (Preview, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Preview{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if info.IsDir() {
		return Preview{}, fmt.Errorf("%s is a directory", path)
	}

	p := Preview{
		Path: path,
		Name: filepath.Base(path),
		Size: info.Size(),
	}

	width, height, err := imageDimensions(path)
	if err != nil {
		slog.Warn("Failed to get image dimensions", "file", p.Name, "error", err)
		return p, nil
	}
	p.Width, p.Height = width, height

	if f.thumbnailDir != "" {
		thumb, err := writeThumbnail(f.thumbnailDir, index, path)
		if err != nil {
			slog.Warn("Failed to create preview thumbnail", "file", p.Name, "error", err)
		} else {
			p.Thumbnail = thumb
		}
	}
	return p, nil
}

func imageDimensions(path string) (int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()

	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

func writeThumbnail(dir string, index int, path string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return "", err
	}
	thumb := imaging.Fit(img, thumbnailSize, thumbnailSize, imaging.Lanczos)

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out := filepath.Join(dir, fmt.Sprintf("%02d_%s.png", index, base))
	if err := imaging.Save(thumb, out); err != nil {
		return "", err
	}
	return out, nil
}

// Submit uploads the selected files with meta in a single request.
func (f *Flow) Submit(ctx context.Context, meta Metadata) ([]models.UploadResult, error) {
	if meta.Model == "" {
		meta.Model = models.DefaultModel
	}

	f.mu.Lock()
	if f.state == Submitting {
		f.mu.Unlock()
		return nil, ErrSubmitInProgress
	}
	if len(f.files) == 0 {
		f.message = ErrNoFileSelected.Detail
		f.mu.Unlock()
		return nil, ErrNoFileSelected
	}
	if _, ok := models.LookupModel(meta.Model); !ok {
		f.mu.Unlock()
		return nil, &api.ValidationError{Field: "model", Detail: fmt.Sprintf("Unknown model %q", meta.Model)}
	}
	files := append([]Preview(nil), f.files...)
	f.state = Submitting
	f.results = nil
	f.err = nil
	f.message = "Uploading & scanning…"
	f.mu.Unlock()

	slog.Info("Submitting upload batch", "files", len(files), "model", meta.Model, "patient_id", meta.PatientID)
	resp, err := f.send(ctx, files, meta)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.state = Failed
		f.err = err
		f.message = api.StatusText(err)
		slog.Error("Upload failed", "err", err)
		return nil, err
	}

	f.state = Completed
	f.results = resp.Results
	f.message = resp.Message
	if f.message == "" {
		f.message = "Done."
	}
	if len(resp.Results) < len(files) {
		slog.Warn("Backend returned fewer results than files", "files", len(files), "results", len(resp.Results))
	}
	return append([]models.UploadResult(nil), resp.Results...), nil
}

func (f *Flow) send(ctx context.Context, files []Preview, meta Metadata) (*models.UploadResponse, error) {
	req := api.UploadRequest{
		PatientName: meta.PatientName,
		PatientID:   meta.PatientID,
		Notes:       meta.Notes,
		ModelName:   meta.Model,
	}

	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	for _, p := range files {
		file, err := os.Open(p.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", p.Path, err)
		}
		closers = append(closers, file)
		req.Files = append(req.Files, api.UploadFile{Name: p.Name, Content: file})
	}

	return f.client.Upload(ctx, req)
}

// State returns the current lifecycle state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// CanSubmit reports whether the submit trigger should be enabled.
func (f *Flow) CanSubmit() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state != Submitting
}

// Message returns the status line for the last action.
func (f *Flow) Message() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.message
}

// Err returns the error of the last failed submit.
func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Files returns the current selection.
func (f *Flow) Files() []Preview {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Preview(nil), f.files...)
}

// Results returns the results of the last completed submit.
func (f *Flow) Results() []models.UploadResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.UploadResult(nil), f.results...)
}

// Panels pairs each returned result with the preview at the same index. The
// backend may return fewer results than files; only those are paired.
func (f *Flow) Panels() []Panel {
	f.mu.Lock()
	defer f.mu.Unlock()

	panels := make([]Panel, 0, len(f.results))
	for i, res := range f.results {
		var p Preview
		if i < len(f.files) {
			p = f.files[i]
		}
		panels = append(panels, Panel{Preview: p, Result: res})
	}
	return panels
}
