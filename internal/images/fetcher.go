package images

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/endodetect/endodetect/internal/models"
)

// maxImageSize bounds a single download.
const maxImageSize = 50 << 20

// Fetcher downloads the stored images a result links to.
type Fetcher struct {
	HTTPClient *http.Client
}

// NewFetcher creates a new image fetcher
func NewFetcher() *Fetcher {
	return &Fetcher{
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ImagePair is the original upload and the model-annotated copy on disk.
type ImagePair struct {
	OriginalPath  string `json:"original_path,omitempty" yaml:"original_path,omitempty"`
	ProcessedPath string `json:"processed_path,omitempty" yaml:"processed_path,omitempty"`
}

// FetchRecord saves both images of a history record into outputDir, named
// after the record id.
func (f *Fetcher) FetchRecord(ctx context.Context, r models.HistoryRecord, outputDir string) (*ImagePair, error) {
	prefix := r.ID
	if prefix == "" {
		prefix = "record"
	}
	return f.fetchPair(ctx, r.OriginalURL, r.ProcessedURL, outputDir, prefix)
}

// FetchResult saves the images of the index-th result of an upload batch.
func (f *Fetcher) FetchResult(ctx context.Context, index int, res models.UploadResult, outputDir string) (*ImagePair, error) {
	return f.fetchPair(ctx, res.OriginalURL, res.ProcessedImageURL, outputDir, fmt.Sprintf("%02d", index+1))
}

func (f *Fetcher) fetchPair(ctx context.Context, originalURL, processedURL, outputDir, prefix string) (*ImagePair, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	pair := &ImagePair{}
	if originalURL != "" {
		p, err := f.download(ctx, originalURL, outputDir, prefix+"_original")
		if err != nil {
			slog.Warn("Failed to download original image", "url", originalURL, "error", err)
		} else {
			pair.OriginalPath = p
		}
	}

	// The processed image is what a reviewer needs; its failure is fatal.
	if processedURL == "" {
		return pair, fmt.Errorf("no processed image available")
	}
	p, err := f.download(ctx, processedURL, outputDir, prefix+"_processed")
	if err != nil {
		return pair, fmt.Errorf("failed to download processed image: %w", err)
	}
	pair.ProcessedPath = p
	return pair, nil
}

func (f *Fetcher) download(ctx context.Context, rawURL, outputDir, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid image url: %w", err)
	}

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image server returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read image data: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("image is empty")
	}
	if len(data) > maxImageSize {
		return "", fmt.Errorf("image larger than %d bytes", maxImageSize)
	}

	out := filepath.Join(outputDir, name+extension(rawURL, resp.Header.Get("Content-Type")))
	if err := os.WriteFile(out, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write image file: %w", err)
	}
	slog.Debug("Downloaded image", "url", rawURL, "path", out, "bytes", len(data))
	return out, nil
}

// extension prefers the one in the URL path, then the response content type.
func extension(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	if contentType != "" {
		if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	return ".img"
}
