package handlers

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/endodetect/endodetect/internal/models"
	"github.com/google/uuid"
)

// stubConfidence is reported for the single synthetic finding per image.
const stubConfidence = 0.87

type imageProcessResult struct {
	OriginalName  string
	ProcessedName string
	Width         int
	Height        int
	Result        *models.DetectionResult
}

func (h *Handler) ensureFilesDir() error {
	return os.MkdirAll(h.filesDir, 0755)
}

// processImageFile stores the upload, draws the synthetic finding onto a copy
// and returns both file names with the result document.
func (h *Handler) processImageFile(fileData []byte, filename string, model models.ModelInfo) (*imageProcessResult, error) {
	width, height, err := getImageDimensions(fileData)
	if err != nil {
		return nil, fmt.Errorf("unsupported image %s: %w", filename, err)
	}

	id := uuid.NewString()
	base := sanitizeName(filename)
	originalName := id + "_" + base
	if err := os.WriteFile(filepath.Join(h.filesDir, originalName), fileData, 0644); err != nil {
		return nil, fmt.Errorf("failed to save image: %w", err)
	}
	slog.Info("Image saved", "filename", originalName, "width", width, "height", height)

	det := stubDetection(width, height, model.Task)
	processedName := "processed_" + id + "_" + strings.TrimSuffix(base, filepath.Ext(base)) + ".png"
	if err := writeProcessed(fileData, filepath.Join(h.filesDir, processedName), det); err != nil {
		return nil, fmt.Errorf("failed to render processed image: %w", err)
	}

	return &imageProcessResult{
		OriginalName:  originalName,
		ProcessedName: processedName,
		Width:         width,
		Height:        height,
		Result:        buildResult(width, height, model, det),
	}, nil
}

func getImageDimensions(data []byte) (int, int, error) {
	img, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return img.Width, img.Height, nil
}

func sanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	if name == "" || name == "." || name == ".." {
		return "image"
	}
	return name
}

// stubDetection places one finding in the centre of the frame covering a
// quarter of each dimension.
func stubDetection(width, height int, task string) models.Detection {
	w, h := float64(width), float64(height)
	bw, bh := math.Round(w/4), math.Round(h/4)
	x1, y1 := math.Round((w-bw)/2), math.Round((h-bh)/2)
	x2, y2 := x1+bw, y1+bh
	cx, cy := x1+bw/2, y1+bh/2

	d := models.Detection{
		ID:         models.Num(0),
		ClassID:    models.Num(0),
		ClassName:  "polyp",
		Confidence: models.Num(stubConfidence),
		BBoxXYXY:   []models.Number{models.Num(x1), models.Num(y1), models.Num(x2), models.Num(y2)},
		BBoxXYWH:   []models.Number{models.Num(cx), models.Num(cy), models.Num(bw), models.Num(bh)},
		BBoxAreaPx: models.Num(bw * bh),
	}
	if w > 0 && h > 0 {
		d.BBoxXYXYNorm = []models.Number{models.Num(x1 / w), models.Num(y1 / h), models.Num(x2 / w), models.Num(y2 / h)}
		d.BBoxXYWHNorm = []models.Number{models.Num(cx / w), models.Num(cy / h), models.Num(bw / w), models.Num(bh / h)}
	}
	if bh > 0 {
		d.AspectRatio = models.Num(bw / bh)
	}
	if task == models.TaskSegment {
		d.MaskAreaPx = models.Num(bw * bh)
		d.MaskPolygons = [][]float64{{x1, y1, x2, y1, x2, y2, x1, y2}}
	}
	return d
}

func sizeClass(areaPct float64) string {
	switch {
	case areaPct < 1:
		return "small"
	case areaPct < 5:
		return "medium"
	default:
		return "large"
	}
}

func buildResult(width, height int, model models.ModelInfo, det models.Detection) *models.DetectionResult {
	var areaPct models.Number
	if total := float64(width * height); total > 0 {
		areaPct = models.Num(math.Round(det.BBoxAreaPx.Value/total*10000) / 100)
	}

	res := &models.DetectionResult{
		Schema: 1,
		Meta: models.ResultMeta{
			Task:      model.Task,
			ModelName: model.ID,
		},
		Summary: models.Summary{
			NumDetections:  models.Num(1),
			ClassCounts:    map[string]models.Number{det.ClassName: models.Num(1)},
			ConfidenceMean: det.Confidence,
			ConfidenceMax:  det.Confidence,
			ImageSize: models.ImageSize{
				Width:  models.Num(float64(width)),
				Height: models.Num(float64(height)),
			},
			TimeMS: map[string]float64{"preprocess": 0, "inference": 0, "postprocess": 0},
		},
		Detections: []models.Detection{det},
	}

	lesion := models.Lesion{
		ID:         det.ID,
		Confidence: det.Confidence,
		AreaPct:    areaPct,
	}
	if areaPct.Valid {
		lesion.SizeClass = sizeClass(areaPct.Value)
	}
	res.Summary.Clinical = &models.Clinical{
		PolypCount:           models.Num(1),
		LargestLesionAreaPct: areaPct,
		Lesions:              []models.Lesion{lesion},
	}
	return res
}

var boxColor = color.NRGBA{R: 0, G: 255, B: 0, A: 255}

// writeProcessed renders the original with the detection box outlined.
func writeProcessed(data []byte, path string, det models.Detection) error {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return err
	}
	dst := imaging.Clone(src)

	if len(det.BBoxXYXY) == 4 {
		rect := image.Rect(
			int(det.BBoxXYXY[0].Value), int(det.BBoxXYXY[1].Value),
			int(det.BBoxXYXY[2].Value), int(det.BBoxXYXY[3].Value),
		)
		outline(dst, rect, 2)
	}
	return imaging.Save(dst, path)
}

func outline(img *image.NRGBA, r image.Rectangle, thickness int) {
	fill := &image.Uniform{C: boxColor}
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(img.Bounds()), fill, image.Point{}, draw.Src)
	}
}
