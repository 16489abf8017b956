package render

import (
	"math"
	"strings"
	"testing"

	"github.com/endodetect/endodetect/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nums(vs ...float64) []models.Number {
	out := make([]models.Number, len(vs))
	for i, v := range vs {
		out[i] = models.Num(v)
	}
	return out
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		name     string
		input    models.Number
		expected string
	}{
		{name: "whole number", input: models.Num(12), expected: "12"},
		{name: "fraction", input: models.Num(0.87654), expected: "0.88"},
		{name: "negative fraction", input: models.Num(-1.5), expected: "-1.50"},
		{name: "missing", input: models.Number{}, expected: Placeholder},
		{name: "nan", input: models.Number{Value: math.NaN(), Valid: true}, expected: Placeholder},
		{name: "infinity", input: models.Number{Value: math.Inf(1), Valid: true}, expected: Placeholder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatNumber(tt.input))
		})
	}
}

func TestText(t *testing.T) {
	assert.Equal(t, Placeholder, Text(""))
	assert.Equal(t, Placeholder, Text("   "))
	assert.Equal(t, "polyp", Text("polyp"))
}

func TestFormatTimeUnparseable(t *testing.T) {
	assert.Equal(t, "yesterday", FormatTime("yesterday"))
	assert.Equal(t, Placeholder, FormatTime(""))
	assert.NotEqual(t, "2024-05-01T10:20:30.123456", FormatTime("2024-05-01T10:20:30.123456"))
}

func TestRowsIgnoreReportedCount(t *testing.T) {
	r := &models.DetectionResult{
		Summary: models.Summary{
			NumDetections: models.Num(5),
			ImageSize:     models.ImageSize{Width: models.Num(100), Height: models.Num(100)},
		},
		Detections: []models.Detection{
			{ClassName: "polyp", Confidence: models.Num(0.9), BBoxXYWH: nums(50, 50, 10, 20)},
			{ClassName: "polyp", Confidence: models.Num(0.5), BBoxXYXY: nums(0, 0, 10, 10)},
		},
	}

	rows := Rows(r)
	require.Len(t, rows, 2)
	assert.Equal(t, "5", Summarize(r).Detections)

	assert.Equal(t, "0", rows[0].ID)
	assert.Equal(t, "200", rows[0].Area)
	assert.Equal(t, "2%", rows[0].AreaPct)
	assert.Equal(t, "(50, 50)", rows[0].Centroid)

	assert.Equal(t, "100", rows[1].Area)
	assert.Equal(t, "1%", rows[1].AreaPct)
	assert.Equal(t, "(5, 5)", rows[1].Centroid)
}

func TestSummarizeCountsDetectionsWhenNotReported(t *testing.T) {
	r := &models.DetectionResult{Detections: make([]models.Detection, 3)}
	s := Summarize(r)
	assert.Equal(t, "3", s.Detections)
	assert.Equal(t, Placeholder, s.ConfidenceMean)
	assert.Equal(t, Placeholder, s.ImageSize)
	assert.Equal(t, Placeholder, s.ClassList())
}

func TestAreaPercentUnknownImageSize(t *testing.T) {
	tests := []struct {
		name string
		size models.ImageSize
	}{
		{name: "missing", size: models.ImageSize{}},
		{name: "zero width", size: models.ImageSize{Width: models.Num(0), Height: models.Num(480)}},
		{name: "zero height", size: models.ImageSize{Width: models.Num(640), Height: models.Num(0)}},
		{name: "height missing", size: models.ImageSize{Width: models.Num(640)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &models.DetectionResult{
				Summary:    models.Summary{ImageSize: tt.size},
				Detections: []models.Detection{{BBoxXYWH: nums(5, 5, 10, 10)}},
			}
			rows := Rows(r)
			require.Len(t, rows, 1)
			assert.Equal(t, Unknown, rows[0].AreaPct)
			assert.Equal(t, "100", rows[0].Area)
		})
	}
}

func TestRowWithoutGeometry(t *testing.T) {
	r := &models.DetectionResult{
		Summary:    models.Summary{ImageSize: models.ImageSize{Width: models.Num(10), Height: models.Num(10)}},
		Detections: []models.Detection{{BBoxXYWH: []models.Number{models.Num(1), {}, models.Num(2), models.Num(2)}}},
	}
	rows := Rows(r)
	require.Len(t, rows, 1)
	assert.Equal(t, Placeholder, rows[0].Area)
	assert.Equal(t, Placeholder, rows[0].AreaPct)
	assert.Equal(t, Placeholder, rows[0].Centroid)
	assert.Equal(t, Placeholder, rows[0].Class)
	assert.Equal(t, Placeholder, rows[0].Confidence)
}

func TestCentroidFromMaskPolygons(t *testing.T) {
	tests := []struct {
		name  string
		polys [][]float64
		x, y  float64
		ok    bool
	}{
		{name: "square", polys: [][]float64{{10, 10, 30, 10, 30, 30, 10, 30}}, x: 20, y: 20, ok: true},
		{name: "clockwise square", polys: [][]float64{{10, 10, 10, 30, 30, 30, 30, 10}}, x: 20, y: 20, ok: true},
		{name: "two equal squares", polys: [][]float64{{0, 0, 2, 0, 2, 2, 0, 2}, {8, 0, 10, 0, 10, 2, 8, 2}}, x: 5, y: 1, ok: true},
		{name: "degenerate line", polys: [][]float64{{0, 0, 4, 0}}, x: 2, y: 0, ok: true},
		{name: "no polygons", polys: nil, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y, ok := Centroid(models.Detection{MaskAreaPx: models.Num(400), MaskPolygons: tt.polys})
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.x, x, 1e-9)
				assert.InDelta(t, tt.y, y, 1e-9)
			}
		})
	}

	rows := Rows(&models.DetectionResult{Detections: []models.Detection{{
		MaskAreaPx:   models.Num(400),
		MaskPolygons: [][]float64{{10, 10, 30, 10, 30, 30, 10, 30}},
	}}})
	require.Len(t, rows, 1)
	assert.Equal(t, "(20, 20)", rows[0].Centroid)
}

func TestAreaPrefersMask(t *testing.T) {
	d := models.Detection{MaskAreaPx: models.Num(42), BBoxXYWH: nums(0, 0, 10, 10)}
	area, ok := Area(d)
	require.True(t, ok)
	assert.Equal(t, 42.0, area)
}

func TestClinical(t *testing.T) {
	_, ok := Clinical(&models.DetectionResult{})
	assert.False(t, ok)

	r := &models.DetectionResult{Summary: models.Summary{Clinical: &models.Clinical{
		PolypCount:           models.Num(1),
		LargestLesionAreaPct: models.Num(3.126),
		Lesions: []models.Lesion{
			{ID: models.Num(7), Confidence: models.Num(0.876), SizeClass: "medium", AreaPct: models.Num(3.126)},
		},
	}}}
	view, ok := Clinical(r)
	require.True(t, ok)
	assert.Equal(t, "1", view.PolypCount)
	assert.Equal(t, "3.13%", view.LargestLesion)
	require.Len(t, view.Lesions, 1)
	assert.Equal(t, LesionRow{ID: "7", Confidence: "87.6%", SizeClass: "medium", Coverage: "3.13%"}, view.Lesions[0])
}

func TestResultTables(t *testing.T) {
	r := &models.DetectionResult{
		Meta: models.ResultMeta{ModelName: "unet"},
		Summary: models.Summary{
			ClassCounts: map[string]models.Number{"polyp": models.Num(1), "adenoma": models.Num(2)},
		},
		Detections: []models.Detection{{ClassName: "polyp", BBoxXYWH: nums(1, 1, 2, 2)}},
	}
	out := Result(r)
	assert.Contains(t, out, "adenoma(2), polyp(1)")
	assert.Contains(t, out, "unet")
	assert.Contains(t, out, Unknown)

	assert.True(t, strings.Contains(DetectionsTable(nil), "No detections"))
	assert.Contains(t, Result(nil), Placeholder)
}

func TestHistoryTableMarksSelection(t *testing.T) {
	records := []models.HistoryRecord{
		{ID: "a", PatientName: "Ann"},
		{ID: "b", PatientName: "Bob"},
	}
	out := HistoryTable(records, func(id string) bool { return id == "b" })
	assert.Contains(t, out, "Ann")
	assert.Contains(t, out, "Bob")
	assert.Contains(t, out, "x")
	assert.Contains(t, HistoryTable(nil, nil), "No uploads yet.")
}
