// Package render turns detection results into display values. Everything
// here is pure: no I/O, no network.
package render

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/endodetect/endodetect/internal/models"
)

const (
	// Placeholder is shown for any missing or non-numeric value.
	Placeholder = "—"
	// Unknown is shown for a percentage whose denominator is zero or absent.
	Unknown = "unknown"
)

// FormatFloat prints whole numbers without decimals and everything else with
// the given number of decimals. NaN and infinities render as Placeholder.
func FormatFloat(v float64, digits int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Placeholder
	}
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', digits, 64)
}

// FormatNumber formats n with two decimals, or Placeholder when it is missing.
func FormatNumber(n models.Number) string {
	if !n.Valid {
		return Placeholder
	}
	return FormatFloat(n.Value, 2)
}

// Text returns s, or Placeholder when it is blank.
func Text(s string) string {
	if strings.TrimSpace(s) == "" {
		return Placeholder
	}
	return s
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// FormatTime renders a backend timestamp in local time. Unparseable values
// are shown verbatim.
func FormatTime(s string) string {
	if strings.TrimSpace(s) == "" {
		return Placeholder
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Local().Format("2006-01-02 15:04")
		}
	}
	return s
}

// ClassCount is one entry of the per-class tally.
type ClassCount struct {
	Class string
	Count string
}

// Summary holds the top-line statistics of a result.
type Summary struct {
	Detections     string
	ConfidenceMean string
	ConfidenceMax  string
	ImageSize      string
	Classes        []ClassCount
	Model          string
	Task           string
}

// Summarize builds the top-line statistics. The detection count is the
// backend's num_detections when reported, else the number of detections.
func Summarize(r *models.DetectionResult) Summary {
	if r == nil {
		return Summary{
			Detections:     Placeholder,
			ConfidenceMean: Placeholder,
			ConfidenceMax:  Placeholder,
			ImageSize:      Placeholder,
			Model:          Placeholder,
			Task:           Placeholder,
		}
	}

	count := FormatFloat(float64(len(r.Detections)), 0)
	if r.Summary.NumDetections.Valid {
		count = FormatNumber(r.Summary.NumDetections)
	}

	s := Summary{
		Detections:     count,
		ConfidenceMean: FormatNumber(r.Summary.ConfidenceMean),
		ConfidenceMax:  FormatNumber(r.Summary.ConfidenceMax),
		ImageSize:      formatSize(r.Summary.ImageSize),
		Model:          Text(r.Meta.ModelName),
		Task:           Text(r.Meta.Task),
	}

	classes := make([]string, 0, len(r.Summary.ClassCounts))
	for class := range r.Summary.ClassCounts {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	for _, class := range classes {
		s.Classes = append(s.Classes, ClassCount{
			Class: Text(class),
			Count: FormatNumber(r.Summary.ClassCounts[class]),
		})
	}
	return s
}

// ClassList renders the class tally as "polyp(2), adenoma(1)".
func (s Summary) ClassList() string {
	if len(s.Classes) == 0 {
		return Placeholder
	}
	parts := make([]string, 0, len(s.Classes))
	for _, c := range s.Classes {
		parts = append(parts, fmt.Sprintf("%s(%s)", c.Class, c.Count))
	}
	return strings.Join(parts, ", ")
}

func formatSize(size models.ImageSize) string {
	if !size.Width.Valid && !size.Height.Valid {
		return Placeholder
	}
	return FormatNumber(size.Width) + "×" + FormatNumber(size.Height)
}

// Row is one line of the per-detection table.
type Row struct {
	ID         string
	Class      string
	Confidence string
	Area       string
	AreaPct    string
	Centroid   string
}

// Rows returns exactly one row per detection, regardless of what the summary
// claims the count is.
func Rows(r *models.DetectionResult) []Row {
	if r == nil {
		return nil
	}

	rows := make([]Row, 0, len(r.Detections))
	for i, d := range r.Detections {
		row := Row{
			ID:         FormatFloat(float64(i), 0),
			Class:      Text(d.ClassName),
			Confidence: FormatNumber(d.Confidence),
			Area:       Placeholder,
			AreaPct:    Placeholder,
			Centroid:   Placeholder,
		}
		if d.ID.Valid {
			row.ID = FormatNumber(d.ID)
		}

		if area, ok := Area(d); ok {
			row.Area = FormatFloat(area, 2)
			if pct, ok := AreaPercent(area, r.Summary.ImageSize); ok {
				row.AreaPct = FormatFloat(pct, 2) + "%"
			} else {
				row.AreaPct = Unknown
			}
		}

		if x, y, ok := Centroid(d); ok {
			row.Centroid = fmt.Sprintf("(%s, %s)", FormatFloat(x, 2), FormatFloat(y, 2))
		}
		rows = append(rows, row)
	}
	return rows
}

// Area estimates the detection area in pixels: the mask area when present,
// else the bounding box width × height.
func Area(d models.Detection) (float64, bool) {
	if d.MaskAreaPx.Valid {
		return d.MaskAreaPx.Value, true
	}
	if w, h, ok := boxSize(d); ok {
		return w * h, true
	}
	return 0, false
}

func boxSize(d models.Detection) (float64, float64, bool) {
	if vals, ok := numbers(d.BBoxXYWH); ok {
		return vals[2], vals[3], true
	}
	if vals, ok := numbers(d.BBoxXYXY); ok {
		return vals[2] - vals[0], vals[3] - vals[1], true
	}
	return 0, 0, false
}

// numbers returns the four values of a bbox when all of them are numeric.
func numbers(box []models.Number) ([4]float64, bool) {
	var out [4]float64
	if len(box) < 4 {
		return out, false
	}
	for i := range out {
		if !box[i].Valid {
			return out, false
		}
		out[i] = box[i].Value
	}
	return out, true
}

// AreaPercent returns area as a percentage of the image. It reports false
// when the image width or height is zero or missing.
func AreaPercent(area float64, size models.ImageSize) (float64, bool) {
	if !size.Width.Valid || !size.Height.Valid {
		return 0, false
	}
	total := size.Width.Value * size.Height.Value
	if total <= 0 {
		return 0, false
	}
	pct := area / total * 100
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return 0, false
	}
	return pct, true
}

// Centroid returns the bounding box centre: xywh is already centre-based,
// xyxy is averaged. Mask-only detections use their polygons.
func Centroid(d models.Detection) (float64, float64, bool) {
	if vals, ok := numbers(d.BBoxXYWH); ok {
		return vals[0], vals[1], true
	}
	if vals, ok := numbers(d.BBoxXYXY); ok {
		return (vals[0] + vals[2]) / 2, (vals[1] + vals[3]) / 2, true
	}
	return polygonCentroid(d.MaskPolygons)
}

// polygonCentroid is the area-weighted centroid of flat [x0, y0, x1, y1, ...]
// polygons. Degenerate polygons (lines, points) fall back to the vertex mean.
func polygonCentroid(polys [][]float64) (float64, float64, bool) {
	var area, cx, cy, sumX, sumY float64
	var vertices int
	for _, p := range polys {
		n := len(p) / 2
		for i := range n {
			x0, y0 := p[2*i], p[2*i+1]
			x1, y1 := p[2*((i+1)%n)], p[2*((i+1)%n)+1]
			cross := x0*y1 - x1*y0
			area += cross
			cx += (x0 + x1) * cross
			cy += (y0 + y1) * cross
			sumX += x0
			sumY += y0
		}
		vertices += n
	}
	if vertices == 0 {
		return 0, 0, false
	}
	if math.Abs(area) < 1e-9 {
		return sumX / float64(vertices), sumY / float64(vertices), true
	}
	return cx / (3 * area), cy / (3 * area), true
}

// LesionRow is one line of the clinical lesion table.
type LesionRow struct {
	ID         string
	Confidence string
	SizeClass  string
	Coverage   string
}

// ClinicalView is the clinician-facing digest of a result.
type ClinicalView struct {
	PolypCount    string
	LargestLesion string
	Lesions       []LesionRow
}

// Clinical renders the optional clinical block; it reports false when the
// result carries none.
func Clinical(r *models.DetectionResult) (ClinicalView, bool) {
	if r == nil || r.Summary.Clinical == nil {
		return ClinicalView{}, false
	}
	c := r.Summary.Clinical

	view := ClinicalView{
		PolypCount:    "0",
		LargestLesion: Placeholder,
	}
	if c.PolypCount.Valid {
		view.PolypCount = FormatFloat(c.PolypCount.Value, 0)
	}
	if c.LargestLesionAreaPct.Valid {
		view.LargestLesion = FormatNumber(c.LargestLesionAreaPct) + "%"
	}

	for i, l := range c.Lesions {
		row := LesionRow{
			ID:         FormatFloat(float64(i), 0),
			Confidence: Placeholder,
			SizeClass:  Text(l.SizeClass),
			Coverage:   Placeholder,
		}
		if l.ID.Valid {
			row.ID = FormatNumber(l.ID)
		}
		if l.Confidence.Valid {
			row.Confidence = FormatFloat(l.Confidence.Value*100, 1) + "%"
		}
		if l.AreaPct.Valid {
			row.Coverage = FormatNumber(l.AreaPct) + "%"
		}
		view.Lesions = append(view.Lesions, row)
	}
	return view, true
}
