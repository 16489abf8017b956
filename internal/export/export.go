// Package export writes upload history to files for offline review and reads
// those files back.
package export

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/endodetect/endodetect/internal/models"
	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"
)

// Row is one history record flattened for columnar storage. The complete
// result document is kept as JSON in ResultJSON.
type Row struct {
	ID             string   `json:"id" yaml:"id" parquet:"id"`
	Datetime       string   `json:"datetime" yaml:"datetime" parquet:"datetime"`
	PatientName    string   `json:"patient_name" yaml:"patient_name" parquet:"patient_name"`
	PatientID      string   `json:"patient_id" yaml:"patient_id" parquet:"patient_id"`
	Notes          string   `json:"notes,omitempty" yaml:"notes,omitempty" parquet:"notes"`
	Model          string   `json:"model,omitempty" yaml:"model,omitempty" parquet:"model"`
	UserEmail      string   `json:"user_email,omitempty" yaml:"user_email,omitempty" parquet:"user_email"`
	OriginalURL    string   `json:"original_url" yaml:"original_url" parquet:"original_url"`
	ProcessedURL   string   `json:"processed_url" yaml:"processed_url" parquet:"processed_url"`
	Detections     int64    `json:"detections" yaml:"detections" parquet:"detections"`
	ConfidenceMean *float64 `json:"confidence_mean,omitempty" yaml:"confidence_mean,omitempty" parquet:"confidence_mean,optional"`
	ConfidenceMax  *float64 `json:"confidence_max,omitempty" yaml:"confidence_max,omitempty" parquet:"confidence_max,optional"`
	ImageWidth     *float64 `json:"image_width,omitempty" yaml:"image_width,omitempty" parquet:"image_width,optional"`
	ImageHeight    *float64 `json:"image_height,omitempty" yaml:"image_height,omitempty" parquet:"image_height,optional"`
	Classes        string   `json:"classes,omitempty" yaml:"classes,omitempty" parquet:"classes"`
	ResultJSON     string   `json:"result_json,omitempty" yaml:"-" parquet:"result_json"`
}

// Format is an export file format.
type Format string

const (
	Parquet Format = "parquet"
	YAML    Format = "yaml"
	JSONL   Format = "jsonl"
)

// FormatFor picks the format from the file extension.
func FormatFor(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".parquet":
		return Parquet, nil
	case ".yaml", ".yml":
		return YAML, nil
	case ".jsonl":
		return JSONL, nil
	default:
		return "", fmt.Errorf("unsupported file format: %s (supported: .parquet, .yaml, .jsonl)", ext)
	}
}

func optional(n models.Number) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

// Flatten converts a history record to an export row.
func Flatten(r models.HistoryRecord) (Row, error) {
	row := Row{
		ID:           r.ID,
		Datetime:     r.Datetime,
		PatientName:  r.PatientName,
		PatientID:    r.PatientID,
		Notes:        r.Notes,
		Model:        r.ModelUsed,
		UserEmail:    r.UserEmail,
		OriginalURL:  r.OriginalURL,
		ProcessedURL: r.ProcessedURL,
	}
	if r.Result == nil {
		return row, nil
	}

	res := r.Result
	row.Detections = int64(len(res.Detections))
	row.ConfidenceMean = optional(res.Summary.ConfidenceMean)
	row.ConfidenceMax = optional(res.Summary.ConfidenceMax)
	row.ImageWidth = optional(res.Summary.ImageSize.Width)
	row.ImageHeight = optional(res.Summary.ImageSize.Height)
	if row.Model == "" {
		row.Model = res.Meta.ModelName
	}

	classes := make([]string, 0, len(res.Summary.ClassCounts))
	for class := range res.Summary.ClassCounts {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	row.Classes = strings.Join(classes, ",")

	data, err := json.Marshal(res)
	if err != nil {
		return Row{}, fmt.Errorf("failed to encode result of %s: %w", r.ID, err)
	}
	row.ResultJSON = string(data)
	return row, nil
}

// Record rebuilds the history record an exported row came from.
func (row Row) Record() (models.HistoryRecord, error) {
	r := models.HistoryRecord{
		ID:           row.ID,
		Datetime:     row.Datetime,
		PatientName:  row.PatientName,
		PatientID:    row.PatientID,
		Notes:        row.Notes,
		ModelUsed:    row.Model,
		UserEmail:    row.UserEmail,
		OriginalURL:  row.OriginalURL,
		ProcessedURL: row.ProcessedURL,
	}
	if row.ResultJSON == "" {
		return r, nil
	}
	var res models.DetectionResult
	if err := json.Unmarshal([]byte(row.ResultJSON), &res); err != nil {
		return r, fmt.Errorf("failed to decode result of %s: %w", row.ID, err)
	}
	r.Result = &res
	return r, nil
}

// WriteFile exports records to path in the format its extension names.
func WriteFile(path string, records []models.HistoryRecord) error {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	if err := Write(file, format, records); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close export file: %w", err)
	}
	slog.Info("Exported history", "path", path, "format", format, "records", len(records))
	return nil
}

// Write encodes records to w.
func Write(w io.Writer, format Format, records []models.HistoryRecord) error {
	switch format {
	case YAML:
		// YAML keeps the nested result document instead of the flattened row.
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return fmt.Errorf("failed to write yaml: %w", err)
		}
		return enc.Close()
	case Parquet, JSONL:
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}

	rows := make([]Row, 0, len(records))
	for _, r := range records {
		row, err := Flatten(r)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	if format == JSONL {
		enc := json.NewEncoder(w)
		for _, row := range rows {
			if err := enc.Encode(row); err != nil {
				return fmt.Errorf("failed to write jsonl: %w", err)
			}
		}
		return nil
	}

	pw := parquet.NewGenericWriter[Row](w)
	if _, err := pw.Write(rows); err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("failed to finish parquet file: %w", err)
	}
	return nil
}

// ReadFile loads an export written by WriteFile.
func ReadFile(path string) ([]models.HistoryRecord, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open export file: %w", err)
	}
	defer file.Close()

	switch format {
	case YAML:
		var records []models.HistoryRecord
		if err := yaml.NewDecoder(file).Decode(&records); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse yaml: %w", err)
		}
		return records, nil
	case JSONL:
		rows, err := readJSONL(file)
		if err != nil {
			return nil, err
		}
		return toRecords(rows)
	}

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	rows, err := readParquet(file, info.Size())
	if err != nil {
		return nil, err
	}
	return toRecords(rows)
}

func toRecords(rows []Row) ([]models.HistoryRecord, error) {
	records := make([]models.HistoryRecord, 0, len(rows))
	for _, row := range rows {
		r, err := row.Record()
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func readJSONL(r io.Reader) ([]Row, error) {
	scanner := bufio.NewScanner(r)
	const maxCapacity = 10 * 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxCapacity)

	var rows []Row
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row Row
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("failed to parse JSON at line %d: %w", lineNum, err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading export: %w", err)
	}
	return rows, nil
}

func readParquet(r io.ReaderAt, size int64) ([]Row, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}
	slog.Debug("Parquet file opened", "num_rows", pf.NumRows(), "num_row_groups", len(pf.RowGroups()))

	reader := parquet.NewGenericReader[Row](pf)
	defer reader.Close()

	var rows []Row
	for {
		// A fresh batch per read so optional fields are not shared between rows.
		batch := make([]Row, 128)
		n, err := reader.Read(batch)
		rows = append(rows, batch[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
		if n == 0 {
			break
		}
	}
	return rows, nil
}
