package export

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/endodetect/endodetect/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords() []models.HistoryRecord {
	return []models.HistoryRecord{
		{
			ID:           "rec-1",
			Datetime:     "2024-05-01T10:20:30.123456",
			PatientName:  "Jane Doe",
			PatientID:    "P-1",
			Notes:        "follow-up",
			ModelUsed:    "yolo_9t",
			UserEmail:    "doc@example.com",
			OriginalURL:  "http://localhost/files/a.png",
			ProcessedURL: "http://localhost/files/processed_a.png",
			Result: &models.DetectionResult{
				Schema: 1,
				Meta:   models.ResultMeta{Task: "detect", ModelName: "yolo_9t"},
				Summary: models.Summary{
					NumDetections:  models.Num(1),
					ClassCounts:    map[string]models.Number{"polyp": models.Num(1), "adenoma": models.Num(1)},
					ConfidenceMean: models.Num(0.87),
					ConfidenceMax:  models.Num(0.87),
					ImageSize:      models.ImageSize{Width: models.Num(640), Height: models.Num(480)},
				},
				Detections: []models.Detection{{
					ClassName:  "polyp",
					Confidence: models.Num(0.87),
					BBoxXYXY:   []models.Number{models.Num(10), models.Num(20), models.Num(30), models.Num(40)},
				}},
			},
		},
		{
			ID:           "rec-2",
			Datetime:     "2024-05-02T08:00:00.000000",
			PatientName:  "John Roe",
			PatientID:    "P-2",
			OriginalURL:  "http://localhost/files/b.png",
			ProcessedURL: "http://localhost/files/processed_b.png",
		},
	}
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{path: "out.parquet", want: Parquet},
		{path: "out.YAML", want: YAML},
		{path: "out.yml", want: YAML},
		{path: "out.jsonl", want: JSONL},
		{path: "out.json", wantErr: true},
		{path: "out.csv", wantErr: true},
		{path: "out", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := FormatFor(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFlatten(t *testing.T) {
	records := sampleRecords()

	row, err := Flatten(records[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.Detections)
	assert.Equal(t, "adenoma,polyp", row.Classes)
	require.NotNil(t, row.ImageWidth)
	assert.Equal(t, 640.0, *row.ImageWidth)
	assert.NotEmpty(t, row.ResultJSON)

	row, err = Flatten(records[1])
	require.NoError(t, err)
	assert.Nil(t, row.ConfidenceMean)
	assert.Empty(t, row.ResultJSON)
}

func TestRoundTrip(t *testing.T) {
	for _, ext := range []string{".parquet", ".yaml", ".jsonl"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "history"+ext)
			require.NoError(t, WriteFile(path, sampleRecords()))

			got, err := ReadFile(path)
			require.NoError(t, err)
			require.Len(t, got, 2)

			first := got[0]
			assert.Equal(t, "rec-1", first.ID)
			assert.Equal(t, "Jane Doe", first.PatientName)
			assert.Equal(t, "yolo_9t", first.ModelUsed)
			assert.Equal(t, "http://localhost/files/processed_a.png", first.ProcessedURL)
			require.NotNil(t, first.Result)
			assert.Equal(t, models.Num(640), first.Result.Summary.ImageSize.Width)
			require.Len(t, first.Result.Detections, 1)
			assert.Equal(t, models.Num(0.87), first.Result.Detections[0].Confidence)
			assert.Equal(t, models.Num(30), first.Result.Detections[0].BBoxXYXY[2])

			second := got[1]
			assert.Equal(t, "rec-2", second.ID)
			assert.Nil(t, second.Result)
		})
	}
}

func TestWriteUnsupportedFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Write(&buf, Format("csv"), sampleRecords()))
	assert.Error(t, WriteFile(filepath.Join(t.TempDir(), "x.csv"), sampleRecords()))
}
