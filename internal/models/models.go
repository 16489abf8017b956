package models

import (
	"encoding/json"
	"math"

	"gopkg.in/yaml.v3"
)

// Number is a JSON number that tolerates null, missing and non-numeric values.
// Valid is false whenever the wire value was not a finite number.
type Number struct {
	Value float64
	Valid bool
}

// Num returns a valid Number.
func Num(v float64) Number {
	return Number{Value: v, Valid: true}
}

func (n *Number) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	f, ok := v.(float64)
	*n = Number{Value: f, Valid: ok && !math.IsNaN(f) && !math.IsInf(f, 0)}
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid || math.IsNaN(n.Value) || math.IsInf(n.Value, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

func (n Number) MarshalYAML() (any, error) {
	if !n.Valid {
		return nil, nil
	}
	return n.Value, nil
}

func (n *Number) UnmarshalYAML(value *yaml.Node) error {
	*n = Number{}
	if value.Kind != yaml.ScalarNode || value.Tag == "!!null" {
		return nil
	}
	var f float64
	if err := value.Decode(&f); err != nil {
		return nil
	}
	*n = Number{Value: f, Valid: !math.IsNaN(f) && !math.IsInf(f, 0)}
	return nil
}

// Detection is one bounding-box or mask finding returned by the backend model.
type Detection struct {
	ID           Number      `json:"detection_id,omitzero" yaml:"detection_id,omitempty"`
	ClassID      Number      `json:"class_id,omitzero" yaml:"class_id,omitempty"`
	ClassName    string      `json:"class_name,omitempty" yaml:"class_name,omitempty"`
	Confidence   Number      `json:"confidence,omitzero" yaml:"confidence,omitempty"`
	BBoxXYXY     []Number    `json:"bbox_xyxy,omitempty" yaml:"bbox_xyxy,omitempty"`
	BBoxXYWH     []Number    `json:"bbox_xywh,omitempty" yaml:"bbox_xywh,omitempty"`
	BBoxXYXYNorm []Number    `json:"bbox_xyxy_norm,omitempty" yaml:"bbox_xyxy_norm,omitempty"`
	BBoxXYWHNorm []Number    `json:"bbox_xywh_norm,omitempty" yaml:"bbox_xywh_norm,omitempty"`
	BBoxAreaPx   Number      `json:"bbox_area_px,omitzero" yaml:"bbox_area_px,omitempty"`
	AspectRatio  Number      `json:"aspect_ratio,omitzero" yaml:"aspect_ratio,omitempty"`
	MaskAreaPx   Number      `json:"mask_area_px,omitzero" yaml:"mask_area_px,omitempty"`
	MaskPolygons [][]float64 `json:"mask_polygons,omitempty" yaml:"mask_polygons,omitempty"`
}

// ImageSize is the pixel size of the analysed image.
type ImageSize struct {
	Width  Number `json:"width" yaml:"width"`
	Height Number `json:"height" yaml:"height"`
}

// Lesion is one entry of the clinical summary block.
type Lesion struct {
	ID         Number `json:"id,omitzero" yaml:"id,omitempty"`
	Confidence Number `json:"confidence,omitzero" yaml:"confidence,omitempty"`
	SizeClass  string `json:"size_class,omitempty" yaml:"size_class,omitempty"`
	AreaPct    Number `json:"area_pct,omitzero" yaml:"area_pct,omitempty"`
}

// Clinical is the optional clinician-facing digest some models attach.
type Clinical struct {
	PolypCount           Number   `json:"polyp_count,omitzero" yaml:"polyp_count,omitempty"`
	LargestLesionAreaPct Number   `json:"largest_lesion_area_pct,omitzero" yaml:"largest_lesion_area_pct,omitempty"`
	Lesions              []Lesion `json:"lesions,omitempty" yaml:"lesions,omitempty"`
}

// Summary holds the top-line statistics of a detection run.
// NumDetections is reported by the backend and may disagree with len(Detections).
type Summary struct {
	NumDetections  Number             `json:"num_detections,omitzero" yaml:"num_detections,omitempty"`
	ClassCounts    map[string]Number  `json:"class_counts,omitempty" yaml:"class_counts,omitempty"`
	ConfidenceMean Number             `json:"confidence_mean,omitzero" yaml:"confidence_mean,omitempty"`
	ConfidenceMax  Number             `json:"confidence_max,omitzero" yaml:"confidence_max,omitempty"`
	ImageSize      ImageSize          `json:"image_size" yaml:"image_size"`
	TimeMS         map[string]float64 `json:"time_ms,omitempty" yaml:"time_ms,omitempty"`
	Clinical       *Clinical          `json:"clinical,omitempty" yaml:"clinical,omitempty"`
}

// ResultMeta describes how a result was produced.
type ResultMeta struct {
	Task      string `json:"task,omitempty" yaml:"task,omitempty"`
	ModelName string `json:"model_name,omitempty" yaml:"model_name,omitempty"`
}

// DetectionResult is the per-image result document produced by the backend.
type DetectionResult struct {
	Schema     int         `json:"schema,omitempty" yaml:"schema,omitempty"`
	Meta       ResultMeta  `json:"result_meta" yaml:"result_meta"`
	Summary    Summary     `json:"summary" yaml:"summary"`
	Detections []Detection `json:"detections" yaml:"detections"`
}

// UploadResult is the backend's answer for one file of a batch.
type UploadResult struct {
	OriginalURL       string           `json:"s3_url,omitempty" yaml:"original_url,omitempty"`
	ProcessedImageURL string           `json:"processed_s3_url" yaml:"processed_image_url"`
	Result            *DetectionResult `json:"result" yaml:"result"`
	Model             string           `json:"model,omitempty" yaml:"model,omitempty"`
}

// UploadResponse is the body returned by POST /upload.
type UploadResponse struct {
	Message string         `json:"message"`
	Results []UploadResult `json:"results"`
}

// HistoryRecord is one persisted upload.
type HistoryRecord struct {
	ID           string           `json:"_id" yaml:"id"`
	Datetime     string           `json:"datetime" yaml:"datetime"`
	PatientName  string           `json:"patient_name" yaml:"patient_name"`
	PatientID    string           `json:"patient_id" yaml:"patient_id"`
	Notes        string           `json:"notes" yaml:"notes,omitempty"`
	ModelUsed    string           `json:"model_used,omitempty" yaml:"model_used,omitempty"`
	OriginalURL  string           `json:"s3_url" yaml:"original_url"`
	ProcessedURL string           `json:"processed_s3_url" yaml:"processed_url"`
	UserID       string           `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	UserEmail    string           `json:"user_email,omitempty" yaml:"user_email,omitempty"`
	Result       *DetectionResult `json:"result,omitempty" yaml:"result,omitempty"`
}

// UnmarshalJSON accepts either "_id" or "id" as the record identifier.
func (r *HistoryRecord) UnmarshalJSON(b []byte) error {
	type alias HistoryRecord
	aux := struct {
		*alias
		AltID string `json:"id"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = aux.AltID
	}
	return nil
}

// Key returns the record identifier.
func (r HistoryRecord) Key() string {
	return r.ID
}

// Page is one slice of a cursor-paginated listing. An empty NextCursor marks the end.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// User is an account as seen by administrators.
type User struct {
	ID        string `json:"_id" yaml:"id"`
	Email     string `json:"email" yaml:"email"`
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	IsAdmin   bool   `json:"is_admin" yaml:"is_admin"`
	CreatedAt string `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

func (u *User) UnmarshalJSON(b []byte) error {
	type alias User
	aux := struct {
		*alias
		AltID string `json:"id"`
	}{alias: (*alias)(u)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if u.ID == "" {
		u.ID = aux.AltID
	}
	return nil
}

// NewUser is the payload of the admin create-user action.
type NewUser struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
	IsAdmin  bool   `json:"is_admin"`
}

// Profile is the signed-in user's own account document.
type Profile struct {
	Email      string `json:"email" yaml:"email"`
	UserID     string `json:"user_id" yaml:"user_id"`
	CreatedAt  string `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	Name       string `json:"name" yaml:"name"`
	Workplace  string `json:"workplace" yaml:"workplace"`
	Address    string `json:"address" yaml:"address"`
	Occupation string `json:"occupation" yaml:"occupation"`
	Phone      string `json:"phone" yaml:"phone"`
	IsAdmin    bool   `json:"is_admin" yaml:"is_admin"`
}

// ProfileUpdate is the editable subset of Profile.
type ProfileUpdate struct {
	Name       string `json:"name"`
	Workplace  string `json:"workplace"`
	Address    string `json:"address"`
	Occupation string `json:"occupation"`
	Phone      string `json:"phone"`
}

// Stats are the admin aggregate counters.
type Stats struct {
	TotalUsers   int `json:"total_users" yaml:"total_users"`
	TotalUploads int `json:"total_uploads" yaml:"total_uploads"`
}

// Credentials identify a user at login. Identifier is an email or a username.
type Credentials struct {
	Identifier string
	Password   string
}

// Message is the generic {"message": ...} acknowledgement body.
type Message struct {
	Message string `json:"message"`
}

// Key returns the user identifier.
func (u User) Key() string {
	return u.ID
}
