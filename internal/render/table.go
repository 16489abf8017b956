package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/endodetect/endodetect/internal/models"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// Title renders a section heading.
func Title(s string) string {
	return titleStyle.Render(s)
}

// Muted renders secondary text.
func Muted(s string) string {
	return mutedStyle.Render(s)
}

// SummaryTable renders the top-line statistics of a result.
func SummaryTable(s Summary) string {
	t := newTable("Statistic", "Value").
		Row("Detections", s.Detections).
		Row("Confidence (mean)", s.ConfidenceMean).
		Row("Confidence (max)", s.ConfidenceMax).
		Row("Image size", s.ImageSize).
		Row("Classes", s.ClassList()).
		Row("Model", s.Model)
	return t.String()
}

// DetectionsTable renders one line per detection.
func DetectionsTable(rows []Row) string {
	if len(rows) == 0 {
		return Muted("No detections.")
	}
	t := newTable("#", "Class", "Confidence", "Area (px)", "Image %", "Centroid")
	for _, r := range rows {
		t.Row(r.ID, r.Class, r.Confidence, r.Area, r.AreaPct, r.Centroid)
	}
	return t.String()
}

// ClinicalTable renders the clinical digest.
func ClinicalTable(v ClinicalView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Polyps detected: %s   Largest lesion: %s image coverage\n", v.PolypCount, v.LargestLesion)
	if len(v.Lesions) == 0 {
		b.WriteString(Muted("No polyps detected."))
		return b.String()
	}
	t := newTable("#", "AI Confidence Score", "Size class", "Image coverage")
	for _, l := range v.Lesions {
		t.Row(l.ID, l.Confidence, l.SizeClass, l.Coverage)
	}
	b.WriteString(t.String())
	return b.String()
}

// Result renders the full view of one detection result.
func Result(r *models.DetectionResult) string {
	if r == nil {
		return Muted(Placeholder)
	}
	var b strings.Builder
	b.WriteString(SummaryTable(Summarize(r)))
	b.WriteString("\n")
	if view, ok := Clinical(r); ok {
		b.WriteString(ClinicalTable(view))
		b.WriteString("\n")
	}
	b.WriteString(DetectionsTable(Rows(r)))
	return b.String()
}

// HistoryTable renders upload records. selected marks rows picked for bulk
// actions; it may be nil.
func HistoryTable(records []models.HistoryRecord, selected func(id string) bool) string {
	if len(records) == 0 {
		return Muted("No uploads yet.")
	}
	t := newTable("", "ID", "When", "Patient", "Patient ID", "Model", "Detections", "Processed")
	for _, r := range records {
		mark := " "
		if selected != nil && selected(r.ID) {
			mark = "x"
		}
		t.Row(
			mark,
			Text(r.ID),
			FormatTime(r.Datetime),
			Text(r.PatientName),
			Text(r.PatientID),
			Text(defaultModel(r.ModelUsed)),
			Summarize(r.Result).Detections,
			Text(r.ProcessedURL),
		)
	}
	return t.String()
}

// AdminUploadsTable renders the global upload set with the uploader column.
func AdminUploadsTable(records []models.HistoryRecord, selected func(id string) bool) string {
	if len(records) == 0 {
		return Muted("No uploads")
	}
	t := newTable("", "ID", "Patient Name", "Uploader", "Datetime", "URL")
	for _, r := range records {
		mark := " "
		if selected != nil && selected(r.ID) {
			mark = "x"
		}
		t.Row(mark, Text(r.ID), Text(r.PatientName), Text(r.UserEmail), FormatTime(r.Datetime), Text(r.ProcessedURL))
	}
	return t.String()
}

// UsersTable renders the admin user list.
func UsersTable(users []models.User) string {
	if len(users) == 0 {
		return Muted("No users")
	}
	t := newTable("ID", "Email", "Name", "Is Admin", "Created")
	for _, u := range users {
		admin := "No"
		if u.IsAdmin {
			admin = "Yes"
		}
		t.Row(Text(u.ID), Text(u.Email), Text(u.Name), admin, FormatTime(u.CreatedAt))
	}
	return t.String()
}

// StatsTable renders the admin aggregate counters.
func StatsTable(s models.Stats) string {
	return newTable("Total Users", "Total Uploads").
		Row(fmt.Sprint(s.TotalUsers), fmt.Sprint(s.TotalUploads)).
		String()
}

// ProfileTable renders the signed-in user's profile.
func ProfileTable(p models.Profile) string {
	return newTable("Field", "Value").
		Row("Email", Text(p.Email)).
		Row("User ID", Text(p.UserID)).
		Row("Created At", FormatTime(p.CreatedAt)).
		Row("Name", Text(p.Name)).
		Row("Workplace", Text(p.Workplace)).
		Row("Address", Text(p.Address)).
		Row("Occupation", Text(p.Occupation)).
		Row("Phone", Text(p.Phone)).
		String()
}

func defaultModel(m string) string {
	if m == "" {
		return "default"
	}
	return m
}
