package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/endodetect/endodetect/internal/api"
	"github.com/endodetect/endodetect/internal/listing"
	"github.com/endodetect/endodetect/internal/models"
)

// Flow is the signed-in user's paginated upload history.
type Flow struct {
	*listing.List[models.HistoryRecord]
}

// New creates a history flow over the /history_paged endpoint.
func New(client *api.Client) *Flow {
	fetch := func(ctx context.Context, cursor string, limit int) (*models.Page[models.HistoryRecord], error) {
		return client.HistoryPage(ctx, cursor, limit)
	}
	return &Flow{
		List: listing.New("upload records", fetch, client.BulkDeleteHistory, PatientFields),
	}
}

// PatientFields are the record fields the history filter matches against.
func PatientFields(r models.HistoryRecord) []string {
	return []string{r.PatientName, r.PatientID}
}

// All loads the first page and keeps loading until no cursor is returned.
func (f *Flow) All(ctx context.Context) ([]models.HistoryRecord, error) {
	if err := f.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	for f.HasMore() {
		if err := f.LoadMore(ctx); err != nil {
			if errors.Is(err, listing.ErrNoMorePages) {
				break
			}
			return nil, fmt.Errorf("failed to load history page: %w", err)
		}
	}
	return f.Items(), nil
}

// Find returns the loaded record with the given id.
func (f *Flow) Find(id string) (models.HistoryRecord, bool) {
	for _, r := range f.Items() {
		if r.ID == id {
			return r, true
		}
	}
	return models.HistoryRecord{}, false
}
