package api

import (
	"context"
	"net/url"
	"strconv"

	"github.com/endodetect/endodetect/internal/models"
)

type bulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

type deleteResponse struct {
	DeletedCount int `json:"deleted_count"`
}

func pageQuery(cursor string, limit int) url.Values {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	return q
}

// History returns the caller's complete upload history in one response.
func (c *Client) History(ctx context.Context) ([]models.HistoryRecord, error) {
	var records []models.HistoryRecord
	if err := c.get(ctx, "/history", nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// HistoryPage returns up to limit records starting at cursor; an empty cursor
// requests the first page.
func (c *Client) HistoryPage(ctx context.Context, cursor string, limit int) (*models.Page[models.HistoryRecord], error) {
	var page models.Page[models.HistoryRecord]
	if err := c.get(ctx, "/history_paged", pageQuery(cursor, limit), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// BulkDeleteHistory removes the given records and their stored images.
func (c *Client) BulkDeleteHistory(ctx context.Context, ids []string) (int, error) {
	var resp deleteResponse
	if err := c.post(ctx, "/history/bulk_delete", bulkDeleteRequest{IDs: ids}, &resp); err != nil {
		return 0, err
	}
	return resp.DeletedCount, nil
}
