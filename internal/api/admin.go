package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/endodetect/endodetect/internal/models"
)

// AdminUsers lists every account.
func (c *Client) AdminUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := c.get(ctx, "/admin/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// AdminCreateUser creates an account on behalf of an administrator.
func (c *Client) AdminCreateUser(ctx context.Context, u models.NewUser) error {
	return c.post(ctx, "/admin/users", u, nil)
}

// AdminPromoteUser grants administrator rights.
func (c *Client) AdminPromoteUser(ctx context.Context, id string) error {
	return c.Do(ctx, http.MethodPut, "/admin/users/"+url.PathEscape(id)+"/promote", nil, nil, nil)
}

// AdminDeleteUser removes an account.
func (c *Client) AdminDeleteUser(ctx context.Context, id string) error {
	return c.Do(ctx, http.MethodDelete, "/admin/users/"+url.PathEscape(id), nil, nil, nil)
}

// AdminUploads lists every upload of every user.
func (c *Client) AdminUploads(ctx context.Context) ([]models.HistoryRecord, error) {
	var uploads []models.HistoryRecord
	if err := c.get(ctx, "/admin/uploads", nil, &uploads); err != nil {
		return nil, err
	}
	return uploads, nil
}

// AdminUploadsPage pages through the global upload set.
func (c *Client) AdminUploadsPage(ctx context.Context, cursor string, limit int) (*models.Page[models.HistoryRecord], error) {
	var page models.Page[models.HistoryRecord]
	if err := c.get(ctx, "/admin/uploads_paged", pageQuery(cursor, limit), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// AdminDeleteUpload removes a single upload.
func (c *Client) AdminDeleteUpload(ctx context.Context, id string) error {
	return c.Do(ctx, http.MethodDelete, "/admin/uploads/"+url.PathEscape(id), nil, nil, nil)
}

// AdminBulkDeleteUploads removes several uploads in one request.
func (c *Client) AdminBulkDeleteUploads(ctx context.Context, ids []string) (int, error) {
	var resp deleteResponse
	if err := c.post(ctx, "/admin/uploads/bulk_delete", bulkDeleteRequest{IDs: ids}, &resp); err != nil {
		return 0, err
	}
	return resp.DeletedCount, nil
}

// AdminStats returns the aggregate counters.
func (c *Client) AdminStats(ctx context.Context) (*models.Stats, error) {
	var stats models.Stats
	if err := c.get(ctx, "/admin/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
