// Package admin drives the administrator dashboard: accounts, the global
// upload set and the aggregate counters.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"

	"github.com/endodetect/endodetect/internal/api"
	"github.com/endodetect/endodetect/internal/listing"
	"github.com/endodetect/endodetect/internal/models"
	"golang.org/x/sync/errgroup"
)

// MinPasswordLength is the shortest password CreateUser accepts.
const MinPasswordLength = 6

// Dashboard holds the administrator view state.
type Dashboard struct {
	client  *api.Client
	Uploads *listing.List[models.HistoryRecord]

	mu    sync.Mutex
	users []models.User
	stats models.Stats
}

func New(client *api.Client) *Dashboard {
	fetch := func(ctx context.Context, cursor string, limit int) (*models.Page[models.HistoryRecord], error) {
		return client.AdminUploadsPage(ctx, cursor, limit)
	}
	return &Dashboard{
		client:  client,
		Uploads: listing.New("uploads", fetch, client.AdminBulkDeleteUploads, UploadFields),
	}
}

// UploadFields are the record fields the uploads filter matches against.
func UploadFields(r models.HistoryRecord) []string {
	return []string{r.PatientName, r.PatientID, r.UserEmail}
}

// Refresh reloads users, the first uploads page and the stats in parallel.
func (d *Dashboard) Refresh(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.ListUsers(gctx)
	})
	g.Go(func() error {
		if err := d.Uploads.Refresh(gctx); err != nil {
			return fmt.Errorf("failed to load uploads: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return d.RefreshStats(gctx)
	})
	return g.Wait()
}

// ListUsers reloads the account list.
func (d *Dashboard) ListUsers(ctx context.Context) error {
	users, err := d.client.AdminUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load users: %w", err)
	}
	d.mu.Lock()
	d.users = users
	d.mu.Unlock()
	return nil
}

// RefreshStats reloads the aggregate counters.
func (d *Dashboard) RefreshStats(ctx context.Context) error {
	stats, err := d.client.AdminStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to load stats: %w", err)
	}
	d.mu.Lock()
	d.stats = *stats
	d.mu.Unlock()
	return nil
}

// Users returns the last loaded account list.
func (d *Dashboard) Users() []models.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.User(nil), d.users...)
}

// Stats returns the last loaded counters.
func (d *Dashboard) Stats() models.Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// FindUser returns the loaded account with the given id.
func (d *Dashboard) FindUser(id string) (models.User, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if u.ID == id {
			return u, true
		}
	}
	return models.User{}, false
}

// ValidateNewUser checks the fields CreateUser requires before any request.
func ValidateNewUser(u models.NewUser) error {
	email := strings.TrimSpace(u.Email)
	if email == "" {
		return &api.ValidationError{Field: "email", Detail: "Email is required."}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return &api.ValidationError{Field: "email", Detail: "Please enter a valid email address."}
	}
	if len(u.Password) < MinPasswordLength {
		return &api.ValidationError{
			Field:  "password",
			Detail: fmt.Sprintf("Password must be at least %d characters.", MinPasswordLength),
		}
	}
	return nil
}

// CreateUser validates u locally, creates the account and refreshes the
// user list and stats. A payload the server rejects comes back as a
// *api.ValidationError carrying the server's detail.
func (d *Dashboard) CreateUser(ctx context.Context, u models.NewUser) error {
	u.Email = strings.TrimSpace(u.Email)
	if err := ValidateNewUser(u); err != nil {
		return err
	}

	if err := d.client.AdminCreateUser(ctx, u); err != nil {
		var apiErr *api.Error
		if errors.As(err, &apiErr) && apiErr.IsValidation() {
			return &api.ValidationError{Field: "user", Detail: apiErr.Detail}
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	slog.Info("Created user", "email", u.Email, "is_admin", u.IsAdmin)
	return d.afterUserChange(ctx)
}

// Promote grants administrator rights. It is additive, so no confirmation is
// asked for.
func (d *Dashboard) Promote(ctx context.Context, id string) error {
	if err := d.client.AdminPromoteUser(ctx, id); err != nil {
		return fmt.Errorf("failed to promote user: %w", err)
	}
	slog.Info("Promoted user", "user_id", id)
	return d.afterUserChange(ctx)
}

// DeleteUser removes an account after confirmation.
func (d *Dashboard) DeleteUser(ctx context.Context, id string, c listing.Confirmer) error {
	label := id
	if u, ok := d.FindUser(id); ok && u.Email != "" {
		label = u.Email
	}
	if err := listing.Confirm(ctx, c, fmt.Sprintf("Delete user %s?", label)); err != nil {
		return err
	}
	if err := d.client.AdminDeleteUser(ctx, id); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	slog.Info("Deleted user", "user_id", id)
	return d.afterUserChange(ctx)
}

// DeleteUpload removes a single upload after confirmation.
func (d *Dashboard) DeleteUpload(ctx context.Context, id string, c listing.Confirmer) error {
	if err := listing.Confirm(ctx, c, "Delete this upload and its stored images?"); err != nil {
		return err
	}
	if err := d.client.AdminDeleteUpload(ctx, id); err != nil {
		return fmt.Errorf("failed to delete upload: %w", err)
	}
	d.Uploads.Remove(id)
	slog.Info("Deleted upload", "upload_id", id)
	return d.afterUploadChange(ctx)
}

// DeleteSelectedUploads bulk-deletes the selected uploads after confirmation.
func (d *Dashboard) DeleteSelectedUploads(ctx context.Context, c listing.Confirmer) (int, error) {
	n, err := d.Uploads.DeleteSelected(ctx, c)
	if err != nil {
		return 0, err
	}
	return n, d.afterUploadChange(ctx)
}

func (d *Dashboard) afterUserChange(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.ListUsers(gctx) })
	g.Go(func() error { return d.RefreshStats(gctx) })
	return g.Wait()
}

func (d *Dashboard) afterUploadChange(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := d.Uploads.Refresh(gctx); err != nil {
			return fmt.Errorf("failed to reload uploads: %w", err)
		}
		return nil
	})
	g.Go(func() error { return d.RefreshStats(gctx) })
	return g.Wait()
}
