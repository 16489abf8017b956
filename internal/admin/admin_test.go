package admin

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"net/http/httptest"
	"testing"

	"github.com/endodetect/endodetect/internal/api"
	"github.com/endodetect/endodetect/internal/handlers"
	"github.com/endodetect/endodetect/internal/listing"
	"github.com/endodetect/endodetect/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

type backend struct {
	url string
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	srv := httptest.NewServer(handlers.New(handlers.WithFilesDir(t.TempDir())).Router())
	t.Cleanup(srv.Close)
	return &backend{url: srv.URL}
}

// client registers email (the first account becomes admin) and returns a
// client signed in as it.
func (b *backend) client(t *testing.T, email string) *api.Client {
	t.Helper()
	ctx := context.Background()
	c := api.NewClient(b.url)
	_, err := c.Register(ctx, email, "secret1")
	require.NoError(t, err)
	resp, err := c.Login(ctx, models.Credentials{Identifier: email, Password: "secret1"})
	require.NoError(t, err)
	c.SetTokenSource(staticToken(resp.AccessToken))
	return c
}

func uploadN(t *testing.T, c *api.Client, patient string, n int) {
	t.Helper()
	var files []api.UploadFile
	for i := 0; i < n; i++ {
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 16, 16))))
		files = append(files, api.UploadFile{Name: fmt.Sprintf("f%d.png", i), Content: &buf})
	}
	_, err := c.Upload(context.Background(), api.UploadRequest{Files: files, PatientName: patient, PatientID: "P-" + patient})
	require.NoError(t, err)
}

func TestValidateNewUser(t *testing.T) {
	tests := []struct {
		name  string
		user  models.NewUser
		field string
	}{
		{name: "missing email", user: models.NewUser{Password: "secret1"}, field: "email"},
		{name: "bad email", user: models.NewUser{Email: "nurse", Password: "secret1"}, field: "email"},
		{name: "short password", user: models.NewUser{Email: "n@example.com", Password: "12345"}, field: "password"},
		{name: "valid", user: models.NewUser{Email: "n@example.com", Password: "123456"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNewUser(tt.user)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var valErr *api.ValidationError
			require.ErrorAs(t, err, &valErr)
			assert.Equal(t, tt.field, valErr.Field)
		})
	}
}

func TestRefreshLoadsEverything(t *testing.T) {
	b := newBackend(t)
	adminClient := b.client(t, "admin@example.com")
	userClient := b.client(t, "user@example.com")
	uploadN(t, userClient, "jane", 3)

	d := New(adminClient)
	require.NoError(t, d.Refresh(context.Background()))

	assert.Len(t, d.Users(), 2)
	assert.Equal(t, models.Stats{TotalUsers: 2, TotalUploads: 3}, d.Stats())
	assert.Equal(t, 3, d.Uploads.Len())
	assert.False(t, d.Uploads.HasMore())

	d.Uploads.SetFilter("USER@example")
	assert.Len(t, d.Uploads.Visible(), 3)
	d.Uploads.SetFilter("nobody")
	assert.Empty(t, d.Uploads.Visible())
}

func TestRefreshForbiddenForNonAdmin(t *testing.T) {
	b := newBackend(t)
	b.client(t, "admin@example.com")
	userClient := b.client(t, "user@example.com")

	err := New(userClient).Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrForbidden)
	assert.Equal(t, "Admin access only.", api.StatusText(err))
}

func TestCreateUser(t *testing.T) {
	b := newBackend(t)
	d := New(b.client(t, "admin@example.com"))
	ctx := context.Background()

	require.NoError(t, d.CreateUser(ctx, models.NewUser{Email: " nurse@example.com ", Password: "secret1", Name: "Nurse"}))
	assert.Len(t, d.Users(), 2)
	assert.Equal(t, 2, d.Stats().TotalUsers)

	err := d.CreateUser(ctx, models.NewUser{Email: "nurse@example.com", Password: "secret1"})
	var valErr *api.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "Email already registered.", valErr.Detail)
	assert.Len(t, d.Users(), 2)
}

func TestPromoteAndDeleteUser(t *testing.T) {
	b := newBackend(t)
	d := New(b.client(t, "admin@example.com"))
	ctx := context.Background()
	require.NoError(t, d.CreateUser(ctx, models.NewUser{Email: "nurse@example.com", Password: "secret1"}))

	var nurse models.User
	for _, u := range d.Users() {
		if u.Email == "nurse@example.com" {
			nurse = u
		}
	}
	require.NotEmpty(t, nurse.ID)
	assert.False(t, nurse.IsAdmin)

	require.NoError(t, d.Promote(ctx, nurse.ID))
	promoted, ok := d.FindUser(nurse.ID)
	require.True(t, ok)
	assert.True(t, promoted.IsAdmin)

	var prompt string
	decline := listing.ConfirmFunc(func(_ context.Context, p string) (bool, error) {
		prompt = p
		return false, nil
	})
	err := d.DeleteUser(ctx, nurse.ID, decline)
	assert.ErrorIs(t, err, listing.ErrNotConfirmed)
	assert.Equal(t, "Delete user nurse@example.com?", prompt)
	assert.Len(t, d.Users(), 2)

	require.NoError(t, d.DeleteUser(ctx, nurse.ID, listing.AlwaysConfirm))
	_, ok = d.FindUser(nurse.ID)
	assert.False(t, ok)
	assert.Equal(t, 1, d.Stats().TotalUsers)
}

func TestDeleteUploads(t *testing.T) {
	b := newBackend(t)
	adminClient := b.client(t, "admin@example.com")
	uploadN(t, adminClient, "jane", 5)

	d := New(adminClient)
	ctx := context.Background()
	require.NoError(t, d.Refresh(ctx))
	items := d.Uploads.Items()
	require.Len(t, items, 5)

	require.NoError(t, d.DeleteUpload(ctx, items[0].ID, listing.AlwaysConfirm))
	assert.Equal(t, 4, d.Uploads.Len())
	assert.Equal(t, 4, d.Stats().TotalUploads)

	d.Uploads.Toggle(items[1].ID)
	d.Uploads.Toggle(items[2].ID)
	n, err := d.DeleteSelectedUploads(ctx, listing.AlwaysConfirm)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, d.Uploads.Len())
	assert.Empty(t, d.Uploads.Selected())
	assert.Equal(t, 2, d.Stats().TotalUploads)

	_, err = d.DeleteSelectedUploads(ctx, listing.AlwaysConfirm)
	assert.ErrorIs(t, err, listing.ErrEmptySelection)
}
