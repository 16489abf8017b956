package session

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/endodetect/endodetect/internal/api"
	"github.com/endodetect/endodetect/internal/handlers"
	"github.com/endodetect/endodetect/internal/models"
	"github.com/endodetect/endodetect/internal/storage"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T, opts ...handlers.Option) *httptest.Server {
	t.Helper()
	opts = append([]handlers.Option{handlers.WithFilesDir(t.TempDir())}, opts...)
	srv := httptest.NewServer(handlers.New(opts...).Router())
	t.Cleanup(srv.Close)
	return srv
}

func register(t *testing.T, c *api.Client, email, password string) {
	t.Helper()
	_, err := c.Register(context.Background(), email, password)
	require.NoError(t, err)
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no auth event received")
		return Event{}
	}
}

func TestLoginPersistsTokenAndPublishes(t *testing.T) {
	srv := newBackend(t)
	client := api.NewClient(srv.URL)
	register(t, client, "doc@example.com", "secret1")

	store := storage.NewMemoryStore()
	s := New(store, client)
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	id, err := s.Login(context.Background(), models.Credentials{Identifier: "doc@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "doc@example.com", id.Email)
	assert.True(t, id.IsAdmin)
	assert.NotEmpty(t, id.UserID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), id.ExpiresAt, time.Minute)

	assert.True(t, s.LoggedIn())
	token, ok := store.Get(storage.KeyToken)
	require.True(t, ok)
	assert.Equal(t, id.Token, token)

	ev := nextEvent(t, events)
	assert.Equal(t, EventAuthChanged, ev.Type)
	assert.Equal(t, ReasonLogin, ev.Reason)
	assert.True(t, ev.LoggedIn)
	assert.Equal(t, "doc@example.com", ev.DisplayName)

	// Authenticated calls now carry the token.
	profile, err := client.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "doc@example.com", profile.Email)
}

func TestLoginInvalidCredentials(t *testing.T) {
	srv := newBackend(t)
	client := api.NewClient(srv.URL)
	register(t, client, "doc@example.com", "secret1")

	s := New(storage.NewMemoryStore(), client)
	_, err := s.Login(context.Background(), models.Credentials{Identifier: "doc@example.com", Password: "wrong"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, "Invalid credentials.", api.StatusText(err))
	assert.False(t, s.LoggedIn())
}

func TestFailedReloginKeepsSession(t *testing.T) {
	srv := newBackend(t)
	client := api.NewClient(srv.URL)
	register(t, client, "doc@example.com", "secret1")

	s := New(storage.NewMemoryStore(), client)
	_, err := s.Login(context.Background(), models.Credentials{Identifier: "doc@example.com", Password: "secret1"})
	require.NoError(t, err)
	token := s.Token()

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	_, err = s.Login(context.Background(), models.Credentials{Identifier: "doc@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.True(t, s.LoggedIn())
	assert.Equal(t, token, s.Token())

	select {
	case ev := <-events:
		t.Fatalf("unexpected auth event %q", ev.Reason)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLoginRequiresBothFields(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	s := New(storage.NewMemoryStore(), api.NewClient(srv.URL))
	tests := []struct {
		name  string
		creds models.Credentials
		field string
	}{
		{name: "blank identifier", creds: models.Credentials{Identifier: "  ", Password: "x"}, field: "identifier"},
		{name: "blank password", creds: models.Credentials{Identifier: "doc"}, field: "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Login(context.Background(), tt.creds)
			var valErr *api.ValidationError
			require.ErrorAs(t, err, &valErr)
			assert.Equal(t, tt.field, valErr.Field)
		})
	}
	assert.Zero(t, hits.Load())
}

func TestUnauthorizedResponseInvalidatesSession(t *testing.T) {
	var skew atomic.Int64
	srv := newBackend(t, handlers.WithClock(func() time.Time { return time.Now().Add(time.Duration(skew.Load())) }))
	client := api.NewClient(srv.URL)
	register(t, client, "doc@example.com", "secret1")

	s := New(storage.NewMemoryStore(), client)
	_, err := s.Login(context.Background(), models.Credentials{Identifier: "doc@example.com", Password: "secret1"})
	require.NoError(t, err)

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	skew.Store(int64(2 * time.Hour))
	_, err = client.History(context.Background())
	require.ErrorIs(t, err, api.ErrUnauthorized)

	assert.False(t, s.LoggedIn())
	_, ok := s.DisplayName()
	assert.False(t, ok)

	ev := nextEvent(t, events)
	assert.Equal(t, ReasonExpired, ev.Reason)
	assert.False(t, ev.LoggedIn)
}

func TestLogoutPublishes(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.Set(storage.KeyToken, "a.b.c"))
	require.NoError(t, store.Set(storage.KeyDisplayName, "Doc"))

	s := New(store, api.NewClient("http://127.0.0.1:0"))
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	require.NoError(t, s.Logout())
	assert.False(t, s.LoggedIn())
	ev := nextEvent(t, events)
	assert.Equal(t, ReasonLogout, ev.Reason)

	// Invalidating an already signed-out session publishes nothing.
	s.Invalidate(ReasonExpired)
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestCurrentDisplayName(t *testing.T) {
	srv := newBackend(t)
	client := api.NewClient(srv.URL)
	register(t, client, "doc@example.com", "secret1")

	s := New(storage.NewMemoryStore(), client)
	ctx := context.Background()

	_, ok := s.CurrentDisplayName(ctx)
	assert.False(t, ok)

	_, err := s.Login(ctx, models.Credentials{Identifier: "doc@example.com", Password: "secret1"})
	require.NoError(t, err)

	name, ok := s.CurrentDisplayName(ctx)
	require.True(t, ok)
	assert.Equal(t, "doc@example.com", name)

	require.NoError(t, client.UpdateProfile(ctx, models.ProfileUpdate{Name: "Dr. Grey"}))
	name, ok = s.CurrentDisplayName(ctx)
	require.True(t, ok)
	assert.Equal(t, "Dr. Grey", name)

	cached, ok := s.DisplayName()
	require.True(t, ok)
	assert.Equal(t, "Dr. Grey", cached)
}

func TestCurrentDisplayNameFallsBackToCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store := storage.NewMemoryStore()
	require.NoError(t, store.Set(storage.KeyToken, "a.b.c"))
	require.NoError(t, store.Set(storage.KeyDisplayName, "Cached Name"))

	s := New(store, api.NewClient(srv.URL))
	name, ok := s.CurrentDisplayName(context.Background())
	require.True(t, ok)
	assert.Equal(t, "Cached Name", name)
}

func TestParseIdentity(t *testing.T) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      "a@b.c",
		"user_id":  "u1",
		"is_admin": true,
		"exp":      1700000000,
	}).SignedString([]byte("any key"))
	require.NoError(t, err)

	// Expired tokens still decode; the backend decides whether they are valid.
	id, err := ParseIdentity(signed)
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", id.Email)
	assert.Equal(t, "u1", id.UserID)
	assert.True(t, id.IsAdmin)
	assert.Equal(t, int64(1700000000), id.ExpiresAt.Unix())

	tests := []string{
		"",
		"only.two",
		"a.!!!.c",
		"eyJhbGciOiJIUzI1NiJ9." + base64.RawURLEncoding.EncodeToString([]byte("not json")) + ".c",
	}
	for _, token := range tests {
		_, err := ParseIdentity(token)
		assert.True(t, errors.Is(err, ErrMalformedToken), "token %q", token)
	}
}
