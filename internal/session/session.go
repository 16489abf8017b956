package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/endodetect/endodetect/internal/api"
	"github.com/endodetect/endodetect/internal/models"
	"github.com/endodetect/endodetect/internal/storage"
)

// EventAuthChanged is the type of every event published by a Store.
const EventAuthChanged = "auth-changed"

const subscriberBuffer = 16

// Reason explains why the authentication state changed.
type Reason string

const (
	ReasonLogin    Reason = "login"
	ReasonLogout   Reason = "logout"
	ReasonExpired  Reason = "expired"
	ReasonExternal Reason = "external"
	ReasonProfile  Reason = "profile"
)

// ErrInvalidCredentials is returned by Login when the backend rejects the credentials.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Event is broadcast to subscribers whenever the session changes.
type Event struct {
	Type        string
	Reason      Reason
	LoggedIn    bool
	DisplayName string
	Time        time.Time
}

// Store owns the persisted token and cached display name and notifies
// subscribers when either changes. It is safe for concurrent use.
type Store struct {
	store  storage.Store
	client *api.Client

	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// New creates a session store backed by store and registers it as the token
// source of client. A 401 on any authenticated request invalidates the session.
func New(store storage.Store, client *api.Client) *Store {
	s := &Store{
		store:  store,
		client: client,
		subs:   make(map[chan Event]struct{}),
	}
	client.SetTokenSource(s)
	client.OnUnauthorized(func() {
		s.Invalidate(ReasonExpired)
	})
	return s
}

// Token returns the persisted bearer token, or "" when signed out.
func (s *Store) Token() string {
	token, _ := s.store.Get(storage.KeyToken)
	return token
}

// LoggedIn reports whether a token is present.
func (s *Store) LoggedIn() bool {
	return s.Token() != ""
}

// Identity decodes the claims of the current token.
func (s *Store) Identity() (*Identity, error) {
	token := s.Token()
	if token == "" {
		return nil, api.ErrUnauthorized
	}
	return ParseIdentity(token)
}

// Login authenticates against the backend, persists the token and a display
// name derived from it, and publishes an auth-changed event.
func (s *Store) Login(ctx context.Context, creds models.Credentials) (*Identity, error) {
	if strings.TrimSpace(creds.Identifier) == "" {
		return nil, &api.ValidationError{Field: "identifier", Detail: "Username or email is required."}
	}
	if creds.Password == "" {
		return nil, &api.ValidationError{Field: "password", Detail: "Password is required."}
	}

	resp, err := s.client.Login(ctx, creds)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("login response did not include a token")
	}

	id, err := ParseIdentity(resp.AccessToken)
	if err != nil {
		slog.Warn("Unable to read token claims", "err", err)
		id = &Identity{Token: resp.AccessToken}
	}
	if id.Email == "" && strings.Contains(creds.Identifier, "@") {
		id.Email = creds.Identifier
	}

	if err := s.store.Set(storage.KeyToken, resp.AccessToken); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}
	name := id.Email
	if name == "" {
		name = creds.Identifier
	}
	if err := s.store.Set(storage.KeyDisplayName, name); err != nil {
		slog.Warn("Unable to cache display name", "err", err)
	}

	slog.Info("Signed in", "user_id", id.UserID, "email", id.Email)
	s.publish(ReasonLogin, true, name)
	return id, nil
}

// Logout clears the persisted session and publishes an auth-changed event.
// Subscribers are expected to return to the unauthenticated landing state.
func (s *Store) Logout() error {
	err := s.clear()
	s.publish(ReasonLogout, false, "")
	return err
}

// Invalidate drops a session the backend no longer accepts. It is a no-op
// when already signed out.
func (s *Store) Invalidate(reason Reason) {
	if !s.LoggedIn() {
		return
	}
	if err := s.clear(); err != nil {
		slog.Warn("Unable to clear session", "err", err)
	}
	slog.Info("Session invalidated", "reason", reason)
	s.publish(reason, false, "")
}

func (s *Store) clear() error {
	errToken := s.store.Delete(storage.KeyToken)
	errName := s.store.Delete(storage.KeyDisplayName)
	if err := errors.Join(errToken, errName); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// DisplayName returns the last cached display name.
func (s *Store) DisplayName() (string, bool) {
	name, ok := s.store.Get(storage.KeyDisplayName)
	return name, ok && name != ""
}

// CurrentDisplayName refreshes the profile and returns its name (or email),
// caching it. If the profile cannot be fetched the cached name is returned
// so callers never flash a signed-out state while a refetch is in flight.
func (s *Store) CurrentDisplayName(ctx context.Context) (string, bool) {
	if !s.LoggedIn() {
		return "", false
	}

	profile, err := s.client.Profile(ctx)
	if err != nil {
		slog.Debug("Profile fetch failed, using cached name", "err", err)
		if !s.LoggedIn() {
			return "", false
		}
		return s.DisplayName()
	}

	name := profile.Name
	if name == "" {
		name = profile.Email
	}
	if name == "" {
		return s.DisplayName()
	}

	cached, _ := s.DisplayName()
	if cached != name {
		if err := s.store.Set(storage.KeyDisplayName, name); err != nil {
			slog.Warn("Unable to cache display name", "err", err)
		}
		s.publish(ReasonProfile, true, name)
	}
	return name, true
}

// Subscribe registers a listener for auth-changed events. The returned
// function unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, ch)
			close(ch)
		})
	}
}

// Watch re-publishes changes another process makes to the backing store,
// for stores that support it. It returns immediately.
func (s *Store) Watch(ctx context.Context) error {
	w, ok := s.store.(storage.Watcher)
	if !ok {
		return nil
	}
	return w.Watch(ctx, func() {
		name, _ := s.DisplayName()
		s.publish(ReasonExternal, s.LoggedIn(), name)
	})
}

func (s *Store) publish(reason Reason, loggedIn bool, name string) {
	ev := Event{
		Type:        EventAuthChanged,
		Reason:      reason,
		LoggedIn:    loggedIn,
		DisplayName: name,
		Time:        time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("Subscriber not keeping up, dropping auth event", "reason", reason)
		}
	}
}
