package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"github.com/endodetect/endodetect/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type ctxKey struct{}

var errBadToken = errors.New("could not validate credentials")

type tokenClaims struct {
	UserID  string `json:"user_id"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

func (h *Handler) issueToken(u *user) (string, error) {
	claims := tokenClaims{
		UserID:  u.UserID,
		IsAdmin: u.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Email,
			IssuedAt:  jwt.NewNumericDate(h.now()),
			ExpiresAt: jwt.NewNumericDate(h.now().Add(tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
}

func (h *Handler) verifyToken(token string) (*tokenClaims, error) {
	var c tokenClaims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return h.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(h.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBadToken, err)
	}
	return &c, nil
}

// requireUser resolves the bearer token to a live account.
func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, "Not authenticated", http.StatusUnauthorized)
			return
		}
		claims, err := h.verifyToken(token)
		if err != nil {
			writeError(w, "Could not validate credentials.", http.StatusUnauthorized)
			return
		}

		h.mu.RLock()
		u, exists := h.users[claims.UserID]
		h.mu.RUnlock()
		if !exists {
			writeError(w, "Could not validate credentials.", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, u.UserID)))
	})
}

// requireAdmin checks the account's current role, not the one in the token.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		u, exists := h.users[currentUserID(r)]
		isAdmin := exists && u.IsAdmin
		h.mu.RUnlock()
		if !isAdmin {
			writeError(w, "Admin access only.", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func currentUserID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

// findByIdentifier matches an email, or a display name for username logins.
// Callers hold h.mu.
func (h *Handler) findByIdentifier(identifier string) *user {
	for _, u := range h.users {
		if strings.EqualFold(u.Email, identifier) {
			return u
		}
	}
	for _, u := range h.users {
		if u.Name != "" && strings.EqualFold(u.Name, identifier) {
			return u
		}
	}
	return nil
}

func validateAccount(email, password string) string {
	if strings.TrimSpace(email) == "" || password == "" {
		return "Email and password are required."
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "value is not a valid email address"
	}
	return ""
}

// createUser stores a new account. The first account ever created is an
// administrator so a fresh server can be managed.
func (h *Handler) createUser(email, password, name string, isAdmin bool) (*user, int, string) {
	email = strings.TrimSpace(email)
	if detail := validateAccount(email, password); detail != "" {
		return nil, http.StatusUnprocessableEntity, detail
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, http.StatusInternalServerError, "Failed to hash password"
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, u := range h.users {
		if strings.EqualFold(u.Email, email) {
			return nil, http.StatusBadRequest, "Email already registered."
		}
	}
	now := h.now()
	u := &user{
		Profile: models.Profile{
			Email:     email,
			UserID:    uuid.NewString(),
			CreatedAt: now.UTC().Format("2006-01-02T15:04:05.000000"),
			Name:      name,
			IsAdmin:   isAdmin || len(h.users) == 0,
		},
		passwordHash: hash,
		createdAt:    now,
	}
	h.users[u.UserID] = u
	slog.Info("User created", "email", u.Email, "user_id", u.UserID, "is_admin", u.IsAdmin)
	return u, http.StatusOK, ""
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, code, detail := h.createUser(req.Email, req.Password, "", false); detail != "" {
		writeError(w, detail, code)
		return
	}
	writeJSON(w, http.StatusOK, models.Message{Message: "User registered successfully."})
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	identifier := req.Email
	if identifier == "" {
		identifier = req.Username
	}

	h.mu.RLock()
	u := h.findByIdentifier(strings.TrimSpace(identifier))
	h.mu.RUnlock()
	if u == nil || bcrypt.CompareHashAndPassword(u.passwordHash, []byte(req.Password)) != nil {
		writeError(w, "Invalid credentials.", http.StatusUnauthorized)
		return
	}

	h.mu.RLock()
	token, err := h.issueToken(u)
	h.mu.RUnlock()
	if err != nil {
		writeError(w, "Failed to issue token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}

func (h *Handler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	id := currentUserID(r)

	if r.Method == http.MethodPut {
		var update models.ProfileUpdate
		if !decodeJSON(w, r, &update) {
			return
		}
		h.mu.Lock()
		if u, ok := h.users[id]; ok {
			u.Name = update.Name
			u.Workplace = update.Workplace
			u.Address = update.Address
			u.Occupation = update.Occupation
			u.Phone = update.Phone
		}
		h.mu.Unlock()
		writeJSON(w, http.StatusOK, models.Message{Message: "Profile updated successfully."})
		return
	}

	h.mu.RLock()
	u, ok := h.users[id]
	var p models.Profile
	if ok {
		p = u.Profile
	}
	h.mu.RUnlock()
	if !ok {
		writeError(w, "Could not validate credentials.", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) HandleModels(w http.ResponseWriter, r *http.Request) {
	ids := make([]string, 0, len(models.Catalog))
	for _, m := range models.Catalog {
		ids = append(ids, m.ID)
	}
	writeJSON(w, http.StatusOK, map[string][]string{"models": ids})
}
