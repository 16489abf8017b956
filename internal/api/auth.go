package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/endodetect/endodetect/internal/models"
)

// LoginResponse is the body returned by POST /login.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Register creates an account and returns the server acknowledgement.
func (c *Client) Register(ctx context.Context, email, password string) (string, error) {
	payload := map[string]string{
		"email":    email,
		"password": password,
	}
	var msg models.Message
	if err := c.post(ctx, "/register", payload, &msg); err != nil {
		return "", err
	}
	return msg.Message, nil
}

// Login exchanges credentials for a bearer token. An identifier containing
// "@" is sent as an email, anything else as a username.
func (c *Client) Login(ctx context.Context, creds models.Credentials) (*LoginResponse, error) {
	payload := map[string]string{"password": creds.Password}
	if strings.Contains(creds.Identifier, "@") {
		payload["email"] = creds.Identifier
	} else {
		payload["username"] = creds.Identifier
	}

	var resp LoginResponse
	if err := c.post(ctx, "/login", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Profile fetches the signed-in user's profile.
func (c *Client) Profile(ctx context.Context) (*models.Profile, error) {
	var p models.Profile
	if err := c.get(ctx, "/profile", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProfile replaces the editable profile fields.
func (c *Client) UpdateProfile(ctx context.Context, update models.ProfileUpdate) error {
	return c.Do(ctx, http.MethodPut, "/profile", update, nil, nil)
}

// Models lists the model identifiers the backend can run.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	var resp struct {
		Models []string `json:"models"`
	}
	if err := c.get(ctx, "/models", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}
