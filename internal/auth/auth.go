// Package auth is a thin client for the identity service's login endpoint.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ashureev/coordi/internal/gateway"
	"github.com/ashureev/coordi/internal/identity"
	"github.com/go-playground/validator/v10"
)

// LoginPath is the identity service login endpoint.
const LoginPath = "/api/login"

const loginFailedMessage = "ログインに失敗しました。"

// ErrLoginRejected is returned when the identity service answered without
// issuing a credential.
var ErrLoginRejected = errors.New("login rejected")

// Doer is the part of the transport gateway the client uses.
type Doer interface {
	DoJSON(ctx context.Context, req gateway.Request, out any) error
}

// CredentialStore is the part of the credential context the client uses.
type CredentialStore interface {
	Get() (identity.Credential, bool)
	Set(ctx context.Context, cred identity.Credential) error
	Clear(ctx context.Context) error
}

// Credentials is a login form.
type Credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Result is a successful login.
type Result struct {
	Credential identity.Credential
	Message    string
}

type loginResponse struct {
	AccessToken string   `json:"access_token"`
	UserID      flexible `json:"user_id"`
	Message     string   `json:"message"`
}

// flexible accepts a JSON string or number.
type flexible string

func (f *flexible) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexible(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexible(n.String())
	return nil
}

// Client logs users in and out.
type Client struct {
	gw    Doer
	creds CredentialStore
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// NewClient creates a login client.
func NewClient(gw Doer, creds CredentialStore) *Client {
	return &Client{gw: gw, creds: creds}
}

// Login exchanges the form for a credential and stores it in the credential
// context.
func (c *Client) Login(ctx context.Context, form Credentials) (Result, error) {
	form.Username = strings.TrimSpace(form.Username)
	if err := validate.Struct(form); err != nil {
		return Result{}, fmt.Errorf("invalid login form: %w", err)
	}

	var resp loginResponse
	err := c.gw.DoJSON(ctx, gateway.Request{
		Method:    http.MethodPost,
		Path:      LoginPath,
		JSON:      form,
		Anonymous: true,
	}, &resp)
	if err != nil {
		return Result{}, err
	}
	if resp.AccessToken == "" || resp.UserID == "" {
		msg := resp.Message
		if msg == "" {
			msg = loginFailedMessage
		}
		return Result{}, fmt.Errorf("%w: %s", ErrLoginRejected, msg)
	}

	cred := identity.Credential{
		Token:    resp.AccessToken,
		UserID:   string(resp.UserID),
		Username: form.Username,
	}
	if err := c.creds.Set(ctx, cred); err != nil {
		return Result{}, fmt.Errorf("store credential: %w", err)
	}
	return Result{Credential: cred, Message: resp.Message}, nil
}

// Logout drops the held credential.
func (c *Client) Logout(ctx context.Context) error {
	return c.creds.Clear(ctx)
}

// Me returns the held credential, if any.
func (c *Client) Me() (identity.Credential, bool) {
	return c.creds.Get()
}
