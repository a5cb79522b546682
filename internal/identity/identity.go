// Package identity holds the process-wide credential context: the bearer
// token and user handle issued by the identity service.
//
// All reads go through Context.Get; the only teardown path is Context.Clear,
// which the transport gateway calls when the backend rejects the credential.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/coordi/internal/store"
)

// Local storage keys for cached identity artifacts.
const (
	KeyAccessToken = "access_token"
	KeyUserID      = "user_id"
	KeyUsername    = "username"
)

var cachedKeys = []string{KeyAccessToken, KeyUserID, KeyUsername}

// ErrNoCredential is returned when an operation needs a credential and none is held.
var ErrNoCredential = errors.New("no credential held")

// Credential is what the identity service hands back on login.
type Credential struct {
	Token    string
	UserID   string
	Username string
}

// Valid reports whether the credential carries a bearer token.
func (c Credential) Valid() bool {
	return c.Token != ""
}

// Context is the process-wide session context. It caches the credential in
// memory and mirrors it to a local storage repository.
type Context struct {
	mu     sync.RWMutex
	repo   store.Repository
	cred   Credential
	logger *slog.Logger
}

// NewContext creates a credential context backed by repo.
func NewContext(repo store.Repository, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	if repo == nil {
		repo = store.NewMemory()
	}
	return &Context{repo: repo, logger: logger}
}

// Load reads cached identity artifacts from local storage into memory.
// A missing token leaves the context empty.
func (c *Context) Load(ctx context.Context) error {
	values := make(map[string]string, len(cachedKeys))
	for _, key := range cachedKeys {
		v, ok, err := c.repo.GetItem(ctx, key)
		if err != nil {
			return fmt.Errorf("load %s: %w", key, err)
		}
		if ok {
			values[key] = v
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cred = Credential{
		Token:    values[KeyAccessToken],
		UserID:   values[KeyUserID],
		Username: values[KeyUsername],
	}
	if c.cred.Valid() {
		c.logger.Info("Loaded cached credential", "user_id", c.cred.UserID)
	}
	return nil
}

// Get returns the held credential. The bool is false when no token is held.
func (c *Context) Get() (Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cred, c.cred.Valid()
}

// Token returns the bearer token, or "" when none is held.
func (c *Context) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cred.Token
}

// UserHandle returns the opaque user handle the dialogue engine displays.
func (c *Context) UserHandle() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cred.Username
}

// Set replaces the held credential and writes it through to local storage.
func (c *Context) Set(ctx context.Context, cred Credential) error {
	if !cred.Valid() {
		return ErrNoCredential
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	items := map[string]string{
		KeyAccessToken: cred.Token,
		KeyUserID:      cred.UserID,
		KeyUsername:    cred.Username,
	}
	for _, key := range cachedKeys {
		if err := c.repo.SetItem(ctx, key, items[key]); err != nil {
			return fmt.Errorf("store %s: %w", key, err)
		}
	}
	c.cred = cred
	return nil
}

// Clear drops the in-memory credential and every cached identity artifact.
// The in-memory state is cleared even when local storage fails, so a stale
// token is never sent again.
func (c *Context) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cred = Credential{}
	var errs []error
	for _, key := range cachedKeys {
		if err := c.repo.RemoveItem(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		c.logger.Warn("failed to clear cached identity artifacts", "error", err)
		return err
	}
	return nil
}
