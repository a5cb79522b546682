package api

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/coordi/internal/dialogue"
	"github.com/ashureev/coordi/internal/view"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// RateLimit bounds turn submissions per session.
type RateLimit struct {
	PerMinute int
	Burst     int
}

// Session is one mounted dialogue view.
type Session struct {
	ID       string
	UserID   string
	Username string

	ctrl    *dialogue.Controller
	limiter *rate.Limiter
}

// View projects the current controller state.
func (s *Session) View() view.View {
	return view.Project(s.ctrl.Snapshot(), s.Username)
}

// Registry tracks live sessions. Idle sessions expire after the TTL and are
// discarded exactly like a client navigating away. It also serves as the
// gateway's navigator: session expiry redirects every stream and discards
// every session.
type Registry struct {
	cache  *cache.Cache
	hub    *Hub
	limit  RateLimit
	logger *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRegistry creates a registry and starts its expiry sweep.
func NewRegistry(ttl time.Duration, limit RateLimit, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	r := &Registry{
		// The sweep below replaces go-cache's janitor so it can be stopped.
		cache:  cache.New(ttl, 0),
		hub:    NewHub(),
		limit:  limit,
		logger: logger,
		stop:   make(chan struct{}),
	}
	r.cache.OnEvicted(r.onEvicted)

	interval := ttl / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	r.wg.Add(1)
	go r.sweep(interval)
	return r
}

// Hub returns the registry's stream hub.
func (r *Registry) Hub() *Hub {
	return r.hub
}

// NewSession registers a session for ctrl.
func (r *Registry) NewSession(ctrl *dialogue.Controller, userID, username string) *Session {
	s := &Session{
		ID:       ctrl.ID(),
		UserID:   userID,
		Username: username,
		ctrl:     ctrl,
		limiter:  r.newLimiter(),
	}
	r.cache.SetDefault(s.ID, s)
	return s
}

func (r *Registry) newLimiter() *rate.Limiter {
	if r.limit.PerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := r.limit.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(r.limit.PerMinute)), burst)
}

// Get returns a live session and refreshes its idle timer.
func (r *Registry) Get(id string) (*Session, bool) {
	v, ok := r.cache.Get(id)
	if !ok {
		return nil, false
	}
	s := v.(*Session)
	r.cache.SetDefault(id, s)
	return s, true
}

// Discard closes and forgets one session.
func (r *Registry) Discard(id string) bool {
	if _, ok := r.cache.Get(id); !ok {
		return false
	}
	r.cache.Delete(id)
	return true
}

// DiscardAll closes and forgets every session.
func (r *Registry) DiscardAll() {
	for id := range r.cache.Items() {
		r.cache.Delete(id)
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	return r.cache.ItemCount()
}

// RedirectToLogin implements gateway.Navigator.
func (r *Registry) RedirectToLogin(location string) {
	r.logger.Warn("Credential rejected, discarding all dialogue sessions", "redirect", location, "sessions", r.Len())
	r.hub.Broadcast(Event{Type: EventRedirect, Location: location})
	r.DiscardAll()
}

// Close stops the sweep and discards every session.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
	r.DiscardAll()
}

func (r *Registry) onEvicted(id string, v interface{}) {
	s, ok := v.(*Session)
	if !ok {
		return
	}
	s.ctrl.Close()
	r.hub.CloseSession(id)
	r.logger.Info("Dialogue session discarded", "session_id", id, "user_id", s.UserID)
}

func (r *Registry) sweep(interval time.Duration) {
	defer r.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.cache.DeleteExpired()
		}
	}
}
