// Package convlog writes dialogue transcripts as per-session NDJSON files.
package convlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/coordi/internal/domain"
	"gopkg.in/natefinch/lumberjack.v2"
)

const defaultQueueSize = 256

// Config controls transcript logging.
type Config struct {
	Enabled    bool
	Dir        string
	QueueSize  int
	MaxSizeMB  int
	MaxBackups int
}

// Event is one NDJSON line.
type Event struct {
	Timestamp  string         `json:"ts"`
	UserID     string         `json:"user_id,omitempty"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Content    string         `json:"content,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Logger queues events and writes them from a single goroutine. A disabled
// Logger accepts and discards everything.
type Logger struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	queue   chan Event
	done    chan struct{}
	dropped int

	writers map[string]*lumberjack.Logger
}

// New creates a Logger and starts its writer when cfg.Enabled.
func New(cfg Config, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{cfg: cfg, logger: logger}
	if !cfg.Enabled {
		return l, nil
	}
	if cfg.Dir == "" {
		return nil, errors.New("conversation log dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	if cfg.QueueSize <= 0 {
		l.cfg.QueueSize = defaultQueueSize
	}
	l.queue = make(chan Event, l.cfg.QueueSize)
	l.done = make(chan struct{})
	l.writers = make(map[string]*lumberjack.Logger)
	go l.run()
	return l, nil
}

// Log enqueues event. It never blocks; events are dropped when the queue is
// full or the logger is closed.
func (l *Logger) Log(event Event) {
	if l == nil || l.queue == nil {
		return
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" && event.ContentRaw != "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		l.dropped++
		if l.dropped == 1 || l.dropped%100 == 0 {
			l.logger.Warn("Conversation log queue full, dropping events", "dropped", l.dropped)
		}
	}
}

// Close drains the queue and closes every file.
func (l *Logger) Close() error {
	if l == nil || l.queue == nil {
		return nil
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done

	var errs []error
	for path, w := range l.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

func (l *Logger) run() {
	defer close(l.done)
	for event := range l.queue {
		if err := l.write(event); err != nil {
			l.logger.Warn("Failed to write conversation log event",
				"session_id", event.SessionID,
				"error", err,
			)
		}
	}
}

func (l *Logger) write(event Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	path := filepath.Join(l.cfg.Dir, safeComponent(event.UserID, "anonymous"), safeComponent(event.SessionID, "unknown")+".ndjson")
	w, ok := l.writers[path]
	if !ok {
		w = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    l.cfg.MaxSizeMB,
			MaxBackups: l.cfg.MaxBackups,
		}
		l.writers[path] = w
	}
	_, err = w.Write(append(line, '\n'))
	return err
}

// Recorder adapts a Logger to the dialogue controller for one user.
type Recorder struct {
	log     *Logger
	userID  string
	channel string
}

// Recorder returns a turn recorder tagging events with userID and channel.
func (l *Logger) Recorder(userID, channel string) *Recorder {
	return &Recorder{log: l, userID: userID, channel: channel}
}

// RecordTurn logs one dialogue turn.
func (r *Recorder) RecordTurn(sessionID string, turn domain.Turn, event string, meta map[string]any) {
	direction := "outbound"
	if turn.Role == domain.RoleAssistant {
		direction = "inbound"
	}
	r.log.Log(Event{
		UserID:     r.userID,
		SessionID:  sessionID,
		Channel:    r.channel,
		Direction:  direction,
		EventType:  event,
		ContentRaw: turn.Content,
		Meta:       meta,
	})
}

var (
	ansiPattern   = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	unsafePattern = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// cleanForReadability strips terminal escapes and control characters,
// keeping line breaks.
func cleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

func safeComponent(s, fallback string) string {
	s = unsafePattern.ReplaceAllString(s, "_")
	s = strings.Trim(s, ".")
	if s == "" {
		return fallback
	}
	return s
}
