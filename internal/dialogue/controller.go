package dialogue

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashureev/coordi/internal/domain"
	"github.com/ashureev/coordi/internal/gateway"
)

// Fixed utterances sent on behalf of the user.
const (
	OpeningUtterance = "コーディネートの相談をお願いします。"
	ConfirmUtterance = "この提案で確定します。"
	AnotherUtterance = "いいえ、他の提案をお願いします"
)

// Messages rendered as assistant turns when a turn fails.
const (
	genericFailureMessage   = "エラーが発生しました。"
	malformedReplyMessage   = "AIからの応答を解析できませんでした。"
	sessionExpiredMessage   = "セッションの有効期限が切れました。再度ログインしてください。"
	emptyFinalOutfitMessage = "確定するコーディネートがありません。"
)

var (
	// ErrTurnInFlight rejects a turn while the previous one awaits its reply.
	ErrTurnInFlight = errors.New("a turn is already awaiting its reply")
	// ErrFinalized rejects turns after the dialogue was finalized.
	ErrFinalized = errors.New("dialogue already finalized")
	// ErrClosed rejects turns on a discarded session.
	ErrClosed = errors.New("dialogue session closed")
	// ErrEmptyUtterance rejects blank user input.
	ErrEmptyUtterance = errors.New("message is required")
)

// State is the controller's position in the turn protocol.
type State int

const (
	StateIdle State = iota
	StateAwaitingReply
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingReply:
		return "awaiting_reply"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Finalizer looks up images for a confirmed outfit.
type Finalizer interface {
	Finalize(ctx context.Context, outfit domain.CandidateOutfit) (domain.ImageMatchSet, error)
}

// TurnRecorder receives every turn for the conversation log.
type TurnRecorder interface {
	RecordTurn(sessionID string, turn domain.Turn, event string, meta map[string]any)
}

// Finalization is the outcome of the terminal step.
type Finalization struct {
	Outfit  domain.CandidateOutfit
	Matches domain.ImageMatchSet
	// Done is false while the image lookup is running.
	Done bool
	// Err is the lookup failure, if any. The outfit stays valid regardless.
	Err error
}

// Snapshot is an immutable copy of a session for projection.
type Snapshot struct {
	ID        string
	State     State
	Closed    bool
	History   []domain.Turn
	Slots     domain.SlotMap
	Candidate *domain.CandidateOutfit
	Final     *Finalization
}

// Options configures a Controller.
type Options struct {
	ID        string
	Reasoner  Reasoner
	Finalizer Finalizer
	Recorder  TurnRecorder
	Logger    *slog.Logger
	// OnChange is called outside the lock after every state change.
	OnChange func(Snapshot)
}

// Controller drives one dialogue session: Idle → AwaitingReply → Idle or
// Finalized. At most one turn is in flight; turns arriving meanwhile are
// rejected without touching state.
type Controller struct {
	mu     sync.Mutex
	id     string
	state  State
	closed bool
	store  *Store
	final  *Finalization

	reasoner  Reasoner
	finalizer Finalizer
	recorder  TurnRecorder
	logger    *slog.Logger
	onChange  func(Snapshot)
}

// NewController creates a controller in the Idle state with an empty store.
func NewController(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		id:        opts.ID,
		state:     StateIdle,
		store:     NewStore(),
		reasoner:  opts.Reasoner,
		finalizer: opts.Finalizer,
		recorder:  opts.Recorder,
		logger:    logger.With("session_id", opts.ID),
		onChange:  opts.OnChange,
	}
}

// ID returns the session identifier.
func (c *Controller) ID() string {
	return c.id
}

// Start fires the opening turn.
func (c *Controller) Start(ctx context.Context) error {
	return c.turn(ctx, OpeningUtterance, IntentOpen)
}

// Send submits free text typed by the user.
func (c *Controller) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyUtterance
	}
	return c.turn(ctx, text, IntentNone)
}

// Confirm accepts the current proposal. It is an ordinary turn carrying the
// fixed confirmation phrase; the reasoning service decides whether to
// finalize.
func (c *Controller) Confirm(ctx context.Context) error {
	return c.turn(ctx, ConfirmUtterance, IntentConfirm)
}

// Another asks for a different proposal.
func (c *Controller) Another(ctx context.Context) error {
	return c.turn(ctx, AnotherUtterance, IntentAnother)
}

// Close discards the session. A reply still in flight is dropped on arrival.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.logger.Debug("Dialogue session discarded", "state", c.state.String())
	}
}

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// turn runs one pass of the protocol. The reasoning call happens outside the
// lock; every store mutation happens inside it.
func (c *Controller) turn(ctx context.Context, utterance string, intent Intent) error {
	c.mu.Lock()
	if err := c.admitLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	userTurn := domain.UserTurn(utterance)
	c.store.AppendTurn(userTurn)
	c.state = StateAwaitingReply
	req := ProposeRequest{
		Slots:   c.store.Slots(),
		History: c.store.History(),
		Message: utterance,
		Intent:  intent,
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.record(userTurn, "user_message", map[string]any{"intent": string(intent)})
	c.notify(snap)

	reply, err := c.reasoner.Propose(ctx, req)

	c.mu.Lock()
	// Expiry discards every session from inside the call, so the expiry
	// notice is still appended to a session closed meanwhile.
	if c.closed && !errors.Is(err, gateway.ErrSessionExpired) {
		c.mu.Unlock()
		c.logger.Info("Dropping reply for discarded session", "error", err)
		return ErrClosed
	}
	if err != nil {
		return c.failLocked(err)
	}

	c.store.ApplyReply(reply)
	assistantTurn := domain.AssistantTurn(reply.Message())
	meta := map[string]any{"kind": string(reply.Kind())}

	if reply.Kind() != KindFinalSuggestion {
		c.state = StateIdle
		snap = c.snapshotLocked()
		c.mu.Unlock()
		c.record(assistantTurn, "assistant_message", meta)
		c.notify(snap)
		return nil
	}

	c.state = StateFinalized
	outfit, _ := c.store.Candidate()
	c.final = &Finalization{Outfit: outfit}
	snap = c.snapshotLocked()
	c.mu.Unlock()

	c.record(assistantTurn, "assistant_message", meta)
	c.notify(snap)
	c.logger.Info("Dialogue finalized", "turns", len(snap.History))

	return c.finalize(ctx, outfit)
}

// failLocked reports err as an assistant turn and returns to Idle. Slots and
// candidate are left as they were. Called with c.mu held; releases it.
func (c *Controller) failLocked(err error) error {
	errTurn := domain.AssistantTurn(failureMessage(err))
	c.store.AppendTurn(errTurn)
	c.state = StateIdle
	if errors.Is(err, gateway.ErrSessionExpired) {
		c.closed = true
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Warn("Dialogue turn failed", "error", err)
	c.record(errTurn, "assistant_error", map[string]any{"error": err.Error()})
	c.notify(snap)
	return err
}

// finalize runs the image lookup for the confirmed outfit. Lookup failure is
// kept on the finalization and does not undo it; only session expiry is
// returned to the caller.
func (c *Controller) finalize(ctx context.Context, outfit domain.CandidateOutfit) error {
	var (
		matches domain.ImageMatchSet
		err     error
	)
	switch {
	case outfit.IsEmpty():
		err = errors.New(emptyFinalOutfitMessage)
	case c.finalizer == nil:
		matches = domain.ImageMatchSet{}
	default:
		matches, err = c.finalizer.Finalize(ctx, outfit)
	}

	c.mu.Lock()
	if c.closed && !errors.Is(err, gateway.ErrSessionExpired) {
		c.mu.Unlock()
		c.logger.Info("Dropping image lookup for discarded session")
		return nil
	}
	c.final = &Finalization{Outfit: outfit, Matches: matches, Done: true, Err: err}
	if errors.Is(err, gateway.ErrSessionExpired) {
		c.closed = true
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	meta := map[string]any{"categories": len(matches)}
	if err != nil {
		c.logger.Error("Image lookup for finalized outfit failed", "error", err)
		meta["error"] = err.Error()
	}
	c.record(domain.AssistantTurn(""), "finalized", meta)
	c.notify(snap)

	if errors.Is(err, gateway.ErrSessionExpired) {
		return err
	}
	return nil
}

func (c *Controller) admitLocked() error {
	switch {
	case c.closed:
		return ErrClosed
	case c.state == StateFinalized:
		return ErrFinalized
	case c.state == StateAwaitingReply:
		return ErrTurnInFlight
	default:
		return nil
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:      c.id,
		State:   c.state,
		Closed:  c.closed,
		History: c.store.History(),
		Slots:   c.store.Slots(),
	}
	if outfit, ok := c.store.Candidate(); ok {
		snap.Candidate = &outfit
	}
	if c.final != nil {
		f := *c.final
		snap.Final = &f
	}
	return snap
}

func (c *Controller) record(turn domain.Turn, event string, meta map[string]any) {
	if c.recorder != nil {
		c.recorder.RecordTurn(c.id, turn, event, meta)
	}
}

func (c *Controller) notify(snap Snapshot) {
	if c.onChange != nil {
		c.onChange(snap)
	}
}

// failureMessage turns an error into the text of an assistant turn.
func failureMessage(err error) string {
	var apiErr *gateway.APIError
	switch {
	case errors.Is(err, gateway.ErrSessionExpired):
		return sessionExpiredMessage
	case errors.Is(err, ErrMalformedReply):
		return malformedReplyMessage
	case errors.As(err, &apiErr):
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return genericFailureMessage
	case err == nil || strings.TrimSpace(err.Error()) == "":
		return genericFailureMessage
	default:
		return err.Error()
	}
}
