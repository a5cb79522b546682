package dialogue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/coordi/internal/domain"
	"github.com/ashureev/coordi/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type scriptStep struct {
	reply Reply
	err   error
}

// scriptedReasoner answers each Propose with the next scripted step and
// records every request it saw.
type scriptedReasoner struct {
	mu       sync.Mutex
	steps    []scriptStep
	requests []ProposeRequest
}

func (r *scriptedReasoner) Propose(_ context.Context, req ProposeRequest) (Reply, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if len(r.steps) == 0 {
		return nil, errors.New("no scripted reply")
	}
	step := r.steps[0]
	r.steps = r.steps[1:]
	return step.reply, step.err
}

// blockingReasoner holds every call until release is closed.
type blockingReasoner struct {
	entered  chan struct{}
	release  chan struct{}
	reply    Reply
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func newBlockingReasoner(reply Reply) *blockingReasoner {
	return &blockingReasoner{entered: make(chan struct{}, 16), release: make(chan struct{}), reply: reply}
}

func (r *blockingReasoner) Propose(ctx context.Context, _ ProposeRequest) (Reply, error) {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		seen := r.maxSeen.Load()
		if n <= seen || r.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	r.entered <- struct{}{}
	select {
	case <-r.release:
		return r.reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fakeFinalizer struct {
	mu      sync.Mutex
	calls   []domain.CandidateOutfit
	matches domain.ImageMatchSet
	err     error
	// during runs inside the call, before it returns.
	during func()
}

func (f *fakeFinalizer) Finalize(_ context.Context, outfit domain.CandidateOutfit) (domain.ImageMatchSet, error) {
	if f.during != nil {
		f.during()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, outfit)
	return f.matches, f.err
}

type recordedEvent struct {
	turn  domain.Turn
	event string
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeRecorder) RecordTurn(_ string, turn domain.Turn, event string, _ map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{turn: turn, event: event})
}

func casualOutfit() *domain.CandidateOutfit {
	return &domain.CandidateOutfit{Tops: "白シャツ", Bottoms: "デニム", Shoes: "スニーカー"}
}

func TestControllerOpeningToFinalization(t *testing.T) {
	reasoner := &scriptedReasoner{steps: []scriptStep{
		{reply: Suggestion{
			Text:         "カジュアルな提案です。",
			NextQuestion: "どんな場面で着ますか？",
			Items:        casualOutfit(),
			UpdatedSlots: domain.SlotMap{"occasion": nil},
		}},
		{reply: FinalSuggestion{
			Text:         "雨の日向けに確定しました。",
			Items:        &domain.CandidateOutfit{Tops: "白シャツ", Bottoms: "デニム", Shoes: "レインブーツ"},
			UpdatedSlots: domain.SlotMap{"occasion": nil, "weather": domain.Slot("雨")},
		}},
	}}
	finalizer := &fakeFinalizer{matches: domain.ImageMatchSet{
		"tops":    {{ImageURL: "/uploads/shirt.jpg", Score: 0.92}},
		"bottoms": {},
		"shoes":   {{ImageURL: "/uploads/boots.jpg", Score: 0.71}},
	}}
	recorder := &fakeRecorder{}
	c := NewController(Options{ID: "s1", Reasoner: reasoner, Finalizer: finalizer, Recorder: recorder})

	require.NoError(t, c.Start(context.Background()))

	snap := c.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, []domain.Turn{
		domain.UserTurn("コーディネートの相談をお願いします。"),
		domain.AssistantTurn("カジュアルな提案です。\n\nどんな場面で着ますか？"),
	}, snap.History)
	require.NotNil(t, snap.Candidate)
	assert.Equal(t, *casualOutfit(), *snap.Candidate)

	require.NoError(t, c.Send(context.Background(), "雨です"))

	snap = c.Snapshot()
	assert.Equal(t, StateFinalized, snap.State)
	assert.Len(t, snap.History, 4)
	require.NotNil(t, snap.Final)
	assert.True(t, snap.Final.Done)
	assert.NoError(t, snap.Final.Err)
	assert.Equal(t, "レインブーツ", snap.Final.Outfit.Shoes)
	assert.Len(t, snap.Final.Matches["tops"], 1)

	require.Len(t, reasoner.requests, 2)
	second := reasoner.requests[1]
	assert.Equal(t, "雨です", second.Message)
	assert.Equal(t, IntentNone, second.Intent)
	assert.True(t, second.Slots.Equal(domain.SlotMap{"occasion": nil}))
	assert.Len(t, second.History, 3)
	assert.Equal(t, domain.UserTurn("雨です"), second.History[2])
	assert.Equal(t, IntentOpen, reasoner.requests[0].Intent)

	require.Len(t, finalizer.calls, 1)
	assert.Equal(t, "レインブーツ", finalizer.calls[0].Shoes)

	var events []string
	for _, e := range recorder.events {
		events = append(events, e.event)
	}
	assert.Equal(t, []string{"user_message", "assistant_message", "user_message", "assistant_message", "finalized"}, events)
}

func TestControllerRequestReflectsPreviousReply(t *testing.T) {
	reasoner := &scriptedReasoner{steps: []scriptStep{
		{reply: Question{Text: "1", UpdatedSlots: domain.SlotMap{"occasion": domain.Slot("デート")}}},
		{reply: Question{Text: "2", UpdatedSlots: domain.SlotMap{"weather": domain.Slot("雨")}}},
		{reply: Question{Text: "3"}},
	}}
	c := NewController(Options{Reasoner: reasoner})

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Send(context.Background(), "デートです"))
	require.NoError(t, c.Another(context.Background()))

	require.Len(t, reasoner.requests, 3)
	assert.Empty(t, reasoner.requests[0].Slots)
	assert.True(t, reasoner.requests[1].Slots.Equal(domain.SlotMap{"occasion": domain.Slot("デート")}))
	assert.True(t, reasoner.requests[2].Slots.Equal(domain.SlotMap{"weather": domain.Slot("雨")}),
		"slots from an earlier reply must not leak past a later one")
	assert.Equal(t, AnotherUtterance, reasoner.requests[2].Message)
	assert.Equal(t, IntentAnother, reasoner.requests[2].Intent)
	assert.Len(t, reasoner.requests[2].History, 5)
}

func TestControllerRejectsConcurrentTurns(t *testing.T) {
	reasoner := newBlockingReasoner(Question{Text: "ok"})
	c := NewController(Options{Reasoner: reasoner})

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()
	<-reasoner.entered

	assert.Equal(t, StateAwaitingReply, c.Snapshot().State)

	var wg sync.WaitGroup
	var rejected atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if errors.Is(c.Send(context.Background(), "hello"), ErrTurnInFlight) {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(8), rejected.Load())
	assert.Len(t, c.Snapshot().History, 1, "rejected turns leave no trace")

	close(reasoner.release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), reasoner.maxSeen.Load())
	assert.Equal(t, StateIdle, c.Snapshot().State)
}

func TestControllerConfirmAndAnotherRejectedWhileAwaiting(t *testing.T) {
	reasoner := newBlockingReasoner(Question{Text: "ok"})
	c := NewController(Options{Reasoner: reasoner})

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()
	<-reasoner.entered

	assert.ErrorIs(t, c.Confirm(context.Background()), ErrTurnInFlight)
	assert.ErrorIs(t, c.Another(context.Background()), ErrTurnInFlight)

	close(reasoner.release)
	require.NoError(t, <-done)
}

func TestControllerFinalizedIsTerminal(t *testing.T) {
	reasoner := &scriptedReasoner{steps: []scriptStep{
		{reply: FinalSuggestion{Text: "確定", Items: casualOutfit()}},
	}}
	finalizer := &fakeFinalizer{matches: domain.ImageMatchSet{}}
	c := NewController(Options{Reasoner: reasoner, Finalizer: finalizer})

	require.NoError(t, c.Confirm(context.Background()))
	before := c.Snapshot()

	assert.ErrorIs(t, c.Send(context.Background(), "もう一回"), ErrFinalized)
	assert.ErrorIs(t, c.Confirm(context.Background()), ErrFinalized)
	assert.ErrorIs(t, c.Another(context.Background()), ErrFinalized)
	assert.ErrorIs(t, c.Start(context.Background()), ErrFinalized)

	assert.Equal(t, before, c.Snapshot())
	assert.Len(t, reasoner.requests, 1)
	assert.Len(t, finalizer.calls, 1)
}

func TestControllerFinalUsesExistingCandidate(t *testing.T) {
	reasoner := &scriptedReasoner{steps: []scriptStep{
		{reply: Suggestion{Text: "案", Items: casualOutfit()}},
		{reply: FinalSuggestion{Text: "確定"}},
	}}
	finalizer := &fakeFinalizer{matches: domain.ImageMatchSet{}}
	c := NewController(Options{Reasoner: reasoner, Finalizer: finalizer})

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Confirm(context.Background()))

	require.Len(t, finalizer.calls, 1)
	assert.Equal(t, *casualOutfit(), finalizer.calls[0])
	assert.Equal(t, ConfirmUtterance, reasoner.requests[1].Message)
}

func TestControllerEmptyFinalOutfitSkipsLookup(t *testing.T) {
	reasoner := &scriptedReasoner{steps: []scriptStep{{reply: FinalSuggestion{Text: "確定"}}}}
	finalizer := &fakeFinalizer{}
	c := NewController(Options{Reasoner: reasoner, Finalizer: finalizer})

	require.NoError(t, c.Confirm(context.Background()))

	snap := c.Snapshot()
	assert.Equal(t, StateFinalized, snap.State)
	require.NotNil(t, snap.Final)
	assert.True(t, snap.Final.Done)
	assert.Error(t, snap.Final.Err)
	assert.Empty(t, finalizer.calls)
}

func TestControllerLookupFailureKeepsFinalization(t *testing.T) {
	reasoner := &scriptedReasoner{steps: []scriptStep{{reply: FinalSuggestion{Text: "確定", Items: casualOutfit()}}}}
	finalizer := &fakeFinalizer{err: &gateway.APIError{StatusCode: 500, Message: "サーバーエラー"}}
	c := NewController(Options{Reasoner: reasoner, Finalizer: finalizer})

	require.NoError(t, c.Confirm(context.Background()))

	snap := c.Snapshot()
	assert.Equal(t, StateFinalized, snap.State)
	require.NotNil(t, snap.Final)
	assert.EqualError(t, snap.Final.Err, "サーバーエラー")
	assert.Equal(t, *casualOutfit(), snap.Final.Outfit)
}

func TestControllerLookupSessionExpiryClosesSession(t *testing.T) {
	tests := []struct {
		name        string
		closeDuring bool
	}{
		{"expiry returned", false},
		{"session discarded by the redirect", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reasoner := &scriptedReasoner{steps: []scriptStep{{reply: FinalSuggestion{Text: "確定", Items: casualOutfit()}}}}
			finalizer := &fakeFinalizer{err: gateway.ErrSessionExpired}
			c := NewController(Options{Reasoner: reasoner, Finalizer: finalizer})
			if tt.closeDuring {
				finalizer.during = c.Close
			}

			err := c.Confirm(context.Background())
			assert.ErrorIs(t, err, gateway.ErrSessionExpired)

			snap := c.Snapshot()
			assert.True(t, snap.Closed)
			assert.Equal(t, StateFinalized, snap.State)
			require.NotNil(t, snap.Final)
			assert.True(t, snap.Final.Done)
			assert.ErrorIs(t, snap.Final.Err, gateway.ErrSessionExpired)
			assert.Equal(t, *casualOutfit(), snap.Final.Outfit)
			assert.ErrorIs(t, c.Send(context.Background(), "もう一度"), ErrClosed)
		})
	}
}

func TestControllerFailureAppendsErrorTurnOnly(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"api error message", &gateway.APIError{StatusCode: 500, Message: "提案の生成中にエラーが発生しました。"}, "提案の生成中にエラーが発生しました。"},
		{"api error without message", &gateway.APIError{StatusCode: 502}, genericFailureMessage},
		{"malformed reply", ErrMalformedReply, malformedReplyMessage},
		{"transport", errors.New("dial tcp: connection refused"), "dial tcp: connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reasoner := &scriptedReasoner{steps: []scriptStep{
				{reply: Suggestion{Text: "案", Items: casualOutfit(), UpdatedSlots: domain.SlotMap{"occasion": domain.Slot("通勤")}}},
				{err: tt.err},
			}}
			c := NewController(Options{Reasoner: reasoner})
			require.NoError(t, c.Start(context.Background()))
			before := c.Snapshot()

			err := c.Send(context.Background(), "他には？")
			assert.ErrorIs(t, err, tt.err)

			after := c.Snapshot()
			assert.Equal(t, StateIdle, after.State)
			assert.False(t, after.Closed)
			assert.True(t, before.Slots.Equal(after.Slots))
			assert.Equal(t, before.Candidate, after.Candidate)
			require.Len(t, after.History, len(before.History)+2)
			assert.Equal(t, domain.AssistantTurn(tt.want), after.History[len(after.History)-1])
		})
	}
}

func TestControllerSessionExpiryClosesSession(t *testing.T) {
	reasoner := &scriptedReasoner{steps: []scriptStep{{err: gateway.ErrSessionExpired}}}
	c := NewController(Options{Reasoner: reasoner})

	err := c.Start(context.Background())
	assert.ErrorIs(t, err, gateway.ErrSessionExpired)

	snap := c.Snapshot()
	assert.True(t, snap.Closed)
	assert.Equal(t, domain.AssistantTurn(sessionExpiredMessage), snap.History[len(snap.History)-1])
	assert.ErrorIs(t, c.Send(context.Background(), "hello"), ErrClosed)
}

func TestControllerDropsReplyAfterClose(t *testing.T) {
	reasoner := newBlockingReasoner(Suggestion{Text: "案", Items: casualOutfit()})
	c := NewController(Options{Reasoner: reasoner})

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()
	<-reasoner.entered

	c.Close()
	close(reasoner.release)

	assert.ErrorIs(t, <-done, ErrClosed)
	snap := c.Snapshot()
	assert.Len(t, snap.History, 1)
	assert.Nil(t, snap.Candidate)
}

func TestControllerSendRejectsBlankText(t *testing.T) {
	reasoner := &scriptedReasoner{}
	c := NewController(Options{Reasoner: reasoner})

	assert.ErrorIs(t, c.Send(context.Background(), "  \n"), ErrEmptyUtterance)
	assert.Empty(t, reasoner.requests)
	assert.Empty(t, c.Snapshot().History)
}

func TestControllerNotifiesOnEveryChange(t *testing.T) {
	reasoner := &scriptedReasoner{steps: []scriptStep{{reply: Question{Text: "q"}}}}
	var states []State
	c := NewController(Options{Reasoner: reasoner, OnChange: func(s Snapshot) { states = append(states, s.State) }})

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, []State{StateAwaitingReply, StateIdle}, states)
}

func TestControllerCancelledContextReportedAsTurn(t *testing.T) {
	reasoner := newBlockingReasoner(Question{Text: "never"})
	c := NewController(Options{Reasoner: reasoner})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Start(ctx)
	<-reasoner.entered

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateIdle, c.Snapshot().State)
}
