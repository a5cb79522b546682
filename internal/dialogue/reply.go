package dialogue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/coordi/internal/domain"
	"github.com/go-playground/validator/v10"
)

// ReplyKind is the discriminator of a reasoning-service reply.
type ReplyKind string

const (
	KindQuestion        ReplyKind = "question"
	KindSuggestion      ReplyKind = "suggestion"
	KindFinalSuggestion ReplyKind = "final_suggestion"
)

// ErrMalformedReply wraps every reply decoding failure.
var ErrMalformedReply = errors.New("malformed reply")

// Reply is a decoded reasoning-service answer. The concrete type is one of
// Question, Suggestion or FinalSuggestion.
type Reply interface {
	Kind() ReplyKind
	// Message is the assistant text shown to the user.
	Message() string
	// Slots is the complete slot map the service wants the client to hold.
	Slots() domain.SlotMap
	// Outfit returns the proposed outfit, if the reply carries one.
	Outfit() (domain.CandidateOutfit, bool)
}

// Question asks the user for more context.
type Question struct {
	Text         string
	NextQuestion string
	UpdatedSlots domain.SlotMap
}

// Suggestion proposes an outfit. Items is nil when the service did not
// resend one, meaning the current candidate stays.
type Suggestion struct {
	Text         string
	NextQuestion string
	Items        *domain.CandidateOutfit
	UpdatedSlots domain.SlotMap
}

// FinalSuggestion closes the dialogue. Items is nil when the service
// finalized the candidate already on screen.
type FinalSuggestion struct {
	Text         string
	Items        *domain.CandidateOutfit
	UpdatedSlots domain.SlotMap
}

func (Question) Kind() ReplyKind         { return KindQuestion }
func (q Question) Message() string       { return joinMessage(q.Text, q.NextQuestion) }
func (q Question) Slots() domain.SlotMap { return q.UpdatedSlots }
func (Question) Outfit() (domain.CandidateOutfit, bool) {
	return domain.CandidateOutfit{}, false
}

func (Suggestion) Kind() ReplyKind         { return KindSuggestion }
func (s Suggestion) Message() string       { return joinMessage(s.Text, s.NextQuestion) }
func (s Suggestion) Slots() domain.SlotMap { return s.UpdatedSlots }
func (s Suggestion) Outfit() (domain.CandidateOutfit, bool) {
	if s.Items == nil {
		return domain.CandidateOutfit{}, false
	}
	return *s.Items, true
}

func (FinalSuggestion) Kind() ReplyKind         { return KindFinalSuggestion }
func (f FinalSuggestion) Message() string       { return f.Text }
func (f FinalSuggestion) Slots() domain.SlotMap { return f.UpdatedSlots }
func (f FinalSuggestion) Outfit() (domain.CandidateOutfit, bool) {
	if f.Items == nil {
		return domain.CandidateOutfit{}, false
	}
	return *f.Items, true
}

// joinMessage renders the assistant turn: the reply text, then a blank line,
// then the follow-up question. Either part alone when the other is empty.
func joinMessage(text, next string) string {
	text = strings.TrimSpace(text)
	next = strings.TrimSpace(next)
	switch {
	case next == "":
		return text
	case text == "":
		return next
	default:
		return text + "\n\n" + next
	}
}

// wireReply is the JSON shape on the wire. "type" is the legacy spelling
// of "kind".
type wireReply struct {
	Kind            string          `json:"kind" validate:"required,oneof=question suggestion final_suggestion"`
	Text            string          `json:"text"`
	NextQuestion    string          `json:"next_question"`
	SuggestionItems json.RawMessage `json:"suggestion_items"`
	UpdatedSlots    domain.SlotMap  `json:"updated_slots"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeReply parses a reasoning-service body into a tagged Reply.
func DecodeReply(body []byte) (Reply, error) {
	var raw struct {
		wireReply
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedReply, err)
	}
	w := raw.wireReply
	if w.Kind == "" {
		w.Kind = raw.Type
	}
	if err := validate.Struct(w); err != nil {
		return nil, fmt.Errorf("%w: kind %q: %w", ErrMalformedReply, w.Kind, err)
	}

	items, err := decodeItems(w.SuggestionItems)
	if err != nil {
		return nil, fmt.Errorf("%w: suggestion_items: %w", ErrMalformedReply, err)
	}
	slots := w.UpdatedSlots
	if slots == nil {
		slots = domain.SlotMap{}
	}

	switch ReplyKind(w.Kind) {
	case KindQuestion:
		return Question{Text: w.Text, NextQuestion: w.NextQuestion, UpdatedSlots: slots}, nil
	case KindSuggestion:
		return Suggestion{Text: w.Text, NextQuestion: w.NextQuestion, Items: items, UpdatedSlots: slots}, nil
	default:
		return FinalSuggestion{Text: joinMessage(w.Text, w.NextQuestion), Items: items, UpdatedSlots: slots}, nil
	}
}

// decodeItems accepts either a category object or the older list of
// "label：item" strings. Absent, null and empty payloads return nil. Unknown
// keys and values that are not strings are ignored.
func decodeItems(raw json.RawMessage) (*domain.CandidateOutfit, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	switch trimmed[0] {
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
		var outfit domain.CandidateOutfit
		for category, value := range fields {
			var item string
			if err := json.Unmarshal(value, &item); err != nil {
				continue
			}
			outfit.Set(category, strings.TrimSpace(item))
		}
		if outfit.IsEmpty() {
			return nil, nil
		}
		return &outfit, nil
	case '[':
		var lines []string
		if err := json.Unmarshal(raw, &lines); err != nil {
			return nil, err
		}
		return outfitFromLines(lines), nil
	default:
		return nil, fmt.Errorf("unexpected JSON %.20q", trimmed)
	}
}

var labelCategories = map[string]string{
	"トップス":      domain.CategoryTops,
	"トップ":       domain.CategoryTops,
	"tops":      domain.CategoryTops,
	"top":       domain.CategoryTops,
	"ボトムス":      domain.CategoryBottoms,
	"ボトム":       domain.CategoryBottoms,
	"bottoms":   domain.CategoryBottoms,
	"bottom":    domain.CategoryBottoms,
	"アウター":      domain.CategoryOuterwear,
	"outerwear": domain.CategoryOuterwear,
	"outer":     domain.CategoryOuterwear,
	"靴":         domain.CategoryShoes,
	"シューズ":      domain.CategoryShoes,
	"shoes":     domain.CategoryShoes,
}

// outfitFromLines maps "トップス：白いブラウス" style lines onto categories.
// Lines without a known label are ignored.
func outfitFromLines(lines []string) *domain.CandidateOutfit {
	var outfit domain.CandidateOutfit
	for _, line := range lines {
		label, item, ok := splitLabel(line)
		if !ok {
			continue
		}
		if category, known := labelCategories[strings.ToLower(label)]; known {
			outfit.Set(category, item)
		}
	}
	if outfit.IsEmpty() {
		return nil
	}
	return &outfit
}

func splitLabel(line string) (label, item string, ok bool) {
	for _, sep := range []string{"：", ":"} {
		if l, i, found := strings.Cut(line, sep); found {
			return strings.TrimSpace(l), strings.TrimSpace(i), true
		}
	}
	return "", "", false
}
