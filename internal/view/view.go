// Package view projects dialogue session snapshots into renderable views.
// It holds no state and makes no decisions; every surface (HTTP, websocket
// stream, terminal) renders the same View.
package view

import (
	"fmt"

	"github.com/ashureev/coordi/internal/dialogue"
	"github.com/ashureev/coordi/internal/domain"
)

// UI text.
const (
	AssistantLabel     = "AI"
	DefaultUserLabel   = "You"
	ThinkingText       = "AIが考えています..."
	SuggestionTitle    = "コーデ提案"
	ResultTitle        = "確定したコーディネート"
	SearchingText      = "画像を検索中..."
	InputPlaceholder   = "メッセージを入力..."
	BlockedPlaceholder = "入力できません"
	SendLabel          = "送信"
	ConfirmLabel       = "これで確定！"
	AnotherLabel       = "他の提案がいい"
	OnePieceLabel      = "One-piece"
	lookupFailedFormat = "画像の検索に失敗しました: %s"
	sessionEndedText   = "このセッションは終了しました。"
)

var categoryLabels = map[string]string{
	domain.CategoryTops:      "Tops",
	domain.CategoryBottoms:   "Bottoms",
	domain.CategoryOuterwear: "Outerwear",
	domain.CategoryShoes:     "Shoes",
}

// View is everything a surface needs to draw one session.
type View struct {
	SessionID  string         `json:"session_id"`
	State      string         `json:"state"`
	Closed     bool           `json:"closed"`
	Turns      []Turn         `json:"turns"`
	Thinking   string         `json:"thinking,omitempty"`
	Suggestion *Suggestion    `json:"suggestion,omitempty"`
	Controls   Controls       `json:"controls"`
	Result     *Result        `json:"result,omitempty"`
	Banner     string         `json:"banner,omitempty"`
	Slots      domain.SlotMap `json:"slots"`
}

// Turn is one labelled conversation bubble.
type Turn struct {
	Role    domain.Role `json:"role"`
	Speaker string      `json:"speaker"`
	Content string      `json:"content"`
}

// Line is one outfit row. Categories has two entries for a one-piece.
type Line struct {
	Label      string   `json:"label"`
	Categories []string `json:"categories"`
	Item       string   `json:"item"`
}

// Suggestion is the proposal box shown between turns.
type Suggestion struct {
	Title string `json:"title"`
	Lines []Line `json:"lines"`
}

// Controls describes which inputs are enabled.
type Controls struct {
	CanSend      bool   `json:"can_send"`
	CanConfirm   bool   `json:"can_confirm"`
	CanAnother   bool   `json:"can_another"`
	Placeholder  string `json:"placeholder"`
	SendLabel    string `json:"send_label"`
	ConfirmLabel string `json:"confirm_label"`
	AnotherLabel string `json:"another_label"`
}

// Result is the finalized outfit with its images.
type Result struct {
	Title     string  `json:"title"`
	Lines     []Line  `json:"lines"`
	Searching string  `json:"searching,omitempty"`
	Images    []Image `json:"images"`
}

// Image is the best match for one category.
type Image struct {
	Category    string  `json:"category"`
	URL         string  `json:"url"`
	Alt         string  `json:"alt"`
	Description string  `json:"description,omitempty"`
	Score       float64 `json:"score"`
}

// Project builds the View for snap. username labels the user's turns.
func Project(snap dialogue.Snapshot, username string) View {
	userLabel := username
	if userLabel == "" {
		userLabel = DefaultUserLabel
	}

	v := View{
		SessionID: snap.ID,
		State:     snap.State.String(),
		Closed:    snap.Closed,
		Turns:     make([]Turn, 0, len(snap.History)),
		Slots:     snap.Slots,
	}
	for _, t := range snap.History {
		speaker := AssistantLabel
		if t.Role == domain.RoleUser {
			speaker = userLabel
		}
		v.Turns = append(v.Turns, Turn{Role: t.Role, Speaker: speaker, Content: t.Content})
	}

	awaiting := snap.State == dialogue.StateAwaitingReply && !snap.Closed
	idle := snap.State == dialogue.StateIdle && !snap.Closed
	if awaiting {
		v.Thinking = ThinkingText
	}

	if snap.Candidate != nil && idle {
		v.Suggestion = &Suggestion{Title: SuggestionTitle, Lines: OutfitLines(*snap.Candidate)}
	}

	v.Controls = Controls{
		CanSend:      idle,
		CanConfirm:   idle && snap.Candidate != nil,
		CanAnother:   idle && snap.Candidate != nil,
		Placeholder:  BlockedPlaceholder,
		SendLabel:    SendLabel,
		ConfirmLabel: ConfirmLabel,
		AnotherLabel: AnotherLabel,
	}
	if idle {
		v.Controls.Placeholder = InputPlaceholder
	}

	if snap.Final != nil {
		v.Result = projectResult(*snap.Final)
		if snap.Final.Err != nil {
			v.Banner = fmt.Sprintf(lookupFailedFormat, snap.Final.Err.Error())
		}
	}
	if snap.Closed && v.Banner == "" && snap.State != dialogue.StateFinalized {
		v.Banner = sessionEndedText
	}
	return v
}

// OutfitLines renders an outfit in display order. Identical tops and
// bottoms collapse into one line.
func OutfitLines(o domain.CandidateOutfit) []Line {
	onePiece := o.IsOnePiece()
	lines := make([]Line, 0, len(domain.DisplayOrder))
	for _, category := range domain.DisplayOrder {
		item := o.Item(category)
		if item == "" {
			continue
		}
		switch {
		case onePiece && category == domain.CategoryTops:
			lines = append(lines, Line{
				Label:      OnePieceLabel,
				Categories: []string{domain.CategoryTops, domain.CategoryBottoms},
				Item:       item,
			})
		case onePiece && category == domain.CategoryBottoms:
		default:
			lines = append(lines, Line{Label: categoryLabels[category], Categories: []string{category}, Item: item})
		}
	}
	return lines
}

func projectResult(f dialogue.Finalization) *Result {
	r := &Result{
		Title:  ResultTitle,
		Lines:  OutfitLines(f.Outfit),
		Images: []Image{},
	}
	if !f.Done {
		r.Searching = SearchingText
		return r
	}
	for _, category := range domain.DisplayOrder {
		if category == domain.CategoryBottoms && f.Outfit.IsOnePiece() {
			continue
		}
		best, ok := f.Matches.Top(category)
		if !ok {
			continue
		}
		alt := best.Metadata.Description
		if alt == "" {
			alt = category
		}
		r.Images = append(r.Images, Image{
			Category:    category,
			URL:         best.ImageURL,
			Alt:         alt,
			Description: best.Metadata.Description,
			Score:       best.Score,
		})
	}
	return r
}
