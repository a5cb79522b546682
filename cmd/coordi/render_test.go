package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ashureev/coordi/internal/domain"
	"github.com/ashureev/coordi/internal/view"
	"github.com/stretchr/testify/assert"
)

func TestRendererPrintsOnlyNewTurns(t *testing.T) {
	var out bytes.Buffer
	r := newRenderer(&out)

	turns := []view.Turn{
		{Role: domain.RoleUser, Speaker: "You", Content: "一つ目"},
		{Role: domain.RoleAssistant, Speaker: "AI", Content: "二つ目"},
	}
	r.render(view.View{Turns: turns[:1], Thinking: view.ThinkingText})
	r.render(view.View{Turns: turns})

	text := out.String()
	assert.Equal(t, 1, strings.Count(text, "一つ目"))
	assert.Equal(t, 1, strings.Count(text, "二つ目"))
	assert.Contains(t, text, view.ThinkingText)
}

func TestRendererOnePieceSuggestion(t *testing.T) {
	var o domain.CandidateOutfit
	o.Set(domain.CategoryTops, "赤いワンピース")
	o.Set(domain.CategoryBottoms, "赤いワンピース")
	o.Set(domain.CategoryShoes, "白いスニーカー")

	var out bytes.Buffer
	newRenderer(&out).render(view.View{Suggestion: &view.Suggestion{Title: view.SuggestionTitle, Lines: view.OutfitLines(o)}})

	text := out.String()
	assert.Contains(t, text, "One-piece: 赤いワンピース")
	assert.Contains(t, text, "Shoes: 白いスニーカー")
	assert.Equal(t, 1, strings.Count(text, "赤いワンピース"))
}

func TestControlsHint(t *testing.T) {
	hint := controlsHint(view.Controls{CanConfirm: true, CanAnother: true, ConfirmLabel: view.ConfirmLabel, AnotherLabel: view.AnotherLabel})
	assert.Contains(t, hint, "/confirm")
	assert.Contains(t, hint, "/another")

	hint = controlsHint(view.Controls{})
	assert.NotContains(t, hint, "/confirm")
	assert.Contains(t, hint, "/quit")
}
