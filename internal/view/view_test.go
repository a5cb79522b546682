package view

import (
	"errors"
	"testing"

	"github.com/ashureev/coordi/internal/dialogue"
	"github.com/ashureev/coordi/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutfitLinesOnePieceCollapse(t *testing.T) {
	lines := OutfitLines(domain.CandidateOutfit{Tops: "red dress", Bottoms: "red dress", Shoes: "white sneakers"})

	require.Len(t, lines, 2)
	assert.Equal(t, Line{Label: OnePieceLabel, Categories: []string{"tops", "bottoms"}, Item: "red dress"}, lines[0])
	assert.Equal(t, Line{Label: "Shoes", Categories: []string{"shoes"}, Item: "white sneakers"}, lines[1])
}

func TestOutfitLinesDisplayOrder(t *testing.T) {
	lines := OutfitLines(domain.CandidateOutfit{Tops: "白シャツ", Bottoms: "デニム", Shoes: "スニーカー", Outerwear: "トレンチコート"})

	var labels []string
	for _, l := range lines {
		labels = append(labels, l.Label)
	}
	assert.Equal(t, []string{"Tops", "Bottoms", "Outerwear", "Shoes"}, labels)
}

func TestProjectIdleWithSuggestion(t *testing.T) {
	snap := dialogue.Snapshot{
		ID:    "s1",
		State: dialogue.StateIdle,
		History: []domain.Turn{
			domain.UserTurn(dialogue.OpeningUtterance),
			domain.AssistantTurn("カジュアルな提案です。"),
		},
		Slots:     domain.SlotMap{"occasion": nil},
		Candidate: &domain.CandidateOutfit{Tops: "白シャツ", Bottoms: "デニム", Shoes: "スニーカー"},
	}

	v := Project(snap, "hanako")

	require.Len(t, v.Turns, 2)
	assert.Equal(t, "hanako", v.Turns[0].Speaker)
	assert.Equal(t, AssistantLabel, v.Turns[1].Speaker)
	assert.Empty(t, v.Thinking)
	require.NotNil(t, v.Suggestion)
	assert.Len(t, v.Suggestion.Lines, 3)
	assert.True(t, v.Controls.CanSend)
	assert.True(t, v.Controls.CanConfirm)
	assert.True(t, v.Controls.CanAnother)
	assert.Equal(t, InputPlaceholder, v.Controls.Placeholder)
	assert.Nil(t, v.Result)
	assert.Empty(t, v.Banner)
}

func TestProjectAwaitingHidesSuggestionAndBlocksInput(t *testing.T) {
	snap := dialogue.Snapshot{
		State:     dialogue.StateAwaitingReply,
		History:   []domain.Turn{domain.UserTurn("他には？")},
		Candidate: &domain.CandidateOutfit{Tops: "x"},
	}

	v := Project(snap, "")

	assert.Equal(t, DefaultUserLabel, v.Turns[0].Speaker)
	assert.Equal(t, ThinkingText, v.Thinking)
	assert.Nil(t, v.Suggestion)
	assert.False(t, v.Controls.CanSend)
	assert.False(t, v.Controls.CanConfirm)
	assert.Equal(t, BlockedPlaceholder, v.Controls.Placeholder)
}

func TestProjectIdleWithoutCandidate(t *testing.T) {
	v := Project(dialogue.Snapshot{State: dialogue.StateIdle}, "")

	assert.True(t, v.Controls.CanSend)
	assert.False(t, v.Controls.CanConfirm)
	assert.False(t, v.Controls.CanAnother)
	assert.Nil(t, v.Suggestion)
}

func TestProjectFinalizedSearching(t *testing.T) {
	outfit := domain.CandidateOutfit{Tops: "白シャツ", Bottoms: "デニム", Shoes: "スニーカー"}
	v := Project(dialogue.Snapshot{
		State:     dialogue.StateFinalized,
		Candidate: &outfit,
		Final:     &dialogue.Finalization{Outfit: outfit},
	}, "")

	require.NotNil(t, v.Result)
	assert.Equal(t, SearchingText, v.Result.Searching)
	assert.Empty(t, v.Result.Images)
	assert.Nil(t, v.Suggestion)
	assert.False(t, v.Controls.CanSend)
}

func TestProjectFinalizedWithImages(t *testing.T) {
	outfit := domain.CandidateOutfit{Tops: "red dress", Bottoms: "red dress", Shoes: "white sneakers"}
	v := Project(dialogue.Snapshot{
		State: dialogue.StateFinalized,
		Final: &dialogue.Finalization{
			Outfit: outfit,
			Done:   true,
			Matches: domain.ImageMatchSet{
				"tops":    {{ImageURL: "https://cdn.example.com/dress.jpg", Score: 0.9, Metadata: domain.MatchMetadata{Description: "赤いワンピース"}}},
				"bottoms": {{ImageURL: "https://cdn.example.com/dress.jpg", Score: 0.9}},
				"shoes":   {{ImageURL: "https://cdn.example.com/sneakers.jpg", Score: 0.7}},
			},
		},
	}, "")

	require.NotNil(t, v.Result)
	assert.Empty(t, v.Result.Searching)
	assert.Len(t, v.Result.Lines, 2)
	require.Len(t, v.Result.Images, 2)
	assert.Equal(t, Image{Category: "tops", URL: "https://cdn.example.com/dress.jpg", Alt: "赤いワンピース", Description: "赤いワンピース", Score: 0.9}, v.Result.Images[0])
	assert.Equal(t, "shoes", v.Result.Images[1].Alt)
	assert.Empty(t, v.Banner)
}

func TestProjectFinalizedLookupFailureShowsBanner(t *testing.T) {
	outfit := domain.CandidateOutfit{Tops: "白シャツ"}
	v := Project(dialogue.Snapshot{
		State: dialogue.StateFinalized,
		Final: &dialogue.Finalization{Outfit: outfit, Done: true, Err: errors.New("サーバーエラー")},
	}, "")

	assert.Equal(t, "画像の検索に失敗しました: サーバーエラー", v.Banner)
	require.NotNil(t, v.Result)
	assert.Equal(t, []Line{{Label: "Tops", Categories: []string{"tops"}, Item: "白シャツ"}}, v.Result.Lines)
}

func TestProjectClosedSession(t *testing.T) {
	v := Project(dialogue.Snapshot{State: dialogue.StateIdle, Closed: true, Candidate: &domain.CandidateOutfit{Tops: "x"}}, "")

	assert.True(t, v.Closed)
	assert.False(t, v.Controls.CanSend)
	assert.Nil(t, v.Suggestion)
	assert.Equal(t, sessionEndedText, v.Banner)
}
