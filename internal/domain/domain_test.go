package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlotMapCloneIsIndependent(t *testing.T) {
	orig := SlotMap{"occasion": Slot("デート"), "weather": nil}
	clone := orig.Clone()

	*clone["occasion"] = "通勤"
	clone["style"] = Slot("casual")

	v, ok := orig.Value("occasion")
	assert.True(t, ok)
	assert.Equal(t, "デート", v)
	_, ok = orig.Value("weather")
	assert.False(t, ok)
	assert.NotContains(t, orig, "style")
}

func TestSlotMapEqual(t *testing.T) {
	a := SlotMap{"occasion": nil, "weather": Slot("雨")}
	assert.True(t, a.Equal(SlotMap{"occasion": nil, "weather": Slot("雨")}))
	assert.False(t, a.Equal(SlotMap{"occasion": Slot(""), "weather": Slot("雨")}))
	assert.False(t, a.Equal(SlotMap{"weather": Slot("雨")}))
}

func TestCandidateOutfitOnePiece(t *testing.T) {
	assert.True(t, CandidateOutfit{Tops: "red dress", Bottoms: "red dress"}.IsOnePiece())
	assert.False(t, CandidateOutfit{Tops: "white shirt", Bottoms: "denim"}.IsOnePiece())
	assert.False(t, CandidateOutfit{}.IsOnePiece())
}

func TestCandidateOutfitSetAndItem(t *testing.T) {
	var o CandidateOutfit
	assert.True(t, o.IsEmpty())
	assert.True(t, o.Set(CategoryOuterwear, "トレンチコート"))
	assert.False(t, o.Set("hat", "beret"))
	assert.Equal(t, "トレンチコート", o.Item(CategoryOuterwear))
	assert.False(t, o.IsEmpty())
}

func TestImageMatchSetTop(t *testing.T) {
	set := ImageMatchSet{"tops": {{ImageURL: "/a.jpg", Score: 0.9}, {ImageURL: "/b.jpg", Score: 0.5}}}
	top, ok := set.Top("tops")
	assert.True(t, ok)
	assert.Equal(t, "/a.jpg", top.ImageURL)

	_, ok = set.Top("shoes")
	assert.False(t, ok)
}
