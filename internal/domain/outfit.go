package domain

// Garment categories understood by the image lookup collaborator.
const (
	CategoryTops      = "tops"
	CategoryBottoms   = "bottoms"
	CategoryOuterwear = "outerwear"
	CategoryShoes     = "shoes"
)

// DisplayOrder is the order categories are shown in.
var DisplayOrder = []string{CategoryTops, CategoryBottoms, CategoryOuterwear, CategoryShoes}

// CandidateOutfit maps garment categories to item descriptors. It is
// replaced wholesale by every proposal and never merged.
type CandidateOutfit struct {
	Tops      string `json:"tops"`
	Bottoms   string `json:"bottoms"`
	Shoes     string `json:"shoes"`
	Outerwear string `json:"outerwear,omitempty"`
}

// IsEmpty reports whether no category carries a descriptor.
func (o CandidateOutfit) IsEmpty() bool {
	return o.Tops == "" && o.Bottoms == "" && o.Shoes == "" && o.Outerwear == ""
}

// IsOnePiece reports whether tops and bottoms name the same garment.
func (o CandidateOutfit) IsOnePiece() bool {
	return o.Tops != "" && o.Tops == o.Bottoms
}

// Item returns the descriptor for category.
func (o CandidateOutfit) Item(category string) string {
	switch category {
	case CategoryTops:
		return o.Tops
	case CategoryBottoms:
		return o.Bottoms
	case CategoryOuterwear:
		return o.Outerwear
	case CategoryShoes:
		return o.Shoes
	default:
		return ""
	}
}

// Set assigns the descriptor for category and reports whether the category
// is known.
func (o *CandidateOutfit) Set(category, item string) bool {
	switch category {
	case CategoryTops:
		o.Tops = item
	case CategoryBottoms:
		o.Bottoms = item
	case CategoryOuterwear:
		o.Outerwear = item
	case CategoryShoes:
		o.Shoes = item
	default:
		return false
	}
	return true
}
