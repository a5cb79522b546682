package domain

// ImageMatch is one image lookup hit.
type ImageMatch struct {
	ImageURL string        `json:"image_url"`
	Score    float64       `json:"score"`
	Metadata MatchMetadata `json:"metadata"`
}

// MatchMetadata describes the matched garment.
type MatchMetadata struct {
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
}

// ImageMatchSet holds ranked matches per category. Categories with no
// matches are empty, not errors.
type ImageMatchSet map[string][]ImageMatch

// Top returns the best match for category.
func (s ImageMatchSet) Top(category string) (ImageMatch, bool) {
	matches := s[category]
	if len(matches) == 0 {
		return ImageMatch{}, false
	}
	return matches[0], true
}
