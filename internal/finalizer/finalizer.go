// Package finalizer hands a confirmed outfit to the image-lookup service and
// returns the matches with display-ready URLs.
package finalizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ashureev/coordi/internal/domain"
	"github.com/ashureev/coordi/internal/gateway"
)

// SearchPath is the image-lookup endpoint.
const SearchPath = "/api/search/outfit"

// Sender is the part of the transport gateway the finalizer uses.
type Sender interface {
	Send(ctx context.Context, req gateway.Request) (*gateway.Response, error)
}

// Finalizer looks up images for finalized outfits.
type Finalizer struct {
	gw       Sender
	resolver *URLResolver
	logger   *slog.Logger
}

// New creates a Finalizer. A nil resolver leaves URLs untouched.
func New(gw Sender, resolver *URLResolver, logger *slog.Logger) *Finalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finalizer{gw: gw, resolver: resolver, logger: logger}
}

// Finalize posts outfit to the lookup service. Every category the outfit
// names is present in the result; categories without hits are empty.
func (f *Finalizer) Finalize(ctx context.Context, outfit domain.CandidateOutfit) (domain.ImageMatchSet, error) {
	resp, err := f.gw.Send(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   SearchPath,
		JSON:   outfit,
	})
	if err != nil {
		return nil, err
	}

	found, err := decodeMatches(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode image lookup response: %w", err)
	}

	set := make(domain.ImageMatchSet, len(domain.DisplayOrder))
	for _, category := range domain.DisplayOrder {
		matches := found[category]
		if outfit.Item(category) == "" && len(matches) == 0 {
			continue
		}
		resolved := make([]domain.ImageMatch, 0, len(matches))
		for _, m := range matches {
			m.ImageURL = f.resolver.Resolve(m.ImageURL)
			resolved = append(resolved, m)
		}
		set[category] = resolved
	}

	f.logger.Debug("Image lookup complete", "categories", len(set))
	return set, nil
}

// decodeMatches accepts the bare category map or the same map wrapped in a
// "data" envelope. Keys that are not match lists are ignored.
func decodeMatches(body []byte) (map[string][]domain.ImageMatch, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	if data, ok := fields["data"]; ok && bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		fields = nil
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("data envelope: %w", err)
		}
	}

	out := make(map[string][]domain.ImageMatch, len(fields))
	for category, raw := range fields {
		var matches []domain.ImageMatch
		if err := json.Unmarshal(raw, &matches); err != nil {
			continue
		}
		out[category] = matches
	}
	return out, nil
}
