package dialogue

import (
	"context"
	"net/http"

	"github.com/ashureev/coordi/internal/domain"
	"github.com/ashureev/coordi/internal/gateway"
)

// ProposePath is the reasoning service endpoint.
const ProposePath = "/api/propose"

// Intent tags utterances triggered by a control instead of typed text.
type Intent string

const (
	IntentNone    Intent = ""
	IntentOpen    Intent = "open"
	IntentConfirm Intent = "confirm"
	IntentAnother Intent = "another"
)

// ProposeRequest is the body sent to the reasoning service. History already
// ends with the user turn carrying Message.
type ProposeRequest struct {
	Slots   domain.SlotMap `json:"slots"`
	History []domain.Turn  `json:"history"`
	Message string         `json:"message"`
	Intent  Intent         `json:"intent,omitempty"`
}

// Reasoner sends one turn to the reasoning service.
type Reasoner interface {
	Propose(ctx context.Context, req ProposeRequest) (Reply, error)
}

// Sender is the part of the transport gateway the reasoner uses.
type Sender interface {
	Send(ctx context.Context, req gateway.Request) (*gateway.Response, error)
}

// RemoteReasoner talks to the reasoning service through the gateway.
type RemoteReasoner struct {
	gw Sender
}

// NewRemoteReasoner creates a reasoner on top of gw.
func NewRemoteReasoner(gw Sender) *RemoteReasoner {
	return &RemoteReasoner{gw: gw}
}

// Propose posts req to /api/propose and decodes the tagged reply.
func (r *RemoteReasoner) Propose(ctx context.Context, req ProposeRequest) (Reply, error) {
	resp, err := r.gw.Send(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   ProposePath,
		JSON:   req,
	})
	if err != nil {
		return nil, err
	}
	return DecodeReply(resp.Body)
}
