package agent

import "converse/internal/types"

// Escalator produces the replacement response when confidence falls
// below threshold. The default hands off to a human queue; applications
// override it to page, ticket, or re-prompt.
type Escalator interface {
	Escalate(state *types.AgentState) types.HandlerResponse
}

// EscalatorFunc adapts a function to the Escalator interface.
type EscalatorFunc func(state *types.AgentState) types.HandlerResponse

func (f EscalatorFunc) Escalate(state *types.AgentState) types.HandlerResponse {
	return f(state)
}

// teamReviewEscalator is the stock escalation routine.
type teamReviewEscalator struct{}

func (teamReviewEscalator) Escalate(_ *types.AgentState) types.HandlerResponse {
	return types.HandlerResponse{
		Messages: []types.Message{
			types.NewMessage(types.RoleAssistant,
				"Your request is being reviewed by our team and we'll get back to you shortly."),
		},
	}
}
