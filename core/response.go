package core

// ProposedResponse is the routing decision decoded from one step's output.
// A nil Recipient means no further delegation: the message is (or feeds)
// the final answer. Proposed responses are transient and never persisted.
type ProposedResponse struct {
	Message   string  `json:"message"`
	Recipient *string `json:"recipient,omitempty"`
	Reasoning *string `json:"reasoning,omitempty"`
}

// NewProposedResponse wraps plain text with no routing information.
func NewProposedResponse(message string) ProposedResponse {
	return ProposedResponse{Message: message}
}

// HasRecipient reports whether the response names a sub-agent.
func (pr ProposedResponse) HasRecipient() bool {
	return pr.Recipient != nil && *pr.Recipient != ""
}

// RecipientName returns the recipient or the empty string when absent.
func (pr ProposedResponse) RecipientName() string {
	if pr.Recipient == nil {
		return ""
	}
	return *pr.Recipient
}

// ReasoningText returns the reasoning or the empty string when absent.
func (pr ProposedResponse) ReasoningText() string {
	if pr.Reasoning == nil {
		return ""
	}
	return *pr.Reasoning
}
