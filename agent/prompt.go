package agent

import (
	"fmt"

	"github.com/hupe1980/personamesh/core"
	"github.com/hupe1980/personamesh/internal/util"
	"github.com/hupe1980/personamesh/protocol"
)

// PromptMessage is one templated message of a persona prompt.
type PromptMessage struct {
	Role    core.Role `yaml:"role" json:"role"`
	Content string    `yaml:"content" json:"content"`
}

// PromptTemplate holds the prompt messages sent ahead of a persona's history
// together with the variables they are rendered with.
type PromptTemplate struct {
	Messages []PromptMessage
	Vars     map[string]any
}

// NewPromptTemplate creates a template from a system prompt text.
func NewPromptTemplate(system string, vars map[string]any) PromptTemplate {
	return PromptTemplate{
		Messages: []PromptMessage{{Role: core.RoleSystem, Content: system}},
		Vars:     vars,
	}
}

// With returns a copy of the template with an extra variable set.
func (p PromptTemplate) With(key string, value any) PromptTemplate {
	vars := make(map[string]any, len(p.Vars)+1)
	for k, v := range p.Vars {
		vars[k] = v
	}
	vars[key] = value

	return PromptTemplate{Messages: p.Messages, Vars: vars}
}

// Render renders every message, stamping them with the clock.
func (p PromptTemplate) Render(clock core.Clock) ([]core.Message, error) {
	out := make([]core.Message, 0, len(p.Messages))

	for i, pm := range p.Messages {
		if !pm.Role.Valid() {
			return nil, fmt.Errorf("prompt message %d: invalid role %q", i, pm.Role)
		}

		text, err := util.RenderTemplate(pm.Content, p.Vars)
		if err != nil {
			return nil, fmt.Errorf("prompt message %d: %w", i, err)
		}

		out = append(out, core.NewMessage(pm.Role, text, clock.Now()))
	}

	return out, nil
}

// CoordinatorVars returns the template variables a coordinator prompt needs:
// "agents" holds the JSON descriptions of the sub-agents and
// "response_format" the structured response instructions.
func CoordinatorVars(descriptions string) map[string]any {
	return map[string]any{
		"agents":          descriptions,
		"response_format": protocol.FormatInstructions(),
	}
}
