package delegation

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/personamesh/core"
)

// Registry maps stable sub-agent names to agents, preserving registration order.
type Registry struct {
	order  []string
	byName map[string]core.Agent
}

// NewRegistry builds a registry, rejecting nil agents, empty names and duplicates.
func NewRegistry(agents ...core.Agent) (*Registry, error) {
	r := &Registry{byName: make(map[string]core.Agent, len(agents))}

	for _, a := range agents {
		if a == nil {
			return nil, errors.New("registry: nil agent")
		}

		name := a.Name()
		if strings.TrimSpace(name) == "" {
			return nil, errors.New("registry: agent with empty name")
		}

		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("registry: duplicate agent name %q", name)
		}

		r.byName[name] = a
		r.order = append(r.order, name)
	}

	return r, nil
}

// Get returns the agent registered under name. Models sometimes wrap the
// recipient in quotes or backticks; those are stripped before a second lookup.
func (r *Registry) Get(name string) (core.Agent, error) {
	if a, ok := r.byName[name]; ok {
		return a, nil
	}

	if a, ok := r.byName[strings.Trim(name, " \t\n\"'`")]; ok {
		return a, nil
	}

	return nil, &core.DelegateError{Name: name, Known: r.Names()}
}

// Has reports whether name is registered exactly.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Agents returns the registered agents in registration order.
func (r *Registry) Agents() []core.Agent {
	out := make([]core.Agent, len(r.order))
	for i, name := range r.order {
		out[i] = r.byName[name]
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int { return len(r.order) }

// Index returns the registration position of name, or -1.
func (r *Registry) Index(name string) int {
	for i, n := range r.order {
		if n == name {
			return i
		}
	}
	return -1
}

// Describe renders the LLM-facing info of every describable agent, one JSON
// object per agent separated by blank lines, for use in coordinator prompts.
func (r *Registry) Describe() (string, error) {
	var parts []string

	for _, name := range r.order {
		d, ok := r.byName[name].(core.Describer)
		if !ok {
			continue
		}

		info, ok := d.Info()
		if !ok {
			continue
		}

		s, err := info.FormatForPrompt(name)
		if err != nil {
			return "", fmt.Errorf("describe %q: %w", name, err)
		}

		parts = append(parts, s)
	}

	return strings.Join(parts, "\n\n"), nil
}

// resolve walks a flattened stack (root first) down to the owning agent.
// The first hop goes through the registry; deeper hops require each
// intermediate agent to be a delegating agent.
func resolve(r *Registry, stack []string) (core.Agent, error) {
	if len(stack) < 2 {
		return nil, errors.New("stack does not name a sub-agent")
	}

	a, err := r.Get(stack[1])
	if err != nil {
		return nil, err
	}

	for _, name := range stack[2:] {
		if a.Kind() != core.KindDelegating {
			return nil, fmt.Errorf("agent %q has no sub-agents (looking for %q)", a.Name(), name)
		}

		p, ok := a.(core.Parent)
		if !ok {
			return nil, fmt.Errorf("agent %q cannot resolve sub-agents", a.Name())
		}

		if a, err = p.Subagent(name); err != nil {
			return nil, err
		}
	}

	return a, nil
}

// validateSubhistories checks every subhistory key names a registered agent.
func validateSubhistories(r *Registry, h *core.History) error {
	var unknown []string
	for name := range h.Subhistories {
		if !r.Has(name) {
			unknown = append(unknown, name)
		}
	}

	if len(unknown) == 0 {
		return nil
	}

	sort.Strings(unknown)

	return &core.DelegateError{Name: strings.Join(unknown, ", "), Known: r.Names()}
}
