package agent

import (
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
)

// Agent is a showcase entry.
type Agent struct {
	Key         string `mapstructure:"key"         yaml:"key"`
	Name        string `mapstructure:"name"        yaml:"name"`
	Description string `mapstructure:"description" yaml:"description"`
	AgentID     string `mapstructure:"agent_id"    yaml:"agent_id"`
}

// Ref returns the agent's voice engine reference.
func (a Agent) Ref() (Ref, error) {
	r, err := ParseRef(a.AgentID)
	if err != nil {
		return Ref{}, fmt.Errorf("agent %q: %w", a.Key, err)
	}
	return r, nil
}

func (a Agent) filterValue() string {
	return a.Name + " " + a.Description
}

// Catalog is an ordered list of agents.
type Catalog []Agent

// DefaultCatalog is the built-in showcase.
func DefaultCatalog() Catalog {
	return Catalog{
		{
			Key:         "sales-agent-001",
			Name:        "Eric - Real Estate",
			Description: "Specializes in discovery and personalized Property walkthroughs.",
			AgentID:     "agent_2601kdzvekjcfrcbbcd1bt5pv5ws",
		},
		{
			Key:         "support-agent-001",
			Name:        "Marcus - Ecommerce support",
			Description: "Patient, methodical, and expert at troubleshooting complex issues.",
			AgentID:     "agent_3501kdztrzhmebx968xayfk1kc68",
		},
		{
			Key:         "booking-agent-001",
			Name:        "Julian - Concierge & Booking",
			Description: "Handles appointments, reservations, and scheduling with grace. Syncs directly with Google Calendar and Outlook.",
			AgentID:     "agent_9101kdzt9gq8ehttgya525n0s29z",
		},
		{
			Key:         "faq-agent-001",
			Name:        "Eric - Car Salesman",
			Description: "Helps users find a car of their dreams.",
			AgentID:     "agent_5301kap1zr77ejxshm33cgfyhxyx",
		},
	}
}

// Validate checks that every entry has a key and a usable identifier, and
// that keys are unique.
func (c Catalog) Validate() error {
	seen := make(map[string]struct{}, len(c))
	for i, a := range c {
		if strings.TrimSpace(a.Key) == "" {
			return fmt.Errorf("agent #%d: key is required", i+1)
		}
		if _, dup := seen[a.Key]; dup {
			return fmt.Errorf("agent %q: duplicate key", a.Key)
		}
		seen[a.Key] = struct{}{}
		if _, err := a.Ref(); err != nil {
			return err
		}
	}
	return nil
}

// Lookup finds an agent by catalog key or by agent identifier.
func (c Catalog) Lookup(keyOrID string) (Agent, bool) {
	for _, a := range c {
		if a.Key == keyOrID || a.AgentID == keyOrID {
			return a, true
		}
	}
	return Agent{}, false
}

// String implements fuzzy.Source.
func (c Catalog) String(i int) string {
	return c[i].filterValue()
}

// Len implements fuzzy.Source.
func (c Catalog) Len() int {
	return len(c)
}

// Filter returns the agents matching query, best match first. An empty query
// returns the catalog unchanged.
func (c Catalog) Filter(query string) Catalog {
	query = strings.TrimSpace(query)
	if query == "" {
		return c
	}
	matches := fuzzy.FindFrom(query, c)
	out := make(Catalog, 0, len(matches))
	for _, m := range matches {
		out = append(out, c[m.Index])
	}
	return out
}
