package story

import (
	"fmt"
	"slices"
	"time"

	"github.com/eqho10/eqho-aios/internal/agent"
	"github.com/eqho10/eqho-aios/internal/markdown"
)

// Status is the lifecycle state of a story.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusPlanning   Status = "planning"
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
)

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusDraft, StatusPlanning, StatusReady, StatusInProgress, StatusReview, StatusDone}
}

// Priority ranks stories.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// ParsePriority validates a priority name.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(s); p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return p, nil
	}
	return "", fmt.Errorf("unknown priority %q (valid: critical, high, medium, low)", s)
}

// HistorySection is the section that receives one line per completed agent.
const HistorySection = "Context History"

const dateLayout = "2006-01-02"

// Frontmatter holds the persisted story fields.
type Frontmatter struct {
	ID              string       `yaml:"id" json:"id"`
	Title           string       `yaml:"title" json:"title"`
	Status          Status       `yaml:"status" json:"status"`
	Priority        Priority     `yaml:"priority" json:"priority"`
	Phase           string       `yaml:"phase" json:"phase"`
	CurrentAgent    *agent.Role  `yaml:"current_agent" json:"current_agent"`
	AgentsCompleted []agent.Role `yaml:"agents_completed" json:"agents_completed"`
	Created         string       `yaml:"created" json:"created"`
	Updated         string       `yaml:"updated,omitempty" json:"updated,omitempty"`
	Tags            []string     `yaml:"tags,omitempty" json:"tags,omitempty"`
	EstimatedTokens int          `yaml:"estimated_tokens,omitempty" json:"estimated_tokens,omitempty"`
	ActualTokens    int          `yaml:"actual_tokens,omitempty" json:"actual_tokens,omitempty"`
}

// Story is an immutable value. Every With method returns a copy and
// leaves the receiver untouched.
type Story struct {
	Frontmatter
	Path string `json:"path"`
	doc  markdown.Document
}

// New builds a story from frontmatter and markdown body.
func New(fm Frontmatter, body, path string) Story {
	s := Story{Frontmatter: fm, Path: path, doc: markdown.Parse(body)}
	return s.clone()
}

// Body renders the markdown body.
func (s Story) Body() string { return s.doc.String() }

// Sections lists the body's "##" sections in order.
func (s Story) Sections() []markdown.Section { return s.doc.Sections() }

// Section returns the trimmed content of a named section.
func (s Story) Section(name string) (string, bool) { return s.doc.Section(name) }

// HasCompleted reports whether role is in agents_completed.
func (s Story) HasCompleted(role agent.Role) bool {
	return slices.Contains(s.AgentsCompleted, role)
}

func (s Story) clone() Story {
	c := s
	c.doc = s.doc.Clone()
	c.AgentsCompleted = append([]agent.Role{}, s.AgentsCompleted...)
	c.Tags = nil
	if len(s.Tags) > 0 {
		c.Tags = append([]string{}, s.Tags...)
	}
	if s.CurrentAgent != nil {
		r := *s.CurrentAgent
		c.CurrentAgent = &r
	}
	return c
}

// WithStatus returns a copy with the given status.
func (s Story) WithStatus(st Status) Story {
	c := s.clone()
	c.Status = st
	return c
}

// WithPhase returns a copy with the given phase label.
func (s Story) WithPhase(phase string) Story {
	c := s.clone()
	c.Phase = phase
	return c
}

// WithCurrentAgent marks role as running.
func (s Story) WithCurrentAgent(role agent.Role) Story {
	c := s.clone()
	c.CurrentAgent = &role
	return c
}

// WithoutCurrentAgent clears current_agent.
func (s Story) WithoutCurrentAgent() Story {
	c := s.clone()
	c.CurrentAgent = nil
	return c
}

// WithUpdated stamps the update date.
func (s Story) WithUpdated(now time.Time) Story {
	c := s.clone()
	c.Updated = now.Format(dateLayout)
	return c
}

// AddActualTokens returns a copy with n added to actual_tokens.
func (s Story) AddActualTokens(n int) Story {
	c := s.clone()
	c.ActualTokens += n
	return c
}

// WithAgentOutput commits an agent's output into the role's section and
// the history log, and marks the agent as no longer running.
func (s Story) WithAgentOutput(role agent.Role, output string, now time.Time) Story {
	c := s.clone()
	c.doc.Set(role.Section(), output)
	c.doc.AppendLine(HistorySection, fmt.Sprintf("- %s @%s: Completed", now.Format(dateLayout), role))
	c.CurrentAgent = nil
	if !c.HasCompleted(role) {
		c.AgentsCompleted = append(c.AgentsCompleted, role)
	}
	c.Updated = now.Format(dateLayout)
	return c
}
