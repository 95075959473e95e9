// Package pipeline runs agents over a story: one step at a time, phase by
// phase, with a QA retry loop and an optional human approval gate.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eqho10/eqho-aios/internal/agent"
	"github.com/eqho10/eqho-aios/internal/notify"
	"github.com/eqho10/eqho-aios/internal/story"
)

// Phase selects which agent lists a run walks through.
type Phase string

const (
	PhasePlanning    Phase = "planning"
	PhaseDevelopment Phase = "development"
	PhaseFull        Phase = "full"
)

// ParsePhase validates a phase name. Empty means full.
func ParsePhase(s string) (Phase, error) {
	switch p := Phase(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PhaseFull, nil
	case PhasePlanning, PhaseDevelopment, PhaseFull:
		return p, nil
	}
	return "", fmt.Errorf("unknown phase %q (valid: planning, development, full)", s)
}

const (
	// ErrorMarker prefixes the output of a step whose backend call failed.
	ErrorMarker = "ERROR: "
	// FixMarker in QA output asks for another developer pass.
	FixMarker = "NEEDS_FIX"
)

// Step records one agent execution. Steps are never modified after they
// are appended to a run.
type Step struct {
	Agent        agent.Role    `json:"agent"`
	Input        string        `json:"input"`
	Output       string        `json:"output"`
	TokensUsed   int           `json:"tokens_used"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Model        string        `json:"model,omitempty"`
	Duration     time.Duration `json:"duration"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Failed reports whether the step carries the error marker.
func (s Step) Failed() bool { return strings.HasPrefix(s.Output, ErrorMarker) }

// NeedsFix reports whether a QA output asks for fixes.
func NeedsFix(output string) bool { return strings.Contains(output, FixMarker) }

// Result aggregates one run.
type Result struct {
	RunID       string        `json:"run_id"`
	StoryID     string        `json:"story_id"`
	Phase       Phase         `json:"phase"`
	Agent       agent.Role    `json:"agent,omitempty"`
	Steps       []Step        `json:"steps"`
	TotalTokens int           `json:"total_tokens"`
	Duration    time.Duration `json:"duration"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
}

// Options controls one run.
type Options struct {
	Phase       Phase
	AutoApprove bool
	// SingleAgent runs only this agent and ignores the phase lists.
	SingleAgent agent.Role
	// Task is free text appended to every user message.
	Task string
}

// StoryStore loads and persists stories.
type StoryStore interface {
	Load(ctx context.Context, id string) (story.Story, error)
	Persist(ctx context.Context, st story.Story) error
}

// AgentSource resolves agent definitions.
type AgentSource interface {
	Load(role agent.Role) (*agent.Definition, error)
}

// Confirmer asks a human whether the run may continue.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) { return f(ctx, prompt) }

// Reporter receives progress for display. Implementations must not block.
type Reporter interface {
	RunStarted(st story.Story, opts Options)
	PhaseStarted(phase Phase, roles []agent.Role)
	AgentStarted(role agent.Role, model string)
	AgentFinished(step Step)
	Warn(msg string)
	RunFinished(res *Result)
}

// NopReporter discards progress.
type NopReporter struct{}

func (NopReporter) RunStarted(story.Story, Options) {}
func (NopReporter) PhaseStarted(Phase, []agent.Role) {}
func (NopReporter) AgentStarted(agent.Role, string) {}
func (NopReporter) AgentFinished(Step) {}
func (NopReporter) Warn(string) {}
func (NopReporter) RunFinished(*Result) {}

// Notifier receives fire-and-forget events.
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event)
}

// Recorder stores finished runs.
type Recorder interface {
	Record(ctx context.Context, res *Result) error
}
