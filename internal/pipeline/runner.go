package pipeline

import (
	"context"
	"time"

	"github.com/eqho10/eqho-aios/internal/agent"
	"github.com/eqho10/eqho-aios/internal/config"
	"github.com/eqho10/eqho-aios/internal/prompt"
	"github.com/eqho10/eqho-aios/internal/provider"
	"github.com/eqho10/eqho-aios/internal/story"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner executes a single agent step.
type Runner struct {
	cfg      *config.Config
	backend  provider.Backend
	side     SideText
	reporter Reporter
	logger   *zap.Logger
	now      func() time.Time
}

// NewRunner creates a runner. side and reporter may be nil.
func NewRunner(cfg *config.Config, backend provider.Backend, side SideText, reporter Reporter, logger *zap.Logger) *Runner {
	if reporter == nil {
		reporter = NopReporter{}
	}
	return &Runner{
		cfg:      cfg,
		backend:  backend,
		side:     side,
		reporter: reporter,
		logger:   logger,
		now:      time.Now,
	}
}

// Run builds the prompts for def, calls the backend and returns the step.
// A backend failure never escapes: it becomes a step whose output starts
// with ErrorMarker and whose token count is zero.
func (r *Runner) Run(ctx context.Context, def *agent.Definition, st story.Story, previous []Step, task string) Step {
	start := time.Now()
	role := def.Role

	projectContext, techStack := r.loadSideText(ctx, st)

	visible := RelevantSteps(previous, r.cfg.Orchestration.ContextWindow)
	prior := make([]prompt.Prior, 0, len(visible))
	for _, s := range visible {
		prior = append(prior, prompt.Prior{Agent: s.Agent, Output: s.Output})
	}

	system := prompt.BuildSystemPrompt(def, projectContext, techStack)
	user := prompt.BuildUserMessage(st, prior, task)

	model := r.cfg.AgentModel(role)
	temp := r.cfg.LLM.Temperature
	r.reporter.AgentStarted(role, model)
	r.logger.Debug("agent started",
		zap.String("story", st.ID),
		zap.String("agent", string(role)),
		zap.String("model", model),
		zap.Int("visible_steps", len(visible)))

	step := Step{Agent: role, Input: user, Model: model}
	resp, err := r.backend.Execute(ctx, system, user, provider.Options{
		Model:       model,
		MaxTokens:   r.cfg.LLM.MaxTokens,
		Temperature: &temp,
	})
	if err != nil {
		r.logger.Error("agent failed",
			zap.String("story", st.ID),
			zap.String("agent", string(role)),
			zap.Error(err))
		step.Output = ErrorMarker + err.Error()
	} else {
		step.Output = resp.Content
		step.InputTokens = resp.InputTokens
		step.OutputTokens = resp.OutputTokens
		step.TokensUsed = resp.TotalTokens()
		if resp.Model != "" {
			step.Model = resp.Model
		}
		if resp.StopReason != "" && resp.StopReason != "end_turn" {
			r.reporter.Warn("@" + string(role) + " stopped early: " + resp.StopReason)
		}
	}
	step.Duration = time.Since(start)
	step.Timestamp = r.now()

	r.reporter.AgentFinished(step)
	return step
}

// loadSideText reads project context and tech stack concurrently. Either
// failing leaves that text empty.
func (r *Runner) loadSideText(ctx context.Context, st story.Story) (projectContext, techStack string) {
	if r.side == nil {
		return "", ""
	}
	var g errgroup.Group
	g.Go(func() error {
		text, err := r.side.ProjectContext(ctx, st)
		if err != nil {
			r.logger.Warn("project context unavailable", zap.Error(err))
			return nil
		}
		projectContext = text
		return nil
	})
	g.Go(func() error {
		text, err := r.side.TechStack(ctx)
		if err != nil {
			r.logger.Warn("tech stack unavailable", zap.Error(err))
			return nil
		}
		techStack = text
		return nil
	})
	_ = g.Wait()
	return projectContext, techStack
}
