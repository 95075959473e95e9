package pipeline

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/eqho10/eqho-aios/internal/agent"
	"github.com/eqho10/eqho-aios/internal/config"
	"github.com/eqho10/eqho-aios/internal/notify"
	"github.com/eqho10/eqho-aios/internal/provider"
	"github.com/eqho10/eqho-aios/internal/story"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Orchestrator drives runs. It holds no per-run state and may be reused.
type Orchestrator struct {
	cfg      *config.Config
	stories  StoryStore
	agents   AgentSource
	runner   *Runner
	confirm  Confirmer
	reporter Reporter
	notifier Notifier
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock used for story dates and step timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithConfirmer sets the approval gate.
func WithConfirmer(c Confirmer) Option {
	return func(o *Orchestrator) { o.confirm = c }
}

// WithReporter sets the progress reporter.
func WithReporter(r Reporter) Option {
	return func(o *Orchestrator) { o.reporter = r }
}

// WithNotifier sets the notification target.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithRecorder sets the run history store.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithSideText overrides where project context and tech stack come from.
func WithSideText(s SideText) Option {
	return func(o *Orchestrator) { o.runner.side = s }
}

// WithIDGenerator sets the run id generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// New creates an orchestrator. Without WithConfirmer, runs that are not
// auto-approved fail at the first approval gate.
func New(cfg *config.Config, stories StoryStore, agents AgentSource, backend provider.Backend, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		stories:  stories,
		agents:   agents,
		runner:   NewRunner(cfg, backend, ContextFiles{Dir: cfg.Path(cfg.Paths.Context), Logger: logger}, nil, logger),
		confirm:  noConfirmer{},
		reporter: NopReporter{},
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.runner.reporter = o.reporter
	o.runner.now = o.now
	return o
}

type noConfirmer struct{}

func (noConfirmer) Confirm(context.Context, string) (bool, error) {
	return false, fmt.Errorf("approval required but no confirmer is available (use auto approve)")
}

// Run executes the pipeline for one story.
//
// Errors returned directly are resolution failures (bad options, unknown
// story, unloadable agents) detected before any agent runs. Everything
// after that is reported through the Result: backend failures as marked
// steps, a declined approval as Success=false with no Error, and any other
// failure as Success=false with Error set.
func (o *Orchestrator) Run(ctx context.Context, storyID string, opts Options) (*Result, error) {
	if opts.Phase == "" {
		opts.Phase = PhaseFull
	}
	if _, err := ParsePhase(string(opts.Phase)); err != nil {
		return nil, err
	}

	st, err := o.stories.Load(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("load story %s: %w", storyID, err)
	}

	r := &run{
		o:    o,
		opts: opts,
		st:   st,
		res: &Result{
			RunID:     o.newID(),
			StoryID:   st.ID,
			Phase:     opts.Phase,
			Agent:     opts.SingleAgent,
			Steps:     []Step{},
			StartedAt: o.now(),
		},
	}
	if err := r.resolve(); err != nil {
		return nil, err
	}

	start := time.Now()
	o.reporter.RunStarted(st, opts)
	o.logger.Info("pipeline started",
		zap.String("run", r.res.RunID),
		zap.String("story", st.ID),
		zap.String("phase", string(opts.Phase)),
		zap.String("agent", string(opts.SingleAgent)))

	success, err := r.execute(ctx)
	r.res.Success = success && err == nil
	if err != nil {
		r.res.Error = err.Error()
		o.logger.Error("pipeline failed", zap.String("story", st.ID), zap.Error(err))
	}

	r.finalize(context.WithoutCancel(ctx))
	r.res.Duration = time.Since(start)

	o.reporter.RunFinished(r.res)
	o.notify(ctx, notify.Event{
		Event:   notify.PipelineCompleted,
		StoryID: r.res.StoryID,
		Agent:   string(r.res.Agent),
		Phase:   string(r.res.Phase),
		Result:  r.res.Error,
		Tokens:  r.res.TotalTokens,
		Success: r.res.Success,
	})
	if o.recorder != nil {
		if err := o.recorder.Record(context.WithoutCancel(ctx), r.res); err != nil {
			o.logger.Warn("record run failed", zap.String("run", r.res.RunID), zap.Error(err))
		}
	}
	return r.res, nil
}

func (o *Orchestrator) notify(ctx context.Context, ev notify.Event) {
	if o.notifier == nil {
		return
	}
	ev.Timestamp = o.now().UTC()
	o.notifier.Notify(ctx, ev)
}

// run is the state of one Run call.
type run struct {
	o    *Orchestrator
	opts Options
	// st is the last persisted story value.
	st   story.Story
	defs map[agent.Role]*agent.Definition
	// phases holds the enabled agent lists in execution order.
	phases []phasePlan
	res    *Result
}

type phasePlan struct {
	phase Phase
	roles []agent.Role
}

// resolve picks the agent lists and loads every definition they need.
func (r *run) resolve() error {
	cfg := r.o.cfg
	var need []agent.Role

	if r.opts.SingleAgent != "" {
		role := r.opts.SingleAgent
		if !role.Valid() {
			return fmt.Errorf("%w: %s", agent.ErrNotFound, role)
		}
		if !cfg.AgentEnabled(role) {
			return fmt.Errorf("agent %s is disabled in config", role)
		}
		need = []agent.Role{role}
	} else {
		if r.opts.Phase == PhasePlanning || r.opts.Phase == PhaseFull {
			r.phases = append(r.phases, phasePlan{PhasePlanning, r.enabled(cfg.Orchestration.PlanningAgents)})
		}
		if r.opts.Phase == PhaseDevelopment || r.opts.Phase == PhaseFull {
			r.phases = append(r.phases, phasePlan{PhaseDevelopment, r.enabled(cfg.Orchestration.DevelopmentAgents)})
		}
		for _, p := range r.phases {
			for _, role := range p.roles {
				if !slices.Contains(need, role) {
					need = append(need, role)
				}
			}
		}
		if len(need) == 0 {
			return fmt.Errorf("%w: no enabled agents for phase %s", agent.ErrNoAgents, r.opts.Phase)
		}
	}

	r.defs = make(map[agent.Role]*agent.Definition, len(need))
	for _, role := range need {
		def, err := r.o.agents.Load(role)
		if err != nil {
			return fmt.Errorf("load agent %s: %w", role, err)
		}
		r.defs[role] = def
	}
	return nil
}

func (r *run) enabled(roles []agent.Role) []agent.Role {
	out := make([]agent.Role, 0, len(roles))
	for _, role := range roles {
		if !r.o.cfg.AgentEnabled(role) {
			r.warn(fmt.Sprintf("@%s is disabled, skipping", role))
			continue
		}
		out = append(out, role)
	}
	return out
}

func (r *run) execute(ctx context.Context) (bool, error) {
	if r.opts.SingleAgent != "" {
		return true, r.single(ctx, r.opts.SingleAgent)
	}
	for _, p := range r.phases {
		ok, err := r.phase(ctx, p.phase, p.roles)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// single runs one agent without touching status or the phase lists.
func (r *run) single(ctx context.Context, role agent.Role) error {
	if err := r.commit(ctx, r.st.WithCurrentAgent(role)); err != nil {
		return err
	}
	return r.step(ctx, role)
}

// phase walks one agent list. It returns false without an error when the
// user declines the approval gate.
func (r *run) phase(ctx context.Context, phase Phase, roles []agent.Role) (bool, error) {
	r.o.reporter.PhaseStarted(phase, roles)
	status := story.StatusInProgress
	if phase == PhasePlanning {
		status = story.StatusPlanning
	}
	maxRetries := r.o.cfg.Orchestration.MaxQARetries
	retries := 0

	for i := 0; i < len(roles); i++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		role := roles[i]

		next := r.st.WithCurrentAgent(role).WithStatus(status).WithPhase(string(phase)).WithUpdated(r.o.now())
		if err := r.commit(ctx, next); err != nil {
			return false, err
		}
		if err := r.step(ctx, role); err != nil {
			return false, err
		}

		last := r.res.Steps[len(r.res.Steps)-1]
		if role == agent.QA && NeedsFix(last.Output) {
			if retries < maxRetries {
				if dev := slices.Index(roles, agent.Developer); dev >= 0 {
					retries++
					r.warn(fmt.Sprintf("QA requested fixes (retry %d/%d)", retries, maxRetries))
					i = dev - 1
					continue
				}
				r.warn("QA requested fixes but @developer is not in the " + string(phase) + " agents, retry skipped")
			} else {
				r.warn(fmt.Sprintf("QA still requests fixes after %d retries", maxRetries))
			}
		}

		if !r.opts.AutoApprove && i < len(roles)-1 {
			ok, err := r.o.confirm.Confirm(ctx, fmt.Sprintf("Continue to @%s?", roles[i+1]))
			if err != nil {
				return false, fmt.Errorf("approval: %w", err)
			}
			if !ok {
				r.warn("pipeline stopped by user")
				return false, nil
			}
		}
	}
	return true, nil
}

// step runs role against the committed story with every earlier step of
// this run as history, then commits the output.
func (r *run) step(ctx context.Context, role agent.Role) error {
	s := r.o.runner.Run(ctx, r.defs[role], r.st, r.res.Steps, r.opts.Task)
	r.res.Steps = append(r.res.Steps, s)
	r.res.TotalTokens += s.TokensUsed

	if err := r.commit(ctx, r.st.WithAgentOutput(role, s.Output, r.o.now())); err != nil {
		return err
	}
	r.o.notify(ctx, notify.Event{
		Event:   notify.AgentCompleted,
		StoryID: r.st.ID,
		Agent:   string(role),
		Result:  s.Output,
		Tokens:  s.TokensUsed,
		Success: !s.Failed(),
	})
	return nil
}

// commit persists next and makes it the current story. On failure the
// previous value stays current.
func (r *run) commit(ctx context.Context, next story.Story) error {
	if err := r.o.stories.Persist(ctx, next); err != nil {
		return fmt.Errorf("persist story %s: %w", next.ID, err)
	}
	r.st = next
	return nil
}

// finalize writes the closing status and token total.
func (r *run) finalize(ctx context.Context) {
	next := r.st.WithoutCurrentAgent().AddActualTokens(r.res.TotalTokens).WithUpdated(r.o.now())
	if r.res.Success {
		next = next.WithStatus(story.StatusDone)
	}
	if err := r.commit(ctx, next); err != nil {
		r.o.logger.Error("finalize story failed", zap.String("story", next.ID), zap.Error(err))
		r.res.Success = false
		if r.res.Error == "" {
			r.res.Error = err.Error()
		}
	}
}

func (r *run) warn(msg string) {
	r.o.logger.Warn(msg, zap.String("story", r.st.ID))
	r.o.reporter.Warn(msg)
}
