package pipeline

import (
	"context"
	"errors"
	"os/exec"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/eqho10/eqho-aios/internal/agent"
	"github.com/eqho10/eqho-aios/internal/config"
	"github.com/eqho10/eqho-aios/internal/notify"
	"github.com/eqho10/eqho-aios/internal/provider"
	"github.com/eqho10/eqho-aios/internal/story"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunFullPipeline(t *testing.T) {
	cfg := testConfig(t)
	store := newMemStore(testStory())
	backend := &scriptBackend{}
	notifier := &captureNotifier{}
	recorder := &captureRecorder{}
	o := newTestOrchestrator(cfg, store, fakeAgents{}, backend, WithNotifier(notifier), WithRecorder(recorder))

	res, err := o.Run(context.Background(), "EQHO-001", Options{Phase: PhaseFull, AutoApprove: true})
	require.NoError(t, err)

	assert.Equal(t, []agent.Role{agent.Analyst, agent.Architect, agent.Developer, agent.QA}, stepAgents(res.Steps))
	assert.True(t, res.Success)
	assert.Empty(t, res.Error)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 60, res.TotalTokens)

	sum := 0
	for _, s := range res.Steps {
		sum += s.TokensUsed
		assert.Equal(t, testNow, s.Timestamp)
	}
	assert.Equal(t, sum, res.TotalTokens)

	final := store.get("EQHO-001")
	assert.Equal(t, story.StatusDone, final.Status)
	assert.Nil(t, final.CurrentAgent)
	assert.Equal(t, 60, final.ActualTokens)
	assert.Equal(t, "2026-03-14", final.Updated)
	assert.Equal(t, []agent.Role{agent.Analyst, agent.Architect, agent.Developer, agent.QA}, final.AgentsCompleted)

	got, ok := final.Section(agent.Architect.Section())
	require.True(t, ok)
	assert.Equal(t, "output of architect", got)
	history, _ := final.Section(story.HistorySection)
	assert.Contains(t, history, "- 2026-03-14 @qa: Completed")

	require.Len(t, notifier.events, 5)
	assert.Equal(t, notify.AgentCompleted, notifier.events[0].Event)
	assert.Equal(t, notify.PipelineCompleted, notifier.events[4].Event)
	assert.True(t, notifier.events[4].Success)
	require.Len(t, recorder.results, 1)
	assert.Same(t, res, recorder.results[0])
}

func TestRunPersistsCurrentAgentBeforeEachStep(t *testing.T) {
	cfg := testConfig(t)
	store := newMemStore(testStory())
	o := newTestOrchestrator(cfg, store, fakeAgents{}, &scriptBackend{})

	_, err := o.Run(context.Background(), "EQHO-001", Options{Phase: PhasePlanning, AutoApprove: true})
	require.NoError(t, err)

	// mark, commit per agent, then finalize
	require.Len(t, store.persisted, 5)
	marked := store.persisted[0]
	require.NotNil(t, marked.CurrentAgent)
	assert.Equal(t, agent.Analyst, *marked.CurrentAgent)
	assert.Equal(t, story.StatusPlanning, marked.Status)
	assert.Equal(t, "planning", marked.Phase)
	assert.Nil(t, store.persisted[1].CurrentAgent)
}

func TestQARetryLoop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Orchestration.DevelopmentAgents = []agent.Role{agent.ScrumMaster, agent.Developer, agent.QA}
	cfg.Orchestration.MaxQARetries = 2
	store := newMemStore(testStory())
	reporter := &captureReporter{}
	backend := &scriptBackend{reply: func(role agent.Role, n int) (*provider.Response, error) {
		out := "output of " + string(role)
		if role == agent.QA {
			out = "Verdict: NEEDS_FIX (round " + string(rune('0'+n)) + ")"
		}
		return &provider.Response{Content: out, InputTokens: 1, OutputTokens: 1}, nil
	}}
	o := newTestOrchestrator(cfg, store, fakeAgents{}, backend, WithReporter(reporter))

	res, err := o.Run(context.Background(), "EQHO-001", Options{Phase: PhaseDevelopment, AutoApprove: true})
	require.NoError(t, err)

	assert.Equal(t, []agent.Role{
		agent.ScrumMaster,
		agent.Developer, agent.QA,
		agent.Developer, agent.QA,
		agent.Developer, agent.QA,
	}, stepAgents(res.Steps))
	assert.True(t, res.Success)

	final := store.get("EQHO-001")
	assert.Equal(t, []agent.Role{agent.ScrumMaster, agent.Developer, agent.QA}, final.AgentsCompleted)
	qa, _ := final.Section(agent.QA.Section())
	assert.Equal(t, "Verdict: NEEDS_FIX (round 3)", qa)

	// the second developer pass sees the first QA verdict
	assert.Contains(t, backend.users[3], "### @qa output\n\nVerdict: NEEDS_FIX (round 1)")
	assert.Contains(t, reporter.warns, "QA requested fixes (retry 2/2)")
	assert.Contains(t, reporter.warns, "QA still requests fixes after 2 retries")
}

func TestQARetryStopsOnceApproved(t *testing.T) {
	cfg := testConfig(t)
	cfg.Orchestration.DevelopmentAgents = []agent.Role{agent.ScrumMaster, agent.Developer, agent.QA}
	store := newMemStore(testStory())
	backend := &scriptBackend{reply: func(role agent.Role, n int) (*provider.Response, error) {
		out := "ok"
		if role == agent.QA && n == 1 {
			out = "NEEDS_FIX: null cart"
		} else if role == agent.QA {
			out = "APPROVED"
		}
		return &provider.Response{Content: out}, nil
	}}
	o := newTestOrchestrator(cfg, store, fakeAgents{}, backend)

	res, err := o.Run(context.Background(), "EQHO-001", Options{Phase: PhaseDevelopment, AutoApprove: true})
	require.NoError(t, err)
	assert.Equal(t, []agent.Role{agent.ScrumMaster, agent.Developer, agent.QA, agent.Developer, agent.QA}, stepAgents(res.Steps))
}

func TestQARetryWithoutDeveloperIsSkipped(t *testing.T) {
	cfg := testConfig(t)
	cfg.Orchestration.DevelopmentAgents = []agent.Role{agent.QA}
	store := newMemStore(testStory())
	reporter := &captureReporter{}
	backend := &scriptBackend{reply: func(agent.Role, int) (*provider.Response, error) {
		return &provider.Response{Content: "NEEDS_FIX"}, nil
	}}
	o := newTestOrchestrator(cfg, store, fakeAgents{}, backend, WithReporter(reporter))

	res, err := o.Run(context.Background(), "EQHO-001", Options{Phase: PhaseDevelopment, AutoApprove: true})
	require.NoError(t, err)
	assert.Len(t, res.Steps, 1)
	assert.True(t, res.Success)
	assert.Contains(t, reporter.warns, "QA requested fixes but @developer is not in the development agents, retry skipped")
}

func TestDeclinedApprovalStopsRun(t *testing.T) {
	cfg := testConfig(t)
	store := newMemStore(testStory())
	backend := &scriptBackend{}
	var prompts []string
	confirm := ConfirmFunc(func(_ context.Context, prompt string) (bool, error) {
		prompts = append(prompts, prompt)
		return false, nil
	})
	o := newTestOrchestrator(cfg, store, fakeAgents{}, backend, WithConfirmer(confirm))

	res, err := o.Run(context.Background(), "EQHO-001", Options{Phase: PhaseFull})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Empty(t, res.Error)
	assert.Equal(t, []agent.Role{agent.Analyst}, stepAgents(res.Steps))
	assert.Equal(t, []string{"Continue to @architect?"}, prompts)
	assert.Equal(t, []agent.Role{agent.Analyst}, backend.calls)

	final := store.get("EQHO-001")
	assert.Equal(t, story.StatusPlanning, final.Status)
	assert.Nil(t, final.CurrentAgent)
	assert.Equal(t, 15, final.ActualTokens)
}

func TestApprovalGateSkipsLastAgentOfPhase(t *testing.T) {
	cfg := testConfig(t)
	store := newMemStore(testStory())
	calls := 0
	confirm := ConfirmFunc(func(context.Context, string) (bool, error) {
		calls++
		return true, nil
	})
	o := newTestOrchestrator(cfg, store, fakeAgents{}, &scriptBackend{}, WithConfirmer(confirm))

	res, err := o.Run(context.Background(), "EQHO-001", Options{Phase: PhaseFull})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, res.Steps, 4)
	assert.Equal(t, 2, calls)
}

func TestApprovalWithoutConfirmerFails(t *testing.T) {
	cfg := testConfig(t)
	store := newMemStore(testStory())
	o := newTestOrchestrator(cfg, store, fakeAgents{}, &scriptBackend{})

	res, err := o.Run(context.Background(), "EQHO-001", Options{Phase: PhasePlanning})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "auto approve")
	assert.Len(t, res.Steps, 1)
}

func TestSingleAgentRun(t *testing.T) {
	cfg := testConfig(t)
	planning := slices.Clone(cfg.Orchestration.PlanningAgents)
	development := slices.Clone(cfg.Orchestration.DevelopmentAgents)
	store := newMemStore(testStory())
	backend := &scriptBackend{}
	o := newTestOrchestrator(cfg, store, fakeAgents{}, backend)

	res, err := o.Run(context.Background(), "EQHO-001", Options{Phase: PhaseFull, SingleAgent: agent.Architect})
	require.NoError(t, err)

	require.Len(t, res.Steps, 1)
	assert.Equal(t, agent.Architect, res.Steps[0].Agent)
	assert.Equal(t, agent.Architect, res.Agent)
	assert.Equal(t, []agent.Role{agent.Architect}, backend.calls)
	assert.Equal(t, planning, cfg.Orchestration.PlanningAgents)
	assert.Equal(t, development, cfg.Orchestration.DevelopmentAgents)

	marked := store.persisted[0]
	require.NotNil(t, marked.CurrentAgent)
	assert.Equal(t, story.StatusDraft, marked.Status)
}

func TestSingleAgentDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agents[agent.QA] = config.AgentConfig{Enabled: false}
	o := newTestOrchestrator(cfg, newMemStore(testStory()), fakeAgents{}, &scriptBackend{})

	_, err := o.Run(context.Background(), "EQHO-001", Options{SingleAgent: agent.QA})
	assert.ErrorContains(t, err, "disabled")
}

func TestSingleAgentBackendTimeout(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	backend, err := provider.NewCLIBackend(provider.CLIConfig{
		Command: "sh",
		Args:    []string{"-c", "exec sleep 5"},
		Timeout: 100 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)

	cfg := testConfig(t)
	store := newMemStore(testStory())
	o := newTestOrchestrator(cfg, store, fakeAgents{}, backend)

	res, err := o.Run(context.Background(), "EQHO-001", Options{SingleAgent: agent.Developer})
	require.NoError(t, err)
	require.Len(t, res.Steps, 1)

	step := res.Steps[0]
	assert.True(t, step.Failed())
	assert.True(t, strings.HasPrefix(step.Output, ErrorMarker+"backend timed out"), step.Output)
	assert.Zero(t, step.TokensUsed)
	assert.Empty(t, res.Error)
}

func TestBackendFailureIsAbsorbed(t *testing.T) {
	cfg := testConfig(t)
	store := newMemStore(testStory())
	backend := &scriptBackend{reply: func(role agent.Role, _ int) (*provider.Response, error) {
		if role == agent.Architect {
			return nil, &provider.BackendError{Kind: provider.ErrRateLimited, Status: 429, Message: "slow down"}
		}
		return &provider.Response{Content: "ok", InputTokens: 3, OutputTokens: 4}, nil
	}}
	o := newTestOrchestrator(cfg, store, fakeAgents{}, backend)

	res, err := o.Run(context.Background(), "EQHO-001", Options{Phase: PhaseFull, AutoApprove: true})
	require.NoError(t, err)
	require.Len(t, res.Steps, 4)

	failed := res.Steps[1]
	assert.True(t, failed.Failed())
	assert.Contains(t, failed.Output, "rate limited")
	assert.Zero(t, failed.TokensUsed)
	assert.Equal(t, 21, res.TotalTokens)
	assert.True(t, res.Success)

	section, _ := store.get("EQHO-001").Section(agent.Architect.Section())
	assert.True(t, strings.HasPrefix(section, ErrorMarker))
}

func TestPersistFailureEndsRun(t *testing.T) {
	cfg := testConfig(t)
	store := newMemStore(testStory())
	store.failOn = 3 // marking the architect
	o := newTestOrchestrator(cfg, store, fakeAgents{}, &scriptBackend{})

	res, err := o.Run(context.Background(), "EQHO-001", Options{Phase: PhaseFull, AutoApprove: true})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "disk full")
	assert.Equal(t, []agent.Role{agent.Analyst}, stepAgents(res.Steps))

	final := store.get("EQHO-001")
	assert.Equal(t, story.StatusPlanning, final.Status)
	assert.Nil(t, final.CurrentAgent)
	assert.Equal(t, []agent.Role{agent.Analyst}, final.AgentsCompleted)
	assert.Equal(t, 15, final.ActualTokens)
}

func TestRunResolutionErrors(t *testing.T) {
	cfg := testConfig(t)

	store := newMemStore()
	o := newTestOrchestrator(cfg, store, fakeAgents{}, &scriptBackend{})
	_, err := o.Run(context.Background(), "EQHO-404", Options{})
	assert.True(t, errors.Is(err, story.ErrNotFound), "err = %v", err)

	store = newMemStore(testStory())
	o = newTestOrchestrator(cfg, store, fakeAgents{missing: agent.QA}, &scriptBackend{})
	_, err = o.Run(context.Background(), "EQHO-001", Options{Phase: PhaseFull})
	assert.True(t, errors.Is(err, agent.ErrNotFound), "err = %v", err)
	assert.Empty(t, store.persisted)

	_, err = o.Run(context.Background(), "EQHO-001", Options{Phase: "deploy"})
	assert.Error(t, err)

	cfg.Orchestration.PlanningAgents = nil
	o = newTestOrchestrator(cfg, store, fakeAgents{}, &scriptBackend{})
	_, err = o.Run(context.Background(), "EQHO-001", Options{Phase: PhasePlanning})
	assert.True(t, errors.Is(err, agent.ErrNoAgents), "err = %v", err)
}

func TestDisabledAgentIsSkipped(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agents[agent.Architect] = config.AgentConfig{Enabled: false}
	store := newMemStore(testStory())
	reporter := &captureReporter{}
	o := newTestOrchestrator(cfg, store, fakeAgents{}, &scriptBackend{}, WithReporter(reporter))

	res, err := o.Run(context.Background(), "EQHO-001", Options{Phase: PhaseFull, AutoApprove: true})
	require.NoError(t, err)
	assert.Equal(t, []agent.Role{agent.Analyst, agent.Developer, agent.QA}, stepAgents(res.Steps))
	assert.Contains(t, reporter.warns, "@architect is disabled, skipping")
}

func TestContextWindowLimitsPriorOutputs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Orchestration.ContextWindow = 1
	store := newMemStore(testStory())
	backend := &scriptBackend{}
	o := newTestOrchestrator(cfg, store, fakeAgents{}, backend)

	_, err := o.Run(context.Background(), "EQHO-001", Options{Phase: PhaseFull, AutoApprove: true})
	require.NoError(t, err)

	qaMsg := backend.users[3]
	assert.Contains(t, qaMsg, "### @developer output")
	assert.NotContains(t, qaMsg, "### @architect output")
	assert.NotContains(t, backend.users[0], "Previous Agent Outputs")
}

func TestTaskIsPassedToEveryAgent(t *testing.T) {
	cfg := testConfig(t)
	backend := &scriptBackend{}
	o := newTestOrchestrator(cfg, newMemStore(testStory()), fakeAgents{}, backend)

	_, err := o.Run(context.Background(), "EQHO-001", Options{Phase: PhasePlanning, AutoApprove: true, Task: "Keep it small."})
	require.NoError(t, err)
	for _, u := range backend.users {
		assert.Contains(t, u, "## Task\n\nKeep it small.")
	}
}

func TestCancelledRunStopsBeforeNextAgent(t *testing.T) {
	cfg := testConfig(t)
	store := newMemStore(testStory())
	ctx, cancel := context.WithCancel(context.Background())
	backend := &scriptBackend{reply: func(role agent.Role, _ int) (*provider.Response, error) {
		cancel()
		return &provider.Response{Content: "done"}, nil
	}}
	o := newTestOrchestrator(cfg, store, fakeAgents{}, backend)

	res, err := o.Run(ctx, "EQHO-001", Options{Phase: PhaseFull, AutoApprove: true})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Len(t, res.Steps, 1)
	assert.Contains(t, res.Error, context.Canceled.Error())
	assert.Nil(t, store.get("EQHO-001").CurrentAgent)
}
