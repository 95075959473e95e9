package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eqho10/eqho-aios/internal/agent"
	"github.com/eqho10/eqho-aios/internal/config"
	"github.com/eqho10/eqho-aios/internal/notify"
	"github.com/eqho10/eqho-aios/internal/provider"
	"github.com/eqho10/eqho-aios/internal/story"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type memStore struct {
	mu        sync.Mutex
	stories   map[string]story.Story
	persisted []story.Story
	// failOn makes the n-th Persist call (1-based) fail.
	failOn int
	calls  int
}

func newMemStore(sts ...story.Story) *memStore {
	m := &memStore{stories: map[string]story.Story{}}
	for _, st := range sts {
		m.stories[st.ID] = st
	}
	return m
}

func (m *memStore) Load(_ context.Context, id string) (story.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stories[id]
	if !ok {
		return story.Story{}, fmt.Errorf("%w: %s", story.ErrNotFound, id)
	}
	return st, nil
}

func (m *memStore) Persist(_ context.Context, st story.Story) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls == m.failOn {
		return errors.New("disk full")
	}
	m.persisted = append(m.persisted, st)
	m.stories[st.ID] = st
	return nil
}

func (m *memStore) get(id string) story.Story {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stories[id]
}

type fakeAgents struct {
	missing agent.Role
}

func (f fakeAgents) Load(role agent.Role) (*agent.Definition, error) {
	if role == f.missing {
		return nil, fmt.Errorf("%w: %s", agent.ErrNotFound, role)
	}
	return &agent.Definition{
		Role:        role,
		DisplayName: string(role),
		Identity:    "You are the " + string(role) + ".",
	}, nil
}

// scriptBackend identifies the agent from the system prompt title.
type scriptBackend struct {
	mu    sync.Mutex
	calls []agent.Role
	users []string
	count map[agent.Role]int
	// reply returns the response for the n-th (1-based) call of role.
	reply func(role agent.Role, n int) (*provider.Response, error)
}

func (b *scriptBackend) Name() string { return "script" }

func (b *scriptBackend) Execute(_ context.Context, system, user string, _ provider.Options) (*provider.Response, error) {
	title, _, _ := strings.Cut(system, "\n")
	role := agent.Role(strings.TrimPrefix(title, "# "))

	b.mu.Lock()
	if b.count == nil {
		b.count = map[agent.Role]int{}
	}
	b.count[role]++
	n := b.count[role]
	b.calls = append(b.calls, role)
	b.users = append(b.users, user)
	b.mu.Unlock()

	if b.reply != nil {
		return b.reply(role, n)
	}
	return &provider.Response{Content: "output of " + string(role), InputTokens: 10, OutputTokens: 5}, nil
}

type captureReporter struct {
	NopReporter
	mu    sync.Mutex
	warns []string
}

func (c *captureReporter) Warn(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warns = append(c.warns, msg)
}

type captureNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *captureNotifier) Notify(_ context.Context, ev notify.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

type captureRecorder struct {
	results []*Result
}

func (c *captureRecorder) Record(_ context.Context, res *Result) error {
	c.results = append(c.results, res)
	return nil
}

func testStory() story.Story {
	return story.New(story.Frontmatter{
		ID:       "EQHO-001",
		Title:    "Checkout",
		Status:   story.StatusDraft,
		Priority: story.PriorityMedium,
		Created:  "2026-03-01",
	}, "\n# EQHO-001: Checkout\n\n## Summary\n\nPay for the cart.\n", "EQHO-001-checkout.md")
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Env = func(string) string { return "" }
	cfg.Paths.Context = t.TempDir()
	cfg.Orchestration.PlanningAgents = []agent.Role{agent.Analyst, agent.Architect}
	cfg.Orchestration.DevelopmentAgents = []agent.Role{agent.Developer, agent.QA}
	return cfg
}

func newTestOrchestrator(cfg *config.Config, store StoryStore, agents AgentSource, backend provider.Backend, opts ...Option) *Orchestrator {
	base := []Option{
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(func() string { return "run-1" }),
	}
	return New(cfg, store, agents, backend, zap.NewNop(), append(base, opts...)...)
}

func stepAgents(steps []Step) []agent.Role {
	out := make([]agent.Role, len(steps))
	for i, s := range steps {
		out[i] = s.Agent
	}
	return out
}
