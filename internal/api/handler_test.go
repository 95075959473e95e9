package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/eqho10/eqho-aios/internal/agent"
	"github.com/eqho10/eqho-aios/internal/history"
	"github.com/eqho10/eqho-aios/internal/story"
)

type fakeStories struct {
	stories []story.Story
	err     error
}

func (f *fakeStories) Load(_ context.Context, id string) (story.Story, error) {
	for _, st := range f.stories {
		if st.ID == id {
			return st, nil
		}
	}
	return story.Story{}, fmt.Errorf("%w: %s", story.ErrNotFound, id)
}

func (f *fakeStories) List(_ context.Context, status story.Status) ([]story.Story, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []story.Story
	for _, st := range f.stories {
		if status == "" || st.Status == status {
			out = append(out, st)
		}
	}
	return out, nil
}

type fakeRuns struct {
	runs    []history.Run
	story   string
	limit   int
	listErr error
}

func (f *fakeRuns) List(_ context.Context, storyID string, limit int) ([]history.Run, error) {
	f.story, f.limit = storyID, limit
	return f.runs, f.listErr
}

// newTestServer creates a server wired with in-memory stories and runs.
func newTestServer(t *testing.T, runs Runs) *httptest.Server {
	t.Helper()
	dev := agent.Developer
	stories := &fakeStories{stories: []story.Story{
		story.New(story.Frontmatter{
			ID: "EQHO-001", Title: "Checkout", Status: story.StatusDone, Priority: story.PriorityHigh,
			AgentsCompleted: []agent.Role{agent.Analyst, agent.Architect}, ActualTokens: 900,
		}, "## Description\n\nPay by card.\n\n## Acceptance Criteria\n\n- works\n", "docs/stories/EQHO-001-checkout.md"),
		story.New(story.Frontmatter{
			ID: "EQHO-002", Title: "Search", Status: story.StatusInProgress, Priority: story.PriorityMedium,
			CurrentAgent: &dev,
		}, "## Description\n\nFind things.\n", "docs/stories/EQHO-002-search.md"),
	}}
	h := NewHandler(stories, runs, "test", zap.NewNop())
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestListStories(t *testing.T) {
	ts := newTestServer(t, nil)

	var all []storySummary
	decodeJSON(t, getJSON(t, ts, "/api/stories"), &all)
	if len(all) != 2 {
		t.Fatalf("got %d stories, want 2", len(all))
	}
	if all[0].AgentsCompleted != 2 || all[0].ActualTokens != 900 {
		t.Errorf("summary = %+v", all[0])
	}
	if all[1].CurrentAgent != "developer" {
		t.Errorf("current_agent = %q, want developer", all[1].CurrentAgent)
	}

	var done []storySummary
	decodeJSON(t, getJSON(t, ts, "/api/stories?status=done"), &done)
	if len(done) != 1 || done[0].ID != "EQHO-001" {
		t.Errorf("filtered = %+v", done)
	}
}

func TestListStoriesBadStatus(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := getJSON(t, ts, "/api/stories?status=shipped")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListStoriesError(t *testing.T) {
	h := NewHandler(&fakeStories{err: errors.New("disk gone")}, nil, "test", zap.NewNop())
	ts := httptest.NewServer(h.Router())
	defer ts.Close()

	resp := getJSON(t, ts, "/api/stories")
	var body map[string]string
	decodeJSON(t, resp, &body)
	if resp.StatusCode != http.StatusInternalServerError || body["error"] != "disk gone" {
		t.Errorf("status = %d, body = %v", resp.StatusCode, body)
	}
}

func TestGetStory(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := getJSON(t, ts, "/api/stories/EQHO-001")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var d struct {
		ID       string   `json:"id"`
		Title    string   `json:"title"`
		Sections []string `json:"sections"`
		Body     string   `json:"body"`
	}
	decodeJSON(t, resp, &d)
	if d.ID != "EQHO-001" || d.Title != "Checkout" {
		t.Errorf("detail = %+v", d)
	}
	if len(d.Sections) != 2 || d.Sections[0] != "Description" || d.Sections[1] != "Acceptance Criteria" {
		t.Errorf("sections = %v", d.Sections)
	}
	if d.Body == "" {
		t.Error("body is empty")
	}
}

func TestGetStoryNotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := getJSON(t, ts, "/api/stories/EQHO-404")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListRuns(t *testing.T) {
	runs := &fakeRuns{runs: []history.Run{{
		ID: "run-1", StoryID: "EQHO-001", Phase: "full", Success: true, TotalTokens: 400,
		Duration: 2 * time.Second, Steps: []history.Step{{Seq: 1, Agent: "analyst", TokensUsed: 400}},
	}}}
	ts := newTestServer(t, runs)

	resp := getJSON(t, ts, "/api/runs?story=EQHO-001&limit=5")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got []history.Run
	decodeJSON(t, resp, &got)
	if len(got) != 1 || got[0].ID != "run-1" || len(got[0].Steps) != 1 {
		t.Errorf("runs = %+v", got)
	}
	if runs.story != "EQHO-001" || runs.limit != 5 {
		t.Errorf("query passed story=%q limit=%d", runs.story, runs.limit)
	}
}

func TestListRunsBadLimit(t *testing.T) {
	ts := newTestServer(t, &fakeRuns{})
	resp := getJSON(t, ts, "/api/runs?limit=-1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListRunsDisabled(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := getJSON(t, ts, "/api/runs")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestPostNotAllowed(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := http.Post(ts.URL+"/api/stories", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}
