package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/eqho10/eqho-aios/internal/agent"
	"github.com/eqho10/eqho-aios/internal/pipeline"
	"github.com/eqho10/eqho-aios/internal/provider"
	"github.com/eqho10/eqho-aios/internal/story"
)

// Reporter prints pipeline progress. It is safe for concurrent use.
type Reporter struct {
	mu    sync.Mutex
	w     io.Writer
	step  int
	total int
}

var _ pipeline.Reporter = (*Reporter)(nil)

// NewReporter writes progress to w.
func NewReporter(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

func (r *Reporter) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, format, args...)
}

func (r *Reporter) RunStarted(st story.Story, opts pipeline.Options) {
	r.printf("%s\n", Title("EqhoAIOS Pipeline: "+st.ID))
	r.printf("%s %s\n", Dim("Story:"), st.Title)
	if opts.SingleAgent != "" {
		r.printf("%s @%s\n", Dim("Agent:"), opts.SingleAgent)
	} else {
		r.printf("%s %s\n", Dim("Phase:"), opts.Phase)
	}
	r.printf("%s\n", Dim(strings.Repeat("─", 40)))
}

func (r *Reporter) PhaseStarted(phase pipeline.Phase, roles []agent.Role) {
	r.mu.Lock()
	r.step, r.total = 0, len(roles)
	r.mu.Unlock()

	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = "@" + string(role)
	}
	r.printf("\n%s %s\n", phaseStyle.Render("Phase: "+string(phase)), Dim(strings.Join(names, " → ")))
}

func (r *Reporter) AgentStarted(role agent.Role, model string) {
	r.mu.Lock()
	r.step++
	prefix := ""
	if r.total > 0 {
		prefix = fmt.Sprintf("[%d/%d] ", r.step, r.total)
	}
	r.mu.Unlock()

	r.printf("%s%s %s\n", Dim(prefix), agentStyle.Render("@"+string(role)), Dim("thinking ("+model+")..."))
}

func (r *Reporter) AgentFinished(step pipeline.Step) {
	if step.Failed() {
		r.printf("  %s\n", Fail("@"+string(step.Agent)+" failed: "+strings.TrimPrefix(step.Output, pipeline.ErrorMarker)))
		return
	}
	cost := provider.FormatCost(provider.Cost(step.Model, step.InputTokens, step.OutputTokens))
	r.printf("  %s %s\n",
		OK("@"+string(step.Agent)+" done"),
		Dim(fmt.Sprintf("%d in / %d out tokens, %.1fs, ~%s", step.InputTokens, step.OutputTokens, step.Duration.Seconds(), cost)))
}

func (r *Reporter) Warn(msg string) {
	r.printf("  %s\n", warnStyle.Render("! "+msg))
}

func (r *Reporter) RunFinished(res *pipeline.Result) {
	r.printf("\n%s\n", Dim(strings.Repeat("─", 40)))
	switch {
	case res.Success:
		r.printf("%s\n", OK("Pipeline completed"))
	case res.Error == "":
		r.printf("%s\n", warnStyle.Render("Pipeline stopped"))
	default:
		r.printf("%s\n", Fail("Pipeline failed: "+res.Error))
	}
	r.printf("%s %.1fs\n", Dim("Duration:"), res.Duration.Seconds())
	r.printf("%s %d\n", Dim("Tokens:  "), res.TotalTokens)
	r.printf("%s %d\n", Dim("Steps:   "), len(res.Steps))
}
