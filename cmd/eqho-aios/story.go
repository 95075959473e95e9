package main

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/eqho10/eqho-aios/internal/console"
	"github.com/eqho10/eqho-aios/internal/story"
)

func (a *app) cmdStatus(ctx context.Context, args []string) error {
	if len(args) > 0 {
		return a.usageError("status")
	}
	cfg, logger, err := a.setup(false)
	if err != nil {
		return err
	}
	defer logger.Sync()

	stories, err := storyStore(cfg, logger).List(ctx, "")
	if err != nil {
		return err
	}

	fmt.Fprintln(a.stdout, console.Title("EqhoAIOS Status: "+cfg.Project.Name))
	if len(stories) == 0 {
		fmt.Fprintln(a.stdout, "No stories yet.")
		fmt.Fprintln(a.stdout, console.Dim(`Create one: eqho-aios story create "Title"`))
		return nil
	}

	counts := make(map[story.Status]int)
	var estimated, actual int
	for _, st := range stories {
		counts[st.Status]++
		estimated += st.EstimatedTokens
		actual += st.ActualTokens
	}
	var summary [][]string
	for _, s := range story.Statuses() {
		if counts[s] > 0 {
			summary = append(summary, []string{string(s), strconv.Itoa(counts[s])})
		}
	}
	summary = append(summary, []string{"total", strconv.Itoa(len(stories))})
	fmt.Fprintln(a.stdout, console.Table([]string{"Status", "Stories"}, summary))

	rows := make([][]string, 0, len(stories))
	for _, st := range stories {
		current := "-"
		if st.CurrentAgent != nil {
			current = "@" + string(*st.CurrentAgent)
		}
		rows = append(rows, []string{st.ID, string(st.Status), orDash(st.Phase), current, truncate(st.Title, 40)})
	}
	fmt.Fprintln(a.stdout, console.Table([]string{"ID", "Status", "Phase", "Agent", "Title"}, rows))

	fmt.Fprintf(a.stdout, "Tokens: estimated %d, actual %d", estimated, actual)
	if estimated > 0 {
		fmt.Fprintf(a.stdout, " (%.1f%%)", float64(actual)/float64(estimated)*100)
	}
	fmt.Fprintln(a.stdout)
	return nil
}

func (a *app) cmdStory(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return a.usageError("story <list|create> [options]")
	}
	switch args[0] {
	case "list":
		return a.cmdStoryList(ctx, args[1:])
	case "create":
		return a.cmdStoryCreate(ctx, args[1:])
	default:
		fmt.Fprintf(a.stderr, "unknown story subcommand: %s\n", args[0])
		return a.usageError("story <list|create> [options]")
	}
}

func (a *app) cmdStoryList(ctx context.Context, args []string) error {
	fs := a.flags("story list")
	status := fs.String("status", "", "only stories with this status")
	pos, err := parseFlags(fs, args)
	if err != nil {
		return err
	}
	if len(pos) > 0 {
		return a.usageError("story list [--status <status>]")
	}
	if *status != "" && !slices.Contains(story.Statuses(), story.Status(*status)) {
		return fmt.Errorf("unknown status %q", *status)
	}

	cfg, logger, err := a.setup(false)
	if err != nil {
		return err
	}
	defer logger.Sync()

	stories, err := storyStore(cfg, logger).List(ctx, story.Status(*status))
	if err != nil {
		return err
	}
	if len(stories) == 0 {
		fmt.Fprintln(a.stdout, "No stories found.")
		return nil
	}

	rows := make([][]string, 0, len(stories))
	for _, st := range stories {
		done := make([]string, 0, len(st.AgentsCompleted))
		for _, r := range st.AgentsCompleted {
			done = append(done, "@"+string(r))
		}
		rows = append(rows, []string{st.ID, truncate(st.Title, 40), string(st.Status), string(st.Priority), orDash(strings.Join(done, " "))})
	}
	fmt.Fprintln(a.stdout, console.Table([]string{"ID", "Title", "Status", "Priority", "Completed"}, rows))
	fmt.Fprintln(a.stdout, console.Dim(fmt.Sprintf("%d stories", len(stories))))
	return nil
}

func (a *app) cmdStoryCreate(ctx context.Context, args []string) error {
	const usage = `story create <title> [--priority critical|high|medium|low] [--tags a,b]`
	fs := a.flags("story create")
	priority := fs.String("priority", string(story.PriorityMedium), "critical, high, medium or low")
	tags := fs.String("tags", "", "comma separated tags")
	pos, err := parseFlags(fs, args)
	if err != nil {
		return err
	}
	if len(pos) == 0 {
		return a.usageError(usage)
	}
	p, err := story.ParsePriority(*priority)
	if err != nil {
		return err
	}

	cfg, logger, err := a.setup(false)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var tagList []string
	for _, t := range strings.Split(*tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tagList = append(tagList, t)
		}
	}

	st, err := storyStore(cfg, logger).Create(ctx, story.Draft{
		Title:    strings.Join(pos, " "),
		Priority: p,
		Tags:     tagList,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, console.OK(fmt.Sprintf("%s created: %s", st.ID, st.Path)))
	fmt.Fprintln(a.stdout, console.Dim("Run the pipeline: eqho-aios run "+st.ID))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
