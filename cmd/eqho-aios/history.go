package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/eqho10/eqho-aios/internal/console"
	"github.com/eqho10/eqho-aios/internal/history"
)

func (a *app) cmdHistory(ctx context.Context, args []string) error {
	fs := a.flags("history")
	limit := fs.Int("limit", history.DefaultLimit, "maximum runs to list")
	pos, err := parseFlags(fs, args)
	if err != nil {
		return err
	}
	if len(pos) > 1 {
		return a.usageError("history [story-id] [--limit n]")
	}
	storyID := ""
	if len(pos) == 1 {
		storyID = pos[0]
	}

	cfg, logger, err := a.setup(false)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := history.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(ctx, storyID, *limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.stdout, "No runs recorded.")
		return nil
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		phase := r.Phase
		if r.Agent != "" {
			phase = "@" + r.Agent
		}
		rows = append(rows, []string{
			shortID(r.ID),
			r.StoryID,
			phase,
			strconv.Itoa(len(r.Steps)),
			strconv.Itoa(r.TotalTokens),
			r.Duration.Round(100 * time.Millisecond).String(),
			outcome(r),
			r.StartedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	fmt.Fprintln(a.stdout, console.Table([]string{"Run", "Story", "Phase", "Steps", "Tokens", "Duration", "Result", "Started"}, rows))
	return nil
}

func outcome(r history.Run) string {
	switch {
	case r.Success:
		return "ok"
	case r.Error != "":
		return "error: " + truncate(r.Error, 30)
	default:
		return "stopped"
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
