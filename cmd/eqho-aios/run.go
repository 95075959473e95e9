package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/eqho10/eqho-aios/internal/agent"
	"github.com/eqho10/eqho-aios/internal/config"
	"github.com/eqho10/eqho-aios/internal/console"
	"github.com/eqho10/eqho-aios/internal/history"
	"github.com/eqho10/eqho-aios/internal/memory"
	"github.com/eqho10/eqho-aios/internal/notify"
	"github.com/eqho10/eqho-aios/internal/pipeline"
)

const runUsage = "run <story-id> [--phase planning|development|full] [--auto] [--agent <name>] [--task <text>]"

func (a *app) cmdRun(ctx context.Context, args []string) error {
	fs := a.flags("run")
	phase := fs.String("phase", string(pipeline.PhaseFull), "planning, development or full")
	auto := fs.Bool("auto", false, "skip approval questions")
	agentName := fs.String("agent", "", "run only this agent")
	task := fs.String("task", "", "extra instructions for every agent")
	pos, err := parseFlags(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return a.usageError(runUsage)
	}

	p, err := pipeline.ParsePhase(*phase)
	if err != nil {
		return err
	}
	var single agent.Role
	if *agentName != "" {
		if single, err = agent.ParseRole(*agentName); err != nil {
			return err
		}
	}

	cfg, logger, err := a.setup(true)
	if err != nil {
		return err
	}
	defer logger.Sync()

	backend, err := a.newBackend(cfg, logger)
	if err != nil {
		return err
	}

	dispatcher := notify.FromConfig(ctx, cfg, logger)
	defer dispatcher.Close()

	opts := []pipeline.Option{
		pipeline.WithReporter(console.NewReporter(a.stdout)),
		pipeline.WithNotifier(dispatcher),
		pipeline.WithSideText(sideText(cfg, logger)),
	}

	approve := *auto || cfg.Orchestration.AutoApprove
	if !approve {
		opts = append(opts, pipeline.WithConfirmer(console.NewConfirmer(a.stdin, a.stdout)))
	}

	store, err := history.Open(ctx, cfg, logger)
	if err != nil {
		logger.Warn("run history unavailable", zap.Error(err))
	} else {
		defer store.Close()
		opts = append(opts, pipeline.WithRecorder(store))
	}

	o := pipeline.New(cfg, storyStore(cfg, logger), agentRegistry(cfg, logger), backend, logger, opts...)
	res, err := o.Run(ctx, pos[0], pipeline.Options{
		Phase:       p,
		AutoApprove: approve,
		SingleAgent: single,
		Task:        *task,
	})
	if err != nil {
		return err
	}
	if res.Error != "" {
		return fmt.Errorf("run %s failed: %s", res.StoryID, res.Error)
	}
	return nil
}

// sideText reads the context directory and, when configured, the
// eqhomemory server.
func sideText(cfg *config.Config, logger *zap.Logger) pipeline.ContextFiles {
	side := pipeline.ContextFiles{Dir: cfg.Path(cfg.Paths.Context), Logger: logger}

	mc := cfg.Integrations.EqhoMemory
	if !mc.Enabled {
		return side
	}
	client, err := memory.NewClient(mc.ServerURL, cfg.Integrations.Timeout, logger)
	if err != nil {
		logger.Warn("eqhomemory disabled", zap.Error(err))
		return side
	}
	side.Memory = client
	side.MemoryLimit = mc.Limit
	return side
}
