// Package history records finished pipeline runs in SQLite or PostgreSQL
// so that past runs can be listed from the CLI and the HTTP API.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/eqho10/eqho-aios/internal/config"
	"github.com/eqho10/eqho-aios/internal/pipeline"
	"go.uber.org/zap"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// DefaultLimit is used by List when limit is not positive.
const DefaultLimit = 20

// Run is a stored pipeline run.
type Run struct {
	ID          string        `json:"id"`
	StoryID     string        `json:"story_id"`
	Phase       string        `json:"phase"`
	Agent       string        `json:"agent,omitempty"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	TotalTokens int           `json:"total_tokens"`
	Duration    time.Duration `json:"duration"`
	StartedAt   time.Time     `json:"started_at"`
	Steps       []Step        `json:"steps"`
}

// Step is a stored step. Prompts and outputs are not kept; they live in
// the story file.
type Step struct {
	Seq        int           `json:"seq"`
	Agent      string        `json:"agent"`
	Model      string        `json:"model,omitempty"`
	TokensUsed int           `json:"tokens_used"`
	Duration   time.Duration `json:"duration"`
	Failed     bool          `json:"failed"`
	Timestamp  time.Time     `json:"timestamp"`
}

// FromResult converts a pipeline result for storage.
func FromResult(res *pipeline.Result) Run {
	run := Run{
		ID:          res.RunID,
		StoryID:     res.StoryID,
		Phase:       string(res.Phase),
		Agent:       string(res.Agent),
		Success:     res.Success,
		Error:       res.Error,
		TotalTokens: res.TotalTokens,
		Duration:    res.Duration,
		StartedAt:   res.StartedAt,
		Steps:       make([]Step, 0, len(res.Steps)),
	}
	for i, s := range res.Steps {
		run.Steps = append(run.Steps, Step{
			Seq:        i + 1,
			Agent:      string(s.Agent),
			Model:      s.Model,
			TokensUsed: s.TokensUsed,
			Duration:   s.Duration,
			Failed:     s.Failed(),
			Timestamp:  s.Timestamp,
		})
	}
	return run
}

// Store persists runs.
type Store interface {
	Record(ctx context.Context, res *pipeline.Result) error
	// List returns the newest runs first. An empty storyID lists all.
	List(ctx context.Context, storyID string, limit int) ([]Run, error)
	Close() error
}

// Open returns the store selected by cfg.History.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.History.Driver {
	case DriverSQLite, "":
		path := cfg.Path(cfg.Paths.History, "history.db")
		if cfg.History.DSN != "" {
			path = cfg.Path(cfg.History.DSN)
		}
		s, err := NewSQLite(ctx, path, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		s, err := NewPostgres(ctx, cfg.History.DSN, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown history.driver %q", config.ErrInvalid, cfg.History.Driver)
	}
}

// Nop discards runs.
type Nop struct{}

func (Nop) Record(context.Context, *pipeline.Result) error { return nil }

func (Nop) List(context.Context, string, int) ([]Run, error) { return []Run{}, nil }

func (Nop) Close() error { return nil }
