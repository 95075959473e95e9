package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"go.uber.org/zap"

	"github.com/eqho10/eqho-aios/internal/pipeline"
)

// sqliteTime has a fixed width so stored timestamps sort as text.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLite stores runs in a local database file.
type SQLite struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLite opens (creating if needed) the database at path and applies
// the migrations.
func NewSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLite{db: db, logger: logger}
	exec := func(ctx context.Context, q string) error {
		_, err := db.ExecContext(ctx, q)
		return err
	}
	if err := migrate(ctx, DriverSQLite, exec, logger); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("history database opened", zap.String("path", path))
	return s, nil
}

// Record stores res and its steps in one transaction.
func (s *SQLite) Record(ctx context.Context, res *pipeline.Result) error {
	run := FromResult(res)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, story_id, phase, agent, success, error, total_tokens, duration_ms, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StoryID, run.Phase, run.Agent, run.Success, run.Error,
		run.TotalTokens, run.Duration.Milliseconds(), run.StartedAt.UTC().Format(sqliteTime),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, st := range run.Steps {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO steps (run_id, seq, agent, model, tokens_used, duration_ms, failed, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, st.Seq, st.Agent, st.Model, st.TokensUsed,
			st.Duration.Milliseconds(), st.Failed, st.Timestamp.UTC().Format(sqliteTime),
		)
		if err != nil {
			return fmt.Errorf("insert step %d: %w", st.Seq, err)
		}
	}
	return tx.Commit()
}

// List returns the newest runs first, optionally for one story.
func (s *SQLite) List(ctx context.Context, storyID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, story_id, phase, agent, success, error, total_tokens, duration_ms, started_at
		 FROM runs WHERE (? = '' OR story_id = ?)
		 ORDER BY started_at DESC, id DESC LIMIT ?`,
		storyID, storyID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	runs := []Run{}
	for rows.Next() {
		var (
			r       Run
			ms      int64
			started string
		)
		if err := rows.Scan(&r.ID, &r.StoryID, &r.Phase, &r.Agent, &r.Success, &r.Error, &r.TotalTokens, &ms, &started); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		r.StartedAt, _ = time.Parse(sqliteTime, started)
		runs = append(runs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	for i := range runs {
		steps, err := s.steps(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Steps = steps
	}
	return runs, nil
}

func (s *SQLite) steps(ctx context.Context, runID string) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, agent, model, tokens_used, duration_ms, failed, created_at
		 FROM steps WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	steps := []Step{}
	for rows.Next() {
		var (
			st      Step
			ms      int64
			created string
		)
		if err := rows.Scan(&st.Seq, &st.Agent, &st.Model, &st.TokensUsed, &ms, &st.Failed, &created); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		st.Duration = time.Duration(ms) * time.Millisecond
		st.Timestamp, _ = time.Parse(sqliteTime, created)
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
