package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/eqho10/eqho-aios/internal/pipeline"
)

// Postgres stores runs in a shared PostgreSQL database.
type Postgres struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres connects with a pgx pool and applies the migrations.
func NewPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	exec := func(ctx context.Context, q string) error {
		_, err := pool.Exec(ctx, q)
		return err
	}
	if err := migrate(ctx, DriverPostgres, exec, logger); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("PostgreSQL history connected")
	return &Postgres{db: pool, logger: logger}, nil
}

// Record stores res and its steps in one transaction.
func (p *Postgres) Record(ctx context.Context, res *pipeline.Result) error {
	run := FromResult(res)

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO runs (id, story_id, phase, agent, success, error, total_tokens, duration_ms, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.StoryID, run.Phase, run.Agent, run.Success, run.Error,
		run.TotalTokens, run.Duration.Milliseconds(), run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	batch := &pgx.Batch{}
	for _, st := range run.Steps {
		batch.Queue(`
			INSERT INTO steps (run_id, seq, agent, model, tokens_used, duration_ms, failed, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			run.ID, st.Seq, st.Agent, st.Model, st.TokensUsed,
			st.Duration.Milliseconds(), st.Failed, st.Timestamp,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert steps: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// List returns the newest runs first, optionally for one story.
func (p *Postgres) List(ctx context.Context, storyID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := p.db.Query(ctx, `
		SELECT id, story_id, phase, agent, success, error, total_tokens, duration_ms, started_at
		FROM runs
		WHERE ($1 = '' OR story_id = $1)
		ORDER BY started_at DESC, id DESC
		LIMIT $2`,
		storyID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	runs := []Run{}
	index := make(map[string]int)
	for rows.Next() {
		var (
			r  Run
			ms int64
		)
		if err := rows.Scan(&r.ID, &r.StoryID, &r.Phase, &r.Agent, &r.Success, &r.Error, &r.TotalTokens, &ms, &r.StartedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		r.Steps = []Step{}
		index[r.ID] = len(runs)
		runs = append(runs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		return runs, nil
	}

	ids := make([]string, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	srows, err := p.db.Query(ctx, `
		SELECT run_id, seq, agent, model, tokens_used, duration_ms, failed, created_at
		FROM steps
		WHERE run_id = ANY($1)
		ORDER BY run_id, seq`, ids)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer srows.Close()

	for srows.Next() {
		var (
			runID string
			st    Step
			ms    int64
		)
		if err := srows.Scan(&runID, &st.Seq, &st.Agent, &st.Model, &st.TokensUsed, &ms, &st.Failed, &st.Timestamp); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		st.Duration = time.Duration(ms) * time.Millisecond
		i := index[runID]
		runs[i].Steps = append(runs[i].Steps, st)
	}
	return runs, srows.Err()
}

// Close shuts down the connection pool.
func (p *Postgres) Close() error {
	p.db.Close()
	return nil
}
