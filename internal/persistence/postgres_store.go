package persistence

import (
	"context"
	"database/sql"
	"errors"

	"github.com/weftlabs/weft/pkg/api"
)

// PostgresRunStore is a RunStore backed by PostgreSQL.
//
// It expects an *sql.DB opened with a Postgres driver; the caller imports
// the driver and owns connection pooling.
type PostgresRunStore struct {
	db *sql.DB
}

var _ RunStore = (*PostgresRunStore)(nil)

// NewPostgresRunStore initializes the required schema in the given database
// and returns a new PostgresRunStore.
func NewPostgresRunStore(db *sql.DB) (*PostgresRunStore, error) {
	s := &PostgresRunStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresRunStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			graph_name TEXT NOT NULL,
			status TEXT NOT NULL,
			supersteps INTEGER NOT NULL,
			final_state BYTEA,
			error TEXT,
			seq BIGSERIAL
		);
		CREATE TABLE IF NOT EXISTS run_steps (
			run_id TEXT NOT NULL,
			superstep INTEGER NOT NULL,
			nodes TEXT NOT NULL,
			state BYTEA,
			PRIMARY KEY (run_id, superstep)
		);`,
	)
	return err
}

func (s *PostgresRunStore) SaveRun(ctx context.Context, run *api.Run) error {
	final, err := EncodeState(run.Final)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, graph_name, status, supersteps, final_state, error)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID,
		run.Graph,
		string(run.Status),
		run.Supersteps,
		final,
		errString(run.Err),
	)
	return err
}

func (s *PostgresRunStore) UpdateRun(ctx context.Context, run *api.Run) error {
	final, err := EncodeState(run.Final)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET graph_name = $1, status = $2, supersteps = $3, final_state = $4, error = $5
		WHERE id = $6`,
		run.Graph,
		string(run.Status),
		run.Supersteps,
		final,
		errString(run.Err),
		run.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (s *PostgresRunStore) AppendStep(ctx context.Context, runID string, superstep int, nodes []string, state api.State) error {
	encoded, err := EncodeState(state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_steps (run_id, superstep, nodes, state)
		VALUES ($1, $2, $3, $4)`,
		runID,
		superstep,
		joinNodes(nodes),
		encoded,
	)
	return err
}

func (s *PostgresRunStore) GetRun(ctx context.Context, id string) (*api.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, graph_name, status, supersteps, final_state, error
		FROM runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

func (s *PostgresRunStore) ListRuns(ctx context.Context, filter api.RunFilter) ([]*api.Run, error) {
	query := `SELECT id, graph_name, status, supersteps, final_state, error FROM runs`
	where, args := runFilterClause(filter, dollarPlaceholders)
	rows, err := s.db.QueryContext(ctx, query+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

func (s *PostgresRunStore) ListSteps(ctx context.Context, runID string) ([]StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, superstep, nodes, state
		FROM run_steps WHERE run_id = $1 ORDER BY superstep`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSteps(rows)
}
