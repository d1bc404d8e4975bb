package persistence

import (
	"context"
	"database/sql"
	"errors"

	"github.com/weftlabs/weft/pkg/api"
)

// SQLiteRunStore is a RunStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteRunStore struct {
	db *sql.DB
}

var _ RunStore = (*SQLiteRunStore)(nil)

// NewSQLiteRunStore initializes the required schema in the given database
// and returns a new SQLiteRunStore.
func NewSQLiteRunStore(db *sql.DB) (*SQLiteRunStore, error) {
	s := &SQLiteRunStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteRunStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			graph_name TEXT NOT NULL,
			status TEXT NOT NULL,
			supersteps INTEGER NOT NULL,
			final_state BLOB,
			error TEXT,
			seq INTEGER
		);
		CREATE TABLE IF NOT EXISTS run_steps (
			run_id TEXT NOT NULL,
			superstep INTEGER NOT NULL,
			nodes TEXT NOT NULL,
			state BLOB,
			PRIMARY KEY (run_id, superstep)
		);`,
	)
	return err
}

func (s *SQLiteRunStore) SaveRun(ctx context.Context, run *api.Run) error {
	final, err := EncodeState(run.Final)
	if err != nil {
		return err
	}
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&seq); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, graph_name, status, supersteps, final_state, error, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Graph,
		string(run.Status),
		run.Supersteps,
		final,
		errString(run.Err),
		seq,
	)
	return err
}

func (s *SQLiteRunStore) UpdateRun(ctx context.Context, run *api.Run) error {
	final, err := EncodeState(run.Final)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET graph_name = ?, status = ?, supersteps = ?, final_state = ?, error = ?
		WHERE id = ?`,
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

func (s *SQLiteRunStore) AppendStep(ctx context.Context, runID string, superstep int, nodes []string, state api.State) error {
	encoded, err := EncodeState(state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_steps (run_id, superstep, nodes, state)
		VALUES (?, ?, ?, ?)`,
		runID,
		superstep,
		joinNodes(nodes),
		encoded,
	)
	return err
}

func (s *SQLiteRunStore) GetRun(ctx context.Context, id string) (*api.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, graph_name, status, supersteps, final_state, error
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

func (s *SQLiteRunStore) ListRuns(ctx context.Context, filter api.RunFilter) ([]*api.Run, error) {
	query := `SELECT id, graph_name, status, supersteps, final_state, error FROM runs`
	where, args := runFilterClause(filter, questionPlaceholders)
	rows, err := s.db.QueryContext(ctx, query+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

func (s *SQLiteRunStore) ListSteps(ctx context.Context, runID string) ([]StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, superstep, nodes, state
		FROM run_steps WHERE run_id = ? ORDER BY superstep`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSteps(rows)
}
