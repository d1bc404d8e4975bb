package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/weftlabs/weft/pkg/api"
)

// placeholderStyle renders the i-th (1-based) SQL placeholder for a dialect.
type placeholderStyle func(i int) string

func questionPlaceholders(int) string { return "?" }
func dollarPlaceholders(i int) string { return fmt.Sprintf("$%d", i) }

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

const nodeSep = "\x1f"

func joinNodes(nodes []string) string {
	return strings.Join(nodes, nodeSep)
}

func splitNodes(encoded string) []string {
	if encoded == "" {
		return nil
	}
	return strings.Split(encoded, nodeSep)
}

// runFilterClause builds a WHERE clause for ListRuns. Placeholder numbering
// starts at 1.
func runFilterClause(filter api.RunFilter, ph placeholderStyle) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.Graph != "" {
		args = append(args, filter.Graph)
		conds = append(conds, fmt.Sprintf("graph_name = %s", ph(len(args))))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = %s", ph(len(args))))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*api.Run, error) {
	var (
		run     api.Run
		status  string
		final   []byte
		errText string
	)
	if err := row.Scan(&run.ID, &run.Graph, &status, &run.Supersteps, &final, &errText); err != nil {
		return nil, err
	}
	run.Status = api.RunStatus(status)
	state, err := DecodeState(final)
	if err != nil {
		return nil, err
	}
	run.Final = state
	if errText != "" {
		run.Err = errors.New(errText)
	}
	return &run, nil
}

func collectRuns(rows *sql.Rows) ([]*api.Run, error) {
	var out []*api.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func collectSteps(rows *sql.Rows) ([]StepRecord, error) {
	var out []StepRecord
	for rows.Next() {
		var (
			rec     StepRecord
			nodes   string
			encoded []byte
		)
		if err := rows.Scan(&rec.RunID, &rec.Superstep, &nodes, &encoded); err != nil {
			return nil, err
		}
		rec.Nodes = splitNodes(nodes)
		state, err := DecodeState(encoded)
		if err != nil {
			return nil, err
		}
		rec.State = state
		out = append(out, rec)
	}
	return out, rows.Err()
}
