package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/api"
)

// runStoreConformance exercises the RunStore contract against any backend.
// IDs and graph names are randomized so backends shared across tests (the
// container-backed ones) don't interfere.
func runStoreConformance(t *testing.T, store RunStore) {
	ctx := context.Background()

	t.Run("get missing run", func(t *testing.T) {
		_, err := store.GetRun(ctx, "no-such-run-"+uuid.NewString())
		require.ErrorIs(t, err, ErrRunNotFound)
	})

	t.Run("update missing run", func(t *testing.T) {
		err := store.UpdateRun(ctx, &api.Run{ID: "no-such-run-" + uuid.NewString(), Status: api.RunCompleted})
		require.ErrorIs(t, err, ErrRunNotFound)
	})

	t.Run("save get update roundtrip", func(t *testing.T) {
		run := &api.Run{
			ID:     uuid.NewString(),
			Graph:  "roundtrip-" + uuid.NewString(),
			Status: api.RunRunning,
		}
		require.NoError(t, store.SaveRun(ctx, run))

		got, err := store.GetRun(ctx, run.ID)
		require.NoError(t, err)
		require.Equal(t, run.Graph, got.Graph)
		require.Equal(t, api.RunRunning, got.Status)
		require.Nil(t, got.Final)

		run.Status = api.RunCompleted
		run.Supersteps = 3
		run.Final = api.State{
			"artifact": "generated text",
			"attempts": 2,
			"docs":     []api.Document{{Content: "ref", Metadata: map[string]string{"source": "unit"}}},
			"files":    map[string]string{"info.json": "{}"},
		}
		require.NoError(t, store.UpdateRun(ctx, run))

		got, err = store.GetRun(ctx, run.ID)
		require.NoError(t, err)
		require.Equal(t, api.RunCompleted, got.Status)
		require.Equal(t, 3, got.Supersteps)
		require.Equal(t, "generated text", got.Final["artifact"])
		require.Equal(t, 2, got.Final["attempts"])
		require.Equal(t, []api.Document{{Content: "ref", Metadata: map[string]string{"source": "unit"}}}, got.Final["docs"])
		require.Equal(t, map[string]string{"info.json": "{}"}, got.Final["files"])
	})

	t.Run("failed run keeps error", func(t *testing.T) {
		run := &api.Run{ID: uuid.NewString(), Graph: "failing-" + uuid.NewString(), Status: api.RunRunning}
		require.NoError(t, store.SaveRun(ctx, run))

		run.Status = api.RunFailed
		run.Err = errors.New("node \"bad\": task failed: boom")
		require.NoError(t, store.UpdateRun(ctx, run))

		got, err := store.GetRun(ctx, run.ID)
		require.NoError(t, err)
		require.Equal(t, api.RunFailed, got.Status)
		require.Nil(t, got.Final)
		require.Error(t, got.Err)
		require.Contains(t, got.Err.Error(), "boom")
	})

	t.Run("steps are ordered", func(t *testing.T) {
		runID := uuid.NewString()
		require.NoError(t, store.SaveRun(ctx, &api.Run{ID: runID, Graph: "steps-" + uuid.NewString(), Status: api.RunRunning}))

		require.NoError(t, store.AppendStep(ctx, runID, 0, []string{"a", "b", "c"}, api.State{"log": []string{"a", "b", "c"}}))
		require.NoError(t, store.AppendStep(ctx, runID, 1, []string{"join"}, api.State{"log": []string{"a", "b", "c", "join"}}))

		steps, err := store.ListSteps(ctx, runID)
		require.NoError(t, err)
		require.Len(t, steps, 2)
		require.Equal(t, 0, steps[0].Superstep)
		require.Equal(t, []string{"a", "b", "c"}, steps[0].Nodes)
		require.Equal(t, []string{"a", "b", "c"}, steps[0].State["log"])
		require.Equal(t, 1, steps[1].Superstep)
		require.Equal(t, []string{"join"}, steps[1].Nodes)
	})

	t.Run("list runs filters", func(t *testing.T) {
		graph := "filter-" + uuid.NewString()
		completed := &api.Run{ID: uuid.NewString(), Graph: graph, Status: api.RunCompleted}
		failed := &api.Run{ID: uuid.NewString(), Graph: graph, Status: api.RunFailed}
		require.NoError(t, store.SaveRun(ctx, completed))
		require.NoError(t, store.SaveRun(ctx, failed))

		all, err := store.ListRuns(ctx, api.RunFilter{Graph: graph})
		require.NoError(t, err)
		require.Len(t, all, 2)
		require.Equal(t, completed.ID, all[0].ID, "oldest first")

		done, err := store.ListRuns(ctx, api.RunFilter{Graph: graph, Status: api.RunCompleted})
		require.NoError(t, err)
		require.Len(t, done, 1)
		require.Equal(t, completed.ID, done[0].ID)

		none, err := store.ListRuns(ctx, api.RunFilter{Graph: graph, Status: api.RunRunning})
		require.NoError(t, err)
		require.Empty(t, none)
	})
}
