package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStoreSaveGetList(t *testing.T) {
	st, err := NewRunStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, st.Save(ctx, RunRecord{
			ID:        id,
			Trigger:   "configure_market",
			Status:    RunQueued,
			Config:    json.RawMessage(`{"samples":10}`),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	rec, err := st.Get(ctx, "r2")
	require.NoError(t, err)
	rec.Status = RunSucceeded
	rec.ReleaseID = "rel-1"
	rec.Stages = []StageTiming{{Name: "generate", DurationMS: 12}}
	rec.FinishedAt = time.Now()
	require.NoError(t, st.Save(ctx, rec))

	got, err := st.Get(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, RunSucceeded, got.Status)
	assert.Equal(t, "rel-1", got.ReleaseID)
	require.Len(t, got.Stages, 1)
	assert.Equal(t, "generate", got.Stages[0].Name)
	assert.JSONEq(t, `{"samples":10}`, string(got.Config))

	list, err := st.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "r3", list[0].ID)
	assert.Equal(t, "r1", list[2].ID)

	_, err = st.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunStoreMarkInterrupted(t *testing.T) {
	st, err := NewRunStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, RunRecord{ID: "a", Status: RunRunning}))
	require.NoError(t, st.Save(ctx, RunRecord{ID: "b", Status: RunSucceeded}))

	n, err := st.MarkInterrupted(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	a, err := st.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, RunFailed, a.Status)
	assert.NotEmpty(t, a.Error)
}

func TestAuditLogAppendRecent(t *testing.T) {
	log, err := NewAuditLog(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer log.Close()
	ctx := context.Background()

	require.NoError(t, log.Append(ctx, AuditEntry{Regime: "one_shot", Code: "OK", Price: 42.5, VaR5: -10, CVaR5: -12}))
	require.NoError(t, log.Append(ctx, AuditEntry{Regime: "subscription", Code: "ENCODING_ERROR"}))
	require.NoError(t, log.Append(ctx, AuditEntry{Regime: "one_shot", Code: "OK", Price: 50}))

	recent, err := log.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 50.0, recent[0].Price)
	assert.Equal(t, "ENCODING_ERROR", recent[1].Code)

	counts, err := log.CountByCode(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, counts["OK"])
	assert.EqualValues(t, 1, counts["ENCODING_ERROR"])

	require.NoError(t, log.Close())
	assert.Error(t, log.Append(ctx, AuditEntry{Regime: "one_shot", Code: "OK"}))
}
