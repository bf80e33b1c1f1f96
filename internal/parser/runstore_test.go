package parser

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunStore(t *testing.T) *RunStore {
	t.Helper()
	store, err := NewRunStore(filepath.Join(t.TempDir(), "runs.duckdb"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunStore_SaveAndQuery(t *testing.T) {
	ctx := context.Background()
	store := newTestRunStore(t)
	log := readFixture(t, "client_v7_10.txt")

	require.NoError(t, store.Save(ctx, "log-a", log))

	counts, err := store.ParserErrorCounts(ctx, "log-a")
	require.NoError(t, err)
	assert.Equal(t, map[int]int{0: 1}, counts)

	units, err := store.UnitRunSummaries(ctx, "log-a")
	require.NoError(t, err)
	require.Len(t, units, 3)

	assert.Equal(t, 0, units[0].SlotIndex)
	assert.Equal(t, 7610, units[0].ProjectID)
	assert.Equal(t, "NONE", units[0].Result)
	assert.Equal(t, 10, units[0].FramesObserved)
	assert.Equal(t, 391*time.Second, units[0].AverageFrameTime)

	assert.Equal(t, 1, units[1].SlotIndex)
	assert.Equal(t, 0, units[1].Seq)
	assert.Equal(t, "FINISHED_UNIT", units[1].Result)

	assert.Equal(t, 1, units[2].Seq)
	assert.Equal(t, 5772, units[2].ProjectID)
}

func TestRunStore_SaveReplaces(t *testing.T) {
	ctx := context.Background()
	store := newTestRunStore(t)

	require.NoError(t, store.Save(ctx, "log-a", readFixture(t, "client_v7_10.txt")))
	require.NoError(t, store.Save(ctx, "log-a", readFixture(t, "client_v7_fr-FR.txt")))
	require.NoError(t, store.Save(ctx, "log-b", readFixture(t, "client_v7_10.txt")))

	units, err := store.UnitRunSummaries(ctx, "log-a")
	require.NoError(t, err)
	assert.Len(t, units, 2)

	counts, err := store.ParserErrorCounts(ctx, "log-a")
	require.NoError(t, err)
	assert.Empty(t, counts)

	units, err = store.UnitRunSummaries(ctx, "log-b")
	require.NoError(t, err)
	assert.Len(t, units, 3)
}

func TestRunStore_FailedSaveKeepsPreviousRuns(t *testing.T) {
	errAppend := errors.New("append failed")

	tests := []struct {
		name    string
		hook    func(cancel context.CancelFunc) func(string) error
		wantErr error
	}{
		{
			name: "append error",
			hook: func(context.CancelFunc) func(string) error {
				return func(table string) error {
					if table == "frames" {
						return errAppend
					}
					return nil
				}
			},
			wantErr: errAppend,
		},
		{
			name: "cancelled mid save",
			hook: func(cancel context.CancelFunc) func(string) error {
				return func(table string) error {
					if table == "unit_runs" {
						cancel()
					}
					return nil
				}
			},
			wantErr: context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestRunStore(t)
			require.NoError(t, store.Save(context.Background(), "log-a", readFixture(t, "client_v7_10.txt")))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			store.beforeAppend = tt.hook(cancel)
			err := store.Save(ctx, "log-a", readFixture(t, "client_v7_fr-FR.txt"))
			require.ErrorIs(t, err, tt.wantErr)
			store.beforeAppend = nil

			ctx = context.Background()
			units, err := store.UnitRunSummaries(ctx, "log-a")
			require.NoError(t, err)
			assert.Len(t, units, 3)
			counts, err := store.ParserErrorCounts(ctx, "log-a")
			require.NoError(t, err)
			assert.Equal(t, map[int]int{0: 1}, counts)

			require.NoError(t, store.Save(ctx, "log-a", readFixture(t, "client_v7_fr-FR.txt")))
			units, err = store.UnitRunSummaries(ctx, "log-a")
			require.NoError(t, err)
			assert.Len(t, units, 2)
		})
	}
}

func TestRunStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := newTestRunStore(t)

	require.NoError(t, store.Save(ctx, "log-a", readFixture(t, "client_v7_13.txt")))
	require.NoError(t, store.Delete(ctx, "log-a"))

	units, err := store.UnitRunSummaries(ctx, "log-a")
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestRunStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.duckdb")

	store, err := NewRunStore(path)
	require.NoError(t, err)
	assert.Equal(t, path, store.Path())
	require.NoError(t, store.Save(ctx, "log-a", readFixture(t, "client_v7_18.txt")))
	require.NoError(t, store.Close())

	store, err = NewRunStore(path)
	require.NoError(t, err)
	defer store.Close()

	units, err := store.UnitRunSummaries(ctx, "log-a")
	require.NoError(t, err)
	assert.Len(t, units, 4)
}
