package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittonn/pkg/metadata/checkpoint"
	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
)

type countingMetrics struct {
	records int
	entries int
}

func (m *countingMetrics) ObserveRecord(time.Duration, error) { m.records++ }
func (m *countingMetrics) SetEntries(n int)                   { m.entries = n }

func newJournal(t *testing.T, opts Options) *Journal {
	t.Helper()
	j, err := OpenInMemory(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func attempt(i int, base time.Time) checkpoint.Attempt {
	return checkpoint.Attempt{
		ID:         fmt.Sprintf("attempt-%d", i),
		Started:    base.Add(time.Duration(i) * time.Second),
		Finished:   base.Add(time.Duration(i)*time.Second + 100*time.Millisecond),
		State:      checkpoint.StateAdopted.String(),
		MergedTxID: uint64(i * 10),
	}
}

func TestRecordAndList(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t, Options{})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		require.NoError(t, j.Record(ctx, attempt(i, base)))
	}

	all, err := j.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "attempt-3", all[0].ID)
	assert.Equal(t, "attempt-1", all[2].ID)
	assert.Equal(t, uint64(30), all[0].MergedTxID)

	two, err := j.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)

	last, err := j.Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, "attempt-3", last.ID)
	assert.Equal(t, 3, j.Len())
}

func TestRecordIsIdempotentPerAttempt(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t, Options{})
	a := attempt(1, time.Now())

	require.NoError(t, j.Record(ctx, a))
	a.State = checkpoint.StateError.String()
	a.Error = "primary went away"
	require.NoError(t, j.Record(ctx, a))

	all, err := j.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "primary went away", all[0].Error)
	assert.Equal(t, 1, j.Len())
}

func TestRetain(t *testing.T) {
	ctx := context.Background()
	m := &countingMetrics{}
	j := newJournal(t, Options{Retain: 2, Metrics: m})
	base := time.Now()

	for i := 1; i <= 5; i++ {
		require.NoError(t, j.Record(ctx, attempt(i, base)))
	}

	all, err := j.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "attempt-5", all[0].ID)
	assert.Equal(t, "attempt-4", all[1].ID)

	assert.Equal(t, 5, m.records)
	assert.Equal(t, 2, m.entries)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t, Options{})
	base := time.Now()
	for i := 1; i <= 4; i++ {
		require.NoError(t, j.Record(ctx, attempt(i, base)))
	}

	removed, err := j.Prune(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Equal(t, 1, j.Len())

	removed, err = j.Prune(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestLastOnEmptyJournal(t *testing.T) {
	j := newJournal(t, Options{})
	_, err := j.Last(context.Background())
	assert.True(t, merrs.IsNotFoundError(err))
}

func TestReopenKeepsAttempts(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	j, err := Open(dir, Options{})
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, attempt(1, time.Now())))
	require.NoError(t, j.Close())

	j, err = Open(dir, Options{})
	require.NoError(t, err)
	defer j.Close()

	assert.Equal(t, 1, j.Len())
	require.NoError(t, j.Healthcheck(ctx))
}

func TestCancelledContext(t *testing.T) {
	j := newJournal(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, j.Record(ctx, attempt(1, time.Now())), context.Canceled)
	_, err := j.List(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
