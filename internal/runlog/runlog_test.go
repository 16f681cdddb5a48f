package runlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesLedgerFile(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)
	defer l.Close()

	_, statErr := os.Stat(filepath.Join(dir, ledgerFileName))
	assert.NoError(t, statErr)
}

func TestRecordAssignsIDWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)
	defer l.Close()

	e, err := l.Record(Entry{Model: "forest_fire", Outcome: OutcomeFinished})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
}

func TestRecordAndGetRoundTrips(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)
	defer l.Close()

	e, err := l.Record(Entry{
		Model:     "forest_fire",
		RunDir:    "/out/forest_fire/260730-120000",
		Outcome:   OutcomeFinished,
		NumTasks:  4,
		NumOK:     4,
		StartedAt: time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC),
		EndedAt:   time.Date(2026, 7, 30, 12, 5, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	got, err := l.Get(e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.Model, got.Model)
	assert.Equal(t, e.NumOK, got.NumOK)
}

func TestGetUnknownIDIsError(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Get("does-not-exist")
	assert.Error(t, err)
}

func TestListReturnsMostRecentFirst(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)
	defer l.Close()

	older := Entry{Model: "a", StartedAt: time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)}
	newer := Entry{Model: "b", StartedAt: time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)}

	_, err = l.Record(older)
	require.NoError(t, err)
	_, err = l.Record(newer)
	require.NoError(t, err)

	entries, err := l.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Model)
	assert.Equal(t, "a", entries[1].Model)
}

func TestReopenPersistsEntries(t *testing.T) {
	dir := t.TempDir()

	l1, err := Open(dir)
	require.NoError(t, err)
	_, err = l1.Record(Entry{Model: "forest_fire"})
	require.NoError(t, err)
	require.NoError(t, l1.Close())

	l2, err := Open(dir)
	require.NoError(t, err)
	defer l2.Close()

	entries, err := l2.List()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
