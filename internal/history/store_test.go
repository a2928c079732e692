package history

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	require.NoError(t, Migrate(context.Background(), db))
	return NewStore(db)
}

func createEntry(t *testing.T, s *Store, id, filename string) *Entry {
	t.Helper()
	size := int64(1024)
	e := &Entry{
		ID:               id,
		Filename:         filename + "_abc12345.pdf",
		OriginalFilename: filename + ".pdf",
		InputFormat:      "pdf",
		FileSize:         &size,
	}
	require.NoError(t, s.CreateEntry(context.Background(), e))
	return e
}

func TestStore_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	createEntry(t, s, "job-1", "report")

	got, err := s.GetEntry(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", got.OriginalFilename)
	assert.Equal(t, "pending", got.Status)
	assert.Nil(t, got.Confidence)
	assert.Nil(t, got.CompletedAt)
	require.NotNil(t, got.FileSize)
	assert.Equal(t, int64(1024), *got.FileSize)
}

func TestStore_GetMissingReturnsErrNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetEntry(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UpdateStatusStampsCompletion(t *testing.T) {
	s := newTestStore(t)
	createEntry(t, s, "job-1", "report")

	conf := 0.91
	got, err := s.UpdateStatus(context.Background(), "job-1", "completed", &conf, "", "/out/job-1/report.md")
	require.NoError(t, err)

	assert.Equal(t, "completed", got.Status)
	require.NotNil(t, got.Confidence)
	assert.InDelta(t, 0.91, *got.Confidence, 1e-9)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, "/out/job-1/report.md", got.OutputPath)
}

func TestStore_UpdateStatusFailedKeepsError(t *testing.T) {
	s := newTestStore(t)
	createEntry(t, s, "job-1", "report")

	got, err := s.UpdateStatus(context.Background(), "job-1", "failed", nil, "engine failed: disk full", "")
	require.NoError(t, err)

	assert.Equal(t, "failed", got.Status)
	assert.Equal(t, "engine failed: disk full", got.ErrorMessage)
	assert.NotNil(t, got.CompletedAt)
}

func TestStore_UpdateStatusMissingEntry(t *testing.T) {
	s := newTestStore(t)

	_, err := s.UpdateStatus(context.Background(), "nope", "completed", nil, "", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GetAllFiltersAndPaginates(t *testing.T) {
	s := newTestStore(t)
	for i, id := range []string{"a", "b", "c"} {
		e := createEntry(t, s, id, "doc")
		// Spread creation times so ordering is deterministic.
		_, err := s.db.ExecContext(context.Background(),
			`UPDATE conversions SET created_at = $1 WHERE id = $2`,
			time.Now().UTC().Add(time.Duration(i)*time.Minute), e.ID)
		require.NoError(t, err)
	}
	_, err := s.UpdateStatus(context.Background(), "b", "completed", nil, "", "")
	require.NoError(t, err)

	all, err := s.GetAll(context.Background(), 10, 0, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)

	completed, err := s.GetAll(context.Background(), 10, 0, "completed")
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "b", completed[0].ID)

	page, err := s.GetAll(context.Background(), 1, 1, "")
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)
}

func TestStore_DeleteEntryAndAll(t *testing.T) {
	s := newTestStore(t)
	createEntry(t, s, "job-1", "a")
	createEntry(t, s, "job-2", "b")

	require.NoError(t, s.DeleteEntry(context.Background(), "job-1"))
	assert.ErrorIs(t, s.DeleteEntry(context.Background(), "job-1"), ErrNotFound)

	n, err := s.DeleteAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStore_Stats(t *testing.T) {
	s := newTestStore(t)
	createEntry(t, s, "job-1", "a")
	createEntry(t, s, "job-2", "b")
	createEntry(t, s, "job-3", "c")
	_, err := s.UpdateStatus(context.Background(), "job-1", "completed", nil, "", "")
	require.NoError(t, err)
	_, err = s.UpdateStatus(context.Background(), "job-2", "failed", nil, "boom", "")
	require.NoError(t, err)

	stats, err := s.GetStats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Pending)
	assert.InDelta(t, 33.3, stats.SuccessRate, 0.05)
	assert.Equal(t, 3, stats.FormatBreakdown["pdf"])
}

func TestStore_SearchCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	createEntry(t, s, "job-1", "Quarterly-Report")
	createEntry(t, s, "job-2", "invoice")

	hits, err := s.Search(context.Background(), "report", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "job-1", hits[0].ID)
}

func TestStore_CleanupOldEntries(t *testing.T) {
	s := newTestStore(t)
	old := createEntry(t, s, "job-old", "a")
	createEntry(t, s, "job-new", "b")
	_, err := s.db.ExecContext(context.Background(),
		`UPDATE conversions SET created_at = $1 WHERE id = $2`,
		time.Now().UTC().AddDate(0, 0, -40), old.ID)
	require.NoError(t, err)

	n, err := s.CleanupOldEntries(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetEntry(context.Background(), "job-old")
	assert.ErrorIs(t, err, ErrNotFound)
}
