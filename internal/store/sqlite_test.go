package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "kisan.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStockAdvisoriesSeededNewestFirst(t *testing.T) {
	s := newTestStore(t)

	advisories, err := s.ListAdvisories(context.Background())
	require.NoError(t, err)
	require.Len(t, advisories, 3)

	assert.Equal(t, "Weather Update: Heavy Rainfall Expected", advisories[0].Title)
	assert.Equal(t, "3 hours ago", advisories[0].Posted)
	assert.Equal(t, "New Subsidy on Drip Irrigation Systems", advisories[1].Title)
	assert.Equal(t, "2 days ago", advisories[1].Posted)
	assert.Equal(t, "Pest Alert: Locust Swarm Warning", advisories[2].Title)
	assert.Equal(t, "1 week ago", advisories[2].Posted)
}

func TestSeedRunsOnlyOnEmptyTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kisan.db")
	s, err := NewSQLiteStore(path, nil)
	require.NoError(t, err)
	_, err = s.ReplaceAdvisories(context.Background(), []Advisory{{Title: "Only", Content: "one", PostedAt: time.Now()}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	advisories, err := reopened.ListAdvisories(context.Background())
	require.NoError(t, err)
	require.Len(t, advisories, 1)
	assert.Equal(t, "Only", advisories[0].Title)
}

func TestCreateGovQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q := &GovQuery{
		SessionID: "session-1",
		Name:      "Ramesh Patil",
		Location:  "Nashik",
		QueryType: QuerySubsidyRequest,
		Message:   "Drip irrigation subsidy status?",
	}
	require.NoError(t, s.CreateGovQuery(ctx, q))
	require.NotEmpty(t, q.ID)

	got, err := s.GetGovQuery(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, q.Name, got.Name)
	assert.Equal(t, QuerySubsidyRequest, got.QueryType)
	assert.Equal(t, "session-1", got.SessionID)
	assert.WithinDuration(t, q.CreatedAt, got.CreatedAt, time.Second)

	s.now = func() time.Time { return time.Now().Add(time.Minute) }
	require.NoError(t, s.CreateGovQuery(ctx, &GovQuery{
		SessionID: "session-2",
		Name:      "Anita Devi",
		Location:  "Patna",
		QueryType: QueryComplaint,
		Message:   "Seed delivery delayed",
	}))

	list, err := s.ListGovQueries(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Anita Devi", list[0].Name)

	list, err = s.ListGovQueries(ctx, "session-1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, q.ID, list[0].ID)

	list, err = s.ListGovQueries(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.GetGovQuery(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGovQueryValidation(t *testing.T) {
	s := newTestStore(t)

	err := s.CreateGovQuery(context.Background(), &GovQuery{QueryType: "Bribe", Message: " "})
	require.Error(t, err)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 4)

	list, err := s.ListGovQueries(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestParseQueryType(t *testing.T) {
	for _, qt := range QueryTypes() {
		got, err := ParseQueryType(string(qt))
		require.NoError(t, err)
		assert.Equal(t, qt, got)
	}
	_, err := ParseQueryType("complaint")
	assert.Error(t, err)
	assert.Equal(t, QueryComplaint, QueryTypes()[0])
}

const advisoryTable = `| title | posted | content |
|---|---|---|
| Kharif sowing advisory | 2025-06-10 | Sow after 100mm of cumulative rainfall. |
| Fertiliser stock update | 2025-06-12 09:30 | Urea is available at all cooperative societies. |
| Broken row | yesterday | Missing date. |
not a row
| Only two | cells |
`

func TestParseAdvisoryTable(t *testing.T) {
	advisories, err := ParseAdvisoryTable(strings.NewReader(advisoryTable))
	require.Len(t, advisories, 2)
	assert.Equal(t, "Kharif sowing advisory", advisories[0].Title)
	assert.Equal(t, time.Date(2025, 6, 12, 9, 30, 0, 0, time.UTC), advisories[1].PostedAt)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 3)
}

func TestIngestAdvisoriesFromFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "advisories.md")
	require.NoError(t, os.WriteFile(path, []byte(advisoryTable), 0o600))

	n, err := s.IngestAdvisoriesFromFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	advisories, err := s.ListAdvisories(ctx)
	require.NoError(t, err)
	require.Len(t, advisories, 2)
	assert.Equal(t, "Fertiliser stock update", advisories[0].Title)

	empty := filepath.Join(t.TempDir(), "empty.md")
	require.NoError(t, os.WriteFile(empty, []byte("| title | posted | content |\n|---|---|---|\n"), 0o600))
	_, err = s.IngestAdvisoriesFromFile(ctx, empty)
	assert.Error(t, err)

	advisories, err = s.ListAdvisories(ctx)
	require.NoError(t, err)
	assert.Len(t, advisories, 2)

	_, err = s.IngestAdvisoriesFromFile(ctx, filepath.Join(t.TempDir(), "missing.md"))
	assert.Error(t, err)
}
