package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermesindex/hermes/domain/catalog"
	"github.com/hermesindex/hermes/internal/config"
	"github.com/hermesindex/hermes/internal/database"
	"github.com/hermesindex/hermes/internal/testdb"
)

func testConfig() config.Config {
	return config.Config{
		Sources: []config.Source{
			{
				Name: "movies",
				PG: config.SourceTable{
					Table:          "movies",
					IDField:        "id",
					TextField:      "title",
					UpdatedAtField: "updated_at",
					ExtraFields:    []string{"genre", "size"},
					KeywordFields:  []string{"title"},
					KeywordSearch:  true,
				},
			},
			{
				Name: "notes",
				PG: config.SourceTable{
					Table:     "notes",
					IDField:   "id",
					TextField: "body",
				},
			},
		},
	}
}

func newReaderDB(t *testing.T) database.Database {
	return testdb.WithSchema(t,
		`CREATE TABLE movies (
			id INTEGER PRIMARY KEY,
			title TEXT NOT NULL,
			genre TEXT,
			size INTEGER,
			updated_at TIMESTAMP
		)`,
		`CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT NOT NULL)`,
	)
}

func seedState(t *testing.T, db database.Database) *SyncStateStore {
	t.Helper()
	store := NewSyncStateStore(db)
	require.NoError(t, store.EnsureTables(context.Background()))
	return store
}

func TestFetchPendingNewRows(t *testing.T) {
	ctx := context.Background()
	db := newReaderDB(t)
	seedState(t, db)
	reader := NewCatalogReader(db, testConfig())

	require.NoError(t, db.Session(ctx).Exec(
		`INSERT INTO movies (id, title, updated_at) VALUES (1, 'Alien', '2024-01-01 00:00:00'), (2, 'Aliens', '2024-01-02 00:00:00')`,
	).Error)

	rows, err := reader.FetchPending(ctx, "movies", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "1", rows[0].PGID)
	assert.Equal(t, "Alien", rows[0].Text)
	assert.Equal(t, catalog.HashText("Alien"), rows[0].TextHash)
	require.NotNil(t, rows[0].UpdatedAt)
}

func TestFetchPendingEqualTimestampsOrderByID(t *testing.T) {
	ctx := context.Background()
	db := newReaderDB(t)
	seedState(t, db)
	reader := NewCatalogReader(db, testConfig())

	// Bulk imports often stamp a whole batch with one timestamp; the scan
	// order must still be stable across runs.
	require.NoError(t, db.Session(ctx).Exec(
		`INSERT INTO movies (id, title, updated_at) VALUES
		 (3, 'Alien 3', '2024-01-01 00:00:00'),
		 (1, 'Alien', '2024-01-01 00:00:00'),
		 (2, 'Aliens', '2024-01-01 00:00:00')`,
	).Error)

	rows, err := reader.FetchPending(ctx, "movies", 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	got := []string{rows[0].PGID, rows[1].PGID, rows[2].PGID}
	assert.Equal(t, []string{"1", "2", "3"}, got)
}

func TestFetchPendingSkipsSyncedRows(t *testing.T) {
	ctx := context.Background()
	db := newReaderDB(t)
	store := seedState(t, db)
	reader := NewCatalogReader(db, testConfig())

	require.NoError(t, db.Session(ctx).Exec(
		`INSERT INTO movies (id, title, updated_at) VALUES (1, 'Alien', '2024-01-01 00:00:00')`,
	).Error)

	rows, err := reader.FetchPending(ctx, "movies", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, store.Upsert(ctx, "movies", []StateUpdate{{PGID: "1", TextHash: rows[0].TextHash}}))

	rows, err = reader.FetchPending(ctx, "movies", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFetchPendingDetectsUpdatedAtAdvance(t *testing.T) {
	ctx := context.Background()
	db := newReaderDB(t)
	store := seedState(t, db)
	reader := NewCatalogReader(db, testConfig())

	require.NoError(t, db.Session(ctx).Exec(
		`INSERT INTO movies (id, title, updated_at) VALUES (7, 'Alien 1979 1080p BluRay x264', '2024-01-01 00:00:00')`,
	).Error)
	rows, err := reader.FetchPending(ctx, "movies", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NoError(t, store.Upsert(ctx, "movies", []StateUpdate{{PGID: "7", TextHash: rows[0].TextHash}}))

	// Push the catalog row past the recorded sync time.
	require.NoError(t, db.Session(ctx).Exec(
		`UPDATE movies SET title = 'Alien 1979 Remastered', updated_at = datetime('now', '+1 hour') WHERE id = 7`,
	).Error)

	rows, err = reader.FetchPending(ctx, "movies", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Alien 1979 Remastered", rows[0].Text)
}

func TestFetchPendingHashModeWithoutUpdatedAt(t *testing.T) {
	ctx := context.Background()
	db := newReaderDB(t)
	store := seedState(t, db)
	reader := NewCatalogReader(db, testConfig())

	require.NoError(t, db.Session(ctx).Exec(
		`INSERT INTO notes (id, body) VALUES (1, 'first'), (2, 'second')`,
	).Error)

	rows, err := reader.FetchPending(ctx, "notes", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NoError(t, store.Upsert(ctx, "notes", []StateUpdate{
		{PGID: "1", TextHash: catalog.HashText("first")},
		{PGID: "2", TextHash: catalog.HashText("second")},
	}))
	rows, err = reader.FetchPending(ctx, "notes", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// Content change flips the hash and makes the row pending again.
	require.NoError(t, db.Session(ctx).Exec(`UPDATE notes SET body = 'changed' WHERE id = 2`).Error)
	rows, err = reader.FetchPending(ctx, "notes", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2", rows[0].PGID)
}

func TestFetchPendingUnknownSource(t *testing.T) {
	db := newReaderDB(t)
	reader := NewCatalogReader(db, testConfig())
	_, err := reader.FetchPending(context.Background(), "bogus", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source")
}

func TestFetchByIDs(t *testing.T) {
	ctx := context.Background()
	db := newReaderDB(t)
	reader := NewCatalogReader(db, testConfig())

	require.NoError(t, db.Session(ctx).Exec(
		`INSERT INTO movies (id, title, genre, size, updated_at) VALUES
		 (1, 'Alien', 'Horror', 1000, '2024-01-01 00:00:00'),
		 (2, 'Aliens', 'Action', 2000, '2024-01-01 00:00:00')`,
	).Error)

	rows, err := reader.FetchByIDs(ctx, "movies", []string{"1", "2", "99"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Alien", rows["1"].Text)
	assert.Equal(t, "Horror", rows["1"].Fields["genre"])
	assert.EqualValues(t, 2000, rows["2"].Fields["size"])

	empty, err := reader.FetchByIDs(ctx, "movies", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFetchByIDsWithJoin(t *testing.T) {
	ctx := context.Background()
	db := testdb.WithSchema(t,
		`CREATE TABLE contents (id INTEGER PRIMARY KEY, title TEXT NOT NULL)`,
		`CREATE TABLE ratings (content_id INTEGER, stars INTEGER)`,
	)
	cfg := config.Config{Sources: []config.Source{{
		Name: "contents",
		PG: config.SourceTable{
			Table:     "contents",
			IDField:   "id",
			TextField: "title",
			Joins: []config.Join{{
				Table: "ratings",
				Alias: "r",
				Type:  "left",
				On:    "r.content_id = t.id",
				Fields: []config.JoinField{{
					Column: "stars",
					Alias:  "stars",
				}},
			}},
		},
	}}}
	reader := NewCatalogReader(db, cfg)

	require.NoError(t, db.Session(ctx).Exec(
		`INSERT INTO contents (id, title) VALUES (1, 'Alien')`,
	).Error)
	require.NoError(t, db.Session(ctx).Exec(
		`INSERT INTO ratings (content_id, stars) VALUES (1, 5)`,
	).Error)

	rows, err := reader.FetchByIDs(ctx, "contents", []string{"1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 5, rows["1"].Fields["stars"])
}

func TestSearchByKeyword(t *testing.T) {
	ctx := context.Background()
	db := newReaderDB(t)
	reader := NewCatalogReader(db, testConfig())

	require.NoError(t, db.Session(ctx).Exec(
		`INSERT INTO movies (id, title, updated_at) VALUES
		 (1, 'Alien', '2024-01-01 00:00:00'),
		 (2, 'The Alien Returns', '2024-01-01 00:00:00'),
		 (3, 'Xenomorph', '2024-01-01 00:00:00')`,
	).Error)

	rows, err := reader.SearchByKeyword(ctx, "movies", "alien", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	rows, err = reader.SearchByKeyword(ctx, "movies", "  ", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// Source without keyword fields yields nothing.
	rows, err = reader.SearchByKeyword(ctx, "notes", "first", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFetchSyncScores(t *testing.T) {
	ctx := context.Background()
	db := newReaderDB(t)
	store := seedState(t, db)
	reader := NewCatalogReader(db, testConfig())

	require.NoError(t, store.Upsert(ctx, "movies", []StateUpdate{
		{PGID: "1", TextHash: "a", NSFWScore: 0.8},
		{PGID: "2", TextHash: "b", NSFWScore: 0.1},
	}))

	scores, err := reader.FetchSyncScores(ctx, "movies", []string{"1", "2", "3"})
	require.NoError(t, err)
	assert.InDelta(t, 0.8, scores["1"], 1e-9)
	assert.InDelta(t, 0.1, scores["2"], 1e-9)
	_, ok := scores["3"]
	assert.False(t, ok)
}

func TestRenderValueBytes(t *testing.T) {
	assert.Equal(t, `\x00ff`, renderValue([]byte{0x00, 0xff}))
	assert.Equal(t, "plain", renderValue("plain"))
	assert.Equal(t, "", renderValue(nil))
}

func TestSanitizeValueRecurses(t *testing.T) {
	got := sanitizeValue(map[string]any{
		"hash":  []byte{0xab},
		"files": []any{[]byte{0x01}, "name"},
	})
	m := got.(map[string]any)
	assert.Equal(t, `\xab`, m["hash"])
	assert.Equal(t, `\x01`, m["files"].([]any)[0])
}

func TestCompositeIDPattern(t *testing.T) {
	assert.True(t, allComposite([]string{`\xdeadbeef:0`, `\xAB12:42`}))
	assert.False(t, allComposite([]string{`\xdeadbeef:0`, `7`}))
	assert.False(t, allComposite(nil))
}

func TestNormalizeKeyword(t *testing.T) {
	assert.Equal(t, "恐怖电影", normalizeKeyword("恐怖 电影"))
	assert.True(t, containsCJK("恐怖"))
	assert.False(t, containsCJK("alien"))
}
