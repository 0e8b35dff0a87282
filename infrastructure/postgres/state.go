package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/hermesindex/hermes/internal/database"
)

const syncTableDDL = `
CREATE TABLE IF NOT EXISTS sync_state (
    source TEXT NOT NULL,
    pg_id TEXT NOT NULL,
    text_hash TEXT,
    embedding_version TEXT,
    vector_id TEXT,
    nsfw_score REAL,
    updated_at TIMESTAMPTZ DEFAULT now(),
    last_error TEXT,
    PRIMARY KEY (source, pg_id)
)`

const syncTableDDLSQLite = `
CREATE TABLE IF NOT EXISTS sync_state (
    source TEXT NOT NULL,
    pg_id TEXT NOT NULL,
    text_hash TEXT,
    embedding_version TEXT,
    vector_id TEXT,
    nsfw_score REAL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    last_error TEXT,
    PRIMARY KEY (source, pg_id)
)`

const syncIndexDDL = `CREATE INDEX IF NOT EXISTS idx_sync_state_updated_at ON sync_state (updated_at)`

// maxErrorLength truncates recorded failure messages.
const maxErrorLength = 512

// StateUpdate is one row's sync bookkeeping after a successful index commit.
type StateUpdate struct {
	PGID             string
	TextHash         string
	EmbeddingVersion string
	VectorID         string
	NSFWScore        float64
}

// SourceStatus summarizes sync progress for one source.
type SourceStatus struct {
	Source    string     `json:"source"`
	Total     int64      `json:"total"`
	Failed    int64      `json:"failed"`
	LastSync  *time.Time `json:"last_sync,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// SyncStateStore persists per-record sync bookkeeping.
type SyncStateStore struct {
	db database.Database
}

// NewSyncStateStore creates a store over the catalog database.
func NewSyncStateStore(db database.Database) *SyncStateStore {
	return &SyncStateStore{db: db}
}

// EnsureTables creates the sync-state table and its updated_at index.
func (s *SyncStateStore) EnsureTables(ctx context.Context) error {
	ddl := syncTableDDL
	if !s.db.IsPostgres() {
		ddl = syncTableDDLSQLite
	}
	if err := s.db.Session(ctx).Exec(ddl).Error; err != nil {
		return fmt.Errorf("create sync_state table: %w", err)
	}
	if err := s.db.Session(ctx).Exec(syncIndexDDL).Error; err != nil {
		return fmt.Errorf("create sync_state index: %w", err)
	}
	return nil
}

// Upsert commits the batch's bookkeeping in one transaction. A successful
// upsert clears any previous last_error.
func (s *SyncStateStore) Upsert(ctx context.Context, source string, updates []StateUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	now := s.nowExpr()
	stmt := fmt.Sprintf(`
		INSERT INTO sync_state (source, pg_id, text_hash, embedding_version, vector_id, nsfw_score, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, %s)
		ON CONFLICT (source, pg_id) DO UPDATE
		SET text_hash = EXCLUDED.text_hash,
		    embedding_version = EXCLUDED.embedding_version,
		    vector_id = EXCLUDED.vector_id,
		    nsfw_score = EXCLUDED.nsfw_score,
		    updated_at = %s,
		    last_error = NULL`, now, now)

	return database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		for _, u := range updates {
			if err := tx.Exec(stmt, source, u.PGID, u.TextHash, u.EmbeddingVersion, u.VectorID, u.NSFWScore).Error; err != nil {
				return fmt.Errorf("upsert sync state %s:%s: %w", source, u.PGID, err)
			}
		}
		return nil
	})
}

// MarkFailure records a per-row failure without touching the indexed state.
func (s *SyncStateStore) MarkFailure(ctx context.Context, source, pgID, message string) error {
	if len(message) > maxErrorLength {
		message = message[:maxErrorLength]
	}
	now := s.nowExpr()
	stmt := fmt.Sprintf(`
		INSERT INTO sync_state (source, pg_id, last_error, updated_at)
		VALUES (?, ?, ?, %s)
		ON CONFLICT (source, pg_id) DO UPDATE
		SET last_error = EXCLUDED.last_error, updated_at = %s`, now, now)
	if err := s.db.Session(ctx).Exec(stmt, source, pgID, message).Error; err != nil {
		return fmt.Errorf("mark failure %s:%s: %w", source, pgID, err)
	}
	return nil
}

// Status returns per-source sync counters.
func (s *SyncStateStore) Status(ctx context.Context) ([]SourceStatus, error) {
	var raw []map[string]any
	query := `
		SELECT source,
		       COUNT(*) AS total,
		       COUNT(last_error) AS failed,
		       MAX(updated_at) AS last_sync
		FROM sync_state
		GROUP BY source
		ORDER BY source`
	if err := s.db.Session(ctx).Raw(query).Scan(&raw).Error; err != nil {
		return nil, fmt.Errorf("sync status: %w", err)
	}
	statuses := make([]SourceStatus, 0, len(raw))
	for _, record := range raw {
		status := SourceStatus{
			Source:   fmt.Sprintf("%v", record["source"]),
			Total:    asInt64(record["total"]),
			Failed:   asInt64(record["failed"]),
			LastSync: parseTime(record["last_sync"]),
		}
		if status.Failed > 0 {
			var lastError string
			err := s.db.Session(ctx).Raw(
				`SELECT last_error FROM sync_state WHERE source = ? AND last_error IS NOT NULL ORDER BY updated_at DESC LIMIT 1`,
				status.Source,
			).Scan(&lastError).Error
			if err == nil {
				status.LastError = lastError
			}
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func (s *SyncStateStore) nowExpr() string {
	if s.db.IsPostgres() {
		return "now()"
	}
	return "CURRENT_TIMESTAMP"
}
