// Package catalog defines the read-side contract over the relational content
// catalog: pending-row scans for the sync pipeline and id-based hydration for
// the search path.
package catalog

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"time"
)

// Row is one indexable catalog record.
type Row struct {
	PGID      string
	Text      string
	TextHash  string
	UpdatedAt *time.Time
	Fields    map[string]any
}

// Field returns an extra field by name.
func (r Row) Field(name string) (any, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// StringField returns an extra field rendered as a string, or "".
func (r Row) StringField(name string) string {
	v, ok := r.Fields[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// HashText computes the md5 hex digest used for change detection.
func HashText(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Reader produces catalog rows for a configured source.
type Reader interface {
	// FetchPending returns the next batch of rows that need (re-)indexing:
	// rows without sync state, rows whose updated_at advanced past the
	// recorded state, or rows whose text hash changed.
	FetchPending(ctx context.Context, source string, batchSize int) ([]Row, error)

	// FetchByIDs hydrates full rows for the given ids, including joined side
	// tables. Missing ids are silently absent from the result.
	FetchByIDs(ctx context.Context, source string, ids []string) (map[string]Row, error)

	// SearchByKeyword matches q against the source's configured keyword
	// fields with case-insensitive containment.
	SearchByKeyword(ctx context.Context, source string, q string, limit int) ([]Row, error)

	// FetchSyncScores returns recorded NSFW scores for the given ids.
	FetchSyncScores(ctx context.Context, source string, ids []string) (map[string]float64, error)
}
