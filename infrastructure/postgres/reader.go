package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hermesindex/hermes/domain/catalog"
	"github.com/hermesindex/hermes/internal/config"
	"github.com/hermesindex/hermes/internal/database"
)

// compositeID matches the "\xHEX:index" form used by view-backed file ids.
var compositeID = regexp.MustCompile(`^\\x([0-9a-fA-F]+):(\d+)$`)

// keywordStripChars are removed from both sides of the normalized CJK
// keyword comparison.
const keywordStripChars = ` ,.:;!?_-()[]{}<>/\|"'` + "`"

// CatalogReader reads source rows from the relational catalog. It implements
// catalog.Reader for every configured source.
type CatalogReader struct {
	db  database.Database
	cfg config.Config
}

// NewCatalogReader creates a reader over the catalog database.
func NewCatalogReader(db database.Database, cfg config.Config) *CatalogReader {
	return &CatalogReader{db: db, cfg: cfg}
}

func (r *CatalogReader) source(name string) (config.Source, error) {
	src, ok := r.cfg.SourceByName(name)
	if !ok {
		return config.Source{}, fmt.Errorf("unknown source: %s", name)
	}
	return src, nil
}

// FetchPending returns the next batch of rows that need indexing. A row is
// pending when it has no sync state, when its updated_at advanced past the
// recorded state, or (for sources without an updated_at field) when its text
// hash changed.
func (r *CatalogReader) FetchPending(ctx context.Context, source string, batchSize int) ([]catalog.Row, error) {
	src, err := r.source(source)
	if err != nil {
		return nil, err
	}
	pg := src.PG

	table, err := quoteTable(pg.Table)
	if err != nil {
		return nil, err
	}
	idField, err := quoteIdent(pg.IDField)
	if err != nil {
		return nil, err
	}
	textField, err := quoteIdent(pg.TextField)
	if err != nil {
		return nil, err
	}

	isPG := r.db.IsPostgres()
	idExpr := "t." + idField
	if isPG {
		idExpr += "::text"
	}

	columns := []string{
		idExpr + " AS pg_id",
		"t." + textField + " AS text",
		"s.text_hash AS state_hash",
	}
	if pg.UpdatedAtField != "" {
		updatedAt, err := quoteIdent(pg.UpdatedAtField)
		if err != nil {
			return nil, err
		}
		columns = append(columns, "t."+updatedAt+" AS updated_at")
	}
	for _, field := range pg.ExtraFields {
		col, err := quoteIdent(field)
		if err != nil {
			return nil, err
		}
		columns = append(columns, "t."+col)
	}

	hashInSQL := false
	var conditions []string
	switch {
	case pg.UpdatedAtField != "":
		updatedAt, _ := quoteIdent(pg.UpdatedAtField)
		epoch := "to_timestamp(0)"
		if !isPG {
			epoch = "'1970-01-01 00:00:00'"
		}
		conditions = []string{
			"s.pg_id IS NULL",
			fmt.Sprintf("t.%s > COALESCE(s.updated_at, %s)", updatedAt, epoch),
		}
	case isPG:
		hashInSQL = true
		conditions = []string{
			"s.pg_id IS NULL",
			fmt.Sprintf("s.text_hash IS DISTINCT FROM md5(t.%s)", textField),
		}
	default:
		// SQLite has no md5(); hash filtering happens in Go over the whole
		// candidate window below.
		conditions = []string{"1=1"}
	}

	orderField := pg.UpdatedAtField
	if orderField == "" {
		orderField = pg.IDField
	}
	orderCol, err := quoteIdent(orderField)
	if err != nil {
		return nil, err
	}
	// Id tiebreaker keeps scans deterministic for equal timestamps.
	orderBy := "t." + orderCol + " NULLS LAST"
	if orderCol != idField {
		orderBy += ", t." + idField
	}

	where := "(" + strings.Join(conditions, ") OR (") + ")"
	if pg.Where != "" {
		where = "(" + where + ") AND (" + pg.Where + ")"
	}

	limit := batchSize
	if !hashInSQL && pg.UpdatedAtField == "" {
		// Over-fetch so the Go-side hash filter still fills a batch.
		limit = batchSize * 4
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s t LEFT JOIN sync_state s ON s.source = ? AND s.pg_id = %s WHERE %s ORDER BY %s LIMIT %d",
		strings.Join(columns, ", "), table, idExpr, where, orderBy, limit,
	)

	var raw []map[string]any
	if err := r.db.Session(ctx).Raw(query, source).Scan(&raw).Error; err != nil {
		return nil, fmt.Errorf("fetch pending for %s: %w", source, err)
	}

	rows := make([]catalog.Row, 0, len(raw))
	for _, record := range raw {
		row := rowFromRecord(record, pg)
		if !hashInSQL && pg.UpdatedAtField == "" {
			if state, ok := record["state_hash"].(string); ok && state == row.TextHash {
				continue
			}
		}
		rows = append(rows, row)
		if len(rows) == batchSize {
			break
		}
	}
	return rows, nil
}

func rowFromRecord(record map[string]any, pg config.SourceTable) catalog.Row {
	row := catalog.Row{
		PGID:   renderValue(record["pg_id"]),
		Fields: make(map[string]any, len(pg.ExtraFields)),
	}
	if text, ok := record["text"].(string); ok {
		row.Text = text
	}
	row.TextHash = catalog.HashText(row.Text)
	if ts := parseTime(record["updated_at"]); ts != nil {
		row.UpdatedAt = ts
	}
	for _, field := range pg.ExtraFields {
		if v, ok := record[field]; ok {
			row.Fields[field] = sanitizeValue(v)
		}
	}
	return row
}

func parseTime(v any) *time.Time {
	switch t := v.(type) {
	case time.Time:
		return &t
	case *time.Time:
		return t
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02 15:04:05.999999999-07:00"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return &parsed
			}
		}
	}
	return nil
}

// renderValue turns a scanned id value into its text form. Binary ids are
// rendered as "\xHEX" to match the catalog's text casts.
func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return fmt.Sprintf("\\x%x", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// sanitizeValue renders bytea values as "\xHEX", recursing through containers.
func sanitizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return fmt.Sprintf("\\x%x", val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

// FetchByIDs hydrates full rows for the given ids, including joined side
// tables with optional aggregation. Ids in the "\xHEX:index" composite form
// take a fast path that decomposes into the underlying hash and index
// columns instead of recomputing the view's synthetic id.
func (r *CatalogReader) FetchByIDs(ctx context.Context, source string, ids []string) (map[string]catalog.Row, error) {
	if len(ids) == 0 {
		return map[string]catalog.Row{}, nil
	}
	src, err := r.source(source)
	if err != nil {
		return nil, err
	}
	pg := src.PG

	table, err := quoteTable(pg.Table)
	if err != nil {
		return nil, err
	}
	idField, err := quoteIdent(pg.IDField)
	if err != nil {
		return nil, err
	}

	selectCols := []string{}
	groupByCols := []string{}
	baseFields := append([]string{pg.IDField, pg.TextField}, pg.ExtraFields...)
	for _, f := range baseFields {
		col, err := quoteIdent(f)
		if err != nil {
			return nil, err
		}
		selectCols = append(selectCols, "t."+col)
		groupByCols = append(groupByCols, "t."+col)
	}

	joinClauses := []string{}
	hasAgg := false
	for idx, join := range pg.Joins {
		joinTable, err := quoteTable(join.Table)
		if err != nil {
			return nil, err
		}
		alias := join.Alias
		if alias == "" {
			alias = fmt.Sprintf("j%d", idx)
		}
		aliasQuoted, err := quoteIdent(alias)
		if err != nil {
			return nil, err
		}
		joinType := strings.ToUpper(join.Type)
		if joinType == "" {
			joinType = "LEFT"
		}
		if joinType != "LEFT" && joinType != "INNER" {
			return nil, fmt.Errorf("unsupported join type: %s", join.Type)
		}
		joinClauses = append(joinClauses, fmt.Sprintf("%s JOIN %s AS %s ON %s", joinType, joinTable, aliasQuoted, join.On))

		for _, field := range join.Fields {
			col, err := quoteQualified(alias, field.Column)
			if err != nil {
				return nil, err
			}
			name := field.Alias
			if name == "" {
				name = field.Column
			}
			aliasName, err := quoteIdent(name)
			if err != nil {
				return nil, err
			}
			if field.Agg != "" {
				agg := strings.ToLower(field.Agg)
				switch agg {
				case "array_agg", "json_agg", "jsonb_agg":
				default:
					return nil, fmt.Errorf("unsupported aggregate: %s", field.Agg)
				}
				distinct := ""
				if field.Distinct {
					distinct = "DISTINCT "
				}
				selectCols = append(selectCols, fmt.Sprintf("%s(%s%s) AS %s", agg, distinct, col, aliasName))
				hasAgg = true
			} else {
				selectCols = append(selectCols, col+" AS "+aliasName)
				groupByCols = append(groupByCols, col)
			}
		}
	}

	whereClause, args := r.idPredicate(idField, ids)
	if pg.Where != "" {
		whereClause = "(" + whereClause + ") AND (" + pg.Where + ")"
	}

	query := fmt.Sprintf("SELECT %s FROM %s AS t %s WHERE %s",
		strings.Join(selectCols, ", "), table, strings.Join(joinClauses, " "), whereClause)
	if hasAgg {
		query += " GROUP BY " + strings.Join(groupByCols, ", ")
	}

	var raw []map[string]any
	if err := r.db.Session(ctx).Raw(query, args...).Scan(&raw).Error; err != nil {
		return nil, fmt.Errorf("fetch by ids for %s: %w", source, err)
	}

	result := make(map[string]catalog.Row, len(raw))
	for _, record := range raw {
		id := renderValue(record[pg.IDField])
		row := catalog.Row{
			PGID:   id,
			Text:   renderValue(record[pg.TextField]),
			Fields: make(map[string]any, len(record)),
		}
		row.TextHash = catalog.HashText(row.Text)
		for k, v := range record {
			if k == pg.IDField {
				continue
			}
			row.Fields[k] = sanitizeValue(v)
		}
		result[id] = row
	}
	return result, nil
}

// idPredicate builds the WHERE fragment selecting the given ids. When every
// id is a "\xHEX:index" composite and the backend is PostgreSQL, the lookup
// decomposes into (info_hash, index) pairs so the planner can use the base
// table's primary key.
func (r *CatalogReader) idPredicate(idField string, ids []string) (string, []any) {
	if r.db.IsPostgres() && allComposite(ids) {
		tuples := make([]string, 0, len(ids))
		args := make([]any, 0, len(ids)*2)
		for _, id := range ids {
			m := compositeID.FindStringSubmatch(id)
			tuples = append(tuples, "(decode(?, 'hex'), ?::int)")
			args = append(args, m[1], m[2])
		}
		return fmt.Sprintf("(t.info_hash, t.index) IN (%s)", strings.Join(tuples, ", ")), args
	}
	idExpr := "t." + idField
	if r.db.IsPostgres() {
		idExpr += "::text"
	}
	return fmt.Sprintf("%s IN (%s)", idExpr, placeholders(len(ids))), anySlice(ids)
}

func allComposite(ids []string) bool {
	for _, id := range ids {
		if !compositeID.MatchString(id) {
			return false
		}
	}
	return len(ids) > 0
}

// SearchByKeyword matches q against the source's keyword fields with
// case-insensitive containment. When the query contains CJK and the source
// enables keyword normalization, an additional normalized projection strips
// separators on both sides before comparing.
func (r *CatalogReader) SearchByKeyword(ctx context.Context, source string, q string, limit int) ([]catalog.Row, error) {
	src, err := r.source(source)
	if err != nil {
		return nil, err
	}
	pg := src.PG
	if len(pg.KeywordFields) == 0 || strings.TrimSpace(q) == "" {
		return nil, nil
	}

	table, err := quoteTable(pg.Table)
	if err != nil {
		return nil, err
	}
	idField, err := quoteIdent(pg.IDField)
	if err != nil {
		return nil, err
	}
	textField, err := quoteIdent(pg.TextField)
	if err != nil {
		return nil, err
	}

	isPG := r.db.IsPostgres()
	idExpr := "t." + idField
	if isPG {
		idExpr += "::text"
	}

	var conditions []string
	var args []any
	pattern := "%" + q + "%"
	for _, field := range pg.KeywordFields {
		col, err := quoteIdent(field)
		if err != nil {
			return nil, err
		}
		if isPG {
			conditions = append(conditions, "t."+col+" ILIKE ?")
		} else {
			conditions = append(conditions, "lower(t."+col+") LIKE lower(?)")
		}
		args = append(args, pattern)

		if isPG && pg.KeywordNormalize && containsCJK(q) {
			normalized := normalizeKeyword(q)
			if normalized != "" {
				conditions = append(conditions,
					"translate(lower(t."+col+"), ?, '') ILIKE ?")
				args = append(args, keywordStripChars, "%"+normalized+"%")
			}
		}
	}

	where := "(" + strings.Join(conditions, " OR ") + ")"
	if pg.Where != "" {
		where += " AND (" + pg.Where + ")"
	}

	query := fmt.Sprintf("SELECT %s AS pg_id, t.%s AS text FROM %s t WHERE %s LIMIT %d",
		idExpr, textField, table, where, limit)

	var raw []map[string]any
	if err := r.db.Session(ctx).Raw(query, args...).Scan(&raw).Error; err != nil {
		return nil, fmt.Errorf("keyword search for %s: %w", source, err)
	}

	rows := make([]catalog.Row, 0, len(raw))
	for _, record := range raw {
		text := renderValue(record["text"])
		rows = append(rows, catalog.Row{
			PGID:     renderValue(record["pg_id"]),
			Text:     text,
			TextHash: catalog.HashText(text),
			Fields:   map[string]any{},
		})
	}
	return rows, nil
}

func containsCJK(s string) bool {
	for _, r := range s {
		if r >= 0x4E00 && r <= 0x9FFF {
			return true
		}
	}
	return false
}

func normalizeKeyword(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if strings.ContainsRune(keywordStripChars, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FetchSyncScores returns recorded NSFW scores for the given ids. Keyword
// hits have no vector payload, so their NSFW flag is reconstituted from the
// sync-state table.
func (r *CatalogReader) FetchSyncScores(ctx context.Context, source string, ids []string) (map[string]float64, error) {
	if len(ids) == 0 {
		return map[string]float64{}, nil
	}
	query := fmt.Sprintf("SELECT pg_id, nsfw_score FROM sync_state WHERE source = ? AND pg_id IN (%s)", placeholders(len(ids)))
	args := append([]any{source}, anySlice(ids)...)

	var raw []struct {
		PGID      string  `gorm:"column:pg_id"`
		NSFWScore float64 `gorm:"column:nsfw_score"`
	}
	if err := r.db.Session(ctx).Raw(query, args...).Scan(&raw).Error; err != nil {
		return nil, fmt.Errorf("fetch sync scores for %s: %w", source, err)
	}
	scores := make(map[string]float64, len(raw))
	for _, record := range raw {
		scores[record.PGID] = record.NSFWScore
	}
	return scores, nil
}
