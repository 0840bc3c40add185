// Package gdb is the geodatabase loader backend: a pure-Go sqlite store
// holding attribute tables, feature tables and the relationships between
// them. Loads are idempotent upserts keyed by each table's id column.
package gdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/trafficgeo/accident-etl/internal/domain"
	"github.com/trafficgeo/accident-etl/internal/geom"
)

// FeatureEdit describes a completed mutation of a feature table. Terminal
// marks the batch-terminal store of a run.
type FeatureEdit struct {
	Table    string
	ObjectID int64
	Terminal bool
}

// EditHook observes feature edits after the owning transaction commits.
type EditHook func(ctx context.Context, edit FeatureEdit)

// Store is one geodatabase file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu    sync.Mutex
	hooks map[string][]EditHook
}

// Open creates or opens the geodatabase at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating gdb dir: %w", err)
	}
	return open("file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", logger, true)
}

// OpenReadOnly opens an existing geodatabase without write access, used for
// polygon lookups against an already-built store.
func OpenReadOnly(path string, logger *slog.Logger) (*Store, error) {
	return open("file:"+path+"?mode=ro", logger, false)
}

func open(dsn string, logger *slog.Logger, migrate bool) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// The file-backed driver serializes writes; a single connection avoids
	// SQLITE_BUSY between the loader and edit hooks.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger, hooks: map[string][]EditHook{}}
	if migrate {
		if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS gdb_relationships (
			name TEXT PRIMARY KEY,
			origin_table TEXT NOT NULL,
			dest_table TEXT NOT NULL,
			origin_key TEXT NOT NULL,
			dest_key TEXT NOT NULL
		)`); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating relationship table: %w", err)
		}
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RegisterEditHook subscribes to feature edits on one table. An empty table
// name subscribes to edits on every table.
func (s *Store) RegisterEditHook(table string, hook EditHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[table] = append(s.hooks[table], hook)
}

func (s *Store) fireEdit(ctx context.Context, edit FeatureEdit) {
	s.mu.Lock()
	hooks := append([]EditHook(nil), s.hooks[edit.Table]...)
	hooks = append(hooks, s.hooks[""]...)
	s.mu.Unlock()
	for _, h := range hooks {
		h(ctx, edit)
	}
}

// Load implements domain.Loader: upsert every record by the destination's
// id column inside one transaction, then notify edit hooks. Loading the
// same set twice changes nothing.
func (s *Store) Load(ctx context.Context, dest domain.TableSpec, rs domain.RecordSet) (domain.LoadResult, error) {
	if dest.IDColumn == "" {
		return domain.LoadResult{}, fmt.Errorf("destination %s has no id column", dest.Name)
	}
	if !rs.HasColumn(dest.IDColumn) {
		return domain.LoadResult{}, fmt.Errorf("record set has no id column %q for %s", dest.IDColumn, dest.Name)
	}

	table := dest.Table()
	if err := s.ensureSchema(ctx, table, dest, rs); err != nil {
		return domain.LoadResult{}, err
	}

	existing, err := s.idSet(ctx, table, dest.IDColumn)
	if err != nil {
		return domain.LoadResult{}, err
	}

	columns := append([]string(nil), rs.Columns...)
	hasGeom := geomColumnNeeded(rs)
	if hasGeom {
		columns = append(columns, geomColumn)
	}

	var result domain.LoadResult
	var lastID int64
	err = s.transact(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertSQL(table, columns, dest.IDColumn))
		if err != nil {
			return fmt.Errorf("prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, r := range rs.Records {
			args := make([]any, 0, len(columns))
			for _, col := range rs.Columns {
				args = append(args, r.Fields[col])
			}
			if hasGeom {
				g, err := encodeShape(r.Shape)
				if err != nil {
					return err
				}
				args = append(args, g)
			}

			var objectID int64
			if err := stmt.QueryRowContext(ctx, args...).Scan(&objectID); err != nil {
				return fmt.Errorf("upsert into %s: %w", table, err)
			}
			lastID = objectID

			if _, ok := existing[domain.FormatValue(r.Fields[dest.IDColumn])]; ok {
				result.Updated++
			} else {
				result.Inserted++
			}
		}
		return nil
	})
	if err != nil {
		return domain.LoadResult{}, err
	}

	if dest.Relation != nil {
		if err := s.ensureRelation(ctx, dest.Relation); err != nil {
			return domain.LoadResult{}, err
		}
	}

	s.logger.Debug("loaded table", "table", table, "inserted", result.Inserted, "updated", result.Updated)

	if len(rs.Records) > 0 {
		s.fireEdit(ctx, FeatureEdit{Table: table, ObjectID: lastID, Terminal: dest.TerminalBatch})
	}
	return result, nil
}

// ReadTable returns every row of a table in objectid order, with geometry
// rebuilt from the x/y or geom columns.
func (s *Store) ReadTable(ctx context.Context, table string) (domain.RecordSet, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s ORDER BY objectid`, quoteIdent(table)))
	if err != nil {
		return domain.RecordSet{}, fmt.Errorf("reading %s: %w", table, err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// Related returns the rows of a relationship's destination table whose
// foreign key matches originValue, in objectid order.
func (s *Store) Related(ctx context.Context, relation string, originValue domain.Value) (domain.RecordSet, error) {
	var destTable, destKey string
	err := s.db.QueryRowContext(ctx,
		`SELECT dest_table, dest_key FROM gdb_relationships WHERE name = ?`, relation,
	).Scan(&destTable, &destKey)
	if err == sql.ErrNoRows {
		return domain.RecordSet{}, fmt.Errorf("unknown relationship %q", relation)
	}
	if err != nil {
		return domain.RecordSet{}, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT * FROM %s WHERE %s = ? ORDER BY objectid`,
		quoteIdent(destTable), quoteIdent(destKey),
	), originValue)
	if err != nil {
		return domain.RecordSet{}, fmt.Errorf("reading related %s: %w", destTable, err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// RelationOriginKey returns the origin table's key column of a registered
// relationship.
func (s *Store) RelationOriginKey(ctx context.Context, relation string) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx,
		`SELECT origin_key FROM gdb_relationships WHERE name = ?`, relation,
	).Scan(&key)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("unknown relationship %q", relation)
	}
	return key, err
}

// ApplyEdits applies a batched edit instruction atomically: either every
// update lands or none do. Attribute columns are added on first use.
func (s *Store) ApplyEdits(ctx context.Context, instr domain.EditInstruction) error {
	if len(instr.Updates) == 0 {
		return nil
	}

	attrCols := map[string]domain.Value{}
	for _, u := range instr.Updates {
		for _, a := range u.Attrs {
			if _, ok := attrCols[a.Name]; !ok || attrCols[a.Name] == nil {
				attrCols[a.Name] = a.Value
			}
		}
	}
	existing, err := s.columnSet(ctx, instr.Table)
	if err != nil {
		return err
	}
	// Columns follow the first update's attribute order; names only later
	// updates introduce come after, sorted.
	names := make([]string, 0, len(attrCols))
	seen := map[string]struct{}{}
	for _, a := range instr.Updates[0].Attrs {
		if _, ok := seen[a.Name]; !ok {
			names = append(names, a.Name)
			seen[a.Name] = struct{}{}
		}
	}
	var rest []string
	for name := range attrCols {
		if _, ok := seen[name]; !ok {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	names = append(names, rest...)

	for _, name := range names {
		if _, ok := existing[name]; ok {
			continue
		}
		ddl := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`,
			quoteIdent(instr.Table), quoteIdent(name), sqlType(attrCols[name]))
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("adding column %s: %w", name, err)
		}
	}

	return s.transact(ctx, func(tx *sql.Tx) error {
		for _, u := range instr.Updates {
			var sets []string
			var args []any
			for _, a := range u.Attrs {
				sets = append(sets, quoteIdent(a.Name)+" = ?")
				args = append(args, a.Value)
			}
			args = append(args, u.ObjectID)
			q := fmt.Sprintf(`UPDATE %s SET %s WHERE objectid = ?`,
				quoteIdent(instr.Table), strings.Join(sets, ", "))
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return fmt.Errorf("updating %s objectid %d: %w", instr.Table, u.ObjectID, err)
			}
		}
		return nil
	})
}

// PolygonByID returns the polygon geometry of the row whose id column
// matches id.
func (s *Store) PolygonByID(ctx context.Context, table, idColumn, id string) (geom.Polygon, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s = ?`,
		quoteIdent(geomColumn), quoteIdent(table), quoteIdent(idColumn),
	), id).Scan(&raw)
	if err == sql.ErrNoRows {
		return geom.Polygon{}, fmt.Errorf("no row with %s=%q in %s", idColumn, id, table)
	}
	if err != nil {
		return geom.Polygon{}, err
	}
	if !raw.Valid {
		return geom.Polygon{}, fmt.Errorf("row %s=%q in %s has no geometry", idColumn, id, table)
	}
	return decodePolygon(raw.String)
}

// transact runs fn inside a transaction, rolling back on error.
func (s *Store) transact(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) ensureSchema(ctx context.Context, table string, dest domain.TableSpec, rs domain.RecordSet) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (objectid INTEGER PRIMARY KEY AUTOINCREMENT)`, quoteIdent(table))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating %s: %w", table, err)
	}

	existing, err := s.columnSet(ctx, table)
	if err != nil {
		return err
	}

	wanted := append([]string(nil), rs.Columns...)
	if geomColumnNeeded(rs) {
		wanted = append(wanted, geomColumn)
	}
	for _, col := range wanted {
		if _, ok := existing[col]; ok {
			continue
		}
		typ := "TEXT"
		if col != geomColumn {
			typ = columnType(rs, col)
		}
		add := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, quoteIdent(table), quoteIdent(col), typ)
		if _, err := s.db.ExecContext(ctx, add); err != nil {
			return fmt.Errorf("adding column %s to %s: %w", col, table, err)
		}
	}

	idx := fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)`,
		quoteIdent("uidx_"+table+"_"+dest.IDColumn), quoteIdent(table), quoteIdent(dest.IDColumn))
	if _, err := s.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("indexing %s: %w", table, err)
	}
	return nil
}

func (s *Store) ensureRelation(ctx context.Context, rel *domain.Relation) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO gdb_relationships
		(name, origin_table, dest_table, origin_key, dest_key)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			origin_table = excluded.origin_table,
			dest_table = excluded.dest_table,
			origin_key = excluded.origin_key,
			dest_key = excluded.dest_key`,
		rel.Name, rel.Origin, rel.Dest, rel.OriginKey, rel.DestKey)
	if err != nil {
		return fmt.Errorf("registering relationship %s: %w", rel.Name, err)
	}
	return nil
}

func (s *Store) columnSet(ctx context.Context, table string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	cols := map[string]struct{}{}
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notnull    int
			dflt       sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &primaryKey); err != nil {
			return nil, err
		}
		cols[name] = struct{}{}
	}
	return cols, rows.Err()
}

func (s *Store) idSet(ctx context.Context, table, idColumn string) (map[string]struct{}, error) {
	ids := map[string]struct{}{}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM %s`, quoteIdent(idColumn), quoteIdent(table)))
	if err != nil {
		// Freshly created table has the column; any error here is real.
		return nil, fmt.Errorf("reading ids from %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		ids[domain.FormatValue(normalizeValue(v))] = struct{}{}
	}
	return ids, rows.Err()
}

func upsertSQL(table string, columns []string, idColumn string) string {
	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	var sets []string
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
		marks[i] = "?"
		if c != idColumn {
			sets = append(sets, quoteIdent(c)+" = excluded."+quoteIdent(c))
		}
	}
	if len(sets) == 0 {
		return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s = %s RETURNING objectid`,
			quoteIdent(table), strings.Join(quoted, ", "), strings.Join(marks, ", "),
			quoteIdent(idColumn), quoteIdent(idColumn), "excluded."+quoteIdent(idColumn))
	}
	return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s RETURNING objectid`,
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(marks, ", "),
		quoteIdent(idColumn), strings.Join(sets, ", "))
}

// sqlType maps a value to its SQLite column affinity. Nil values fall back
// to TEXT.
func sqlType(v domain.Value) string {
	switch v.(type) {
	case int64, bool:
		return "INTEGER"
	case float64:
		return "REAL"
	default:
		return "TEXT"
	}
}

// columnType derives a column's affinity from its first non-nil value.
func columnType(rs domain.RecordSet, col string) string {
	for _, r := range rs.Records {
		if r.Fields[col] == nil {
			continue
		}
		return sqlType(r.Fields[col])
	}
	return "TEXT"
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
