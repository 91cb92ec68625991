package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLiteBackend stores each key in its own table of a single database file.
// The cache_entries catalog lists committed keys; a table without a catalog
// row is never read.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens or creates the cache file at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteBackend, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect cache database: %w", err)
	}

	b := &SQLiteBackend{db: db}
	if err := b.configure(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := b.createCatalog(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) configure(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := b.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (b *SQLiteBackend) createCatalog(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		table_name TEXT NOT NULL,
		schema TEXT NOT NULL,
		row_count INTEGER NOT NULL,
		written_at TEXT NOT NULL
	)`
	if _, err := b.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create cache catalog: %w", err)
	}
	return nil
}

// tableName maps a key to its data table. The prefix differs from the
// catalog's so no key can name the catalog.
func tableName(key string) string {
	return "stage_" + key
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqlType(ft FieldType) string {
	switch ft {
	case FieldFloat:
		return "REAL"
	case FieldInt, FieldBool:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

// Load reads the entry for key.
func (b *SQLiteBackend) Load(ctx context.Context, key string) (*Table, bool, error) {
	if err := checkKey(key); err != nil {
		return nil, false, err
	}

	var name, schema string
	err := b.db.QueryRowContext(ctx,
		`SELECT table_name, schema FROM cache_entries WHERE key = ?`, key,
	).Scan(&name, &schema)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read catalog: %w", err)
	}

	var fields []Field
	if err := json.Unmarshal([]byte(schema), &fields); err != nil {
		return nil, false, fmt.Errorf("decode schema of %s: %w", key, err)
	}

	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = quoteIdent(f.Name)
	}
	query := "SELECT row_id"
	if len(cols) > 0 {
		query += ", " + strings.Join(cols, ", ")
	}
	query += " FROM " + quoteIdent(name) + " ORDER BY row_id"

	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	defer func() { _ = rows.Close() }()

	t := NewTable(fields...)
	for rows.Next() {
		var rowID int64
		dest := make([]any, len(fields)+1)
		dest[0] = &rowID
		for i, f := range fields {
			dest[i+1] = scanTarget(f.Type)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, false, fmt.Errorf("scan %s: %w", key, err)
		}
		row := make([]any, len(fields))
		for i, f := range fields {
			v, err := fromScan(f.Type, dest[i+1])
			if err != nil {
				return nil, false, fmt.Errorf("decode %s.%s: %w", key, f.Name, err)
			}
			row[i] = v
		}
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate %s: %w", key, err)
	}
	return t, true, nil
}

func scanTarget(ft FieldType) any {
	switch ft {
	case FieldFloat:
		return new(sql.NullFloat64)
	case FieldInt, FieldBool:
		return new(sql.NullInt64)
	default:
		return new(sql.NullString)
	}
}

// fromScan converts a scanned column back to its cell type. Times are stored
// as RFC 3339 text and bools as 0/1.
func fromScan(ft FieldType, v any) (any, error) {
	switch ft {
	case FieldFloat:
		n := v.(*sql.NullFloat64)
		if !n.Valid {
			return nil, nil
		}
		return n.Float64, nil
	case FieldInt:
		n := v.(*sql.NullInt64)
		if !n.Valid {
			return nil, nil
		}
		return n.Int64, nil
	case FieldBool:
		n := v.(*sql.NullInt64)
		if !n.Valid {
			return nil, nil
		}
		return n.Int64 != 0, nil
	case FieldTime:
		s := v.(*sql.NullString)
		if !s.Valid {
			return nil, nil
		}
		return time.Parse(time.RFC3339Nano, s.String)
	default:
		s := v.(*sql.NullString)
		if !s.Valid {
			return nil, nil
		}
		return s.String, nil
	}
}

func toStored(v any) any {
	switch c := v.(type) {
	case time.Time:
		return c.UTC().Format(time.RFC3339Nano)
	case bool:
		if c {
			return int64(1)
		}
		return int64(0)
	case float64:
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil
		}
		return c
	default:
		return c
	}
}

// Save replaces the entry for key in a single transaction.
func (b *SQLiteBackend) Save(ctx context.Context, key string, t *Table) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := t.Validate(); err != nil {
		return err
	}
	schema, err := json.Marshal(t.Fields)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	name := quoteIdent(tableName(key))
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
		return fmt.Errorf("drop %s: %w", key, err)
	}

	defs := []string{"row_id INTEGER PRIMARY KEY"}
	cols := make([]string, len(t.Fields))
	marks := make([]string, len(t.Fields)+1)
	marks[0] = "?"
	for i, f := range t.Fields {
		cols[i] = quoteIdent(f.Name)
		defs = append(defs, cols[i]+" "+sqlType(f.Type))
		marks[i+1] = "?"
	}
	if _, err := tx.ExecContext(ctx, "CREATE TABLE "+name+" ("+strings.Join(defs, ", ")+")"); err != nil {
		return fmt.Errorf("create %s: %w", key, err)
	}

	insert := "INSERT INTO " + name + " (" + strings.Join(append([]string{"row_id"}, cols...), ", ") +
		") VALUES (" + strings.Join(marks, ", ") + ")"
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("prepare insert %s: %w", key, err)
	}
	defer func() { _ = stmt.Close() }()

	args := make([]any, len(t.Fields)+1)
	for i, row := range t.Rows {
		args[0] = int64(i)
		for j, cell := range row {
			args[j+1] = toStored(cell)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert %s row %d: %w", key, i, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cache_entries (key, table_name, schema, row_count, written_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			table_name = excluded.table_name,
			schema = excluded.schema,
			row_count = excluded.row_count,
			written_at = excluded.written_at`,
		key, tableName(key), string(schema), len(t.Rows), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("update catalog for %s: %w", key, err)
	}
	return tx.Commit()
}

// Keys lists committed keys in lexical order.
func (b *SQLiteBackend) Keys(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key FROM cache_entries ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Delete removes the entry for key. Deleting an absent key is not an error.
func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete catalog row %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(tableName(key))); err != nil {
		return fmt.Errorf("drop %s: %w", key, err)
	}
	return tx.Commit()
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
