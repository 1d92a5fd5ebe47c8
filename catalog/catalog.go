// Package catalog keeps an SQLite index of the FITS keyword values of
// ingested products, so files can be found by header content.
package catalog

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/spacetelescope/stdatamodels-go/canonicaljson"

	_ "modernc.org/sqlite"
)

const createProductsTable = `
CREATE TABLE IF NOT EXISTS products (
    id          TEXT PRIMARY KEY,
    filename    TEXT NOT NULL,
    model_type  TEXT NOT NULL,
    ingested_at DATETIME NOT NULL
)`

const createKeywordsTable = `
CREATE TABLE IF NOT EXISTS keywords (
    product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
    hdu        TEXT NOT NULL,
    keyword    TEXT NOT NULL,
    path       TEXT NOT NULL,
    value      TEXT NOT NULL
)`

const createKeywordsIndex = `
CREATE INDEX IF NOT EXISTS keywords_lookup ON keywords (hdu, keyword, value)`

// ErrNotFound is returned when a product is not in the catalog.
var ErrNotFound = errors.New("product not found")

// KeywordValue is one header keyword of a product.
type KeywordValue struct {
	HDU     string
	Keyword string
	// Path is the model tree path the keyword maps to.
	Path  string
	Value any
}

// Product is an ingested file.
type Product struct {
	ID         string
	Filename   string
	ModelType  string
	IngestedAt time.Time
	Keywords   []KeywordValue
}

// Catalog is an SQLite-backed keyword index.
type Catalog struct {
	db *sql.DB
}

// Open opens the catalog database at path, creating it if needed.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	for _, stmt := range []struct{ what, sql string }{
		{"set WAL mode", "PRAGMA journal_mode=WAL"},
		{"set busy timeout", "PRAGMA busy_timeout = 5000"},
		{"enable foreign keys", "PRAGMA foreign_keys = ON"},
		{"create products table", createProductsTable},
		{"create keywords table", createKeywordsTable},
		{"create keywords index", createKeywordsIndex},
	} {
		if _, err := db.Exec(stmt.sql); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", stmt.what, err)
		}
	}
	return &Catalog{db: db}, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Ingest stores p under a new ULID and returns it. p.ID is ignored.
func (c *Catalog) Ingest(ctx context.Context, p Product) (string, error) {
	id := ulid.Make().String()
	at := p.IngestedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO products (id, filename, model_type, ingested_at) VALUES (?, ?, ?, ?)`,
		id, p.Filename, p.ModelType, at,
	); err != nil {
		return "", fmt.Errorf("insert product: %w", err)
	}
	for _, kw := range p.Keywords {
		v, err := encodeValue(kw.Value)
		if err != nil {
			return "", fmt.Errorf("keyword %s: %w", kw.Keyword, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO keywords (product_id, hdu, keyword, path, value) VALUES (?, ?, ?, ?, ?)`,
			id, strings.ToUpper(kw.HDU), strings.ToUpper(kw.Keyword), kw.Path, v,
		); err != nil {
			return "", fmt.Errorf("insert keyword: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// Product returns the product with id, without its keywords.
func (c *Catalog) Product(ctx context.Context, id string) (*Product, error) {
	p := &Product{}
	err := c.db.QueryRowContext(ctx,
		`SELECT id, filename, model_type, ingested_at FROM products WHERE id = ?`, id,
	).Scan(&p.ID, &p.Filename, &p.ModelType, &p.IngestedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// Keywords returns the keywords of product id in HDU, keyword order.
func (c *Catalog) Keywords(ctx context.Context, id string) ([]KeywordValue, error) {
	if _, err := c.Product(ctx, id); err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT hdu, keyword, path, value FROM keywords WHERE product_id = ? ORDER BY hdu, keyword, path`, id)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	defer rows.Close()

	var out []KeywordValue
	for rows.Next() {
		var kw KeywordValue
		var raw string
		if err := rows.Scan(&kw.HDU, &kw.Keyword, &kw.Path, &raw); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		if kw.Value, err = decodeValue(raw); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kw.Keyword, err)
		}
		out = append(out, kw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keywords: %w", err)
	}
	return out, nil
}

// Find returns the products whose keyword in hdu equals value, oldest
// first. Values compare by canonical JSON, so 2 and 2.0 match.
func (c *Catalog) Find(ctx context.Context, hdu, keyword string, value any) ([]*Product, error) {
	v, err := encodeValue(value)
	if err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT DISTINCT p.id, p.filename, p.model_type, p.ingested_at
		FROM products p JOIN keywords k ON k.product_id = p.id
		WHERE k.hdu = ? AND k.keyword = ? AND k.value = ?
		ORDER BY p.ingested_at, p.id`,
		strings.ToUpper(hdu), strings.ToUpper(keyword), v,
	)
	if err != nil {
		return nil, fmt.Errorf("find products: %w", err)
	}
	defer rows.Close()

	var out []*Product
	for rows.Next() {
		p := &Product{}
		if err := rows.Scan(&p.ID, &p.Filename, &p.ModelType, &p.IngestedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return out, nil
}

func encodeValue(v any) (string, error) {
	return canonicaljson.String(v)
}

// decodeValue restores a stored value. Integral numbers come back as int64.
func decodeValue(raw string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return numbers(v), nil
}

func numbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case []any:
		for i := range x {
			x[i] = numbers(x[i])
		}
	case map[string]any:
		for k := range x {
			x[k] = numbers(x[k])
		}
	}
	return v
}
