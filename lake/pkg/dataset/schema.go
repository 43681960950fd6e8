package dataset

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrTableNotFound is returned when a schema is requested for a missing table.
var ErrTableNotFound = errors.New("table not found")

// Column describes one table column.
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
}

// TableSchema is a table's columns plus a few sample rows.
type TableSchema struct {
	TableName  string   `json:"table_name"`
	Columns    []Column `json:"columns"`
	SampleRows []Row    `json:"sample_data"`
}

// Schema introspects a table. Results are cached for the configured TTL.
func (s *Store) Schema(ctx context.Context, table string) (*TableSchema, error) {
	if item := s.schemas.Get(table); item != nil {
		return item.Value(), nil
	}
	if !validIdentifier(table) {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}

	schema, err := s.loadSchema(ctx, table)
	if err != nil {
		return nil, err
	}
	s.schemas.Set(table, schema, s.cfg.SchemaCacheTTL)
	return schema, nil
}

// HasTable reports whether a table exists.
func (s *Store) HasTable(ctx context.Context, table string) (bool, error) {
	tables, err := s.ListTables(ctx)
	if err != nil {
		return false, err
	}
	for _, t := range tables {
		if strings.EqualFold(t, table) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) loadSchema(ctx context.Context, table string) (*TableSchema, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info('%s')", table))
	if err != nil {
		return nil, fmt.Errorf("failed to get table schema: %w", err)
	}
	defer rows.Close()

	schema := &TableSchema{TableName: table}
	for rows.Next() {
		var (
			cid     any
			name    string
			typ     any
			notNull any
			dflt    any
			pk      any
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		schema.Columns = append(schema.Columns, Column{
			Name:       name,
			Type:       fmt.Sprint(typ),
			Nullable:   !truthy(notNull),
			PrimaryKey: truthy(pk),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate column info: %w", err)
	}
	if len(schema.Columns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}

	sample, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM "%s" LIMIT %d`, table, defaultSampleRows))
	if err != nil {
		return nil, fmt.Errorf("failed to read sample rows: %w", err)
	}
	defer sample.Close()

	cols, err := sample.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read sample columns: %w", err)
	}
	for sample.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := sample.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan sample row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		schema.SampleRows = append(schema.SampleRows, NewRow(cols, values))
	}
	if err := sample.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sample rows: %w", err)
	}
	return schema, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case int32:
		return t != 0
	case int:
		return t != 0
	case []byte:
		return string(t) == "1" || strings.EqualFold(string(t), "true")
	case string:
		return t == "1" || strings.EqualFold(t, "true")
	default:
		return false
	}
}
