// Package postgres implements the catalog read side, the sync-state store,
// the enrichment tables, and the bitmagnet schema setup on top of the shared
// database wrapper.
//
// SQL is assembled from two kinds of material only: identifiers validated
// against a strict pattern, and bound parameters. Raw config strings never
// reach a statement unquoted.
package postgres

import (
	"fmt"
	"strings"

	"github.com/hermesindex/hermes/internal/config"
)

// quoteIdent validates and double-quotes a bare identifier.
func quoteIdent(name string) (string, error) {
	if err := config.ValidateIdentifier(name); err != nil {
		return "", err
	}
	return `"` + name + `"`, nil
}

// quoteTable validates and quotes a table name, allowing one schema prefix.
func quoteTable(name string) (string, error) {
	if err := config.ValidateTable(name); err != nil {
		return "", err
	}
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = `"` + part + `"`
	}
	return strings.Join(parts, "."), nil
}

// quoteQualified quotes alias.column.
func quoteQualified(alias, column string) (string, error) {
	a, err := quoteIdent(alias)
	if err != nil {
		return "", err
	}
	c, err := quoteIdent(column)
	if err != nil {
		return "", err
	}
	return a + "." + c, nil
}

// placeholders renders n comma-separated bind markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// anySlice converts typed ids to bind arguments.
func anySlice(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// schemaTable joins a validated schema and table name.
func schemaTable(schema, table string) (string, error) {
	s, err := quoteIdent(schema)
	if err != nil {
		return "", fmt.Errorf("schema: %w", err)
	}
	t, err := quoteIdent(table)
	if err != nil {
		return "", fmt.Errorf("table: %w", err)
	}
	return s + "." + t, nil
}
