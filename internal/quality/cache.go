package quality

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// Cache memoizes a tool's ToolSummary keyed by the content hash of the
// files it would read (spec.md §4.5: "Results may be memoized keyed by
// the content hash... Cache is optional; correctness must not depend on
// it"). Backed by a local modernc.org/sqlite database at the path passed
// to OpenCache. Run neither opens nor consults a Cache.
type Cache struct {
	db *sql.DB
}

// OpenCache opens (creating if absent) the gate cache at path.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("quality: open gate cache: %w", err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS gate_cache (
		content_hash TEXT NOT NULL,
		tool_name    TEXT NOT NULL,
		result_json  TEXT NOT NULL,
		computed_at  INTEGER NOT NULL,
		PRIMARY KEY (content_hash, tool_name)
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("quality: init gate cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error { return c.db.Close() }

// Get returns the cached summary for (contentHash, toolName), if present.
func (c *Cache) Get(ctx context.Context, contentHash, toolName string) (ToolSummary, bool, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT result_json FROM gate_cache WHERE content_hash = ? AND tool_name = ?`,
		contentHash, toolName,
	)
	var raw string
	switch err := row.Scan(&raw); err {
	case nil:
	case sql.ErrNoRows:
		return ToolSummary{}, false, nil
	default:
		return ToolSummary{}, false, fmt.Errorf("quality: read gate cache: %w", err)
	}

	var summary ToolSummary
	if err := json.Unmarshal([]byte(raw), &summary); err != nil {
		return ToolSummary{}, false, fmt.Errorf("quality: decode cached summary: %w", err)
	}
	return summary, true, nil
}

// Put stores summary for (contentHash, toolName), overwriting any prior
// entry (invalidation is by hash change, spec.md §4.5: single-writer under
// a mutex keyed by cache entry is satisfied here by sqlite's own
// connection-level serialization).
func (c *Cache) Put(ctx context.Context, contentHash, toolName string, summary ToolSummary, computedAt int64) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("quality: encode summary for cache: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO gate_cache (content_hash, tool_name, result_json, computed_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(content_hash, tool_name) DO UPDATE SET result_json = excluded.result_json, computed_at = excluded.computed_at`,
		contentHash, toolName, string(raw), computedAt,
	)
	if err != nil {
		return fmt.Errorf("quality: write gate cache: %w", err)
	}
	return nil
}
