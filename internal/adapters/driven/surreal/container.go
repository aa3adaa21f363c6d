package surreal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
)

// Ensure Container implements the interface.
var _ driven.Container = (*Container)(nil)

// Container is a SurrealDB table holding documents.
type Container struct {
	db   *Database
	name string
	path domain.PartitionKeyPath
}

// row is the stored form of a document.
type row struct {
	Key  string `json:"key"`
	Body string `json:"body"`
}

// Name returns the container name.
func (c *Container) Name() string {
	return c.name
}

// PartitionKeyPath returns the container's partition key path.
func (c *Container) PartitionKeyPath(_ context.Context) (domain.PartitionKeyPath, error) {
	return c.path, nil
}

// Count returns the number of documents.
func (c *Container) Count(ctx context.Context) (int64, error) {
	results, err := query[[]struct {
		Count int64 `json:"count"`
	}](ctx, c.db.db, "SELECT count() FROM type::table($tb) GROUP ALL", map[string]any{"tb": c.name})
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", c.name, err)
	}
	if len(results) == 0 || len(results[0].Result) == 0 {
		return 0, nil
	}
	return results[0].Result[0].Count, nil
}

// ReadPage returns documents with keys after continuation in key order.
// A non-empty query is a SurrealQL condition over doc, e.g. doc.tenant = 'a'.
func (c *Container) ReadPage(ctx context.Context, query, continuation string) (driven.Page, error) {
	sql := "SELECT key, body FROM type::table($tb) WHERE key > $after"
	if query != "" {
		sql += " AND (" + query + ")"
	}
	sql += " ORDER BY key LIMIT $limit"

	results, err := queryRows(ctx, c.db, sql, map[string]any{
		"tb":    c.name,
		"after": continuation,
		"limit": c.db.pageSize + 1,
	})
	if err != nil {
		if isRetryable(err) {
			return driven.Page{RateLimited: true}, nil
		}
		return driven.Page{}, fmt.Errorf("reading %s: %w", c.name, err)
	}

	page := driven.Page{Items: make([]domain.Document, 0, len(results))}
	for _, r := range results {
		page.Items = append(page.Items, domain.Document{ID: r.Key, Body: json.RawMessage(r.Body)})
	}
	if len(page.Items) > c.db.pageSize {
		page.Items = page.Items[:c.db.pageSize]
		page.Continuation = page.Items[len(page.Items)-1].ID
	}
	return page, nil
}

func queryRows(ctx context.Context, d *Database, sql string, vars map[string]any) ([]row, error) {
	results, err := query[[]row](ctx, d.db, sql, vars)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0].Result, nil
}

// Upsert writes a document keyed by its identifier. Write conflicts are
// reported as rate limited so the writer retries them.
func (c *Container) Upsert(ctx context.Context, _ domain.PartitionKeyValue, body []byte) (driven.UpsertResult, error) {
	doc, err := domain.NewDocument(body)
	if err != nil {
		return driven.UpsertResult{Status: "invalid document: " + err.Error()}, nil
	}
	err = c.put(ctx, doc)
	switch {
	case err == nil:
		return driven.UpsertResult{Success: true, Status: "OK"}, nil
	case isRetryable(err):
		return driven.UpsertResult{RateLimited: true, Status: err.Error()}, nil
	case ctx.Err() != nil:
		return driven.UpsertResult{}, ctx.Err()
	default:
		return driven.UpsertResult{Status: err.Error()}, nil
	}
}

// Put writes a document directly. Used for seeding.
func (c *Container) Put(ctx context.Context, body string) error {
	doc, err := domain.NewDocument([]byte(body))
	if err != nil {
		return err
	}
	return c.put(ctx, doc)
}

func (c *Container) put(ctx context.Context, doc domain.Document) error {
	fields, err := doc.Fields()
	if err != nil {
		return err
	}
	_, err = query[any](ctx, c.db.db,
		"UPSERT type::thing($tb, $key) CONTENT { key: $key, body: $body, doc: $doc } RETURN NONE",
		map[string]any{
			"tb":   c.name,
			"key":  doc.ID,
			"body": string(doc.Body),
			"doc":  fields,
		})
	if err != nil {
		return fmt.Errorf("writing %s: %w", doc.ID, err)
	}
	return nil
}
