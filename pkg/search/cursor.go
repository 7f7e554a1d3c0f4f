package search

import (
	"context"
	"fmt"
	"time"

	"clinical-report-be/internal/pkg/logger"
)

const DefaultPageSize = 1000

// CursorState tracks one exhaustive retrieval.
type CursorState struct {
	TotalMatched int64
	FetchedSoFar int64
	LastSortKey  []any
}

// PageFunc receives the _source documents of one non-empty page. Returning an
// error aborts the run.
type PageFunc func(rows []map[string]any, state CursorState) error

type CursorOptions struct {
	// PageSize applies when the request carries no explicit Size.
	PageSize int
	OnPage   PageFunc
	// OnFinish is called once after the last page, with the engine's total.
	OnFinish func(total int64)
	// OnFetch observes the latency of each page request.
	OnFetch func(index string, took time.Duration)
}

// Cursor drains a result set page by page using search_after.
type Cursor struct {
	client Client
	logger logger.ILogger
}

func NewCursor(client Client, logger logger.ILogger) *Cursor {
	return &Cursor{client: client, logger: logger}
}

// Run pages through every hit of req on index. req must carry a sort whose
// last key is unique per document, otherwise search_after may skip or repeat
// rows. Pages are requested strictly one after the other.
func (c *Cursor) Run(ctx context.Context, index string, req *Request, opts CursorOptions) error {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if req != nil && req.Size != nil {
		pageSize = *req.Size
	}

	state := CursorState{}
	for {
		body := req.Clone()
		body.Size = IntPtr(pageSize)
		body.TrackTotalHits = true
		body.SearchAfter = nil
		if state.LastSortKey != nil {
			body.SearchAfter = SafeSortKey(state.LastSortKey)
		}

		started := time.Now()
		resp, err := c.client.Search(ctx, index, body)
		if opts.OnFetch != nil {
			opts.OnFetch(index, time.Since(started))
		}
		if err != nil {
			c.logger.Error("SEARCH", "Paged search failed", map[string]interface{}{
				"index":   index,
				"fetched": state.FetchedSoFar,
				"error":   err.Error(),
			})
			return fmt.Errorf("paged search on %s: %w", index, err)
		}

		hits := resp.Hits.Hits
		// the freshest total wins; the index may change between pages
		state.TotalMatched = resp.Hits.Total.Value
		state.FetchedSoFar += int64(len(hits))

		if len(hits) > 0 {
			state.LastSortKey = hits[len(hits)-1].Sort
			if opts.OnPage != nil {
				if err := opts.OnPage(resp.Sources(), state); err != nil {
					return err
				}
			}
		}

		// An empty page means the result set shrank under us.
		if state.FetchedSoFar >= state.TotalMatched || len(hits) == 0 {
			break
		}
		if len(state.LastSortKey) == 0 {
			return fmt.Errorf("paged search on %s: hit carries no sort values, request needs a sort", index)
		}
	}

	c.logger.Debug("SEARCH", "Paged search finished", map[string]interface{}{
		"index":   index,
		"total":   state.TotalMatched,
		"fetched": state.FetchedSoFar,
	})
	if opts.OnFinish != nil {
		opts.OnFinish(state.TotalMatched)
	}
	return nil
}
