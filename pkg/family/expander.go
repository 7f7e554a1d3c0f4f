// Package family widens a participant selection to every member of the
// families the selected participants belong to.
package family

import (
	"context"
	"fmt"

	"clinical-report-be/internal/pkg/logger"
	"clinical-report-be/pkg/search"
	"clinical-report-be/pkg/sqon"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultEntityField = "participant_id"
	DefaultFamilyField = "families_id"
	DefaultBatchSize   = 1000
)

type Expander struct {
	client search.Client
	logger logger.ILogger

	// MaxBuckets is the terms aggregation size used by every step.
	// Families or participants beyond it are silently dropped by the engine.
	MaxBuckets int
	// FamilyBatchSize caps the family ids sent in one relatives query.
	FamilyBatchSize int
	EntityField     string
	FamilyField     string
}

func NewExpander(client search.Client, logger logger.ILogger) *Expander {
	return &Expander{
		client:          client,
		logger:          logger,
		MaxBuckets:      search.DefaultMaxBuckets,
		FamilyBatchSize: DefaultBatchSize,
		EntityField:     DefaultEntityField,
		FamilyField:     DefaultFamilyField,
	}
}

// Expand returns a filter selecting the participants matched by query plus
// all of their relatives:
//
//	{op: and, content: [{op: in, content: {field: participant_id, value: [...]}}]}
//
// Selected ids come first, in bucket order, followed by relatives not
// already selected.
func (e *Expander) Expand(ctx context.Context, index string, query any) (sqon.Node, error) {
	selected, err := search.FieldValues(ctx, e.client, index, query, e.EntityField, e.MaxBuckets)
	if err != nil {
		return nil, fmt.Errorf("selected participants: %w", err)
	}

	families, err := search.FieldValues(ctx, e.client, index, sqon.TermsQuery(e.EntityField, selected), e.FamilyField, e.MaxBuckets)
	if err != nil {
		return nil, fmt.Errorf("families of selected participants: %w", err)
	}

	relatives, err := e.relatives(ctx, index, families)
	if err != nil {
		return nil, err
	}

	merged := union(selected, relatives)
	if !isSubset(selected, merged) {
		e.logger.Error("FAMILY", "Expanded participants do not contain the selection", map[string]interface{}{
			"selected": len(selected),
			"expanded": len(merged),
		})
	}

	e.logger.Info("FAMILY", "Expanded selection with relatives", map[string]interface{}{
		"index":     index,
		"selected":  len(selected),
		"families":  len(families),
		"relatives": len(relatives),
		"total":     len(merged),
	})

	return sqon.And(sqon.In(e.EntityField, merged)), nil
}

// relatives queries participants of the given families, one aggregation per
// batch. The first failing batch cancels the others.
func (e *Expander) relatives(ctx context.Context, index string, families []string) ([]string, error) {
	batches := chunk(families, e.FamilyBatchSize)
	if len(batches) == 0 {
		// terms on an empty list matches nothing
		batches = [][]string{{}}
	}

	results := make([][]string, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		g.Go(func() error {
			ids, err := search.FieldValues(gctx, e.client, index, sqon.TermsQuery(e.FamilyField, batch), e.EntityField, e.MaxBuckets)
			if err != nil {
				return fmt.Errorf("relatives batch %d: %w", i, err)
			}
			results[i] = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []string
	for _, ids := range results {
		out = union(out, ids)
	}
	return out, nil
}

// FamilySQON builds the filter used by the family clinical report: every
// participant whose family field is among the families matched by query, or
// whose id was listed explicitly in the caller's filter.
func (e *Expander) FamilySQON(ctx context.Context, index string, query any, tree sqon.Node) (sqon.Node, error) {
	families, err := search.FieldValues(ctx, e.client, index, query, e.FamilyField, e.MaxBuckets)
	if err != nil {
		return nil, fmt.Errorf("families: %w", err)
	}

	var explicit []string
	if c, ok := tree.(*sqon.Combinator); ok {
		for _, child := range c.Content {
			if p, ok := child.(*sqon.Predicate); ok && p.Field == e.EntityField {
				for _, v := range p.Value {
					explicit = append(explicit, fmt.Sprint(v))
				}
				break
			}
		}
	}

	return &sqon.Combinator{Op: sqon.OpOr, Content: []sqon.Node{
		sqon.In(e.FamilyField, families),
		sqon.In(e.EntityField, explicit),
	}}, nil
}

func chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func isSubset(x, y []string) bool {
	set := make(map[string]struct{}, len(y))
	for _, id := range y {
		set[id] = struct{}{}
	}
	for _, id := range x {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
