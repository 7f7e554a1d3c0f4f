package sets

import (
	"context"
	"fmt"

	"clinical-report-be/internal/pkg/logger"
	"clinical-report-be/pkg/sqon"
)

// Resolver replaces "set_id:<id>" placeholders with the ids stored in the
// referenced selections.
type Resolver struct {
	client Client
	logger logger.ILogger
}

func NewResolver(client Client, logger logger.ILogger) *Resolver {
	return &Resolver{client: client, logger: logger}
}

// Resolve returns a tree without placeholders. The input tree is not
// modified; predicates without placeholders are shared with the result.
func (r *Resolver) Resolve(ctx context.Context, tree sqon.Node, requesterID, accessToken string) (sqon.Node, error) {
	ids := CollectSetIDs(tree)
	if len(ids) == 0 {
		return tree, nil
	}

	selections, err := r.fetch(ctx, ids, requesterID, accessToken)
	if err != nil {
		return nil, err
	}

	values := make(map[string][]string, len(ids))
	for _, id := range ids {
		content := []string{}
		if s, ok := selections[id]; ok && s.Content.IDs != nil {
			content = s.Content.IDs
		}
		values[sqon.Placeholder(id)] = content
	}

	r.logger.Debug("SETS", "Resolved saved selections", map[string]interface{}{
		"set_ids": ids,
	})
	return inject(tree, values), nil
}

// fetch loads the caller's own selections in one call and every other
// referenced id through the shared lookup.
func (r *Resolver) fetch(ctx context.Context, ids []string, requesterID, accessToken string) (map[string]SavedSet, error) {
	owned, err := r.client.UserSets(ctx, accessToken)
	if err != nil {
		r.logger.Error("SETS", "Failed to list user sets", map[string]interface{}{"error": err.Error()})
		return nil, fmt.Errorf("list user sets: %w", err)
	}

	byID := make(map[string]SavedSet, len(owned))
	for _, s := range owned {
		byID[s.ID] = s
	}

	for _, id := range ids {
		if _, ok := byID[id]; ok {
			continue
		}
		shared, err := r.client.SharedSet(ctx, accessToken, id)
		if err != nil {
			r.logger.Warn("SETS", "Shared set lookup failed", map[string]interface{}{
				"set_id": id,
				"error":  err.Error(),
			})
			return nil, fmt.Errorf("set %s: %w", id, err)
		}
		if shared == nil {
			return nil, fmt.Errorf("set %s: %w", id, ErrSelectionNotFound)
		}
		if !shared.SharedPublicly && (shared.OwnerID == "" || shared.OwnerID != requesterID) {
			return nil, fmt.Errorf("set %s is private: %w", id, ErrSelectionNotFound)
		}
		byID[id] = *shared
	}
	return byID, nil
}

// CollectSetIDs returns the distinct selection ids referenced by the tree in
// depth-first order.
func CollectSetIDs(tree sqon.Node) []string {
	seen := map[string]bool{}
	var ids []string
	for _, p := range sqon.Predicates(tree) {
		for _, v := range flattenValues(p.Value) {
			if !sqon.IsPlaceholder(v) {
				continue
			}
			id := sqon.PlaceholderID(v.(string))
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func inject(n sqon.Node, values map[string][]string) sqon.Node {
	switch v := n.(type) {
	case *sqon.Combinator:
		content := make([]sqon.Node, 0, len(v.Content))
		for _, child := range v.Content {
			content = append(content, inject(child, values))
		}
		return &sqon.Combinator{Op: v.Op, Content: content}
	case *sqon.Predicate:
		if !hasPlaceholder(v.Value) {
			return v
		}
		resolved := make([]any, 0, len(v.Value))
		for _, value := range flattenValues(v.Value) {
			if s, ok := value.(string); ok {
				if ids, found := values[s]; found {
					for _, id := range ids {
						resolved = append(resolved, id)
					}
					continue
				}
			}
			resolved = append(resolved, value)
		}
		return &sqon.Predicate{Op: v.Op, Field: v.Field, Value: resolved, Index: v.Index}
	}
	return n
}

func hasPlaceholder(values []any) bool {
	for _, v := range flattenValues(values) {
		if sqon.IsPlaceholder(v) {
			return true
		}
	}
	return false
}

func flattenValues(values []any) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		if inner, ok := v.([]any); ok {
			out = append(out, flattenValues(inner)...)
			continue
		}
		out = append(out, v)
	}
	return out
}
