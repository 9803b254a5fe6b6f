package tools

import (
	"context"
	"fmt"

	"github.com/kalambet/grocer/internal/index"
)

// recipeQueries derives the fixed sub-queries for a recipe type. The set
// and its order are part of the tool's contract: the merge below keeps the
// first occurrence of each product, so earlier sub-queries win.
func recipeQueries(recipeType string) []string {
	return []string{
		fmt.Sprintf("%s ingredients", recipeType),
		fmt.Sprintf("%s sauce", recipeType),
		fmt.Sprintf("%s sides", recipeType),
	}
}

// athleteQueries is the fixed nutrition-oriented sub-query set, in priority
// order.
func athleteQueries() []string {
	return []string{
		"high protein lean meat chicken turkey fish",
		"greek yogurt protein",
		"organic healthy vegetables",
	}
}

// subQueryK caps each sub-query's contribution so one sub-query can never
// fill the merged list on its own; every sub-query gets a slot in the mix.
const subQueryK = 3

// fanOut runs each sub-query in order and merges the results by product id:
// first occurrence wins, so the sub-query priority order is preserved. The
// merged list is truncated to limit and never contains duplicates.
func (r *Registry) fanOut(ctx context.Context, queries []string, limit int) ([]index.Match, error) {
	seen := make(map[string]bool)
	var merged []index.Match

	for _, q := range queries {
		matches, err := r.idx.Query(ctx, q, subQueryK, nil)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if seen[m.ProductID] {
				continue
			}
			seen[m.ProductID] = true
			merged = append(merged, m)
		}
	}

	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}
