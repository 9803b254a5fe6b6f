package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kalambet/grocer/internal/index"
)

func TestFanOut_DedupKeepsFirstOccurrence(t *testing.T) {
	// "shared" appears in two sub-queries with different scores; the first
	// sub-query's version must survive the merge.
	q := &fakeQuerier{byQuery: map[string][]index.Match{
		"pasta ingredients": {
			match("shared", "Olive Oil", 0, 0.9),
			match("a", "Spaghetti", 1, 0.8),
		},
		"pasta sauce": {
			match("shared", "Olive Oil", 0, 0.5),
			match("b", "Marinara", 2, 0.4),
		},
		"pasta sides": {
			match("c", "Garlic Bread", 3, 0.3),
		},
	}}
	reg := NewRegistry(q)

	merged, err := reg.fanOut(context.Background(), recipeQueries("pasta"), 8)
	if err != nil {
		t.Fatalf("fanOut: %v", err)
	}

	wantIDs := []string{"shared", "a", "b", "c"}
	if len(merged) != len(wantIDs) {
		t.Fatalf("len(merged) = %d, want %d", len(merged), len(wantIDs))
	}
	for i, want := range wantIDs {
		if merged[i].ProductID != want {
			t.Errorf("merged[%d] = %s, want %s", i, merged[i].ProductID, want)
		}
	}
	// First occurrence wins: the 0.9-scored copy of "shared".
	if merged[0].Score != 0.9 {
		t.Errorf("merged[0].Score = %v, want 0.9", merged[0].Score)
	}
}

func TestFanOut_TruncatesToLimit(t *testing.T) {
	q := &fakeQuerier{byQuery: map[string][]index.Match{
		"pasta ingredients": {
			match("a", "A", 0, 0.9),
			match("b", "B", 1, 0.8),
		},
		"pasta sauce": {
			match("c", "C", 2, 0.7),
		},
		"pasta sides": {
			match("d", "D", 3, 0.6),
		},
	}}
	reg := NewRegistry(q)

	merged, err := reg.fanOut(context.Background(), recipeQueries("pasta"), 3)
	if err != nil {
		t.Fatalf("fanOut: %v", err)
	}
	if len(merged) != 3 {
		t.Fatalf("len(merged) = %d, want 3", len(merged))
	}
	if merged[2].ProductID != "c" {
		t.Errorf("merged[2] = %s, want c (d truncated)", merged[2].ProductID)
	}
}

func TestFanOut_BoundsSubQueryK(t *testing.T) {
	// Each sub-query asks for a fixed small k, not the full limit, so the
	// first sub-query cannot crowd out the rest of the mix.
	q := &fakeQuerier{}
	reg := NewRegistry(q)

	if _, err := reg.fanOut(context.Background(), recipeQueries("pasta"), 8); err != nil {
		t.Fatalf("fanOut: %v", err)
	}
	if len(q.calls) != 3 {
		t.Fatalf("sub-queries = %d, want 3", len(q.calls))
	}
	for i, c := range q.calls {
		if c.k != subQueryK {
			t.Errorf("sub-query[%d] k = %d, want %d", i, c.k, subQueryK)
		}
	}
}

func TestRecipeQueries(t *testing.T) {
	got := recipeQueries("pasta")
	want := []string{"pasta ingredients", "pasta sauce", "pasta sides"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("queries[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDispatch_AthletesFansOutFixedQueries(t *testing.T) {
	q := &fakeQuerier{byQuery: map[string][]index.Match{
		"high protein lean meat chicken turkey fish": {match("turkey", "Ground Turkey", 0, 0.9)},
		"greek yogurt protein":                       {match("yogurt", "Greek Yogurt", 1, 0.8)},
		"organic healthy vegetables":                 {match("kale", "Kale", 2, 0.7)},
	}}
	reg := NewRegistry(q)

	res := reg.Dispatch(context.Background(), call(ToolProductsForAthletes, `{}`))
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}

	if len(q.calls) != 3 {
		t.Fatalf("sub-queries = %d, want 3", len(q.calls))
	}
	wantTexts := athleteQueries()
	for i, c := range q.calls {
		if c.text != wantTexts[i] {
			t.Errorf("sub-query[%d] = %q, want %q", i, c.text, wantTexts[i])
		}
	}

	var got []map[string]any
	if err := json.Unmarshal([]byte(res.Content), &got); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0]["name"] != "Ground Turkey" {
		t.Errorf("first result = %v, want the protein sub-query's top match", got[0])
	}
}
