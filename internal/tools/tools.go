// Package tools exposes the retrieval operations the agent may invoke:
// semantic search, category filtering, and two fan-out recommendation
// tools. Dispatch is closed over the four known names; tools never raise
// errors to the caller, failures come back as error-flagged results so the
// agent loop can react conversationally.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/grocer/internal/index"
	"github.com/kalambet/grocer/internal/openai"
)

// Tool identifiers. Dispatch recognizes exactly these.
const (
	ToolSearchProducts      = "search_products"
	ToolProductsByCategory  = "get_products_by_category"
	ToolSuggestForRecipe    = "suggest_products_for_recipe"
	ToolProductsForAthletes = "find_products_for_athletes"
)

// Default result limits per tool.
const (
	defaultSearchLimit   = 5
	defaultCategoryLimit = 10
	defaultRecipeLimit   = 8
	defaultAthleteLimit  = 10
)

// Querier is the slice of the embedding index the tools need.
type Querier interface {
	Query(ctx context.Context, text string, k int, filter index.Filter) ([]index.Match, error)
}

// Result is the outcome of one tool call, keyed back to the call that
// requested it. IsError results carry a human-readable message instead of
// a product list.
type Result struct {
	CallID  string
	Content string
	IsError bool
}

// Registry holds the tool set over a shared index.
type Registry struct {
	idx    Querier
	logger *slog.Logger
}

// NewRegistry creates the tool set over the given index.
func NewRegistry(idx Querier) *Registry {
	return &Registry{idx: idx, logger: slog.Default()}
}

// Definitions returns the tool catalog presented to the model: name,
// natural-language description, and typed parameters for each tool.
func (r *Registry) Definitions() []openai.ToolDef {
	return []openai.ToolDef{
		openai.FunctionTool(openai.FunctionDef{
			Name:        ToolSearchProducts,
			Description: "Search for products based on a query. Returns detailed product information including name, brand, price, and description.",
			Parameters: openai.Schema{
				Type: "object",
				Properties: map[string]openai.SchemaProperty{
					"query": {Type: "string", Description: "Free-text search query"},
					"limit": {Type: "integer", Description: "Maximum number of results (default 5)"},
				},
				Required: []string{"query"},
			},
		}),
		openai.FunctionTool(openai.FunctionDef{
			Name:        ToolProductsByCategory,
			Description: "Get products in an exact category (e.g. 'Snacks', 'Dairy & Eggs', 'Frozen Foods'). Returns empty when the category does not exist.",
			Parameters: openai.Schema{
				Type: "object",
				Properties: map[string]openai.SchemaProperty{
					"category": {Type: "string", Description: "Exact category name"},
					"limit":    {Type: "integer", Description: "Maximum number of results (default 10)"},
				},
				Required: []string{"category"},
			},
		}),
		openai.FunctionTool(openai.FunctionDef{
			Name:        ToolSuggestForRecipe,
			Description: "Suggest products suitable for a specific recipe type. Examples: 'pasta', 'salad', 'breakfast', 'dessert', 'soup'.",
			Parameters: openai.Schema{
				Type: "object",
				Properties: map[string]openai.SchemaProperty{
					"recipe_type": {Type: "string", Description: "Kind of recipe to shop for"},
					"limit":       {Type: "integer", Description: "Maximum number of results (default 8)"},
				},
				Required: []string{"recipe_type"},
			},
		}),
		openai.FunctionTool(openai.FunctionDef{
			Name:        ToolProductsForAthletes,
			Description: "Find products suitable for athletes - high protein, healthy options.",
			Parameters: openai.Schema{
				Type: "object",
				Properties: map[string]openai.SchemaProperty{
					"limit": {Type: "integer", Description: "Maximum number of results (default 10)"},
				},
			},
		}),
	}
}

// Dispatch executes one tool call. It never returns a Go error: unknown
// tool names, malformed arguments, and index failures all come back as
// error-flagged Results for the model to recover from.
func (r *Registry) Dispatch(ctx context.Context, call openai.ToolCall) Result {
	content, err := r.run(ctx, call)
	if err != nil {
		r.logger.Warn("tool call failed", "tool", call.Function.Name, "error", err)
		return Result{
			CallID:  call.ID,
			Content: fmt.Sprintf("tool %q failed: %v", call.Function.Name, err),
			IsError: true,
		}
	}
	return Result{CallID: call.ID, Content: content}
}

func (r *Registry) run(ctx context.Context, call openai.ToolCall) (string, error) {
	switch call.Function.Name {
	case ToolSearchProducts:
		return r.searchProducts(ctx, call.Function.Arguments)
	case ToolProductsByCategory:
		return r.productsByCategory(ctx, call.Function.Arguments)
	case ToolSuggestForRecipe:
		return r.suggestForRecipe(ctx, call.Function.Arguments)
	case ToolProductsForAthletes:
		return r.productsForAthletes(ctx, call.Function.Arguments)
	default:
		return "", fmt.Errorf("unknown tool")
	}
}

// parseArgs strictly decodes a tool-call argument payload. Arguments with
// the wrong type are rejected rather than coerced.
func parseArgs(raw string, into any) error {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func limitOr(limit *int, def int) int {
	if limit == nil || *limit <= 0 {
		return def
	}
	return *limit
}

// productSummary is the per-product payload serialized into tool results.
type productSummary struct {
	Name        string  `json:"name"`
	Brand       string  `json:"brand"`
	Price       string  `json:"price"`
	Description string  `json:"description,omitempty"`
	Score       float32 `json:"relevance_score,omitempty"`
}

func (r *Registry) searchProducts(ctx context.Context, raw string) (string, error) {
	var args struct {
		Query string `json:"query"`
		Limit *int   `json:"limit"`
	}
	if err := parseArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Query == "" {
		return "", fmt.Errorf("query is required")
	}

	matches, err := r.idx.Query(ctx, args.Query, limitOr(args.Limit, defaultSearchLimit), nil)
	if err != nil {
		return "", err
	}

	summaries := make([]productSummary, len(matches))
	for i, m := range matches {
		summaries[i] = productSummary{
			Name:        m.Name,
			Brand:       m.Brand,
			Price:       formatPrice(m.Price),
			Description: truncate(m.Description, 200),
			Score:       m.Score,
		}
	}
	return marshalSummaries(summaries)
}

func (r *Registry) productsByCategory(ctx context.Context, raw string) (string, error) {
	var args struct {
		Category string `json:"category"`
		Limit    *int   `json:"limit"`
	}
	if err := parseArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Category == "" {
		return "", fmt.Errorf("category is required")
	}

	// Exact-match metadata filter: a category string that matches nothing
	// yields an empty list, never a fuzzy fallback.
	matches, err := r.idx.Query(ctx, args.Category, limitOr(args.Limit, defaultCategoryLimit), index.Filter{"category": args.Category})
	if err != nil {
		return "", err
	}

	summaries := make([]productSummary, len(matches))
	for i, m := range matches {
		summaries[i] = productSummary{
			Name:  m.Name,
			Brand: m.Brand,
			Price: formatPrice(m.Price),
		}
	}
	return marshalSummaries(summaries)
}

func (r *Registry) suggestForRecipe(ctx context.Context, raw string) (string, error) {
	var args struct {
		RecipeType string `json:"recipe_type"`
		Limit      *int   `json:"limit"`
	}
	if err := parseArgs(raw, &args); err != nil {
		return "", err
	}
	if args.RecipeType == "" {
		return "", fmt.Errorf("recipe_type is required")
	}

	matches, err := r.fanOut(ctx, recipeQueries(args.RecipeType), limitOr(args.Limit, defaultRecipeLimit))
	if err != nil {
		return "", err
	}

	summaries := make([]productSummary, len(matches))
	for i, m := range matches {
		summaries[i] = productSummary{
			Name:  m.Name,
			Brand: m.Brand,
			Price: formatPrice(m.Price),
		}
	}
	return marshalSummaries(summaries)
}

func (r *Registry) productsForAthletes(ctx context.Context, raw string) (string, error) {
	var args struct {
		Limit *int `json:"limit"`
	}
	if err := parseArgs(raw, &args); err != nil {
		return "", err
	}

	matches, err := r.fanOut(ctx, athleteQueries(), limitOr(args.Limit, defaultAthleteLimit))
	if err != nil {
		return "", err
	}

	summaries := make([]productSummary, len(matches))
	for i, m := range matches {
		summaries[i] = productSummary{
			Name:        m.Name,
			Brand:       m.Brand,
			Price:       formatPrice(m.Price),
			Description: truncate(m.Description, 150),
		}
	}
	return marshalSummaries(summaries)
}

func marshalSummaries(summaries []productSummary) (string, error) {
	if summaries == nil {
		summaries = []productSummary{}
	}
	b, err := json.Marshal(summaries)
	if err != nil {
		return "", fmt.Errorf("marshaling results: %w", err)
	}
	return string(b), nil
}

func formatPrice(p float64) string {
	return fmt.Sprintf("$%.2f", p)
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
