// Package catalog turns raw product feed records into canonical Products
// and the text blobs used for embedding.
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// ErrValidation is returned when a raw record cannot yield even a fallback
// product id. All other missing fields degrade to defaults instead.
var ErrValidation = errors.New("invalid catalog record")

// Defaults substituted for absent or null fields before indexing.
const (
	DefaultID    = "unknown"
	DefaultName  = "Unknown Product"
	DefaultBrand = "unknown"
)

// Product is a fully-populated catalog entry. Every field is non-null:
// Normalize substitutes documented defaults so the index never sees a
// missing value. Products are immutable once created.
type Product struct {
	ID          string
	Name        string
	Brand       string
	Description string
	Categories  []string
	Price       float64
}

// Normalize converts one raw feed record into a Product. It accepts both the
// upstream feed shape (sku, brandName, price object with amount in cents,
// categories as objects with a name field) and the flat shape (id, brand,
// numeric price, categories as strings).
func Normalize(raw map[string]any) (Product, error) {
	id, ok := stringField(raw, "sku", "id")
	if !ok {
		return Product{}, fmt.Errorf("%w: no id or sku field", ErrValidation)
	}
	if id == "" {
		id = DefaultID
	}

	name, _ := stringField(raw, "name")
	if name == "" {
		name = DefaultName
	}

	brand, _ := stringField(raw, "brandName", "brand")
	if brand == "" {
		brand = DefaultBrand
	}

	desc, _ := stringField(raw, "description")

	return Product{
		ID:          id,
		Name:        name,
		Brand:       brand,
		Description: stripHTML(desc),
		Categories:  categories(raw["categories"]),
		Price:       price(raw["price"]),
	}, nil
}

// EmbeddingText composes the deterministic text blob a Product is embedded
// as. Field order is fixed; changing it invalidates every persisted vector.
func (p Product) EmbeddingText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s\n", p.Name)
	fmt.Fprintf(&b, "Brand: %s\n", p.Brand)
	fmt.Fprintf(&b, "Description: %s\n", p.Description)
	fmt.Fprintf(&b, "Categories: %s\n", strings.Join(p.Categories, ", "))
	fmt.Fprintf(&b, "Price: $%.2f", p.Price)
	return b.String()
}

// stringField returns the first of the given keys that holds a usable scalar,
// converting numbers so feeds with numeric ids still normalize.
func stringField(raw map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		switch val := v.(type) {
		case nil:
			return "", true
		case string:
			return strings.TrimSpace(val), true
		case float64:
			if val == float64(int64(val)) {
				return fmt.Sprintf("%d", int64(val)), true
			}
			return fmt.Sprintf("%g", val), true
		case bool:
			return fmt.Sprintf("%t", val), true
		}
	}
	return "", false
}

// categories extracts an ordered category name list from either []string or
// the feed's []{name: ...} shape. Always returns a non-nil slice.
func categories(v any) []string {
	out := []string{}
	list, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range list {
		switch c := item.(type) {
		case string:
			if c != "" {
				out = append(out, c)
			}
		case map[string]any:
			if name, _ := c["name"].(string); name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}

// price extracts a non-negative dollar amount. The feed shape carries cents
// in price.amount; flat records carry a plain number.
func price(v any) float64 {
	var p float64
	switch val := v.(type) {
	case float64:
		p = val
	case map[string]any:
		if cents, ok := val["amount"].(float64); ok {
			p = cents / 100
		}
	}
	if p < 0 {
		return 0
	}
	return p
}

// stripHTML reduces embedded markup in feed descriptions to plain text,
// collapsing runs of whitespace. Plain strings pass through untouched.
func stripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt == html.TextToken {
			b.Write(z.Text())
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
