package index

import (
	"github.com/kalambet/grocer/internal/catalog"
)

// Record is one indexed product: the exact text that was embedded, its
// vector, and the flat scalar metadata mirrored from the Product. Records
// are owned by the index and rebuilt wholesale on rebuild.
type Record struct {
	ProductID   string
	Name        string
	Brand       string
	Description string
	Price       float64
	Categories  []string
	Text        string
	Embedding   []float32
	Position    int // catalog insertion order, breaks similarity ties
}

// NewRecord builds a Record from a normalized Product at the given catalog
// position.
func NewRecord(p catalog.Product, position int) Record {
	return Record{
		ProductID:   p.ID,
		Name:        p.Name,
		Brand:       p.Brand,
		Description: p.Description,
		Price:       p.Price,
		Categories:  p.Categories,
		Text:        p.EmbeddingText(),
		Position:    position,
	}
}

// Match is a Record with its cosine similarity to a query vector.
type Match struct {
	Record
	Score float32
}

// Filter is an exact-match predicate over record metadata. Supported keys:
// "category" (exact membership in the category list), "brand", "id",
// "name". A nil or empty Filter matches everything.
type Filter map[string]string

// Matches reports whether the record satisfies every filter entry.
// Matching is exact, no fuzzy fallback: an unrecognized key matches nothing.
func (f Filter) Matches(r Record) bool {
	for key, want := range f {
		switch key {
		case "category":
			found := false
			for _, c := range r.Categories {
				if c == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case "brand":
			if r.Brand != want {
				return false
			}
		case "id":
			if r.ProductID != want {
				return false
			}
		case "name":
			if r.Name != want {
				return false
			}
		default:
			return false
		}
	}
	return true
}
