package catalog

import (
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	// Mixed feed: trailing commas, a blank line, a broken line, and a
	// record with no usable id.
	feed := `{"sku": "a1", "name": "Oat Milk", "price": 3.49},

{"sku": "a2", "name": "Almond Butter", "categories": ["Pantry"]},
this is not json
{"name": "No ID Here"}
{"id": 7, "name": "Bananas"}
`

	products, skipped, err := Load(strings.NewReader(feed))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if skipped != 2 {
		t.Errorf("skipped = %d, want 2", skipped)
	}
	if len(products) != 3 {
		t.Fatalf("len(products) = %d, want 3", len(products))
	}

	// Catalog order is preserved.
	wantIDs := []string{"a1", "a2", "7"}
	for i, want := range wantIDs {
		if products[i].ID != want {
			t.Errorf("products[%d].ID = %q, want %q", i, products[i].ID, want)
		}
	}
}

func TestLoad_Empty(t *testing.T) {
	products, skipped, err := Load(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if skipped != 0 || len(products) != 0 {
		t.Errorf("got %d products, %d skipped; want 0, 0", len(products), skipped)
	}
}
