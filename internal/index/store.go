package index

import (
	"container/heap"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// SQLiteStore persists EmbeddingRecords and answers brute-force cosine
// similarity searches over them. At catalog scale (a few thousand products)
// a full scan per query is well under a millisecond of decode-and-dot work;
// an ANN index would be wasted complexity.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for vector operations.
// The product_vectors table must already exist (created via migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// ReplaceAll atomically replaces the full record set: either every record is
// committed or none are, so a crash mid-build never leaves a partial index.
// Concurrent readers observe the old complete set until the commit. Rows are
// keyed by catalog position, not product id: ids that degraded to the
// "unknown" default may repeat, and every such record is still indexed.
func (s *SQLiteStore) ReplaceAll(records []Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning replace transaction: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM product_vectors"); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing product_vectors: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO product_vectors (product_id, name, brand, description, price, categories, embed_text, embedding, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		cats, err := json.Marshal(r.Categories)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshaling categories for %s: %w", r.ProductID, err)
		}
		blob := encodeFloat32s(r.Embedding)
		if _, err := stmt.Exec(r.ProductID, r.Name, r.Brand, r.Description, r.Price, string(cats), r.Text, blob, r.Position); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting record %s: %w", r.ProductID, err)
		}
	}

	return tx.Commit()
}

// Count returns the number of indexed records.
func (s *SQLiteStore) Count() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM product_vectors").Scan(&count)
	return count, err
}

// candidate tracks a record and its score during the scan phase of Search.
type candidate struct {
	rec   Record
	score float32
}

// worse reports whether a ranks below b: lower similarity, or on an exact
// tie, later catalog position. This is the total order that makes repeated
// queries return identical sequences.
func worse(a, b candidate) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.rec.Position > b.rec.Position
}

// Search scans all vectors, applies the metadata filter, and returns the
// topK most similar records ordered by descending similarity with ties
// broken by catalog insertion order. Returned records omit their vectors.
func (s *SQLiteStore) Search(vector []float32, topK int, filter Filter) ([]Match, error) {
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT product_id, name, brand, description, price, categories, embed_text, embedding, position
		FROM product_vectors`)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &candidateHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var r Record
		var cats string
		var blob []byte
		if err := rows.Scan(&r.ProductID, &r.Name, &r.Brand, &r.Description, &r.Price, &cats, &r.Text, &blob, &r.Position); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if err := json.Unmarshal([]byte(cats), &r.Categories); err != nil {
			return nil, fmt.Errorf("decoding categories for %s: %w", r.ProductID, err)
		}
		if !filter.Matches(r) {
			continue
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", r.ProductID, err)
		}

		c := candidate{rec: r, score: cosine(vector, buf, queryNorm)}
		if h.Len() < topK {
			heap.Push(h, c)
		} else if worse((*h)[0], c) {
			(*h)[0] = c
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return []Match{}, nil
	}

	results := make([]Match, h.Len())
	for i := range results {
		results[i] = Match{Record: (*h)[i].rec, Score: (*h)[i].score}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Position < results[j].Position
	})
	return results, nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
// Returns an error if the byte length is not a multiple of 4 (data corruption).
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// candidateHeap is a min-heap keeping the worst candidate at the root so the
// scan can evict it when a better record arrives.
type candidateHeap []candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
