package catalog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// maxLineSize bounds a single catalog line. Product descriptions can run
// long but never anywhere near this.
const maxLineSize = 1 << 20 // 1MB

// Load reads newline-delimited JSON records and normalizes each into a
// Product. Lines that fail to parse or normalize are skipped, not fatal;
// the skipped count is logged and returned so callers can surface it.
func Load(r io.Reader) ([]Product, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var products []Product
	skipped := 0

	for scanner.Scan() {
		// The feed terminates lines with trailing commas; tolerate them.
		line := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(scanner.Text()), ","))
		if line == "" {
			continue
		}

		var raw map[string]any
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			skipped++
			slog.Debug("skipping unparseable catalog line", "error", err)
			continue
		}

		p, err := Normalize(raw)
		if err != nil {
			skipped++
			slog.Debug("skipping invalid catalog record", "error", err)
			continue
		}
		products = append(products, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("reading catalog: %w", err)
	}

	if skipped > 0 {
		slog.Warn("skipped catalog records", "count", skipped)
	}
	return products, skipped, nil
}

// LoadFile loads a catalog from the given path.
func LoadFile(path string) ([]Product, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening catalog file: %w", err)
	}
	defer f.Close()
	return Load(f)
}
