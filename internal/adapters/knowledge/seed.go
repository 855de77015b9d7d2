package knowledge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Document is one knowledge-base entry. Metadata carries the filter keys
// the pipeline queries by: approach (REFLECTIONS, NORMALIZING, SOLUTIONS)
// and intervention_type (crisis).
type Document struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// LoadSeedFile reads a JSONL corpus, one Document per line. Blank lines and
// lines starting with # are skipped.
func LoadSeedFile(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening seed file: %w", err)
	}
	defer f.Close()

	var docs []Document
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var d Document
		if err := json.Unmarshal([]byte(text), &d); err != nil {
			return nil, fmt.Errorf("seed file %s line %d: %w", path, line, err)
		}
		if strings.TrimSpace(d.Content) == "" {
			return nil, fmt.Errorf("seed file %s line %d: empty content", path, line)
		}
		if d.ID == "" {
			d.ID = fmt.Sprintf("doc-%d", line)
		}
		docs = append(docs, d)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	return docs, nil
}
