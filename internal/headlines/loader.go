package headlines

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spacesedan/sentibatch/internal/models"
)

// ErrMissingColumn is returned when the header row has no headline column.
var ErrMissingColumn = errors.New("headline column not found")

// missingMarkers are cell values treated as absent, matching the usual
// NA spellings found in exported news datasets.
var missingMarkers = map[string]struct{}{
	"#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {},
	"N/A": {}, "NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {},
	"nan": {}, "null": {},
}

// Load reads every non-missing headline from the CSV file at path.
func Load(path, column string) ([]models.Headline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	headlines, err := Read(f, column)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return headlines, nil
}

// Read parses CSV from r and returns the headline column in row order,
// skipping rows where the headline is missing or blank.
func Read(r io.Reader, column string) ([]models.Headline, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: input is empty", ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	idx := -1
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		if name == column {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, column)
	}

	var out []models.Headline
	skipped := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		if idx >= len(record) || isMissing(record[idx]) {
			skipped++
			continue
		}
		out = append(out, models.Headline(record[idx]))
	}

	if skipped > 0 {
		slog.Debug("[HeadlineLoader] Dropped rows without a headline", slog.Int("count", skipped))
	}
	return out, nil
}

func isMissing(cell string) bool {
	if strings.TrimSpace(cell) == "" {
		return true
	}
	_, ok := missingMarkers[cell]
	return ok
}

// WorkingSet returns the first floor(fraction*len(all)) headlines.
func WorkingSet(all []models.Headline, fraction float64) []models.Headline {
	n := int(float64(len(all)) * fraction)
	if n < 0 {
		n = 0
	}
	if n > len(all) {
		n = len(all)
	}
	return all[:n]
}
