package scanner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fixpointlabs/healerd/internal/healing"
	"github.com/fixpointlabs/healerd/internal/inference"
)

// rawBug is the wire shape the model is instructed to emit.
type rawBug struct {
	Category string `json:"category"`
	FilePath string `json:"filePath"`
	Line     int    `json:"line"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// parseBugs extracts the first JSON array from the model reply and decodes
// it, tolerating surrounding commentary.
func parseBugs(reply string) ([]rawBug, error) {
	arr, err := inference.ExtractJSONArray(reply)
	if err != nil {
		return nil, err
	}
	var bugs []rawBug
	if err := json.Unmarshal([]byte(arr), &bugs); err != nil {
		return nil, fmt.Errorf("decoding bug array: %w", err)
	}
	return bugs, nil
}

// normalizeBug converts a model-reported bug into the domain type, mapping
// unknown categories and severities onto safe defaults. Entries without a
// usable location are dropped.
func normalizeBug(rb rawBug) (healing.Bug, bool) {
	path := strings.TrimPrefix(strings.TrimSpace(rb.FilePath), "./")
	if path == "" || rb.Line < 1 {
		return healing.Bug{}, false
	}

	category := healing.Category(strings.ToUpper(strings.TrimSpace(rb.Category)))
	if !category.Valid() {
		category = healing.CategoryLogic
	}
	severity := healing.Severity(strings.ToLower(strings.TrimSpace(rb.Severity)))
	if !severity.Valid() {
		severity = healing.SeverityMedium
	}

	return healing.Bug{
		ID:       uuid.New().String(),
		Category: category,
		FilePath: path,
		Line:     rb.Line,
		Message:  strings.TrimSpace(rb.Message),
		Severity: severity,
	}, true
}
