package activity

import "context"

// Category is the closed vocabulary for classified activity. Anything a
// classifier returns outside this set is coerced to CategoryOther before
// it can reach aggregation.
type Category string

const (
	CategoryImplementation Category = "IMPLEMENTATION"
	CategoryDebugging      Category = "DEBUGGING"
	CategoryReadingDocs    Category = "READING_DOCUMENTATION"
	CategoryPlanning       Category = "PLANNING"
	CategoryCommunication  Category = "COMMUNICATION"
	CategoryBrowsing       Category = "BROWSING"
	CategoryOther          Category = "OTHER"
)

// Categories lists the allowed vocabulary in prompt order.
var Categories = []Category{
	CategoryImplementation,
	CategoryDebugging,
	CategoryReadingDocs,
	CategoryPlanning,
	CategoryCommunication,
	CategoryBrowsing,
	CategoryOther,
}

// CoerceCategory maps a raw classifier label onto the closed vocabulary.
func CoerceCategory(raw string) Category {
	for _, c := range Categories {
		if string(c) == raw {
			return c
		}
	}
	return CategoryOther
}

// Slice is a normalized, bounded view of one event for classification.
// Every slice has a non-empty URL and Title; events missing either are
// dropped before slices are built.
type Slice struct {
	Title           string  `json:"title"`
	URL             string  `json:"url"`
	Content         string  `json:"content"`
	DurationMinutes float64 `json:"duration_minutes"`
	ScrollCount     int     `json:"scroll_count"`
	KeyCount        int     `json:"key_count"`
}

// Summary aggregates a batch of classified slices for the assessment
// oracle and the dashboard.
type Summary struct {
	TotalMinutes  float64              `json:"total_minutes"`
	Breakdown     map[Category]float64 `json:"breakdown"`
	SampleTitles  []string             `json:"sample_titles"`
	SampleContent []string             `json:"sample_content"`
}

// Classifier labels one activity slice. It returns the raw label; the
// aggregator owns coercion into the closed vocabulary.
type Classifier interface {
	Classify(ctx context.Context, s Slice) (string, error)
}
