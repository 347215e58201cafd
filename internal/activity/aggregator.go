// Package activity turns raw browser events into classified, proportioned
// activity summaries, caching classification results by content fingerprint
// so repeated activity never re-invokes the oracle.
package activity

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/ganeshkumarm1/DriftWatcher/internal/eventlog"
)

const (
	contentPrefixChars = 300
	minSliceMinutes    = 0.08
	maxSampleTitles    = 3
	maxSampleContent   = 3
	maxTitleChars      = 80
)

// genericTitles are never useful as oracle context.
var genericTitles = map[string]struct{}{
	"":        {},
	"YouTube": {},
	"Home":    {},
	"New Tab": {},
}

type classified struct {
	Slice
	category Category
}

type Aggregator struct {
	classifier Classifier
	cache      *Cache
}

func NewAggregator(classifier Classifier, cache *Cache) *Aggregator {
	return &Aggregator{classifier: classifier, cache: cache}
}

// ReloadCache resyncs the classification cache with its file. Used when
// a goal change in another process cleared the cache on disk.
func (a *Aggregator) ReloadCache() {
	a.cache.Reload()
}

// Aggregate builds slices from events, classifies them through the cache,
// and produces the summary. A classifier failure aborts the whole call so
// a transient oracle outage degrades the cycle instead of producing a
// partial summary.
func (a *Aggregator) Aggregate(ctx context.Context, events []eventlog.Event) (*Summary, error) {
	slices := buildSlices(events)

	results, err := a.classify(ctx, slices)
	if err != nil {
		return nil, err
	}

	totals := make(map[Category]float64)
	totalTime := 0.0
	for _, c := range results {
		totals[c.category] += c.DurationMinutes
		totalTime += c.DurationMinutes
	}

	denom := totalTime
	if denom == 0 {
		denom = 1.0
	}
	breakdown := make(map[Category]float64, len(totals))
	for cat, minutes := range totals {
		breakdown[cat] = round1(minutes / denom * 100)
	}

	var samples []string
	for i, c := range results {
		if i >= maxSampleContent {
			break
		}
		if c.Content != "" {
			samples = append(samples, c.Content)
		}
	}

	return &Summary{
		TotalMinutes:  round2(denom),
		Breakdown:     breakdown,
		SampleTitles:  extractTitles(events, maxSampleTitles),
		SampleContent: samples,
	}, nil
}

// buildSlices normalizes events into classification slices. Events without
// a url or title carry no classifiable signal and are dropped.
func buildSlices(events []eventlog.Event) []Slice {
	slices := make([]Slice, 0, len(events))
	for _, ev := range events {
		if ev.URL == "" || ev.Title == "" {
			continue
		}
		content := truncateRunes(ev.Content, contentPrefixChars)
		minutes := round2(float64(ev.DurationMs) / 60000)
		if minutes < minSliceMinutes {
			minutes = minSliceMinutes
		}
		slices = append(slices, Slice{
			Title:           ev.Title,
			URL:             ev.URL,
			Content:         content,
			DurationMinutes: minutes,
			ScrollCount:     ev.ScrollCount,
			KeyCount:        ev.KeyCount,
		})
	}
	return slices
}

func (a *Aggregator) classify(ctx context.Context, slices []Slice) ([]classified, error) {
	results := make([]classified, 0, len(slices))
	for _, s := range slices {
		fp := Fingerprint(s)
		if cat, ok := a.cache.Get(fp); ok {
			results = append(results, classified{Slice: s, category: cat})
			continue
		}

		label, err := a.classifier.Classify(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("classify %q: %w", s.URL, err)
		}
		cat := CoerceCategory(label)
		a.cache.Put(fp, cat)
		results = append(results, classified{Slice: s, category: cat})
	}

	if err := a.cache.Flush(); err != nil {
		return nil, err
	}
	return results, nil
}

// extractTitles returns up to max most-recent, de-duplicated, non-generic
// titles.
func extractTitles(events []eventlog.Event, max int) []string {
	seen := make(map[string]struct{})
	var titles []string
	for _, ev := range events {
		title := strings.TrimSpace(ev.Title)
		if title == "" {
			continue
		}
		if utf8.RuneCountInString(title) > maxTitleChars {
			title = truncateRunes(title, maxTitleChars-3) + "..."
		}
		if _, ok := seen[title]; ok {
			continue
		}
		seen[title] = struct{}{}
		if _, generic := genericTitles[title]; generic {
			continue
		}
		titles = append(titles, title)
	}
	if len(titles) > max {
		titles = titles[len(titles)-max:]
	}
	return titles
}

// truncateRunes bounds s to n runes without splitting a multi-byte rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
