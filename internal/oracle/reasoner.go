package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ganeshkumarm1/DriftWatcher/internal/activity"
)

// FocusState is the oracle's verdict on the current session. The parse
// boundary enforces closure: only FOCUSED and DRIFTING come back from an
// assessment, EXPLORING is the persisted default before the first one.
type FocusState string

const (
	StateFocused   FocusState = "FOCUSED"
	StateDrifting  FocusState = "DRIFTING"
	StateExploring FocusState = "EXPLORING"
)

// Assessment is one cycle's judgment. It fully replaces the previous
// cycle's state and confidence; there is no smoothing on top.
type Assessment struct {
	State      FocusState `json:"state"`
	Confidence float64    `json:"confidence"`
	Reason     string     `json:"reason"`
}

const assessPrompt = `You are helping Drift Watcher, a personal focus monitoring system.

Current goal:
"%s"

Recent activity:
- Breakdown: %s
- Sample page titles: %s
- Sample page content: %s

Choose ONE state:
- FOCUSED: Working on or learning about the goal
- DRIFTING: Off-topic or entertainment

Rules:
- Page titles AND content are strong indicators
- Entertainment sites (YouTube, Reddit, social media) = DRIFTING
- Documentation, learning, implementation related to goal = FOCUSED
- Use content to disambiguate unclear titles

Return JSON only:
{
  "state": "FOCUSED | DRIFTING",
  "confidence": 0.0,
  "reason": "short explanation"
}`

const classifyPrompt = `You are classifying browser activity for Drift Watcher, a personal focus monitoring system.

Choose ONE category from:
%s

Rules:
- Base your judgment on title, URL, content, and interaction patterns.
- Content provides context for ambiguous titles
- Do NOT invent information.
- Use OTHER if unsure.
- Return JSON only.

Activity slice:
%s

Return:
{ "category": "<one of the allowed categories>" }`

// Reasoner renders prompts and parses the oracle's structured replies.
type Reasoner struct {
	client Client
}

func NewReasoner(client Client) *Reasoner {
	return &Reasoner{client: client}
}

// AssessFocus asks the oracle whether the summarized activity serves the
// goal. Invalid state or confidence in the reply is an oracle failure,
// not something to guess around.
func (r *Reasoner) AssessFocus(ctx context.Context, goal string, summary *activity.Summary) (*Assessment, error) {
	breakdown, err := json.Marshal(summary.Breakdown)
	if err != nil {
		return nil, fmt.Errorf("marshal breakdown: %w", err)
	}
	titles, _ := json.Marshal(summary.SampleTitles)
	content, _ := json.Marshal(summary.SampleContent)

	prompt := fmt.Sprintf(assessPrompt, goal, breakdown, titles, content)
	resp, err := r.client.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("assess focus: %w", err)
	}

	var out Assessment
	if err := json.Unmarshal([]byte(resp), &out); err != nil {
		return nil, fmt.Errorf("parse assessment: %w", err)
	}
	switch out.State {
	case StateFocused, StateDrifting:
	default:
		return nil, fmt.Errorf("parse assessment: unknown state %q", out.State)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return nil, fmt.Errorf("parse assessment: confidence %v out of range", out.Confidence)
	}
	return &out, nil
}

// Classify labels one activity slice. The raw label is returned as-is;
// coercion into the closed vocabulary belongs to the aggregator.
func (r *Reasoner) Classify(ctx context.Context, s activity.Slice) (string, error) {
	categories := make([]string, len(activity.Categories))
	for i, c := range activity.Categories {
		categories[i] = string(c)
	}
	sliceJSON, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal slice: %w", err)
	}

	prompt := fmt.Sprintf(classifyPrompt, strings.Join(categories, ", "), sliceJSON)
	resp, err := r.client.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("classify activity: %w", err)
	}

	var out struct {
		Category string `json:"category"`
	}
	if err := json.Unmarshal([]byte(resp), &out); err != nil {
		return "", fmt.Errorf("parse classification: %w", err)
	}
	return out.Category, nil
}
