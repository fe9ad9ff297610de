package record

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies who spoke a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one transcribed utterance.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NonEmpty returns the turns whose content is not blank, in order.
func NonEmpty(turns []Turn) []Turn {
	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Format renders turns as "Label: content" lines, one per turn.
func Format(turns []Turn, userLabel, assistantLabel string) string {
	var b strings.Builder
	for _, t := range NonEmpty(turns) {
		label := assistantLabel
		if t.Role == RoleUser {
			label = userLabel
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(t.Content)
	}
	return b.String()
}

const (
	KindJournal   = "journal"
	KindScorecard = "scorecard"
)

// Record is the structured summary persisted at the end of a session.
type Record interface {
	Kind() string
}

// Journal is the extraction produced for a journaling session.
type Journal struct {
	Mood      string   `json:"mood"`
	Tone      string   `json:"tone"`
	Topics    []string `json:"topics"`
	Decisions []string `json:"decisions"`
}

func (Journal) Kind() string { return KindJournal }

// JournalFallback is persisted when extraction could not complete.
func JournalFallback() Journal {
	return Journal{
		Mood:      "Session completed",
		Tone:      "Unable to process",
		Topics:    []string{"Session recorded"},
		Decisions: []string{},
	}
}

// Criterion is one scored rubric line.
type Criterion struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Score         int    `json:"score"`
	Justification string `json:"justification"`
}

// Improvement is a suggested area of focus.
type Improvement struct {
	Area       string `json:"area"`
	Suggestion string `json:"suggestion"`
}

// Scorecard is the evaluation produced for a training session.
type Scorecard struct {
	Criteria        []Criterion   `json:"criteria"`
	OverallScore    int           `json:"overall_score"`
	OverallLevel    string        `json:"overall_level"`
	TopStrength     string        `json:"top_strength"`
	TopImprovements []Improvement `json:"top_improvements"`
}

func (Scorecard) Kind() string { return KindScorecard }

const (
	LevelNeedsImprovement = "Needs Improvement"
	LevelDeveloping       = "Developing"
	LevelCompetent        = "Competent"
	LevelStrong           = "Strong"
	LevelError            = "Error"
)

// bandCriteria is the rubric size the level thresholds are written for.
const bandCriteria = 8

// LevelFor maps an overall score to its band. The thresholds 35, 28 and 20
// are for an eight-criteria rubric scored out of 40 and are scaled to the
// actual number of criteria.
func LevelFor(score, criteria int) string {
	if criteria <= 0 {
		return LevelNeedsImprovement
	}
	atLeast := func(threshold int) bool { return score*bandCriteria >= threshold*criteria }
	switch {
	case atLeast(35):
		return LevelStrong
	case atLeast(28):
		return LevelCompetent
	case atLeast(20):
		return LevelDeveloping
	default:
		return LevelNeedsImprovement
	}
}

// ScorecardFallback is persisted when evaluation could not complete.
func ScorecardFallback() Scorecard {
	return Scorecard{
		Criteria:        []Criterion{},
		OverallScore:    0,
		OverallLevel:    LevelError,
		TopStrength:     "Evaluation could not be completed",
		TopImprovements: []Improvement{},
	}
}

// Decode parses a stored record body of the given kind.
func Decode(kind string, data []byte) (Record, error) {
	switch kind {
	case KindJournal:
		var j Journal
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, fmt.Errorf("decode journal: %w", err)
		}
		return j, nil
	case KindScorecard:
		var s Scorecard
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decode scorecard: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown record kind %q", kind)
}
