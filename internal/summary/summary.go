package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/victormasson21/voice-agent/internal/prompts"
	"github.com/victormasson21/voice-agent/internal/record"
)

// Extractor turns a journaling conversation into a record.Journal.
type Extractor struct {
	llm   Completer
	check *validator
}

// NewExtractor builds the journal extractor and compiles its output schema.
func NewExtractor(llm Completer) (*Extractor, error) {
	v, err := newValidator(journalSchema)
	if err != nil {
		return nil, err
	}
	return &Extractor{llm: llm, check: v}, nil
}

// Summarize makes one extraction attempt. aux is unused for journals.
func (e *Extractor) Summarize(ctx context.Context, turns []record.Turn, _ string) (record.Record, error) {
	text := record.Format(turns, "User", "Agent")
	if text == "" {
		return nil, ErrEmptyTranscript
	}
	out, err := e.llm.Complete(ctx, prompts.Extraction, text)
	if err != nil {
		return nil, err
	}
	data := []byte(stripFences(out))
	if err := e.check.validate(data); err != nil {
		return nil, err
	}
	var j record.Journal
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if j.Decisions == nil {
		j.Decisions = []string{}
	}
	return j, nil
}

func (e *Extractor) Fallback() record.Record { return record.JournalFallback() }

// Evaluator scores a training conversation against the rubric.
type Evaluator struct {
	llm      Completer
	rubric   string
	criteria int
	check    *validator
}

// NewEvaluator builds an evaluator for a rubric with the given criteria JSON.
func NewEvaluator(llm Completer, rubric json.RawMessage, criteria int) (*Evaluator, error) {
	if criteria <= 0 {
		return nil, fmt.Errorf("evaluator: rubric has no criteria")
	}
	v, err := newValidator(fmt.Sprintf(scorecardSchema, criteria))
	if err != nil {
		return nil, err
	}
	return &Evaluator{llm: llm, rubric: indent(rubric), criteria: criteria, check: v}, nil
}

// Summarize makes one scoring attempt. aux carries the trainee knowledge base.
func (e *Evaluator) Summarize(ctx context.Context, turns []record.Turn, aux string) (record.Record, error) {
	text := record.Format(turns, "Trainee", "Customer")
	if text == "" {
		return nil, ErrEmptyTranscript
	}
	system := prompts.Evaluation(e.rubric, e.criteria, indent(json.RawMessage(aux)))
	out, err := e.llm.Complete(ctx, system, text)
	if err != nil {
		return nil, err
	}
	data := []byte(stripFences(out))
	if err := e.check.validate(data); err != nil {
		return nil, err
	}
	var s record.Scorecard
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	// The total and band are derived; the model's arithmetic is not trusted.
	total := 0
	for _, c := range s.Criteria {
		total += c.Score
	}
	s.OverallScore = total
	s.OverallLevel = record.LevelFor(total, e.criteria)
	return s, nil
}

func (e *Evaluator) Fallback() record.Record { return record.ScorecardFallback() }

func indent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
