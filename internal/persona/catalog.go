// Package persona loads the read-only roleplay context shared by every
// training session: caller personas, care recipient records, company
// knowledge and the evaluation rubric.
package persona

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
)

const (
	personasFile   = "personas.json"
	recipientsFile = "fake_care_recipient_data.json"
	knowledgeFile  = "elder_company_knowledge.json"
	rubricFile     = "evaluator_rubric.json"
)

// ErrEmpty indicates a context file loaded without any entries.
var ErrEmpty = errors.New("persona: context has no entries")

type Relative struct {
	Relation  string      `json:"relation"`
	Age       json.Number `json:"age"`
	Situation string      `json:"situation"`
}

// Persona is a simulated caller.
type Persona struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	CallerContext     string            `json:"caller_context"`
	Relative          Relative          `json:"relative"`
	HiddenNeeds       []string          `json:"hidden_needs"`
	BehaviourTriggers map[string]string `json:"behaviour_triggers"`
}

type Condition struct {
	Name string `json:"conditionName"`
	Info string `json:"conditionInfo"`
}

type Appraisal struct {
	MedicalConditions []Condition `json:"medicalConditions"`
	Mobility          string      `json:"mobility"`
	SupportEquipment  []string    `json:"supportEquipment"`
}

type Routine struct {
	PersonalCare           string `json:"personalCare"`
	ContinenceDescription  string `json:"continenceDescription"`
	FoodDietDescription    string `json:"foodDietDescription"`
	AttendanceRequirements string `json:"attendanceRequirements"`
}

type Recipient struct {
	Name         string      `json:"name"`
	Age          json.Number `json:"age"`
	Gender       string      `json:"gender"`
	Appraisal    Appraisal   `json:"appraisal2022"`
	DailyRoutine Routine     `json:"dailyRoutine"`
}

// CareRecord describes the care need behind one enquiry.
type CareRecord struct {
	CareType              string      `json:"careType"`
	PlacementRequirements []string    `json:"placementRequirements"`
	CareRecipients        []Recipient `json:"careRecipients"`
}

type CustomerAwareness struct {
	WhatTheyLikelyKnow         []string `json:"what_they_likely_know"`
	RealisticCustomerQuestions []string `json:"realistic_customer_questions"`
}

// Knowledge is what callers and trainees are expected to know about the company.
type Knowledge struct {
	CustomerAwareness    CustomerAwareness `json:"customer_awareness"`
	TraineeKnowledgeBase json.RawMessage   `json:"trainee_knowledge_base"`
}

type Criterion struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Rubric is the evaluation rubric. Raw keeps the criteria verbatim, anchors
// included, for the evaluator prompt.
type Rubric struct {
	Criteria []Criterion
	Raw      json.RawMessage
}

// Catalog is immutable after Load and safe to share across sessions.
type Catalog struct {
	personas   []Persona
	recipients []CareRecord
	knowledge  Knowledge
	rubric     Rubric
}

// Load reads the context files from dir.
func Load(dir string) (*Catalog, error) {
	return LoadFS(os.DirFS(dir))
}

// LoadFS reads the context files from fsys.
func LoadFS(fsys fs.FS) (*Catalog, error) {
	var personas struct {
		Personas []Persona `json:"personas"`
	}
	if err := readJSON(fsys, personasFile, &personas); err != nil {
		return nil, err
	}
	if len(personas.Personas) == 0 {
		return nil, fmt.Errorf("%s: %w", personasFile, ErrEmpty)
	}

	var recipients []CareRecord
	if err := readJSON(fsys, recipientsFile, &recipients); err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%s: %w", recipientsFile, ErrEmpty)
	}

	var knowledge struct {
		Company Knowledge `json:"elder_company_knowledge"`
	}
	if err := readJSON(fsys, knowledgeFile, &knowledge); err != nil {
		return nil, err
	}

	var rubric struct {
		Evaluator struct {
			Criteria json.RawMessage `json:"criteria"`
		} `json:"evaluator"`
	}
	if err := readJSON(fsys, rubricFile, &rubric); err != nil {
		return nil, err
	}
	var criteria []Criterion
	if err := json.Unmarshal(rubric.Evaluator.Criteria, &criteria); err != nil {
		return nil, fmt.Errorf("%s criteria: %w", rubricFile, err)
	}
	if len(criteria) == 0 {
		return nil, fmt.Errorf("%s: %w", rubricFile, ErrEmpty)
	}

	for i := range personas.Personas {
		if personas.Personas[i].ID == "" {
			personas.Personas[i].ID = fmt.Sprintf("persona-%d", i+1)
		}
	}

	return &Catalog{
		personas:   personas.Personas,
		recipients: recipients,
		knowledge:  knowledge.Company,
		rubric:     Rubric{Criteria: criteria, Raw: rubric.Evaluator.Criteria},
	}, nil
}

func readJSON(fsys fs.FS, name string, v any) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

// Personas returns a copy of the persona list.
func (c *Catalog) Personas() []Persona {
	return append([]Persona(nil), c.personas...)
}

// Persona looks up a persona by id.
func (c *Catalog) Persona(id string) (Persona, bool) {
	for _, p := range c.personas {
		if p.ID == id {
			return p, true
		}
	}
	return Persona{}, false
}

// Recipient returns the care record at index i.
func (c *Catalog) Recipient(i int) (CareRecord, bool) {
	if i < 0 || i >= len(c.recipients) {
		return CareRecord{}, false
	}
	return c.recipients[i], true
}

func (c *Catalog) RecipientCount() int { return len(c.recipients) }

func (c *Catalog) Knowledge() Knowledge { return c.knowledge }

func (c *Catalog) Rubric() Rubric { return c.rubric }

// Scenario picks a persona and care record. Empty personaID and a negative
// recipient index select at random.
func (c *Catalog) Scenario(personaID string, recipient int) (Persona, CareRecord, error) {
	var p Persona
	if personaID == "" {
		p = c.personas[rand.IntN(len(c.personas))]
	} else {
		var ok bool
		if p, ok = c.Persona(personaID); !ok {
			return Persona{}, CareRecord{}, fmt.Errorf("unknown persona %q", personaID)
		}
	}
	if recipient < 0 {
		recipient = rand.IntN(len(c.recipients))
	}
	r, ok := c.Recipient(recipient)
	if !ok {
		return Persona{}, CareRecord{}, fmt.Errorf("care recipient %d out of range", recipient)
	}
	return p, r, nil
}
