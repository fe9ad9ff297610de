package prompts

import (
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/victormasson21/voice-agent/internal/persona"
)

var roleplayTmpl = template.Must(template.New("roleplay").Funcs(template.FuncMap{
	"bullets": bullets,
}).Parse(`You are role-playing as a real person calling Elder, a live-in care company, because you need care for a loved one. You are NOT an AI assistant. You are this person. Stay in character at all times.

== YOUR CHARACTER ==

Name: {{.Name}}
Who you are: {{.CallerContext}}
Your {{.Relation}} ({{.RelativeAge}} years old): {{.RelativeSituation}}

== YOUR LOVED ONE'S CARE DETAILS ==

{{.CareSummary}}

Use these details to answer the trainee's discovery questions naturally. You don't need to volunteer everything. Share information when asked, the way a real caller would.

== WHAT YOU KNOW ABOUT ELDER ==

You browsed their website briefly before registering. Here's what you picked up:
{{bullets .Awareness}}

You may ask questions from this list naturally during the conversation:
{{bullets .Questions}}

== YOUR HIDDEN NEEDS ==

These are things you won't say outright but might reveal if the trainee asks the right questions:
{{bullets .HiddenNeeds}}

== HOW YOU REACT ==

{{bullets .Triggers}}

== VOICE BEHAVIOUR ==

- Keep responses to 1-3 sentences. This is a phone call, not a monologue.
- Use natural speech patterns: hesitations, filler words ("um", "right", "I mean..."), interruptions.
- Show emotion where appropriate. This is a stressful situation.
- If the trainee is doing well, gradually open up and share more.
- If the trainee is pushy or salesy, become guarded or try to end the call.
- NEVER ask the trainee how they are feeling, how their day is going, or make generic small talk. You are a customer with a care need. Stay focused on that.
- Always wait for the trainee to finish speaking before responding. Do not continue the conversation unprompted if they haven't replied.
- When the conversation reaches a natural conclusion (you've said goodbye, or the trainee has wrapped up), use the end_call tool to end the session.`))

type roleplayData struct {
	Name              string
	CallerContext     string
	Relation          string
	RelativeAge       string
	RelativeSituation string
	CareSummary       string
	Awareness         []string
	Questions         []string
	HiddenNeeds       []string
	Triggers          []string
}

// Roleplay builds the caller instructions for a training session.
func Roleplay(p persona.Persona, care persona.CareRecord, k persona.Knowledge) (string, error) {
	data := roleplayData{
		Name:              orDefault(p.Name, "Customer"),
		CallerContext:     p.CallerContext,
		Relation:          orDefault(p.Relative.Relation, "loved one"),
		RelativeAge:       p.Relative.Age.String(),
		RelativeSituation: p.Relative.Situation,
		CareSummary:       CareSummary(care),
		Awareness:         k.CustomerAwareness.WhatTheyLikelyKnow,
		Questions:         k.CustomerAwareness.RealisticCustomerQuestions,
		HiddenNeeds:       p.HiddenNeeds,
		Triggers:          triggerLines(p.BehaviourTriggers),
	}
	var b strings.Builder
	if err := roleplayTmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("roleplay prompt: %w", err)
	}
	return b.String(), nil
}

// CareSummary renders the care record as short labelled lines.
func CareSummary(care persona.CareRecord) string {
	var lines []string
	lines = append(lines, "Care type: "+orDefault(care.CareType, "Live-in care"))
	if len(care.PlacementRequirements) > 0 {
		lines = append(lines, "Placement requirements: "+strings.Join(care.PlacementRequirements, ", "))
	}

	for _, r := range care.CareRecipients {
		age := orDefault(r.Age.String(), "Unknown")
		lines = append(lines, fmt.Sprintf("Care recipient: %s, %s years old, %s",
			orDefault(r.Name, "Unknown"), age, strings.ToLower(orDefault(r.Gender, "Unknown"))))

		var conditions []string
		for _, c := range r.Appraisal.MedicalConditions {
			if c.Name == "" {
				continue
			}
			if c.Info != "" {
				conditions = append(conditions, c.Name+": "+c.Info)
				continue
			}
			conditions = append(conditions, c.Name)
		}
		if len(conditions) > 0 {
			lines = append(lines, "Medical conditions:")
			for _, c := range conditions {
				lines = append(lines, "  - "+c)
			}
		}

		lines = appendField(lines, "Mobility", r.Appraisal.Mobility)
		if len(r.Appraisal.SupportEquipment) > 0 {
			lines = append(lines, "Support equipment: "+strings.Join(r.Appraisal.SupportEquipment, ", "))
		}
		lines = appendField(lines, "Personal care needs", r.DailyRoutine.PersonalCare)
		lines = appendField(lines, "Continence", r.DailyRoutine.ContinenceDescription)
		lines = appendField(lines, "Diet", r.DailyRoutine.FoodDietDescription)
		lines = appendField(lines, "Attendance", r.DailyRoutine.AttendanceRequirements)
	}
	return strings.Join(lines, "\n")
}

func appendField(lines []string, label, value string) []string {
	if value == "" {
		return lines
	}
	return append(lines, label+": "+value)
}

// triggerLines renders behaviour triggers sorted by key, so prompts are stable.
func triggerLines(triggers map[string]string) []string {
	keys := make([]string, 0, len(triggers))
	for k := range triggers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, label(k)+": "+triggers[k])
	}
	return lines
}

// label turns "pushed_on_price" into "Pushed on price".
func label(key string) string {
	s := strings.ToLower(strings.ReplaceAll(key, "_", " "))
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func bullets(items []string) string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = "- " + it
	}
	return strings.Join(out, "\n")
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
