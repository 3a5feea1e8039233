// Package workflow defines the shared review-workflow configuration: named
// steps with field schemas, and the StepFlow backbone connecting them.
// Workflow definitions are loaded once and shared read-only across records.
package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Step is a named unit of work with a declared field schema. The schema is
// a JSON Schema document whose top-level property names are the dotted-key
// prefixes the step owns.
type Step struct {
	ID     uuid.UUID       `db:"id" json:"id"`
	Name   string          `db:"name" json:"name"`
	Schema json.RawMessage `db:"schema" json:"schema,omitempty"`
}

// Params returns the step's declared property names, sorted. A step with no
// schema yields an empty slice, not an error.
func (s *Step) Params() []string {
	if s == nil || len(s.Schema) == 0 {
		return []string{}
	}
	var doc struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(s.Schema, &doc); err != nil {
		return []string{}
	}
	params := make([]string, 0, len(doc.Properties))
	for name := range doc.Properties {
		params = append(params, name)
	}
	sort.Strings(params)
	return params
}

// Whitelist returns the step's property names as a set for membership
// checks against dotted-key prefixes.
func (s *Step) Whitelist() map[string]bool {
	set := make(map[string]bool)
	for _, p := range s.Params() {
		set[p] = true
	}
	return set
}

// Slice projects a nested mapping down to only the branches whose top-level
// keys the step declares. Undeclared keys are excluded, never dropped from
// the source mapping itself.
func (s *Step) Slice(nested map[string]interface{}) map[string]interface{} {
	whitelist := s.Whitelist()
	out := make(map[string]interface{})
	for key, value := range nested {
		if whitelist[key] {
			out[key] = value
		}
	}
	return out
}

// StepFlow is one node of a workflow's linear backbone: the step it
// represents, its neighbors, the role authorized to act there, and the role
// the record is handed to after this step completes.
type StepFlow struct {
	ID         uuid.UUID `db:"id" json:"id"`
	WorkflowID uuid.UUID `db:"workflow_id" json:"workflow_id"`
	Step       *Step     `json:"step"`
	Next       *StepFlow `json:"-"`
	Previous   *StepFlow `json:"-"`
	Role       string    `db:"role" json:"role"`
	SendToRole string    `db:"send_to_role" json:"send_to_role,omitempty"`
}

// Workflow is an ordered definition of steps connected by StepFlow edges,
// shared read-only configuration referenced by many records.
type Workflow struct {
	ID    uuid.UUID   `db:"id" json:"id"`
	Name  string      `db:"name" json:"name"`
	Flows []*StepFlow `json:"flows"`
}

// Validate checks the backbone invariants: exactly one entry node (no
// previous edge) and at least one terminal node (no next edge).
func (w *Workflow) Validate() error {
	if len(w.Flows) == 0 {
		return fmt.Errorf("workflow %q has no step flows", w.Name)
	}
	var entries, terminals int
	for _, f := range w.Flows {
		if f.Step == nil {
			return fmt.Errorf("workflow %q has a flow without a step", w.Name)
		}
		if f.Previous == nil {
			entries++
		}
		if f.Next == nil {
			terminals++
		}
	}
	if entries != 1 {
		return fmt.Errorf("workflow %q has %d entry nodes, want exactly 1", w.Name, entries)
	}
	if terminals == 0 {
		return fmt.Errorf("workflow %q has no terminal node", w.Name)
	}
	return nil
}

// Entry returns the workflow's single entry node, nil if the backbone is
// malformed.
func (w *Workflow) Entry() *StepFlow {
	for _, f := range w.Flows {
		if f.Previous == nil {
			return f
		}
	}
	return nil
}

// FlowFor returns the StepFlow node whose step has the given name, nil when
// no node matches.
func (w *Workflow) FlowFor(stepName string) *StepFlow {
	for _, f := range w.Flows {
		if f.Step != nil && f.Step.Name == stepName {
			return f
		}
	}
	return nil
}

// Steps returns the workflow's steps in backbone order.
func (w *Workflow) Steps() []*Step {
	steps := make([]*Step, 0, len(w.Flows))
	for f := w.Entry(); f != nil; f = f.Next {
		steps = append(steps, f.Step)
	}
	return steps
}

// StepEditable reports whether an actor holding any of the given roles may
// edit the named step. Derived from the backbone, never stored.
func (w *Workflow) StepEditable(stepName string, roles []string) bool {
	flow := w.FlowFor(stepName)
	if flow == nil {
		return false
	}
	for _, role := range roles {
		if role == flow.Role {
			return true
		}
	}
	return false
}

// EditableSteps returns the names of every step the given roles may edit.
func (w *Workflow) EditableSteps(roles []string) []string {
	var names []string
	for f := w.Entry(); f != nil; f = f.Next {
		if w.StepEditable(f.Step.Name, roles) {
			names = append(names, f.Step.Name)
		}
	}
	return names
}

// SeparateContents splits a nested record mapping into one per-step slice
// keyed by step name. Keys declared by no step appear in no slice.
func (w *Workflow) SeparateContents(nested map[string]interface{}) map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{})
	for _, step := range w.Steps() {
		if sliced := step.Slice(nested); len(sliced) > 0 {
			out[step.Name] = sliced
		}
	}
	return out
}

// schemaFor builds a minimal JSON Schema declaring the given properties.
func schemaFor(properties ...string) json.RawMessage {
	props := make([]string, 0, len(properties))
	for _, p := range properties {
		props = append(props, fmt.Sprintf("%q: {\"type\": \"object\"}", p))
	}
	doc := fmt.Sprintf(`{"type": "object", "properties": {%s}}`, strings.Join(props, ", "))
	return json.RawMessage(doc)
}

// Default returns the standard death-record workflow: funeral director
// intake and demographics, medical certification by a physician, then
// registrar review. Used to seed a fresh deployment and in tests.
func Default() *Workflow {
	identity := &StepFlow{
		ID:   uuid.New(),
		Step: &Step{ID: uuid.New(), Name: "Identity", Schema: schemaFor("decedentName", "ssn", "sex", "dateOfBirth", "armedForcesService")},
		Role: "funeral_director",
	}
	demographics := &StepFlow{
		ID: uuid.New(),
		Step: &Step{ID: uuid.New(), Name: "Demographics", Schema: schemaFor(
			"decedentAddress", "placeOfBirth", "race", "hispanicOrigin", "education",
			"maritalStatus", "usualOccupation", "kindOfBusiness", "motherName",
			"methodOfDisposition", "placeOfDisposition", "funeralFacility")},
		Role: "funeral_director",
	}
	certification := &StepFlow{
		ID: uuid.New(),
		Step: &Step{ID: uuid.New(), Name: "MedicalCertification", Schema: schemaFor(
			"dateOfDeath", "timeOfDeath", "datePronouncedDead", "timePronouncedDead",
			"placeOfDeath", "locationOfDeath", "cod", "mannerOfDeath",
			"autopsyPerformed", "autopsyAvailableToCompleteCauseOfDeath",
			"meOrCoronerContacted", "pregnancyStatus", "didTobaccoUseContributeToDeath",
			"deathResultedFromInjuryAtWork", "ifTransInjury", "detailsOfInjury",
			"personCompletingCauseOfDeathName", "personCompletingCauseOfDeathAddress",
			"certifierType")},
		Role: "physician",
	}
	review := &StepFlow{
		ID:   uuid.New(),
		Step: &Step{ID: uuid.New(), Name: "Review", Schema: schemaFor("registration")},
		Role: "registrar",
	}

	identity.Next = demographics
	identity.SendToRole = "funeral_director"
	demographics.Previous = identity
	demographics.Next = certification
	demographics.SendToRole = "physician"
	certification.Previous = demographics
	certification.Next = review
	certification.SendToRole = "registrar"
	review.Previous = certification

	w := &Workflow{
		ID:    uuid.New(),
		Name:  "death_record",
		Flows: []*StepFlow{identity, demographics, certification, review},
	}
	for _, f := range w.Flows {
		f.WorkflowID = w.ID
	}
	return w
}
