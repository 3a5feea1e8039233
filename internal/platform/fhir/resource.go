package fhir

import (
	"encoding/json"
	"time"
)

// Resource is the base FHIR resource representation.
type Resource struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id"`
	Meta         *Meta  `json:"meta,omitempty"`
}

type Meta struct {
	VersionID   string    `json:"versionId,omitempty"`
	LastUpdated time.Time `json:"lastUpdated,omitempty"`
	Profile     []string  `json:"profile,omitempty"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// FirstCoding returns the concept's first coding, or a zero Coding when the
// concept is nil or empty.
func (c *CodeableConcept) FirstCoding() Coding {
	if c == nil || len(c.Coding) == 0 {
		return Coding{}
	}
	return c.Coding[0]
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	Display   string `json:"display,omitempty"`
}

type Identifier struct {
	Use    string           `json:"use,omitempty"`
	Type   *CodeableConcept `json:"type,omitempty"`
	System string           `json:"system,omitempty"`
	Value  string           `json:"value,omitempty"`
	Period *Period          `json:"period,omitempty"`
}

type HumanName struct {
	Use    string   `json:"use,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
	Prefix []string `json:"prefix,omitempty"`
	Suffix []string `json:"suffix,omitempty"`
}

type Address struct {
	Use        string   `json:"use,omitempty"`
	Type       string   `json:"type,omitempty"`
	Line       []string `json:"line,omitempty"`
	City       string   `json:"city,omitempty"`
	District   string   `json:"district,omitempty"`
	State      string   `json:"state,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Country    string   `json:"country,omitempty"`
}

type Period struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// Extension carries a single FHIR extension. Death-record profiles nest
// extensions up to three levels deep (disposition -> facility -> address),
// so Extension embeds its own children.
type Extension struct {
	URL                  string           `json:"url"`
	ValueString          string           `json:"valueString,omitempty"`
	ValueCode            string           `json:"valueCode,omitempty"`
	ValueBoolean         *bool            `json:"valueBoolean,omitempty"`
	ValueInteger         *int             `json:"valueInteger,omitempty"`
	ValueCoding          *Coding          `json:"valueCoding,omitempty"`
	ValueCodeableConcept *CodeableConcept `json:"valueCodeableConcept,omitempty"`
	ValueAddress         *Address         `json:"valueAddress,omitempty"`
	Extension            []Extension      `json:"extension,omitempty"`
}

// Narrative is the human-readable portion of a resource. Cause-of-death
// conditions carry their descriptive text here.
type Narrative struct {
	Status string `json:"status,omitempty"`
	Div    string `json:"div,omitempty"`
}

// Patient is the subset of the FHIR Patient resource consumed from
// death-record documents (the decedent).
type Patient struct {
	ResourceType     string      `json:"resourceType"`
	ID               string      `json:"id,omitempty"`
	Name             []HumanName `json:"name,omitempty"`
	BirthDate        string      `json:"birthDate,omitempty"`
	DeceasedDateTime string      `json:"deceasedDateTime,omitempty"`
	Address          []Address   `json:"address,omitempty"`
	Extension        []Extension `json:"extension,omitempty"`
}

// Practitioner is the subset of the FHIR Practitioner resource consumed
// from death-record documents (the certifier). Qualification data is
// deliberately not modeled; it is not consumed.
type Practitioner struct {
	ResourceType string      `json:"resourceType"`
	ID           string      `json:"id,omitempty"`
	Name         []HumanName `json:"name,omitempty"`
	Address      []Address   `json:"address,omitempty"`
	Extension    []Extension `json:"extension,omitempty"`
}

// Condition is the subset of the FHIR Condition resource used for
// cause-of-death entries: narrative text plus an onset interval string.
type Condition struct {
	ResourceType string     `json:"resourceType"`
	ID           string     `json:"id,omitempty"`
	Text         *Narrative `json:"text,omitempty"`
	OnsetString  string     `json:"onsetString,omitempty"`
}

// Observation is the subset of the FHIR Observation resource used for the
// coded death-record observations. Exactly one value[x] is populated per
// observation kind.
type Observation struct {
	ResourceType         string           `json:"resourceType"`
	ID                   string           `json:"id,omitempty"`
	Code                 *CodeableConcept `json:"code,omitempty"`
	ValueBoolean         *bool            `json:"valueBoolean,omitempty"`
	ValueDateTime        string           `json:"valueDateTime,omitempty"`
	ValueString          string           `json:"valueString,omitempty"`
	ValueCodeableConcept *CodeableConcept `json:"valueCodeableConcept,omitempty"`
}

// ResourceType peeks at the resourceType discriminator of a raw resource so
// callers can dispatch before a full unmarshal.
func ResourceType(raw json.RawMessage) string {
	var envelope struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return ""
	}
	return envelope.ResourceType
}

// OperationOutcome represents a FHIR OperationOutcome for errors.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string           `json:"severity"`
	Code        string           `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
	Expression  []string         `json:"expression,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    severity,
				Code:        code,
				Diagnostics: diagnostics,
			},
		},
	}
}

func ErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome("error", "processing", diagnostics)
}

func NotFoundOutcome(resourceType, id string) *OperationOutcome {
	return NewOperationOutcome("error", "not-found", resourceType+"/"+id+" not found")
}
