// Package record tracks a death-record case through the review workflow:
// position transitions along the StepFlow backbone, jump-and-return edit
// requests, per-step contents, and the cached full-record projection.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openvital/edrs/internal/domain/workflow"
)

var (
	// ErrNotFound covers missing records and transitions targeting a step
	// the workflow does not define.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned on double certificate generation.
	ErrAlreadyExists = errors.New("already exists")
	// ErrForbidden is returned when an actor's roles do not authorize the
	// requested step edit or assignment.
	ErrForbidden = errors.New("forbidden")
	// ErrSubmittedNotTransmitted marks the inconsistency window where the
	// record was marked submitted but the outbound transmission failed.
	ErrSubmittedNotTransmitted = errors.New("record marked submitted but not transmitted")
)

// StepStatus modes. Diverted means StepStatus has jumped away from the
// StepFlow backbone and a later increment resolves back.
const (
	ModeLinear   = "linear"
	ModeDiverted = "diverted"
)

// StepStatus is the record's actual position. CurrentStep may differ from
// the backbone's nominal step only in diverted mode; Requestor is set only
// while a jump initiated by an edit request is outstanding.
type StepStatus struct {
	Mode        string `db:"mode" json:"mode"`
	CurrentStep string `db:"current_step" json:"current_step"`
	Requestor   string `db:"requestor" json:"requestor,omitempty"`
}

// Diverted reports whether a jump is outstanding.
func (s *StepStatus) Diverted() bool { return s.Mode == ModeDiverted }

// DeathRecord is the case under review.
type DeathRecord struct {
	ID                uuid.UUID         `db:"id" json:"id"`
	CertificateNumber string            `db:"certificate_number" json:"certificate_number"`
	WorkflowID        uuid.UUID         `db:"workflow_id" json:"workflow_id"`
	Workflow          *workflow.Workflow `json:"-"`
	CurrentFlowID     uuid.UUID         `db:"current_flow_id" json:"current_flow_id"`
	CurrentFlow       *workflow.StepFlow `json:"-"`
	Status            StepStatus        `json:"status"`
	Owner             string            `db:"owner" json:"owner"`
	Creator           string            `db:"creator" json:"creator"`
	CertifierName     string            `db:"certifier_name" json:"certifier_name,omitempty"`
	Voided            bool              `db:"voided" json:"voided"`
	Submitted         bool              `db:"submitted" json:"submitted"`
	Abandoned         bool              `db:"abandoned" json:"abandoned"`
	NotifyFlag        bool              `db:"notify_flag" json:"notify_flag"`
	Contents          map[string]string `json:"contents,omitempty"`
	FHIRPayload       json.RawMessage   `db:"fhir_payload" json:"-"`
	Cache             json.RawMessage   `db:"cache" json:"-"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updated_at"`
}

// mirror snaps StepStatus back onto the backbone node, ending any
// outstanding jump.
func (r *DeathRecord) mirror() {
	r.Status.Mode = ModeLinear
	r.Status.CurrentStep = r.CurrentFlow.Step.Name
	r.Status.Requestor = ""
}

// Increment advances the record. From a linear state it moves the backbone
// to its next node, a no-op at a terminal. From a diverted state it instead
// resolves the jump: StepStatus snaps back to the unchanged backbone node,
// and a recorded requestor gets ownership back.
func (r *DeathRecord) Increment() {
	if r.Status.Diverted() {
		if r.Status.Requestor != "" {
			r.Owner = r.Status.Requestor
			r.NotifyFlag = true
		}
		r.mirror()
		return
	}
	if r.CurrentFlow.Next == nil {
		return
	}
	r.CurrentFlow = r.CurrentFlow.Next
	r.CurrentFlowID = r.CurrentFlow.ID
	r.mirror()
}

// Decrement moves the backbone to its previous node, a no-op at the entry.
func (r *DeathRecord) Decrement() {
	if r.CurrentFlow.Previous == nil {
		return
	}
	r.CurrentFlow = r.CurrentFlow.Previous
	r.CurrentFlowID = r.CurrentFlow.ID
	r.mirror()
}

// UpdateStep repositions the record. linear moves the backbone directly to
// the named step's node; non-linear is a jump that moves only StepStatus,
// optionally recording the requestor to restore on resolution. An unknown
// step fails with ErrNotFound and leaves the record unchanged.
func (r *DeathRecord) UpdateStep(stepName string, linear bool, requestor string) error {
	flow := r.Workflow.FlowFor(stepName)
	if flow == nil {
		return fmt.Errorf("step %q: %w", stepName, ErrNotFound)
	}
	if linear {
		r.CurrentFlow = flow
		r.CurrentFlowID = flow.ID
		r.mirror()
		return nil
	}
	// A jump to the backbone node is no divergence at all; snap to it so
	// the next increment advances instead of resolving.
	if stepName == r.CurrentFlow.Step.Name && requestor == "" {
		r.mirror()
		return nil
	}
	r.Status.Mode = ModeDiverted
	r.Status.CurrentStep = stepName
	r.Status.Requestor = requestor
	return nil
}

// UpdateOwner replaces the owning actor and flags a pending notification.
// An empty actor is a no-op.
func (r *DeathRecord) UpdateOwner(owner string) {
	if owner == "" {
		return
	}
	r.Owner = owner
	r.NotifyFlag = true
}

// StepEditable reports whether an actor holding the given roles may edit
// the named step, derived from the workflow backbone.
func (r *DeathRecord) StepEditable(stepName string, roles []string) bool {
	return r.Workflow.StepEditable(stepName, roles)
}

// StepsEditable returns the names of every step the given roles may edit.
func (r *DeathRecord) StepsEditable(roles []string) []string {
	return r.Workflow.EditableSteps(roles)
}

// NextStepRole returns the role the record is handed to from the step the
// StepStatus currently occupies.
func (r *DeathRecord) NextStepRole() string {
	flow := r.Workflow.FlowFor(r.Status.CurrentStep)
	if flow == nil {
		return ""
	}
	return flow.SendToRole
}

// Terminal reports whether the backbone has no further node.
func (r *DeathRecord) Terminal() bool {
	return r.CurrentFlow != nil && r.CurrentFlow.Next == nil
}

// Metadata assembles the record's state flags plus the decedent identity
// fields pulled from the step contents for the projection.
func (r *DeathRecord) Metadata() map[string]interface{} {
	m := map[string]interface{}{
		"certificateNumber": r.CertificateNumber,
		"voided":            r.Voided,
		"submitted":         r.Submitted,
		"abandoned":         r.Abandoned,
		"certifierName":     r.CertifierName,
		"createdAt":         prettyDate(r.CreatedAt),
		"updatedAt":         prettyDate(r.UpdatedAt),
	}
	for key, field := range map[string]string{
		"decedentName.firstName":  "firstName",
		"decedentName.middleName": "middleName",
		"decedentName.lastName":   "lastName",
		"decedentName.suffix":     "suffix",
		"ssn.ssn":                 "ssn",
	} {
		if v, ok := r.Contents[key]; ok && v != "" {
			m[field] = v
		}
	}
	return m
}

// prettyDate renders a timestamp in the display form used by the
// projection, e.g. "January 2, 2006 15:04".
func prettyDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("January 2, 2006 15:04")
}

// Comment is a reviewer note attached to a record.
type Comment struct {
	ID        uuid.UUID `db:"id" json:"id"`
	RecordID  uuid.UUID `db:"record_id" json:"record_id"`
	Author    string    `db:"author" json:"author"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// StepContent is the persisted nested slice of one step's fields.
type StepContent struct {
	ID       uuid.UUID       `db:"id" json:"id"`
	RecordID uuid.UUID       `db:"record_id" json:"record_id"`
	StepName string          `db:"step_name" json:"step_name"`
	Contents json.RawMessage `db:"contents" json:"contents"`
}

// Certificate records that the printable certificate was generated; at most
// one exists per record.
type Certificate struct {
	ID          uuid.UUID `db:"id" json:"id"`
	RecordID    uuid.UUID `db:"record_id" json:"record_id"`
	GeneratedBy string    `db:"generated_by" json:"generated_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Registration records local registration by the registrar.
type Registration struct {
	ID           uuid.UUID `db:"id" json:"id"`
	RecordID     uuid.UUID `db:"record_id" json:"record_id"`
	RegisteredBy string    `db:"registered_by" json:"registered_by"`
	RegisteredAt time.Time `db:"registered_at" json:"registered_at"`
}

// StepHistory is the audit trail of transitions applied to a record.
type StepHistory struct {
	ID        uuid.UUID `db:"id" json:"id"`
	RecordID  uuid.UUID `db:"record_id" json:"record_id"`
	StepName  string    `db:"step_name" json:"step_name"`
	Actor     string    `db:"actor" json:"actor"`
	Action    string    `db:"action" json:"action"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Projection is the read-only full-record view served to clients. It is
// regenerated from current state on every mutation, never hand-patched.
type Projection struct {
	ID           string                 `json:"id"`
	Owner        string                 `json:"owner"`
	Creator      string                 `json:"creator"`
	CurrentStep  string                 `json:"currentStep"`
	NextStepRole string                 `json:"nextStepRole,omitempty"`
	Steps        []string               `json:"steps"`
	Contents     map[string]string      `json:"contents,omitempty"`
	Comments     []*Comment             `json:"comments,omitempty"`
	Registration *Registration          `json:"registration,omitempty"`
	Metadata     map[string]interface{} `json:"metadata"`
	Notify       bool                   `json:"notify"`
}

// GenerateJSON rebuilds the cached projection from current record state.
func (r *DeathRecord) GenerateJSON(comments []*Comment, registration *Registration) (json.RawMessage, error) {
	steps := make([]string, 0, len(r.Workflow.Flows))
	for _, s := range r.Workflow.Steps() {
		steps = append(steps, s.Name)
	}
	p := Projection{
		ID:           r.ID.String(),
		Owner:        r.Owner,
		Creator:      r.Creator,
		CurrentStep:  r.Status.CurrentStep,
		NextStepRole: prettyRole(r.NextStepRole()),
		Steps:        steps,
		Contents:     r.Contents,
		Comments:     comments,
		Registration: registration,
		Metadata:     r.Metadata(),
		Notify:       r.NotifyFlag,
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal projection: %w", err)
	}
	return raw, nil
}

// prettyRole turns a snake_case role name into display form, e.g.
// "funeral_director" becomes "Funeral Director".
func prettyRole(role string) string {
	if role == "" {
		return ""
	}
	words := strings.Split(role, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
