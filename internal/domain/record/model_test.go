package record

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/openvital/edrs/internal/domain/workflow"
)

func newTestRecord() *DeathRecord {
	wf := workflow.Default()
	entry := wf.Entry()
	return &DeathRecord{
		ID:            uuid.New(),
		WorkflowID:    wf.ID,
		Workflow:      wf,
		CurrentFlowID: entry.ID,
		CurrentFlow:   entry,
		Status:        StepStatus{Mode: ModeLinear, CurrentStep: entry.Step.Name},
		Owner:         "fd@example.com",
		Creator:       "fd@example.com",
	}
}

func TestIncrementAdvancesBackbone(t *testing.T) {
	rec := newTestRecord()
	rec.Increment()
	if rec.CurrentFlow.Step.Name != "Demographics" {
		t.Errorf("CurrentFlow step = %q, want Demographics", rec.CurrentFlow.Step.Name)
	}
	if rec.Status.CurrentStep != "Demographics" {
		t.Errorf("StepStatus = %q, want mirrored Demographics", rec.Status.CurrentStep)
	}
	if rec.Status.Requestor != "" {
		t.Errorf("Requestor = %q, want unchanged empty", rec.Status.Requestor)
	}
}

func TestIncrementNoOpAtTerminal(t *testing.T) {
	rec := newTestRecord()
	for i := 0; i < 10; i++ {
		rec.Increment()
	}
	if rec.CurrentFlow.Step.Name != "Review" {
		t.Errorf("CurrentFlow step = %q, want pinned at terminal Review", rec.CurrentFlow.Step.Name)
	}
}

func TestIncrementResolvesJumpAndRestoresOwner(t *testing.T) {
	rec := newTestRecord()
	rec.Increment() // Demographics
	rec.Increment() // MedicalCertification
	rec.Owner = "physician@example.com"

	if err := rec.UpdateStep("Identity", false, "physician@example.com"); err != nil {
		t.Fatalf("UpdateStep() error = %v", err)
	}
	rec.UpdateOwner("fd@example.com")

	if !rec.Status.Diverted() {
		t.Fatal("record not diverted after jump")
	}
	if rec.Status.CurrentStep != "Identity" {
		t.Errorf("StepStatus = %q, want Identity", rec.Status.CurrentStep)
	}
	if rec.CurrentFlow.Step.Name != "MedicalCertification" {
		t.Errorf("CurrentFlow moved to %q during jump, want MedicalCertification", rec.CurrentFlow.Step.Name)
	}

	rec.Increment()

	if rec.Status.Diverted() {
		t.Error("record still diverted after resolving increment")
	}
	if rec.Status.CurrentStep != "MedicalCertification" {
		t.Errorf("StepStatus = %q, want back at MedicalCertification", rec.Status.CurrentStep)
	}
	if rec.CurrentFlow.Step.Name != "MedicalCertification" {
		t.Errorf("CurrentFlow = %q, want unchanged MedicalCertification", rec.CurrentFlow.Step.Name)
	}
	if rec.Owner != "physician@example.com" {
		t.Errorf("Owner = %q, want restored to requestor", rec.Owner)
	}
	if rec.Status.Requestor != "" {
		t.Errorf("Requestor = %q, want cleared", rec.Status.Requestor)
	}
}

func TestIncrementResolvesJumpWithoutRequestor(t *testing.T) {
	rec := newTestRecord()
	rec.Increment()
	rec.Owner = "someone@example.com"

	if err := rec.UpdateStep("Identity", false, ""); err != nil {
		t.Fatalf("UpdateStep() error = %v", err)
	}
	rec.Increment()

	if rec.Status.CurrentStep != "Demographics" {
		t.Errorf("StepStatus = %q, want Demographics", rec.Status.CurrentStep)
	}
	if rec.Owner != "someone@example.com" {
		t.Errorf("Owner = %q, want unchanged without requestor", rec.Owner)
	}
}

func TestDecrementNoOpAtEntry(t *testing.T) {
	rec := newTestRecord()
	before := rec.Status
	rec.Decrement()
	if rec.CurrentFlow.Step.Name != "Identity" {
		t.Errorf("CurrentFlow step = %q, want unchanged Identity", rec.CurrentFlow.Step.Name)
	}
	if rec.Status != before {
		t.Errorf("StepStatus changed on no-op decrement: %+v", rec.Status)
	}
}

func TestDecrementMovesBack(t *testing.T) {
	rec := newTestRecord()
	rec.Increment()
	rec.Increment()
	rec.Decrement()
	if rec.CurrentFlow.Step.Name != "Demographics" {
		t.Errorf("CurrentFlow step = %q, want Demographics", rec.CurrentFlow.Step.Name)
	}
	if rec.Status.CurrentStep != "Demographics" {
		t.Errorf("StepStatus = %q, want mirrored Demographics", rec.Status.CurrentStep)
	}
}

func TestUpdateStepLinearMove(t *testing.T) {
	rec := newTestRecord()
	if err := rec.UpdateStep("Review", true, ""); err != nil {
		t.Fatalf("UpdateStep() error = %v", err)
	}
	if rec.CurrentFlow.Step.Name != "Review" {
		t.Errorf("CurrentFlow step = %q, want Review", rec.CurrentFlow.Step.Name)
	}
	if rec.Status.Diverted() {
		t.Error("linear move left the record diverted")
	}
}

func TestUpdateStepJumpToBackboneStepStaysLinear(t *testing.T) {
	rec := newTestRecord()
	rec.Increment() // Demographics

	if err := rec.UpdateStep("Demographics", false, ""); err != nil {
		t.Fatalf("UpdateStep() error = %v", err)
	}
	if rec.Status.Diverted() {
		t.Fatal("jump to the current backbone step marked the record diverted")
	}

	rec.Increment()
	if rec.Status.CurrentStep != "MedicalCertification" {
		t.Errorf("StepStatus = %q after increment, want advanced to MedicalCertification", rec.Status.CurrentStep)
	}
}

func TestUpdateStepUnknownStep(t *testing.T) {
	rec := newTestRecord()
	err := rec.UpdateStep("NoSuchStep", true, "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateStep() error = %v, want ErrNotFound", err)
	}
	if rec.CurrentFlow.Step.Name != "Identity" || rec.Status.CurrentStep != "Identity" {
		t.Error("failed transition mutated record state")
	}
}

func TestUpdateOwner(t *testing.T) {
	rec := newTestRecord()
	rec.UpdateOwner("")
	if rec.Owner != "fd@example.com" || rec.NotifyFlag {
		t.Error("empty owner update should be a no-op")
	}
	rec.UpdateOwner("registrar@example.com")
	if rec.Owner != "registrar@example.com" {
		t.Errorf("Owner = %q, want registrar@example.com", rec.Owner)
	}
	if !rec.NotifyFlag {
		t.Error("NotifyFlag not set on ownership change")
	}
}

func TestNextStepRoleFollowsStepStatus(t *testing.T) {
	rec := newTestRecord()
	rec.Increment() // Demographics, hands to physician
	if got := rec.NextStepRole(); got != "physician" {
		t.Errorf("NextStepRole() = %q, want physician", got)
	}

	// During a jump the role follows the occupied step, not the backbone.
	if err := rec.UpdateStep("Identity", false, "physician@example.com"); err != nil {
		t.Fatalf("UpdateStep() error = %v", err)
	}
	if got := rec.NextStepRole(); got != "funeral_director" {
		t.Errorf("NextStepRole() during jump = %q, want funeral_director", got)
	}
}

func TestGenerateJSONProjection(t *testing.T) {
	rec := newTestRecord()
	rec.Increment()
	rec.Contents = map[string]string{"decedentName.firstName": "Jane"}

	raw, err := rec.GenerateJSON([]*Comment{{ID: uuid.New(), RecordID: rec.ID, Author: "a", Body: "looks right"}}, nil)
	if err != nil {
		t.Fatalf("GenerateJSON() error = %v", err)
	}
	var p Projection
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("projection not valid JSON: %v", err)
	}
	if p.CurrentStep != "Demographics" {
		t.Errorf("CurrentStep = %q, want Demographics", p.CurrentStep)
	}
	if p.NextStepRole != "Physician" {
		t.Errorf("NextStepRole = %q, want pretty-printed Physician", p.NextStepRole)
	}
	if len(p.Steps) != 4 {
		t.Errorf("len(Steps) = %d, want 4", len(p.Steps))
	}
	if len(p.Comments) != 1 {
		t.Errorf("len(Comments) = %d, want 1", len(p.Comments))
	}
}

func TestPrettyRole(t *testing.T) {
	tests := []struct{ in, want string }{
		{"funeral_director", "Funeral Director"},
		{"physician", "Physician"},
		{"registrar", "Registrar"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := prettyRole(tt.in); got != tt.want {
			t.Errorf("prettyRole(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMetadataIncludesDecedentIdentity(t *testing.T) {
	rec := newTestRecord()
	rec.CertificateNumber = "1042"
	rec.CertifierName = "Gregory House"
	rec.CreatedAt = time.Date(2017, time.March, 14, 9, 30, 0, 0, time.UTC)
	rec.Contents = map[string]string{
		"decedentName.firstName": "Jane",
		"decedentName.lastName":  "Doe",
		"ssn.ssn":                "123-45-6789",
	}

	m := rec.Metadata()
	if m["firstName"] != "Jane" || m["lastName"] != "Doe" {
		t.Errorf("decedent name = %v %v, want Jane Doe", m["firstName"], m["lastName"])
	}
	if _, ok := m["middleName"]; ok {
		t.Error("middleName should be absent when not in contents")
	}
	if m["ssn"] != "123-45-6789" {
		t.Errorf("ssn = %v, want 123-45-6789", m["ssn"])
	}
	if m["certificateNumber"] != "1042" {
		t.Errorf("certificateNumber = %v, want 1042", m["certificateNumber"])
	}
	if m["createdAt"] != "March 14, 2017 09:30" {
		t.Errorf("createdAt = %v, want March 14, 2017 09:30", m["createdAt"])
	}
	if m["updatedAt"] != "" {
		t.Errorf("updatedAt = %v, want empty for zero time", m["updatedAt"])
	}
}
