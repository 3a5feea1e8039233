package workflow

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestDefaultValidates(t *testing.T) {
	w := Default()
	if err := w.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if entry := w.Entry(); entry == nil || entry.Step.Name != "Identity" {
		t.Errorf("Entry() = %v, want Identity node", entry)
	}
	steps := w.Steps()
	if len(steps) != 4 {
		t.Fatalf("len(Steps()) = %d, want 4", len(steps))
	}
	if steps[3].Name != "Review" {
		t.Errorf("terminal step = %q, want Review", steps[3].Name)
	}
}

func TestValidateRejectsTwoEntries(t *testing.T) {
	a := &StepFlow{ID: uuid.New(), Step: &Step{Name: "A"}}
	b := &StepFlow{ID: uuid.New(), Step: &Step{Name: "B"}}
	w := &Workflow{ID: uuid.New(), Name: "broken", Flows: []*StepFlow{a, b}}
	if err := w.Validate(); err == nil {
		t.Fatal("Validate() expected error for two entry nodes")
	}
}

func TestValidateRejectsNoTerminal(t *testing.T) {
	a := &StepFlow{ID: uuid.New(), Step: &Step{Name: "A"}}
	b := &StepFlow{ID: uuid.New(), Step: &Step{Name: "B"}}
	a.Next = b
	b.Previous = a
	b.Next = a
	a.Previous = b
	w := &Workflow{ID: uuid.New(), Name: "cycle", Flows: []*StepFlow{a, b}}
	if err := w.Validate(); err == nil {
		t.Fatal("Validate() expected error for a backbone with no terminal")
	}
}

func TestStepParams(t *testing.T) {
	step := &Step{Name: "Identity", Schema: schemaFor("ssn", "decedentName")}
	params := step.Params()
	if len(params) != 2 || params[0] != "decedentName" || params[1] != "ssn" {
		t.Errorf("Params() = %v, want sorted [decedentName ssn]", params)
	}
}

func TestStepParamsNoSchema(t *testing.T) {
	step := &Step{Name: "Empty"}
	params := step.Params()
	if params == nil {
		t.Fatal("Params() = nil, want empty slice")
	}
	if len(params) != 0 {
		t.Errorf("Params() = %v, want empty", params)
	}
}

func TestStepParamsMalformedSchema(t *testing.T) {
	step := &Step{Name: "Bad", Schema: json.RawMessage(`{"properties": [`)}
	if params := step.Params(); len(params) != 0 {
		t.Errorf("Params() = %v, want empty for malformed schema", params)
	}
}

func TestSliceKeepsOnlyDeclaredBranches(t *testing.T) {
	step := &Step{Name: "Identity", Schema: schemaFor("ssn")}
	nested := map[string]interface{}{
		"ssn": map[string]interface{}{"ssn1": "123", "ssn2": "45", "ssn3": "6789"},
	}
	for i := 0; i < 9; i++ {
		nested[string(rune('a'+i))] = map[string]interface{}{"x": "y"}
	}

	sliced := step.Slice(nested)
	if len(sliced) != 1 {
		t.Fatalf("len(Slice()) = %d, want 1", len(sliced))
	}
	if _, ok := sliced["ssn"]; !ok {
		t.Error("Slice() missing declared ssn branch")
	}
}

func TestStepEditable(t *testing.T) {
	w := Default()
	tests := []struct {
		step  string
		roles []string
		want  bool
	}{
		{"Identity", []string{"funeral_director"}, true},
		{"Identity", []string{"physician"}, false},
		{"MedicalCertification", []string{"physician"}, true},
		{"MedicalCertification", []string{"registrar", "physician"}, true},
		{"Review", []string{"registrar"}, true},
		{"Review", []string{"funeral_director"}, false},
		{"NoSuchStep", []string{"registrar"}, false},
		{"Identity", nil, false},
	}
	for _, tt := range tests {
		if got := w.StepEditable(tt.step, tt.roles); got != tt.want {
			t.Errorf("StepEditable(%q, %v) = %v, want %v", tt.step, tt.roles, got, tt.want)
		}
	}
}

func TestEditableSteps(t *testing.T) {
	w := Default()
	steps := w.EditableSteps([]string{"funeral_director"})
	if len(steps) != 2 || steps[0] != "Identity" || steps[1] != "Demographics" {
		t.Errorf("EditableSteps() = %v, want [Identity Demographics]", steps)
	}
}

func TestSeparateContents(t *testing.T) {
	w := Default()
	nested := map[string]interface{}{
		"decedentName": map[string]interface{}{"firstName": "Jane"},
		"cod":          map[string]interface{}{"immediate": "Cardiac arrest"},
		"undeclared":   map[string]interface{}{"x": "y"},
	}

	separated := w.SeparateContents(nested)
	if len(separated) != 2 {
		t.Fatalf("len(SeparateContents()) = %d, want 2", len(separated))
	}
	if _, ok := separated["Identity"]["decedentName"]; !ok {
		t.Error("Identity slice missing decedentName")
	}
	if _, ok := separated["MedicalCertification"]["cod"]; !ok {
		t.Error("MedicalCertification slice missing cod")
	}
	for name, slice := range separated {
		if _, ok := slice["undeclared"]; ok {
			t.Errorf("step %s slice contains undeclared key", name)
		}
	}
}

func TestFlowForAndNeighbors(t *testing.T) {
	w := Default()
	flow := w.FlowFor("Demographics")
	if flow == nil {
		t.Fatal("FlowFor(Demographics) = nil")
	}
	if flow.Previous == nil || flow.Previous.Step.Name != "Identity" {
		t.Error("Demographics.Previous is not Identity")
	}
	if flow.Next == nil || flow.Next.Step.Name != "MedicalCertification" {
		t.Error("Demographics.Next is not MedicalCertification")
	}
	if flow.SendToRole != "physician" {
		t.Errorf("Demographics.SendToRole = %q, want physician", flow.SendToRole)
	}
	if w.FlowFor("Missing") != nil {
		t.Error("FlowFor(Missing) != nil")
	}
}
