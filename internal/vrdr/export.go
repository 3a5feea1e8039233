package vrdr

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/openvital/edrs/internal/platform/fhir"
)

// Message event URIs understood by the national receiving system.
const (
	EventSubmission = "http://nchs.cdc.gov/vrdr_submission"
	EventUpdate     = "http://nchs.cdc.gov/vrdr_submission_update"
	EventVoid       = "http://nchs.cdc.gov/vrdr_submission_void"
)

// DefaultSourceEndpoint identifies the jurisdiction system in outbound
// message headers when config supplies nothing else.
const DefaultSourceEndpoint = "https://example-jurisdiction.gov/vital_records"

// Submission is the slice of record state the export builder needs.
type Submission struct {
	// CertificateNumber is the jurisdiction-assigned record identifier.
	CertificateNumber string
	// JurisdictionID is the two-letter jurisdiction code, e.g. "WA".
	JurisdictionID string
	// Voided and Submitted select the message event kind. Voided wins.
	Voided    bool
	Submitted bool
	// FHIRPayload is the previously mapped death-record resource; it is
	// the message focus for non-void submissions. Its top-level "id" is
	// used for the header focus reference when present.
	FHIRPayload json.RawMessage
}

// EventURI returns the message event for the record's current state.
func (s Submission) EventURI() string {
	switch {
	case s.Voided:
		return EventVoid
	case s.Submitted:
		return EventUpdate
	default:
		return EventSubmission
	}
}

// BuildSubmissionMessage assembles the outbound message bundle: a header
// entry followed by exactly one focus entry. For voided records the focus
// is a Parameters resource carrying the certificate number and
// jurisdiction instead of the full record.
func BuildSubmissionMessage(sub Submission, sourceEndpoint string) (*fhir.Bundle, error) {
	if sourceEndpoint == "" {
		sourceEndpoint = DefaultSourceEndpoint
	}

	bundle := fhir.NewMessageBundle(uuid.NewString())

	focusID := payloadID(sub.FHIRPayload)
	if focusID == "" {
		focusID = sub.CertificateNumber
	}

	header := fhir.MessageHeader{
		ResourceType: "MessageHeader",
		ID:           uuid.NewString(),
		EventURI:     sub.EventURI(),
		Destination: []fhir.MessageDestination{
			{Endpoint: EventSubmission},
		},
		Source: fhir.MessageSource{Endpoint: sourceEndpoint},
		Focus: []fhir.Reference{
			{Reference: fhir.URNReference(focusID)},
		},
	}
	if err := bundle.AddResource(header); err != nil {
		return nil, fmt.Errorf("add message header: %w", err)
	}

	if sub.Voided {
		params := fhir.Parameters{
			ResourceType: "Parameters",
			ID:           focusID,
			Parameter: []fhir.Parameter{
				{Name: "cert_no", ValueString: sub.CertificateNumber},
				{Name: "state_id", ValueString: sub.JurisdictionID},
			},
		}
		if err := bundle.AddResource(params); err != nil {
			return nil, fmt.Errorf("add void parameters: %w", err)
		}
		return bundle, nil
	}

	if len(sub.FHIRPayload) == 0 {
		return nil, fmt.Errorf("record has no mapped death-record resource to submit")
	}
	bundle.AddRaw(fhir.URNReference(focusID), sub.FHIRPayload)
	return bundle, nil
}

func payloadID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var peek struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return ""
	}
	return peek.ID
}
