package fhir

import (
	"encoding/json"
	"testing"
)

func TestNewMessageBundle(t *testing.T) {
	b := NewMessageBundle("msg-1")
	if b.ResourceType != "Bundle" {
		t.Errorf("expected Bundle, got %q", b.ResourceType)
	}
	if b.Type != "message" {
		t.Errorf("expected message type, got %q", b.Type)
	}
	if b.ID != "msg-1" {
		t.Errorf("expected id msg-1, got %q", b.ID)
	}
	if b.Timestamp == nil {
		t.Error("expected timestamp to be set")
	}
}

func TestBundle_AddResource(t *testing.T) {
	b := NewMessageBundle("msg-2")
	header := MessageHeader{
		ResourceType: "MessageHeader",
		EventURI:     "http://nchs.cdc.gov/vrdr_submission",
		Source:       MessageSource{Endpoint: "https://example-jurisdiction.gov/vital_records"},
	}
	if err := b.AddResource(header); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.Entry) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(b.Entry))
	}
	var decoded MessageHeader
	if err := json.Unmarshal(b.Entry[0].Resource, &decoded); err != nil {
		t.Fatalf("entry did not round-trip: %v", err)
	}
	if decoded.EventURI != header.EventURI {
		t.Errorf("eventUri mismatch: %q", decoded.EventURI)
	}
}

func TestResourceType_Peek(t *testing.T) {
	raw := json.RawMessage(`{"resourceType":"Patient","name":[{"given":["Jane"]}]}`)
	if rt := ResourceType(raw); rt != "Patient" {
		t.Errorf("expected Patient, got %q", rt)
	}
	if rt := ResourceType(json.RawMessage(`not json`)); rt != "" {
		t.Errorf("expected empty type on bad json, got %q", rt)
	}
}

func TestFirstCoding(t *testing.T) {
	var nilConcept *CodeableConcept
	if c := nilConcept.FirstCoding(); c.Code != "" {
		t.Errorf("expected zero coding on nil concept, got %+v", c)
	}
	concept := &CodeableConcept{Coding: []Coding{{Code: "69449-7"}, {Code: "other"}}}
	if c := concept.FirstCoding(); c.Code != "69449-7" {
		t.Errorf("expected first coding, got %+v", c)
	}
}
