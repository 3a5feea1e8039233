package fhir

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bundle represents a FHIR Bundle resource. Death-record interchange uses
// two bundle types: "document" on the way in and "message" on the way out.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// MessageHeader is the first entry of every outbound submission bundle.
type MessageHeader struct {
	ResourceType string               `json:"resourceType"`
	ID           string               `json:"id,omitempty"`
	Timestamp    *time.Time           `json:"timestamp,omitempty"`
	EventURI     string               `json:"eventUri"`
	Destination  []MessageDestination `json:"destination,omitempty"`
	Source       MessageSource        `json:"source"`
	Focus        []Reference          `json:"focus,omitempty"`
}

type MessageDestination struct {
	Endpoint string `json:"endpoint"`
}

type MessageSource struct {
	Endpoint string `json:"endpoint"`
}

// Parameters is the FHIR Parameters resource used as the void payload.
type Parameters struct {
	ResourceType string      `json:"resourceType"`
	ID           string      `json:"id,omitempty"`
	Parameter    []Parameter `json:"parameter,omitempty"`
}

type Parameter struct {
	Name        string `json:"name"`
	ValueString string `json:"valueString,omitempty"`
}

// NewMessageBundle creates a message bundle stamped with the given id and
// the current time. Entries are appended by the caller in order: header
// first, then exactly one focus entry.
func NewMessageBundle(id string) *Bundle {
	now := time.Now().UTC()
	return &Bundle{
		ResourceType: "Bundle",
		Type:         "message",
		ID:           id,
		Timestamp:    &now,
	}
}

// AddResource marshals r and appends it as a bundle entry. Marshal failures
// are returned rather than dropped; a partially assembled message must not
// be transmitted.
func (b *Bundle) AddResource(r interface{}) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal bundle entry: %w", err)
	}
	b.Entry = append(b.Entry, BundleEntry{Resource: raw})
	return nil
}

// AddRaw appends an already-encoded resource as a bundle entry.
func (b *Bundle) AddRaw(fullURL string, raw json.RawMessage) {
	b.Entry = append(b.Entry, BundleEntry{FullURL: fullURL, Resource: raw})
}

// FormatReference creates a FHIR reference string.
func FormatReference(resourceType, id string) string {
	return fmt.Sprintf("%s/%s", resourceType, id)
}

// URNReference creates a urn:uuid reference for message focus entries.
func URNReference(id string) string {
	return "urn:uuid:" + id
}
