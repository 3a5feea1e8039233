package submission

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openvital/edrs/internal/platform/fhir"
)

func TestHTTPClientSubmit(t *testing.T) {
	var gotContentType string
	var gotBundle fhir.Bundle
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotBundle); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, 5*time.Second, zerolog.Nop())
	bundle := fhir.NewMessageBundle("msg-1")
	if err := client.Submit(context.Background(), bundle); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if gotContentType != "application/fhir+json" {
		t.Errorf("Content-Type = %q, want application/fhir+json", gotContentType)
	}
	if gotBundle.ID != "msg-1" || gotBundle.Type != "message" {
		t.Errorf("received bundle = %+v, want id msg-1 type message", gotBundle)
	}
}

func TestHTTPClientSubmitNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, 5*time.Second, zerolog.Nop())
	if err := client.Submit(context.Background(), fhir.NewMessageBundle("msg-2")); err == nil {
		t.Fatal("Submit() expected error for 503 response")
	}
}

func TestHTTPClientSubmitConnectionRefused(t *testing.T) {
	client := NewHTTPClient("http://127.0.0.1:1", time.Second, zerolog.Nop())
	if err := client.Submit(context.Background(), fhir.NewMessageBundle("msg-3")); err == nil {
		t.Fatal("Submit() expected error for unreachable endpoint")
	}
}
