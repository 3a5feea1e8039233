package record

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// ListFilter narrows record listings. Zero values mean no constraint.
type ListFilter struct {
	Owner     string
	Abandoned *bool
	Voided    *bool
}

// Repository stores death records. GetByID returns ErrNotFound for an
// unknown id.
type Repository interface {
	Create(ctx context.Context, r *DeathRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*DeathRecord, error)
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*DeathRecord, int, error)
	Update(ctx context.Context, r *DeathRecord) error
}

// StepContentRepository stores one nested content slice per step per record.
type StepContentRepository interface {
	Upsert(ctx context.Context, recordID uuid.UUID, stepName string, contents json.RawMessage) error
	ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*StepContent, error)
}

// CommentRepository stores reviewer comments.
type CommentRepository interface {
	Create(ctx context.Context, c *Comment) error
	ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*Comment, error)
}

// CertificateRepository stores certificate-generation records. GetByRecord
// returns ErrNotFound when no certificate exists yet.
type CertificateRepository interface {
	Create(ctx context.Context, c *Certificate) error
	GetByRecord(ctx context.Context, recordID uuid.UUID) (*Certificate, error)
}

// RegistrationRepository stores local registrations. GetByRecord returns
// ErrNotFound when the record is unregistered.
type RegistrationRepository interface {
	Create(ctx context.Context, r *Registration) error
	GetByRecord(ctx context.Context, recordID uuid.UUID) (*Registration, error)
}

// HistoryRepository stores the transition audit trail.
type HistoryRepository interface {
	Append(ctx context.Context, h *StepHistory) error
	ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*StepHistory, error)
}
