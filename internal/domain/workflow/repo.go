package workflow

import (
	"context"

	"github.com/google/uuid"
)

// Repository loads and stores workflow definitions. Implementations must
// return workflows with the backbone pointers already linked.
type Repository interface {
	Create(ctx context.Context, w *Workflow) error
	GetByID(ctx context.Context, id uuid.UUID) (*Workflow, error)
	GetByName(ctx context.Context, name string) (*Workflow, error)
	List(ctx context.Context) ([]*Workflow, error)
}
