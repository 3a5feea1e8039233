package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openvital/edrs/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *repoPG) Create(ctx context.Context, w *Workflow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		if _, err := r.conn(ctx).Exec(ctx,
			`INSERT INTO workflow (id, name) VALUES ($1, $2)`, w.ID, w.Name); err != nil {
			return fmt.Errorf("insert workflow: %w", err)
		}
		for _, f := range w.Flows {
			if _, err := r.conn(ctx).Exec(ctx,
				`INSERT INTO step (id, name, schema) VALUES ($1, $2, $3)
				 ON CONFLICT (id) DO NOTHING`,
				f.Step.ID, f.Step.Name, f.Step.Schema); err != nil {
				return fmt.Errorf("insert step %s: %w", f.Step.Name, err)
			}
		}
		for _, f := range w.Flows {
			var nextID, prevID *uuid.UUID
			if f.Next != nil {
				nextID = &f.Next.ID
			}
			if f.Previous != nil {
				prevID = &f.Previous.ID
			}
			if _, err := r.conn(ctx).Exec(ctx,
				`INSERT INTO step_flow (id, workflow_id, step_id, next_id, previous_id, role, send_to_role)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				f.ID, w.ID, f.Step.ID, nextID, prevID, f.Role, f.SendToRole); err != nil {
				return fmt.Errorf("insert step flow for %s: %w", f.Step.Name, err)
			}
		}
		return nil
	})
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	var w Workflow
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, name FROM workflow WHERE id = $1`, id).Scan(&w.ID, &w.Name)
	if err != nil {
		return nil, err
	}
	if err := r.loadFlows(ctx, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *repoPG) GetByName(ctx context.Context, name string) (*Workflow, error) {
	var w Workflow
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, name FROM workflow WHERE name = $1`, name).Scan(&w.ID, &w.Name)
	if err != nil {
		return nil, err
	}
	if err := r.loadFlows(ctx, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *repoPG) List(ctx context.Context) ([]*Workflow, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, name FROM workflow ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Workflow
	for rows.Next() {
		var w Workflow
		if err := rows.Scan(&w.ID, &w.Name); err != nil {
			return nil, err
		}
		items = append(items, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, w := range items {
		if err := r.loadFlows(ctx, w); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// loadFlows reads the workflow's flow rows and relinks the backbone
// pointers in memory.
func (r *repoPG) loadFlows(ctx context.Context, w *Workflow) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT f.id, f.next_id, f.previous_id, f.role, f.send_to_role,
		       s.id, s.name, s.schema
		FROM step_flow f
		JOIN step s ON s.id = f.step_id
		WHERE f.workflow_id = $1`, w.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	type edge struct {
		flow   *StepFlow
		nextID *uuid.UUID
		prevID *uuid.UUID
	}
	byID := make(map[uuid.UUID]edge)
	var order []uuid.UUID
	for rows.Next() {
		var (
			f            StepFlow
			s            Step
			nextID       *uuid.UUID
			prevID       *uuid.UUID
			sendToRole   *string
		)
		if err := rows.Scan(&f.ID, &nextID, &prevID, &f.Role, &sendToRole,
			&s.ID, &s.Name, &s.Schema); err != nil {
			return err
		}
		if sendToRole != nil {
			f.SendToRole = *sendToRole
		}
		f.WorkflowID = w.ID
		f.Step = &s
		byID[f.ID] = edge{flow: &f, nextID: nextID, prevID: prevID}
		order = append(order, f.ID)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	w.Flows = make([]*StepFlow, 0, len(order))
	for _, id := range order {
		e := byID[id]
		if e.nextID != nil {
			if next, ok := byID[*e.nextID]; ok {
				e.flow.Next = next.flow
			}
		}
		if e.prevID != nil {
			if prev, ok := byID[*e.prevID]; ok {
				e.flow.Previous = prev.flow
			}
		}
		w.Flows = append(w.Flows, e.flow)
	}
	return w.Validate()
}
