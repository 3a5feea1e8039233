package record

import (
	"context"
	"encoding/json"
	"errors"
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

const recordCols = `id, certificate_number, workflow_id, current_flow_id,
	mode, current_step, requestor, owner, creator, certifier_name,
	voided, submitted, abandoned, notify_flag, fhir_payload, cache,
	created_at, updated_at`

func scanRecord(row pgx.Row) (*DeathRecord, error) {
	var rec DeathRecord
	var requestor, certifierName *string
	err := row.Scan(&rec.ID, &rec.CertificateNumber, &rec.WorkflowID, &rec.CurrentFlowID,
		&rec.Status.Mode, &rec.Status.CurrentStep, &requestor, &rec.Owner, &rec.Creator, &certifierName,
		&rec.Voided, &rec.Submitted, &rec.Abandoned, &rec.NotifyFlag, &rec.FHIRPayload, &rec.Cache,
		&rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("record: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if requestor != nil {
		rec.Status.Requestor = *requestor
	}
	if certifierName != nil {
		rec.CertifierName = *certifierName
	}
	return &rec, nil
}

func (r *repoPG) Create(ctx context.Context, rec *DeathRecord) error {
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO death_record (id, workflow_id, current_flow_id,
			mode, current_step, requestor, owner, creator, certifier_name,
			voided, submitted, abandoned, notify_flag, fhir_payload, cache)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING certificate_number, created_at, updated_at`,
		rec.ID, rec.WorkflowID, rec.CurrentFlowID,
		rec.Status.Mode, rec.Status.CurrentStep, nullable(rec.Status.Requestor),
		rec.Owner, rec.Creator, nullable(rec.CertifierName),
		rec.Voided, rec.Submitted, rec.Abandoned, rec.NotifyFlag, rec.FHIRPayload, rec.Cache)
	return row.Scan(&rec.CertificateNumber, &rec.CreatedAt, &rec.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*DeathRecord, error) {
	return scanRecord(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+` FROM death_record WHERE id = $1`, id))
}

func (r *repoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*DeathRecord, int, error) {
	where := `WHERE 1=1`
	args := []interface{}{}
	idx := 1
	if filter.Owner != "" {
		where += fmt.Sprintf(" AND owner = $%d", idx)
		args = append(args, filter.Owner)
		idx++
	}
	if filter.Abandoned != nil {
		where += fmt.Sprintf(" AND abandoned = $%d", idx)
		args = append(args, *filter.Abandoned)
		idx++
	}
	if filter.Voided != nil {
		where += fmt.Sprintf(" AND voided = $%d", idx)
		args = append(args, *filter.Voided)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM death_record `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+recordCols+` FROM death_record `+where+
			fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*DeathRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, rows.Err()
}

func (r *repoPG) Update(ctx context.Context, rec *DeathRecord) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE death_record SET current_flow_id=$2, mode=$3, current_step=$4,
			requestor=$5, owner=$6, voided=$7, submitted=$8, abandoned=$9,
			notify_flag=$10, cache=$11, updated_at=NOW()
		WHERE id = $1`,
		rec.ID, rec.CurrentFlowID, rec.Status.Mode, rec.Status.CurrentStep,
		nullable(rec.Status.Requestor), rec.Owner, rec.Voided, rec.Submitted,
		rec.Abandoned, rec.NotifyFlag, rec.Cache)
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// -- step contents --

type stepContentRepoPG struct{ pool *pgxpool.Pool }

func NewStepContentRepoPG(pool *pgxpool.Pool) StepContentRepository {
	return &stepContentRepoPG{pool: pool}
}

func (r *stepContentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *stepContentRepoPG) Upsert(ctx context.Context, recordID uuid.UUID, stepName string, contents json.RawMessage) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO step_content (id, record_id, step_name, contents)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (record_id, step_name) DO UPDATE SET contents = EXCLUDED.contents`,
		uuid.New(), recordID, stepName, contents)
	return err
}

func (r *stepContentRepoPG) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*StepContent, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, record_id, step_name, contents
		FROM step_content WHERE record_id = $1 ORDER BY step_name`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*StepContent
	for rows.Next() {
		var sc StepContent
		if err := rows.Scan(&sc.ID, &sc.RecordID, &sc.StepName, &sc.Contents); err != nil {
			return nil, err
		}
		items = append(items, &sc)
	}
	return items, rows.Err()
}

// -- comments --

type commentRepoPG struct{ pool *pgxpool.Pool }

func NewCommentRepoPG(pool *pgxpool.Pool) CommentRepository {
	return &commentRepoPG{pool: pool}
}

func (r *commentRepoPG) Create(ctx context.Context, c *Comment) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO record_comment (id, record_id, author, body)
		VALUES ($1, $2, $3, $4) RETURNING created_at`,
		c.ID, c.RecordID, c.Author, c.Body).Scan(&c.CreatedAt)
}

func (r *commentRepoPG) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*Comment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, record_id, author, body, created_at
		FROM record_comment WHERE record_id = $1 ORDER BY created_at`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.RecordID, &c.Author, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &c)
	}
	return items, rows.Err()
}

// -- certificates --

type certificateRepoPG struct{ pool *pgxpool.Pool }

func NewCertificateRepoPG(pool *pgxpool.Pool) CertificateRepository {
	return &certificateRepoPG{pool: pool}
}

func (r *certificateRepoPG) Create(ctx context.Context, c *Certificate) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO certificate (id, record_id, generated_by)
		VALUES ($1, $2, $3) RETURNING created_at`,
		c.ID, c.RecordID, c.GeneratedBy).Scan(&c.CreatedAt)
}

func (r *certificateRepoPG) GetByRecord(ctx context.Context, recordID uuid.UUID) (*Certificate, error) {
	var c Certificate
	err := r.pool.QueryRow(ctx, `
		SELECT id, record_id, generated_by, created_at
		FROM certificate WHERE record_id = $1`, recordID).
		Scan(&c.ID, &c.RecordID, &c.GeneratedBy, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("certificate: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// -- registrations --

type registrationRepoPG struct{ pool *pgxpool.Pool }

func NewRegistrationRepoPG(pool *pgxpool.Pool) RegistrationRepository {
	return &registrationRepoPG{pool: pool}
}

func (r *registrationRepoPG) Create(ctx context.Context, reg *Registration) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO registration (id, record_id, registered_by)
		VALUES ($1, $2, $3) RETURNING registered_at`,
		reg.ID, reg.RecordID, reg.RegisteredBy).Scan(&reg.RegisteredAt)
}

func (r *registrationRepoPG) GetByRecord(ctx context.Context, recordID uuid.UUID) (*Registration, error) {
	var reg Registration
	err := r.pool.QueryRow(ctx, `
		SELECT id, record_id, registered_by, registered_at
		FROM registration WHERE record_id = $1`, recordID).
		Scan(&reg.ID, &reg.RecordID, &reg.RegisteredBy, &reg.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("registration: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// -- step history --

type historyRepoPG struct{ pool *pgxpool.Pool }

func NewHistoryRepoPG(pool *pgxpool.Pool) HistoryRepository {
	return &historyRepoPG{pool: pool}
}

func (r *historyRepoPG) Append(ctx context.Context, h *StepHistory) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO step_history (id, record_id, step_name, actor, action)
		VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		h.ID, h.RecordID, h.StepName, h.Actor, h.Action).Scan(&h.CreatedAt)
}

func (r *historyRepoPG) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*StepHistory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, record_id, step_name, actor, action, created_at
		FROM step_history WHERE record_id = $1 ORDER BY created_at`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*StepHistory
	for rows.Next() {
		var h StepHistory
		if err := rows.Scan(&h.ID, &h.RecordID, &h.StepName, &h.Actor, &h.Action, &h.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &h)
	}
	return items, rows.Err()
}
