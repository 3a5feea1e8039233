package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openvital/edrs/internal/domain/workflow"
	"github.com/openvital/edrs/internal/dotted"
	"github.com/openvital/edrs/internal/platform/fhir"
	"github.com/openvital/edrs/internal/platform/submission"
	"github.com/openvital/edrs/internal/vrdr"
)

// Actor identifies the user performing an operation. Roles are ordered,
// first is primary.
type Actor struct {
	Name  string
	Roles []string
}

// TxFunc runs fn atomically. Repositories invoked inside fn observe the
// same transaction through the context it receives.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// Service coordinates record mutations. Transitions on a single record are
// serialized by a per-record mutex; the cached projection and workflow
// position are therefore always updated as one unit relative to other
// operations on the same record.
type Service struct {
	records       Repository
	contents      StepContentRepository
	comments      CommentRepository
	certificates  CertificateRepository
	registrations RegistrationRepository
	history       HistoryRepository
	workflows     workflow.Repository

	tx             TxFunc
	submitter      submission.Client
	jurisdictionID string
	sourceEndpoint string
	log            zerolog.Logger

	locks sync.Map
}

type ServiceDeps struct {
	Records       Repository
	Contents      StepContentRepository
	Comments      CommentRepository
	Certificates  CertificateRepository
	Registrations RegistrationRepository
	History       HistoryRepository
	Workflows     workflow.Repository
	Tx            TxFunc
	Submitter     submission.Client
	JurisdictionID string
	SourceEndpoint string
	Logger         zerolog.Logger
}

func NewService(deps ServiceDeps) *Service {
	tx := deps.Tx
	if tx == nil {
		tx = func(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }
	}
	return &Service{
		records:        deps.Records,
		contents:       deps.Contents,
		comments:       deps.Comments,
		certificates:   deps.Certificates,
		registrations:  deps.Registrations,
		history:        deps.History,
		workflows:      deps.Workflows,
		tx:             tx,
		submitter:      deps.Submitter,
		jurisdictionID: deps.JurisdictionID,
		sourceEndpoint: deps.SourceEndpoint,
		log:            deps.Logger,
	}
}

// lock serializes mutations on one record. Mutexes are never evicted, so
// the map grows with the set of records this process has touched; evicting
// safely would need a reference count to avoid unlocking a vacated entry.
func (s *Service) lock(id uuid.UUID) func() {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// DefaultWorkflowName is the workflow assigned to records at intake.
const DefaultWorkflowName = "death_record"

// Intake ingests an inbound document bundle, creates the record at the
// workflow's entry node, and persists the per-step content slices.
func (s *Service) Intake(ctx context.Context, bundle *fhir.Bundle, creator string) (*DeathRecord, error) {
	contents, err := vrdr.FromFHIR(bundle)
	if err != nil {
		return nil, fmt.Errorf("ingest document: %w", err)
	}

	wf, err := s.workflows.GetByName(ctx, DefaultWorkflowName)
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}
	entry := wf.Entry()
	if entry == nil {
		return nil, fmt.Errorf("workflow %q has no entry node", wf.Name)
	}

	payload, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("encode document payload: %w", err)
	}

	rec := &DeathRecord{
		ID:            uuid.New(),
		WorkflowID:    wf.ID,
		Workflow:      wf,
		CurrentFlowID: entry.ID,
		CurrentFlow:   entry,
		Status:        StepStatus{Mode: ModeLinear, CurrentStep: entry.Step.Name},
		Owner:         creator,
		Creator:       creator,
		Contents:      contents,
		FHIRPayload:   payload,
	}
	if first, last, err := vrdr.CertifierName(bundle); err == nil {
		rec.CertifierName = joinName(first, last)
	}
	if rec.Cache, err = rec.GenerateJSON(nil, nil); err != nil {
		return nil, err
	}

	// Record row and content slices land together or not at all.
	err = s.tx(ctx, func(ctx context.Context) error {
		if err := s.records.Create(ctx, rec); err != nil {
			return fmt.Errorf("create record: %w", err)
		}
		return s.storeContents(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, rec, creator, "intake")
	s.log.Info().Str("record_id", rec.ID.String()).Str("creator", creator).Msg("record created at intake")
	return rec, nil
}

// joinName assembles a display name from whichever parts are present.
func joinName(parts ...string) string {
	var present []string
	for _, p := range parts {
		if p != "" {
			present = append(present, p)
		}
	}
	return strings.Join(present, " ")
}

// storeContents nests the merged flat contents and upserts one slice per
// declaring step. Keys declared by no step stay out of every slice but
// remain in the record's flat contents.
func (s *Service) storeContents(ctx context.Context, rec *DeathRecord) error {
	nested, err := dotted.NestStrings(rec.Contents)
	if err != nil {
		return fmt.Errorf("nest contents: %w", err)
	}
	for stepName, slice := range rec.Workflow.SeparateContents(nested) {
		raw, err := json.Marshal(slice)
		if err != nil {
			return fmt.Errorf("encode %s contents: %w", stepName, err)
		}
		if err := s.contents.Upsert(ctx, rec.ID, stepName, raw); err != nil {
			return fmt.Errorf("store %s contents: %w", stepName, err)
		}
	}
	return nil
}

// Get loads and hydrates a record: workflow backbone relinked, per-step
// contents flattened and merged.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*DeathRecord, error) {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.hydrate(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) hydrate(ctx context.Context, rec *DeathRecord) error {
	wf, err := s.workflows.GetByID(ctx, rec.WorkflowID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}
	rec.Workflow = wf
	for _, f := range wf.Flows {
		if f.ID == rec.CurrentFlowID {
			rec.CurrentFlow = f
		}
	}
	if rec.CurrentFlow == nil {
		return fmt.Errorf("record %s references unknown flow node %s", rec.ID, rec.CurrentFlowID)
	}

	slices, err := s.contents.ListByRecord(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("load step contents: %w", err)
	}
	merged := make(map[string]string)
	for _, sc := range slices {
		var nested map[string]interface{}
		if err := json.Unmarshal(sc.Contents, &nested); err != nil {
			return fmt.Errorf("decode %s contents: %w", sc.StepName, err)
		}
		for k, v := range dotted.Flatten(nested) {
			if str, ok := v.(string); ok {
				merged[k] = str
			}
		}
	}
	if len(merged) > 0 {
		rec.Contents = merged
	}
	return nil
}

// List returns records matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*DeathRecord, int, error) {
	return s.records.List(ctx, filter, limit, offset)
}

// refresh regenerates the cached projection and persists the record.
func (s *Service) refresh(ctx context.Context, rec *DeathRecord) error {
	comments, err := s.comments.ListByRecord(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("load comments: %w", err)
	}
	registration, err := s.registrations.GetByRecord(ctx, rec.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("load registration: %w", err)
	}
	if rec.Cache, err = rec.GenerateJSON(comments, registration); err != nil {
		return err
	}
	return s.records.Update(ctx, rec)
}

func (s *Service) audit(ctx context.Context, rec *DeathRecord, actor, action string) {
	err := s.history.Append(ctx, &StepHistory{
		ID:       uuid.New(),
		RecordID: rec.ID,
		StepName: rec.Status.CurrentStep,
		Actor:    actor,
		Action:   action,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("record_id", rec.ID.String()).Str("action", action).Msg("audit append failed")
	}
}

// UpdateStepContents replaces one step's content slice. The actor must hold
// the role the workflow assigns to that step.
func (s *Service) UpdateStepContents(ctx context.Context, id uuid.UUID, stepName string, nested map[string]interface{}, actor Actor) (*DeathRecord, error) {
	defer s.lock(id)()

	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	step := rec.Workflow.FlowFor(stepName)
	if step == nil {
		return nil, fmt.Errorf("step %q: %w", stepName, ErrNotFound)
	}
	if !rec.StepEditable(stepName, actor.Roles) {
		return nil, fmt.Errorf("role may not edit step %q: %w", stepName, ErrForbidden)
	}

	sliced := step.Step.Slice(nested)
	raw, err := json.Marshal(sliced)
	if err != nil {
		return nil, fmt.Errorf("encode contents: %w", err)
	}
	if err := s.contents.Upsert(ctx, rec.ID, stepName, raw); err != nil {
		return nil, fmt.Errorf("store contents: %w", err)
	}
	for k, v := range dotted.Flatten(sliced) {
		if str, ok := v.(string); ok {
			if rec.Contents == nil {
				rec.Contents = make(map[string]string)
			}
			rec.Contents[k] = str
		}
	}
	s.audit(ctx, rec, actor.Name, "edit")
	if err := s.refresh(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Increment advances the record, or resolves an outstanding jump.
func (s *Service) Increment(ctx context.Context, id uuid.UUID, actor Actor) (*DeathRecord, error) {
	defer s.lock(id)()

	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Increment()
	s.audit(ctx, rec, actor.Name, "increment")
	if err := s.refresh(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Decrement moves the record back one backbone node.
func (s *Service) Decrement(ctx context.Context, id uuid.UUID, actor Actor) (*DeathRecord, error) {
	defer s.lock(id)()

	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Decrement()
	s.audit(ctx, rec, actor.Name, "decrement")
	if err := s.refresh(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateStep repositions the record linearly or as a jump.
func (s *Service) UpdateStep(ctx context.Context, id uuid.UUID, stepName string, linear bool, actor Actor) (*DeathRecord, error) {
	defer s.lock(id)()

	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := rec.UpdateStep(stepName, linear, ""); err != nil {
		return nil, err
	}
	s.audit(ctx, rec, actor.Name, "update_step")
	if err := s.refresh(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// RequestEdits jumps the record to an earlier step so its owner can make
// corrections, recording the requestor so the next increment returns the
// record and its ownership.
func (s *Service) RequestEdits(ctx context.Context, id uuid.UUID, stepName, newOwner string, actor Actor) (*DeathRecord, error) {
	defer s.lock(id)()

	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := rec.UpdateStep(stepName, false, actor.Name); err != nil {
		return nil, err
	}
	rec.UpdateOwner(newOwner)
	s.audit(ctx, rec, actor.Name, "request_edits")
	if err := s.refresh(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Reassign repositions the record linearly to the named step and hands
// ownership to the actor who should act there. The new owner must hold the
// role the workflow assigns to that step.
func (s *Service) Reassign(ctx context.Context, id uuid.UUID, stepName string, newOwner Actor, actor Actor) (*DeathRecord, error) {
	defer s.lock(id)()

	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.StepEditable(stepName, newOwner.Roles) {
		return nil, fmt.Errorf("new owner may not act on step %q: %w", stepName, ErrForbidden)
	}
	if err := rec.UpdateStep(stepName, true, ""); err != nil {
		return nil, err
	}
	rec.UpdateOwner(newOwner.Name)
	s.audit(ctx, rec, actor.Name, "reassign")
	if err := s.refresh(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// AddComment attaches a reviewer comment and refreshes the projection.
func (s *Service) AddComment(ctx context.Context, id uuid.UUID, author, body string) (*Comment, error) {
	defer s.lock(id)()

	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	comment := &Comment{ID: uuid.New(), RecordID: id, Author: author, Body: body}
	if err := s.comments.Create(ctx, comment); err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	if err := s.refresh(ctx, rec); err != nil {
		return nil, err
	}
	return comment, nil
}

// Register records local registration by the registrar.
func (s *Service) Register(ctx context.Context, id uuid.UUID, actor Actor) (*Registration, error) {
	defer s.lock(id)()

	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	registration := &Registration{ID: uuid.New(), RecordID: id, RegisteredBy: actor.Name}
	if err := s.registrations.Create(ctx, registration); err != nil {
		return nil, fmt.Errorf("create registration: %w", err)
	}
	s.audit(ctx, rec, actor.Name, "register")
	if err := s.refresh(ctx, rec); err != nil {
		return nil, err
	}
	return registration, nil
}

// Abandon marks the record abandoned. Retirement is a state, never a
// deletion.
func (s *Service) Abandon(ctx context.Context, id uuid.UUID, actor Actor) (*DeathRecord, error) {
	defer s.lock(id)()

	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Abandoned = true
	s.audit(ctx, rec, actor.Name, "abandon")
	if err := s.refresh(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Void marks the record voided; a subsequent Submit sends the void message.
func (s *Service) Void(ctx context.Context, id uuid.UUID, actor Actor) (*DeathRecord, error) {
	defer s.lock(id)()

	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Voided = true
	s.audit(ctx, rec, actor.Name, "void")
	if err := s.refresh(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// GenerateCertificate records certificate generation. A second call for the
// same record fails with ErrAlreadyExists.
func (s *Service) GenerateCertificate(ctx context.Context, id uuid.UUID, actor Actor) (*Certificate, error) {
	defer s.lock(id)()

	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.certificates.GetByRecord(ctx, id); err == nil {
		return nil, fmt.Errorf("certificate for record %s: %w", id, ErrAlreadyExists)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	cert := &Certificate{ID: uuid.New(), RecordID: id, GeneratedBy: actor.Name}
	if err := s.certificates.Create(ctx, cert); err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	s.audit(ctx, rec, actor.Name, "generate_certificate")
	return cert, nil
}

// Submit exports and transmits the record. The sequence is strictly map,
// then mark submitted, then transmit: a mapping failure leaves the record
// unmarked, while a transport failure after marking surfaces the
// inconsistency as ErrSubmittedNotTransmitted and is never retried here.
func (s *Service) Submit(ctx context.Context, id uuid.UUID, actor Actor) (*DeathRecord, error) {
	defer s.lock(id)()

	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	sub := vrdr.Submission{
		CertificateNumber: rec.CertificateNumber,
		JurisdictionID:    s.jurisdictionID,
		Voided:            rec.Voided,
		Submitted:         rec.Submitted,
		FHIRPayload:       rec.FHIRPayload,
	}
	message, err := vrdr.BuildSubmissionMessage(sub, s.sourceEndpoint)
	if err != nil {
		return nil, fmt.Errorf("build submission: %w", err)
	}

	rec.Submitted = true
	s.audit(ctx, rec, actor.Name, "submit")
	if err := s.refresh(ctx, rec); err != nil {
		return nil, err
	}

	if err := s.submitter.Submit(ctx, message); err != nil {
		s.log.Error().Err(err).Str("record_id", rec.ID.String()).Msg("submission transport failed after marking submitted")
		return rec, fmt.Errorf("%w: %v", ErrSubmittedNotTransmitted, err)
	}
	s.log.Info().Str("record_id", rec.ID.String()).Str("event", sub.EventURI()).Msg("record submitted")
	return rec, nil
}

// History returns the record's transition audit trail.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]*StepHistory, error) {
	return s.history.ListByRecord(ctx, id)
}
