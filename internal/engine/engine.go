package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"samanvay/internal/domain"
)

// Store persists one workflow record per project. Upsert is a full-document
// replace: create when the project is unknown, otherwise a compare-and-swap
// against the previously persisted version (state.Version-1). A stale write
// returns ErrConflict and persists nothing.
type Store interface {
	FindByProjectID(ctx context.Context, projectID string) (domain.WorkflowState, error)
	Upsert(ctx context.Context, state domain.WorkflowState) error
}

// Resolver looks up candidate agencies by tier. The returned order must be
// stable; when a single agency is needed the first candidate wins. The
// engine never retries a resolution.
type Resolver interface {
	FindAgenciesByType(ctx context.Context, agencyType string) ([]domain.Agency, error)
}

// Notifier delivers a notification best-effort. A delivery failure never
// rolls back the transition it accompanies.
type Notifier interface {
	Send(ctx context.Context, n domain.Notification) error
}

// Contract errors. Store implementations return ErrNotFound for unknown
// projects and ErrConflict for stale writes.
var (
	ErrNotFound          = errors.New("workflow not found")
	ErrConflict          = errors.New("workflow version conflict")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrMissingAgency     = errors.New("required agency not available")
	ErrInvalidAction     = errors.New("action not permitted for this agency")
)

// Engine is the transition core. All collaborators are injected; the engine
// holds no environment-dependent branches.
type Engine struct {
	Store    Store
	Resolver Resolver
	Notifier Notifier
	Logger   *log.Logger
	Now      func() time.Time

	// MaxExecuting caps how many resolved executing agencies are assigned
	// on approval. Zero assigns all candidates.
	MaxExecuting int
}

func New(store Store, resolver Resolver, notifier Notifier) Engine {
	return Engine{
		Store:    store,
		Resolver: resolver,
		Notifier: notifier,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) ts() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// stageEdges is the directed transition graph. approved is transient: the
// engine always moves on to assigned_executing within the same call.
var stageEdges = map[string][]string{
	domain.StageCreated:           {domain.StageNotifiedNodal},
	domain.StageNotifiedNodal:     {domain.StageUnderReview, domain.StageApproved, domain.StageRejected},
	domain.StageUnderReview:       {domain.StageApproved, domain.StageRejected},
	domain.StageApproved:          {domain.StageAssignedExecuting},
	domain.StageAssignedExecuting: {domain.StageInExecution},
	domain.StageInExecution:       {domain.StageMonitoring},
	domain.StageMonitoring:        {domain.StageCompleted},
}

// TransitionError reports a rejected stage edge. It unwraps to
// ErrInvalidTransition so callers can match either way.
type TransitionError struct {
	From string
	To   string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

func (e TransitionError) Unwrap() error { return ErrInvalidTransition }

func ensureStageTransition(from, to string) error {
	for _, next := range stageEdges[from] {
		if next == to {
			return nil
		}
	}
	return TransitionError{From: from, To: to}
}

// advance validates the edge, sets the stage, and appends exactly one event.
func (e Engine) advance(wf *domain.WorkflowState, to, actorID, action, notes string, metadata map[string]any) error {
	if err := ensureStageTransition(wf.CurrentStage, to); err != nil {
		return err
	}
	wf.CurrentStage = to
	e.appendEvent(wf, actorID, action, notes, metadata)
	return nil
}

func (e Engine) appendEvent(wf *domain.WorkflowState, actorID, action, notes string, metadata map[string]any) {
	ts := e.ts()
	wf.History = append(wf.History, domain.WorkflowEvent{
		Seq:      len(wf.History) + 1,
		Stage:    wf.CurrentStage,
		ActorID:  actorID,
		Action:   action,
		Notes:    notes,
		Metadata: metadata,
		TS:       ts,
	})
	wf.UpdatedAt = ts
}

func (e Engine) persist(ctx context.Context, wf *domain.WorkflowState) error {
	wf.Version++
	if err := e.Store.Upsert(ctx, *wf); err != nil {
		wf.Version--
		return fmt.Errorf("persist workflow %s: %w", wf.ProjectID, err)
	}
	return nil
}

// notify sends one notification and swallows delivery failures with a
// logged warning. The committed state is the source of truth, not the
// notification.
func (e Engine) notify(ctx context.Context, n domain.Notification) {
	if e.Notifier == nil {
		return
	}
	n.ID = uuid.New().String()
	n.CreatedAt = e.ts()
	if err := e.Notifier.Send(ctx, n); err != nil {
		e.logger().Printf("WARNING: %s notification to %s failed: %v", n.Type, n.TargetAgency, err)
	}
}

// Initialize creates a workflow at stage created and immediately attempts
// the nodal hand-off. When no nodal agency resolves the workflow stays at
// created (stalled); that is a valid result, not an error.
func (e Engine) Initialize(ctx context.Context, projectID, implementingAgencyID string) (domain.WorkflowState, error) {
	if projectID == "" {
		return domain.WorkflowState{}, errors.New("project id is required")
	}
	if implementingAgencyID == "" {
		return domain.WorkflowState{}, errors.New("implementing agency is required")
	}
	if _, err := e.Store.FindByProjectID(ctx, projectID); err == nil {
		return domain.WorkflowState{}, fmt.Errorf("workflow %s already exists", projectID)
	} else if !errors.Is(err, ErrNotFound) {
		return domain.WorkflowState{}, err
	}
	ts := e.ts()
	wf := domain.WorkflowState{
		ProjectID:          projectID,
		CurrentStage:       domain.StageCreated,
		ImplementingAgency: implementingAgencyID,
		CreatedAt:          ts,
		UpdatedAt:          ts,
	}
	e.appendEvent(&wf, implementingAgencyID, "project created", "", nil)

	nodal, err := e.firstAgency(ctx, domain.AgencyNodal)
	if err != nil {
		return domain.WorkflowState{}, err
	}
	if nodal == "" {
		// Stalled at created until NotifyNodal is re-triggered.
		if err := e.persist(ctx, &wf); err != nil {
			return domain.WorkflowState{}, err
		}
		return wf, nil
	}
	wf.NodalAgency = &nodal
	if err := e.advance(&wf, domain.StageNotifiedNodal, domain.SystemActor, "nodal agency notified", "", nil); err != nil {
		return domain.WorkflowState{}, err
	}
	if err := e.persist(ctx, &wf); err != nil {
		return domain.WorkflowState{}, err
	}
	e.notify(ctx, reviewRequired(wf, nodal))
	return wf, nil
}

// NotifyNodal retries the nodal hand-off for a workflow stalled at created.
func (e Engine) NotifyNodal(ctx context.Context, projectID string) (domain.WorkflowState, error) {
	wf, err := e.Store.FindByProjectID(ctx, projectID)
	if err != nil {
		return wf, err
	}
	if wf.CurrentStage != domain.StageCreated {
		return wf, fmt.Errorf("%w: cannot notify nodal from stage %s", ErrInvalidTransition, wf.CurrentStage)
	}
	nodal, err := e.firstAgency(ctx, domain.AgencyNodal)
	if err != nil {
		return wf, err
	}
	if nodal == "" {
		return wf, fmt.Errorf("%w: no nodal agency registered", ErrMissingAgency)
	}
	wf.NodalAgency = &nodal
	if err := e.advance(&wf, domain.StageNotifiedNodal, domain.SystemActor, "nodal agency notified", "", nil); err != nil {
		return wf, err
	}
	if err := e.persist(ctx, &wf); err != nil {
		return wf, err
	}
	e.notify(ctx, reviewRequired(wf, nodal))
	return wf, nil
}

// BeginReview moves a notified workflow into under_review. Only the
// assigned nodal agency may start the review.
func (e Engine) BeginReview(ctx context.Context, projectID, nodalAgencyID string) (domain.WorkflowState, error) {
	wf, err := e.Store.FindByProjectID(ctx, projectID)
	if err != nil {
		return wf, err
	}
	if wf.CurrentStage != domain.StageNotifiedNodal {
		return wf, fmt.Errorf("%w: cannot begin review from stage %s", ErrInvalidTransition, wf.CurrentStage)
	}
	if err := requireActor(wf.NodalAgency, nodalAgencyID, "nodal"); err != nil {
		return wf, err
	}
	if err := e.advance(&wf, domain.StageUnderReview, nodalAgencyID, "review started", "", nil); err != nil {
		return wf, err
	}
	if err := e.persist(ctx, &wf); err != nil {
		return wf, err
	}
	return wf, nil
}

// DecideNodal records the nodal agency's decision. Approval resolves and
// assigns executing agencies and lands on assigned_executing; rejection is
// terminal and notifies the implementing agency.
func (e Engine) DecideNodal(ctx context.Context, projectID, nodalAgencyID string, approved bool, notes string) (domain.WorkflowState, error) {
	wf, err := e.Store.FindByProjectID(ctx, projectID)
	if err != nil {
		return wf, err
	}
	if wf.CurrentStage != domain.StageNotifiedNodal && wf.CurrentStage != domain.StageUnderReview {
		return wf, fmt.Errorf("%w: cannot decide from stage %s", ErrInvalidTransition, wf.CurrentStage)
	}
	if err := requireActor(wf.NodalAgency, nodalAgencyID, "nodal"); err != nil {
		return wf, err
	}

	if !approved {
		if err := e.advance(&wf, domain.StageRejected, nodalAgencyID, "project rejected", notes, nil); err != nil {
			return wf, err
		}
		if err := e.persist(ctx, &wf); err != nil {
			return wf, err
		}
		e.notify(ctx, projectRejected(wf, nodalAgencyID, notes))
		return wf, nil
	}

	candidates, err := e.Resolver.FindAgenciesByType(ctx, domain.AgencyExecuting)
	if err != nil {
		return wf, fmt.Errorf("resolve executing agencies: %w", err)
	}
	if e.MaxExecuting > 0 && len(candidates) > e.MaxExecuting {
		candidates = candidates[:e.MaxExecuting]
	}
	if len(candidates) == 0 {
		return wf, fmt.Errorf("%w: no executing agency registered", ErrMissingAgency)
	}
	ids := make([]string, 0, len(candidates))
	for _, a := range candidates {
		ids = append(ids, a.ID)
	}
	wf.ExecutingAgencies = ids
	if err := e.advance(&wf, domain.StageApproved, nodalAgencyID, "project approved", notes, nil); err != nil {
		return wf, err
	}
	if err := e.advance(&wf, domain.StageAssignedExecuting, domain.SystemActor, "executing agencies assigned", "", map[string]any{
		"executing_agencies": ids,
	}); err != nil {
		return wf, err
	}
	if err := e.persist(ctx, &wf); err != nil {
		return wf, err
	}
	for _, id := range ids {
		e.notify(ctx, projectAssigned(wf, nodalAgencyID, id))
	}
	return wf, nil
}

// StartExecution moves an assigned workflow into execution and attempts the
// monitoring hand-off. With no monitoring agency the workflow stalls at
// in_execution.
func (e Engine) StartExecution(ctx context.Context, projectID, executingAgencyID string) (domain.WorkflowState, error) {
	wf, err := e.Store.FindByProjectID(ctx, projectID)
	if err != nil {
		return wf, err
	}
	if wf.CurrentStage != domain.StageAssignedExecuting {
		return wf, fmt.Errorf("%w: cannot start execution from stage %s", ErrInvalidTransition, wf.CurrentStage)
	}
	if !wf.HasExecutingAgency(executingAgencyID) {
		return wf, fmt.Errorf("%w: %s is not an assigned executing agency", ErrInvalidTransition, executingAgencyID)
	}
	if err := e.advance(&wf, domain.StageInExecution, executingAgencyID, "execution started", "", nil); err != nil {
		return wf, err
	}
	monitoring, err := e.firstAgency(ctx, domain.AgencyMonitoring)
	if err != nil {
		return wf, err
	}
	if monitoring != "" {
		wf.MonitoringAgency = &monitoring
		if err := e.advance(&wf, domain.StageMonitoring, domain.SystemActor, "monitoring agency assigned", "", map[string]any{
			"monitoring_agency": monitoring,
		}); err != nil {
			return wf, err
		}
	}
	if err := e.persist(ctx, &wf); err != nil {
		return wf, err
	}
	if monitoring != "" {
		e.notify(ctx, monitoringRequired(wf, monitoring))
	}
	return wf, nil
}

// RecordProgress appends a progress_update event without changing stage.
// Accepted during monitoring, or during in_execution while no monitoring
// agency has been assigned yet.
func (e Engine) RecordProgress(ctx context.Context, projectID, executingAgencyID string, progress map[string]any) (domain.WorkflowState, error) {
	wf, err := e.Store.FindByProjectID(ctx, projectID)
	if err != nil {
		return wf, err
	}
	switch wf.CurrentStage {
	case domain.StageMonitoring:
	case domain.StageInExecution:
		if wf.MonitoringAgency != nil {
			return wf, fmt.Errorf("%w: cannot record progress from stage %s", ErrInvalidTransition, wf.CurrentStage)
		}
	default:
		return wf, fmt.Errorf("%w: cannot record progress from stage %s", ErrInvalidTransition, wf.CurrentStage)
	}
	if !wf.HasExecutingAgency(executingAgencyID) {
		return wf, fmt.Errorf("%w: %s is not an assigned executing agency", ErrInvalidAction, executingAgencyID)
	}
	e.appendEvent(&wf, executingAgencyID, "progress_update", "", progress)
	if err := e.persist(ctx, &wf); err != nil {
		return wf, err
	}
	if wf.MonitoringAgency != nil {
		e.notify(ctx, progressUpdate(wf, executingAgencyID, progress))
	}
	return wf, nil
}

// Complete closes a monitored workflow. The final report travels as event
// metadata; every involved agency gets one completion notification,
// deduplicated and order-preserving.
func (e Engine) Complete(ctx context.Context, projectID, monitoringAgencyID string, finalReport map[string]any) (domain.WorkflowState, error) {
	wf, err := e.Store.FindByProjectID(ctx, projectID)
	if err != nil {
		return wf, err
	}
	if wf.CurrentStage != domain.StageMonitoring {
		return wf, fmt.Errorf("%w: cannot complete from stage %s", ErrInvalidTransition, wf.CurrentStage)
	}
	if err := requireActor(wf.MonitoringAgency, monitoringAgencyID, "monitoring"); err != nil {
		return wf, err
	}
	meta := map[string]any{}
	if finalReport != nil {
		meta["final_report"] = finalReport
	}
	if err := e.advance(&wf, domain.StageCompleted, monitoringAgencyID, "project completed", "", meta); err != nil {
		return wf, err
	}
	if err := e.persist(ctx, &wf); err != nil {
		return wf, err
	}
	for _, target := range completionRecipients(wf) {
		e.notify(ctx, projectCompleted(wf, monitoringAgencyID, target))
	}
	return wf, nil
}

// firstAgency returns the first candidate of a stable resolver ordering, or
// "" when none resolve.
func (e Engine) firstAgency(ctx context.Context, agencyType string) (string, error) {
	agencies, err := e.Resolver.FindAgenciesByType(ctx, agencyType)
	if err != nil {
		return "", fmt.Errorf("resolve %s agency: %w", agencyType, err)
	}
	if len(agencies) == 0 {
		return "", nil
	}
	return agencies[0].ID, nil
}

func requireActor(assigned *string, actorID, role string) error {
	if assigned == nil || *assigned != actorID {
		return fmt.Errorf("%w: %s is not the %s agency", ErrInvalidAction, actorID, role)
	}
	return nil
}

// completionRecipients lists implementing, nodal, then executing agencies,
// deduplicated in that order, skipping unset references.
func completionRecipients(wf domain.WorkflowState) []string {
	var out []string
	seen := map[string]bool{}
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	add(wf.ImplementingAgency)
	if wf.NodalAgency != nil {
		add(*wf.NodalAgency)
	}
	for _, id := range wf.ExecutingAgencies {
		add(id)
	}
	return out
}
