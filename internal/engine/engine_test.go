package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"samanvay/internal/app"
	"samanvay/internal/db"
	"samanvay/internal/domain"
	"samanvay/internal/engine"
	"samanvay/internal/migrate"
	"samanvay/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Repo   repo.Repo
	Ctx    context.Context
}

// newTestEnv opens a throwaway workspace. Agencies are seeded per test via
// seedAgency so stalled-stage scenarios can omit tiers.
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	eng := app.NewEngine(r, nil)
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Repo: r, Ctx: context.Background()}
}

func (env testEnv) seedAgency(t *testing.T, id, agencyType string) {
	t.Helper()
	err := env.Repo.InsertAgency(env.Ctx, domain.Agency{
		ID:        id,
		Name:      id,
		Type:      agencyType,
		Status:    "active",
		CreatedAt: "2026-03-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("seed agency %s: %v", id, err)
	}
}

func (env testEnv) seedAll(t *testing.T) {
	t.Helper()
	env.seedAgency(t, "imp-1", domain.AgencyImplementing)
	env.seedAgency(t, "nodal-1", domain.AgencyNodal)
	env.seedAgency(t, "exec-1", domain.AgencyExecuting)
	env.seedAgency(t, "exec-2", domain.AgencyExecuting)
	env.seedAgency(t, "mon-1", domain.AgencyMonitoring)
}

// advanceTo drives a freshly initialized workflow to the requested stage.
func (env testEnv) advanceTo(t *testing.T, projectID, stage string) domain.WorkflowState {
	t.Helper()
	wf, err := env.Engine.Initialize(env.Ctx, projectID, "imp-1")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if stage == domain.StageNotifiedNodal {
		return wf
	}
	if stage == domain.StageUnderReview || stage == domain.StageRejected {
		wf, err = env.Engine.BeginReview(env.Ctx, projectID, "nodal-1")
		if err != nil {
			t.Fatalf("begin review: %v", err)
		}
		if stage == domain.StageUnderReview {
			return wf
		}
		wf, err = env.Engine.DecideNodal(env.Ctx, projectID, "nodal-1", false, "no")
		if err != nil {
			t.Fatalf("reject: %v", err)
		}
		return wf
	}
	wf, err = env.Engine.DecideNodal(env.Ctx, projectID, "nodal-1", true, "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if stage == domain.StageAssignedExecuting {
		return wf
	}
	wf, err = env.Engine.StartExecution(env.Ctx, projectID, "exec-1")
	if err != nil {
		t.Fatalf("start execution: %v", err)
	}
	if stage == domain.StageMonitoring {
		return wf
	}
	wf, err = env.Engine.Complete(env.Ctx, projectID, "mon-1", nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	return wf
}

func TestInitializeNotifiesNodal(t *testing.T) {
	env := newTestEnv(t)
	env.seedAll(t)
	wf, err := env.Engine.Initialize(env.Ctx, "proj-1", "imp-1")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if wf.CurrentStage != domain.StageNotifiedNodal {
		t.Fatalf("expected notified_nodal, got %s", wf.CurrentStage)
	}
	if wf.NodalAgency == nil || *wf.NodalAgency != "nodal-1" {
		t.Fatalf("expected nodal-1 assigned")
	}
	if len(wf.History) != 2 {
		t.Fatalf("expected 2 history events, got %d", len(wf.History))
	}
	if wf.History[0].Action != "project created" || wf.History[1].Stage != domain.StageNotifiedNodal {
		t.Fatalf("unexpected history: %+v", wf.History)
	}
	if wf.Version != 1 {
		t.Fatalf("expected version 1, got %d", wf.Version)
	}
	inbox, err := env.Repo.ListNotificationsForAgency(env.Ctx, "nodal-1", 10)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(inbox) != 1 || inbox[0].Type != domain.NotifyReviewRequired {
		t.Fatalf("expected one review_required notification, got %+v", inbox)
	}
}

func TestInitializeStallsWithoutNodal(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgency(t, "imp-1", domain.AgencyImplementing)
	wf, err := env.Engine.Initialize(env.Ctx, "proj-1", "imp-1")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if wf.CurrentStage != domain.StageCreated {
		t.Fatalf("expected stalled at created, got %s", wf.CurrentStage)
	}
	if len(wf.History) != 1 {
		t.Fatalf("expected 1 history event, got %d", len(wf.History))
	}

	// NotifyNodal with still no nodal agency surfaces the gap.
	_, err = env.Engine.NotifyNodal(env.Ctx, "proj-1")
	if !errors.Is(err, engine.ErrMissingAgency) {
		t.Fatalf("expected ErrMissingAgency, got %v", err)
	}

	// Register a nodal agency and retry.
	env.seedAgency(t, "nodal-1", domain.AgencyNodal)
	wf, err = env.Engine.NotifyNodal(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("notify nodal: %v", err)
	}
	if wf.CurrentStage != domain.StageNotifiedNodal {
		t.Fatalf("expected notified_nodal, got %s", wf.CurrentStage)
	}

	// Re-triggering past created is rejected.
	_, err = env.Engine.NotifyNodal(env.Ctx, "proj-1")
	if !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestInitializeDuplicateProject(t *testing.T) {
	env := newTestEnv(t)
	env.seedAll(t)
	if _, err := env.Engine.Initialize(env.Ctx, "proj-1", "imp-1"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := env.Engine.Initialize(env.Ctx, "proj-1", "imp-1"); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestBeginReviewRequiresNodalAgency(t *testing.T) {
	env := newTestEnv(t)
	env.seedAll(t)
	env.advanceTo(t, "proj-1", domain.StageNotifiedNodal)
	_, err := env.Engine.BeginReview(env.Ctx, "proj-1", "imp-1")
	if !errors.Is(err, engine.ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
	wf, err := env.Engine.BeginReview(env.Ctx, "proj-1", "nodal-1")
	if err != nil {
		t.Fatalf("begin review: %v", err)
	}
	if wf.CurrentStage != domain.StageUnderReview {
		t.Fatalf("expected under_review, got %s", wf.CurrentStage)
	}
}

func TestRejectIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	env.seedAll(t)
	wf := env.advanceTo(t, "proj-1", domain.StageRejected)
	if wf.CurrentStage != domain.StageRejected {
		t.Fatalf("expected rejected, got %s", wf.CurrentStage)
	}
	if !wf.IsTerminal() {
		t.Fatalf("rejected should be terminal")
	}
	last := wf.History[len(wf.History)-1]
	if last.Action != "project rejected" || last.Notes != "no" {
		t.Fatalf("unexpected rejection event: %+v", last)
	}
	inbox, err := env.Repo.ListNotificationsForAgency(env.Ctx, "imp-1", 10)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(inbox) != 1 || inbox[0].Type != domain.NotifyProjectRejected {
		t.Fatalf("expected project_rejected notification, got %+v", inbox)
	}

	// Nothing moves a terminal workflow.
	if _, err := env.Engine.DecideNodal(env.Ctx, "proj-1", "nodal-1", true, ""); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := env.Engine.StartExecution(env.Ctx, "proj-1", "exec-1"); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestApproveAssignsExecutingAgencies(t *testing.T) {
	env := newTestEnv(t)
	env.seedAll(t)
	wf := env.advanceTo(t, "proj-1", domain.StageAssignedExecuting)
	if wf.CurrentStage != domain.StageAssignedExecuting {
		t.Fatalf("expected assigned_executing, got %s", wf.CurrentStage)
	}
	if len(wf.ExecutingAgencies) != 2 || wf.ExecutingAgencies[0] != "exec-1" || wf.ExecutingAgencies[1] != "exec-2" {
		t.Fatalf("unexpected executing agencies: %v", wf.ExecutingAgencies)
	}
	// approved is transient: the approval and assignment are both recorded.
	n := len(wf.History)
	if wf.History[n-2].Stage != domain.StageApproved || wf.History[n-1].Stage != domain.StageAssignedExecuting {
		t.Fatalf("expected approved then assigned_executing events, got %+v", wf.History)
	}
	for _, id := range []string{"exec-1", "exec-2"} {
		inbox, err := env.Repo.ListNotificationsForAgency(env.Ctx, id, 10)
		if err != nil {
			t.Fatalf("inbox %s: %v", id, err)
		}
		if len(inbox) != 1 || inbox[0].Type != domain.NotifyProjectAssigned {
			t.Fatalf("expected project_assigned for %s, got %+v", id, inbox)
		}
	}
}

func TestApproveHonorsMaxExecuting(t *testing.T) {
	env := newTestEnv(t)
	env.seedAll(t)
	env.Engine.MaxExecuting = 1
	env.advanceTo(t, "proj-1", domain.StageUnderReview)
	wf, err := env.Engine.DecideNodal(env.Ctx, "proj-1", "nodal-1", true, "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if len(wf.ExecutingAgencies) != 1 || wf.ExecutingAgencies[0] != "exec-1" {
		t.Fatalf("expected only exec-1, got %v", wf.ExecutingAgencies)
	}
}

func TestApproveWithoutExecutingAgencies(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgency(t, "imp-1", domain.AgencyImplementing)
	env.seedAgency(t, "nodal-1", domain.AgencyNodal)
	env.advanceTo(t, "proj-1", domain.StageUnderReview)
	_, err := env.Engine.DecideNodal(env.Ctx, "proj-1", "nodal-1", true, "")
	if !errors.Is(err, engine.ErrMissingAgency) {
		t.Fatalf("expected ErrMissingAgency, got %v", err)
	}
	// The failed approval left no partial state behind.
	wf, err := env.Engine.Store.FindByProjectID(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if wf.CurrentStage != domain.StageUnderReview || len(wf.ExecutingAgencies) != 0 {
		t.Fatalf("expected untouched under_review state, got %+v", wf)
	}
}

func TestStartExecutionMembership(t *testing.T) {
	env := newTestEnv(t)
	env.seedAll(t)
	env.advanceTo(t, "proj-1", domain.StageAssignedExecuting)
	_, err := env.Engine.StartExecution(env.Ctx, "proj-1", "exec-9")
	if !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for non-member, got %v", err)
	}
	wf, err := env.Engine.StartExecution(env.Ctx, "proj-1", "exec-1")
	if err != nil {
		t.Fatalf("start execution: %v", err)
	}
	if wf.CurrentStage != domain.StageMonitoring {
		t.Fatalf("expected monitoring hand-off, got %s", wf.CurrentStage)
	}
	if wf.MonitoringAgency == nil || *wf.MonitoringAgency != "mon-1" {
		t.Fatalf("expected mon-1 assigned")
	}
	inbox, err := env.Repo.ListNotificationsForAgency(env.Ctx, "mon-1", 10)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(inbox) != 1 || inbox[0].Type != domain.NotifyMonitoringRequired {
		t.Fatalf("expected monitoring_required, got %+v", inbox)
	}
}

func TestStartExecutionStallsWithoutMonitoring(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgency(t, "imp-1", domain.AgencyImplementing)
	env.seedAgency(t, "nodal-1", domain.AgencyNodal)
	env.seedAgency(t, "exec-1", domain.AgencyExecuting)
	env.advanceTo(t, "proj-1", domain.StageAssignedExecuting)
	wf, err := env.Engine.StartExecution(env.Ctx, "proj-1", "exec-1")
	if err != nil {
		t.Fatalf("start execution: %v", err)
	}
	if wf.CurrentStage != domain.StageInExecution {
		t.Fatalf("expected stalled at in_execution, got %s", wf.CurrentStage)
	}
	if wf.MonitoringAgency != nil {
		t.Fatalf("expected no monitoring agency")
	}
	// Progress is still accepted while unmonitored.
	wf, err = env.Engine.RecordProgress(env.Ctx, "proj-1", "exec-1", map[string]any{"percent_complete": 10})
	if err != nil {
		t.Fatalf("record progress: %v", err)
	}
	if wf.CurrentStage != domain.StageInExecution {
		t.Fatalf("progress must not change stage, got %s", wf.CurrentStage)
	}
}

func TestRecordProgress(t *testing.T) {
	env := newTestEnv(t)
	env.seedAll(t)
	env.advanceTo(t, "proj-1", domain.StageMonitoring)
	_, err := env.Engine.RecordProgress(env.Ctx, "proj-1", "imp-1", nil)
	if !errors.Is(err, engine.ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction for non-member, got %v", err)
	}
	wf, err := env.Engine.RecordProgress(env.Ctx, "proj-1", "exec-1", map[string]any{"percent_complete": 40})
	if err != nil {
		t.Fatalf("record progress: %v", err)
	}
	if wf.CurrentStage != domain.StageMonitoring {
		t.Fatalf("progress must not change stage, got %s", wf.CurrentStage)
	}
	last := wf.History[len(wf.History)-1]
	if last.Action != "progress_update" || last.Stage != domain.StageMonitoring {
		t.Fatalf("unexpected progress event: %+v", last)
	}
	if last.Metadata["percent_complete"] == nil {
		t.Fatalf("expected progress metadata, got %+v", last.Metadata)
	}
	inbox, err := env.Repo.ListNotificationsForAgency(env.Ctx, "mon-1", 10)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	var found bool
	for _, n := range inbox {
		if n.Type == domain.NotifyProgressUpdate && n.SourceAgency == "exec-1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected progress_update notification, got %+v", inbox)
	}
}

func TestComplete(t *testing.T) {
	env := newTestEnv(t)
	env.seedAll(t)
	env.advanceTo(t, "proj-1", domain.StageMonitoring)
	_, err := env.Engine.Complete(env.Ctx, "proj-1", "exec-1", nil)
	if !errors.Is(err, engine.ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction for non-monitoring actor, got %v", err)
	}
	report := map[string]any{"outcome": "delivered"}
	wf, err := env.Engine.Complete(env.Ctx, "proj-1", "mon-1", report)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if wf.CurrentStage != domain.StageCompleted || !wf.IsTerminal() {
		t.Fatalf("expected terminal completed, got %s", wf.CurrentStage)
	}
	last := wf.History[len(wf.History)-1]
	if last.Metadata["final_report"] == nil {
		t.Fatalf("expected final_report metadata, got %+v", last.Metadata)
	}
	// Implementing, nodal, and both executing agencies each get exactly one
	// completion notice.
	for _, id := range []string{"imp-1", "nodal-1", "exec-1", "exec-2"} {
		inbox, err := env.Repo.ListNotificationsForAgency(env.Ctx, id, 50)
		if err != nil {
			t.Fatalf("inbox %s: %v", id, err)
		}
		count := 0
		for _, n := range inbox {
			if n.Type == domain.NotifyProjectCompleted {
				count++
			}
		}
		if count != 1 {
			t.Fatalf("expected 1 completion notice for %s, got %d", id, count)
		}
	}
	if _, err := env.Engine.RecordProgress(env.Ctx, "proj-1", "exec-1", nil); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition after completion, got %v", err)
	}
}

func TestStaleWriteConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.seedAll(t)
	wf := env.advanceTo(t, "proj-1", domain.StageNotifiedNodal)
	// A concurrent writer advances the workflow first.
	if _, err := env.Engine.BeginReview(env.Ctx, "proj-1", "nodal-1"); err != nil {
		t.Fatalf("begin review: %v", err)
	}
	// Replaying a write based on the stale snapshot must fail.
	stale := wf
	stale.Version++
	err := env.Engine.Store.Upsert(env.Ctx, stale)
	if !errors.Is(err, engine.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestEventSequenceIsContiguous(t *testing.T) {
	env := newTestEnv(t)
	env.seedAll(t)
	wf := env.advanceTo(t, "proj-1", domain.StageCompleted)
	for i, evt := range wf.History {
		if evt.Seq != i+1 {
			t.Fatalf("expected seq %d, got %d", i+1, evt.Seq)
		}
	}
	// The persisted history matches what the engine returned.
	stored, err := env.Engine.Store.FindByProjectID(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(stored.History) != len(wf.History) {
		t.Fatalf("expected %d stored events, got %d", len(wf.History), len(stored.History))
	}
}
