package domain

// Agency tiers. Every agency in the directory belongs to exactly one tier.
const (
	AgencyImplementing = "implementing"
	AgencyNodal        = "nodal"
	AgencyExecuting    = "executing"
	AgencyMonitoring   = "monitoring"
)

// Workflow stages. A workflow only ever moves along the transition
// graph enforced by the engine; completed and rejected are terminal.
const (
	StageCreated           = "created"
	StageNotifiedNodal     = "notified_nodal"
	StageUnderReview       = "under_review"
	StageApproved          = "approved"
	StageAssignedExecuting = "assigned_executing"
	StageInExecution       = "in_execution"
	StageMonitoring        = "monitoring"
	StageCompleted         = "completed"
	StageRejected          = "rejected"
)

// Stages lists all stages in progression order.
var Stages = []string{
	StageCreated,
	StageNotifiedNodal,
	StageUnderReview,
	StageApproved,
	StageAssignedExecuting,
	StageInExecution,
	StageMonitoring,
	StageCompleted,
	StageRejected,
}

// SystemActor is recorded on events produced by automated transitions.
const SystemActor = "system"

type Agency struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type" enum:"implementing,nodal,executing,monitoring"`
	Department string `json:"department,omitempty"`
	Status     string `json:"status" enum:"active,inactive"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// WorkflowEvent is one immutable entry in a workflow's history. Seq is
// 1-based and strictly increasing within a workflow.
type WorkflowEvent struct {
	Seq      int            `json:"seq"`
	Stage    string         `json:"stage"`
	ActorID  string         `json:"actor_id"`
	Action   string         `json:"action"`
	Notes    string         `json:"notes,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	TS       string         `json:"ts" format:"date-time"`
}

type WorkflowState struct {
	ProjectID          string          `json:"project_id"`
	CurrentStage       string          `json:"current_stage" enum:"created,notified_nodal,under_review,approved,assigned_executing,in_execution,monitoring,completed,rejected"`
	ImplementingAgency string          `json:"implementing_agency"`
	NodalAgency        *string         `json:"nodal_agency,omitempty"`
	ExecutingAgencies  []string        `json:"executing_agencies,omitempty"`
	MonitoringAgency   *string         `json:"monitoring_agency,omitempty"`
	History            []WorkflowEvent `json:"history"`
	Version            int64           `json:"version"`
	CreatedAt          string          `json:"created_at" format:"date-time"`
	UpdatedAt          string          `json:"updated_at" format:"date-time"`
}

// IsTerminal reports whether the workflow accepts no further transitions.
func (w WorkflowState) IsTerminal() bool {
	return w.CurrentStage == StageCompleted || w.CurrentStage == StageRejected
}

// HasExecutingAgency reports whether id is assigned to this workflow.
func (w WorkflowState) HasExecutingAgency(id string) bool {
	for _, a := range w.ExecutingAgencies {
		if a == id {
			return true
		}
	}
	return false
}

// Notification priorities.
const (
	PriorityLow      = "Low"
	PriorityMedium   = "Medium"
	PriorityHigh     = "High"
	PriorityCritical = "Critical"
)

// Notification types emitted by the transition core.
const (
	NotifyReviewRequired     = "review_required"
	NotifyProjectAssigned    = "project_assigned"
	NotifyProjectRejected    = "project_rejected"
	NotifyMonitoringRequired = "monitoring_required"
	NotifyProgressUpdate     = "progress_update"
	NotifyProjectCompleted   = "project_completed"
)

// Notification is an ephemeral message handed to the Notifier. The engine
// never reads one back; the workflow state is the source of truth.
type Notification struct {
	ID           string         `json:"id"`
	Type         string         `json:"type" enum:"review_required,project_assigned,project_rejected,monitoring_required,progress_update,project_completed"`
	SourceAgency string         `json:"source_agency"`
	TargetAgency string         `json:"target_agency"`
	Subject      string         `json:"subject"`
	Body         string         `json:"body"`
	Priority     string         `json:"priority" enum:"Low,Medium,High,Critical"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    string         `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	AgencyID  string `json:"agency_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
