package server

import (
	"samanvay/internal/domain"
)

// Request payloads

type CreateWorkflowRequest struct {
	ProjectID            string `json:"project_id"`
	ImplementingAgencyID string `json:"implementing_agency_id"`
}

type WorkflowActionRequest struct {
	Action      string         `json:"action" enum:"notify_nodal,begin_review,approve,reject,start_execution,update_progress,complete"`
	AgencyID    string         `json:"agency_id"`
	Notes       string         `json:"notes,omitempty"`
	Progress    map[string]any `json:"progress,omitempty"`
	FinalReport map[string]any `json:"final_report,omitempty"`
}

type CreateAgencyRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type" enum:"implementing,nodal,executing,monitoring"`
	Department string `json:"department,omitempty"`
}

// Response payloads

type WorkflowResponse struct {
	ProjectID          string                 `json:"project_id"`
	CurrentStage       string                 `json:"current_stage" enum:"created,notified_nodal,under_review,approved,assigned_executing,in_execution,monitoring,completed,rejected"`
	ImplementingAgency string                 `json:"implementing_agency"`
	NodalAgency        *string                `json:"nodal_agency,omitempty"`
	ExecutingAgencies  []string               `json:"executing_agencies,omitempty"`
	MonitoringAgency   *string                `json:"monitoring_agency,omitempty"`
	Version            int64                  `json:"version"`
	Stalled            bool                   `json:"stalled"`
	History            []domain.WorkflowEvent `json:"history,omitempty"`
	CreatedAt          string                 `json:"created_at" format:"date-time"`
	UpdatedAt          string                 `json:"updated_at" format:"date-time"`
}

type StatsResponse struct {
	Total  int            `json:"total"`
	Stages map[string]int `json:"stages"`
}

type APIKeyResponse struct {
	ID       string `json:"id"`
	AgencyID string `json:"agency_id"`
	Name     string `json:"name,omitempty"`
	Key      string `json:"key"`
}

func workflowResponse(wf domain.WorkflowState) WorkflowResponse {
	return WorkflowResponse{
		ProjectID:          wf.ProjectID,
		CurrentStage:       wf.CurrentStage,
		ImplementingAgency: wf.ImplementingAgency,
		NodalAgency:        wf.NodalAgency,
		ExecutingAgencies:  wf.ExecutingAgencies,
		MonitoringAgency:   wf.MonitoringAgency,
		Version:            wf.Version,
		Stalled:            workflowStalled(wf),
		History:            wf.History,
		CreatedAt:          wf.CreatedAt,
		UpdatedAt:          wf.UpdatedAt,
	}
}

// workflowStalled reports a workflow waiting on an agency that could not be
// resolved: no nodal hand-off after creation, or execution running
// unmonitored.
func workflowStalled(wf domain.WorkflowState) bool {
	switch wf.CurrentStage {
	case domain.StageCreated:
		return true
	case domain.StageInExecution:
		return wf.MonitoringAgency == nil
	}
	return false
}

func mapWorkflows(items []domain.WorkflowState) []WorkflowResponse {
	res := make([]WorkflowResponse, 0, len(items))
	for _, wf := range items {
		res = append(res, workflowResponse(wf))
	}
	return res
}
