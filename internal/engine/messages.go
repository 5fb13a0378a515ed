package engine

import (
	"fmt"

	"samanvay/internal/domain"
)

func reviewRequired(wf domain.WorkflowState, nodal string) domain.Notification {
	return domain.Notification{
		Type:         domain.NotifyReviewRequired,
		SourceAgency: wf.ImplementingAgency,
		TargetAgency: nodal,
		Subject:      fmt.Sprintf("Project %s awaits review", wf.ProjectID),
		Body:         fmt.Sprintf("Project %s was submitted by %s and requires nodal review.", wf.ProjectID, wf.ImplementingAgency),
		Priority:     domain.PriorityHigh,
	}
}

func projectAssigned(wf domain.WorkflowState, nodal, executing string) domain.Notification {
	return domain.Notification{
		Type:         domain.NotifyProjectAssigned,
		SourceAgency: nodal,
		TargetAgency: executing,
		Subject:      fmt.Sprintf("Project %s assigned for execution", wf.ProjectID),
		Body:         fmt.Sprintf("Project %s was approved by %s and assigned to your agency for execution.", wf.ProjectID, nodal),
		Priority:     domain.PriorityHigh,
	}
}

func projectRejected(wf domain.WorkflowState, nodal, notes string) domain.Notification {
	return domain.Notification{
		Type:         domain.NotifyProjectRejected,
		SourceAgency: nodal,
		TargetAgency: wf.ImplementingAgency,
		Subject:      fmt.Sprintf("Project %s rejected", wf.ProjectID),
		Body:         fmt.Sprintf("Project %s was rejected during nodal review.", wf.ProjectID),
		Priority:     domain.PriorityHigh,
		Metadata:     notesMetadata(notes),
	}
}

// monitoringRequired is sourced from the first executing agency by
// insertion order so the hand-off stays deterministic.
func monitoringRequired(wf domain.WorkflowState, monitoring string) domain.Notification {
	source := domain.SystemActor
	if len(wf.ExecutingAgencies) > 0 {
		source = wf.ExecutingAgencies[0]
	}
	return domain.Notification{
		Type:         domain.NotifyMonitoringRequired,
		SourceAgency: source,
		TargetAgency: monitoring,
		Subject:      fmt.Sprintf("Project %s requires monitoring", wf.ProjectID),
		Body:         fmt.Sprintf("Execution of project %s has started; your agency is assigned to monitor it.", wf.ProjectID),
		Priority:     domain.PriorityMedium,
	}
}

func progressUpdate(wf domain.WorkflowState, executing string, progress map[string]any) domain.Notification {
	return domain.Notification{
		Type:         domain.NotifyProgressUpdate,
		SourceAgency: executing,
		TargetAgency: *wf.MonitoringAgency,
		Subject:      fmt.Sprintf("Progress update for project %s", wf.ProjectID),
		Body:         fmt.Sprintf("Agency %s reported progress on project %s.", executing, wf.ProjectID),
		Priority:     domain.PriorityMedium,
		Metadata:     progress,
	}
}

func projectCompleted(wf domain.WorkflowState, monitoring, target string) domain.Notification {
	return domain.Notification{
		Type:         domain.NotifyProjectCompleted,
		SourceAgency: monitoring,
		TargetAgency: target,
		Subject:      fmt.Sprintf("Project %s completed", wf.ProjectID),
		Body:         fmt.Sprintf("Project %s was marked complete by monitoring agency %s.", wf.ProjectID, monitoring),
		Priority:     domain.PriorityMedium,
	}
}

func notesMetadata(notes string) map[string]any {
	if notes == "" {
		return nil
	}
	return map[string]any{"notes": notes}
}
