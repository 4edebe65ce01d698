package server

import (
	"taskline/internal/domain"
	"taskline/internal/engine"
)

// Request payloads

type CreateWorkerRequest struct {
	Name        string   `json:"name"`
	Type        string   `json:"type" enum:"human,agent"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

type UpdateWorkerRequest struct {
	Name        *string   `json:"name,omitempty"`
	Roles       *[]string `json:"roles,omitempty"`
	Permissions *[]string `json:"permissions,omitempty"`
}

type CreateProjectRequest struct {
	Name        string   `json:"name"`
	Description *string  `json:"description,omitempty"`
	ParentID    *string  `json:"parent_id,omitempty"`
	MemberIDs   []string `json:"member_ids,omitempty"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type AddMemberRequest struct {
	WorkerID string `json:"worker_id"`
}

type CreateTaskRequest struct {
	ProjectID   string   `json:"project_id"`
	Title       string   `json:"title"`
	Description *string  `json:"description,omitempty"`
	OwnerID     string   `json:"owner_id"`
	Priority    *string  `json:"priority,omitempty" enum:"P0,P1,P2,P3"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Context     *string  `json:"context,omitempty"`
	Goal        *string  `json:"goal,omitempty"`
	Deliverable *string  `json:"deliverable,omitempty"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Priority    *string `json:"priority,omitempty" enum:"P0,P1,P2,P3"`
	Context     *string `json:"context,omitempty"`
	Goal        *string `json:"goal,omitempty"`
	Deliverable *string `json:"deliverable,omitempty"`
}

type AssignTaskRequest struct {
	WorkerID string `json:"worker_id"`
}

type MoveTaskRequest struct {
	ProjectID string `json:"project_id"`
}

// Response payloads

type WorkerResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Type        string   `json:"type" enum:"human,agent"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

type ProjectResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	ParentID    *string  `json:"parent_id,omitempty"`
	MemberIDs   []string `json:"member_ids"`
	Status      string   `json:"status" enum:"active,archived"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

type ApprovalResponse struct {
	Mode       string `json:"mode" enum:"auto_approved,approved"`
	ApproverID string `json:"approver_id"`
	ApprovedAt string `json:"approved_at" format:"date-time"`
}

type TaskResponse struct {
	ID          string            `json:"id"`
	ProjectID   string            `json:"project_id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	OwnerID     string            `json:"owner_id"`
	Status      string            `json:"status" enum:"backlog,blocked,active,review,done"`
	Priority    string            `json:"priority" enum:"P0,P1,P2,P3"`
	DependsOn   []string          `json:"depends_on"`
	BlockedBy   []string          `json:"blocked_by"`
	Context     string            `json:"context,omitempty"`
	Goal        string            `json:"goal,omitempty"`
	Deliverable string            `json:"deliverable,omitempty"`
	Approval    *ApprovalResponse `json:"approval,omitempty"`
	CreatedAt   string            `json:"created_at" format:"date-time"`
	UpdatedAt   string            `json:"updated_at" format:"date-time"`
	CompletedAt *string           `json:"completed_at,omitempty" format:"date-time"`
}

type TaskRefResponse struct {
	ID     string `json:"id"`
	Title  string `json:"title,omitempty"`
	Status string `json:"status,omitempty" enum:"backlog,blocked,active,review,done"`
}

type BlockedTaskResponse struct {
	Task     TaskResponse      `json:"task"`
	Blockers []TaskRefResponse `json:"blockers"`
}

type WarningResponse struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type CompletionResponse struct {
	Task      TaskResponse     `json:"task"`
	Unblocked []string         `json:"unblocked"`
	Warning   *WarningResponse `json:"warning,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	WorkspaceID string   `json:"workspace_id,omitempty"`
	Environment string   `json:"environment,omitempty"`
	Operator    bool     `json:"operator"`
	Permissions []string `json:"permissions"`
}

// Conversion helpers

func workerResponse(w domain.Worker) WorkerResponse {
	return WorkerResponse{
		ID:          w.ID,
		Name:        w.Name,
		Type:        string(w.Type),
		Roles:       nonNilSlice(w.Roles),
		Permissions: nonNilSlice(w.Permissions),
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		ParentID:    p.ParentID,
		MemberIDs:   nonNilSlice(p.MemberIDs),
		Status:      string(p.Status),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func taskResponse(t domain.Task) TaskResponse {
	var approval *ApprovalResponse
	if t.Approval != nil {
		approval = &ApprovalResponse{
			Mode:       t.Approval.Mode,
			ApproverID: t.Approval.ApproverID,
			ApprovedAt: t.Approval.ApprovedAt,
		}
	}
	return TaskResponse{
		ID:          t.ID,
		ProjectID:   t.ProjectID,
		Title:       t.Title,
		Description: t.Description,
		OwnerID:     t.OwnerID,
		Status:      string(t.Status),
		Priority:    t.Priority.String(),
		DependsOn:   nonNilSlice(t.DependsOn),
		BlockedBy:   nonNilSlice(t.BlockedBy),
		Context:     t.Context,
		Goal:        t.Goal,
		Deliverable: t.Deliverable,
		Approval:    approval,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		CompletedAt: t.CompletedAt,
	}
}

func blockedTaskResponse(b engine.BlockedTask) BlockedTaskResponse {
	blockers := make([]TaskRefResponse, 0, len(b.Blockers))
	for _, ref := range b.Blockers {
		blockers = append(blockers, TaskRefResponse{
			ID:     ref.ID,
			Title:  ref.Title,
			Status: string(ref.Status),
		})
	}
	return BlockedTaskResponse{Task: taskResponse(b.Task), Blockers: blockers}
}

func completionResponse(c engine.TaskCompletion) CompletionResponse {
	res := CompletionResponse{
		Task:      taskResponse(c.Task),
		Unblocked: nonNilSlice(c.Unblocked),
	}
	if c.Warning != nil {
		res.Warning = &WarningResponse{
			Code:      string(c.Warning.Code),
			Message:   c.Warning.Message,
			Retryable: c.Warning.Retryable,
			Details:   c.Warning.Details,
		}
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func mapWorkers(items []domain.Worker) []WorkerResponse {
	res := make([]WorkerResponse, 0, len(items))
	for _, w := range items {
		res = append(res, workerResponse(w))
	}
	return res
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func mapBlockedTasks(items []engine.BlockedTask) []BlockedTaskResponse {
	res := make([]BlockedTaskResponse, 0, len(items))
	for _, b := range items {
		res = append(res, blockedTaskResponse(b))
	}
	return res
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e))
	}
	return res
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
