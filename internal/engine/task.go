package engine

import (
	"context"

	"taskline/internal/domain"
	"taskline/internal/engine/auth"
	"taskline/internal/storage"
)

// TaskCreateOptions are parameters for creating a task. The dependency
// set is fixed here for the task's lifetime.
type TaskCreateOptions struct {
	ProjectID   string
	Title       string
	Description string
	OwnerID     string
	Priority    *domain.Priority
	DependsOn   []string
	Context     string
	Goal        string
	Deliverable string
}

func (e Engine) CreateTask(ctx context.Context, ec domain.ExecutionContext, opts TaskCreateOptions) (domain.Task, error) {
	if err := auth.Require(ec, auth.TaskCreate); err != nil {
		return domain.Task{}, err
	}
	if err := validateName("title", opts.Title); err != nil {
		return domain.Task{}, err
	}
	if opts.ProjectID == "" {
		return domain.Task{}, domain.InvalidInput("project_id is required")
	}
	if opts.OwnerID == "" {
		return domain.Task{}, domain.InvalidInput("owner_id is required")
	}
	priority := domain.DefaultPriority
	if opts.Priority != nil {
		priority = *opts.Priority
	}
	if !priority.Valid() {
		return domain.Task{}, domain.InvalidInput("priority out of range: %d", int(priority))
	}

	project, err := e.loadProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	if project.Status == domain.ProjectArchived {
		return domain.Task{}, domain.Conflict("project %s is archived", project.ID)
	}
	owner, err := e.loadWorker(ctx, opts.OwnerID)
	if err != nil {
		return domain.Task{}, err
	}
	if !project.HasMember(owner.ID) {
		return domain.Task{}, domain.Forbidden("worker %s is not a member of project %s", owner.ID, project.ID)
	}

	deps := dedupe(opts.DependsOn)
	blockedBy, err := e.unmetDependencies(ctx, deps)
	if err != nil {
		return domain.Task{}, err
	}
	cyclic, err := e.wouldCreateCycle(ctx, deps)
	if err != nil {
		return domain.Task{}, err
	}
	if cyclic {
		return domain.Task{}, domain.Conflict("dependencies of the new task form a cycle")
	}

	now := e.nowRFC3339()
	t := domain.Task{
		ID:          e.newID(),
		ProjectID:   project.ID,
		Title:       opts.Title,
		Description: opts.Description,
		OwnerID:     owner.ID,
		Status:      domain.StatusBacklog,
		Priority:    priority,
		DependsOn:   deps,
		BlockedBy:   blockedBy,
		Context:     opts.Context,
		Goal:        opts.Goal,
		Deliverable: opts.Deliverable,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if len(blockedBy) > 0 {
		t.Status = domain.StatusBlocked
	}
	if err := e.Store.SaveTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	e.record(ctx, ec, "task.created", "task", t.ID, map[string]any{
		"title":  t.Title,
		"status": string(t.Status),
	})
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, ec domain.ExecutionContext, id string) (domain.Task, error) {
	if err := auth.Require(ec, auth.TaskRead); err != nil {
		return domain.Task{}, err
	}
	return e.loadTask(ctx, id)
}

func (e Engine) ListTasks(ctx context.Context, ec domain.ExecutionContext, f storage.TaskFilter) ([]domain.Task, error) {
	if err := auth.Require(ec, auth.TaskRead); err != nil {
		return nil, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, domain.InvalidInput("unknown status %q", string(f.Status))
	}
	if f.Priority != nil && !f.Priority.Valid() {
		return nil, domain.InvalidInput("priority out of range: %d", int(*f.Priority))
	}
	return e.Store.ListTasks(ctx, f)
}

// TaskUpdateOptions carries field updates; nil means leave unchanged.
// Status is never updated here: the lifecycle operations own it.
type TaskUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	Priority    *domain.Priority
	Context     *string
	Goal        *string
	Deliverable *string
}

func (e Engine) UpdateTask(ctx context.Context, ec domain.ExecutionContext, opts TaskUpdateOptions) (domain.Task, error) {
	if err := auth.Require(ec, auth.TaskUpdate); err != nil {
		return domain.Task{}, err
	}
	t, err := e.loadTask(ctx, opts.ID)
	if err != nil {
		return domain.Task{}, err
	}
	project, err := e.loadProject(ctx, t.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	if project.Status == domain.ProjectArchived {
		return domain.Task{}, domain.Conflict("project %s is archived", project.ID)
	}
	if opts.Title != nil {
		if err := validateName("title", *opts.Title); err != nil {
			return domain.Task{}, err
		}
		t.Title = *opts.Title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Priority != nil {
		if !opts.Priority.Valid() {
			return domain.Task{}, domain.InvalidInput("priority out of range: %d", int(*opts.Priority))
		}
		t.Priority = *opts.Priority
	}
	if opts.Context != nil {
		t.Context = *opts.Context
	}
	if opts.Goal != nil {
		t.Goal = *opts.Goal
	}
	if opts.Deliverable != nil {
		t.Deliverable = *opts.Deliverable
	}
	t.UpdatedAt = e.nowRFC3339()
	if err := e.Store.SaveTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	e.record(ctx, ec, "task.updated", "task", t.ID, nil)
	return t, nil
}

func (e Engine) DeleteTask(ctx context.Context, ec domain.ExecutionContext, id string) error {
	if err := auth.Require(ec, auth.TaskDelete); err != nil {
		return err
	}
	t, err := e.loadTask(ctx, id)
	if err != nil {
		return err
	}
	dependents, err := e.Store.TasksDependingOn(ctx, t.ID)
	if err != nil {
		return err
	}
	if len(dependents) > 0 {
		ids := make([]string, len(dependents))
		for i, d := range dependents {
			ids[i] = d.ID
		}
		return domain.Conflict("%d task(s) depend on task %s", len(dependents), t.ID).
			WithDetail("dependent_ids", ids)
	}
	if err := e.Store.DeleteTask(ctx, t.ID); err != nil {
		return err
	}
	e.record(ctx, ec, "task.deleted", "task", t.ID, map[string]any{"title": t.Title})
	return nil
}

// StartTask moves a backlog task to active. Beyond the status guard it
// re-fetches every dependency and requires each to be done; the blocked
// status should already reflect this, the re-read makes it hold even when
// a dependency was reopened since.
func (e Engine) StartTask(ctx context.Context, ec domain.ExecutionContext, id string) (domain.Task, error) {
	if err := auth.Require(ec, auth.TaskStart); err != nil {
		return domain.Task{}, err
	}
	t, err := e.loadTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := requireOwnerOrManage(ec, t); err != nil {
		return domain.Task{}, err
	}
	if t.Status != domain.StatusBacklog {
		return domain.Task{}, domain.Conflict("cannot start task in status %s", t.Status)
	}
	for _, depID := range t.DependsOn {
		dep, err := e.Store.GetTask(ctx, depID)
		if err != nil {
			return domain.Task{}, err
		}
		if dep == nil {
			return domain.Task{}, domain.Conflict("dependency %s no longer exists", depID)
		}
		if dep.Status != domain.StatusDone {
			return domain.Task{}, domain.Conflict("dependency %s is not done", depID).
				WithDetail("dependency_id", depID)
		}
	}
	t.Status = domain.StatusActive
	t.UpdatedAt = e.nowRFC3339()
	if err := e.Store.SaveTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	e.record(ctx, ec, "task.started", "task", t.ID, nil)
	return t, nil
}

// TaskCompletion is the result of Complete and Approve. Warning carries
// the retryable propagation failure, if any; the completion itself stands.
type TaskCompletion struct {
	Task      domain.Task   `json:"task"`
	Unblocked []string      `json:"unblocked,omitempty"`
	Warning   *domain.Error `json:"warning,omitempty"`
}

// CompleteTask finishes work on an active (or quick-completes a backlog)
// task. When the owner's own record holds task:approve the task goes
// straight to done with an auto approval; otherwise it waits in review.
func (e Engine) CompleteTask(ctx context.Context, ec domain.ExecutionContext, id string) (TaskCompletion, error) {
	if err := auth.Require(ec, auth.TaskComplete); err != nil {
		return TaskCompletion{}, err
	}
	t, err := e.loadTask(ctx, id)
	if err != nil {
		return TaskCompletion{}, err
	}
	if err := requireOwnerOrManage(ec, t); err != nil {
		return TaskCompletion{}, err
	}
	if t.Status != domain.StatusActive && t.Status != domain.StatusBacklog {
		return TaskCompletion{}, domain.Conflict("cannot complete task in status %s", t.Status)
	}
	owner, err := e.Store.GetWorker(ctx, t.OwnerID)
	if err != nil {
		return TaskCompletion{}, err
	}
	autoApprove := owner != nil && holds(owner.Permissions, auth.TaskApprove)

	now := e.nowRFC3339()
	if autoApprove {
		t.Status = domain.StatusDone
		t.Approval = &domain.Approval{Mode: domain.ApprovalAuto, ApproverID: t.OwnerID, ApprovedAt: now}
		t.CompletedAt = &now
	} else {
		t.Status = domain.StatusReview
	}
	t.UpdatedAt = now
	if err := e.Store.SaveTask(ctx, t); err != nil {
		return TaskCompletion{}, err
	}
	e.record(ctx, ec, "task.completed", "task", t.ID, map[string]any{
		"status":        string(t.Status),
		"auto_approved": autoApprove,
	})
	res := TaskCompletion{Task: t}
	if t.Status == domain.StatusDone {
		res.Unblocked, res.Warning = e.unblockDependents(ctx, ec, t.ID)
	}
	return res, nil
}

// ApproveTask moves a task in review to done. Any holder of task:approve
// may approve; the approval record names the caller.
func (e Engine) ApproveTask(ctx context.Context, ec domain.ExecutionContext, id string) (TaskCompletion, error) {
	if err := auth.Require(ec, auth.TaskApprove); err != nil {
		return TaskCompletion{}, err
	}
	t, err := e.loadTask(ctx, id)
	if err != nil {
		return TaskCompletion{}, err
	}
	if t.Status != domain.StatusReview {
		return TaskCompletion{}, domain.Conflict("cannot approve task in status %s", t.Status)
	}
	now := e.nowRFC3339()
	t.Status = domain.StatusDone
	t.Approval = &domain.Approval{Mode: domain.ApprovalManual, ApproverID: ec.ActorID, ApprovedAt: now}
	t.CompletedAt = &now
	t.UpdatedAt = now
	if err := e.Store.SaveTask(ctx, t); err != nil {
		return TaskCompletion{}, err
	}
	e.record(ctx, ec, "task.approved", "task", t.ID, nil)
	res := TaskCompletion{Task: t}
	res.Unblocked, res.Warning = e.unblockDependents(ctx, ec, t.ID)
	return res, nil
}

// ReopenTask puts a done task back into the backlog. Dependents that were
// unblocked by its completion stay unblocked; the start guard re-checks
// dependencies live, so stale unblocking cannot let work begin early.
func (e Engine) ReopenTask(ctx context.Context, ec domain.ExecutionContext, id string) (domain.Task, error) {
	if err := auth.Require(ec, auth.TaskReopen); err != nil {
		return domain.Task{}, err
	}
	t, err := e.loadTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status != domain.StatusDone {
		return domain.Task{}, domain.Conflict("cannot reopen task in status %s", t.Status)
	}
	project, err := e.loadProject(ctx, t.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	if project.Status == domain.ProjectArchived {
		return domain.Task{}, domain.Conflict("project %s is archived", project.ID)
	}
	t.Status = domain.StatusBacklog
	t.Approval = nil
	t.CompletedAt = nil
	t.UpdatedAt = e.nowRFC3339()
	if err := e.Store.SaveTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	e.record(ctx, ec, "task.reopened", "task", t.ID, nil)
	return t, nil
}

func (e Engine) AssignTask(ctx context.Context, ec domain.ExecutionContext, id, workerID string) (domain.Task, error) {
	if err := auth.Require(ec, auth.TaskAssign); err != nil {
		return domain.Task{}, err
	}
	if workerID == "" {
		return domain.Task{}, domain.InvalidInput("worker_id is required")
	}
	t, err := e.loadTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	project, err := e.loadProject(ctx, t.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	if project.Status == domain.ProjectArchived {
		return domain.Task{}, domain.Conflict("project %s is archived", project.ID)
	}
	owner, err := e.loadWorker(ctx, workerID)
	if err != nil {
		return domain.Task{}, err
	}
	if !project.HasMember(owner.ID) {
		return domain.Task{}, domain.Forbidden("worker %s is not a member of project %s", owner.ID, project.ID)
	}
	previous := t.OwnerID
	t.OwnerID = owner.ID
	t.UpdatedAt = e.nowRFC3339()
	if err := e.Store.SaveTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	e.record(ctx, ec, "task.assigned", "task", t.ID, map[string]any{
		"from_owner": previous,
		"to_owner":   t.OwnerID,
	})
	return t, nil
}

func (e Engine) MoveTask(ctx context.Context, ec domain.ExecutionContext, id, projectID string) (domain.Task, error) {
	if err := auth.Require(ec, auth.TaskMove); err != nil {
		return domain.Task{}, err
	}
	if projectID == "" {
		return domain.Task{}, domain.InvalidInput("project_id is required")
	}
	t, err := e.loadTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	source, err := e.loadProject(ctx, t.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	if source.Status == domain.ProjectArchived {
		return domain.Task{}, domain.Conflict("project %s is archived", source.ID)
	}
	target, err := e.loadProject(ctx, projectID)
	if err != nil {
		return domain.Task{}, err
	}
	if target.Status == domain.ProjectArchived {
		return domain.Task{}, domain.Conflict("project %s is archived", target.ID)
	}
	if !target.HasMember(t.OwnerID) {
		return domain.Task{}, domain.Forbidden("worker %s is not a member of project %s", t.OwnerID, target.ID)
	}
	from := t.ProjectID
	t.ProjectID = target.ID
	t.UpdatedAt = e.nowRFC3339()
	if err := e.Store.SaveTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	e.record(ctx, ec, "task.moved", "task", t.ID, map[string]any{
		"from_project": from,
		"to_project":   t.ProjectID,
	})
	return t, nil
}

func holds(perms []string, p string) bool {
	for _, have := range perms {
		if have == p {
			return true
		}
	}
	return false
}
