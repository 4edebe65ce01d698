package engine

import (
	"context"

	"taskline/internal/domain"
	"taskline/internal/engine/auth"
	"taskline/internal/storage"
)

type ProjectCreateOptions struct {
	Name        string
	Description string
	ParentID    string
	MemberIDs   []string
}

func (e Engine) CreateProject(ctx context.Context, ec domain.ExecutionContext, opts ProjectCreateOptions) (domain.Project, error) {
	if err := auth.Require(ec, auth.ProjectCreate); err != nil {
		return domain.Project{}, err
	}
	if err := validateName("name", opts.Name); err != nil {
		return domain.Project{}, err
	}
	var parentID *string
	if opts.ParentID != "" {
		parent, err := e.loadProject(ctx, opts.ParentID)
		if err != nil {
			return domain.Project{}, err
		}
		if parent.Status == domain.ProjectArchived {
			return domain.Project{}, domain.Conflict("project %s is archived", parent.ID)
		}
		parentID = &parent.ID
	}
	members := dedupe(opts.MemberIDs)
	for _, id := range members {
		if _, err := e.loadWorker(ctx, id); err != nil {
			return domain.Project{}, err
		}
	}
	now := e.nowRFC3339()
	p := domain.Project{
		ID:          e.newID(),
		Name:        opts.Name,
		Description: opts.Description,
		ParentID:    parentID,
		MemberIDs:   members,
		Status:      domain.ProjectActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Store.SaveProject(ctx, p); err != nil {
		return domain.Project{}, err
	}
	e.record(ctx, ec, "project.created", "project", p.ID, map[string]any{"name": p.Name})
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, ec domain.ExecutionContext, id string) (domain.Project, error) {
	if err := auth.Require(ec, auth.ProjectRead); err != nil {
		return domain.Project{}, err
	}
	return e.loadProject(ctx, id)
}

func (e Engine) ListProjects(ctx context.Context, ec domain.ExecutionContext, f storage.ProjectFilter) ([]domain.Project, error) {
	if err := auth.Require(ec, auth.ProjectRead); err != nil {
		return nil, err
	}
	return e.Store.ListProjects(ctx, f)
}

type ProjectUpdateOptions struct {
	ID          string
	Name        *string
	Description *string
}

func (e Engine) UpdateProject(ctx context.Context, ec domain.ExecutionContext, opts ProjectUpdateOptions) (domain.Project, error) {
	if err := auth.Require(ec, auth.ProjectUpdate); err != nil {
		return domain.Project{}, err
	}
	p, err := e.loadProject(ctx, opts.ID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.Status == domain.ProjectArchived {
		return domain.Project{}, domain.Conflict("project %s is archived", p.ID)
	}
	if opts.Name != nil {
		if err := validateName("name", *opts.Name); err != nil {
			return domain.Project{}, err
		}
		p.Name = *opts.Name
	}
	if opts.Description != nil {
		p.Description = *opts.Description
	}
	p.UpdatedAt = e.nowRFC3339()
	if err := e.Store.SaveProject(ctx, p); err != nil {
		return domain.Project{}, err
	}
	e.record(ctx, ec, "project.updated", "project", p.ID, nil)
	return p, nil
}

// ArchiveProject archives a project and, recursively, its sub-projects.
// The whole subtree is validated before anything is written: every
// project on the way down must have all of its direct tasks done.
// Sub-projects that are already archived are skipped untouched, and
// archiving an archived project is a no-op.
func (e Engine) ArchiveProject(ctx context.Context, ec domain.ExecutionContext, id string) (domain.Project, error) {
	if err := auth.Require(ec, auth.ProjectArchive); err != nil {
		return domain.Project{}, err
	}
	root, err := e.loadProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if root.Status == domain.ProjectArchived {
		return root, nil
	}

	var plan []domain.Project
	stack := []domain.Project{root}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if p.Status == domain.ProjectArchived {
			continue
		}
		open, err := e.openTaskCount(ctx, p.ID)
		if err != nil {
			return domain.Project{}, err
		}
		if open > 0 {
			return domain.Project{}, domain.Conflict("project %s has %d incomplete task(s)", p.ID, open).
				WithDetail("project_id", p.ID).
				WithDetail("incomplete_tasks", open)
		}
		plan = append(plan, p)
		children, err := e.Store.ListProjects(ctx, storage.ProjectFilter{ParentID: p.ID})
		if err != nil {
			return domain.Project{}, err
		}
		stack = append(stack, children...)
	}

	// plan is ordered parents before descendants; walk it backwards so
	// children are archived first.
	now := e.nowRFC3339()
	archivedRoot := root
	for i := len(plan) - 1; i >= 0; i-- {
		p := plan[i]
		p.Status = domain.ProjectArchived
		p.UpdatedAt = now
		if err := e.Store.SaveProject(ctx, p); err != nil {
			return domain.Project{}, err
		}
		e.record(ctx, ec, "project.archived", "project", p.ID, nil)
		if p.ID == root.ID {
			archivedRoot = p
		}
	}
	return archivedRoot, nil
}

func (e Engine) DeleteProject(ctx context.Context, ec domain.ExecutionContext, id string) error {
	if err := auth.Require(ec, auth.ProjectDelete); err != nil {
		return err
	}
	p, err := e.loadProject(ctx, id)
	if err != nil {
		return err
	}
	if p.Status != domain.ProjectArchived {
		return domain.Conflict("project %s is not archived", p.ID)
	}
	children, err := e.Store.ListProjects(ctx, storage.ProjectFilter{ParentID: p.ID})
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return domain.Conflict("project %s has %d sub-project(s)", p.ID, len(children))
	}
	tasks, err := e.Store.ListTasks(ctx, storage.TaskFilter{ProjectID: p.ID})
	if err != nil {
		return err
	}
	if len(tasks) > 0 {
		return domain.Conflict("project %s has %d task(s)", p.ID, len(tasks))
	}
	if err := e.Store.DeleteProject(ctx, p.ID); err != nil {
		return err
	}
	e.record(ctx, ec, "project.deleted", "project", p.ID, map[string]any{"name": p.Name})
	return nil
}

func (e Engine) AddMember(ctx context.Context, ec domain.ExecutionContext, projectID, workerID string) (domain.Project, error) {
	if err := auth.Require(ec, auth.ProjectMembers); err != nil {
		return domain.Project{}, err
	}
	p, err := e.loadProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.Status == domain.ProjectArchived {
		return domain.Project{}, domain.Conflict("project %s is archived", p.ID)
	}
	w, err := e.loadWorker(ctx, workerID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.HasMember(w.ID) {
		return domain.Project{}, domain.Conflict("worker %s is already a member of project %s", w.ID, p.ID)
	}
	p.MemberIDs = append(p.MemberIDs, w.ID)
	p.UpdatedAt = e.nowRFC3339()
	if err := e.Store.SaveProject(ctx, p); err != nil {
		return domain.Project{}, err
	}
	e.record(ctx, ec, "project.member.added", "project", p.ID, map[string]any{"worker_id": w.ID})
	return p, nil
}

func (e Engine) RemoveMember(ctx context.Context, ec domain.ExecutionContext, projectID, workerID string) (domain.Project, error) {
	if err := auth.Require(ec, auth.ProjectMembers); err != nil {
		return domain.Project{}, err
	}
	p, err := e.loadProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.Status == domain.ProjectArchived {
		return domain.Project{}, domain.Conflict("project %s is archived", p.ID)
	}
	if !p.HasMember(workerID) {
		return domain.Project{}, domain.NotFound("member", workerID)
	}
	owned, err := e.Store.ListTasks(ctx, storage.TaskFilter{ProjectID: p.ID, OwnerID: workerID})
	if err != nil {
		return domain.Project{}, err
	}
	open := 0
	for _, t := range owned {
		if t.Open() {
			open++
		}
	}
	if open > 0 {
		return domain.Project{}, domain.Conflict("worker %s owns %d open task(s) in project %s", workerID, open, p.ID).
			WithDetail("open_tasks", open)
	}
	kept := make([]string, 0, len(p.MemberIDs)-1)
	for _, id := range p.MemberIDs {
		if id != workerID {
			kept = append(kept, id)
		}
	}
	p.MemberIDs = kept
	p.UpdatedAt = e.nowRFC3339()
	if err := e.Store.SaveProject(ctx, p); err != nil {
		return domain.Project{}, err
	}
	e.record(ctx, ec, "project.member.removed", "project", p.ID, map[string]any{"worker_id": workerID})
	return p, nil
}

func (e Engine) openTaskCount(ctx context.Context, projectID string) (int, error) {
	tasks, err := e.Store.ListTasks(ctx, storage.TaskFilter{ProjectID: projectID})
	if err != nil {
		return 0, err
	}
	open := 0
	for _, t := range tasks {
		if t.Open() {
			open++
		}
	}
	return open, nil
}
