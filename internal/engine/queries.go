package engine

import (
	"context"
	"sort"

	"taskline/internal/domain"
	"taskline/internal/engine/auth"
	"taskline/internal/storage"
)

// ReadyTasks returns open, unblocked tasks (backlog), most urgent first,
// optionally scoped to one project.
func (e Engine) ReadyTasks(ctx context.Context, ec domain.ExecutionContext, projectID string) ([]domain.Task, error) {
	if err := auth.Require(ec, auth.TaskRead); err != nil {
		return nil, err
	}
	if projectID != "" {
		if _, err := e.loadProject(ctx, projectID); err != nil {
			return nil, err
		}
	}
	tasks, err := e.Store.ListTasks(ctx, storage.TaskFilter{ProjectID: projectID, Status: domain.StatusBacklog})
	if err != nil {
		return nil, err
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority < tasks[j].Priority
		}
		if tasks[i].CreatedAt != tasks[j].CreatedAt {
			return tasks[i].CreatedAt < tasks[j].CreatedAt
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks, nil
}

// TaskRef is a shallow reference to another task, used to show what a
// blocked task is waiting on.
type TaskRef struct {
	ID     string            `json:"id"`
	Title  string            `json:"title,omitempty"`
	Status domain.TaskStatus `json:"status,omitempty"`
}

type BlockedTask struct {
	Task     domain.Task `json:"task"`
	Blockers []TaskRef   `json:"blockers"`
}

// BlockedTasks returns blocked tasks together with their unmet blockers,
// optionally scoped to one project.
func (e Engine) BlockedTasks(ctx context.Context, ec domain.ExecutionContext, projectID string) ([]BlockedTask, error) {
	if err := auth.Require(ec, auth.TaskRead); err != nil {
		return nil, err
	}
	if projectID != "" {
		if _, err := e.loadProject(ctx, projectID); err != nil {
			return nil, err
		}
	}
	tasks, err := e.Store.ListTasks(ctx, storage.TaskFilter{ProjectID: projectID, Status: domain.StatusBlocked})
	if err != nil {
		return nil, err
	}
	out := make([]BlockedTask, 0, len(tasks))
	for _, t := range tasks {
		blockers, err := e.Store.TasksByIDs(ctx, t.BlockedBy)
		if err != nil {
			return nil, err
		}
		byID := make(map[string]domain.Task, len(blockers))
		for _, b := range blockers {
			byID[b.ID] = b
		}
		refs := make([]TaskRef, 0, len(t.BlockedBy))
		for _, id := range t.BlockedBy {
			if b, ok := byID[id]; ok {
				refs = append(refs, TaskRef{ID: b.ID, Title: b.Title, Status: b.Status})
			} else {
				refs = append(refs, TaskRef{ID: id})
			}
		}
		out = append(out, BlockedTask{Task: t, Blockers: refs})
	}
	return out, nil
}

type ProjectStats struct {
	ProjectID   string                    `json:"project_id"`
	Total       int                       `json:"total"`
	ByStatus    map[domain.TaskStatus]int `json:"by_status"`
	Completed   int                       `json:"completed"`
	Completion  float64                   `json:"completion_pct"`
	SubProjects int                       `json:"sub_projects"`
}

func (e Engine) GetProjectStats(ctx context.Context, ec domain.ExecutionContext, projectID string) (ProjectStats, error) {
	if err := auth.Require(ec, auth.ProjectRead); err != nil {
		return ProjectStats{}, err
	}
	p, err := e.loadProject(ctx, projectID)
	if err != nil {
		return ProjectStats{}, err
	}
	tasks, err := e.Store.ListTasks(ctx, storage.TaskFilter{ProjectID: p.ID})
	if err != nil {
		return ProjectStats{}, err
	}
	children, err := e.Store.ListProjects(ctx, storage.ProjectFilter{ParentID: p.ID})
	if err != nil {
		return ProjectStats{}, err
	}
	stats := ProjectStats{
		ProjectID:   p.ID,
		Total:       len(tasks),
		ByStatus:    map[domain.TaskStatus]int{},
		SubProjects: len(children),
	}
	for _, t := range tasks {
		stats.ByStatus[t.Status]++
		if t.Status == domain.StatusDone {
			stats.Completed++
		}
	}
	if stats.Total == 0 {
		stats.Completion = 100
	} else {
		stats.Completion = float64(stats.Completed) / float64(stats.Total) * 100
	}
	return stats, nil
}

type WorkerLoad struct {
	WorkerID string                    `json:"worker_id"`
	Total    int                       `json:"total"`
	Open     int                       `json:"open"`
	ByStatus map[domain.TaskStatus]int `json:"by_status"`
}

func (e Engine) GetWorkerLoad(ctx context.Context, ec domain.ExecutionContext, workerID string) (WorkerLoad, error) {
	if err := auth.Require(ec, auth.WorkerRead); err != nil {
		return WorkerLoad{}, err
	}
	w, err := e.loadWorker(ctx, workerID)
	if err != nil {
		return WorkerLoad{}, err
	}
	tasks, err := e.Store.ListTasks(ctx, storage.TaskFilter{OwnerID: w.ID})
	if err != nil {
		return WorkerLoad{}, err
	}
	load := WorkerLoad{
		WorkerID: w.ID,
		Total:    len(tasks),
		ByStatus: map[domain.TaskStatus]int{},
	}
	for _, t := range tasks {
		load.ByStatus[t.Status]++
		if t.Open() {
			load.Open++
		}
	}
	return load, nil
}
