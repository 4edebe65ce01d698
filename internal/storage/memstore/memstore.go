// Package memstore is the in-memory Store used by tests and ephemeral
// runs. All values are cloned on the way in and out so callers can never
// alias the stored state.
package memstore

import (
	"context"
	"sort"
	"sync"

	"taskline/internal/domain"
	"taskline/internal/storage"
)

type Store struct {
	mu       sync.RWMutex
	workers  map[string]domain.Worker
	projects map[string]domain.Project
	tasks    map[string]domain.Task
	events   []domain.Event
	nextID   int64
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		workers:  map[string]domain.Worker{},
		projects: map[string]domain.Project{},
		tasks:    map[string]domain.Task{},
		nextID:   1,
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneWorker(w domain.Worker) domain.Worker {
	w.Roles = cloneStrings(w.Roles)
	w.Permissions = cloneStrings(w.Permissions)
	return w
}

func cloneProject(p domain.Project) domain.Project {
	p.MemberIDs = cloneStrings(p.MemberIDs)
	if p.ParentID != nil {
		v := *p.ParentID
		p.ParentID = &v
	}
	return p
}

func cloneTask(t domain.Task) domain.Task {
	t.DependsOn = cloneStrings(t.DependsOn)
	t.BlockedBy = cloneStrings(t.BlockedBy)
	if t.Approval != nil {
		v := *t.Approval
		t.Approval = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		t.CompletedAt = &v
	}
	return t
}

func cloneEvent(e domain.Event) domain.Event {
	if e.Payload != nil {
		p := make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			p[k] = v
		}
		e.Payload = p
	}
	return e
}

func (s *Store) GetWorker(_ context.Context, id string) (*domain.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[id]
	if !ok {
		return nil, nil
	}
	w = cloneWorker(w)
	return &w, nil
}

func (s *Store) SaveWorker(_ context.Context, w domain.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[w.ID] = cloneWorker(w)
	return nil
}

func (s *Store) DeleteWorker(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workers[id]; !ok {
		return domain.NotFound("worker", id)
	}
	delete(s.workers, id)
	return nil
}

func (s *Store) ListWorkers(_ context.Context, f storage.WorkerFilter) ([]domain.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		if f.Type != "" && w.Type != f.Type {
			continue
		}
		out = append(out, cloneWorker(w))
	}
	sortByCreated(out, func(w domain.Worker) (string, string) { return w.CreatedAt, w.ID })
	return out, nil
}

func (s *Store) GetProject(_ context.Context, id string) (*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, nil
	}
	p = cloneProject(p)
	return &p, nil
}

func (s *Store) SaveProject(_ context.Context, p domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = cloneProject(p)
	return nil
}

func (s *Store) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return domain.NotFound("project", id)
	}
	delete(s.projects, id)
	return nil
}

func (s *Store) ListProjects(_ context.Context, f storage.ProjectFilter) ([]domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Project, 0, len(s.projects))
	for _, p := range s.projects {
		if f.ParentID != "" && (p.ParentID == nil || *p.ParentID != f.ParentID) {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, cloneProject(p))
	}
	sortByCreated(out, func(p domain.Project) (string, string) { return p.CreatedAt, p.ID })
	return out, nil
}

func (s *Store) GetTask(_ context.Context, id string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	t = cloneTask(t)
	return &t, nil
}

func (s *Store) SaveTask(_ context.Context, t domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = cloneTask(t)
	return nil
}

func (s *Store) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return domain.NotFound("task", id)
	}
	delete(s.tasks, id)
	return nil
}

func (s *Store) ListTasks(_ context.Context, f storage.TaskFilter) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if f.ProjectID != "" && t.ProjectID != f.ProjectID {
			continue
		}
		if f.OwnerID != "" && t.OwnerID != f.OwnerID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Priority != nil && t.Priority != *f.Priority {
			continue
		}
		out = append(out, cloneTask(t))
	}
	sortByCreated(out, func(t domain.Task) (string, string) { return t.CreatedAt, t.ID })
	return out, nil
}

func (s *Store) TasksByIDs(_ context.Context, ids []string) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.tasks[id]; ok {
			out = append(out, cloneTask(t))
		}
	}
	return out, nil
}

func (s *Store) TasksDependingOn(_ context.Context, id string) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Task
	for _, t := range s.tasks {
		for _, dep := range t.DependsOn {
			if dep == id {
				out = append(out, cloneTask(t))
				break
			}
		}
	}
	sortByCreated(out, func(t domain.Task) (string, string) { return t.CreatedAt, t.ID })
	return out, nil
}

func (s *Store) AppendEvent(_ context.Context, e domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.nextID
	s.nextID++
	s.events = append(s.events, cloneEvent(e))
	return nil
}

func (s *Store) ListEvents(_ context.Context, f storage.EventFilter) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.EntityKind != "" && e.EntityKind != f.EntityKind {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		out = append(out, cloneEvent(e))
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func sortByCreated[T any](items []T, key func(T) (string, string)) {
	sort.Slice(items, func(i, j int) bool {
		ci, ii := key(items[i])
		cj, ij := key(items[j])
		if ci != cj {
			return ci < cj
		}
		return ii < ij
	})
}
