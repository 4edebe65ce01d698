// Package engine implements the task lifecycle rules: dependency
// validation, the status state machine, blocking propagation, cascading
// archival, and the permission gate in front of all of it. The engine
// holds no state of its own; every operation reads and writes through the
// storage port it was constructed with.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"taskline/internal/domain"
	"taskline/internal/engine/auth"
	"taskline/internal/storage"
)

type Engine struct {
	Store storage.Store
	// Now and NewID are injectable for tests.
	Now   func() time.Time
	NewID func() string
}

func New(store storage.Store) Engine {
	return Engine{
		Store: store,
		Now:   time.Now,
		NewID: NewID,
	}
}

// NewID returns a time-ordered unique id (UUIDv7).
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return NewID()
}

// record appends an audit event. Appends are advisory: a failure here
// never fails the operation that triggered it.
func (e Engine) record(ctx context.Context, ec domain.ExecutionContext, typ, kind, id string, payload map[string]any) {
	_ = e.Store.AppendEvent(ctx, domain.Event{
		TS:         e.nowRFC3339(),
		Type:       typ,
		EntityKind: kind,
		EntityID:   id,
		ActorID:    ec.ActorID,
		Payload:    payload,
	})
}

func (e Engine) loadTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := e.Store.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t == nil {
		return domain.Task{}, domain.NotFound("task", id)
	}
	return *t, nil
}

func (e Engine) loadProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := e.Store.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if p == nil {
		return domain.Project{}, domain.NotFound("project", id)
	}
	return *p, nil
}

func (e Engine) loadWorker(ctx context.Context, id string) (domain.Worker, error) {
	w, err := e.Store.GetWorker(ctx, id)
	if err != nil {
		return domain.Worker{}, err
	}
	if w == nil {
		return domain.Worker{}, domain.NotFound("worker", id)
	}
	return *w, nil
}

// requireOwnerOrManage is the ownership guard on start and complete: the
// caller must be the task owner or hold task:manage.
func requireOwnerOrManage(ec domain.ExecutionContext, t domain.Task) *domain.Error {
	if ec.ActorID == t.OwnerID || ec.Holds(auth.TaskManage) {
		return nil
	}
	return domain.Forbidden("actor %s does not own task %s and lacks %s", ec.ActorID, t.ID, auth.TaskManage).
		WithDetail("owner_id", t.OwnerID)
}

// ListEvents returns the audit trail, newest first.
func (e Engine) ListEvents(ctx context.Context, ec domain.ExecutionContext, f storage.EventFilter) ([]domain.Event, error) {
	if err := auth.Require(ec, auth.EventRead); err != nil {
		return nil, err
	}
	return e.Store.ListEvents(ctx, f)
}
