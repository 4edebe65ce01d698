// Package storage defines the persistence port the engine writes through.
// Implementations live in sqlitestore (durable) and memstore (ephemeral).
package storage

import (
	"context"

	"taskline/internal/domain"
)

// Filters are conjunctions: zero values mean "no constraint on this field".

type WorkerFilter struct {
	Type domain.WorkerType
}

type ProjectFilter struct {
	ParentID string
	Status   domain.ProjectStatus
}

type TaskFilter struct {
	ProjectID string
	OwnerID   string
	Status    domain.TaskStatus
	Priority  *domain.Priority
}

type EventFilter struct {
	Type       string
	EntityKind string
	EntityID   string
	Limit      int
}

// Store is the single persistence abstraction the engine depends on.
// Get methods return (nil, nil) for absent records so validators can treat
// a miss as a plain fact rather than a failure. Save is an upsert. Delete
// of an absent record fails with NOT_FOUND. Every failure crossing this
// interface is a *domain.Error; backend faults surface as INTERNAL_ERROR
// and are retryable.
type Store interface {
	GetWorker(ctx context.Context, id string) (*domain.Worker, error)
	SaveWorker(ctx context.Context, w domain.Worker) error
	DeleteWorker(ctx context.Context, id string) error
	ListWorkers(ctx context.Context, f WorkerFilter) ([]domain.Worker, error)

	GetProject(ctx context.Context, id string) (*domain.Project, error)
	SaveProject(ctx context.Context, p domain.Project) error
	DeleteProject(ctx context.Context, id string) error
	ListProjects(ctx context.Context, f ProjectFilter) ([]domain.Project, error)

	GetTask(ctx context.Context, id string) (*domain.Task, error)
	SaveTask(ctx context.Context, t domain.Task) error
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, f TaskFilter) ([]domain.Task, error)

	// TasksByIDs is the batch lookup; ids with no record are skipped.
	TasksByIDs(ctx context.Context, ids []string) ([]domain.Task, error)
	// TasksDependingOn is the reverse dependency index: every task whose
	// depends_on set contains id.
	TasksDependingOn(ctx context.Context, id string) ([]domain.Task, error)

	AppendEvent(ctx context.Context, e domain.Event) error
	ListEvents(ctx context.Context, f EventFilter) ([]domain.Event, error)
}
