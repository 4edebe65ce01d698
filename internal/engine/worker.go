package engine

import (
	"context"

	"taskline/internal/domain"
	"taskline/internal/engine/auth"
	"taskline/internal/storage"
)

type WorkerCreateOptions struct {
	Name        string
	Type        domain.WorkerType
	Roles       []string
	Permissions []string
}

func (e Engine) CreateWorker(ctx context.Context, ec domain.ExecutionContext, opts WorkerCreateOptions) (domain.Worker, error) {
	if err := auth.Require(ec, auth.WorkerCreate); err != nil {
		return domain.Worker{}, err
	}
	if err := validateName("name", opts.Name); err != nil {
		return domain.Worker{}, err
	}
	if opts.Type == "" {
		opts.Type = domain.WorkerHuman
	}
	if !opts.Type.Valid() {
		return domain.Worker{}, domain.InvalidInput("unknown worker type %q", string(opts.Type))
	}
	if err := validatePermissions(opts.Permissions); err != nil {
		return domain.Worker{}, err
	}
	now := e.nowRFC3339()
	w := domain.Worker{
		ID:          e.newID(),
		Name:        opts.Name,
		Type:        opts.Type,
		Roles:       dedupe(opts.Roles),
		Permissions: dedupe(opts.Permissions),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Store.SaveWorker(ctx, w); err != nil {
		return domain.Worker{}, err
	}
	e.record(ctx, ec, "worker.created", "worker", w.ID, map[string]any{
		"name": w.Name,
		"type": string(w.Type),
	})
	return w, nil
}

func (e Engine) GetWorker(ctx context.Context, ec domain.ExecutionContext, id string) (domain.Worker, error) {
	if err := auth.Require(ec, auth.WorkerRead); err != nil {
		return domain.Worker{}, err
	}
	return e.loadWorker(ctx, id)
}

func (e Engine) ListWorkers(ctx context.Context, ec domain.ExecutionContext, f storage.WorkerFilter) ([]domain.Worker, error) {
	if err := auth.Require(ec, auth.WorkerRead); err != nil {
		return nil, err
	}
	if f.Type != "" && !f.Type.Valid() {
		return nil, domain.InvalidInput("unknown worker type %q", string(f.Type))
	}
	return e.Store.ListWorkers(ctx, f)
}

type WorkerUpdateOptions struct {
	ID          string
	Name        *string
	Roles       *[]string
	Permissions *[]string
}

func (e Engine) UpdateWorker(ctx context.Context, ec domain.ExecutionContext, opts WorkerUpdateOptions) (domain.Worker, error) {
	if err := auth.Require(ec, auth.WorkerUpdate); err != nil {
		return domain.Worker{}, err
	}
	w, err := e.loadWorker(ctx, opts.ID)
	if err != nil {
		return domain.Worker{}, err
	}
	if opts.Name != nil {
		if err := validateName("name", *opts.Name); err != nil {
			return domain.Worker{}, err
		}
		w.Name = *opts.Name
	}
	if opts.Roles != nil {
		w.Roles = dedupe(*opts.Roles)
	}
	if opts.Permissions != nil {
		if err := validatePermissions(*opts.Permissions); err != nil {
			return domain.Worker{}, err
		}
		w.Permissions = dedupe(*opts.Permissions)
	}
	w.UpdatedAt = e.nowRFC3339()
	if err := e.Store.SaveWorker(ctx, w); err != nil {
		return domain.Worker{}, err
	}
	e.record(ctx, ec, "worker.updated", "worker", w.ID, nil)
	return w, nil
}

func (e Engine) DeleteWorker(ctx context.Context, ec domain.ExecutionContext, id string) error {
	if err := auth.Require(ec, auth.WorkerDelete); err != nil {
		return err
	}
	w, err := e.loadWorker(ctx, id)
	if err != nil {
		return err
	}
	owned, err := e.Store.ListTasks(ctx, storage.TaskFilter{OwnerID: w.ID})
	if err != nil {
		return err
	}
	open := 0
	for _, t := range owned {
		if t.Open() {
			open++
		}
	}
	if open > 0 {
		return domain.Conflict("worker %s owns %d open task(s)", w.ID, open).
			WithDetail("open_tasks", open)
	}
	if err := e.Store.DeleteWorker(ctx, w.ID); err != nil {
		return err
	}
	e.record(ctx, ec, "worker.deleted", "worker", w.ID, map[string]any{"name": w.Name})
	return nil
}
