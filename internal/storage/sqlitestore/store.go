// Package sqlitestore is the durable Store backed by SQLite. Dependency
// and membership lists live in join tables keyed by position so list
// order survives the round trip.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/Masterminds/squirrel"

	"taskline/internal/domain"
	"taskline/internal/storage"
)

type Store struct {
	db *sql.DB
	qb squirrel.StatementBuilderType
}

var _ storage.Store = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{
		db: db,
		qb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}
}

// row covers *sql.Row and *sql.Rows so the scan helpers work for both.
type row interface {
	Scan(dest ...any) error
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func jsonList(v []string) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func parseList(ns sql.NullString) ([]string, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

const workerCols = `id,name,type,roles_json,permissions_json,created_at,updated_at`

func scanWorker(r row) (domain.Worker, error) {
	var w domain.Worker
	var roles, perms sql.NullString
	if err := r.Scan(&w.ID, &w.Name, &w.Type, &roles, &perms, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return w, err
	}
	var err error
	if w.Roles, err = parseList(roles); err != nil {
		return w, err
	}
	if w.Permissions, err = parseList(perms); err != nil {
		return w, err
	}
	return w, nil
}

func (s *Store) GetWorker(ctx context.Context, id string) (*domain.Worker, error) {
	w, err := scanWorker(s.db.QueryRowContext(ctx, `SELECT `+workerCols+` FROM workers WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Internal(err)
	}
	return &w, nil
}

func (s *Store) SaveWorker(ctx context.Context, w domain.Worker) error {
	roles, err := jsonList(w.Roles)
	if err != nil {
		return domain.Internal(err)
	}
	perms, err := jsonList(w.Permissions)
	if err != nil {
		return domain.Internal(err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO workers(id,name,type,roles_json,permissions_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, type=excluded.type, roles_json=excluded.roles_json, permissions_json=excluded.permissions_json, updated_at=excluded.updated_at`,
		w.ID, w.Name, w.Type, roles, perms, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return domain.Internal(err)
	}
	return nil
}

func (s *Store) DeleteWorker(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workers WHERE id=?`, id)
	if err != nil {
		return domain.Internal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("worker", id)
	}
	return nil
}

func (s *Store) ListWorkers(ctx context.Context, f storage.WorkerFilter) ([]domain.Worker, error) {
	q := s.qb.Select(workerCols).From("workers")
	if f.Type != "" {
		q = q.Where(squirrel.Eq{"type": f.Type})
	}
	query, args, err := q.OrderBy("created_at ASC", "id ASC").ToSql()
	if err != nil {
		return nil, domain.Internal(err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Internal(err)
	}
	defer rows.Close()
	var res []domain.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, domain.Internal(err)
		}
		res = append(res, w)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err)
	}
	return res, nil
}

const projectCols = `id,name,description,parent_id,status,created_at,updated_at`

func scanProject(r row) (domain.Project, error) {
	var p domain.Project
	var desc, parent sql.NullString
	if err := r.Scan(&p.ID, &p.Name, &desc, &parent, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	if desc.Valid {
		p.Description = desc.String
	}
	if parent.Valid {
		p.ParentID = &parent.String
	}
	return p, nil
}

func (s *Store) projectMembers(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT worker_id FROM project_members WHERE project_id=? ORDER BY pos`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Internal(err)
	}
	if p.MemberIDs, err = s.projectMembers(ctx, id); err != nil {
		return nil, domain.Internal(err)
	}
	return &p, nil
}

func (s *Store) SaveProject(ctx context.Context, p domain.Project) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Internal(err)
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `INSERT INTO projects(id,name,description,parent_id,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description, parent_id=excluded.parent_id, status=excluded.status, updated_at=excluded.updated_at`,
		p.ID, p.Name, nullable(p.Description), nullableStringPtr(p.ParentID), p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return domain.Internal(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM project_members WHERE project_id=?`, p.ID); err != nil {
		return domain.Internal(err)
	}
	for i, workerID := range p.MemberIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO project_members(project_id,worker_id,pos) VALUES (?,?,?)`, p.ID, workerID, i); err != nil {
			return domain.Internal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Internal(err)
	}
	return nil
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return domain.Internal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("project", id)
	}
	return nil
}

func (s *Store) ListProjects(ctx context.Context, f storage.ProjectFilter) ([]domain.Project, error) {
	q := s.qb.Select(projectCols).From("projects")
	if f.ParentID != "" {
		q = q.Where(squirrel.Eq{"parent_id": f.ParentID})
	}
	if f.Status != "" {
		q = q.Where(squirrel.Eq{"status": f.Status})
	}
	query, args, err := q.OrderBy("created_at ASC", "id ASC").ToSql()
	if err != nil {
		return nil, domain.Internal(err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Internal(err)
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, domain.Internal(err)
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err)
	}
	for i := range res {
		if res[i].MemberIDs, err = s.projectMembers(ctx, res[i].ID); err != nil {
			return nil, domain.Internal(err)
		}
	}
	return res, nil
}

const taskCols = `id,project_id,title,description,owner_id,status,priority,context,goal,deliverable,approval_mode,approver_id,approved_at,created_at,updated_at,completed_at`

func scanTask(r row) (domain.Task, error) {
	var t domain.Task
	var desc, taskCtx, goal, deliverable sql.NullString
	var approvalMode, approverID, approvedAt, completedAt sql.NullString
	err := r.Scan(&t.ID, &t.ProjectID, &t.Title, &desc, &t.OwnerID, &t.Status, &t.Priority,
		&taskCtx, &goal, &deliverable, &approvalMode, &approverID, &approvedAt,
		&t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err != nil {
		return t, err
	}
	if desc.Valid {
		t.Description = desc.String
	}
	if taskCtx.Valid {
		t.Context = taskCtx.String
	}
	if goal.Valid {
		t.Goal = goal.String
	}
	if deliverable.Valid {
		t.Deliverable = deliverable.String
	}
	if approvalMode.Valid {
		t.Approval = &domain.Approval{
			Mode:       approvalMode.String,
			ApproverID: approverID.String,
			ApprovedAt: approvedAt.String,
		}
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

// taskDeps loads the dependency edges for a set of tasks in one query.
// The blocked flag marks the edges still gating the dependent.
func (s *Store) taskDeps(ctx context.Context, ids []string) (map[string][]string, map[string][]string, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	query, args, err := s.qb.Select("task_id", "depends_on_task_id", "blocked").
		From("task_deps").
		Where(squirrel.Eq{"task_id": ids}).
		OrderBy("task_id", "pos").
		ToSql()
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	dependsOn := map[string][]string{}
	blockedBy := map[string][]string{}
	for rows.Next() {
		var taskID, depID string
		var blocked bool
		if err := rows.Scan(&taskID, &depID, &blocked); err != nil {
			return nil, nil, err
		}
		dependsOn[taskID] = append(dependsOn[taskID], depID)
		if blocked {
			blockedBy[taskID] = append(blockedBy[taskID], depID)
		}
	}
	return dependsOn, blockedBy, rows.Err()
}

func (s *Store) attachDeps(ctx context.Context, tasks []domain.Task) error {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	dependsOn, blockedBy, err := s.taskDeps(ctx, ids)
	if err != nil {
		return err
	}
	for i := range tasks {
		tasks[i].DependsOn = dependsOn[tasks[i].ID]
		tasks[i].BlockedBy = blockedBy[tasks[i].ID]
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Internal(err)
	}
	tasks := []domain.Task{t}
	if err := s.attachDeps(ctx, tasks); err != nil {
		return nil, domain.Internal(err)
	}
	return &tasks[0], nil
}

func (s *Store) SaveTask(ctx context.Context, t domain.Task) error {
	var approvalMode, approverID, approvedAt any
	if t.Approval != nil {
		approvalMode = t.Approval.Mode
		approverID = t.Approval.ApproverID
		approvedAt = t.Approval.ApprovedAt
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Internal(err)
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `INSERT INTO tasks(id,project_id,title,description,owner_id,status,priority,context,goal,deliverable,approval_mode,approver_id,approved_at,created_at,updated_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET project_id=excluded.project_id, title=excluded.title, description=excluded.description, owner_id=excluded.owner_id, status=excluded.status, priority=excluded.priority, context=excluded.context, goal=excluded.goal, deliverable=excluded.deliverable, approval_mode=excluded.approval_mode, approver_id=excluded.approver_id, approved_at=excluded.approved_at, updated_at=excluded.updated_at, completed_at=excluded.completed_at`,
		t.ID, t.ProjectID, t.Title, nullable(t.Description), t.OwnerID, t.Status, int(t.Priority),
		nullable(t.Context), nullable(t.Goal), nullable(t.Deliverable), approvalMode, approverID, approvedAt,
		t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	if err != nil {
		return domain.Internal(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_deps WHERE task_id=?`, t.ID); err != nil {
		return domain.Internal(err)
	}
	blocked := make(map[string]bool, len(t.BlockedBy))
	for _, id := range t.BlockedBy {
		blocked[id] = true
	}
	for i, dep := range t.DependsOn {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_deps(task_id,depends_on_task_id,blocked,pos) VALUES (?,?,?,?)`, t.ID, dep, blocked[dep], i); err != nil {
			return domain.Internal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Internal(err)
	}
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return domain.Internal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("task", id)
	}
	return nil
}

func (s *Store) ListTasks(ctx context.Context, f storage.TaskFilter) ([]domain.Task, error) {
	q := s.qb.Select(taskCols).From("tasks")
	if f.ProjectID != "" {
		q = q.Where(squirrel.Eq{"project_id": f.ProjectID})
	}
	if f.OwnerID != "" {
		q = q.Where(squirrel.Eq{"owner_id": f.OwnerID})
	}
	if f.Status != "" {
		q = q.Where(squirrel.Eq{"status": f.Status})
	}
	if f.Priority != nil {
		q = q.Where(squirrel.Eq{"priority": int(*f.Priority)})
	}
	query, args, err := q.OrderBy("created_at ASC", "id ASC").ToSql()
	if err != nil {
		return nil, domain.Internal(err)
	}
	return s.queryTasks(ctx, query, args...)
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Internal(err)
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, domain.Internal(err)
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err)
	}
	if err := s.attachDeps(ctx, res); err != nil {
		return nil, domain.Internal(err)
	}
	return res, nil
}

func (s *Store) TasksByIDs(ctx context.Context, ids []string) ([]domain.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := s.qb.Select(taskCols).From("tasks").Where(squirrel.Eq{"id": ids}).ToSql()
	if err != nil {
		return nil, domain.Internal(err)
	}
	tasks, err := s.queryTasks(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	// Return in request order, skipping ids with no record.
	res := make([]domain.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			res = append(res, t)
		}
	}
	return res, nil
}

func (s *Store) TasksDependingOn(ctx context.Context, id string) ([]domain.Task, error) {
	query := `SELECT ` + taskCols + ` FROM tasks JOIN task_deps d ON d.task_id = tasks.id WHERE d.depends_on_task_id=? ORDER BY tasks.created_at ASC, tasks.id ASC`
	return s.queryTasks(ctx, query, id)
}

func (s *Store) AppendEvent(ctx context.Context, e domain.Event) error {
	var payload any
	if len(e.Payload) > 0 {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return domain.Internal(err)
		}
		payload = string(b)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		e.TS, e.Type, e.EntityKind, e.EntityID, e.ActorID, payload)
	if err != nil {
		return domain.Internal(err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, f storage.EventFilter) ([]domain.Event, error) {
	q := s.qb.Select(`id,ts,type,entity_kind,entity_id,actor_id,payload_json`).From("events")
	if f.Type != "" {
		q = q.Where(squirrel.Eq{"type": f.Type})
	}
	if f.EntityKind != "" {
		q = q.Where(squirrel.Eq{"entity_kind": f.EntityKind})
	}
	if f.EntityID != "" {
		q = q.Where(squirrel.Eq{"entity_id": f.EntityID})
	}
	q = q.OrderBy("id DESC")
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, domain.Internal(err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Internal(err)
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, domain.Internal(err)
		}
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, domain.Internal(err)
			}
		}
		res = append(res, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err)
	}
	return res, nil
}
