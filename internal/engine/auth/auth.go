// Package auth is the permission gate every engine operation passes
// through before touching storage. Permissions are a closed set of
// constants; grants live on the ExecutionContext and are resolved by the
// calling adapter, never looked up here.
package auth

import (
	"sort"

	"taskline/internal/domain"
)

const (
	TaskCreate   = "task:create"
	TaskRead     = "task:read"
	TaskUpdate   = "task:update"
	TaskDelete   = "task:delete"
	TaskStart    = "task:start"
	TaskComplete = "task:complete"
	TaskApprove  = "task:approve"
	TaskReopen   = "task:reopen"
	TaskAssign   = "task:assign"
	TaskMove     = "task:move"
	// TaskManage overrides the ownership guard on start and complete.
	TaskManage = "task:manage"

	ProjectCreate  = "project:create"
	ProjectRead    = "project:read"
	ProjectUpdate  = "project:update"
	ProjectArchive = "project:archive"
	ProjectDelete  = "project:delete"
	ProjectMembers = "project:members"

	WorkerCreate = "worker:create"
	WorkerRead   = "worker:read"
	WorkerUpdate = "worker:update"
	WorkerDelete = "worker:delete"

	EventRead = "event:read"
)

var known = map[string]struct{}{
	TaskCreate: {}, TaskRead: {}, TaskUpdate: {}, TaskDelete: {},
	TaskStart: {}, TaskComplete: {}, TaskApprove: {}, TaskReopen: {},
	TaskAssign: {}, TaskMove: {}, TaskManage: {},
	ProjectCreate: {}, ProjectRead: {}, ProjectUpdate: {}, ProjectArchive: {},
	ProjectDelete: {}, ProjectMembers: {},
	WorkerCreate: {}, WorkerRead: {}, WorkerUpdate: {}, WorkerDelete: {},
	EventRead: {},
}

// Known reports whether permission is part of the closed set.
func Known(permission string) bool {
	_, ok := known[permission]
	return ok
}

// All returns the full permission set, sorted.
func All() []string {
	out := make([]string, 0, len(known))
	for p := range known {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Require checks a single permission against the caller's context.
// UNAUTHORIZED when no actor is present, FORBIDDEN when the permission is
// missing, nil otherwise. Membership is exact string equality.
func Require(ec domain.ExecutionContext, permission string) *domain.Error {
	if !ec.Authenticated() {
		return domain.Unauthorized("authentication required")
	}
	if !ec.Holds(permission) {
		return domain.Forbidden("permission %s required", permission).
			WithDetail("permission", permission)
	}
	return nil
}
