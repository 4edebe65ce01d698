package domain

// ExecutionContext carries the identity and grants of one caller for the
// duration of one operation. Adapters build a fresh value per request;
// nothing here is ever persisted.
type ExecutionContext struct {
	ActorID     string            `json:"actor_id"`
	WorkspaceID string            `json:"workspace_id,omitempty"`
	Permissions []string          `json:"permissions,omitempty"`
	Environment string            `json:"environment,omitempty"`
	TraceID     string            `json:"trace_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (ec ExecutionContext) Authenticated() bool {
	return ec.ActorID != ""
}

func (ec ExecutionContext) Holds(permission string) bool {
	for _, p := range ec.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}
