package domain

import "fmt"

type WorkerType string

const (
	WorkerHuman WorkerType = "human"
	WorkerAgent WorkerType = "agent"
)

func (t WorkerType) Valid() bool {
	return t == WorkerHuman || t == WorkerAgent
}

type Worker struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Type        WorkerType `json:"type" enum:"human,agent"`
	Roles       []string   `json:"roles,omitempty"`
	Permissions []string   `json:"permissions,omitempty"`
	CreatedAt   string     `json:"created_at" format:"date-time"`
	UpdatedAt   string     `json:"updated_at" format:"date-time"`
}

type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "active"
	ProjectArchived ProjectStatus = "archived"
)

type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	ParentID    *string       `json:"parent_id,omitempty"`
	MemberIDs   []string      `json:"member_ids,omitempty"`
	Status      ProjectStatus `json:"status" enum:"active,archived"`
	CreatedAt   string        `json:"created_at" format:"date-time"`
	UpdatedAt   string        `json:"updated_at" format:"date-time"`
}

func (p Project) HasMember(workerID string) bool {
	for _, id := range p.MemberIDs {
		if id == workerID {
			return true
		}
	}
	return false
}

type TaskStatus string

const (
	StatusBacklog TaskStatus = "backlog"
	StatusBlocked TaskStatus = "blocked"
	StatusActive  TaskStatus = "active"
	StatusReview  TaskStatus = "review"
	StatusDone    TaskStatus = "done"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusBacklog, StatusBlocked, StatusActive, StatusReview, StatusDone:
		return true
	}
	return false
}

// Priority orders tasks from P0 (most urgent) to P3 (least urgent).
type Priority int

const (
	P0 Priority = iota
	P1
	P2
	P3
)

const DefaultPriority = P2

func (p Priority) Valid() bool {
	return p >= P0 && p <= P3
}

func (p Priority) String() string {
	if !p.Valid() {
		return fmt.Sprintf("P?(%d)", int(p))
	}
	return [...]string{"P0", "P1", "P2", "P3"}[p]
}

func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("priority out of range: %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func ParsePriority(s string) (Priority, error) {
	switch s {
	case "P0", "p0", "0":
		return P0, nil
	case "P1", "p1", "1":
		return P1, nil
	case "P2", "p2", "2":
		return P2, nil
	case "P3", "p3", "3":
		return P3, nil
	}
	return 0, fmt.Errorf("unknown priority %q (want P0..P3)", s)
}

const (
	ApprovalAuto   = "auto_approved"
	ApprovalManual = "approved"
)

type Approval struct {
	Mode       string `json:"mode" enum:"auto_approved,approved"`
	ApproverID string `json:"approver_id"`
	ApprovedAt string `json:"approved_at" format:"date-time"`
}

type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	OwnerID     string     `json:"owner_id"`
	Status      TaskStatus `json:"status" enum:"backlog,blocked,active,review,done"`
	Priority    Priority   `json:"priority"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	BlockedBy   []string   `json:"blocked_by,omitempty"`
	Context     string     `json:"context,omitempty"`
	Goal        string     `json:"goal,omitempty"`
	Deliverable string     `json:"deliverable,omitempty"`
	Approval    *Approval  `json:"approval,omitempty"`
	CreatedAt   string     `json:"created_at" format:"date-time"`
	UpdatedAt   string     `json:"updated_at" format:"date-time"`
	CompletedAt *string    `json:"completed_at,omitempty" format:"date-time"`
}

func (t Task) Open() bool {
	return t.Status != StatusDone
}

type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}
