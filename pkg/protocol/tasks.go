package protocol

import "time"

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusWorking       TaskStatus = "working"
	TaskStatusInputRequired TaskStatus = "input_required"
	TaskStatusCompleted     TaskStatus = "completed"
	TaskStatusFailed        TaskStatus = "failed"
	TaskStatusCancelled     TaskStatus = "cancelled"
)

// RelatedTaskMetaKey links a message to the task it belongs to through _meta.
const RelatedTaskMetaKey = "io.modelcontextprotocol/related-task"

// IsValid reports whether s is one of the defined statuses.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusWorking, TaskStatusInputRequired, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is accepted from s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// CanTransitionTo reports whether a task in status s may move to next.
// Staying in a non-terminal status is allowed so the status message can
// change; a terminal status accepts nothing.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if !next.IsValid() {
		return false
	}
	switch s {
	case TaskStatusWorking, TaskStatusInputRequired:
		return true
	default:
		return false
	}
}

// Task is a snapshot of a long-running operation. TTL and PollInterval are in
// milliseconds; a null TTL means no expiry is advertised.
type Task struct {
	TaskID        string     `json:"taskId"`
	Status        TaskStatus `json:"status"`
	StatusMessage string     `json:"statusMessage,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastUpdatedAt time.Time  `json:"lastUpdatedAt"`
	TTL           *int64     `json:"ttl"`
	PollInterval  *int64     `json:"pollInterval,omitempty"`
}

// Millis converts d to the millisecond form used by TTL and PollInterval.
func Millis(d time.Duration) *int64 {
	ms := d.Milliseconds()
	return &ms
}

// TTLDuration returns the advertised time-to-live.
func (t Task) TTLDuration() (time.Duration, bool) {
	if t.TTL == nil {
		return 0, false
	}
	return time.Duration(*t.TTL) * time.Millisecond, true
}

// PollIntervalDuration returns the advisory polling interval.
func (t Task) PollIntervalDuration() (time.Duration, bool) {
	if t.PollInterval == nil {
		return 0, false
	}
	return time.Duration(*t.PollInterval) * time.Millisecond, true
}

// Expired reports whether the task's TTL, measured from creation, has passed.
func (t Task) Expired(now time.Time) bool {
	ttl, ok := t.TTLDuration()
	if !ok {
		return false
	}
	return now.After(t.CreatedAt.Add(ttl))
}

// TaskMetadata augments a request so that the receiver runs it as a task.
type TaskMetadata struct {
	TTL *int64 `json:"ttl,omitempty"`
}

// RelatedTask is stored under RelatedTaskMetaKey.
type RelatedTask struct {
	TaskID string `json:"taskId"`
}

// CreateTaskResult is returned instead of the normal result by a
// task-augmented request.
type CreateTaskResult struct {
	Meta Meta `json:"_meta,omitempty"`
	Task Task `json:"task"`
}

// GetTaskParams identifies the task polled by tasks/get.
type GetTaskParams struct {
	Meta   Meta   `json:"_meta,omitempty"`
	TaskID string `json:"taskId"`
}

// GetTaskResult is the task snapshot returned by tasks/get.
type GetTaskResult struct {
	Meta Meta `json:"_meta,omitempty"`
	Task
}

// ListTasksParams requests one page of tasks.
type ListTasksParams struct {
	PaginatedParams
}

// ListTasksResult is one page of tasks.
type ListTasksResult struct {
	PaginatedResult
	Tasks []Task `json:"tasks"`
}

// CancelTaskParams identifies the task cancelled by tasks/cancel.
type CancelTaskParams struct {
	Meta   Meta   `json:"_meta,omitempty"`
	TaskID string `json:"taskId"`
	Reason string `json:"reason,omitempty"`
}

// CancelTaskResult is the task snapshot after cancellation.
type CancelTaskResult struct {
	Meta Meta `json:"_meta,omitempty"`
	Task
}

// TaskResultParams identifies the task whose payload tasks/result returns.
type TaskResultParams struct {
	Meta   Meta   `json:"_meta,omitempty"`
	TaskID string `json:"taskId"`
}

// TaskStatusNotificationParams pushes a task snapshot to the requestor.
type TaskStatusNotificationParams struct {
	Meta Meta `json:"_meta,omitempty"`
	Task
}
