// Package tasks tracks long-running operations that outlive the request
// that started them.
//
// The requestor side keeps a Registry of snapshots fed by three sources: the
// CreateTaskResult of a task-augmented request, tasks/get and tasks/list
// answers, and pushed notifications/tasks/status. Merge keeps the view
// consistent when those race: terminal statuses are sticky and
// lastUpdatedAt never moves backwards. Client wires a Registry to a session.
//
// The receiver side is a Store, which runs the work behind each task, serves
// tasks/get, tasks/list, tasks/cancel and tasks/result and drops tasks once
// their TTL has passed.
package tasks
