package protocol

import "encoding/json"

// Task support levels a tool advertises through Execution.
const (
	TaskSupportForbidden = "forbidden"
	TaskSupportOptional  = "optional"
	TaskSupportRequired  = "required"
)

// Tool describes a callable tool.
type Tool struct {
	Name         string           `json:"name"`
	Title        string           `json:"title,omitempty"`
	Description  string           `json:"description,omitempty"`
	InputSchema  json.RawMessage  `json:"inputSchema"`
	OutputSchema json.RawMessage  `json:"outputSchema,omitempty"`
	Annotations  *ToolAnnotations `json:"annotations,omitempty"`
	Execution    *ToolExecution   `json:"execution,omitempty"`
	Meta         Meta             `json:"_meta,omitempty"`
}

// ToolAnnotations are untrusted behaviour hints.
type ToolAnnotations struct {
	Title           string `json:"title,omitempty"`
	ReadOnlyHint    *bool  `json:"readOnlyHint,omitempty"`
	DestructiveHint *bool  `json:"destructiveHint,omitempty"`
	IdempotentHint  *bool  `json:"idempotentHint,omitempty"`
	OpenWorldHint   *bool  `json:"openWorldHint,omitempty"`
}

// ToolExecution describes how a tool may be invoked.
type ToolExecution struct {
	TaskSupport string `json:"taskSupport,omitempty"`
}

// TaskSupport returns the tool's task support level, forbidden when unset.
func (t Tool) TaskSupport() string {
	if t.Execution == nil || t.Execution.TaskSupport == "" {
		return TaskSupportForbidden
	}
	return t.Execution.TaskSupport
}

// ListToolsParams requests one page of tools.
type ListToolsParams struct {
	PaginatedParams
}

// ListToolsResult is one page of tools.
type ListToolsResult struct {
	PaginatedResult
	Tools []Tool `json:"tools"`
}

// CallToolParams invokes a tool. A non-nil Task asks the receiver to run
// the call as a task and answer with CreateTaskResult.
type CallToolParams struct {
	Meta      Meta            `json:"_meta,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Task      *TaskMetadata   `json:"task,omitempty"`
}

// CallToolResult is the outcome of a tool call. Tool-level failures are
// reported with IsError rather than as protocol errors.
type CallToolResult struct {
	Meta              Meta            `json:"_meta,omitempty"`
	Content           Contents        `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError,omitempty"`
}
