package protocol

import "encoding/json"

// Implementation identifies a peer's software.
type Implementation struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
}

// EmptyCapability marks a capability that has no options.
type EmptyCapability struct{}

// RootsCapability advertises client support for roots/list.
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ListChangedCapability advertises list_changed notifications for a feature.
type ListChangedCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability advertises resource features.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// ToolsTaskCapability lists which tool requests accept task augmentation.
type ToolsTaskCapability struct {
	Call *EmptyCapability `json:"call,omitempty"`
}

// TaskRequestsCapability lists the request families that accept task
// augmentation.
type TaskRequestsCapability struct {
	Tools       *ToolsTaskCapability       `json:"tools,omitempty"`
	Sampling    *SamplingTaskCapability    `json:"sampling,omitempty"`
	Elicitation *ElicitationTaskCapability `json:"elicitation,omitempty"`
}

// SamplingTaskCapability advertises task-augmented sampling.
type SamplingTaskCapability struct {
	CreateMessage *EmptyCapability `json:"createMessage,omitempty"`
}

// ElicitationTaskCapability advertises task-augmented elicitation.
type ElicitationTaskCapability struct {
	Create *EmptyCapability `json:"create,omitempty"`
}

// TasksCapability advertises the task operations a peer serves.
type TasksCapability struct {
	List     *EmptyCapability        `json:"list,omitempty"`
	Cancel   *EmptyCapability        `json:"cancel,omitempty"`
	Requests *TaskRequestsCapability `json:"requests,omitempty"`
}

// ClientCapabilities is the capability set offered by the initiating peer.
type ClientCapabilities struct {
	Experimental map[string]json.RawMessage `json:"experimental,omitempty"`
	Roots        *RootsCapability           `json:"roots,omitempty"`
	Sampling     *EmptyCapability           `json:"sampling,omitempty"`
	Elicitation  *EmptyCapability           `json:"elicitation,omitempty"`
	Tasks        *TasksCapability           `json:"tasks,omitempty"`
}

// ServerCapabilities is the capability set returned by the receiving peer.
type ServerCapabilities struct {
	Experimental map[string]json.RawMessage `json:"experimental,omitempty"`
	Logging      *EmptyCapability           `json:"logging,omitempty"`
	Completions  *EmptyCapability           `json:"completions,omitempty"`
	Prompts      *ListChangedCapability     `json:"prompts,omitempty"`
	Resources    *ResourcesCapability       `json:"resources,omitempty"`
	Tools        *ListChangedCapability     `json:"tools,omitempty"`
	Tasks        *TasksCapability           `json:"tasks,omitempty"`
}

// Clone returns a deep copy so negotiated capabilities cannot be changed
// through a shared pointer.
func (c ClientCapabilities) Clone() ClientCapabilities {
	var out ClientCapabilities
	cloneJSON(c, &out)
	return out
}

// Clone returns a deep copy so negotiated capabilities cannot be changed
// through a shared pointer.
func (c ServerCapabilities) Clone() ServerCapabilities {
	var out ServerCapabilities
	cloneJSON(c, &out)
	return out
}

// SupportsTaskList reports whether tasks/list is advertised.
func (c ServerCapabilities) SupportsTaskList() bool {
	return c.Tasks != nil && c.Tasks.List != nil
}

// SupportsTaskCancel reports whether tasks/cancel is advertised.
func (c ServerCapabilities) SupportsTaskCancel() bool {
	return c.Tasks != nil && c.Tasks.Cancel != nil
}

// SupportsToolTasks reports whether tools/call accepts task augmentation.
func (c ServerCapabilities) SupportsToolTasks() bool {
	return c.Tasks != nil && c.Tasks.Requests != nil &&
		c.Tasks.Requests.Tools != nil && c.Tasks.Requests.Tools.Call != nil
}

// InitializeParams opens the handshake.
type InitializeParams struct {
	Meta            Meta               `json:"_meta,omitempty"`
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult answers InitializeParams.
type InitializeResult struct {
	Meta            Meta               `json:"_meta,omitempty"`
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// EmptyResult is the result of requests that return nothing, such as ping.
type EmptyResult struct {
	Meta Meta `json:"_meta,omitempty"`
}

func cloneJSON(in, out interface{}) {
	raw, err := json.Marshal(in)
	if err != nil {
		return
	}
	_ = json.Unmarshal(raw, out)
}
