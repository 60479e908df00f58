package protocol

// Method is a JSON-RPC method name. The constants below cover the protocol's
// fixed method set; any other string is a custom method and is carried
// verbatim.
type Method string

// Lifecycle
const (
	MethodInitialize  Method = "initialize"
	MethodInitialized Method = "notifications/initialized"
	MethodPing        Method = "ping"
)

// Utilities
const (
	MethodCancelled       Method = "notifications/cancelled"
	MethodProgress        Method = "notifications/progress"
	MethodLoggingMessage  Method = "notifications/message"
	MethodLoggingSetLevel Method = "logging/setLevel"
	MethodComplete        Method = "completion/complete"
)

// Tools, resources and prompts
const (
	MethodToolsList              Method = "tools/list"
	MethodToolsCall              Method = "tools/call"
	MethodToolsListChanged       Method = "notifications/tools/list_changed"
	MethodResourcesList          Method = "resources/list"
	MethodResourcesRead          Method = "resources/read"
	MethodResourcesTemplatesList Method = "resources/templates/list"
	MethodResourcesSubscribe     Method = "resources/subscribe"
	MethodResourcesUnsubscribe   Method = "resources/unsubscribe"
	MethodResourcesListChanged   Method = "notifications/resources/list_changed"
	MethodResourcesUpdated       Method = "notifications/resources/updated"
	MethodPromptsList            Method = "prompts/list"
	MethodPromptsGet             Method = "prompts/get"
	MethodPromptsListChanged     Method = "notifications/prompts/list_changed"
)

// Client-side features
const (
	MethodSamplingCreateMessage Method = "sampling/createMessage"
	MethodRootsList             Method = "roots/list"
	MethodRootsListChanged      Method = "notifications/roots/list_changed"
	MethodElicitationCreate     Method = "elicitation/create"
)

// Tasks
const (
	MethodTasksGet    Method = "tasks/get"
	MethodTasksList   Method = "tasks/list"
	MethodTasksCancel Method = "tasks/cancel"
	MethodTasksResult Method = "tasks/result"
	MethodTaskStatus  Method = "notifications/tasks/status"
)

var knownMethods = map[Method]struct{}{
	MethodInitialize: {}, MethodInitialized: {}, MethodPing: {},
	MethodCancelled: {}, MethodProgress: {}, MethodLoggingMessage: {}, MethodLoggingSetLevel: {}, MethodComplete: {},
	MethodToolsList: {}, MethodToolsCall: {}, MethodToolsListChanged: {},
	MethodResourcesList: {}, MethodResourcesRead: {}, MethodResourcesTemplatesList: {},
	MethodResourcesSubscribe: {}, MethodResourcesUnsubscribe: {}, MethodResourcesListChanged: {}, MethodResourcesUpdated: {},
	MethodPromptsList: {}, MethodPromptsGet: {}, MethodPromptsListChanged: {},
	MethodSamplingCreateMessage: {}, MethodRootsList: {}, MethodRootsListChanged: {}, MethodElicitationCreate: {},
	MethodTasksGet: {}, MethodTasksList: {}, MethodTasksCancel: {}, MethodTasksResult: {}, MethodTaskStatus: {},
}

// IsKnown reports whether m belongs to the fixed protocol method set.
func (m Method) IsKnown() bool {
	_, ok := knownMethods[m]
	return ok
}

// IsHandshake reports whether m is part of the initialize exchange.
func (m Method) IsHandshake() bool {
	return m == MethodInitialize || m == MethodInitialized
}

// String implements fmt.Stringer.
func (m Method) String() string { return string(m) }
