package errors

// JSON-RPC 2.0 standard error codes
const (
	// CodeParseError indicates invalid JSON was received
	CodeParseError int = -32700

	// CodeInvalidRequest indicates the JSON sent is not a valid Request object
	CodeInvalidRequest int = -32600

	// CodeMethodNotFound indicates the method does not exist / is not available
	CodeMethodNotFound int = -32601

	// CodeInvalidParams indicates invalid method parameter(s)
	CodeInvalidParams int = -32602

	// CodeInternalError indicates internal JSON-RPC error
	CodeInternalError int = -32603
)

// Protocol error codes. Only CodeRequestTimeout travels on the wire; the
// remaining codes classify failures that are resolved locally.
const (
	CodeRequestTimeout int = -32001 // Request timed out

	CodeOperationCancelled int = -32300 // Caller cancelled the request

	CodeCapabilityRequired int = -32401 // Peer did not advertise a required capability

	CodeTransportError   int = -32500 // Generic transport error
	CodeConnectionClosed int = -32502 // Transport closed while requests were pending

	CodeValidationError int = -32750 // Local construction-time rejection

	CodeMalformedMessage  int = -32900 // Frame matched no message shape
	CodeVersionMismatch   int = -32901 // Protocol version negotiation failed
	CodeNotInitialized    int = -32902 // Request before the handshake completed
	CodeAlreadyConnected  int = -32903 // Session already owns a transport
	CodeInvalidTransition int = -32904 // Task status transition not allowed
)

// ErrorCodeInfo provides human-readable information about error codes
type ErrorCodeInfo struct {
	Code        int
	Name        string
	Description string
	Category    Category
	Severity    Severity
}

var errorCodeRegistry = map[int]ErrorCodeInfo{
	CodeParseError:     {CodeParseError, "ParseError", "Invalid JSON was received", CategoryProtocol, SeverityError},
	CodeInvalidRequest: {CodeInvalidRequest, "InvalidRequest", "Invalid Request object", CategoryProtocol, SeverityError},
	CodeMethodNotFound: {CodeMethodNotFound, "MethodNotFound", "Method does not exist", CategoryProtocol, SeverityError},
	CodeInvalidParams:  {CodeInvalidParams, "InvalidParams", "Invalid method parameters", CategoryValidation, SeverityError},
	CodeInternalError:  {CodeInternalError, "InternalError", "Internal JSON-RPC error", CategoryInternal, SeverityError},

	CodeRequestTimeout:     {CodeRequestTimeout, "RequestTimeout", "Request timed out", CategoryTimeout, SeverityError},
	CodeOperationCancelled: {CodeOperationCancelled, "OperationCancelled", "Operation cancelled", CategoryCancelled, SeverityInfo},
	CodeCapabilityRequired: {CodeCapabilityRequired, "CapabilityRequired", "Required capability not advertised", CategoryValidation, SeverityError},

	CodeTransportError:   {CodeTransportError, "TransportError", "Transport error", CategoryTransport, SeverityError},
	CodeConnectionClosed: {CodeConnectionClosed, "ConnectionClosed", "Connection closed", CategoryTransport, SeverityError},

	CodeValidationError: {CodeValidationError, "ValidationError", "Validation error", CategoryValidation, SeverityError},

	CodeMalformedMessage:  {CodeMalformedMessage, "MalformedMessage", "Message matches no known shape", CategoryProtocol, SeverityWarning},
	CodeVersionMismatch:   {CodeVersionMismatch, "VersionMismatch", "Protocol version mismatch", CategoryProtocol, SeverityError},
	CodeNotInitialized:    {CodeNotInitialized, "NotInitialized", "Session not initialized", CategoryState, SeverityError},
	CodeAlreadyConnected:  {CodeAlreadyConnected, "AlreadyConnected", "Session already connected", CategoryState, SeverityError},
	CodeInvalidTransition: {CodeInvalidTransition, "InvalidTransition", "Invalid status transition", CategoryState, SeverityWarning},
}

// GetErrorCodeInfo returns information about an error code
func GetErrorCodeInfo(code int) (ErrorCodeInfo, bool) {
	info, exists := errorCodeRegistry[code]
	return info, exists
}

// GetErrorCodeName returns the name of an error code
func GetErrorCodeName(code int) string {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Name
	}
	return "UnknownError"
}

// GetErrorCodeCategory returns the category of an error code
func GetErrorCodeCategory(code int) Category {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Category
	}
	return CategoryInternal
}

// IsStandardJSONRPCCode checks if a code is in the JSON-RPC reserved range
func IsStandardJSONRPCCode(code int) bool {
	return code >= -32768 && code <= -32000
}
