// Package protocol defines the wire model of the engine: JSON-RPC 2.0 messages,
// the Codec that converts them to and from frames, and the protocol records
// carried in params and results.
//
// # Package Organization
//
//   - jsonrpc.go: RequestID, the Message union and its four variants
//   - codec.go: Codec, shape-based classification of decoded frames
//   - meta.go: the _meta bag and progress tokens
//   - methods.go, version.go: method names and protocol revisions
//   - initialize.go: handshake params and capability sets
//   - tasks.go: task snapshots, status transitions and task method params
//   - content.go, tools.go, completion.go, sampling.go, roots.go: domain records
//
// # Message Classification
//
// A decoded object is classified by the members it carries:
//
//   - id and method: Request
//   - method only: Notification
//   - id and result: Response
//   - id and error: ErrorResponse
//
// Anything else is rejected as a malformed message. Encoding always emits
// "jsonrpc": "2.0", omits absent optional members and keeps explicit nulls.
//
// Example request:
//
//	{
//	    "jsonrpc": "2.0",
//	    "id": 1,
//	    "method": "tools/list",
//	    "params": {"cursor": "c2"}
//	}
//
// # Validated Records
//
// Records with field constraints are built through a constructor that
// validates once and returns a ValidationError instead of coercing:
//
//	c, err := protocol.NewCompletion(values, nil, false)  // at most 100 values
//	p, err := protocol.NewModelPreferences().CostPriority(0.5).Build()
//	r, err := protocol.NewRoot("file:///home/user/project", "project")
//
// Content blocks are a closed union tagged by "type"; an unrecognised type
// decodes to UnknownContent and re-encodes unchanged.
package protocol
