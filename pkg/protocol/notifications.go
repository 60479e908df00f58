package protocol

import "encoding/json"

// CancelledParams asks the peer to abandon an in-flight request.
type CancelledParams struct {
	Meta      Meta      `json:"_meta,omitempty"`
	RequestID RequestID `json:"requestId"`
	Reason    string    `json:"reason,omitempty"`
}

// ProgressParams reports progress of the request that issued Token.
type ProgressParams struct {
	Meta          Meta          `json:"_meta,omitempty"`
	ProgressToken ProgressToken `json:"progressToken"`
	Progress      float64       `json:"progress"`
	Total         *float64      `json:"total,omitempty"`
	Message       string        `json:"message,omitempty"`
}

// LoggingLevel is a syslog severity used by logging notifications.
type LoggingLevel string

const (
	LoggingLevelDebug     LoggingLevel = "debug"
	LoggingLevelInfo      LoggingLevel = "info"
	LoggingLevelNotice    LoggingLevel = "notice"
	LoggingLevelWarning   LoggingLevel = "warning"
	LoggingLevelError     LoggingLevel = "error"
	LoggingLevelCritical  LoggingLevel = "critical"
	LoggingLevelAlert     LoggingLevel = "alert"
	LoggingLevelEmergency LoggingLevel = "emergency"
)

var loggingSeverity = map[LoggingLevel]int{
	LoggingLevelDebug: 0, LoggingLevelInfo: 1, LoggingLevelNotice: 2, LoggingLevelWarning: 3,
	LoggingLevelError: 4, LoggingLevelCritical: 5, LoggingLevelAlert: 6, LoggingLevelEmergency: 7,
}

// Enabled reports whether a message at level passes a threshold of l.
func (l LoggingLevel) Enabled(level LoggingLevel) bool {
	threshold, ok := loggingSeverity[l]
	if !ok {
		return true
	}
	return loggingSeverity[level] >= threshold
}

// LoggingMessageParams carries one log record to the peer.
type LoggingMessageParams struct {
	Meta   Meta            `json:"_meta,omitempty"`
	Level  LoggingLevel    `json:"level"`
	Logger string          `json:"logger,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// SetLevelParams sets the minimum level of logging notifications.
type SetLevelParams struct {
	Meta  Meta         `json:"_meta,omitempty"`
	Level LoggingLevel `json:"level"`
}

// PaginatedParams is embedded by list requests.
type PaginatedParams struct {
	Meta   Meta   `json:"_meta,omitempty"`
	Cursor string `json:"cursor,omitempty"`
}

// PaginatedResult is embedded by list results. An empty NextCursor marks the
// final page.
type PaginatedResult struct {
	Meta       Meta   `json:"_meta,omitempty"`
	NextCursor string `json:"nextCursor,omitempty"`
}
