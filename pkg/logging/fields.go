package logging

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates a 64-bit integer field
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// ErrorField creates an error field
func ErrorField(err error) Field {
	return Field{Key: "error", Value: err}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Time creates a time field
func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value}
}

// Any creates a field with any value
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Method names the JSON-RPC method a record is about.
func Method(method string) Field {
	return String("method", method)
}

// RequestID records a JSON-RPC request id. Any fmt.Stringer works so that
// protocol ids keep their quoting.
func RequestID(id fmt.Stringer) Field {
	return String(requestIDField, id.String())
}

// TaskID records a task id.
func TaskID(id string) Field {
	return String("task_id", id)
}

// Component names the subsystem emitting the record.
func Component(name string) Field {
	return String("component", name)
}

// SessionID records a session identifier.
func SessionID(id string) Field {
	return String("session_id", id)
}

func (f Field) applyEvent(ev *zerolog.Event) *zerolog.Event {
	switch v := f.Value.(type) {
	case string:
		return ev.Str(f.Key, v)
	case int:
		return ev.Int(f.Key, v)
	case int64:
		return ev.Int64(f.Key, v)
	case bool:
		return ev.Bool(f.Key, v)
	case float64:
		return ev.Float64(f.Key, v)
	case error:
		return ev.AnErr(f.Key, v)
	case time.Duration:
		return ev.Dur(f.Key, v)
	case time.Time:
		return ev.Time(f.Key, v)
	case fmt.Stringer:
		return ev.Stringer(f.Key, v)
	default:
		return ev.Interface(f.Key, v)
	}
}

func (f Field) applyContext(c zerolog.Context) zerolog.Context {
	switch v := f.Value.(type) {
	case string:
		return c.Str(f.Key, v)
	case int:
		return c.Int(f.Key, v)
	case int64:
		return c.Int64(f.Key, v)
	case bool:
		return c.Bool(f.Key, v)
	case float64:
		return c.Float64(f.Key, v)
	case error:
		return c.AnErr(f.Key, v)
	case time.Duration:
		return c.Dur(f.Key, v)
	case time.Time:
		return c.Time(f.Key, v)
	case fmt.Stringer:
		return c.Stringer(f.Key, v)
	default:
		return c.Interface(f.Key, v)
	}
}
