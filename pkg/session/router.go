package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/gobwas/glob"

	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
	"github.com/ajitpratap0/mcp-engine-go/pkg/protocol"
)

// NotificationListener handles one inbound notification. Returned errors are
// logged; they never reach the peer.
type NotificationListener func(ctx context.Context, n *protocol.Notification) error

type listenerEntry struct {
	id       uint64
	listener NotificationListener
}

type patternEntry struct {
	listenerEntry
	pattern string
	glob    glob.Glob
}

// Router fans notifications out to listeners. For each notification it calls
// the listeners registered for the exact method, then the pattern listeners
// whose pattern matches, then the catch-all listeners, each group in
// registration order.
type Router struct {
	mu       sync.RWMutex
	byMethod map[protocol.Method][]listenerEntry
	patterns []patternEntry
	any      []listenerEntry
	nextID   uint64
	logger   logging.Logger
}

// NewRouter creates an empty router.
func NewRouter(logger logging.Logger) *Router {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Router{
		byMethod: make(map[protocol.Method][]listenerEntry),
		logger:   logger.WithFields(logging.Component("Router")),
	}
}

// On registers listener for method and returns a function removing it.
func (r *Router) On(method protocol.Method, listener NotificationListener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.byMethod[method] = append(r.byMethod[method], listenerEntry{id: id, listener: listener})
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.byMethod[method] = removeEntry(r.byMethod[method], id)
		if len(r.byMethod[method]) == 0 {
			delete(r.byMethod, method)
		}
	}
}

// OnPattern registers listener for every method matching a glob pattern such
// as "notifications/*/list_changed". A "*" does not match across "/"; use
// "**" for that.
func (r *Router) OnPattern(pattern string, listener NotificationListener) (func(), error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid notification pattern %q: %w", pattern, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.patterns = append(r.patterns, patternEntry{
		listenerEntry: listenerEntry{id: id, listener: listener},
		pattern:       pattern,
		glob:          g,
	})
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, p := range r.patterns {
			if p.id == id {
				r.patterns = append(r.patterns[:i:i], r.patterns[i+1:]...)
				return
			}
		}
	}, nil
}

// OnAny registers a catch-all listener.
func (r *Router) OnAny(listener NotificationListener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.any = append(r.any, listenerEntry{id: id, listener: listener})
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.any = removeEntry(r.any, id)
	}
}

// Dispatch delivers n to every matching listener and returns how many were
// called. A failing or panicking listener does not stop the others.
func (r *Router) Dispatch(ctx context.Context, n *protocol.Notification) int {
	targets := r.match(n.Method)
	for _, l := range targets {
		r.invoke(ctx, n, l)
	}
	return len(targets)
}

func (r *Router) match(method protocol.Method) []NotificationListener {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var targets []NotificationListener
	for _, e := range r.byMethod[method] {
		targets = append(targets, e.listener)
	}
	for _, p := range r.patterns {
		if p.glob.Match(string(method)) {
			targets = append(targets, p.listener)
		}
	}
	for _, e := range r.any {
		targets = append(targets, e.listener)
	}
	return targets
}

func (r *Router) invoke(ctx context.Context, n *protocol.Notification, l NotificationListener) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("notification listener panicked",
				logging.Method(string(n.Method)),
				logging.Any("panic", rec))
		}
	}()
	if err := l(ctx, n); err != nil {
		r.logger.WithError(err).Warn("notification listener failed", logging.Method(string(n.Method)))
	}
}

func removeEntry(entries []listenerEntry, id uint64) []listenerEntry {
	for i, e := range entries {
		if e.id == id {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}
