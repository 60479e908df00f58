package session

import (
	"context"

	"github.com/ajitpratap0/mcp-engine-go/pkg/protocol"
)

// Direction says which peer originated a message.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Observer is notified of session traffic. StartRequest is called when a
// request is sent or received; the returned function is called once with the
// outcome. Implementations must be safe for concurrent use.
type Observer interface {
	StartRequest(ctx context.Context, dir Direction, method protocol.Method) (context.Context, func(err error))
	ObserveNotification(ctx context.Context, dir Direction, method protocol.Method)
	ObserveDropped(reason string)
}

// Reasons passed to ObserveDropped.
const (
	DropMalformed         = "malformed"
	DropUnmatchedResponse = "unmatched_response"
	DropLateResponse      = "late_response"
)

type nopObserver struct{}

func (nopObserver) StartRequest(ctx context.Context, _ Direction, _ protocol.Method) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (nopObserver) ObserveNotification(context.Context, Direction, protocol.Method) {}

func (nopObserver) ObserveDropped(string) {}

// MultiObserver fans every event out to each observer in order.
func MultiObserver(observers ...Observer) Observer {
	return multiObserver(observers)
}

type multiObserver []Observer

func (m multiObserver) StartRequest(ctx context.Context, dir Direction, method protocol.Method) (context.Context, func(error)) {
	finishers := make([]func(error), 0, len(m))
	for _, o := range m {
		var finish func(error)
		ctx, finish = o.StartRequest(ctx, dir, method)
		finishers = append(finishers, finish)
	}
	return ctx, func(err error) {
		for i := len(finishers) - 1; i >= 0; i-- {
			finishers[i](err)
		}
	}
}

func (m multiObserver) ObserveNotification(ctx context.Context, dir Direction, method protocol.Method) {
	for _, o := range m {
		o.ObserveNotification(ctx, dir, method)
	}
}

func (m multiObserver) ObserveDropped(reason string) {
	for _, o := range m {
		o.ObserveDropped(reason)
	}
}
