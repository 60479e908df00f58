// Package session implements one end of an MCP connection on top of a
// transport.Transport.
//
// A Session owns the receive loop. Responses are matched to the pending
// request with the same id, requests run concurrently in their own
// goroutine, and notifications are delivered in arrival order through a
// Router. Both peers use the same type; the initiator calls Initialize and
// the receiver installs an InitializeHandler.
//
//	s := session.New(session.WithLogger(logger))
//	if err := s.Connect(ctx, t); err != nil {
//		return err
//	}
//	defer s.Close()
//	res, err := s.Initialize(ctx, protocol.InitializeParams{ClientInfo: info})
//
// Outbound requests finish exactly once: with the peer's answer, a timeout,
// cancellation or the end of the session. A timed out or cancelled request
// is announced to the peer with notifications/cancelled and its late answer
// is dropped.
package session
