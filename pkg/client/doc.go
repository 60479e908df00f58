// Package client implements the client role of the protocol engine.
//
// A Client owns one session. It sends the handshake, then checks every call
// against the capabilities the server advertised: a method the server did
// not offer fails locally with a CapabilityRequired error instead of a round
// trip.
//
//	c := client.New(client.WithClientInfo("example", "1.0.0"))
//	if err := c.Connect(ctx, transport.NewStdioTransport(stdout, stdin)); err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	if _, err := c.Initialize(ctx); err != nil {
//	    return err
//	}
//	tools, err := c.ListAllTools(ctx)
//
// # Tasks
//
// CallToolAsTask returns as soon as the server has created the task. The
// task is tracked by Tasks(), which merges poll answers and status
// notifications so a snapshot never moves backwards. TaskResult blocks until
// the task ends and returns the tool result it produced.
//
// # Requests from the server
//
// WithRoots and WithSamplingHandler advertise the matching client
// capabilities and answer roots/list and sampling/createMessage.
package client
