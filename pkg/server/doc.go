// Package server implements the server role of the protocol engine.
//
// A Server holds the tool registry and the settings shared by every
// connection. Serve runs one connection over any transport: it creates a
// session that answers the handshake, a task store private to that
// connection and the handlers for the server-side methods.
//
//   - tools/list pages through tools in registration order
//   - tools/call validates arguments against the tool's JSON schema and
//     either answers directly or, with task metadata, starts a task
//   - tasks/get, tasks/list, tasks/cancel and tasks/result serve the tasks
//     the connection created
//   - completion/complete delegates to a CompletionProvider
//   - logging/setLevel sets the threshold used by Conn.Log
//
// # Creating a Server
//
//	srv := server.New(
//	    server.WithName("example"),
//	    server.WithVersion("1.0.0"),
//	)
//
//	type greetArgs struct {
//	    Name string `json:"name"`
//	}
//	err := server.AddToolFunc(srv, protocol.Tool{Name: "greet"},
//	    func(ctx context.Context, args greetArgs) (*protocol.CallToolResult, error) {
//	        return server.TextResult("Hello, " + args.Name), nil
//	    })
//
//	t := transport.NewStdioTransport(os.Stdin, os.Stdout)
//	if err := srv.Serve(ctx, t); err != nil {
//	    log.Fatal(err)
//	}
//
// WebSocketHandler and SSEServer serve one connection per HTTP client.
//
// # Tool failures
//
// A handler that returns an MCP error fails the request with that error.
// Any other error is a tool-level failure: the client gets a result with
// isError set, and a task running the call ends as failed with that result
// as its payload.
package server
