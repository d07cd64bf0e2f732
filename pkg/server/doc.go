// Package server provides the server side of tengi: transport front doors,
// the handshake state machine and the registry of established connections.
//
// # Architecture
//
// The server consists of several key components:
//
//   - Config: functional options with documented defaults and Validate
//   - processor: decodes envelopes and runs the handshake state machine
//   - ConnectionManager: tracks established connections and reaps idle polling ones
//   - Metrics: Prometheus collectors for connections, handshakes and frames
//   - Server: TCP, WebSocket and HTTP listeners with graceful shutdown
//
// # Session Lifecycle
//
// Every transport session starts logged out. Its first envelope must carry a
// *protocol.Handshake:
//
//  1. A fresh connection id is minted
//  2. The HandshakeHandler accepts (returns a response) or rejects (returns nil)
//  3. The connection is created with a streaming or polling capability
//  4. The handshake response is written back on the same session
//  5. The connection is established and OnConnect listeners run
//
// Later envelopes are logged in and carry the connection id. Streaming
// sessions (TCP, WebSocket) must keep using the connection they
// established. HTTP sessions are one request each; a PollingRequest or
// LongPollingRequest body is answered with the messages queued for the
// connection, anything else goes to its message listeners.
//
// # Example Usage
//
//	srv, err := server.New(
//	    server.WithPort(transport.TCP, 9000),
//	    server.WithConnectionListener(connection.ConnectionListenerFuncs{
//	        Connect: func(c *connection.Connection) {
//	            c.AddMessageListener(connection.MessageListenerFunc(
//	                func(c *connection.Connection, msg *protocol.Message) {
//	                    c.WriteObject(context.Background(), msg.Body)
//	                }))
//	        },
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(srv.Run(ctx))
//
// # Thread Safety
//
// Server and ConnectionManager are safe for concurrent use. Frames of one
// session are processed in arrival order on one goroutine; listeners of
// different sessions run concurrently.
package server
