// Package client connects to a tengi server over TCP, WebSocket or HTTP
// polling and returns the established *connection.Connection.
//
// Connect tries the configured transports in priority order and settles on
// the first one whose handshake is accepted:
//
//	c, err := client.New(
//	    client.WithTransports(transport.WebSocket, transport.HTTPLongPolling),
//	    client.WithMessageListener(connection.MessageListenerFunc(onMessage)),
//	)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	conn, err := c.Connect(ctx, "chat.example.com").Get(ctx)
//	if err != nil {
//	    return err
//	}
//	conn.WriteObject(ctx, protocol.NewPacket("hello"))
//
// Streaming transports read inbound envelopes on a dedicated goroutine.
// The HTTP transports post every outbound message as its own request and
// poll for inbound ones; long polling keeps one request parked on the
// server at all times.
package client
