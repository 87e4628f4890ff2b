// Package streaminghttp serves streamrpc connections over HTTP using
// Server-Sent Events for outbound messages and plain POST requests for
// inbound ones. It mounts as a standard net/http handler.
//
// Protocol
//
//	GET    (Accept: text/event-stream)
//	       Opens a connection. The response carries the connection id in the
//	       Stream-Connection-Id header and then streams one SSE frame per
//	       outbound message, with a monotonically increasing "id:" field.
//	       Dropping the response disconnects the session.
//	POST   (Content-Type: application/json, Stream-Connection-Id)
//	       Delivers one inbound protocol message. Replies 202 Accepted.
//	DELETE (Stream-Connection-Id)
//	       Closes the connection and cancels its streams.
//
// Dial returns the client side of the same protocol as a transport.Transport.
//
// Construction
//
//	srv := streamrpc.NewServer(reg)
//	h := streaminghttp.New(srv, streaminghttp.WithLogger(logger))
//	http.Handle("/streams", h)
package streaminghttp
