// Package stdio serves a single streamrpc connection over newline-delimited
// JSON on stdin/stdout. It is intended for running a server as a subprocess
// and for local development.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 peer
//	Identity         : OS user (lightweight implicit principal)
//	Framing          : one JSON protocol message per line
//	Disconnect       : EOF on the reader or cancellation of Serve's context
//
// Example:
//
//	srv := streamrpc.NewServer(reg)
//	h := stdio.NewHandler(srv)
//	if err := h.Serve(ctx); err != nil { log.Fatal(err) }
package stdio
