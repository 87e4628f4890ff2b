// Package streamrpc exposes stream-producing operations to remote peers over
// message-oriented transports.
//
// A caller sends a start message naming a registered method. The server runs
// the method's middleware, validates the arguments, invokes the method and
// forwards every value the returned stream produces as a next message,
// followed by exactly one error or complete message. The caller may cancel a
// running stream at any time by sending complete for its id.
//
//	reg := rpcservice.NewRegistry()
//	_ = reg.RegisterService(rpcservice.NewService("Timer", []rpcservice.Method{{
//		Name:   "tick",
//		Params: []rpcservice.Param{rpcservice.Number()},
//		Handler: func(ctx context.Context, args []any) (stream.Stream, error) {
//			n := int(args[0].(float64))
//			return stream.Take(stream.Interval(time.Second), n), nil
//		},
//	}}))
//
//	srv := streamrpc.NewServer(reg)
//	srv.Attach(conn, nil)
//
// Subscriptions are tracked per attached connection. Request ids are scoped
// to their connection and may be reused once their stream has terminated.
// Closing a connection cancels every stream it started.
package streamrpc
