// Package gates provides ready-made rpcservice.Middleware steps: request
// logging, per-session rate limiting, CEL policies and bearer token checks.
//
// Gates are installed server-wide with streamrpc.WithMiddleware or per method
// through rpcservice.Method.Middleware:
//
//	allow, err := gates.Policy(`method.startsWith("Timer.") && size(args) <= 2`)
//	if err != nil { ... }
//	srv := streamrpc.NewServer(reg, streamrpc.WithMiddleware(
//	    gates.Log(logger),
//	    gates.RateLimit(rate.Every(100*time.Millisecond), 10),
//	    allow,
//	))
package gates
