// Package redisbus carries streamrpc connections over Redis pub/sub so that
// callers and servers only need to share a Redis deployment.
//
// Channels
//
//	<prefix>connect      connection announcements; payload is the connection id
//	<prefix><id>:in      caller -> server frames
//	<prefix><id>:out     server -> caller frames
//
// Every frame is a JSON envelope {"kind": "msg"|"ready"|"close", "msg": {...}}.
// A caller subscribes to its :out channel, announces its id and waits for
// the server's ready frame before sending. Either side publishes close when
// it goes away.
//
// Redis pub/sub is fire-and-forget: frames published while nobody is
// subscribed are lost, which is why Dial waits for ready.
//
// Example:
//
//	cfg, _ := redisbus.ConfigFromEnv()
//	rdb, _ := redisbus.NewClient(ctx, cfg)
//	go redisbus.NewListener(rdb, cfg).Serve(ctx, srv)
//
//	conn, _ := redisbus.Dial(ctx, rdb, cfg)
//	c := client.New(conn)
package redisbus
