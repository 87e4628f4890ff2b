// Package sources provides stream producers backed by external event
// sources: filesystem notifications and Redis pub/sub channels.
//
// Every producer acquires its resource on Subscribe and releases it when the
// subscriber unsubscribes or the stream terminates.
package sources
