// Package stream provides the push-stream abstraction that registered
// operations return.
//
// A Stream is lazy: nothing runs until Subscribe is called. Each subscription
// delivers zero or more values to its Observer and then exactly one terminal
// event (Error or Complete), unless it is cancelled first, in which case no
// further events are delivered at all.
//
// # Guarantees
//
//   - Observer callbacks for one subscription never run concurrently.
//   - At most one terminal callback is delivered.
//   - No callback is delivered after the terminal one, or after Unsubscribe
//     returns.
//   - Cancelling the context passed to Subscribe is equivalent to calling
//     Unsubscribe.
//
// Unsubscribe must not be called from inside one of the same subscription's
// observer callbacks; operators in this package stop upstream subscriptions
// by cancelling their context instead.
//
// # Producing values
//
// Create is the general constructor:
//
//	ticks := stream.Create(func(ctx context.Context, e stream.Emitter) error {
//	    for i := 0; i < 3; i++ {
//	        if err := e.Next(i); err != nil {
//	            return err // cancelled
//	        }
//	    }
//	    return nil // Complete
//	})
//
// Of, FromChannel, Timer and Interval cover the common cases; Take, Map and
// Finalize compose existing streams.
package stream
