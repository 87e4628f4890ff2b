package rpcservice

import "context"

// Middleware gates a start request before the method is invoked. Returning a
// non-nil error aborts the request.
type Middleware func(ctx context.Context, req *Request) error

// Request is the read-only view of a start request handed to middleware.
type Request struct {
	SessionID string
	ID        string
	Method    string
	// Args is a copy of the wire arguments; changes do not reach the method.
	Args []any
	// Conn is the value supplied when the connection was attached.
	Conn any
}

// Chain is an ordered sequence of middleware steps.
type Chain []Middleware

// Run executes the steps in order, each completing before the next starts.
// The first failure stops the chain and is returned as a
// *MiddlewareRejectedError.
func (c Chain) Run(ctx context.Context, req *Request) error {
	for i, step := range c {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step(ctx, req); err != nil {
			return &MiddlewareRejectedError{Step: i, Err: err}
		}
	}
	return nil
}
