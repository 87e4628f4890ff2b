package rpcservice

import (
	"errors"
	"fmt"
)

// ErrRegistryFrozen is returned when registering after the registry has been
// attached to a server.
var ErrRegistryFrozen = errors.New("rpcservice: registry is frozen")

// DuplicateRegistrationError indicates a method name is already registered.
type DuplicateRegistrationError struct {
	Name string
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("method already registered: %s", e.Name)
}

// RegistrationError indicates a malformed method or service definition.
type RegistrationError struct {
	Name   string
	Reason string
}

func (e *RegistrationError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("invalid method registration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid method registration %s: %s", e.Name, e.Reason)
}

// ArgumentCountMismatchError is reported when a start request carries a
// different number of arguments than the method declares.
type ArgumentCountMismatchError struct {
	Expected int
	Got      int
}

func (e *ArgumentCountMismatchError) Error() string {
	return fmt.Sprintf("invalid argument count: expected %d got %d", e.Expected, e.Got)
}

// ArgumentTypeMismatchError is reported when an argument does not satisfy its
// declared parameter.
type ArgumentTypeMismatchError struct {
	Index    int
	Expected string
	Actual   string
}

func (e *ArgumentTypeMismatchError) Error() string {
	return fmt.Sprintf("argument %d has an invalid type expected %s got %s", e.Index, e.Expected, e.Actual)
}

// MiddlewareRejectedError wraps the failure of a middleware step. Step is the
// zero-based position of the rejecting step in the chain that ran.
type MiddlewareRejectedError struct {
	Step int
	Err  error
}

func (e *MiddlewareRejectedError) Error() string {
	return fmt.Sprintf("middleware rejected request: %v", e.Err)
}

func (e *MiddlewareRejectedError) Unwrap() error { return e.Err }
