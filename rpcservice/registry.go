// Package rpcservice holds the registry of stream-producing methods a
// streamrpc server exposes, together with their parameter constraints and
// middleware.
package rpcservice

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/ggoodman/streamrpc-go/stream"
)

// Handler starts a method. A returned error is an invocation failure and is
// reported to the caller without creating a subscription.
type Handler func(ctx context.Context, args []any) (stream.Stream, error)

// Method describes one registered operation.
type Method struct {
	// Name is the qualified name callers use, e.g. "Timer.tick".
	Name    string
	Handler Handler
	// InjectContext prepends the connection value to the arguments passed to
	// Handler.
	InjectContext bool
	Middleware    []Middleware
	// Params declares one constraint per wire argument.
	Params      []Param
	Description string
}

// CheckArgs validates args against the declared parameters.
func (m *Method) CheckArgs(args []any) error {
	if len(args) != len(m.Params) {
		return &ArgumentCountMismatchError{Expected: len(m.Params), Got: len(args)}
	}
	for i, p := range m.Params {
		if !p.Match(args[i]) {
			return &ArgumentTypeMismatchError{Index: i, Expected: p.Kind(), Actual: KindOf(args[i])}
		}
	}
	return nil
}

func (m *Method) validate() error {
	if m.Name == "" {
		return &RegistrationError{Reason: "name is empty"}
	}
	if m.Handler == nil {
		return &RegistrationError{Name: m.Name, Reason: "handler is nil"}
	}
	for i, mw := range m.Middleware {
		if mw == nil {
			return &RegistrationError{Name: m.Name, Reason: fmt.Sprintf("middleware %d is nil", i)}
		}
	}
	for i, p := range m.Params {
		if p == nil {
			return &RegistrationError{Name: m.Name, Reason: fmt.Sprintf("param %d is nil", i)}
		}
	}
	return nil
}

func (m Method) clone() *Method {
	m.Middleware = slices.Clone(m.Middleware)
	m.Params = slices.Clone(m.Params)
	return &m
}

// ParamInfo describes a declared parameter.
type ParamInfo struct {
	Kind   string             `json:"kind"`
	Schema *jsonschema.Schema `json:"schema,omitempty"`
}

// MethodInfo describes a registered method for listings.
type MethodInfo struct {
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	InjectContext bool        `json:"injectContext"`
	Middleware    int         `json:"middleware"`
	Params        []ParamInfo `json:"params"`
}

// Registry maps qualified method names to their definitions. It accepts
// registrations until it is frozen and is read-only afterwards.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]*Method
	frozen  bool
}

func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]*Method)}
}

// Register adds m. Names are never overridden: registering an existing name
// fails with *DuplicateRegistrationError.
func (r *Registry) Register(m Method) error {
	return r.RegisterBatch(m)
}

// RegisterBatch adds every method or none of them.
func (r *Registry) RegisterBatch(ms ...Method) error {
	seen := make(map[string]struct{}, len(ms))
	for i := range ms {
		if err := ms[i].validate(); err != nil {
			return err
		}
		if _, dup := seen[ms[i].Name]; dup {
			return &DuplicateRegistrationError{Name: ms[i].Name}
		}
		seen[ms[i].Name] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	for _, m := range ms {
		if _, dup := r.methods[m.Name]; dup {
			return &DuplicateRegistrationError{Name: m.Name}
		}
	}
	for _, m := range ms {
		r.methods[m.Name] = m.clone()
	}
	return nil
}

// Lookup returns the method registered under name. The returned value must
// not be modified.
func (r *Registry) Lookup(name string) (*Method, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[name]
	return m, ok
}

// Freeze rejects any further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Len returns the number of registered methods.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.methods)
}

// Methods lists the registered methods sorted by name.
func (r *Registry) Methods() []MethodInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]MethodInfo, 0, len(r.methods))
	for _, m := range r.methods {
		info := MethodInfo{
			Name:          m.Name,
			Description:   m.Description,
			InjectContext: m.InjectContext,
			Middleware:    len(m.Middleware),
			Params:        make([]ParamInfo, 0, len(m.Params)),
		}
		for _, p := range m.Params {
			info.Params = append(info.Params, ParamInfo{Kind: p.Kind(), Schema: p.Schema()})
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Signature renders info as "Name(kind, kind)".
func (info MethodInfo) Signature() string {
	s := info.Name + "("
	for i, p := range info.Params {
		if i > 0 {
			s += ", "
		}
		s += p.Kind
	}
	return s + ")"
}
