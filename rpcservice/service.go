package rpcservice

import "fmt"

// Service groups methods under a common name. Method names are qualified as
// "<Service>.<method>" when the service is registered.
type Service struct {
	name       string
	methods    []Method
	middleware []Middleware
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceMiddleware prepends steps to every method of the service.
func WithServiceMiddleware(mw ...Middleware) ServiceOption {
	return func(s *Service) { s.middleware = append(s.middleware, mw...) }
}

// NewService builds a service from methods whose Name is the unqualified
// method name.
func NewService(name string, methods []Method, opts ...ServiceOption) *Service {
	s := &Service{name: name, methods: methods}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Name() string { return s.name }

// Methods returns the qualified method definitions.
func (s *Service) Methods() ([]Method, error) {
	if s.name == "" {
		return nil, &RegistrationError{Reason: "service name is empty"}
	}
	if len(s.methods) == 0 {
		return nil, &RegistrationError{Name: s.name, Reason: "service has no methods"}
	}
	out := make([]Method, 0, len(s.methods))
	for _, m := range s.methods {
		if m.Name == "" {
			return nil, &RegistrationError{Name: s.name, Reason: "method name is empty"}
		}
		m.Name = fmt.Sprintf("%s.%s", s.name, m.Name)
		if len(s.middleware) > 0 {
			m.Middleware = append(append([]Middleware(nil), s.middleware...), m.Middleware...)
		}
		out = append(out, m)
	}
	return out, nil
}

// RegisterService registers every method of svc atomically.
func (r *Registry) RegisterService(svc *Service) error {
	ms, err := svc.Methods()
	if err != nil {
		return err
	}
	return r.RegisterBatch(ms...)
}

// RegisterServices registers several services atomically.
func (r *Registry) RegisterServices(svcs ...*Service) error {
	var all []Method
	for _, svc := range svcs {
		ms, err := svc.Methods()
		if err != nil {
			return err
		}
		all = append(all, ms...)
	}
	return r.RegisterBatch(all...)
}
