// Package services discovers managed-side service implementations by
// interface name.
//
// Providers register under class names; a resolver scans the classes in
// its namespace for those implementing a declared service, instantiates
// them in class-name order and caches the result for the life of the
// process.
package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/chazu/jitbridge/trace"
)

var (
	ErrClassNotFound  = errors.New("class not found")
	ErrInstantiation  = errors.New("instantiation failure")
	ErrDuplicateClass = errors.New("duplicate provider class")
)

// Provider describes one implementation class of a service.
type Provider struct {
	Service string
	Class   string
	New     func() (any, error)
}

// InstantiationError reports a provider whose constructor failed.
type InstantiationError struct {
	Class string
	Err   error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("cannot instantiate %s: %v", e.Class, e.Err)
}

func (e *InstantiationError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrInstantiation) hold.
func (e *InstantiationError) Is(target error) bool { return target == ErrInstantiation }

// Descriptor is the resolved set of implementations of one service.
type Descriptor struct {
	Service string
	Classes []string
	Impls   []any
	// Err joins the InstantiationErrors of providers that failed.
	Err error
}

// Resolver finds and instantiates service implementations.
type Resolver struct {
	namespace string

	mu        sync.Mutex
	declared  map[string]bool
	providers map[string]Provider
	cache     map[string]*Descriptor
}

// NewResolver creates a resolver scanning classes whose names start with
// namespace followed by a dot.
func NewResolver(namespace string) *Resolver {
	return &Resolver{
		namespace: namespace,
		declared:  make(map[string]bool),
		providers: make(map[string]Provider),
		cache:     make(map[string]*Descriptor),
	}
}

// Namespace returns the scanned namespace.
func (r *Resolver) Namespace() string { return r.namespace }

// DeclareService makes a service interface resolvable.
func (r *Resolver) DeclareService(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.declared[name] = true
}

// Register adds a provider class.
func (r *Resolver) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[p.Class]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateClass, p.Class)
	}
	r.providers[p.Class] = p
	return nil
}

func (r *Resolver) inNamespace(class string) bool {
	return r.namespace == "" || strings.HasPrefix(class, r.namespace+".")
}

// GetServiceImpls returns one instance per implementation of service, in
// class-name order. Providers that fail to construct are logged and left
// out; their errors are joined into the returned error alongside the
// instances that did succeed. An undeclared service fails with
// ErrClassNotFound. The result is cached, so repeated calls return the same
// instances.
func (r *Resolver) GetServiceImpls(service string) ([]any, error) {
	d, err := r.Lookup(service)
	if err != nil {
		return nil, err
	}
	return append([]any(nil), d.Impls...), d.Err
}

// Lookup returns the cached descriptor for service, resolving it on first
// use.
func (r *Resolver) Lookup(service string) (*Descriptor, error) {
	r.mu.Lock()
	if !r.declared[service] {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, service)
	}
	if d, ok := r.cache[service]; ok {
		r.mu.Unlock()
		return d, nil
	}
	var candidates []Provider
	for _, p := range r.providers {
		if p.Service == service && r.inNamespace(p.Class) {
			candidates = append(candidates, p)
		}
	}
	r.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Class < candidates[j].Class })

	d := &Descriptor{Service: service}
	var failures []error
	for _, p := range candidates {
		impl, err := instantiate(p)
		if err != nil {
			trace.Logger().Warningf("service %s: %v", service, err)
			failures = append(failures, err)
			continue
		}
		d.Classes = append(d.Classes, p.Class)
		d.Impls = append(d.Impls, impl)
	}
	d.Err = errors.Join(failures...)

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another caller may have resolved concurrently; keep the first.
	if existing, ok := r.cache[service]; ok {
		return existing, nil
	}
	r.cache[service] = d
	return d, nil
}

// CreateService instantiates the provider registered as className.
func (r *Resolver) CreateService(className string) (any, error) {
	r.mu.Lock()
	p, ok := r.providers[className]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, className)
	}
	return instantiate(p)
}

// Services returns the declared service names, sorted.
func (r *Resolver) Services() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.declared))
	for name := range r.declared {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// instantiate runs a provider constructor, converting both errors and
// panics into an InstantiationError.
func instantiate(p Provider) (impl any, err error) {
	if p.New == nil {
		return nil, &InstantiationError{Class: p.Class, Err: errors.New("no constructor")}
	}
	defer func() {
		if rec := recover(); rec != nil {
			impl = nil
			err = &InstantiationError{Class: p.Class, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	impl, err = p.New()
	if err != nil {
		return nil, &InstantiationError{Class: p.Class, Err: err}
	}
	return impl, nil
}
