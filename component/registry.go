package component

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/c360/orchd/errors"
)

// Kind is the capability a registered type provides.
type Kind string

// Registered kinds.
const (
	KindHandler      Kind = "handler"
	KindSink         Kind = "sink"
	KindSensor       Kind = "sensor"
	KindCommunicator Kind = "communicator"
)

func (k Kind) valid() bool {
	switch k {
	case KindHandler, KindSink, KindSensor, KindCommunicator:
		return true
	}
	return false
}

// Factory creates a fresh, unconfigured instance. Factories do no I/O;
// instances acquire resources in Configure or on first use.
type Factory func() any

// Info holds metadata about a registered type.
type Info struct {
	TypeRef     string `json:"type_ref"`
	Kind        Kind   `json:"kind"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// Registration holds the factory and metadata of a type.
type Registration struct {
	TypeRef     string
	Kind        Kind
	Description string
	Version     string
	Factory     Factory
	// Template is an example template for the type, printed by the CLI.
	Template any
}

// RegistrationConfig is the argument of RegisterWithConfig.
type RegistrationConfig struct {
	TypeRef     string  // Fully qualified reference, e.g. "orchd.sinks.FileSink"
	Kind        Kind    // Capability provided by the type
	Factory     Factory // Creates fresh instances
	Description string  // Human-readable description
	Version     string  // Type version
	Template    any     // Optional example template
}

// Registry resolves type references of the form "<namespace>.<TypeName>"
// to fresh instances. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	factories  map[string]*Registration
	namespaces map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories:  make(map[string]*Registration),
		namespaces: make(map[string]int),
	}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the process-wide registry used when no explicit
// registry is supplied.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// SplitTypeRef splits a reference into namespace and type name.
func SplitTypeRef(typeRef string) (namespace, name string, ok bool) {
	idx := strings.LastIndex(typeRef, ".")
	if idx <= 0 || idx == len(typeRef)-1 {
		return "", "", false
	}
	namespace, name = typeRef[:idx], typeRef[idx+1:]
	if strings.ContainsAny(typeRef, " \t\n") || strings.Contains(namespace, "..") {
		return "", "", false
	}
	return namespace, name, true
}

// RegisterWithConfig registers a type. Duplicate references are rejected.
//
// Example:
//
//	registry.RegisterWithConfig(component.RegistrationConfig{
//	    TypeRef:     "orchd.sinks.FileSink",
//	    Kind:        component.KindSink,
//	    Factory:     func() any { return &FileSink{} },
//	    Description: "Writes handler output to a file",
//	    Version:     "1.0.0",
//	})
func (r *Registry) RegisterWithConfig(config RegistrationConfig) error {
	namespace, _, ok := SplitTypeRef(config.TypeRef)
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: type reference %q", errors.ErrInvalidConfig, config.TypeRef),
			"Registry", "RegisterWithConfig", "type reference validation")
	}
	if !config.Kind.valid() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: kind %q", errors.ErrInvalidConfig, config.Kind),
			"Registry", "RegisterWithConfig", "kind validation")
	}
	if config.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterWithConfig", "factory function validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[config.TypeRef]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrDuplicate, config.TypeRef),
			"Registry", "RegisterWithConfig", "duplicate type check")
	}

	r.factories[config.TypeRef] = &Registration{
		TypeRef:     config.TypeRef,
		Kind:        config.Kind,
		Description: config.Description,
		Version:     config.Version,
		Factory:     config.Factory,
		Template:    config.Template,
	}
	r.namespaces[namespace]++
	return nil
}

// Unregister removes a type. It reports whether the type was registered.
func (r *Registry) Unregister(typeRef string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[typeRef]; !exists {
		return false
	}
	delete(r.factories, typeRef)
	namespace, _, _ := SplitTypeRef(typeRef)
	if r.namespaces[namespace]--; r.namespaces[namespace] <= 0 {
		delete(r.namespaces, namespace)
	}
	return true
}

func (r *Registry) lookup(typeRef string) (*Registration, error) {
	namespace, _, ok := SplitTypeRef(typeRef)
	if !ok {
		return nil, &errors.ResolutionError{TypeRef: typeRef, Reason: errors.MalformedReference}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.namespaces[namespace] == 0 {
		return nil, &errors.ResolutionError{TypeRef: typeRef, Namespace: namespace, Reason: errors.NamespaceNotFound}
	}
	reg, exists := r.factories[typeRef]
	if !exists {
		return nil, &errors.ResolutionError{TypeRef: typeRef, Namespace: namespace, Reason: errors.TypeNotFound}
	}
	return reg, nil
}

// Resolve returns a fresh instance of the referenced type. Failures are
// *errors.ResolutionError values.
func (r *Registry) Resolve(typeRef string) (any, error) {
	reg, err := r.lookup(typeRef)
	if err != nil {
		return nil, err
	}
	return newInstance(reg)
}

// ResolveKind is Resolve restricted to one kind. A registration of another
// kind fails with reason KindMismatch.
func (r *Registry) ResolveKind(typeRef string, kind Kind) (any, error) {
	reg, err := r.lookup(typeRef)
	if err != nil {
		if re, ok := err.(*errors.ResolutionError); ok {
			re.Kind = string(kind)
		}
		return nil, err
	}
	if reg.Kind != kind {
		namespace, _, _ := SplitTypeRef(typeRef)
		return nil, &errors.ResolutionError{
			TypeRef:   typeRef,
			Namespace: namespace,
			Kind:      string(kind),
			Reason:    errors.KindMismatch,
		}
	}
	return newInstance(reg)
}

// Check reports whether typeRef resolves to a registration of kind without
// creating an instance. Failures are *errors.ResolutionError values.
func (r *Registry) Check(typeRef string, kind Kind) error {
	reg, err := r.lookup(typeRef)
	if err != nil {
		if re, ok := err.(*errors.ResolutionError); ok {
			re.Kind = string(kind)
		}
		return err
	}
	if reg.Kind != kind {
		namespace, _, _ := SplitTypeRef(typeRef)
		return &errors.ResolutionError{TypeRef: typeRef, Namespace: namespace, Kind: string(kind), Reason: errors.KindMismatch}
	}
	return nil
}

func newInstance(reg *Registration) (any, error) {
	instance := reg.Factory()
	if instance == nil {
		namespace, _, _ := SplitTypeRef(reg.TypeRef)
		return nil, &errors.ResolutionError{
			TypeRef:   reg.TypeRef,
			Namespace: namespace,
			Kind:      string(reg.Kind),
			Reason:    errors.NilInstance,
		}
	}
	return instance, nil
}

// Lookup returns the metadata of a registered type.
func (r *Registry) Lookup(typeRef string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.factories[typeRef]
	if !ok {
		return Info{}, false
	}
	return reg.info(), true
}

// Template returns the example template registered for a type.
func (r *Registry) Template(typeRef string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.factories[typeRef]
	if !ok || reg.Template == nil {
		return nil, false
	}
	return reg.Template, true
}

// List returns every registered type sorted by reference.
func (r *Registry) List() []Info {
	r.mu.RLock()
	result := make([]Info, 0, len(r.factories))
	for _, reg := range r.factories {
		result = append(result, reg.info())
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].TypeRef < result[j].TypeRef })
	return result
}

// ListKind returns the registered types of one kind.
func (r *Registry) ListKind(kind Kind) []Info {
	var result []Info
	for _, info := range r.List() {
		if info.Kind == kind {
			result = append(result, info)
		}
	}
	return result
}

func (reg *Registration) info() Info {
	return Info{
		TypeRef:     reg.TypeRef,
		Kind:        reg.Kind,
		Description: reg.Description,
		Version:     reg.Version,
	}
}
