// Package component resolves type references to handler, sink, sensor and
// communicator instances.
//
// A type reference has the form "<namespace>.<TypeName>", for example
// "orchd.sinks.FileSink". Packages contribute their types with a Register
// function:
//
//	func Register(registry *component.Registry) error {
//	    return registry.RegisterWithConfig(component.RegistrationConfig{
//	        TypeRef:     "orchd.sinks.FileSink",
//	        Kind:        component.KindSink,
//	        Factory:     func() any { return &Sink{} },
//	        Description: "Writes handler output to a local file",
//	        Version:     "1.0.0",
//	    })
//	}
//
// Resolution failures are *errors.ResolutionError values whose Reason tells
// a malformed reference, an unknown namespace, an unknown type and a kind
// mismatch apart:
//
//	v, err := registry.ResolveKind(tmpl.SinkClass, component.KindSink)
//	var re *errors.ResolutionError
//	if stderrors.As(err, &re) && re.Reason == errors.TypeNotFound {
//	    ...
//	}
//
// Factories take no arguments and must not do I/O. Instances that need
// configuration implement a Configure method defined by the consuming
// package (sink.Configurable, sensor.ConfigurableProbe, ...) and receive a
// Dependencies value with the shared bus, NATS client, metrics registry and
// logger.
package component
