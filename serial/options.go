package serial

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ardnew/usbserial/pkg"
)

// Option configures a Coordinator.
type Option func(*Coordinator) error

// WithCore sets the serial core that handle callbacks dispatch to. The core
// is also the registry unless WithRegistry is given.
func WithCore(core *Core) Option {
	return func(c *Coordinator) error {
		if core == nil {
			return pkg.ErrInvalidParameter
		}
		c.core = core
		return nil
	}
}

// WithRegistry sets the registry sub-drivers are registered with.
func WithRegistry(r Registry) Option {
	return func(c *Coordinator) error {
		if r == nil {
			return pkg.ErrInvalidParameter
		}
		c.registry = r
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider. The global
// provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) error {
		if tp == nil {
			return pkg.ErrInvalidParameter
		}
		c.tracerProvider = tp
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider. The global
// provider is used by default.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Coordinator) error {
		if mp == nil {
			return pkg.ErrInvalidParameter
		}
		c.meterProvider = mp
		return nil
	}
}
