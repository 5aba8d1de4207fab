package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const DriverVips = "vips"

var ErrUnknownDriver = errors.New("unknown image driver")

// Factory builds a backend. It runs once per Registry.Backend call.
type Factory func() (Backend, error)

// Capabilities describes the drivers compiled into this binary. It is built
// once by DetectCapabilities and never changes afterwards.
type Capabilities struct {
	drivers []string
	formats map[string][]string
}

// DetectCapabilities reports the drivers available in this build, best first.
func DetectCapabilities() Capabilities {
	caps := Capabilities{formats: make(map[string][]string)}
	if nativeAvailable() {
		caps.drivers = append(caps.drivers, DriverVips)
		caps.formats[DriverVips] = []string{"jpeg", "png", "webp", "gif", "tiff", "bmp"}
	}
	caps.drivers = append(caps.drivers, DriverImaging)
	caps.formats[DriverImaging] = []string{"jpeg", "png", "gif", "tiff", "bmp"}
	return caps
}

func (c Capabilities) Drivers() []string {
	return slices.Clone(c.drivers)
}

func (c Capabilities) Has(driver string) bool {
	return slices.Contains(c.drivers, driver)
}

// OutputFormats lists the formats a driver can encode.
func (c Capabilities) OutputFormats(driver string) []string {
	return slices.Clone(c.formats[driver])
}

// Registry maps driver names onto backend factories.
type Registry struct {
	caps      Capabilities
	factories map[string]Factory
}

func NewRegistry(caps Capabilities) *Registry {
	r := &Registry{
		caps:      caps,
		factories: make(map[string]Factory, len(caps.drivers)),
	}
	for _, name := range caps.drivers {
		switch name {
		case DriverImaging:
			r.factories[name] = newImagingBackend
		case DriverVips:
			r.factories[name] = nativeFactory()
		}
	}
	return r
}

func (r *Registry) Capabilities() Capabilities {
	return r.caps
}

// Backend builds the named driver. An empty name picks the best available.
func (r *Registry) Backend(name string) (Backend, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		if len(r.caps.drivers) == 0 {
			return nil, fmt.Errorf("%w: none available", ErrUnknownDriver)
		}
		name = r.caps.drivers[0]
	}
	factory, ok := r.factories[name]
	if !ok || factory == nil {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownDriver, name, strings.Join(r.caps.drivers, ", "))
	}
	backend, err := factory()
	if err != nil {
		return nil, fmt.Errorf("start %s driver: %w", name, err)
	}
	return backend, nil
}
