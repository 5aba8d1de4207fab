//go:build govips && cgo

package pipeline

import (
	"errors"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

// libvips cannot be restarted once shut down.
var errVipsShutdown = errors.New("libvips already shut down")

var vipsRuntime struct {
	mu      sync.Mutex
	started bool
	stopped bool
}

func Startup() error {
	vipsRuntime.mu.Lock()
	defer vipsRuntime.mu.Unlock()

	switch {
	case vipsRuntime.stopped:
		return errVipsShutdown
	case vipsRuntime.started:
		return nil
	}

	vips.LoggingSettings(nil, vips.LogLevelWarning)
	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheFiles:    0,
		MaxCacheMem:      128 << 20,
		MaxCacheSize:     100,
	})
	vipsRuntime.started = true
	return nil
}

func Shutdown() {
	vipsRuntime.mu.Lock()
	defer vipsRuntime.mu.Unlock()

	if vipsRuntime.started && !vipsRuntime.stopped {
		vips.Shutdown()
		vipsRuntime.stopped = true
	}
}

func nativeAvailable() bool { return true }

func nativeFactory() Factory { return newGovipsBackend }
