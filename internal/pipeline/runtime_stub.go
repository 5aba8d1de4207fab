//go:build !govips || !cgo

package pipeline

// Without libvips the registry only offers the pure Go driver.

func Startup() error { return nil }

func Shutdown() {}

func nativeAvailable() bool { return false }

func nativeFactory() Factory { return nil }
