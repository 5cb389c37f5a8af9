package vfx

import "errors"

// Errors shared by every stage of the engine. Stages wrap them with
// fmt.Errorf("...: %w") so callers can classify failures with errors.Is.
var (
	// ErrConfig is returned for an invalid configuration combination.
	// It is fatal at construction time; a session never starts with it.
	ErrConfig = errors.New("vfx: invalid configuration")

	// ErrDeviceUnavailable is returned when no suitable device exists or the
	// device lacks a required capability. It triggers the one fallback attempt.
	ErrDeviceUnavailable = errors.New("vfx: device unavailable")

	// ErrResourceCreation is returned when a texture, buffer, sampler, shader
	// or pipeline cannot be created.
	ErrResourceCreation = errors.New("vfx: resource creation failed")

	// ErrRender is returned for a recoverable per-frame render failure.
	ErrRender = errors.New("vfx: render failed")

	// ErrSinkWrite is returned when an output sink rejects a frame.
	ErrSinkWrite = errors.New("vfx: sink write failed")

	// ErrFrameReleased is returned when a frame is released twice.
	ErrFrameReleased = errors.New("vfx: frame already released")

	// ErrClosed is returned when an operation is attempted on a closed object.
	ErrClosed = errors.New("vfx: closed")
)

// ConfigError describes which configuration field is invalid.
// It matches ErrConfig with errors.Is.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return "vfx: invalid config." + e.Field + ": " + e.Reason
}

// Unwrap returns ErrConfig.
func (e *ConfigError) Unwrap() error { return ErrConfig }
