package vfx

import (
	"fmt"
	"strings"
	"time"
)

// RendererKind selects the backend variant a session starts with.
type RendererKind uint8

const (
	// RendererCompute blurs with compute kernels.
	RendererCompute RendererKind = iota
	// RendererGraphics blurs in the fragment stage of a full-screen quad.
	RendererGraphics
	// RendererPassthrough forwards frames unchanged and needs no device.
	RendererPassthrough
)

var rendererNames = [...]string{
	RendererCompute:     "compute",
	RendererGraphics:    "graphics",
	RendererPassthrough: "passthrough",
}

// rendererAliases maps the renderer names accepted in configuration files.
var rendererAliases = map[string]RendererKind{
	"compute":        RendererCompute,
	"webgpu-compute": RendererCompute,
	"graphics":       RendererGraphics,
	"webgpu":         RendererGraphics,
	"webgl2":         RendererGraphics,
	"passthrough":    RendererPassthrough,
	"none":           RendererPassthrough,
}

func (k RendererKind) String() string {
	if int(k) < len(rendererNames) {
		return rendererNames[k]
	}
	return fmt.Sprintf("RendererKind(%d)", uint8(k))
}

// Valid reports whether k names a known variant.
func (k RendererKind) Valid() bool { return int(k) < len(rendererNames) }

// ParseRenderer parses a renderer name, accepting the legacy aliases.
func ParseRenderer(s string) (RendererKind, error) {
	k, ok := rendererAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, &ConfigError{Field: "Renderer", Reason: fmt.Sprintf("unknown renderer %q", s)}
	}
	return k, nil
}

// MarshalText implements encoding.TextMarshaler.
func (k RendererKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, &ConfigError{Field: "Renderer", Reason: k.String()}
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *RendererKind) UnmarshalText(text []byte) error {
	v, err := ParseRenderer(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Workgroup is a 2D compute workgroup size.
type Workgroup struct {
	X int `toml:"x"`
	Y int `toml:"y"`
}

func (w Workgroup) String() string { return fmt.Sprintf("(%d,%d)", w.X, w.Y) }

// Config is the render configuration of a session.
// A backend copies it on construction; later changes have no effect on it.
type Config struct {
	Renderer  RendererKind `toml:"renderer"`
	Workgroup Workgroup    `toml:"workgroup"`

	// ZeroCopy samples incoming frames directly instead of uploading them
	// into a cached source texture.
	ZeroCopy bool `toml:"zero_copy"`

	// DirectOutput writes results into the presentation surface in the
	// device's preferred format instead of an intermediate texture.
	DirectOutput bool `toml:"direct_output"`

	BilinearFiltering bool `toml:"bilinear_filtering"`

	Blur       bool    `toml:"blur"`
	BlurRadius int     `toml:"blur_radius"`
	BlurAmount float32 `toml:"blur_amount"`

	// TargetFPS bounds the rate of frames accepted by the pump.
	TargetFPS float64 `toml:"target_fps"`

	// DisplayOnly makes the graphics variant present to its surface
	// without emitting frames.
	DisplayOnly bool `toml:"display_only"`
}

// Defaults.
const (
	DefaultBlurRadius = 4
	DefaultBlurAmount = 6.0
	DefaultTargetFPS  = 20

	// MaxBlurRadius bounds the graphics blur loop (a (2r+1)^2 tap window).
	MaxBlurRadius = 16

	// MaxWorkgroupInvocations is the WebGPU default limit.
	MaxWorkgroupInvocations = 256
)

// DefaultConfig returns the configuration used when nothing is specified:
// compute renderer, 8x8 workgroups, zero-copy input and direct output.
func DefaultConfig() Config {
	return Config{
		Renderer:     RendererCompute,
		Workgroup:    Workgroup{X: 8, Y: 8},
		ZeroCopy:     true,
		DirectOutput: true,
		BlurRadius:   DefaultBlurRadius,
		BlurAmount:   DefaultBlurAmount,
		TargetFPS:    DefaultTargetFPS,
	}
}

// Validate checks the fields that are independent of the backend variant.
func (c *Config) Validate() error {
	if !c.Renderer.Valid() {
		return &ConfigError{Field: "Renderer", Reason: "unknown renderer " + c.Renderer.String()}
	}
	if c.Workgroup.X < 1 || c.Workgroup.Y < 1 {
		return &ConfigError{Field: "Workgroup", Reason: "dimensions must be positive, got " + c.Workgroup.String()}
	}
	if c.Workgroup.X*c.Workgroup.Y > MaxWorkgroupInvocations {
		return &ConfigError{Field: "Workgroup", Reason: fmt.Sprintf("%s exceeds %d invocations", c.Workgroup, MaxWorkgroupInvocations)}
	}
	if c.BlurRadius < 0 || c.BlurRadius > MaxBlurRadius {
		return &ConfigError{Field: "BlurRadius", Reason: fmt.Sprintf("must be in [0, %d], got %d", MaxBlurRadius, c.BlurRadius)}
	}
	if c.Blur && c.BlurAmount <= 0 {
		return &ConfigError{Field: "BlurAmount", Reason: "must be positive when blur is enabled"}
	}
	if c.TargetFPS <= 0 {
		return &ConfigError{Field: "TargetFPS", Reason: "must be positive"}
	}
	return nil
}

// MinInterval returns the minimum spacing between accepted frames,
// 50ms for the default 20 fps.
func (c *Config) MinInterval() time.Duration {
	if c.TargetFPS <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / c.TargetFPS)
}
