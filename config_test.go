package vfx

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	if c.Renderer != RendererCompute {
		t.Errorf("Renderer = %v, want compute", c.Renderer)
	}
	if c.Workgroup != (Workgroup{X: 8, Y: 8}) {
		t.Errorf("Workgroup = %v, want (8,8)", c.Workgroup)
	}
	if !c.ZeroCopy || !c.DirectOutput || c.BilinearFiltering || c.Blur {
		t.Errorf("flags = zeroCopy:%v direct:%v bilinear:%v blur:%v", c.ZeroCopy, c.DirectOutput, c.BilinearFiltering, c.Blur)
	}
	if c.BlurRadius != 4 {
		t.Errorf("BlurRadius = %d, want 4", c.BlurRadius)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
	if got := c.MinInterval(); got != 50*time.Millisecond {
		t.Errorf("MinInterval() = %v, want 50ms", got)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Config)
		field string
	}{
		{"zero workgroup", func(c *Config) { c.Workgroup = Workgroup{X: 0, Y: 8} }, "Workgroup"},
		{"negative workgroup", func(c *Config) { c.Workgroup = Workgroup{X: 8, Y: -1} }, "Workgroup"},
		{"too many invocations", func(c *Config) { c.Workgroup = Workgroup{X: 32, Y: 16} }, "Workgroup"},
		{"negative radius", func(c *Config) { c.BlurRadius = -1 }, "BlurRadius"},
		{"huge radius", func(c *Config) { c.BlurRadius = MaxBlurRadius + 1 }, "BlurRadius"},
		{"blur without amount", func(c *Config) { c.Blur = true; c.BlurAmount = 0 }, "BlurAmount"},
		{"zero fps", func(c *Config) { c.TargetFPS = 0 }, "TargetFPS"},
		{"unknown renderer", func(c *Config) { c.Renderer = RendererKind(42) }, "Renderer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.edit(&c)
			err := c.Validate()
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("Validate() = %v, want ErrConfig", err)
			}
			var ce *ConfigError
			if errors.As(err, &ce) && ce.Field != tt.field {
				t.Errorf("Field = %q, want %q", ce.Field, tt.field)
			}
		})
	}
}

func TestParseRenderer(t *testing.T) {
	tests := []struct {
		in   string
		want RendererKind
	}{
		{"compute", RendererCompute},
		{"webgpu-compute", RendererCompute},
		{"WebGPU", RendererGraphics},
		{"webgl2", RendererGraphics},
		{" passthrough ", RendererPassthrough},
	}
	for _, tt := range tests {
		got, err := ParseRenderer(tt.in)
		if err != nil {
			t.Errorf("ParseRenderer(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRenderer(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := ParseRenderer("canvas2d"); !errors.Is(err, ErrConfig) {
		t.Errorf("ParseRenderer(canvas2d) = %v, want ErrConfig", err)
	}
}

func TestRendererKindText(t *testing.T) {
	for _, k := range []RendererKind{RendererCompute, RendererGraphics, RendererPassthrough} {
		text, err := k.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v): %v", k, err)
		}
		var back RendererKind
		if err := back.UnmarshalText(text); err != nil || back != k {
			t.Errorf("UnmarshalText(%q) = %v, %v; want %v", text, back, err, k)
		}
	}
	if _, err := RendererKind(9).MarshalText(); err == nil {
		t.Error("MarshalText of an unknown kind should fail")
	}
}
