package vfx

import (
	"errors"
	"image"
	"image/color"
	"testing"
	"time"
)

func TestFrameReleaseExactlyOnce(t *testing.T) {
	var recycled int
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	f := NewFrameWithRelease(img, time.Second, 33*time.Millisecond, func(got *image.RGBA) {
		if got != img {
			t.Error("release hook received a different buffer")
		}
		recycled++
	})

	if f.DisplayWidth() != 4 || f.DisplayHeight() != 2 {
		t.Fatalf("dims = %dx%d, want 4x2", f.DisplayWidth(), f.DisplayHeight())
	}
	if err := f.Release(); err != nil {
		t.Fatalf("first Release() = %v", err)
	}
	if err := f.Release(); !errors.Is(err, ErrFrameReleased) {
		t.Errorf("second Release() = %v, want ErrFrameReleased", err)
	}
	if recycled != 1 {
		t.Errorf("release hook ran %d times, want 1", recycled)
	}
	if !f.Released() {
		t.Error("Released() = false after Release")
	}
	if f.Image() != nil {
		t.Error("Image() should be nil after Release")
	}
}

func TestFrameClone(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 8, 8))
	src.SetRGBA(5, 6, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	sub := src.SubImage(image.Rect(4, 4, 8, 8)).(*image.RGBA)

	f := NewFrame(sub, 2*time.Second, 50*time.Millisecond)
	c := f.Clone()

	if c.Timestamp() != f.Timestamp() || c.Duration() != f.Duration() {
		t.Errorf("clone timing = %v/%v, want %v/%v", c.Timestamp(), c.Duration(), f.Timestamp(), f.Duration())
	}
	if c.DisplayWidth() != 4 || c.DisplayHeight() != 4 {
		t.Fatalf("clone dims = %dx%d, want 4x4", c.DisplayWidth(), c.DisplayHeight())
	}
	if got := c.Image().RGBAAt(1, 2); got != (color.RGBA{R: 10, G: 20, B: 30, A: 255}) {
		t.Errorf("clone pixel (1,2) = %v", got)
	}
	src.SetRGBA(5, 6, color.RGBA{})
	if got := c.Image().RGBAAt(1, 2); got.R != 10 {
		t.Error("clone shares memory with the original")
	}
}
