package main

import (
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/gogpu/vfx"
)

// loadConfig reads a TOML config over the defaults. Unknown keys are an
// error so that typos do not pass silently.
func loadConfig(path string) (vfx.Config, error) {
	cfg := vfx.DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	if err := toml.NewDecoder(f).DisallowUnknownFields().Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// parseSize parses "WxH". An empty string yields the zero point.
func parseSize(s string) (image.Point, error) {
	if s == "" {
		return image.Point{}, nil
	}
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return image.Point{}, fmt.Errorf("size %q: want WxH", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return image.Point{}, fmt.Errorf("size %q: %w", s, err)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return image.Point{}, fmt.Errorf("size %q: %w", s, err)
	}
	if w <= 0 || h <= 0 {
		return image.Point{}, fmt.Errorf("size %q: dimensions must be positive", s)
	}
	return image.Pt(w, h), nil
}
