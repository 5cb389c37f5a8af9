package backend

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/vfx/gpucore"
)

// surface is the backend-owned presentation texture. It is not part of the
// resource cache and is recreated whenever the frame size changes.
type surface struct {
	id     gpucore.TextureID
	width  int
	height int
}

func (s *surface) ensure(dev gpucore.Device, w, h int, format gputypes.TextureFormat, usage gpucore.TextureUsage) (gpucore.TextureID, error) {
	if s.id != gpucore.InvalidID && s.width == w && s.height == h {
		return s.id, nil
	}
	s.destroy(dev)
	id, err := dev.CreateTexture(&gpucore.TextureDescriptor{
		Label:  "surface",
		Width:  w,
		Height: h,
		Format: format,
		Usage:  usage,
	})
	if err != nil {
		return gpucore.InvalidID, err
	}
	s.id, s.width, s.height = id, w, h
	return id, nil
}

func (s *surface) destroy(dev gpucore.Device) {
	if s.id != gpucore.InvalidID {
		dev.DestroyTexture(s.id)
	}
	*s = surface{}
}
