package backend

import (
	"fmt"

	"github.com/gogpu/vfx"
	"github.com/gogpu/vfx/gpucore"
)

// sourceUsage is the usage of the uploaded input texture.
const sourceUsage = gpucore.TextureUsageTextureBinding | gpucore.TextureUsageCopyDst | gpucore.TextureUsageRenderAttachment

// acquireInput returns a sampleable texture holding the frame. With
// zero-copy the frame pixels are imported and the returned release func
// drops the import; otherwise the frame is uploaded into the cached
// source texture.
func (c *core) acquireInput(frame *vfx.FrameBuffer) (gpucore.TextureID, func(), error) {
	img := frame.Image()
	if c.cfg.ZeroCopy {
		id, err := c.dev.ImportExternalTexture(img)
		if err != nil {
			return gpucore.InvalidID, nil, renderErr(c.name, "import frame", err)
		}
		return id, func() { c.dev.ReleaseExternalTexture(id) }, nil
	}

	id, err := c.texture(keySourceTexture, frame.DisplayWidth(), frame.DisplayHeight(), sourceUsage)
	if err != nil {
		return gpucore.InvalidID, nil, err
	}
	if err := c.dev.WriteTexture(id, img); err != nil {
		return gpucore.InvalidID, nil, renderErr(c.name, fmt.Sprintf("upload %dx%d frame", frame.DisplayWidth(), frame.DisplayHeight()), err)
	}
	return id, func() {}, nil
}
