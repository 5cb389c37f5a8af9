package software

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/vfx"
	"github.com/gogpu/vfx/gpucore"
)

// view exposes an image.RGBA as kernel texels.
type view struct {
	img  *image.RGBA
	w, h int
}

func newView(img *image.RGBA) view {
	return view{img: img, w: img.Rect.Dx(), h: img.Rect.Dy()}
}

func (v view) Size() (int, int) { return v.w, v.h }

func (v view) Load(x, y int) gpucore.Vec4 {
	x = min(max(x, 0), v.w-1)
	y = min(max(y, 0), v.h-1)
	i := v.img.PixOffset(v.img.Rect.Min.X+x, v.img.Rect.Min.Y+y)
	p := v.img.Pix[i : i+4 : i+4]
	return gpucore.UnpackRGBA8(p[0], p[1], p[2], p[3])
}

func (v view) Store(x, y int, c gpucore.Vec4) {
	if x < 0 || y < 0 || x >= v.w || y >= v.h {
		return
	}
	q := c.RGBA8()
	i := v.img.PixOffset(v.img.Rect.Min.X+x, v.img.Rect.Min.Y+y)
	copy(v.img.Pix[i:i+4], q[:])
}

func (d *Device) uniforms(id gpucore.BufferID, size int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	b, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("software: uniform buffer %d does not exist", id)
	}
	if b.desc.Usage&gpucore.BufferUsageUniform == 0 || len(b.data) < size {
		return nil, fmt.Errorf("software: buffer %q cannot back a %d-byte uniform block", b.desc.Label, size)
	}
	return append([]byte(nil), b.data[:size]...), nil
}

// Dispatch implements gpucore.Device. Workgroups run in parallel; within a
// workgroup every phase completes for all invocations before the next starts.
func (d *Device) Dispatch(ctx context.Context, pass *gpucore.ComputePass) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	k, ok := d.kernels[pass.Pipeline]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("software: %w: compute pipeline %d does not exist", vfx.ErrRender, pass.Pipeline)
	}
	in, err := d.texture(pass.Input, gpucore.TextureUsageTextureBinding, "input")
	if err == nil {
		var out *texture
		out, err = d.texture(pass.Output, gpucore.TextureUsageStorageBinding, "output")
		if err == nil && out.desc.Format == gputypes.TextureFormatBGRA8Unorm && !d.caps.HasFeature(gpucore.FeatureBGRA8UnormStorage) {
			err = fmt.Errorf("software: storage binding of BGRA8Unorm needs %s", gpucore.FeatureBGRA8UnormStorage)
		}
		if err == nil {
			var uniforms []byte
			uniforms, err = d.uniforms(pass.Uniforms, k.UniformSize)
			if err == nil {
				d.stats.Dispatches++
				d.mu.Unlock()
				d.run(k, &gpucore.KernelBindings{
					Input:    newView(in.img),
					Output:   newView(out.img),
					Filter:   d.samplers[pass.Sampler],
					Uniforms: uniforms,
				}, pass.Groups)
				return ctx.Err()
			}
		}
	}
	d.mu.Unlock()
	return fmt.Errorf("%w: %s: %w", vfx.ErrRender, k.Label, err)
}

func (d *Device) run(k *gpucore.ComputeKernel, b *gpucore.KernelBindings, groups [2]uint32) {
	gx, gy := int(groups[0]), int(groups[1])
	wx, wy := k.WorkgroupSize[0], k.WorkgroupSize[1]

	d.pool.Run(gx*gy, func(i int) {
		wid := [3]uint32{uint32(i % gx), uint32(i / gx), 0}
		var shared []gpucore.Vec4
		if k.SharedTexels > 0 {
			shared = make([]gpucore.Vec4, k.SharedTexels)
		}
		inv := gpucore.Invocation{WorkgroupID: wid, Shared: shared}
		for _, phase := range k.Phases {
			for ly := uint32(0); ly < wy; ly++ {
				for lx := uint32(0); lx < wx; lx++ {
					inv.LocalID = [3]uint32{lx, ly, 0}
					inv.GlobalID = [3]uint32{wid[0]*wx + lx, wid[1]*wy + ly, 0}
					phase(&inv, b)
				}
			}
		}
	})
}

// Draw implements gpucore.Device.
func (d *Device) Draw(ctx context.Context, pass *gpucore.RenderPass) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	p, ok := d.programs[pass.Pipeline]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("software: %w: render pipeline %d does not exist", vfx.ErrRender, pass.Pipeline)
	}
	in, target, uniforms, verts, err := d.drawResources(p, pass)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s: %w", vfx.ErrRender, p.Label, err)
	}
	filter := d.samplers[pass.Sampler]
	d.stats.Draws++
	d.mu.Unlock()

	dst := newView(target.img)
	clearView(dst, pass.Clear)

	b := &gpucore.FragmentBindings{Input: newView(in.img), Filter: filter, Uniforms: uniforms}
	for i := 0; i+2 < len(verts); i += 3 {
		d.rasterize(dst, [3]gpucore.Varying{p.Vertex(verts[i]), p.Vertex(verts[i+1]), p.Vertex(verts[i+2])}, p, b)
	}
	return ctx.Err()
}

func (d *Device) drawResources(p *gpucore.RenderProgram, pass *gpucore.RenderPass) (in, target *texture, uniforms []byte, verts []gpucore.Vertex, err error) {
	in, err = d.texture(pass.Input, gpucore.TextureUsageTextureBinding, "input")
	if err != nil {
		return
	}
	target, err = d.texture(pass.Target, gpucore.TextureUsageRenderAttachment, "target")
	if err != nil {
		return
	}
	uniforms, err = d.uniforms(pass.Uniforms, p.UniformSize)
	if err != nil {
		return
	}
	vb, ok := d.buffers[pass.Vertices]
	if !ok || vb.desc.Usage&gpucore.BufferUsageVertex == 0 {
		err = fmt.Errorf("software: vertex buffer %d missing or lacks vertex usage", pass.Vertices)
		return
	}
	n := pass.VertexCount * gpucore.VertexStride
	if n > len(vb.data) {
		err = fmt.Errorf("software: %d vertices overflow buffer %q", pass.VertexCount, vb.desc.Label)
		return
	}
	verts, err = gpucore.DecodeVertices(vb.data[:n])
	return
}

func clearView(v view, c gpucore.Vec4) {
	q := c.RGBA8()
	for y := 0; y < v.h; y++ {
		i := v.img.PixOffset(v.img.Rect.Min.X, v.img.Rect.Min.Y+y)
		row := v.img.Pix[i : i+v.w*4]
		for x := 0; x < len(row); x += 4 {
			copy(row[x:x+4], q[:])
		}
	}
}

// rasterize fills the pixels whose centres lie inside the triangle,
// interpolating UV with barycentric weights. Rows run in parallel.
func (d *Device) rasterize(dst view, tri [3]gpucore.Varying, p *gpucore.RenderProgram, b *gpucore.FragmentBindings) {
	var sx, sy [3]float64
	for i, v := range tri {
		sx[i] = (float64(v.Position[0]/v.Position[3]) + 1) / 2 * float64(dst.w)
		sy[i] = (1 - float64(v.Position[1]/v.Position[3])) / 2 * float64(dst.h)
	}
	area := edge(sx[0], sy[0], sx[1], sy[1], sx[2], sy[2])
	if area == 0 {
		return
	}

	minY := max(int(math.Floor(min(sy[0], sy[1], sy[2]))), 0)
	maxY := min(int(math.Ceil(max(sy[0], sy[1], sy[2]))), dst.h)
	minX := max(int(math.Floor(min(sx[0], sx[1], sx[2]))), 0)
	maxX := min(int(math.Ceil(max(sx[0], sx[1], sx[2]))), dst.w)
	if minY >= maxY || minX >= maxX {
		return
	}

	d.pool.Run(maxY-minY, func(row int) {
		y := minY + row
		cy := float64(y) + 0.5
		for x := minX; x < maxX; x++ {
			cx := float64(x) + 0.5
			w0 := edge(sx[1], sy[1], sx[2], sy[2], cx, cy) / area
			w1 := edge(sx[2], sy[2], sx[0], sy[0], cx, cy) / area
			w2 := edge(sx[0], sy[0], sx[1], sy[1], cx, cy) / area
			if w0 < -edgeEpsilon || w1 < -edgeEpsilon || w2 < -edgeEpsilon {
				continue
			}
			uv := [2]float32{
				float32(w0*float64(tri[0].UV[0]) + w1*float64(tri[1].UV[0]) + w2*float64(tri[2].UV[0])),
				float32(w0*float64(tri[0].UV[1]) + w1*float64(tri[1].UV[1]) + w2*float64(tri[2].UV[1])),
			}
			dst.Store(x, y, p.Fragment(uv, b))
		}
	})
}

// edgeEpsilon keeps pixels centred exactly on a shared edge inside both triangles.
const edgeEpsilon = 1e-9

func edge(ax, ay, bx, by, cx, cy float64) float64 {
	return (bx-ax)*(cy-ay) - (by-ay)*(cx-ax)
}
