// SPDX-License-Identifier: Unlicense OR MIT

package x11

import (
	"image"
	"log"
	"os"
	"sync"

	"github.com/Sonic-DE/sonic-win/gpu/vulkan"
	vk "github.com/goki/vulkan"
	"github.com/jezek/xgb/xproto"
	"golang.org/x/sys/unix"
)

// forceCPUUpload reports whether the CPU upload path is forced,
// read once from the environment.
var forceCPUUpload = sync.OnceValue(func() bool {
	return os.Getenv("SONIC_VULKAN_FORCE_CPU") == "1"
})

// SurfacePixmap identifies the X11 pixmap backing a client window.
type SurfacePixmap struct {
	ID    xproto.Pixmap
	Size  image.Point
	Depth byte
}

// IsValid reports whether the pixmap references server-side storage.
func (p *SurfacePixmap) IsValid() bool {
	return p != nil && p.ID != 0 && p.Size.X > 0 && p.Size.Y > 0
}

// SurfaceTexture imports an X11 pixmap as one or more texture
// planes: zero-copy through DRI3 DMA-BUF when available, else a
// staged CPU upload through GetImage. The plane list is non-empty
// exactly when IsValid reports true.
type SurfaceTexture struct {
	backend *Backend
	ctx     *vulkan.Context
	pixmap  *SurfacePixmap

	planes  []*vulkan.Texture
	staging *vulkan.Buffer

	size      image.Point
	pixmapID  xproto.Pixmap
	useDmaBuf bool
}

// NewSurfaceTexture creates the texture wrapper for a pixmap. The
// import happens lazily on the first Create call.
func NewSurfaceTexture(backend *Backend, pixmap *SurfacePixmap) *SurfaceTexture {
	return &SurfaceTexture{
		backend: backend,
		ctx:     backend.Context(),
		pixmap:  pixmap,
	}
}

// IsValid reports whether the texture has at least one plane.
func (t *SurfaceTexture) IsValid() bool {
	return len(t.planes) > 0
}

// Texture returns the first plane, or nil.
func (t *SurfaceTexture) Texture() *vulkan.Texture {
	if len(t.planes) == 0 {
		return nil
	}
	return t.planes[0]
}

// PlaneCount returns the number of texture planes: one for RGB
// formats, two for NV12.
func (t *SurfaceTexture) PlaneCount() int { return len(t.planes) }

// Plane returns the plane at index, or nil.
func (t *SurfaceTexture) Plane(index int) *vulkan.Texture {
	if index < 0 || index >= len(t.planes) {
		return nil
	}
	return t.planes[index]
}

// IsMultiPlane reports whether the texture is planar YUV.
func (t *SurfaceTexture) IsMultiPlane() bool { return len(t.planes) > 1 }

// UsesDmaBuf reports whether the zero-copy path is active.
func (t *SurfaceTexture) UsesDmaBuf() bool { return t.useDmaBuf }

// Create imports the pixmap. It is a no-op while the cached pixmap
// id and size still match; any mismatch drops the previous planes
// through the deferred queue and re-imports.
func (t *SurfaceTexture) Create() bool {
	if !t.pixmap.IsValid() || t.ctx == nil {
		return false
	}

	if t.IsValid() && t.size == t.pixmap.Size && t.pixmapID == t.pixmap.ID {
		return true
	}
	t.drop()

	t.size = t.pixmap.Size
	t.pixmapID = t.pixmap.ID

	if t.ctx.SupportsDmaBufImport() && t.backend.dri3Supported() && !forceCPUUpload() {
		if t.createWithDmaBuf() {
			t.useDmaBuf = true
			return true
		}
		// Any import failure falls through to the CPU upload.
		logImportOnce("dmabuf import unavailable, using CPU upload")
	}

	if t.createWithCPUUpload() {
		t.useDmaBuf = false
		return true
	}
	return false
}

func (t *SurfaceTexture) drop() {
	for _, plane := range t.planes {
		plane.Release()
	}
	t.planes = nil
	if t.staging != nil {
		t.staging.Release()
		t.staging = nil
	}
}

// createWithDmaBuf asks DRI3 for the pixmap's buffers and imports
// every plane. File descriptors received from the server are
// duplicated before ownership passes to the import; the originals
// are closed on cleanup.
func (t *SurfaceTexture) createWithDmaBuf() bool {
	native := t.backend.native
	if native == nil {
		return false
	}
	bufs, err := native.buffersFromPixmap(t.pixmapID)
	if err != nil {
		log.Printf("x11: %v", err)
		return false
	}
	defer func() {
		for i := 0; i < bufs.NFd; i++ {
			if bufs.Fds[i] >= 0 {
				unix.Close(bufs.Fds[i])
			}
		}
	}()

	format := DepthToDrmFormat(bufs.Depth)
	if format == 0 {
		log.Printf("x11: unsupported pixmap depth %d (bpp %d)", bufs.Depth, bufs.Bpp)
		return false
	}

	attrs := vulkan.DmaBufAttributes{
		Width:      bufs.Width,
		Height:     bufs.Height,
		Format:     format,
		Modifier:   bufs.Modifier,
		PlaneCount: bufs.NFd,
	}
	for i := 0; i < bufs.NFd; i++ {
		fd, err := unix.Dup(bufs.Fds[i])
		if err != nil {
			log.Printf("x11: dup of dmabuf fd failed: %v", err)
			attrs.CloseFds()
			return false
		}
		unix.CloseOnExec(fd)
		attrs.Fds[i] = fd
		attrs.Pitches[i] = bufs.Strides[i]
		attrs.Offsets[i] = bufs.Offsets[i]
	}

	if planes, ok := yuvPlaneLayout(format); ok {
		return t.importPlanes(&attrs, planes)
	}

	vkFormat := DrmFormatToVkFormat(format)
	if vkFormat == vk.FormatUndefined {
		attrs.CloseFds()
		return false
	}
	tex, err := t.ctx.ImportDmaBuf(&attrs, vkFormat)
	if err != nil {
		log.Printf("x11: dmabuf import: %v", err)
		attrs.CloseFds()
		return false
	}
	t.planes = append(t.planes, tex)
	return true
}

// importPlanes imports each plane of a planar YUV buffer with its
// subsampled size.
func (t *SurfaceTexture) importPlanes(attrs *vulkan.DmaBufAttributes, planes []yuvPlane) bool {
	if attrs.PlaneCount != len(planes) {
		log.Printf("x11: plane count mismatch: buffer has %d, format needs %d",
			attrs.PlaneCount, len(planes))
		attrs.CloseFds()
		return false
	}
	full := image.Pt(attrs.Width, attrs.Height)
	for i, plane := range planes {
		vkFormat := DrmFormatToVkFormat(plane.format)
		if vkFormat == vk.FormatUndefined {
			t.drop()
			attrs.CloseFds()
			return false
		}
		tex, err := t.ctx.ImportDmaBufPlane(attrs, i, vkFormat, planeSize(full, plane))
		if err != nil {
			log.Printf("x11: dmabuf plane %d import: %v", i, err)
			t.drop()
			attrs.CloseFds()
			return false
		}
		t.planes = append(t.planes, tex)
	}
	return true
}

// createWithCPUUpload allocates a BGRA8 sRGB texture at the pixmap
// size plus a host-visible staging buffer, then does the initial full
// upload. X11 pixel data is sRGB encoded; sampling from an sRGB
// format makes the hardware linearize on fetch.
func (t *SurfaceTexture) createWithCPUUpload() bool {
	tex, err := vulkan.AllocateTexture(t.ctx, t.size, vk.FormatB8g8r8a8Srgb)
	if err != nil {
		log.Printf("x11: surface texture allocation: %v", err)
		return false
	}
	t.planes = append(t.planes, tex)

	staging, err := vulkan.NewStagingBuffer(t.ctx, vk.DeviceSize(t.size.X*t.size.Y*4))
	if err != nil {
		log.Printf("x11: surface staging buffer: %v", err)
		t.drop()
		return false
	}
	t.staging = staging

	t.updateWithCPUUpload(image.Rectangle{Max: t.size})
	return true
}

// Update refreshes the texture content for the damaged region. The
// DMA-BUF path only needs an acquire barrier so the GPU observes the
// server's writes; the CPU path re-fetches and uploads the region.
func (t *SurfaceTexture) Update(region image.Rectangle) {
	if !t.pixmap.IsValid() || !t.IsValid() {
		return
	}
	if t.useDmaBuf {
		cmd, err := t.ctx.BeginSingleTimeCommands()
		if err != nil {
			return
		}
		for _, plane := range t.planes {
			plane.RecordAcquireBarrier(cmd)
		}
		t.ctx.EndSingleTimeCommands(cmd)
		return
	}
	t.updateWithCPUUpload(region)
}

// updateWithCPUUpload fetches the damaged region with GetImage and
// stages it into the texture. The alpha byte is forced to 0xFF per
// pixel: X11 pixmaps may carry undefined alpha even at depth 32.
func (t *SurfaceTexture) updateWithCPUUpload(region image.Rectangle) {
	if t.staging == nil || len(t.planes) == 0 {
		return
	}
	region = region.Intersect(image.Rectangle{Max: t.size})
	if region.Empty() {
		return
	}

	reply, err := xproto.GetImage(t.backend.conn, xproto.ImageFormatZPixmap,
		xproto.Drawable(t.pixmapID),
		int16(region.Min.X), int16(region.Min.Y),
		uint16(region.Dx()), uint16(region.Dy()),
		^uint32(0)).Reply()
	if err != nil {
		log.Printf("x11: GetImage: %v", err)
		return
	}

	data := reply.Data
	width, height := region.Dx(), region.Dy()
	if len(data) < width*height*4 {
		log.Printf("x11: GetImage returned %d bytes, want %d", len(data), width*height*4)
		return
	}

	// The staging buffer always holds full texture rows; partial
	// regions are written at their offsets with the full stride.
	mapped, err := t.staging.Map()
	if err != nil {
		return
	}
	stagePixels(mapped, data, t.size, region)
	t.staging.Unmap()
	t.staging.Flush(0, vk.DeviceSize(t.size.X*t.size.Y*4))

	t.copyStagingToTexture(region)
}

// stagePixels copies GetImage rows covering region into the staging
// buffer laid out with full texture stride, forcing alpha to 0xFF per
// pixel.
func stagePixels(dst, src []byte, texSize image.Point, region image.Rectangle) {
	width, height := region.Dx(), region.Dy()
	dstStride := texSize.X * 4
	srcStride := width * 4
	for row := 0; row < height; row++ {
		d := dst[(region.Min.Y+row)*dstStride+region.Min.X*4:]
		s := src[row*srcStride:]
		for col := 0; col < width; col++ {
			d[col*4+0] = s[col*4+0]
			d[col*4+1] = s[col*4+1]
			d[col*4+2] = s[col*4+2]
			d[col*4+3] = 0xFF
		}
	}
}

func (t *SurfaceTexture) copyStagingToTexture(region image.Rectangle) {
	tex := t.planes[0]
	cmd, err := t.ctx.BeginSingleTimeCommands()
	if err != nil {
		return
	}

	tex.TransitionLayout(cmd, tex.CurrentLayout(), vk.ImageLayoutTransferDstOptimal,
		vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit))

	copyRegion := vk.BufferImageCopy{
		BufferOffset:      vk.DeviceSize((region.Min.Y*t.size.X + region.Min.X) * 4),
		BufferRowLength:   uint32(t.size.X),
		BufferImageHeight: uint32(t.size.Y),
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LayerCount: 1,
		},
		ImageOffset: vk.Offset3D{X: int32(region.Min.X), Y: int32(region.Min.Y)},
		ImageExtent: vk.Extent3D{
			Width:  uint32(region.Dx()),
			Height: uint32(region.Dy()),
			Depth:  1,
		},
	}
	vk.CmdCopyBufferToImage(cmd, t.staging.Handle(), tex.Image(),
		vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{copyRegion})

	tex.TransitionLayout(cmd, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit))

	t.ctx.EndSingleTimeCommands(cmd)
}

// Release drops all planes and the staging buffer through the
// deferred queue.
func (t *SurfaceTexture) Release() {
	t.drop()
}

var loggedImport sync.Once

func logImportOnce(msg string) {
	loggedImport.Do(func() {
		log.Printf("x11: %s", msg)
	})
}
