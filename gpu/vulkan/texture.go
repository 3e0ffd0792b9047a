// SPDX-License-Identifier: Unlicense OR MIT

package vulkan

import (
	"image"
	"image/draw"

	"github.com/Sonic-DE/sonic-win/f32"
	vk "github.com/goki/vulkan"
)

// ContentTransform describes how texture content is oriented relative
// to the compositor's logical coordinates.
type ContentTransform int

const (
	TransformNormal ContentTransform = iota
	TransformFlipY
	TransformRotate90
	TransformRotate180
	TransformRotate270
)

// CoordinateType selects the coordinate space of Texture.Matrix.
type CoordinateType int

const (
	// CoordinateNormalized maps texture coordinates 0..1.
	CoordinateNormalized CoordinateType = iota
	// CoordinateUnnormalized maps pixel coordinates 0..size.
	CoordinateUnnormalized
)

// Texture is a 2D image with its view and sampler. The recorded
// layout always reflects the most recent transition recorded into a
// submitted command buffer; callers must transition before use.
type Texture struct {
	ctx     *Context
	image   vk.Image
	view    vk.ImageView
	sampler vk.Sampler

	alloc  *Allocation     // allocator-backed memory
	memory vk.DeviceMemory // raw imported memory (DMA-BUF)

	format    vk.Format
	size      image.Point
	layout    vk.ImageLayout
	transform ContentTransform
	filter    vk.Filter
	wrapMode  vk.SamplerAddressMode
	ownsImage bool

	matrixDirty      bool
	cachedMatrix     f32.Mat4
	cachedMatrixType CoordinateType
}

func newTexture(ctx *Context) *Texture {
	return &Texture{
		ctx:         ctx,
		filter:      vk.FilterLinear,
		wrapMode:    vk.SamplerAddressModeClampToEdge,
		layout:      vk.ImageLayoutUndefined,
		matrixDirty: true,
	}
}

func (t *Texture) createImage(size image.Point, format vk.Format, usage vk.ImageUsageFlags, tiling vk.ImageTiling) error {
	imageInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  uint32(size.X),
			Height: uint32(size.Y),
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        format,
		Tiling:        tiling,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         usage,
		SharingMode:   vk.SharingModeExclusive,
		Samples:       vk.SampleCount1Bit,
	}
	var img vk.Image
	if err := vkErr("vkCreateImage", vk.CreateImage(t.ctx.backend.Device(), &imageInfo, nil, &img)); err != nil {
		return err
	}
	alloc, err := t.ctx.allocator.AllocateForImage(img, MemoryDeviceLocal)
	if err != nil {
		vk.DestroyImage(t.ctx.backend.Device(), img, nil)
		return err
	}
	t.image = img
	t.alloc = alloc
	t.format = format
	t.size = size
	t.layout = vk.ImageLayoutUndefined
	t.ownsImage = true
	return nil
}

func (t *Texture) createImageView(aspect vk.ImageAspectFlags) error {
	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    t.image,
		ViewType: vk.ImageViewType2d,
		Format:   t.format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspect,
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	return vkErr("vkCreateImageView", vk.CreateImageView(t.ctx.backend.Device(), &viewInfo, nil, &t.view))
}

func (t *Texture) createSampler() error {
	samplerInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               t.filter,
		MinFilter:               t.filter,
		AddressModeU:            t.wrapMode,
		AddressModeV:            t.wrapMode,
		AddressModeW:            t.wrapMode,
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MipmapMode:              vk.SamplerMipmapModeLinear,
	}
	return vkErr("vkCreateSampler", vk.CreateSampler(t.ctx.backend.Device(), &samplerInfo, nil, &t.sampler))
}

// UploadTexture creates a texture from a CPU image and uploads its
// pixels through a staging buffer.
func UploadTexture(ctx *Context, img image.Image) (*Texture, error) {
	rgba := toRGBA(img)
	size := rgba.Bounds().Size()

	t := newTexture(ctx)
	if err := t.createImage(size, vk.FormatR8g8b8a8Unorm,
		vk.ImageUsageFlags(vk.ImageUsageTransferDstBit)|vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		vk.ImageTilingOptimal); err != nil {
		return nil, err
	}
	if err := t.createImageView(vk.ImageAspectFlags(vk.ImageAspectColorBit)); err != nil {
		t.Release()
		return nil, err
	}
	if err := t.createSampler(); err != nil {
		t.Release()
		return nil, err
	}
	if err := t.uploadPixels(rgba.Pix, image.Rectangle{Max: size}, size.X); err != nil {
		t.Release()
		return nil, err
	}
	return t, nil
}

// AllocateTexture creates an empty sampled texture of the given size
// and format.
func AllocateTexture(ctx *Context, size image.Point, format vk.Format) (*Texture, error) {
	t := newTexture(ctx)
	if err := t.createImage(size, format,
		vk.ImageUsageFlags(vk.ImageUsageTransferDstBit)|vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		vk.ImageTilingOptimal); err != nil {
		return nil, err
	}
	if err := t.createImageView(vk.ImageAspectFlags(vk.ImageAspectColorBit)); err != nil {
		t.Release()
		return nil, err
	}
	if err := t.createSampler(); err != nil {
		t.Release()
		return nil, err
	}
	return t, nil
}

// NewRenderTargetTexture creates a texture usable as a color
// attachment, sampled image and transfer source.
func NewRenderTargetTexture(ctx *Context, size image.Point, format vk.Format) (*Texture, error) {
	t := newTexture(ctx)
	if err := t.createImage(size, format,
		vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)|
			vk.ImageUsageFlags(vk.ImageUsageSampledBit)|
			vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit)|
			vk.ImageUsageFlags(vk.ImageUsageTransferDstBit),
		vk.ImageTilingOptimal); err != nil {
		return nil, err
	}
	if err := t.createImageView(vk.ImageAspectFlags(vk.ImageAspectColorBit)); err != nil {
		t.Release()
		return nil, err
	}
	if err := t.createSampler(); err != nil {
		t.Release()
		return nil, err
	}
	return t, nil
}

// NewDepthStencilTexture creates a depth(-stencil) attachment texture
// using the best supported depth format.
func NewDepthStencilTexture(ctx *Context, size image.Point) (*Texture, error) {
	format := FindDepthFormat(ctx.backend)
	if format == vk.FormatUndefined {
		return nil, vkErr("depth format probe", vk.ErrorFormatNotSupported)
	}
	t := newTexture(ctx)
	if err := t.createImage(size, format,
		vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
		vk.ImageTilingOptimal); err != nil {
		return nil, err
	}
	aspect := vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	if format == vk.FormatD24UnormS8Uint || format == vk.FormatD32SfloatS8Uint {
		aspect |= vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}
	if err := t.createImageView(aspect); err != nil {
		t.Release()
		return nil, err
	}
	return t, nil
}

// NewNonOwningWrapper wraps an externally owned image, e.g. a
// swapchain image, in a Texture. The image is not destroyed on
// release.
func NewNonOwningWrapper(ctx *Context, img vk.Image, format vk.Format, size image.Point) (*Texture, error) {
	t := newTexture(ctx)
	t.image = img
	t.format = format
	t.size = size
	t.ownsImage = false
	if err := t.createImageView(vk.ImageAspectFlags(vk.ImageAspectColorBit)); err != nil {
		return nil, err
	}
	if err := t.createSampler(); err != nil {
		t.Release()
		return nil, err
	}
	return t, nil
}

// WrapExternalTexture wraps pre-created Vulkan handles in a Texture
// without taking ownership of any of them. The caller keeps the
// handles alive for the wrapper's lifetime.
func WrapExternalTexture(img vk.Image, view vk.ImageView, sampler vk.Sampler,
	format vk.Format, size image.Point) *Texture {
	t := newTexture(nil)
	t.image = img
	t.view = view
	t.sampler = sampler
	t.format = format
	t.size = size
	t.ownsImage = false
	return t
}

// IsValid reports whether the texture holds a live image.
func (t *Texture) IsValid() bool { return t != nil && t.image != vk.NullImage }

// Image returns the image handle.
func (t *Texture) Image() vk.Image { return t.image }

// View returns the image view handle.
func (t *Texture) View() vk.ImageView { return t.view }

// Sampler returns the sampler handle.
func (t *Texture) Sampler() vk.Sampler { return t.sampler }

// Format returns the image format.
func (t *Texture) Format() vk.Format { return t.format }

// Size returns the texture size in pixels.
func (t *Texture) Size() image.Point { return t.size }

// CurrentLayout returns the layout recorded by the last
// TransitionLayout call.
func (t *Texture) CurrentLayout() vk.ImageLayout { return t.layout }

// HasAlphaChannel reports whether the format carries alpha.
func (t *Texture) HasAlphaChannel() bool {
	switch t.format {
	case vk.FormatR8g8b8a8Unorm, vk.FormatR8g8b8a8Srgb,
		vk.FormatB8g8r8a8Unorm, vk.FormatB8g8r8a8Srgb,
		vk.FormatA8b8g8r8UnormPack32,
		vk.FormatA2r10g10b10UnormPack32,
		vk.FormatR16g16b16a16Sfloat, vk.FormatR32g32b32a32Sfloat:
		return true
	}
	return false
}

// SetFilter changes the sampler filter. The previous sampler is
// queued on the deferred-destruction queue.
func (t *Texture) SetFilter(filter vk.Filter) {
	if t.filter == filter {
		return
	}
	t.filter = filter
	t.recreateSampler()
}

// SetWrapMode changes the sampler address mode. The previous sampler
// is queued on the deferred-destruction queue.
func (t *Texture) SetWrapMode(mode vk.SamplerAddressMode) {
	if t.wrapMode == mode {
		return
	}
	t.wrapMode = mode
	t.recreateSampler()
}

func (t *Texture) recreateSampler() {
	if t.sampler != vk.NullSampler {
		t.ctx.QueueSamplerForDestruction(t.sampler)
		t.sampler = vk.NullSampler
	}
	if err := t.createSampler(); err != nil {
		logOnce("texture sampler recreation failed: %v", err)
	}
}

// SetContentTransform records the orientation of the texture content.
func (t *Texture) SetContentTransform(tr ContentTransform) {
	if t.transform != tr {
		t.transform = tr
		t.matrixDirty = true
	}
}

// ContentTransform returns the recorded content orientation.
func (t *Texture) ContentTransform() ContentTransform { return t.transform }

// Matrix returns the texture coordinate matrix for the requested
// coordinate space, including the content transform. The result is
// cached until the transform changes.
func (t *Texture) Matrix(typ CoordinateType) f32.Mat4 {
	if !t.matrixDirty && t.cachedMatrixType == typ {
		return t.cachedMatrix
	}
	m := f32.ID4()
	if typ == CoordinateUnnormalized && t.size.X > 0 && t.size.Y > 0 {
		m = m.Scale(1/float32(t.size.X), 1/float32(t.size.Y))
	}
	switch t.transform {
	case TransformFlipY:
		m = m.Translate(0, 1).Scale(1, -1)
	case TransformRotate90:
		m = m.RotateZ(90)
	case TransformRotate180:
		m = m.RotateZ(180)
	case TransformRotate270:
		m = m.RotateZ(270)
	}
	// Pixel coordinates are normalized before the content transform.
	if typ == CoordinateUnnormalized && t.size.X > 0 && t.size.Y > 0 {
		m = m.Scale(1/float32(t.size.X), 1/float32(t.size.Y))
	}
	t.cachedMatrix = m
	t.cachedMatrixType = typ
	t.matrixDirty = false
	return m
}

// TransitionLayout records a single image memory barrier moving the
// image from oldLayout to newLayout. The new layout is recorded
// unconditionally; callers rely on CurrentLayout as the source of
// truth even when the barrier is semantically redundant.
func (t *Texture) TransitionLayout(cmd vk.CommandBuffer, oldLayout, newLayout vk.ImageLayout,
	srcStage, dstStage vk.PipelineStageFlags) {

	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               t.image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspectForLayout(newLayout),
			LevelCount: 1,
			LayerCount: 1,
		},
		SrcAccessMask: srcAccessForLayout(oldLayout),
		DstAccessMask: dstAccessForLayout(newLayout),
	}

	vk.CmdPipelineBarrier(cmd, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
	t.layout = newLayout
}

func aspectForLayout(layout vk.ImageLayout) vk.ImageAspectFlags {
	if layout == vk.ImageLayoutDepthStencilAttachmentOptimal {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

func srcAccessForLayout(layout vk.ImageLayout) vk.AccessFlags {
	switch layout {
	case vk.ImageLayoutTransferDstOptimal:
		return vk.AccessFlags(vk.AccessTransferWriteBit)
	case vk.ImageLayoutTransferSrcOptimal:
		return vk.AccessFlags(vk.AccessTransferReadBit)
	case vk.ImageLayoutShaderReadOnlyOptimal:
		return vk.AccessFlags(vk.AccessShaderReadBit)
	case vk.ImageLayoutColorAttachmentOptimal:
		return vk.AccessFlags(vk.AccessColorAttachmentWriteBit)
	case vk.ImageLayoutDepthStencilAttachmentOptimal:
		return vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit)
	}
	return 0
}

func dstAccessForLayout(layout vk.ImageLayout) vk.AccessFlags {
	switch layout {
	case vk.ImageLayoutTransferDstOptimal:
		return vk.AccessFlags(vk.AccessTransferWriteBit)
	case vk.ImageLayoutTransferSrcOptimal:
		return vk.AccessFlags(vk.AccessTransferReadBit)
	case vk.ImageLayoutShaderReadOnlyOptimal:
		return vk.AccessFlags(vk.AccessShaderReadBit)
	case vk.ImageLayoutColorAttachmentOptimal:
		return vk.AccessFlags(vk.AccessColorAttachmentWriteBit)
	case vk.ImageLayoutDepthStencilAttachmentOptimal:
		return vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit)
	}
	return 0
}

// Update uploads the region of img into the texture through a staging
// buffer, transitioning to transfer-dst and back to shader-read.
func (t *Texture) Update(img image.Image, region image.Rectangle) error {
	rgba := toRGBA(img)
	region = region.Intersect(image.Rectangle{Max: t.size})
	if region.Empty() {
		return nil
	}
	return t.uploadPixels(rgba.Pix, region, rgba.Stride/4)
}

// uploadPixels copies pixel rows covering region (rowLength in
// pixels) into the image.
func (t *Texture) uploadPixels(pix []byte, region image.Rectangle, rowLength int) error {
	staging, err := NewStagingBuffer(t.ctx, vk.DeviceSize(len(pix)))
	if err != nil {
		return err
	}
	defer staging.destroyNow()

	mapped, err := staging.Map()
	if err != nil {
		return err
	}
	copy(mapped, pix)
	staging.Unmap()
	staging.Flush(0, vk.DeviceSize(len(pix)))

	cmd, err := t.ctx.BeginSingleTimeCommands()
	if err != nil {
		return err
	}

	t.TransitionLayout(cmd, t.layout, vk.ImageLayoutTransferDstOptimal,
		vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit))

	copyRegion := vk.BufferImageCopy{
		BufferOffset:      vk.DeviceSize((region.Min.Y*rowLength + region.Min.X) * 4),
		BufferRowLength:   uint32(rowLength),
		BufferImageHeight: 0,
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
	vk.CmdCopyBufferToImage(cmd, staging.buffer, t.image,
		vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{copyRegion})

	t.TransitionLayout(cmd, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit))

	return t.ctx.EndSingleTimeCommands(cmd)
}

// Release queues the texture's sampler, view, image and memory for
// deferred destruction. Views are destroyed strictly before their
// parent images.
func (t *Texture) Release() {
	if t == nil || t.ctx == nil {
		return
	}
	if t.sampler != vk.NullSampler {
		t.ctx.QueueSamplerForDestruction(t.sampler)
		t.sampler = vk.NullSampler
	}
	if t.view != vk.NullImageView {
		t.ctx.QueueImageViewForDestruction(t.view)
		t.view = vk.NullImageView
	}
	if t.ownsImage && t.image != vk.NullImage {
		t.ctx.QueueImageForDestruction(t.image, t.alloc, t.memory)
	}
	t.image = vk.NullImage
	t.alloc = nil
	t.memory = vk.NullDeviceMemory
}

// FindDepthFormat returns the first depth format the device supports
// for depth-stencil attachments.
func FindDepthFormat(b *Backend) vk.Format {
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	for _, format := range candidates {
		var props vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(b.PhysicalDevice(), format, &props)
		props.Deref()
		if props.OptimalTilingFeatures&vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit) != 0 {
			return format
		}
	}
	return vk.FormatUndefined
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}
