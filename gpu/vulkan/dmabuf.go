// SPDX-License-Identifier: Unlicense OR MIT

package vulkan

import (
	"fmt"
	"image"
	"unsafe"

	vk "github.com/goki/vulkan"
	"golang.org/x/sys/unix"
)

// DmaBufAttributes describes a DMA-BUF as obtained from DRI3: one
// file descriptor, stride and offset per plane, plus the buffer
// geometry and DRM format. File descriptor ownership transfers to
// the import call on success.
type DmaBufAttributes struct {
	Width      int
	Height     int
	Format     uint32 // DRM fourcc
	Modifier   uint64
	PlaneCount int
	Fds        [4]int
	Offsets    [4]uint32
	Pitches    [4]uint32
}

// CloseFds closes all plane file descriptors still owned by the
// attributes.
func (a *DmaBufAttributes) CloseFds() {
	for i := 0; i < a.PlaneCount; i++ {
		if a.Fds[i] >= 0 {
			unix.Close(a.Fds[i])
			a.Fds[i] = -1
		}
	}
}

// ImportDmaBuf imports plane 0 of a DMA-BUF as a texture of the
// buffer's full size, in the Vulkan format given by the caller.
func (c *Context) ImportDmaBuf(attrs *DmaBufAttributes, format vk.Format) (*Texture, error) {
	return c.ImportDmaBufPlane(attrs, 0, format, image.Pt(attrs.Width, attrs.Height))
}

// ImportDmaBufPlane imports one plane of a DMA-BUF as a texture of
// the given format and size. YUV buffers import one texture per
// plane with subsampled sizes.
func (c *Context) ImportDmaBufPlane(attrs *DmaBufAttributes, plane int, format vk.Format, size image.Point) (*Texture, error) {
	if !c.supportsDmaBufImport {
		return nil, fmt.Errorf("vulkan: dmabuf import not supported")
	}
	if plane < 0 || plane >= attrs.PlaneCount {
		return nil, fmt.Errorf("vulkan: dmabuf plane %d out of range", plane)
	}
	fd := attrs.Fds[plane]
	if fd < 0 {
		return nil, fmt.Errorf("vulkan: dmabuf plane %d has no fd", plane)
	}
	dev := c.backend.Device()

	externalInfo := vk.ExternalMemoryImageCreateInfo{
		SType:       vk.StructureTypeExternalMemoryImageCreateInfo,
		HandleTypes: vk.ExternalMemoryHandleTypeFlags(vk.ExternalMemoryHandleTypeDmaBufBit),
	}
	imageInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		PNext:     unsafe.Pointer(&externalInfo),
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  uint32(size.X),
			Height: uint32(size.Y),
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	var img vk.Image
	if err := vkErr("vkCreateImage", vk.CreateImage(dev, &imageInfo, nil, &img)); err != nil {
		return nil, err
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(dev, img, &req)
	req.Deref()

	typeIndex, ok := c.allocator.findMemoryType(req.MemoryTypeBits,
		0, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if !ok {
		vk.DestroyImage(dev, img, nil)
		return nil, fmt.Errorf("vulkan: no memory type for dmabuf import")
	}

	importInfo := vk.ImportMemoryFdInfo{
		SType:      vk.StructureTypeImportMemoryFdInfo,
		HandleType: vk.ExternalMemoryHandleTypeDmaBufBit,
		Fd:         int32(fd),
	}
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		PNext:           unsafe.Pointer(&importInfo),
		AllocationSize:  req.Size,
		MemoryTypeIndex: typeIndex,
	}
	var memory vk.DeviceMemory
	if err := vkErr("vkAllocateMemory", vk.AllocateMemory(dev, &allocInfo, nil, &memory)); err != nil {
		vk.DestroyImage(dev, img, nil)
		return nil, err
	}
	// The driver owns the fd from here on.
	attrs.Fds[plane] = -1

	if err := vkErr("vkBindImageMemory", vk.BindImageMemory(dev, img, memory, 0)); err != nil {
		vk.FreeMemory(dev, memory, nil)
		vk.DestroyImage(dev, img, nil)
		return nil, err
	}

	t := newTexture(c)
	t.image = img
	t.memory = memory
	t.format = format
	t.size = size
	t.ownsImage = true

	if err := t.createImageView(vk.ImageAspectFlags(vk.ImageAspectColorBit)); err != nil {
		vk.FreeMemory(dev, memory, nil)
		vk.DestroyImage(dev, img, nil)
		return nil, err
	}
	if err := t.createSampler(); err != nil {
		vk.DestroyImageView(dev, t.view, nil)
		vk.FreeMemory(dev, memory, nil)
		vk.DestroyImage(dev, img, nil)
		return nil, err
	}
	return t, nil
}

// RecordAcquireBarrier records a self-transition barrier making
// content written by an external producer visible to sampling. The
// layout is left unchanged.
func (t *Texture) RecordAcquireBarrier(cmd vk.CommandBuffer) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           t.layout,
		NewLayout:           t.layout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               t.image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
		SrcAccessMask: vk.AccessFlags(vk.AccessMemoryReadBit),
		DstAccessMask: vk.AccessFlags(vk.AccessMemoryReadBit),
	}
	stages := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit) |
		vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	vk.CmdPipelineBarrier(cmd, stages, stages, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}
