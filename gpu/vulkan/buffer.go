// SPDX-License-Identifier: Unlicense OR MIT

package vulkan

import (
	"log"
	"unsafe"

	"github.com/Sonic-DE/sonic-win/f32"
	vk "github.com/goki/vulkan"
)

// BufferUsage describes what a buffer is for.
type BufferUsage int

const (
	UsageVertex BufferUsage = iota
	UsageIndex
	UsageUniform
	UsageStaging
	UsageStreaming
	UsageStorage
)

// Vertex2D is the interleaved vertex format used by the scene
// walker: {vec2 position; vec2 texcoord}, stride 16 bytes.
type Vertex2D struct {
	Position f32.Vec2
	Texcoord f32.Vec2
}

// Vertex2DStride is the byte stride of Vertex2D in vertex buffers.
const Vertex2DStride = 16

// Vertex2DBindingDescription returns the vertex input binding for
// the streaming vertex format.
func Vertex2DBindingDescription() vk.VertexInputBindingDescription {
	return vk.VertexInputBindingDescription{
		Binding:   0,
		Stride:    Vertex2DStride,
		InputRate: vk.VertexInputRateVertex,
	}
}

// Vertex2DAttributeDescriptions returns the two R32G32 attributes of
// the streaming vertex format.
func Vertex2DAttributeDescriptions() []vk.VertexInputAttributeDescription {
	return []vk.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   vk.FormatR32g32Sfloat,
			Offset:   0,
		},
		{
			Binding:  0,
			Location: 1,
			Format:   vk.FormatR32g32Sfloat,
			Offset:   8,
		},
	}
}

// Buffer is a typed GPU buffer. Streaming buffers additionally expose
// a bump-pointer Allocate within their persistently mapped region.
type Buffer struct {
	ctx    *Context
	buffer vk.Buffer
	alloc  *Allocation
	size   vk.DeviceSize
	usage  BufferUsage

	persistentlyMapped bool
	offset             vk.DeviceSize

	warnedFull bool
}

func newBuffer(ctx *Context, size vk.DeviceSize, usage vk.BufferUsageFlags,
	hint MemoryHint, usageHint BufferUsage, persistentMap bool) (*Buffer, error) {

	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        size,
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	if err := vkErr("vkCreateBuffer", vk.CreateBuffer(ctx.backend.Device(), &bufferInfo, nil, &buffer)); err != nil {
		return nil, err
	}

	alloc, err := ctx.allocator.AllocateForBuffer(buffer, hint, persistentMap)
	if err != nil {
		vk.DestroyBuffer(ctx.backend.Device(), buffer, nil)
		return nil, err
	}

	return &Buffer{
		ctx:                ctx,
		buffer:             buffer,
		alloc:              alloc,
		size:               size,
		usage:              usageHint,
		persistentlyMapped: persistentMap,
	}, nil
}

// NewVertexBuffer creates a device-local vertex buffer.
func NewVertexBuffer(ctx *Context, size vk.DeviceSize) (*Buffer, error) {
	return newBuffer(ctx, size,
		vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)|vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
		MemoryDeviceLocal, UsageVertex, false)
}

// NewIndexBuffer creates a device-local index buffer.
func NewIndexBuffer(ctx *Context, size vk.DeviceSize) (*Buffer, error) {
	return newBuffer(ctx, size,
		vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit)|vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
		MemoryDeviceLocal, UsageIndex, false)
}

// NewUniformBuffer creates a host-visible, persistently mapped
// uniform buffer.
func NewUniformBuffer(ctx *Context, size vk.DeviceSize) (*Buffer, error) {
	return newBuffer(ctx, size,
		vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit),
		MemoryHostVisible, UsageUniform, true)
}

// NewStagingBuffer creates a host-visible staging buffer for
// CPU to GPU transfers.
func NewStagingBuffer(ctx *Context, size vk.DeviceSize) (*Buffer, error) {
	return newBuffer(ctx, size,
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		MemoryHostVisible, UsageStaging, false)
}

// NewStreamingBuffer creates the persistently mapped streaming vertex
// arena. It is reset at frame start; exhaustion makes Allocate fail
// and the caller discards the node.
func NewStreamingBuffer(ctx *Context, size vk.DeviceSize) (*Buffer, error) {
	return newBuffer(ctx, size,
		vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)|vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit),
		MemoryHostVisible, UsageStreaming, true)
}

// Handle returns the Vulkan buffer handle.
func (b *Buffer) Handle() vk.Buffer { return b.buffer }

// Size returns the buffer size in bytes.
func (b *Buffer) Size() vk.DeviceSize { return b.size }

// IsValid reports whether the buffer holds a live handle.
func (b *Buffer) IsValid() bool { return b != nil && b.buffer != vk.NullBuffer }

// Mapped returns the persistently mapped bytes of the buffer, or nil.
func (b *Buffer) Mapped() []byte {
	if !b.persistentlyMapped || b.alloc == nil {
		return nil
	}
	m := b.alloc.Mapped()
	if vk.DeviceSize(len(m)) > b.size {
		m = m[:b.size]
	}
	return m
}

// Upload copies data into the buffer at offset. Persistently mapped
// buffers are written directly and flushed; all other buffers go
// through a transient staging buffer and a single-time command
// buffer.
// Flushing is always explicit because memory may not be
// host-coherent.
func (b *Buffer) Upload(data []byte, offset vk.DeviceSize) error {
	if vk.DeviceSize(len(data))+offset > b.size {
		return vkErr("buffer upload", vk.ErrorOutOfDeviceMemory)
	}
	if b.persistentlyMapped {
		copy(b.Mapped()[offset:], data)
		b.Flush(offset, vk.DeviceSize(len(data)))
		return nil
	}

	staging, err := NewStagingBuffer(b.ctx, vk.DeviceSize(len(data)))
	if err != nil {
		return err
	}
	defer staging.destroyNow()

	mapped, err := staging.Map()
	if err != nil {
		return err
	}
	copy(mapped, data)
	staging.Unmap()
	staging.Flush(0, vk.DeviceSize(len(data)))

	cmd, err := b.ctx.BeginSingleTimeCommands()
	if err != nil {
		return err
	}
	region := vk.BufferCopy{
		SrcOffset: 0,
		DstOffset: offset,
		Size:      vk.DeviceSize(len(data)),
	}
	vk.CmdCopyBuffer(cmd, staging.buffer, b.buffer, 1, []vk.BufferCopy{region})
	return b.ctx.EndSingleTimeCommands(cmd)
}

// Map maps the whole buffer. Persistently mapped buffers return their
// standing mapping.
func (b *Buffer) Map() ([]byte, error) {
	if b.persistentlyMapped {
		return b.Mapped(), nil
	}
	if b.alloc.mapped == nil {
		var data unsafe.Pointer
		if err := vkErr("vkMapMemory",
			vk.MapMemory(b.ctx.backend.Device(), b.alloc.memory, 0, b.size, 0, &data)); err != nil {
			return nil, err
		}
		b.alloc.mapped = data
	}
	return b.alloc.Mapped(), nil
}

// Unmap undoes Map for non-persistent buffers.
func (b *Buffer) Unmap() {
	if b.persistentlyMapped {
		return
	}
	if b.alloc.mapped != nil {
		vk.UnmapMemory(b.ctx.backend.Device(), b.alloc.memory)
		b.alloc.mapped = nil
	}
}

// Flush makes host writes in the range visible to the device.
func (b *Buffer) Flush(offset, size vk.DeviceSize) {
	b.ctx.allocator.Flush(b.alloc, offset, size)
}

// Invalidate makes device writes in the range visible to the host.
func (b *Buffer) Invalidate(offset, size vk.DeviceSize) {
	b.ctx.allocator.Invalidate(b.alloc, offset, size)
}

// Allocate bump-allocates size bytes with the given alignment inside
// the streaming arena. It returns the byte offset of the allocation.
// The second result is false when the arena is exhausted; the caller
// must discard the node.
func (b *Buffer) Allocate(size, alignment vk.DeviceSize) (vk.DeviceSize, bool) {
	if !b.persistentlyMapped {
		return 0, false
	}
	aligned := (b.offset + alignment - 1) &^ (alignment - 1)
	if aligned+size > b.size {
		if !b.warnedFull {
			log.Printf("vulkan: streaming buffer exhausted (%d of %d bytes)", aligned+size, b.size)
			b.warnedFull = true
		}
		return 0, false
	}
	b.offset = aligned + size
	return aligned, true
}

// Reset rewinds the streaming bump pointer.
func (b *Buffer) Reset() {
	b.offset = 0
	b.warnedFull = false
}

// BeginFrame prepares the streaming buffer for a new frame.
func (b *Buffer) BeginFrame() {
	b.Reset()
}

// EndFrame flushes writes made through Allocate this frame.
func (b *Buffer) EndFrame() {
	if b.persistentlyMapped && b.offset > 0 {
		b.Flush(0, b.offset)
	}
}

// Release queues the buffer for deferred destruction tagged with the
// current frame's fence.
func (b *Buffer) Release() {
	if b == nil || b.buffer == vk.NullBuffer {
		return
	}
	b.ctx.QueueBufferForDestruction(b.buffer, b.alloc)
	b.buffer = vk.NullBuffer
	b.alloc = nil
}

// destroyNow destroys the buffer immediately. Only safe when the
// buffer was never referenced by an unfinished frame, e.g. transient
// staging buffers after vkQueueWaitIdle.
func (b *Buffer) destroyNow() {
	if b.buffer == vk.NullBuffer {
		return
	}
	vk.DestroyBuffer(b.ctx.backend.Device(), b.buffer, nil)
	b.ctx.allocator.Free(b.alloc)
	b.buffer = vk.NullBuffer
	b.alloc = nil
}
