// SPDX-License-Identifier: Unlicense OR MIT

package vulkan

import (
	"fmt"
	"log"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// streamingBufferSize is the size of the per-context streaming vertex
// arena.
const streamingBufferSize = 4 * 1024 * 1024

// descriptorSetsPerOutput sizes the descriptor pool. The pool holds
// outputs x this many sets; uniform buffer, combined image sampler
// and storage buffer descriptors are proportioned 1:10:1.
const descriptorSetsPerOutput = 15000

// Context owns the per-thread GPU pools: command pool, descriptor
// pool, pipeline cache, the streaming vertex arena and the
// deferred-destruction queue. All handles allocated from a context
// are destroyed only after the fence of the last frame that
// referenced them has signaled.
type Context struct {
	backend   *Backend
	allocator *Allocator

	commandPool    vk.CommandPool
	descriptorPool vk.DescriptorPool
	poolMaxSets    uint32
	allocatedSets  uint32

	pipelineManager *PipelineManager
	streamingBuffer *Buffer

	framebufferStack []*Framebuffer

	fence          vk.Fence // lazy context fence for fallback sync
	prevFrameFence vk.Fence // fence of the most recently submitted frame

	pending      []pendingDestroy
	shuttingDown bool

	supportsDmaBufImport bool

	outputs int
}

// pendingDestroy is one deferred destruction: run destroy once fence
// has signaled. Entries are drained in insertion order, which
// preserves view-before-image ordering per parent.
type pendingDestroy struct {
	fence   vk.Fence
	destroy func()
}

// currentContext identifies the active context for scene-walker
// callers. All rendering happens on the single render thread, so a
// package variable stands in for a thread-local.
var currentContext *Context

// Current returns the context made current on the render thread, or
// nil.
func Current() *Context { return currentContext }

// NewContext creates the per-thread rendering context. outputs sizes
// the descriptor pool.
func NewContext(backend *Backend, outputs int) (*Context, error) {
	if outputs < 1 {
		outputs = 1
	}
	ctx := &Context{
		backend: backend,
		outputs: outputs,
	}

	allocator, err := NewAllocator(backend)
	if err != nil {
		return nil, fmt.Errorf("vulkan: context: %w", err)
	}
	ctx.allocator = allocator

	if err := ctx.createCommandPool(); err != nil {
		return nil, err
	}
	if err := ctx.createDescriptorPool(); err != nil {
		ctx.Release()
		return nil, err
	}

	ctx.pipelineManager = NewPipelineManager(ctx)

	streaming, err := NewStreamingBuffer(ctx, streamingBufferSize)
	if err != nil {
		ctx.Release()
		return nil, err
	}
	ctx.streamingBuffer = streaming

	// DMA-BUF import needs the external memory dma_buf extension; the
	// backend probed and enabled it during device creation.
	ctx.supportsDmaBufImport = backend.SupportsDmaBufImport()

	log.Printf("vulkan: context created, dmabuf import: %v", ctx.supportsDmaBufImport)
	return ctx, nil
}

func (c *Context) createCommandPool() error {
	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: c.backend.GraphicsQueueFamily(),
	}
	return vkErr("vkCreateCommandPool",
		vk.CreateCommandPool(c.backend.Device(), &poolInfo, nil, &c.commandPool))
}

func (c *Context) createDescriptorPool() error {
	maxSets := uint32(c.outputs * descriptorSetsPerOutput)
	poolSizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: maxSets},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: maxSets * 10},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: maxSets},
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
		MaxSets:       maxSets,
	}
	if err := vkErr("vkCreateDescriptorPool",
		vk.CreateDescriptorPool(c.backend.Device(), &poolInfo, nil, &c.descriptorPool)); err != nil {
		return err
	}
	c.poolMaxSets = maxSets
	c.allocatedSets = 0
	return nil
}

// MakeCurrent makes this context current for the render thread.
func (c *Context) MakeCurrent() bool {
	if !c.IsValid() {
		return false
	}
	currentContext = c
	return true
}

// DoneCurrent releases the context from the render thread.
func (c *Context) DoneCurrent() {
	if currentContext == c {
		currentContext = nil
	}
}

// IsValid reports whether the context is usable.
func (c *Context) IsValid() bool {
	return c != nil && c.commandPool != vk.NullCommandPool && c.descriptorPool != vk.NullDescriptorPool
}

// Backend returns the owning backend.
func (c *Context) Backend() *Backend { return c.backend }

// Allocator returns the context's memory allocator.
func (c *Context) Allocator() *Allocator { return c.allocator }

// CommandPool returns the command pool handle.
func (c *Context) CommandPool() vk.CommandPool { return c.commandPool }

// DescriptorPool returns the descriptor pool handle.
func (c *Context) DescriptorPool() vk.DescriptorPool { return c.descriptorPool }

// PipelineManager returns the trait-keyed pipeline cache.
func (c *Context) PipelineManager() *PipelineManager { return c.pipelineManager }

// StreamingBuffer returns the per-frame streaming vertex arena.
func (c *Context) StreamingBuffer() *Buffer { return c.streamingBuffer }

// SupportsDmaBufImport reports DMA-BUF import capability.
func (c *Context) SupportsDmaBufImport() bool { return c.supportsDmaBufImport }

// SupportsExternalFenceFd reports exportable sync-fd fence
// capability.
func (c *Context) SupportsExternalFenceFd() bool { return c.backend.SupportsExternalFenceFd() }

// AllocateCommandBuffer allocates a primary command buffer from the
// pool.
func (c *Context) AllocateCommandBuffer() (vk.CommandBuffer, error) {
	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        c.commandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	cmdBuffers := make([]vk.CommandBuffer, 1)
	if err := vkErr("vkAllocateCommandBuffers",
		vk.AllocateCommandBuffers(c.backend.Device(), &allocInfo, cmdBuffers)); err != nil {
		return nil, err
	}
	return cmdBuffers[0], nil
}

// FreeCommandBuffer returns a command buffer to the pool.
func (c *Context) FreeCommandBuffer(cmd vk.CommandBuffer) {
	if cmd != nil {
		vk.FreeCommandBuffers(c.backend.Device(), c.commandPool, 1, []vk.CommandBuffer{cmd})
	}
}

// BeginSingleTimeCommands allocates and begins a one-shot command
// buffer. This path is used only for resource setup, never for frame
// rendering.
func (c *Context) BeginSingleTimeCommands() (vk.CommandBuffer, error) {
	cmd, err := c.AllocateCommandBuffer()
	if err != nil {
		return nil, err
	}
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := vkErr("vkBeginCommandBuffer", vk.BeginCommandBuffer(cmd, &beginInfo)); err != nil {
		c.FreeCommandBuffer(cmd)
		return nil, err
	}
	return cmd, nil
}

// EndSingleTimeCommands submits a one-shot command buffer and waits
// for the graphics queue to go idle.
func (c *Context) EndSingleTimeCommands(cmd vk.CommandBuffer) error {
	defer c.FreeCommandBuffer(cmd)
	if err := vkErr("vkEndCommandBuffer", vk.EndCommandBuffer(cmd)); err != nil {
		return err
	}
	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cmd},
	}
	if err := vkErr("vkQueueSubmit",
		vk.QueueSubmit(c.backend.GraphicsQueue(), 1, []vk.SubmitInfo{submitInfo}, vk.NullFence)); err != nil {
		return err
	}
	return vkErr("vkQueueWaitIdle", vk.QueueWaitIdle(c.backend.GraphicsQueue()))
}

// NoteFrameFence records the fence of the frame submitted last. The
// descriptor pool reset and the deferred-destruction queue are gated
// on it.
func (c *Context) NoteFrameFence(fence vk.Fence) {
	c.prevFrameFence = fence
}

// AllocateDescriptorSet allocates one descriptor set. Sets are never
// freed individually; on exhaustion the pool is reset after the
// previous frame's fence has signaled, then the allocation is
// retried.
func (c *Context) AllocateDescriptorSet(layout vk.DescriptorSetLayout) (vk.DescriptorSet, error) {
	set, res := c.tryAllocateDescriptorSet(layout)
	if res == vk.Success {
		return set, nil
	}
	if res != vk.ErrorOutOfPoolMemory && res != vk.ErrorFragmentedPool {
		return vk.NullDescriptorSet, vkErr("vkAllocateDescriptorSets", res)
	}

	logOnce("descriptor pool exhausted after %d sets, resetting", c.allocatedSets)
	c.resetDescriptorPool()

	set, res = c.tryAllocateDescriptorSet(layout)
	if res != vk.Success {
		return vk.NullDescriptorSet, vkErr("vkAllocateDescriptorSets", res)
	}
	return set, nil
}

func (c *Context) tryAllocateDescriptorSet(layout vk.DescriptorSetLayout) (vk.DescriptorSet, vk.Result) {
	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     c.descriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout},
	}
	var set vk.DescriptorSet
	res := vk.AllocateDescriptorSets(c.backend.Device(), &allocInfo, &set)
	if res == vk.Success {
		c.allocatedSets++
	}
	return set, res
}

// resetDescriptorPool resets the pool once the previous frame's fence
// has signaled, so no in-flight command buffer references a freed
// set.
func (c *Context) resetDescriptorPool() {
	dev := c.backend.Device()
	if c.prevFrameFence != vk.NullFence {
		fences := []vk.Fence{c.prevFrameFence}
		vk.WaitForFences(dev, 1, fences, vk.True, vk.MaxUint64)
	} else {
		vk.DeviceWaitIdle(dev)
	}
	vk.ResetDescriptorPool(dev, c.descriptorPool, 0)
	c.allocatedSets = 0
}

// PushFramebuffer pushes fbo onto the framebuffer stack.
func (c *Context) PushFramebuffer(fbo *Framebuffer) {
	c.framebufferStack = append(c.framebufferStack, fbo)
}

// PopFramebuffer pops the framebuffer stack.
func (c *Context) PopFramebuffer() *Framebuffer {
	if len(c.framebufferStack) == 0 {
		return nil
	}
	fbo := c.framebufferStack[len(c.framebufferStack)-1]
	c.framebufferStack = c.framebufferStack[:len(c.framebufferStack)-1]
	return fbo
}

// CurrentFramebuffer returns the top of the framebuffer stack.
func (c *Context) CurrentFramebuffer() *Framebuffer {
	if len(c.framebufferStack) == 0 {
		return nil
	}
	return c.framebufferStack[len(c.framebufferStack)-1]
}

// GetOrCreateFence returns the context's fallback fence, creating it
// on first use.
func (c *Context) GetOrCreateFence() vk.Fence {
	if c.fence == vk.NullFence {
		fenceInfo := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
		if err := vkErr("vkCreateFence",
			vk.CreateFence(c.backend.Device(), &fenceInfo, nil, &c.fence)); err != nil {
			log.Printf("%v", err)
			return vk.NullFence
		}
	}
	return c.fence
}

// CreateExportableFence creates a one-shot fence whose signal state
// can be exported as a sync file descriptor. Returns NullFence when
// the device lacks exportable fences.
func (c *Context) CreateExportableFence() vk.Fence {
	if !c.SupportsExternalFenceFd() {
		return vk.NullFence
	}
	exportInfo := vk.ExportFenceCreateInfo{
		SType:       vk.StructureTypeExportFenceCreateInfo,
		HandleTypes: vk.ExternalFenceHandleTypeFlags(vk.ExternalFenceHandleTypeSyncFdBit),
	}
	fenceInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		PNext: unsafe.Pointer(&exportInfo),
	}
	var fence vk.Fence
	if err := vkErr("vkCreateFence", vk.CreateFence(c.backend.Device(), &fenceInfo, nil, &fence)); err != nil {
		log.Printf("%v", err)
		return vk.NullFence
	}
	return fence
}

// ExportFenceToSyncFd exports a fence created with
// CreateExportableFence to a sync file descriptor. The caller owns
// the returned fd.
func (c *Context) ExportFenceToSyncFd(fence vk.Fence) (int, error) {
	if !c.SupportsExternalFenceFd() || fence == vk.NullFence {
		return -1, fmt.Errorf("vulkan: exportable fences unsupported")
	}
	getFdInfo := vk.FenceGetFdInfo{
		SType:      vk.StructureTypeFenceGetFdInfo,
		Fence:      fence,
		HandleType: vk.ExternalFenceHandleTypeSyncFdBit,
	}
	var fd int32
	if err := vkErr("vkGetFenceFd", vk.GetFenceFd(c.backend.Device(), &getFdInfo, &fd)); err != nil {
		return -1, err
	}
	return int(fd), nil
}

// DeferDestroy queues destroy to run once fence has signaled. A null
// fence means the resource was never referenced by an unfinished
// frame and is destroyed on the next drain.
func (c *Context) DeferDestroy(fence vk.Fence, destroy func()) {
	if c.shuttingDown {
		// Device is already idle during shutdown.
		destroy()
		return
	}
	c.pending = append(c.pending, pendingDestroy{fence: fence, destroy: destroy})
}

// QueueSamplerForDestruction defers destruction of a sampler still
// referenced by in-flight command buffers.
func (c *Context) QueueSamplerForDestruction(sampler vk.Sampler) {
	dev := c.backend.Device()
	c.DeferDestroy(c.prevFrameFence, func() {
		vk.DestroySampler(dev, sampler, nil)
	})
}

// QueueBufferForDestruction defers destruction of a buffer and its
// allocation.
func (c *Context) QueueBufferForDestruction(buffer vk.Buffer, alloc *Allocation) {
	dev := c.backend.Device()
	allocator := c.allocator
	c.DeferDestroy(c.prevFrameFence, func() {
		vk.DestroyBuffer(dev, buffer, nil)
		if alloc != nil {
			allocator.Free(alloc)
		}
	})
}

// QueueImageViewForDestruction defers destruction of an image view.
// Views must be queued before their parent image; the queue preserves
// insertion order.
func (c *Context) QueueImageViewForDestruction(view vk.ImageView) {
	dev := c.backend.Device()
	c.DeferDestroy(c.prevFrameFence, func() {
		vk.DestroyImageView(dev, view, nil)
	})
}

// QueueImageForDestruction defers destruction of an image together
// with its allocator-backed memory, or raw device memory for
// imported images.
func (c *Context) QueueImageForDestruction(img vk.Image, alloc *Allocation, memory vk.DeviceMemory) {
	dev := c.backend.Device()
	allocator := c.allocator
	c.DeferDestroy(c.prevFrameFence, func() {
		vk.DestroyImage(dev, img, nil)
		if alloc != nil {
			allocator.Free(alloc)
		}
		if memory != vk.NullDeviceMemory {
			vk.FreeMemory(dev, memory, nil)
		}
	})
}

// QueueImageAndViewForDestruction defers view and image destruction
// in the correct order.
func (c *Context) QueueImageAndViewForDestruction(view vk.ImageView, img vk.Image) {
	c.QueueImageViewForDestruction(view)
	c.QueueImageForDestruction(img, nil, vk.NullDeviceMemory)
}

// CleanupPendingResources drains queued destructions whose fence has
// signaled. Called at frame boundaries.
func (c *Context) CleanupPendingResources() {
	dev := c.backend.Device()
	kept := c.pending[:0]
	// Entries drain front to back; an unsignaled fence blocks
	// everything behind it so per-parent ordering survives partial
	// drains.
	blocked := false
	for _, p := range c.pending {
		if blocked {
			kept = append(kept, p)
			continue
		}
		if p.fence != vk.NullFence && vk.GetFenceStatus(dev, p.fence) != vk.Success {
			blocked = true
			kept = append(kept, p)
			continue
		}
		p.destroy()
	}
	c.pending = kept
}

// Release waits for the device to go idle, drains the deferred
// queue, and destroys all pools. Direct destruction is safe because
// the device is idle.
func (c *Context) Release() {
	dev := c.backend.Device()
	if dev == vk.Device(vk.NullHandle) {
		return
	}
	c.DoneCurrent()
	vk.DeviceWaitIdle(dev)
	c.shuttingDown = true

	for _, p := range c.pending {
		p.destroy()
	}
	c.pending = nil

	if c.streamingBuffer != nil {
		c.streamingBuffer.destroyNow()
		c.streamingBuffer = nil
	}
	if c.pipelineManager != nil {
		c.pipelineManager.ClearCache()
		c.pipelineManager = nil
	}
	if c.fence != vk.NullFence {
		vk.DestroyFence(dev, c.fence, nil)
		c.fence = vk.NullFence
	}
	if c.descriptorPool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(dev, c.descriptorPool, nil)
		c.descriptorPool = vk.NullDescriptorPool
	}
	if c.commandPool != vk.NullCommandPool {
		vk.DestroyCommandPool(dev, c.commandPool, nil)
		c.commandPool = vk.NullCommandPool
	}
	if c.allocator != nil {
		c.allocator.Shutdown()
	}
}
