// SPDX-License-Identifier: Unlicense OR MIT

package vulkan

import (
	"image"
	"log"

	vk "github.com/goki/vulkan"
)

// MaxFramesInFlight bounds how many frames may be recorded before the
// CPU waits for the GPU.
const MaxFramesInFlight = 2

// SyncInfo carries the semaphores and fence of the current frame for
// GPU-GPU synchronization. Submission waits on ImageAvailable at the
// color attachment output stage, signals RenderFinished, and signals
// InFlight for CPU reuse protection.
type SyncInfo struct {
	ImageAvailable vk.Semaphore
	RenderFinished vk.Semaphore
	InFlight       vk.Fence
}

// HasSemaphores reports whether both GPU-GPU semaphores are present.
func (s SyncInfo) HasSemaphores() bool {
	return s.ImageAvailable != vk.NullSemaphore && s.RenderFinished != vk.NullSemaphore
}

// Swapchain owns the presentable image ring for one surface, the
// per-image framebuffers and the per-frame-in-flight sync objects.
//
// Image acquisition order is defined by the driver; no correlation
// between the acquired image index and the frame index may be
// assumed.
type Swapchain struct {
	ctx     *Context
	surface vk.Surface

	swapchain vk.Swapchain
	format    vk.Format
	extent    vk.Extent2D

	images       []vk.Image
	views        []vk.ImageView
	renderPass   *RenderPass
	framebuffers []*Framebuffer

	imageAvailable [MaxFramesInFlight]vk.Semaphore
	renderFinished [MaxFramesInFlight]vk.Semaphore
	inFlight       [MaxFramesInFlight]vk.Fence

	currentImage    uint32
	currentFrame    uint32
	needsRecreation bool
}

// NewSwapchain creates a swapchain for the given surface. The sync
// objects are created once and survive recreation.
func NewSwapchain(ctx *Context, surface vk.Surface, size image.Point) (*Swapchain, error) {
	s := &Swapchain{ctx: ctx, surface: surface}
	if err := s.createSwapchain(size); err != nil {
		return nil, err
	}
	if err := s.createImageViews(); err != nil {
		s.cleanupSwapchain()
		return nil, err
	}
	if err := s.createRenderPass(); err != nil {
		s.cleanupSwapchain()
		return nil, err
	}
	if err := s.createFramebuffers(); err != nil {
		s.cleanupSwapchain()
		return nil, err
	}
	if err := s.createSyncObjects(); err != nil {
		s.Release()
		return nil, err
	}
	return s, nil
}

// pickSurfaceFormat prefers BGRA8 sRGB, falls back to BGRA8 UNORM,
// then to the first advertised format.
func pickSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, f := range formats {
		if f.Format == vk.FormatB8g8r8a8Srgb && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	for _, f := range formats {
		if f.Format == vk.FormatB8g8r8a8Unorm {
			return f
		}
	}
	return formats[0]
}

// pickPresentMode prefers mailbox; FIFO is always available.
func pickPresentMode(modes []vk.PresentMode) vk.PresentMode {
	for _, m := range modes {
		if m == vk.PresentModeMailbox {
			return m
		}
	}
	return vk.PresentModeFifo
}

// pickExtent clamps the requested size to the surface capabilities.
// currentExtent wins when the surface pins it.
func pickExtent(caps vk.SurfaceCapabilities, size image.Point) vk.Extent2D {
	if caps.CurrentExtent.Width != ^uint32(0) {
		return caps.CurrentExtent
	}
	clampU32 := func(v, lo, hi uint32) uint32 {
		if v < lo {
			return lo
		}
		if hi > 0 && v > hi {
			return hi
		}
		return v
	}
	return vk.Extent2D{
		Width:  clampU32(uint32(size.X), caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: clampU32(uint32(size.Y), caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

func (s *Swapchain) createSwapchain(size image.Point) error {
	physDev := s.ctx.backend.PhysicalDevice()
	dev := s.ctx.backend.Device()

	var caps vk.SurfaceCapabilities
	if err := vkErr("vkGetPhysicalDeviceSurfaceCapabilities",
		vk.GetPhysicalDeviceSurfaceCapabilities(physDev, s.surface, &caps)); err != nil {
		return err
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()

	var formatCount uint32
	vk.GetPhysicalDeviceSurfaceFormats(physDev, s.surface, &formatCount, nil)
	formats := make([]vk.SurfaceFormat, formatCount)
	vk.GetPhysicalDeviceSurfaceFormats(physDev, s.surface, &formatCount, formats)
	for i := range formats {
		formats[i].Deref()
	}

	var modeCount uint32
	vk.GetPhysicalDeviceSurfacePresentModes(physDev, s.surface, &modeCount, nil)
	modes := make([]vk.PresentMode, modeCount)
	vk.GetPhysicalDeviceSurfacePresentModes(physDev, s.surface, &modeCount, modes)

	if len(formats) == 0 || len(modes) == 0 {
		return vkErr("surface format query", vk.ErrorFormatNotSupported)
	}

	surfaceFormat := pickSurfaceFormat(formats)
	presentMode := pickPresentMode(modes)
	extent := pickExtent(caps, size)

	// One above the minimum for triple buffering when the surface
	// allows it.
	imageCount := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          s.surface,
		MinImageCount:    imageCount,
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage: vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit) |
			vk.ImageUsageFlags(vk.ImageUsageTransferDstBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
		OldSwapchain:     vk.NullSwapchain,
	}

	var swapchain vk.Swapchain
	if err := vkErr("vkCreateSwapchain", vk.CreateSwapchain(dev, &createInfo, nil, &swapchain)); err != nil {
		return err
	}
	s.swapchain = swapchain
	s.format = surfaceFormat.Format
	s.extent = extent

	var count uint32
	vk.GetSwapchainImages(dev, s.swapchain, &count, nil)
	s.images = make([]vk.Image, count)
	vk.GetSwapchainImages(dev, s.swapchain, &count, s.images)

	log.Printf("vulkan: swapchain created: %d images, %dx%d, format %d",
		count, extent.Width, extent.Height, s.format)
	return nil
}

func (s *Swapchain) createImageViews() error {
	dev := s.ctx.backend.Device()
	s.views = make([]vk.ImageView, len(s.images))
	for i, img := range s.images {
		viewInfo := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    img,
			ViewType: vk.ImageViewType2d,
			Format:   s.format,
			Components: vk.ComponentMapping{
				R: vk.ComponentSwizzleIdentity,
				G: vk.ComponentSwizzleIdentity,
				B: vk.ComponentSwizzleIdentity,
				A: vk.ComponentSwizzleIdentity,
			},
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}
		if err := vkErr("vkCreateImageView", vk.CreateImageView(dev, &viewInfo, nil, &s.views[i])); err != nil {
			return err
		}
	}
	return nil
}

func (s *Swapchain) createRenderPass() error {
	rp, err := NewPresentationRenderPass(s.ctx, s.format)
	if err != nil {
		return err
	}
	s.renderPass = rp
	return nil
}

func (s *Swapchain) createFramebuffers() error {
	size := s.Size()
	s.framebuffers = make([]*Framebuffer, len(s.views))
	for i, view := range s.views {
		fb, err := NewFramebuffer(s.ctx, s.renderPass, view, size)
		if err != nil {
			return err
		}
		s.framebuffers[i] = fb
	}
	return nil
}

func (s *Swapchain) createSyncObjects() error {
	dev := s.ctx.backend.Device()
	semInfo := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	// In-flight fences start signaled so the first frame does not
	// block.
	fenceInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		Flags: vk.FenceCreateFlags(vk.FenceCreateSignaledBit),
	}
	for i := 0; i < MaxFramesInFlight; i++ {
		if err := vkErr("vkCreateSemaphore", vk.CreateSemaphore(dev, &semInfo, nil, &s.imageAvailable[i])); err != nil {
			return err
		}
		if err := vkErr("vkCreateSemaphore", vk.CreateSemaphore(dev, &semInfo, nil, &s.renderFinished[i])); err != nil {
			return err
		}
		if err := vkErr("vkCreateFence", vk.CreateFence(dev, &fenceInfo, nil, &s.inFlight[i])); err != nil {
			return err
		}
	}
	return nil
}

// IsValid reports whether the swapchain holds a live handle.
func (s *Swapchain) IsValid() bool { return s != nil && s.swapchain != vk.NullSwapchain }

// Format returns the swapchain image format.
func (s *Swapchain) Format() vk.Format { return s.format }

// Extent returns the swapchain extent.
func (s *Swapchain) Extent() vk.Extent2D { return s.extent }

// Size returns the swapchain extent as an image.Point.
func (s *Swapchain) Size() image.Point {
	return image.Pt(int(s.extent.Width), int(s.extent.Height))
}

// ImageCount returns the number of swapchain images. Images and
// framebuffers always have identical count.
func (s *Swapchain) ImageCount() int { return len(s.images) }

// RenderPass returns the presentation render pass.
func (s *Swapchain) RenderPass() *RenderPass { return s.renderPass }

// Framebuffer returns the framebuffer for the given image index.
func (s *Swapchain) Framebuffer(index int) *Framebuffer {
	if index < 0 || index >= len(s.framebuffers) {
		return nil
	}
	return s.framebuffers[index]
}

// CurrentFramebuffer returns the framebuffer for the last acquired
// image.
func (s *Swapchain) CurrentFramebuffer() *Framebuffer {
	return s.Framebuffer(int(s.currentImage))
}

// CurrentImageIndex returns the index returned by the last successful
// acquire.
func (s *Swapchain) CurrentImageIndex() uint32 { return s.currentImage }

// CurrentFrame returns the frame index in 0..MaxFramesInFlight-1.
func (s *Swapchain) CurrentFrame() uint32 { return s.currentFrame }

// NeedsRecreation reports whether an out-of-date or suboptimal result
// was observed. No further acquires succeed until Recreate is called.
func (s *Swapchain) NeedsRecreation() bool { return s.needsRecreation }

// ImageAvailableSemaphore returns the acquire semaphore of the
// current frame.
func (s *Swapchain) ImageAvailableSemaphore() vk.Semaphore {
	return s.imageAvailable[s.currentFrame]
}

// RenderFinishedSemaphore returns the present-wait semaphore of the
// current frame.
func (s *Swapchain) RenderFinishedSemaphore() vk.Semaphore {
	return s.renderFinished[s.currentFrame]
}

// InFlightFence returns the fence of the current frame.
func (s *Swapchain) InFlightFence() vk.Fence {
	return s.inFlight[s.currentFrame]
}

// SyncInfo bundles the current frame's sync objects.
func (s *Swapchain) SyncInfo() SyncInfo {
	return SyncInfo{
		ImageAvailable: s.ImageAvailableSemaphore(),
		RenderFinished: s.RenderFinishedSemaphore(),
		InFlight:       s.InFlightFence(),
	}
}

// WaitForFence blocks until the current frame's fence signals.
func (s *Swapchain) WaitForFence() {
	fences := []vk.Fence{s.inFlight[s.currentFrame]}
	vk.WaitForFences(s.ctx.backend.Device(), 1, fences, vk.True, vk.MaxUint64)
}

// ResetFence resets the current frame's fence.
func (s *Swapchain) ResetFence() {
	fences := []vk.Fence{s.inFlight[s.currentFrame]}
	vk.ResetFences(s.ctx.backend.Device(), 1, fences)
}

// AcquireNextImage acquires the next presentable image, signaling the
// current frame's image-available semaphore. Out-of-date and
// suboptimal results mark the swapchain for recreation; out-of-date
// additionally fails the frame.
func (s *Swapchain) AcquireNextImage() (uint32, error) {
	if s.needsRecreation {
		return 0, ErrOutOfDate
	}
	var index uint32
	res := vk.AcquireNextImage(s.ctx.backend.Device(), s.swapchain, vk.MaxUint64,
		s.imageAvailable[s.currentFrame], vk.NullFence, &index)
	switch res {
	case vk.ErrorOutOfDate:
		s.needsRecreation = true
		return 0, ErrOutOfDate
	case vk.Suboptimal:
		s.needsRecreation = true
	case vk.Success:
	default:
		return 0, vkErr("vkAcquireNextImage", res)
	}
	s.currentImage = index
	return index, nil
}

// Present presents the last acquired image, waiting on the current
// frame's render-finished semaphore.
func (s *Swapchain) Present() error {
	waitSems := []vk.Semaphore{s.renderFinished[s.currentFrame]}
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    waitSems,
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.swapchain},
		PImageIndices:      []uint32{s.currentImage},
	}
	res := vk.QueuePresent(s.ctx.backend.GraphicsQueue(), &presentInfo)
	switch res {
	case vk.ErrorOutOfDate:
		s.needsRecreation = true
		return ErrOutOfDate
	case vk.Suboptimal:
		s.needsRecreation = true
		return nil
	case vk.Success:
		return nil
	}
	return vkErr("vkQueuePresent", res)
}

// AdvanceFrame increments the frame index modulo MaxFramesInFlight.
func (s *Swapchain) AdvanceFrame() {
	s.currentFrame = (s.currentFrame + 1) % MaxFramesInFlight
}

// Recreate waits for the device to go idle, destroys framebuffers,
// image views and the old swapchain, and rebuilds them at the new
// size. Sync objects are reused.
func (s *Swapchain) Recreate(size image.Point) error {
	vk.DeviceWaitIdle(s.ctx.backend.Device())
	s.cleanupSwapchain()

	if err := s.createSwapchain(size); err != nil {
		return err
	}
	if err := s.createImageViews(); err != nil {
		return err
	}
	if err := s.createRenderPass(); err != nil {
		return err
	}
	if err := s.createFramebuffers(); err != nil {
		return err
	}
	s.needsRecreation = false
	return nil
}

func (s *Swapchain) cleanupSwapchain() {
	dev := s.ctx.backend.Device()
	for _, fb := range s.framebuffers {
		fb.Release()
	}
	s.framebuffers = nil
	if s.renderPass != nil {
		s.renderPass.Release()
		s.renderPass = nil
	}
	for _, view := range s.views {
		vk.DestroyImageView(dev, view, nil)
	}
	s.views = nil
	s.images = nil
	if s.swapchain != vk.NullSwapchain {
		vk.DestroySwapchain(dev, s.swapchain, nil)
		s.swapchain = vk.NullSwapchain
	}
}

// Release waits for the device to go idle and destroys the swapchain
// and its sync objects.
func (s *Swapchain) Release() {
	dev := s.ctx.backend.Device()
	if dev == vk.Device(vk.NullHandle) {
		return
	}
	vk.DeviceWaitIdle(dev)
	for i := 0; i < MaxFramesInFlight; i++ {
		if s.renderFinished[i] != vk.NullSemaphore {
			vk.DestroySemaphore(dev, s.renderFinished[i], nil)
			s.renderFinished[i] = vk.NullSemaphore
		}
		if s.imageAvailable[i] != vk.NullSemaphore {
			vk.DestroySemaphore(dev, s.imageAvailable[i], nil)
			s.imageAvailable[i] = vk.NullSemaphore
		}
		if s.inFlight[i] != vk.NullFence {
			vk.DestroyFence(dev, s.inFlight[i], nil)
			s.inFlight[i] = vk.NullFence
		}
	}
	s.cleanupSwapchain()
}
