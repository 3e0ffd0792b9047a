// SPDX-License-Identifier: Unlicense OR MIT

package x11

import (
	"errors"
	"image"
	"log"
	"time"

	"github.com/Sonic-DE/sonic-win/gpu/vulkan"
)

// PresentationMode records how a frame reached the screen.
type PresentationMode int

const (
	// PresentationVSync is a synchronized page flip.
	PresentationVSync PresentationMode = iota
)

// OutputFrame is the presentation record of one output frame.
type OutputFrame struct {
	presentedAt time.Time
	mode        PresentationMode
	presented   bool
}

// Presented records the presentation timestamp and mode.
func (f *OutputFrame) Presented(at time.Time, mode PresentationMode) {
	f.presentedAt = at
	f.mode = mode
	f.presented = true
}

// IsPresented reports whether the frame was presented.
func (f *OutputFrame) IsPresented() bool { return f.presented }

// PresentedAt returns the recorded presentation time.
func (f *OutputFrame) PresentedAt() time.Time { return f.presentedAt }

// Mode returns the recorded presentation mode.
func (f *OutputFrame) Mode() PresentationMode { return f.mode }

// Layer is the per-output presenter: it runs the swapchain's
// begin-frame/end-frame/present loop and hands the scene walker its
// render target.
type Layer struct {
	backend *Backend
}

// BeginFrame waits for the current frame's fence, acquires the next
// swapchain image, and returns a render target carrying the acquired
// framebuffer and the frame's sync triplet. A nil target with a nil
// error means the frame is skipped pending swapchain recreation.
func (l *Layer) BeginFrame() (*vulkan.RenderTarget, error) {
	swapchain := l.backend.Swapchain()
	if swapchain == nil || !swapchain.IsValid() {
		return nil, errors.New("x11: no valid swapchain")
	}

	swapchain.WaitForFence()
	swapchain.ResetFence()

	if _, err := swapchain.AcquireNextImage(); err != nil {
		if errors.Is(err, vulkan.ErrOutOfDate) {
			// Skip this frame; Present or the caller triggers the
			// recreate.
			return nil, nil
		}
		return nil, err
	}

	fb := swapchain.CurrentFramebuffer()
	if fb == nil {
		return nil, errors.New("x11: no framebuffer for acquired image")
	}

	target := vulkan.NewFramebufferRenderTarget(fb)
	target.SetSyncInfo(swapchain.SyncInfo())
	return target, nil
}

// EndFrame is a no-op: the scene walker already submitted the frame
// with semaphore sync.
func (l *Layer) EndFrame(region image.Rectangle) {
}

// Present presents the rendered frame, records the vsync timestamp
// into the output frame, and advances the frame index. A present
// failure with an out-of-date swapchain triggers recreation at the
// current root geometry.
func (l *Layer) Present(frame *OutputFrame) bool {
	swapchain := l.backend.Swapchain()
	if swapchain == nil || !swapchain.IsValid() {
		return false
	}

	err := swapchain.Present()
	now := time.Now()

	if frame != nil {
		// The frame is marked presented even on failure so the
		// compositor's frame scheduling does not stall.
		frame.Presented(now, PresentationVSync)
	}

	if err != nil {
		if errors.Is(err, vulkan.ErrOutOfDate) && swapchain.NeedsRecreation() {
			size := l.backend.RootSize()
			if rerr := swapchain.Recreate(size); rerr != nil {
				log.Printf("x11: swapchain recreate after present: %v", rerr)
			} else {
				l.backend.Context().PipelineManager().SetRenderPass(swapchain.RenderPass().Handle())
			}
		} else {
			log.Printf("x11: present: %v", err)
		}
		swapchain.AdvanceFrame()
		return false
	}

	swapchain.AdvanceFrame()
	return true
}
