// SPDX-License-Identifier: Unlicense OR MIT

package vulkan

import (
	"image"
)

// RenderTarget is what a presenter hands to the scene walker for one
// frame: a framebuffer and, for swapchain targets, the sync triplet
// of the current frame.
type RenderTarget struct {
	framebuffer *Framebuffer
	texture     *Texture

	syncInfo SyncInfo
	hasSync  bool
}

// NewFramebufferRenderTarget wraps a framebuffer.
func NewFramebufferRenderTarget(fb *Framebuffer) *RenderTarget {
	return &RenderTarget{framebuffer: fb}
}

// NewTextureRenderTarget wraps an offscreen texture target.
func NewTextureRenderTarget(t *Texture) *RenderTarget {
	return &RenderTarget{texture: t}
}

// Framebuffer returns the framebuffer, or nil for texture targets.
func (rt *RenderTarget) Framebuffer() *Framebuffer { return rt.framebuffer }

// Texture returns the texture, or nil for framebuffer targets.
func (rt *RenderTarget) Texture() *Texture { return rt.texture }

// Size returns the target size in pixels.
func (rt *RenderTarget) Size() image.Point {
	switch {
	case rt.framebuffer != nil:
		return rt.framebuffer.Size()
	case rt.texture != nil:
		return rt.texture.Size()
	}
	return image.Point{}
}

// SetSyncInfo attaches the swapchain sync triplet. The renderer waits
// on ImageAvailable, signals RenderFinished and fences with InFlight.
func (rt *RenderTarget) SetSyncInfo(info SyncInfo) {
	rt.syncInfo = info
	rt.hasSync = true
}

// SyncInfo returns the attached sync triplet.
func (rt *RenderTarget) SyncInfo() SyncInfo { return rt.syncInfo }

// HasSyncInfo reports whether a sync triplet was attached.
func (rt *RenderTarget) HasSyncInfo() bool { return rt.hasSync }
