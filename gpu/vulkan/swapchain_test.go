// SPDX-License-Identifier: Unlicense OR MIT

package vulkan

import (
	"image"
	"testing"

	vk "github.com/goki/vulkan"
)

func TestPickSurfaceFormat(t *testing.T) {
	srgb := vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	unorm := vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	other := vk.SurfaceFormat{Format: vk.FormatR8g8b8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}

	tests := []struct {
		name    string
		formats []vk.SurfaceFormat
		want    vk.Format
	}{
		{"prefers sRGB", []vk.SurfaceFormat{other, unorm, srgb}, vk.FormatB8g8r8a8Srgb},
		{"falls back to UNORM", []vk.SurfaceFormat{other, unorm}, vk.FormatB8g8r8a8Unorm},
		{"first as last resort", []vk.SurfaceFormat{other}, vk.FormatR8g8b8a8Unorm},
	}
	for _, tc := range tests {
		if got := pickSurfaceFormat(tc.formats); got.Format != tc.want {
			t.Errorf("%s: got format %d, want %d", tc.name, got.Format, tc.want)
		}
	}
}

func TestPickPresentMode(t *testing.T) {
	got := pickPresentMode([]vk.PresentMode{vk.PresentModeFifo, vk.PresentModeMailbox})
	if got != vk.PresentModeMailbox {
		t.Errorf("got %d, want mailbox", got)
	}
	got = pickPresentMode([]vk.PresentMode{vk.PresentModeFifo, vk.PresentModeImmediate})
	if got != vk.PresentModeFifo {
		t.Errorf("got %d, want fifo", got)
	}
}

func TestPickExtent(t *testing.T) {
	caps := vk.SurfaceCapabilities{
		CurrentExtent:  vk.Extent2D{Width: ^uint32(0), Height: ^uint32(0)},
		MinImageExtent: vk.Extent2D{Width: 64, Height: 64},
		MaxImageExtent: vk.Extent2D{Width: 4096, Height: 4096},
	}
	got := pickExtent(caps, image.Pt(1920, 1080))
	if got.Width != 1920 || got.Height != 1080 {
		t.Errorf("free extent = %dx%d, want 1920x1080", got.Width, got.Height)
	}

	got = pickExtent(caps, image.Pt(16, 8192))
	if got.Width != 64 || got.Height != 4096 {
		t.Errorf("clamped extent = %dx%d, want 64x4096", got.Width, got.Height)
	}

	// A pinned currentExtent wins over the request.
	caps.CurrentExtent = vk.Extent2D{Width: 800, Height: 600}
	got = pickExtent(caps, image.Pt(1920, 1080))
	if got.Width != 800 || got.Height != 600 {
		t.Errorf("pinned extent = %dx%d, want 800x600", got.Width, got.Height)
	}
}

func TestAdvanceFrameCycles(t *testing.T) {
	// With no swapchain loss the frame index runs 0,1,0,1,...
	s := &Swapchain{}
	want := []uint32{0, 1, 0, 1, 0, 1, 0, 1}
	for i, w := range want {
		if got := s.CurrentFrame(); got != w {
			t.Fatalf("frame %d: index = %d, want %d", i, got, w)
		}
		s.AdvanceFrame()
	}
}

func TestSyncInfoHasSemaphores(t *testing.T) {
	var info SyncInfo
	if info.HasSemaphores() {
		t.Error("zero SyncInfo reports semaphores")
	}
	info.ImageAvailable = vk.Semaphore(1)
	if info.HasSemaphores() {
		t.Error("single semaphore reported complete")
	}
	info.RenderFinished = vk.Semaphore(2)
	if !info.HasSemaphores() {
		t.Error("both semaphores not reported")
	}
}

func TestAcquireAfterLossFails(t *testing.T) {
	s := &Swapchain{needsRecreation: true}
	if _, err := s.AcquireNextImage(); err == nil {
		t.Fatal("acquire succeeded on a swapchain marked for recreation")
	}
}
