// SPDX-License-Identifier: Unlicense OR MIT

package x11

import (
	"fmt"
	"image"
	"log"

	"github.com/Sonic-DE/sonic-win/gpu/vulkan"
	vk "github.com/goki/vulkan"
	"github.com/jezek/xgb"
	"github.com/jezek/xgb/composite"
	"github.com/jezek/xgb/dri3"
	"github.com/jezek/xgb/xproto"
)

// Backend drives Vulkan rendering for an X11 compositor: it owns the
// overlay window, the input-output child window hosting the Vulkan
// surface, the swapchain and the per-thread rendering context.
type Backend struct {
	*vulkan.Backend

	conn   *xgb.Conn
	screen *xproto.ScreenInfo
	native *nativeConnection

	context   *vulkan.Context
	swapchain *vulkan.Swapchain
	surface   vk.Surface

	overlayWindow xproto.Window
	window        xproto.Window
	colormap      xproto.Colormap

	layer *Layer

	dri3Checked bool
	dri3OK      bool
	dri3Syncobj bool
}

// NewBackend returns an uninitialized X11 Vulkan backend.
func NewBackend() *Backend {
	b := &Backend{Backend: vulkan.NewBackend()}
	b.layer = &Layer{backend: b}
	return b
}

// Context returns the rendering context.
func (b *Backend) Context() *vulkan.Context { return b.context }

// Swapchain returns the presentation swapchain.
func (b *Backend) Swapchain() *vulkan.Swapchain { return b.swapchain }

// Layer returns the primary output layer.
func (b *Backend) Layer() *Layer { return b.layer }

// Connection returns the X11 protocol connection.
func (b *Backend) Connection() *xgb.Conn { return b.conn }

// Window returns the input-output child window hosting the Vulkan
// surface.
func (b *Backend) Window() xproto.Window { return b.window }

// Init brings up the backend: X11 connections, Vulkan instance and
// device, the rendering context, the overlay window, the surface and
// the swapchain. Failure is sticky: Init stops at the first failing
// step and IsFailed reports it; ScreenGeometryChanged is the only
// later operation that checks IsFailed.
func (b *Backend) Init() {
	if err := b.initX11(); err != nil {
		b.SetFailed(err.Error())
		return
	}
	if err := b.CreateInstance("VK_KHR_surface", "VK_KHR_xcb_surface"); err != nil {
		return
	}
	if err := b.SelectPhysicalDevice(); err != nil {
		return
	}
	if err := b.CreateDevice(); err != nil {
		return
	}

	ctx, err := vulkan.NewContext(b.Backend, 1)
	if err != nil {
		b.SetFailed(err.Error())
		return
	}
	b.context = ctx

	// The overlay window must exist before the surface can be
	// created over its child.
	if err := b.initOverlayWindow(); err != nil {
		b.SetFailed(err.Error())
		return
	}
	if err := b.initSurface(); err != nil {
		b.SetFailed(err.Error())
		return
	}
	if err := b.initSwapchain(); err != nil {
		b.SetFailed(err.Error())
		return
	}
	log.Printf("x11: vulkan backend initialized")
}

func (b *Backend) initX11() error {
	conn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("x11: connect: %w", err)
	}
	b.conn = conn
	b.screen = xproto.Setup(conn).DefaultScreen(conn)

	if err := composite.Init(conn); err != nil {
		return fmt.Errorf("x11: composite extension: %w", err)
	}
	if _, err := composite.QueryVersion(conn, 0, 4).Reply(); err != nil {
		return fmt.Errorf("x11: composite version: %w", err)
	}
	// DRI3 is optional; its absence only disables zero-copy import.
	if err := dri3.Init(conn); err == nil {
		b.probeDri3()
	}

	native, err := openNativeConnection()
	if err != nil {
		return err
	}
	b.native = native
	return nil
}

// probeDri3 checks the server's DRI3 version once. Multi-plane
// buffers need 1.2; 1.4 syncobj support is recorded but not
// required.
func (b *Backend) probeDri3() {
	b.dri3Checked = true
	reply, err := dri3.QueryVersion(b.conn, 1, 4).Reply()
	if err != nil {
		log.Printf("x11: dri3 version query: %v", err)
		return
	}
	b.dri3OK = reply.MajorVersion > 1 ||
		(reply.MajorVersion == 1 && reply.MinorVersion >= 2)
	b.dri3Syncobj = reply.MajorVersion > 1 ||
		(reply.MajorVersion == 1 && reply.MinorVersion >= 4)
	log.Printf("x11: dri3 %d.%d, zero-copy import: %v",
		reply.MajorVersion, reply.MinorVersion, b.dri3OK)
}

func (b *Backend) dri3Supported() bool {
	return b.dri3Checked && b.dri3OK
}

// RootSize returns the root window geometry.
func (b *Backend) RootSize() image.Point {
	return image.Pt(int(b.screen.WidthInPixels), int(b.screen.HeightInPixels))
}

// initOverlayWindow claims the composite overlay window, creates a
// colormap on the default visual and an input-output child window
// that hosts the Vulkan surface.
func (b *Backend) initOverlayWindow() error {
	root := b.screen.Root
	reply, err := composite.GetOverlayWindow(b.conn, root).Reply()
	if err != nil {
		return fmt.Errorf("x11: overlay window: %w", err)
	}
	b.overlayWindow = reply.OverlayWin

	cmap, err := xproto.NewColormapId(b.conn)
	if err != nil {
		return fmt.Errorf("x11: colormap id: %w", err)
	}
	b.colormap = cmap
	if err := xproto.CreateColormapChecked(b.conn, xproto.ColormapAllocNone,
		cmap, root, b.screen.RootVisual).Check(); err != nil {
		return fmt.Errorf("x11: create colormap: %w", err)
	}

	size := b.RootSize()
	win, err := xproto.NewWindowId(b.conn)
	if err != nil {
		return fmt.Errorf("x11: window id: %w", err)
	}
	b.window = win
	if err := xproto.CreateWindowChecked(b.conn, b.screen.RootDepth, win, b.overlayWindow,
		0, 0, uint16(size.X), uint16(size.Y), 0,
		xproto.WindowClassInputOutput, b.screen.RootVisual,
		xproto.CwColormap, []uint32{uint32(cmap)}).Check(); err != nil {
		return fmt.Errorf("x11: create window: %w", err)
	}
	if err := xproto.MapWindowChecked(b.conn, win).Check(); err != nil {
		return fmt.Errorf("x11: map window: %w", err)
	}
	return nil
}

// initSurface creates the platform surface over the child window and
// verifies that the graphics queue family can present on it.
func (b *Backend) initSurface() error {
	surface, err := b.native.createVulkanSurface(b.Instance(), b.window)
	if err != nil {
		return err
	}
	b.surface = surface

	var supported vk.Bool32
	vk.GetPhysicalDeviceSurfaceSupport(b.PhysicalDevice(), b.GraphicsQueueFamily(), surface, &supported)
	if supported != vk.True {
		return fmt.Errorf("x11: queue family %d cannot present on the surface", b.GraphicsQueueFamily())
	}
	return nil
}

func (b *Backend) initSwapchain() error {
	swapchain, err := vulkan.NewSwapchain(b.context, b.surface, b.RootSize())
	if err != nil {
		return err
	}
	b.swapchain = swapchain
	b.context.PipelineManager().SetRenderPass(swapchain.RenderPass().Handle())
	return nil
}

// CreateSurfaceTexture creates the importer for a client pixmap.
func (b *Backend) CreateSurfaceTexture(pixmap *SurfacePixmap) *SurfaceTexture {
	return NewSurfaceTexture(b, pixmap)
}

// ScreenGeometryChanged resizes the child window and recreates the
// swapchain at the new size.
func (b *Backend) ScreenGeometryChanged(size image.Point) {
	if b.IsFailed() {
		return
	}
	if b.window != 0 {
		mask := uint16(xproto.ConfigWindowWidth | xproto.ConfigWindowHeight)
		values := []uint32{uint32(size.X), uint32(size.Y)}
		xproto.ConfigureWindow(b.conn, b.window, mask, values)
	}
	if b.swapchain != nil {
		if err := b.swapchain.Recreate(size); err != nil {
			log.Printf("x11: swapchain recreate: %v", err)
			return
		}
		b.context.PipelineManager().SetRenderPass(b.swapchain.RenderPass().Handle())
	}
}

// MakeCurrent readies the context for use on the render thread.
func (b *Backend) MakeCurrent() bool {
	return b.context != nil && b.context.MakeCurrent()
}

// DoneCurrent releases the context from the render thread.
func (b *Backend) DoneCurrent() {
	if b.context != nil {
		b.context.DoneCurrent()
	}
}

// Release tears the backend down. Order matters: swapchain first,
// then the context, then the surface, then X11 resources; the base
// backend destroys device and instance last.
func (b *Backend) Release() {
	if b.swapchain != nil {
		b.swapchain.Release()
		b.swapchain = nil
	}
	if b.context != nil {
		b.context.Release()
		b.context = nil
	}
	if b.surface != vk.NullSurface && b.Instance() != vk.Instance(vk.NullHandle) {
		vk.DestroySurface(b.Instance(), b.surface, nil)
		b.surface = vk.NullSurface
	}
	if b.conn != nil {
		if b.colormap != 0 {
			xproto.FreeColormap(b.conn, b.colormap)
			b.colormap = 0
		}
		if b.window != 0 {
			xproto.DestroyWindow(b.conn, b.window)
			b.window = 0
		}
		if b.overlayWindow != 0 {
			composite.ReleaseOverlayWindow(b.conn, b.screen.Root)
			b.overlayWindow = 0
		}
	}
	if b.native != nil {
		b.native.close()
		b.native = nil
	}
	b.Cleanup()
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}
