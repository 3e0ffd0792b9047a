// SPDX-License-Identifier: Unlicense OR MIT

//go:build linux

package x11

/*
#cgo pkg-config: xcb xcb-dri3
#cgo LDFLAGS: -lvulkan

#include <stdlib.h>
#include <string.h>
#include <xcb/xcb.h>
#include <xcb/dri3.h>

#define VK_USE_PLATFORM_XCB_KHR
#include <vulkan/vulkan.h>

static VkResult sonic_create_xcb_surface(VkInstance instance, xcb_connection_t *conn,
		xcb_window_t window, uint64_t *out) {
	VkXcbSurfaceCreateInfoKHR info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_XCB_SURFACE_CREATE_INFO_KHR;
	info.connection = conn;
	info.window = window;
	VkSurfaceKHR surface = VK_NULL_HANDLE;
	VkResult res = vkCreateXcbSurfaceKHR(instance, &info, NULL, &surface);
	*out = (uint64_t)surface;
	return res;
}

typedef struct sonic_dri3_buffers {
	int      nfd;
	int      fds[4];
	uint32_t strides[4];
	uint32_t offsets[4];
	uint16_t width;
	uint16_t height;
	uint8_t  depth;
	uint8_t  bpp;
	uint64_t modifier;
} sonic_dri3_buffers;

static int sonic_dri3_buffers_from_pixmap(xcb_connection_t *conn, xcb_pixmap_t pixmap,
		sonic_dri3_buffers *out) {
	xcb_dri3_buffers_from_pixmap_cookie_t cookie = xcb_dri3_buffers_from_pixmap(conn, pixmap);
	xcb_dri3_buffers_from_pixmap_reply_t *reply = xcb_dri3_buffers_from_pixmap_reply(conn, cookie, NULL);
	if (!reply) {
		return -1;
	}
	int nfd = reply->nfd;
	if (nfd < 1 || nfd > 4) {
		free(reply);
		return -1;
	}
	int *fds = xcb_dri3_buffers_from_pixmap_reply_fds(conn, reply);
	uint32_t *strides = xcb_dri3_buffers_from_pixmap_strides(reply);
	uint32_t *offsets = xcb_dri3_buffers_from_pixmap_offsets(reply);
	memset(out, 0, sizeof(*out));
	out->nfd = nfd;
	for (int i = 0; i < nfd; i++) {
		out->fds[i] = fds ? fds[i] : -1;
		out->strides[i] = strides ? strides[i] : 0;
		out->offsets[i] = offsets ? offsets[i] : 0;
	}
	out->width = reply->width;
	out->height = reply->height;
	out->depth = reply->depth;
	out->bpp = reply->bpp;
	out->modifier = reply->modifier;
	free(reply);
	return 0;
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/jezek/xgb/xproto"
)

// nativeConnection is the side channel to the X server used where
// the pure-Go protocol connection cannot serve: receiving DRI3 file
// descriptors and creating the Vulkan surface. Window and pixmap ids
// are server-side and shared between connections.
type nativeConnection struct {
	conn *C.xcb_connection_t
}

func openNativeConnection() (*nativeConnection, error) {
	conn := C.xcb_connect(nil, nil)
	if conn == nil || C.xcb_connection_has_error(conn) != 0 {
		if conn != nil {
			C.xcb_disconnect(conn)
		}
		return nil, fmt.Errorf("x11: xcb_connect failed")
	}
	return &nativeConnection{conn: conn}, nil
}

func (n *nativeConnection) close() {
	if n.conn != nil {
		C.xcb_disconnect(n.conn)
		n.conn = nil
	}
}

// createVulkanSurface creates a VkSurfaceKHR over the given window.
func (n *nativeConnection) createVulkanSurface(instance vk.Instance, window xproto.Window) (vk.Surface, error) {
	// The binding's Instance is a pointer-sized handle; reinterpret
	// it for the C side.
	raw := *(*unsafe.Pointer)(unsafe.Pointer(&instance))
	var out C.uint64_t
	res := C.sonic_create_xcb_surface(C.VkInstance(raw), n.conn, C.xcb_window_t(window), &out)
	if res != C.VK_SUCCESS {
		return vk.NullSurface, fmt.Errorf("x11: vkCreateXcbSurfaceKHR: %d", int(res))
	}
	return vk.SurfaceFromPointer(uintptr(out)), nil
}

// buffersFromPixmap fetches the DMA-BUF planes of a pixmap via DRI3.
// The returned fds are owned by the caller.
func (n *nativeConnection) buffersFromPixmap(pixmap xproto.Pixmap) (*dri3Buffers, error) {
	var out C.sonic_dri3_buffers
	if C.sonic_dri3_buffers_from_pixmap(n.conn, C.xcb_pixmap_t(pixmap), &out) != 0 {
		return nil, fmt.Errorf("x11: dri3 buffers_from_pixmap failed for pixmap %d", pixmap)
	}
	b := &dri3Buffers{
		NFd:      int(out.nfd),
		Width:    int(out.width),
		Height:   int(out.height),
		Depth:    byte(out.depth),
		Bpp:      byte(out.bpp),
		Modifier: uint64(out.modifier),
	}
	for i := 0; i < b.NFd; i++ {
		b.Fds[i] = int(out.fds[i])
		b.Strides[i] = uint32(out.strides[i])
		b.Offsets[i] = uint32(out.offsets[i])
	}
	return b, nil
}

// dri3Buffers is the decoded buffers_from_pixmap reply.
type dri3Buffers struct {
	NFd      int
	Fds      [4]int
	Strides  [4]uint32
	Offsets  [4]uint32
	Width    int
	Height   int
	Depth    byte
	Bpp      byte
	Modifier uint64
}
