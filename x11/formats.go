// SPDX-License-Identifier: Unlicense OR MIT

// Package x11 glues the Vulkan backend to an X11 server: the overlay
// window hosting the swapchain surface, the per-output present loop,
// and the importer turning X11 pixmaps into GPU textures via DRI3
// DMA-BUF or a CPU upload fallback.
package x11

import (
	"image"

	vk "github.com/goki/vulkan"
)

// fourcc builds a DRM format code from its four character tag.
func fourcc(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// DRM fourcc codes understood by the importer.
var (
	DrmFormatARGB8888    = fourcc('A', 'R', '2', '4')
	DrmFormatXRGB8888    = fourcc('X', 'R', '2', '4')
	DrmFormatABGR8888    = fourcc('A', 'B', '2', '4')
	DrmFormatXBGR8888    = fourcc('X', 'B', '2', '4')
	DrmFormatXRGB2101010 = fourcc('X', 'R', '3', '0')
	DrmFormatRGB565      = fourcc('R', 'G', '1', '6')
	DrmFormatABGR16F     = fourcc('A', 'B', '4', 'H')
	DrmFormatNV12        = fourcc('N', 'V', '1', '2')
	DrmFormatR8          = fourcc('R', '8', ' ', ' ')
	DrmFormatGR88        = fourcc('G', 'R', '8', '8')

	// DrmModifierInvalid marks a buffer without an explicit layout
	// modifier, the usual case for X11 pixmaps.
	DrmModifierInvalid = uint64(0x00ffffffffffffff)
)

// DepthToDrmFormat maps an X11 pixmap depth to the DRM format of its
// buffer. Unknown depths return zero.
func DepthToDrmFormat(depth byte) uint32 {
	switch depth {
	case 32:
		return DrmFormatARGB8888
	case 30:
		return DrmFormatXRGB2101010
	case 24:
		return DrmFormatXRGB8888
	case 16:
		return DrmFormatRGB565
	}
	return 0
}

// DrmFormatToVkFormat maps a DRM fourcc to the Vulkan format used
// for import. Unknown formats return VK_FORMAT_UNDEFINED.
func DrmFormatToVkFormat(format uint32) vk.Format {
	switch format {
	case DrmFormatARGB8888, DrmFormatXRGB8888:
		return vk.FormatB8g8r8a8Unorm
	case DrmFormatABGR8888, DrmFormatXBGR8888:
		return vk.FormatR8g8b8a8Unorm
	case DrmFormatXRGB2101010:
		return vk.FormatA2r10g10b10UnormPack32
	case DrmFormatRGB565:
		return vk.FormatR5g6b5UnormPack16
	case DrmFormatABGR16F:
		return vk.FormatR16g16b16a16Sfloat
	case DrmFormatR8:
		return vk.FormatR8Unorm
	case DrmFormatGR88:
		return vk.FormatR8g8Unorm
	}
	return vk.FormatUndefined
}

// yuvPlane describes one plane of a planar YUV format: the DRM
// format of the plane and its subsampling divisors.
type yuvPlane struct {
	format        uint32
	widthDivisor  int
	heightDivisor int
}

// yuvPlaneLayout returns the plane layout of a planar YUV format, or
// false for single-plane formats.
func yuvPlaneLayout(format uint32) ([]yuvPlane, bool) {
	switch format {
	case DrmFormatNV12:
		return []yuvPlane{
			{format: DrmFormatR8, widthDivisor: 1, heightDivisor: 1},
			{format: DrmFormatGR88, widthDivisor: 2, heightDivisor: 2},
		}, true
	}
	return nil, false
}

// planeSize returns the subsampled size of a YUV plane.
func planeSize(full image.Point, plane yuvPlane) image.Point {
	return image.Pt(full.X/plane.widthDivisor, full.Y/plane.heightDivisor)
}
