// SPDX-License-Identifier: Unlicense OR MIT

package x11

import (
	"image"
	"testing"

	vk "github.com/goki/vulkan"
)

func TestDepthToDrmFormatRoundTrips(t *testing.T) {
	// Every supported depth maps to a non-zero DRM format that in
	// turn maps to a supported Vulkan format.
	for _, depth := range []byte{16, 24, 30, 32} {
		drm := DepthToDrmFormat(depth)
		if drm == 0 {
			t.Errorf("depth %d: no DRM format", depth)
			continue
		}
		if vkFormat := DrmFormatToVkFormat(drm); vkFormat == vk.FormatUndefined {
			t.Errorf("depth %d: DRM %#x has no Vulkan format", depth, drm)
		}
	}
	if DepthToDrmFormat(15) != 0 {
		t.Error("unsupported depth mapped to a format")
	}
}

func TestDrmFormatMappings(t *testing.T) {
	tests := []struct {
		drm  uint32
		want vk.Format
	}{
		{DrmFormatARGB8888, vk.FormatB8g8r8a8Unorm},
		{DrmFormatXRGB8888, vk.FormatB8g8r8a8Unorm},
		{DrmFormatABGR8888, vk.FormatR8g8b8a8Unorm},
		{DrmFormatXBGR8888, vk.FormatR8g8b8a8Unorm},
		{DrmFormatXRGB2101010, vk.FormatA2r10g10b10UnormPack32},
		{DrmFormatRGB565, vk.FormatR5g6b5UnormPack16},
		{DrmFormatABGR16F, vk.FormatR16g16b16a16Sfloat},
		{DrmFormatR8, vk.FormatR8Unorm},
		{DrmFormatGR88, vk.FormatR8g8Unorm},
	}
	for _, tc := range tests {
		if got := DrmFormatToVkFormat(tc.drm); got != tc.want {
			t.Errorf("DrmFormatToVkFormat(%#x) = %d, want %d", tc.drm, got, tc.want)
		}
	}
	if DrmFormatToVkFormat(0) != vk.FormatUndefined {
		t.Error("zero fourcc mapped to a format")
	}
}

func TestFourcc(t *testing.T) {
	// 'XR24' encodes little-endian.
	if got := fourcc('X', 'R', '2', '4'); got != 0x34325258 {
		t.Errorf("fourcc = %#x, want 0x34325258", got)
	}
}

func TestNV12PlaneLayout(t *testing.T) {
	// NV12 imports as two planes: full-size R8 luma and half-size
	// GR88 chroma.
	planes, ok := yuvPlaneLayout(DrmFormatNV12)
	if !ok {
		t.Fatal("NV12 not recognized as planar")
	}
	if len(planes) != 2 {
		t.Fatalf("plane count = %d, want 2", len(planes))
	}

	full := image.Pt(640, 480)
	if planes[0].format != DrmFormatR8 || planeSize(full, planes[0]) != full {
		t.Errorf("luma plane: format %#x size %v", planes[0].format, planeSize(full, planes[0]))
	}
	if planes[1].format != DrmFormatGR88 || planeSize(full, planes[1]) != image.Pt(320, 240) {
		t.Errorf("chroma plane: format %#x size %v", planes[1].format, planeSize(full, planes[1]))
	}
	if DrmFormatToVkFormat(planes[0].format) != vk.FormatR8Unorm {
		t.Error("luma plane does not import as R8")
	}
	if DrmFormatToVkFormat(planes[1].format) != vk.FormatR8g8Unorm {
		t.Error("chroma plane does not import as R8G8")
	}

	if _, ok := yuvPlaneLayout(DrmFormatARGB8888); ok {
		t.Error("ARGB8888 reported as planar")
	}
}
