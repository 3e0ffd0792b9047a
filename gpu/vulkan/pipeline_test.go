// SPDX-License-Identifier: Unlicense OR MIT

package vulkan

import (
	"testing"
	"unsafe"

	vk "github.com/goki/vulkan"
)

func TestShaderTraitBits(t *testing.T) {
	// The specialization constants bind the trait bits in declaration
	// order; the bit values are part of the pipeline cache key.
	tests := []struct {
		trait ShaderTrait
		want  uint32
	}{
		{TraitMapTexture, 1 << 0},
		{TraitUniformColor, 1 << 1},
		{TraitModulate, 1 << 2},
		{TraitAdjustSaturation, 1 << 3},
		{TraitTransformColorspace, 1 << 4},
		{TraitRoundedCorners, 1 << 5},
		{TraitBorder, 1 << 6},
	}
	for _, tc := range tests {
		if uint32(tc.trait) != tc.want {
			t.Errorf("trait %#x, want %#x", uint32(tc.trait), tc.want)
		}
	}
}

func TestSpecializationData(t *testing.T) {
	tests := []struct {
		name   string
		traits ShaderTrait
		want   [traitCount]vk.Bool32
	}{
		{
			name: "none",
		},
		{
			name:   "texture only",
			traits: TraitMapTexture,
			want:   [traitCount]vk.Bool32{vk.True, 0, 0, 0, 0, 0, 0},
		},
		{
			name:   "texture with rounded corners",
			traits: TraitMapTexture | TraitRoundedCorners,
			want:   [traitCount]vk.Bool32{vk.True, 0, 0, 0, 0, vk.True, 0},
		},
		{
			name:   "border",
			traits: TraitBorder,
			want:   [traitCount]vk.Bool32{0, 0, 0, 0, 0, 0, vk.True},
		},
		{
			name: "all",
			traits: TraitMapTexture | TraitUniformColor | TraitModulate |
				TraitAdjustSaturation | TraitTransformColorspace |
				TraitRoundedCorners | TraitBorder,
			want: [traitCount]vk.Bool32{vk.True, vk.True, vk.True, vk.True, vk.True, vk.True, vk.True},
		},
	}
	for _, tc := range tests {
		if got := specializationData(tc.traits); got != tc.want {
			t.Errorf("%s: specializationData = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestFallbackTraits(t *testing.T) {
	tests := []struct {
		in, want ShaderTrait
	}{
		{TraitMapTexture | TraitRoundedCorners | TraitModulate, TraitMapTexture},
		{TraitMapTexture | TraitUniformColor, TraitMapTexture | TraitUniformColor},
		{TraitBorder, 0},
		{TraitUniformColor | TraitAdjustSaturation, TraitUniformColor},
	}
	for _, tc := range tests {
		if got := fallbackTraits(tc.in); got != tc.want {
			t.Errorf("fallbackTraits(%#x) = %#x, want %#x", uint32(tc.in), uint32(got), uint32(tc.want))
		}
	}
}

func TestPushConstantsLayout(t *testing.T) {
	// Bytes 0..63 hold the MVP matrix, bytes 64..127 the texture
	// matrix; the push constant range covers exactly 128 bytes.
	if sz := unsafe.Sizeof(PushConstants{}); sz != 128 {
		t.Fatalf("PushConstants size = %d, want 128", sz)
	}
	if off := unsafe.Offsetof(PushConstants{}.TextureMatrix); off != 64 {
		t.Errorf("TextureMatrix offset = %d, want 64", off)
	}
}

func TestUniformsLayout(t *testing.T) {
	// std140 layout as declared in the fragment shader.
	var u Uniforms
	offsets := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"UniformColor", unsafe.Offsetof(u.UniformColor), 0},
		{"Opacity", unsafe.Offsetof(u.Opacity), 16},
		{"Brightness", unsafe.Offsetof(u.Brightness), 20},
		{"Saturation", unsafe.Offsetof(u.Saturation), 24},
		{"PrimaryBrightness", unsafe.Offsetof(u.PrimaryBrightness), 32},
		{"GeometryBox", unsafe.Offsetof(u.GeometryBox), 48},
		{"BorderRadius", unsafe.Offsetof(u.BorderRadius), 64},
		{"BorderThickness", unsafe.Offsetof(u.BorderThickness), 80},
		{"BorderColor", unsafe.Offsetof(u.BorderColor), 96},
		{"SourceTransferFunction", unsafe.Offsetof(u.SourceTransferFunction), 112},
		{"SourceTransferParams", unsafe.Offsetof(u.SourceTransferParams), 128},
		{"DestTransferFunction", unsafe.Offsetof(u.DestTransferFunction), 144},
		{"DestTransferParams", unsafe.Offsetof(u.DestTransferParams), 160},
		{"ColorimetryTransform", unsafe.Offsetof(u.ColorimetryTransform), 176},
		{"SourceReferenceLuminance", unsafe.Offsetof(u.SourceReferenceLuminance), 240},
		{"DestToLMS", unsafe.Offsetof(u.DestToLMS), 256},
		{"LMSToDest", unsafe.Offsetof(u.LMSToDest), 320},
	}
	for _, tc := range offsets {
		if tc.got != tc.want {
			t.Errorf("offset of %s = %d, want %d", tc.name, tc.got, tc.want)
		}
	}
	if UniformsSize != 384 {
		t.Errorf("UniformsSize = %d, want 384", UniformsSize)
	}
	if UniformsSize%16 != 0 {
		t.Errorf("UniformsSize = %d, not a multiple of 16", UniformsSize)
	}
}

func TestVertex2DLayout(t *testing.T) {
	var v Vertex2D
	if sz := unsafe.Sizeof(v); sz != Vertex2DStride {
		t.Fatalf("Vertex2D size = %d, want %d", sz, Vertex2DStride)
	}
	if off := unsafe.Offsetof(v.Texcoord); off != 8 {
		t.Errorf("Texcoord offset = %d, want 8", off)
	}
	binding := Vertex2DBindingDescription()
	if binding.Stride != Vertex2DStride || binding.Binding != 0 {
		t.Errorf("binding = %+v", binding)
	}
	attrs := Vertex2DAttributeDescriptions()
	if len(attrs) != 2 {
		t.Fatalf("attribute count = %d, want 2", len(attrs))
	}
	if attrs[0].Offset != 0 || attrs[1].Offset != 8 {
		t.Errorf("attribute offsets = %d, %d; want 0, 8", attrs[0].Offset, attrs[1].Offset)
	}
	for i, a := range attrs {
		if a.Format != vk.FormatR32g32Sfloat {
			t.Errorf("attribute %d format = %d, want R32G32_SFLOAT", i, a.Format)
		}
	}
}
