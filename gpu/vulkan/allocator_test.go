// SPDX-License-Identifier: Unlicense OR MIT

package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
)

func testAllocator(types ...vk.MemoryPropertyFlags) *Allocator {
	a := &Allocator{initialized: true}
	a.memProps.MemoryTypeCount = uint32(len(types))
	for i, flags := range types {
		a.memProps.MemoryTypes[i] = vk.MemoryType{PropertyFlags: flags}
	}
	return a
}

func TestFindMemoryTypePrefersBothMasks(t *testing.T) {
	hostVisible := vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)
	hostCoherent := vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit)
	deviceLocal := vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)

	a := testAllocator(
		deviceLocal,
		hostVisible,
		hostVisible|hostCoherent,
	)

	// All types allowed: the host-visible+coherent type wins over the
	// merely host-visible one.
	idx, ok := a.findMemoryType(0b111, hostVisible, hostCoherent)
	if !ok || idx != 2 {
		t.Errorf("findMemoryType = %d, %v; want 2, true", idx, ok)
	}

	// With the coherent type masked out, the required-only fallback
	// picks the plain host-visible type.
	idx, ok = a.findMemoryType(0b011, hostVisible, hostCoherent)
	if !ok || idx != 1 {
		t.Errorf("findMemoryType fallback = %d, %v; want 1, true", idx, ok)
	}

	// No type satisfies the requirement.
	if _, ok := a.findMemoryType(0b001, hostVisible, 0); ok {
		t.Error("found host-visible memory in a device-local-only heap")
	}
}

func TestHintFlags(t *testing.T) {
	required, preferred := hintFlags(MemoryHostVisible)
	if required&vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) == 0 {
		t.Error("host-visible hint does not require host-visible memory")
	}
	if preferred&vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit) == 0 {
		t.Error("host-visible hint does not prefer coherent memory")
	}

	required, preferred = hintFlags(MemoryDeviceLocal)
	if required != 0 {
		t.Error("device-local hint must not hard-require device memory")
	}
	if preferred&vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit) == 0 {
		t.Error("device-local hint does not prefer device memory")
	}

	required, _ = hintFlags(MemoryHostCached)
	if required&vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) == 0 {
		t.Error("host-cached hint does not require host-visible memory")
	}
}
