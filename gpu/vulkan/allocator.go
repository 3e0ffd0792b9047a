// SPDX-License-Identifier: Unlicense OR MIT

package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// MemoryHint selects where an allocation should live.
type MemoryHint int

const (
	// MemoryDeviceLocal is GPU-only memory, fastest for GPU access.
	MemoryDeviceLocal MemoryHint = iota
	// MemoryHostVisible is CPU-visible memory for sequential-write
	// streaming.
	MemoryHostVisible
	// MemoryHostCached is CPU-cached memory for random-access
	// readback.
	MemoryHostCached
)

// Allocation is a device memory block handed out by the Allocator.
type Allocation struct {
	memory   vk.DeviceMemory
	size     vk.DeviceSize
	mapped   unsafe.Pointer
	coherent bool
}

// Memory returns the underlying device memory handle.
func (a *Allocation) Memory() vk.DeviceMemory { return a.memory }

// Size returns the allocation size in bytes.
func (a *Allocation) Size() vk.DeviceSize { return a.size }

// Mapped returns the persistently mapped bytes, or nil if the
// allocation was not mapped.
func (a *Allocation) Mapped() []byte {
	if a.mapped == nil {
		return nil
	}
	return unsafe.Slice((*byte)(a.mapped), int(a.size))
}

// Allocator hands out image and buffer memory. It caches the physical
// device memory properties once and tracks allocation statistics.
// Shutdown waits for device idle before the last allocations go away.
type Allocator struct {
	backend  *Backend
	memProps vk.PhysicalDeviceMemoryProperties

	allocationCount int
	allocatedBytes  uint64

	initialized bool
}

// NewAllocator initializes the allocator from the backend. An
// initialization failure here is fatal to backend bring-up.
func NewAllocator(b *Backend) (*Allocator, error) {
	if b.Device() == vk.Device(vk.NullHandle) {
		return nil, fmt.Errorf("vulkan: allocator: no device")
	}
	a := &Allocator{backend: b}
	vk.GetPhysicalDeviceMemoryProperties(b.PhysicalDevice(), &a.memProps)
	a.memProps.Deref()
	a.initialized = true
	return a, nil
}

// IsInitialized reports whether the allocator is usable.
func (a *Allocator) IsInitialized() bool { return a != nil && a.initialized }

// AllocationCount returns the number of live allocations.
func (a *Allocator) AllocationCount() int { return a.allocationCount }

// AllocatedBytes returns the number of bytes currently allocated.
func (a *Allocator) AllocatedBytes() uint64 { return a.allocatedBytes }

func hintFlags(hint MemoryHint) (required, preferred vk.MemoryPropertyFlags) {
	switch hint {
	case MemoryDeviceLocal:
		return 0, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	case MemoryHostVisible:
		return vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit),
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit)
	case MemoryHostCached:
		return vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit),
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostCachedBit)
	}
	return 0, 0
}

func (a *Allocator) findMemoryType(typeBits uint32, required, preferred vk.MemoryPropertyFlags) (uint32, bool) {
	// Prefer a type satisfying both masks, fall back to required only.
	for _, want := range []vk.MemoryPropertyFlags{required | preferred, required} {
		for i := uint32(0); i < a.memProps.MemoryTypeCount; i++ {
			if typeBits&(1<<i) == 0 {
				continue
			}
			memType := a.memProps.MemoryTypes[i]
			memType.Deref()
			if memType.PropertyFlags&want == want {
				return i, true
			}
		}
	}
	return 0, false
}

func (a *Allocator) allocate(req vk.MemoryRequirements, hint MemoryHint, persistentMap bool) (*Allocation, error) {
	required, preferred := hintFlags(hint)
	typeIndex, ok := a.findMemoryType(req.MemoryTypeBits, required, preferred)
	if !ok {
		return nil, fmt.Errorf("vulkan: no suitable memory type (bits %#x)", req.MemoryTypeBits)
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: typeIndex,
	}
	var memory vk.DeviceMemory
	if err := vkErr("vkAllocateMemory", vk.AllocateMemory(a.backend.Device(), &allocInfo, nil, &memory)); err != nil {
		return nil, err
	}

	memType := a.memProps.MemoryTypes[typeIndex]
	memType.Deref()
	alloc := &Allocation{
		memory:   memory,
		size:     req.Size,
		coherent: memType.PropertyFlags&vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit) != 0,
	}

	if persistentMap {
		var data unsafe.Pointer
		if err := vkErr("vkMapMemory", vk.MapMemory(a.backend.Device(), memory, 0, req.Size, 0, &data)); err != nil {
			vk.FreeMemory(a.backend.Device(), memory, nil)
			return nil, err
		}
		alloc.mapped = data
	}

	a.allocationCount++
	a.allocatedBytes += uint64(req.Size)
	return alloc, nil
}

// AllocateForBuffer allocates and binds memory for buf.
func (a *Allocator) AllocateForBuffer(buf vk.Buffer, hint MemoryHint, persistentMap bool) (*Allocation, error) {
	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(a.backend.Device(), buf, &req)
	req.Deref()

	alloc, err := a.allocate(req, hint, persistentMap)
	if err != nil {
		return nil, err
	}
	if err := vkErr("vkBindBufferMemory", vk.BindBufferMemory(a.backend.Device(), buf, alloc.memory, 0)); err != nil {
		a.Free(alloc)
		return nil, err
	}
	return alloc, nil
}

// AllocateForImage allocates and binds memory for img.
func (a *Allocator) AllocateForImage(img vk.Image, hint MemoryHint) (*Allocation, error) {
	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(a.backend.Device(), img, &req)
	req.Deref()

	alloc, err := a.allocate(req, hint, false)
	if err != nil {
		return nil, err
	}
	if err := vkErr("vkBindImageMemory", vk.BindImageMemory(a.backend.Device(), img, alloc.memory, 0)); err != nil {
		a.Free(alloc)
		return nil, err
	}
	return alloc, nil
}

// Flush makes host writes in the given range visible to the device.
// Required because allocations are not necessarily host-coherent.
func (a *Allocator) Flush(alloc *Allocation, offset, size vk.DeviceSize) {
	if alloc.coherent {
		return
	}
	atom := vk.DeviceSize(a.backend.limits.nonCoherentAtomSize)
	if atom > 0 {
		end := offset + size
		offset = offset &^ (atom - 1)
		end = (end + atom - 1) &^ (atom - 1)
		if end > alloc.size {
			end = alloc.size
		}
		size = end - offset
	}
	r := vk.MappedMemoryRange{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: alloc.memory,
		Offset: offset,
		Size:   size,
	}
	vk.FlushMappedMemoryRanges(a.backend.Device(), 1, []vk.MappedMemoryRange{r})
}

// Invalidate makes device writes in the given range visible to the
// host.
func (a *Allocator) Invalidate(alloc *Allocation, offset, size vk.DeviceSize) {
	if alloc.coherent {
		return
	}
	r := vk.MappedMemoryRange{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: alloc.memory,
		Offset: offset,
		Size:   size,
	}
	vk.InvalidateMappedMemoryRanges(a.backend.Device(), 1, []vk.MappedMemoryRange{r})
}

// Free unmaps and releases an allocation.
func (a *Allocator) Free(alloc *Allocation) {
	if alloc == nil || alloc.memory == vk.NullDeviceMemory {
		return
	}
	if alloc.mapped != nil {
		vk.UnmapMemory(a.backend.Device(), alloc.memory)
		alloc.mapped = nil
	}
	vk.FreeMemory(a.backend.Device(), alloc.memory, nil)
	alloc.memory = vk.NullDeviceMemory
	a.allocationCount--
	a.allocatedBytes -= uint64(alloc.size)
}

// Shutdown waits for the device to go idle and marks the allocator
// unusable.
func (a *Allocator) Shutdown() {
	if !a.initialized {
		return
	}
	vk.DeviceWaitIdle(a.backend.Device())
	a.initialized = false
}
