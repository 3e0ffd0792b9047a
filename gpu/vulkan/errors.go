// SPDX-License-Identifier: Unlicense OR MIT

package vulkan

import (
	"errors"
	"fmt"
	"log"
	"sync"

	vk "github.com/goki/vulkan"
)

// logOnce logs a warning once per distinct format string. Resource
// exhaustion and fallback paths warn a single time per process.
var loggedOnce sync.Map

func logOnce(format string, args ...any) {
	if _, loaded := loggedOnce.LoadOrStore(format, true); !loaded {
		log.Printf("vulkan: "+format, args...)
	}
}

var (
	// ErrDeviceLost is reported when the logical device is lost and
	// the backend must be torn down.
	ErrDeviceLost = errors.New("vulkan: device lost")

	// ErrOutOfDate is reported when the swapchain no longer matches
	// the surface and must be recreated before the next acquire.
	ErrOutOfDate = errors.New("vulkan: swapchain out of date")

	// ErrStreamingBufferFull names a streaming allocation that does
	// not fit in the arena. Buffer.Allocate reports that case by
	// returning false, not with this error; the caller drops the node.
	ErrStreamingBufferFull = errors.New("vulkan: streaming buffer full")

	// ErrShadersNotLoaded is reported when pipeline creation is
	// requested before the SPIR-V blobs were found.
	ErrShadersNotLoaded = errors.New("vulkan: shaders not loaded")
)

// vkErr converts a VkResult into an error, mapping the results the
// backend reacts to onto sentinel errors.
func vkErr(op string, res vk.Result) error {
	switch res {
	case vk.Success:
		return nil
	case vk.ErrorOutOfDate:
		return fmt.Errorf("vulkan: %s: %w", op, ErrOutOfDate)
	case vk.ErrorDeviceLost:
		return fmt.Errorf("vulkan: %s: %w", op, ErrDeviceLost)
	}
	return fmt.Errorf("vulkan: %s: %w", op, vk.Error(res))
}
