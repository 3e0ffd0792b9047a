// SPDX-License-Identifier: Unlicense OR MIT

package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
)

func TestDeferredQueueOrder(t *testing.T) {
	// Views queued before their parent image must be destroyed
	// first; the queue preserves insertion order on drain.
	c := &Context{backend: &Backend{}}

	var order []string
	c.DeferDestroy(vk.NullFence, func() { order = append(order, "view") })
	c.DeferDestroy(vk.NullFence, func() { order = append(order, "image") })
	c.DeferDestroy(vk.NullFence, func() { order = append(order, "memory") })

	c.CleanupPendingResources()

	want := []string{"view", "image", "memory"}
	if len(order) != len(want) {
		t.Fatalf("drained %d entries, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("drain order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
	if len(c.pending) != 0 {
		t.Errorf("%d entries left after drain", len(c.pending))
	}
}

func TestDeferredQueueDuringShutdown(t *testing.T) {
	c := &Context{backend: &Backend{}, shuttingDown: true}

	ran := false
	c.DeferDestroy(vk.NullFence, func() { ran = true })
	if !ran {
		t.Error("destruction not immediate during shutdown")
	}
	if len(c.pending) != 0 {
		t.Error("entry queued during shutdown")
	}
}

func TestFramebufferStack(t *testing.T) {
	c := &Context{backend: &Backend{}}
	if c.CurrentFramebuffer() != nil {
		t.Error("empty stack returned a framebuffer")
	}
	a := &Framebuffer{}
	b := &Framebuffer{}
	c.PushFramebuffer(a)
	c.PushFramebuffer(b)
	if c.CurrentFramebuffer() != b {
		t.Error("top of stack is not the last push")
	}
	if c.PopFramebuffer() != b || c.PopFramebuffer() != a {
		t.Error("pops do not mirror pushes")
	}
	if c.PopFramebuffer() != nil {
		t.Error("pop of empty stack returned a framebuffer")
	}
}
