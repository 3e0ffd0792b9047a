// SPDX-License-Identifier: Unlicense OR MIT

package vulkan

import (
	"testing"
)

func TestStreamingAllocateAlignment(t *testing.T) {
	b := &Buffer{size: 4096, usage: UsageStreaming, persistentlyMapped: true}

	off, ok := b.Allocate(10, 16)
	if !ok || off != 0 {
		t.Fatalf("first allocation: off=%d ok=%v", off, ok)
	}
	// 10 bytes used; the next 16-aligned offset is 16.
	off, ok = b.Allocate(16, 16)
	if !ok || off != 16 {
		t.Fatalf("second allocation: off=%d ok=%v, want 16", off, ok)
	}
	off, ok = b.Allocate(4, 4)
	if !ok || off != 32 {
		t.Fatalf("third allocation: off=%d ok=%v, want 32", off, ok)
	}
}

func TestStreamingAllocateExhaustion(t *testing.T) {
	b := &Buffer{size: 64, usage: UsageStreaming, persistentlyMapped: true}

	if _, ok := b.Allocate(64, 16); !ok {
		t.Fatal("allocation filling the arena failed")
	}
	if _, ok := b.Allocate(1, 1); ok {
		t.Fatal("allocation past the arena succeeded")
	}
	// Exhaustion is not sticky across frames.
	b.Reset()
	if off, ok := b.Allocate(32, 16); !ok || off != 0 {
		t.Fatalf("allocation after reset: off=%d ok=%v", off, ok)
	}
}

func TestStreamingAllocateNonMapped(t *testing.T) {
	b := &Buffer{size: 4096, usage: UsageVertex}
	if _, ok := b.Allocate(16, 16); ok {
		t.Fatal("allocation from a non-mapped buffer succeeded")
	}
}
