// SPDX-License-Identifier: Unlicense OR MIT

package scene

import (
	"testing"

	"github.com/Sonic-DE/sonic-win/f32"
	"golang.org/x/sys/unix"
)

func TestSortedChildrenStable(t *testing.T) {
	parent := NewItem(KindGroup)
	a := NewItem(KindGroup)
	a.Z = 1
	b := NewItem(KindGroup)
	b.Z = -1
	c := NewItem(KindGroup)
	c.Z = 0
	d := NewItem(KindGroup)
	d.Z = 0
	parent.Children = []*Item{a, b, c, d}

	sorted := parent.SortedChildren()
	want := []*Item{b, c, d, a}
	for i := range want {
		if sorted[i] != want[i] {
			t.Fatalf("sorted[%d] unexpected; z order: %d %d %d %d",
				i, sorted[0].Z, sorted[1].Z, sorted[2].Z, sorted[3].Z)
		}
	}
	// The parent's own child list is untouched.
	if parent.Children[0] != a {
		t.Error("SortedChildren reordered the original slice")
	}
}

func TestBorderRadius(t *testing.T) {
	var r BorderRadius
	if !r.IsNull() {
		t.Error("zero radius is not null")
	}
	r = BorderRadius{TopLeft: 4.4, TopRight: 4.5, BottomRight: 5.5, BottomLeft: 10}
	if r.IsNull() {
		t.Error("non-zero radius is null")
	}
	scaled := r.Scaled(2)
	if scaled.TopLeft != 8.8 || scaled.BottomLeft != 20 {
		t.Errorf("scaled = %+v", scaled)
	}
	rounded := r.Rounded()
	if rounded.TopLeft != 4 || rounded.TopRight != 5 || rounded.BottomRight != 6 {
		t.Errorf("rounded = %+v", rounded)
	}
	vec := r.Vec4()
	if vec != (f32.Vec4{4.4, 4.5, 5.5, 10}) {
		t.Errorf("vec4 = %v", vec)
	}
}

func TestRectQuad(t *testing.T) {
	q := RectQuad(f32.Rect(0, 0, 512, 256), f32.Rect(0, 0, 512, 256))
	wantPos := []f32.Point{
		f32.Pt(0, 0), f32.Pt(512, 0), f32.Pt(512, 256), f32.Pt(0, 256),
	}
	for i, w := range wantPos {
		if q[i].Pos != w {
			t.Errorf("corner %d = %v, want %v", i, q[i].Pos, w)
		}
		if q[i].Tex != w {
			t.Errorf("texcoord %d = %v, want %v", i, q[i].Tex, w)
		}
	}
}

func TestItemDefaultQuads(t *testing.T) {
	item := NewItem(KindGroup)
	if len(item.quads()) != 0 {
		t.Error("empty rect produced quads")
	}
	item.Rect = f32.Rect(0, 0, 100, 50)
	quads := item.quads()
	if len(quads) != 1 {
		t.Fatalf("quad count = %d, want 1", len(quads))
	}
	if quads[0][2].Pos != f32.Pt(100, 50) {
		t.Errorf("far corner = %v", quads[0][2].Pos)
	}

	// Explicit quads win over the rect.
	item.Quads = []Quad{RectQuad(f32.Rect(0, 0, 1, 1), f32.Rect(0, 0, 1, 1))}
	if got := item.quads(); len(got) != 1 || got[0][2].Pos != f32.Pt(1, 1) {
		t.Error("explicit quads not used")
	}
}

func TestBufferReleasePoint(t *testing.T) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		t.Skipf("pipe: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	var p BufferReleasePoint
	p.AddReleaseFence(fds[0])
	if p.FenceCount() != 1 {
		t.Fatalf("fence count = %d, want 1", p.FenceCount())
	}

	taken := p.TakeFences()
	if len(taken) != 1 {
		t.Fatalf("took %d fds", len(taken))
	}
	// The attached fd is a duplicate, not the original.
	if taken[0] == fds[0] {
		t.Error("release point stored the original fd")
	}
	unix.Close(taken[0])
	if p.FenceCount() != 0 {
		t.Error("fences not cleared by TakeFences")
	}
}
