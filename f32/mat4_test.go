// SPDX-License-Identifier: Unlicense OR MIT

package f32

import (
	"math"
	"testing"
)

func eq(p1, p2 Point) bool {
	tol := 1e-4
	dx, dy := p2.X-p1.X, p2.Y-p1.Y
	return math.Abs(math.Sqrt(float64(dx*dx+dy*dy))) < tol
}

func TestMat4Identity(t *testing.T) {
	p := Pt(3, -7)
	if r := ID4().MapPoint(p); !eq(r, p) {
		t.Errorf("identity transform mismatch: have %v, want %v", r, p)
	}
	if !ID4().IsIdentity() {
		t.Error("ID4().IsIdentity() = false")
	}
	if ID4().Translate(1, 0).IsIdentity() {
		t.Error("translated matrix reports identity")
	}
}

func TestMat4Translate(t *testing.T) {
	p := Pt(1, 2)
	r := ID4().Translate(2, -3).MapPoint(p)
	if !eq(r, Pt(3, -1)) {
		t.Errorf("translate mismatch: have %v, want {3 -1}", r)
	}
	i := ID4().Translate(2, -3).Invert().MapPoint(r)
	if !eq(i, p) {
		t.Errorf("translate inverse mismatch: have %v, want %v", i, p)
	}
}

func TestMat4Scale(t *testing.T) {
	p := Pt(1, 2)
	r := ID4().Scale(-1, 2).MapPoint(p)
	if !eq(r, Pt(-1, 4)) {
		t.Errorf("scale mismatch: have %v, want {-1 4}", r)
	}
	i := ID4().Scale(-1, 2).Invert().MapPoint(r)
	if !eq(i, p) {
		t.Errorf("scale inverse mismatch: have %v, want %v", i, p)
	}
}

func TestMat4RotateZ(t *testing.T) {
	p := Pt(1, 0)
	r := ID4().RotateZ(90).MapPoint(p)
	if !eq(r, Pt(0, 1)) {
		t.Errorf("rotate mismatch: have %v, want {0 1}", r)
	}
	i := ID4().RotateZ(90).Invert().MapPoint(r)
	if !eq(i, p) {
		t.Errorf("rotate inverse mismatch: have %v, want %v", i, p)
	}
}

func TestMat4Compose(t *testing.T) {
	// Device-pixel translation composed with an item-local scale, the
	// shape the scene walker produces.
	m := ID4().Translate(100, 50).Scale(2, 2)
	r := m.MapPoint(Pt(10, 10))
	if !eq(r, Pt(120, 70)) {
		t.Errorf("compose mismatch: have %v, want {120 70}", r)
	}
	back := m.Invert().MapPoint(r)
	if !eq(back, Pt(10, 10)) {
		t.Errorf("compose inverse mismatch: have %v, want {10 10}", back)
	}
}

func TestOrtho(t *testing.T) {
	// A 800x600 output maps its corners to clip space corners.
	proj := Ortho(0, 800, 0, 600)
	tests := []struct {
		in, want Point
	}{
		{Pt(0, 0), Pt(-1, -1)},
		{Pt(800, 600), Pt(1, 1)},
		{Pt(400, 300), Pt(0, 0)},
	}
	for _, tc := range tests {
		if got := proj.MapPoint(tc.in); !eq(got, tc.want) {
			t.Errorf("Ortho.MapPoint(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestMapRect(t *testing.T) {
	m := ID4().RotateZ(90)
	r := m.MapRect(Rect(0, 0, 2, 1))
	want := Rect(-1, 0, 0, 2)
	if !eq(r.Min, want.Min) || !eq(r.Max, want.Max) {
		t.Errorf("MapRect mismatch: have %v, want %v", r, want)
	}
}

func TestMulVec4(t *testing.T) {
	m := ID4().Translate(5, 6)
	v := m.MulVec4(Vec4{0, 0, 0, 1})
	if v[0] != 5 || v[1] != 6 {
		t.Errorf("MulVec4 translation mismatch: have %v", v)
	}
	// Direction vectors (w=0) ignore translation.
	d := m.MulVec4(Vec4{1, 0, 0, 0})
	if d[0] != 1 || d[1] != 0 {
		t.Errorf("MulVec4 direction mismatch: have %v", d)
	}
}
