// SPDX-License-Identifier: Unlicense OR MIT

package f32

import (
	"math"

	imgf32 "golang.org/x/image/math/f32"
)

// Mat4 is a column-major 4x4 matrix. Element (row, col) is stored at
// index col*4+row, matching the layout Vulkan shaders expect for
// push constants and uniform blocks.
type Mat4 imgf32.Mat4

// ID4 returns the identity matrix.
func ID4() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Mul returns m × n.
func (m Mat4) Mul(n Mat4) Mat4 {
	var r Mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float32
			for k := 0; k < 4; k++ {
				sum += m[k*4+row] * n[col*4+k]
			}
			r[col*4+row] = sum
		}
	}
	return r
}

// Translate returns m translated by (x, y).
func (m Mat4) Translate(x, y float32) Mat4 {
	return m.Mul(Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		x, y, 0, 1,
	})
}

// Scale returns m scaled by (x, y).
func (m Mat4) Scale(x, y float32) Mat4 {
	return m.Mul(Mat4{
		x, 0, 0, 0,
		0, y, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// RotateZ returns m rotated by deg degrees around the Z axis.
func (m Mat4) RotateZ(deg float32) Mat4 {
	rad := float64(deg) * math.Pi / 180
	s, c := float32(math.Sin(rad)), float32(math.Cos(rad))
	return m.Mul(Mat4{
		c, s, 0, 0,
		-s, c, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// Ortho returns an orthographic projection mapping the rectangle
// (left, top)-(right, bottom) onto clip space with Y up in logical
// coordinates. The depth range is 0..1.
func Ortho(left, right, top, bottom float32) Mat4 {
	return Mat4{
		2 / (right - left), 0, 0, 0,
		0, 2 / (bottom - top), 0, 0,
		0, 0, 1, 0,
		-(right + left) / (right - left), -(bottom + top) / (bottom - top), 0, 1,
	}
}

// MulVec4 transforms v by m.
func (m Mat4) MulVec4(v Vec4) Vec4 {
	var r Vec4
	for row := 0; row < 4; row++ {
		r[row] = m[0*4+row]*v[0] + m[1*4+row]*v[1] + m[2*4+row]*v[2] + m[3*4+row]*v[3]
	}
	return r
}

// MapPoint transforms p by m, ignoring the projective component.
func (m Mat4) MapPoint(p Point) Point {
	v := m.MulVec4(Vec4{p.X, p.Y, 0, 1})
	return Point{X: v[0], Y: v[1]}
}

// MapRect returns the axis-aligned bounding box of r transformed by m.
func (m Mat4) MapRect(r Rectangle) Rectangle {
	p0 := m.MapPoint(r.Min)
	p1 := m.MapPoint(Point{X: r.Max.X, Y: r.Min.Y})
	p2 := m.MapPoint(r.Max)
	p3 := m.MapPoint(Point{X: r.Min.X, Y: r.Max.Y})
	min := Point{
		X: min4(p0.X, p1.X, p2.X, p3.X),
		Y: min4(p0.Y, p1.Y, p2.Y, p3.Y),
	}
	max := Point{
		X: max4(p0.X, p1.X, p2.X, p3.X),
		Y: max4(p0.Y, p1.Y, p2.Y, p3.Y),
	}
	return Rectangle{Min: min, Max: max}
}

// IsIdentity reports whether m is the identity matrix.
func (m Mat4) IsIdentity() bool {
	return m == ID4()
}

// Translation returns the translation component of m.
func (m Mat4) Translation() Point {
	return Point{X: m[12], Y: m[13]}
}

// Invert returns the inverse of m. Singular matrices invert to the
// identity.
func (m Mat4) Invert() Mat4 {
	// Cofactor expansion on the full 4x4; the matrices built by the
	// scene walker are affine but clip propagation inverts whatever
	// the item transform composed to.
	a := [4][4]float32{}
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			a[row][col] = m[col*4+row]
		}
	}
	inv := [4][4]float32{}

	s0 := a[0][0]*a[1][1] - a[1][0]*a[0][1]
	s1 := a[0][0]*a[1][2] - a[1][0]*a[0][2]
	s2 := a[0][0]*a[1][3] - a[1][0]*a[0][3]
	s3 := a[0][1]*a[1][2] - a[1][1]*a[0][2]
	s4 := a[0][1]*a[1][3] - a[1][1]*a[0][3]
	s5 := a[0][2]*a[1][3] - a[1][2]*a[0][3]

	c5 := a[2][2]*a[3][3] - a[3][2]*a[2][3]
	c4 := a[2][1]*a[3][3] - a[3][1]*a[2][3]
	c3 := a[2][1]*a[3][2] - a[3][1]*a[2][2]
	c2 := a[2][0]*a[3][3] - a[3][0]*a[2][3]
	c1 := a[2][0]*a[3][2] - a[3][0]*a[2][2]
	c0 := a[2][0]*a[3][1] - a[3][0]*a[2][1]

	det := s0*c5 - s1*c4 + s2*c3 + s3*c2 - s4*c1 + s5*c0
	if det == 0 {
		return ID4()
	}
	invdet := 1 / det

	inv[0][0] = (a[1][1]*c5 - a[1][2]*c4 + a[1][3]*c3) * invdet
	inv[0][1] = (-a[0][1]*c5 + a[0][2]*c4 - a[0][3]*c3) * invdet
	inv[0][2] = (a[3][1]*s5 - a[3][2]*s4 + a[3][3]*s3) * invdet
	inv[0][3] = (-a[2][1]*s5 + a[2][2]*s4 - a[2][3]*s3) * invdet

	inv[1][0] = (-a[1][0]*c5 + a[1][2]*c2 - a[1][3]*c1) * invdet
	inv[1][1] = (a[0][0]*c5 - a[0][2]*c2 + a[0][3]*c1) * invdet
	inv[1][2] = (-a[3][0]*s5 + a[3][2]*s2 - a[3][3]*s1) * invdet
	inv[1][3] = (a[2][0]*s5 - a[2][2]*s2 + a[2][3]*s1) * invdet

	inv[2][0] = (a[1][0]*c4 - a[1][1]*c2 + a[1][3]*c0) * invdet
	inv[2][1] = (-a[0][0]*c4 + a[0][1]*c2 - a[0][3]*c0) * invdet
	inv[2][2] = (a[3][0]*s4 - a[3][1]*s2 + a[3][3]*s0) * invdet
	inv[2][3] = (-a[2][0]*s4 + a[2][1]*s2 - a[2][3]*s0) * invdet

	inv[3][0] = (-a[1][0]*c3 + a[1][1]*c1 - a[1][2]*c0) * invdet
	inv[3][1] = (a[0][0]*c3 - a[0][1]*c1 + a[0][2]*c0) * invdet
	inv[3][2] = (-a[3][0]*s3 + a[3][1]*s1 - a[3][2]*s0) * invdet
	inv[3][3] = (a[2][0]*s3 - a[2][1]*s1 + a[2][2]*s0) * invdet

	var r Mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			r[col*4+row] = inv[row][col]
		}
	}
	return r
}

func min4(a, b, c, d float32) float32 {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	if d < a {
		a = d
	}
	return a
}

func max4(a, b, c, d float32) float32 {
	if b > a {
		a = b
	}
	if c > a {
		a = c
	}
	if d > a {
		a = d
	}
	return a
}
