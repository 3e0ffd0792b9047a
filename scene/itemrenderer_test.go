// SPDX-License-Identifier: Unlicense OR MIT

package scene

import (
	"image"
	stdcolor "image/color"
	"testing"

	"github.com/Sonic-DE/sonic-win/f32"
	"github.com/Sonic-DE/sonic-win/gpu/vulkan"
	vk "github.com/goki/vulkan"
)

// stubSurfaceTexture is a surface texture with a fake GPU backing.
type stubSurfaceTexture struct {
	valid   bool
	texture *vulkan.Texture
	creates int
	updates []image.Rectangle
}

func (s *stubSurfaceTexture) Create() bool {
	s.creates++
	return s.valid
}

func (s *stubSurfaceTexture) Update(region image.Rectangle) {
	s.updates = append(s.updates, region)
}

func (s *stubSurfaceTexture) IsValid() bool { return s.valid }

func (s *stubSurfaceTexture) Texture() *vulkan.Texture { return s.texture }

func stubTexture(size image.Point) *vulkan.Texture {
	return vulkan.WrapExternalTexture(vk.Image(1), vk.ImageView(2), vk.Sampler(3),
		vk.FormatB8g8r8a8Srgb, size)
}

func testRenderer() *ItemRenderer {
	return &ItemRenderer{
		releasePoints: make(map[*BufferReleasePoint]struct{}),
	}
}

func surfaceWindow(size image.Point) (*Item, *stubSurfaceTexture) {
	st := &stubSurfaceTexture{valid: true, texture: stubTexture(size)}
	item := NewItem(KindSurface)
	item.Rect = f32.Rect(0, 0, float32(size.X), float32(size.Y))
	item.Surface = &SurfaceItem{Texture: st, HasAlpha: false}
	return item, st
}

func buildNodes(t *testing.T, r *ItemRenderer, item *Item, scale float32) *RenderContext {
	t.Helper()
	rc := r.BuildNodes(item, image.Rectangle{}, NewPaintData(), scale, f32.ID4())
	if !rc.StacksEmpty() {
		t.Fatal("traversal stacks not balanced")
	}
	return rc
}

func TestSingleOpaqueWindow(t *testing.T) {
	// A 512x256 surface emits one MAP_TEXTURE node with six vertices
	// whose positions are the four corners and whose texcoords
	// normalize to the unit square.
	r := testRenderer()
	item, st := surfaceWindow(image.Pt(512, 256))

	rc := buildNodes(t, r, item, 1)

	if st.creates != 1 {
		t.Errorf("preprocess ran Create %d times, want 1", st.creates)
	}
	nodes := rc.Nodes()
	if len(nodes) != 1 {
		t.Fatalf("node count = %d, want 1", len(nodes))
	}
	node := nodes[0]
	if node.Traits != vulkan.TraitMapTexture {
		t.Errorf("traits = %#x, want MAP_TEXTURE", uint32(node.Traits))
	}
	if node.VertexCount != 6 || len(node.Geometry) != 6 {
		t.Fatalf("vertex count = %d, want 6", node.VertexCount)
	}

	wantPos := []f32.Vec2{
		{0, 0}, {512, 0}, {512, 256}, {512, 256}, {0, 256}, {0, 0},
	}
	wantTex := []f32.Vec2{
		{0, 0}, {1, 0}, {1, 1}, {1, 1}, {0, 1}, {0, 0},
	}
	for i := range wantPos {
		if node.Geometry[i].Position != wantPos[i] {
			t.Errorf("vertex %d position = %v, want %v", i, node.Geometry[i].Position, wantPos[i])
		}
		if node.Geometry[i].Texcoord != wantTex[i] {
			t.Errorf("vertex %d texcoord = %v, want %v", i, node.Geometry[i].Texcoord, wantTex[i])
		}
	}
}

func TestSurfaceWithoutTextureIsSkipped(t *testing.T) {
	// Emitting a MAP_TEXTURE node without a bound texture would trip
	// the validator; such items are skipped, not emitted.
	r := testRenderer()
	st := &stubSurfaceTexture{valid: false}
	item := NewItem(KindSurface)
	item.Rect = f32.Rect(0, 0, 100, 100)
	item.Surface = &SurfaceItem{Texture: st}

	rc := buildNodes(t, r, item, 1)
	if len(rc.Nodes()) != 0 {
		t.Fatalf("node count = %d, want 0", len(rc.Nodes()))
	}
}

func TestRoundedCornerWindow(t *testing.T) {
	// A 200x200 item with radius 10 produces MAP_TEXTURE plus
	// ROUNDED_CORNERS; box is center and half-extent.
	r := testRenderer()
	item, _ := surfaceWindow(image.Pt(200, 200))
	item.BorderRadius = BorderRadius{TopLeft: 10, TopRight: 10, BottomRight: 10, BottomLeft: 10}

	rc := buildNodes(t, r, item, 1)
	nodes := rc.Nodes()
	if len(nodes) != 1 {
		t.Fatalf("node count = %d, want 1", len(nodes))
	}
	node := nodes[0]
	want := vulkan.TraitMapTexture | vulkan.TraitRoundedCorners
	if node.Traits != want {
		t.Fatalf("traits = %#x, want %#x", uint32(node.Traits), uint32(want))
	}
	if node.Box != (f32.Vec4{100, 100, 100, 100}) {
		t.Errorf("box = %v, want {100 100 100 100}", node.Box)
	}
	if node.BorderRadius != (f32.Vec4{10, 10, 10, 10}) {
		t.Errorf("radius = %v, want {10 10 10 10}", node.BorderRadius)
	}
	if !node.HasAlpha {
		t.Error("rounded node must carry alpha")
	}
}

func TestOpacityAddsModulate(t *testing.T) {
	r := testRenderer()
	item, _ := surfaceWindow(image.Pt(64, 64))
	item.Opacity = 0.5

	rc := buildNodes(t, r, item, 1)
	nodes := rc.Nodes()
	if len(nodes) != 1 {
		t.Fatalf("node count = %d", len(nodes))
	}
	if nodes[0].Traits&vulkan.TraitModulate == 0 {
		t.Error("translucent node lacks MODULATE")
	}
	if nodes[0].Opacity != 0.5 {
		t.Errorf("opacity = %v, want 0.5", nodes[0].Opacity)
	}
}

func TestZOrderTraversal(t *testing.T) {
	// Children with z < 0 render before the item, z >= 0 after.
	r := testRenderer()

	behind, _ := surfaceWindow(image.Pt(10, 10))
	behind.Z = -1
	front, _ := surfaceWindow(image.Pt(30, 30))
	front.Z = 1
	middle, _ := surfaceWindow(image.Pt(20, 20))
	middle.Children = []*Item{front, behind}

	rc := buildNodes(t, r, middle, 1)
	nodes := rc.Nodes()
	if len(nodes) != 3 {
		t.Fatalf("node count = %d, want 3", len(nodes))
	}
	sizes := []float32{
		nodes[0].Geometry[2].Position[0],
		nodes[1].Geometry[2].Position[0],
		nodes[2].Geometry[2].Position[0],
	}
	if sizes[0] != 10 || sizes[1] != 20 || sizes[2] != 30 {
		t.Errorf("draw order = %v, want [10 20 30]", sizes)
	}
}

func TestInvisibleChildrenAreSkipped(t *testing.T) {
	r := testRenderer()
	parent, _ := surfaceWindow(image.Pt(20, 20))
	hidden, _ := surfaceWindow(image.Pt(10, 10))
	hidden.Visible = false
	parent.Children = []*Item{hidden}

	rc := buildNodes(t, r, parent, 1)
	if len(rc.Nodes()) != 1 {
		t.Fatalf("node count = %d, want 1", len(rc.Nodes()))
	}
}

func TestChildPositionTranslatesTransform(t *testing.T) {
	r := testRenderer()
	parent, _ := surfaceWindow(image.Pt(100, 100))
	child, _ := surfaceWindow(image.Pt(10, 10))
	child.Position = f32.Pt(30, 40)
	parent.Children = []*Item{child}

	rc := buildNodes(t, r, parent, 1)
	nodes := rc.Nodes()
	if len(nodes) != 2 {
		t.Fatalf("node count = %d, want 2", len(nodes))
	}
	// The child's transform carries the accumulated translation.
	tr := nodes[1].Transform.Translation()
	if tr != f32.Pt(30, 40) {
		t.Errorf("child translation = %v, want {30 40}", tr)
	}
}

func TestDevicePixelSnapping(t *testing.T) {
	r := testRenderer()
	item, _ := surfaceWindow(image.Pt(10, 10))
	item.Position = f32.Pt(10.3, 10.7)

	rc := r.BuildNodes(item, image.Rectangle{}, NewPaintData(), 2, f32.ID4())
	nodes := rc.Nodes()
	if len(nodes) != 1 {
		t.Fatalf("node count = %d", len(nodes))
	}
	// Positions snap to the device pixel grid: 10.3*2 -> 21, 10.7*2 -> 21.
	tr := nodes[0].Transform.Translation()
	if tr.X != 21 || tr.Y != 21 {
		t.Errorf("snapped translation = %v, want {21 21}", tr)
	}
}

func TestOutlinedBorderNode(t *testing.T) {
	// Border nodes carry the outer rect in Box, the inner rect in
	// BorderRadius and the color in BorderColor; no texture is used.
	r := testRenderer()
	item := NewItem(KindOutlinedBorder)
	item.Rect = f32.Rect(0, 0, 100, 80)
	item.Border = &OutlinedBorderItem{
		Outline: BorderOutline{
			Thickness: 2,
			Color:     stdcolor.NRGBA{R: 255, G: 0, B: 0, A: 255},
		},
	}

	rc := buildNodes(t, r, item, 1)
	nodes := rc.Nodes()
	if len(nodes) != 1 {
		t.Fatalf("node count = %d, want 1", len(nodes))
	}
	node := nodes[0]
	if node.Traits != vulkan.TraitBorder {
		t.Errorf("traits = %#x, want BORDER", uint32(node.Traits))
	}
	if node.Texture != nil {
		t.Error("border node carries a texture")
	}
	if node.Box != (f32.Vec4{0, 0, 100, 80}) {
		t.Errorf("outer box = %v", node.Box)
	}
	if node.BorderRadius != (f32.Vec4{2, 2, 96, 76}) {
		t.Errorf("inner box = %v, want {2 2 96 76}", node.BorderRadius)
	}
	if node.BorderThickness != 2 {
		t.Errorf("thickness = %v", node.BorderThickness)
	}
	if node.BorderColor != (f32.Vec4{1, 0, 0, 1}) {
		t.Errorf("color = %v", node.BorderColor)
	}
}

func TestReleasePointCollected(t *testing.T) {
	r := testRenderer()
	item, _ := surfaceWindow(image.Pt(10, 10))
	point := &BufferReleasePoint{}
	item.Surface.ReleasePoint = point

	buildNodes(t, r, item, 1)
	if _, ok := r.releasePoints[point]; !ok {
		t.Error("release point not collected for sync-fd delivery")
	}
}

func TestModulate(t *testing.T) {
	got := modulate(0.5, 1)
	if got != (f32.Vec4{0.5, 0.5, 0.5, 0.5}) {
		t.Errorf("modulate(0.5, 1) = %v", got)
	}
	got = modulate(1, 0.5)
	if got != (f32.Vec4{0.5, 0.5, 0.5, 1}) {
		t.Errorf("modulate(1, 0.5) = %v", got)
	}
}

func TestViewportProjection(t *testing.T) {
	v := Viewport{Rect: image.Rect(0, 0, 800, 600), Scale: 1}
	m := v.ProjectionMatrix()
	if got := m.MapPoint(f32.Pt(400, 300)); !feq(got.X, 0) || !feq(got.Y, 0) {
		t.Errorf("center maps to %v, want origin", got)
	}
	if got := v.DeviceSize(); got != image.Pt(800, 600) {
		t.Errorf("device size = %v", got)
	}

	v.Scale = 2
	if got := v.DeviceSize(); got != image.Pt(1600, 1200) {
		t.Errorf("scaled device size = %v", got)
	}
}

func TestPaintDataToMatrix(t *testing.T) {
	d := NewPaintData()
	if !d.ToMatrix(1).IsIdentity() {
		t.Error("neutral paint data is not identity")
	}
	d.Translation = f32.Pt(5, 10)
	d.ScaleX, d.ScaleY = 2, 2
	m := d.ToMatrix(2)
	got := m.MapPoint(f32.Pt(1, 1))
	// Translation scales with the device scale, then the window
	// scale applies.
	if !feq(got.X, 12) || !feq(got.Y, 22) {
		t.Errorf("mapped point = %v, want {12 22}", got)
	}
}

func feq(a, b float32) bool {
	d := a - b
	return d < 1e-4 && d > -1e-4
}
