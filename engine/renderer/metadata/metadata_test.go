package metadata

import (
	"testing"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func project(m mgl32.Mat4, p mgl32.Vec3) mgl32.Vec3 {
	clip := m.Mul4x1(p.Vec4(1))
	return clip.Vec3().Mul(1 / clip.W())
}

func TestProjectionUsesVulkanDepthAndY(t *testing.T) {
	c := NewCamera()
	proj := c.Projection(16.0 / 9)

	near := project(proj, mgl32.Vec3{0, 0, -c.Near})
	far := project(proj, mgl32.Vec3{0, 0, -c.Far})
	assert.InDelta(t, 0, near.Z(), 1e-5)
	assert.InDelta(t, 1, far.Z(), 1e-4)

	// Points above the camera end up in the upper half of the framebuffer, i.e. negative y.
	above := project(proj, mgl32.Vec3{0, 1, -5})
	assert.Less(t, above.Y(), float32(0))
}

func TestLookAtFacesTarget(t *testing.T) {
	cases := []struct {
		name        string
		eye, target mgl32.Vec3
	}{
		{"forward", mgl32.Vec3{0, 0, 5}, mgl32.Vec3{0, 0, 0}},
		{"from the side", mgl32.Vec3{5, 0, 0}, mgl32.Vec3{0, 0, 0}},
		{"from above", mgl32.Vec3{3, 6, 3}, mgl32.Vec3{0, 0, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewCamera()
			c.LookAt(tc.eye, tc.target)
			want := tc.target.Sub(tc.eye).Normalize()
			assert.True(t, c.Forward().ApproxEqualThreshold(want, 1e-4), "forward %v, want %v", c.Forward(), want)

			// The target projects to the center of the screen.
			center := project(c.ViewProjection(1), tc.target)
			assert.InDelta(t, 0, center.X(), 1e-4)
			assert.InDelta(t, 0, center.Y(), 1e-4)
		})
	}
}

func TestViewIsRebuiltAfterMove(t *testing.T) {
	c := NewCamera()
	assert.Equal(t, mgl32.Ident4(), c.View())
	c.SetPosition(mgl32.Vec3{1, 2, 3})
	moved := c.View().Mul4x1(mgl32.Vec4{1, 2, 3, 1})
	assert.True(t, moved.ApproxEqual(mgl32.Vec4{0, 0, 0, 1}))
}

func TestFrustumCornersLieOnClipBounds(t *testing.T) {
	c := NewCamera()
	c.LookAt(mgl32.Vec3{2, 3, 8}, mgl32.Vec3{0, 0, 0})
	aspect := float32(4.0 / 3)
	corners := c.FrustumCorners(aspect, c.Near, c.Far)
	vp := c.ViewProjection(aspect)

	for i, p := range corners {
		ndc := project(vp, p)
		assert.InDelta(t, 1, mgl32.Abs(ndc.X()), 1e-2, "corner %d x", i)
		assert.InDelta(t, 1, mgl32.Abs(ndc.Y()), 1e-2, "corner %d y", i)
		if i < 4 {
			assert.InDelta(t, 0, ndc.Z(), 1e-3, "corner %d z", i)
		} else {
			assert.InDelta(t, 1, ndc.Z(), 1e-3, "corner %d z", i)
		}
	}
}

func TestFilterAndFirstKeepSubmissionOrder(t *testing.T) {
	items := []RenderData{
		Billboard{Size: mgl32.Vec2{1, 1}},
		StaticMesh{Mesh: Mesh{VertexCount: 3}},
		PostProcess{Exposure: 2, Gamma: 2.2},
		StaticMesh{Mesh: Mesh{VertexCount: 6}},
	}
	meshes := Filter[StaticMesh](items)
	require.Len(t, meshes, 2)
	assert.Equal(t, uint32(3), meshes[0].Mesh.VertexCount)
	assert.Equal(t, uint32(6), meshes[1].Mesh.VertexCount)

	pp, ok := First[PostProcess](items)
	require.True(t, ok)
	assert.Equal(t, float32(2), pp.Exposure)

	_, ok = First[Lighting](items)
	assert.False(t, ok)
	assert.Empty(t, Filter[Skybox](items))
	assert.Equal(t, "post_process", pp.Kind().String())
}

func TestVertexStridesMatchLayouts(t *testing.T) {
	assert.Equal(t, uintptr(StaticVertexStride), unsafe.Sizeof(StaticVertex{}))
	assert.Equal(t, uintptr(SkinnedVertexStride), unsafe.Sizeof(SkinnedVertex{}))
	assert.Equal(t, uintptr(DebugVertexStride), unsafe.Sizeof(DebugVertex{}))
	assert.Equal(t, uintptr(MaterialConstantsSize), unsafe.Sizeof(MaterialConstants{}))

	_, attrs := SkinnedVertexLayout()
	assert.Equal(t, uint32(unsafe.Offsetof(SkinnedVertex{}.Joints)), attrs[4].Offset)
	assert.Equal(t, uint32(unsafe.Offsetof(SkinnedVertex{}.Weights)), attrs[5].Offset)
}
