package testbed

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
)

// face is one side of a unit cube: outward normal and the in-plane right and
// up axes, with right x up == normal so quads come out counter-clockwise.
type face struct {
	normal, right, up mgl32.Vec3
}

var cubeFaces = [6]face{
	{mgl32.Vec3{0, 0, 1}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 1, 0}},
	{mgl32.Vec3{0, 0, -1}, mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 1, 0}},
	{mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}},
	{mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, 1, 0}},
	{mgl32.Vec3{0, 1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, -1}},
	{mgl32.Vec3{0, -1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, 1}},
}

var quadUVs = [4]mgl32.Vec2{{0, 1}, {1, 1}, {1, 0}, {0, 0}}

// cubeGeometry returns a unit cube centered on the origin, 4 vertices per side.
func cubeGeometry() ([]metadata.StaticVertex, []uint32) {
	vertices := make([]metadata.StaticVertex, 0, 24)
	indices := make([]uint32, 0, 36)
	for _, f := range cubeFaces {
		base := uint32(len(vertices))
		corners := [4]mgl32.Vec3{
			f.normal.Sub(f.right).Sub(f.up),
			f.normal.Add(f.right).Sub(f.up),
			f.normal.Add(f.right).Add(f.up),
			f.normal.Sub(f.right).Add(f.up),
		}
		for i, c := range corners {
			vertices = append(vertices, metadata.StaticVertex{
				Position: c.Mul(0.5),
				Normal:   f.normal,
				UV:       quadUVs[i],
			})
		}
		indices = append(indices, base, base+1, base+2, base, base+2, base+3)
	}
	generateTangents(vertices, indices)
	return vertices, indices
}

// planeGeometry returns a size x size quad on the XZ plane facing +Y.
func planeGeometry(size float32) ([]metadata.StaticVertex, []uint32) {
	h := size * 0.5
	vertices := []metadata.StaticVertex{
		{Position: mgl32.Vec3{-h, 0, h}, Normal: mgl32.Vec3{0, 1, 0}, UV: mgl32.Vec2{0, size}},
		{Position: mgl32.Vec3{h, 0, h}, Normal: mgl32.Vec3{0, 1, 0}, UV: mgl32.Vec2{size, size}},
		{Position: mgl32.Vec3{h, 0, -h}, Normal: mgl32.Vec3{0, 1, 0}, UV: mgl32.Vec2{size, 0}},
		{Position: mgl32.Vec3{-h, 0, -h}, Normal: mgl32.Vec3{0, 1, 0}, UV: mgl32.Vec2{0, 0}},
	}
	indices := []uint32{0, 1, 2, 0, 2, 3}
	generateTangents(vertices, indices)
	return vertices, indices
}

// generateTangents writes a per-face tangent into each vertex of every
// triangle. W holds the bitangent handedness.
func generateTangents(vertices []metadata.StaticVertex, indices []uint32) {
	for i := 0; i+2 < len(indices); i += 3 {
		i0, i1, i2 := indices[i], indices[i+1], indices[i+2]

		edge1 := vertices[i1].Position.Sub(vertices[i0].Position)
		edge2 := vertices[i2].Position.Sub(vertices[i0].Position)

		deltaU1 := vertices[i1].UV.X() - vertices[i0].UV.X()
		deltaV1 := vertices[i1].UV.Y() - vertices[i0].UV.Y()
		deltaU2 := vertices[i2].UV.X() - vertices[i0].UV.X()
		deltaV2 := vertices[i2].UV.Y() - vertices[i0].UV.Y()

		dividend := deltaU1*deltaV2 - deltaU2*deltaV1
		if dividend == 0 {
			continue
		}
		fc := 1.0 / dividend

		tangent := edge1.Mul(deltaV2).Sub(edge2.Mul(deltaV1)).Mul(fc).Normalize()

		handedness := float32(1)
		if deltaV1*deltaU2-deltaV2*deltaU1 < 0 {
			handedness = -1
		}

		t4 := tangent.Vec4(handedness)
		vertices[i0].Tangent = t4
		vertices[i1].Tangent = t4
		vertices[i2].Tangent = t4
	}
}

// axisLines returns the X, Y and Z axes as red, green and blue line segments.
func axisLines(length float32) []metadata.DebugVertex {
	red := mgl32.Vec4{1, 0, 0, 1}
	green := mgl32.Vec4{0, 1, 0, 1}
	blue := mgl32.Vec4{0, 0, 1, 1}
	return []metadata.DebugVertex{
		{Position: mgl32.Vec3{0, 0, 0}, Color: red},
		{Position: mgl32.Vec3{length, 0, 0}, Color: red},
		{Position: mgl32.Vec3{0, 0, 0}, Color: green},
		{Position: mgl32.Vec3{0, length, 0}, Color: green},
		{Position: mgl32.Vec3{0, 0, 0}, Color: blue},
		{Position: mgl32.Vec3{0, 0, length}, Color: blue},
	}
}
