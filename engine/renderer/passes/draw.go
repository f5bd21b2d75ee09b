package passes

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
)

// DrawMesh binds the mesh geometry and issues one draw.
func DrawMesh(cmd gpu.CommandBuffer, mesh metadata.Mesh) {
	cmd.BindVertexBuffers(0, []gpu.Buffer{mesh.Vertices}, []uint64{0})
	if mesh.Indices != nil {
		cmd.BindIndexBuffer(mesh.Indices, 0, mesh.IndexType)
		cmd.DrawIndexed(mesh.IndexCount, 1, 0, 0, 0)
		return
	}
	cmd.Draw(mesh.VertexCount, 1, 0, 0)
}

// SetFullViewport covers the whole extent with the viewport and scissor.
func SetFullViewport(cmd gpu.CommandBuffer, extent gpu.Extent2D) {
	cmd.SetViewport(0, 0, float32(extent.Width), float32(extent.Height))
	cmd.SetScissor(0, 0, extent.Width, extent.Height)
}

// ModelPush is the push constant block shared by every mesh pipeline.
type ModelPush struct {
	Model mgl32.Mat4
}

// Caster is a mesh that renders into shadow maps.
type Caster struct {
	Mesh      metadata.Mesh
	Transform mgl32.Mat4
	// Joints is nil for static meshes.
	Joints gpu.Buffer
}

// ShadowCasters returns the static and skeletal meshes that cast shadows, in submission order.
func ShadowCasters(items []metadata.RenderData) []Caster {
	var out []Caster
	for _, it := range items {
		switch m := it.(type) {
		case metadata.StaticMesh:
			if m.CastShadows {
				out = append(out, Caster{Mesh: m.Mesh, Transform: m.Transform})
			}
		case metadata.SkeletalMesh:
			if m.CastShadows {
				out = append(out, Caster{Mesh: m.Mesh, Transform: m.Transform, Joints: m.Joints})
			}
		}
	}
	return out
}
