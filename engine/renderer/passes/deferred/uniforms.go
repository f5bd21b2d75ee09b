package deferred

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/passes"
	"github.com/spaghettifunk/umbra/engine/renderer/passes/shadow"
)

const (
	MaxPointLights = metadata.MaxPointLights
	MaxSpotLights  = metadata.MaxSpotLights
)

type GPUPointLight struct {
	PositionRange  mgl32.Vec4
	ColorIntensity mgl32.Vec4
	// x is the shadow cube index or -1.
	Shadow [4]int32
}

type GPUSpotLight struct {
	PositionRange  mgl32.Vec4
	Direction      mgl32.Vec4
	ColorIntensity mgl32.Vec4
	// x cos(inner), y cos(outer).
	Cone mgl32.Vec4
	// x is the shadow map index or -1.
	Shadow   [4]int32
	ViewProj mgl32.Mat4
}

// FrameUniforms is the per-frame uniform block shared by every subpass of the main pass.
// Field order and sizes follow std140.
type FrameUniforms struct {
	View        mgl32.Mat4
	Projection  mgl32.Mat4
	ViewProj    mgl32.Mat4
	InvViewProj mgl32.Mat4
	// w is the near plane.
	CameraPosition mgl32.Vec4
	// Width, height and their reciprocals.
	Viewport mgl32.Vec4
	// w is 1 when image based lighting maps are bound.
	Ambient mgl32.Vec4
	// xyz direction the light travels in, w intensity. Zero when there is no directional light.
	LightDirection mgl32.Vec4
	// w is 1 when the cascades hold this frame's shadows.
	LightColor      mgl32.Vec4
	CascadeSplits   mgl32.Vec4
	CascadeViewProj [shadow.CascadeCount]mgl32.Mat4
	// x point lights, y spot lights.
	Counts [4]uint32
	Points [MaxPointLights]GPUPointLight
	Spots  [MaxSpotLights]GPUSpotLight
}

var uniformStride = gpu.AlignUp(uint64(len(gpu.Bytes(&FrameUniforms{}))), gpu.UniformAlignment)

// Shadows are the producers the composition samples. Any of them may be nil.
type Shadows struct {
	Cascades *shadow.Cascaded
	Points   *shadow.Point
	Spots    *shadow.Spot
}

func flag(b bool) float32 {
	if b {
		return 1
	}
	return 0
}

// BuildUniforms gathers the camera, the lights and the shadow assignments of a frame.
// Shadow producers must have been prepared for the same frame.
func BuildUniforms(frame *passes.Frame, shadows Shadows) FrameUniforms {
	var u FrameUniforms
	cam := frame.Data.Camera
	aspect := frame.Aspect()
	u.View = cam.View()
	u.Projection = cam.Projection(aspect)
	u.ViewProj = u.Projection.Mul4(u.View)
	u.InvViewProj = u.ViewProj.Inv()
	u.CameraPosition = cam.Position.Vec4(cam.Near)
	w, h := float32(frame.Extent.Width), float32(frame.Extent.Height)
	u.Viewport = mgl32.Vec4{w, h, 1 / math32.Max(w, 1), 1 / math32.Max(h, 1)}

	lighting, ok := metadata.First[metadata.Lighting](frame.Data.Items)
	if !ok {
		return u
	}
	u.Ambient = lighting.Ambient.Vec4(flag(lighting.IBL != nil))

	if d := lighting.Directional; d != nil {
		cascades := shadows.Cascades != nil && shadows.Cascades.Enabled(frame)
		u.LightDirection = d.Direction.Normalize().Vec4(d.Intensity)
		u.LightColor = d.Color.Vec4(flag(cascades))
		if cascades {
			data := shadows.Cascades.Data()
			u.CascadeViewProj = data.ViewProj
			for i, s := range data.Splits {
				u.CascadeSplits[i] = s
			}
		}
	}

	var pointShadows []int32
	if shadows.Points != nil && shadows.Points.Enabled(frame) {
		pointShadows = shadows.Points.Assignments()
	}
	for i, l := range lighting.Points {
		if i >= MaxPointLights {
			break
		}
		idx := int32(-1)
		if i < len(pointShadows) {
			idx = pointShadows[i]
		}
		u.Points[i] = GPUPointLight{
			PositionRange:  l.Position.Vec4(l.Range),
			ColorIntensity: l.Color.Vec4(l.Intensity),
			Shadow:         [4]int32{idx},
		}
		u.Counts[0]++
	}

	var spotShadows []int32
	var spotMatrices []mgl32.Mat4
	if shadows.Spots != nil && shadows.Spots.Enabled(frame) {
		spotShadows = shadows.Spots.Assignments()
		spotMatrices = shadows.Spots.ViewProjections()
	}
	for i, l := range lighting.Spots {
		if i >= MaxSpotLights {
			break
		}
		gl := GPUSpotLight{
			PositionRange:  l.Position.Vec4(l.Range),
			Direction:      l.Direction.Normalize().Vec4(0),
			ColorIntensity: l.Color.Vec4(l.Intensity),
			Cone:           mgl32.Vec4{math32.Cos(l.InnerCone), math32.Cos(l.OuterCone), 0, 0},
			Shadow:         [4]int32{-1},
		}
		if i < len(spotShadows) && spotShadows[i] >= 0 {
			gl.Shadow[0] = spotShadows[i]
			gl.ViewProj = spotMatrices[spotShadows[i]]
		}
		u.Spots[i] = gl
		u.Counts[1]++
	}
	return u
}
