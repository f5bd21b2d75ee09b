package metadata

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// VulkanClip converts an OpenGL style clip space (y up, z in [-1,1]) into
// Vulkan's (y down, z in [0,1]).
var VulkanClip = mgl32.Mat4{
	1, 0, 0, 0,
	0, -1, 0, 0,
	0, 0, 0.5, 0,
	0, 0, 0.5, 1,
}

// Camera is a perspective camera driven by a position and Euler angles (pitch, yaw, roll) in radians.
type Camera struct {
	// Do not set directly, use SetPosition so the view matrix is rebuilt.
	Position mgl32.Vec3
	// Do not set directly, use SetEulerRotation so the view matrix is rebuilt.
	EulerRotation mgl32.Vec3
	// Vertical field of view in radians.
	FovY float32
	Near float32
	Far  float32

	isDirty    bool
	viewMatrix mgl32.Mat4
}

func NewCamera() *Camera {
	c := &Camera{}
	c.Reset()
	return c
}

func (c *Camera) Reset() {
	c.Position = mgl32.Vec3{}
	c.EulerRotation = mgl32.Vec3{}
	c.FovY = mgl32.DegToRad(60)
	c.Near = 0.1
	c.Far = 200
	c.isDirty = false
	c.viewMatrix = mgl32.Ident4()
}

func (c *Camera) SetPosition(position mgl32.Vec3) {
	c.Position = position
	c.isDirty = true
}

func (c *Camera) SetEulerRotation(rotation mgl32.Vec3) {
	c.EulerRotation = rotation
	c.isDirty = true
}

// LookAt places the camera at eye looking at target, with +Y up.
func (c *Camera) LookAt(eye, target mgl32.Vec3) {
	dir := target.Sub(eye).Normalize()
	pitch := math32.Asin(mgl32.Clamp(dir.Y(), -1, 1))
	yaw := math32.Atan2(-dir.X(), -dir.Z())
	c.Position = eye
	c.EulerRotation = mgl32.Vec3{pitch, yaw, 0}
	c.isDirty = true
}

// World returns the camera-to-world transform.
func (c *Camera) World() mgl32.Mat4 {
	rotation := mgl32.HomogRotate3DY(c.EulerRotation.Y()).
		Mul4(mgl32.HomogRotate3DX(c.EulerRotation.X())).
		Mul4(mgl32.HomogRotate3DZ(c.EulerRotation.Z()))
	return mgl32.Translate3D(c.Position.X(), c.Position.Y(), c.Position.Z()).Mul4(rotation)
}

func (c *Camera) View() mgl32.Mat4 {
	if c.isDirty {
		c.viewMatrix = c.World().Inv()
		c.isDirty = false
	}
	return c.viewMatrix
}

// Forward is the world space viewing direction (-Z of the camera).
func (c *Camera) Forward() mgl32.Vec3 {
	return c.World().Mul4x1(mgl32.Vec4{0, 0, -1, 0}).Vec3().Normalize()
}

func (c *Camera) Right() mgl32.Vec3 {
	return c.World().Mul4x1(mgl32.Vec4{1, 0, 0, 0}).Vec3().Normalize()
}

func (c *Camera) Up() mgl32.Vec3 {
	return c.World().Mul4x1(mgl32.Vec4{0, 1, 0, 0}).Vec3().Normalize()
}

// Projection returns a Vulkan clip space perspective projection.
func (c *Camera) Projection(aspect float32) mgl32.Mat4 {
	return VulkanClip.Mul4(mgl32.Perspective(c.FovY, aspect, c.Near, c.Far))
}

func (c *Camera) ViewProjection(aspect float32) mgl32.Mat4 {
	return c.Projection(aspect).Mul4(c.View())
}

// FrustumCorners returns the eight world space corners of the view frustum
// between the near and far distances: near plane first, counter clockwise from bottom left.
func (c *Camera) FrustumCorners(aspect, near, far float32) [8]mgl32.Vec3 {
	pos, fwd, right, up := c.Position, c.Forward(), c.Right(), c.Up()
	tanHalf := math32.Tan(c.FovY / 2)
	var corners [8]mgl32.Vec3
	for i, d := range [2]float32{near, far} {
		center := pos.Add(fwd.Mul(d))
		hh := d * tanHalf
		hw := hh * aspect
		corners[i*4+0] = center.Sub(right.Mul(hw)).Sub(up.Mul(hh))
		corners[i*4+1] = center.Add(right.Mul(hw)).Sub(up.Mul(hh))
		corners[i*4+2] = center.Add(right.Mul(hw)).Add(up.Mul(hh))
		corners[i*4+3] = center.Sub(right.Mul(hw)).Add(up.Mul(hh))
	}
	return corners
}
