// Package rhi owns the swapchain and the per-frame synchronization objects and
// drives one acquire, record, submit and present cycle per tick.
package rhi

import (
	"fmt"
	"math"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

// MaxFramesInFlight is the number of frames the CPU may record ahead of the GPU.
const MaxFramesInFlight = 2

// Window is the part of the window collaborator the context needs.
type Window interface {
	FramebufferSize() (uint32, uint32)
	// WaitForNonzeroSize blocks while the window is minimized.
	WaitForNonzeroSize() (uint32, uint32)
}

// FrameInfo describes the frame being recorded.
type FrameInfo struct {
	// Slot is the flight slot in [0, MaxFramesInFlight).
	Slot       int
	ImageIndex uint32
	Number     uint64
	Extent     gpu.Extent2D
}

// FrameRecorder fills the slot's command buffer once per tick.
type FrameRecorder interface {
	// Prepare runs after the slot's fence has been waited on, so per-slot host buffers are free.
	Prepare(info FrameInfo) error
	Record(cmd gpu.CommandBuffer, info FrameInfo) error
}

// Resizer is notified after the swapchain has been recreated.
type Resizer interface {
	OnResize(width, height uint32) error
}

// FrameSync is the synchronization set of one flight slot.
type FrameSync struct {
	ImageAvailable gpu.Semaphore
	RenderFinished gpu.Semaphore
	InFlight       gpu.Fence
	Commands       gpu.CommandBuffer
}

type Context struct {
	device    gpu.Device
	window    Window
	swapchain gpu.Swapchain

	frames [MaxFramesInFlight]FrameSync
	// Fence of the slot that last rendered to each swapchain image. Not owned.
	imagesInFlight []gpu.Fence

	currentFrame int
	frameNumber  uint64

	// Cached framebuffer size and its generation. A generation bump triggers recreation.
	width             uint32
	height            uint32
	sizeGeneration    uint64
	lastGeneration    uint64
	recreateRequested bool

	resizers []Resizer
}

func NewContext(device gpu.Device, window Window) (*Context, error) {
	w, h := window.FramebufferSize()
	if w == 0 || h == 0 {
		w, h = window.WaitForNonzeroSize()
	}
	c := &Context{
		device: device,
		window: window,
	}
	sc, err := device.NewSwapchain(w, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create swapchain: %w", err)
	}
	c.setSwapchain(sc)

	for i := range c.frames {
		f := &c.frames[i]
		if f.ImageAvailable, err = device.NewSemaphore(); err != nil {
			c.Destroy()
			return nil, err
		}
		if f.RenderFinished, err = device.NewSemaphore(); err != nil {
			c.Destroy()
			return nil, err
		}
		// Signaled so the first wait on every slot returns immediately.
		if f.InFlight, err = device.NewFence(true); err != nil {
			c.Destroy()
			return nil, err
		}
		if f.Commands, err = device.NewCommandBuffer(fmt.Sprintf("frame%d", i)); err != nil {
			c.Destroy()
			return nil, err
		}
	}
	core.LogInfo("render context created: %dx%d, %d swapchain images, %d frames in flight",
		c.width, c.height, sc.ImageCount(), MaxFramesInFlight)
	return c, nil
}

func (c *Context) setSwapchain(sc gpu.Swapchain) {
	c.swapchain = sc
	ext := sc.Extent()
	c.width, c.height = ext.Width, ext.Height
	c.imagesInFlight = make([]gpu.Fence, sc.ImageCount())
}

func (c *Context) Device() gpu.Device {
	return c.device
}

func (c *Context) Swapchain() gpu.Swapchain {
	return c.swapchain
}

func (c *Context) Extent() gpu.Extent2D {
	return gpu.Extent2D{Width: c.width, Height: c.height}
}

// CurrentSlot is the flight slot the next RenderFrame uses.
func (c *Context) CurrentSlot() int {
	return c.currentFrame
}

func (c *Context) Frame(slot int) *FrameSync {
	return &c.frames[slot]
}

// RegisterResizer adds r to the hooks run after swapchain recreation, in registration order.
func (c *Context) RegisterResizer(r Resizer) {
	c.resizers = append(c.resizers, r)
}

// Resized records a new framebuffer size. The swapchain is recreated by the next
// RenderFrame once both dimensions are non-zero.
func (c *Context) Resized(width, height uint32) {
	c.width = width
	c.height = height
	c.sizeGeneration++
	core.LogDebug("framebuffer resized: w/h/gen: %d/%d/%d", width, height, c.sizeGeneration)
}

// RenderFrame runs one tick. It reports whether a command buffer was submitted.
// Swapchain invalidation is handled internally; returned errors are fatal.
func (c *Context) RenderFrame(rec FrameRecorder) (bool, error) {
	if c.width == 0 || c.height == 0 {
		return false, nil
	}
	defer c.advance()

	if c.sizeGeneration != c.lastGeneration {
		if err := c.recreateSwapchain(); err != nil {
			return false, err
		}
		core.LogDebug("swapchain recreated after resize, booting")
		return false, nil
	}

	sync := &c.frames[c.currentFrame]
	if err := c.waitFrame(sync); err != nil {
		return false, err
	}

	imageIndex, status, err := c.swapchain.AcquireNextImage(sync.ImageAvailable)
	if err != nil {
		return false, fmt.Errorf("failed to acquire swapchain image: %w", err)
	}
	switch status {
	case gpu.SwapchainOutOfDate:
		core.LogDebug("swapchain out of date on acquire, recreating")
		return false, c.recreateSwapchain()
	case gpu.SwapchainSuboptimal:
		c.recreateRequested = true
	}

	// The image may still be in use by a slot other than this one.
	if f := c.imagesInFlight[imageIndex]; f != nil && f != sync.InFlight {
		if err := f.Wait(math.MaxUint64); err != nil {
			return false, fmt.Errorf("failed to wait for image %d: %w", imageIndex, err)
		}
	}
	c.imagesInFlight[imageIndex] = sync.InFlight

	info := FrameInfo{
		Slot:       c.currentFrame,
		ImageIndex: imageIndex,
		Number:     c.frameNumber,
		Extent:     c.swapchain.Extent(),
	}
	if err := c.prepareFrame(rec, info); err != nil {
		return false, err
	}
	if err := c.recordFrame(rec, sync, info); err != nil {
		return false, err
	}
	if err := c.submitFrame(sync); err != nil {
		return false, err
	}
	if err := c.presentFrame(sync, imageIndex); err != nil {
		return true, err
	}
	c.frameNumber++
	return true, nil
}

func (c *Context) waitFrame(sync *FrameSync) error {
	if err := sync.InFlight.Wait(math.MaxUint64); err != nil {
		return fmt.Errorf("in-flight fence wait failure: %w", err)
	}
	return nil
}

func (c *Context) prepareFrame(rec FrameRecorder, info FrameInfo) error {
	if err := rec.Prepare(info); err != nil {
		return fmt.Errorf("failed to prepare frame %d: %w", info.Number, err)
	}
	return nil
}

func (c *Context) recordFrame(rec FrameRecorder, sync *FrameSync, info FrameInfo) error {
	cmd := sync.Commands
	if err := cmd.Reset(); err != nil {
		return err
	}
	if err := cmd.Begin(); err != nil {
		return err
	}
	if err := rec.Record(cmd, info); err != nil {
		return fmt.Errorf("failed to record frame %d: %w", info.Number, err)
	}
	return cmd.End()
}

func (c *Context) submitFrame(sync *FrameSync) error {
	// Reset only once work is guaranteed to be submitted, otherwise the next wait never returns.
	if err := sync.InFlight.Reset(); err != nil {
		return err
	}
	return c.device.Submit(gpu.SubmitInfo{
		CommandBuffer: sync.Commands,
		Wait:          sync.ImageAvailable,
		WaitStage:     gpu.PipelineStageColorAttachmentOutput,
		Signal:        sync.RenderFinished,
		Fence:         sync.InFlight,
	})
}

func (c *Context) presentFrame(sync *FrameSync, imageIndex uint32) error {
	status, err := c.swapchain.Present(imageIndex, sync.RenderFinished)
	if err != nil {
		return fmt.Errorf("failed to present swapchain image: %w", err)
	}
	if status != gpu.SwapchainOK || c.recreateRequested {
		core.LogDebug("swapchain %s on present, recreating", status)
		return c.recreateSwapchain()
	}
	return nil
}

func (c *Context) advance() {
	c.currentFrame = (c.currentFrame + 1) % MaxFramesInFlight
}

// recreateSwapchain waits for a non-zero window, drains the GPU, rebuilds the swapchain
// and runs the resize hooks in registration order. A window that is still zero sized
// after the wait (closed while minimized) leaves everything untouched.
func (c *Context) recreateSwapchain() error {
	w, h := c.window.WaitForNonzeroSize()
	if w == 0 || h == 0 {
		core.LogDebug("window still has no area, swapchain recreation skipped")
		return nil
	}
	if err := c.device.WaitIdle(); err != nil {
		return err
	}
	for i := range c.imagesInFlight {
		c.imagesInFlight[i] = nil
	}
	c.swapchain.Destroy()

	sc, err := c.device.NewSwapchain(w, h)
	if err != nil {
		return fmt.Errorf("failed to recreate swapchain: %w", err)
	}
	c.setSwapchain(sc)
	c.lastGeneration = c.sizeGeneration
	c.recreateRequested = false

	for _, r := range c.resizers {
		if err := r.OnResize(c.width, c.height); err != nil {
			return err
		}
	}
	core.LogInfo("swapchain recreated: %dx%d", c.width, c.height)
	return nil
}

// Destroy waits for the GPU and releases the swapchain and every sync set.
func (c *Context) Destroy() {
	if c.device == nil {
		return
	}
	if err := c.device.WaitIdle(); err != nil {
		core.LogError("wait idle on shutdown: %s", err)
	}
	for i := range c.frames {
		f := &c.frames[i]
		for _, d := range []gpu.Destroyer{f.ImageAvailable, f.RenderFinished, f.InFlight} {
			if d != nil {
				d.Destroy()
			}
		}
		if d, ok := f.Commands.(gpu.Destroyer); ok {
			d.Destroy()
		}
		*f = FrameSync{}
	}
	if c.swapchain != nil {
		c.swapchain.Destroy()
		c.swapchain = nil
	}
	c.imagesInFlight = nil
}
