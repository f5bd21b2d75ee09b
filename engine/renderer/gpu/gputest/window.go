package gputest

import "github.com/spaghettifunk/umbra/engine/renderer/gpu"

// Window is a fake window collaborator. WaitForNonzeroSize returns Restore when the size is zero.
type Window struct {
	Size      gpu.Extent2D
	Restore   gpu.Extent2D
	WaitCalls int
}

func NewWindow(width, height uint32) *Window {
	return &Window{Size: gpu.Extent2D{Width: width, Height: height}, Restore: gpu.Extent2D{Width: width, Height: height}}
}

func (w *Window) FramebufferSize() (uint32, uint32) {
	return w.Size.Width, w.Size.Height
}

func (w *Window) WaitForNonzeroSize() (uint32, uint32) {
	w.WaitCalls++
	if w.Size.IsZero() {
		w.Size = w.Restore
	}
	return w.Size.Width, w.Size.Height
}

// Shaders serves a dummy SPIR-V blob for any shader name and records the lookups.
type Shaders struct {
	Loaded []string
	// Missing names make Load fail.
	Missing map[string]bool
}

func (s *Shaders) Load(name string) ([]byte, error) {
	if s.Missing[name] {
		return nil, &missingShaderError{name: name}
	}
	s.Loaded = append(s.Loaded, name)
	return []byte{0x03, 0x02, 0x23, 0x07}, nil
}

type missingShaderError struct{ name string }

func (e *missingShaderError) Error() string { return "shader not found: " + e.name }
