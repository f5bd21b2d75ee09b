package engine

import (
	"github.com/spaghettifunk/umbra/engine/core"
)

func (e *Engine) onEvent(context core.EventContext) bool {
	if context.Type == core.EVENT_CODE_APPLICATION_QUIT {
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning = false
		e.RequestQuit()
		return true
	}
	return false
}

func (e *Engine) onKey(context core.EventContext) bool {
	ke, ok := context.Data.(*core.KeyEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return false
	}
	switch ke.KeyCode {
	case core.KEY_ESCAPE:
		// Technically firing an event to itself, but there may be other listeners.
		e.bus.Fire(core.EventContext{Type: core.EVENT_CODE_APPLICATION_QUIT})
		return true
	case core.KEY_F5:
		core.LogInfo("manual shader reload requested")
		e.reloadShaders()
		return true
	}
	return false
}

func (e *Engine) onResized(context core.EventContext) bool {
	re, ok := context.Data.(*core.ResizeEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return false
	}
	if re.Width == e.width && re.Height == e.height {
		return false
	}
	e.width, e.height = re.Width, re.Height
	core.LogDebug("Window resize: %d, %d", re.Width, re.Height)

	if re.Width == 0 || re.Height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
	} else if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if e.renderer != nil {
		e.renderer.Resized(re.Width, re.Height)
	}
	if !e.isSuspended && e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(re.Width, re.Height); err != nil {
			core.LogError("game resize failed: %s", err)
		}
	}
	return false
}

func (e *Engine) onShadersChanged(context core.EventContext) bool {
	names, _ := context.Data.([]string)
	core.LogInfo("shaders changed on disk: %v", names)
	e.reloadShaders()
	return false
}

// reloadShaders keeps the previous pipelines when a shader fails to build, so a
// typo while editing does not stop the engine. Fatal GPU errors still do.
func (e *Engine) reloadShaders() {
	if e.renderer == nil {
		return
	}
	err := e.renderer.ReloadShaders()
	switch {
	case err == nil:
	case core.IsFatal(err):
		core.LogError("shader reload hit a fatal GPU error: %s", err)
		e.fatal = err
		e.RequestQuit()
	default:
		core.LogError("shader reload failed: %s", err)
	}
}
