// Package assets serves compiled shaders to the renderer and watches them for changes.
package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/umbra/engine/core"
)

// ShaderExt is appended to a shader name ("gbuffer.frag") to find its SPIR-V file.
const ShaderExt = ".spv"

var ErrLibraryClosed = errors.New("shader library already closed")

// ShaderLibrary loads SPIR-V binaries from a directory. When watching, a
// background goroutine records the shaders rewritten on disk; the frame thread
// collects them with Changed.
type ShaderLibrary struct {
	dir string

	mu      sync.Mutex
	cache   map[string][]byte
	pending map[string]struct{}
	closed  bool

	watcher *fsnotify.Watcher
	// Signaled (never blocking) whenever pending gains an entry.
	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewShaderLibrary(dir string) *ShaderLibrary {
	return &ShaderLibrary{
		dir:     dir,
		cache:   make(map[string][]byte),
		pending: make(map[string]struct{}),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (l *ShaderLibrary) Dir() string {
	return l.dir
}

func (l *ShaderLibrary) path(name string) string {
	return filepath.Join(l.dir, name+ShaderExt)
}

// Load returns the SPIR-V for name, reading it from disk the first time and
// after every change reported by the watcher.
func (l *ShaderLibrary) Load(name string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrLibraryClosed
	}
	if code, ok := l.cache[name]; ok {
		return code, nil
	}
	code, err := os.ReadFile(l.path(name))
	if err != nil {
		return nil, fmt.Errorf("failed to load shader `%s`: %w", name, err)
	}
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, fmt.Errorf("shader `%s` is not SPIR-V: size %d", name, len(code))
	}
	l.cache[name] = code
	core.LogDebug("loaded shader `%s` (%d bytes)", name, len(code))
	return code, nil
}

// shaderName maps a file in the library directory to the shader it holds.
func shaderName(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ShaderExt) || len(base) == len(ShaderExt) {
		return "", false
	}
	return strings.TrimSuffix(base, ShaderExt), true
}

// Watch starts the background watcher. It returns an error if the directory
// cannot be watched; loading keeps working either way.
func (l *ShaderLibrary) Watch() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLibraryClosed
	}
	if l.watcher != nil {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(l.dir); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch %s: %w", l.dir, err)
	}
	l.watcher = w
	l.wg.Add(1)
	go l.run(w)
	core.LogInfo("watching %s for shader changes", l.dir)
	return nil
}

func (l *ShaderLibrary) run(w *fsnotify.Watcher) {
	defer l.wg.Done()
	for {
		select {
		case e, ok := <-w.Events:
			if !ok {
				return
			}
			// Compilers often write a temp file and rename it over the target.
			if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) && !e.Has(fsnotify.Rename) {
				continue
			}
			if name, ok := shaderName(e.Name); ok {
				l.markChanged(name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			core.LogError("shader watcher: %s", err)
		case <-l.done:
			return
		}
	}
}

func (l *ShaderLibrary) markChanged(name string) {
	l.mu.Lock()
	delete(l.cache, name)
	l.pending[name] = struct{}{}
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Notify is signaled after at least one shader changed. Receiving from it is optional.
func (l *ShaderLibrary) Notify() <-chan struct{} {
	return l.notify
}

// Changed returns the shaders rewritten since the last call, sorted, without blocking.
func (l *ShaderLibrary) Changed() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return nil
	}
	names := make([]string, 0, len(l.pending))
	for name := range l.pending {
		names = append(names, name)
	}
	clear(l.pending)
	sort.Strings(names)
	return names
}

// Close stops the watcher and waits for its goroutine to exit.
func (l *ShaderLibrary) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	w := l.watcher
	l.mu.Unlock()

	close(l.done)
	l.wg.Wait()
	if w != nil {
		return w.Close()
	}
	return nil
}
