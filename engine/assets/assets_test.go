package assets

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var spirvHeader = []byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00, 0x01, 0x00}

func writeShader(t *testing.T, dir, name string, code []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+ShaderExt), code, 0o644))
}

func TestLoadCachesUntilChanged(t *testing.T) {
	dir := t.TempDir()
	writeShader(t, dir, "gbuffer.frag", spirvHeader)
	lib := NewShaderLibrary(dir)
	defer lib.Close()

	code, err := lib.Load("gbuffer.frag")
	require.NoError(t, err)
	assert.Equal(t, spirvHeader, code)

	// Served from the cache until the watcher invalidates it.
	writeShader(t, dir, "gbuffer.frag", append(spirvHeader, 0, 0, 0, 0))
	code, err = lib.Load("gbuffer.frag")
	require.NoError(t, err)
	assert.Len(t, code, len(spirvHeader))

	lib.markChanged("gbuffer.frag")
	code, err = lib.Load("gbuffer.frag")
	require.NoError(t, err)
	assert.Len(t, code, len(spirvHeader)+4)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	writeShader(t, dir, "odd.vert", []byte{1, 2, 3})
	lib := NewShaderLibrary(dir)

	_, err := lib.Load("missing.vert")
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = lib.Load("odd.vert")
	assert.ErrorContains(t, err, "not SPIR-V")

	require.NoError(t, lib.Close())
	_, err = lib.Load("odd.vert")
	assert.ErrorIs(t, err, ErrLibraryClosed)
	assert.ErrorIs(t, lib.Watch(), ErrLibraryClosed)
}

func TestShaderName(t *testing.T) {
	cases := []struct {
		path string
		name string
		ok   bool
	}{
		{"/shaders/gbuffer.frag.spv", "gbuffer.frag", true},
		{"shadow_point.geom.spv", "shadow_point.geom", true},
		{"/shaders/gbuffer.frag", "", false},
		{"/shaders/.spv", "", false},
		{"/shaders/notes.txt", "", false},
	}
	for _, c := range cases {
		name, ok := shaderName(c.path)
		assert.Equal(t, c.ok, ok, c.path)
		assert.Equal(t, c.name, name, c.path)
	}
}

func TestChangedDrainsSorted(t *testing.T) {
	lib := NewShaderLibrary(t.TempDir())
	defer lib.Close()
	assert.Nil(t, lib.Changed())

	lib.markChanged("tonemap.frag")
	lib.markChanged("blit.frag")
	lib.markChanged("tonemap.frag")

	select {
	case <-lib.Notify():
	default:
		t.Fatal("expected a change notification")
	}
	assert.Equal(t, []string{"blit.frag", "tonemap.frag"}, lib.Changed())
	assert.Nil(t, lib.Changed())
}

func TestWatchReportsRewrittenShader(t *testing.T) {
	dir := t.TempDir()
	writeShader(t, dir, "composition.frag", spirvHeader)
	lib := NewShaderLibrary(dir)
	defer lib.Close()

	require.NoError(t, lib.Watch())
	require.NoError(t, lib.Watch(), "watching twice is a no-op")

	writeShader(t, dir, "composition.frag", spirvHeader)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644))

	var changed []string
	require.Eventually(t, func() bool {
		changed = append(changed, lib.Changed()...)
		return len(changed) > 0
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, changed, "composition.frag")
	assert.NotContains(t, changed, "readme.txt")
}

func TestWatchMissingDir(t *testing.T) {
	lib := NewShaderLibrary(filepath.Join(t.TempDir(), "nope"))
	defer lib.Close()
	assert.Error(t, lib.Watch())
}
