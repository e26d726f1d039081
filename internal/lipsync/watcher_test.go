package lipsync

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexviseme/internal/viseme"
)

func waitReload(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("model was not reloaded")
		return nil
	}
}

func TestWatcher_ReloadsOnSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "visemes.bin")

	dst := newTestEngine(t, DefaultConfig(), nil, nil)
	w, err := NewWatcher(dst, path, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	reloads := make(chan error, 16)
	w.OnReload(func(err error) { reloads <- err })

	src := newTestEngine(t, DefaultConfig(), nil, nil)
	trainTwoSlots(t, src)
	require.NoError(t, src.Save(path))

	// A rename may surface as several events; wait for a good reload.
	for {
		if err := waitReload(t, reloads); err == nil {
			break
		}
	}
	assert.Equal(t, src.Models(), dst.Models())
}

func TestWatcher_BadFileKeepsModels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "visemes.bin")

	dst := newTestEngine(t, DefaultConfig(), nil, nil)
	trainTwoSlots(t, dst)
	before := dst.Models()

	w, err := NewWatcher(dst, path, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	reloads := make(chan error, 16)
	w.OnReload(func(err error) { reloads <- err })

	// Other files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.bin"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(path, make([]byte, viseme.RecordSize), 0644))

	assert.ErrorIs(t, waitReload(t, reloads), viseme.ErrShortModel)
	assert.Equal(t, before, dst.Models())
}

func TestWatcher_MissingDirectory(t *testing.T) {
	dst := newTestEngine(t, DefaultConfig(), nil, nil)
	_, err := NewWatcher(dst, filepath.Join(t.TempDir(), "nope", "visemes.bin"), zerolog.Nop())
	assert.Error(t, err)
}
