package main

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fileshare/internal/catalog"
	"fileshare/internal/config"
)

func TestAdminCommands(t *testing.T) {
	state := t.TempDir()
	src := filepath.Join(t.TempDir(), "holiday.jpg")
	require.NoError(t, os.WriteFile(src, []byte("jpeg bytes"), 0o644))

	require.Equal(t, 0, folderCmd([]string{"-state", state, "add", "Photos"}))
	require.Equal(t, 0, fileCmd([]string{"-state", state, "add", "1", src}))
	require.Equal(t, 0, fileCmd([]string{"-state", state, "add", "1", src}))
	assert.Equal(t, 0, fileCmd([]string{"-state", state, "ls", "1"}))
	assert.Equal(t, 0, folderCmd([]string{"-state", state, "ls"}))

	cfg := config.Default()
	cfg.StateDir = state
	store, err := catalog.Open(context.Background(), cfg.DatabasePath())
	require.NoError(t, err)
	files, err := store.QueryFiles(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "holiday.jpg", files[0].DisplayName)
	assert.NotEqual(t, files[0].DataRef.Path, files[1].DataRef.Path, "second import must not overwrite the first")
	for _, f := range files {
		assert.Equal(t, cfg.UploadsDir(), filepath.Dir(f.DataRef.Path))
		b, err := os.ReadFile(f.DataRef.Path)
		require.NoError(t, err)
		assert.Equal(t, "jpeg bytes", string(b))
	}
	require.NoError(t, store.Close())

	assert.Equal(t, 0, fileCmd([]string{"-state", state, "rm", strconv.FormatInt(files[1].ID, 10)}))
	assert.Equal(t, 1, fileCmd([]string{"-state", state, "rm", strconv.FormatInt(files[1].ID, 10)}), "already removed")

	assert.Equal(t, 1, folderCmd([]string{"-state", state, "rm", "0"}), "public folder is reserved")
	assert.Equal(t, 0, folderCmd([]string{"-state", state, "rm", "1"}))
	assert.Equal(t, 1, folderCmd([]string{"-state", state, "rm", "1"}))
	assert.Equal(t, 1, fileCmd([]string{"-state", state, "add", "1", src}), "folder is gone")

	store, err = catalog.Open(context.Background(), cfg.DatabasePath())
	require.NoError(t, err)
	defer store.Close()
	files, err = store.QueryFiles(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestAdminCommands_Usage(t *testing.T) {
	state := t.TempDir()
	assert.Equal(t, 2, folderCmd([]string{"-state", state}))
	assert.Equal(t, 2, folderCmd([]string{"-state", state, "rm", "x"}))
	assert.Equal(t, 2, fileCmd([]string{"-state", state, "ls"}))
	assert.Equal(t, 2, fileCmd([]string{"-state", state, "ls", "abc"}))
}

func TestCommonFlags_StateDirIsAbsolute(t *testing.T) {
	t.Chdir(t.TempDir())

	c := commonFlags{stateDir: "x"}
	cfg, err := c.load()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cfg.StateDir))
	assert.Equal(t, "x", filepath.Base(cfg.StateDir))

	cfg, err = (&commonFlags{}).load()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cfg.StateDir))
	assert.Equal(t, config.DefaultStateDir, filepath.Base(cfg.StateDir))
}

func TestAdminCommands_RelativeStateStoresAbsolutePaths(t *testing.T) {
	work := t.TempDir()
	src := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("notes"), 0o644))

	t.Chdir(work)
	require.Equal(t, 0, fileCmd([]string{"-state", "x", "add", "0", src}))

	t.Chdir(t.TempDir())
	cfg := config.Default()
	cfg.StateDir = filepath.Join(work, "x")
	store, err := catalog.Open(context.Background(), cfg.DatabasePath())
	require.NoError(t, err)
	defer store.Close()
	files, err := store.QueryFiles(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, filepath.IsAbs(files[0].DataRef.Path))
	c, err := store.Resolve(context.Background(), files[0].DataRef)
	require.NoError(t, err)
	require.NoError(t, c.Close())
}
