package activation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreMissingFileIsInactive(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "activation.json"))
	st, err := fs.Load()
	require.NoError(t, err)
	assert.False(t, st.Activated)
	assert.Equal(t, StateVersion, st.Version)
}

func TestFileStoreSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "activation.json")
	fs := NewFileStore(path)

	want := State{Activated: true, Identifier: "a@example.com", Plan: "lifetime", Token: "tok"}
	require.NoError(t, fs.Save(want))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := fs.Load()
	require.NoError(t, err)
	assert.Equal(t, StateVersion, got.Version)
	assert.True(t, got.Activated)
	assert.Equal(t, "a@example.com", got.Identifier)
	assert.Equal(t, "lifetime", got.Plan)
	assert.Equal(t, "tok", got.Token)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temporary files must not be left behind")
}

func TestFileStoreMigratesLegacyOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activation.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"isActivated":true,"activatedEmail":"old@example.com"}`), 0o600))

	st, err := NewFileStore(path).Load()
	require.NoError(t, err)
	assert.True(t, st.Activated)
	assert.Equal(t, "old@example.com", st.Identifier)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"version": 2`)
	assert.NotContains(t, string(raw), "isActivated")
}

func TestFileStoreRefusesSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "elsewhere.json")
	require.NoError(t, os.WriteFile(target, []byte(`{"version":2}`), 0o600))
	link := filepath.Join(dir, "activation.json")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	fs := NewFileStore(link)
	_, err := fs.Load()
	assert.ErrorIs(t, err, errUnsafeStatePath)
	assert.ErrorIs(t, fs.Save(State{Activated: true}), errUnsafeStatePath)
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activation.json")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))

	_, err := NewFileStore(path).Load()
	assert.Error(t, err)
}
