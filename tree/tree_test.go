package tree

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limkokhole/isorun/manifest"
)

// dirLibrary serves blobs straight out of a directory, standing in for
// the warmed cache.
type dirLibrary struct {
	dir string
}

func (l *dirLibrary) Retrieve(id string) (bool, error) {
	_, err := os.Stat(l.Path(id))
	return err == nil, nil
}

func (l *dirLibrary) Path(id string) string { return filepath.Join(l.dir, id) }

func newDirLibrary(t *testing.T, blobs map[string][]byte) *dirLibrary {
	t.Helper()
	dir := t.TempDir()
	for id, data := range blobs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, id), data, 0o600))
	}
	return &dirLibrary{dir: dir}
}

func loadTestManifest(t *testing.T, data string) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Load([]byte(data))
	require.NoError(t, err)
	return m
}

var (
	digestA = strings.Repeat("a", 40)
	digestB = strings.Repeat("b", 40)
)

func TestMaterializeFidelity(t *testing.T) {
	t.Parallel()

	lib := newDirLibrary(t, map[string][]byte{digestA: []byte("file content")})
	m := loadTestManifest(t, `{
		"files": {"a/b.txt": {"sha-1": "`+digestA+`", "mode": 420}}
	}`)

	root := t.TempDir()
	require.NoError(t, Materialize(root, m, lib))

	got, err := os.ReadFile(filepath.Join(root, "a", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("file content"), got)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(filepath.Join(root, "a", "b.txt"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
	}

	require.NoError(t, Remove(root))
	_, err = os.Stat(root)
	assert.True(t, os.IsNotExist(err), "removal must leave no residue")
}

func TestMaterializeSymlinkLiteralTarget(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	lib := newDirLibrary(t, nil)
	m := loadTestManifest(t, `{
		"files": {"shortcut": {"link": "data/x.txt"}}
	}`)

	root := t.TempDir()
	require.NoError(t, Materialize(root, m, lib))

	// The target is recorded verbatim even though nothing resolves it.
	target, err := os.Readlink(filepath.Join(root, "shortcut"))
	require.NoError(t, err)
	assert.Equal(t, "data/x.txt", target)
}

func TestMaterializeHardlinksWhenPossible(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("no stable hardlink probe on windows")
	}

	lib := newDirLibrary(t, map[string][]byte{digestA: []byte("shared")})
	m := loadTestManifest(t, `{
		"files": {"a.txt": {"sha-1": "`+digestA+`"}, "b.txt": {"sha-1": "`+digestA+`"}}
	}`)

	// Same t.TempDir root as the library: hardlinks must work, so the
	// two names plus the cache copy share one inode's content.
	root := filepath.Join(lib.dir, "root")
	require.NoError(t, os.Mkdir(root, 0o755))
	require.NoError(t, Materialize(root, m, lib))

	a, err := os.Stat(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	b, err := os.Stat(filepath.Join(root, "b.txt"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(a, b))
}

func TestMaterializeMissingSource(t *testing.T) {
	t.Parallel()

	lib := newDirLibrary(t, nil)
	m := loadTestManifest(t, `{
		"files": {"a.txt": {"sha-1": "`+digestA+`"}}
	}`)

	err := Materialize(t.TempDir(), m, lib)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMapping)
}

func TestMaterializeDestinationCollision(t *testing.T) {
	t.Parallel()

	lib := newDirLibrary(t, map[string][]byte{digestA: []byte("x")})
	m := loadTestManifest(t, `{
		"files": {"a.txt": {"sha-1": "`+digestA+`"}}
	}`)

	root := t.TempDir()
	require.NoError(t, Materialize(root, m, lib))

	// Mapping over an existing file is an integrity error, never a
	// silent overwrite.
	err := Materialize(root, m, lib)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMapping)
}

func TestMaterializeEntryWithoutContent(t *testing.T) {
	t.Parallel()

	lib := newDirLibrary(t, nil)
	m := loadTestManifest(t, `{"files": {"a.txt": {"mode": 420}}}`)

	err := Materialize(t.TempDir(), m, lib)
	require.Error(t, err)
	assert.ErrorIs(t, err, manifest.ErrInvalid)
}

func TestMaterializeCreatesRelativeCwd(t *testing.T) {
	t.Parallel()

	lib := newDirLibrary(t, nil)
	m := loadTestManifest(t, `{"files": {}, "relative_cwd": "out/tests"}`)

	root := t.TempDir()
	require.NoError(t, Materialize(root, m, lib))

	info, err := os.Stat(filepath.Join(root, "out", "tests"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestMaterializeReadOnlyAndRemove(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("posix write bits")
	}

	lib := newDirLibrary(t, map[string][]byte{
		digestA: []byte("a"),
		digestB: []byte("b"),
	})
	m := loadTestManifest(t, `{
		"files": {
			"a.txt": {"sha-1": "`+digestA+`", "mode": 438},
			"sub/b.txt": {"sha-1": "`+digestB+`", "mode": 438}
		},
		"read_only": true
	}`)

	base := t.TempDir()
	root := filepath.Join(base, "tree")
	require.NoError(t, os.Mkdir(root, 0o755))
	require.NoError(t, Materialize(root, m, lib))

	for _, rel := range []string{"a.txt", filepath.Join("sub", "b.txt")} {
		info, err := os.Stat(filepath.Join(root, rel))
		require.NoError(t, err)
		assert.Zero(t, info.Mode().Perm()&0o200, "%s should be read-only", rel)
	}
	sub, err := os.Stat(filepath.Join(root, "sub"))
	require.NoError(t, err)
	assert.Zero(t, sub.Mode().Perm()&0o200)

	// Cleanup restores write bits before deleting.
	require.NoError(t, Remove(root))
	_, err = os.Stat(root)
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveMissingRootSucceeds(t *testing.T) {
	t.Parallel()

	require.NoError(t, Remove(filepath.Join(t.TempDir(), "never-existed")))
}
