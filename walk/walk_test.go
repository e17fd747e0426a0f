package walk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, name := range []string{
		"b.txt",
		"a.txt",
		"notes.log",
		"sub/c.txt",
		"sub/deep/d.txt",
		".git/HEAD",
		"build/out.bin",
	} {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(name), 0o644))
	}
	return root
}

func rel(t *testing.T, root string, files []string) []string {
	t.Helper()
	out := make([]string, len(files))
	for i, f := range files {
		r, err := filepath.Rel(root, f)
		require.NoError(t, err)
		out[i] = filepath.ToSlash(r)
	}
	return out
}

func TestFiles(t *testing.T) {
	root := tree(t)
	files, err := Files(root, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		".git/HEAD",
		"a.txt",
		"b.txt",
		"build/out.bin",
		"notes.log",
		"sub/c.txt",
		"sub/deep/d.txt",
	}, rel(t, root, files))
}

func TestFilesExcludes(t *testing.T) {
	root := tree(t)
	files, err := Files(root, []string{".git", "build", "*.log", "sub/deep"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt", "sub/c.txt"}, rel(t, root, files))
}

func TestFilesSingleFile(t *testing.T) {
	root := tree(t)
	path := filepath.Join(root, "a.txt")
	files, err := Files(path, []string{"*.txt"})
	require.NoError(t, err)
	assert.Equal(t, []string{path}, files)
}

func TestFilesSkipsSymlinks(t *testing.T) {
	root := tree(t)
	if err := os.Symlink(filepath.Join(root, "a.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Skip("symlinks unsupported")
	}
	files, err := Files(root, []string{".git", "build", "sub"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt", "notes.log"}, rel(t, root, files))
}

func TestFilesErrors(t *testing.T) {
	_, err := Files(filepath.Join(t.TempDir(), "missing"), nil)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, err = Files(tree(t), []string{"[unclosed"})
	assert.True(t, errors.Is(err, ErrBadPattern))
}

func TestExpandDeduplicates(t *testing.T) {
	root := tree(t)
	files, err := Expand([]string{filepath.Join(root, "a.txt"), filepath.Join(root, "sub"), filepath.Join(root, "a.txt")}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "sub/c.txt", "sub/deep/d.txt"}, rel(t, root, files))
}
