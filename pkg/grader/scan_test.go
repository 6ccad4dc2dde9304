package grader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMimetypeTextFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world\n"), 0o644))

	mt, err := mimetype(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, mt, "text/plain")
}

func TestScanProhibitedFilesAllowsTextAndExplicitAllowlist(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "source.c"), []byte("int main(){return 0;}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blob.bin"), []byte{0x00, 0x01, 0x02, 0xff, 0xfe}, 0o644))

	prohibited, err := scanProhibitedFiles(context.Background(), dir, []string{"blob.bin"}, nil)
	require.NoError(t, err)
	assert.Empty(t, prohibited)
}

func TestScanProhibitedFilesFlagsUnallowedBinary(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blob.bin"), []byte{0x00, 0x01, 0x02, 0xff, 0xfe}, 0o644))

	prohibited, err := scanProhibitedFiles(context.Background(), dir, nil, nil)
	require.NoError(t, err)
	assert.Contains(t, prohibited, "blob.bin")
}

func TestScanProhibitedFilesAllowsMatchingMimePrefix(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blob.bin"), []byte{0x00, 0x01, 0x02, 0xff, 0xfe}, 0o644))

	prohibited, err := scanProhibitedFiles(context.Background(), dir, nil, []string{"application/"})
	require.NoError(t, err)
	assert.Empty(t, prohibited)
}
