package reader

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func openAll(t *testing.T, opts Options) (*FileReader, []string) {
	t.Helper()
	r, err := OpenFile(opts)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	var chunks []string
	for i := 0; !r.EOF(); i++ {
		require.Less(t, i, 100, "reader did not reach EOF")
		data, err := r.ReadLog()
		require.NoError(t, err)
		if len(data) > 0 {
			chunks = append(chunks, string(data))
		}
	}
	return r, chunks
}

func TestFileReader_ChunksEndOnLineBoundary(t *testing.T) {
	dir := t.TempDir()
	content := "line one\nline two\nline three\nlast"
	path := writeFile(t, dir, "a.log", content)

	key, err := StatKey(path)
	require.NoError(t, err)

	r, chunks := openAll(t, Options{
		Path:       path,
		DevInode:   key.DevInode,
		Size:       key.FileSize,
		BufferSize: 20,
		QueueKey:   "q",
	})

	assert.Equal(t, []string{"line one\nline two\n", "line three\nlast"}, chunks)
	assert.Equal(t, int64(len(content)), r.LastPosition())
	assert.Equal(t, path, r.ResolvedPath())
	assert.Equal(t, "q", r.QueueKey())

	data, err := r.ReadLog()
	assert.NoError(t, err)
	assert.Empty(t, data)
}

func TestFileReader_ReadsOnlyRecordedRange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.log", "aaa\nbbb\nccc\n")

	_, chunks := openAll(t, Options{Path: path, Offset: 4, Size: 8, BufferSize: 64})
	assert.Equal(t, []string{"bbb\n"}, chunks)

	// Content appended after discovery is not read.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, _ = f.WriteString("ddd\n")
	f.Close()

	_, chunks = openAll(t, Options{Path: path, Size: 12, BufferSize: 64})
	assert.Equal(t, []string{"aaa\nbbb\nccc\n"}, chunks)
}

func TestFileReader_LongLineIsSplit(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.log", "0123456789abcdef\n")

	_, chunks := openAll(t, Options{Path: path, Size: 17, BufferSize: 8})
	assert.Equal(t, []string{"01234567", "89abcdef", "\n"}, chunks)
}

func TestFileReader_Truncated(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.log", "short\n")

	r, chunks := openAll(t, Options{Path: path, Size: 100, BufferSize: 64})
	assert.Equal(t, []string{"short\n"}, chunks)
	assert.Equal(t, int64(6), r.LastPosition())
}

func TestFileReader_EmptyRange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "empty.log", "")

	r, err := OpenFile(Options{Path: path, BufferSize: 64})
	require.NoError(t, err)
	defer r.Close()

	assert.True(t, r.EOF())
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(Options{Path: filepath.Join(t.TempDir(), "nope.log"), BufferSize: 64})
	assert.ErrorIs(t, err, ErrFileLost)
}

func TestOpen_InvalidBuffer(t *testing.T) {
	_, err := Open(Options{Path: "/tmp/x", BufferSize: 0})
	assert.Error(t, err)
}

func TestOpen_SignatureMismatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.log", "original content\n")

	size, hash, err := Signature(path, 1024)
	require.NoError(t, err)
	assert.Equal(t, uint32(17), size)

	r, err := Open(Options{Path: path, Size: 17, SignatureSize: size, SignatureHash: hash, BufferSize: 64})
	require.NoError(t, err)
	r.Close()

	writeFile(t, dir, "a.log", "replaced content\n")
	_, err = Open(Options{Path: path, Size: 17, SignatureSize: size, SignatureHash: hash, BufferSize: 64})
	assert.ErrorIs(t, err, ErrFileLost)
}

func TestSignature_EmptyFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "empty.log", "")

	size, hash, err := Signature(path, 1024)
	require.NoError(t, err)
	assert.Zero(t, size)
	assert.Zero(t, hash)
}

func TestOpen_FollowsRename(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("inode tracking is not available on windows")
	}

	dir := t.TempDir()
	path := writeFile(t, dir, "app.log", "rotated line\n")
	key, err := StatKey(path)
	require.NoError(t, err)
	require.False(t, key.DevInode.IsZero())

	rotated := filepath.Join(dir, "app.log.1")
	require.NoError(t, os.Rename(path, rotated))
	writeFile(t, dir, "app.log", "fresh file\n")

	r, chunks := openAll(t, Options{Path: path, DevInode: key.DevInode, Size: key.FileSize, BufferSize: 64})
	assert.Equal(t, rotated, r.ResolvedPath())
	assert.Equal(t, []string{"rotated line\n"}, chunks)

	require.NoError(t, os.Remove(rotated))
	_, err = Open(Options{Path: path, DevInode: key.DevInode, Size: key.FileSize, BufferSize: 64})
	assert.ErrorIs(t, err, ErrFileLost)
}

func TestStatKey_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.log")
	key, err := StatKey(path)
	assert.Error(t, err)
	assert.Equal(t, path, key.FileName)
	assert.True(t, key.DevInode.IsZero())
}
