// Package reader reads the fixed byte range of a file recorded in an adhoc
// checkpoint, following the file across renames by device and inode.
package reader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/GabrielNunesIT/adhoc-collector/internal/checkpoint"
	"github.com/cespare/xxhash/v2"
)

// ErrFileLost is returned when the file a checkpoint refers to can no longer
// be found, or was replaced by a file with different leading content.
var ErrFileLost = errors.New("file lost")

// Reader produces line-aligned chunks of a single file.
type Reader interface {
	// ReadLog returns the next chunk. An empty chunk with EOF() true means the
	// recorded range has been fully read.
	ReadLog() ([]byte, error)
	// LastPosition is the offset right after the last returned chunk.
	LastPosition() int64
	// ResolvedPath is the path the file was actually opened from.
	ResolvedPath() string
	EOF() bool
	QueueKey() string
	Close() error
}

// Options describes which file to open and which range of it to read.
type Options struct {
	Path          string
	DevInode      checkpoint.DevInode
	Offset        int64
	Size          int64
	SignatureSize uint32
	SignatureHash uint64
	BufferSize    int
	QueueKey      string
}

// FileReader reads [Offset, Size) of a file in chunks of at most BufferSize.
type FileReader struct {
	opts     Options
	file     *os.File
	path     string
	position int64
	eof      bool
}

// Open resolves and opens the file described by opts.
func Open(opts Options) (Reader, error) {
	return OpenFile(opts)
}

// OpenFile is Open returning the concrete type.
func OpenFile(opts Options) (*FileReader, error) {
	if opts.BufferSize <= 0 {
		return nil, fmt.Errorf("invalid buffer size %d", opts.BufferSize)
	}

	path, err := resolve(opts.Path, opts.DevInode)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileLost, opts.Path)
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	if opts.SignatureSize > 0 {
		hash, err := hashPrefix(f, int64(opts.SignatureSize))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("reading signature of %s: %w", path, err)
		}
		if hash != opts.SignatureHash {
			f.Close()
			return nil, fmt.Errorf("%w: signature of %s changed", ErrFileLost, path)
		}
	}

	return &FileReader{
		opts:     opts,
		file:     f,
		path:     path,
		position: opts.Offset,
		eof:      opts.Offset >= opts.Size,
	}, nil
}

// ReadLog implements Reader.
func (r *FileReader) ReadLog() ([]byte, error) {
	if r.eof {
		return nil, nil
	}

	remaining := r.opts.Size - r.position
	n := int64(r.opts.BufferSize)
	if remaining < n {
		n = remaining
	}

	buf := make([]byte, n)
	got, err := r.file.ReadAt(buf, r.position)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading %s at %d: %w", r.path, r.position, err)
	}
	// A short read at EOF means the file was truncated under us; what was
	// read is still delivered and the range is considered done.
	truncated := errors.Is(err, io.EOF) && int64(got) < n
	data := buf[:got]

	if !truncated && r.position+int64(got) < r.opts.Size {
		if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
			data = data[:i+1]
		}
		// A line longer than the buffer is split at the buffer boundary.
	}

	r.position += int64(len(data))
	if truncated || r.position >= r.opts.Size {
		r.eof = true
	}
	return data, nil
}

// LastPosition implements Reader.
func (r *FileReader) LastPosition() int64 {
	return r.position
}

// ResolvedPath implements Reader.
func (r *FileReader) ResolvedPath() string {
	return r.path
}

// EOF implements Reader.
func (r *FileReader) EOF() bool {
	return r.eof
}

// QueueKey implements Reader.
func (r *FileReader) QueueKey() string {
	return r.opts.QueueKey
}

// Close implements Reader.
func (r *FileReader) Close() error {
	return r.file.Close()
}

// Signature hashes the first size bytes of path, or the whole file when it is
// shorter. It returns the number of bytes hashed.
func Signature(path string, size int) (uint32, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, 0, err
	}
	n := min(int64(size), info.Size())
	if n <= 0 {
		return 0, 0, nil
	}

	hash, err := hashPrefix(f, n)
	if err != nil {
		return 0, 0, err
	}
	return uint32(n), hash, nil
}

// StatKey returns the checkpoint identity of path as it is now.
func StatKey(path string) (checkpoint.FileCheckpointKey, error) {
	info, err := os.Stat(path)
	if err != nil {
		return checkpoint.FileCheckpointKey{FileName: path}, err
	}
	return checkpoint.FileCheckpointKey{
		DevInode: devInode(path),
		FileName: path,
		FileSize: info.Size(),
	}, nil
}

func hashPrefix(f *os.File, n int64) (uint64, error) {
	h := xxhash.New()
	if _, err := io.Copy(h, io.NewSectionReader(f, 0, n)); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// resolve finds the current path of the file identified by id. It checks the
// recorded path first and then the rest of its directory, which covers
// rotation by rename.
func resolve(path string, id checkpoint.DevInode) (string, error) {
	_, err := os.Stat(path)
	if id.IsZero() {
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrFileLost, path)
		}
		return path, nil
	}
	if err == nil && devInode(path) == id {
		return path, nil
	}

	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrFileLost, path, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		candidate := filepath.Join(dir, entry.Name())
		if devInode(candidate) == id {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrFileLost, path)
}
