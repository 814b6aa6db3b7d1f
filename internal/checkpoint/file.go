// Package checkpoint persists per-file read progress of adhoc jobs so that a
// restarted collector resumes each file from its last durable offset.
package checkpoint

import (
	"fmt"
	"sync"
	"time"
)

// DevInode identifies a file on a filesystem independently of its path.
// The zero value means the identity is unknown (file missing or platform
// without inode support).
type DevInode struct {
	Dev   uint64
	Inode uint64
}

// IsZero reports whether the identity is unknown.
func (d DevInode) IsZero() bool {
	return d.Dev == 0 && d.Inode == 0
}

func (d DevInode) String() string {
	return fmt.Sprintf("%d:%d", d.Dev, d.Inode)
}

// FileCheckpointKey identifies a file of a job as it was discovered.
type FileCheckpointKey struct {
	DevInode DevInode
	FileName string
	FileSize int64
}

func (k FileCheckpointKey) String() string {
	return fmt.Sprintf("%s:%d:%s", k.DevInode, k.FileSize, k.FileName)
}

// FileState is a point-in-time copy of a FileCheckpoint.
type FileState struct {
	FileName       string
	RealFileName   string
	Size           int64
	Offset         int64
	SignatureSize  uint32
	SignatureHash  uint64
	DevInode       DevInode
	FileOpenFlag   int32
	Status         Status
	StartTime      time.Time
	LastUpdateTime time.Time
	JobName        string
}

// Key returns the identity the state was registered under.
func (s FileState) Key() FileCheckpointKey {
	return FileCheckpointKey{DevInode: s.DevInode, FileName: s.FileName, FileSize: s.Size}
}

// FileUpdate carries the progress reported for one file.
// Zero fields leave the corresponding value untouched.
type FileUpdate struct {
	Offset        int64
	RealFileName  string
	Status        Status
	SignatureSize uint32
	SignatureHash uint64
}

// FileCheckpoint is the mutable progress record of one file.
// It is written by the engine goroutine and read by the dump goroutine.
type FileCheckpoint struct {
	mu    sync.Mutex
	state FileState
}

func newFileCheckpoint(jobName string, key FileCheckpointKey) *FileCheckpoint {
	return &FileCheckpoint{
		state: FileState{
			FileName:     key.FileName,
			RealFileName: key.FileName,
			Size:         key.FileSize,
			DevInode:     key.DevInode,
			Status:       StatusWaiting,
			JobName:      jobName,
		},
	}
}

// Snapshot returns a consistent copy of the record.
func (c *FileCheckpoint) Snapshot() FileState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Key returns the identity of the record.
func (c *FileCheckpoint) Key() FileCheckpointKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Key()
}

// apply merges u into the record. It returns the number of bytes the offset
// advanced, whether the record became terminal, and whether anything changed.
func (c *FileCheckpoint) apply(u FileUpdate, now time.Time) (advanced int64, terminal bool, changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &c.state
	if s.Status.IsTerminal() {
		return 0, false, false
	}

	if u.Offset > s.Offset {
		offset := u.Offset
		if offset > s.Size {
			offset = s.Size
		}
		advanced = offset - s.Offset
		s.Offset = offset
		changed = changed || advanced > 0
	}

	if u.RealFileName != "" && u.RealFileName != s.RealFileName {
		s.RealFileName = u.RealFileName
		changed = true
	}

	if u.SignatureSize > 0 && s.SignatureSize == 0 {
		s.SignatureSize = u.SignatureSize
		s.SignatureHash = u.SignatureHash
		changed = true
	}

	if u.Status != 0 && u.Status != s.Status && s.Status.canTransitionTo(u.Status) {
		if s.Status == StatusWaiting {
			s.StartTime = now
		}
		s.Status = u.Status
		terminal = u.Status.IsTerminal()
		changed = true
	}

	if changed {
		s.LastUpdateTime = now
	}
	return advanced, terminal, changed
}
