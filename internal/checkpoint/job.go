package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// formatVersion is the version of the on-disk job document.
const formatVersion = 1

// ErrUnsupportedVersion is returned when a checkpoint file has an unknown version.
var ErrUnsupportedVersion = errors.New("unsupported checkpoint version")

// JobCheckpoint owns the FileCheckpoints of one job, in discovery order.
type JobCheckpoint struct {
	name          string
	dumpThreshold int64

	mu      sync.RWMutex
	order   []string
	files   map[string]*FileCheckpoint
	deleted bool

	unflushed atomic.Int64
	dirty     atomic.Bool

	// dumpMu orders dumps so an older snapshot never replaces a newer one.
	dumpMu sync.Mutex
}

// NewJobCheckpoint creates an empty job. Progress of at least dumpThreshold
// bytes since the last dump makes an update checkpoint-worthy; zero disables
// the threshold.
func NewJobCheckpoint(name string, dumpThreshold int64) *JobCheckpoint {
	return &JobCheckpoint{
		name:          name,
		dumpThreshold: dumpThreshold,
		files:         make(map[string]*FileCheckpoint),
	}
}

// Name returns the job name.
func (j *JobCheckpoint) Name() string {
	return j.name
}

// AddFileCheckpoint registers a WAITING file unless the key is already known.
func (j *JobCheckpoint) AddFileCheckpoint(key FileCheckpointKey) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	id := key.String()
	if _, ok := j.files[id]; ok {
		return false
	}
	j.files[id] = newFileCheckpoint(j.name, key)
	j.order = append(j.order, id)
	j.dirty.Store(true)
	return true
}

// GetFileCheckpoint returns the record registered under key.
func (j *JobCheckpoint) GetFileCheckpoint(key FileCheckpointKey) (*FileCheckpoint, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	fc, ok := j.files[key.String()]
	return fc, ok
}

// UpdateFileCheckpoint applies u to the file registered under key and reports
// whether the job should be dumped right away.
func (j *JobCheckpoint) UpdateFileCheckpoint(key FileCheckpointKey, u FileUpdate) bool {
	j.mu.RLock()
	fc, ok := j.files[key.String()]
	deleted := j.deleted
	j.mu.RUnlock()

	if !ok || deleted {
		return false
	}

	advanced, terminal, changed := fc.apply(u, time.Now())
	if !changed {
		return false
	}
	j.dirty.Store(true)

	unflushed := j.unflushed.Add(advanced)
	if terminal {
		return true
	}
	return j.dumpThreshold > 0 && unflushed >= j.dumpThreshold
}

// NextPending returns the first file still WAITING or LOADING.
func (j *JobCheckpoint) NextPending() (*FileCheckpoint, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.deleted {
		return nil, false
	}
	for _, id := range j.order {
		fc := j.files[id]
		if !fc.Snapshot().Status.IsTerminal() {
			return fc, true
		}
	}
	return nil, false
}

// Drained reports whether every file is FINISHED or LOST.
func (j *JobCheckpoint) Drained() bool {
	_, pending := j.NextPending()
	return !pending
}

// Files returns snapshots of every file in discovery order.
func (j *JobCheckpoint) Files() []FileState {
	j.mu.RLock()
	defer j.mu.RUnlock()

	states := make([]FileState, 0, len(j.order))
	for _, id := range j.order {
		states = append(states, j.files[id].Snapshot())
	}
	return states
}

// Delete marks the job and its files as removed. Later updates and dumps
// are ignored; removing the file on disk is up to the caller.
func (j *JobCheckpoint) Delete() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.deleted = true
}

// Deleted reports whether Delete was called.
func (j *JobCheckpoint) Deleted() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.deleted
}

// Dirty reports whether the job changed since its last successful dump.
func (j *JobCheckpoint) Dirty() bool {
	return j.dirty.Load()
}

type jobDocument struct {
	Version int          `json:"version"`
	JobName string       `json:"job_name"`
	Files   []fileRecord `json:"files"`
}

type fileRecord struct {
	FileName       string `json:"file_name"`
	RealFileName   string `json:"real_file_name"`
	Size           int64  `json:"size"`
	Offset         int64  `json:"offset"`
	SignatureSize  uint32 `json:"signature_size"`
	SignatureHash  uint64 `json:"signature_hash"`
	Dev            uint64 `json:"dev"`
	Inode          uint64 `json:"inode"`
	FileOpenFlag   int32  `json:"file_open_flag"`
	Status         Status `json:"status"`
	JobName        string `json:"job_name"`
	StartTime      int64  `json:"start_time"`
	LastUpdateTime int64  `json:"last_update_time"`
}

// Dump writes every file record to path, replacing it atomically.
func (j *JobCheckpoint) Dump(path string) error {
	j.dumpMu.Lock()
	defer j.dumpMu.Unlock()

	if j.Deleted() {
		return nil
	}

	// Cleared before the snapshot so concurrent updates re-mark the job.
	j.dirty.Store(false)
	unflushed := j.unflushed.Swap(0)

	doc := jobDocument{Version: formatVersion, JobName: j.name}
	for _, s := range j.Files() {
		doc.Files = append(doc.Files, toRecord(s))
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err == nil {
		err = writeFileAtomic(path, data, 0o644)
	}
	if err != nil {
		j.dirty.Store(true)
		j.unflushed.Add(unflushed)
		return fmt.Errorf("dumping job %s: %w", j.name, err)
	}
	return nil
}

// Load replaces the job's files with the records stored at path.
// Any structural problem fails the whole load.
func (j *JobCheckpoint) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading checkpoint: %w", err)
	}

	var doc jobDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decoding checkpoint: %w", err)
	}
	if doc.Version != formatVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}

	files := make(map[string]*FileCheckpoint, len(doc.Files))
	order := make([]string, 0, len(doc.Files))
	for i, rec := range doc.Files {
		state, err := fromRecord(rec, j.name)
		if err != nil {
			return fmt.Errorf("file record %d: %w", i, err)
		}
		id := state.Key().String()
		if _, dup := files[id]; dup {
			return fmt.Errorf("file record %d: duplicate key %s", i, id)
		}
		files[id] = &FileCheckpoint{state: state}
		order = append(order, id)
	}

	j.mu.Lock()
	j.files = files
	j.order = order
	j.mu.Unlock()
	return nil
}

func toRecord(s FileState) fileRecord {
	return fileRecord{
		FileName:       s.FileName,
		RealFileName:   s.RealFileName,
		Size:           s.Size,
		Offset:         s.Offset,
		SignatureSize:  s.SignatureSize,
		SignatureHash:  s.SignatureHash,
		Dev:            s.DevInode.Dev,
		Inode:          s.DevInode.Inode,
		FileOpenFlag:   s.FileOpenFlag,
		Status:         s.Status,
		JobName:        s.JobName,
		StartTime:      unixOrZero(s.StartTime),
		LastUpdateTime: unixOrZero(s.LastUpdateTime),
	}
}

func fromRecord(rec fileRecord, jobName string) (FileState, error) {
	if rec.FileName == "" {
		return FileState{}, errors.New("missing file_name")
	}
	if rec.Status == 0 {
		return FileState{}, fmt.Errorf("%w: missing status", ErrUnknownStatus)
	}
	if rec.Offset < 0 || rec.Offset > rec.Size {
		return FileState{}, fmt.Errorf("offset %d out of range [0, %d]", rec.Offset, rec.Size)
	}

	s := FileState{
		FileName:      rec.FileName,
		RealFileName:  rec.RealFileName,
		Size:          rec.Size,
		Offset:        rec.Offset,
		SignatureSize: rec.SignatureSize,
		SignatureHash: rec.SignatureHash,
		DevInode:      DevInode{Dev: rec.Dev, Inode: rec.Inode},
		FileOpenFlag:  rec.FileOpenFlag,
		Status:        rec.Status,
		JobName:       rec.JobName,
	}
	if s.RealFileName == "" {
		s.RealFileName = s.FileName
	}
	if s.JobName == "" {
		s.JobName = jobName
	}
	if rec.StartTime > 0 {
		s.StartTime = time.Unix(rec.StartTime, 0)
	}
	if rec.LastUpdateTime > 0 {
		s.LastUpdateTime = time.Unix(rec.LastUpdateTime, 0)
	}
	return s, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
