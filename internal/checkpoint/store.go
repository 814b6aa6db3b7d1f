package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/adhoc-collector/internal/config"
	"github.com/GabrielNunesIT/adhoc-collector/internal/monitor"
)

// Store is the registry of job checkpoints keyed by job name. It recovers
// jobs from the checkpoint directory and dumps them periodically.
type Store struct {
	cfg    config.CheckpointConfig
	alarms monitor.AlarmSender
	logger logger.ILogger

	mu   sync.RWMutex
	jobs map[string]*JobCheckpoint
}

// NewStore creates an empty store rooted at cfg.Dir.
func NewStore(cfg config.CheckpointConfig, alarms monitor.AlarmSender, log logger.ILogger) *Store {
	return &Store{
		cfg:    cfg,
		alarms: alarms,
		logger: log.SubLogger("CheckpointStore"),
		jobs:   make(map[string]*JobCheckpoint),
	}
}

// Get returns the job checkpoint registered under jobName.
func (s *Store) Get(jobName string) (*JobCheckpoint, bool) {
	s.mu.RLock()
	job, ok := s.jobs[jobName]
	s.mu.RUnlock()

	if !ok {
		s.logger.Warningf("job checkpoint not found: job=%s", jobName)
	}
	return job, ok
}

// Create registers a job with one WAITING file per key. If the job already
// exists it is returned unchanged.
func (s *Store) Create(jobName string, keys []FileCheckpointKey) *JobCheckpoint {
	s.mu.RLock()
	existing, ok := s.jobs[jobName]
	s.mu.RUnlock()
	if ok {
		s.logger.Infof("job checkpoint already exists, creation skipped: job=%s", jobName)
		return existing
	}

	job := NewJobCheckpoint(jobName, s.cfg.DumpThresholdBytes)
	for _, key := range keys {
		job.AddFileCheckpoint(key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another producer may have won the race between the two locks.
	if existing, ok := s.jobs[jobName]; ok {
		return existing
	}
	s.jobs[jobName] = job

	s.logger.Infof("job checkpoint created: job=%s, files=%d", jobName, len(keys))
	return job
}

// Delete erases the job and removes its checkpoint file.
func (s *Store) Delete(jobName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobName]
	if !ok {
		s.logger.Warningf("delete skipped, job checkpoint not found: job=%s", jobName)
		return
	}

	job.Delete()
	delete(s.jobs, jobName)

	if err := os.Remove(s.Path(jobName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warningf("removing checkpoint file failed: job=%s, error=%v", jobName, err)
	}
	s.logger.Infof("job checkpoint deleted: job=%s", jobName)
}

// GetFileCheckpoint returns the record of one file of a job.
func (s *Store) GetFileCheckpoint(jobName string, key FileCheckpointKey) (*FileCheckpoint, bool) {
	job, ok := s.Get(jobName)
	if !ok {
		return nil, false
	}

	fc, ok := job.GetFileCheckpoint(key)
	if !ok {
		s.logger.Warningf("file checkpoint not found: job=%s, key=%s", jobName, key)
	}
	return fc, ok
}

// NextPendingFile returns the next file of the job that still needs reading.
func (s *Store) NextPendingFile(jobName string) (*FileCheckpoint, bool) {
	s.mu.RLock()
	job, ok := s.jobs[jobName]
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}
	return job.NextPending()
}

// UpdateFileCheckpoint applies u and dumps the job immediately when the
// change is checkpoint-worthy. A job deleted concurrently is ignored.
func (s *Store) UpdateFileCheckpoint(jobName string, key FileCheckpointKey, u FileUpdate) {
	s.mu.RLock()
	job, ok := s.jobs[jobName]
	s.mu.RUnlock()

	if !ok {
		return
	}

	if job.UpdateFileCheckpoint(key, u) {
		s.dump(job)
	}
}

// Jobs returns the registered job names, sorted.
func (s *Store) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadAll recovers every job found in the checkpoint directory, creating the
// directory when it does not exist. Corrupt checkpoints are skipped.
func (s *Store) LoadAll() {
	dir := s.cfg.Dir

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.logger.Warningf("creating checkpoint dir failed: dir=%s, error=%v", dir, err)
			s.alarms.SendAlarm(monitor.CheckpointAlarm, "create adhoc checkpoint dir failed: "+dir)
			return
		}
		s.logger.Infof("checkpoint dir created: dir=%s", dir)
		return
	}
	if err != nil {
		s.logger.Warningf("listing checkpoint dir failed: dir=%s, error=%v", dir, err)
		s.alarms.SendAlarm(monitor.CheckpointAlarm, "load adhoc checkpoint files failed: "+dir)
		return
	}

	loaded := make(map[string]*JobCheckpoint)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if isTempFile(name) {
			_ = os.Remove(filepath.Join(dir, name))
			continue
		}

		jobName, err := jobNameFromFile(name)
		if err != nil {
			s.logger.Warningf("skipping checkpoint with invalid name: file=%s, error=%v", name, err)
			continue
		}

		job := NewJobCheckpoint(jobName, s.cfg.DumpThresholdBytes)
		if err := job.Load(filepath.Join(dir, name)); err != nil {
			s.logger.Warningf("skipping corrupt checkpoint: job=%s, error=%v", jobName, err)
			continue
		}
		loaded[jobName] = job
	}

	s.mu.Lock()
	for name, job := range loaded {
		s.jobs[name] = job
	}
	s.mu.Unlock()

	s.logger.Infof("checkpoints recovered: dir=%s, jobs=%d", dir, len(loaded))
}

// DumpAll writes every job changed since its last dump.
func (s *Store) DumpAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, job := range s.jobs {
		if job.Dirty() {
			s.dump(job)
		}
	}
}

// Run dumps dirty jobs every DumpInterval until ctx is cancelled, then dumps
// one last time.
func (s *Store) Run(ctx context.Context) error {
	interval := s.cfg.DumpInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Debugf("checkpoint dumper started: interval=%s", interval)
	for {
		select {
		case <-ctx.Done():
			s.DumpAll()
			s.logger.Debug("checkpoint dumper stopped")
			return nil
		case <-ticker.C:
			s.DumpAll()
		}
	}
}

// Path returns the checkpoint file of a job.
func (s *Store) Path(jobName string) string {
	return filepath.Join(s.cfg.Dir, jobFileName(jobName))
}

func (s *Store) dump(job *JobCheckpoint) {
	if err := job.Dump(s.Path(job.Name())); err != nil {
		s.logger.Warningf("checkpoint dump failed: job=%s, error=%v", job.Name(), err)
		s.alarms.SendAlarm(monitor.CheckpointAlarm, fmt.Sprintf("dump adhoc checkpoint failed: job=%s", job.Name()))
	}
}

// jobFileName escapes a job name into a single path element. A leading dot
// is escaped too so job files never look like in-flight temp files.
func jobFileName(jobName string) string {
	name := url.PathEscape(jobName)
	if strings.HasPrefix(name, tempPrefix) {
		name = "%2E" + name[1:]
	}
	return name
}

func jobNameFromFile(name string) (string, error) {
	return url.PathUnescape(name)
}
