package adhoc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/GabrielNunesIT/adhoc-collector/internal/config"
	"github.com/GabrielNunesIT/go-libs/logger"
)

// JobManager accepts job lifecycle requests. Engine implements it.
type JobManager interface {
	AddJob(jobName string, paths []string)
	DeleteJob(jobName string)
}

// JobInput turns a configured job into engine requests.
type JobInput struct {
	cfg     config.JobConfig
	manager JobManager
	logger  logger.ILogger
}

// NewJobInput creates the input for one configured job.
func NewJobInput(cfg config.JobConfig, manager JobManager, log logger.ILogger) *JobInput {
	return &JobInput{
		cfg:     cfg,
		manager: manager,
		logger:  log.SubLogger("JobInput"),
	}
}

// Name returns the job name.
func (i *JobInput) Name() string {
	return i.cfg.Name
}

// Start resolves the job's file list once and hands it to the engine.
// Files created later are not picked up.
func (i *JobInput) Start() error {
	files, err := ExpandFiles(i.cfg.Files)
	if err != nil {
		return fmt.Errorf("job %s: %w", i.cfg.Name, err)
	}
	if len(files) == 0 {
		i.logger.Warningf("no files matched: job=%s, patterns=%v", i.cfg.Name, i.cfg.Files)
	}

	i.manager.AddJob(i.cfg.Name, files)
	i.logger.Infof("job submitted: job=%s, files=%d", i.cfg.Name, len(files))
	return nil
}

// Stop deletes the job and its checkpoint when the job is being removed.
// A plain stop keeps the checkpoint so a later start resumes.
func (i *JobInput) Stop(removing bool) {
	if !removing {
		return
	}
	i.manager.DeleteJob(i.cfg.Name)
	i.logger.Infof("job removed: job=%s", i.cfg.Name)
}

// InputSet keeps one JobInput per configured job and applies job list
// changes to the engine.
type InputSet struct {
	manager JobManager
	logger  logger.ILogger

	mu         sync.Mutex
	inputs     map[string]*JobInput
	configured map[string]struct{}
}

// NewInputSet creates an empty set.
func NewInputSet(manager JobManager, log logger.ILogger) *InputSet {
	return &InputSet{
		manager: manager,
		logger:  log.SubLogger("InputSet"),
		inputs:     make(map[string]*JobInput),
		configured: make(map[string]struct{}),
	}
}

// Apply starts inputs for jobs not yet running and removes the inputs, and
// the checkpoints, of jobs no longer listed. Jobs are matched by name; a job
// whose file list changed keeps running with its original list.
func (s *InputSet) Apply(jobs []config.JobConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := make([]config.JobConfig, 0, len(s.inputs))
	for _, input := range s.inputs {
		prev = append(prev, input.cfg)
	}
	added, removed := config.DiffJobs(prev, jobs)

	s.configured = make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		s.configured[job.Name] = struct{}{}
	}

	for _, job := range removed {
		s.inputs[job.Name].Stop(true)
		delete(s.inputs, job.Name)
	}

	var errs []error
	for _, job := range added {
		input := NewJobInput(job, s.manager, s.logger)
		if err := input.Start(); err != nil {
			errs = append(errs, err)
			continue
		}
		s.inputs[job.Name] = input
	}

	if len(added) > 0 || len(removed) > 0 {
		s.logger.Infof("jobs applied: added=%d, removed=%d, running=%d", len(added), len(removed), len(s.inputs))
	}
	return errors.Join(errs...)
}

// DropOrphans deletes recovered jobs missing from the last applied job list.
// A configured job whose input failed to start keeps its checkpoint. It
// returns the names it deleted.
func (s *InputSet) DropOrphans(recovered []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dropped []string
	for _, name := range recovered {
		if _, ok := s.configured[name]; ok {
			continue
		}
		s.logger.Warningf("dropping checkpoint of unconfigured job: job=%s", name)
		s.manager.DeleteJob(name)
		dropped = append(dropped, name)
	}
	return dropped
}

// Names returns the names of the running inputs, sorted.
func (s *InputSet) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.inputs))
	for name := range s.inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExpandFiles resolves glob patterns into a deduplicated list of regular
// files ordered oldest first by modification time, then by path. A pattern
// without glob metacharacters is kept even if the file does not exist, so
// that the engine can report it as lost.
func ExpandFiles(patterns []string) ([]string, error) {
	type candidate struct {
		path    string
		modTime int64
	}

	seen := make(map[string]struct{})
	var files []candidate
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 && !hasMeta(pattern) {
			matches = []string{pattern}
		}

		for _, path := range matches {
			path = filepath.Clean(path)
			if _, dup := seen[path]; dup {
				continue
			}
			seen[path] = struct{}{}

			var modTime int64
			if info, err := os.Stat(path); err == nil {
				if info.IsDir() {
					continue
				}
				modTime = info.ModTime().UnixNano()
			}
			files = append(files, candidate{path: path, modTime: modTime})
		}
	}

	sort.SliceStable(files, func(a, b int) bool {
		if files[a].modTime != files[b].modTime {
			return files[a].modTime < files[b].modTime
		}
		return files[a].path < files[b].path
	})

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

func hasMeta(pattern string) bool {
	for _, c := range pattern {
		switch c {
		case '*', '?', '[':
			return true
		}
	}
	return false
}
