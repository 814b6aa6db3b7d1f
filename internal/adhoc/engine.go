// Package adhoc reads bounded sets of files exactly once on request. Jobs are
// driven by a single event loop that interleaves reads of all active files and
// records progress in the checkpoint store.
package adhoc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GabrielNunesIT/adhoc-collector/internal/checkpoint"
	"github.com/GabrielNunesIT/adhoc-collector/internal/config"
	"github.com/GabrielNunesIT/adhoc-collector/internal/model"
	"github.com/GabrielNunesIT/adhoc-collector/internal/monitor"
	"github.com/GabrielNunesIT/adhoc-collector/internal/reader"
	"github.com/GabrielNunesIT/go-libs/logger"
	"golang.org/x/time/rate"
)

// ConfigResolver looks up the configuration of a job.
type ConfigResolver interface {
	FindConfigByName(name string) (config.JobConfig, bool)
}

// ProcessQueue is the downstream queue read chunks are handed to.
type ProcessQueue interface {
	IsAdmissible(key string) bool
	Push(ctx context.Context, buf *model.LogBuffer, timeout time.Duration) bool
}

// Metrics receives engine counters.
type Metrics interface {
	ObserveEvent(kind string)
	AddBytesRead(job string, n int)
}

// ReaderFactory opens a reader for a file of job.
type ReaderFactory func(job config.JobConfig, opts reader.Options) (reader.Reader, error)

// Option configures an Engine.
type Option func(*Engine)

// WithReaderFactory overrides how file readers are opened.
func WithReaderFactory(f ReaderFactory) Option {
	return func(e *Engine) {
		e.newReader = f
	}
}

// WithMetrics reports engine activity to m.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func openReader(_ config.JobConfig, opts reader.Options) (reader.Reader, error) {
	return reader.Open(opts)
}

type nopMetrics struct{}

func (nopMetrics) ObserveEvent(string)      {}
func (nopMetrics) AddBytesRead(string, int) {}

// readerKey identifies an open file across scheduling turns. The discovered
// name keeps files apart on platforms without inode support.
type readerKey struct {
	job           string
	fileName      string
	devInode      checkpoint.DevInode
	signatureSize uint32
	signatureHash uint64
}

// Engine consumes job events on a single goroutine. The goroutine exits when
// the queue runs dry and is restarted by the next AddJob or DeleteJob.
type Engine struct {
	store     *checkpoint.Store
	jobs      ConfigResolver
	queue     ProcessQueue
	alarms    monitor.AlarmSender
	metrics   Metrics
	newReader ReaderFactory
	logger    logger.ILogger

	retryInterval time.Duration
	alarmEvery    int
	bufferSize    int
	signatureSize int
	pushTimeout   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	events EventQueue

	mu        sync.Mutex
	idle      *sync.Cond
	running   bool
	closed    bool
	epochs    map[string]uint64
	lastEpoch uint64

	// Owned by the loop goroutine.
	tombstones map[string]uint64
	readers    map[readerKey]reader.Reader
	busyLog    map[readerKey]*rate.Sometimes
	readErrLog map[readerKey]*rate.Sometimes
}

// New creates an engine. It does nothing until the first AddJob.
func New(
	cfg config.Config,
	store *checkpoint.Store,
	jobs ConfigResolver,
	queue ProcessQueue,
	alarms monitor.AlarmSender,
	log logger.ILogger,
	opts ...Option,
) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:         store,
		jobs:          jobs,
		queue:         queue,
		alarms:        alarms,
		metrics:       nopMetrics{},
		newReader:     openReader,
		logger:        log.SubLogger("AdhocEngine"),
		retryInterval: cfg.Engine.RetryInterval,
		alarmEvery:    cfg.Engine.AlarmEvery,
		bufferSize:    cfg.Reader.BufferSize,
		signatureSize: cfg.Reader.SignatureSize,
		pushTimeout:   cfg.Queue.PushTimeout,
		ctx:           ctx,
		cancel:        cancel,
		epochs:        make(map[string]uint64),
		tombstones:    make(map[string]uint64),
		readers:       make(map[readerKey]reader.Reader),
		busyLog:       make(map[readerKey]*rate.Sometimes),
		readErrLog:    make(map[readerKey]*rate.Sometimes),
	}
	e.idle = sync.NewCond(&e.mu)

	if e.alarmEvery <= 0 {
		e.alarmEvery = 1000
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddJob schedules reading paths under jobName. It returns immediately.
func (e *Engine) AddJob(jobName string, paths []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastEpoch++
	e.epochs[jobName] = e.lastEpoch
	e.enqueueLocked(Event{Kind: KindStartJob, Job: jobName, Paths: paths, Epoch: e.lastEpoch})
}

// DeleteJob schedules the removal of jobName and its checkpoint. Events
// already queued for the job are discarded. It returns immediately.
func (e *Engine) DeleteJob(jobName string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.enqueueLocked(Event{Kind: KindStopJob, Job: jobName, Epoch: e.epochs[jobName]})
}

// Wait blocks until the loop has no more events to process.
func (e *Engine) Wait() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.running {
		e.idle.Wait()
	}
}

// Close stops accepting events, abandons queued ones and closes all readers.
// Progress already recorded stays in the checkpoint store.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.Wait()

	for key, r := range e.readers {
		_ = r.Close()
		delete(e.readers, key)
	}
	e.logger.Info("adhoc engine closed")
}

func (e *Engine) enqueueLocked(ev Event) {
	if e.closed {
		e.logger.Warningf("engine closed, event dropped: kind=%s, job=%s", ev.Kind, ev.Job)
		return
	}
	e.events.Push(ev)
	if !e.running {
		e.running = true
		go e.loop()
	}
}

// requeue is used by the loop itself to schedule follow-up work.
func (e *Engine) requeue(ev Event) {
	e.events.Push(ev)
}

func (e *Engine) loop() {
	e.logger.Debug("event loop started")
	for {
		ev, ok := e.events.TryPop()
		if !ok {
			e.mu.Lock()
			// Producers push under mu, so an empty queue here cannot race
			// with a producer that saw running == true.
			if e.events.Len() == 0 {
				e.running = false
				e.idle.Broadcast()
				e.mu.Unlock()
				e.logger.Debug("event loop idle")
				return
			}
			e.mu.Unlock()
			continue
		}
		e.handle(ev)
	}
}

func (e *Engine) handle(ev Event) {
	if e.ctx.Err() != nil {
		return
	}
	if ev.Kind != KindStopJob {
		if epoch, ok := e.tombstones[ev.Job]; ok && ev.Epoch <= epoch {
			e.logger.Debugf("event for deleted job dropped: kind=%s, job=%s", ev.Kind, ev.Job)
			return
		}
	}

	e.metrics.ObserveEvent(ev.Kind.String())

	switch ev.Kind {
	case KindStartJob:
		e.startJob(ev)
	case KindReadFile:
		e.readFile(ev)
	case KindStopJob:
		e.stopJob(ev)
	default:
		e.logger.Errorf("unknown event dropped: kind=%d, job=%s", ev.Kind, ev.Job)
	}
}

func (e *Engine) startJob(ev Event) {
	keys := make([]checkpoint.FileCheckpointKey, 0, len(ev.Paths))
	missing := make(map[checkpoint.FileCheckpointKey]error)
	for _, path := range ev.Paths {
		key, err := reader.StatKey(path)
		if err != nil {
			missing[key] = err
		}
		keys = append(keys, key)
	}

	job := e.store.Create(ev.Job, keys)

	for _, state := range job.Files() {
		if state.Status != checkpoint.StatusWaiting {
			continue
		}
		key := state.Key()

		if err, gone := missing[key]; gone {
			e.markLost(ev.Job, key, fmt.Sprintf("stat failed: %v", err))
			continue
		}
		if state.SignatureSize > 0 || state.Size == 0 {
			continue
		}

		size, hash, err := reader.Signature(state.FileName, e.signatureSize)
		if err != nil {
			e.markLost(ev.Job, key, fmt.Sprintf("signature failed: %v", err))
			continue
		}
		e.store.UpdateFileCheckpoint(ev.Job, key, checkpoint.FileUpdate{SignatureSize: size, SignatureHash: hash})
	}

	e.logger.Infof("adhoc job started: job=%s, files=%d", ev.Job, len(ev.Paths))
	e.requeue(Event{Kind: KindReadFile, Job: ev.Job, Epoch: ev.Epoch})
}

func (e *Engine) readFile(ev Event) {
	fc, ok := e.store.NextPendingFile(ev.Job)
	if !ok {
		e.closeJobReaders(ev.Job)
		e.logger.Infof("adhoc job drained: job=%s", ev.Job)
		return
	}

	state := fc.Snapshot()
	key := state.Key()
	rk := readerKey{
		job:           ev.Job,
		fileName:      state.FileName,
		devInode:      state.DevInode,
		signatureSize: state.SignatureSize,
		signatureHash: state.SignatureHash,
	}

	r, ok := e.readers[rk]
	if !ok {
		var err error
		r, err = e.open(ev.Job, state)
		if err != nil {
			e.markLost(ev.Job, key, err.Error())
			e.requeue(ev)
			return
		}
		e.readers[rk] = r
		e.store.UpdateFileCheckpoint(ev.Job, key, checkpoint.FileUpdate{
			Status:       checkpoint.StatusLoading,
			RealFileName: r.ResolvedPath(),
		})
		e.logger.Debugf("file opened: job=%s, file=%s, offset=%d, size=%d", ev.Job, r.ResolvedPath(), state.Offset, state.Size)
	}

	if !e.queue.IsAdmissible(r.QueueKey()) {
		e.backoff(ev, rk, r.QueueKey())
		return
	}
	ev.WaitCount = 0

	start := r.LastPosition()
	data, err := r.ReadLog()
	if err != nil {
		e.dropReader(rk)
		e.requeue(ev)
		if errors.Is(err, reader.ErrFileLost) {
			delete(e.readErrLog, rk)
			e.markLost(ev.Job, key, err.Error())
		} else {
			e.readFailed(ev, rk, err)
		}
		return
	}
	delete(e.readErrLog, rk)

	if len(data) > 0 {
		buf := &model.LogBuffer{
			JobName:  ev.Job,
			FilePath: r.ResolvedPath(),
			Offset:   start,
			Data:     data,
			QueueKey: r.QueueKey(),
			ReadAt:   time.Now(),
		}
		if !e.queue.Push(e.ctx, buf, e.pushTimeout) {
			// The reader is ahead of the checkpoint now; reopening resumes
			// from the recorded offset.
			e.dropReader(rk)
			e.logger.Warningf("push to process queue failed, will re-read: job=%s, file=%s, offset=%d", ev.Job, state.FileName, start)
			e.requeue(ev)
			return
		}
		e.metrics.AddBytesRead(ev.Job, len(data))
		e.store.UpdateFileCheckpoint(ev.Job, key, checkpoint.FileUpdate{
			Offset:       r.LastPosition(),
			RealFileName: r.ResolvedPath(),
		})
	}

	if r.EOF() {
		e.store.UpdateFileCheckpoint(ev.Job, key, checkpoint.FileUpdate{
			Offset: r.LastPosition(),
			Status: checkpoint.StatusFinished,
		})
		e.dropReader(rk)
		e.logger.Infof("file finished: job=%s, file=%s, offset=%d", ev.Job, state.FileName, r.LastPosition())
	}

	e.requeue(ev)
}

func (e *Engine) stopJob(ev Event) {
	if ev.Epoch >= e.tombstones[ev.Job] {
		e.tombstones[ev.Job] = ev.Epoch
	}
	e.closeJobReaders(ev.Job)
	e.store.Delete(ev.Job)
	e.logger.Infof("adhoc job stopped: job=%s", ev.Job)
}

func (e *Engine) open(jobName string, state checkpoint.FileState) (reader.Reader, error) {
	job, ok := e.jobs.FindConfigByName(jobName)
	if !ok {
		return nil, fmt.Errorf("no config for job %s", jobName)
	}

	return e.newReader(job, reader.Options{
		Path:          state.RealFileName,
		DevInode:      state.DevInode,
		Offset:        state.Offset,
		Size:          state.Size,
		SignatureSize: state.SignatureSize,
		SignatureHash: state.SignatureHash,
		BufferSize:    e.bufferSize,
		QueueKey:      job.QueueKey(),
	})
}

// backoff re-enqueues ev after the downstream queue refused admission. The
// warning fires on the first refusal and then once every alarmEvery retries.
func (e *Engine) backoff(ev Event, rk readerKey, queueKey string) {
	ev.WaitCount++
	e.requeue(ev)

	limiter, ok := e.busyLog[rk]
	if !ok {
		limiter = &rate.Sometimes{Every: e.alarmEvery}
		e.busyLog[rk] = limiter
	}
	limiter.Do(func() {
		msg := fmt.Sprintf("process queue busy: job=%s, file=%s, queue=%s, retries=%d", ev.Job, rk.fileName, queueKey, ev.WaitCount)
		e.logger.Warning(msg)
		e.alarms.SendAlarm(monitor.ProcessQueueBusyAlarm, msg)
	})

	e.pause()
}

// readFailed handles a read error that may clear up, such as EIO. The file
// is reopened on the next turn after a pause; the warning is rate limited
// like the busy one.
func (e *Engine) readFailed(ev Event, rk readerKey, err error) {
	limiter, ok := e.readErrLog[rk]
	if !ok {
		limiter = &rate.Sometimes{Every: e.alarmEvery}
		e.readErrLog[rk] = limiter
	}
	limiter.Do(func() {
		msg := fmt.Sprintf("reading file failed, will retry: job=%s, file=%s, error=%v", ev.Job, rk.fileName, err)
		e.logger.Warning(msg)
		e.alarms.SendAlarm(monitor.ReadFileAlarm, msg)
	})

	e.pause()
}

func (e *Engine) pause() {
	select {
	case <-e.ctx.Done():
	case <-time.After(e.retryInterval):
	}
}

func (e *Engine) markLost(jobName string, key checkpoint.FileCheckpointKey, reason string) {
	e.store.UpdateFileCheckpoint(jobName, key, checkpoint.FileUpdate{Status: checkpoint.StatusLost})
	msg := fmt.Sprintf("adhoc file lost: job=%s, file=%s, reason=%s", jobName, key.FileName, reason)
	e.logger.Warning(msg)
	e.alarms.SendAlarm(monitor.ReadFileAlarm, msg)
}

func (e *Engine) dropReader(rk readerKey) {
	if r, ok := e.readers[rk]; ok {
		_ = r.Close()
		delete(e.readers, rk)
	}
	delete(e.busyLog, rk)
}

func (e *Engine) closeJobReaders(jobName string) {
	for rk := range e.readers {
		if rk.job == jobName {
			e.dropReader(rk)
		}
	}
	for rk := range e.busyLog {
		if rk.job == jobName {
			delete(e.busyLog, rk)
		}
	}
	for rk := range e.readErrLog {
		if rk.job == jobName {
			delete(e.readErrLog, rk)
		}
	}
}
