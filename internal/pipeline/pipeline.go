// Package pipeline moves read buffers from the engine through the processors
// to the emitters.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GabrielNunesIT/adhoc-collector/internal/config"
	"github.com/GabrielNunesIT/adhoc-collector/internal/emitter"
	"github.com/GabrielNunesIT/adhoc-collector/internal/model"
	"github.com/GabrielNunesIT/adhoc-collector/internal/processor"
	"github.com/GabrielNunesIT/go-libs/logger"
)

// sendQueue is the bounded queue of one destination.
// Admission closes when the depth reaches the high watermark and reopens
// once it drains to the low watermark.
type sendQueue struct {
	key     string
	ch      chan *model.LogBuffer
	blocked atomic.Bool
}

// managedEmitter wraps an emitter with its lifecycle management.
type managedEmitter struct {
	emitter emitter.Emitter
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithEmitter adds an emitter on top of the ones enabled in the config.
func WithEmitter(e emitter.Emitter) Option {
	return func(p *Pipeline) {
		p.emitters[e.Name()] = &managedEmitter{emitter: e}
	}
}

// Pipeline owns the per-destination queues and one worker per queue.
// Each worker splits buffers into entries, runs the processor chain and
// fans the result out to every emitter.
type Pipeline struct {
	cfg    *config.Config
	chain  *processor.Chain
	logger logger.ILogger
	mu     sync.RWMutex

	queues   map[string]*sendQueue
	emitters map[string]*managedEmitter

	workers *errgroup.Group
	running bool

	// stopMu is held shared by in-flight pushes and exclusively while
	// stopping flips, so no push lands after the drain starts.
	stopMu   sync.RWMutex
	stopping bool

	// done releases producers blocked in Push; drain tells workers to
	// flush what is left and exit.
	done  chan struct{}
	drain chan struct{}

	runCtx context.Context
}

// New creates a new pipeline from configuration.
func New(cfg *config.Config, chain *processor.Chain, log logger.ILogger, opts ...Option) (*Pipeline, error) {
	if chain == nil {
		chain = processor.NewChain()
	}

	p := &Pipeline{
		cfg:      cfg,
		chain:    chain,
		logger:   log.SubLogger("Pipeline"),
		queues:   make(map[string]*sendQueue),
		emitters: make(map[string]*managedEmitter),
		workers:  new(errgroup.Group),
		done:     make(chan struct{}),
		drain:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	if err := p.buildEmitters(); err != nil {
		return nil, fmt.Errorf("building emitters: %w", err)
	}

	return p, nil
}

// emitterNames lists the configurable emitters in start order.
var emitterNames = []string{"stdout", "file", "elasticsearch", "loki", "kafka"}

func emitterEnabled(cfg *config.Config, name string) bool {
	switch name {
	case "stdout":
		return cfg.Emitters.Stdout.Enabled
	case "file":
		return cfg.Emitters.File.Enabled
	case "elasticsearch":
		return cfg.Emitters.Elasticsearch.Enabled
	case "loki":
		return cfg.Emitters.Loki.Enabled
	case "kafka":
		return cfg.Emitters.Kafka.Enabled
	}
	return false
}

func (p *Pipeline) newEmitter(name string, cfg *config.Config) (emitter.Emitter, error) {
	switch name {
	case "stdout":
		return emitter.NewStdoutEmitter(cfg.Emitters.Stdout, p.logger), nil
	case "file":
		return emitter.NewFileEmitter(cfg.Emitters.File, p.logger), nil
	case "elasticsearch":
		return emitter.NewElasticsearchEmitter(cfg.Emitters.Elasticsearch, p.logger), nil
	case "loki":
		return emitter.NewLokiEmitter(cfg.Emitters.Loki, p.logger), nil
	case "kafka":
		return emitter.NewKafkaEmitter(cfg.Emitters.Kafka, p.logger), nil
	}
	return nil, fmt.Errorf("unknown emitter: %s", name)
}

// buildEmitters creates enabled emitters.
func (p *Pipeline) buildEmitters() error {
	for _, name := range emitterNames {
		if !emitterEnabled(p.cfg, name) {
			continue
		}
		if _, ok := p.emitters[name]; ok {
			continue
		}
		em, err := p.newEmitter(name, p.cfg)
		if err != nil {
			return err
		}
		p.emitters[name] = &managedEmitter{emitter: em}
	}

	if len(p.emitters) == 0 {
		return fmt.Errorf("no emitters enabled")
	}

	p.logger.Debugf("built %d emitters", len(p.emitters))
	return nil
}

// queueLocked creates the queue for key, and its worker once the pipeline
// runs. Callers must hold p.mu.
func (p *Pipeline) queueLocked(key string) *sendQueue {
	q, ok := p.queues[key]
	if ok {
		return q
	}

	q = &sendQueue{
		key: key,
		ch:  make(chan *model.LogBuffer, p.cfg.Queue.Capacity),
	}
	p.queues[key] = q
	if p.running {
		p.startWorker(q)
	}
	p.logger.Debugf("queue created: key=%s, capacity=%d", key, p.cfg.Queue.Capacity)
	return q
}

// queue returns the queue for key, creating it on first use.
func (p *Pipeline) queue(key string) *sendQueue {
	p.mu.RLock()
	q, ok := p.queues[key]
	p.mu.RUnlock()
	if ok {
		return q
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queueLocked(key)
}

// IsAdmissible reports whether the queue for key accepts new buffers.
func (p *Pipeline) IsAdmissible(key string) bool {
	q := p.queue(key)
	depth := len(q.ch)

	if q.blocked.Load() {
		if depth > p.cfg.Queue.LowWatermark {
			return false
		}
		q.blocked.Store(false)
		p.logger.Debugf("queue admission reopened: key=%s, depth=%d", key, depth)
		return true
	}

	if depth >= p.cfg.Queue.HighWatermark {
		q.blocked.Store(true)
		p.logger.Debugf("queue admission closed: key=%s, depth=%d", key, depth)
		return false
	}
	return true
}

// Push enqueues buf on its destination queue, waiting up to timeout for
// room. It returns false if the buffer was not accepted.
func (p *Pipeline) Push(ctx context.Context, buf *model.LogBuffer, timeout time.Duration) bool {
	q := p.queue(buf.QueueKey)

	p.stopMu.RLock()
	defer p.stopMu.RUnlock()

	if p.stopping {
		return false
	}

	select {
	case q.ch <- buf:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case q.ch <- buf:
		return true
	case <-timer.C:
		p.logger.Warningf("push timed out: key=%s, job=%s, file=%s", q.key, buf.JobName, buf.FilePath)
		return false
	case <-ctx.Done():
		return false
	case <-p.done:
		return false
	}
}

// Depth returns the number of buffers waiting in the queue for key.
func (p *Pipeline) Depth(key string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	q, ok := p.queues[key]
	if !ok {
		return 0
	}
	return len(q.ch)
}

// Run starts the emitters and queue workers and blocks until ctx is
// cancelled. Buffers already queued are delivered before it returns.
func (p *Pipeline) Run(ctx context.Context) error {
	p.runCtx = context.WithoutCancel(ctx)

	p.mu.Lock()
	for name, me := range p.emitters {
		if err := me.emitter.Start(p.runCtx); err != nil {
			p.mu.Unlock()
			return fmt.Errorf("starting emitter %s: %w", name, err)
		}
		p.logger.Debugf("started emitter: %s", name)
	}

	p.running = true
	for _, q := range p.queues {
		p.startWorker(q)
	}
	p.mu.Unlock()

	<-ctx.Done()

	close(p.done)
	p.stopMu.Lock()
	p.stopping = true
	p.stopMu.Unlock()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	close(p.drain)

	_ = p.workers.Wait()
	p.shutdown()

	return nil
}

// startWorker launches the consumer of q. Callers must hold p.mu.
func (p *Pipeline) startWorker(q *sendQueue) {
	p.workers.Go(func() error {
		p.logger.Debugf("started queue worker: key=%s", q.key)
		for {
			select {
			case buf := <-q.ch:
				p.process(p.runCtx, buf)
			case <-p.drain:
				p.drainQueue(q)
				return nil
			}
		}
	})
}

// drainQueue delivers what is left in q within the shutdown timeout.
func (p *Pipeline) drainQueue(q *sendQueue) {
	ctx, cancel := context.WithTimeout(p.runCtx, p.cfg.Queue.ShutdownTimeout)
	defer cancel()

	drained := 0
	for {
		select {
		case buf := <-q.ch:
			p.process(ctx, buf)
			drained++
		default:
			p.logger.Debugf("queue drained: key=%s, buffers=%d", q.key, drained)
			return
		}
	}
}

// process splits buf into entries, runs the processor chain and hands each
// surviving entry to all emitters.
func (p *Pipeline) process(ctx context.Context, buf *model.LogBuffer) {
	for _, entry := range buf.Entries() {
		if err := p.chain.Process(ctx, entry); err != nil {
			p.logger.Debugf("processor error: job=%s, error=%v", buf.JobName, err)
			continue
		}
		p.emitToAll(ctx, entry)
	}
}

// shutdown gracefully stops all emitters.
func (p *Pipeline) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), p.cfg.Queue.ShutdownTimeout)
	defer cancel()

	p.mu.RLock()
	defer p.mu.RUnlock()

	for name, me := range p.emitters {
		if stopErr := me.emitter.Stop(shutdownCtx); stopErr != nil {
			p.logger.Warningf("emitter stop error: name=%s, error=%v", name, stopErr)
		}
	}
	p.logger.Debug("all emitters stopped")
}

// emitToAll sends an entry to all enabled emitters.
func (p *Pipeline) emitToAll(ctx context.Context, entry *model.LogEntry) {
	p.mu.RLock()
	emitters := make([]emitter.Emitter, 0, len(p.emitters))
	for _, me := range p.emitters {
		emitters = append(emitters, me.emitter)
	}
	p.mu.RUnlock()

	// A failing emitter must not cancel delivery to the others.
	var g errgroup.Group
	for _, e := range emitters {
		g.Go(func() error {
			if err := e.Emit(ctx, entry.Clone()); err != nil {
				p.logger.Debugf("emit error: emitter=%s, error=%v", e.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Reconfigure applies a new configuration, adding/removing emitters as
// needed. Queue sizing applies to queues created afterwards.
func (p *Pipeline) Reconfigure(newCfg *config.Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	oldCfg := p.cfg
	p.cfg = newCfg

	if err := p.reconfigureEmitters(oldCfg, newCfg); err != nil {
		return fmt.Errorf("reconfiguring emitters: %w", err)
	}

	p.logger.Infof("configuration applied: queues=%d, emitters=%d", len(p.queues), len(p.emitters))
	return nil
}

// reconfigureEmitters handles adding/removing emitters.
func (p *Pipeline) reconfigureEmitters(oldCfg, newCfg *config.Config) error {
	for _, name := range emitterNames {
		if emitterEnabled(oldCfg, name) && !emitterEnabled(newCfg, name) {
			p.removeEmitter(name)
		}
	}

	for _, name := range emitterNames {
		if emitterEnabled(newCfg, name) && !emitterEnabled(oldCfg, name) {
			if err := p.addEmitter(name, newCfg); err != nil {
				return err
			}
		}
	}

	return nil
}

// addEmitter adds a new emitter at runtime. Callers must hold p.mu.
func (p *Pipeline) addEmitter(name string, cfg *config.Config) error {
	em, err := p.newEmitter(name, cfg)
	if err != nil {
		return err
	}

	if p.running {
		if err := em.Start(p.runCtx); err != nil {
			return fmt.Errorf("starting emitter %s: %w", name, err)
		}
	}

	p.emitters[name] = &managedEmitter{emitter: em}
	p.logger.Infof("emitter added: %s", name)
	return nil
}

// removeEmitter stops and removes an emitter. Callers must hold p.mu.
func (p *Pipeline) removeEmitter(name string) {
	me, ok := p.emitters[name]
	if !ok {
		return
	}

	if p.running {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), p.cfg.Queue.ShutdownTimeout)
		defer cancel()

		if err := me.emitter.Stop(shutdownCtx); err != nil {
			p.logger.Warningf("emitter stop error: name=%s, error=%v", name, err)
		}
	}

	delete(p.emitters, name)
	p.logger.Infof("emitter removed: %s", name)
}

// EmitterCount returns the number of enabled emitters.
func (p *Pipeline) EmitterCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.emitters)
}
