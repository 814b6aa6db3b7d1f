// Package processor holds the per-entry stage that runs after a job's read
// buffer is split into lines and before the entry fans out to the emitters.
package processor

import (
	"context"

	"github.com/GabrielNunesIT/adhoc-collector/internal/model"
)

// Processor mutates an entry read from an adhoc job. A non-nil error drops
// the entry; the file checkpoint still advances past it.
type Processor interface {
	Process(ctx context.Context, entry *model.LogEntry) error
	Name() string
}

// Chain runs processors in order and stops at the first one that drops the
// entry. The pipeline owns one Chain for all destinations.
type Chain struct {
	processors []Processor
}

// NewChain creates a chain of processors.
func NewChain(processors ...Processor) *Chain {
	return &Chain{processors: processors}
}

// Process runs entry through the chain. A cancelled ctx stops it between
// processors.
func (c *Chain) Process(ctx context.Context, entry *model.LogEntry) error {
	for _, p := range c.processors {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.Process(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// Name returns "chain".
func (c *Chain) Name() string {
	return "chain"
}

// Add appends p. It is not safe to call while the pipeline is running.
func (c *Chain) Add(p Processor) {
	c.processors = append(c.processors, p)
}

// Len returns the number of processors.
func (c *Chain) Len() int {
	return len(c.processors)
}
