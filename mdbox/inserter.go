package mdbox

import (
	"context"
	"sync/atomic"

	"github.com/forestrie/go-mdevents/mdevent"
	"golang.org/x/sync/errgroup"
)

type InserterOption func(*EventInserter)

// WithCheckpoint overrides the controller's split checkpoint.
func WithCheckpoint(n uint64) InserterOption {
	return func(ei *EventInserter) {
		if n > 0 {
			ei.checkpoint = n
		}
	}
}

// EventInserter converts ingestion tuples to events and routes them into a
// workspace, running a split pass every checkpoint events.
//
// Thread Safety: safe for concurrent use. At most one checkpoint split runs at
// a time, inserts carry on while it does.
type EventInserter struct {
	ws         *Workspace
	checkpoint uint64

	pending   atomic.Uint64
	splitting atomic.Bool
	inserted  atomic.Uint64
}

func NewEventInserter(ws *Workspace, opts ...InserterOption) *EventInserter {
	ei := &EventInserter{ws: ws, checkpoint: ws.ctl.SplitCheckpoint()}
	for _, o := range opts {
		o(ei)
	}
	return ei
}

// Inserted returns the number of events stored through the inserter.
func (ei *EventInserter) Inserted() uint64 { return ei.inserted.Load() }

// Insert stores one tuple. An error from paging another box out is returned
// after the tuple is stored and counted.
func (ei *EventInserter) Insert(ctx context.Context, t mdevent.Tuple) error {
	stored, err := ei.ws.insert(t.Event(ei.ws.ctl.kind))
	if !stored {
		return err
	}
	ei.inserted.Add(1)
	if splitErr := ei.checkpointSplit(ctx, 1); err == nil {
		err = splitErr
	}
	return err
}

// InsertBatch stores tuples in order, stopping at the first error or when
// ctx is done.
func (ei *EventInserter) InsertBatch(ctx context.Context, tuples []mdevent.Tuple) error {
	for _, t := range tuples {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := ei.Insert(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// LoadParallel inserts each bank on its own go routine, at most workers at
// once (unlimited when workers <= 0), then runs a split pass.
func (ei *EventInserter) LoadParallel(ctx context.Context, banks [][]mdevent.Tuple, workers int) error {
	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for _, bank := range banks {
		g.Go(func() error {
			return ei.InsertBatch(gctx, bank)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ei.ws.SplitAllIfNeeded(ctx)
}

// Close runs the final split pass.
func (ei *EventInserter) Close(ctx context.Context) error {
	ei.pending.Store(0)
	return ei.ws.SplitAllIfNeeded(ctx)
}

func (ei *EventInserter) checkpointSplit(ctx context.Context, n uint64) error {
	if ei.pending.Add(n) < ei.checkpoint {
		return nil
	}
	if !ei.splitting.CompareAndSwap(false, true) {
		return nil
	}
	defer ei.splitting.Store(false)
	ei.pending.Store(0)
	return ei.ws.SplitAllIfNeeded(ctx)
}
