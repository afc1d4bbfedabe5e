package render

import (
	"context"
	"errors"
	"sync"

	"github.com/machinefabric/extbridge-go/bifaci"
	"github.com/machinefabric/extbridge-go/logger"
)

// ApplyFunc receives the models of the most recent submission. It is called
// with the Reconciler's lock held and must not call back into it.
type ApplyFunc func(models []Model)

// Reconciler parses render trees off the caller's goroutine and applies
// only the result of the latest submission. At most one parse is in flight:
// Submit cancels the previous one, and a parse that finishes after being
// superseded is discarded.
type Reconciler struct {
	parser Parser
	apply  ApplyFunc
	log    *logger.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	prev   []Model
	wg     sync.WaitGroup
}

// NewReconciler creates a Reconciler. A nil parser selects TreeParser.
func NewReconciler(parser Parser, apply ApplyFunc, log *logger.Logger) *Reconciler {
	if parser == nil {
		parser = TreeParser{}
	}
	return &Reconciler{parser: parser, apply: apply, log: log.With("reconciler")}
}

// Submit starts parsing root and returns immediately.
func (r *Reconciler) Submit(root bifaci.RenderNode) {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.gen++
	gen := r.gen
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	prev := r.prev
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(ctx, cancel, gen, root, prev)
}

func (r *Reconciler) run(ctx context.Context, cancel context.CancelFunc, gen uint64, root bifaci.RenderNode, prev []Model) {
	defer r.wg.Done()
	defer cancel()

	models, err := r.parser.Parse(ctx, root, prev)

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		r.log.Tracef("discarding superseded render %d (current %d)", gen, r.gen)
		return
	}
	r.cancel = nil
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.log.Warnf("render %d failed: %v", gen, err)
		}
		return
	}
	r.prev = models
	r.apply(models)
}

// Cancel abandons any in-flight parse. Calling it with nothing in flight is
// a no-op.
func (r *Reconciler) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.gen++
}

// Reset cancels any in-flight parse and forgets the applied models, so the
// next result is fully dirty.
func (r *Reconciler) Reset() {
	r.Cancel()
	r.mu.Lock()
	r.prev = nil
	r.mu.Unlock()
}

// Applied returns the models of the last applied submission.
func (r *Reconciler) Applied() []Model {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prev
}

// Wait blocks until no parse goroutine is running.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}
