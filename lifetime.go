package rhi

import (
	"fmt"

	"github.com/gogpu/rhi/internal/util"
)

// Destroy releases the resource behind h. Safe to call at any time: a
// resource still referenced by in-flight GPU work is moved to the
// pending list and destroyed once the last referencing fence has been
// observed signaled. Stale and null handles are ignored.
func (e *Engine) Destroy(h Handle) {
	r := e.lookup(h)
	if r == nil {
		return
	}
	if r.busy == 0 {
		e.destroyNow(h, r)
		return
	}
	e.pending[h.pack()] = h
	Logger().Debug("rhi: destroy deferred", "handle", h.String(), "busy", r.busy)
}

func (e *Engine) destroyNow(h Handle, r *resource) {
	e.backend.DestroyHandle(r.native)
	e.pool(h.kind).release(h.index)
	Logger().Debug("rhi: resource destroyed", "handle", h.String(), "label", r.name)
}

// flushLocked consumes one command buffer's locked-resource table,
// decrementing each entry's busy counter by its recorded amount. Called
// exactly once per table, when the governing fence is observed signaled.
func (e *Engine) flushLocked(locked map[Handle]int) {
	for h, n := range locked {
		r := e.lookup(h)
		if r == nil {
			panic(fmt.Sprintf("rhi: in-flight resource %v destroyed while busy", h))
		}
		r.busy -= n
		if r.busy < 0 {
			panic(fmt.Sprintf("rhi: busy counter underflow on %v (%q)", h, r.name))
		}
		delete(locked, h)
	}
}

// flushPending destroys every pending resource whose busy counter has
// returned to zero. Iteration is in sorted handle order so destruction
// order is deterministic across runs.
func (e *Engine) flushPending() {
	for _, k := range util.SortedKeys(e.pending) {
		h := e.pending[k]
		r := e.lookup(h)
		if r == nil {
			delete(e.pending, k)
			continue
		}
		if r.busy == 0 {
			e.destroyNow(h, r)
			delete(e.pending, k)
		}
	}
}

// PendingDestroys returns the number of resources awaiting deferred
// destruction.
func (e *Engine) PendingDestroys() int { return len(e.pending) }

// WaitIdle blocks until every in-flight frame slot's fence has signaled,
// flushes all locked tables and destroys every flushable pending
// resource. Call before Close. A fence wait exceeding the configured
// timeout is treated as a hung device and aborts.
func (e *Engine) WaitIdle() error {
	if e.closed {
		return ErrClosed
	}
	for _, s := range e.slots {
		if !s.inFlight {
			continue
		}
		if err := s.fence.Wait(e.cfg.FenceTimeout); err != nil {
			panic(fmt.Sprintf("rhi: fence wait exceeded %v during wait idle, device presumed hung", e.cfg.FenceTimeout))
		}
		e.observeSlot(s)
	}
	e.flushPending()
	return nil
}
