package rhi

import (
	"fmt"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"

	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/cmds"
)

const kindCount = int(cmds.KindAccel) + 1

// Engine is the command-recording and resource-synchronization engine.
// It owns the resource pools, the frame ring and the worker pool for
// parallel recording.
//
// All Engine methods except the record callbacks passed to
// Frame.RecordPassParallel must be called from a single goroutine, the
// frame thread. Parallel recording callbacks run on the worker pool and
// must only touch their own worker's command stream.
type Engine struct {
	cfg     Config
	backend backend.Backend
	workers worker.DynamicWorkerPool

	pools   [kindCount]pool
	pending map[uint64]Handle

	swapchain  backend.Swapchain
	slots      []*frameSlot
	slotIndex  int
	frameIndex uint64

	stats  FrameStats
	closed bool
}

// New opens a backend and builds an engine over it. When
// cfg.Swapchain has a non-zero extent the swapchain and frame ring are
// built immediately; otherwise the engine stays headless until
// RecreateSwapchain.
func New(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	var b backend.Backend
	if cfg.Backend != "" {
		if b = backend.Get(cfg.Backend); b == nil {
			return nil, fmt.Errorf("rhi: backend %q: %w", cfg.Backend, backend.ErrBackendNotAvailable)
		}
	} else {
		if b = backend.Default(); b == nil {
			return nil, backend.ErrBackendNotAvailable
		}
	}
	if err := b.Open(cfg.Device); err != nil {
		return nil, fmt.Errorf("rhi: open backend %q: %w", b.Name(), err)
	}

	e := &Engine{
		cfg:     cfg,
		backend: b,
		workers: worker.NewDynamicWorkerPool(cfg.Workers, 256, 1*time.Second),
		pending: make(map[uint64]Handle),
	}
	for k := range e.pools {
		e.pools[k].kind = cmds.Kind(k)
	}

	if cfg.Swapchain.Width > 0 && cfg.Swapchain.Height > 0 {
		sc := cfg.Swapchain
		if err := e.RecreateSwapchain(sc.Width, sc.Height, sc.VSync, sc.TripleBuffering); err != nil {
			b.Close()
			return nil, err
		}
	}

	Logger().Info("rhi: engine started",
		"backend", b.Name(), "frameLag", cfg.FrameLag, "workers", cfg.Workers)
	return e, nil
}

// Backend returns the backend the engine runs on.
func (e *Engine) Backend() backend.Backend { return e.backend }

// Stats returns the translation statistics of the last submitted frame.
func (e *Engine) Stats() FrameStats { return e.stats }

// FrameIndex returns the monotonically increasing frame counter. It is
// incremented on submit and preserved across swapchain recreation.
func (e *Engine) FrameIndex() uint64 { return e.frameIndex }

// Close drains in-flight work, destroys the frame ring, the swapchain
// and every live resource, then closes the backend. Resources the
// caller never destroyed are released with a warning.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	if err := e.WaitIdle(); err != nil {
		return err
	}
	e.workers.Stop()
	for _, s := range e.slots {
		s.destroy()
	}
	e.slots = nil
	if e.swapchain != nil {
		e.swapchain.Destroy()
		e.swapchain = nil
	}
	for k := range e.pools {
		p := &e.pools[k]
		if n := p.liveCount(); n > 0 {
			Logger().Warn("rhi: leaked resources at close", "kind", p.kind.String(), "count", n)
		}
		for i := range p.slots {
			if p.slots[i].live {
				e.backend.DestroyHandle(p.slots[i].native)
				p.release(uint32(i))
			}
		}
	}
	e.backend.Close()
	e.closed = true
	Logger().Info("rhi: engine closed")
	return nil
}
