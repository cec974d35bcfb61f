package rhi

import (
	"fmt"

	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/cmds"
)

// Handle identifies an engine-owned resource. Handles are generation
// checked indices into a per-kind pool, never pointers: a handle kept
// past its resource's destruction goes stale instead of dangling, and
// Destroy/IsReady on a stale handle is safe.
//
// The zero Handle is the null handle.
type Handle struct {
	kind  cmds.Kind
	index uint32
	gen   uint32
}

// Kind returns the resource kind the handle refers to.
func (h Handle) Kind() cmds.Kind { return h.kind }

// IsNull reports whether h is the null handle.
func (h Handle) IsNull() bool { return h.kind == cmds.KindInvalid }

// Ref returns the non-owning command-stream reference for h.
func (h Handle) Ref() cmds.Ref { return cmds.Ref{Kind: h.kind, Index: h.index} }

func (h Handle) String() string {
	if h.IsNull() {
		return "null"
	}
	return fmt.Sprintf("%s/%d.%d", h.kind, h.index, h.gen)
}

// pack returns a key ordering handles by kind then index. A given
// (kind, index) pair appears at most once in any live set, so the
// generation can be omitted.
func (h Handle) pack() uint64 {
	return uint64(h.kind)<<32 | uint64(h.index)
}

// resourceState is the last-recorded synchronization state of a
// resource: the stages and access of the command that last touched it
// and, for images, its current layout.
type resourceState struct {
	stages cmds.Stage
	access cmds.Access
	layout cmds.Layout
}

// resource is one pool slot. busy counts in-flight submissions that
// reference the resource; destruction is deferred while busy > 0.
type resource struct {
	native backend.Handle
	ready  bool
	busy   int
	gen    uint32
	live   bool
	name   string
	state  resourceState
}

// pool is the arena for one resource kind. Slots are recycled through a
// free list; each reuse bumps the generation so old handles go stale.
type pool struct {
	kind  cmds.Kind
	slots []resource
	free  []uint32
}

func (p *pool) alloc(native backend.Handle, name string) Handle {
	var idx uint32
	if n := len(p.free); n > 0 {
		idx = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		p.slots = append(p.slots, resource{})
		idx = uint32(len(p.slots) - 1)
	}
	s := &p.slots[idx]
	gen := s.gen + 1
	*s = resource{native: native, ready: true, gen: gen, live: true, name: name}
	return Handle{kind: p.kind, index: idx, gen: gen}
}

// get resolves h, or nil when h is stale or null.
func (p *pool) get(h Handle) *resource {
	if h.kind != p.kind || int(h.index) >= len(p.slots) {
		return nil
	}
	s := &p.slots[h.index]
	if !s.live || s.gen != h.gen {
		return nil
	}
	return s
}

// at resolves a command-stream reference against the slot's current
// generation. References in a stream being processed must be live.
func (p *pool) at(index uint32) (Handle, *resource) {
	if int(index) >= len(p.slots) {
		return Handle{}, nil
	}
	s := &p.slots[index]
	if !s.live {
		return Handle{}, nil
	}
	return Handle{kind: p.kind, index: index, gen: s.gen}, s
}

func (p *pool) release(index uint32) {
	s := &p.slots[index]
	s.live = false
	s.ready = false
	s.native = 0
	p.free = append(p.free, index)
}

// liveCount returns the number of live slots, for shutdown diagnostics.
func (p *pool) liveCount() int {
	n := 0
	for i := range p.slots {
		if p.slots[i].live {
			n++
		}
	}
	return n
}

func (e *Engine) pool(kind cmds.Kind) *pool {
	return &e.pools[kind]
}

// lookup resolves h to its slot, or nil when stale.
func (e *Engine) lookup(h Handle) *resource {
	if h.IsNull() || int(h.kind) >= len(e.pools) {
		return nil
	}
	return e.pool(h.kind).get(h)
}

// resolve resolves a stream reference, aborting on a reference to a
// destroyed resource: a stream naming a dead resource is an engine or
// caller bug, never recoverable.
func (e *Engine) resolve(ref cmds.Ref) (Handle, *resource) {
	if ref.Kind == cmds.KindInvalid || int(ref.Kind) >= len(e.pools) {
		panic(fmt.Sprintf("rhi: command references invalid resource kind %d", ref.Kind))
	}
	h, r := e.pool(ref.Kind).at(ref.Index)
	if r == nil {
		panic(fmt.Sprintf("rhi: command references destroyed %s resource %d", ref.Kind, ref.Index))
	}
	return h, r
}

func (e *Engine) create(kind cmds.Kind, label string, alloc func() (backend.Handle, error)) (Handle, error) {
	if e.closed {
		return Handle{}, ErrClosed
	}
	native, err := alloc()
	if err != nil {
		return Handle{}, err
	}
	h := e.pool(kind).alloc(native, label)
	Logger().Debug("rhi: resource created", "handle", h.String(), "label", label)
	return h, nil
}

// CreateBuffer creates a buffer and returns its handle.
func (e *Engine) CreateBuffer(desc backend.BufferDesc) (Handle, error) {
	return e.create(cmds.KindBuffer, desc.Label, func() (backend.Handle, error) {
		return e.backend.CreateBuffer(desc)
	})
}

// CreateImage creates an image and returns its handle. The image starts
// in the undefined layout; the first use transitions it.
func (e *Engine) CreateImage(desc backend.ImageDesc) (Handle, error) {
	return e.create(cmds.KindImage, desc.Label, func() (backend.Handle, error) {
		return e.backend.CreateImage(desc)
	})
}

// CreateImageView creates a view of an image.
func (e *Engine) CreateImageView(img Handle, desc backend.ImageViewDesc) (Handle, error) {
	r := e.lookup(img)
	if r == nil {
		return Handle{}, fmt.Errorf("rhi: create image view of %v: %w", img, ErrStaleHandle)
	}
	return e.create(cmds.KindImageView, desc.Label, func() (backend.Handle, error) {
		return e.backend.CreateImageView(r.native, desc)
	})
}

// CreateSampler creates a sampler.
func (e *Engine) CreateSampler(desc backend.SamplerDesc) (Handle, error) {
	return e.create(cmds.KindSampler, desc.Label, func() (backend.Handle, error) {
		return e.backend.CreateSampler(desc)
	})
}

// CreateFramebuffer creates a framebuffer over previously created
// attachment views.
func (e *Engine) CreateFramebuffer(desc backend.FramebufferDesc) (Handle, error) {
	return e.create(cmds.KindFramebuffer, desc.Label, func() (backend.Handle, error) {
		return e.backend.CreateFramebuffer(desc)
	})
}

// CreateSet creates a resource set.
func (e *Engine) CreateSet(desc backend.SetDesc) (Handle, error) {
	return e.create(cmds.KindSet, desc.Label, func() (backend.Handle, error) {
		return e.backend.CreateSet(desc)
	})
}

// CreatePipeline creates a pipeline from opaque shader binaries.
func (e *Engine) CreatePipeline(desc backend.PipelineDesc) (Handle, error) {
	return e.create(cmds.KindPipeline, desc.Label, func() (backend.Handle, error) {
		return e.backend.CreatePipeline(desc)
	})
}

// CreateAccel creates an acceleration structure.
func (e *Engine) CreateAccel(desc backend.AccelDesc) (Handle, error) {
	return e.create(cmds.KindAccel, desc.Label, func() (backend.Handle, error) {
		return e.backend.CreateAccel(desc)
	})
}

// IsReady reports whether h refers to a live resource whose native
// object is allocated. Stale and null handles report false.
func (e *Engine) IsReady(h Handle) bool {
	r := e.lookup(h)
	return r != nil && r.ready
}

// DebugName returns the label the resource was created with, or "" for
// stale handles.
func (e *Engine) DebugName(h Handle) string {
	if r := e.lookup(h); r != nil {
		return r.name
	}
	return ""
}
