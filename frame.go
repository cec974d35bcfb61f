package rhi

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/automation/tools/worker"

	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/cmds"
)

// frameSlot is one entry of the in-flight ring. Slots are rebuilt
// wholesale on swapchain recreation.
type frameSlot struct {
	fence         backend.Fence
	imageAcquired backend.Semaphore
	drawComplete  backend.Semaphore

	// primaryPool allocates the primary buffer; workerPools are one per
	// recording worker so resets and secondary allocation never share a
	// pool across threads.
	primaryPool backend.CommandPool
	workerPools []backend.CommandPool
	primary     backend.CommandBuffer

	// stream is the frame's primary command stream, reset each acquire.
	stream *cmds.List

	// locked is the slot's in-flight resource set, built at submission
	// and flushed exactly once when the fence is observed signaled.
	locked   map[Handle]int
	inFlight bool

	// Per-pass secondary buffers and worker streams, allocated lazily
	// and reused when the same slot/pass combination recurs.
	secondaries map[string][]backend.CommandBuffer
	workerLists map[string][]*cmds.List
}

func (e *Engine) newFrameSlot() (*frameSlot, error) {
	s := &frameSlot{
		stream:      cmds.NewList(),
		locked:      make(map[Handle]int),
		secondaries: make(map[string][]backend.CommandBuffer),
		workerLists: make(map[string][]*cmds.List),
	}
	var err error
	if s.fence, err = e.backend.NewFence(false); err != nil {
		return nil, fmt.Errorf("rhi: frame slot fence: %w", err)
	}
	if s.imageAcquired, err = e.backend.NewSemaphore(); err != nil {
		return nil, fmt.Errorf("rhi: frame slot semaphore: %w", err)
	}
	if s.drawComplete, err = e.backend.NewSemaphore(); err != nil {
		return nil, fmt.Errorf("rhi: frame slot semaphore: %w", err)
	}
	if s.primaryPool, err = e.backend.NewCommandPool(); err != nil {
		return nil, fmt.Errorf("rhi: frame slot command pool: %w", err)
	}
	if s.primary, err = s.primaryPool.NewPrimary(); err != nil {
		return nil, fmt.Errorf("rhi: frame slot primary buffer: %w", err)
	}
	for i := 0; i < e.cfg.Workers; i++ {
		p, err := e.backend.NewCommandPool()
		if err != nil {
			return nil, fmt.Errorf("rhi: frame slot worker pool %d: %w", i, err)
		}
		s.workerPools = append(s.workerPools, p)
	}
	return s, nil
}

func (s *frameSlot) destroy() {
	for _, p := range s.workerPools {
		p.Destroy()
	}
	s.primaryPool.Destroy()
	s.drawComplete.Destroy()
	s.imageAcquired.Destroy()
	s.fence.Destroy()
}

// observeSlot reacts to a slot's fence having signaled: its in-flight
// set is flushed once, then flushable pending destroys run.
func (e *Engine) observeSlot(s *frameSlot) {
	if !s.inFlight {
		return
	}
	e.flushLocked(s.locked)
	s.inFlight = false
	e.flushPending()
}

func (s *frameSlot) passLists(pass string, n int) []*cmds.List {
	ls := s.workerLists[pass]
	for len(ls) < n {
		ls = append(ls, cmds.NewList())
	}
	s.workerLists[pass] = ls
	return ls[:n]
}

func (s *frameSlot) passSecondaries(pass string, n int, inh backend.Inheritance) ([]backend.CommandBuffer, error) {
	secs := s.secondaries[pass]
	for len(secs) < n {
		cb, err := s.workerPools[len(secs)].NewSecondary(inh)
		if err != nil {
			return nil, fmt.Errorf("rhi: secondary buffer for pass %q: %w", pass, err)
		}
		secs = append(secs, cb)
	}
	s.secondaries[pass] = secs
	return secs[:n], nil
}

// Frame is one acquired frame. Record into it, then SubmitFrame and
// PresentFrame. A Frame is only valid until the next AcquireFrame or
// RecreateSwapchain.
type Frame struct {
	e     *Engine
	slot  *frameSlot
	image int
	index uint64

	// Carried from parallel passes into submission.
	extraLocked    map[Handle]int
	workerCommands int
	stitched       int

	submitted bool
}

// Index returns the engine's monotonically increasing frame counter
// value for this frame. It survives swapchain recreation.
func (f *Frame) Index() uint64 { return f.index }

// ImageIndex returns the swapchain image index acquired for this frame.
func (f *Frame) ImageIndex() int { return f.image }

// Image returns the native handle of the acquired swapchain image.
func (f *Frame) Image() backend.Handle {
	return f.e.swapchain.Images()[f.image]
}

// Record appends serially recorded work to the frame's primary stream.
func (f *Frame) Record(record func(l *cmds.List)) {
	record(f.slot.stream)
}

// RecordPass records a render pass serially on the calling goroutine.
// uses declares the pass's attachment accesses.
func (f *Frame) RecordPass(fb Handle, clears []cmds.ClearValue, uses []cmds.Use, record func(l *cmds.List)) {
	l := f.slot.stream
	l.BeginPass(fb.Ref(), false, clears, uses...)
	record(l)
	l.EndPass()
}

// RecordPassParallel records a render pass by fanning record out across
// the engine's worker pool. Each worker owns an independent command
// stream and secondary buffer, so recording needs no cross-thread
// locking. Workers that record nothing are skipped when stitching;
// contributing secondaries execute in ascending worker order regardless
// of completion order. Every resource use declared by any worker is
// synchronized on the frame thread before the pass begins.
func (f *Frame) RecordPassParallel(pass string, fb Handle, clears []cmds.ClearValue, record func(worker int, l *cmds.List)) error {
	e := f.e
	s := f.slot
	n := e.cfg.Workers

	fbRes := e.lookup(fb)
	if fbRes == nil {
		panic(fmt.Sprintf("rhi: parallel pass %q targets stale framebuffer %v", pass, fb))
	}
	lists := s.passLists(pass, n)
	secs, err := s.passSecondaries(pass, n, backend.Inheritance{Framebuffer: fbRes.native})
	if err != nil {
		return err
	}

	contributed := make([]atomic.Bool, n)
	procs := make([]*processor, n)
	errs := make([]error, n)
	stats := make([]FrameStats, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		i := i
		e.workers.SubmitTask(worker.Task{
			ID: i,
			Do: func() (any, error) {
				defer wg.Done()
				l := lists[i]
				l.Reset()
				record(i, l)
				if l.Len() == 0 {
					return nil, nil
				}
				sec := secs[i]
				if err := sec.Begin(); err != nil {
					errs[i] = err
					return nil, err
				}
				p := newProcessor(e, sec, false, &stats[i])
				p.run(l)
				if err := sec.End(); err != nil {
					errs[i] = err
					return nil, err
				}
				procs[i] = p
				contributed[i].Store(true)
				return nil, nil
			},
		})
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			return fmt.Errorf("rhi: parallel pass %q worker %d: %w", pass, i, errs[i])
		}
	}

	// Fan-in on the frame thread: gather every declared use so the
	// pre-pass barrier step covers all worker streams, merge the worker
	// locked tables, and collect contributors in worker index order.
	var uses []cmds.Use
	var ordered []backend.CommandBuffer
	for i := 0; i < n; i++ {
		if !contributed[i].Load() {
			continue
		}
		p := procs[i]
		uses = append(uses, p.uses...)
		for h, c := range p.locked {
			f.extraLocked[h] += c
		}
		f.workerCommands += stats[i].Commands
		ordered = append(ordered, secs[i])
	}

	l := s.stream
	l.BeginPass(fb.Ref(), true, clears, uses...)
	if len(ordered) > 0 {
		l.Callback(func() { s.primary.ExecuteSecondaries(ordered) })
	}
	l.EndPass()
	f.stitched += len(ordered)

	Logger().Debug("rhi: parallel pass recorded",
		"pass", pass, "workers", n, "contributed", len(ordered))
	return nil
}

// AcquireFrame starts the next frame: waits for the slot's previous use
// to finish (flushing its in-flight set), acquires a swapchain image and
// resets the slot's command pools across the worker threads. It returns
// ErrNeedsRecreate when the surface is out of date; that is an expected
// condition, not a fault. A fence wait exceeding the configured timeout
// is treated as a hung device and aborts.
func (e *Engine) AcquireFrame() (*Frame, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if e.swapchain == nil {
		return nil, ErrNoSwapchain
	}
	s := e.slots[e.slotIndex]
	if s.inFlight {
		if err := s.fence.Wait(e.cfg.FenceTimeout); err != nil {
			panic(fmt.Sprintf("rhi: frame fence wait exceeded %v, device presumed hung", e.cfg.FenceTimeout))
		}
		e.observeSlot(s)
	}

	image, err := e.swapchain.Acquire(s.imageAcquired)
	if errors.Is(err, backend.ErrSurfaceOutOfDate) {
		Logger().Info("rhi: surface out of date on acquire")
		return nil, ErrNeedsRecreate
	}
	if err != nil {
		return nil, fmt.Errorf("rhi: acquire image: %w", err)
	}

	// Pools reset only after acquisition succeeded; the fence likewise,
	// or a failed acquire could leave the slot unwaitable.
	e.resetSlotPools(s)
	s.fence.Reset()
	s.stream.Reset()

	return &Frame{
		e:           e,
		slot:        s,
		image:       image,
		index:       e.frameIndex,
		extraLocked: make(map[Handle]int),
	}, nil
}

func (e *Engine) resetSlotPools(s *frameSlot) {
	var wg sync.WaitGroup
	for i, p := range s.workerPools {
		wg.Add(1)
		p := p
		e.workers.SubmitTask(worker.Task{
			ID: i,
			Do: func() (any, error) {
				defer wg.Done()
				p.Reset()
				return nil, nil
			},
		})
	}
	wg.Wait()
	s.primaryPool.Reset()
}

// SubmitFrame translates the frame's primary stream into the slot's
// primary command buffer, increments the busy counter of every
// referenced resource into the slot's in-flight set, and submits gated
// on image acquisition, signaling draw-complete and the slot fence.
func (e *Engine) SubmitFrame(f *Frame) error {
	if f.submitted {
		panic(fmt.Sprintf("rhi: frame %d submitted twice", f.index))
	}
	s := f.slot

	if err := s.primary.Begin(); err != nil {
		return fmt.Errorf("rhi: begin primary buffer: %w", err)
	}
	var stats FrameStats
	p := newProcessor(e, s.primary, true, &stats)
	p.run(s.stream)
	if err := s.primary.End(); err != nil {
		return fmt.Errorf("rhi: end primary buffer: %w", err)
	}

	for h, n := range p.locked {
		s.locked[h] += n
	}
	for h, n := range f.extraLocked {
		s.locked[h] += n
	}
	for h, n := range s.locked {
		r := e.lookup(h)
		if r == nil {
			panic(fmt.Sprintf("rhi: submitting frame referencing destroyed resource %v", h))
		}
		r.busy += n
	}

	if err := e.backend.Submit(s.primary, s.imageAcquired, s.drawComplete, s.fence); err != nil {
		// The submission never reached the GPU; undo the busy
		// increments so the resources stay destroyable.
		e.flushLocked(s.locked)
		return fmt.Errorf("rhi: submit frame %d: %w", f.index, err)
	}
	s.inFlight = true
	f.submitted = true

	stats.Commands += f.workerCommands
	stats.Secondaries = f.stitched
	e.stats = stats

	e.slotIndex = (e.slotIndex + 1) % len(e.slots)
	e.frameIndex++

	Logger().Debug("rhi: frame submitted",
		"frame", f.index, "commands", stats.Commands,
		"barriers", stats.Barriers, "secondaries", stats.Secondaries)
	return nil
}

// PresentFrame requests presentation of the frame's image, gated on the
// draw-complete semaphore. The bool result is false when the surface is
// out of date and RecreateSwapchain must run before the next frame.
func (e *Engine) PresentFrame(f *Frame) (bool, error) {
	err := e.swapchain.Present(f.slot.drawComplete, f.image)
	if errors.Is(err, backend.ErrSurfaceOutOfDate) {
		Logger().Info("rhi: surface out of date on present")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("rhi: present frame %d: %w", f.index, err)
	}
	return true, nil
}

// RecreateSwapchain tears down the frame slots and swapchain and
// rebuilds them for the given surface parameters. In-flight work is
// drained first. The frame index counter is preserved: frame-parity
// effects must not reset on a resize. Recreating with the current
// parameters is valid.
func (e *Engine) RecreateSwapchain(width, height uint32, vsync, tripleBuffering bool) error {
	if e.closed {
		return ErrClosed
	}
	for _, s := range e.slots {
		if s.inFlight {
			if err := s.fence.Wait(e.cfg.FenceTimeout); err != nil {
				panic(fmt.Sprintf("rhi: fence wait exceeded %v during swapchain recreation, device presumed hung", e.cfg.FenceTimeout))
			}
			e.observeSlot(s)
		}
		s.destroy()
	}
	e.slots = nil
	if e.swapchain != nil {
		e.swapchain.Destroy()
		e.swapchain = nil
	}

	cfg := backend.SwapchainConfig{
		Width:           width,
		Height:          height,
		Format:          e.cfg.Swapchain.Format,
		VSync:           vsync,
		TripleBuffering: tripleBuffering,
	}
	sc, err := e.backend.CreateSwapchain(cfg)
	if err != nil {
		return fmt.Errorf("rhi: create swapchain: %w", err)
	}
	e.swapchain = sc
	e.cfg.Swapchain = cfg

	for i := 0; i < e.cfg.FrameLag; i++ {
		s, err := e.newFrameSlot()
		if err != nil {
			for _, built := range e.slots {
				built.destroy()
			}
			e.slots = nil
			sc.Destroy()
			e.swapchain = nil
			return err
		}
		e.slots = append(e.slots, s)
	}
	e.slotIndex = 0

	Logger().Info("rhi: swapchain recreated",
		"width", width, "height", height,
		"vsync", vsync, "images", len(sc.Images()))
	return nil
}

// InFlightFrames returns how many frame slots are currently in flight.
func (e *Engine) InFlightFrames() int {
	n := 0
	for _, s := range e.slots {
		if s.inFlight {
			n++
		}
	}
	return n
}
