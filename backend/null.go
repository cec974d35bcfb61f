package backend

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi/cmds"
)

func init() {
	Register(BackendNull, func() Backend { return NewNull() })
}

// TraceCall is one recorded native call.
type TraceCall struct {
	Op     string
	Detail string
}

// Null is a headless backend that performs no GPU work and records every
// native call into an inspectable trace. It backs the engine's tests and
// lets higher layers run without a device.
//
// By default fences signal as soon as the submission carrying them is made
// (an infinitely fast GPU). SetManualFences switches to explicit
// signaling so tests can model work that is still in flight.
type Null struct {
	mu           sync.Mutex
	initialized  bool
	manualFences bool
	failAcquire  int
	failPresent  int
	nextHandle   Handle
	live         map[Handle]string
	fences       []*NullFence
	trace        []TraceCall
	nextBufID    int
}

var _ Backend = (*Null)(nil)

// NewNull returns an unopened null backend.
func NewNull() *Null {
	return &Null{live: make(map[Handle]string)}
}

// Name returns "null".
func (n *Null) Name() string { return BackendNull }

// Open initializes the backend. The device handle is ignored; the null
// backend is fully headless.
func (n *Null) Open(DeviceHandle) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.initialized = true
	return nil
}

// Close marks the backend closed. Live objects are dropped.
func (n *Null) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.initialized = false
	n.live = make(map[Handle]string)
}

// SetManualFences controls fence signaling. When manual, submissions do
// not signal their fence; tests signal via NullFence.Signal.
func (n *Null) SetManualFences(manual bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.manualFences = manual
}

// Fences returns every fence created so far, in creation order.
func (n *Null) Fences() []*NullFence {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*NullFence, len(n.fences))
	copy(out, n.fences)
	return out
}

// FailNextAcquire makes the next count swapchain acquires report
// ErrSurfaceOutOfDate.
func (n *Null) FailNextAcquire(count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failAcquire = count
}

// FailNextPresent makes the next count presents report
// ErrSurfaceOutOfDate.
func (n *Null) FailNextPresent(count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failPresent = count
}

// Trace returns a copy of the recorded call trace.
func (n *Null) Trace() []TraceCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]TraceCall, len(n.trace))
	copy(out, n.trace)
	return out
}

// ResetTrace discards the recorded trace.
func (n *Null) ResetTrace() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.trace = n.trace[:0]
}

// LiveHandles returns the number of native objects currently allocated.
func (n *Null) LiveHandles() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.live)
}

// IsLive reports whether h refers to an allocated native object.
func (n *Null) IsLive(h Handle) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.live[h]
	return ok
}

func (n *Null) record(op, detail string) {
	n.mu.Lock()
	n.trace = append(n.trace, TraceCall{Op: op, Detail: detail})
	n.mu.Unlock()
}

func (n *Null) alloc(kind, label string) (Handle, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.initialized {
		return 0, ErrNotInitialized
	}
	n.nextHandle++
	h := n.nextHandle
	n.live[h] = kind
	n.trace = append(n.trace, TraceCall{Op: "create-" + kind, Detail: fmt.Sprintf("handle=%d label=%q", h, label)})
	return h, nil
}

// CreateBuffer allocates a buffer handle.
func (n *Null) CreateBuffer(desc BufferDesc) (Handle, error) {
	return n.alloc("buffer", desc.Label)
}

// CreateImage allocates an image handle.
func (n *Null) CreateImage(desc ImageDesc) (Handle, error) {
	return n.alloc("image", desc.Label)
}

// CreateImageView allocates an image view handle.
func (n *Null) CreateImageView(img Handle, desc ImageViewDesc) (Handle, error) {
	if !n.IsLive(img) {
		return 0, fmt.Errorf("create image view: image handle %d: %w", img, ErrNotInitialized)
	}
	return n.alloc("imageview", desc.Label)
}

// CreateSampler allocates a sampler handle.
func (n *Null) CreateSampler(desc SamplerDesc) (Handle, error) {
	return n.alloc("sampler", desc.Label)
}

// CreateFramebuffer allocates a framebuffer handle.
func (n *Null) CreateFramebuffer(desc FramebufferDesc) (Handle, error) {
	return n.alloc("framebuffer", desc.Label)
}

// CreateSet allocates a resource set handle.
func (n *Null) CreateSet(desc SetDesc) (Handle, error) {
	return n.alloc("set", desc.Label)
}

// CreatePipeline allocates a pipeline handle.
func (n *Null) CreatePipeline(desc PipelineDesc) (Handle, error) {
	return n.alloc("pipeline", desc.Label)
}

// CreateAccel allocates an acceleration structure handle.
func (n *Null) CreateAccel(desc AccelDesc) (Handle, error) {
	return n.alloc("accel", desc.Label)
}

// DestroyHandle releases a native object.
func (n *Null) DestroyHandle(h Handle) {
	n.mu.Lock()
	kind := n.live[h]
	delete(n.live, h)
	n.trace = append(n.trace, TraceCall{Op: "destroy-" + kind, Detail: fmt.Sprintf("handle=%d", h)})
	n.mu.Unlock()
}

// NewFence creates a fence.
func (n *Null) NewFence(signaled bool) (Fence, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.initialized {
		return nil, ErrNotInitialized
	}
	f := newNullFence(signaled)
	n.fences = append(n.fences, f)
	return f, nil
}

// NewSemaphore creates a semaphore.
func (n *Null) NewSemaphore() (Semaphore, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.initialized {
		return nil, ErrNotInitialized
	}
	return nullSemaphore{}, nil
}

// NewCommandPool creates a command pool.
func (n *Null) NewCommandPool() (CommandPool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.initialized {
		return nil, ErrNotInitialized
	}
	return &nullPool{backend: n}, nil
}

// Submit records the submission, splices the command buffer's calls into
// the trace, and (unless manual fences are enabled) signals the fence.
func (n *Null) Submit(cb CommandBuffer, wait, signal Semaphore, fence Fence) error {
	ncb, ok := cb.(*NullCommandBuffer)
	if !ok {
		panic("backend: null backend submitted a foreign command buffer")
	}

	n.mu.Lock()
	n.trace = append(n.trace, TraceCall{Op: "submit", Detail: fmt.Sprintf("cb=%d", ncb.id)})
	n.trace = append(n.trace, ncb.calls...)
	manual := n.manualFences
	n.mu.Unlock()

	if fence != nil && !manual {
		fence.(*NullFence).Signal()
	}
	return nil
}

// CreateSwapchain creates a headless swapchain whose images are plain
// null-backend image handles.
func (n *Null) CreateSwapchain(cfg SwapchainConfig) (Swapchain, error) {
	images := make([]Handle, cfg.ImageCount())
	for i := range images {
		h, err := n.alloc("image", fmt.Sprintf("swapchain_%d", i))
		if err != nil {
			return nil, err
		}
		images[i] = h
	}
	n.record("create-swapchain", fmt.Sprintf("%dx%d vsync=%t triple=%t", cfg.Width, cfg.Height, cfg.VSync, cfg.TripleBuffering))
	return &nullSwapchain{backend: n, cfg: cfg, images: images}, nil
}

// NullFence is the null backend's fence. Signal flips it from the test
// side when manual fences are enabled.
type NullFence struct {
	mu       sync.Mutex
	signaled bool
	ch       chan struct{}
}

func newNullFence(signaled bool) *NullFence {
	f := &NullFence{signaled: signaled, ch: make(chan struct{})}
	if signaled {
		close(f.ch)
	}
	return f
}

// Signal moves the fence to the signaled state.
func (f *NullFence) Signal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.signaled {
		f.signaled = true
		close(f.ch)
	}
}

// Wait blocks until signaled or the timeout expires.
func (f *NullFence) Wait(timeout time.Duration) error {
	f.mu.Lock()
	ch := f.ch
	done := f.signaled
	f.mu.Unlock()
	if done {
		return nil
	}
	if timeout <= 0 {
		<-ch
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-time.After(timeout):
		return ErrTimeout
	}
}

// Reset returns the fence to the unsignaled state.
func (f *NullFence) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled {
		f.signaled = false
		f.ch = make(chan struct{})
	}
}

// Signaled reports the fence state.
func (f *NullFence) Signaled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaled
}

// Destroy is a no-op.
func (f *NullFence) Destroy() {}

type nullSemaphore struct{}

func (nullSemaphore) Destroy() {}

type nullPool struct {
	backend *Null
	bufs    []*NullCommandBuffer
}

func (p *nullPool) Reset() {
	for _, cb := range p.bufs {
		cb.reset()
	}
	p.backend.record("pool-reset", "")
}

func (p *nullPool) NewPrimary() (CommandBuffer, error) {
	return p.newBuffer(false), nil
}

func (p *nullPool) NewSecondary(inh Inheritance) (CommandBuffer, error) {
	cb := p.newBuffer(true)
	cb.inheritance = inh
	return cb, nil
}

func (p *nullPool) newBuffer(secondary bool) *NullCommandBuffer {
	p.backend.mu.Lock()
	p.backend.nextBufID++
	id := p.backend.nextBufID
	p.backend.mu.Unlock()
	cb := &NullCommandBuffer{id: id, secondary: secondary}
	p.bufs = append(p.bufs, cb)
	return cb
}

func (p *nullPool) Destroy() {
	p.bufs = nil
}

type nullSwapchain struct {
	backend *Null
	cfg     SwapchainConfig
	images  []Handle
	next    int
}

func (s *nullSwapchain) Images() []Handle { return s.images }

func (s *nullSwapchain) Acquire(Semaphore) (int, error) {
	s.backend.mu.Lock()
	if s.backend.failAcquire > 0 {
		s.backend.failAcquire--
		s.backend.mu.Unlock()
		return 0, ErrSurfaceOutOfDate
	}
	s.backend.mu.Unlock()

	idx := s.next
	s.next = (s.next + 1) % len(s.images)
	s.backend.record("acquire", fmt.Sprintf("image=%d", idx))
	return idx, nil
}

func (s *nullSwapchain) Present(_ Semaphore, index int) error {
	s.backend.mu.Lock()
	if s.backend.failPresent > 0 {
		s.backend.failPresent--
		s.backend.mu.Unlock()
		return ErrSurfaceOutOfDate
	}
	s.backend.mu.Unlock()

	s.backend.record("present", fmt.Sprintf("image=%d", index))
	return nil
}

func (s *nullSwapchain) Config() SwapchainConfig { return s.cfg }

func (s *nullSwapchain) Destroy() {
	for _, h := range s.images {
		s.backend.DestroyHandle(h)
	}
	s.backend.record("destroy-swapchain", "")
}

// NullCommandBuffer records calls instead of executing them. Calls splice
// into the backend trace on submit; secondary buffers splice when an
// ExecuteSecondaries call names them.
type NullCommandBuffer struct {
	id          int
	secondary   bool
	recording   bool
	inheritance Inheritance
	calls       []TraceCall
}

var _ CommandBuffer = (*NullCommandBuffer)(nil)

// ID returns the buffer's allocation id, unique per backend.
func (cb *NullCommandBuffer) ID() int { return cb.id }

// Calls returns the calls recorded since the last Begin.
func (cb *NullCommandBuffer) Calls() []TraceCall {
	out := make([]TraceCall, len(cb.calls))
	copy(out, cb.calls)
	return out
}

func (cb *NullCommandBuffer) reset() {
	cb.calls = cb.calls[:0]
	cb.recording = false
}

func (cb *NullCommandBuffer) rec(op, detail string) {
	cb.calls = append(cb.calls, TraceCall{Op: op, Detail: detail})
}

// Begin starts recording, discarding any previous contents.
func (cb *NullCommandBuffer) Begin() error {
	cb.calls = cb.calls[:0]
	cb.recording = true
	return nil
}

// End finishes recording.
func (cb *NullCommandBuffer) End() error {
	cb.recording = false
	return nil
}

func (cb *NullCommandBuffer) BindPipeline(p Handle) {
	cb.rec("bind-pipeline", fmt.Sprintf("pipeline=%d", p))
}

func (cb *NullCommandBuffer) BindSet(slot uint32, set Handle) {
	cb.rec("bind-set", fmt.Sprintf("slot=%d set=%d", slot, set))
}

func (cb *NullCommandBuffer) PushConstants(offset uint32, data []byte) {
	cb.rec("push-constants", fmt.Sprintf("offset=%d len=%d", offset, len(data)))
}

func (cb *NullCommandBuffer) SetViewport(x, y, width, height, minDepth, maxDepth float32) {
	cb.rec("set-viewport", fmt.Sprintf("%gx%g@%g,%g depth=[%g,%g]", width, height, x, y, minDepth, maxDepth))
}

func (cb *NullCommandBuffer) SetScissor(x, y, width, height uint32) {
	cb.rec("set-scissor", fmt.Sprintf("%dx%d@%d,%d", width, height, x, y))
}

func (cb *NullCommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	cb.rec("draw", fmt.Sprintf("verts=%d insts=%d", vertexCount, instanceCount))
}

func (cb *NullCommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	cb.rec("draw-indexed", fmt.Sprintf("idx=%d insts=%d", indexCount, instanceCount))
}

func (cb *NullCommandBuffer) Dispatch(x, y, z uint32) {
	cb.rec("dispatch", fmt.Sprintf("%dx%dx%d", x, y, z))
}

func (cb *NullCommandBuffer) CopyBuffer(src, dst Handle, srcOff, dstOff, size uint64) {
	cb.rec("copy-buffer", fmt.Sprintf("src=%d dst=%d size=%d", src, dst, size))
}

func (cb *NullCommandBuffer) CopyImage(src, dst Handle, srcOrigin, dstOrigin gputypes.Origin3D, extent gputypes.Extent3D) {
	cb.rec("copy-image", fmt.Sprintf("src=%d dst=%d", src, dst))
}

func (cb *NullCommandBuffer) CopyBufferToImage(buf, img Handle, layout gputypes.TextureDataLayout, origin gputypes.Origin3D, extent gputypes.Extent3D) {
	cb.rec("copy-buffer-to-image", fmt.Sprintf("buf=%d img=%d", buf, img))
}

func (cb *NullCommandBuffer) CopyImageToBuffer(img, buf Handle, layout gputypes.TextureDataLayout, origin gputypes.Origin3D, extent gputypes.Extent3D) {
	cb.rec("copy-image-to-buffer", fmt.Sprintf("img=%d buf=%d", img, buf))
}

func (cb *NullCommandBuffer) ClearColorImage(img Handle, color gputypes.Color, baseMip, mipCount, baseLayer, layerCount uint32) {
	cb.rec("clear-color-image", fmt.Sprintf("img=%d", img))
}

func (cb *NullCommandBuffer) FillBuffer(buf Handle, offset, size uint64, value uint32) {
	cb.rec("fill-buffer", fmt.Sprintf("buf=%d size=%d value=%#x", buf, size, value))
}

func (cb *NullCommandBuffer) BuildAccel(accel, scratch Handle) {
	cb.rec("build-accel", fmt.Sprintf("accel=%d scratch=%d", accel, scratch))
}

func (cb *NullCommandBuffer) CopyAccel(src, dst Handle) {
	cb.rec("copy-accel", fmt.Sprintf("src=%d dst=%d", src, dst))
}

func (cb *NullCommandBuffer) TraceRays(width, height, depth uint32) {
	cb.rec("trace-rays", fmt.Sprintf("%dx%dx%d", width, height, depth))
}

func (cb *NullCommandBuffer) Barriers(barriers []Barrier) {
	cb.rec("barrier-batch", fmt.Sprintf("n=%d", len(barriers)))
	for _, b := range barriers {
		target := fmt.Sprintf("buffer=%d", b.Buffer)
		if b.Image != 0 {
			target = fmt.Sprintf("image=%d %s->%s", b.Image, b.OldLayout, b.NewLayout)
		}
		cb.rec("barrier", fmt.Sprintf("%s src=%#x/%#x dst=%#x/%#x",
			target, b.SrcStages, b.SrcAccess, b.DstStages, b.DstAccess))
	}
}

func (cb *NullCommandBuffer) BeginPass(fb Handle, clears []cmds.ClearValue, secondaries bool) {
	cb.rec("begin-pass", fmt.Sprintf("fb=%d clears=%d secondaries=%t", fb, len(clears), secondaries))
}

func (cb *NullCommandBuffer) NextSubpass() {
	cb.rec("next-subpass", "")
}

func (cb *NullCommandBuffer) EndPass() {
	cb.rec("end-pass", "")
}

func (cb *NullCommandBuffer) ExecuteSecondaries(secondaries []CommandBuffer) {
	ids := make([]int, len(secondaries))
	for i, s := range secondaries {
		ids[i] = s.(*NullCommandBuffer).id
	}
	cb.rec("execute-secondaries", fmt.Sprintf("ids=%v", ids))
	for _, s := range secondaries {
		cb.calls = append(cb.calls, s.(*NullCommandBuffer).calls...)
	}
}

func (cb *NullCommandBuffer) BeginLabel(name string) {
	cb.rec("begin-label", name)
}

func (cb *NullCommandBuffer) EndLabel() {
	cb.rec("end-label", "")
}

func (cb *NullCommandBuffer) InsertLabel(name string) {
	cb.rec("insert-label", name)
}
