// Package backend defines the interface between the engine and a native
// graphics API, along with a registry for backend implementations and a
// built-in headless "null" backend used for testing and CI.
//
// The engine never talks to a graphics API directly: the command
// processor drives a CommandBuffer, and the frame pipeline drives the
// Backend's fence, semaphore, pool and swapchain surfaces. A backend is
// handed to the engine explicitly at construction; there is no process
// global.
package backend

import (
	"errors"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi/cmds"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not
	// registered.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNotInitialized is returned when operations are called before Open.
	ErrNotInitialized = errors.New("backend: not initialized")

	// ErrOutOfMemory is returned when a native object cannot be allocated.
	ErrOutOfMemory = errors.New("backend: out of device memory")

	// ErrSurfaceOutOfDate is returned by swapchain acquire/present when the
	// surface no longer matches the swapchain (window resize, display
	// reconfiguration). It is an expected, recoverable condition: the
	// caller must recreate the swapchain and retry the frame.
	ErrSurfaceOutOfDate = errors.New("backend: surface out of date")

	// ErrTimeout is returned by Fence.Wait when the timeout expires before
	// the fence signals.
	ErrTimeout = errors.New("backend: wait timed out")
)

// DeviceHandle provides GPU device access from the host application.
// The engine RECEIVES a device from the host rather than creating one,
// so GPU resources can be shared across the stack. Headless backends
// accept NullDeviceHandle.
type DeviceHandle = gpucontext.DeviceProvider

// NullDeviceHandle is a DeviceHandle with no device behind it, for
// headless backends and tests.
type NullDeviceHandle struct{}

// Device returns nil for the null handle.
func (NullDeviceHandle) Device() gpucontext.Device { return nil }

// Queue returns nil for the null handle.
func (NullDeviceHandle) Queue() gpucontext.Queue { return nil }

// Adapter returns nil for the null handle.
func (NullDeviceHandle) Adapter() gpucontext.Adapter { return nil }

// SurfaceFormat returns undefined format for the null handle.
func (NullDeviceHandle) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatUndefined
}

// AdapterInfo returns empty adapter info for the null handle.
func (NullDeviceHandle) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{}
}

var _ DeviceHandle = NullDeviceHandle{}

// Handle is an opaque native object handle. Zero is the null handle.
type Handle uint64

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	Label       string
	Size        uint64
	Usage       gputypes.BufferUsage
	HostVisible bool
}

// ImageDesc describes an image to create.
type ImageDesc struct {
	Label         string
	Size          gputypes.Extent3D
	Format        gputypes.TextureFormat
	MipLevelCount uint32
	SampleCount   uint32
	Dimension     gputypes.TextureDimension
	Usage         gputypes.TextureUsage
}

// ImageViewDesc describes a typed view of an image subresource range.
type ImageViewDesc struct {
	Label      string
	Format     gputypes.TextureFormat
	Dimension  gputypes.TextureViewDimension
	BaseMip    uint32
	MipCount   uint32
	BaseLayer  uint32
	LayerCount uint32
}

// SamplerDesc describes an image sampler.
type SamplerDesc struct {
	Label       string
	MinFilter   gputypes.FilterMode
	MagFilter   gputypes.FilterMode
	AddressMode gputypes.AddressMode
	Compare     gputypes.CompareFunction
}

// FramebufferDesc describes the render targets of a pass. Attachments
// are image view handles; Loads and Stores are indexed like Attachments.
type FramebufferDesc struct {
	Label       string
	Attachments []Handle
	Loads       []gputypes.LoadOp
	Stores      []gputypes.StoreOp
	Width       uint32
	Height      uint32
	Layers      uint32
}

// SetBinding is one slot of a resource set.
type SetBinding struct {
	Binding uint32
	Buffer  Handle
	View    Handle
	Sampler Handle
}

// SetDesc describes a descriptor/resource set.
type SetDesc struct {
	Label    string
	Bindings []SetBinding
}

// PipelineDesc describes a pipeline. Shader binaries are opaque to the
// engine; compiling them is out of scope. Exactly one of
// (Vertex+Fragment), Compute, or RayGen must be set.
type PipelineDesc struct {
	Label    string
	Vertex   []byte
	Fragment []byte
	Compute  []byte
	RayGen   []byte
	Topology gputypes.PrimitiveTopology
}

// AccelDesc describes an acceleration structure.
type AccelDesc struct {
	Label    string
	Size     uint64
	TopLevel bool
}

// SwapchainConfig describes the presentable image chain.
type SwapchainConfig struct {
	Width           uint32
	Height          uint32
	Format          gputypes.TextureFormat
	VSync           bool
	TripleBuffering bool
}

// ImageCount returns the number of presentable images the configuration
// asks for.
func (c SwapchainConfig) ImageCount() int {
	if c.TripleBuffering {
		return 3
	}
	return 2
}

// Barrier is one synchronization directive: it orders accesses to a
// single buffer or image (or, with both handles zero, all memory) and,
// for images, transitions the layout. Backends that support bulk
// submission receive batches via CommandBuffer.Barriers.
type Barrier struct {
	Buffer    Handle
	Image     Handle
	SrcStages cmds.Stage
	DstStages cmds.Stage
	SrcAccess cmds.Access
	DstAccess cmds.Access
	OldLayout cmds.Layout
	NewLayout cmds.Layout
}

// Fence is a GPU-to-CPU completion signal.
type Fence interface {
	// Wait blocks until the fence signals or the timeout expires
	// (ErrTimeout). A zero timeout waits forever.
	Wait(timeout time.Duration) error

	// Reset returns the fence to the unsignaled state. It must only be
	// called once no wait can still depend on the previous signal.
	Reset()

	// Signaled reports the fence state without blocking.
	Signaled() bool

	Destroy()
}

// Semaphore is a GPU-to-GPU ordering primitive.
type Semaphore interface {
	Destroy()
}

// Inheritance carries the render pass state a secondary command buffer
// records against, so worker threads can record draws without
// re-describing the pass.
type Inheritance struct {
	Framebuffer Handle
	Formats     []gputypes.TextureFormat
	Samples     uint32
	Subpass     uint32
}

// CommandPool allocates command buffers. Pools are externally
// synchronized: one pool per recording thread.
type CommandPool interface {
	// Reset recycles every command buffer allocated from the pool.
	Reset()

	// NewPrimary allocates a primary command buffer.
	NewPrimary() (CommandBuffer, error)

	// NewSecondary allocates a secondary command buffer that records
	// inside the pass described by inh.
	NewSecondary(inh Inheritance) (CommandBuffer, error)

	Destroy()
}

// CommandBuffer records native commands. The command processor is the
// only caller; it guarantees Begin/End bracketing and pass nesting.
type CommandBuffer interface {
	Begin() error
	End() error

	BindPipeline(p Handle)
	BindSet(slot uint32, set Handle)
	PushConstants(offset uint32, data []byte)
	SetViewport(x, y, width, height, minDepth, maxDepth float32)
	SetScissor(x, y, width, height uint32)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
	Dispatch(x, y, z uint32)
	CopyBuffer(src, dst Handle, srcOff, dstOff, size uint64)
	CopyImage(src, dst Handle, srcOrigin, dstOrigin gputypes.Origin3D, extent gputypes.Extent3D)
	CopyBufferToImage(buf, img Handle, layout gputypes.TextureDataLayout, origin gputypes.Origin3D, extent gputypes.Extent3D)
	CopyImageToBuffer(img, buf Handle, layout gputypes.TextureDataLayout, origin gputypes.Origin3D, extent gputypes.Extent3D)
	ClearColorImage(img Handle, color gputypes.Color, baseMip, mipCount, baseLayer, layerCount uint32)
	FillBuffer(buf Handle, offset, size uint64, value uint32)
	BuildAccel(accel, scratch Handle)
	CopyAccel(src, dst Handle)
	TraceRays(width, height, depth uint32)

	// Barriers records a batch of barriers as one native submission.
	Barriers(b []Barrier)

	// BeginPass begins a render pass against the framebuffer. When
	// secondaries is true, the pass contents come exclusively from
	// ExecuteSecondaries.
	BeginPass(fb Handle, clears []cmds.ClearValue, secondaries bool)
	NextSubpass()
	EndPass()

	// ExecuteSecondaries stitches recorded secondary buffers into this
	// primary buffer, in slice order.
	ExecuteSecondaries(secondaries []CommandBuffer)

	BeginLabel(name string)
	EndLabel()
	InsertLabel(name string)
}

// Swapchain is the presentable image chain.
type Swapchain interface {
	// Images returns the native handles of the presentable images.
	Images() []Handle

	// Acquire returns the index of the next presentable image, signaling
	// sem when the image is ready to be rendered to. Returns
	// ErrSurfaceOutOfDate when the surface needs recreation.
	Acquire(sem Semaphore) (int, error)

	// Present queues presentation of the image at index, gated on sem.
	// Returns ErrSurfaceOutOfDate when the surface needs recreation.
	Present(sem Semaphore, index int) error

	// Config returns the configuration the swapchain was created with.
	Config() SwapchainConfig

	Destroy()
}

// Backend is a native graphics API implementation.
type Backend interface {
	// Name returns the backend identifier (e.g. "null", "vulkan").
	Name() string

	// Open initializes the backend against the host-provided device.
	Open(dev DeviceHandle) error

	// Close releases all backend resources.
	Close()

	CreateBuffer(desc BufferDesc) (Handle, error)
	CreateImage(desc ImageDesc) (Handle, error)
	CreateImageView(img Handle, desc ImageViewDesc) (Handle, error)
	CreateSampler(desc SamplerDesc) (Handle, error)
	CreateFramebuffer(desc FramebufferDesc) (Handle, error)
	CreateSet(desc SetDesc) (Handle, error)
	CreatePipeline(desc PipelineDesc) (Handle, error)
	CreateAccel(desc AccelDesc) (Handle, error)

	// DestroyHandle releases a native object created by one of the
	// Create methods. The caller guarantees the GPU no longer uses it.
	DestroyHandle(h Handle)

	NewFence(signaled bool) (Fence, error)
	NewSemaphore() (Semaphore, error)
	NewCommandPool() (CommandPool, error)

	// Submit sends a finished primary buffer to the GPU queue, gated on
	// wait, signaling signal and fence on completion.
	Submit(cb CommandBuffer, wait, signal Semaphore, fence Fence) error

	CreateSwapchain(cfg SwapchainConfig) (Swapchain, error)
}
