package cmds

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/gputypes"
)

// Record layout constants. Every record is
//
//	[tag:1][flags:1][useCount:2][size:4] body uses tail
//
// where body has a fixed length per tag, uses is useCount encoded Use
// values, and tail is any remaining variable payload (push-constant data,
// clear values, label text). size counts the whole record including the
// header, so a walk advances by size alone.
const (
	recHeaderSize = 8
	useSize       = 16
)

// Record flags.
const (
	// flagParallel marks a begin-pass record whose draw commands will be
	// recorded on worker threads into secondary buffers.
	flagParallel = 1 << iota
)

// ClearValue holds clear values for the color or depth/stencil aspects of
// an attachment.
type ClearValue struct {
	Color   gputypes.Color
	Depth   float32
	Stencil uint32
}

const clearValueSize = 4*8 + 4 + 4

// List is an append-only stream of commands. The zero value is ready to
// use. Recording methods append; Walk consumes; Reset rewinds to empty
// without releasing capacity, so a List reused across frames stops
// allocating once it reaches its high-water mark.
type List struct {
	buf []byte
	fns []func()
	n   int
}

// NewList returns an empty List with a small initial capacity.
func NewList() *List {
	return &List{buf: make([]byte, 0, 1024)}
}

// Len returns the number of recorded commands.
func (l *List) Len() int { return l.n }

// Size returns the encoded size of the stream in bytes.
func (l *List) Size() int { return len(l.buf) }

// Reset rewinds the list to empty, retaining capacity.
func (l *List) Reset() {
	l.buf = l.buf[:0]
	for i := range l.fns {
		l.fns[i] = nil
	}
	l.fns = l.fns[:0]
	l.n = 0
}

func (l *List) u16(v uint16)  { l.buf = binary.LittleEndian.AppendUint16(l.buf, v) }
func (l *List) u32(v uint32)  { l.buf = binary.LittleEndian.AppendUint32(l.buf, v) }
func (l *List) u64(v uint64)  { l.buf = binary.LittleEndian.AppendUint64(l.buf, v) }
func (l *List) f32(v float32) { l.u32(math.Float32bits(v)) }
func (l *List) f64(v float64) { l.u64(math.Float64bits(v)) }

// header appends a record header. bodyLen and tailLen are the lengths of
// the fixed body and the variable tail that the caller will append next.
func (l *List) header(tag Tag, flags uint8, uses []Use, bodyLen, tailLen int) {
	size := recHeaderSize + bodyLen + len(uses)*useSize + tailLen
	l.buf = append(l.buf, byte(tag), flags)
	l.u16(uint16(len(uses)))
	l.u32(uint32(size))
	l.n++
}

func (l *List) uses(uses []Use) {
	for _, u := range uses {
		l.buf = append(l.buf, byte(u.Ref.Kind), byte(u.Layout), 0, 0)
		l.u32(u.Ref.Index)
		l.u32(uint32(u.Stages))
		l.u32(uint32(u.Access))
	}
}

func (l *List) color(c gputypes.Color) {
	l.f64(c.R)
	l.f64(c.G)
	l.f64(c.B)
	l.f64(c.A)
}

func (l *List) origin(o gputypes.Origin3D) {
	l.u32(o.X)
	l.u32(o.Y)
	l.u32(o.Z)
}

func (l *List) extent(e gputypes.Extent3D) {
	l.u32(e.Width)
	l.u32(e.Height)
	l.u32(e.DepthOrArrayLayers)
}

func (l *List) dataLayout(d gputypes.TextureDataLayout) {
	l.u64(d.Offset)
	l.u32(d.BytesPerRow)
	l.u32(d.RowsPerImage)
}

// BindPipeline binds a graphics, compute or ray-tracing pipeline.
func (l *List) BindPipeline(p Ref) {
	l.header(TagBindPipeline, 0, nil, 4, 0)
	l.u32(p.Index)
}

// BindSet binds a resource set to the given slot. uses declares the
// intended accesses of the set's members so the processor can synchronize
// them before the next draw or dispatch.
func (l *List) BindSet(slot uint32, set Ref, uses ...Use) {
	l.header(TagBindSet, 0, uses, 8, 0)
	l.u32(slot)
	l.u32(set.Index)
	l.uses(uses)
}

// PushConstants records a small inline constant update.
func (l *List) PushConstants(offset uint32, data []byte) {
	l.header(TagPushConstants, 0, nil, 4, len(data))
	l.u32(offset)
	l.buf = append(l.buf, data...)
}

// SetViewport sets the viewport transform.
func (l *List) SetViewport(x, y, width, height, minDepth, maxDepth float32) {
	l.header(TagSetViewport, 0, nil, 24, 0)
	l.f32(x)
	l.f32(y)
	l.f32(width)
	l.f32(height)
	l.f32(minDepth)
	l.f32(maxDepth)
}

// SetScissor sets the scissor rectangle.
func (l *List) SetScissor(x, y, width, height uint32) {
	l.header(TagSetScissor, 0, nil, 16, 0)
	l.u32(x)
	l.u32(y)
	l.u32(width)
	l.u32(height)
}

// Draw records a non-indexed draw.
func (l *List) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	l.header(TagDraw, 0, nil, 16, 0)
	l.u32(vertexCount)
	l.u32(instanceCount)
	l.u32(firstVertex)
	l.u32(firstInstance)
}

// DrawIndexed records an indexed draw.
func (l *List) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	l.header(TagDrawIndexed, 0, nil, 20, 0)
	l.u32(indexCount)
	l.u32(instanceCount)
	l.u32(firstIndex)
	l.u32(uint32(vertexOffset))
	l.u32(firstInstance)
}

// Dispatch records a compute dispatch.
func (l *List) Dispatch(x, y, z uint32, uses ...Use) {
	l.header(TagDispatch, 0, uses, 12, 0)
	l.u32(x)
	l.u32(y)
	l.u32(z)
	l.uses(uses)
}

// CopyBuffer copies a byte range between two buffers. The transfer-read
// and transfer-write uses are declared automatically.
func (l *List) CopyBuffer(src, dst Ref, srcOff, dstOff, size uint64) {
	uses := []Use{
		{Ref: src, Stages: StageTransfer, Access: AccessTransferRead},
		{Ref: dst, Stages: StageTransfer, Access: AccessTransferWrite},
	}
	l.header(TagCopyBuffer, 0, uses, 32, 0)
	l.u32(src.Index)
	l.u32(dst.Index)
	l.u64(srcOff)
	l.u64(dstOff)
	l.u64(size)
	l.uses(uses)
}

// CopyImage copies a region between two images.
func (l *List) CopyImage(src, dst Ref, srcOrigin, dstOrigin gputypes.Origin3D, extent gputypes.Extent3D) {
	uses := []Use{
		{Ref: src, Stages: StageTransfer, Access: AccessTransferRead, Layout: LayoutTransferSrc},
		{Ref: dst, Stages: StageTransfer, Access: AccessTransferWrite, Layout: LayoutTransferDst},
	}
	l.header(TagCopyImage, 0, uses, 44, 0)
	l.u32(src.Index)
	l.u32(dst.Index)
	l.origin(srcOrigin)
	l.origin(dstOrigin)
	l.extent(extent)
	l.uses(uses)
}

// CopyBufferToImage copies buffer data into an image region.
func (l *List) CopyBufferToImage(buf, img Ref, layout gputypes.TextureDataLayout, origin gputypes.Origin3D, extent gputypes.Extent3D) {
	uses := []Use{
		{Ref: buf, Stages: StageTransfer, Access: AccessTransferRead},
		{Ref: img, Stages: StageTransfer, Access: AccessTransferWrite, Layout: LayoutTransferDst},
	}
	l.header(TagCopyBufferToImage, 0, uses, 48, 0)
	l.u32(buf.Index)
	l.u32(img.Index)
	l.dataLayout(layout)
	l.origin(origin)
	l.extent(extent)
	l.uses(uses)
}

// CopyImageToBuffer copies an image region into a buffer.
func (l *List) CopyImageToBuffer(img, buf Ref, layout gputypes.TextureDataLayout, origin gputypes.Origin3D, extent gputypes.Extent3D) {
	uses := []Use{
		{Ref: img, Stages: StageTransfer, Access: AccessTransferRead, Layout: LayoutTransferSrc},
		{Ref: buf, Stages: StageTransfer, Access: AccessTransferWrite},
	}
	l.header(TagCopyImageToBuffer, 0, uses, 48, 0)
	l.u32(img.Index)
	l.u32(buf.Index)
	l.dataLayout(layout)
	l.origin(origin)
	l.extent(extent)
	l.uses(uses)
}

// ClearColorImage clears a mip/layer range of a color image.
func (l *List) ClearColorImage(img Ref, color gputypes.Color, baseMip, mipCount, baseLayer, layerCount uint32) {
	uses := []Use{
		{Ref: img, Stages: StageTransfer, Access: AccessTransferWrite, Layout: LayoutTransferDst},
	}
	l.header(TagClearColorImage, 0, uses, 52, 0)
	l.u32(img.Index)
	l.color(color)
	l.u32(baseMip)
	l.u32(mipCount)
	l.u32(baseLayer)
	l.u32(layerCount)
	l.uses(uses)
}

// FillBuffer fills a buffer range with copies of a 32-bit value.
func (l *List) FillBuffer(buf Ref, offset, size uint64, value uint32) {
	uses := []Use{
		{Ref: buf, Stages: StageTransfer, Access: AccessTransferWrite},
	}
	l.header(TagFillBuffer, 0, uses, 24, 0)
	l.u32(buf.Index)
	l.u32(value)
	l.u64(offset)
	l.u64(size)
	l.uses(uses)
}

// BeginPass begins a render pass targeting the given framebuffer.
// uses declares the attachments (and, for a parallel pass, every resource
// referenced inside the pass) so the processor can synchronize them before
// the pass begins. clears supplies one ClearValue per attachment whose
// load op clears.
func (l *List) BeginPass(fb Ref, parallel bool, clears []ClearValue, uses ...Use) {
	var flags uint8
	if parallel {
		flags |= flagParallel
	}
	l.header(TagBeginPass, flags, uses, 4, len(clears)*clearValueSize)
	l.u32(fb.Index)
	l.uses(uses)
	for _, c := range clears {
		l.color(c.Color)
		l.f32(c.Depth)
		l.u32(c.Stencil)
	}
}

// NextSubpass advances to the next subpass of the current pass.
func (l *List) NextSubpass() {
	l.header(TagNextSubpass, 0, nil, 0, 0)
}

// EndPass ends the current render pass.
func (l *List) EndPass() {
	l.header(TagEndPass, 0, nil, 0, 0)
}

// BuildAccel builds an acceleration structure using the given scratch
// buffer.
func (l *List) BuildAccel(accel, scratch Ref) {
	uses := []Use{
		{Ref: accel, Stages: StageAccelBuild, Access: AccessAccelWrite},
		{Ref: scratch, Stages: StageAccelBuild, Access: AccessShaderWrite},
	}
	l.header(TagBuildAccel, 0, uses, 8, 0)
	l.u32(accel.Index)
	l.u32(scratch.Index)
	l.uses(uses)
}

// CopyAccel copies one acceleration structure into another.
func (l *List) CopyAccel(src, dst Ref) {
	uses := []Use{
		{Ref: src, Stages: StageAccelBuild, Access: AccessAccelRead},
		{Ref: dst, Stages: StageAccelBuild, Access: AccessAccelWrite},
	}
	l.header(TagCopyAccel, 0, uses, 8, 0)
	l.u32(src.Index)
	l.u32(dst.Index)
	l.uses(uses)
}

// TraceRays records a ray-tracing dispatch over a width x height x depth
// grid.
func (l *List) TraceRays(width, height, depth uint32, uses ...Use) {
	l.header(TagTraceRays, 0, uses, 12, 0)
	l.u32(width)
	l.u32(height)
	l.u32(depth)
	l.uses(uses)
}

// BeginLabel opens a debug label region. Labels must nest.
func (l *List) BeginLabel(name string) {
	l.header(TagBeginLabel, 0, nil, 0, len(name))
	l.buf = append(l.buf, name...)
}

// EndLabel closes the innermost open debug label region.
func (l *List) EndLabel() {
	l.header(TagEndLabel, 0, nil, 0, 0)
}

// InsertLabel records a single point label.
func (l *List) InsertLabel(name string) {
	l.header(TagInsertLabel, 0, nil, 0, len(name))
	l.buf = append(l.buf, name...)
}

// Callback records a host callback invoked when the walk reaches it.
// The func is kept in a side table; the record stores only its index.
func (l *List) Callback(fn func()) {
	l.header(TagCallback, 0, nil, 4, 0)
	l.u32(uint32(len(l.fns)))
	l.fns = append(l.fns, fn)
}
