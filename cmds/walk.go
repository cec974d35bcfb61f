package cmds

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi/internal/util"
)

// Handler receives decoded commands during a Walk, one method per tag.
// The command processor in the parent package is the canonical Handler.
type Handler interface {
	BindPipeline(BindPipeline)
	BindSet(BindSet)
	PushConstants(PushConstants)
	SetViewport(SetViewport)
	SetScissor(SetScissor)
	Draw(Draw)
	DrawIndexed(DrawIndexed)
	Dispatch(Dispatch)
	CopyBuffer(CopyBuffer)
	CopyImage(CopyImage)
	CopyBufferToImage(CopyBufferToImage)
	CopyImageToBuffer(CopyImageToBuffer)
	ClearColorImage(ClearColorImage)
	FillBuffer(FillBuffer)
	BeginPass(BeginPass)
	NextSubpass()
	EndPass()
	BuildAccel(BuildAccel)
	CopyAccel(CopyAccel)
	TraceRays(TraceRays)
	BeginLabel(name string)
	EndLabel()
	InsertLabel(name string)
	Callback(fn func())
}

// Decoded command records.
type (
	// BindPipeline binds a pipeline.
	BindPipeline struct {
		Pipeline Ref
	}

	// BindSet binds a resource set with its declared member accesses.
	BindSet struct {
		Slot uint32
		Set  Ref
		Uses []Use
	}

	// PushConstants updates inline constants. Data aliases the stream
	// buffer and is only valid for the duration of the handler call.
	PushConstants struct {
		Offset uint32
		Data   []byte
	}

	// SetViewport sets the viewport transform.
	SetViewport struct {
		X, Y, Width, Height, MinDepth, MaxDepth float32
	}

	// SetScissor sets the scissor rectangle.
	SetScissor struct {
		X, Y, Width, Height uint32
	}

	// Draw is a non-indexed draw.
	Draw struct {
		VertexCount, InstanceCount, FirstVertex, FirstInstance uint32
	}

	// DrawIndexed is an indexed draw.
	DrawIndexed struct {
		IndexCount, InstanceCount, FirstIndex uint32
		VertexOffset                          int32
		FirstInstance                         uint32
	}

	// Dispatch is a compute dispatch.
	Dispatch struct {
		X, Y, Z uint32
		Uses    []Use
	}

	// CopyBuffer copies between buffers.
	CopyBuffer struct {
		Src, Dst               Ref
		SrcOff, DstOff, Length uint64
		Uses                   []Use
	}

	// CopyImage copies between images.
	CopyImage struct {
		Src, Dst             Ref
		SrcOrigin, DstOrigin gputypes.Origin3D
		Extent               gputypes.Extent3D
		Uses                 []Use
	}

	// CopyBufferToImage copies buffer data into an image.
	CopyBufferToImage struct {
		Buf, Img Ref
		Layout   gputypes.TextureDataLayout
		Origin   gputypes.Origin3D
		Extent   gputypes.Extent3D
		Uses     []Use
	}

	// CopyImageToBuffer copies an image region into a buffer.
	CopyImageToBuffer struct {
		Img, Buf Ref
		Layout   gputypes.TextureDataLayout
		Origin   gputypes.Origin3D
		Extent   gputypes.Extent3D
		Uses     []Use
	}

	// ClearColorImage clears a color image subresource range.
	ClearColorImage struct {
		Img                                      Ref
		Color                                    gputypes.Color
		BaseMip, MipCount, BaseLayer, LayerCount uint32
		Uses                                     []Use
	}

	// FillBuffer fills a buffer range with a value.
	FillBuffer struct {
		Buf          Ref
		Value        uint32
		Offset, Size uint64
		Uses         []Use
	}

	// BeginPass begins a render pass.
	BeginPass struct {
		Framebuffer Ref
		Parallel    bool
		Clears      []ClearValue
		Uses        []Use
	}

	// BuildAccel builds an acceleration structure.
	BuildAccel struct {
		Accel, Scratch Ref
		Uses           []Use
	}

	// CopyAccel copies an acceleration structure.
	CopyAccel struct {
		Src, Dst Ref
		Uses     []Use
	}

	// TraceRays dispatches ray tracing work.
	TraceRays struct {
		Width, Height, Depth uint32
		Uses                 []Use
	}
)

// reader decodes one record body. Reads past the record end indicate a
// corrupt stream and abort.
type reader struct {
	buf []byte
	off int
}

func (r *reader) need(n int) []byte {
	if r.off+n > len(r.buf) {
		panic(fmt.Sprintf("cmds: corrupt stream: read of %d bytes past record end", n))
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u32() uint32  { return binary.LittleEndian.Uint32(r.need(4)) }
func (r *reader) u64() uint64  { return binary.LittleEndian.Uint64(r.need(8)) }
func (r *reader) f32() float32 { return math.Float32frombits(r.u32()) }
func (r *reader) f64() float64 { return math.Float64frombits(r.u64()) }
func (r *reader) rest() []byte { return r.need(len(r.buf) - r.off) }

func (r *reader) uses(n int) []Use {
	if n == 0 {
		return nil
	}
	us := make([]Use, n)
	for i := range us {
		b := r.need(useSize)
		us[i] = Use{
			Ref:    Ref{Kind: Kind(b[0]), Index: binary.LittleEndian.Uint32(b[4:])},
			Layout: Layout(b[1]),
			Stages: Stage(binary.LittleEndian.Uint32(b[8:])),
			Access: Access(binary.LittleEndian.Uint32(b[12:])),
		}
	}
	return us
}

func (r *reader) color() gputypes.Color {
	return gputypes.Color{R: r.f64(), G: r.f64(), B: r.f64(), A: r.f64()}
}

func (r *reader) origin() gputypes.Origin3D {
	return gputypes.Origin3D{X: r.u32(), Y: r.u32(), Z: r.u32()}
}

func (r *reader) extent() gputypes.Extent3D {
	return gputypes.Extent3D{Width: r.u32(), Height: r.u32(), DepthOrArrayLayers: r.u32()}
}

func (r *reader) dataLayout() gputypes.TextureDataLayout {
	return gputypes.TextureDataLayout{Offset: r.u64(), BytesPerRow: r.u32(), RowsPerImage: r.u32()}
}

// Walk decodes the stream front to back, dispatching each record to h in
// append order. The stream must not be recorded into while a walk is in
// progress. A truncated record or an out-of-set tag aborts: both mean the
// buffer is corrupt, which is never recoverable.
func (l *List) Walk(h Handler) {
	off := 0
	for off < len(l.buf) {
		if len(l.buf)-off < recHeaderSize {
			panic("cmds: corrupt stream: truncated record header")
		}
		tag := Tag(l.buf[off])
		flags := l.buf[off+1]
		useCount := int(binary.LittleEndian.Uint16(l.buf[off+2:]))
		size := int(binary.LittleEndian.Uint32(l.buf[off+4:]))
		if size < recHeaderSize || off+size > len(l.buf) {
			panic(fmt.Sprintf("cmds: corrupt stream: record size %d at offset %d", size, off))
		}
		r := reader{buf: l.buf[off+recHeaderSize : off+size]}

		switch tag {
		case TagBindPipeline:
			h.BindPipeline(BindPipeline{Pipeline: Ref{Kind: KindPipeline, Index: r.u32()}})
		case TagBindSet:
			slot := r.u32()
			set := Ref{Kind: KindSet, Index: r.u32()}
			h.BindSet(BindSet{Slot: slot, Set: set, Uses: r.uses(useCount)})
		case TagPushConstants:
			pcOff := r.u32()
			h.PushConstants(PushConstants{Offset: pcOff, Data: r.rest()})
		case TagSetViewport:
			h.SetViewport(SetViewport{
				X: r.f32(), Y: r.f32(), Width: r.f32(), Height: r.f32(),
				MinDepth: r.f32(), MaxDepth: r.f32(),
			})
		case TagSetScissor:
			h.SetScissor(SetScissor{X: r.u32(), Y: r.u32(), Width: r.u32(), Height: r.u32()})
		case TagDraw:
			h.Draw(Draw{
				VertexCount: r.u32(), InstanceCount: r.u32(),
				FirstVertex: r.u32(), FirstInstance: r.u32(),
			})
		case TagDrawIndexed:
			h.DrawIndexed(DrawIndexed{
				IndexCount: r.u32(), InstanceCount: r.u32(), FirstIndex: r.u32(),
				VertexOffset: int32(r.u32()), FirstInstance: r.u32(),
			})
		case TagDispatch:
			h.Dispatch(Dispatch{X: r.u32(), Y: r.u32(), Z: r.u32(), Uses: r.uses(useCount)})
		case TagCopyBuffer:
			src := Ref{Kind: KindBuffer, Index: r.u32()}
			dst := Ref{Kind: KindBuffer, Index: r.u32()}
			h.CopyBuffer(CopyBuffer{
				Src: src, Dst: dst,
				SrcOff: r.u64(), DstOff: r.u64(), Length: r.u64(),
				Uses: r.uses(useCount),
			})
		case TagCopyImage:
			src := Ref{Kind: KindImage, Index: r.u32()}
			dst := Ref{Kind: KindImage, Index: r.u32()}
			h.CopyImage(CopyImage{
				Src: src, Dst: dst,
				SrcOrigin: r.origin(), DstOrigin: r.origin(), Extent: r.extent(),
				Uses: r.uses(useCount),
			})
		case TagCopyBufferToImage:
			buf := Ref{Kind: KindBuffer, Index: r.u32()}
			img := Ref{Kind: KindImage, Index: r.u32()}
			h.CopyBufferToImage(CopyBufferToImage{
				Buf: buf, Img: img,
				Layout: r.dataLayout(), Origin: r.origin(), Extent: r.extent(),
				Uses: r.uses(useCount),
			})
		case TagCopyImageToBuffer:
			img := Ref{Kind: KindImage, Index: r.u32()}
			buf := Ref{Kind: KindBuffer, Index: r.u32()}
			h.CopyImageToBuffer(CopyImageToBuffer{
				Img: img, Buf: buf,
				Layout: r.dataLayout(), Origin: r.origin(), Extent: r.extent(),
				Uses: r.uses(useCount),
			})
		case TagClearColorImage:
			img := Ref{Kind: KindImage, Index: r.u32()}
			h.ClearColorImage(ClearColorImage{
				Img: img, Color: r.color(),
				BaseMip: r.u32(), MipCount: r.u32(), BaseLayer: r.u32(), LayerCount: r.u32(),
				Uses: r.uses(useCount),
			})
		case TagFillBuffer:
			buf := Ref{Kind: KindBuffer, Index: r.u32()}
			h.FillBuffer(FillBuffer{
				Buf: buf, Value: r.u32(), Offset: r.u64(), Size: r.u64(),
				Uses: r.uses(useCount),
			})
		case TagBeginPass:
			fb := Ref{Kind: KindFramebuffer, Index: r.u32()}
			uses := r.uses(useCount)
			tail := r.rest()
			clears := make([]ClearValue, 0, len(tail)/clearValueSize)
			cr := reader{buf: tail}
			for cr.off < len(cr.buf) {
				clears = append(clears, ClearValue{Color: cr.color(), Depth: cr.f32(), Stencil: cr.u32()})
			}
			h.BeginPass(BeginPass{
				Framebuffer: fb,
				Parallel:    util.HasBits(flags, uint8(flagParallel)),
				Clears:      clears,
				Uses:        uses,
			})
		case TagNextSubpass:
			h.NextSubpass()
		case TagEndPass:
			h.EndPass()
		case TagBuildAccel:
			accel := Ref{Kind: KindAccel, Index: r.u32()}
			scratch := Ref{Kind: KindBuffer, Index: r.u32()}
			h.BuildAccel(BuildAccel{Accel: accel, Scratch: scratch, Uses: r.uses(useCount)})
		case TagCopyAccel:
			src := Ref{Kind: KindAccel, Index: r.u32()}
			dst := Ref{Kind: KindAccel, Index: r.u32()}
			h.CopyAccel(CopyAccel{Src: src, Dst: dst, Uses: r.uses(useCount)})
		case TagTraceRays:
			h.TraceRays(TraceRays{Width: r.u32(), Height: r.u32(), Depth: r.u32(), Uses: r.uses(useCount)})
		case TagBeginLabel:
			h.BeginLabel(string(r.rest()))
		case TagEndLabel:
			h.EndLabel()
		case TagInsertLabel:
			h.InsertLabel(string(r.rest()))
		case TagCallback:
			idx := r.u32()
			if int(idx) >= len(l.fns) {
				panic(fmt.Sprintf("cmds: corrupt stream: callback index %d out of range", idx))
			}
			h.Callback(l.fns[idx])
		default:
			panic(fmt.Sprintf("cmds: corrupt stream: unknown command tag %d at offset %d", tag, off))
		}

		off += size
	}
}
