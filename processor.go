package rhi

import (
	"fmt"

	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/cmds"
)

// FrameStats is per-frame translation accounting, reset at submit.
type FrameStats struct {
	// Commands is the number of stream records translated.
	Commands int
	// Barriers is the number of barriers emitted.
	Barriers int
	// BarrierBatches is the number of bulk barrier submissions.
	BarrierBatches int
	// Secondaries is the number of secondary buffers stitched.
	Secondaries int
}

// processor translates one command stream into native calls on a command
// buffer, synchronizing each declared resource use before the command
// that makes it.
//
// A processor with synchronization disabled records into a secondary
// buffer on a worker thread: it translates and builds the locked table
// but never touches shared resource state. Barriers for those streams
// are centralized on the frame thread before the enclosing pass begins.
type processor struct {
	e           *Engine
	cb          backend.CommandBuffer
	syncOn      bool
	debugLabels bool

	labelDepth int
	inPass     bool

	// locked is the multiset of resources this buffer references,
	// merged into the frame slot's in-flight set at submission.
	locked map[Handle]int

	// uses accumulates declared accesses when synchronization is off,
	// for the frame thread's pre-pass barrier step.
	uses []cmds.Use

	barriers []backend.Barrier
	stats    *FrameStats
}

var _ cmds.Handler = (*processor)(nil)

func newProcessor(e *Engine, cb backend.CommandBuffer, syncOn bool, stats *FrameStats) *processor {
	return &processor{
		e:           e,
		cb:          cb,
		syncOn:      syncOn,
		debugLabels: e.cfg.DebugLabels,
		locked:      make(map[Handle]int),
		stats:       stats,
	}
}

// run walks the stream into the command buffer. Unmatched debug labels
// at the end of the stream abort.
func (p *processor) run(l *cmds.List) {
	l.Walk(p)
	if p.labelDepth != 0 {
		panic(fmt.Sprintf("rhi: %d debug label(s) left open at end of stream", p.labelDepth))
	}
}

// lock resolves a stream reference and counts it into the locked table.
func (p *processor) lock(ref cmds.Ref) *resource {
	h, r := p.e.resolve(ref)
	p.locked[h]++
	return r
}

// syncUses applies the barrier rule to each declared use. A barrier is
// required when the layout must change, when the previous access wrote,
// or when the stages differ from the previous (read-only) access. The
// recorded state advances whether or not a barrier was emitted.
func (p *processor) syncUses(uses []cmds.Use) {
	for _, u := range uses {
		h, r := p.e.resolve(u.Ref)
		p.locked[h]++
		if !p.syncOn {
			p.uses = append(p.uses, u)
			continue
		}
		old := r.state
		switch {
		case u.Layout != old.layout, old.access.IsWrite(), u.Stages != old.stages:
			b := backend.Barrier{
				SrcStages: old.stages,
				SrcAccess: old.access,
				DstStages: u.Stages,
				DstAccess: u.Access,
			}
			if u.Ref.Kind == cmds.KindImage || u.Ref.Kind == cmds.KindImageView {
				b.Image = r.native
				b.OldLayout = old.layout
				b.NewLayout = u.Layout
			} else {
				b.Buffer = r.native
			}
			p.barriers = append(p.barriers, b)
		}
		r.state = resourceState{stages: u.Stages, access: u.Access, layout: u.Layout}
	}
}

// flushBarriers emits the batched barriers of one command.
func (p *processor) flushBarriers() {
	if len(p.barriers) == 0 {
		return
	}
	p.cb.Barriers(p.barriers)
	p.stats.Barriers += len(p.barriers)
	p.stats.BarrierBatches++
	p.barriers = p.barriers[:0]
}

func (p *processor) sync(uses []cmds.Use) {
	p.syncUses(uses)
	p.flushBarriers()
}

func (p *processor) BindPipeline(c cmds.BindPipeline) {
	r := p.lock(c.Pipeline)
	p.cb.BindPipeline(r.native)
	p.stats.Commands++
}

func (p *processor) BindSet(c cmds.BindSet) {
	p.sync(c.Uses)
	r := p.lock(c.Set)
	p.cb.BindSet(c.Slot, r.native)
	p.stats.Commands++
}

func (p *processor) PushConstants(c cmds.PushConstants) {
	p.cb.PushConstants(c.Offset, c.Data)
	p.stats.Commands++
}

func (p *processor) SetViewport(c cmds.SetViewport) {
	p.cb.SetViewport(c.X, c.Y, c.Width, c.Height, c.MinDepth, c.MaxDepth)
	p.stats.Commands++
}

func (p *processor) SetScissor(c cmds.SetScissor) {
	p.cb.SetScissor(c.X, c.Y, c.Width, c.Height)
	p.stats.Commands++
}

func (p *processor) Draw(c cmds.Draw) {
	p.cb.Draw(c.VertexCount, c.InstanceCount, c.FirstVertex, c.FirstInstance)
	p.stats.Commands++
}

func (p *processor) DrawIndexed(c cmds.DrawIndexed) {
	p.cb.DrawIndexed(c.IndexCount, c.InstanceCount, c.FirstIndex, c.VertexOffset, c.FirstInstance)
	p.stats.Commands++
}

func (p *processor) Dispatch(c cmds.Dispatch) {
	p.sync(c.Uses)
	p.cb.Dispatch(c.X, c.Y, c.Z)
	p.stats.Commands++
}

func (p *processor) CopyBuffer(c cmds.CopyBuffer) {
	p.sync(c.Uses)
	src := p.lock(c.Src)
	dst := p.lock(c.Dst)
	p.cb.CopyBuffer(src.native, dst.native, c.SrcOff, c.DstOff, c.Length)
	p.stats.Commands++
}

func (p *processor) CopyImage(c cmds.CopyImage) {
	p.sync(c.Uses)
	src := p.lock(c.Src)
	dst := p.lock(c.Dst)
	p.cb.CopyImage(src.native, dst.native, c.SrcOrigin, c.DstOrigin, c.Extent)
	p.stats.Commands++
}

func (p *processor) CopyBufferToImage(c cmds.CopyBufferToImage) {
	p.sync(c.Uses)
	buf := p.lock(c.Buf)
	img := p.lock(c.Img)
	p.cb.CopyBufferToImage(buf.native, img.native, c.Layout, c.Origin, c.Extent)
	p.stats.Commands++
}

func (p *processor) CopyImageToBuffer(c cmds.CopyImageToBuffer) {
	p.sync(c.Uses)
	img := p.lock(c.Img)
	buf := p.lock(c.Buf)
	p.cb.CopyImageToBuffer(img.native, buf.native, c.Layout, c.Origin, c.Extent)
	p.stats.Commands++
}

func (p *processor) ClearColorImage(c cmds.ClearColorImage) {
	p.sync(c.Uses)
	img := p.lock(c.Img)
	p.cb.ClearColorImage(img.native, c.Color, c.BaseMip, c.MipCount, c.BaseLayer, c.LayerCount)
	p.stats.Commands++
}

func (p *processor) FillBuffer(c cmds.FillBuffer) {
	p.sync(c.Uses)
	buf := p.lock(c.Buf)
	p.cb.FillBuffer(buf.native, c.Offset, c.Size, c.Value)
	p.stats.Commands++
}

func (p *processor) BeginPass(c cmds.BeginPass) {
	if p.inPass {
		panic("rhi: begin pass inside an open render pass")
	}
	// For a parallel pass c.Uses carries every access declared in the
	// worker streams, so all their barriers land here, before fan-in.
	p.sync(c.Uses)
	fb := p.lock(c.Framebuffer)
	p.cb.BeginPass(fb.native, c.Clears, c.Parallel)
	p.inPass = true
	p.stats.Commands++
}

func (p *processor) NextSubpass() {
	if !p.inPass {
		panic("rhi: next subpass outside a render pass")
	}
	p.cb.NextSubpass()
	p.stats.Commands++
}

func (p *processor) EndPass() {
	if !p.inPass {
		panic("rhi: end pass outside a render pass")
	}
	p.cb.EndPass()
	p.inPass = false
	p.stats.Commands++
}

func (p *processor) BuildAccel(c cmds.BuildAccel) {
	p.sync(c.Uses)
	accel := p.lock(c.Accel)
	scratch := p.lock(c.Scratch)
	p.cb.BuildAccel(accel.native, scratch.native)
	p.stats.Commands++
}

func (p *processor) CopyAccel(c cmds.CopyAccel) {
	p.sync(c.Uses)
	src := p.lock(c.Src)
	dst := p.lock(c.Dst)
	p.cb.CopyAccel(src.native, dst.native)
	p.stats.Commands++
}

func (p *processor) TraceRays(c cmds.TraceRays) {
	p.sync(c.Uses)
	p.cb.TraceRays(c.Width, c.Height, c.Depth)
	p.stats.Commands++
}

func (p *processor) BeginLabel(name string) {
	p.labelDepth++
	if p.debugLabels {
		p.cb.BeginLabel(name)
	}
	p.stats.Commands++
}

func (p *processor) EndLabel() {
	p.labelDepth--
	if p.labelDepth < 0 {
		panic("rhi: unmatched debug label end")
	}
	if p.debugLabels {
		p.cb.EndLabel()
	}
	p.stats.Commands++
}

func (p *processor) InsertLabel(name string) {
	if p.debugLabels {
		p.cb.InsertLabel(name)
	}
	p.stats.Commands++
}

func (p *processor) Callback(fn func()) {
	fn()
	p.stats.Commands++
}
