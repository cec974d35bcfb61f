package rhi

import (
	"strings"
	"testing"
	"time"

	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/cmds"
)

func TestDestroyIdleResourceIsImmediate(t *testing.T) {
	e, nb := newTestEngine(t, Config{})
	buf := testBuffer(t, e, "scratch")

	live := nb.LiveHandles()
	e.Destroy(buf)
	if got := nb.LiveHandles(); got != live-1 {
		t.Errorf("LiveHandles() = %d, want %d (immediate destroy)", got, live-1)
	}
	if e.IsReady(buf) {
		t.Error("IsReady() = true on destroyed handle")
	}
}

func TestDestroyStaleHandleIsNoop(t *testing.T) {
	e, nb := newTestEngine(t, Config{})
	buf := testBuffer(t, e, "once")
	e.Destroy(buf)

	live := nb.LiveHandles()
	e.Destroy(buf) // second destroy of the same handle
	e.Destroy(Handle{})
	if got := nb.LiveHandles(); got != live {
		t.Errorf("LiveHandles() = %d, want %d (stale destroy must not touch anything)", got, live)
	}
}

func TestHandleGoesStaleAfterSlotReuse(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	old := testBuffer(t, e, "first")
	e.Destroy(old)

	reused := testBuffer(t, e, "second")
	if old.Ref().Index != reused.Ref().Index {
		t.Skip("pool did not recycle the slot")
	}
	if e.IsReady(old) {
		t.Error("IsReady(old) = true after slot reuse, want false")
	}
	if !e.IsReady(reused) {
		t.Error("IsReady(reused) = false, want true")
	}
}

// The busy=2 scenario: a resource referenced by two in-flight frames
// must survive the first fence signal and be destroyed only after the
// second.
func TestDeferredDestroyAcrossTwoFences(t *testing.T) {
	e, nb := newTestEngine(t, Config{FrameLag: 2, Workers: 1})
	nb.SetManualFences(true)
	buf := testBuffer(t, e, "per-frame")

	submit := func() {
		f, err := e.AcquireFrame()
		if err != nil {
			t.Fatalf("AcquireFrame() error = %v", err)
		}
		f.Record(func(l *cmds.List) {
			l.FillBuffer(buf.Ref(), 0, 64, 0)
		})
		if err := e.SubmitFrame(f); err != nil {
			t.Fatalf("SubmitFrame() error = %v", err)
		}
	}
	submit()
	submit()

	live := nb.LiveHandles()
	e.Destroy(buf)
	if got := nb.LiveHandles(); got != live {
		t.Fatal("busy resource destroyed immediately")
	}
	if got := e.PendingDestroys(); got != 1 {
		t.Fatalf("PendingDestroys() = %d, want 1", got)
	}

	fences := nb.Fences()
	// Slot 0's fence was created first. Acquiring its slot observes the
	// signal and flushes its locked table; the empty submit advances the
	// ring to the next slot.
	fences[0].Signal()
	submitNext := func() {
		f, err := e.AcquireFrame()
		if err != nil {
			t.Fatalf("AcquireFrame() error = %v", err)
		}
		if err := e.SubmitFrame(f); err != nil {
			t.Fatalf("SubmitFrame() error = %v", err)
		}
	}
	submitNext()
	if got := nb.LiveHandles(); got != live {
		t.Error("resource destroyed after first fence, want still allocated")
	}

	fences[1].Signal()
	submitNext()
	if got := nb.LiveHandles(); got != live-1 {
		t.Error("resource still allocated after second fence, want destroyed")
	}
	if got := e.PendingDestroys(); got != 0 {
		t.Errorf("PendingDestroys() = %d, want 0", got)
	}
}

func TestBusyUnderflowPanics(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	buf := testBuffer(t, e, "counted")

	defer func() {
		if recover() == nil {
			t.Error("flushLocked() with uncounted decrement did not panic")
		}
	}()
	e.flushLocked(map[Handle]int{buf: 1})
}

func TestWaitIdleFlushesEverything(t *testing.T) {
	e, nb := newTestEngine(t, Config{FrameLag: 2, Workers: 1})
	nb.SetManualFences(true)
	buf := testBuffer(t, e, "transient")

	f, err := e.AcquireFrame()
	if err != nil {
		t.Fatalf("AcquireFrame() error = %v", err)
	}
	f.Record(func(l *cmds.List) {
		l.FillBuffer(buf.Ref(), 0, 64, 0)
	})
	if err := e.SubmitFrame(f); err != nil {
		t.Fatalf("SubmitFrame() error = %v", err)
	}
	e.Destroy(buf)
	if got := e.PendingDestroys(); got != 1 {
		t.Fatalf("PendingDestroys() = %d, want 1", got)
	}

	for _, fence := range nb.Fences() {
		fence.Signal()
	}
	if err := e.WaitIdle(); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}
	if got := e.PendingDestroys(); got != 0 {
		t.Errorf("PendingDestroys() after WaitIdle = %d, want 0", got)
	}
	if got := e.InFlightFrames(); got != 0 {
		t.Errorf("InFlightFrames() after WaitIdle = %d, want 0", got)
	}
}

// Same-frame pending destroys run in sorted handle order.
func TestWaitIdleHungFencePanics(t *testing.T) {
	e, nb := newTestEngine(t, Config{FrameLag: 2, Workers: 1, FenceTimeout: 10 * time.Millisecond})
	nb.SetManualFences(true)

	f, err := e.AcquireFrame()
	if err != nil {
		t.Fatalf("AcquireFrame() error = %v", err)
	}
	if err := e.SubmitFrame(f); err != nil {
		t.Fatalf("SubmitFrame() error = %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("WaitIdle() with an unsignaled fence did not panic")
		}
	}()
	e.WaitIdle()
}

func TestPendingDestroyOrderIsDeterministic(t *testing.T) {
	e, nb := newTestEngine(t, Config{FrameLag: 2, Workers: 1})
	nb.SetManualFences(true)

	var bufs []Handle
	for i := 0; i < 4; i++ {
		bufs = append(bufs, testBuffer(t, e, "ordered"))
	}

	f, err := e.AcquireFrame()
	if err != nil {
		t.Fatalf("AcquireFrame() error = %v", err)
	}
	f.Record(func(l *cmds.List) {
		for _, b := range bufs {
			l.FillBuffer(b.Ref(), 0, 16, 0)
		}
	})
	if err := e.SubmitFrame(f); err != nil {
		t.Fatalf("SubmitFrame() error = %v", err)
	}
	// Destroy in scrambled order.
	for _, i := range []int{2, 0, 3, 1} {
		e.Destroy(bufs[i])
	}

	for _, fence := range nb.Fences() {
		fence.Signal()
	}
	nb.ResetTrace()
	if err := e.WaitIdle(); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}

	var destroyed []string
	for _, c := range nb.Trace() {
		if strings.HasPrefix(c.Op, "destroy-buffer") {
			destroyed = append(destroyed, c.Detail)
		}
	}
	if len(destroyed) != 4 {
		t.Fatalf("destroyed %d buffers, want 4: %v", len(destroyed), destroyed)
	}
	for i := 1; i < len(destroyed); i++ {
		if destroyed[i-1] > destroyed[i] {
			t.Errorf("destruction order not sorted: %v", destroyed)
			break
		}
	}
}

func TestCloseReleasesLeakedResources(t *testing.T) {
	cfg := Config{Backend: backend.BackendNull, Swapchain: backend.SwapchainConfig{Width: 320, Height: 240}}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	nb := e.Backend().(*backend.Null)

	if _, err := e.CreateBuffer(backend.BufferDesc{Label: "leaked", Size: 64}); err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := nb.LiveHandles(); got != 0 {
		t.Errorf("LiveHandles() after Close = %d, want 0", got)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
