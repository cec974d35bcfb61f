package rhi

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/cmds"
)

func TestAcquireSubmitPresentRoundTrip(t *testing.T) {
	e, nb := newTestEngine(t, Config{Workers: 2})
	img := testImage(t, e, "offscreen")

	f, err := e.AcquireFrame()
	if err != nil {
		t.Fatalf("AcquireFrame() error = %v", err)
	}
	if f.Index() != 0 {
		t.Errorf("Index() = %d, want 0", f.Index())
	}

	f.Record(func(l *cmds.List) {
		l.ClearColorImage(img.Ref(), backendClearRed, 0, 1, 0, 1)
	})
	if err := e.SubmitFrame(f); err != nil {
		t.Fatalf("SubmitFrame() error = %v", err)
	}
	ok, err := e.PresentFrame(f)
	if err != nil {
		t.Fatalf("PresentFrame() error = %v", err)
	}
	if !ok {
		t.Error("PresentFrame() = false, want true")
	}
	if got := e.FrameIndex(); got != 1 {
		t.Errorf("FrameIndex() = %d, want 1", got)
	}

	got := opSeq(nb.Trace(), "submit", "clear-color-image", "present")
	want := []string{"submit", "clear-color-image", "present"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("trace ops = %v, want %v", got, want)
		}
	}
}

func TestSubmitTwicePanics(t *testing.T) {
	e, _ := newTestEngine(t, Config{Workers: 1})
	f, err := e.AcquireFrame()
	if err != nil {
		t.Fatalf("AcquireFrame() error = %v", err)
	}
	if err := e.SubmitFrame(f); err != nil {
		t.Fatalf("SubmitFrame() error = %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Error("second SubmitFrame() did not panic")
		}
	}()
	_ = e.SubmitFrame(f)
}

// The number of slots in flight never exceeds the configured frame lag.
func TestFrameLagBound(t *testing.T) {
	e, nb := newTestEngine(t, Config{FrameLag: 2, Workers: 1})
	nb.SetManualFences(true)

	for i := 0; i < 2; i++ {
		f, err := e.AcquireFrame()
		if err != nil {
			t.Fatalf("AcquireFrame() error = %v", err)
		}
		if err := e.SubmitFrame(f); err != nil {
			t.Fatalf("SubmitFrame() error = %v", err)
		}
	}
	if got := e.InFlightFrames(); got != 2 {
		t.Fatalf("InFlightFrames() = %d, want 2", got)
	}

	// The third frame reuses slot 0 and must wait for its fence; once it
	// signals, in-flight count stays within the lag.
	nb.Fences()[0].Signal()
	f, err := e.AcquireFrame()
	if err != nil {
		t.Fatalf("AcquireFrame() error = %v", err)
	}
	if got := e.InFlightFrames(); got != 1 {
		t.Errorf("InFlightFrames() after reuse = %d, want 1", got)
	}
	if err := e.SubmitFrame(f); err != nil {
		t.Fatalf("SubmitFrame() error = %v", err)
	}
	if got := e.InFlightFrames(); got != 2 {
		t.Errorf("InFlightFrames() = %d, want 2 (never above lag)", got)
	}
}

// Secondaries stitch in ascending worker order no matter which worker
// finishes first, and non-contributing workers are skipped.
func TestParallelStitchOrderDeterministic(t *testing.T) {
	e, nb := newTestEngine(t, Config{Workers: 4})
	fb, err := e.CreateFramebuffer(backend.FramebufferDesc{Label: "main", Width: 640, Height: 480, Layers: 1})
	if err != nil {
		t.Fatalf("CreateFramebuffer() error = %v", err)
	}

	f, err := e.AcquireFrame()
	if err != nil {
		t.Fatalf("AcquireFrame() error = %v", err)
	}
	err = f.RecordPassParallel("main", fb, nil, func(worker int, l *cmds.List) {
		// Later workers finish first; stitching must not care.
		time.Sleep(time.Duration(3-worker) * 2 * time.Millisecond)
		if worker == 1 || worker == 3 {
			l.Draw(uint32(worker+1), 1, 0, 0)
		}
	})
	if err != nil {
		t.Fatalf("RecordPassParallel() error = %v", err)
	}
	if err := e.SubmitFrame(f); err != nil {
		t.Fatalf("SubmitFrame() error = %v", err)
	}

	var draws []string
	for _, c := range nb.Trace() {
		if c.Op == "draw" {
			draws = append(draws, c.Detail)
		}
	}
	want := []string{"verts=2 insts=1", "verts=4 insts=1"}
	if len(draws) != len(want) {
		t.Fatalf("spliced draws = %v, want %v", draws, want)
	}
	for i := range want {
		if draws[i] != want[i] {
			t.Errorf("spliced draws = %v, want %v (ascending worker order)", draws, want)
			break
		}
	}
	if got := e.Stats().Secondaries; got != 2 {
		t.Errorf("Stats().Secondaries = %d, want 2", got)
	}
}

// Every use declared inside worker streams is synchronized before the
// pass begins; the secondaries themselves carry no barriers.
func TestParallelPassBarriersPrecedePass(t *testing.T) {
	e, nb := newTestEngine(t, Config{Workers: 2})
	fb, err := e.CreateFramebuffer(backend.FramebufferDesc{Label: "lit", Width: 640, Height: 480, Layers: 1})
	if err != nil {
		t.Fatalf("CreateFramebuffer() error = %v", err)
	}
	set, err := e.CreateSet(backend.SetDesc{Label: "materials"})
	if err != nil {
		t.Fatalf("CreateSet() error = %v", err)
	}
	tex := testImage(t, e, "albedo")

	f, err := e.AcquireFrame()
	if err != nil {
		t.Fatalf("AcquireFrame() error = %v", err)
	}
	err = f.RecordPassParallel("lit", fb, nil, func(worker int, l *cmds.List) {
		if worker != 0 {
			return
		}
		l.BindSet(0, set.Ref(), readUse(tex))
		l.Draw(3, 1, 0, 0)
	})
	if err != nil {
		t.Fatalf("RecordPassParallel() error = %v", err)
	}
	if err := e.SubmitFrame(f); err != nil {
		t.Fatalf("SubmitFrame() error = %v", err)
	}

	trace := nb.Trace()
	barrier, pass := -1, -1
	for i, c := range trace {
		switch c.Op {
		case "barrier":
			if barrier < 0 {
				barrier = i
			}
		case "begin-pass":
			pass = i
		}
	}
	if barrier < 0 || pass < 0 {
		t.Fatalf("trace missing barrier (%d) or begin-pass (%d)", barrier, pass)
	}
	if barrier > pass {
		t.Errorf("first barrier at %d after begin-pass at %d, want before", barrier, pass)
	}
	for _, c := range trace[pass:] {
		if c.Op == "barrier" {
			t.Error("barrier recorded inside the pass, want all before it")
			break
		}
	}
}

func TestAcquireOutOfDateNeedsRecreate(t *testing.T) {
	e, nb := newTestEngine(t, Config{Workers: 1})
	nb.FailNextAcquire(1)

	if _, err := e.AcquireFrame(); !errors.Is(err, ErrNeedsRecreate) {
		t.Fatalf("AcquireFrame() error = %v, want ErrNeedsRecreate", err)
	}
	if err := e.RecreateSwapchain(640, 480, false, false); err != nil {
		t.Fatalf("RecreateSwapchain() error = %v", err)
	}
	if _, err := e.AcquireFrame(); err != nil {
		t.Errorf("AcquireFrame() after recreation error = %v", err)
	}
}

func TestPresentOutOfDateReturnsFalse(t *testing.T) {
	e, nb := newTestEngine(t, Config{Workers: 1})

	f, err := e.AcquireFrame()
	if err != nil {
		t.Fatalf("AcquireFrame() error = %v", err)
	}
	if err := e.SubmitFrame(f); err != nil {
		t.Fatalf("SubmitFrame() error = %v", err)
	}
	nb.FailNextPresent(1)
	ok, err := e.PresentFrame(f)
	if err != nil {
		t.Fatalf("PresentFrame() error = %v", err)
	}
	if ok {
		t.Error("PresentFrame() = true, want false on out-of-date surface")
	}
}

// Recreating with identical parameters yields a working pipeline and
// preserves the frame index counter.
func TestRecreationIdempotence(t *testing.T) {
	e, _ := newTestEngine(t, Config{Workers: 1})

	for i := 0; i < 3; i++ {
		f, err := e.AcquireFrame()
		if err != nil {
			t.Fatalf("AcquireFrame() error = %v", err)
		}
		if err := e.SubmitFrame(f); err != nil {
			t.Fatalf("SubmitFrame() error = %v", err)
		}
	}
	before := e.FrameIndex()

	if err := e.RecreateSwapchain(640, 480, false, false); err != nil {
		t.Fatalf("RecreateSwapchain() error = %v", err)
	}
	if got := e.FrameIndex(); got != before {
		t.Errorf("FrameIndex() after recreation = %d, want %d", got, before)
	}

	f, err := e.AcquireFrame()
	if err != nil {
		t.Fatalf("AcquireFrame() after recreation error = %v", err)
	}
	if got := f.Index(); got != before {
		t.Errorf("frame Index() = %d, want %d", got, before)
	}
	if err := e.SubmitFrame(f); err != nil {
		t.Fatalf("SubmitFrame() after recreation error = %v", err)
	}
}

func TestRecreateChangesImageCount(t *testing.T) {
	e, _ := newTestEngine(t, Config{Workers: 1})
	if err := e.RecreateSwapchain(800, 600, true, true); err != nil {
		t.Fatalf("RecreateSwapchain() error = %v", err)
	}
	f, err := e.AcquireFrame()
	if err != nil {
		t.Fatalf("AcquireFrame() error = %v", err)
	}
	if f.Image() == 0 {
		t.Error("Image() = 0, want a live swapchain image handle")
	}
	if err := e.SubmitFrame(f); err != nil {
		t.Fatalf("SubmitFrame() error = %v", err)
	}
}

func TestHeadlessEngineNeedsSwapchain(t *testing.T) {
	e, err := New(Config{Backend: backend.BackendNull, Workers: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer e.Close()

	if _, err := e.AcquireFrame(); !errors.Is(err, ErrNoSwapchain) {
		t.Errorf("AcquireFrame() error = %v, want ErrNoSwapchain", err)
	}
	if err := e.RecreateSwapchain(320, 240, false, false); err != nil {
		t.Fatalf("RecreateSwapchain() error = %v", err)
	}
	if _, err := e.AcquireFrame(); err != nil {
		t.Errorf("AcquireFrame() error = %v", err)
	}
}

func TestFrameStatsPopulated(t *testing.T) {
	e, _ := newTestEngine(t, Config{Workers: 1})
	img := testImage(t, e, "counted")

	f, err := e.AcquireFrame()
	if err != nil {
		t.Fatalf("AcquireFrame() error = %v", err)
	}
	f.Record(func(l *cmds.List) {
		l.ClearColorImage(img.Ref(), backendClearRed, 0, 1, 0, 1)
	})
	if err := e.SubmitFrame(f); err != nil {
		t.Fatalf("SubmitFrame() error = %v", err)
	}

	stats := e.Stats()
	if stats.Commands != 1 {
		t.Errorf("Stats().Commands = %d, want 1", stats.Commands)
	}
	if stats.Barriers != 1 {
		t.Errorf("Stats().Barriers = %d, want 1 (undefined -> transfer-dst)", stats.Barriers)
	}
}

// Command pool resets fan out across the worker pool on acquire.
func TestAcquireResetsWorkerPools(t *testing.T) {
	e, nb := newTestEngine(t, Config{Workers: 3})

	nb.ResetTrace()
	if _, err := e.AcquireFrame(); err != nil {
		t.Fatalf("AcquireFrame() error = %v", err)
	}
	resets := 0
	for _, c := range nb.Trace() {
		if strings.HasPrefix(c.Op, "pool-reset") {
			resets++
		}
	}
	// Three worker pools plus the primary pool.
	if resets != 4 {
		t.Errorf("pool resets = %d, want 4", resets)
	}
}

func TestCloseStopsWorkers(t *testing.T) {
	e, _ := newTestEngine(t, Config{Workers: 2})
	fb, err := e.CreateFramebuffer(backend.FramebufferDesc{Label: "main", Width: 640, Height: 480, Layers: 1})
	if err != nil {
		t.Fatalf("CreateFramebuffer() error = %v", err)
	}

	f, err := e.AcquireFrame()
	if err != nil {
		t.Fatalf("AcquireFrame() error = %v", err)
	}
	err = f.RecordPassParallel("main", fb, nil, func(worker int, l *cmds.List) {
		l.Draw(3, 1, 0, 0)
	})
	if err != nil {
		t.Fatalf("RecordPassParallel() error = %v", err)
	}
	if err := e.SubmitFrame(f); err != nil {
		t.Fatalf("SubmitFrame() error = %v", err)
	}

	// Close must terminate the recording workers and leave the engine
	// rejecting further frames.
	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := e.AcquireFrame(); !errors.Is(err, ErrClosed) {
		t.Errorf("AcquireFrame() after Close error = %v, want ErrClosed", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
