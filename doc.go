// Package rhi provides a GPU command-recording and resource-synchronization
// engine for real-time renderers.
//
// # Overview
//
// rhi sits between renderer code and a native graphics API. Callers record
// work (draws, dispatches, copies) into a backend-agnostic command stream;
// the engine translates that stream into native calls, automatically
// inserting the memory and layout barriers that make every access safe,
// fans recording out across worker threads, and tracks resource lifetime so
// nothing is destroyed while the GPU may still be using it.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/rhi"
//	    "github.com/gogpu/rhi/backend"
//	    "github.com/gogpu/rhi/cmds"
//	)
//
//	eng, err := rhi.New(rhi.Config{
//	    Swapchain: backend.SwapchainConfig{Width: 1280, Height: 720, VSync: true},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
//	for running {
//	    frame, err := eng.AcquireFrame()
//	    if errors.Is(err, rhi.ErrNeedsRecreate) {
//	        eng.RecreateSwapchain(width, height, true, false)
//	        continue
//	    }
//	    frame.RecordPass(fb, clears, uses, func(l *cmds.List) {
//	        l.BindPipeline(pipeline.Ref())
//	        l.Draw(3, 1, 0, 0)
//	    })
//	    eng.SubmitFrame(frame)
//	    if ok, _ := eng.PresentFrame(frame); !ok {
//	        eng.RecreateSwapchain(width, height, true, false)
//	    }
//	}
//
// # Architecture
//
// The module is organized into:
//   - rhi: engine facade, resource pools, lifetime tracking, the barrier
//     state machine and the frame/swapchain pipeline
//   - rhi/cmds: the backend-agnostic command stream
//   - rhi/backend: the native backend interface, a registry, and a headless
//     trace backend for tests
//
// Backends register themselves on import; the built-in "null" backend runs
// everywhere and records a call trace instead of driving a GPU.
package rhi
