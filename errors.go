package rhi

import "errors"

var (
	// ErrNeedsRecreate indicates the swapchain no longer matches the
	// surface and RecreateSwapchain must be called before the next frame.
	ErrNeedsRecreate = errors.New("rhi: swapchain needs recreation")

	// ErrClosed indicates the engine has been closed.
	ErrClosed = errors.New("rhi: engine is closed")

	// ErrStaleHandle indicates a handle whose resource was destroyed, or
	// one recycled for a newer resource.
	ErrStaleHandle = errors.New("rhi: stale resource handle")

	// ErrNoSwapchain indicates a frame operation was attempted before a
	// swapchain was configured.
	ErrNoSwapchain = errors.New("rhi: no swapchain configured")
)
