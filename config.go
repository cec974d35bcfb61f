package rhi

import (
	"runtime"
	"time"

	"github.com/gogpu/rhi/backend"
)

// Config configures a new Engine. The zero value selects the best
// registered backend, two frames in flight, and one recording worker
// per spare CPU.
type Config struct {
	// Backend names a registered backend ("vulkan", "null"). Empty
	// selects the highest-priority available backend.
	Backend string

	// Device supplies the host-owned device state the backend opens
	// against. Headless backends ignore it.
	Device backend.DeviceHandle

	// FrameLag is the number of frames that may be in flight at once.
	// Fixed for the engine's lifetime.
	FrameLag int

	// Workers is the number of goroutines used for parallel pass
	// recording and command pool resets.
	Workers int

	// DebugLabels forwards Begin/End/InsertLabel commands to the
	// backend. When false they are validated and dropped.
	DebugLabels bool

	// FenceTimeout bounds any single frame-fence wait. Exceeding it is
	// treated as a hung GPU and panics.
	FenceTimeout time.Duration

	// Swapchain configures the presentation surface. A zero Width or
	// Height leaves the engine headless until RecreateSwapchain.
	Swapchain backend.SwapchainConfig
}

const (
	defaultFrameLag     = 2
	defaultFenceTimeout = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Device == nil {
		c.Device = backend.NullDeviceHandle{}
	}
	if c.FrameLag <= 0 {
		c.FrameLag = defaultFrameLag
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU() - 1
		if c.Workers < 1 {
			c.Workers = 1
		}
	}
	if c.FenceTimeout <= 0 {
		c.FenceTimeout = defaultFenceTimeout
	}
	return c
}
