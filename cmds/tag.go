package cmds

// Tag selects a command kind. The set is closed: a walk that encounters a
// tag outside this set aborts, because it can only mean the buffer was
// corrupted or decoded from the wrong offset.
type Tag uint8

// Command tags.
const (
	TagInvalid Tag = iota
	TagBindPipeline
	TagBindSet
	TagPushConstants
	TagSetViewport
	TagSetScissor
	TagDraw
	TagDrawIndexed
	TagDispatch
	TagCopyBuffer
	TagCopyImage
	TagCopyBufferToImage
	TagCopyImageToBuffer
	TagClearColorImage
	TagFillBuffer
	TagBeginPass
	TagNextSubpass
	TagEndPass
	TagBuildAccel
	TagCopyAccel
	TagTraceRays
	TagBeginLabel
	TagEndLabel
	TagInsertLabel
	TagCallback
	tagCount
)

var tagNames = [...]string{
	"invalid",
	"bind-pipeline",
	"bind-set",
	"push-constants",
	"set-viewport",
	"set-scissor",
	"draw",
	"draw-indexed",
	"dispatch",
	"copy-buffer",
	"copy-image",
	"copy-buffer-to-image",
	"copy-image-to-buffer",
	"clear-color-image",
	"fill-buffer",
	"begin-pass",
	"next-subpass",
	"end-pass",
	"build-accel",
	"copy-accel",
	"trace-rays",
	"begin-label",
	"end-label",
	"insert-label",
	"callback",
}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return "unknown"
}
