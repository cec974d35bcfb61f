package cmds

// Kind identifies a resource kind. Every GPU-visible object the engine
// manages belongs to exactly one kind, and each kind is backed by its own
// pool in the parent package.
type Kind uint8

// Resource kinds.
const (
	KindInvalid Kind = iota
	KindBuffer
	KindImage
	KindImageView
	KindFramebuffer
	KindSampler
	KindSet
	KindPipeline
	KindAccel
)

// kindNames is indexed by Kind.
var kindNames = [...]string{
	"invalid",
	"buffer",
	"image",
	"imageview",
	"framebuffer",
	"sampler",
	"set",
	"pipeline",
	"accel",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Ref is a non-owning reference to a pooled resource: a kind plus an
// index into that kind's pool. Refs never own the resource they name.
type Ref struct {
	Kind  Kind
	Index uint32
}

// Stage is a mask of pipeline stages.
type Stage uint32

// Pipeline stages.
const (
	StageNone         Stage = 0
	StageDrawIndirect Stage = 1 << iota
	StageVertexInput
	StageVertexShader
	StageFragmentShader
	StageColorOutput
	StageDepthStencil
	StageComputeShader
	StageTransfer
	StageAccelBuild
	StageRayTracing
	StageAllCommands
)

// Access is a mask of memory access types.
type Access uint32

// Memory accesses.
const (
	AccessNone         Access = 0
	AccessIndirectRead Access = 1 << iota
	AccessIndexRead
	AccessVertexRead
	AccessUniformRead
	AccessShaderRead
	AccessShaderWrite
	AccessColorRead
	AccessColorWrite
	AccessDepthRead
	AccessDepthWrite
	AccessTransferRead
	AccessTransferWrite
	AccessAccelRead
	AccessAccelWrite
	AccessMemoryRead
	AccessMemoryWrite
)

// accessWriteMask is the fixed set of write accesses. A previous access
// with any of these bits set must always be fenced before a subsequent
// access, whatever that access is.
const accessWriteMask = AccessShaderWrite | AccessColorWrite | AccessDepthWrite |
	AccessTransferWrite | AccessAccelWrite | AccessMemoryWrite

// IsWrite reports whether the access mask contains any write bit.
func (a Access) IsWrite() bool { return a&accessWriteMask != 0 }

// Layout is an image memory layout. Buffers always use LayoutUndefined.
type Layout uint8

// Image layouts.
const (
	LayoutUndefined Layout = iota
	LayoutGeneral
	LayoutColorAttachment
	LayoutDepthAttachment
	LayoutDepthReadOnly
	LayoutShaderRead
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPresent
)

var layoutNames = [...]string{
	"undefined",
	"general",
	"color-attachment",
	"depth-attachment",
	"depth-readonly",
	"shader-read",
	"transfer-src",
	"transfer-dst",
	"present",
}

func (l Layout) String() string {
	if int(l) < len(layoutNames) {
		return layoutNames[l]
	}
	return "unknown"
}

// Use declares a command's intended access to one resource: the stages
// that touch it, the access mask, and, for images, the required layout.
// The processor compares a Use against the resource's last recorded state
// to decide whether a barrier must precede the command.
type Use struct {
	Ref    Ref
	Stages Stage
	Access Access
	Layout Layout
}
