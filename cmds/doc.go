// Package cmds implements the backend-agnostic command stream.
//
// A List is an append-only buffer of tagged command records. Application
// code records work with the typed append methods (BindPipeline, Draw,
// CopyBuffer, ...) and the records are stored contiguously in a growable
// byte buffer, each prefixed with its own encoded size so the buffer can
// be walked front to back without a separate index.
//
// The package knows nothing about any concrete graphics backend. A
// recorded List only becomes observable when it is walked, typically by
// the command processor in the parent rhi package, which translates each
// record into native calls.
//
// Lists are not safe for concurrent use. The intended model is one List
// per recording goroutine.
package cmds
