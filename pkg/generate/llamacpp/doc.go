// Package llamacpp runs generation in-process through the go-llama.cpp
// binding. The binding needs cgo and a prebuilt libbinding.a, so the real
// implementation is only compiled with the "llama" build tag; default builds
// get a Loader that reports ErrUnavailable.
package llamacpp

import "errors"

// ErrUnavailable is returned by Load when the binary was built without the
// "llama" tag.
var ErrUnavailable = errors.New("llamacpp: in-process backend not compiled in (build with -tags llama)")

// Loader loads GGUF models into the in-process runtime.
type Loader struct{}

// NewLoader returns a Loader.
func NewLoader() *Loader { return &Loader{} }
