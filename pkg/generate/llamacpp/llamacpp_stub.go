//go:build !llama

package llamacpp

import (
	"context"

	"github.com/germanamz/danube/pkg/generate"
)

// Available reports whether the in-process runtime is compiled in.
const Available = false

var _ generate.Loader = (*Loader)(nil)

// Load always fails with ErrUnavailable.
func (l *Loader) Load(context.Context, string, generate.Config) (generate.Backend, error) {
	return nil, ErrUnavailable
}
