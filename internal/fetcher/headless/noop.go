package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/virtual-tryon/internal/tryon"
)

// ErrDisabled is returned by Noop.
var ErrDisabled = errors.New("headless rendering not configured")

// Noop implements tryon.Renderer for deployments without Chrome.
type Noop struct{}

// NewNoop creates a new Noop renderer.
func NewNoop() *Noop {
	return &Noop{}
}

// Render always fails with ErrDisabled.
func (Noop) Render(_ context.Context, _ string) (tryon.FetchResult, error) {
	return tryon.FetchResult{}, ErrDisabled
}
