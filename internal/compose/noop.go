package compose

import (
	"context"
	"fmt"

	"github.com/JakeFAU/virtual-tryon/internal/tryon"
)

// Noop returns the person image unchanged. Used for local runs without an API key.
type Noop struct{}

// Compose implements tryon.Composer.
func (Noop) Compose(_ context.Context, personB64, _ string, _ string) (string, error) {
	if personB64 == "" {
		return "", fmt.Errorf("%w: empty person image", tryon.ErrCompositionFailed)
	}
	return personB64, nil
}
