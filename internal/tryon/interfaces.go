package tryon

import (
	"context"
	"io"
	"time"
)

// RecordStore persists try-on records keyed by session.
type RecordStore interface {
	Save(ctx context.Context, record TryOnRecord) error
	FindBySession(ctx context.Context, sessionID string, limit int) ([]TryOnRecord, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// PageFetcher retrieves product pages and garment images.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (FetchResult, error)
	FetchImage(ctx context.Context, url string) (FetchResult, error)
}

// Renderer produces the JavaScript-rendered DOM of a page.
type Renderer interface {
	Render(ctx context.Context, url string) (FetchResult, error)
}

// RenderDetector decides whether a fetched page is worth rendering.
type RenderDetector interface {
	ShouldRender(page FetchResult) bool
}

// Composer merges a person and a garment image into one picture.
type Composer interface {
	Compose(ctx context.Context, personB64, garmentB64, prompt string) (string, error)
}

// Hasher computes digests used to name archived images.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record and session IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
