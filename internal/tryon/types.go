// Package tryon defines core types shared across subsystems.
package tryon

import (
	"net/http"
	"time"
)

// ImageCandidate is a URL proposed as a possible garment photo.
type ImageCandidate struct {
	URL   string `json:"url"`
	Label string `json:"alt"`
}

// FetchResult is returned by a successful page or image fetch.
type FetchResult struct {
	URL          string
	StatusCode   int
	ContentType  string
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// GarmentSource records how the garment image was supplied.
type GarmentSource string

// Garment sources persisted with each record.
const (
	GarmentSourceUpload GarmentSource = "upload"
	GarmentSourceURL    GarmentSource = "url"
)

// TryOnRequest is the input of a single try-on.
type TryOnRequest struct {
	// PersonImage is base64, optionally wrapped in a data URL.
	PersonImage string `json:"person_image"`
	// ClothingURL is a product page to scrape. Mutually exclusive with ClothingImage.
	ClothingURL string `json:"clothing_url,omitempty"`
	// ClothingImage is base64, optionally wrapped in a data URL.
	ClothingImage string `json:"clothing_image,omitempty"`
	// SessionID appends the result to an existing session when set.
	SessionID string `json:"session_id,omitempty"`
}

// TryOnResult is returned to the caller after composition succeeds.
type TryOnResult struct {
	RecordID       string
	SessionID      string
	ResultImage    string
	ProcessingTime string
}

// TryOnRecord is persisted for each completed try-on.
type TryOnRecord struct {
	ID             string        `json:"id"`
	SessionID      string        `json:"session_id"`
	PersonImage    string        `json:"person_image"`
	ClothingImage  string        `json:"clothing_image"`
	ResultImage    string        `json:"result_image"`
	ProcessingTime string        `json:"processing_time"`
	GarmentSource  GarmentSource `json:"garment_source"`
	GarmentURL     string        `json:"garment_url,omitempty"`
	BlobURIs       []string      `json:"blob_uris,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// CompletedEvent is published after a record has been saved.
type CompletedEvent struct {
	RecordID       string        `json:"record_id"`
	SessionID      string        `json:"session_id"`
	GarmentSource  GarmentSource `json:"garment_source"`
	GarmentURL     string        `json:"garment_url,omitempty"`
	ProcessingTime string        `json:"processing_time"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Attributes are attached to the published message for subscription filtering.
func (e CompletedEvent) Attributes() map[string]string {
	return map[string]string{
		"event_type": "tryon.completed",
		"session_id": e.SessionID,
	}
}

// SessionView is the read model returned for a session lookup.
type SessionView struct {
	SessionID string          `json:"session_id"`
	CreatedAt time.Time       `json:"created_at"`
	Results   []SessionResult `json:"results"`
}

// SessionResult is one completed try-on inside a SessionView.
type SessionResult struct {
	ID             string    `json:"id"`
	ResultImage    string    `json:"result_image"`
	CreatedAt      time.Time `json:"created_at"`
	ProcessingTime string    `json:"processing_time"`
}
