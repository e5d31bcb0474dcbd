// Package imageutil decodes and sniffs the base64 images exchanged with clients
// and the composition backend.
package imageutil

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"slices"
	"strings"

	_ "golang.org/x/image/webp" // register decoder

	"github.com/JakeFAU/virtual-tryon/internal/tryon"
)

// Format is the container format reported by image.DecodeConfig.
type Format string

// Formats the service understands.
const (
	JPEG Format = "jpeg"
	PNG  Format = "png"
	WebP Format = "webp"
)

var (
	// UploadFormats are accepted from clients.
	UploadFormats = []Format{JPEG, PNG}
	// FetchedFormats are accepted from scraped garment URLs.
	FetchedFormats = []Format{JPEG, PNG, WebP}
)

// MIMEType returns the media type for f.
func (f Format) MIMEType() string {
	switch f {
	case JPEG:
		return "image/jpeg"
	case PNG:
		return "image/png"
	case WebP:
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// Extension returns a file extension without the dot.
func (f Format) Extension() string {
	switch f {
	case JPEG:
		return "jpg"
	case PNG, WebP:
		return string(f)
	default:
		return "bin"
	}
}

const dataURLPrefix = "data:image"

// StripDataURL removes a leading "data:image/...;base64," header if present.
func StripDataURL(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, dataURLPrefix) {
		return s
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[i+1:]
	}
	return s
}

// DataURL wraps raw base64 as a data URL for f.
func DataURL(f Format, b64 string) string {
	return "data:" + f.MIMEType() + ";base64," + b64
}

// Decode strips any data URL header and base64-decodes s. Padding is optional.
func Decode(s string) ([]byte, error) {
	raw := StripDataURL(s)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty image", tryon.ErrInvalidImageFormat)
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(raw, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64: %w", tryon.ErrInvalidImageFormat, err)
	}
	return data, nil
}

// Sniff reads the image header and reports its format.
func Sniff(data []byte) (Format, error) {
	_, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %w", tryon.ErrInvalidImageFormat, err)
	}
	return Format(name), nil
}

// Check sniffs data and rejects formats outside allowed.
func Check(data []byte, allowed []Format) (Format, error) {
	format, err := Sniff(data)
	if err != nil {
		return "", err
	}
	if !slices.Contains(allowed, format) {
		return "", fmt.Errorf("%w: %s not accepted", tryon.ErrInvalidImageFormat, format)
	}
	return format, nil
}

// Validate decodes a client-supplied base64 image and checks it is JPEG or PNG.
func Validate(s string) (Image, error) {
	data, err := Decode(s)
	if err != nil {
		return Image{}, err
	}
	format, err := Check(data, UploadFormats)
	if err != nil {
		return Image{}, err
	}
	return Image{Data: data, Base64: base64.StdEncoding.EncodeToString(data), Format: format}, nil
}

// FromBytes checks fetched bytes against FetchedFormats and encodes them.
func FromBytes(data []byte) (Image, error) {
	format, err := Check(data, FetchedFormats)
	if err != nil {
		return Image{}, err
	}
	return Image{Data: data, Base64: base64.StdEncoding.EncodeToString(data), Format: format}, nil
}

// Image is a validated image in both raw and base64 form.
type Image struct {
	Data   []byte
	Base64 string
	Format Format
}
