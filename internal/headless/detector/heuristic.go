// Package detector decides when a fetched product page should be re-rendered headlessly.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/virtual-tryon/internal/tryon"
)

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("__nuxt"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// ShouldRender reports whether page looks client-rendered. It is only asked
// after static extraction came back empty.
func (h *Heuristic) ShouldRender(page tryon.FetchResult) bool {
	if page.StatusCode != http.StatusOK || page.UsedHeadless {
		return false
	}
	if ct := page.ContentType; ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
		return false
	}
	body := page.Body
	if len(body) == 0 {
		return true
	}
	lower := bytes.ToLower(body)
	// A storefront with no img tags at all is almost certainly hydrated by script.
	if !bytes.Contains(lower, []byte("<img")) && bytes.Contains(lower, []byte("<script")) {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(lower) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh expects an already lowercased body.
func scriptDensityHigh(body []byte) bool {
	lower := string(body)
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	return scriptCoverage*100/total >= 25
}
