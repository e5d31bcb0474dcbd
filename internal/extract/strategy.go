package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/JakeFAU/virtual-tryon/internal/tryon"
)

// Default labels used when an image carries no alt text.
const (
	DefaultLabel    = "Clothing item"
	LastResortLabel = "Image from page"
)

// DefaultSelectors target elements whose class, id or test attributes suggest
// a product photo, followed by container-scoped fallbacks.
var DefaultSelectors = []string{
	`img[class*="product"]`,
	`img[class*="item"]`,
	`img[class*="main"]`,
	`img[class*="hero"]`,
	`img[id*="product"]`,
	`img[id*="main"]`,
	`img[class*="gallery"]`,
	`img[class*="zoom"]`,
	`img[class*="thumbnail"]`,
	`img[data-testid*="product"]`,
	`img[data-cy*="product"]`,
	`.product img`,
	`.item img`,
	`.gallery img`,
	`[class*="product"] img`,
	`[class*="item"] img`,
}

var (
	structuralAttrs = []string{"src", "data-src", "data-lazy-src", "data-original"}
	broadAttrs      = []string{"src", "data-src", "data-lazy-src"}
	lastResortAttrs = []string{"src", "data-src"}
)

var errNilDocument = errors.New("document is nil")

// Strategy proposes candidates from a parsed page. Implementations skip URLs
// already in seen and add every URL they accept.
type Strategy interface {
	Name() string
	Extract(doc *goquery.Document, pageURL string, seen Seen) ([]tryon.ImageCandidate, error)
}

// Seen tracks accepted URLs for one extraction call.
type Seen map[string]struct{}

// Has reports whether u was already accepted.
func (s Seen) Has(u string) bool {
	_, ok := s[u]
	return ok
}

// Add marks u as accepted.
func (s Seen) Add(u string) {
	s[u] = struct{}{}
}

func (s Seen) clone() Seen {
	out := make(Seen, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

type compiledSelector struct {
	raw     string
	matcher cascadia.Selector
}

// StructuralStrategy walks an ordered selector list and trusts semantic markup.
type StructuralStrategy struct {
	selectors   []compiledSelector
	perSelector int
	target      int
}

// NewStructuralStrategy compiles selectors up front so a malformed one fails at start-up.
// perSelector caps matches read per selector; scanning stops once target
// candidates have been accumulated after a selector completes.
func NewStructuralStrategy(selectors []string, perSelector, target int) (*StructuralStrategy, error) {
	if perSelector <= 0 || target <= 0 {
		return nil, fmt.Errorf("structural limits must be > 0")
	}
	compiled := make([]compiledSelector, 0, len(selectors))
	for _, raw := range selectors {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		sel, err := cascadia.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("compile selector %q: %w", raw, err)
		}
		compiled = append(compiled, compiledSelector{raw: raw, matcher: sel})
	}
	return &StructuralStrategy{selectors: compiled, perSelector: perSelector, target: target}, nil
}

// Name implements Strategy.
func (s *StructuralStrategy) Name() string {
	return "structural"
}

// Extract implements Strategy.
func (s *StructuralStrategy) Extract(doc *goquery.Document, pageURL string, seen Seen) ([]tryon.ImageCandidate, error) {
	if doc == nil {
		return nil, errNilDocument
	}
	var found []tryon.ImageCandidate
	for _, sel := range s.selectors {
		doc.FindMatcher(sel.matcher).EachWithBreak(func(i int, img *goquery.Selection) bool {
			if i >= s.perSelector {
				return false
			}
			if c, ok := accept(img, pageURL, structuralAttrs, Strict, seen, DefaultLabel); ok {
				found = append(found, c)
			}
			return true
		})
		if len(found) >= s.target {
			break
		}
	}
	return found, nil
}

// ScanStrategy walks img elements in document order under a fixed filter mode.
type ScanStrategy struct {
	name   string
	attrs  []string
	mode   Mode
	window int
	limit  int
	label  string
}

// NewBroadStrategy scans every image, rejecting page chrome, until limit are accepted.
func NewBroadStrategy(limit int) *ScanStrategy {
	return &ScanStrategy{
		name:  "broad",
		attrs: broadAttrs,
		mode:  Broad,
		limit: limit,
		label: DefaultLabel,
	}
}

// NewLastResortStrategy considers only the first window images and accepts
// anything image-shaped until limit are accepted.
func NewLastResortStrategy(window, limit int) *ScanStrategy {
	return &ScanStrategy{
		name:   "last_resort",
		attrs:  lastResortAttrs,
		mode:   LastResort,
		window: window,
		limit:  limit,
		label:  LastResortLabel,
	}
}

// Name implements Strategy.
func (s *ScanStrategy) Name() string {
	return s.name
}

// Extract implements Strategy.
func (s *ScanStrategy) Extract(doc *goquery.Document, pageURL string, seen Seen) ([]tryon.ImageCandidate, error) {
	if doc == nil {
		return nil, errNilDocument
	}
	var found []tryon.ImageCandidate
	doc.Find("img").EachWithBreak(func(i int, img *goquery.Selection) bool {
		if s.window > 0 && i >= s.window {
			return false
		}
		if c, ok := accept(img, pageURL, s.attrs, s.mode, seen, s.label); ok {
			found = append(found, c)
		}
		return s.limit <= 0 || len(found) < s.limit
	})
	return found, nil
}

func accept(
	img *goquery.Selection,
	pageURL string,
	attrs []string,
	mode Mode,
	seen Seen,
	fallbackLabel string,
) (tryon.ImageCandidate, bool) {
	src := firstAttr(img, attrs)
	if src == "" {
		return tryon.ImageCandidate{}, false
	}
	resolved := Resolve(src, pageURL)
	if seen.Has(resolved) || !IsPlausible(resolved, mode) || !isAbsoluteHTTP(resolved) {
		return tryon.ImageCandidate{}, false
	}
	seen.Add(resolved)
	return tryon.ImageCandidate{URL: resolved, Label: labelFor(img, fallbackLabel)}, true
}

func firstAttr(img *goquery.Selection, attrs []string) string {
	for _, name := range attrs {
		if v := strings.TrimSpace(img.AttrOr(name, "")); v != "" {
			return v
		}
	}
	return ""
}

func labelFor(img *goquery.Selection, fallback string) string {
	if alt := strings.TrimSpace(img.AttrOr("alt", "")); alt != "" {
		return alt
	}
	return fallback
}
