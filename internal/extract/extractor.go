// Package extract recovers likely garment photo URLs from arbitrary product pages.
//
// Extraction runs an ordered cascade of strategies against one parsed document.
// All strategies append to a single result list and share one seen-set; a later,
// more permissive strategy only runs while the list is still empty. The default
// cascade is structural selectors, then a broad image scan that rejects page
// chrome, then a last-resort scan of the first few images.
package extract

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/virtual-tryon/internal/tryon"
)

// Options tunes the default cascade.
type Options struct {
	MaxCandidates    int
	PerSelector      int
	StructuralTarget int
	BroadLimit       int
	LastResortWindow int
	LastResortLimit  int
	ExtraSelectors   []string
}

// DefaultOptions returns the limits the cascade was tuned with.
func DefaultOptions() Options {
	return Options{
		MaxCandidates:    5,
		PerSelector:      3,
		StructuralTarget: 3,
		BroadLimit:       5,
		LastResortWindow: 10,
		LastResortLimit:  2,
	}
}

// Result is the outcome of one extraction call.
type Result struct {
	Candidates []tryon.ImageCandidate
	// Strategy names the strategy that produced the candidates, empty when none did.
	Strategy string
	// Warnings lists strategies that failed and were treated as finding nothing.
	Warnings []string
}

// Extractor drives a strategy cascade.
type Extractor struct {
	strategies    []Strategy
	maxCandidates int
	logger        *zap.Logger
}

// New builds the default structural → broad → last-resort cascade.
func New(opts Options, logger *zap.Logger) (*Extractor, error) {
	selectors := make([]string, 0, len(DefaultSelectors)+len(opts.ExtraSelectors))
	selectors = append(selectors, DefaultSelectors...)
	selectors = append(selectors, opts.ExtraSelectors...)
	structural, err := NewStructuralStrategy(selectors, opts.PerSelector, opts.StructuralTarget)
	if err != nil {
		return nil, fmt.Errorf("build structural strategy: %w", err)
	}
	return NewWithStrategies(
		opts.MaxCandidates,
		logger,
		structural,
		NewBroadStrategy(opts.BroadLimit),
		NewLastResortStrategy(opts.LastResortWindow, opts.LastResortLimit),
	), nil
}

// NewWithStrategies builds an Extractor over a custom cascade. maxCandidates <= 0 disables the cap.
func NewWithStrategies(maxCandidates int, logger *zap.Logger, strategies ...Strategy) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		strategies:    strategies,
		maxCandidates: maxCandidates,
		logger:        logger,
	}
}

// ExtractHTML parses body and runs the cascade against it.
func (e *Extractor) ExtractHTML(body []byte, pageURL string) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("parse html: %w", err)
	}
	return e.Extract(doc, pageURL), nil
}

// Extract runs the cascade. An empty result is a valid outcome, not an error.
func (e *Extractor) Extract(doc *goquery.Document, pageURL string) Result {
	var result Result
	seen := Seen{}
	for _, strategy := range e.strategies {
		found, next, err := e.run(strategy, doc, pageURL, seen)
		if err != nil {
			e.logger.Debug("strategy failed", zap.String("strategy", strategy.Name()), zap.Error(err))
			result.Warnings = append(result.Warnings, fmt.Sprintf("strategy %q failed: %v", strategy.Name(), err))
			continue
		}
		seen = next
		result.Candidates = append(result.Candidates, found...)
		if len(result.Candidates) > 0 {
			result.Strategy = strategy.Name()
			break
		}
	}
	if e.maxCandidates > 0 && len(result.Candidates) > e.maxCandidates {
		result.Candidates = result.Candidates[:e.maxCandidates]
	}
	return result
}

// run isolates one strategy so a panic or error leaves the shared seen-set untouched.
func (e *Extractor) run(
	strategy Strategy,
	doc *goquery.Document,
	pageURL string,
	seen Seen,
) (found []tryon.ImageCandidate, next Seen, err error) {
	scratch := seen.clone()
	defer func() {
		if rec := recover(); rec != nil {
			found, next, err = nil, seen, fmt.Errorf("panic: %v", rec)
		}
	}()
	found, err = strategy.Extract(doc, pageURL, scratch)
	if err != nil {
		return nil, seen, err
	}
	return found, scratch, nil
}
