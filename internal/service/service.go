// Package service implements the try-on operations behind the HTTP API:
// scraping garment candidates from a product page, composing a garment onto
// a person, and reading back a session's results.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/virtual-tryon/internal/extract"
	"github.com/JakeFAU/virtual-tryon/internal/imageutil"
	"github.com/JakeFAU/virtual-tryon/internal/metrics"
	"github.com/JakeFAU/virtual-tryon/internal/tryon"
)

const (
	defaultSessionLimit = 100
	unknownProcessing   = "Unknown"
)

// Config controls Service behavior.
type Config struct {
	// Prompt is the instruction sent with every composition.
	Prompt string
	// ArchivePrefix is prepended to archived image paths.
	ArchivePrefix string
	// Topic receives completion events. Empty disables publishing.
	Topic string
	// SessionLimit caps the records returned for one session.
	SessionLimit int
}

// Deps groups the collaborators used by Service. Renderer, Detector, Blobs
// and Publisher are optional.
type Deps struct {
	Fetcher   tryon.PageFetcher
	Extractor *extract.Extractor
	Renderer  tryon.Renderer
	Detector  tryon.RenderDetector
	Composer  tryon.Composer
	Records   tryon.RecordStore
	Blobs     tryon.BlobStore
	Publisher tryon.Publisher
	Hasher    tryon.Hasher
	Clock     tryon.Clock
	IDs       tryon.IDGenerator
}

// Service runs the scrape, try-on and session operations.
type Service struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New validates deps and constructs a Service.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Service, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("service: fetcher is required")
	case deps.Extractor == nil:
		return nil, errors.New("service: extractor is required")
	case deps.Composer == nil:
		return nil, errors.New("service: composer is required")
	case deps.Records == nil:
		return nil, errors.New("service: record store is required")
	case deps.Hasher == nil, deps.Clock == nil, deps.IDs == nil:
		return nil, errors.New("service: hasher, clock and id generator are required")
	}
	if cfg.SessionLimit <= 0 {
		cfg.SessionLimit = defaultSessionLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Service{deps: deps, cfg: cfg, logger: logger.Named("service")}, nil
}

// ScrapeClothing fetches a product page and returns its garment candidates.
// An empty slice is a successful outcome.
func (s *Service) ScrapeClothing(ctx context.Context, pageURL string) ([]tryon.ImageCandidate, error) {
	pageURL = strings.TrimSpace(pageURL)
	if err := checkPageURL(pageURL); err != nil {
		return nil, err
	}

	page, err := s.deps.Fetcher.FetchPage(ctx, pageURL)
	if err != nil {
		observeFetchFailure("page", err)
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	metrics.ObservePageFetch(false)

	res, err := s.deps.Extractor.ExtractHTML(page.Body, baseURL(page, pageURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tryon.ErrNoCandidatesFound, err)
	}

	if len(res.Candidates) == 0 {
		if rendered, ok := s.maybePromote(ctx, pageURL, page); ok {
			res = rendered
		}
	}

	for _, w := range res.Warnings {
		s.logger.Warn("extraction strategy failed", zap.String("url", pageURL), zap.String("warning", w))
	}
	metrics.ObserveExtraction(res.Strategy)
	s.logger.Info("clothing scraped",
		zap.String("url", pageURL),
		zap.String("strategy", res.Strategy),
		zap.Int("candidates", len(res.Candidates)),
	)

	if res.Candidates == nil {
		return []tryon.ImageCandidate{}, nil
	}
	return res.Candidates, nil
}

// maybePromote renders the page headlessly and re-runs the cascade when the
// static HTML looked like a client-rendered shell.
func (s *Service) maybePromote(ctx context.Context, pageURL string, page tryon.FetchResult) (extract.Result, bool) {
	if s.deps.Renderer == nil || s.deps.Detector == nil || !s.deps.Detector.ShouldRender(page) {
		return extract.Result{}, false
	}

	rendered, err := s.deps.Renderer.Render(ctx, pageURL)
	if err != nil {
		observeFetchFailure("render", err)
		s.logger.Warn("headless promotion failed", zap.String("url", pageURL), zap.Error(err))
		return extract.Result{}, false
	}
	metrics.ObservePageFetch(true)

	res, err := s.deps.Extractor.ExtractHTML(rendered.Body, baseURL(rendered, pageURL))
	if err != nil {
		s.logger.Warn("parse rendered page failed", zap.String("url", pageURL), zap.Error(err))
		return extract.Result{}, false
	}
	s.logger.Info("headless promotion applied",
		zap.String("url", pageURL),
		zap.Int("candidates", len(res.Candidates)),
	)
	return res, true
}

// TryOn composes the requested garment onto the person image and records the result.
func (s *Service) TryOn(ctx context.Context, req tryon.TryOnRequest) (tryon.TryOnResult, error) {
	start := s.deps.Clock.Now()

	person, err := imageutil.Validate(req.PersonImage)
	if err != nil {
		return tryon.TryOnResult{}, &tryon.ImageError{Field: "person", Err: err}
	}

	hasURL := strings.TrimSpace(req.ClothingURL) != ""
	hasImage := strings.TrimSpace(req.ClothingImage) != ""

	var (
		garment    imageutil.Image
		source     tryon.GarmentSource
		garmentURL string
	)
	switch {
	case hasURL && hasImage:
		return tryon.TryOnResult{}, tryon.ErrConflictingInput
	case hasURL:
		garment, garmentURL, err = s.garmentFromURL(ctx, strings.TrimSpace(req.ClothingURL))
		if err != nil {
			return tryon.TryOnResult{}, err
		}
		source = tryon.GarmentSourceURL
	case hasImage:
		garment, err = imageutil.Validate(req.ClothingImage)
		if err != nil {
			return tryon.TryOnResult{}, &tryon.ImageError{Field: "clothing", Err: err}
		}
		source = tryon.GarmentSourceUpload
	default:
		return tryon.TryOnResult{}, tryon.ErrMissingGarment
	}

	result, err := s.compose(ctx, person, garment)
	if err != nil {
		return tryon.TryOnResult{}, err
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		if sessionID, err = s.deps.IDs.NewID(); err != nil {
			return tryon.TryOnResult{}, fmt.Errorf("generate session id: %w", err)
		}
	}
	recordID, err := s.deps.IDs.NewID()
	if err != nil {
		return tryon.TryOnResult{}, fmt.Errorf("generate record id: %w", err)
	}

	now := s.deps.Clock.Now()
	processing := formatProcessingTime(now.Sub(start))
	record := tryon.TryOnRecord{
		ID:             recordID,
		SessionID:      sessionID,
		PersonImage:    person.Base64,
		ClothingImage:  garment.Base64,
		ResultImage:    result.Base64,
		ProcessingTime: processing,
		GarmentSource:  source,
		GarmentURL:     garmentURL,
		BlobURIs:       s.archive(ctx, sessionID, person, garment, result),
		CreatedAt:      now,
	}
	if err := s.deps.Records.Save(ctx, record); err != nil {
		return tryon.TryOnResult{}, fmt.Errorf("save record: %w", err)
	}
	s.publishCompleted(ctx, record)

	s.logger.Info("try-on completed",
		zap.String("session_id", sessionID),
		zap.String("record_id", recordID),
		zap.String("garment_source", string(source)),
		zap.String("processing_time", processing),
	)
	return tryon.TryOnResult{
		RecordID:       recordID,
		SessionID:      sessionID,
		ResultImage:    imageutil.DataURL(imageutil.PNG, result.Base64),
		ProcessingTime: processing,
	}, nil
}

// garmentFromURL scrapes the page and downloads its first candidate.
func (s *Service) garmentFromURL(ctx context.Context, pageURL string) (imageutil.Image, string, error) {
	candidates, err := s.ScrapeClothing(ctx, pageURL)
	if err != nil {
		return imageutil.Image{}, "", err
	}
	if len(candidates) == 0 {
		return imageutil.Image{}, "", tryon.ErrNoCandidatesFound
	}

	imageURL := candidates[0].URL
	res, err := s.deps.Fetcher.FetchImage(ctx, imageURL)
	if err != nil {
		observeFetchFailure("image", err)
		return imageutil.Image{}, "", fmt.Errorf("fetch garment image: %w", err)
	}
	img, err := imageutil.FromBytes(res.Body)
	if err != nil {
		// Not an ImageError: the client did not supply these bytes.
		return imageutil.Image{}, "", fmt.Errorf("%w: garment at %s: %v", tryon.ErrSourceUnreachable, imageURL, err)
	}
	s.logger.Info("garment fetched from page",
		zap.String("page", pageURL),
		zap.String("image", imageURL),
		zap.String("format", string(img.Format)),
	)
	return img, imageURL, nil
}

func (s *Service) compose(ctx context.Context, person, garment imageutil.Image) (imageutil.Image, error) {
	start := time.Now()
	out, err := s.deps.Composer.Compose(ctx, person.Base64, garment.Base64, s.cfg.Prompt)
	if err == nil && out == "" {
		err = errors.New("empty image")
	}
	if err != nil {
		metrics.ObserveComposition("error", time.Since(start))
		if !errors.Is(err, tryon.ErrCompositionFailed) {
			err = fmt.Errorf("%w: %w", tryon.ErrCompositionFailed, err)
		}
		return imageutil.Image{}, err
	}

	data, err := imageutil.Decode(out)
	if err == nil {
		var img imageutil.Image
		if img, err = imageutil.FromBytes(data); err == nil {
			metrics.ObserveComposition("ok", time.Since(start))
			return img, nil
		}
	}
	metrics.ObserveComposition("invalid", time.Since(start))
	return imageutil.Image{}, fmt.Errorf("%w: composer returned an unreadable image: %v", tryon.ErrCompositionFailed, err)
}

// archive writes the three images to blob storage. Failures are logged and
// skipped; the record is still saved.
func (s *Service) archive(ctx context.Context, sessionID string, images ...imageutil.Image) []string {
	if s.deps.Blobs == nil {
		return nil
	}
	var uris []string
	for _, img := range images {
		hash, err := s.deps.Hasher.Hash(img.Data)
		if err != nil {
			s.logger.Warn("hash image failed", zap.String("session_id", sessionID), zap.Error(err))
			continue
		}
		path := s.buildBlobPath(sessionID, hash, img.Format)
		uri, err := s.deps.Blobs.PutObject(ctx, path, img.Format.MIMEType(), bytes.NewReader(img.Data))
		if err != nil {
			s.logger.Warn("archive image failed", zap.String("path", path), zap.Error(err))
			continue
		}
		uris = append(uris, uri)
	}
	return uris
}

func (s *Service) buildBlobPath(sessionID, hash string, format imageutil.Format) string {
	prefix := strings.Trim(s.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.%s", sessionID, hash, format.Extension())
	}
	return fmt.Sprintf("%s/%s/%s.%s", prefix, sessionID, hash, format.Extension())
}

func (s *Service) publishCompleted(ctx context.Context, record tryon.TryOnRecord) {
	if s.cfg.Topic == "" || s.deps.Publisher == nil {
		return
	}
	event := tryon.CompletedEvent{
		RecordID:       record.ID,
		SessionID:      record.SessionID,
		GarmentSource:  record.GarmentSource,
		GarmentURL:     record.GarmentURL,
		ProcessingTime: record.ProcessingTime,
		CreatedAt:      record.CreatedAt,
	}
	id, err := s.deps.Publisher.Publish(ctx, s.cfg.Topic, event)
	if err != nil {
		s.logger.Warn("publish completion failed",
			zap.String("session_id", record.SessionID),
			zap.String("topic", s.cfg.Topic),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("completion published", zap.String("message_id", id), zap.String("topic", s.cfg.Topic))
}

// Session returns the stored results for sessionID in creation order.
func (s *Service) Session(ctx context.Context, sessionID string) (tryon.SessionView, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return tryon.SessionView{}, tryon.ErrSessionNotFound
	}
	records, err := s.deps.Records.FindBySession(ctx, sessionID, s.cfg.SessionLimit)
	if err != nil {
		return tryon.SessionView{}, fmt.Errorf("find session %s: %w", sessionID, err)
	}
	if len(records) == 0 {
		return tryon.SessionView{}, tryon.ErrSessionNotFound
	}

	view := tryon.SessionView{
		SessionID: sessionID,
		CreatedAt: records[0].CreatedAt,
		Results:   make([]tryon.SessionResult, 0, len(records)),
	}
	for _, r := range records {
		processing := r.ProcessingTime
		if processing == "" {
			processing = unknownProcessing
		}
		view.Results = append(view.Results, tryon.SessionResult{
			ID:             r.ID,
			ResultImage:    imageutil.DataURL(imageutil.PNG, r.ResultImage),
			CreatedAt:      r.CreatedAt,
			ProcessingTime: processing,
		})
	}
	return view, nil
}

func formatProcessingTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func checkPageURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &tryon.FetchError{
			Category: tryon.FetchTransportError,
			URL:      raw,
			Err:      errors.New("url must be an absolute http(s) address"),
		}
	}
	return nil
}

// baseURL prefers the post-redirect URL so relative sources resolve against
// the page the markup came from.
func baseURL(page tryon.FetchResult, requested string) string {
	if page.URL != "" {
		return page.URL
	}
	return requested
}

func observeFetchFailure(kind string, err error) {
	category := string(tryon.FetchTransportError)
	var fetchErr *tryon.FetchError
	if errors.As(err, &fetchErr) {
		category = string(fetchErr.Category)
	}
	metrics.ObserveFetchFailure(kind, category)
}
