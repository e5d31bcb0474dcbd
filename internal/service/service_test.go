package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/virtual-tryon/internal/extract"
	"github.com/JakeFAU/virtual-tryon/internal/hash/sha256"
	"github.com/JakeFAU/virtual-tryon/internal/publisher/memory"
	memstore "github.com/JakeFAU/virtual-tryon/internal/storage/memory"
	"github.com/JakeFAU/virtual-tryon/internal/tryon"
)

const productPage = "https://shop.example/p/1"

func TestScrapeClothingReturnsCandidates(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.fetcher.pages[productPage] = htmlPage(productPage,
		`<img class="product-main" src="/img/shirt-product.jpg" alt="Blue shirt">`)

	got, err := env.svc.ScrapeClothing(context.Background(), productPage)
	require.NoError(t, err)
	require.Equal(t, []tryon.ImageCandidate{
		{URL: "https://shop.example/img/shirt-product.jpg", Label: "Blue shirt"},
	}, got)
}

func TestScrapeClothingTrimsURLBeforeFetching(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.fetcher.pages[productPage] = htmlPage(productPage,
		`<img class="product-main" src="/img/shirt-product.jpg">`)

	got, err := env.svc.ScrapeClothing(context.Background(), "  "+productPage+"\n")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 1, env.fetcher.pageCalls())
}

func TestScrapeClothingResolvesAgainstFinalURL(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	page := htmlPage("https://www.shop.example/products/1", `<img src="/media/look.jpg">`)
	env.fetcher.pages[productPage] = page

	got, err := env.svc.ScrapeClothing(context.Background(), productPage)
	require.NoError(t, err)
	require.Equal(t, "https://www.shop.example/media/look.jpg", got[0].URL)
}

func TestScrapeClothingEmptyIsNotAnError(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.fetcher.pages[productPage] = htmlPage(productPage, `<p>sold out</p>`)

	got, err := env.svc.ScrapeClothing(context.Background(), productPage)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestScrapeClothingFetchFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.fetcher.pageErr = &tryon.FetchError{Category: tryon.FetchBlocked, URL: productPage, StatusCode: http.StatusForbidden}

	_, err := env.svc.ScrapeClothing(context.Background(), productPage)
	require.ErrorIs(t, err, tryon.ErrSourceBlocked)
}

func TestScrapeClothingRejectsRelativeURL(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	for _, raw := range []string{"", "/p/1", "ftp://shop.example/p", "https://"} {
		_, err := env.svc.ScrapeClothing(context.Background(), raw)
		require.ErrorIs(t, err, tryon.ErrSourceUnreachable, raw)
	}
	require.Zero(t, env.fetcher.pageCalls())
}

func TestScrapeClothingHeadlessPromotion(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.fetcher.pages[productPage] = htmlPage(productPage, `<div id="root"></div><script src="/app.js"></script>`)
	renderer := &fakeRenderer{result: htmlPage(productPage, `<img class="gallery" src="/img/clothing-1.jpg">`)}
	env.deps.Renderer = renderer
	env.deps.Detector = fakeDetector(true)
	svc := env.rebuild(t)

	got, err := svc.ScrapeClothing(context.Background(), productPage)
	require.NoError(t, err)
	require.Equal(t, 1, renderer.calls)
	require.Equal(t, []tryon.ImageCandidate{
		{URL: "https://shop.example/img/clothing-1.jpg", Label: extract.DefaultLabel},
	}, got)
}

func TestScrapeClothingSkipsPromotionWhenCandidatesFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.fetcher.pages[productPage] = htmlPage(productPage, `<img src="/img/look.jpg">`)
	renderer := &fakeRenderer{err: errors.New("should not render")}
	env.deps.Renderer = renderer
	env.deps.Detector = fakeDetector(true)
	svc := env.rebuild(t)

	got, err := svc.ScrapeClothing(context.Background(), productPage)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Zero(t, renderer.calls)
}

func TestScrapeClothingRenderFailureKeepsStaticResult(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.fetcher.pages[productPage] = htmlPage(productPage, `<div id="__next"></div>`)
	env.deps.Renderer = &fakeRenderer{err: errors.New("chrome crashed")}
	env.deps.Detector = fakeDetector(true)
	svc := env.rebuild(t)

	got, err := svc.ScrapeClothing(context.Background(), productPage)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestTryOnWithUploadedGarment(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	person := pngBase64(t, color.White)
	garment := "data:image/jpeg;base64," + jpegBase64(t)

	res, err := env.svc.TryOn(context.Background(), tryon.TryOnRequest{PersonImage: person, ClothingImage: garment})
	require.NoError(t, err)
	require.Equal(t, "id-1", res.SessionID)
	require.Equal(t, "id-2", res.RecordID)
	require.Equal(t, "2.5s", res.ProcessingTime)
	require.True(t, strings.HasPrefix(res.ResultImage, "data:image/png;base64,"))

	require.Len(t, env.composer.calls, 1)
	require.Equal(t, person, env.composer.calls[0].person)
	require.Equal(t, jpegBase64(t), env.composer.calls[0].garment)
	require.Equal(t, "dress them", env.composer.calls[0].prompt)

	records, err := env.records.FindBySession(context.Background(), "id-1", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, tryon.GarmentSourceUpload, records[0].GarmentSource)
	require.Empty(t, records[0].GarmentURL)
	require.Len(t, records[0].BlobURIs, 3)

	paths := env.blobs.Paths()
	require.Len(t, paths, 3)
	for _, p := range paths {
		require.True(t, strings.HasPrefix(p, "tryon/id-1/"), p)
	}
	obj, ok := env.blobs.Get(paths[0])
	require.True(t, ok)
	require.NotEmpty(t, obj.ContentType)

	msgs := env.publisher.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "tryon-events", msgs[0].Topic)
	event, ok := msgs[0].Payload.(tryon.CompletedEvent)
	require.True(t, ok)
	require.Equal(t, "id-1", event.SessionID)
	require.Equal(t, "id-2", event.RecordID)
}

func TestTryOnWithClothingURL(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.fetcher.pages[productPage] = htmlPage(productPage, `
		<img class="product" src="/img/product-front.jpg">
		<img class="product" src="/img/product-back.jpg">`)
	env.fetcher.images["https://shop.example/img/product-front.jpg"] = jpegBytes(t)

	res, err := env.svc.TryOn(context.Background(), tryon.TryOnRequest{
		PersonImage: pngBase64(t, color.White),
		ClothingURL: productPage,
		SessionID:   "existing-session",
	})
	require.NoError(t, err)
	require.Equal(t, "existing-session", res.SessionID)
	require.Equal(t, []string{"https://shop.example/img/product-front.jpg"}, env.fetcher.imageRequests())

	records, err := env.records.FindBySession(context.Background(), "existing-session", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, tryon.GarmentSourceURL, records[0].GarmentSource)
	require.Equal(t, "https://shop.example/img/product-front.jpg", records[0].GarmentURL)
	require.Equal(t, jpegBase64(t), records[0].ClothingImage)
}

func TestTryOnInputErrors(t *testing.T) {
	t.Parallel()

	valid := pngBase64(t, color.White)
	cases := []struct {
		name  string
		req   tryon.TryOnRequest
		want  error
		field string
	}{
		{"bad person", tryon.TryOnRequest{PersonImage: "not-base64!", ClothingImage: valid}, tryon.ErrInvalidImageFormat, "person"},
		{"gif person", tryon.TryOnRequest{PersonImage: base64.StdEncoding.EncodeToString([]byte("GIF89a")), ClothingImage: valid}, tryon.ErrInvalidImageFormat, "person"},
		{"both", tryon.TryOnRequest{PersonImage: valid, ClothingImage: valid, ClothingURL: productPage}, tryon.ErrConflictingInput, ""},
		{"neither", tryon.TryOnRequest{PersonImage: valid, ClothingURL: "  "}, tryon.ErrMissingGarment, ""},
		{"bad clothing", tryon.TryOnRequest{PersonImage: valid, ClothingImage: "aGVsbG8="}, tryon.ErrInvalidImageFormat, "clothing"},
	}
	for _, tc := range cases {
		env := newTestEnv(t)
		_, err := env.svc.TryOn(context.Background(), tc.req)
		require.ErrorIs(t, err, tc.want, tc.name)
		if tc.field != "" {
			var imgErr *tryon.ImageError
			require.ErrorAs(t, err, &imgErr, tc.name)
			require.Equal(t, tc.field, imgErr.Field, tc.name)
		}
		require.Empty(t, env.composer.calls, tc.name)
	}
}

func TestTryOnNoCandidates(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.fetcher.pages[productPage] = htmlPage(productPage, `<p>nothing here</p>`)

	_, err := env.svc.TryOn(context.Background(), tryon.TryOnRequest{
		PersonImage: pngBase64(t, color.White),
		ClothingURL: productPage,
	})
	require.ErrorIs(t, err, tryon.ErrNoCandidatesFound)
	require.Empty(t, env.fetcher.imageRequests())
}

func TestTryOnGarmentImageFailures(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.fetcher.pages[productPage] = htmlPage(productPage, `<img src="/img/look.jpg">`)
	env.fetcher.images["https://shop.example/img/look.jpg"] = []byte("<html>not an image</html>")

	_, err := env.svc.TryOn(context.Background(), tryon.TryOnRequest{
		PersonImage: pngBase64(t, color.White),
		ClothingURL: productPage,
	})
	require.ErrorIs(t, err, tryon.ErrSourceUnreachable)
	require.NotErrorIs(t, err, tryon.ErrInvalidImageFormat)

	env = newTestEnv(t)
	env.fetcher.pages[productPage] = htmlPage(productPage, `<img src="/img/look.jpg">`)
	_, err = env.svc.TryOn(context.Background(), tryon.TryOnRequest{
		PersonImage: pngBase64(t, color.White),
		ClothingURL: productPage,
	})
	require.ErrorIs(t, err, tryon.ErrSourceUnreachable)
}

func TestTryOnCompositionFailures(t *testing.T) {
	t.Parallel()

	for name, composer := range map[string]*fakeComposer{
		"error": {err: errors.New("quota exceeded")},
		"empty": {empty: true},
		"junk":  {result: base64.StdEncoding.EncodeToString([]byte("text only"))},
	} {
		env := newTestEnv(t)
		env.deps.Composer = composer
		svc := env.rebuild(t)

		_, err := svc.TryOn(context.Background(), tryon.TryOnRequest{
			PersonImage:   pngBase64(t, color.White),
			ClothingImage: jpegBase64(t),
		})
		require.ErrorIs(t, err, tryon.ErrCompositionFailed, name)
		records, findErr := env.records.FindBySession(context.Background(), "id-1", 0)
		require.NoError(t, findErr)
		require.Empty(t, records, name)
	}
}

func TestTryOnArchiveAndPublishFailuresAreNotFatal(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.deps.Blobs = failingBlobStore{}
	env.deps.Publisher = failingPublisher{}
	svc := env.rebuild(t)

	res, err := svc.TryOn(context.Background(), tryon.TryOnRequest{
		PersonImage:   pngBase64(t, color.White),
		ClothingImage: jpegBase64(t),
	})
	require.NoError(t, err)

	records, err := env.records.FindBySession(context.Background(), res.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Empty(t, records[0].BlobURIs)
}

func TestTryOnSaveFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.deps.Records = failingRecordStore{}
	svc := env.rebuild(t)

	_, err := svc.TryOn(context.Background(), tryon.TryOnRequest{
		PersonImage:   pngBase64(t, color.White),
		ClothingImage: jpegBase64(t),
	})
	require.ErrorContains(t, err, "save record")
	require.Empty(t, env.publisher.Messages())
}

func TestSessionReadModel(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	first := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, env.records.Save(ctx, tryon.TryOnRecord{
		ID: "r1", SessionID: "s1", ResultImage: "AAAA", ProcessingTime: "3.2s", CreatedAt: first,
	}))
	require.NoError(t, env.records.Save(ctx, tryon.TryOnRecord{
		ID: "r2", SessionID: "s1", ResultImage: "BBBB", CreatedAt: first.Add(time.Minute),
	}))

	view, err := env.svc.Session(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "s1", view.SessionID)
	require.Equal(t, first, view.CreatedAt)
	require.Equal(t, []tryon.SessionResult{
		{ID: "r1", ResultImage: "data:image/png;base64,AAAA", CreatedAt: first, ProcessingTime: "3.2s"},
		{ID: "r2", ResultImage: "data:image/png;base64,BBBB", CreatedAt: first.Add(time.Minute), ProcessingTime: "Unknown"},
	}, view.Results)
}

func TestSessionNotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, err := env.svc.Session(context.Background(), "missing")
	require.ErrorIs(t, err, tryon.ErrSessionNotFound)
	_, err = env.svc.Session(context.Background(), " ")
	require.ErrorIs(t, err, tryon.ErrSessionNotFound)
}

func TestSessionAppliesLimit(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.cfg.SessionLimit = 2
	svc := env.rebuild(t)
	for i := 0; i < 4; i++ {
		require.NoError(t, env.records.Save(context.Background(), tryon.TryOnRecord{
			ID: fmt.Sprintf("r%d", i), SessionID: "s1", CreatedAt: time.Unix(int64(i), 0).UTC(),
		}))
	}

	view, err := svc.Session(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, view.Results, 2)
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	deps := env.deps
	deps.Composer = nil
	_, err := New(env.cfg, deps, nil)
	require.Error(t, err)

	deps = env.deps
	deps.IDs = nil
	_, err = New(env.cfg, deps, nil)
	require.Error(t, err)
}

func TestBuildBlobPath(t *testing.T) {
	t.Parallel()

	svc := &Service{cfg: Config{ArchivePrefix: "/archive/"}}
	require.Equal(t, "archive/s1/abc.jpg", svc.buildBlobPath("s1", "abc", "jpeg"))
	svc.cfg.ArchivePrefix = ""
	require.Equal(t, "s1/abc.png", svc.buildBlobPath("s1", "abc", "png"))
}

func TestFormatProcessingTime(t *testing.T) {
	t.Parallel()

	require.Equal(t, "0.0s", formatProcessingTime(-time.Second))
	require.Equal(t, "3.4s", formatProcessingTime(3420*time.Millisecond))
}

// --- test environment ---

type testEnv struct {
	svc       *Service
	cfg       Config
	deps      Deps
	fetcher   *fakeFetcher
	composer  *fakeComposer
	records   *memstore.RecordStore
	blobs     *memstore.BlobStore
	publisher *memory.Publisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ex, err := extract.New(extract.DefaultOptions(), zap.NewNop())
	require.NoError(t, err)

	env := &testEnv{
		cfg:       Config{Prompt: "dress them", ArchivePrefix: "tryon", Topic: "tryon-events"},
		fetcher:   newFakeFetcher(),
		composer:  &fakeComposer{result: pngBase64(t, color.Black)},
		records:   memstore.NewRecordStore(),
		blobs:     memstore.NewBlobStore(),
		publisher: memory.New(),
	}
	env.deps = Deps{
		Fetcher:   env.fetcher,
		Extractor: ex,
		Composer:  env.composer,
		Records:   env.records,
		Blobs:     env.blobs,
		Publisher: env.publisher,
		Hasher:    sha256.New(),
		Clock:     &stepClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), step: 2500 * time.Millisecond},
		IDs:       &seqIDs{},
	}
	env.svc = env.rebuild(t)
	return env
}

func (e *testEnv) rebuild(t *testing.T) *Service {
	t.Helper()
	svc, err := New(e.cfg, e.deps, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func htmlPage(finalURL, body string) tryon.FetchResult {
	return tryon.FetchResult{
		URL:         finalURL,
		StatusCode:  http.StatusOK,
		ContentType: "text/html; charset=utf-8",
		Body:        []byte("<html><body>" + body + "</body></html>"),
	}
}

func pngBase64(t *testing.T, c color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, c)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2)), nil))
	return buf.Bytes()
}

func jpegBase64(t *testing.T) string {
	return base64.StdEncoding.EncodeToString(jpegBytes(t))
}

type fakeFetcher struct {
	mu        sync.Mutex
	pages     map[string]tryon.FetchResult
	images    map[string][]byte
	pageErr   error
	pageCount int
	imageReqs []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string]tryon.FetchResult{}, images: map[string][]byte{}}
}

func (f *fakeFetcher) FetchPage(_ context.Context, url string) (tryon.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCount++
	if f.pageErr != nil {
		return tryon.FetchResult{}, f.pageErr
	}
	page, ok := f.pages[url]
	if !ok {
		return tryon.FetchResult{}, &tryon.FetchError{Category: tryon.FetchNotFound, URL: url, StatusCode: http.StatusNotFound}
	}
	return page, nil
}

func (f *fakeFetcher) FetchImage(_ context.Context, url string) (tryon.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageReqs = append(f.imageReqs, url)
	data, ok := f.images[url]
	if !ok {
		return tryon.FetchResult{}, &tryon.FetchError{Category: tryon.FetchNotFound, URL: url, StatusCode: http.StatusNotFound}
	}
	return tryon.FetchResult{URL: url, StatusCode: http.StatusOK, Body: data}, nil
}

func (f *fakeFetcher) pageCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageCount
}

func (f *fakeFetcher) imageRequests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.imageReqs...)
}

type fakeRenderer struct {
	result tryon.FetchResult
	err    error
	calls  int
}

func (r *fakeRenderer) Render(context.Context, string) (tryon.FetchResult, error) {
	r.calls++
	if r.err != nil {
		return tryon.FetchResult{}, r.err
	}
	res := r.result
	res.UsedHeadless = true
	return res, nil
}

type fakeDetector bool

func (d fakeDetector) ShouldRender(tryon.FetchResult) bool { return bool(d) }

type composeCall struct {
	person, garment, prompt string
}

type fakeComposer struct {
	result string
	empty  bool
	err    error
	calls  []composeCall
}

func (c *fakeComposer) Compose(_ context.Context, person, garment, prompt string) (string, error) {
	c.calls = append(c.calls, composeCall{person: person, garment: garment, prompt: prompt})
	if c.err != nil {
		return "", c.err
	}
	if c.empty {
		return "", nil
	}
	return c.result, nil
}

type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type failingBlobStore struct{}

func (failingBlobStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket gone")
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("topic gone")
}

type failingRecordStore struct{}

func (failingRecordStore) Save(context.Context, tryon.TryOnRecord) error {
	return errors.New("db down")
}

func (failingRecordStore) FindBySession(context.Context, string, int) ([]tryon.TryOnRecord, error) {
	return nil, errors.New("db down")
}
