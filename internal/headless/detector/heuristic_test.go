package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/virtual-tryon/internal/tryon"
)

func page(body string) tryon.FetchResult {
	return tryon.FetchResult{StatusCode: 200, ContentType: "text/html", Body: []byte(body)}
}

func TestHeuristic_ShouldRender_EmptyBody(t *testing.T) {
	t.Parallel()

	require.True(t, NewHeuristic(100).ShouldRender(page("")))
}

func TestHeuristic_ShouldRender_SPAMarkers(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	require.True(t, h.ShouldRender(page(`<div id="__next"></div><img src="/x.jpg">`)))
	require.True(t, h.ShouldRender(page(`<div id="__NUXT__"></div><img src="/x.jpg">`)))
}

func TestHeuristic_ShouldRender_ScriptDensity(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(1000)
	require.True(t, h.ShouldRender(page(`<html><script>var a=1;</script><p>t</p><img src="/a.jpg"></html>`)))
}

func TestHeuristic_ShouldRender_NoImagesButScripts(t *testing.T) {
	t.Parallel()

	body := "<html><body><main>" + strings.Repeat("<p>copy</p>", 500) +
		"</main><script src=\"/bundle.js\"></script></body></html>"
	require.True(t, NewHeuristic(100).ShouldRender(page(body)))
}

func TestHeuristic_ShouldRender_StaticPage(t *testing.T) {
	t.Parallel()

	body := "<html><body>" + strings.Repeat("<p>copy</p>", 500) + `<img src="/logo.svg"></body></html>`
	require.False(t, NewHeuristic(100).ShouldRender(page(body)))
}

func TestHeuristic_ShouldRender_Skips(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	notFound := page("not found")
	notFound.StatusCode = 404
	require.False(t, h.ShouldRender(notFound))

	rendered := page("")
	rendered.UsedHeadless = true
	require.False(t, h.ShouldRender(rendered))

	img := page("")
	img.ContentType = "image/jpeg"
	require.False(t, h.ShouldRender(img))
}
