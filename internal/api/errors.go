package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/JakeFAU/virtual-tryon/internal/tryon"
)

// Messages shown to end users. Source failures all point at direct upload.
const (
	msgInternal          = "Internal server error"
	msgTimeout           = "The request took too long. Please try again."
	msgScrapeUnreachable = "Unable to access the website. This could be due to the site blocking automated requests. " +
		"Try using a direct image upload instead."
	msgScrapeExtract  = "Failed to extract images from the webpage. Try using a direct image upload instead."
	msgInvalidPerson  = "Invalid person image format"
	msgInvalidGarment = "Invalid clothing image format"
	msgConflicting    = "Provide either clothing_url OR clothing_image, not both"
	msgMissing        = "Either clothing_url or clothing_image must be provided"
	msgNoCandidates   = "No suitable clothing images found at the URL. " +
		"Try using a direct image upload or a different product URL."
	msgGarmentSource = "Failed to process clothing from URL. The website might be blocking access or the URL " +
		"might not contain suitable images. Try uploading the image directly instead."
	msgComposition     = "AI failed to generate try-on image"
	msgSessionNotFound = "Session not found"
)

func scrapeErrorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, tryon.ErrSourceBlocked), errors.Is(err, tryon.ErrSourceUnreachable):
		return http.StatusBadRequest, msgScrapeUnreachable
	case errors.Is(err, tryon.ErrNoCandidatesFound):
		return http.StatusBadRequest, msgScrapeExtract
	default:
		return fallbackResponse(err)
	}
}

func tryOnErrorResponse(err error) (int, string) {
	var imgErr *tryon.ImageError
	switch {
	case errors.As(err, &imgErr):
		if imgErr.Field == "person" {
			return http.StatusBadRequest, msgInvalidPerson
		}
		return http.StatusBadRequest, msgInvalidGarment
	case errors.Is(err, tryon.ErrConflictingInput):
		return http.StatusBadRequest, msgConflicting
	case errors.Is(err, tryon.ErrMissingGarment):
		return http.StatusBadRequest, msgMissing
	case errors.Is(err, tryon.ErrNoCandidatesFound):
		return http.StatusBadRequest, msgNoCandidates
	case errors.Is(err, tryon.ErrSourceBlocked), errors.Is(err, tryon.ErrSourceUnreachable):
		return http.StatusBadRequest, msgGarmentSource
	case errors.Is(err, tryon.ErrCompositionFailed):
		return http.StatusInternalServerError, msgComposition
	default:
		return fallbackResponse(err)
	}
}

func sessionErrorResponse(err error) (int, string) {
	if errors.Is(err, tryon.ErrSessionNotFound) {
		return http.StatusNotFound, msgSessionNotFound
	}
	return fallbackResponse(err)
}

func fallbackResponse(err error) (int, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, msgTimeout
	}
	return http.StatusInternalServerError, msgInternal
}
