package extract

import "strings"

// Mode selects how permissive the candidate filter is.
type Mode int

// Filter modes, from most to least strict.
const (
	// Strict requires a product keyword and an image extension.
	Strict Mode = iota
	// Broad requires an image extension and rejects page chrome.
	Broad
	// LastResort only requires an image extension.
	LastResort
)

func (m Mode) String() string {
	switch m {
	case Strict:
		return "strict"
	case Broad:
		return "broad"
	case LastResort:
		return "last_resort"
	default:
		return "unknown"
	}
}

var (
	productKeywords = []string{"product", "item", "clothing", "fashion", "model"}
	chromeKeywords  = []string{"logo", "icon", "social", "footer", "header", "nav"}
	imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}
)

type filterRule struct {
	require []string
	reject  []string
}

var filterRules = map[Mode]filterRule{
	Strict:     {require: productKeywords},
	Broad:      {reject: chromeKeywords},
	LastResort: {},
}

// IsPlausible reports whether rawURL looks like a garment photo under mode.
// Keyword and extension checks are case-insensitive substring matches.
func IsPlausible(rawURL string, mode Mode) bool {
	rule, ok := filterRules[mode]
	if !ok {
		return false
	}
	if !strings.HasPrefix(rawURL, "http") {
		return false
	}
	lower := strings.ToLower(rawURL)
	if !containsAny(lower, imageExtensions) {
		return false
	}
	if len(rule.require) > 0 && !containsAny(lower, rule.require) {
		return false
	}
	return !containsAny(lower, rule.reject)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
