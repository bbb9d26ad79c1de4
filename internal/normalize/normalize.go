// Package normalize applies symbology-specific rewrites to decoded codes and
// renders confirmation artwork for them. Both detection paths (live frames
// and still images) go through the same functions so results look identical
// regardless of where they came from.
package normalize

import (
	"net/url"
	"strings"
	"unicode"

	"github.com/roach88/qbar/internal/scan"
)

// NotURLMessage is shown when the user asks to open a payload that is not a link.
const NotURLMessage = "This QR Code does not have a URL. Please try another one."

// Normalize rewrites a raw payload and symbology into their exposed form.
//
// A 13-digit EAN code with a leading zero is a 12-digit UPC-A code in
// disguise: the zero is stripped and the symbology re-tagged. Everything else
// is returned unchanged.
func Normalize(payload string, sym scan.Symbology) (string, scan.Symbology) {
	if sym == scan.EAN13 && strings.HasPrefix(payload, "0") {
		return payload[1:], scan.UPCA
	}
	return payload, sym
}

// Event builds a detection event from a raw code, normalizing it on the way.
// The event carries no image; consumers render one with RenderImage.
func Event(raw scan.RawCode, src scan.Source) scan.DetectionEvent {
	payload, sym := Normalize(raw.Payload, raw.Symbology)
	return scan.DetectionEvent{
		Payload:   payload,
		Symbology: sym,
		Source:    src,
	}
}

// IsLikelyURL reports whether an "open link" action makes sense for payload.
func IsLikelyURL(payload string) bool {
	p := strings.TrimSpace(payload)
	if p == "" {
		return false
	}

	if u, err := url.Parse(p); err == nil {
		scheme := strings.ToLower(u.Scheme)
		if (scheme == "http" || scheme == "https") && u.Host != "" {
			return true
		}
	}

	// Payloads such as "Visit https://example.com" still carry a link, as
	// long as something follows the scheme.
	lower := strings.ToLower(p)
	for _, scheme := range []string{"http://", "https://"} {
		rest := lower
		for {
			i := strings.Index(rest, scheme)
			if i < 0 {
				break
			}
			rest = rest[i+len(scheme):]
			if rest != "" && !unicode.IsSpace(rune(rest[0])) {
				return true
			}
		}
	}
	return false
}
