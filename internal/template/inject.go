package template

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// hrefRe matches href attributes in rendered HTML. Only http(s) targets
// are rewritten; mailto links, anchors, and template leftovers pass
// through untouched.
var hrefRe = regexp.MustCompile(`href\s*=\s*["']([^"']+)["']`)

// Injector rewrites rendered HTML with tracking instrumentation. BaseURL
// is the public tracking host ("https://track.example.com"); tokens come
// from the delivery's tracking token.
type Injector struct {
	BaseURL     string
	TrackOpens  bool
	TrackClicks bool
}

// PixelURL returns the open-tracking pixel URL for a token.
func (i *Injector) PixelURL(token string) string {
	return fmt.Sprintf("%s/track/%s", strings.TrimRight(i.BaseURL, "/"), token)
}

// ClickURL returns the redirect URL that records a click before sending
// the recipient on to the original target.
func (i *Injector) ClickURL(token, original string) string {
	return fmt.Sprintf("%s/track-click/%s?url=%s",
		strings.TrimRight(i.BaseURL, "/"), token, url.QueryEscape(original))
}

// UnsubscribeURL returns the one-click unsubscribe URL for a token.
func (i *Injector) UnsubscribeURL(token string) string {
	return fmt.Sprintf("%s/unsubscribe/%s", strings.TrimRight(i.BaseURL, "/"), token)
}

// Inject rewrites links and appends the open pixel according to the
// tracking toggles.
func (i *Injector) Inject(html, token string) string {
	if i.TrackClicks {
		html = hrefRe.ReplaceAllStringFunc(html, func(m string) string {
			sub := hrefRe.FindStringSubmatch(m)
			target := sub[1]
			if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
				return m
			}
			if strings.HasPrefix(target, strings.TrimRight(i.BaseURL, "/")) {
				return m // already instrumented
			}
			return strings.Replace(m, target, i.ClickURL(token, target), 1)
		})
	}

	if i.TrackOpens {
		pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" border="0" alt="" style="display:block" />`, i.PixelURL(token))
		if idx := strings.LastIndex(strings.ToLower(html), "</body>"); idx >= 0 {
			html = html[:idx] + pixel + html[idx:]
		} else {
			html += pixel
		}
	}
	return html
}

// Headers returns the unsubscribe headers for a delivery. RFC 8058
// one-click requires both headers together.
func (i *Injector) Headers(token string) map[string]string {
	return map[string]string{
		"List-Unsubscribe":      fmt.Sprintf("<%s>", i.UnsubscribeURL(token)),
		"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
	}
}
