package template

import (
	"context"
	"strings"
	"testing"
)

func TestRenderSubstitutesVariables(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render(context.Background(), nil,
		"<p>Hello {{ name }}, welcome to {{ product }}!</p>",
		map[string]any{"name": "Ana", "product": "Emailer"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "<p>Hello Ana, welcome to Emailer!</p>" {
		t.Errorf("Render = %q", out)
	}
}

func TestRenderDefaultFilter(t *testing.T) {
	r := NewRenderer()
	tests := []struct {
		vars map[string]any
		want string
	}{
		{map[string]any{"name": "Ana"}, "Hi Ana"},
		{map[string]any{"name": ""}, "Hi Friend"},
		{map[string]any{}, "Hi Friend"},
	}
	for _, tt := range tests {
		out, err := r.Render(context.Background(), nil, `Hi {{ name | default: "Friend" }}`, tt.vars)
		if err != nil {
			t.Fatalf("Render: %v", err)
		}
		if out != tt.want {
			t.Errorf("Render(%v) = %q, want %q", tt.vars, out, tt.want)
		}
	}
}

func TestRenderInvalidTemplate(t *testing.T) {
	r := NewRenderer()
	if _, err := r.Render(context.Background(), nil, "{% if %}", nil); err == nil {
		t.Error("Render must fail on malformed liquid")
	}
}

func TestInjectRewritesLinks(t *testing.T) {
	inj := &Injector{BaseURL: "https://track.example.com", TrackClicks: true}
	html := `<a href="https://shop.example.com/offer?x=1">Buy</a> <a href="mailto:a@b.co">mail</a> <a href="#top">top</a>`

	out := inj.Inject(html, "tok123")
	if !strings.Contains(out, `https://track.example.com/track-click/tok123?url=https%3A%2F%2Fshop.example.com%2Foffer%3Fx%3D1`) {
		t.Errorf("link not rewritten: %s", out)
	}
	if !strings.Contains(out, `href="mailto:a@b.co"`) {
		t.Error("mailto link must not be rewritten")
	}
	if !strings.Contains(out, `href="#top"`) {
		t.Error("anchor link must not be rewritten")
	}
}

func TestInjectDoesNotDoubleWrap(t *testing.T) {
	inj := &Injector{BaseURL: "https://track.example.com", TrackClicks: true}
	html := `<a href="https://shop.example.com/offer">Buy</a>`

	once := inj.Inject(html, "tok123")
	twice := inj.Inject(once, "tok123")
	if once != twice {
		t.Error("re-injecting must be a no-op for already-tracked links")
	}
}

func TestInjectAppendsPixel(t *testing.T) {
	inj := &Injector{BaseURL: "https://track.example.com", TrackOpens: true}

	out := inj.Inject("<html><body><p>hi</p></body></html>", "tok123")
	pixelIdx := strings.Index(out, "https://track.example.com/track/tok123")
	bodyIdx := strings.Index(out, "</body>")
	if pixelIdx < 0 {
		t.Fatalf("pixel not injected: %s", out)
	}
	if pixelIdx > bodyIdx {
		t.Error("pixel must land before </body>")
	}

	// No body tag: the pixel goes at the end.
	out = inj.Inject("<p>hi</p>", "tok123")
	if !strings.HasSuffix(out, `style="display:block" />`) {
		t.Errorf("pixel not appended: %s", out)
	}
}

func TestInjectRespectsToggles(t *testing.T) {
	inj := &Injector{BaseURL: "https://track.example.com"}
	html := `<a href="https://shop.example.com">Buy</a>`
	if got := inj.Inject(html, "tok123"); got != html {
		t.Errorf("Inject with tracking off changed the content: %q", got)
	}
}

func TestHeaders(t *testing.T) {
	inj := &Injector{BaseURL: "https://track.example.com/"}
	h := inj.Headers("tok123")
	if h["List-Unsubscribe"] != "<https://track.example.com/unsubscribe/tok123>" {
		t.Errorf("List-Unsubscribe = %q", h["List-Unsubscribe"])
	}
	if h["List-Unsubscribe-Post"] != "List-Unsubscribe=One-Click" {
		t.Errorf("List-Unsubscribe-Post = %q", h["List-Unsubscribe-Post"])
	}
}
