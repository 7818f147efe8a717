// Package template renders campaign content with Liquid and injects the
// tracking instrumentation (open pixel, rewritten links, unsubscribe).
package template

import (
	"context"
	"crypto/md5"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/osteele/liquid"
)

// Renderer renders Liquid campaign content. Parsed templates are cached
// by content hash, so repeat sends of the same campaign parse once.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // md5(content) -> *liquid.Template
}

// NewRenderer creates a Renderer with the engine filters registered.
func NewRenderer() *Renderer {
	r := &Renderer{engine: liquid.NewEngine()}

	// {{ first_name | default: "Friend" }}
	r.engine.RegisterFilter("default", func(value any, defaultVal string) any {
		if value == nil {
			return defaultVal
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})
	return r
}

// Render implements domain.TemplateProvider. The template id is unused
// here; content arrives already resolved by the campaign.
func (r *Renderer) Render(_ context.Context, _ *uuid.UUID, content string, vars map[string]any) (string, error) {
	key := fmt.Sprintf("%x", md5.Sum([]byte(content)))
	var tpl *liquid.Template
	if cached, ok := r.cache.Load(key); ok {
		tpl = cached.(*liquid.Template)
	} else {
		parsed, err := r.engine.ParseString(content)
		if err != nil {
			return "", fmt.Errorf("parse template: %w", err)
		}
		r.cache.Store(key, parsed)
		tpl = parsed
	}

	out, err := tpl.RenderString(vars)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}
