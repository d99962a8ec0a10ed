package strategy

import (
	"context"

	"github.com/use-agent/purify/models"
	"github.com/use-agent/purify/sandbox"
)

// sandboxRenderStrategy is §4.6.5: invokes the Sandbox Runtime, then
// re-runs static parse on the serialized DOM.
type sandboxRenderStrategy struct {
	runtime     *sandbox.Runtime
	staticParse Strategy
}

// NewSandboxRenderStrategy wraps a Sandbox Runtime and a static-parse
// strategy as a single chain element.
func NewSandboxRenderStrategy(rt *sandbox.Runtime, staticParse Strategy) Strategy {
	return &sandboxRenderStrategy{runtime: rt, staticParse: staticParse}
}

func (s *sandboxRenderStrategy) Name() string { return "sandbox-render" }

func (s *sandboxRenderStrategy) Extract(ctx context.Context, rawURL, html string, opts Options) (*models.ContentResult, error) {
	res := s.runtime.Run(ctx, rawURL, html)
	if res.NeedsFullBrowser {
		return nil, nil // defer to the browser tier
	}

	result, err := s.staticParse.Extract(ctx, rawURL, res.HTML, opts)
	if err != nil || result == nil {
		return result, err
	}
	result.Meta.Strategy = s.Name()
	result.Meta.Confidence = models.ConfidenceMedium
	for _, scriptErr := range res.ScriptErrors {
		result.Warnings = append(result.Warnings, "sandbox script error: "+scriptErr)
	}
	return result, nil
}
