// Package compose turns the week's inputs into the digest body, either with
// the rule-based assembler or through an external language-model call that
// falls back to it.
package compose

import (
	"context"
	"errors"

	"famdigest/internal/config"
	"famdigest/internal/digest"
	appLog "famdigest/internal/log"
	"famdigest/internal/model"
	"famdigest/internal/week"
)

// ErrCompositionCall marks every failure of the external composition path.
var ErrCompositionCall = errors.New("composition call failed")

// Input is everything a composer may use.
type Input struct {
	Target week.Target
	Locale digest.Locale
	People []model.Person

	// RawText is the stripped school page text per person name.
	RawText map[string]string
	// Lines are the classified school lines; only kept ones are rendered.
	Lines  []model.SchoolLine
	Events []model.Event

	Diagnostics []string
}

// Composer produces a digest body.
type Composer interface {
	Name() string
	Compose(ctx context.Context, in Input) (string, error)
}

// RuleComposer renders the assembled digest. It never fails.
type RuleComposer struct{}

func (RuleComposer) Name() string { return "rules" }

func (RuleComposer) Compose(_ context.Context, in Input) (string, error) {
	return digest.Render(assemble(in)), nil
}

func assemble(in Input) *digest.Digest {
	return digest.Assemble(in.Target, in.People, in.Lines, in.Events, digest.Options{
		Locale:      in.Locale,
		Diagnostics: in.Diagnostics,
	})
}

// FallbackComposer tries Primary and, on any error, logs the reason and
// returns Fallback's output instead.
type FallbackComposer struct {
	Primary  Composer
	Fallback Composer
	// OnFallback, if set, is called with the primary's error.
	OnFallback func(err error)
}

func (f *FallbackComposer) Name() string { return f.Primary.Name() }

func (f *FallbackComposer) Compose(ctx context.Context, in Input) (string, error) {
	body, err := f.Primary.Compose(ctx, in)
	if err == nil {
		return body, nil
	}
	appLog.Warn("composition failed, using fallback",
		"composer", f.Primary.Name(),
		"fallback", f.Fallback.Name(),
		"week", in.Target.String(),
		"err", err)
	if f.OnFallback != nil {
		f.OnFallback(err)
	}
	return f.Fallback.Compose(ctx, in)
}

// New returns the composer selected by cfg: the rule composer, or the
// language-model composer falling back to it.
func New(cfg config.LLMConfig, onFallback func(error)) Composer {
	if !cfg.Enabled {
		return RuleComposer{}
	}
	return &FallbackComposer{
		Primary:    NewLLMComposer(cfg),
		Fallback:   RuleComposer{},
		OnFallback: onFallback,
	}
}
