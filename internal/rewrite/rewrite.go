// Package rewrite polishes transcripts through a remote text-generation
// service.
package rewrite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/snarg/voicenote/internal/transcribe"
)

// ErrRewrite marks any generation failure, including an empty result.
var ErrRewrite = errors.New("rewrite failed")

const systemPrompt = "You are a helpful assistant."

// Generator is a single-turn text-generation backend.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
	Name() string
}

// Request selects how a transcript is rewritten. A non-empty Instruction
// replaces the style template.
type Request struct {
	Style       Style
	Instruction string
}

// instruction returns the text the request resolves to.
func (r Request) instruction() string {
	if s := strings.TrimSpace(r.Instruction); s != "" {
		return s
	}
	return Template(r.Style)
}

// Rewriter combines an instruction and a transcript into one generation call.
type Rewriter struct {
	gen Generator
}

func New(gen Generator) *Rewriter {
	return &Rewriter{gen: gen}
}

func (r *Rewriter) Rewrite(ctx context.Context, t transcribe.Transcript, req Request) (string, error) {
	prompt := req.instruction() + "\n\n" + t.Text
	out, err := r.gen.Generate(ctx, systemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRewrite, r.gen.Name(), err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("%w: %s: empty result", ErrRewrite, r.gen.Name())
	}
	return out, nil
}
