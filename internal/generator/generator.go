// Package generator turns retrieved diary passages, the conversation so far
// and a question into a prompt and asks a language model to answer it.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/felixgeelhaar/diario/internal/observe"
	"github.com/felixgeelhaar/diario/internal/provider"
	"github.com/felixgeelhaar/diario/internal/retriever"
	"github.com/felixgeelhaar/diario/internal/retry"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultMaxContextChars bounds the diary context placed in a prompt.
const DefaultMaxContextChars = 12000

const preamble = `You are a private assistant answering questions about the user's personal diary.
Answer only from the diary context and the conversation below.
If the diary does not contain the answer, say that the diary does not mention it.
Never invent events, people, dates or feelings that are not written there.
Answer in the language of the question.`

const noContext = "(no diary entries matched this question)"

// DefaultPolicy returns the completion retry policy: two attempts and a
// generous per-attempt deadline.
func DefaultPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 2,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Timeout:     60 * time.Second,
	}
}

// Options configures a Generator.
type Options struct {
	Policy          retry.Policy
	MaxContextChars int
}

func DefaultOptions() Options {
	return Options{Policy: DefaultPolicy(), MaxContextChars: DefaultMaxContextChars}
}

type Generator struct {
	completer provider.Completer
	opts      Options
	obs       *observe.Observer
}

func New(completer provider.Completer, opts Options, obs *observe.Observer) *Generator {
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = DefaultMaxContextChars
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = DefaultPolicy()
	}
	return &Generator{completer: completer, opts: opts, obs: observe.OrNop(obs)}
}

// BuildPrompt assembles the prompt: instructions, the dated diary context,
// the conversation transcript and finally the question. Passages are
// expected best first; when the context exceeds maxContextChars the lowest
// ranked passages are dropped. maxContextChars <= 0 disables the limit.
func BuildPrompt(question string, passages []retriever.Passage, transcript string, maxContextChars int) string {
	var b strings.Builder
	b.WriteString(preamble)

	b.WriteString("\n\nDiary context:")
	kept := fitContext(passages, maxContextChars)
	if len(kept) == 0 {
		b.WriteString("\n")
		b.WriteString(noContext)
	}
	for _, p := range kept {
		b.WriteString("\n")
		b.WriteString(contextLine(p))
	}

	b.WriteString("\n\nConversation so far:\n")
	if t := strings.TrimSpace(transcript); t != "" {
		b.WriteString(t)
	} else {
		b.WriteString("(none)")
	}

	b.WriteString("\n\nQuestion: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\nAnswer:")
	return b.String()
}

func contextLine(p retriever.Passage) string {
	return "[" + p.Date + "] " + strings.TrimSpace(p.Text)
}

// fitContext keeps the best-ranked passages whose lines fit in limit
// bytes. The best passage is always kept, cut short when it alone is too
// long, so an oversized match is never reported as no match.
func fitContext(passages []retriever.Passage, limit int) []retriever.Passage {
	if limit <= 0 {
		return passages
	}
	total := 0
	for i, p := range passages {
		total += len(contextLine(p)) + 1
		if total > limit {
			if i == 0 {
				return []retriever.Passage{truncate(p, limit)}
			}
			return passages[:i]
		}
	}
	return passages
}

// truncate shortens p's text so its context line takes at most limit bytes.
func truncate(p retriever.Passage, limit int) retriever.Passage {
	room := limit - len(contextLine(retriever.Passage{Date: p.Date})) - 1
	text := strings.TrimSpace(p.Text)
	if room < len(text) {
		cut := max(room, 0)
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	p.Text = text
	return p
}

// Generate answers question from passages and transcript. Unavailable
// models are retried per the policy; an empty answer is returned as
// provider.ErrModelEmptyResponse right away. The answer text is returned
// as the model produced it.
func (g *Generator) Generate(ctx context.Context, question string, passages []retriever.Passage, transcript string) (string, error) {
	ctx, span := g.obs.StartSpan(ctx, "generator.Generate")
	defer span.End()

	prompt := BuildPrompt(question, passages, transcript, g.opts.MaxContextChars)
	span.SetAttributes(attribute.Int("prompt_chars", len(prompt)), attribute.Int("passages", len(passages)))

	retryable := func(err error) bool { return errors.Is(err, provider.ErrModelUnavailable) }
	answer, attempts, err := retry.Value(ctx, g.opts.Policy, retryable, func(ctx context.Context) (string, error) {
		out, err := g.completer.Complete(ctx, prompt)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
				return "", fmt.Errorf("completion timed out: %w: %w", provider.ErrModelUnavailable, err)
			}
			return "", err
		}
		if strings.TrimSpace(out) == "" {
			return "", provider.ErrModelEmptyResponse
		}
		return out, nil
	})
	span.SetAttributes(attribute.Int("attempts", attempts))
	if err != nil {
		span.RecordError(err)
		g.obs.Log().Warn().Int("attempts", attempts).Err(err).Msg("answer generation failed")
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}
	return answer, nil
}
