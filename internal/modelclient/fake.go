package modelclient

import (
	"context"
	"encoding/json"
	"fmt"
)

// Fake is a deterministic in-memory Client for tests: no network call ever
// occurs. TextFor and JSONFor are consulted by model id, so tests can force a
// judge's score or a planner's graph per model, as the dynamic-executor
// scenarios do for a specific quality trajectory per tier.
type Fake struct {
	// TextFor, if set, returns the text to emit for a given model id,
	// otherwise a synthetic placeholder is generated.
	TextFor map[string]string
	// JSONFor returns the raw JSON payload for generate_json calls, keyed by
	// model id.
	JSONFor map[string]json.RawMessage
	// Calls records every (op, model) pair invoked, in order.
	Calls []string
	// Fail, if set, makes every call to this model id return an error.
	Fail map[string]bool
}

func (f *Fake) Generate(ctx context.Context, model, prompt string, opts Options) (Result, error) {
	f.Calls = append(f.Calls, "generate:"+model)
	if f.Fail[model] {
		return Result{}, fmt.Errorf("modelclient fake: forced failure for %s", model)
	}
	text := f.TextFor[model]
	if text == "" {
		text = "[" + model + "] response to: " + truncate(prompt, 40)
	}
	completion := opts.MaxOutputTokens / 4
	if completion < 1 {
		completion = 1
	}
	return Result{Text: text, Usage: Usage{PromptTokens: len(prompt) / 4, CompletionTokens: completion}}, nil
}

func (f *Fake) GenerateStream(ctx context.Context, model, prompt string, opts Options) (<-chan StreamChunk, error) {
	res, err := f.Generate(ctx, model, prompt, opts)
	if err != nil {
		return nil, err
	}
	ch := make(chan StreamChunk, 2)
	ch <- StreamChunk{TextDelta: res.Text}
	ch <- StreamChunk{Done: true, Usage: res.Usage}
	close(ch)
	return ch, nil
}

func (f *Fake) GenerateJSON(ctx context.Context, model string, schema json.RawMessage, prompt, systemInstruction string, temperature float64) (json.RawMessage, Usage, error) {
	f.Calls = append(f.Calls, "generate_json:"+model)
	if f.Fail[model] {
		return nil, Usage{}, fmt.Errorf("modelclient fake: forced failure for %s", model)
	}
	payload, ok := f.JSONFor[model]
	if !ok {
		return nil, Usage{}, fmt.Errorf("modelclient fake: no JSON fixture registered for model %s", model)
	}
	return payload, Usage{PromptTokens: len(prompt) / 4, CompletionTokens: len(payload) / 4}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
