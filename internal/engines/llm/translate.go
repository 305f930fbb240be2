package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"dubline/internal/language"
	"dubline/internal/services"
)

// DefaultBatchSize bounds how many texts go into one completion.
const DefaultBatchSize = 20

const translationPrompt = `You translate transcribed dialogue for a video dub.
Return JSON only, shaped as {"translations": ["..."]} with exactly one entry per input text, in the same order.
Keep each translation close in length to its source so it can be spoken in the same time window.
Do not merge, split, drop, or annotate entries. Preserve names and numbers.`

// Translator implements engines.Translator on top of Client.
type Translator struct {
	client    *Client
	batchSize int
}

// NewTranslator wraps client. A non-positive batchSize uses DefaultBatchSize.
func NewTranslator(client *Client, batchSize int) *Translator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Translator{client: client, batchSize: batchSize}
}

type translationRequest struct {
	SourceLanguage string   `json:"source_language"`
	TargetLanguage string   `json:"target_language"`
	Texts          []string `json:"texts"`
}

type translationResponse struct {
	Translations []string `json:"translations"`
}

// Translate returns one translation per text. Blank texts are passed through
// without a request.
func (t *Translator) Translate(ctx context.Context, texts []string, sourceLanguage, targetLanguage string) ([]string, error) {
	if strings.TrimSpace(targetLanguage) == "" {
		return nil, services.Wrap(services.ErrValidation, "", "translate", "target language required", nil)
	}
	out := make([]string, len(texts))
	var pending []int
	for i, text := range texts {
		if strings.TrimSpace(text) != "" {
			pending = append(pending, i)
		}
	}

	for start := 0; start < len(pending); start += t.batchSize {
		end := min(start+t.batchSize, len(pending))
		batch := pending[start:end]
		inputs := make([]string, len(batch))
		for i, idx := range batch {
			inputs[i] = texts[idx]
		}
		translated, err := t.translateBatch(ctx, inputs, sourceLanguage, targetLanguage)
		if err != nil {
			return nil, err
		}
		for i, idx := range batch {
			out[idx] = translated[i]
		}
	}
	return out, nil
}

func (t *Translator) translateBatch(ctx context.Context, texts []string, sourceLanguage, targetLanguage string) ([]string, error) {
	source := "the detected source language"
	if !language.IsAuto(sourceLanguage) {
		source = language.DisplayName(sourceLanguage)
	}
	body, err := json.Marshal(translationRequest{
		SourceLanguage: source,
		TargetLanguage: language.DisplayName(targetLanguage),
		Texts:          texts,
	})
	if err != nil {
		return nil, fmt.Errorf("encode translation request: %w", err)
	}

	content, err := t.client.CompleteJSON(ctx, translationPrompt, string(body))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrCollaborator, "", "translate", "chat completion", err)
	}
	var parsed translationResponse
	if err := DecodeJSON(content, &parsed); err != nil {
		return nil, services.Wrap(services.ErrCollaborator, "", "translate", "parse response", err)
	}
	if len(parsed.Translations) != len(texts) {
		return nil, services.Wrap(services.ErrCollaborator, "", "translate",
			fmt.Sprintf("expected %d translations, got %d", len(texts), len(parsed.Translations)), nil)
	}
	for i := range parsed.Translations {
		parsed.Translations[i] = strings.TrimSpace(parsed.Translations[i])
	}
	return parsed.Translations, nil
}
