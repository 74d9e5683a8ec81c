package translator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/MimeLyc/subrelay/internal/apperr"
	"github.com/MimeLyc/subrelay/internal/llm"
)

const inlineBreakerPlaceholder = "%%inline_breaker%%"

// ChatClient is the slice of llm.Client the backend needs.
type ChatClient interface {
	SimpleChat(ctx context.Context, prompt string, systemPrompt string) (string, error)
}

// LLMBackend implements Backend with one chat completion per call. Lines travel as an
// indexed JSON payload and come back as indexed JSON.
type LLMBackend struct {
	client ChatClient
}

func NewLLMBackend(client ChatClient) *LLMBackend {
	return &LLMBackend{client: client}
}

func (b *LLMBackend) TranslateMany(ctx context.Context, texts []string, targetLanguage string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	escaped := make([]string, len(texts))
	for i, text := range texts {
		escaped[i] = strings.ReplaceAll(text, "\n", inlineBreakerPlaceholder)
	}

	payload, err := buildTranslationUserMessage(escaped)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindTranslation, apperr.CodeTranslationFailed, "build translation request")
	}

	content, err := b.client.SimpleChat(ctx, payload, buildSystemPrompt(LanguageName(targetLanguage)))
	if err != nil {
		return nil, classifyBackendError(err)
	}

	out, err := parseTranslationOutput(content, len(texts))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindTranslation, apperr.CodeTranslationFailed, "unusable translation response")
	}

	for i := range out {
		if strings.TrimSpace(texts[i]) == "" {
			out[i] = texts[i]
			continue
		}
		out[i] = strings.ReplaceAll(out[i], inlineBreakerPlaceholder, "\n")
	}
	return out, nil
}

func classifyBackendError(err error) error {
	var apiErr *llm.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests:
		return apperr.Wrap(err, apperr.KindTranslation, apperr.CodeRateLimited, "translation backend rate limited")
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrap(err, apperr.KindTranslation, apperr.CodeTimeout, "translation timed out")
	default:
		return apperr.Wrap(err, apperr.KindTranslation, apperr.CodeTranslationFailed, "translation backend failed")
	}
}

type indexedLine struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

func buildTranslationUserMessage(texts []string) (string, error) {
	payload := struct {
		Lines []indexedLine `json:"lines"`
	}{Lines: make([]indexedLine, len(texts))}

	for i, text := range texts {
		payload.Lines[i] = indexedLine{Index: i + 1, Text: text}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// parseTranslationOutput accepts an array of {index, text} objects in any order, an
// object wrapping one under "lines", or a plain string array. Code fences are ignored.
func parseTranslationOutput(content string, want int) ([]string, error) {
	content = stripCodeFence(strings.TrimSpace(content))
	if content == "" {
		return nil, fmt.Errorf("empty translation output")
	}

	var indexed []indexedLine
	if err := json.Unmarshal([]byte(content), &indexed); err != nil {
		var wrapped struct {
			Lines []indexedLine `json:"lines"`
		}
		if werr := json.Unmarshal([]byte(content), &wrapped); werr == nil && len(wrapped.Lines) > 0 {
			indexed = wrapped.Lines
		} else {
			var plain []string
			if perr := json.Unmarshal([]byte(content), &plain); perr != nil {
				return nil, fmt.Errorf("translation output is not valid json: %w", err)
			}
			if len(plain) != want {
				return nil, fmt.Errorf("translation output has %d lines, want %d", len(plain), want)
			}
			return plain, nil
		}
	}

	if len(indexed) != want {
		return nil, fmt.Errorf("translation output has %d lines, want %d", len(indexed), want)
	}

	out := make([]string, want)
	seen := make([]bool, want)
	for _, line := range indexed {
		if line.Index < 1 || line.Index > want {
			return nil, fmt.Errorf("translation output index %d out of range 1..%d", line.Index, want)
		}
		if seen[line.Index-1] {
			return nil, fmt.Errorf("translation output repeats index %d", line.Index)
		}
		seen[line.Index-1] = true
		out[line.Index-1] = line.Text
	}
	return out, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// LanguageName renders a BCP 47 code as an English language name ("fa" becomes "Persian").
// Unparsable input is returned unchanged.
func LanguageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return code
}

func buildSystemPrompt(targetLanguage string) string {
	var prompt strings.Builder

	prompt.WriteString("You are a professional subtitle translator. Translate every input line into " + targetLanguage + ".\n\n")

	prompt.WriteString("=== INPUT ===\n")
	prompt.WriteString("A JSON object {\"lines\": [{\"index\": N, \"text\": \"...\"}]}.\n")
	prompt.WriteString("A text may itself be a numbered list (\"1. ...\\n2. ...\"); keep every number and its order.\n")

	prompt.WriteString("\n=== HARD RULES ===\n")
	prompt.WriteString("1. Do NOT merge, split, reorder, or drop lines\n")
	prompt.WriteString("2. MUST preserve the count of " + inlineBreakerPlaceholder + " markers in each line\n")
	prompt.WriteString("3. Do NOT output literal newline characters in JSON text\n")
	prompt.WriteString("4. If an input line is empty, output text for that index MUST be an empty string\n")
	prompt.WriteString("5. Keep subtitle length appropriate for screen reading\n")

	prompt.WriteString("\n=== OUTPUT FORMAT ===\n")
	prompt.WriteString("Return ONLY a JSON array [{\"index\": N, \"text\": \"...\"}] with one element per input index.\n")
	prompt.WriteString("Do not include any explanations, notes, or additional text.\n")

	return prompt.String()
}
