package inference

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when no JSON payload can be located in provider text.
var ErrNoJSON = errors.New("no JSON payload found in provider response")

// textExtractor pulls generated text out of one vendor response shape.
type textExtractor func(body any) (string, bool)

// textExtractors are tried in order; the first one yielding text wins.
var textExtractors = []textExtractor{
	geminiText,
	choicesText,
	outputContentText,
	resultsOutputText,
	generatedText,
}

// ExtractText returns the generated text carried by a provider response body.
// Bodies that are not JSON, or JSON strings, are passed through as text.
func ExtractText(body []byte) string {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return string(body)
	}
	if s, ok := decoded.(string); ok {
		return s
	}

	for _, extract := range textExtractors {
		if text, ok := extract(decoded); ok {
			return text
		}
	}

	return string(body)
}

// geminiText reads candidates[].content.parts[].text.
func geminiText(body any) (string, bool) {
	for _, candidate := range list(field(body, "candidates")) {
		var sb strings.Builder
		for _, part := range list(field(field(candidate, "content"), "parts")) {
			if s, ok := field(part, "text").(string); ok {
				sb.WriteString(s)
			}
		}
		if sb.Len() > 0 {
			return sb.String(), true
		}
	}
	return "", false
}

// choicesText reads choices[].text and choices[].message.content.
func choicesText(body any) (string, bool) {
	for _, choice := range list(field(body, "choices")) {
		if s, ok := nonEmpty(field(choice, "text")); ok {
			return s, true
		}
		if s, ok := nonEmpty(field(field(choice, "message"), "content")); ok {
			return s, true
		}
	}
	return "", false
}

// outputContentText reads output[].content[].text.
func outputContentText(body any) (string, bool) {
	return contentText(list(field(body, "output")))
}

// resultsOutputText reads results[].output.content[].text.
func resultsOutputText(body any) (string, bool) {
	var outputs []any
	for _, result := range list(field(body, "results")) {
		outputs = append(outputs, field(result, "output"))
	}
	return contentText(outputs)
}

// generatedText reads flat generatedText / generated_text fields, on the
// body itself or on the first element of a top-level array.
func generatedText(body any) (string, bool) {
	targets := []any{body}
	if items := list(body); len(items) > 0 {
		targets = append(targets, items[0])
	}
	for _, t := range targets {
		for _, key := range []string{"generatedText", "generated_text"} {
			if s, ok := nonEmpty(field(t, key)); ok {
				return s, true
			}
		}
	}
	return "", false
}

func contentText(items []any) (string, bool) {
	for _, item := range items {
		for _, c := range list(field(item, "content")) {
			if s, ok := nonEmpty(field(c, "text")); ok {
				return s, true
			}
		}
	}
	return "", false
}

func field(v any, key string) any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m[key]
}

func list(v any) []any {
	items, _ := v.([]any)
	return items
}

func nonEmpty(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// LocateJSON finds a JSON payload inside free text. It tries the outermost
// {...} block, then the outermost [...] block, then the trimmed text itself.
func LocateJSON(text string) (any, error) {
	candidates := []string{
		outermost(text, '{', '}'),
		outermost(text, '[', ']'),
		strings.TrimSpace(text),
	}

	for _, c := range candidates {
		if c == "" {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(c), &v); err == nil {
			return v, nil
		}
	}

	return nil, ErrNoJSON
}

func outermost(text string, open, close byte) string {
	start := strings.IndexByte(text, open)
	end := strings.LastIndexByte(text, close)
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
