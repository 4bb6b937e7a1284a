package reason

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoStep is returned when no step object can be found in a
// completion.
var ErrNoStep = errors.New("no step object in completion")

// stepWire is the JSON shape the engine is asked to produce.
type stepWire struct {
	Thoughts    string `json:"thoughts"`
	Code        string `json:"code"`
	FinalAnswer bool   `json:"final_answer"`
}

// ParseStep extracts the step JSON from a model completion. Models
// wrap JSON in code fences or surround it with prose; the parser takes
// the first balanced object that decodes to the step shape.
func ParseStep(text string) (*Step, error) {
	candidate := stripFences(text)

	raw, ok := firstObject(candidate)
	if !ok {
		return nil, ErrNoStep
	}

	var wire stepWire
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, fmt.Errorf("decode step: %w", err)
	}
	return &Step{
		Thoughts: wire.Thoughts,
		Code:     wire.Code,
		Final:    wire.FinalAnswer,
	}, nil
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// Drop the info string ("json", "python", ...).
		trimmed = trimmed[idx+1:]
	}
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

// firstObject returns the first balanced top-level JSON object in
// text. Braces inside string literals are ignored.
func firstObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
