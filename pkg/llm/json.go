package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned by DecodeJSON when the response holds no JSON object.
var ErrNoJSON = errors.New("llm: no JSON object in response")

// ExtractJSON returns the first balanced JSON object found in response.
//
// Models often wrap JSON in ```json fences or add prose around it; both are
// stripped. Braces inside string literals are ignored when balancing.
func ExtractJSON(response string) (string, bool) {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")

	start := strings.IndexByte(response, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		c := response[i]
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
				return response[start : i+1], true
			}
		}
	}
	return "", false
}

// DecodeJSON extracts the first JSON object from response and unmarshals it into v.
func DecodeJSON(response string, v interface{}) error {
	raw, ok := ExtractJSON(response)
	if !ok {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("llm: invalid JSON response: %w", err)
	}
	return nil
}
