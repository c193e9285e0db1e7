package compress

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\[.*?\\]|\\{.*?\\})\\s*```")
	bareJSONPattern    = regexp.MustCompile(`(?s)(\[.*\]|\{.*\})`)
)

// decodeJSON pulls a JSON payload out of an LLM reply and unmarshals it into
// v. Models wrap JSON in prose or fenced code blocks often enough that three
// strategies are tried in order: the raw reply, the first fenced block, and
// the widest bracketed span.
func decodeJSON(response string, v any) error {
	response = strings.TrimSpace(response)

	if err := json.Unmarshal([]byte(response), v); err == nil {
		return nil
	}

	if m := fencedBlockPattern.FindStringSubmatch(response); m != nil {
		if err := json.Unmarshal([]byte(m[1]), v); err == nil {
			return nil
		}
	}

	if m := bareJSONPattern.FindStringSubmatch(response); m != nil {
		if err := json.Unmarshal([]byte(m[1]), v); err == nil {
			return nil
		}
	}

	return fmt.Errorf("no parsable JSON in response")
}
