package extract

import (
	"encoding/json"
	"errors"
	"strings"
)

// ParseObject finds the candidate JSON object in a model reply and decodes
// it. The candidate is the substring between the first '{' and the last '}',
// which is enough to unwrap the prose and code fences LLMs habitually put
// around their output.
func ParseObject(s string) (Result, error) {
	start := strings.Index(s, "{")
	if start == -1 {
		return nil, errors.New("no JSON object found in reply")
	}
	end := strings.LastIndex(s, "}")
	if end < start {
		return nil, errors.New("unterminated JSON object in reply")
	}

	var out Result
	if err := json.Unmarshal([]byte(s[start:end+1]), &out); err != nil {
		return nil, err
	}
	return out, nil
}
