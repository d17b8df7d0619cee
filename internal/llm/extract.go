package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Recovery cascade for JSON buried in free text. Models wrap their output in
// prose or markdown fences often enough that a direct json.Unmarshal is only
// the first of four strategies.

var (
	fencedJSONRe = regexp.MustCompile("```json\\s*([\\s\\S]*?)\\s*```")
	fencedAnyRe  = regexp.MustCompile("```\\s*([\\s\\S]*?)\\s*```")

	trailingCommaObjRe = regexp.MustCompile(`,\s*}`)
	trailingCommaArrRe = regexp.MustCompile(`,\s*]`)
	controlCharRe      = regexp.MustCompile("[\x00-\x1f\x7f]")
)

// ExtractObject decodes text as a JSON object, falling back through:
//
//  1. the raw text itself;
//  2. the contents of a ```json fenced block;
//  3. the contents of any fenced block, if it opens with "{";
//  4. the widest substring bounded by the first "{" and the last "}".
//
// Each failed parse is retried once after repairJSON. If every strategy
// fails, a *ResponseFormatError carrying a bounded excerpt is returned —
// never a partial object.
func ExtractObject(text string) (map[string]any, error) {
	if obj, err := parseObject(text); err == nil {
		return obj, nil
	}

	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		if obj, err := parseWithRepair(strings.TrimSpace(m[1])); err == nil {
			return obj, nil
		}
	}

	if m := fencedAnyRe.FindStringSubmatch(text); m != nil {
		candidate := strings.TrimSpace(m[1])
		if strings.HasPrefix(candidate, "{") {
			if obj, err := parseWithRepair(candidate); err == nil {
				return obj, nil
			}
		}
	}

	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		if obj, err := parseWithRepair(text[start : end+1]); err == nil {
			return obj, nil
		}
	}

	return nil, &ResponseFormatError{
		Excerpt: excerpt(text, 200),
		Err:     fmt.Errorf("no parseable JSON object in response"),
	}
}

func parseObject(s string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("decoded null")
	}
	return obj, nil
}

// parseWithRepair tries a direct parse, then one more after the light repair
// pass that fixes the two malformations models actually produce.
func parseWithRepair(s string) (map[string]any, error) {
	if obj, err := parseObject(s); err == nil {
		return obj, nil
	}
	return parseObject(repairJSON(s))
}

// repairJSON strips trailing commas before closing braces/brackets and
// removes control characters.
func repairJSON(s string) string {
	s = trailingCommaObjRe.ReplaceAllString(s, "}")
	s = trailingCommaArrRe.ReplaceAllString(s, "]")
	return controlCharRe.ReplaceAllString(s, "")
}

func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
