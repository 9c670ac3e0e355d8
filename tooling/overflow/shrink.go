// Package overflow shrinks tool results that are too large to hand back to
// the model. Every shrink leaves an annotation in the content so the model
// can tell it is looking at a partial result.
package overflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	DefaultThreshold   = 50000
	DefaultMaxItems    = 50
	DefaultMaxFieldLen = 2000

	minFieldLen = 64
)

// Shrinker bounds tool result content to Threshold characters. Zero fields
// take the defaults.
type Shrinker struct {
	// Threshold is the largest content size, in characters, passed through
	// unchanged.
	Threshold int
	// MaxItems caps how many elements of a JSON array are kept.
	MaxItems int
	// MaxFieldLen is the starting cut length for long JSON string values.
	MaxFieldLen int
}

func New(threshold int) Shrinker {
	return Shrinker{Threshold: threshold}.withDefaults()
}

func (s Shrinker) withDefaults() Shrinker {
	if s.Threshold <= 0 {
		s.Threshold = DefaultThreshold
	}
	if s.MaxItems <= 0 {
		s.MaxItems = DefaultMaxItems
	}
	if s.MaxFieldLen <= 0 {
		s.MaxFieldLen = DefaultMaxFieldLen
	}
	return s
}

// Shrink returns content unchanged when it fits. JSON arrays become a
// bounded prefix with the total count, JSON objects keep their shape with
// long strings cut, and anything else is cut to a prefix.
func (s Shrinker) Shrink(content string) string {
	s = s.withDefaults()
	if length(content) <= s.Threshold {
		return content
	}

	var decoded any
	if err := json.Unmarshal([]byte(content), &decoded); err == nil {
		var shrunk string
		switch value := decoded.(type) {
		case []any:
			shrunk = s.shrinkArray(value)
		case map[string]any:
			shrunk = s.shrinkObject(value)
		}
		if shrunk != "" && length(shrunk) < s.Threshold {
			return shrunk
		}
	}
	return s.shrinkText(content)
}

func (s Shrinker) shrinkArray(items []any) string {
	keep := min(len(items), s.MaxItems)
	for {
		kept := make([]any, keep)
		for i := range keep {
			kept[i] = cutStrings(items[i], s.MaxFieldLen, s.MaxItems)
		}
		encoded := encode(map[string]any{
			"truncated":      true,
			"total_count":    len(items),
			"returned_count": keep,
			"items":          kept,
		})
		if length(encoded) < s.Threshold || keep == 0 {
			return encoded
		}
		keep /= 2
	}
}

func (s Shrinker) shrinkObject(object map[string]any) string {
	for limit := s.MaxFieldLen; limit >= minFieldLen; limit /= 2 {
		encoded := encode(cutStrings(object, limit, s.MaxItems))
		if length(encoded) < s.Threshold {
			return encoded
		}
	}
	return ""
}

func (s Shrinker) shrinkText(content string) string {
	total := length(content)
	// Sized for the widest counts so the prefix never pushes the result over.
	reserve := length(annotation(total, total))
	keep := max(s.Threshold-reserve-1, 0)

	prefix := prefixRunes(content, keep)
	if idx := strings.LastIndexByte(prefix, '\n'); idx > len(prefix)/2 {
		prefix = prefix[:idx]
	}
	return prefix + annotation(length(prefix), total)
}

func annotation(shown, total int) string {
	return fmt.Sprintf("\n\n[truncated: showing %d of %d characters]", shown, total)
}

// cutStrings copies value with every string longer than limit cut and every
// array longer than maxItems shortened. Both cuts are annotated in place.
func cutStrings(value any, limit, maxItems int) any {
	switch v := value.(type) {
	case string:
		n := length(v)
		if n <= limit {
			return v
		}
		return prefixRunes(v, limit) + fmt.Sprintf("... [truncated %d chars]", n-limit)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = cutStrings(item, limit, maxItems)
		}
		return out
	case []any:
		keep := min(len(v), maxItems)
		out := make([]any, 0, keep+1)
		for _, item := range v[:keep] {
			out = append(out, cutStrings(item, limit, maxItems))
		}
		if keep < len(v) {
			out = append(out, fmt.Sprintf("... [%d more items]", len(v)-keep))
		}
		return out
	default:
		return v
	}
}

func encode(value any) string {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return ""
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func length(s string) int {
	return utf8.RuneCountInString(s)
}

func prefixRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
