// Package completion detects the completion marker an agent emits when it
// considers the task done. The marker is wrapped in promise tags:
//
//	<promise>COMPLETE</promise>
//
// This is a leaf package: stdlib only, no internal imports.
package completion

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// OpenTag starts a completion marker.
	OpenTag = "<promise>"
	// CloseTag ends a completion marker.
	CloseTag = "</promise>"
)

var anyPromise = regexp.MustCompile(`(?is)<promise>\s*(.*?)\s*</promise>`)

// Tag renders marker wrapped in the tag syntax Matches looks for.
func Tag(marker string) string {
	return OpenTag + marker + CloseTag
}

// Pattern returns the compiled pattern for marker. The marker is matched
// literally and case-insensitively, with optional whitespace inside the tags.
func Pattern(marker string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(?i)%s\s*%s\s*%s`,
		regexp.QuoteMeta(OpenTag), regexp.QuoteMeta(marker), regexp.QuoteMeta(CloseTag)))
}

// Matches reports whether text contains marker inside promise tags.
// An empty or whitespace-only marker never matches.
func Matches(text, marker string) bool {
	if strings.TrimSpace(marker) == "" || text == "" {
		return false
	}
	return Pattern(marker).MatchString(text)
}

// Extract returns the trimmed body of every promise tag in text, in order.
func Extract(text string) []string {
	var out []string
	for _, m := range anyPromise.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return out
}
