package processing

import (
	"crypto/sha1"
	"encoding/hex"
	"html"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var (
	tagRegex   = regexp.MustCompile(`<[^>]*>`)
	whitespace = regexp.MustCompile(`\s+`)
)

// CleanText strips HTML tags and entities and squeezes whitespace.
func CleanText(input string) string {
	if input == "" {
		return ""
	}
	decoded := tagRegex.ReplaceAllString(input, " ")
	decoded = html.UnescapeString(decoded)
	decoded = whitespace.ReplaceAllString(decoded, " ")
	return strings.TrimSpace(decoded)
}

// NormalizeTags trims every value and drops empties and duplicates while
// preserving first-seen order. Comparison is case-sensitive.
func NormalizeTags(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = CleanText(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// CanonicalURL lower-cases scheme and host and drops the fragment and a
// trailing slash so that the same article found twice maps to one key.
// Unparseable input is returned trimmed.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = ""
	}
	return u.String()
}

// BuildEventID hashes the canonical URL to form deterministic IDs.
func BuildEventID(rawURL string) string {
	canonical := CanonicalURL(rawURL)
	if canonical == "" {
		return ""
	}
	s := sha1.Sum([]byte(canonical))
	return hex.EncodeToString(s[:])
}

// ParsePublishedDate accepts the analysis date format (YYYY-MM-DD) as well
// as full RFC 3339 timestamps. It returns nil when nothing parses.
func ParsePublishedDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	formats := []string{
		"2006-01-02",
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	}

	for _, f := range formats {
		if ts, err := time.Parse(f, raw); err == nil {
			ts = ts.UTC()
			return &ts
		}
	}
	return nil
}

// GenerateTitleFromText creates a title from the first sentence or first N words of text.
// Returns empty string if text is empty.
func GenerateTitleFromText(text string, maxWords int) string {
	text = CleanText(text)
	if text == "" {
		return ""
	}

	sentenceEnd := strings.IndexAny(text, ".!?")
	firstSentence := text
	if sentenceEnd > 0 {
		firstSentence = strings.TrimSpace(text[:sentenceEnd])
	}

	words := strings.Fields(firstSentence)
	if len(words) == 0 {
		return ""
	}

	if maxWords > 0 && len(words) > maxWords {
		return strings.Join(words[:maxWords], " ") + "..."
	}

	return strings.Join(words, " ")
}

// Truncate shortens s to at most limit runes, appending "..." when cut.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
