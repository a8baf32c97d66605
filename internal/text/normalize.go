// Package text prepares raw post text for model input.
package text

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// LinkPlaceholder replaces every URL removed by Normalize.
const LinkPlaceholder = "[link]"

var (
	mentionPattern    = regexp.MustCompile(`@\w+`)
	urlPattern        = regexp.MustCompile(`https?://\S+`)
	hashtagPattern    = regexp.MustCompile(`#(\w+)`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Normalize strips @-mentions, replaces URLs with LinkPlaceholder, drops the
// leading "#" from hashtags and collapses whitespace. It never fails.
func Normalize(raw string) string {
	cleaned := mentionPattern.ReplaceAllString(raw, "")
	cleaned = urlPattern.ReplaceAllString(cleaned, LinkPlaceholder)
	cleaned = hashtagPattern.ReplaceAllString(cleaned, "$1")
	cleaned = whitespacePattern.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

// IsLowSignal reports whether a post carries little usable context: very
// short text, a retweet, or text made up mostly of mentions.
func IsLowSignal(raw string) bool {
	if utf8.RuneCountInString(raw) < 10 {
		return true
	}
	if strings.HasPrefix(raw, "RT @") {
		return true
	}
	mentions := len(mentionPattern.FindAllString(raw, -1))
	words := len(strings.Fields(raw))
	return float64(mentions) > float64(words)*0.5
}

var stopWords = map[string]struct{}{
	"about": {}, "after": {}, "again": {}, "being": {}, "could": {}, "does": {},
	"doing": {}, "from": {}, "have": {}, "here": {}, "into": {}, "just": {},
	"like": {}, "make": {}, "more": {}, "much": {}, "only": {}, "other": {},
	"please": {}, "really": {}, "should": {}, "some": {}, "than": {}, "that": {},
	"their": {}, "them": {}, "then": {}, "there": {}, "these": {}, "they": {},
	"this": {}, "those": {}, "very": {}, "want": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "while": {}, "with": {}, "would": {}, "your": {},
	"game": {}, "games": {}, "link": {},
}

// ExtractKeywords returns up to n distinct keywords from text, longest first.
// Mentions, URLs, stop words and words of three letters or fewer are skipped.
func ExtractKeywords(raw string, n int) []string {
	if n <= 0 {
		return nil
	}

	cleaned := strings.ToLower(Normalize(raw))
	fields := strings.FieldsFunc(cleaned, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})

	seen := make(map[string]struct{}, len(fields))
	keywords := make([]string, 0, len(fields))
	for _, field := range fields {
		word := strings.Trim(field, "'")
		if utf8.RuneCountInString(word) <= 3 {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		keywords = append(keywords, word)
	}

	sort.SliceStable(keywords, func(i, j int) bool {
		return utf8.RuneCountInString(keywords[i]) > utf8.RuneCountInString(keywords[j])
	})

	if len(keywords) > n {
		keywords = keywords[:n]
	}
	return keywords
}

// Truncate cuts s to at most limit runes, ending with "..." when shortened.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	if limit <= 3 {
		return string(runes[:limit])
	}
	return strings.TrimRightFunc(string(runes[:limit-3]), unicode.IsSpace) + "..."
}
