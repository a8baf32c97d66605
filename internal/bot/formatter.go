package bot

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Reply layout. All lengths are counted in runes.
const (
	// MaxTweetLength is the reply budget in runes. Rune counting only
	// approximates X's weighted count, where URLs count as 23 and CJK and
	// emoji count as 2, so a mostly-CJK reply can pass here and still be
	// rejected by X.
	MaxTweetLength = 280
	MinVisibleText = 100

	LinkSeparator = "\n\n🎮 "
	CallToAction  = "Build this game: "
	RosebudURL    = "https://rosebud.ai/?prompt="
	FallbackURL   = "https://rosebud.ai/"

	ellipsis = "..."
)

// FormatTier names the layout Compose settled on
type FormatTier string

const (
	// FormatFull is prompt, call to action and full link
	FormatFull FormatTier = "full"
	// FormatCompact drops the call to action
	FormatCompact FormatTier = "compact"
	// FormatTruncated shortens the visible prompt but keeps the full link
	FormatTruncated FormatTier = "truncated"
	// FormatFallback links to the bare site
	FormatFallback FormatTier = "fallback"
)

// BuildLink returns the game builder link with prompt pre-filled
func BuildLink(prompt string) string {
	return RosebudURL + encodePrompt(prompt)
}

// encodePrompt escapes a query value the way browsers' encodeURIComponent
// does for spaces, so links render as %20 rather than +
func encodePrompt(prompt string) string {
	return strings.ReplaceAll(url.QueryEscape(prompt), "+", "%20")
}

// PromptFromLink returns the decoded prompt parameter of a game builder link
func PromptFromLink(link string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return "", false
	}
	values, ok := parsed.Query()["prompt"]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// ExtractLink finds the game builder link at the end of a composed reply
func ExtractLink(reply string) (string, bool) {
	idx := strings.LastIndex(reply, FallbackURL)
	if idx < 0 {
		return "", false
	}
	return strings.TrimSpace(reply[idx:]), true
}

// Compose appends a game builder link to prompt. The first layout that fits
// in MaxTweetLength wins; the fallback layout always fits.
func Compose(prompt string) (string, FormatTier, error) {
	link := BuildLink(prompt)

	full := prompt + LinkSeparator + CallToAction + link
	if runeLen(full) <= MaxTweetLength {
		return full, FormatFull, nil
	}

	linkPart := LinkSeparator + link
	compact := prompt + linkPart
	if runeLen(compact) <= MaxTweetLength {
		return compact, FormatCompact, nil
	}

	if available := MaxTweetLength - runeLen(linkPart); available >= MinVisibleText {
		return truncateRunes(prompt, available) + linkPart, FormatTruncated, nil
	}

	fallbackPart := LinkSeparator + FallbackURL
	reply := truncateRunes(prompt, MaxTweetLength-runeLen(fallbackPart)) + fallbackPart
	if n := runeLen(reply); n > MaxTweetLength {
		return "", FormatFallback, fmt.Errorf("%w: %d runes", ErrComposeOverflow, n)
	}
	return reply, FormatFallback, nil
}

// truncateRunes cuts s to at most limit runes, marking the cut with an
// ellipsis
func truncateRunes(s string, limit int) string {
	if runeLen(s) <= limit {
		return s
	}
	keep := limit - runeLen(ellipsis)
	if keep <= 0 {
		return string([]rune(ellipsis)[:max(limit, 0)])
	}
	return strings.TrimRight(string([]rune(s)[:keep]), " ") + ellipsis
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// VerifyReply checks a composed reply against its prompt: length limit, a
// game builder link, and a link prompt that is a prefix of prompt unless the
// bare fallback link was used
func VerifyReply(prompt, reply string) error {
	if n := runeLen(reply); n > MaxTweetLength {
		return fmt.Errorf("%w: %d runes", ErrComposeOverflow, n)
	}

	link, ok := ExtractLink(reply)
	if !ok {
		return fmt.Errorf("reply has no game builder link")
	}
	if link == FallbackURL {
		return nil
	}

	decoded, ok := PromptFromLink(link)
	if !ok {
		return fmt.Errorf("link %q has no prompt parameter", link)
	}
	if !strings.HasPrefix(prompt, decoded) {
		return fmt.Errorf("link prompt %q is not a prefix of the generated prompt", decoded)
	}
	return nil
}
