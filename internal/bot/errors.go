package bot

import (
	"errors"
	"time"
)

// Upstream failure kinds. X clients wrap their errors so that errors.Is
// matches one of these.
var (
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("not authorized")
	ErrNotFound     = errors.New("not found")
)

// ErrComposeOverflow means a composed reply exceeded MaxTweetLength. The
// fallback tiers make this unreachable; seeing it is a logic error.
var ErrComposeOverflow = errors.New("composed reply exceeds maximum length")

// resetTimer is implemented by errors that carry a rate limit reset time
type resetTimer interface {
	ResetTime() time.Time
}

// ResetTime extracts the rate limit reset time from err, if it has one
func ResetTime(err error) (time.Time, bool) {
	var rt resetTimer
	if errors.As(err, &rt) {
		reset := rt.ResetTime()
		return reset, !reset.IsZero()
	}
	return time.Time{}, false
}
