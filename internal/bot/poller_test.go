package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pollerFixture struct {
	*processorFixture
	mentions  *fakeMentions
	cooldowns *fakeCooldowns
	cleaner   *fakeCleaner
	poller    *Poller
}

type fakeCleaner struct {
	mu    sync.Mutex
	calls []int
}

func (f *fakeCleaner) CleanupOlderThan(ctx context.Context, maxAgeDays int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, maxAgeDays)
	return 2, nil
}

func newPollerFixture(t *testing.T, interval time.Duration) *pollerFixture {
	t.Helper()

	pf := newProcessorFixture(t)
	f := &pollerFixture{
		processorFixture: pf,
		mentions:         &fakeMentions{userID: "42"},
		cooldowns:        newFakeCooldowns(func() time.Time { return testNow }),
		cleaner:          &fakeCleaner{},
	}

	poller, err := NewPoller(testLogger(), PollerConfig{
		BotUsername: testHandle,
		Interval:    interval,
		MaxResults:  10,
		MaxAgeDays:  30,
	}, f.mentions, pf.processor, f.cooldowns, f.cleaner, pf.metrics)
	require.NoError(t, err)
	f.poller = poller

	return f
}

func TestNewPoller_Validation(t *testing.T) {
	pf := newProcessorFixture(t)

	_, err := NewPoller(testLogger(), PollerConfig{BotUsername: "bot"}, &fakeMentions{}, pf.processor, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewPoller(testLogger(), PollerConfig{Interval: time.Minute}, &fakeMentions{}, pf.processor, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewPoller(testLogger(), PollerConfig{BotUsername: "bot", Interval: time.Minute}, nil, pf.processor, nil, nil, nil)
	assert.Error(t, err)

	poller, err := NewPoller(testLogger(), PollerConfig{BotUsername: "bot", Interval: time.Minute}, &fakeMentions{}, pf.processor, nil, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, poller)
}

func TestRunCycle_ProcessesMentions(t *testing.T) {
	f := newPollerFixture(t, 15*time.Minute)
	f.mentions.mentions = []Post{
		newMention("1", "@Rosebud_AI a game please", time.Minute),
		newMention("2", "no handle here", time.Minute),
	}

	require.NoError(t, f.poller.RunCycle(context.Background()))

	assert.Equal(t, 10, f.mentions.lastMaxSize)
	require.Len(t, f.poster.replies, 1)
	assert.Equal(t, "1", f.poster.replies[0].InReplyToID)
	assert.Equal(t, 1, f.metrics.cycleCount("ok"))
}

func TestRunCycle_CachesBotUserID(t *testing.T) {
	f := newPollerFixture(t, 15*time.Minute)

	require.NoError(t, f.poller.RunCycle(context.Background()))
	require.NoError(t, f.poller.RunCycle(context.Background()))

	assert.Equal(t, 1, f.mentions.lookups)
	assert.Equal(t, 2, f.mentions.listCount())
}

func TestRunCycle_LookupFailureRetriesNextCycle(t *testing.T) {
	f := newPollerFixture(t, 15*time.Minute)
	f.mentions.lookupErr = errors.New("network down")

	err := f.poller.RunCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, f.mentions.listCount())
	assert.Equal(t, 1, f.metrics.cycleCount("error"))

	f.mentions.lookupErr = nil
	require.NoError(t, f.poller.RunCycle(context.Background()))
	assert.Equal(t, 2, f.mentions.lookups)
}

func TestRunCycle_RateLimitArmsCooldown(t *testing.T) {
	f := newPollerFixture(t, 15*time.Minute)
	reset := testNow.Add(10 * time.Minute)
	f.mentions.listErr = &rateLimitError{reset: reset}

	err := f.poller.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1, f.metrics.cycleCount("rate_limited"))

	until, ok := f.cooldowns.Cooldown(CooldownKey)
	require.True(t, ok)
	assert.Equal(t, reset, until)

	require.NoError(t, f.poller.RunCycle(context.Background()))
	assert.Equal(t, 1, f.mentions.listCount())
	assert.Equal(t, 1, f.metrics.cycleCount("cooldown"))
}

func TestRunCycle_RateLimitWhilePosting(t *testing.T) {
	f := newPollerFixture(t, 15*time.Minute)
	f.poster.err = &rateLimitError{reset: testNow.Add(5 * time.Minute)}
	f.mentions.mentions = []Post{newMention("1", "@Rosebud_AI go", time.Minute)}

	err := f.poller.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrRateLimited)

	_, ok := f.cooldowns.Cooldown(CooldownKey)
	assert.True(t, ok)
}

func TestRunCycle_Unauthorized(t *testing.T) {
	f := newPollerFixture(t, 15*time.Minute)
	f.mentions.listErr = errors.Join(errors.New("401"), ErrUnauthorized)

	err := f.poller.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, f.metrics.cycleCount("unauthorized"))

	_, ok := f.cooldowns.Cooldown(CooldownKey)
	assert.False(t, ok)
}

func TestPoller_StartRunsImmediatelyAndStopWaits(t *testing.T) {
	f := newPollerFixture(t, time.Hour)
	release := make(chan struct{})
	f.mentions.block = release

	require.NoError(t, f.poller.Start(context.Background()))
	assert.Error(t, f.poller.Start(context.Background()))

	require.Eventually(t, func() bool {
		return f.mentions.listCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		f.poller.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a cycle was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the cycle finished")
	}

	assert.Equal(t, 1, f.mentions.listCount())
	assert.Equal(t, 1, f.metrics.cycleCount("ok"))
}

func TestPoller_CancelledContextDoesNotInterruptCycle(t *testing.T) {
	f := newPollerFixture(t, time.Hour)
	f.mentions.mentions = []Post{newMention("1", "@Rosebud_AI go", time.Minute)}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.poller.Start(ctx))
	cancel()
	f.poller.Stop()

	assert.Len(t, f.poster.replies, 1)
}

func TestPoller_StopWithoutStart(t *testing.T) {
	f := newPollerFixture(t, time.Hour)
	f.poller.Stop()
}

func TestPoller_Cleanup(t *testing.T) {
	f := newPollerFixture(t, time.Hour)

	f.poller.cleanup(context.Background())

	assert.Equal(t, []int{30}, f.cleaner.calls)
}
