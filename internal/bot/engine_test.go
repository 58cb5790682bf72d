package bot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/umairimran/kaspaBot/internal/answer"
	"github.com/umairimran/kaspaBot/internal/config"
	"github.com/umairimran/kaspaBot/internal/models"
	"github.com/umairimran/kaspaBot/internal/ratelimit"
	"github.com/umairimran/kaspaBot/internal/repository"
)

type postCall struct {
	text      string
	inReplyTo string
}

type fakePlatform struct {
	mu            sync.Mutex
	mentions      []models.Mention
	searchErr     error
	postErrs      []error // consumed one per post attempt, nil = success
	posts         []postCall
	parentText    string
	searchCalls   int32
	inFlight      int32
	maxConcurrent int32
}

func (f *fakePlatform) SearchMentions(ctx context.Context, sinceID string) ([]models.Mention, string, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		max := atomic.LoadInt32(&f.maxConcurrent)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxConcurrent, max, cur) {
			break
		}
	}
	atomic.AddInt32(&f.searchCalls, 1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, "", f.searchErr
	}
	newest := ""
	if len(f.mentions) > 0 {
		newest = f.mentions[len(f.mentions)-1].ID
	}
	return f.mentions, newest, nil
}

func (f *fakePlatform) GetTweet(ctx context.Context, tweetID string) (string, error) {
	return f.parentText, nil
}

func (f *fakePlatform) PostReply(ctx context.Context, text, inReplyTo string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var err error
	if len(f.postErrs) > 0 {
		err = f.postErrs[0]
		f.postErrs = f.postErrs[1:]
	}
	f.posts = append(f.posts, postCall{text: text, inReplyTo: inReplyTo})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("reply-%d", len(f.posts)), nil
}

func (f *fakePlatform) BotUserID() string { return "bot-1" }

type fakeAnswerer struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
	asked []string
}

func (f *fakeAnswerer) Ask(ctx context.Context, question, conversationID string) (*answer.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.asked = append(f.asked, question)
	if f.err != nil {
		return nil, f.err
	}
	return &answer.Answer{Text: f.text}, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Twitter.BotHandle = "KaspaAnswerBot"
	cfg.Twitter.BotUserID = "bot-1"
	cfg.Twitter.SearchInterval = "15m"
	cfg.Twitter.DailyPostLimit = 17
	cfg.Answer.Timeout = "30s"
	cfg.Bot.ReplyToBareMentions = true
	cfg.Bot.MaxAnswerRetries = 2
	cfg.Bot.MaxPostRetries = 2
	cfg.Bot.AnswerWorkers = 2
	cfg.Bot.ReplyCharLimit = 280
	return cfg
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestEngine(t *testing.T, dbPath string, cfg *config.Config, platform Platform, answerer Answerer) (*Engine, *repository.Store, *testClock) {
	t.Helper()

	store, err := repository.NewStore(dbPath, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	tracker := ratelimit.NewTracker(store, cfg.SearchInterval(), cfg.Twitter.DailyPostLimit, zap.NewNop())
	tracker.SetClock(clock.Now)

	engine := NewEngine(cfg, store, tracker, platform, answerer, zap.NewNop())
	engine.SetClock(clock.Now)

	return engine, store, clock
}

func questionMention(id string) models.Mention {
	return models.Mention{
		ID:             id,
		Text:           "@KaspaAnswerBot What is the block time?",
		AuthorID:       "user-7",
		ConversationID: id,
		CreatedAt:      time.Date(2025, 6, 1, 11, 59, 0, 0, time.UTC),
	}
}

func TestEndToEndMentionScenario(t *testing.T) {
	platform := &fakePlatform{
		mentions: []models.Mention{questionMention("m1")},
		// First post attempt hits a transient failure, second succeeds.
		postErrs: []error{fmt.Errorf("%w: status 502", models.ErrTransientFetch)},
	}
	answerer := &fakeAnswerer{text: "~1 second"}

	engine, store, clock := newTestEngine(t, filepath.Join(t.TempDir(), "e2e.db"), testConfig(), platform, answerer)

	if fatal := engine.runCycle(context.Background()); fatal {
		t.Fatalf("cycle reported fatal error")
	}

	// Answer generated and queued at question priority; reply not yet posted.
	pending, err := store.ListQueue()
	if err != nil {
		t.Fatalf("list queue failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending response, got %d", len(pending))
	}
	if pending[0].Priority != 2 {
		t.Fatalf("expected question priority 2, got %d", pending[0].Priority)
	}
	if pending[0].ResponseText != "~1 second" {
		t.Fatalf("unexpected response text %q", pending[0].ResponseText)
	}

	interactions, _ := store.RecentInteractions(10)
	if len(interactions) != 1 || interactions[0].ReplyPosted {
		t.Fatalf("expected one unposted interaction, got %+v", interactions)
	}

	clock.Advance(15 * time.Minute)
	if fatal := engine.runCycle(context.Background()); fatal {
		t.Fatalf("cycle reported fatal error")
	}

	// Same mention fetched again must not be re-answered.
	if answerer.calls != 1 {
		t.Fatalf("expected 1 answer call, got %d", answerer.calls)
	}

	// Retry posted the queued response; m1 is gone from the queue.
	pending, _ = store.ListQueue()
	if len(pending) != 0 {
		t.Fatalf("expected empty queue after post, got %d entries", len(pending))
	}

	last := platform.posts[len(platform.posts)-1]
	if last.text != "~1 second" || last.inReplyTo != "m1" {
		t.Fatalf("unexpected final post %+v", last)
	}

	interactions, _ = store.RecentInteractions(10)
	if len(interactions) != 1 || !interactions[0].ReplyPosted {
		t.Fatalf("interaction not marked posted: %+v", interactions)
	}
}

func TestIdempotentStart(t *testing.T) {
	platform := &fakePlatform{mentions: nil}
	answerer := &fakeAnswerer{text: "answer"}

	engine, _, _ := newTestEngine(t, filepath.Join(t.TempDir(), "start.db"), testConfig(), platform, answerer)

	if state := engine.Start(); state != Running {
		t.Fatalf("expected Running after Start, got %v", state)
	}
	if state := engine.Start(); state != Running {
		t.Fatalf("second Start should report Running, got %v", state)
	}

	// Give both hypothetical loops time to fetch.
	time.Sleep(200 * time.Millisecond)

	if calls := atomic.LoadInt32(&platform.searchCalls); calls != 1 {
		t.Fatalf("expected exactly 1 fetch from a single loop, got %d", calls)
	}
	if max := atomic.LoadInt32(&platform.maxConcurrent); max > 1 {
		t.Fatalf("observed %d concurrent fetches, want at most 1", max)
	}

	if state := engine.Stop(); state != Stopped {
		t.Fatalf("expected Stopped after Stop, got %v", state)
	}
	if engine.IsRunning() {
		t.Fatalf("engine still running after Stop")
	}

	// Stopping a stopped engine is a no-op.
	if state := engine.Stop(); state != Stopped {
		t.Fatalf("expected Stopped from redundant Stop, got %v", state)
	}
}

func TestExclusionFilter(t *testing.T) {
	platform := &fakePlatform{
		mentions: []models.Mention{
			{ID: "own", Text: "@KaspaAnswerBot thanks all", AuthorID: "bot-1", ConversationID: "own"},
			{ID: "spam", Text: "@KaspaAnswerBot claim your airdrop", AuthorID: "user-9", ConversationID: "spam"},
		},
	}
	answerer := &fakeAnswerer{text: "answer"}

	engine, store, _ := newTestEngine(t, filepath.Join(t.TempDir(), "filter.db"), testConfig(), platform, answerer)

	engine.runCycle(context.Background())

	if answerer.calls != 0 {
		t.Fatalf("excluded mentions reached the answer service: %d calls", answerer.calls)
	}
	if len(platform.posts) != 0 {
		t.Fatalf("excluded mentions were posted")
	}

	pending, _ := store.ListQueue()
	if len(pending) != 0 {
		t.Fatalf("excluded mentions were enqueued")
	}

	// Both recorded as processed so they are never picked up again.
	interactions, _ := store.RecentInteractions(10)
	if len(interactions) != 2 {
		t.Fatalf("expected 2 interactions, got %d", len(interactions))
	}
	for _, in := range interactions {
		if in.ReplyPosted || in.AIResponse != "" {
			t.Fatalf("excluded interaction should be empty and unposted: %+v", in)
		}
	}
}

func TestAtMostOnceAcrossRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "restart.db")
	cfg := testConfig()

	platform := &fakePlatform{
		mentions: []models.Mention{questionMention("m1")},
		postErrs: []error{fmt.Errorf("%w: status 503", models.ErrTransientFetch)},
	}
	answerer := &fakeAnswerer{text: "~1 second"}

	engine, store, _ := newTestEngine(t, dbPath, cfg, platform, answerer)
	engine.runCycle(context.Background())

	if answerer.calls != 1 {
		t.Fatalf("expected 1 answer call before restart, got %d", answerer.calls)
	}
	pending, _ := store.ListQueue()
	if len(pending) != 1 {
		t.Fatalf("response should be queued before restart")
	}

	// Simulated crash: drop all in-memory state, reopen the same database.
	store.Close()

	platform2 := &fakePlatform{mentions: []models.Mention{questionMention("m1")}}
	answerer2 := &fakeAnswerer{text: "should never be asked"}

	engine2, store2, clock2 := newTestEngine(t, dbPath, cfg, platform2, answerer2)
	clock2.Advance(15 * time.Minute)
	engine2.runCycle(context.Background())

	// The answer was not regenerated and the reply posted exactly once.
	if answerer2.calls != 0 {
		t.Fatalf("answer regenerated after restart: %d calls", answerer2.calls)
	}
	if len(platform2.posts) != 1 {
		t.Fatalf("expected exactly 1 post after restart, got %d", len(platform2.posts))
	}
	if platform2.posts[0].text != "~1 second" {
		t.Fatalf("restored response text lost: %q", platform2.posts[0].text)
	}

	pending, _ = store2.ListQueue()
	if len(pending) != 0 {
		t.Fatalf("queue not drained after restart")
	}
	interactions, _ := store2.RecentInteractions(10)
	if len(interactions) != 1 || !interactions[0].ReplyPosted {
		t.Fatalf("interaction not marked posted after restart: %+v", interactions)
	}
}

func TestUpstreamUnavailableGivesUpAfterRetries(t *testing.T) {
	platform := &fakePlatform{mentions: []models.Mention{questionMention("m1")}}
	answerer := &fakeAnswerer{err: fmt.Errorf("%w: status 503", models.ErrUpstreamUnavailable)}

	engine, store, clock := newTestEngine(t, filepath.Join(t.TempDir(), "upstream.db"), testConfig(), platform, answerer)

	// Attempt 1: failure, mention left unprocessed for a later cycle.
	engine.runCycle(context.Background())
	if processed, _ := store.HasProcessed("m1"); processed {
		t.Fatalf("mention marked processed after first answer failure")
	}

	// Attempt 2 hits MaxAnswerRetries: permanent failure recorded.
	clock.Advance(15 * time.Minute)
	engine.runCycle(context.Background())

	if answerer.calls != 2 {
		t.Fatalf("expected 2 answer attempts, got %d", answerer.calls)
	}
	if processed, _ := store.HasProcessed("m1"); !processed {
		t.Fatalf("mention not marked processed after giving up")
	}

	interactions, _ := store.RecentInteractions(10)
	if len(interactions) != 1 || interactions[0].ReplyPosted || interactions[0].AIResponse != "" {
		t.Fatalf("expected permanent failure record, got %+v", interactions)
	}

	// Further cycles leave it alone.
	clock.Advance(15 * time.Minute)
	engine.runCycle(context.Background())
	if answerer.calls != 2 {
		t.Fatalf("processed mention re-answered: %d calls", answerer.calls)
	}
}

func TestSkipOnUnavailableRecordsSentinel(t *testing.T) {
	cfg := testConfig()
	cfg.Bot.SkipOnUnavailable = true

	platform := &fakePlatform{mentions: []models.Mention{questionMention("m1")}}
	answerer := &fakeAnswerer{err: fmt.Errorf("%w: down", models.ErrUpstreamUnavailable)}

	engine, store, _ := newTestEngine(t, filepath.Join(t.TempDir(), "sentinel.db"), cfg, platform, answerer)
	engine.runCycle(context.Background())

	if processed, _ := store.HasProcessed("m1"); !processed {
		t.Fatalf("mention not marked processed with skip_on_unavailable")
	}
	interactions, _ := store.RecentInteractions(10)
	if len(interactions) != 1 || interactions[0].AIResponse != unavailableSentinel {
		t.Fatalf("expected sentinel interaction, got %+v", interactions)
	}
}

func TestAuthErrorIsFatal(t *testing.T) {
	platform := &fakePlatform{searchErr: fmt.Errorf("%w: status 401", models.ErrAuth)}
	answerer := &fakeAnswerer{}

	engine, _, _ := newTestEngine(t, filepath.Join(t.TempDir(), "auth.db"), testConfig(), platform, answerer)

	if fatal := engine.runCycle(context.Background()); !fatal {
		t.Fatalf("auth failure should be fatal")
	}

	status := engine.Status()
	if status.ErrorCount != 1 || status.LastError == "" {
		t.Fatalf("auth failure not recorded in status: %+v", status)
	}
}

func TestBareMentionSkippedWhenDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Bot.ReplyToBareMentions = false

	platform := &fakePlatform{
		mentions: []models.Mention{
			{ID: "bare", Text: "@KaspaAnswerBot", AuthorID: "user-2", ConversationID: "bare"},
		},
	}
	answerer := &fakeAnswerer{text: "answer"}

	engine, store, _ := newTestEngine(t, filepath.Join(t.TempDir(), "bare.db"), cfg, platform, answerer)
	engine.runCycle(context.Background())

	if answerer.calls != 0 {
		t.Fatalf("bare mention answered with replies disabled")
	}
	if processed, _ := store.HasProcessed("bare"); !processed {
		t.Fatalf("skipped bare mention not recorded as processed")
	}
}

func TestBareMentionAnsweredWhenEnabled(t *testing.T) {
	platform := &fakePlatform{
		mentions: []models.Mention{
			{ID: "bare", Text: "@KaspaAnswerBot", AuthorID: "user-2", ConversationID: "bare"},
		},
	}
	answerer := &fakeAnswerer{text: "Hi! Ask me anything about Kaspa."}

	engine, store, _ := newTestEngine(t, filepath.Join(t.TempDir(), "bare2.db"), testConfig(), platform, answerer)
	engine.runCycle(context.Background())

	if answerer.calls != 1 {
		t.Fatalf("bare mention not answered with replies enabled")
	}
	if answerer.asked[0] != greetingPrompt {
		t.Fatalf("expected greeting prompt, got %q", answerer.asked[0])
	}

	// Posted in the same cycle (quota available), so queue is empty and the
	// interaction shows the reply.
	interactions, _ := store.RecentInteractions(10)
	if len(interactions) != 1 || !interactions[0].ReplyPosted {
		t.Fatalf("bare mention reply not posted: %+v", interactions)
	}
}

func TestPostQuotaStopsDrain(t *testing.T) {
	cfg := testConfig()
	cfg.Twitter.DailyPostLimit = 1

	platform := &fakePlatform{
		mentions: []models.Mention{
			questionMention("m1"),
			{ID: "m2", Text: "@KaspaAnswerBot why is kaspa fast?", AuthorID: "user-3", ConversationID: "m2"},
		},
	}
	answerer := &fakeAnswerer{text: "because BlockDAG"}

	engine, store, _ := newTestEngine(t, filepath.Join(t.TempDir(), "quota.db"), cfg, platform, answerer)
	engine.runCycle(context.Background())

	if len(platform.posts) != 1 {
		t.Fatalf("expected exactly 1 post under quota 1, got %d", len(platform.posts))
	}
	pending, _ := store.ListQueue()
	if len(pending) != 1 {
		t.Fatalf("expected 1 response held for quota, got %d", len(pending))
	}
}

func TestPostNext(t *testing.T) {
	cfg := testConfig()
	cfg.Twitter.DailyPostLimit = 1

	platform := &fakePlatform{}
	answerer := &fakeAnswerer{}

	engine, store, _ := newTestEngine(t, filepath.Join(t.TempDir(), "postnext.db"), cfg, platform, answerer)

	// Empty queue is an error.
	if _, err := engine.PostNext(context.Background()); err == nil {
		t.Fatalf("expected error on empty queue")
	}

	for _, id := range []string{"m1", "m2"} {
		if err := store.Enqueue(&models.QueuedResponse{
			MentionID:    id,
			ResponseText: "answer " + id,
			Priority:     1,
			QueuedAt:     time.Now(),
		}); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		if err := store.RecordInteraction(&models.Interaction{
			MentionID: id, MentionText: "q", AIResponse: "answer " + id, Timestamp: time.Now(),
		}); err != nil {
			t.Fatalf("record interaction failed: %v", err)
		}
	}

	posted, err := engine.PostNext(context.Background())
	if err != nil {
		t.Fatalf("PostNext failed: %v", err)
	}
	if posted.MentionID != "m1" {
		t.Fatalf("expected m1 posted first, got %s", posted.MentionID)
	}

	// Daily quota of 1 is spent; the manual path is still quota-checked.
	_, err = engine.PostNext(context.Background())
	if !errors.Is(err, models.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}
