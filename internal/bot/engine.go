// Package bot contains the mention-response orchestrator: a single control
// loop that fetches mentions, generates answers and drains the posting queue
// while the rate tracker holds both quotas.
package bot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/umairimran/kaspaBot/internal/answer"
	"github.com/umairimran/kaspaBot/internal/config"
	"github.com/umairimran/kaspaBot/internal/models"
	"github.com/umairimran/kaspaBot/internal/ratelimit"
	"github.com/umairimran/kaspaBot/internal/repository"
)

// State of the orchestrator's lifecycle machine.
type State int

const (
	Stopped State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Platform is the social platform surface the engine consumes.
type Platform interface {
	SearchMentions(ctx context.Context, sinceID string) ([]models.Mention, string, error)
	GetTweet(ctx context.Context, tweetID string) (string, error)
	PostReply(ctx context.Context, text, inReplyTo string) (string, error)
	BotUserID() string
}

// Answerer generates replies for extracted questions.
type Answerer interface {
	Ask(ctx context.Context, question, conversationID string) (*answer.Answer, error)
}

const cursorStateKey = "mention_cursor"

// Engine ties fetcher, classifier, answer client, queue and rate tracker
// together. One logical worker: a single loop goroutine runs cycles; the
// control surface reads snapshots concurrently under the mutex.
type Engine struct {
	cfg      *config.Config
	store    *repository.Store
	tracker  *ratelimit.Tracker
	platform Platform
	answerer Answerer
	logger   *zap.Logger

	mu         sync.Mutex
	state      State
	startTime  time.Time
	errorCount int
	lastError  string
	cancel     context.CancelFunc
	done       chan struct{}

	// postMu serializes posting between the cycle loop and manual post-next.
	postMu sync.Mutex

	// answerRetries counts failed answer attempts per mention within this
	// process. Reset on restart; the mention is simply retried fresh.
	answerRetries map[string]int

	now func() time.Time
}

// NewEngine wires the orchestrator. It does not start the loop.
func NewEngine(
	cfg *config.Config,
	store *repository.Store,
	tracker *ratelimit.Tracker,
	platform Platform,
	answerer Answerer,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		cfg:           cfg,
		store:         store,
		tracker:       tracker,
		platform:      platform,
		answerer:      answerer,
		logger:        logger,
		answerRetries: make(map[string]int),
		now:           time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Start launches the poll loop. Idempotent: starting a running engine is a
// no-op reporting the current state, never a second loop.
func (e *Engine) Start() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Stopped {
		e.logger.Info("Start ignored, engine already active", zap.Stringer("state", e.state))
		return e.state
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.state = Running
	e.startTime = e.now()
	e.errorCount = 0
	e.lastError = ""

	go e.run(ctx)

	e.logger.Info("Engine started",
		zap.String("handle", e.cfg.Twitter.BotHandle),
		zap.String("search_interval", e.cfg.Twitter.SearchInterval),
		zap.Int("daily_post_limit", e.cfg.Twitter.DailyPostLimit))

	return e.state
}

// Stop signals the loop to exit once its current step completes. A started
// post always finishes (or fails cleanly) before shutdown proceeds.
func (e *Engine) Stop() State {
	e.mu.Lock()
	if e.state != Running {
		state := e.state
		e.mu.Unlock()
		e.logger.Info("Stop ignored, engine not running", zap.Stringer("state", state))
		return state
	}
	e.state = Stopping
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	cancel()
	<-done

	e.logger.Info("Engine stopped")
	return Stopped
}

// IsRunning reports whether the loop is active.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == Running
}

// Status returns an atomic snapshot for the control surface.
func (e *Engine) Status() models.BotStatus {
	e.mu.Lock()
	status := models.BotStatus{
		IsRunning:  e.state == Running,
		ErrorCount: e.errorCount,
		LastError:  e.lastError,
	}
	if e.state == Running {
		start := e.startTime
		status.StartTime = &start
		status.UptimeSeconds = e.now().Sub(start).Seconds()
	}
	e.mu.Unlock()

	if stats, err := e.store.QueueStats(); err == nil {
		status.QueueStats = stats
	}
	if remaining, err := e.tracker.Remaining(ratelimit.KindPost); err == nil {
		status.PostsRemainingToday = remaining
	}
	if last, ok, err := e.tracker.LastAcquired(ratelimit.KindSearch); err == nil && ok {
		status.LastSearchTime = &last
		next := last.Add(e.cfg.SearchInterval())
		status.NextSearchTime = &next
	}

	return status
}

// run is the loop goroutine. Exactly one exists while the engine is active.
func (e *Engine) run(ctx context.Context) {
	defer func() {
		e.mu.Lock()
		e.state = Stopped
		cancel := e.cancel
		e.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		close(e.done)
	}()

	for {
		if fatal := e.runCycle(ctx); fatal {
			e.logger.Error("Fatal error, engine stopping")
			return
		}

		wait := e.nextWake()
		e.logger.Debug("Cycle complete", zap.Duration("sleep", wait))

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// nextWake computes how long to sleep: the sooner of the next search slot
// and, when responses are pending, the next post slot.
func (e *Engine) nextWake() time.Duration {
	now := e.now()
	next, err := e.tracker.NextAvailable(ratelimit.KindSearch)
	if err != nil {
		return e.cfg.SearchInterval()
	}

	if stats, err := e.store.QueueStats(); err == nil && stats.Pending > 0 {
		if nextPost, err := e.tracker.NextAvailable(ratelimit.KindPost); err == nil && nextPost.Before(next) {
			next = nextPost
		}
	}

	wait := next.Sub(now)
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

func (e *Engine) recordError(err error) {
	e.mu.Lock()
	e.errorCount++
	e.lastError = err.Error()
	e.mu.Unlock()
}
