package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/umairimran/kaspaBot/internal/classify"
	"github.com/umairimran/kaspaBot/internal/models"
	"github.com/umairimran/kaspaBot/internal/ratelimit"
)

// Timeout for individual platform calls inside a cycle. Keeps a hung call
// from blocking Stop indefinitely.
const platformCallTimeout = 20 * time.Second

// greetingPrompt is sent to the answer service for bare mentions when
// reply_to_bare_mentions is enabled.
const greetingPrompt = "Hello! How can I help you with Kaspa?"

// unavailableSentinel marks interactions skipped because the answer service
// was down and skip_on_unavailable is set.
const unavailableSentinel = "Sorry, I'm currently unavailable."

// runCycle executes one fetch → answer → drain pass. Returns true on a
// fatal error (credential failure) that must stop the engine.
func (e *Engine) runCycle(ctx context.Context) bool {
	if ok, retryAfter, err := e.tracker.TryAcquire(ratelimit.KindSearch); err != nil {
		e.recordError(err)
	} else if !ok {
		e.logger.Debug("Search quota exhausted", zap.Duration("retry_after", retryAfter))
	} else if fatal := e.fetchAndProcess(ctx); fatal {
		return true
	}

	select {
	case <-ctx.Done():
		return false
	default:
	}

	return e.drainQueue(ctx)
}

func (e *Engine) fetchAndProcess(ctx context.Context) bool {
	cursor, err := e.store.GetState(cursorStateKey)
	if err != nil {
		e.recordError(err)
		return false
	}

	fetchCtx, cancel := context.WithTimeout(ctx, platformCallTimeout)
	mentions, newest, err := e.platform.SearchMentions(fetchCtx, cursor)
	cancel()
	if err != nil {
		e.recordError(err)
		if errors.Is(err, models.ErrAuth) {
			return true
		}
		// Transient and rate-limit failures retry on the next cycle.
		e.logger.Warn("Mention fetch failed", zap.Error(err))
		return false
	}

	if newest != "" && newest != cursor {
		if err := e.store.SetState(cursorStateKey, newest); err != nil {
			e.recordError(err)
		}
	}

	if len(mentions) > 0 {
		e.processMentions(ctx, mentions)
	}

	return false
}

type answerJob struct {
	mention  models.Mention
	question string
	priority int
}

type answerResult struct {
	job  answerJob
	text string
	err  error
}

// processMentions filters, classifies and answers newly fetched mentions.
// Answer calls fan out across a small worker pool; all store writes happen
// serially in this goroutine.
func (e *Engine) processMentions(ctx context.Context, mentions []models.Mention) {
	var jobs []answerJob

	for _, m := range mentions {
		processed, err := e.store.HasProcessed(m.ID)
		if err != nil {
			e.recordError(err)
			continue
		}
		if processed {
			continue
		}

		if m.AuthorID != "" && m.AuthorID == e.platform.BotUserID() {
			e.recordSkipped(m, "own tweet")
			continue
		}

		cls := classify.Classify(m.Text, e.cfg.Twitter.BotHandle)
		switch {
		case cls.Kind == classify.Excluded:
			e.recordSkipped(m, "excluded by filter")
			continue
		case cls.Kind == classify.BareMention && cls.Question == "" && !e.cfg.Bot.ReplyToBareMentions:
			e.recordSkipped(m, "bare mention")
			continue
		}

		jobs = append(jobs, answerJob{
			mention:  m,
			question: e.buildQuestion(ctx, m, cls),
			priority: cls.Priority,
		})
	}

	if len(jobs) == 0 {
		return
	}

	e.logger.Info("Answering new mentions", zap.Int("count", len(jobs)))

	workers := e.cfg.Bot.AnswerWorkers
	if workers > len(jobs) {
		workers = len(jobs)
	}

	jobCh := make(chan answerJob)
	resultCh := make(chan answerResult, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				ans, err := e.answerer.Ask(ctx, job.question, job.mention.ConversationID)
				res := answerResult{job: job, err: err}
				if err == nil {
					res.text = ans.Text
				}
				resultCh <- res
			}
		}()
	}

	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)
	wg.Wait()
	close(resultCh)

	for res := range resultCh {
		e.handleAnswerResult(res)
	}
}

// buildQuestion assembles the prompt for the answer service, optionally
// pulling in the parent tweet of a reply as context.
func (e *Engine) buildQuestion(ctx context.Context, m models.Mention, cls classify.Classification) string {
	question := cls.Question

	var parent string
	if e.cfg.Twitter.FetchParentContext && m.ConversationID != "" && m.ConversationID != m.ID {
		lookupCtx, cancel := context.WithTimeout(ctx, platformCallTimeout)
		text, err := e.platform.GetTweet(lookupCtx, m.ConversationID)
		cancel()
		if err != nil {
			// Context is best-effort; answer from the mention alone.
			e.logger.Debug("Parent tweet lookup failed", zap.Error(err))
		} else {
			parent = text
		}
	}

	switch {
	case parent != "" && question != "":
		return fmt.Sprintf("Original post: '%s'\n\nUser's question/mention: '%s'", parent, question)
	case parent != "":
		return fmt.Sprintf("Please explain or comment on this: '%s'", parent)
	case question != "":
		return question
	default:
		return greetingPrompt
	}
}

func (e *Engine) handleAnswerResult(res answerResult) {
	m := res.job.mention

	if res.err != nil {
		e.recordError(res.err)

		if !errors.Is(res.err, models.ErrUpstreamUnavailable) {
			e.logger.Error("Answer generation failed", zap.String("mention_id", m.ID), zap.Error(res.err))
		}

		if e.cfg.Bot.SkipOnUnavailable {
			e.recordInteraction(m, unavailableSentinel, false)
			return
		}

		e.answerRetries[m.ID]++
		if e.answerRetries[m.ID] >= e.cfg.Bot.MaxAnswerRetries {
			e.logger.Warn("Giving up on mention after repeated answer failures",
				zap.String("mention_id", m.ID),
				zap.Int("attempts", e.answerRetries[m.ID]))
			delete(e.answerRetries, m.ID)
			e.recordInteraction(m, "", false)
		}
		return
	}

	delete(e.answerRetries, m.ID)

	text := classify.TruncateReply(res.text, e.cfg.Bot.ReplyCharLimit)

	// One transaction, so the queue never holds a response whose
	// interaction is missing after a crash.
	err := e.store.EnqueueWithInteraction(&models.QueuedResponse{
		MentionID:      m.ID,
		ResponseText:   text,
		ConversationID: m.ConversationID,
		Priority:       res.job.priority,
		QueuedAt:       e.now(),
	}, &models.Interaction{
		MentionID:   m.ID,
		MentionText: m.Text,
		AIResponse:  text,
		ReplyPosted: false,
		Timestamp:   e.now(),
	})
	if err != nil {
		if errors.Is(err, models.ErrDuplicateMention) {
			e.logger.Warn("Mention raced into queue twice", zap.String("mention_id", m.ID))
			return
		}
		e.recordError(err)
		return
	}
}

// recordSkipped marks a mention processed without answering it, so it is
// never fetched into work again.
func (e *Engine) recordSkipped(m models.Mention, reason string) {
	e.logger.Info("Mention skipped",
		zap.String("mention_id", m.ID),
		zap.String("reason", reason))
	e.recordInteraction(m, "", false)
}

func (e *Engine) recordInteraction(m models.Mention, response string, posted bool) {
	err := e.store.RecordInteraction(&models.Interaction{
		MentionID:   m.ID,
		MentionText: m.Text,
		AIResponse:  response,
		ReplyPosted: posted,
		Timestamp:   e.now(),
	})
	if err != nil && !errors.Is(err, models.ErrDuplicateMention) {
		e.recordError(err)
	}
}

// drainQueue posts pending responses while the post quota grants capacity.
// Posting is strictly serialized; returns true on fatal credential failure.
func (e *Engine) drainQueue(ctx context.Context) bool {
	e.postMu.Lock()
	defer e.postMu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		resp, err := e.store.PeekNext()
		if err != nil {
			e.recordError(err)
			return false
		}
		if resp == nil {
			return false
		}

		ok, retryAfter, err := e.tracker.TryAcquire(ratelimit.KindPost)
		if err != nil {
			e.recordError(err)
			return false
		}
		if !ok {
			e.logger.Info("Daily post quota reached", zap.Duration("retry_after", retryAfter))
			return false
		}

		done, fatal := e.postOne(ctx, resp)
		if fatal {
			return true
		}
		if !done {
			// Transient failure; let the next cycle retry.
			return false
		}
	}
}

// postOne attempts a single post. Returns done=true when the queue entry was
// resolved (posted or permanently failed), fatal=true on credential failure.
func (e *Engine) postOne(ctx context.Context, resp *models.QueuedResponse) (done, fatal bool) {
	postCtx, cancel := context.WithTimeout(ctx, platformCallTimeout)
	replyID, err := e.platform.PostReply(postCtx, resp.ResponseText, resp.MentionID)
	cancel()

	if err == nil {
		if err := e.store.CompletePost(resp.MentionID); err != nil {
			e.recordError(err)
			return false, false
		}
		e.logger.Info("Reply posted",
			zap.String("mention_id", resp.MentionID),
			zap.String("reply_id", replyID))
		return true, false
	}

	e.recordError(err)

	switch {
	case errors.Is(err, models.ErrAuth):
		return false, true
	case errors.Is(err, models.ErrPostRejected):
		e.logger.Warn("Reply rejected by platform, dropping",
			zap.String("mention_id", resp.MentionID),
			zap.Error(err))
		if err := e.store.Dequeue(resp.MentionID); err != nil {
			e.recordError(err)
		}
		return true, false
	default:
		count, rerr := e.store.IncrementRetry(resp.MentionID)
		if rerr != nil {
			e.recordError(rerr)
			return false, false
		}
		if count >= e.cfg.Bot.MaxPostRetries {
			e.logger.Warn("Dropping response after repeated post failures",
				zap.String("mention_id", resp.MentionID),
				zap.Int("attempts", count))
			if err := e.store.Dequeue(resp.MentionID); err != nil {
				e.recordError(err)
			}
			return true, false
		}
		return false, false
	}
}

// PostNext forces one post attempt outside the normal cycle. Still quota
// checked. Returns the posted response on success.
func (e *Engine) PostNext(ctx context.Context) (*models.QueuedResponse, error) {
	e.postMu.Lock()
	defer e.postMu.Unlock()

	resp, err := e.store.PeekNext()
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("queue is empty")
	}

	ok, retryAfter, err := e.tracker.TryAcquire(ratelimit.KindPost)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: next post slot in %s", models.ErrRateLimited, retryAfter.Round(time.Second))
	}

	done, _ := e.postOne(ctx, resp)
	if !done {
		return nil, fmt.Errorf("post attempt failed, response kept for retry")
	}
	return resp, nil
}
