package conversation

import (
	"context"
	"errors"
	"strings"

	"github.com/ashureev/chatdesk/internal/completion"
	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/history"
)

// SendResult is the settled outcome of a successful send.
type SendResult struct {
	Thread        domain.Thread      `json:"thread"`
	UserTurn      domain.Turn        `json:"user_turn"`
	AssistantTurn domain.Turn        `json:"assistant_turn"`
	Result        completion.Result  `json:"result"`
	Quota         domain.QuotaStatus `json:"quota"`
	CreatedThread bool               `json:"created_thread"`
}

// pendingSend carries what the workflow captured when the user turn was
// tentatively appended.
type pendingSend struct {
	threadID   int64
	userTurn   domain.Turn
	msgs       []completion.Message
	turns      []domain.Turn
	model      string
	credential *string
	created    bool
}

// SendMessage runs the send workflow against threadID, or the active thread
// when threadID is 0. A new thread is created only when threadID is 0 and no
// thread is active.
//
// Quota is checked first; a rejected send leaves every thread untouched. The
// user turn is appended before the completion call and is retracted if the
// call fails or the backend reports an error. Once dispatched, the call is
// not cancelled with ctx; the gateway's timeout is its only bound.
func (s *Store) SendMessage(ctx context.Context, threadID int64, content string) (SendResult, error) {
	if strings.TrimSpace(content) == "" {
		return SendResult{}, ErrEmptyMessage
	}

	p, err := s.appendTentative(ctx, threadID, content)
	if err != nil {
		return SendResult{}, err
	}

	res, err := s.deps.Gateway.Complete(context.WithoutCancel(ctx), p.msgs, completion.Options{
		Model:      p.model,
		Credential: p.credential,
	})

	switch {
	case err != nil:
		s.retract(ctx, p)
		s.logger.Warn("Completion failed, user turn retracted", "thread_id", p.threadID, "error", err)
		if errors.Is(err, completion.ErrCredentialMissing) {
			return SendResult{}, err
		}
		return SendResult{}, &TransportFaultError{Err: err}

	case !res.OK():
		s.retract(ctx, p)
		s.recordAsync(ctx, p, res)
		s.logger.Warn("Completion rejected by backend", "thread_id", p.threadID, "model", res.Model)
		return SendResult{}, &CompletionRejectedError{Message: res.Content, Model: res.Model}
	}

	out := s.confirm(ctx, p, res)
	s.recordAsync(ctx, p, res)
	return out, nil
}

// appendTentative performs the quota check and the optimistic append.
func (s *Store) appendTentative(ctx context.Context, threadID int64, content string) (*pendingSend, error) {
	s.mu.Lock()
	now := s.deps.Tracker.Now()

	var th *domain.Thread
	if threadID != 0 {
		th = s.findLocked(threadID)
		if th == nil {
			s.mu.Unlock()
			return nil, ErrThreadNotFound
		}
	} else {
		th = s.findLocked(s.activeID)
	}
	if th != nil && s.busy[th.ID] {
		s.mu.Unlock()
		return nil, ErrBusy
	}

	ceiling := s.ceilingLocked(now)
	allowed, next, reset := s.deps.Tracker.CheckAndMaybeReset(s.quota, ceiling)
	s.quota = next

	if !allowed {
		status := s.quotaStatusLocked(now)
		var snap *domain.Snapshot
		if reset {
			snap = s.snapshotLocked()
		}
		s.mu.Unlock()

		if snap != nil {
			s.commit(ctx, snap, Event{Type: EventQuotaUpdated, Quota: &status, At: now})
		}
		s.logger.Info("Send rejected by quota", "used", status.MonthlyTokens, "ceiling", ceiling)
		return nil, &QuotaExceededError{Ceiling: ceiling, Used: status.MonthlyTokens, Remaining: status.Remaining}
	}

	var events []Event
	created := false
	if th == nil {
		th = s.newThreadLocked(now)
		created = true
		fresh := th.Clone()
		events = append(events, Event{Type: EventThreadCreated, ThreadID: th.ID, Thread: &fresh, At: now})
	}

	turn := domain.Turn{
		ID:        s.nextIDLocked(now),
		Content:   content,
		IsUser:    true,
		Timestamp: now,
	}
	th.Turns = append(th.Turns, turn)
	s.busy[th.ID] = true

	p := &pendingSend{
		threadID:   th.ID,
		userTurn:   turn,
		msgs:       completion.MessagesFromTurns(th.Turns),
		turns:      append([]domain.Turn(nil), th.Turns...),
		model:      th.Model,
		credential: cloneString(s.credential),
		created:    created,
	}
	if reset {
		status := s.quotaStatusLocked(now)
		events = append(events, Event{Type: EventQuotaUpdated, Quota: &status, At: now})
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	events = append(events, Event{Type: EventTurnAppended, ThreadID: p.threadID, Turn: &turn, Pending: true, At: now})
	s.commit(ctx, snap, events...)
	return p, nil
}

// retract removes the tentative user turn by ID and clears the busy flag.
func (s *Store) retract(ctx context.Context, p *pendingSend) {
	s.mu.Lock()
	delete(s.busy, p.threadID)
	removed := false
	if th := s.findLocked(p.threadID); th != nil {
		removed = th.RemoveTurn(p.userTurn.ID)
	}
	var snap *domain.Snapshot
	if removed {
		snap = s.snapshotLocked()
	}
	s.mu.Unlock()

	if removed {
		turn := p.userTurn
		s.commit(ctx, snap, Event{Type: EventTurnRetracted, ThreadID: p.threadID, Turn: &turn, At: s.deps.Tracker.Now()})
	}
}

// confirm appends the assistant turn and books the consumed tokens against
// the thread and the monthly counter in one critical section.
func (s *Store) confirm(ctx context.Context, p *pendingSend, res completion.Result) SendResult {
	s.mu.Lock()
	now := s.deps.Tracker.Now()
	delete(s.busy, p.threadID)

	reply := domain.Turn{
		ID:        s.nextIDLocked(now),
		Content:   res.Content,
		IsUser:    false,
		Timestamp: now,
	}

	th := s.findLocked(p.threadID)
	th.Turns = append(th.Turns, reply)
	th.TokensUsed += res.TokensUsed
	th.LastActive = now
	s.quota = s.deps.Tracker.RecordConsumption(s.quota, res.TokensUsed)

	out := SendResult{
		Thread:        th.Clone(),
		UserTurn:      p.userTurn,
		AssistantTurn: reply,
		Result:        res,
		Quota:         s.quotaStatusLocked(now),
		CreatedThread: p.created,
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.commit(ctx, snap,
		Event{Type: EventTurnAppended, ThreadID: p.threadID, Turn: &out.AssistantTurn, At: now},
		Event{Type: EventQuotaUpdated, Quota: &out.Quota, At: now},
	)
	s.logger.Info("Message settled",
		"thread_id", p.threadID,
		"model", res.Model,
		"tokens", res.TokensUsed,
		"monthly_tokens", out.Quota.MonthlyTokens)
	return out
}

// recordAsync writes the history entry in the background. Its outcome never
// reaches the caller.
func (s *Store) recordAsync(ctx context.Context, p *pendingSend, res completion.Result) {
	if s.deps.Recorder == nil {
		return
	}
	entry := &domain.HistoryEntry{
		UserID:       s.userID,
		Kind:         domain.HistoryKindChat,
		Model:        res.Model,
		Title:        history.Title(res.TokensUsed),
		TokensUsed:   res.TokensUsed,
		ResponseTime: res.ResponseTime,
		Status:       res.Status,
		Turns:        p.turns,
		Prompt:       p.userTurn.Content,
		Completion:   res.Content,
	}

	bgCtx := context.WithoutCancel(ctx)
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(bgCtx, s.cfg.HistoryTimeout)
		defer cancel()
		if err := s.deps.Recorder.Record(ctx, entry); err != nil {
			s.logger.Warn("History not recorded", "thread_id", p.threadID, "error", err)
		}
	}()
}
