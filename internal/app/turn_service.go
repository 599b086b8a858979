package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"studybuddy/internal/ai"
	"studybuddy/internal/model"
	"studybuddy/internal/registry"
)

var (
	ErrMessageEmpty = errors.New("message content is empty")
	ErrTurnInFlight = errors.New("a turn is already running for this session")
	ErrRunFailed    = errors.New("assistant run failed")
	ErrRunTimeout   = errors.New("assistant run timed out")
)

type ActivityPublisher interface {
	Publish(ctx context.Context, activity model.SessionActivity) error
}

type AssistantCatalog interface {
	GetByCollectionID(collectionID uint) (*model.AssistantBinding, error)
}

// TurnService drives one conversation turn through the backend:
// Submitted -> Running -> Completed/Failed/TimedOut. The user half of the
// turn is committed optimistically; the assistant half only on completion, so
// a failed run never leaves a phantom assistant message.
type TurnService struct {
	sessions     SessionStore
	messages     MessageStore
	collections  CollectionCatalog
	assistants   AssistantCatalog
	registry     *registry.Registry
	gateway      ai.Gateway
	historyCache HistoryCache
	publisher    ActivityPublisher

	pollInterval time.Duration
	pollBudget   time.Duration
	maxRetries   int
	retryBackoff time.Duration

	mu       sync.Mutex
	inFlight map[uint]struct{}
}

type SubmitTurnInput struct {
	UserID    uint
	SessionID uint
	Content   string
}

type TurnResult struct {
	UserMessage       model.Message   `json:"user_message"`
	AssistantMessages []model.Message `json:"assistant_messages"`
}

func NewTurnService(
	sessions SessionStore,
	messages MessageStore,
	collections CollectionCatalog,
	assistants AssistantCatalog,
	reg *registry.Registry,
	gateway ai.Gateway,
	historyCache HistoryCache,
	publisher ActivityPublisher,
	pollInterval time.Duration,
	pollBudget time.Duration,
	maxRetries int,
	retryBackoff time.Duration,
) *TurnService {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if pollBudget <= 0 {
		pollBudget = 2 * time.Minute
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryBackoff <= 0 {
		retryBackoff = time.Second
	}
	return &TurnService{
		sessions:     sessions,
		messages:     messages,
		collections:  collections,
		assistants:   assistants,
		registry:     reg,
		gateway:      gateway,
		historyCache: historyCache,
		publisher:    publisher,
		pollInterval: pollInterval,
		pollBudget:   pollBudget,
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
		inFlight:     make(map[uint]struct{}),
	}
}

// Submit runs one turn to completion. The poll loop runs on a background
// context bounded by the poll budget, so caller teardown never truncates a
// turn mid-append and the log stays gap-free.
func (s *TurnService) Submit(ctx context.Context, input SubmitTurnInput) (*TurnResult, error) {
	if input.UserID == 0 || input.SessionID == 0 {
		return nil, ErrInvalidInput
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, ErrMessageEmpty
	}

	session, err := s.sessions.GetByIDAndUserID(input.SessionID, input.UserID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	if !s.acquire(session.ID) {
		return nil, ErrTurnInFlight
	}
	defer s.release(session.ID)

	assistantID, err := s.resolveAssistant(ctx, session)
	if err != nil {
		return nil, err
	}

	// Optimistic user write: the caller's own message is visible immediately
	// regardless of backend latency.
	ordinal, err := s.messages.NextOrdinal(session.ID)
	if err != nil {
		return nil, err
	}
	userMessage := model.Message{
		SessionID: session.ID,
		Ordinal:   ordinal,
		Role:      model.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := s.messages.Append(&userMessage); err != nil {
		return nil, err
	}
	s.noteActivity(ctx, session)

	run, err := s.startRun(ctx, session, assistantID, content)
	if err != nil {
		s.recordFailure(session.ID, err)
		return nil, err
	}

	status, err := s.waitForRun(run)
	switch {
	case err != nil:
		s.recordFailure(session.ID, err)
		return nil, err
	case status == RunOutcomeTimedOut:
		s.cancelRun(run)
		s.recordFailure(session.ID, ErrRunTimeout)
		return nil, ErrRunTimeout
	case status == RunOutcomeFailed:
		s.recordFailure(session.ID, ErrRunFailed)
		return nil, ErrRunFailed
	}

	assistantMessages, err := s.commitAssistantMessages(session, run)
	if err != nil {
		s.recordFailure(session.ID, err)
		return nil, err
	}

	// Turn succeeded; clear any stale failure marker.
	if session.LastTurnError != "" {
		_ = s.sessions.SetLastTurnError(session.ID, "")
	}

	return &TurnResult{
		UserMessage:       userMessage,
		AssistantMessages: assistantMessages,
	}, nil
}

type RunOutcome int

const (
	RunOutcomeCompleted RunOutcome = iota
	RunOutcomeFailed
	RunOutcomeTimedOut
)

func (s *TurnService) resolveAssistant(ctx context.Context, session *model.Session) (string, error) {
	binding, err := s.assistants.GetByCollectionID(session.CollectionID)
	if err != nil {
		return "", err
	}
	if binding != nil {
		return binding.RemoteID, nil
	}

	// Binding missing (created lazily, or lost to a crash between collection
	// and assistant creation): heal it here.
	collection, err := s.collections.GetByID(session.CollectionID)
	if err != nil {
		return "", err
	}
	if collection == nil {
		return "", ErrCollectionNotFound
	}
	binding, err = s.registry.GetOrCreateAssistant(ctx, collection, func(ctx context.Context) (string, error) {
		var remoteID string
		retryErr := ai.Retry(ctx, s.maxRetries, s.retryBackoff, func(ctx context.Context) error {
			var callErr error
			remoteID, callErr = s.gateway.CreateAssistant(ctx, collection.RemoteID)
			return callErr
		})
		return remoteID, retryErr
	})
	if err != nil {
		return "", err
	}
	return binding.RemoteID, nil
}

func (s *TurnService) startRun(ctx context.Context, session *model.Session, assistantID, content string) (ai.RunHandle, error) {
	err := ai.Retry(ctx, s.maxRetries, s.retryBackoff, func(ctx context.Context) error {
		return s.gateway.PostMessage(ctx, session.RemoteThreadID, content)
	})
	if err != nil {
		return ai.RunHandle{}, err
	}

	var run ai.RunHandle
	err = ai.Retry(ctx, s.maxRetries, s.retryBackoff, func(ctx context.Context) error {
		var callErr error
		run, callErr = s.gateway.StartRun(ctx, session.RemoteThreadID, assistantID)
		return callErr
	})
	if err != nil {
		return ai.RunHandle{}, err
	}
	return run, nil
}

// waitForRun polls on a fixed interval until the run leaves the pending state
// or the wall-clock budget runs out. Transient poll errors are tolerated for
// the life of the budget.
func (s *TurnService) waitForRun(run ai.RunHandle) (RunOutcome, error) {
	runCtx, cancel := context.WithTimeout(context.Background(), s.pollBudget)
	defer cancel()

	for {
		select {
		case <-runCtx.Done():
			return RunOutcomeTimedOut, nil
		case <-time.After(s.pollInterval):
		}

		status, err := s.gateway.PollRun(runCtx, run)
		if err != nil {
			if ai.IsTransient(err) {
				continue
			}
			return RunOutcomeFailed, err
		}

		switch status {
		case ai.RunCompleted:
			return RunOutcomeCompleted, nil
		case ai.RunFailed, ai.RunCancelled:
			return RunOutcomeFailed, nil
		}
	}
}

func (s *TurnService) commitAssistantMessages(session *model.Session, run ai.RunHandle) ([]model.Message, error) {
	fetchCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var fetched []ai.ThreadMessage
	err := ai.Retry(fetchCtx, s.maxRetries, s.retryBackoff, func(ctx context.Context) error {
		var callErr error
		fetched, callErr = s.gateway.FetchNewMessages(ctx, run)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	appended := make([]model.Message, 0, len(fetched))
	for _, tm := range fetched {
		ordinal, err := s.messages.NextOrdinal(session.ID)
		if err != nil {
			return nil, err
		}
		message := model.Message{
			SessionID: session.ID,
			Ordinal:   ordinal,
			Role:      model.RoleAssistant,
			Content:   tm.Content,
			CreatedAt: time.Now(),
		}
		if err := s.messages.Append(&message); err != nil {
			return nil, err
		}
		appended = append(appended, message)
	}
	if len(appended) > 0 {
		s.noteActivity(context.Background(), session)
	}
	return appended, nil
}

func (s *TurnService) cancelRun(run ai.RunHandle) {
	cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.gateway.CancelRun(cancelCtx, run); err != nil {
		log.Printf("cancel run %s failed: %v", run.RunID, err)
	}
}

// recordFailure marks the turn-scoped failure on the session. No message is
// appended: prior history stays intact and the next turn takes the next
// ordinal as if this run never happened.
func (s *TurnService) recordFailure(sessionID uint, cause error) {
	if err := s.sessions.SetLastTurnError(sessionID, fmt.Sprintf("last turn failed: %v", cause)); err != nil {
		log.Printf("record turn failure for session %d failed: %v", sessionID, err)
	}
}

func (s *TurnService) noteActivity(ctx context.Context, session *model.Session) {
	if s.historyCache != nil {
		_ = s.historyCache.MarkDirty(ctx, session.ID)
		_ = s.historyCache.DeleteHistory(ctx, session.ID)
	}
	if s.publisher != nil {
		activity := model.SessionActivity{
			SessionID: session.ID,
			UserID:    session.UserID,
			At:        time.Now(),
		}
		if err := s.publisher.Publish(ctx, activity); err != nil {
			log.Printf("publish session activity failed: %v", err)
		}
	}
}

func (s *TurnService) acquire(sessionID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[sessionID]; busy {
		return false
	}
	s.inFlight[sessionID] = struct{}{}
	return true
}

func (s *TurnService) release(sessionID uint) {
	s.mu.Lock()
	delete(s.inFlight, sessionID)
	s.mu.Unlock()
}
