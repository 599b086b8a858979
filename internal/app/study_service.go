package app

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"studybuddy/internal/ai"
	"studybuddy/internal/model"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionStore interface {
	Create(session *model.Session) error
	ListByUserID(userID uint) ([]model.Session, error)
	GetByIDAndUserID(sessionID, userID uint) (*model.Session, error)
	DeleteByIDAndUserID(sessionID, userID uint) error
	Touch(sessionID uint, at time.Time) error
	SetLastTurnError(sessionID uint, message string) error
}

type MessageStore interface {
	Append(message *model.Message) error
	NextOrdinal(sessionID uint) (int, error)
	ListBySessionID(sessionID uint) ([]model.Message, error)
	DeleteBySessionID(sessionID uint) error
}

type HistoryCache interface {
	GetHistory(ctx context.Context, sessionID uint) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, sessionID uint, messages []model.Message) error
	DeleteHistory(ctx context.Context, sessionID uint) error
	MarkDirty(ctx context.Context, sessionID uint) error
	IsDirty(ctx context.Context, sessionID uint) (bool, error)
}

// StudyService manages session lifecycle and the persisted message log. The
// log is the source of truth for history, independent of backend retention.
type StudyService struct {
	sessions     SessionStore
	messages     MessageStore
	collections  CollectionCatalog
	gateway      ai.Gateway
	historyCache HistoryCache
	maxRetries   int
	retryBackoff time.Duration
}

type CreateSessionInput struct {
	UserID       uint
	CollectionID uint
	Title        string
}

func NewStudyService(
	sessions SessionStore,
	messages MessageStore,
	collections CollectionCatalog,
	gateway ai.Gateway,
	historyCache HistoryCache,
	maxRetries int,
	retryBackoff time.Duration,
) *StudyService {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryBackoff <= 0 {
		retryBackoff = time.Second
	}
	return &StudyService{
		sessions:     sessions,
		messages:     messages,
		collections:  collections,
		gateway:      gateway,
		historyCache: historyCache,
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
	}
}

// CreateSession allocates a remote thread and persists the session record.
// If persistence fails after the thread exists, the orphaned remote thread is
// logged and accepted; a session row pointing at a dead thread is never left
// behind.
func (s *StudyService) CreateSession(ctx context.Context, input CreateSessionInput) (*model.Session, error) {
	if input.UserID == 0 || input.CollectionID == 0 {
		return nil, ErrInvalidInput
	}

	collection, err := s.collections.GetByID(input.CollectionID)
	if err != nil {
		return nil, err
	}
	if collection == nil {
		return nil, ErrCollectionNotFound
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "New Study Session"
	}

	var threadID string
	err = ai.Retry(ctx, s.maxRetries, s.retryBackoff, func(ctx context.Context) error {
		var callErr error
		threadID, callErr = s.gateway.CreateThread(ctx)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	session := &model.Session{
		UserID:         input.UserID,
		CollectionID:   input.CollectionID,
		Title:          title,
		RemoteThreadID: threadID,
	}
	if err := s.sessions.Create(session); err != nil {
		log.Printf("session persist failed, remote thread %s orphaned: %v", threadID, err)
		return nil, err
	}
	return session, nil
}

func (s *StudyService) ListSessions(userID uint) ([]model.Session, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.sessions.ListByUserID(userID)
}

// GetSession returns the caller's session or ErrSessionNotFound; sessions are
// never visible across users.
func (s *StudyService) GetSession(userID, sessionID uint) (*model.Session, error) {
	if userID == 0 || sessionID == 0 {
		return nil, ErrInvalidInput
	}
	session, err := s.sessions.GetByIDAndUserID(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// GetHistory returns the full persisted log in ordinal order, going through
// the cache when it is known clean.
func (s *StudyService) GetHistory(ctx context.Context, userID, sessionID uint) ([]model.Message, error) {
	if _, err := s.GetSession(userID, sessionID); err != nil {
		return nil, err
	}

	if s.historyCache != nil {
		dirty, err := s.historyCache.IsDirty(ctx, sessionID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, sessionID); cacheErr == nil && hit {
				return cached, nil
			}
		}
	}

	messages, err := s.messages.ListBySessionID(sessionID)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, sessionID); dirtyErr == nil && !dirty {
			_ = s.historyCache.SetHistory(ctx, sessionID, messages)
		}
	}
	return messages, nil
}

// DeleteSession removes the session, its log and (best effort) its remote
// thread. The shared collection and assistant are never touched: other
// sessions may reference them.
func (s *StudyService) DeleteSession(ctx context.Context, userID, sessionID uint) error {
	session, err := s.GetSession(userID, sessionID)
	if err != nil {
		return err
	}

	if err := s.gateway.DeleteThread(ctx, session.RemoteThreadID); err != nil {
		log.Printf("delete remote thread %s failed, continuing with local delete: %v", session.RemoteThreadID, err)
	}
	if err := s.messages.DeleteBySessionID(sessionID); err != nil {
		return err
	}
	if err := s.sessions.DeleteByIDAndUserID(sessionID, userID); err != nil {
		return err
	}
	if s.historyCache != nil {
		_ = s.historyCache.DeleteHistory(ctx, sessionID)
	}
	return nil
}
