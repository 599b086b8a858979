package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"studybuddy/internal/ai"
	"studybuddy/internal/model"
	"studybuddy/internal/repository"
)

// In-memory stands-ins for the gorm repositories, enforcing the same
// contracts (unique fingerprints, gap-free ordinals).

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[uint]*model.Session
	next     uint
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[uint]*model.Session)}
}

func (s *fakeSessionStore) Create(session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	session.ID = s.next
	session.CreatedAt = time.Now()
	session.UpdatedAt = session.CreatedAt
	clone := *session
	s.sessions[session.ID] = &clone
	return nil
}

func (s *fakeSessionStore) ListByUserID(userID uint) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, *sess)
		}
	}
	return out, nil
}

func (s *fakeSessionStore) GetByIDAndUserID(sessionID, userID uint) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.UserID != userID {
		return nil, nil
	}
	clone := *sess
	return &clone, nil
}

func (s *fakeSessionStore) DeleteByIDAndUserID(sessionID, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok && sess.UserID == userID {
		delete(s.sessions, sessionID)
	}
	return nil
}

func (s *fakeSessionStore) Touch(sessionID uint, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.UpdatedAt = at
	}
	return nil
}

func (s *fakeSessionStore) SetLastTurnError(sessionID uint, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.LastTurnError = message
	}
	return nil
}

type fakeMessageStore struct {
	mu   sync.Mutex
	logs map[uint][]model.Message
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{logs: make(map[uint][]model.Message)}
}

func (s *fakeMessageStore) Append(message *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.logs[message.SessionID]
	if message.Ordinal != len(log) {
		return repository.ErrOrdinalConflict
	}
	message.ID = uint(len(log) + 1)
	s.logs[message.SessionID] = append(log, *message)
	return nil
}

func (s *fakeMessageStore) NextOrdinal(sessionID uint) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs[sessionID]), nil
}

func (s *fakeMessageStore) ListBySessionID(sessionID uint) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.logs[sessionID]
	out := make([]model.Message, len(log))
	copy(out, log)
	return out, nil
}

func (s *fakeMessageStore) DeleteBySessionID(sessionID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, sessionID)
	return nil
}

type fakeFileStore struct {
	mu    sync.Mutex
	files map[string]*model.StudyFile
	next  uint
}

func newFakeFileStore() *fakeFileStore {
	return &fakeFileStore{files: make(map[string]*model.StudyFile)}
}

func (s *fakeFileStore) GetByFingerprint(fp string) (*model.StudyFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[fp]; ok {
		clone := *f
		return &clone, nil
	}
	return nil, nil
}

func (s *fakeFileStore) Create(file *model.StudyFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[file.Fingerprint]; ok {
		return repository.ErrDuplicateKey
	}
	s.next++
	file.ID = s.next
	clone := *file
	s.files[file.Fingerprint] = &clone
	return nil
}

func (s *fakeFileStore) ListByUploaderID(uploaderID uint) ([]model.StudyFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.StudyFile
	for _, f := range s.files {
		if f.UploaderID == uploaderID {
			out = append(out, *f)
		}
	}
	return out, nil
}

type fakeCollectionStore struct {
	mu     sync.Mutex
	byFP   map[string]*model.Collection
	byID   map[uint]*model.Collection
	member map[uint][]uint
	next   uint
}

func newFakeCollectionStore() *fakeCollectionStore {
	return &fakeCollectionStore{
		byFP:   make(map[string]*model.Collection),
		byID:   make(map[uint]*model.Collection),
		member: make(map[uint][]uint),
	}
}

func (s *fakeCollectionStore) GetByFingerprint(fp string) (*model.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byFP[fp]; ok {
		clone := *c
		return &clone, nil
	}
	return nil, nil
}

func (s *fakeCollectionStore) GetByID(id uint) (*model.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byID[id]; ok {
		clone := *c
		return &clone, nil
	}
	return nil, nil
}

func (s *fakeCollectionStore) Create(collection *model.Collection, fileIDs []uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byFP[collection.Fingerprint]; ok {
		return repository.ErrDuplicateKey
	}
	s.next++
	collection.ID = s.next
	clone := *collection
	s.byFP[collection.Fingerprint] = &clone
	s.byID[collection.ID] = &clone
	s.member[collection.ID] = fileIDs
	return nil
}

func (s *fakeCollectionStore) ListForUser(userID uint) ([]model.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Collection
	for _, c := range s.byID {
		if c.OwnerID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

type fakeAssistantStore struct {
	mu       sync.Mutex
	bindings map[uint]*model.AssistantBinding
	next     uint
}

func newFakeAssistantStore() *fakeAssistantStore {
	return &fakeAssistantStore{bindings: make(map[uint]*model.AssistantBinding)}
}

func (s *fakeAssistantStore) GetByCollectionID(collectionID uint) (*model.AssistantBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bindings[collectionID]; ok {
		clone := *b
		return &clone, nil
	}
	return nil, nil
}

func (s *fakeAssistantStore) Create(binding *model.AssistantBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bindings[binding.CollectionID]; ok {
		return repository.ErrDuplicateKey
	}
	s.next++
	binding.ID = s.next
	clone := *binding
	s.bindings[binding.CollectionID] = &clone
	return nil
}

// fakeGateway is a scriptable backend: run status transitions are consumed
// from runStatuses in order, and the last one repeats.
type fakeGateway struct {
	mu sync.Mutex

	uploads     int
	collections int
	assistants  int
	threads     int
	posted      []string

	runStatuses []ai.RunStatus
	statusIdx   int
	runMessages []ai.ThreadMessage

	postErr  error
	startErr error

	cancelled      []ai.RunHandle
	deletedThreads []string
	pollStarted    chan struct{}
	pollOnce       sync.Once
}

func newFakeGateway(statuses ...ai.RunStatus) *fakeGateway {
	if len(statuses) == 0 {
		statuses = []ai.RunStatus{ai.RunCompleted}
	}
	return &fakeGateway{
		runStatuses: statuses,
		pollStarted: make(chan struct{}),
	}
}

func (g *fakeGateway) UploadFile(ctx context.Context, name string, content []byte) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.uploads++
	return fmt.Sprintf("file-%d", g.uploads), nil
}

func (g *fakeGateway) CreateCollection(ctx context.Context, name string, remoteFileIDs []string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.collections++
	return fmt.Sprintf("vs-%d", g.collections), nil
}

func (g *fakeGateway) CreateAssistant(ctx context.Context, remoteCollectionID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.assistants++
	return fmt.Sprintf("asst-%d", g.assistants), nil
}

func (g *fakeGateway) CreateThread(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.threads++
	return fmt.Sprintf("thread-%d", g.threads), nil
}

func (g *fakeGateway) PostMessage(ctx context.Context, threadID, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.postErr != nil {
		return g.postErr
	}
	g.posted = append(g.posted, text)
	return nil
}

func (g *fakeGateway) StartRun(ctx context.Context, threadID, assistantID string) (ai.RunHandle, error) {
	if g.startErr != nil {
		return ai.RunHandle{}, g.startErr
	}
	return ai.RunHandle{ThreadID: threadID, RunID: "run-1"}, nil
}

func (g *fakeGateway) PollRun(ctx context.Context, run ai.RunHandle) (ai.RunStatus, error) {
	g.pollOnce.Do(func() { close(g.pollStarted) })
	g.mu.Lock()
	defer g.mu.Unlock()
	status := g.runStatuses[g.statusIdx]
	if g.statusIdx < len(g.runStatuses)-1 {
		g.statusIdx++
	}
	return status, nil
}

func (g *fakeGateway) FetchNewMessages(ctx context.Context, run ai.RunHandle) ([]ai.ThreadMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ai.ThreadMessage, len(g.runMessages))
	copy(out, g.runMessages)
	return out, nil
}

func (g *fakeGateway) CancelRun(ctx context.Context, run ai.RunHandle) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, run)
	return nil
}

func (g *fakeGateway) DeleteThread(ctx context.Context, threadID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deletedThreads = append(g.deletedThreads, threadID)
	return nil
}
