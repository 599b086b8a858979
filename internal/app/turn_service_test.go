package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"studybuddy/internal/ai"
	"studybuddy/internal/model"
	"studybuddy/internal/registry"
)

type turnFixture struct {
	svc         *TurnService
	sessions    *fakeSessionStore
	messages    *fakeMessageStore
	collections *fakeCollectionStore
	assistants  *fakeAssistantStore
	gateway     *fakeGateway
}

func newTurnFixture(t *testing.T, gw *fakeGateway, pollBudget time.Duration) *turnFixture {
	t.Helper()
	sessions := newFakeSessionStore()
	messages := newFakeMessageStore()
	collections := newFakeCollectionStore()
	assistants := newFakeAssistantStore()
	reg := registry.New(newFakeFileStore(), collections, assistants)
	svc := NewTurnService(
		sessions, messages, collections, assistants, reg, gw,
		nil, nil,
		time.Millisecond, pollBudget, 1, time.Millisecond,
	)
	return &turnFixture{
		svc:         svc,
		sessions:    sessions,
		messages:    messages,
		collections: collections,
		assistants:  assistants,
		gateway:     gw,
	}
}

func (f *turnFixture) seedSession(t *testing.T) *model.Session {
	t.Helper()
	collection := &model.Collection{Fingerprint: "set-fp", Name: "notes", OwnerID: 1, RemoteID: "vs-1"}
	if err := f.collections.Create(collection, nil); err != nil {
		t.Fatalf("seed collection: %v", err)
	}
	if err := f.assistants.Create(&model.AssistantBinding{CollectionID: collection.ID, RemoteID: "asst-1"}); err != nil {
		t.Fatalf("seed assistant: %v", err)
	}
	session := &model.Session{UserID: 1, CollectionID: collection.ID, Title: "chapter 3", RemoteThreadID: "thread-1"}
	if err := f.sessions.Create(session); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return session
}

func TestSubmitTurnCompleted(t *testing.T) {
	gw := newFakeGateway(ai.RunPending, ai.RunCompleted)
	gw.runMessages = []ai.ThreadMessage{
		{Role: "assistant", Content: "First part."},
		{Role: "assistant", Content: "Second part."},
	}
	f := newTurnFixture(t, gw, time.Second)
	session := f.seedSession(t)

	result, err := f.svc.Submit(context.Background(), SubmitTurnInput{
		UserID: 1, SessionID: session.ID, Content: "  explain entropy  ",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if result.UserMessage.Ordinal != 0 || result.UserMessage.Role != model.RoleUser {
		t.Fatalf("unexpected user message: %+v", result.UserMessage)
	}
	if result.UserMessage.Content != "explain entropy" {
		t.Fatalf("content not trimmed: %q", result.UserMessage.Content)
	}
	if len(result.AssistantMessages) != 2 {
		t.Fatalf("expected 2 assistant messages, got %d", len(result.AssistantMessages))
	}
	for i, m := range result.AssistantMessages {
		if m.Ordinal != i+1 || m.Role != model.RoleAssistant {
			t.Fatalf("assistant message %d: %+v", i, m)
		}
	}

	log, _ := f.messages.ListBySessionID(session.ID)
	if len(log) != 3 {
		t.Fatalf("expected 3 persisted messages, got %d", len(log))
	}
	for i, m := range log {
		if m.Ordinal != i {
			t.Fatalf("ordinal gap at %d: %+v", i, m)
		}
	}

	got, _ := f.sessions.GetByIDAndUserID(session.ID, 1)
	if got.LastTurnError != "" {
		t.Fatalf("unexpected turn error: %q", got.LastTurnError)
	}
}

func TestSubmitTurnFailedRunKeepsLogClean(t *testing.T) {
	gw := newFakeGateway(ai.RunFailed, ai.RunCompleted)
	gw.runMessages = []ai.ThreadMessage{{Role: "assistant", Content: "Answer."}}
	f := newTurnFixture(t, gw, time.Second)
	session := f.seedSession(t)

	_, err := f.svc.Submit(context.Background(), SubmitTurnInput{UserID: 1, SessionID: session.ID, Content: "first"})
	if !errors.Is(err, ErrRunFailed) {
		t.Fatalf("expected ErrRunFailed, got %v", err)
	}

	// The failed run leaves only the user message behind, no marker.
	log, _ := f.messages.ListBySessionID(session.ID)
	if len(log) != 1 || log[0].Role != model.RoleUser || log[0].Ordinal != 0 {
		t.Fatalf("unexpected log after failure: %+v", log)
	}
	got, _ := f.sessions.GetByIDAndUserID(session.ID, 1)
	if got.LastTurnError == "" {
		t.Fatal("expected LastTurnError to be set")
	}

	// The next turn continues at the next ordinal and clears the marker.
	result, err := f.svc.Submit(context.Background(), SubmitTurnInput{UserID: 1, SessionID: session.ID, Content: "second"})
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if result.UserMessage.Ordinal != 1 {
		t.Fatalf("expected ordinal 1, got %d", result.UserMessage.Ordinal)
	}
	if result.AssistantMessages[0].Ordinal != 2 {
		t.Fatalf("expected ordinal 2, got %d", result.AssistantMessages[0].Ordinal)
	}
	got, _ = f.sessions.GetByIDAndUserID(session.ID, 1)
	if got.LastTurnError != "" {
		t.Fatalf("turn error not cleared: %q", got.LastTurnError)
	}
}

func TestSubmitTurnTimeout(t *testing.T) {
	gw := newFakeGateway(ai.RunPending)
	f := newTurnFixture(t, gw, 15*time.Millisecond)
	session := f.seedSession(t)

	_, err := f.svc.Submit(context.Background(), SubmitTurnInput{UserID: 1, SessionID: session.ID, Content: "hello"})
	if !errors.Is(err, ErrRunTimeout) {
		t.Fatalf("expected ErrRunTimeout, got %v", err)
	}

	log, _ := f.messages.ListBySessionID(session.ID)
	if len(log) != 1 || log[0].Role != model.RoleUser {
		t.Fatalf("expected only the user message, got %+v", log)
	}
	if len(gw.cancelled) != 1 {
		t.Fatalf("expected 1 cancel, got %d", len(gw.cancelled))
	}
	got, _ := f.sessions.GetByIDAndUserID(session.ID, 1)
	if got.LastTurnError == "" {
		t.Fatal("expected LastTurnError to be set")
	}
}

func TestSubmitTurnRejectsConcurrentTurn(t *testing.T) {
	gw := newFakeGateway(ai.RunPending)
	f := newTurnFixture(t, gw, time.Second)
	session := f.seedSession(t)

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Submit(context.Background(), SubmitTurnInput{UserID: 1, SessionID: session.ID, Content: "slow"})
		done <- err
	}()

	<-gw.pollStarted
	_, err := f.svc.Submit(context.Background(), SubmitTurnInput{UserID: 1, SessionID: session.ID, Content: "eager"})
	if !errors.Is(err, ErrTurnInFlight) {
		t.Fatalf("expected ErrTurnInFlight, got %v", err)
	}

	gw.mu.Lock()
	gw.runStatuses = []ai.RunStatus{ai.RunCompleted}
	gw.statusIdx = 0
	gw.mu.Unlock()
	if err := <-done; err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	// Guard released; the session accepts turns again.
	if _, err := f.svc.Submit(context.Background(), SubmitTurnInput{UserID: 1, SessionID: session.ID, Content: "again"}); err != nil {
		t.Fatalf("Submit after release: %v", err)
	}
}

func TestSubmitTurnValidation(t *testing.T) {
	gw := newFakeGateway()
	f := newTurnFixture(t, gw, time.Second)
	session := f.seedSession(t)

	if _, err := f.svc.Submit(context.Background(), SubmitTurnInput{UserID: 1, SessionID: session.ID, Content: "   "}); !errors.Is(err, ErrMessageEmpty) {
		t.Fatalf("expected ErrMessageEmpty, got %v", err)
	}
	if _, err := f.svc.Submit(context.Background(), SubmitTurnInput{UserID: 1, SessionID: 99, Content: "hi"}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := f.svc.Submit(context.Background(), SubmitTurnInput{UserID: 2, SessionID: session.ID, Content: "hi"}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for foreign session, got %v", err)
	}
	if log, _ := f.messages.ListBySessionID(session.ID); len(log) != 0 {
		t.Fatalf("rejected turns must not append, got %+v", log)
	}
}

func TestSubmitTurnHealsMissingAssistant(t *testing.T) {
	gw := newFakeGateway(ai.RunCompleted)
	gw.runMessages = []ai.ThreadMessage{{Role: "assistant", Content: "Answer."}}
	f := newTurnFixture(t, gw, time.Second)

	collection := &model.Collection{Fingerprint: "set-fp", Name: "notes", OwnerID: 1, RemoteID: "vs-1"}
	if err := f.collections.Create(collection, nil); err != nil {
		t.Fatalf("seed collection: %v", err)
	}
	session := &model.Session{UserID: 1, CollectionID: collection.ID, RemoteThreadID: "thread-1"}
	if err := f.sessions.Create(session); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	if _, err := f.svc.Submit(context.Background(), SubmitTurnInput{UserID: 1, SessionID: session.ID, Content: "hi"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if gw.assistants != 1 {
		t.Fatalf("expected 1 assistant creation, got %d", gw.assistants)
	}
	binding, _ := f.assistants.GetByCollectionID(collection.ID)
	if binding == nil {
		t.Fatal("assistant binding not healed")
	}

	// A second turn reuses the healed binding.
	if _, err := f.svc.Submit(context.Background(), SubmitTurnInput{UserID: 1, SessionID: session.ID, Content: "more"}); err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if gw.assistants != 1 {
		t.Fatalf("expected assistant reuse, got %d creations", gw.assistants)
	}
}
