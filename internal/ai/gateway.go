package ai

import "context"

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// RunHandle identifies one assistant execution against a thread.
type RunHandle struct {
	ThreadID string
	RunID    string
}

// ThreadMessage is a message fetched from the backend, already reduced to the
// fields the session log stores.
type ThreadMessage struct {
	Role    string
	Content string
}

// Gateway is the capability interface over the remote assistants backend.
// Every call may fail with a transient kind (retryable) or a rejection kind
// (surfaced to the caller); see BackendError.
type Gateway interface {
	UploadFile(ctx context.Context, name string, content []byte) (string, error)
	CreateCollection(ctx context.Context, name string, remoteFileIDs []string) (string, error)
	CreateAssistant(ctx context.Context, remoteCollectionID string) (string, error)
	CreateThread(ctx context.Context) (string, error)
	PostMessage(ctx context.Context, threadID, text string) error
	StartRun(ctx context.Context, threadID, assistantID string) (RunHandle, error)
	PollRun(ctx context.Context, run RunHandle) (RunStatus, error)
	// FetchNewMessages returns the assistant messages produced by the given
	// run, oldest first.
	FetchNewMessages(ctx context.Context, run RunHandle) ([]ThreadMessage, error)
	CancelRun(ctx context.Context, run RunHandle) error
	DeleteThread(ctx context.Context, threadID string) error
}
