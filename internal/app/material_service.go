package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"studybuddy/internal/ai"
	"studybuddy/internal/fingerprint"
	"studybuddy/internal/model"
	"studybuddy/internal/registry"
)

var (
	ErrNoFiles            = errors.New("no files to upload")
	ErrFileEmpty          = errors.New("file content is empty")
	ErrCollectionNotFound = errors.New("collection not found")
)

// FileCatalog lists a user's previously uploaded files.
type FileCatalog interface {
	ListByUploaderID(uploaderID uint) ([]model.StudyFile, error)
}

// CollectionCatalog reads collections outside the registry's creation path.
type CollectionCatalog interface {
	GetByID(id uint) (*model.Collection, error)
	ListForUser(userID uint) ([]model.Collection, error)
}

// MaterialService turns uploaded study material into backend resources,
// reusing previously created ones whenever the same set of bytes shows up
// again.
type MaterialService struct {
	registry     *registry.Registry
	gateway      ai.Gateway
	files        FileCatalog
	collections  CollectionCatalog
	maxRetries   int
	retryBackoff time.Duration
}

type FileUpload struct {
	Name    string
	Content []byte
}

type UploadMaterialsInput struct {
	UserID         uint
	CollectionName string
	Files          []FileUpload
}

type UploadMaterialsResult struct {
	Collection model.Collection       `json:"collection"`
	Assistant  model.AssistantBinding `json:"assistant"`
	Files      []model.StudyFile      `json:"files"`
	Reused     bool                   `json:"reused"`
}

func NewMaterialService(
	reg *registry.Registry,
	gateway ai.Gateway,
	files FileCatalog,
	collections CollectionCatalog,
	maxRetries int,
	retryBackoff time.Duration,
) *MaterialService {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryBackoff <= 0 {
		retryBackoff = time.Second
	}
	return &MaterialService{
		registry:     reg,
		gateway:      gateway,
		files:        files,
		collections:  collections,
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
	}
}

// UploadMaterials fingerprints every file, uploads only unknown content, and
// resolves the set to its collection and assistant. Both resolutions are
// idempotent on their own, so a crash between them heals on the next call.
func (s *MaterialService) UploadMaterials(ctx context.Context, input UploadMaterialsInput) (*UploadMaterialsResult, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}
	if len(input.Files) == 0 {
		return nil, ErrNoFiles
	}
	for _, f := range input.Files {
		if len(f.Content) == 0 {
			return nil, ErrFileEmpty
		}
	}

	name := strings.TrimSpace(input.CollectionName)
	if name == "" {
		name = "My Study Materials"
	}

	files := make([]model.StudyFile, 0, len(input.Files))
	memberFPs := make([]fingerprint.Fingerprint, 0, len(input.Files))
	for _, upload := range input.Files {
		fp := fingerprint.File(upload.Content)
		memberFPs = append(memberFPs, fp)

		upload := upload
		file, err := s.registry.GetOrCreateFile(ctx, fp, input.UserID, upload.Name, func(ctx context.Context) (string, error) {
			return s.uploadWithRetry(ctx, upload.Name, upload.Content)
		})
		if err != nil {
			return nil, err
		}
		files = append(files, *file)
	}

	setFP := fingerprint.Set(memberFPs)
	fileIDs := make([]uint, 0, len(files))
	remoteFileIDs := make([]string, 0, len(files))
	seen := make(map[uint]struct{}, len(files))
	for _, f := range files {
		if _, dup := seen[f.ID]; dup {
			continue
		}
		seen[f.ID] = struct{}{}
		fileIDs = append(fileIDs, f.ID)
		remoteFileIDs = append(remoteFileIDs, f.RemoteFileID)
	}

	createdCollection := false
	collection, err := s.registry.GetOrCreateCollection(ctx, setFP, input.UserID, name, fileIDs, func(ctx context.Context) (string, error) {
		createdCollection = true
		return s.createCollectionWithRetry(ctx, name, remoteFileIDs)
	})
	if err != nil {
		return nil, err
	}

	assistant, err := s.registry.GetOrCreateAssistant(ctx, collection, func(ctx context.Context) (string, error) {
		return s.createAssistantWithRetry(ctx, collection.RemoteID)
	})
	if err != nil {
		return nil, err
	}

	return &UploadMaterialsResult{
		Collection: *collection,
		Assistant:  *assistant,
		Files:      files,
		Reused:     !createdCollection,
	}, nil
}

func (s *MaterialService) ListFiles(userID uint) ([]model.StudyFile, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.files.ListByUploaderID(userID)
}

func (s *MaterialService) ListCollections(userID uint) ([]model.Collection, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.collections.ListForUser(userID)
}

func (s *MaterialService) uploadWithRetry(ctx context.Context, name string, content []byte) (string, error) {
	var remoteID string
	err := ai.Retry(ctx, s.maxRetries, s.retryBackoff, func(ctx context.Context) error {
		var callErr error
		remoteID, callErr = s.gateway.UploadFile(ctx, name, content)
		return callErr
	})
	return remoteID, err
}

func (s *MaterialService) createCollectionWithRetry(ctx context.Context, name string, remoteFileIDs []string) (string, error) {
	var remoteID string
	err := ai.Retry(ctx, s.maxRetries, s.retryBackoff, func(ctx context.Context) error {
		var callErr error
		remoteID, callErr = s.gateway.CreateCollection(ctx, name, remoteFileIDs)
		return callErr
	})
	return remoteID, err
}

func (s *MaterialService) createAssistantWithRetry(ctx context.Context, remoteCollectionID string) (string, error) {
	var remoteID string
	err := ai.Retry(ctx, s.maxRetries, s.retryBackoff, func(ctx context.Context) error {
		var callErr error
		remoteID, callErr = s.gateway.CreateAssistant(ctx, remoteCollectionID)
		return callErr
	})
	return remoteID, err
}
