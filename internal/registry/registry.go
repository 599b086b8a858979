// Package registry owns the fingerprint -> remote resource mapping. It
// guarantees at most one remote creation per key: a per-key lock table
// serializes creators in this process, and the store's unique constraint plus
// a duplicate-key re-read closes the race across processes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"studybuddy/internal/fingerprint"
	"studybuddy/internal/model"
	"studybuddy/internal/repository"
)

// CreateFunc performs the remote creation for a missing key and returns the
// remote handle. It runs at most once per key per process; on error nothing is
// persisted and a later call retries.
type CreateFunc func(ctx context.Context) (string, error)

type FileStore interface {
	GetByFingerprint(fp string) (*model.StudyFile, error)
	Create(file *model.StudyFile) error
}

type CollectionStore interface {
	GetByFingerprint(fp string) (*model.Collection, error)
	Create(collection *model.Collection, fileIDs []uint) error
}

type AssistantStore interface {
	GetByCollectionID(collectionID uint) (*model.AssistantBinding, error)
	Create(binding *model.AssistantBinding) error
}

type Registry struct {
	files       FileStore
	collections CollectionStore
	assistants  AssistantStore

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func New(files FileStore, collections CollectionStore, assistants AssistantStore) *Registry {
	return &Registry{
		files:       files,
		collections: collections,
		assistants:  assistants,
		locks:       make(map[string]*keyLock),
	}
}

// GetOrCreateFile resolves a file fingerprint to its remote upload, uploading
// through create only when the fingerprint is unknown.
func (r *Registry) GetOrCreateFile(ctx context.Context, fp fingerprint.Fingerprint, uploaderID uint, name string, create CreateFunc) (*model.StudyFile, error) {
	unlock := r.lock("file:" + string(fp))
	defer unlock()

	existing, err := r.files.GetByFingerprint(string(fp))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	remoteID, err := create(ctx)
	if err != nil {
		return nil, err
	}

	file := &model.StudyFile{
		UploaderID:   uploaderID,
		Name:         name,
		Fingerprint:  string(fp),
		RemoteFileID: remoteID,
	}
	if err := r.files.Create(file); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			log.Printf("registry: lost file creation race for %s, remote file %s leaked", fp, remoteID)
			return r.rereadFile(fp)
		}
		return nil, err
	}
	return file, nil
}

// GetOrCreateCollection resolves a set fingerprint to its collection. create
// runs only on a miss and its result is persisted before returning.
func (r *Registry) GetOrCreateCollection(ctx context.Context, setFP fingerprint.Fingerprint, ownerID uint, name string, fileIDs []uint, create CreateFunc) (*model.Collection, error) {
	unlock := r.lock("collection:" + string(setFP))
	defer unlock()

	existing, err := r.collections.GetByFingerprint(string(setFP))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	remoteID, err := create(ctx)
	if err != nil {
		return nil, err
	}

	collection := &model.Collection{
		Fingerprint: string(setFP),
		Name:        name,
		OwnerID:     ownerID,
		RemoteID:    remoteID,
	}
	if err := r.collections.Create(collection, fileIDs); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			log.Printf("registry: lost collection creation race for %s, remote collection %s leaked", setFP, remoteID)
			return r.rereadCollection(setFP)
		}
		return nil, err
	}
	return collection, nil
}

// GetOrCreateAssistant resolves a collection to its assistant binding, keyed
// by the collection's fingerprint. Independently idempotent from collection
// creation, so either eager or lazy binding works.
func (r *Registry) GetOrCreateAssistant(ctx context.Context, collection *model.Collection, create CreateFunc) (*model.AssistantBinding, error) {
	unlock := r.lock("assistant:" + collection.Fingerprint)
	defer unlock()

	existing, err := r.assistants.GetByCollectionID(collection.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	remoteID, err := create(ctx)
	if err != nil {
		return nil, err
	}

	binding := &model.AssistantBinding{
		CollectionID: collection.ID,
		RemoteID:     remoteID,
	}
	if err := r.assistants.Create(binding); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			log.Printf("registry: lost assistant creation race for collection %d, remote assistant %s leaked", collection.ID, remoteID)
			return r.rereadAssistant(collection.ID)
		}
		return nil, err
	}
	return binding, nil
}

func (r *Registry) rereadFile(fp fingerprint.Fingerprint) (*model.StudyFile, error) {
	file, err := r.files.GetByFingerprint(string(fp))
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, fmt.Errorf("file %s vanished after duplicate-key conflict", fp)
	}
	return file, nil
}

func (r *Registry) rereadCollection(fp fingerprint.Fingerprint) (*model.Collection, error) {
	collection, err := r.collections.GetByFingerprint(string(fp))
	if err != nil {
		return nil, err
	}
	if collection == nil {
		return nil, fmt.Errorf("collection %s vanished after duplicate-key conflict", fp)
	}
	return collection, nil
}

func (r *Registry) rereadAssistant(collectionID uint) (*model.AssistantBinding, error) {
	binding, err := r.assistants.GetByCollectionID(collectionID)
	if err != nil {
		return nil, err
	}
	if binding == nil {
		return nil, fmt.Errorf("assistant binding for collection %d vanished after duplicate-key conflict", collectionID)
	}
	return binding, nil
}

// lock serializes callers on one key. Losers block until the winner's
// creation completes, then observe the persisted row on re-read. Entries are
// removed once no caller holds or waits on them, so the table stays sized to
// the keys in flight.
func (r *Registry) lock(key string) func() {
	r.mu.Lock()
	l := r.locks[key]
	if l == nil {
		l = &keyLock{}
		r.locks[key] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, key)
		}
		r.mu.Unlock()
	}
}
