package pipeline

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/kbukum/blockflow/errors"
	"github.com/kbukum/blockflow/logger"
	"github.com/kbukum/blockflow/storage"
)

const (
	pipelinesRoot = "pipelines"
	metadataFile  = "metadata.yaml"
)

// Repository persists pipeline documents in object storage at
// pipelines/<uuid>/metadata.yaml, next to the pipeline's variables.
type Repository struct {
	store storage.ByteClient
	opts  []Option
	log   *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRepository creates a repository. opts are applied to every loaded pipeline.
func NewRepository(s storage.Storage, log *logger.Logger, opts ...Option) *Repository {
	if log == nil {
		log = logger.Nop()
	}
	return &Repository{
		store: storage.NewByteClient(s),
		opts:  opts,
		log:   log.WithComponent("pipelines"),
		locks: make(map[string]*sync.Mutex),
	}
}

func documentPath(uuid string) string {
	return path.Join(pipelinesRoot, uuid, metadataFile)
}

func (r *Repository) lock(uuid string) func() {
	r.mu.Lock()
	l, ok := r.locks[uuid]
	if !ok {
		l = &sync.Mutex{}
		r.locks[uuid] = l
	}
	r.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Load reads and builds the pipeline with the given uuid.
func (r *Repository) Load(ctx context.Context, uuid string) (*Pipeline, error) {
	doc, err := r.read(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, apperrors.NotFound("pipeline", uuid)
	}
	return Load(doc, r.opts...)
}

func (r *Repository) read(ctx context.Context, uuid string) (*Document, error) {
	p := documentPath(uuid)
	data, err := r.store.Download(ctx, p)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, nil
		}
		return nil, apperrors.StorageError(p, err)
	}
	return Parse(data)
}

// Save writes p if the persisted revision still equals p.Revision, then
// advances the revision. A concurrent save in between fails with
// REVISION_CONFLICT and leaves storage untouched.
func (r *Repository) Save(ctx context.Context, p *Pipeline) error {
	unlock := r.lock(p.UUID)
	defer unlock()

	doc, err := p.Document()
	if err != nil {
		return err
	}

	persisted, err := r.read(ctx, p.UUID)
	if err != nil {
		return err
	}
	current := 0
	if persisted != nil {
		current = persisted.Revision
	}
	if current != doc.Revision {
		return apperrors.RevisionConflict(p.UUID, doc.Revision, current)
	}

	doc.Revision++
	data, err := doc.Marshal()
	if err != nil {
		return apperrors.SerializationFailed(metadataFile, err)
	}
	if err := r.store.Upload(ctx, documentPath(p.UUID), data); err != nil {
		return apperrors.StorageError(documentPath(p.UUID), err)
	}

	p.mu.Lock()
	p.Revision = doc.Revision
	p.mu.Unlock()

	r.log.Debug("pipeline saved", map[string]interface{}{
		logger.FieldPipeline: p.UUID,
		"revision":           doc.Revision,
		"blocks":             p.Len(),
	})
	return nil
}

// Delete removes the pipeline document and everything stored under it,
// including variables.
func (r *Repository) Delete(ctx context.Context, uuid string) error {
	unlock := r.lock(uuid)
	defer unlock()

	prefix := path.Join(pipelinesRoot, uuid) + "/"
	if err := r.store.DeletePrefix(ctx, prefix); err != nil {
		return apperrors.StorageError(prefix, err)
	}
	return nil
}

// List returns the uuids of all stored pipelines.
func (r *Repository) List(ctx context.Context) ([]string, error) {
	files, err := r.store.List(ctx, pipelinesRoot+"/")
	if err != nil {
		return nil, apperrors.StorageError(pipelinesRoot, err)
	}
	var ids []string
	for _, f := range files {
		rel := strings.TrimPrefix(f.Path, pipelinesRoot+"/")
		parts := strings.Split(rel, "/")
		if len(parts) == 2 && parts[1] == metadataFile {
			ids = append(ids, parts[0])
		}
	}
	sort.Strings(ids)
	return ids, nil
}
