package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/qdrant/go-client/qdrant"
)

// VectorMatch is one hit from a semantic query: the memory id and its
// cosine similarity to the query embedding.
type VectorMatch struct {
	ID         string
	Similarity float64
}

// VectorBackend is the approximate-nearest-neighbour index side of the
// storage layer. It never holds the source of truth for a Memory row --
// that lives in the relational store -- it only indexes id, content (for
// the embedding function's own bookkeeping) and embedding.
type VectorBackend interface {
	Upsert(ctx context.Context, id, content string, embedding []float32, metadata map[string]string) error
	UpsertBatch(ctx context.Context, docs []VectorDoc) error
	QueryEmbedding(ctx context.Context, embedding []float32, k int) ([]VectorMatch, error)
	Delete(ctx context.Context, ids ...string) error
	Count() int
	Close() error
}

// VectorDoc is one row of a batch upsert.
type VectorDoc struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]string
}

// LocalVectorStore wraps chromem-go as the embedded, file-backed default.
type LocalVectorStore struct {
	collection *chromem.Collection
	db         *chromem.DB
	path       string
	logger     *log.Logger
	mu         sync.RWMutex
}

// NewLocalVectorStore opens (or creates) a persistent chromem-go database at
// dbPath. Since the vector backend never computes embeddings itself in this
// server (the embedding gateway owns that), it is wired with a no-op
// EmbeddingFunc and all writes go through QueryEmbedding/Upsert with a
// precomputed vector.
func NewLocalVectorStore(dbPath, collectionName string, logger *log.Logger) (*LocalVectorStore, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if collectionName == "" {
		collectionName = "memories"
	}
	db, err := chromem.NewPersistentDB(dbPath, true)
	if err != nil {
		return nil, fmt.Errorf("open chromem database: %w", err)
	}
	noopEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding must be precomputed by the embedding gateway")
	}
	collection, err := db.GetOrCreateCollection(collectionName, nil, noopEmbed)
	if err != nil {
		return nil, fmt.Errorf("open %s collection: %w", collectionName, err)
	}
	return &LocalVectorStore{collection: collection, db: db, path: dbPath, logger: logger}, nil
}

func (lvs *LocalVectorStore) Upsert(ctx context.Context, id, content string, embedding []float32, metadata map[string]string) error {
	return lvs.UpsertBatch(ctx, []VectorDoc{{ID: id, Content: content, Embedding: embedding, Metadata: metadata}})
}

func (lvs *LocalVectorStore) UpsertBatch(ctx context.Context, docs []VectorDoc) error {
	lvs.mu.Lock()
	defer lvs.mu.Unlock()

	cdocs := make([]chromem.Document, len(docs))
	for i, d := range docs {
		cdocs[i] = chromem.Document{
			ID:        d.ID,
			Content:   d.Content,
			Embedding: d.Embedding,
			Metadata:  d.Metadata,
		}
	}
	return lvs.collection.AddDocuments(ctx, cdocs, 4)
}

func (lvs *LocalVectorStore) QueryEmbedding(ctx context.Context, embedding []float32, k int) ([]VectorMatch, error) {
	lvs.mu.RLock()
	defer lvs.mu.RUnlock()

	if k > lvs.collection.Count() {
		k = lvs.collection.Count()
	}
	if k <= 0 {
		return nil, nil
	}
	results, err := lvs.collection.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}
	matches := make([]VectorMatch, len(results))
	for i, r := range results {
		matches[i] = VectorMatch{ID: r.ID, Similarity: float64(r.Similarity)}
	}
	return matches, nil
}

func (lvs *LocalVectorStore) Delete(ctx context.Context, ids ...string) error {
	lvs.mu.Lock()
	defer lvs.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}
	return lvs.collection.Delete(ctx, nil, nil, ids...)
}

func (lvs *LocalVectorStore) Count() int {
	lvs.mu.RLock()
	defer lvs.mu.RUnlock()
	return lvs.collection.Count()
}

func (lvs *LocalVectorStore) Close() error {
	lvs.mu.Lock()
	defer lvs.mu.Unlock()
	if lvs.db == nil {
		return nil
	}
	if err := lvs.db.ExportToFile(lvs.path, true, ""); err != nil {
		return fmt.Errorf("export chromem database on close: %w", err)
	}
	return nil
}

// QdrantVectorStore implements VectorBackend against a remote Qdrant
// cluster, for deployments that outgrow the embedded default.
type QdrantVectorStore struct {
	client    *qdrant.Client
	collName  string
	vectorDim uint64
	logger    *log.Logger
	mu        sync.RWMutex
}

type qdrantPayload struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// NewQdrantVectorStore connects to Qdrant and ensures the memories
// collection exists with the given vector dimension and cosine distance.
func NewQdrantVectorStore(host string, port int, apiKey string, useTLS bool, vectorDim int, collectionName string, logger *log.Logger) (*QdrantVectorStore, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if collectionName == "" {
		collectionName = "tmws-memories"
	}
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port, APIKey: apiKey, UseTLS: useTLS})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}

	qvs := &QdrantVectorStore{client: client, collName: collectionName, vectorDim: uint64(vectorDim), logger: logger}

	collections, err := client.ListCollections(context.Background())
	if err != nil {
		return nil, fmt.Errorf("list qdrant collections: %w", err)
	}
	exists := false
	for _, name := range collections {
		if name == qvs.collName {
			exists = true
			break
		}
	}
	if !exists {
		logger.Printf("creating qdrant collection %s (dim %d)", qvs.collName, qvs.vectorDim)
		err = client.CreateCollection(context.Background(), &qdrant.CreateCollection{
			CollectionName: qvs.collName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     qvs.vectorDim,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("create qdrant collection: %w", err)
		}
	}
	return qvs, nil
}

func (qvs *QdrantVectorStore) Upsert(ctx context.Context, id, content string, embedding []float32, metadata map[string]string) error {
	return qvs.UpsertBatch(ctx, []VectorDoc{{ID: id, Content: content, Embedding: embedding, Metadata: metadata}})
}

func (qvs *QdrantVectorStore) UpsertBatch(ctx context.Context, docs []VectorDoc) error {
	qvs.mu.Lock()
	defer qvs.mu.Unlock()
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, d := range docs {
		payloadBytes, err := json.Marshal(qdrantPayload{Content: d.Content, Metadata: d.Metadata})
		if err != nil {
			return fmt.Errorf("marshal payload for %q: %w", d.ID, err)
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(hashStringToUint64(d.ID)),
			Vectors: qdrant.NewVectors(d.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				"memory_id": d.ID,
				"payload":   string(payloadBytes),
			}),
		}
	}
	_, err := qvs.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: qvs.collName, Points: points})
	if err != nil {
		return fmt.Errorf("upsert points to qdrant: %w", err)
	}
	return nil
}

func (qvs *QdrantVectorStore) QueryEmbedding(ctx context.Context, embedding []float32, k int) ([]VectorMatch, error) {
	qvs.mu.RLock()
	defer qvs.mu.RUnlock()

	limit := uint64(k)
	result, err := qvs.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: qvs.collName,
		Query:          qdrant.NewQueryDense(embedding),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query qdrant: %w", err)
	}

	matches := make([]VectorMatch, 0, len(result))
	for _, hit := range result {
		idVal, ok := hit.Payload["memory_id"]
		if !ok {
			continue
		}
		strVal, ok := idVal.Kind.(*qdrant.Value_StringValue)
		if !ok {
			continue
		}
		matches = append(matches, VectorMatch{ID: strVal.StringValue, Similarity: float64(hit.Score)})
	}
	return matches, nil
}

func (qvs *QdrantVectorStore) Delete(ctx context.Context, ids ...string) error {
	qvs.mu.Lock()
	defer qvs.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDNum(hashStringToUint64(id))
	}
	_, err := qvs.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: qvs.collName,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("delete points from qdrant: %w", err)
	}
	return nil
}

func (qvs *QdrantVectorStore) Count() int {
	qvs.mu.RLock()
	defer qvs.mu.RUnlock()
	info, err := qvs.client.GetCollectionInfo(context.Background(), qvs.collName)
	if err != nil {
		qvs.logger.Printf("get collection info: %v", err)
		return 0
	}
	if info.PointsCount == nil {
		return 0
	}
	return int(*info.PointsCount)
}

func (qvs *QdrantVectorStore) Close() error {
	return qvs.client.Close()
}

// hashStringToUint64 maps an opaque memory id to a Qdrant numeric point id.
func hashStringToUint64(s string) uint64 {
	hash := uint64(5381)
	for i := 0; i < len(s); i++ {
		hash = ((hash << 5) + hash) + uint64(s[i])
	}
	return hash
}

// VectorBackendConfig selects and configures a VectorBackend at startup.
type VectorBackendConfig struct {
	QdrantHost      string
	QdrantPort      int
	QdrantAPIKey    string
	QdrantUseTLS    bool
	VectorDimension int
	LocalDBPath     string
}

// NewVectorBackend picks Qdrant when a host is configured, otherwise the
// embedded local store under LocalDBPath. namespace names the backing
// collection so that team/private isolation is enforced at the index layer
// too, in addition to the access-control checks in internal/access.
func NewVectorBackend(cfg VectorBackendConfig, namespace string, logger *log.Logger) (VectorBackend, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	dim := cfg.VectorDimension
	if dim == 0 {
		dim = 384
	}
	collectionName := "tmws-memories-" + namespace
	if cfg.QdrantHost != "" {
		port := cfg.QdrantPort
		if port == 0 {
			port = 6334
		}
		return NewQdrantVectorStore(cfg.QdrantHost, port, cfg.QdrantAPIKey, cfg.QdrantUseTLS, dim, collectionName, logger)
	}
	path := cfg.LocalDBPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory for default vector store path: %w", err)
		}
		path = home + "/.tmws/vectors"
	}
	dbFile := path + "/" + namespace + ".bin"
	return NewLocalVectorStore(dbFile, "memories", logger)
}

// VectorBackendFactory lazily creates a VectorBackend for a namespace on
// first use; the storage façade keeps one instance per namespace alive for
// the process lifetime.
type VectorBackendFactory struct {
	cfg    VectorBackendConfig
	logger *log.Logger

	mu       sync.Mutex
	backends map[string]VectorBackend
}

// NewVectorBackendFactory wires cfg for later per-namespace construction.
func NewVectorBackendFactory(cfg VectorBackendConfig, logger *log.Logger) *VectorBackendFactory {
	return &VectorBackendFactory{cfg: cfg, logger: logger, backends: make(map[string]VectorBackend)}
}

// For returns the VectorBackend for namespace, creating it on first use.
func (f *VectorBackendFactory) For(namespace string) (VectorBackend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.backends[namespace]; ok {
		return b, nil
	}
	b, err := NewVectorBackend(f.cfg, namespace, f.logger)
	if err != nil {
		return nil, err
	}
	f.backends[namespace] = b
	return b, nil
}

// CloseAll closes every backend created so far, collecting the first error.
func (f *VectorBackendFactory) CloseAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	for ns, b := range f.backends {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close vector backend for namespace %s: %w", ns, err)
		}
	}
	return firstErr
}
