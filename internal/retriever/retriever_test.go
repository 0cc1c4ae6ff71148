package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/seanblong/rlmcode/internal/embedcache"
	"github.com/seanblong/rlmcode/internal/store"
	"github.com/seanblong/rlmcode/pkg/models"
)

type stubEmbedder struct{ dim int }

func (s *stubEmbedder) Embed(ctx context.Context, text string) (models.DenseVector, error) {
	return make(models.DenseVector, s.dim), nil
}
func (s *stubEmbedder) Dim() int { return s.dim }

func chunk(id string) models.Chunk { return models.Chunk{ID: id, Text: "body of " + id} }

type fakeStore struct {
	dense      []models.ScoredChunk
	sparse     []models.ScoredChunk
	denseErr   error
	sparseErr  error
	denseCalls int
}

func (f *fakeStore) CreateCollection(ctx context.Context, collection string, dim int) error {
	return nil
}
func (f *fakeStore) Upsert(ctx context.Context, collection string, chunks []models.Chunk, dense []models.DenseVector, sparse []models.SparseVector) error {
	return nil
}
func (f *fakeStore) QueryDense(ctx context.Context, collection string, vec models.DenseVector, limit int, filter store.Filter) ([]models.ScoredChunk, error) {
	f.denseCalls++
	if f.denseErr != nil {
		return nil, f.denseErr
	}
	return f.dense, nil
}
func (f *fakeStore) QuerySparse(ctx context.Context, collection string, vec models.SparseVector, limit int, filter store.Filter) ([]models.ScoredChunk, error) {
	if f.sparseErr != nil {
		return nil, f.sparseErr
	}
	return f.sparse, nil
}
func (f *fakeStore) DeleteByFilter(ctx context.Context, collection string, filter store.Filter) error {
	return nil
}
func (f *fakeStore) GetChunk(ctx context.Context, collection, id string) (models.Chunk, bool, error) {
	return models.Chunk{}, false, nil
}
func (f *fakeStore) Stats(ctx context.Context, collection string) (store.Stats, error) {
	return store.Stats{}, nil
}

var _ store.VectorStore = &fakeStore{}

func newOpts() Options {
	return DefaultOptions(&stubEmbedder{dim: 4}, embedcache.New(embedcache.DefaultConfig()))
}

func TestFuse_UnionAndOverlapRanksHigher(t *testing.T) {
	dense := []models.ScoredChunk{{Chunk: chunk("a"), Score: 0.9}, {Chunk: chunk("b"), Score: 0.8}}
	sparse := []models.ScoredChunk{{Chunk: chunk("b"), Score: 5}, {Chunk: chunk("c"), Score: 4}}

	out := fuse(dense, sparse)
	if len(out) != 3 {
		t.Fatalf("expected 3 fused results, got %d", len(out))
	}
	if out[0].Chunk.ID != "b" {
		t.Errorf("expected chunk appearing in both lists to rank first, got %q", out[0].Chunk.ID)
	}
}

func TestFuse_TieBreaksByDenseRankThenSparseRankThenID(t *testing.T) {
	dense := []models.ScoredChunk{{Chunk: chunk("y"), Score: 1}}
	sparse := []models.ScoredChunk{{Chunk: chunk("x"), Score: 1}}
	out := fuse(dense, sparse)
	if out[0].Score != out[1].Score {
		t.Fatalf("expected an RRF score tie, got %v and %v", out[0].Score, out[1].Score)
	}
	if out[0].Chunk.ID != "y" || out[1].Chunk.ID != "x" {
		t.Errorf("expected dense rank order preserved on score tie, got %v, %v", out[0].Chunk.ID, out[1].Chunk.ID)
	}
}

func TestHybridSearch_FusesDenseAndSparse(t *testing.T) {
	fs := &fakeStore{
		dense:  []models.ScoredChunk{{Chunk: chunk("a"), Score: 0.9}},
		sparse: []models.ScoredChunk{{Chunk: chunk("a"), Score: 3}, {Chunk: chunk("b"), Score: 2}},
	}
	out, err := HybridSearch(context.Background(), fs, "coll", "some query", newOpts())
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d: %+v", len(out), out)
	}
	if out[0].Chunk.ID != "a" {
		t.Errorf("expected chunk present in both lists to rank first, got %q", out[0].Chunk.ID)
	}
}

func TestHybridSearch_DenseOnlySkipsSparseQuery(t *testing.T) {
	fs := &fakeStore{dense: []models.ScoredChunk{{Chunk: chunk("a"), Score: 0.9}}}
	opts := newOpts()
	opts.DenseOnly = true
	out, err := HybridSearch(context.Background(), fs, "coll", "q", opts)
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	if len(out) != 1 || out[0].Chunk.ID != "a" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestHybridSearch_ScoreThresholdFilters(t *testing.T) {
	fs := &fakeStore{dense: []models.ScoredChunk{{Chunk: chunk("a"), Score: 0.9}, {Chunk: chunk("b"), Score: 0.1}}}
	opts := newOpts()
	opts.DenseOnly = true
	opts.ScoreThreshold = 0.1 / 61.0
	out, err := HybridSearch(context.Background(), fs, "coll", "q", opts)
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	for _, sc := range out {
		if sc.Score < opts.ScoreThreshold {
			t.Errorf("result %q scored below threshold: %v", sc.Chunk.ID, sc.Score)
		}
	}
}

func TestHybridSearch_LimitTruncates(t *testing.T) {
	fs := &fakeStore{dense: []models.ScoredChunk{
		{Chunk: chunk("a"), Score: 0.9}, {Chunk: chunk("b"), Score: 0.8}, {Chunk: chunk("c"), Score: 0.7},
	}}
	opts := newOpts()
	opts.DenseOnly = true
	opts.Limit = 2
	out, err := HybridSearch(context.Background(), fs, "coll", "q", opts)
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
}

func TestHybridSearch_ConnectivityFailureReturnsEmptyNotError(t *testing.T) {
	fs := &fakeStore{denseErr: errors.New("dial tcp 10.0.0.1:5432: connect: connection refused")}
	out, err := HybridSearch(context.Background(), fs, "coll", "q", newOpts())
	if err != nil {
		t.Fatalf("expected no error for a connectivity-shaped failure, got %v", err)
	}
	if out != nil {
		t.Errorf("expected nil result, got %+v", out)
	}
}

func TestHybridSearch_NonConnectivityErrorPropagates(t *testing.T) {
	fs := &fakeStore{denseErr: errors.New("retrieval error: syntax error at or near \"SELEC\"")}
	_, err := HybridSearch(context.Background(), fs, "coll", "q", newOpts())
	if err == nil {
		t.Fatalf("expected error to propagate")
	}
}

func TestHybridSearch_EmbedderFailureReturnsEmptyNotError(t *testing.T) {
	fs := &fakeStore{dense: []models.ScoredChunk{{Chunk: chunk("a"), Score: 0.9}}}
	opts := newOpts()
	opts.Embedder = failingEmbedder{}
	out, err := HybridSearch(context.Background(), fs, "coll", "q", opts)
	if err != nil {
		t.Fatalf("expected no error for an embedder failure, got %v", err)
	}
	if out != nil {
		t.Errorf("expected nil result, got %+v", out)
	}
	if fs.denseCalls != 0 {
		t.Errorf("expected no store query without a query embedding, got %d calls", fs.denseCalls)
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) (models.DenseVector, error) {
	return nil, errors.New("boom")
}
func (failingEmbedder) Dim() int { return 4 }
