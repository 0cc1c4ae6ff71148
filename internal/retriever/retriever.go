// Package retriever implements hybrid dense+sparse retrieval: query
// the vector store by embedding and by lexical sparse vector
// independently, then fuse the two ranked lists with Reciprocal Rank
// Fusion.
package retriever

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/rlmcode/internal/ai"
	"github.com/seanblong/rlmcode/internal/embedcache"
	"github.com/seanblong/rlmcode/internal/lexical"
	"github.com/seanblong/rlmcode/internal/store"
	"github.com/seanblong/rlmcode/pkg/models"
)

// Options controls a single HybridSearch call.
type Options struct {
	Embedder ai.Embedder
	Cache    *embedcache.Cache

	// Limit is the number of fused results returned. Defaults to 10.
	Limit int
	// Oversample multiplies Limit to get the per-list K requested from the
	// store before fusion narrows back down to Limit. Defaults to 2.
	Oversample int
	// ScoreThreshold drops fused results scoring below it.
	ScoreThreshold float64
	// DenseOnly skips the sparse query and lexical fusion entirely,
	// ranking purely by dense similarity.
	DenseOnly bool
	// Timeout is the wall-clock deadline for the whole search (embedding
	// plus both store queries). Zero disables the internal deadline and
	// leaves the caller's context in charge. A deadline hit degrades to an
	// empty result via the connectivity-failure path.
	Timeout time.Duration

	Filter store.Filter
}

// DefaultQuickTimeout is the deadline applied to the "quick retrieve"
// path used by direct search calls; full dispatch passes a higher value.
const DefaultQuickTimeout = 500 * time.Millisecond

// DefaultOptions returns Limit=10, Oversample=2, hybrid search enabled.
func DefaultOptions(embedder ai.Embedder, cache *embedcache.Cache) Options {
	return Options{
		Embedder:   embedder,
		Cache:      cache,
		Limit:      10,
		Oversample: 2,
	}
}

// connectivityMarkers are substrings that indicate a store error came from
// a broken connection rather than a query-shape or data problem. The
// store wraps every query failure in rlmerrors.ErrRetrieval regardless of
// cause, so this is a text heuristic rather than a typed distinction.
var connectivityMarkers = []string{
	"connection refused", "connection reset", "dial tcp", "broken pipe",
	"context deadline exceeded", "pool exhausted", "i/o timeout", "EOF",
	"no such host",
}

func looksLikeConnectivityFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range connectivityMarkers {
		if strings.Contains(msg, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// HybridSearch embeds query through the shared cache, queries the store's
// dense and (unless DenseOnly) sparse indexes independently at an
// oversampled K, fuses the two ranked lists with RRF, applies
// ScoreThreshold, and truncates to Limit.
//
// An embedder failure, or a store error that looks like a connectivity
// failure, yields an empty, non-error result, matching the
// graceful-degradation contract the dispatcher relies on; any other store
// error is wrapped in rlmerrors.ErrRetrieval and returned.
func HybridSearch(ctx context.Context, vs store.VectorStore, collection, query string, opts Options) ([]models.ScoredChunk, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	oversample := opts.Oversample
	if oversample <= 0 {
		oversample = 2
	}
	k := limit * oversample

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	vec, err := opts.Cache.GetOrEmbed(ctx, query, opts.Embedder.Embed)
	if err != nil {
		log.Warn().Err(err).Str("collection", collection).Msg("query embedding failed, returning empty result")
		return nil, nil
	}

	dense, err := vs.QueryDense(ctx, collection, vec, k, opts.Filter)
	if err != nil {
		if looksLikeConnectivityFailure(err) {
			log.Warn().Err(err).Str("collection", collection).Msg("dense query looks like a connectivity failure, returning empty result")
			return nil, nil
		}
		return nil, err
	}

	if opts.DenseOnly {
		return truncateAndFilter(dense, opts.ScoreThreshold, limit), nil
	}

	sparseVec := lexical.Vectorize(query)
	sparse, err := vs.QuerySparse(ctx, collection, sparseVec, k, opts.Filter)
	if err != nil {
		if looksLikeConnectivityFailure(err) {
			log.Warn().Err(err).Str("collection", collection).Msg("sparse query looks like a connectivity failure, returning empty result")
			return nil, nil
		}
		return nil, err
	}

	fused := fuse(dense, sparse)
	return truncateAndFilter(fused, opts.ScoreThreshold, limit), nil
}

func truncateAndFilter(scored []models.ScoredChunk, threshold float64, limit int) []models.ScoredChunk {
	out := make([]models.ScoredChunk, 0, limit)
	for _, sc := range scored {
		if sc.Score < threshold {
			continue
		}
		out = append(out, sc)
		if len(out) == limit {
			break
		}
	}
	return out
}
