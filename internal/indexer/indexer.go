// Package indexer implements the incremental indexing pipeline: walk a
// repository, chunk each file, embed and vectorize each chunk, and
// upsert into the vector store. Files whose content is unchanged since
// the last pass are skipped, and stale points for changed files are
// cleared before the new ones land.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/rlmcode/internal/ai"
	"github.com/seanblong/rlmcode/internal/chunker"
	"github.com/seanblong/rlmcode/internal/embedcache"
	"github.com/seanblong/rlmcode/internal/lexical"
	"github.com/seanblong/rlmcode/internal/rlmerrors"
	"github.com/seanblong/rlmcode/internal/store"
	"github.com/seanblong/rlmcode/pkg/models"
)

var defaultExcludes = []string{
	"/.git/", "/vendor/", "/node_modules/", "/.terraform/", "/target/",
	"/build/", "/dist/", "/out/", "/bin/", "/obj/", "/.venv/", "/venv/",
	"/__pycache__/", "/.pytest_cache/", "/.gradle/", "/.m2/", "/.idea/",
	"/coverage/", "/.cache/",
}

// Options bundles the external collaborators and knobs the indexing
// pipeline needs: the embedder and cache used to vectorize chunk text,
// the chunk splitter and its size/overlap options, the file-hash index
// used for incremental short-circuiting, and concurrency/exclude-glob
// controls for the directory walk.
type Options struct {
	Embedder     ai.Embedder
	Cache        *embedcache.Cache
	Chunker      *chunker.Chunker
	ChunkOptions chunker.Options
	Hashes       *FileHashIndex
	// Incremental, when true, skips a file whose content hash matches the
	// hash already recorded in Hashes. IndexSingleFile always bypasses
	// this check regardless of the value set here.
	Incremental  bool
	Concurrency  int
	ExcludeGlobs []string
}

// DefaultOptions returns chunker defaults, a fresh file-hash index,
// incremental mode on, and a worker count capped at 8.
func DefaultOptions(embedder ai.Embedder, cache *embedcache.Cache) Options {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}
	return Options{
		Embedder:     embedder,
		Cache:        cache,
		Chunker:      chunker.New(),
		ChunkOptions: chunker.DefaultOptions(),
		Hashes:       NewFileHashIndex(),
		Incremental:  true,
		Concurrency:  workers,
		ExcludeGlobs: defaultExcludes,
	}
}

// Result aggregates the outcome of an IndexDirectory run.
type Result struct {
	Indexed int
	Skipped int
	Errors  []error
}

// FileResult is the outcome of indexing (or skipping) a single file.
type FileResult struct {
	Path          string
	Indexed       bool
	Skipped       bool
	ChunksIndexed int
	Err           error
}

func hashContent(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}

// IndexDirectory walks root, applying IndexSingleFile's per-file pipeline
// to every file that survives the exclude globs, with the incremental
// short-circuit honored. The walk itself is single-threaded (godirwalk
// does not support concurrent callbacks); file processing (chunking,
// embedding, upserting) runs across a worker pool sized by
// opts.Concurrency.
func IndexDirectory(ctx context.Context, vs store.VectorStore, collection, root string, opts Options) (Result, error) {
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}

	type job struct {
		path    string
		content []byte
	}
	jobs := make(chan job, workers*2)
	results := make(chan FileResult, workers*2)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- indexContent(ctx, vs, collection, root, j.path, j.content, true, opts)
			}
		}()
	}

	done := make(chan struct{})
	var result Result
	go func() {
		for fr := range results {
			switch {
			case fr.Err != nil:
				result.Errors = append(result.Errors, fmt.Errorf("%s: %w", fr.Path, fr.Err))
			case fr.Skipped:
				result.Skipped++
			case fr.Indexed:
				result.Indexed++
			}
		}
		close(done)
	}()

	walkErr := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de != nil && de.IsDir() {
				if path != root && isHidden(rel(root, path)) {
					return filepath.SkipDir
				}
				return nil
			}
			if shouldExclude(rel(root, path), opts.ExcludeGlobs) {
				return nil
			}
			b, err := os.ReadFile(path)
			if err != nil {
				results <- FileResult{Path: path, Err: fmt.Errorf("read file: %w", err)}
				return nil
			}
			select {
			case jobs <- job{path: path, content: b}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
	})

	close(jobs)
	wg.Wait()
	close(results)
	<-done

	if walkErr != nil {
		return result, fmt.Errorf("walk directory: %w", walkErr)
	}
	return result, nil
}

// IndexSingleFile indexes one file's current content, bypassing both the
// directory walk and the incremental hash short-circuit: the file is
// chunked, embedded and upserted unconditionally, and its recorded hash
// in opts.Hashes is refreshed.
func IndexSingleFile(ctx context.Context, vs store.VectorStore, collection, path string, opts Options) (FileResult, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return FileResult{Path: path}, fmt.Errorf("read file: %w", err)
	}
	fr := indexContent(ctx, vs, collection, filepath.Dir(path), path, b, false, opts)
	if fr.Err != nil {
		return fr, fmt.Errorf("index file: %w", fr.Err)
	}
	return fr, nil
}

// indexContent runs the per-file pipeline against already-read file bytes:
// hash, short-circuit on an unchanged hash (only when honorIncremental is
// set and opts.Incremental is on), delete stale points for a changed
// hash, chunk, embed+vectorize, upsert, and record the new hash.
func indexContent(ctx context.Context, vs store.VectorStore, collection, root, path string, content []byte, honorIncremental bool, opts Options) FileResult {
	relPath := rel(root, path)
	fileHash := hashContent(content)

	if opts.Hashes != nil {
		if oldHash, found := opts.Hashes.Get(relPath); found {
			if honorIncremental && opts.Incremental && oldHash == fileHash {
				return FileResult{Path: relPath, Skipped: true}
			}
			if oldHash != fileHash {
				if err := vs.DeleteByFilter(ctx, collection, store.Filter{PathGlob: relPath, FileHash: oldHash}); err != nil {
					log.Warn().Err(err).Str("path", relPath).Msg("failed to delete stale chunks")
				}
			}
		}
	}

	lang, isProse, ok := chunker.DetectLanguage(path)
	if !ok {
		return FileResult{Path: relPath, Skipped: true}
	}

	c := opts.Chunker
	if c == nil {
		c = chunker.New()
	}

	var chunks []models.Chunk
	var err error
	if isProse {
		chunks, err = c.ChunkMarkdown(content, relPath, fileHash, opts.ChunkOptions)
	} else {
		chunks, err = c.ChunkCode(content, relPath, fileHash, opts.ChunkOptions)
	}
	if err != nil {
		return FileResult{Path: relPath, Err: fmt.Errorf("chunk %s: %w", lang, err)}
	}
	if len(chunks) == 0 {
		return FileResult{Path: relPath, Skipped: true}
	}

	dense := make([]models.DenseVector, len(chunks))
	sparse := make([]models.SparseVector, len(chunks))
	for i, ch := range chunks {
		vec, err := opts.Cache.GetOrEmbed(ctx, ch.Text, opts.Embedder.Embed)
		if err != nil {
			// Abort the whole file so an incremental re-run retries it once
			// the embedder is back; the hash stays unrecorded.
			return FileResult{Path: relPath, Err: fmt.Errorf("%w: chunk %s: %v", rlmerrors.ErrEmbedderUnavailable, ch.ID, err)}
		}
		dense[i] = vec
		sparse[i] = lexical.Vectorize(ch.Text)
	}

	if err := vs.Upsert(ctx, collection, chunks, dense, sparse); err != nil {
		return FileResult{Path: relPath, Err: fmt.Errorf("upsert: %w", err)}
	}

	if opts.Hashes != nil {
		opts.Hashes.Set(relPath, fileHash)
	}

	log.Info().Str("path", relPath).Int("chunks", len(chunks)).Msg("indexed file")
	return FileResult{Path: relPath, Indexed: true, ChunksIndexed: len(chunks)}
}

func shouldExclude(path string, globs []string) bool {
	if isHidden(path) {
		return true
	}
	p := strings.ToLower(path)
	for _, g := range globs {
		if strings.Contains(p, strings.ToLower(g)) {
			return true
		}
	}
	switch filepath.Ext(p) {
	case ".png", ".jpg", ".jpeg", ".gif", ".pdf", ".webp", ".lock", ".zip",
		".svg", ".exe", ".dll", ".xml", ".sum", ".mod":
		return true
	}
	return false
}

// isHidden reports whether any segment of the (root-relative) path is a
// dot-entry.
func isHidden(p string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if len(seg) > 1 && seg[0] == '.' && seg != ".." {
			return true
		}
	}
	return false
}

func rel(root, p string) string {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return p
	}
	return r
}
