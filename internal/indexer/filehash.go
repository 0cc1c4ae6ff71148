package indexer

import "sync"

// FileHashIndex is a process-local map from a repository-relative path to
// the file_hash recorded for it on the last indexing pass. It exists so a
// later incremental run can short-circuit unchanged files and detect the
// old hash to delete before re-indexing a changed one, without a round
// trip to the vector store for every file.
type FileHashIndex struct {
	mu     sync.RWMutex
	hashes map[string]string
}

// NewFileHashIndex constructs an empty index.
func NewFileHashIndex() *FileHashIndex {
	return &FileHashIndex{hashes: make(map[string]string)}
}

// Get returns the recorded hash for path, if any.
func (f *FileHashIndex) Get(path string) (hash string, ok bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	hash, ok = f.hashes[path]
	return
}

// Set records hash as the current file_hash for path.
func (f *FileHashIndex) Set(path, hash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashes[path] = hash
}

// Reset forgets every recorded hash, forcing the next pass to treat all
// files as new.
func (f *FileHashIndex) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashes = make(map[string]string)
}

// Len returns the number of paths currently tracked.
func (f *FileHashIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.hashes)
}
