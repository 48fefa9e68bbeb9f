package registry

import (
	"sync"

	"github.com/phxlens/phxlens/pkg/util"
)

// fileStore is the bookkeeping every registry embeds: the content-hash
// gate plus its counters. The embedding registry guards its fact maps
// with the same mutex, so a file's facts and its recorded hash always
// change together and readers never observe a half-applied file.
type fileStore struct {
	mu      sync.RWMutex
	hashes  map[string]string
	updates int64
	skips   int64
	removes int64
}

func newFileStore() fileStore {
	return fileStore{hashes: make(map[string]string)}
}

// unchanged is the fast-path gate check under the read lock. A parse is
// only worth doing when this returns false; the write path re-checks
// under the write lock in case a concurrent update won the race.
func (s *fileStore) unchanged(path, hash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hashes[path] == hash
}

// Changed reports whether content differs from the recorded version.
// Callers that must do expensive work before UpdateFile use this to
// skip the work entirely for unchanged files.
func (s *fileStore) Changed(path string, content []byte) bool {
	return !s.unchanged(path, util.ContentHash(content))
}

// commitLocked records the hash after a swap. Caller holds mu for
// writing.
func (s *fileStore) commitLocked(path, hash string) {
	s.hashes[path] = hash
	s.updates++
}

// forgetLocked drops the hash on removal. Caller holds mu for writing.
func (s *fileStore) forgetLocked(path string) {
	if _, ok := s.hashes[path]; ok {
		delete(s.hashes, path)
		s.removes++
	}
}

func (s *fileStore) noteSkip() {
	s.mu.Lock()
	s.skips++
	s.mu.Unlock()
}

// gateStats fills the gate counters of a Stats value. Caller holds mu.
func (s *fileStore) gateStatsLocked(st *Stats) {
	st.Files = len(s.hashes)
	st.Updates = s.updates
	st.Skips = s.skips
	st.Removes = s.removes
}
