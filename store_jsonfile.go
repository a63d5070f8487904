package lavago

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// JSONFileStore persists the whole key set as one JSON object file,
// coalescing writes behind a 200ms timer so a burst of player snapshots
// (one per guild, several guilds updating within the same tick) costs
// one file write instead of many (§9 design note (c)).
type JSONFileStore struct {
	path string

	mu   sync.Mutex
	data map[string]json.RawMessage

	flushMu    sync.Mutex
	flushTimer *time.Timer
	dirty      bool
}

// NewJSONFileStore loads path if it exists (an empty/missing file starts
// empty) and returns a store that will write back to it.
func NewJSONFileStore(path string) (*JSONFileStore, error) {
	s := &JSONFileStore{
		path: path,
		data: make(map[string]json.RawMessage),
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONFileStore) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (s *JSONFileStore) Set(key string, value []byte) error {
	s.mu.Lock()
	s.data[key] = append(json.RawMessage{}, value...)
	s.mu.Unlock()
	s.scheduleFlush()
	return nil
}

func (s *JSONFileStore) Delete(key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	s.scheduleFlush()
	return nil
}

func (s *JSONFileStore) All() (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.data))
	for k, v := range s.data {
		cp := make([]byte, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out, nil
}

func (s *JSONFileStore) Clear() error {
	s.mu.Lock()
	s.data = make(map[string]json.RawMessage)
	s.mu.Unlock()
	return s.flushNow()
}

// scheduleFlush arms a 200ms timer if none is pending (a pending timer is
// not extended); Set/Delete calls within the window collapse into one write.
func (s *JSONFileStore) scheduleFlush() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	s.dirty = true
	if s.flushTimer != nil {
		return
	}
	s.flushTimer = time.AfterFunc(200*time.Millisecond, func() {
		s.flushMu.Lock()
		s.flushTimer = nil
		wasDirty := s.dirty
		s.dirty = false
		s.flushMu.Unlock()
		if wasDirty {
			_ = s.flushNow()
		}
	})
}

// flushNow writes the full key set to a temp file and renames it into
// place, so a crash mid-write never corrupts the previous snapshot.
func (s *JSONFileStore) flushNow() error {
	s.mu.Lock()
	raw, err := json.Marshal(s.data)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".lavago-store-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.path)
}

// Flush forces any pending debounced write out immediately, used before
// process shutdown.
func (s *JSONFileStore) Flush() error {
	s.flushMu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.dirty = false
	s.flushMu.Unlock()
	return s.flushNow()
}
