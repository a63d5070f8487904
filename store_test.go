package lavago

import (
	"path/filepath"
	"testing"
	"time"
)

func testKVStore(t *testing.T, store KVStore) {
	t.Helper()

	if _, ok, err := store.Get("missing"); err != nil || ok {
		t.Fatalf("expected missing key to return ok=false, got ok=%v err=%v", ok, err)
	}

	if err := store.Set("a", []byte(`{"n":1}`)); err != nil {
		t.Fatalf("unexpected error on Set: %v", err)
	}
	v, ok, err := store.Get("a")
	if err != nil || !ok || string(v) != `{"n":1}` {
		t.Fatalf("expected a to round-trip, got %q ok=%v err=%v", v, ok, err)
	}

	if err := store.Set("b", []byte(`{"n":2}`)); err != nil {
		t.Fatalf("unexpected error on Set: %v", err)
	}
	all, err := store.All()
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 keys, got %d err=%v", len(all), err)
	}

	if err := store.Delete("a"); err != nil {
		t.Fatalf("unexpected error on Delete: %v", err)
	}
	if _, ok, _ := store.Get("a"); ok {
		t.Fatal("expected a to be gone after Delete")
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("unexpected error on Clear: %v", err)
	}
	all, _ = store.All()
	if len(all) != 0 {
		t.Fatalf("expected empty store after Clear, got %d keys", len(all))
	}
}

func TestMemoryStoreSatisfiesKVStoreContract(t *testing.T) {
	testKVStore(t, NewMemoryStore())
}

func TestMemoryStoreDefensiveCopyOnSet(t *testing.T) {
	s := NewMemoryStore()
	original := []byte("hello")
	_ = s.Set("k", original)
	original[0] = 'X'

	v, _, _ := s.Get("k")
	if string(v) != "hello" {
		t.Fatalf("expected stored value to be isolated from caller mutation, got %q", v)
	}
}

func TestMemoryStoreDefensiveCopyOnGet(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Set("k", []byte("hello"))
	v, _, _ := s.Get("k")
	v[0] = 'X'

	v2, _, _ := s.Get("k")
	if string(v2) != "hello" {
		t.Fatalf("expected mutating a Get result to not affect the store, got %q", v2)
	}
}

func TestJSONFileStoreSatisfiesKVStoreContract(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONFileStore(filepath.Join(dir, "store.json"))
	if err != nil {
		t.Fatalf("unexpected error creating store: %v", err)
	}
	testKVStore(t, s)
}

func TestJSONFileStoreMissingFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONFileStore(filepath.Join(dir, "does-not-exist.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	all, err := s.All()
	if err != nil || len(all) != 0 {
		t.Fatalf("expected empty store, got %v err=%v", all, err)
	}
}

func TestJSONFileStoreFlushWritesToDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	s, err := NewJSONFileStore(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Set("a", []byte(`{"n":1}`)); err != nil {
		t.Fatalf("unexpected error on Set: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("unexpected error on Flush: %v", err)
	}

	reloaded, err := NewJSONFileStore(path)
	if err != nil {
		t.Fatalf("unexpected error reloading store: %v", err)
	}
	v, ok, err := reloaded.Get("a")
	if err != nil || !ok || string(v) != `{"n":1}` {
		t.Fatalf("expected a to survive reload, got %q ok=%v err=%v", v, ok, err)
	}
}

func TestJSONFileStoreDebouncesConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	s, err := NewJSONFileStore(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := s.Set("k", []byte(`{"n":`+string(rune('0'+i))+`}`)); err != nil {
			t.Fatalf("unexpected error on Set: %v", err)
		}
	}

	time.Sleep(350 * time.Millisecond)

	reloaded, err := NewJSONFileStore(path)
	if err != nil {
		t.Fatalf("unexpected error reloading store: %v", err)
	}
	v, ok, err := reloaded.Get("k")
	if err != nil || !ok {
		t.Fatalf("expected debounced write to eventually land on disk, ok=%v err=%v", ok, err)
	}
	if string(v) != `{"n":4}` {
		t.Fatalf("expected the last write to win, got %q", v)
	}
}
