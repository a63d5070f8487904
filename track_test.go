package lavago

import "testing"

func TestNewTrackClampsNegativeDuration(t *testing.T) {
	tr := NewTrack("title", "author", "uri", "id", "encoded", -5, true, false, "test")
	if tr.DurationMs != 0 {
		t.Fatalf("expected duration clamped to 0, got %d", tr.DurationMs)
	}
}

func TestTrackIsPlaceholder(t *testing.T) {
	placeholder := &Track{Title: "no encoded payload yet"}
	if !placeholder.IsPlaceholder() {
		t.Fatal("expected track with empty Encoded to be a placeholder")
	}

	resolved := NewTrack("t", "a", "u", "i", "encoded-blob", 1000, true, false, "test")
	if resolved.IsPlaceholder() {
		t.Fatal("expected track with Encoded set to not be a placeholder")
	}
}

func TestTrackWithRequesterPreservesOriginal(t *testing.T) {
	original := NewTrack("t", "a", "u", "i", "encoded", 1000, true, false, "test")
	withReq := original.WithRequester("user-1")

	if original.Requester != nil {
		t.Fatalf("expected original track to be untouched, got requester %v", original.Requester)
	}
	if withReq.Requester != "user-1" {
		t.Fatalf("expected copy to carry requester, got %v", withReq.Requester)
	}
	if withReq == original {
		t.Fatal("expected WithRequester to return a distinct copy")
	}
}

func TestTrackTitleAuthorKeyCaseFolds(t *testing.T) {
	a := NewTrack("Song Name", "Artist", "u", "i", "e", 1000, true, false, "test")
	b := NewTrack("song name", "ARTIST", "u2", "i2", "e2", 2000, true, false, "test")
	if a.titleAuthorKey() != b.titleAuthorKey() {
		t.Fatalf("expected case-folded keys to match: %q vs %q", a.titleAuthorKey(), b.titleAuthorKey())
	}
}
