package lavago

import "time"

// Track is an immutable track descriptor. Once constructed via NewTrack
// or decoded off a node's response, none of its fields change; attaching
// a requester produces a copy (see WithRequester).
type Track struct {
	// ID is generated locally; it is never sent to a node.
	ID string `json:"id"`
	// Encoded is the opaque blob a node's loadTracks produced and its
	// updatePlayer accepts back verbatim. Empty for pre-resolution
	// placeholders, which the player must reject (see IsPlaceholder).
	Encoded    string      `json:"encoded,omitempty"`
	Title      string      `json:"title"`
	Author     string      `json:"author"`
	URI        string      `json:"uri,omitempty"`
	Identifier string      `json:"identifier,omitempty"`
	DurationMs int64       `json:"durationMs"`
	IsSeekable bool        `json:"isSeekable"`
	IsStream   bool        `json:"isStream"`
	Source     string      `json:"source,omitempty"`
	ISRC       string      `json:"isrc,omitempty"`
	ArtworkURI string      `json:"artworkUri,omitempty"`
	Requester  interface{} `json:"-"`
	AddedAtMs  int64       `json:"addedAtMs"`
}

// NewTrack builds an immutable Track, stamping a fresh local ID and
// AddedAtMs. durationMs is clamped to 0 if negative per the §3 invariant.
func NewTrack(title, author, uri, identifier, encoded string, durationMs int64, isSeekable, isStream bool, source string) *Track {
	if durationMs < 0 {
		durationMs = 0
	}
	return &Track{
		ID:         newID(),
		Encoded:    encoded,
		Title:      title,
		Author:     author,
		URI:        uri,
		Identifier: identifier,
		DurationMs: durationMs,
		IsSeekable: isSeekable,
		IsStream:   isStream,
		Source:     source,
		AddedAtMs:  time.Now().UnixMilli(),
	}
}

// IsPlaceholder reports whether the track still lacks an encoded payload
// and therefore cannot be handed to a node's updatePlayer.
func (t *Track) IsPlaceholder() bool {
	return t == nil || t.Encoded == ""
}

// WithRequester returns a shallow copy of t carrying the given requester,
// preserving immutability of the original value.
func (t *Track) WithRequester(requester interface{}) *Track {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Requester = requester
	return &cp
}

// WithArtwork returns a shallow copy of t with ArtworkURI set, used by
// resolution pipelines that enrich a track after its initial load.
func (t *Track) WithArtwork(artworkURI string) *Track {
	if t == nil {
		return nil
	}
	cp := *t
	cp.ArtworkURI = artworkURI
	return &cp
}

// titleAuthorKey is the case-folded (title, author) pair used by
// RemoveDuplicates.
func (t *Track) titleAuthorKey() string {
	return foldKey(t.Title) + "\x00" + foldKey(t.Author)
}
