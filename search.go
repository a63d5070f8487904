package lavago

import (
	"context"
	"strings"
)

// LoadKind is the closed sum type spec.md §9 mandates in place of the
// teacher's byte status code (which round-tripped ASCII letters like 'T'
// straight from the v3 protocol) and in place of any duck-typed
// "sometimes array, sometimes object" result shape.
type LoadKind byte

const (
	LoadKindTrack LoadKind = iota
	LoadKindSearch
	LoadKindPlaylist
	LoadKindEmpty
	LoadKindError
)

// LoadResult is the normalized outcome of a node's loadTracks call.
type LoadResult struct {
	Kind         LoadKind
	Tracks       []*Track
	PlaylistName string
	ErrorMessage string
}

// IsUsable reports whether Tracks is safe to read from (Track/Search/Playlist).
func (r *LoadResult) IsUsable() bool {
	return r != nil && (r.Kind == LoadKindTrack || r.Kind == LoadKindSearch || r.Kind == LoadKindPlaylist) && len(r.Tracks) > 0
}

// First returns the first track of the result, or nil.
func (r *LoadResult) First() *Track {
	if !r.IsUsable() {
		return nil
	}
	return r.Tracks[0]
}

// isURLIdentifier reports whether query already looks like a URL or an
// explicit "<prefix>search:" identifier, in which case the orchestrator
// should not prepend its own search-engine prefix.
func isURLIdentifier(query string) bool {
	lower := strings.ToLower(query)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return true
	}
	return strings.Contains(query, "search:")
}

// buildIdentifier prefixes a bare query with engine's search prefix
// unless it is already a URL or explicit search identifier.
func buildIdentifier(engine SearchEngine, query string) string {
	if isURLIdentifier(query) {
		return query
	}
	return engine.searchPrefix() + ":" + query
}

// Search resolves identifier against this node, mirroring the teacher's
// Node.Search convenience wrapper but delegating to RESTClient.LoadTracks
// for the v4 wire format and retry policy.
func (n *Node) Search(ctx context.Context, engine SearchEngine, query string) (*LoadResult, error) {
	if query == "" {
		return nil, ErrInvalidArgument
	}
	return n.rest.LoadTracks(ctx, buildIdentifier(engine, query))
}
