package lavago

import (
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/emirpasic/gods/lists/arraylist"
)

// LoopMode selects how Shift recycles the current track.
type LoopMode byte

const (
	LoopOff LoopMode = iota
	LoopTrack
	LoopQueue
)

// SortField selects the key SortBy orders tracks by.
type SortField byte

const (
	SortByTitle SortField = iota
	SortByAuthor
	SortByDuration
	SortByAddedAt
)

// Queue is owned by exactly one Player; it is never shared. Internally it
// is backed by gods' arraylist (github.com/emirpasic/gods, which the
// teacher listed as a dependency but did not use; the teacher had no
// queue type).
type Queue struct {
	mu          sync.RWMutex
	upcoming    *arraylist.List
	history     *arraylist.List
	historySize int
	current     *Track
	loop        LoopMode
}

// NewQueue creates an empty queue with the given history capacity. A
// historySize <= 0 falls back to the spec default of 50.
func NewQueue(historySize int) *Queue {
	if historySize <= 0 {
		historySize = 50
	}
	return &Queue{
		upcoming:    arraylist.New(),
		history:     arraylist.New(),
		historySize: historySize,
	}
}

func trackAt(list *arraylist.List, index int) (*Track, bool) {
	v, ok := list.Get(index)
	if !ok {
		return nil, false
	}
	return v.(*Track), true
}

func listToTracks(list *arraylist.List) []*Track {
	values := list.Values()
	out := make([]*Track, len(values))
	for i, v := range values {
		out[i] = v.(*Track)
	}
	return out
}

// Add appends a single track to the tail of upcoming.
func (q *Queue) Add(t *Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.upcoming.Add(t)
}

// AddMany appends tracks in order to the tail of upcoming.
func (q *Queue) AddMany(tracks []*Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range tracks {
		q.upcoming.Add(t)
	}
}

// RemoveAt removes and discards the track at index, failing with
// ErrInvalidArgument if index is out of range.
func (q *Queue) RemoveAt(index int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if index < 0 || index >= q.upcoming.Size() {
		return ErrInvalidArgument
	}
	q.upcoming.Remove(index)
	return nil
}

// Get returns the track at index without removing it.
func (q *Queue) Get(index int) (*Track, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	t, ok := trackAt(q.upcoming, index)
	if !ok {
		return nil, ErrInvalidArgument
	}
	return t, nil
}

// Clear empties upcoming. current and history are untouched.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.upcoming.Clear()
}

// Shuffle performs a Fisher-Yates shuffle of upcoming in place.
func (q *Queue) Shuffle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.upcoming.Size()
	for i := n - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		vi, _ := q.upcoming.Get(i)
		vj, _ := q.upcoming.Get(j)
		q.upcoming.Set(i, vj)
		q.upcoming.Set(j, vi)
	}
}

// MoveFromTo relocates the track at index `from` to index `to`.
func (q *Queue) MoveFromTo(from, to int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	size := q.upcoming.Size()
	if from < 0 || from >= size || to < 0 || to >= size {
		return ErrInvalidArgument
	}
	v, _ := q.upcoming.Get(from)
	q.upcoming.Remove(from)
	q.upcoming.Insert(to, v)
	return nil
}

// Peek returns the head of upcoming without consuming it.
func (q *Queue) Peek() *Track {
	q.mu.RLock()
	defer q.mu.RUnlock()
	t, ok := trackAt(q.upcoming, 0)
	if !ok {
		return nil
	}
	return t
}

// Current returns the track currently marked as playing, if any.
func (q *Queue) Current() *Track {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.current
}

// SetCurrent directly sets the current track, used by the player when it
// installs an explicitly-requested track outside the normal Shift flow.
func (q *Queue) SetCurrent(t *Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.current = t
}

// SetLoop changes the loop mode.
func (q *Queue) SetLoop(mode LoopMode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.loop = mode
}

// Loop returns the current loop mode.
func (q *Queue) Loop() LoopMode {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.loop
}

func (q *Queue) pushHistory(t *Track) {
	if t == nil {
		return
	}
	q.history.Add(t)
	if q.history.Size() > q.historySize {
		q.history.Remove(0)
	}
}

// Shift advances the queue per the loop-mode rules in §4.1: loop=track
// replays current without touching upcoming or history; loop=queue
// recirculates current to the tail of upcoming before taking the head;
// otherwise current moves to history (evicting the oldest entry past
// capacity) before the head of upcoming is popped. Returns nil when
// upcoming is empty and there is nothing to recycle.
func (q *Queue) Shift() *Track {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.loop == LoopTrack && q.current != nil {
		return q.current
	}

	if q.loop == LoopQueue && q.current != nil {
		q.upcoming.Add(q.current)
	} else {
		q.pushHistory(q.current)
	}

	next, ok := trackAt(q.upcoming, 0)
	if !ok {
		q.current = nil
		return nil
	}
	q.upcoming.Remove(0)
	q.current = next
	return next
}

// BackOne reverses Shift: the current track is unshifted back onto the
// head of upcoming and the most recent history entry becomes current.
// Returns nil if history is empty.
func (q *Queue) BackOne() *Track {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.history.Empty() {
		return nil
	}
	if q.current != nil {
		q.upcoming.Insert(0, q.current)
	}
	lastIdx := q.history.Size() - 1
	prev, _ := trackAt(q.history, lastIdx)
	q.history.Remove(lastIdx)
	q.current = prev
	return prev
}

// RemoveDuplicates drops upcoming entries that share a case-folded
// (title, author) pair with an earlier entry, keeping the first
// occurrence. Returns the number removed.
func (q *Queue) RemoveDuplicates() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	seen := make(map[string]struct{})
	kept := arraylist.New()
	removed := 0
	for _, v := range q.upcoming.Values() {
		t := v.(*Track)
		key := t.titleAuthorKey()
		if _, dup := seen[key]; dup {
			removed++
			continue
		}
		seen[key] = struct{}{}
		kept.Add(t)
	}
	q.upcoming = kept
	return removed
}

// RemoveWhere removes every upcoming track matching pred, returning the
// removed tracks in their original order.
func (q *Queue) RemoveWhere(pred func(*Track) bool) []*Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := arraylist.New()
	var removed []*Track
	for _, v := range q.upcoming.Values() {
		t := v.(*Track)
		if pred(t) {
			removed = append(removed, t)
			continue
		}
		kept.Add(t)
	}
	q.upcoming = kept
	return removed
}

// RemoveByRequester removes every upcoming track requested by requester,
// comparing with reflect-free equality via a caller-supplied matcher
// since Requester is an opaque interface{}.
func (q *Queue) RemoveByRequester(matches func(interface{}) bool) []*Track {
	return q.RemoveWhere(func(t *Track) bool {
		return matches(t.Requester)
	})
}

// FilterBySource returns upcoming tracks whose Source equals source.
func (q *Queue) FilterBySource(source string) []*Track {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var out []*Track
	for _, v := range q.upcoming.Values() {
		t := v.(*Track)
		if t.Source == source {
			out = append(out, t)
		}
	}
	return out
}

// FilterByDurationRange returns upcoming tracks with minMs <= duration <= maxMs.
func (q *Queue) FilterByDurationRange(minMs, maxMs int64) []*Track {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var out []*Track
	for _, v := range q.upcoming.Values() {
		t := v.(*Track)
		if t.DurationMs >= minMs && t.DurationMs <= maxMs {
			out = append(out, t)
		}
	}
	return out
}

// FilterByRequester returns upcoming tracks matching the given predicate
// over Requester.
func (q *Queue) FilterByRequester(matches func(interface{}) bool) []*Track {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var out []*Track
	for _, v := range q.upcoming.Values() {
		t := v.(*Track)
		if matches(t.Requester) {
			out = append(out, t)
		}
	}
	return out
}

// SearchByText returns upcoming tracks whose title or author contains
// query as a case-insensitive substring.
func (q *Queue) SearchByText(query string) []*Track {
	q.mu.RLock()
	defer q.mu.RUnlock()
	needle := strings.ToLower(query)
	var out []*Track
	for _, v := range q.upcoming.Values() {
		t := v.(*Track)
		if strings.Contains(strings.ToLower(t.Title), needle) || strings.Contains(strings.ToLower(t.Author), needle) {
			out = append(out, t)
		}
	}
	return out
}

// RandomPick returns n distinct randomly chosen upcoming tracks (without
// mutating the queue). If n exceeds the queue size, the whole queue is
// returned in random order.
func (q *Queue) RandomPick(n int) []*Track {
	q.mu.RLock()
	values := append([]interface{}{}, q.upcoming.Values()...)
	q.mu.RUnlock()
	rand.Shuffle(len(values), func(i, j int) { values[i], values[j] = values[j], values[i] })
	if n > len(values) {
		n = len(values)
	}
	out := make([]*Track, n)
	for i := 0; i < n; i++ {
		out[i] = values[i].(*Track)
	}
	return out
}

// First returns up to the first n upcoming tracks.
func (q *Queue) First(n int) []*Track {
	q.mu.RLock()
	defer q.mu.RUnlock()
	size := q.upcoming.Size()
	if n > size {
		n = size
	}
	out := make([]*Track, n)
	for i := 0; i < n; i++ {
		out[i], _ = trackAt(q.upcoming, i)
	}
	return out
}

// Last returns up to the last n upcoming tracks, in queue order.
func (q *Queue) Last(n int) []*Track {
	q.mu.RLock()
	defer q.mu.RUnlock()
	size := q.upcoming.Size()
	if n > size {
		n = size
	}
	out := make([]*Track, n)
	for i := 0; i < n; i++ {
		out[i], _ = trackAt(q.upcoming, size-n+i)
	}
	return out
}

// Has reports whether any upcoming track has the given ID.
func (q *Queue) Has(id string) bool {
	return q.IndexOf(id) >= 0
}

// IndexOf returns the index of the first upcoming track with the given
// ID, or -1 if absent.
func (q *Queue) IndexOf(id string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for i, v := range q.upcoming.Values() {
		if v.(*Track).ID == id {
			return i
		}
	}
	return -1
}

// Swap exchanges the tracks at the two given indices.
func (q *Queue) Swap(i, j int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	size := q.upcoming.Size()
	if i < 0 || i >= size || j < 0 || j >= size {
		return ErrInvalidArgument
	}
	q.upcoming.Swap(i, j)
	return nil
}

// SortBy orders upcoming by the given field; asc selects ascending order.
func (q *Queue) SortBy(field SortField, asc bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	tracks := listToTracks(q.upcoming)
	less := func(a, b *Track) bool {
		switch field {
		case SortByTitle:
			return strings.ToLower(a.Title) < strings.ToLower(b.Title)
		case SortByAuthor:
			return strings.ToLower(a.Author) < strings.ToLower(b.Author)
		case SortByDuration:
			return a.DurationMs < b.DurationMs
		case SortByAddedAt:
			return a.AddedAtMs < b.AddedAtMs
		default:
			return false
		}
	}
	sort.SliceStable(tracks, func(i, j int) bool {
		if asc {
			return less(tracks[i], tracks[j])
		}
		return less(tracks[j], tracks[i])
	})
	rebuilt := arraylist.New()
	for _, t := range tracks {
		rebuilt.Add(t)
	}
	q.upcoming = rebuilt
}

// TotalDurationMs sums the duration of every upcoming track plus, when
// includeCurrent is true, the current track.
func (q *Queue) TotalDurationMs(includeCurrent bool) int64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var total int64
	for _, v := range q.upcoming.Values() {
		total += v.(*Track).DurationMs
	}
	if includeCurrent && q.current != nil {
		total += q.current.DurationMs
	}
	return total
}

// Size returns the number of upcoming tracks.
func (q *Queue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.upcoming.Size()
}

// Upcoming returns a snapshot slice of the upcoming tracks.
func (q *Queue) Upcoming() []*Track {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return listToTracks(q.upcoming)
}

// History returns a snapshot slice of the history, oldest first.
func (q *Queue) History() []*Track {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return listToTracks(q.history)
}

// ClearHistory empties the history buffer.
func (q *Queue) ClearHistory() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.history.Clear()
}

// historyContainsOrCurrent reports whether a track with the given
// identifier (case-folded title+author) is current or already in
// history, used by autoplay (Player.tryAutoplay) to avoid immediately
// repeating a track.
func (q *Queue) historyContainsOrCurrent(key string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.current != nil && q.current.titleAuthorKey() == key {
		return true
	}
	for _, v := range q.history.Values() {
		if v.(*Track).titleAuthorKey() == key {
			return true
		}
	}
	return false
}

