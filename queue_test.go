package lavago

import "testing"

func newTestTrack(title, author string) *Track {
	return NewTrack(title, author, "https://example.com/"+title, title, "encoded-"+title, 60000, true, false, "test")
}

func TestQueueAddAndShift(t *testing.T) {
	q := NewQueue(5)
	a := newTestTrack("a", "artist")
	b := newTestTrack("b", "artist")
	q.Add(a)
	q.Add(b)

	if got := q.Shift(); got != a {
		t.Fatalf("expected shift to return a, got %v", got)
	}
	if got := q.Current(); got != a {
		t.Fatalf("expected current to be a, got %v", got)
	}
	if got := q.Shift(); got != b {
		t.Fatalf("expected shift to return b, got %v", got)
	}
	if got := q.Shift(); got != nil {
		t.Fatalf("expected nil on empty queue, got %v", got)
	}
}

func TestQueueLoopTrack(t *testing.T) {
	q := NewQueue(5)
	a := newTestTrack("a", "artist")
	q.Add(a)
	q.Shift()
	q.SetLoop(LoopTrack)

	for i := 0; i < 3; i++ {
		if got := q.Shift(); got != a {
			t.Fatalf("iteration %d: expected loop-track to keep returning a, got %v", i, got)
		}
	}
}

func TestQueueLoopQueueRecirculates(t *testing.T) {
	q := NewQueue(5)
	a := newTestTrack("a", "artist")
	b := newTestTrack("b", "artist")
	q.AddMany([]*Track{a, b})
	q.SetLoop(LoopQueue)

	first := q.Shift()
	second := q.Shift()
	third := q.Shift()
	if first != a || second != b || third != a {
		t.Fatalf("expected a,b,a cycle, got %v,%v,%v", first, second, third)
	}
}

func TestQueueBackOne(t *testing.T) {
	q := NewQueue(5)
	a := newTestTrack("a", "artist")
	b := newTestTrack("b", "artist")
	q.AddMany([]*Track{a, b})
	q.Shift() // current = a
	q.Shift() // current = b, a -> history

	prev := q.BackOne()
	if prev != a {
		t.Fatalf("expected BackOne to return a, got %v", prev)
	}
	if q.Current() != a {
		t.Fatalf("expected current to be a after BackOne")
	}
	if q.Peek() != b {
		t.Fatalf("expected b to be back at the head of upcoming")
	}
}

func TestQueueRemoveDuplicates(t *testing.T) {
	q := NewQueue(5)
	q.Add(newTestTrack("Song", "Artist"))
	q.Add(newTestTrack("song", "artist"))
	q.Add(newTestTrack("Other", "Artist"))

	removed := q.RemoveDuplicates()
	if removed != 1 {
		t.Fatalf("expected 1 duplicate removed, got %d", removed)
	}
	if q.Size() != 2 {
		t.Fatalf("expected 2 tracks remaining, got %d", q.Size())
	}
}

func TestQueueMoveFromTo(t *testing.T) {
	q := NewQueue(5)
	a, b, c := newTestTrack("a", "x"), newTestTrack("b", "x"), newTestTrack("c", "x")
	q.AddMany([]*Track{a, b, c})

	if err := q.MoveFromTo(0, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	upcoming := q.Upcoming()
	if upcoming[0] != b || upcoming[1] != c || upcoming[2] != a {
		t.Fatalf("unexpected order after move: %v", upcoming)
	}
}

func TestQueueRemoveAtOutOfRange(t *testing.T) {
	q := NewQueue(5)
	q.Add(newTestTrack("a", "x"))
	if err := q.RemoveAt(5); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestQueueHistoryCapacity(t *testing.T) {
	q := NewQueue(2)
	a, b, c := newTestTrack("a", "x"), newTestTrack("b", "x"), newTestTrack("c", "x")
	q.AddMany([]*Track{a, b, c})
	q.Shift() // current a
	q.Shift() // a -> history, current b
	q.Shift() // b -> history, current c
	q.Shift() // c -> history (a evicted), upcoming empty

	history := q.History()
	if len(history) != 2 {
		t.Fatalf("expected history capped at 2, got %d", len(history))
	}
	if history[0] != b || history[1] != c {
		t.Fatalf("expected oldest-evicted history [b,c], got %v", history)
	}
}

func TestQueueSortBy(t *testing.T) {
	q := NewQueue(5)
	q.Add(newTestTrack("zebra", "x"))
	q.Add(newTestTrack("apple", "x"))
	q.SortBy(SortByTitle, true)

	upcoming := q.Upcoming()
	if upcoming[0].Title != "apple" || upcoming[1].Title != "zebra" {
		t.Fatalf("unexpected sort order: %v", upcoming)
	}
}
