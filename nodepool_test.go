package lavago

import (
	"testing"

	"github.com/rs/zerolog"
)

func newTestNode(identifier, region string) *Node {
	cfg := NewConfig()
	cfg.Identifier = identifier
	cfg.Region = region
	return NewNode(cfg, zerolog.Nop())
}

func TestNodePoolAddGetRemove(t *testing.T) {
	pool := NewNodePool(zerolog.Nop(), NewEventBus())
	n := newTestNode("a", "")
	pool.Add(n)

	got, ok := pool.Get("a")
	if !ok || got != n {
		t.Fatalf("expected to find node a, got %v ok=%v", got, ok)
	}
	if !pool.Has("a") {
		t.Fatal("expected Has(a) to be true")
	}
	if pool.Size() != 1 {
		t.Fatalf("expected size 1, got %d", pool.Size())
	}

	pool.Remove("a")
	if pool.Has("a") {
		t.Fatal("expected node a to be removed")
	}
}

func TestNodePoolPickLeastLoadedNoNodes(t *testing.T) {
	pool := NewNodePool(zerolog.Nop(), NewEventBus())
	if _, err := pool.PickLeastLoaded(); err != ErrNoNodeAvailable {
		t.Fatalf("expected ErrNoNodeAvailable, got %v", err)
	}
}

func TestNodePoolPickRandomNoConnectedNodes(t *testing.T) {
	pool := NewNodePool(zerolog.Nop(), NewEventBus())
	pool.Add(newTestNode("a", ""))
	if _, err := pool.PickRandom(true); err != ErrNoNodeAvailable {
		t.Fatalf("expected ErrNoNodeAvailable for unconnected nodes, got %v", err)
	}
	if n, err := pool.PickRandom(false); err != nil || n == nil {
		t.Fatalf("expected PickRandom(false) to pick from all nodes, got %v %v", n, err)
	}
}

func TestLoadScoreFallsBackToCallsWhenNoStats(t *testing.T) {
	busy := newTestNode("busy", "")
	idle := newTestNode("idle", "")
	busy.calls = 500
	idle.calls = 1

	if loadScore(busy) <= loadScore(idle) {
		t.Fatalf("expected a node with more calls to score worse (higher): busy=%f idle=%f",
			loadScore(busy), loadScore(idle))
	}
}

func TestNodePoolPickLeastLoadedPrefersLowerScore(t *testing.T) {
	pool := NewNodePool(zerolog.Nop(), NewEventBus())

	loaded := newTestNode("loaded", "")
	loaded.connected = true
	loaded.stats = &NodeStats{PlayingPlayers: 10, Players: 10}

	quiet := newTestNode("quiet", "")
	quiet.connected = true
	quiet.stats = &NodeStats{PlayingPlayers: 0, Players: 0}

	pool.Add(loaded)
	pool.Add(quiet)

	best, err := pool.PickLeastLoaded()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if best != quiet {
		t.Fatalf("expected the quiet node to be picked, got %s", best.Identifier())
	}
}

func TestNodePoolPickByRegionMatchesBeforeLoad(t *testing.T) {
	pool := NewNodePool(zerolog.Nop(), NewEventBus())

	usEast := newTestNode("us-east", "us-east")
	usEast.connected = true
	usEast.stats = &NodeStats{PlayingPlayers: 50}

	euWest := newTestNode("eu-west", "eu-west")
	euWest.connected = true
	euWest.stats = &NodeStats{PlayingPlayers: 0}

	pool.Add(usEast)
	pool.Add(euWest)

	got, err := pool.PickByRegion("eu-west")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != euWest {
		t.Fatalf("expected region match to win over load score, got %s", got.Identifier())
	}
}

func TestNodePoolPickByRegionFallsBackWhenNoMatch(t *testing.T) {
	pool := NewNodePool(zerolog.Nop(), NewEventBus())
	n := newTestNode("a", "us-east")
	n.connected = true
	pool.Add(n)

	got, err := pool.PickByRegion("ap-south")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != n {
		t.Fatalf("expected fallback to least-loaded node, got %v", got)
	}
}

func TestNodePoolPickForNewPlayerNoNodesConnected(t *testing.T) {
	pool := NewNodePool(zerolog.Nop(), NewEventBus())
	pool.Add(newTestNode("a", ""))
	if _, err := pool.PickForNewPlayer(""); err != ErrNoNodeAvailable {
		t.Fatalf("expected ErrNoNodeAvailable, got %v", err)
	}
}

func TestNodePoolConnectedCount(t *testing.T) {
	pool := NewNodePool(zerolog.Nop(), NewEventBus())
	connected := newTestNode("a", "")
	connected.connected = true
	pool.Add(connected)
	pool.Add(newTestNode("b", ""))

	if pool.ConnectedCount() != 1 {
		t.Fatalf("expected 1 connected node, got %d", pool.ConnectedCount())
	}
	if pool.Size() != 2 {
		t.Fatalf("expected 2 total nodes, got %d", pool.Size())
	}
}
