package lavago

import (
	"context"
	"math/rand"
	"sync"

	"github.com/rs/zerolog"
)

// NodePool is the registry of worker nodes (the teacher had no pool type;
// its sync.Map of players became PlayerPool), per the §9 design note: one
// pool, one owning structure, many concurrent readers.
type NodePool struct {
	mu     sync.RWMutex
	nodes  map[string]*Node
	logger zerolog.Logger
	bus    *EventBus

	// OnNodeDisconnect is invoked with the node that dropped, so the
	// owner (Orchestrator) can
	// trigger PlayerPool migration. NodePool itself does not know about
	// players (§9: the two pools stay separate).
	OnNodeDisconnect func(node *Node)
}

// NewNodePool creates an empty pool.
func NewNodePool(logger zerolog.Logger, bus *EventBus) *NodePool {
	return &NodePool{
		nodes:            make(map[string]*Node),
		logger:           logger.With().Str("component", "nodepool").Logger(),
		bus:              bus,
		OnNodeDisconnect: func(*Node) {},
	}
}

// Add registers a node, wiring its Disconnected callback to the pool's
// migration trigger and its StatsReceived/Ready callbacks to the bus.
func (p *NodePool) Add(n *Node) {
	p.mu.Lock()
	p.nodes[n.Identifier()] = n
	p.mu.Unlock()

	n.Disconnected = func() {
		p.bus.emit(Event{Type: EventNodeDisconnect, NodeID: n.Identifier()})
		p.OnNodeDisconnect(n)
	}
	n.Reconnected = func() {
		p.bus.emit(Event{Type: EventNodeConnect, NodeID: n.Identifier()})
	}
	n.Ready = func(resumed bool) {
		p.bus.emit(Event{Type: EventNodeReady, NodeID: n.Identifier(), Data: resumed})
	}
	n.StatsReceived = func(stats NodeStats) {
		p.bus.emit(Event{Type: EventNodeStats, NodeID: n.Identifier(), Data: NodeStatsEvent{Node: n, Stats: stats}})
	}
}

// Remove unregisters a node without closing it; callers should Close it
// themselves if appropriate.
func (p *NodePool) Remove(identifier string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.nodes, identifier)
}

// Get looks up a node by identifier.
func (p *NodePool) Get(identifier string) (*Node, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, ok := p.nodes[identifier]
	return n, ok
}

// Has reports whether a node with the given identifier is registered.
func (p *NodePool) Has(identifier string) bool {
	_, ok := p.Get(identifier)
	return ok
}

// All returns every registered node.
func (p *NodePool) All() []*Node {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Node, 0, len(p.nodes))
	for _, n := range p.nodes {
		out = append(out, n)
	}
	return out
}

// Connected returns every registered node whose socket is open.
func (p *NodePool) Connected() []*Node {
	var out []*Node
	for _, n := range p.All() {
		if n.Connected() {
			out = append(out, n)
		}
	}
	return out
}

// Size returns the total number of registered nodes.
func (p *NodePool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.nodes)
}

// ConnectedCount returns the number of registered nodes currently connected.
func (p *NodePool) ConnectedCount() int {
	return len(p.Connected())
}

// loadScore implements the formula in spec.md §4.4. Lower is better.
// Nodes without a stats snapshot yet are ordered by Calls() alone so a
// freshly connected node isn't immediately flooded before its first
// stats frame arrives.
func loadScore(n *Node) float64 {
	stats := n.Stats()
	if stats == nil {
		return float64(n.Calls()) / 1000
	}
	score := float64(stats.PlayingPlayers) * 2
	score += float64(stats.Players) * 0.5
	score += stats.CPUSystemLoad * 100 * 1.5
	score += stats.memoryUsedFraction() * 100 * 0.5
	score += float64(stats.FramesDeficit+stats.FramesNulled) * 10
	score += float64(n.Calls()) / 1000
	return score
}

// PickLeastLoaded returns the connected node with the lowest load score.
func (p *NodePool) PickLeastLoaded() (*Node, error) {
	candidates := p.Connected()
	if len(candidates) == 0 {
		return nil, ErrNoNodeAvailable
	}
	best := candidates[0]
	bestScore := loadScore(best)
	for _, n := range candidates[1:] {
		if s := loadScore(n); s < bestScore {
			best = n
			bestScore = s
		}
	}
	return best, nil
}

// PickRandom returns a random node; if connectedOnly is true, only
// connected nodes are eligible.
func (p *NodePool) PickRandom(connectedOnly bool) (*Node, error) {
	var candidates []*Node
	if connectedOnly {
		candidates = p.Connected()
	} else {
		candidates = p.All()
	}
	if len(candidates) == 0 {
		return nil, ErrNoNodeAvailable
	}
	return candidates[rand.Intn(len(candidates))], nil
}

// PickByRegion returns a connected node whose configured region exactly
// matches region; if none match, it falls back to PickLeastLoaded.
func (p *NodePool) PickByRegion(region string) (*Node, error) {
	if region != "" {
		for _, n := range p.Connected() {
			if n.Region() == region {
				return n, nil
			}
		}
	}
	return p.PickLeastLoaded()
}

// PickForNewPlayer is the placement policy used when a guild needs a
// node for the first time: region match, then least-loaded, then
// random; ErrNoNodeAvailable if nothing is connected.
func (p *NodePool) PickForNewPlayer(region string) (*Node, error) {
	if len(p.Connected()) == 0 {
		return nil, ErrNoNodeAvailable
	}
	if region != "" {
		for _, n := range p.Connected() {
			if n.Region() == region {
				return n, nil
			}
		}
	}
	if n, err := p.PickLeastLoaded(); err == nil {
		return n, nil
	}
	return p.PickRandom(true)
}

// NodeHealthReport is the result of HealthCheck.
type NodeHealthReport struct {
	Total        int
	Connected    int
	Disconnected int
	PerNode      map[string]NodeHealth
}

// NodeHealth is one node's entry in a NodeHealthReport.
type NodeHealth struct {
	Healthy   bool
	LatencyMs int64
	Error     string
}

// HealthCheck probes every registered node with GetInfo and reports
// per-node health.
func (p *NodePool) HealthCheck(ctx context.Context) NodeHealthReport {
	nodes := p.All()
	report := NodeHealthReport{
		Total:   len(nodes),
		PerNode: make(map[string]NodeHealth, len(nodes)),
	}
	for _, n := range nodes {
		if !n.Connected() {
			report.Disconnected++
			report.PerNode[n.Identifier()] = NodeHealth{Healthy: false, Error: "not connected"}
			continue
		}
		start := nowMs()
		_, err := n.REST().GetInfo(ctx)
		latency := nowMs() - start
		if err != nil {
			report.Disconnected++
			report.PerNode[n.Identifier()] = NodeHealth{Healthy: false, LatencyMs: latency, Error: err.Error()}
			continue
		}
		report.Connected++
		report.PerNode[n.Identifier()] = NodeHealth{Healthy: true, LatencyMs: latency}
	}
	return report
}
