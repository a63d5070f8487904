package lavago

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// PlayerPool is the per-guild player registry, kept deliberately separate
// from NodePool per the §9 design note: a player holds a handle to its
// bound node, and migrating that handle never requires NodePool to know
// about players or PlayerPool to know about node internals.
type PlayerPool struct {
	mu      sync.RWMutex
	players map[string]*Player

	nodes  *NodePool
	voice  *VoiceHandshake
	bus    *EventBus
	logger zerolog.Logger

	defaultOpts *PlayerOptions

	// JoinVoiceChannel / LeaveVoiceChannel are threaded into every Player
	// created by this pool; set by the Orchestrator once at startup.
	JoinVoiceChannel  func(guildID, channelID string, selfMute, selfDeaf bool) error
	LeaveVoiceChannel func(guildID string) error

	// SaveSnapshot is threaded into every Player's SaveHook; set by the
	// Orchestrator to persist §4.9 save triggers to its KVStore.
	SaveSnapshot func(guildID string, snapshot PlayerSnapshot)
}

// NewPlayerPool creates an empty pool wired to nodes and voice.
func NewPlayerPool(nodes *NodePool, voice *VoiceHandshake, bus *EventBus, defaultOpts *PlayerOptions, logger zerolog.Logger) *PlayerPool {
	if defaultOpts == nil {
		defaultOpts = DefaultPlayerOptions()
	}
	pool := &PlayerPool{
		players:           make(map[string]*Player),
		nodes:             nodes,
		voice:             voice,
		bus:               bus,
		defaultOpts:       defaultOpts,
		logger:            logger.With().Str("component", "playerpool").Logger(),
		JoinVoiceChannel:  func(string, string, bool, bool) error { return nil },
		LeaveVoiceChannel: func(string) error { return nil },
		SaveSnapshot:      func(string, PlayerSnapshot) {},
	}
	nodes.OnNodeDisconnect = pool.handleNodeDisconnect
	return pool
}

// Create allocates (or returns an existing) player for guildID, binding
// it to the node chosen by NodePool.PickForNewPlayer: the first connected
// node matching region, or else the least-loaded node.
func (p *PlayerPool) Create(guildID, region string, opts *PlayerOptions) (*Player, error) {
	p.mu.Lock()
	if existing, ok := p.players[guildID]; ok {
		p.mu.Unlock()
		return existing, nil
	}
	p.mu.Unlock()

	node, err := p.nodes.PickForNewPlayer(region)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = p.defaultOpts.clone()
	}
	player := NewPlayer(guildID, node, p.voice, p.bus, opts, p.logger)
	player.JoinVoiceChannel = func(channelID string, selfMute, selfDeaf bool) error {
		return p.JoinVoiceChannel(guildID, channelID, selfMute, selfDeaf)
	}
	player.LeaveVoiceChannel = func() error {
		return p.LeaveVoiceChannel(guildID)
	}
	player.SaveHook = func(snap PlayerSnapshot) {
		p.SaveSnapshot(guildID, snap)
	}
	player.PickReplacementNode = func() (*Node, error) {
		target, err := p.nodes.PickLeastLoaded()
		if err != nil {
			return nil, err
		}
		p.routeNodeEvents(target)
		return target, nil
	}

	p.mu.Lock()
	p.players[guildID] = player
	p.mu.Unlock()

	p.routeNodeEvents(node)
	p.bus.emit(Event{Type: EventPlayerCreate, GuildID: guildID, NodeID: node.Identifier()})
	return player, nil
}

// Get returns the player for guildID, if any.
func (p *PlayerPool) Get(guildID string) (*Player, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	player, ok := p.players[guildID]
	return player, ok
}

// Has reports whether a player exists for guildID.
func (p *PlayerPool) Has(guildID string) bool {
	_, ok := p.Get(guildID)
	return ok
}

// All returns every registered player.
func (p *PlayerPool) All() []*Player {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Player, 0, len(p.players))
	for _, player := range p.players {
		out = append(out, player)
	}
	return out
}

// Playing returns every player currently in StatePlaying.
func (p *PlayerPool) Playing() []*Player {
	var out []*Player
	for _, player := range p.All() {
		if player.State() == StatePlaying {
			out = append(out, player)
		}
	}
	return out
}

// Idle returns every player currently in StateIdle or StateEnded.
func (p *PlayerPool) Idle() []*Player {
	var out []*Player
	for _, player := range p.All() {
		if s := player.State(); s == StateIdle || s == StateEnded {
			out = append(out, player)
		}
	}
	return out
}

// Destroy tears a player down and removes it from the pool.
func (p *PlayerPool) Destroy(ctx context.Context, guildID string) error {
	p.mu.Lock()
	player, ok := p.players[guildID]
	if ok {
		delete(p.players, guildID)
	}
	p.mu.Unlock()
	if !ok {
		return ErrPlayerNotFound
	}
	return player.Destroy(ctx)
}

// DestroyAll tears down every registered player, used on shutdown.
func (p *PlayerPool) DestroyAll(ctx context.Context) {
	for _, player := range p.All() {
		_ = p.Destroy(ctx, player.GuildID())
	}
}

// PoolStats aggregates counts across every registered player.
type PoolStats struct {
	Total   int
	Playing int
	Paused  int
	Idle    int
}

// Stats aggregates player counts by state.
func (p *PlayerPool) Stats() PoolStats {
	stats := PoolStats{}
	for _, player := range p.All() {
		stats.Total++
		switch player.State() {
		case StatePlaying:
			stats.Playing++
		case StatePaused:
			stats.Paused++
		case StateIdle, StateEnded:
			stats.Idle++
		}
	}
	return stats
}

// routeNodeEvents wires node's per-event callbacks to dispatch to the
// right player by guildId. A node's callbacks are set once, the first
// time any player binds to it; subsequent players sharing the node
// reuse the same dispatch closures.
func (p *PlayerPool) routeNodeEvents(n *Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n.wiredByPool {
		return
	}
	n.wiredByPool = true

	n.PlayerUpdated = func(guildID string, posMs int64, connected bool) {
		if player, ok := p.Get(guildID); ok {
			player.handlePlayerUpdate(posMs, connected)
		}
	}
	n.TrackStarted = func(guildID string, track *Track) {
		if player, ok := p.Get(guildID); ok {
			player.handleTrackStart(track)
		}
	}
	n.TrackEnded = func(guildID string, track *Track, reason TrackEndReason) {
		if player, ok := p.Get(guildID); ok {
			player.handleTrackEnd(track, reason)
		}
	}
	n.TrackException = func(guildID string, track *Track, message string) {
		if player, ok := p.Get(guildID); ok {
			player.handleTrackException(track, message)
		}
	}
	n.TrackStuck = func(guildID string, track *Track, thresholdMs int64) {
		if player, ok := p.Get(guildID); ok {
			player.handleTrackStuck(track, thresholdMs)
		}
	}
	n.WebSocketClosed = func(guildID string, code int, reason string, byRemote bool) {
		if player, ok := p.Get(guildID); ok {
			player.handleWebSocketClosed(code, reason, byRemote)
		}
	}
}

// handleNodeDisconnect migrates every player bound to a dropped node
// onto the next-best connected node, best-effort.
func (p *PlayerPool) handleNodeDisconnect(n *Node) {
	ctx := context.Background()
	for _, player := range p.All() {
		if player.Node() != n {
			continue
		}
		target, err := p.nodes.PickLeastLoaded()
		if err != nil {
			p.logger.Warn().Str("guild", player.GuildID()).Msg("no node available to migrate to")
			continue
		}
		p.routeNodeEvents(target)
		if err := player.MoveToNode(ctx, target); err != nil {
			p.logger.Warn().Err(err).Str("guild", player.GuildID()).Msg("failed to migrate player to new node")
		}
	}
}
