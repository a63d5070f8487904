package lavago

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Node represents one configured worker and its persistent WebSocket
// session, generalizing the teacher's Node (which bundled a discordgo
// session, a socket and a player map) into the narrower role spec.md §3
// gives it: connection lifecycle, session-id capture, stats ingestion
// and ping health — player ownership moves to PlayerPool and the
// chat-platform session moves to the Orchestrator.
type Node struct {
	cfg    *Config
	logger zerolog.Logger
	socket *Socket
	rest   *RESTClient

	mu         sync.RWMutex
	sessionID  string
	connected  bool
	stats      *NodeStats
	ping       time.Duration
	lastPingAt time.Time

	calls int64

	pingCancel context.CancelFunc

	// wiredByPool guards against PlayerPool re-wiring this node's
	// dispatch callbacks every time a second player binds to it.
	wiredByPool bool

	// PlayerUpdated fires on every playerUpdate frame.
	PlayerUpdated func(guildID string, posMs int64, connected bool)
	// TrackStarted / TrackEnded / TrackException / TrackStuck fire on
	// the matching track-lifecycle "event" frame.
	TrackStarted   func(guildID string, track *Track)
	TrackEnded     func(guildID string, track *Track, reason TrackEndReason)
	TrackException func(guildID string, track *Track, message string)
	TrackStuck     func(guildID string, track *Track, thresholdMs int64)
	// WebSocketClosed fires when the node reports a guild's Discord
	// voice websocket closed out from under it.
	WebSocketClosed func(guildID string, code int, reason string, byRemote bool)
	// StatsReceived fires on every stats frame.
	StatsReceived func(stats NodeStats)
	// Ready fires once the node sends its ready frame (sessionId captured).
	Ready func(resumed bool)
	// Disconnected fires when the underlying socket drops unexpectedly.
	Disconnected func()
	// Reconnected fires once the socket reopens after Disconnected.
	Reconnected func()
}

// TrackEndReason mirrors the teacher's v3 enum, generalized to the v4
// string reasons (Finished/LoadFailed/Stopped/Replaced/Cleanup).
type TrackEndReason string

const (
	FinishedReason   TrackEndReason = "finished"
	LoadFailedReason TrackEndReason = "loadFailed"
	StoppedReason    TrackEndReason = "stopped"
	ReplacedReason   TrackEndReason = "replaced"
	CleanupReason    TrackEndReason = "cleanup"
)

func trackEndReasonFromWire(s string) TrackEndReason {
	switch s {
	case "finished":
		return FinishedReason
	case "loadFailed":
		return LoadFailedReason
	case "stopped":
		return StoppedReason
	case "replaced":
		return ReplacedReason
	case "cleanup":
		return CleanupReason
	default:
		return TrackEndReason(s)
	}
}

// NewNode builds a Node from cfg. It does not connect until Connect is called.
func NewNode(cfg *Config, logger zerolog.Logger) *Node {
	nodeLogger := logger.With().Str("component", "node").Str("node", cfg.identifier()).Logger()
	n := &Node{
		cfg:             cfg,
		logger:          nodeLogger,
		socket:          NewSocket(cfg, logger),
		rest:            NewRESTClient(cfg, logger),
		PlayerUpdated:   func(string, int64, bool) {},
		TrackStarted:    func(string, *Track) {},
		TrackEnded:      func(string, *Track, TrackEndReason) {},
		TrackException:  func(string, *Track, string) {},
		TrackStuck:      func(string, *Track, int64) {},
		WebSocketClosed: func(string, int, string, bool) {},
		StatsReceived:   func(NodeStats) {},
		Ready:           func(bool) {},
		Disconnected:    func() {},
		Reconnected:     func() {},
	}
	n.socket.DataReceived = n.onData
	n.socket.Disconnected = n.onSocketDisconnected
	n.socket.Reconnected = n.onSocketReconnected
	return n
}

// Identifier returns the node's configured (or default "host:port") name.
func (n *Node) Identifier() string {
	return n.cfg.identifier()
}

// Region returns the node's configured region affinity tag.
func (n *Node) Region() string {
	return n.cfg.Region
}

// Connect opens the WebSocket to the node and starts the ping loop.
func (n *Node) Connect(userID string) error {
	headers := buildNodeHeaders(n.cfg, userID)
	if err := n.socket.Connect(headers); err != nil {
		return err
	}
	n.mu.Lock()
	n.connected = true
	n.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	n.pingCancel = cancel
	go n.pingLoop(ctx)
	return nil
}

// Close shuts the node down: stops the ping loop and closes the socket.
func (n *Node) Close() error {
	if n.pingCancel != nil {
		n.pingCancel()
	}
	n.mu.Lock()
	n.connected = false
	n.mu.Unlock()
	return n.socket.Close()
}

// Connected reports whether the node's socket is currently open.
func (n *Node) Connected() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.connected
}

// SessionID returns the session id captured from the node's ready frame.
// REST player operations are invalid until this is non-empty.
func (n *Node) SessionID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sessionID
}

// Stats returns the most recent stats snapshot, or nil if none has arrived yet.
func (n *Node) Stats() *NodeStats {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.stats
}

// Ping returns the last measured REST round-trip time.
func (n *Node) Ping() time.Duration {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ping
}

// Calls returns the running count of REST operations issued through this
// node, used as a load-balancing tie-break.
func (n *Node) Calls() int64 {
	return atomic.LoadInt64(&n.calls)
}

func (n *Node) countCall() {
	atomic.AddInt64(&n.calls, 1)
}

// REST exposes the underlying RESTClient for advanced callers; ordinary
// player operations should go through the helper methods below so
// Calls() stays accurate for load-balancing tie-breaks.
func (n *Node) REST() *RESTClient { return n.rest }

// LoadTracks resolves identifier through this node.
func (n *Node) LoadTracks(ctx context.Context, identifier string) (*LoadResult, error) {
	n.countCall()
	return n.rest.LoadTracks(ctx, identifier)
}

// UpdatePlayer issues an updatePlayer call bound to this node's session.
func (n *Node) UpdatePlayer(ctx context.Context, guildID string, patch UpdatePlayerPatch) (*PlayerSnapshotWire, error) {
	n.countCall()
	return n.rest.UpdatePlayer(ctx, n.SessionID(), guildID, patch)
}

// DestroyPlayer issues a destroyPlayer call bound to this node's session.
func (n *Node) DestroyPlayer(ctx context.Context, guildID string) error {
	n.countCall()
	return n.rest.DestroyPlayer(ctx, n.SessionID(), guildID)
}

func buildNodeHeaders(cfg *Config, userID string) map[string][]string {
	headers := map[string][]string{
		"Authorization": {cfg.Authorization},
		"User-Id":       {userID},
		"Client-Name":   {clientNameHeader(cfg)},
	}
	if cfg.EnableResume && cfg.ResumeKey != "" {
		headers["Resume-Key"] = []string{cfg.ResumeKey}
	}
	return headers
}

func clientNameHeader(cfg *Config) string {
	if cfg.UserAgent != "" {
		return cfg.UserAgent
	}
	return "lavago/4"
}

func (n *Node) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.measurePing(ctx)
		}
	}
}

func (n *Node) measurePing(ctx context.Context) {
	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, n.cfg.RequestTimeout)
	defer cancel()
	_, err := n.rest.GetInfo(reqCtx)
	rtt := time.Since(start)
	if err != nil {
		n.logger.Warn().Err(err).Msg("node health ping failed")
		return
	}
	n.mu.Lock()
	n.ping = rtt
	n.lastPingAt = time.Now()
	n.mu.Unlock()
	if rtt > 500*time.Millisecond {
		n.logger.Warn().Dur("rtt", rtt).Msg("node ping latency high")
	}
}

// Healthy reports whether a successful ping has landed within the last
// 60s, per the health criterion in spec.md §4.3.
func (n *Node) Healthy() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.lastPingAt.IsZero() {
		return n.connected
	}
	return time.Since(n.lastPingAt) <= 60*time.Second
}

func (n *Node) onSocketDisconnected(code int, reason string) {
	n.mu.Lock()
	n.connected = false
	n.sessionID = ""
	n.mu.Unlock()
	n.logger.Warn().Int("code", code).Str("reason", reason).Msg("node socket disconnected")
	n.Disconnected()
}

func (n *Node) onSocketReconnected() {
	n.mu.Lock()
	n.connected = true
	n.mu.Unlock()
	n.logger.Info().Msg("node socket reconnected")
	n.Reconnected()
}

func (n *Node) onData(data []byte) {
	if len(data) == 0 {
		n.logger.Warn().Msg("received empty frame from node")
		return
	}
	var bp basePayload
	if err := json.Unmarshal(data, &bp); err != nil {
		n.logger.Warn().Err(err).Msg("malformed frame from node")
		return
	}

	switch bp.Op {
	case "ready":
		var rp readyPayload
		if err := json.Unmarshal(data, &rp); err != nil {
			n.logger.Warn().Err(err).Msg("malformed ready frame")
			return
		}
		n.mu.Lock()
		n.sessionID = rp.SessionID
		n.mu.Unlock()
		n.Ready(rp.Resumed)

	case "stats":
		var sp statsPayload
		if err := json.Unmarshal(data, &sp); err != nil {
			n.logger.Warn().Err(err).Msg("malformed stats frame")
			return
		}
		stats := statsFromPayload(sp)
		n.mu.Lock()
		n.stats = &stats
		n.mu.Unlock()
		n.StatsReceived(stats)

	case "playerUpdate":
		var pu playerUpdatePayload
		if err := json.Unmarshal(data, &pu); err != nil {
			n.logger.Warn().Err(err).Msg("malformed playerUpdate frame")
			return
		}
		n.PlayerUpdated(pu.GuildID, pu.State.Position, pu.State.Connected)

	case "event":
		n.dispatchEvent(data)

	default:
		n.logger.Debug().Str("op", bp.Op).Msg("unrecognized op from node")
	}
}

func (n *Node) dispatchEvent(data []byte) {
	var ep eventPayload
	if err := json.Unmarshal(data, &ep); err != nil {
		n.logger.Warn().Err(err).Msg("malformed event frame")
		return
	}
	switch ep.Type {
	case wireTrackStartEvent:
		n.TrackStarted(ep.GuildID, ep.Track.toTrack())
	case wireTrackEndEvent:
		n.TrackEnded(ep.GuildID, ep.Track.toTrack(), trackEndReasonFromWire(ep.Reason))
	case wireTrackExceptionEvent:
		msg := ""
		if ep.Exception != nil {
			msg = ep.Exception.Message
		}
		n.TrackException(ep.GuildID, ep.Track.toTrack(), msg)
	case wireTrackStuckEvent:
		n.TrackStuck(ep.GuildID, ep.Track.toTrack(), ep.ThresholdMs)
	case wireWebSocketClosedEvent:
		n.WebSocketClosed(ep.GuildID, ep.Code, ep.Reason, ep.ByRemote)
	default:
		n.logger.Debug().Str("type", ep.Type).Msg("unrecognized event type from node")
	}
}
