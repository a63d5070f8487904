package lavago

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// PlayerState is the per-guild player's lifecycle state (spec.md §4.6).
type PlayerState int

const (
	StateIdle PlayerState = iota
	StateConnecting
	StateConnected
	StatePlaying
	StatePaused
	StateEnded
	StateStuck
	StateErrored
	StateDestroyed
)

func (s PlayerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	case StateStuck:
		return "stuck"
	case StateErrored:
		return "errored"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// PlayerSnapshot is the persistable state of a Player, matching the
// field list in spec.md §4.9.
type PlayerSnapshot struct {
	GuildID    string                 `json:"guildId"`
	ChannelID  string                 `json:"channelId"`
	NodeID     string                 `json:"nodeId"`
	Current    *Track                 `json:"current,omitempty"`
	Upcoming   []*Track               `json:"upcoming,omitempty"`
	History    []*Track               `json:"history,omitempty"`
	Loop       LoopMode               `json:"loop"`
	Volume     int                    `json:"volume"`
	Paused     bool                   `json:"paused"`
	PositionMs int64                  `json:"positionMs"`
	Filters    map[string]interface{} `json:"filters,omitempty"`
	Autoplay   bool                   `json:"autoplay"`
	SavedAtMs  int64                  `json:"savedAtMs"`
}

// toJSON serializes the snapshot for storage in a KVStore.
func (s PlayerSnapshot) toJSON() ([]byte, error) {
	return json.Marshal(s)
}

// parsePlayerSnapshot deserializes bytes persisted by toJSON.
func parsePlayerSnapshot(data []byte) (*PlayerSnapshot, error) {
	var s PlayerSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Player is the per-guild playback state machine. It holds a handle to
// its bound Node, not ownership of it, per the §9 design note: NodePool
// and PlayerPool are two separate pools, and a player migrates from one
// node to another without either pool reaching into the other.
type Player struct {
	mu sync.RWMutex

	guildID string
	node    *Node
	queue   *Queue
	filters *FilterController
	opts    *PlayerOptions
	voice   *VoiceHandshake
	bus     *EventBus
	logger  zerolog.Logger

	state     PlayerState
	channelID string
	volume    int
	paused    bool
	autoplay  bool

	lastPosMs int64
	lastPosAt time.Time

	stuckRetries int
	lastStuckAt  time.Time

	migrating int32

	idleMu         sync.Mutex
	idleTimer      *time.Timer
	idleGeneration int64

	healthCancel context.CancelFunc

	destroyed bool

	// JoinVoiceChannel / LeaveVoiceChannel are wired by the owner
	// (Orchestrator) to its chat-platform session; Player never imports
	// discordgo directly, matching the §9 separation of the voice
	// handshake (process-wide) from per-guild playback.
	JoinVoiceChannel  func(channelID string, selfMute, selfDeaf bool) error
	LeaveVoiceChannel func() error

	// AutoplayResolver, when set, produces the next track to enqueue
	// when the queue empties and Autoplay is enabled.
	AutoplayResolver func(ctx context.Context, last *Track) (*Track, error)

	// PickReplacementNode is wired by PlayerPool; it selects the best
	// remaining node for a health-monitor-triggered migration.
	PickReplacementNode func() (*Node, error)

	// SaveHook is wired by PlayerPool/Orchestrator; it receives a
	// snapshot on every §4.9 save trigger. Best-effort: it must never
	// block playback, so callers invoke it in its own goroutine.
	SaveHook func(PlayerSnapshot)
}

// NewPlayer constructs an idle player bound to node. The caller retains
// ownership of node via NodePool; Player only holds a reference.
func NewPlayer(guildID string, node *Node, voice *VoiceHandshake, bus *EventBus, opts *PlayerOptions, logger zerolog.Logger) *Player {
	if opts == nil {
		opts = DefaultPlayerOptions()
	}
	p := &Player{
		guildID:           guildID,
		node:              node,
		queue:             NewQueue(opts.HistorySize),
		opts:              opts,
		voice:             voice,
		bus:               bus,
		state:             StateIdle,
		volume:            opts.DefaultVolume,
		JoinVoiceChannel:  func(string, bool, bool) error { return nil },
		LeaveVoiceChannel: func() error { return nil },
		PickReplacementNode: func() (*Node, error) { return nil, ErrNoNodeAvailable },
		SaveHook:            func(PlayerSnapshot) {},
	}
	p.logger = logger.With().Str("component", "player").Str("guild", guildID).Logger()
	p.filters = NewFilterController(p.flushFilters)
	if opts.EnableHealthMonitor {
		p.startHealthMonitor()
	}
	return p
}

func (p *Player) flushFilters(blocks map[string]interface{}) error {
	if err := p.checkAlive(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.requestTimeout())
	defer cancel()
	_, err := p.node.UpdatePlayer(ctx, p.guildID, UpdatePlayerPatch{Filters: blocks})
	if err != nil {
		return err
	}
	p.triggerSave()
	return nil
}

func (p *Player) requestTimeout() time.Duration {
	return 10 * time.Second
}

func (p *Player) setState(s PlayerState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// State returns the player's current lifecycle state.
func (p *Player) State() PlayerState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// GuildID returns the guild this player belongs to.
func (p *Player) GuildID() string { return p.guildID }

// Node returns the node this player is currently bound to.
func (p *Player) Node() *Node {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.node
}

// Queue returns the player's queue.
func (p *Player) Queue() *Queue { return p.queue }

// Filters returns the player's filter controller.
func (p *Player) Filters() *FilterController { return p.filters }

// ChannelID returns the voice channel this player is bound to, if any.
func (p *Player) ChannelID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.channelID
}

// Connect joins the given voice channel and transitions idle -> connecting.
func (p *Player) Connect(channelID string) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrPlayerDestroyed
	}
	p.state = StateConnecting
	p.channelID = channelID
	p.mu.Unlock()

	if err := p.JoinVoiceChannel(channelID, false, false); err != nil {
		p.setState(StateErrored)
		return err
	}
	return nil
}

// checkAlive returns ErrPlayerDestroyed once Destroy has run, per the
// §8 invariant that a destroyed player accepts no further commands.
func (p *Player) checkAlive() error {
	p.mu.RLock()
	destroyed := p.destroyed
	p.mu.RUnlock()
	if destroyed {
		return ErrPlayerDestroyed
	}
	return nil
}

// triggerSave fires the §4.9 save-trigger hook with the current
// snapshot. Dispatched on its own goroutine so persistence never blocks
// a playback command.
func (p *Player) triggerSave() {
	snap := p.Snapshot()
	go p.SaveHook(snap)
}

// Disconnect leaves voice and tears down playback without destroying
// the player's queue/history.
func (p *Player) Disconnect() error {
	if err := p.checkAlive(); err != nil {
		return err
	}
	p.cancelIdleTimer()
	if err := p.LeaveVoiceChannel(); err != nil {
		p.logger.Warn().Err(err).Msg("error leaving voice channel")
	}
	p.voice.Clear(p.guildID)
	ctx, cancel := context.WithTimeout(context.Background(), p.requestTimeout())
	defer cancel()
	_ = p.node.DestroyPlayer(ctx, p.guildID)
	p.setState(StateIdle)
	return nil
}

// waitForCredential blocks until the voice handshake completes for this
// guild or the bound deadline passes (spec §4.5: connect proceeds once
// both the voice-state and voice-server halves have arrived, bounded to
// avoid hanging forever on a never-completing handshake). If a voice
// channel was seen during the wait and is then cleared, it returns
// ErrVoiceLost.
func (p *Player) waitForCredential(ctx context.Context) (VoiceCredential, error) {
	deadline := time.Now().Add(2 * time.Second)
	sawChannel := false
	for {
		cred := p.voice.Credential(p.guildID)
		if cred.ready() {
			return cred, nil
		}
		if p.voice.ChannelID(p.guildID) != "" {
			sawChannel = true
		} else if sawChannel {
			return VoiceCredential{}, ErrVoiceLost
		}
		if time.Now().After(deadline) {
			return VoiceCredential{}, ErrCredentialTimeout
		}
		select {
		case <-ctx.Done():
			return VoiceCredential{}, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Play issues the given track to the node, replacing whatever is
// currently playing. It installs track as queue.current directly,
// bypassing Shift, matching the "explicitly requested track" path.
func (p *Player) Play(ctx context.Context, track *Track) error {
	if err := p.checkAlive(); err != nil {
		return err
	}
	if track.IsPlaceholder() {
		return ErrNoEncodedTrack
	}
	cred, err := p.waitForCredential(ctx)
	if err != nil {
		return err
	}

	p.queue.SetCurrent(track)
	vol := p.Volume()
	patch := UpdatePlayerPatch{
		EncodedTrack: &track.Encoded,
		Voice:        &cred,
		Volume:       &vol,
	}
	if _, err := p.node.UpdatePlayer(ctx, p.guildID, patch); err != nil {
		p.setState(StateErrored)
		return err
	}
	p.mu.Lock()
	p.state = StatePlaying
	p.paused = false
	p.lastPosMs = 0
	p.lastPosAt = time.Now()
	p.mu.Unlock()
	p.cancelIdleTimer()
	p.stuckRetries = 0
	p.bus.emit(Event{Type: EventTrackStart, GuildID: p.guildID, Data: TrackStartEvent{Track: track}})
	p.triggerSave()
	return nil
}

// PlayNext advances the queue via Shift and Plays the result, or
// triggers the idle-timer/autoplay chain if the queue is empty.
func (p *Player) PlayNext(ctx context.Context) error {
	if err := p.checkAlive(); err != nil {
		return err
	}
	next := p.queue.Shift()
	if next == nil {
		if p.autoplayOn() {
			if resolved := p.tryAutoplay(ctx); resolved != nil {
				p.queue.Add(resolved)
				return p.PlayNext(ctx)
			}
		}
		p.setState(StateEnded)
		p.bus.emit(Event{Type: EventQueueEnd, GuildID: p.guildID})
		p.armIdleChain()
		return nil
	}
	return p.Play(ctx, next)
}

func (p *Player) autoplayOn() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.autoplay
}

// SetAutoplay toggles autoplay-on-queue-exhaustion.
func (p *Player) SetAutoplay(on bool) {
	if p.checkAlive() != nil {
		return
	}
	p.mu.Lock()
	p.autoplay = on
	p.mu.Unlock()
}

func (p *Player) tryAutoplay(ctx context.Context) *Track {
	if p.AutoplayResolver == nil {
		return nil
	}
	history := p.queue.History()
	if len(history) == 0 {
		return nil
	}
	last := history[len(history)-1]
	track, err := p.AutoplayResolver(ctx, last)
	if err != nil || track == nil {
		p.logger.Debug().Err(err).Msg("autoplay resolution failed")
		return nil
	}
	if p.queue.historyContainsOrCurrent(track.titleAuthorKey()) {
		p.logger.Debug().Msg("autoplay candidate already played, not queued")
		return nil
	}
	return track
}

// Pause pauses playback.
func (p *Player) Pause(ctx context.Context) error {
	if err := p.checkAlive(); err != nil {
		return err
	}
	paused := true
	if _, err := p.node.UpdatePlayer(ctx, p.guildID, UpdatePlayerPatch{Paused: &paused}); err != nil {
		return err
	}
	p.mu.Lock()
	p.lastPosMs = p.currentPositionLocked()
	p.lastPosAt = time.Now()
	p.paused = true
	p.state = StatePaused
	p.mu.Unlock()
	p.bus.emit(Event{Type: EventPause, GuildID: p.guildID})
	p.triggerSave()
	return nil
}

// Resume resumes playback.
func (p *Player) Resume(ctx context.Context) error {
	if err := p.checkAlive(); err != nil {
		return err
	}
	paused := false
	if _, err := p.node.UpdatePlayer(ctx, p.guildID, UpdatePlayerPatch{Paused: &paused}); err != nil {
		return err
	}
	p.mu.Lock()
	p.paused = false
	p.state = StatePlaying
	p.lastPosAt = time.Now()
	p.mu.Unlock()
	p.bus.emit(Event{Type: EventResume, GuildID: p.guildID})
	p.triggerSave()
	return nil
}

// Stop halts playback without advancing the queue.
func (p *Player) Stop(ctx context.Context) error {
	if err := p.checkAlive(); err != nil {
		return err
	}
	empty := ""
	if _, err := p.node.UpdatePlayer(ctx, p.guildID, UpdatePlayerPatch{EncodedTrack: &empty}); err != nil {
		return err
	}
	p.setState(StateIdle)
	p.bus.emit(Event{Type: EventStop, GuildID: p.guildID})
	p.armIdleChain()
	return nil
}

// Skip advances n tracks forward (n<=1 behaves like a single skip).
func (p *Player) Skip(ctx context.Context, n int) error {
	if err := p.checkAlive(); err != nil {
		return err
	}
	if n < 1 {
		n = 1
	}
	for i := 0; i < n-1; i++ {
		p.queue.Shift()
	}
	return p.PlayNext(ctx)
}

// Seek moves playback position to positionMs on the current track. A
// seek at or beyond the track's duration skips to the next track rather
// than clamping and holding at the end, per the §8 boundary property.
func (p *Player) Seek(ctx context.Context, positionMs int64) error {
	if err := p.checkAlive(); err != nil {
		return err
	}
	current := p.queue.Current()
	if current == nil {
		return ErrInvalidArgument
	}
	if positionMs < 0 {
		positionMs = 0
	}
	if current.DurationMs > 0 && !current.IsStream && positionMs >= current.DurationMs {
		return p.PlayNext(ctx)
	}
	if _, err := p.node.UpdatePlayer(ctx, p.guildID, UpdatePlayerPatch{PositionMs: &positionMs}); err != nil {
		return err
	}
	p.mu.Lock()
	p.lastPosMs = positionMs
	p.lastPosAt = time.Now()
	p.mu.Unlock()
	p.bus.emit(Event{Type: EventSeek, GuildID: p.guildID})
	p.triggerSave()
	return nil
}

// SeekForward seeks deltaMs forward from the current position.
func (p *Player) SeekForward(ctx context.Context, deltaMs int64) error {
	return p.Seek(ctx, p.CurrentPositionMs()+deltaMs)
}

// SeekBackward seeks deltaMs backward from the current position.
func (p *Player) SeekBackward(ctx context.Context, deltaMs int64) error {
	return p.Seek(ctx, p.CurrentPositionMs()-deltaMs)
}

// SetVolume sets playback volume (0-1000 per the Lavalink v4 range).
func (p *Player) SetVolume(ctx context.Context, volume int) error {
	if err := p.checkAlive(); err != nil {
		return err
	}
	if volume < 0 || volume > 1000 {
		return ErrInvalidArgument
	}
	if _, err := p.node.UpdatePlayer(ctx, p.guildID, UpdatePlayerPatch{Volume: &volume}); err != nil {
		return err
	}
	p.mu.Lock()
	p.volume = volume
	p.mu.Unlock()
	p.bus.emit(Event{Type: EventVolumeChange, GuildID: p.guildID, Data: VolumeChangeEvent{Volume: volume}})
	p.triggerSave()
	return nil
}

// Volume returns the currently configured volume.
func (p *Player) Volume() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.volume
}

// SetLoop sets the queue's loop mode.
func (p *Player) SetLoop(mode LoopMode) {
	if p.checkAlive() != nil {
		return
	}
	p.queue.SetLoop(mode)
	p.bus.emit(Event{Type: EventLoopChange, GuildID: p.guildID, Data: LoopChangeEvent{Loop: mode}})
	p.triggerSave()
}

// Replay restarts the current track from position 0.
func (p *Player) Replay(ctx context.Context) error {
	if err := p.checkAlive(); err != nil {
		return err
	}
	return p.Seek(ctx, 0)
}

// Back plays the previous history entry.
func (p *Player) Back(ctx context.Context) error {
	if err := p.checkAlive(); err != nil {
		return err
	}
	prev := p.queue.BackOne()
	if prev == nil {
		return ErrInvalidArgument
	}
	return p.Play(ctx, prev)
}

// JumpTo removes and plays the upcoming track at index, discarding
// whatever sits between the current head and it.
func (p *Player) JumpTo(ctx context.Context, index int) error {
	if err := p.checkAlive(); err != nil {
		return err
	}
	track, err := p.queue.Get(index)
	if err != nil {
		return err
	}
	for i := 0; i <= index; i++ {
		p.queue.Shift()
	}
	return p.Play(ctx, track)
}

// ShuffleQueue shuffles the upcoming queue in place.
func (p *Player) ShuffleQueue() {
	if p.checkAlive() != nil {
		return
	}
	p.queue.Shuffle()
}

// MoveTrack relocates the upcoming track at from to index to.
func (p *Player) MoveTrack(from, to int) error {
	if err := p.checkAlive(); err != nil {
		return err
	}
	if err := p.queue.MoveFromTo(from, to); err != nil {
		return err
	}
	p.triggerSave()
	return nil
}

// RemoveTrack removes the upcoming track at index.
func (p *Player) RemoveTrack(index int) error {
	if err := p.checkAlive(); err != nil {
		return err
	}
	if err := p.queue.RemoveAt(index); err != nil {
		return err
	}
	p.triggerSave()
	return nil
}

// ClearQueue empties the upcoming queue.
func (p *Player) ClearQueue() {
	if p.checkAlive() != nil {
		return
	}
	p.queue.Clear()
	p.triggerSave()
}

// AddTrack appends a single track and emits EventTrackAdd.
func (p *Player) AddTrack(t *Track) error {
	if err := p.checkAlive(); err != nil {
		return err
	}
	if p.opts.MaxQueueSize > 0 && p.queue.Size() >= p.opts.MaxQueueSize {
		return ErrQueueFull
	}
	p.queue.Add(t)
	p.bus.emit(Event{Type: EventTrackAdd, GuildID: p.guildID, Data: TracksAddEvent{Tracks: []*Track{t}}})
	p.triggerSave()
	return nil
}

// AddTracks appends a batch of tracks and emits EventTracksAdd (or
// EventTrackAddPlaylist when playlistName is non-empty).
func (p *Player) AddTracks(tracks []*Track, playlistName string) error {
	if err := p.checkAlive(); err != nil {
		return err
	}
	if p.opts.MaxQueueSize > 0 && p.queue.Size()+len(tracks) > p.opts.MaxQueueSize {
		return ErrQueueFull
	}
	p.queue.AddMany(tracks)
	evt := EventTracksAdd
	if playlistName != "" {
		evt = EventTrackAddPlaylist
	}
	p.bus.emit(Event{Type: evt, GuildID: p.guildID, Data: TracksAddEvent{Tracks: tracks, PlaylistName: playlistName}})
	p.triggerSave()
	return nil
}

// RemoveDuplicates drops duplicate upcoming entries, returning the count removed.
func (p *Player) RemoveDuplicates() int {
	if p.checkAlive() != nil {
		return 0
	}
	n := p.queue.RemoveDuplicates()
	if n > 0 {
		p.triggerSave()
	}
	return n
}

// RemoveByRequester removes every upcoming track matching the requester predicate.
func (p *Player) RemoveByRequester(matches func(interface{}) bool) []*Track {
	if p.checkAlive() != nil {
		return nil
	}
	removed := p.queue.RemoveByRequester(matches)
	for _, t := range removed {
		p.bus.emit(Event{Type: EventTrackRemove, GuildID: p.guildID, Data: TrackRemoveEvent{Track: t}})
	}
	if len(removed) > 0 {
		p.triggerSave()
	}
	return removed
}

// GetHistory returns the played-track history, oldest first.
func (p *Player) GetHistory() []*Track { return p.queue.History() }

// ClearHistory empties the history buffer.
func (p *Player) ClearHistory() {
	if p.checkAlive() != nil {
		return
	}
	p.queue.ClearHistory()
}

// CurrentPositionMs estimates the current playback position, clamped
// monotonically between updates and offset by a small optimistic
// correction (spec §4.6) since playerUpdate frames arrive at most once
// every ~5s.
func (p *Player) CurrentPositionMs() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentPositionLocked()
}

func (p *Player) currentPositionLocked() int64 {
	if p.paused || p.state != StatePlaying {
		return p.lastPosMs
	}
	elapsed := time.Since(p.lastPosAt).Milliseconds() + 200
	pos := p.lastPosMs + elapsed
	if current := p.queue.Current(); current != nil && current.DurationMs > 0 && pos > current.DurationMs {
		pos = current.DurationMs
	}
	return pos
}

// handlePlayerUpdate ingests a node's periodic position report.
func (p *Player) handlePlayerUpdate(posMs int64, connected bool) {
	p.mu.Lock()
	p.lastPosMs = posMs
	p.lastPosAt = time.Now()
	wasConnected := p.state != StateErrored
	p.mu.Unlock()
	if !connected && wasConnected && atomic.LoadInt32(&p.migrating) == 0 {
		p.logger.Warn().Msg("node reports voice connection lost")
		p.bus.emit(Event{Type: EventVoiceDisconnect, GuildID: p.guildID})
	}
}

// handleTrackStart reacts to a node-reported track start (e.g. after a
// node-side auto-advance the player didn't itself issue).
func (p *Player) handleTrackStart(track *Track) {
	p.mu.Lock()
	p.state = StatePlaying
	p.lastPosMs = 0
	p.lastPosAt = time.Now()
	p.mu.Unlock()
	p.cancelIdleTimer()
}

// handleTrackEnd emits EventTrackEnd and advances the queue when the
// track finished or failed to load; on stop, replace or cleanup it only
// emits the event.
func (p *Player) handleTrackEnd(track *Track, reason TrackEndReason) {
	p.bus.emit(Event{Type: EventTrackEnd, GuildID: p.guildID, Data: TrackEndEvent{Track: track, Reason: reason}})
	if reason != FinishedReason && reason != LoadFailedReason {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.requestTimeout())
	defer cancel()
	if err := p.PlayNext(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("failed to advance queue after track end")
	}
}

// handleTrackException logs and emits a track error, then advances the
// queue so one bad track cannot wedge playback.
func (p *Player) handleTrackException(track *Track, message string) {
	p.bus.emit(Event{Type: EventTrackError, GuildID: p.guildID, Data: TrackErrorEvent{Track: track, Message: message}})
	p.setState(StateErrored)
	ctx, cancel := context.WithTimeout(context.Background(), p.requestTimeout())
	defer cancel()
	if err := p.PlayNext(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("failed to advance queue after track exception")
	}
}

// handleTrackStuck implements the stuck-recovery ladder in spec.md
// §4.6: seek forward a beat, then seek(0), then replay, capped at
// MaxStuckRetries attempts spaced at least 2s apart; the counter resets
// on the next successful track start.
func (p *Player) handleTrackStuck(track *Track, thresholdMs int64) {
	p.bus.emit(Event{Type: EventTrackStuck, GuildID: p.guildID, Data: TrackStuckEvent{Track: track, ThresholdMs: thresholdMs}})
	if !p.opts.RetryOnStuck {
		return
	}
	if time.Since(p.lastStuckAt) < 2*time.Second {
		return
	}
	p.lastStuckAt = time.Now()
	p.setState(StateStuck)
	p.stuckRetries++
	if p.stuckRetries > p.opts.MaxStuckRetries {
		p.logger.Warn().Int("attempts", p.stuckRetries).Msg("track stuck past retry budget, skipping")
		ctx, cancel := context.WithTimeout(context.Background(), p.requestTimeout())
		defer cancel()
		p.stuckRetries = 0
		_ = p.PlayNext(ctx)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.requestTimeout())
	defer cancel()
	switch p.stuckRetries {
	case 1:
		_ = p.Seek(ctx, p.CurrentPositionMs()+1000)
	case 2:
		_ = p.Seek(ctx, 0)
	default:
		_ = p.Replay(ctx)
	}
}

// handleWebSocketClosed reacts to the node reporting the voice
// websocket closed out from under it.
func (p *Player) handleWebSocketClosed(code int, reason string, byRemote bool) {
	p.logger.Warn().Int("code", code).Str("reason", reason).Bool("byRemote", byRemote).Msg("voice websocket closed")
	p.bus.emit(Event{Type: EventVoiceDisconnect, GuildID: p.guildID})
}

// --- idle timer precedence chain (spec §4.6: leaveOnEnd > leaveOnEmpty
// > autoLeave > idleTimeout, re-checked at fire time since options may
// have changed between arming and firing) ---

func (p *Player) cancelIdleTimer() {
	p.idleMu.Lock()
	defer p.idleMu.Unlock()
	p.idleGeneration++
	if p.idleTimer != nil {
		p.idleTimer.Stop()
		p.idleTimer = nil
	}
}

func (p *Player) armIdleChain() {
	delay, action := p.idleDecision()
	if action == idleActionNone {
		return
	}
	p.idleMu.Lock()
	p.idleGeneration++
	gen := p.idleGeneration
	if p.idleTimer != nil {
		p.idleTimer.Stop()
	}
	p.idleTimer = time.AfterFunc(delay, func() { p.fireIdleTimer(gen) })
	p.idleMu.Unlock()
}

type idleAction int

const (
	idleActionNone idleAction = iota
	idleActionLeave
)

// idleDecision re-derives which idle rule applies and its delay, given
// the player's current options; it is called both when arming and when
// the timer fires so a late option change takes effect.
func (p *Player) idleDecision() (time.Duration, idleAction) {
	if p.opts.LeaveOnEnd {
		return 0, idleActionLeave
	}
	if p.opts.LeaveOnEmpty && p.queue.Size() == 0 {
		return p.opts.LeaveOnEmptyDelay, idleActionLeave
	}
	if p.opts.AutoLeave {
		return p.opts.AutoLeaveDelay, idleActionLeave
	}
	if p.opts.IdleTimeout > 0 {
		return p.opts.IdleTimeout, idleActionLeave
	}
	return 0, idleActionNone
}

func (p *Player) fireIdleTimer(gen int64) {
	p.idleMu.Lock()
	current := p.idleGeneration
	p.idleMu.Unlock()
	if current != gen {
		return
	}
	if p.State() != StateIdle && p.State() != StateEnded {
		return
	}
	_, action := p.idleDecision()
	if action != idleActionLeave {
		return
	}
	p.logger.Info().Msg("idle timeout reached, leaving voice")
	_ = p.Disconnect()
}

// --- health monitor ---

func (p *Player) startHealthMonitor() {
	ctx, cancel := context.WithCancel(context.Background())
	p.healthCancel = cancel
	go func() {
		ticker := time.NewTicker(p.opts.HealthMonitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.runHealthCheck()
			}
		}
	}()
}

// runHealthCheck implements the progress-ratio auto-correction in
// spec.md §4.6: over the monitor window, the reported node position
// should advance by roughly the wall-clock elapsed; if it falls short
// of HealthMinProgressRatio while playing and unpaused, the node is
// likely wedged and a re-seek nudges it.
func (p *Player) runHealthCheck() {
	p.mu.RLock()
	state := p.state
	nodeOK := p.node.Connected() && p.node.Healthy()
	lastPos := p.lastPosMs
	lastAt := p.lastPosAt
	p.mu.RUnlock()

	if state != StatePlaying {
		return
	}
	if !nodeOK {
		if atomic.LoadInt32(&p.migrating) != 0 {
			return
		}
		p.logger.Warn().Msg("bound node unhealthy, requesting migration")
		replacement, err := p.PickReplacementNode()
		if err != nil {
			p.logger.Warn().Err(err).Msg("no replacement node available for migration")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.requestTimeout())
		defer cancel()
		if err := p.MoveToNode(ctx, replacement); err != nil {
			p.logger.Warn().Err(err).Msg("health-monitor-triggered migration failed")
		}
		return
	}

	window := p.opts.HealthMonitorWindow
	if window <= 0 || time.Since(lastAt) < window {
		return
	}
	expected := float64(time.Since(lastAt).Milliseconds())
	actual := float64(p.CurrentPositionMs() - lastPos)
	if expected <= 0 {
		return
	}
	ratio := actual / expected
	if ratio < p.opts.HealthMinProgressRatio {
		p.logger.Warn().Float64("ratio", ratio).Msg("playback progress below threshold, nudging position")
		ctx, cancel := context.WithTimeout(context.Background(), p.requestTimeout())
		defer cancel()
		_ = p.Seek(ctx, p.CurrentPositionMs())
	}
}

// MoveToNode migrates the player to a different node: the old node gets
// a best-effort paused updatePlayer (it may not even be reachable, so
// its result is never propagated), the new node is bound, and the
// current track is re-issued at its last known position with filters
// reapplied. The migrating flag suppresses the disconnect self-heal
// path for the duration of the move.
func (p *Player) MoveToNode(ctx context.Context, newNode *Node) error {
	if err := p.checkAlive(); err != nil {
		return err
	}
	atomic.StoreInt32(&p.migrating, 1)
	defer atomic.StoreInt32(&p.migrating, 0)

	oldNode := p.Node()
	posMs := p.CurrentPositionMs()
	current := p.queue.Current()
	filters := p.filters.Current()

	if oldNode != nil {
		paused := true
		if _, err := oldNode.UpdatePlayer(ctx, p.guildID, UpdatePlayerPatch{Paused: &paused}); err != nil {
			p.logger.Warn().Err(err).Msg("best-effort pause of old node failed during migration")
		}
	}

	p.mu.Lock()
	p.node = newNode
	p.mu.Unlock()

	p.bus.emit(Event{Type: EventPlayerMoved, GuildID: p.guildID, Data: PlayerMovedEvent{
		FromNodeID: nodeIdentifierOrEmpty(oldNode),
		ToNodeID:   newNode.Identifier(),
	}})

	if current == nil || current.IsPlaceholder() {
		return nil
	}
	if err := p.Play(ctx, current); err != nil {
		return err
	}
	if err := p.Seek(ctx, posMs); err != nil {
		return err
	}
	if len(filters) > 0 {
		if err := p.filters.Apply(filters); err != nil {
			p.logger.Warn().Err(err).Msg("failed to reapply filters after migration")
		}
	}
	return nil
}

func nodeIdentifierOrEmpty(n *Node) string {
	if n == nil {
		return ""
	}
	return n.Identifier()
}

// Snapshot captures persistable state for later Restore.
func (p *Player) Snapshot() PlayerSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PlayerSnapshot{
		GuildID:    p.guildID,
		ChannelID:  p.channelID,
		NodeID:     nodeIdentifierOrEmpty(p.node),
		Current:    p.queue.Current(),
		Upcoming:   p.queue.Upcoming(),
		History:    p.queue.History(),
		Loop:       p.queue.Loop(),
		Volume:     p.volume,
		Paused:     p.paused,
		PositionMs: p.currentPositionLocked(),
		Filters:    p.filters.Current(),
		Autoplay:   p.autoplay,
		SavedAtMs:  nowMs(),
	}
}

// Restart re-issues the current track from its last known position,
// used after reconnecting to a node that lost player state.
func (p *Player) Restart(ctx context.Context) error {
	if err := p.checkAlive(); err != nil {
		return err
	}
	current := p.queue.Current()
	if current == nil {
		return p.PlayNext(ctx)
	}
	pos := p.CurrentPositionMs()
	if err := p.Play(ctx, current); err != nil {
		return err
	}
	if pos > 0 {
		return p.Seek(ctx, pos)
	}
	return nil
}

// restoreCurrent re-issues track as the current track after a
// RestorePlayers boot, seeking to positionMs and pausing if requested,
// matching the §4.9 restore step "play(current, {startTime, paused})".
func (p *Player) restoreCurrent(ctx context.Context, track *Track, positionMs int64, paused bool) error {
	if track == nil {
		return nil
	}
	if err := p.Play(ctx, track); err != nil {
		return err
	}
	if positionMs > 0 {
		if err := p.Seek(ctx, positionMs); err != nil {
			return err
		}
	}
	if paused {
		return p.Pause(ctx)
	}
	return nil
}

// Destroy tears the player down permanently: stops the health monitor
// and idle timer, destroys the node-side player, clears voice state and
// marks the player unusable.
func (p *Player) Destroy(ctx context.Context) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil
	}
	p.destroyed = true
	p.state = StateDestroyed
	p.mu.Unlock()

	p.cancelIdleTimer()
	if p.healthCancel != nil {
		p.healthCancel()
	}
	_ = p.LeaveVoiceChannel()
	p.voice.Clear(p.guildID)
	err := p.node.DestroyPlayer(ctx, p.guildID)
	p.bus.emit(Event{Type: EventPlayerDestroy, GuildID: p.guildID})
	return err
}

// Destroyed reports whether Destroy has already run.
func (p *Player) Destroyed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.destroyed
}
