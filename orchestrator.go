package lavago

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

// OrchestratorConfig bundles what Orchestrator needs beyond a single
// Node's Config: the chat-platform session it drives and the default
// player options it hands every new Player.
type OrchestratorConfig struct {
	Session     *discordgo.Session
	DefaultOpts *PlayerOptions
	Store       KVStore
	Logger      zerolog.Logger
}

// Orchestrator is the top-level façade composing NodePool, PlayerPool,
// the process-wide VoiceHandshake and persistence, matching spec.md
// §4.10. The teacher has no equivalent type at all — callers drove Node
// and Player directly — so this is new surface, built in the teacher's
// plain-struct-with-methods idiom.
type Orchestrator struct {
	Nodes   *NodePool
	Players *PlayerPool
	Voice   *VoiceHandshake
	Bus     *EventBus

	session *discordgo.Session
	store   KVStore
	logger  zerolog.Logger
}

// NewOrchestrator wires a fresh NodePool/PlayerPool/VoiceHandshake/bus
// together and binds the chat-platform session's voice events into the
// handshake. The caller still owns adding nodes via AddNode.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	bus := NewEventBus()
	voice := NewVoiceHandshake()
	nodes := NewNodePool(cfg.Logger, bus)
	players := NewPlayerPool(nodes, voice, bus, cfg.DefaultOpts, cfg.Logger)

	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}

	o := &Orchestrator{
		Nodes:   nodes,
		Players: players,
		Voice:   voice,
		Bus:     bus,
		session: cfg.Session,
		store:   store,
		logger:  cfg.Logger.With().Str("component", "orchestrator").Logger(),
	}

	if cfg.Session != nil {
		players.JoinVoiceChannel = o.joinVoiceChannel
		players.LeaveVoiceChannel = o.leaveVoiceChannel
		cfg.Session.AddHandler(o.onVoiceStateUpdate)
		cfg.Session.AddHandler(o.onVoiceServerUpdate)
	}
	players.SaveSnapshot = o.persistSnapshot

	return o
}

// AddNode registers and connects a worker node, using the session's
// bot user id as the Node's User-Id header.
func (o *Orchestrator) AddNode(cfg *Config) (*Node, error) {
	n := NewNode(cfg, o.logger)
	o.Nodes.Add(n)
	userID := ""
	if o.session != nil && o.session.State != nil && o.session.State.User != nil {
		userID = o.session.State.User.ID
	}
	if err := n.Connect(userID); err != nil {
		o.Nodes.Remove(n.Identifier())
		return nil, err
	}
	return n, nil
}

func (o *Orchestrator) joinVoiceChannel(guildID, channelID string, selfMute, selfDeaf bool) error {
	return o.session.ChannelVoiceJoinManual(guildID, channelID, selfMute, selfDeaf)
}

func (o *Orchestrator) leaveVoiceChannel(guildID string) error {
	return o.session.ChannelVoiceJoinManual(guildID, "", false, false)
}

func (o *Orchestrator) onVoiceStateUpdate(s *discordgo.Session, evt *discordgo.VoiceStateUpdate) {
	if s.State == nil || s.State.User == nil || evt.UserID != s.State.User.ID {
		return
	}
	o.Voice.HandleVoiceState(evt.GuildID, evt.SessionID, evt.ChannelID)
}

func (o *Orchestrator) onVoiceServerUpdate(s *discordgo.Session, evt *discordgo.VoiceServerUpdate) {
	o.Voice.HandleVoiceServer(evt.GuildID, evt.Token, evt.Endpoint)
}

// Join binds a player to the given guild/voice channel, allocating a
// player if one does not already exist.
func (o *Orchestrator) Join(guildID, channelID, region string, opts *PlayerOptions) (*Player, error) {
	player, err := o.Players.Create(guildID, region, opts)
	if err != nil {
		return nil, err
	}
	if err := player.Connect(channelID); err != nil {
		return nil, err
	}
	return player, nil
}

// PlayOptions selects which of track | tracks | searchResult | query to
// resolve for Play, per spec.md §4.10. Exactly one of Track, Tracks,
// SearchResult or Query should be set; they are checked in that order.
type PlayOptions struct {
	Track        *Track
	Tracks       []*Track
	SearchResult *LoadResult
	Query        string
	IdentEngine  SearchEngine
	PlayEngine   SearchEngine

	Requester interface{}
	Region    string
	Opts      *PlayerOptions
}

// resolvePlayTracks turns one of the four PlayOptions input variants
// into a concrete track list plus an optional playlist name.
func (o *Orchestrator) resolvePlayTracks(ctx context.Context, opts PlayOptions) ([]*Track, string, error) {
	switch {
	case opts.Track != nil:
		return []*Track{opts.Track}, "", nil
	case len(opts.Tracks) > 0:
		return opts.Tracks, "", nil
	case opts.SearchResult != nil:
		if !opts.SearchResult.IsUsable() {
			return nil, "", ErrTrackLoadFailed
		}
		return opts.SearchResult.Tracks, opts.SearchResult.PlaylistName, nil
	case opts.Query != "":
		identEngine := opts.IdentEngine
		if identEngine == "" {
			identEngine = EngineSpotify
		}
		playEngine := opts.PlayEngine
		if playEngine == "" {
			playEngine = EngineYouTubeMusic
		}
		result, err := o.Search(ctx, opts.Query, identEngine, playEngine)
		if err != nil {
			return nil, "", err
		}
		if !result.IsUsable() {
			return nil, "", ErrTrackLoadFailed
		}
		return result.Tracks, result.PlaylistName, nil
	default:
		return nil, "", ErrInvalidArgument
	}
}

// Play is the orchestrator's core search-then-play pipeline (spec.md
// §4.10): resolve track|tracks|searchResult|query, attach the
// requester, obtain or create the guild's player, join voice, enqueue
// everything (one track or a whole playlist), and start playback if the
// player was idle.
func (o *Orchestrator) Play(ctx context.Context, guildID, channelID string, opts PlayOptions) (*Player, error) {
	tracks, playlistName, err := o.resolvePlayTracks(ctx, opts)
	if err != nil {
		return nil, err
	}

	if opts.Requester != nil {
		withRequester := make([]*Track, len(tracks))
		for i, t := range tracks {
			withRequester[i] = t.WithRequester(opts.Requester)
		}
		tracks = withRequester
	}

	player, err := o.Players.Create(guildID, opts.Region, opts.Opts)
	if err != nil {
		return nil, err
	}

	wasIdle := player.State() == StateIdle || player.State() == StateEnded

	if player.ChannelID() != channelID {
		if err := player.Connect(channelID); err != nil {
			return nil, err
		}
	}

	if len(tracks) == 1 {
		if err := player.AddTrack(tracks[0]); err != nil {
			return player, err
		}
	} else {
		if err := player.AddTracks(tracks, playlistName); err != nil {
			return player, err
		}
	}

	if wasIdle {
		if err := player.PlayNext(ctx); err != nil {
			return player, err
		}
	}

	return player, nil
}

// Leave disconnects and destroys a guild's player.
func (o *Orchestrator) Leave(ctx context.Context, guildID string) error {
	return o.Players.Destroy(ctx, guildID)
}

// GetPlayer returns the player bound to guildID, if any.
func (o *Orchestrator) GetPlayer(guildID string) (*Player, bool) {
	return o.Players.Get(guildID)
}

// DestroyPlayer is an alias of Leave kept for naming symmetry with
// spec.md §4.10's operation list.
func (o *Orchestrator) DestroyPlayer(ctx context.Context, guildID string) error {
	return o.Leave(ctx, guildID)
}

// Search performs the two-phase identification/resolution/ranking
// pipeline of spec.md §4.10.
func (o *Orchestrator) Search(ctx context.Context, query string, identEngine, playEngine SearchEngine) (*LoadResult, error) {
	node, err := o.Nodes.PickLeastLoaded()
	if err != nil {
		return nil, err
	}

	var identified *Track
	if !isURLIdentifier(query) {
		identResult, err := node.Search(ctx, identEngine, query)
		if err == nil && identResult.IsUsable() {
			if candidate := identResult.First(); similarityScore(query, candidate.Title) >= 0.3 {
				identified = candidate
			}
		}
	}

	resolveQuery := query
	if identified != nil {
		if identified.ISRC != "" {
			resolveQuery = identified.ISRC
		} else {
			resolveQuery = identified.Title + " " + identified.Author
		}
	}

	if isURLIdentifier(query) {
		result, err := node.LoadTracks(ctx, query)
		return result, err
	}

	result, err := node.Search(ctx, playEngine, resolveQuery)
	if err != nil {
		return nil, err
	}
	if result.IsUsable() {
		result.Tracks = rankTracks(query, result.Tracks)
	}
	return result, nil
}

// AutocompleteChoice mirrors a chat-platform slash-command choice pair.
type AutocompleteChoice struct {
	Name  string
	Value string
}

// Autocomplete resolves up to 25 ranked candidates, each name truncated
// to 100 characters, per spec.md §4.10.
func (o *Orchestrator) Autocomplete(ctx context.Context, query string, engine SearchEngine) ([]AutocompleteChoice, error) {
	node, err := o.Nodes.PickLeastLoaded()
	if err != nil {
		return nil, err
	}
	result, err := node.Search(ctx, engine, query)
	if err != nil || !result.IsUsable() {
		return nil, err
	}
	ranked := rankTracks(query, result.Tracks)
	if len(ranked) > 25 {
		ranked = ranked[:25]
	}
	out := make([]AutocompleteChoice, 0, len(ranked))
	for _, t := range ranked {
		name := t.Title + " - " + t.Author
		if r := []rune(name); len(r) > 100 {
			name = string(r[:100])
		}
		out = append(out, AutocompleteChoice{Name: name, Value: t.Identifier})
	}
	return out, nil
}

// SaveSnapshot persists a player's current snapshot under
// persistenceKey(guildID), the fixed persistenceKeyPrefix followed by the
// guild ID; PlayerOptions.PersistencePrefix is not consulted.
func (o *Orchestrator) SaveSnapshot(guildID string, data []byte) error {
	return o.store.Set(persistenceKey(guildID), data)
}

// LoadSnapshot returns the persisted bytes for guildID, if any.
func (o *Orchestrator) LoadSnapshot(guildID string) ([]byte, bool, error) {
	return o.store.Get(persistenceKey(guildID))
}

// DeleteSnapshot removes any persisted state for guildID.
func (o *Orchestrator) DeleteSnapshot(guildID string) error {
	return o.store.Delete(persistenceKey(guildID))
}

const persistenceKeyPrefix = "lavago:player:"

func persistenceKey(guildID string) string {
	return persistenceKeyPrefix + guildID
}

func guildIDFromPersistenceKey(key string) (string, bool) {
	if !strings.HasPrefix(key, persistenceKeyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, persistenceKeyPrefix), true
}

// persistSnapshot serializes and stores snap, the §4.9 save-trigger
// hook wired into every Player created by Players. Persistence failures
// are warned and swallowed, never propagated to the caller driving
// playback (§7: "Persistence failures are emitted as warn and swallowed").
func (o *Orchestrator) persistSnapshot(guildID string, snap PlayerSnapshot) {
	data, err := snap.toJSON()
	if err != nil {
		o.logger.Warn().Err(err).Str("guild", guildID).Msg("failed to marshal player snapshot")
		return
	}
	if err := o.SaveSnapshot(guildID, data); err != nil {
		o.logger.Warn().Err(err).Str("guild", guildID).Msg("failed to persist player snapshot")
	}
}

// RestorePlayers reloads every persisted player snapshot and recreates
// its player, per spec.md §4.9: for each entry whose guild and voice
// channel still exist, it creates a player, reconnects voice, restores
// volume, re-enqueues the stored queue, re-applies filters, and (if a
// current track was saved) resumes playback at the saved position. It
// returns the number of players successfully restored.
func (o *Orchestrator) RestorePlayers(ctx context.Context) (int, error) {
	all, err := o.store.All()
	if err != nil {
		return 0, err
	}
	restored := 0
	for key, raw := range all {
		guildID, ok := guildIDFromPersistenceKey(key)
		if !ok {
			continue
		}
		snap, err := parsePlayerSnapshot(raw)
		if err != nil {
			o.logger.Warn().Err(err).Str("guild", guildID).Msg("failed to parse persisted snapshot")
			continue
		}
		if err := o.restorePlayer(ctx, guildID, snap); err != nil {
			o.logger.Warn().Err(err).Str("guild", guildID).Msg("failed to restore player")
			continue
		}
		restored++
	}
	return restored, nil
}

// guildVoiceChannelExists reports whether channelID is still a real
// channel of guildID, per the restore precondition "if the guild and
// its voice channel still exist". Without a bound session (e.g. tests),
// restoration proceeds unconditionally.
func (o *Orchestrator) guildVoiceChannelExists(guildID, channelID string) bool {
	if o.session == nil || o.session.State == nil {
		return true
	}
	guild, err := o.session.State.Guild(guildID)
	if err != nil || guild == nil {
		return false
	}
	for _, ch := range guild.Channels {
		if ch.ID == channelID {
			return true
		}
	}
	return false
}

func (o *Orchestrator) restorePlayer(ctx context.Context, guildID string, snap *PlayerSnapshot) error {
	if !o.guildVoiceChannelExists(guildID, snap.ChannelID) {
		return ErrInvalidArgument
	}

	player, err := o.Join(guildID, snap.ChannelID, "", nil)
	if err != nil {
		return err
	}

	if err := player.SetVolume(ctx, snap.Volume); err != nil {
		o.logger.Warn().Err(err).Str("guild", guildID).Msg("failed to restore volume")
	}
	player.SetLoop(snap.Loop)
	player.SetAutoplay(snap.Autoplay)

	if len(snap.Upcoming) > 0 {
		if err := player.AddTracks(snap.Upcoming, ""); err != nil {
			o.logger.Warn().Err(err).Str("guild", guildID).Msg("failed to restore queue")
		}
	}
	if len(snap.Filters) > 0 {
		if err := player.Filters().Apply(snap.Filters); err != nil {
			o.logger.Warn().Err(err).Str("guild", guildID).Msg("failed to restore filters")
		}
	}
	if snap.Current != nil {
		return player.restoreCurrent(ctx, snap.Current, snap.PositionMs, snap.Paused)
	}
	return nil
}

// Shutdown destroys every player and flushes persistence if the
// configured store supports it.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.Players.DestroyAll(ctx)
	if flusher, ok := o.store.(interface{ Flush() error }); ok {
		if err := flusher.Flush(); err != nil {
			o.logger.Warn().Err(err).Msg("failed to flush persistence store on shutdown")
		}
	}
}
