package lavago

import "sync"

// VoiceCredential is the triple a node needs before a play can proceed.
// Either half may arrive first; it is only "ready" once all three fields
// are set (spec §3, §4.5).
type VoiceCredential struct {
	SessionID string
	Token     string
	Endpoint  string
}

func (c VoiceCredential) ready() bool {
	return c.SessionID != "" && c.Token != "" && c.Endpoint != ""
}

// VoiceHandshake splices the two independent chat-platform event streams
// (voice-state, voice-server) into one atomic credential per guild. It is
// idempotent to reordering and duplicate delivery of either event.
type VoiceHandshake struct {
	mu          sync.Mutex
	credentials map[string]VoiceCredential
	channels    map[string]string

	// OnCredentialReady fires once all three fields of a guild's
	// credential are present. It may fire more than once for the same
	// guild if a duplicate event re-confirms readiness; consumers must
	// be idempotent to that.
	OnCredentialReady func(guildID string, cred VoiceCredential)
	// OnDisconnect fires when a voice-state update reports channelID=="",
	// which this library treats as "left voice".
	OnDisconnect func(guildID string)
}

// NewVoiceHandshake creates an empty handshake tracker.
func NewVoiceHandshake() *VoiceHandshake {
	return &VoiceHandshake{
		credentials:       make(map[string]VoiceCredential),
		channels:          make(map[string]string),
		OnCredentialReady: func(string, VoiceCredential) {},
		OnDisconnect:      func(string) {},
	}
}

// HandleVoiceState applies a VOICE_STATE_UPDATE for the bot's own user.
// An empty channelID signals the bot left (or was disconnected from)
// voice and discards any accumulated credential.
func (h *VoiceHandshake) HandleVoiceState(guildID, sessionID, channelID string) {
	h.mu.Lock()
	if channelID == "" {
		delete(h.credentials, guildID)
		delete(h.channels, guildID)
		h.mu.Unlock()
		h.OnDisconnect(guildID)
		return
	}

	h.channels[guildID] = channelID
	cred := h.credentials[guildID]
	cred.SessionID = sessionID
	h.credentials[guildID] = cred
	ready := cred.ready()
	h.mu.Unlock()

	if ready {
		h.OnCredentialReady(guildID, cred)
	}
}

// HandleVoiceServer applies a VOICE_SERVER_UPDATE.
func (h *VoiceHandshake) HandleVoiceServer(guildID, token, endpoint string) {
	h.mu.Lock()
	cred := h.credentials[guildID]
	cred.Token = token
	cred.Endpoint = endpoint
	h.credentials[guildID] = cred
	ready := cred.ready()
	h.mu.Unlock()

	if ready {
		h.OnCredentialReady(guildID, cred)
	}
}

// Credential returns the current (possibly incomplete) credential for a guild.
func (h *VoiceHandshake) Credential(guildID string) VoiceCredential {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.credentials[guildID]
}

// ChannelID returns the last voice channel reported for a guild.
func (h *VoiceHandshake) ChannelID(guildID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.channels[guildID]
}

// Clear discards any state held for a guild, used on player destroy.
func (h *VoiceHandshake) Clear(guildID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.credentials, guildID)
	delete(h.channels, guildID)
}
