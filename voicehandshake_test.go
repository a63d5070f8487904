package lavago

import "testing"

func TestVoiceHandshakeReadyOnlyAfterBothStreams(t *testing.T) {
	h := NewVoiceHandshake()
	var readyCount int
	var lastCred VoiceCredential
	h.OnCredentialReady = func(guildID string, cred VoiceCredential) {
		readyCount++
		lastCred = cred
	}

	h.HandleVoiceState("g1", "sess-1", "chan-1")
	if readyCount != 0 {
		t.Fatalf("expected no ready fire after voice-state alone, got %d", readyCount)
	}

	h.HandleVoiceServer("g1", "token-1", "endpoint-1")
	if readyCount != 1 {
		t.Fatalf("expected exactly 1 ready fire, got %d", readyCount)
	}
	if lastCred.SessionID != "sess-1" || lastCred.Token != "token-1" || lastCred.Endpoint != "endpoint-1" {
		t.Fatalf("unexpected credential: %+v", lastCred)
	}
}

func TestVoiceHandshakeToleratesReversedOrder(t *testing.T) {
	h := NewVoiceHandshake()
	var readyCount int
	h.OnCredentialReady = func(string, VoiceCredential) { readyCount++ }

	h.HandleVoiceServer("g1", "token-1", "endpoint-1")
	if readyCount != 0 {
		t.Fatalf("expected no ready fire after voice-server alone, got %d", readyCount)
	}
	h.HandleVoiceState("g1", "sess-1", "chan-1")
	if readyCount != 1 {
		t.Fatalf("expected ready fire once voice-state completes the triple, got %d", readyCount)
	}
}

func TestVoiceHandshakeDuplicateDeliveryRefiresReady(t *testing.T) {
	h := NewVoiceHandshake()
	var readyCount int
	h.OnCredentialReady = func(string, VoiceCredential) { readyCount++ }

	h.HandleVoiceState("g1", "sess-1", "chan-1")
	h.HandleVoiceServer("g1", "token-1", "endpoint-1")
	h.HandleVoiceServer("g1", "token-1", "endpoint-1")

	if readyCount != 2 {
		t.Fatalf("expected duplicate voice-server delivery to re-fire ready, got %d", readyCount)
	}
}

func TestVoiceHandshakeEmptyChannelDisconnects(t *testing.T) {
	h := NewVoiceHandshake()
	var disconnected string
	h.OnDisconnect = func(guildID string) { disconnected = guildID }

	h.HandleVoiceState("g1", "sess-1", "chan-1")
	h.HandleVoiceServer("g1", "token-1", "endpoint-1")
	if h.Credential("g1").ready() != true {
		t.Fatal("expected credential to be ready before disconnect")
	}

	h.HandleVoiceState("g1", "sess-1", "")
	if disconnected != "g1" {
		t.Fatalf("expected OnDisconnect to fire for g1, got %q", disconnected)
	}
	if h.Credential("g1").ready() {
		t.Fatal("expected credential to be discarded after disconnect")
	}
	if h.ChannelID("g1") != "" {
		t.Fatal("expected channel id to be cleared after disconnect")
	}
}

func TestVoiceHandshakeChannelIDTracksLatest(t *testing.T) {
	h := NewVoiceHandshake()
	h.HandleVoiceState("g1", "sess-1", "chan-1")
	if h.ChannelID("g1") != "chan-1" {
		t.Fatalf("expected chan-1, got %q", h.ChannelID("g1"))
	}
	h.HandleVoiceState("g1", "sess-1", "chan-2")
	if h.ChannelID("g1") != "chan-2" {
		t.Fatalf("expected chan-2 after move, got %q", h.ChannelID("g1"))
	}
}

func TestVoiceHandshakeClearDiscardsState(t *testing.T) {
	h := NewVoiceHandshake()
	h.HandleVoiceState("g1", "sess-1", "chan-1")
	h.HandleVoiceServer("g1", "token-1", "endpoint-1")

	h.Clear("g1")
	if h.Credential("g1").ready() {
		t.Fatal("expected Clear to discard the credential")
	}
	if h.ChannelID("g1") != "" {
		t.Fatal("expected Clear to discard the channel id")
	}
}

func TestVoiceHandshakeIsolatesGuilds(t *testing.T) {
	h := NewVoiceHandshake()
	h.HandleVoiceState("g1", "sess-1", "chan-1")
	h.HandleVoiceServer("g2", "token-2", "endpoint-2")

	if h.Credential("g1").ready() {
		t.Fatal("g1 should not be ready without its own voice-server event")
	}
	if h.Credential("g2").ready() {
		t.Fatal("g2 should not be ready without its own voice-state event")
	}
}
